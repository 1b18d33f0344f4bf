package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signal_bot/internal/models"
)

const sampleYAML = `
db_dsn: postgres://file
market:
  timeframes:
    15m: 50
    1h: 30
  fetch_multiplier: 2
signals:
  cooldown: 30m
  rules:
    - {id: 7, win: 3, loss: 1.5}
stream:
  reset_at: "03:30"
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "values.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestNewConfig_FileAndEnv(t *testing.T) {
	t.Setenv(configFilePathENV, writeConfig(t, sampleYAML))
	t.Setenv(databaseDSN, "postgres://env")
	t.Setenv(chatTelegramENV, "-100500")
	t.Setenv(redisAddrENV, "localhost:6379")

	cfg, err := NewConfig()
	require.NoError(t, err)

	assert.Equal(t, "postgres://env", cfg.DB)
	assert.Equal(t, int64(-100500), cfg.Telegram.ChatID)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 30*time.Minute, cfg.Signals.Cooldown)
	assert.Equal(t, []models.Rule{{ID: 7, WinPct: 3, LossPct: 1.5}}, cfg.Signals.Rules)
	assert.Equal(t, map[models.Timeframe]int{models.TF15m: 50, models.TF1h: 30}, cfg.Lookbacks())
	assert.Equal(t, "03:30", cfg.Stream.ResetAt)

	// не заданное в файле остаётся дефолтом
	assert.Equal(t, 5*time.Second, cfg.Signals.FlushInterval)
	assert.Equal(t, 200, cfg.Stream.ChunkSize)
}

func TestNewConfig_MissingFile(t *testing.T) {
	t.Setenv(configFilePathENV, filepath.Join(t.TempDir(), "nope.yaml"))
	_, err := NewConfig()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "defaults with dsn", mutate: func(c *Config) {}},
		{
			name:    "fetch limit over binance max",
			mutate:  func(c *Config) { c.Market.Timeframes = map[string]int{"15m": 800}; c.Market.FetchMultiplier = 2 },
			wantErr: "exceeds binance.max_fetch_limit",
		},
		{
			name:    "fetch limit at binance max leaves no room for open candle",
			mutate:  func(c *Config) { c.Market.Timeframes = map[string]int{"15m": 750}; c.Market.FetchMultiplier = 2 },
			wantErr: "exceeds binance.max_fetch_limit",
		},
		{
			name:   "fetch limit one below binance max",
			mutate: func(c *Config) { c.Market.Timeframes = map[string]int{"15m": 1499}; c.Market.FetchMultiplier = 1 },
		},
		{
			name:    "unknown timeframe",
			mutate:  func(c *Config) { c.Market.Timeframes = map[string]int{"3m": 10} },
			wantErr: "unknown timeframe",
		},
		{
			name:    "duplicate rule",
			mutate:  func(c *Config) { c.Signals.Rules = append(c.Signals.Rules, models.Rule{ID: 1, WinPct: 1, LossPct: 1}) },
			wantErr: "duplicate id 1",
		},
		{
			name:    "bad reset time",
			mutate:  func(c *Config) { c.Stream.ResetAt = "25:00" },
			wantErr: "stream.reset_at",
		},
		{
			name:    "no dsn",
			mutate:  func(c *Config) { c.DB = "" },
			wantErr: "db_dsn",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := Default()
			c.DB = "postgres://x"
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestTrackedPeriods(t *testing.T) {
	t.Parallel()

	c := Default()
	c.Market.ATRPeriods = []int{14, 7, 0}
	c.Strategy.ATRPeriod = 21
	assert.Equal(t, []int{7, 14, 21}, c.TrackedATRPeriods())
	assert.Equal(t, []int{9, 21, 50}, c.TrackedEMAPeriods())
}
