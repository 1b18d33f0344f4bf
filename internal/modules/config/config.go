package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"

	"signal_bot/internal/helper"
	"signal_bot/internal/models"
)

const (
	configFilePathENV = "CONFIG_FILE"
	tokenTelegramENV  = "TELEGRAM_TOKEN"
	chatTelegramENV   = "TELEGRAM_CHAT_ID"
	databaseDSN       = "DATABASE_DSN"
	redisAddrENV      = "REDIS_ADDR"
	logLevelENV       = "LOG_LEVEL"
	healthAddrENV     = "HEALTH_ADDR"
)

// Config ...
type Config struct {
	LogLevel string `yaml:"log_level"`
	DB       string `yaml:"db_dsn"`

	Telegram struct {
		Token         string        `yaml:"token"`
		ChatID        int64         `yaml:"chat_id"`
		FlushInterval time.Duration `yaml:"flush_interval"`
	} `yaml:"telegram"`

	Redis struct {
		Addr string        `yaml:"addr"`
		TTL  time.Duration `yaml:"ttl"`
	} `yaml:"redis"`

	Health struct {
		Addr string `yaml:"addr"`
	} `yaml:"health"`

	Tracing struct {
		Host string `yaml:"host"`
		Port int    `yaml:"port"`
	} `yaml:"tracing"`

	Binance struct {
		BaseURL       string        `yaml:"base_url"`
		Timeout       time.Duration `yaml:"timeout"`
		PageLimit     int           `yaml:"page_limit"`
		MaxFetchLimit int           `yaml:"max_fetch_limit"`
		ExcludeSuffix []string      `yaml:"exclude_suffix"`
		TopN          int           `yaml:"top_n"`
	} `yaml:"binance"`

	Stream struct {
		BaseURL              string        `yaml:"base_url"`
		ChunkSize            int           `yaml:"chunk_size"`
		Buffer               int           `yaml:"buffer"`
		ReconnectBase        time.Duration `yaml:"reconnect_base"`
		MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
		PingInterval         time.Duration `yaml:"ping_interval"`
		LivenessTimeout      time.Duration `yaml:"liveness_timeout"`
		ResetAt              string        `yaml:"reset_at"`
	} `yaml:"stream"`

	Market struct {
		// таймфрейм -> lookback
		Timeframes      map[string]int `yaml:"timeframes"`
		FetchMultiplier int            `yaml:"fetch_multiplier"`
		EMAPeriods      []int          `yaml:"ema_periods"`
		ATRPeriods      []int          `yaml:"atr_periods"`
		InitConcurrency int            `yaml:"init_concurrency"`
	} `yaml:"market"`

	Strategy struct {
		Algorithms       []string `yaml:"algorithms"`
		VolumeMultiplier float64  `yaml:"volume_multiplier"`
		VolumeCount      int      `yaml:"volume_count"`
		StackedEMA       bool     `yaml:"stacked_ema"`
		ATRPeriod        int      `yaml:"atr_period"`
		MinATRPct        float64  `yaml:"min_atr_pct"`
		BodyWindow       int      `yaml:"body_window"`
		DistanceMin      float64  `yaml:"distance_min"`
		DistanceMax      float64  `yaml:"distance_max"`
		Workers          int      `yaml:"workers"`
	} `yaml:"strategy"`

	Signals struct {
		Rules         []models.Rule `yaml:"rules"`
		Cooldown      time.Duration `yaml:"cooldown"`
		FlushInterval time.Duration `yaml:"flush_interval"`
		FlushChunk    int           `yaml:"flush_chunk"`
	} `yaml:"signals"`

	Reconciler struct {
		Interval         time.Duration `yaml:"interval"`
		MaxAttempts      int           `yaml:"max_attempts"`
		MaxTradeAttempts int           `yaml:"max_trade_attempts"`
	} `yaml:"reconciler"`
}

func NewConfig() (*Config, error) {
	_ = godotenv.Load()

	configFileName := getenvDefault(configFilePathENV, "configs/values_local.yaml")
	file, err := os.Open(configFileName)
	if err != nil {
		return nil, fmt.Errorf("open config file: %w", err)
	}
	defer func() {
		_ = file.Close()
	}()

	config := Default()
	// yaml.v2 сливает map с уже заполненной, поэтому дефолт таймфреймов ставим после
	defaultTimeframes := config.Market.Timeframes
	config.Market.Timeframes = nil
	if err := yaml.NewDecoder(file).Decode(config); err != nil {
		return nil, fmt.Errorf("decode config file: %w", err)
	}
	if len(config.Market.Timeframes) == 0 {
		config.Market.Timeframes = defaultTimeframes
	}
	config.applyEnv()

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Default — значения, которые перекрываются yaml и env.
func Default() *Config {
	c := &Config{LogLevel: "info"}

	c.Telegram.FlushInterval = 10 * time.Second
	c.Redis.TTL = 6 * time.Hour
	c.Health.Addr = ":8080"
	c.Tracing.Port = 6831

	c.Binance.BaseURL = "https://fapi.binance.com"
	c.Binance.Timeout = 15 * time.Second
	c.Binance.PageLimit = 1000
	c.Binance.MaxFetchLimit = 1500
	c.Binance.ExcludeSuffix = []string{"usdc"}

	c.Stream.BaseURL = "wss://fstream.binance.com/ws"
	c.Stream.ChunkSize = 200
	c.Stream.Buffer = 4096
	c.Stream.ReconnectBase = time.Second
	c.Stream.MaxReconnectAttempts = 5
	c.Stream.PingInterval = time.Minute
	c.Stream.LivenessTimeout = 10 * time.Second
	c.Stream.ResetAt = "00:00"

	c.Market.Timeframes = map[string]int{"15m": 50}
	c.Market.FetchMultiplier = 1
	c.Market.EMAPeriods = []int{9, 21, 50}
	c.Market.ATRPeriods = []int{14}
	c.Market.InitConcurrency = 10

	c.Strategy.Algorithms = []string{"volume_spike", "above_ema", "atr_ratio", "ema_distance"}
	c.Strategy.VolumeMultiplier = 3
	c.Strategy.VolumeCount = 3
	c.Strategy.StackedEMA = true
	c.Strategy.ATRPeriod = 14
	c.Strategy.MinATRPct = 1.5
	c.Strategy.BodyWindow = 20
	c.Strategy.DistanceMin = 2.5
	c.Strategy.DistanceMax = 13
	c.Strategy.Workers = 8

	c.Signals.Rules = []models.Rule{
		{ID: 1, WinPct: 5, LossPct: 5},
		{ID: 2, WinPct: 5, LossPct: 2.5},
		{ID: 3, WinPct: 10, LossPct: 2.5},
		{ID: 4, WinPct: 10, LossPct: 5},
		{ID: 5, WinPct: 10, LossPct: 10},
	}
	c.Signals.Cooldown = 2 * time.Hour
	c.Signals.FlushInterval = 5 * time.Second
	c.Signals.FlushChunk = 200

	c.Reconciler.Interval = time.Hour
	c.Reconciler.MaxAttempts = 10
	c.Reconciler.MaxTradeAttempts = 5
	return c
}

func (c *Config) applyEnv() {
	c.Telegram.Token = getenvDefault(tokenTelegramENV, c.Telegram.Token)
	c.Telegram.ChatID = int64FromEnv(chatTelegramENV, c.Telegram.ChatID)
	c.DB = getenvDefault(databaseDSN, c.DB)
	c.Redis.Addr = getenvDefault(redisAddrENV, c.Redis.Addr)
	c.LogLevel = getenvDefault(logLevelENV, c.LogLevel)
	c.Health.Addr = getenvDefault(healthAddrENV, c.Health.Addr)
}

// Validate — ошибки здесь фатальны при старте.
func (c *Config) Validate() error {
	var errs []error
	if c.DB == "" {
		errs = append(errs, errors.New("db_dsn is required"))
	}
	if len(c.Market.Timeframes) == 0 {
		errs = append(errs, errors.New("market.timeframes is empty"))
	}
	for raw, lookback := range c.Market.Timeframes {
		tf := helper.NormTF(raw)
		if !tf.Valid() {
			errs = append(errs, fmt.Errorf("market.timeframes: unknown timeframe %q", raw))
			continue
		}
		if lookback <= 0 {
			errs = append(errs, fmt.Errorf("market.timeframes[%s]: lookback must be positive", raw))
			continue
		}
		// +1 на незакрытую свечу, которую Binance отдаёт последней
		if limit := lookback * max(c.Market.FetchMultiplier, 1); limit+1 > c.Binance.MaxFetchLimit {
			errs = append(errs, fmt.Errorf("market.timeframes[%s]: fetch limit %d (+1 open candle) exceeds binance.max_fetch_limit %d",
				raw, limit, c.Binance.MaxFetchLimit))
		}
	}
	if len(c.Signals.Rules) == 0 {
		errs = append(errs, errors.New("signals.rules is empty"))
	}
	seen := make(map[int]struct{}, len(c.Signals.Rules))
	for _, r := range c.Signals.Rules {
		if _, dup := seen[r.ID]; dup {
			errs = append(errs, fmt.Errorf("signals.rules: duplicate id %d", r.ID))
		}
		seen[r.ID] = struct{}{}
		if r.WinPct <= 0 || r.LossPct <= 0 || r.LossPct >= 100 {
			errs = append(errs, fmt.Errorf("signals.rules[%d]: win/loss must be in (0, 100)", r.ID))
		}
	}
	if _, err := time.Parse("15:04", c.Stream.ResetAt); err != nil {
		errs = append(errs, fmt.Errorf("stream.reset_at: %w", err))
	}
	return errors.Join(errs...)
}

// Lookbacks — market.timeframes с нормализованными ключами.
func (c *Config) Lookbacks() map[models.Timeframe]int {
	out := make(map[models.Timeframe]int, len(c.Market.Timeframes))
	for raw, lookback := range c.Market.Timeframes {
		out[helper.NormTF(raw)] = lookback
	}
	return out
}

// TrackedEMAPeriods — периоды EMA рынка плюс те, что нужны стратегии.
func (c *Config) TrackedEMAPeriods() []int {
	return uniqueSorted(c.Market.EMAPeriods)
}

func (c *Config) TrackedATRPeriods() []int {
	return uniqueSorted(append(append([]int(nil), c.Market.ATRPeriods...), c.Strategy.ATRPeriod))
}

func uniqueSorted(in []int) []int {
	seen := make(map[int]struct{}, len(in))
	out := make([]int, 0, len(in))
	for _, v := range in {
		if _, ok := seen[v]; ok || v <= 0 {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Ints(out)
	return out
}

func int64FromEnv(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
