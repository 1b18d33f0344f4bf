package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"signal_bot/internal/models"
	ws "signal_bot/internal/modules/binance_websocket/service"
	market "signal_bot/internal/modules/market/service"
	"signal_bot/internal/observability"
)

// historyStub отдаёт limit свечей, а символам из short — на одну меньше.
type historyStub struct {
	short map[string]bool
}

func (h historyStub) GetCandles(_ context.Context, symbol string, tf models.Timeframe, limit int) ([]models.Candle, error) {
	n := limit
	if h.short[symbol] {
		n--
	}
	step := tf.Millis()
	out := make([]models.Candle, n)
	for i := range out {
		p := 100 + float64(i%5)
		out[i] = models.Candle{
			OpenTime:  int64(i) * step,
			Open:      p,
			High:      p + 1,
			Low:       p - 1,
			Close:     p,
			Volume:    10,
			CloseTime: int64(i+1)*step - 1,
		}
	}
	return out, nil
}

func TestWarmup_ShortHistoryNeverSubscribed(t *testing.T) {
	t.Parallel()

	var (
		mu    sync.Mutex
		paths []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.URL.Path)
		mu.Unlock()
		http.Error(w, "maintenance", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	metrics := observability.NewMetrics()
	store := market.NewStore(market.Config{
		Lookbacks:       map[models.Timeframe]int{models.TF15m: 5, models.TF1h: 5},
		FetchMultiplier: 2,
		EMAPeriods:      []int{3},
		ATRPeriods:      []int{3},
		InitConcurrency: 2,
	}, historyStub{short: map[string]bool{"dogeusdt": true}}, metrics)
	pool := ws.NewPool(ws.Config{
		BaseURL:              "ws" + strings.TrimPrefix(srv.URL, "http"),
		ChunkSize:            10,
		ReconnectBase:        10 * time.Millisecond,
		MaxReconnectAttempts: 100,
	}, make(chan models.CandleEvent, 1), metrics)
	defer pool.Stop()

	src := &symbolsMock{}
	src.On("Symbols", mock.Anything).Return([]string{"btcusdt", "dogeusdt", "ethusdt"}, nil)
	rec := &recorder{}

	w, err := NewWarmuper(src, store, pool, rec, nil, "00:00")
	require.NoError(t, err)
	require.NoError(t, w.Warmup(context.Background()))

	assert.Equal(t, []string{"btcusdt", "ethusdt"}, store.Active())
	assert.Len(t, pool.Statuses(), 2, "one connection per timeframe")

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		seen := map[string]bool{}
		for _, p := range paths {
			seen[p] = true
		}
		return len(seen) == 2
	}, 3*time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for _, p := range paths {
		assert.Contains(t, p, "btcusdt@kline_")
		assert.Contains(t, p, "ethusdt@kline_")
		assert.NotContains(t, p, "dogeusdt")
	}
}
