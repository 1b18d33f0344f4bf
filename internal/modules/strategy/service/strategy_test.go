package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signal_bot/internal/indicator"
	"signal_bot/internal/models"
	signals "signal_bot/internal/modules/signals/service"
)

type fakeMarket struct {
	mu      sync.Mutex
	candles []models.Candle
	ema     map[int]float64
	atr     map[int]float64
	median  float64

	applyOK bool
	applied []models.Candle
	current []models.Candle
}

func (f *fakeMarket) Candles(string, models.Timeframe) []models.Candle {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Candle(nil), f.candles...)
}

func (f *fakeMarket) Snapshot(_ string, _ models.Timeframe, index int) (models.Candle, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if index < 0 {
		index += len(f.candles)
	}
	if index < 0 || index >= len(f.candles) {
		return models.Candle{}, false
	}
	return f.candles[index], true
}

func (f *fakeMarket) Indicator(_ string, _ models.Timeframe, kind indicator.Kind, period, _ int) (float64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch kind {
	case indicator.KindEMA:
		v, ok := f.ema[period]
		return v, ok
	case indicator.KindATR:
		v, ok := f.atr[period]
		return v, ok
	case indicator.KindMedian:
		return f.median, f.median > 0
	}
	return 0, false
}

func (f *fakeMarket) ApplyClosedCandle(_ string, _ models.Timeframe, c models.Candle) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.applyOK {
		return false
	}
	f.applied = append(f.applied, c)
	f.candles = append(f.candles, c)
	return true
}

func (f *fakeMarket) SetCurrent(_ string, _ models.Timeframe, c models.Candle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current = append(f.current, c)
}

func (f *fakeMarket) push(c models.Candle) {
	f.mu.Lock()
	f.candles = append(f.candles, c)
	f.mu.Unlock()
}

func spikeCandle(i int64, vol float64) models.Candle {
	step := models.TF15m.Millis()
	return models.Candle{OpenTime: i * step, Close: 100, Volume: vol, CloseTime: (i+1)*step - 1}
}

func TestVolumeSpike_RunCountAndDecay(t *testing.T) {
	t.Parallel()

	m := &fakeMarket{median: 10}
	p := NewVolumeSpike(m, 3, 3)

	m.push(spikeCandle(0, 30))
	assert.False(t, p.Check("btcusdt", models.TF15m))
	m.push(spikeCandle(1, 31))
	assert.False(t, p.Check("btcusdt", models.TF15m))

	m.push(spikeCandle(2, 29))
	assert.False(t, p.Check("btcusdt", models.TF15m), "below multiplier, run untouched")

	m.push(spikeCandle(3, 45))
	// пропущена одна свеча → выпадает самый старый всплеск, остаются {1, 3}
	assert.False(t, p.Check("btcusdt", models.TF15m))
	m.push(spikeCandle(4, 45))
	assert.True(t, p.Check("btcusdt", models.TF15m))

	m.push(spikeCandle(10, 45))
	assert.False(t, p.Check("btcusdt", models.TF15m), "long gap resets run")
}

func TestVolumeSpike_NoMedian(t *testing.T) {
	t.Parallel()

	m := &fakeMarket{}
	m.push(spikeCandle(0, 1000))
	assert.False(t, NewVolumeSpike(m, 3, 1).Check("btcusdt", models.TF15m))
}

func TestAboveEMA(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		close   float64
		ema     map[int]float64
		stacked bool
		want    bool
	}{
		{name: "stacked above", close: 110, ema: map[int]float64{9: 108, 15: 105, 100: 100}, stacked: true, want: true},
		{name: "below long", close: 99, ema: map[int]float64{9: 108, 15: 105, 100: 100}, stacked: true, want: false},
		{name: "not stacked", close: 110, ema: map[int]float64{9: 101, 15: 105, 100: 100}, stacked: true, want: false},
		{name: "not stacked allowed", close: 110, ema: map[int]float64{9: 101, 15: 105, 100: 100}, stacked: false, want: true},
		{name: "ema not ready", close: 110, ema: map[int]float64{9: 108, 15: 105}, stacked: true, want: false},
		{name: "equal to long", close: 100, ema: map[int]float64{9: 100, 15: 100, 100: 100}, stacked: true, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m := &fakeMarket{ema: tt.ema}
			m.push(models.Candle{Close: tt.close})
			p := NewAboveEMA(m, []int{100, 9, 15}, tt.stacked)
			assert.Equal(t, tt.want, p.Check("btcusdt", models.TF15m))
		})
	}
}

func TestATRRatio(t *testing.T) {
	t.Parallel()

	m := &fakeMarket{atr: map[int]float64{14: 2}}
	m.push(models.Candle{Close: 100})
	assert.True(t, NewATRRatio(m, 14, 1.5).Check("x", models.TF15m))
	assert.False(t, NewATRRatio(m, 14, 2).Check("x", models.TF15m), "strictly greater")
	assert.False(t, NewATRRatio(m, 7, 1).Check("x", models.TF15m), "period not tracked")
}

func TestEMADistance(t *testing.T) {
	t.Parallel()

	build := func(ema float64) *fakeMarket {
		m := &fakeMarket{ema: map[int]float64{100: ema}}
		for i := 0; i < 25; i++ {
			m.push(models.Candle{Open: 100, Close: 101})
		}
		return m
	}

	assert.True(t, NewEMADistance(build(96), 100, 20, 2.5, 13).Check("x", models.TF15m))
	assert.False(t, NewEMADistance(build(100), 100, 20, 2.5, 13).Check("x", models.TF15m), "too close")
	assert.False(t, NewEMADistance(build(80), 100, 20, 2.5, 13).Check("x", models.TF15m), "too far")
	assert.False(t, NewEMADistance(build(96), 100, 30, 2.5, 13).Check("x", models.TF15m), "not enough candles")
}

type stubPredicate struct {
	name   string
	result bool
	panics bool
	calls  int
}

func (s *stubPredicate) Name() string { return s.name }

func (s *stubPredicate) Check(string, models.Timeframe) bool {
	s.calls++
	if s.panics {
		panic("boom")
	}
	return s.result
}

func TestPipeline_ShortCircuitAndMutation(t *testing.T) {
	t.Parallel()

	a := &stubPredicate{name: "a", result: true}
	b := &stubPredicate{name: "b", result: false}
	c := &stubPredicate{name: "c", result: true}
	p := NewPipeline(a, b, c)

	assert.False(t, p.Evaluate("x", models.TF5m))
	assert.Equal(t, 1, a.calls)
	assert.Equal(t, 1, b.calls)
	assert.Zero(t, c.calls)

	assert.True(t, p.Remove("b"))
	assert.False(t, p.Remove("b"))
	assert.Equal(t, []string{"a", "c"}, p.Names())
	assert.True(t, p.Evaluate("x", models.TF5m))

	assert.Error(t, p.Register(&stubPredicate{name: "a"}))
	require.NoError(t, p.Register(&stubPredicate{name: "boom", panics: true}))
	assert.False(t, p.Evaluate("x", models.TF5m), "panicking predicate fails the evaluation")

	assert.False(t, NewPipeline().Evaluate("x", models.TF5m))
}

func TestNewPipelineFromConfig(t *testing.T) {
	t.Parallel()

	cfg := Config{
		Algorithms:       []string{"volume_spike", "above_ema", "atr_ratio", "ema_distance"},
		VolumeMultiplier: 3,
		VolumeCount:      3,
		EMAPeriods:       []int{9, 15, 100},
		ATRPeriod:        14,
		MinATRPct:        1.5,
		BodyWindow:       20,
		DistanceMin:      2.5,
		DistanceMax:      13,
	}
	p, err := NewPipelineFromConfig(cfg, &fakeMarket{})
	require.NoError(t, err)
	assert.Equal(t, cfg.Algorithms, p.Names())

	cfg.Algorithms = []string{"rsi"}
	_, err = NewPipelineFromConfig(cfg, &fakeMarket{})
	assert.Error(t, err)

	cfg.Algorithms = []string{"above_ema", "above_ema"}
	_, err = NewPipelineFromConfig(cfg, &fakeMarket{})
	assert.Error(t, err)
}

type fakeTracker struct {
	mu       sync.Mutex
	openErr  error
	opened   []models.Candle
	advanced map[string][]int64
}

func (f *fakeTracker) Open(_ context.Context, symbol string, tf models.Timeframe, entry models.Candle) (models.Signal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openErr != nil {
		return models.Signal{}, f.openErr
	}
	f.opened = append(f.opened, entry)
	return models.Signal{ID: "1", Symbol: symbol, Timeframe: tf, Entry: entry}, nil
}

func (f *fakeTracker) Advance(symbol string, _ models.Timeframe, c models.Candle) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.advanced == nil {
		f.advanced = make(map[string][]int64)
	}
	f.advanced[symbol] = append(f.advanced[symbol], c.OpenTime)
	return 0
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []string
}

func (f *fakeNotifier) Notify(symbol string, price float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, fmt.Sprintf("%s@%.2f", symbol, price))
}

type gateFunc func(string, int64) bool

func (g gateFunc) Allow(s string, ts int64) bool { return g(s, ts) }

type nopTicks struct{}

func (nopTicks) TouchTick(time.Time) {}

func TestHub_OnEvent(t *testing.T) {
	t.Parallel()

	allow := gateFunc(func(string, int64) bool { return true })
	deny := gateFunc(func(string, int64) bool { return false })
	pass := NewPipeline(&stubPredicate{name: "ok", result: true})
	closed := models.CandleEvent{Symbol: "btcusdt", Timeframe: models.TF15m, Candle: models.Candle{OpenTime: 1, Close: 42}, Closed: true}

	t.Run("partial updates current only", func(t *testing.T) {
		m, tr, n := &fakeMarket{applyOK: true}, &fakeTracker{}, &fakeNotifier{}
		h := NewHub(m, pass, allow, tr, n, nopTicks{}, 1)
		ev := closed
		ev.Closed = false
		h.OnEvent(context.Background(), ev)
		assert.Len(t, m.current, 1)
		assert.Empty(t, m.applied)
		assert.Len(t, tr.advanced["btcusdt"], 1)
	})

	t.Run("closed opens signal and notifies", func(t *testing.T) {
		m, tr, n := &fakeMarket{applyOK: true}, &fakeTracker{}, &fakeNotifier{}
		h := NewHub(m, pass, allow, tr, n, nopTicks{}, 1)
		h.OnEvent(context.Background(), closed)
		require.Len(t, tr.opened, 1)
		assert.Equal(t, 42.0, tr.opened[0].Close)
		assert.Equal(t, []string{"btcusdt@42.00"}, n.sent)
	})

	t.Run("cooldown refuses", func(t *testing.T) {
		m, tr, n := &fakeMarket{applyOK: true}, &fakeTracker{}, &fakeNotifier{}
		h := NewHub(m, pass, deny, tr, n, nopTicks{}, 1)
		h.OnEvent(context.Background(), closed)
		assert.Empty(t, tr.opened)
		assert.Empty(t, n.sent)
	})

	t.Run("already open is quiet", func(t *testing.T) {
		m, n := &fakeMarket{applyOK: true}, &fakeNotifier{}
		tr := &fakeTracker{openErr: fmt.Errorf("%w: btcusdt", signals.ErrAlreadyOpen)}
		h := NewHub(m, pass, allow, tr, n, nopTicks{}, 1)
		h.OnEvent(context.Background(), closed)
		assert.Empty(t, n.sent)
	})

	t.Run("not initialized stops early", func(t *testing.T) {
		m, tr, n := &fakeMarket{}, &fakeTracker{}, &fakeNotifier{}
		h := NewHub(m, pass, allow, tr, n, nopTicks{}, 1)
		h.OnEvent(context.Background(), closed)
		assert.Empty(t, tr.opened)
	})

	t.Run("pipeline fails", func(t *testing.T) {
		m, tr, n := &fakeMarket{applyOK: true}, &fakeTracker{}, &fakeNotifier{}
		h := NewHub(m, NewPipeline(&stubPredicate{name: "no"}), allow, tr, n, nopTicks{}, 1)
		h.OnEvent(context.Background(), closed)
		assert.Empty(t, tr.opened)
		assert.Len(t, m.applied, 1)
	})

	t.Run("open error is logged", func(t *testing.T) {
		m, n := &fakeMarket{applyOK: true}, &fakeNotifier{}
		tr := &fakeTracker{openErr: errors.New("db down")}
		h := NewHub(m, pass, allow, tr, n, nopTicks{}, 1)
		h.OnEvent(context.Background(), closed)
		assert.Empty(t, n.sent)
	})
}

func TestHub_RunKeepsPerSymbolOrder(t *testing.T) {
	t.Parallel()

	tr := &fakeTracker{}
	h := NewHub(&fakeMarket{}, NewPipeline(), gateFunc(func(string, int64) bool { return true }), tr, &fakeNotifier{}, nopTicks{}, 4)

	events := make(chan models.CandleEvent, 300)
	symbols := []string{"a", "b", "c"}
	for i := int64(0); i < 100; i++ {
		for _, s := range symbols {
			events <- models.CandleEvent{Symbol: s, Timeframe: models.TF1m, Candle: models.Candle{OpenTime: i}}
		}
	}
	close(events)

	h.Run(context.Background(), events)

	for _, s := range symbols {
		got := tr.advanced[s]
		require.Len(t, got, 100, s)
		for i, ts := range got {
			assert.Equal(t, int64(i), ts)
		}
	}
}
