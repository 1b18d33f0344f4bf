package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"signal_bot/internal/models"
	"signal_bot/internal/observability"
)

const pageLimit = 2

// fakeHistory отдаёт не больше pageLimit свечей с openTime >= start, как Binance.
type fakeHistory struct {
	mu      sync.Mutex
	daily   []models.Candle
	minutes []models.Candle
	trades  []models.Trade
	err     error
	panics  bool
	calls   int
	// после failAfter успешных запросов все следующие падают
	failAfter int
}

func (f *fakeHistory) GetKlines(_ context.Context, _ string, interval string, start int64) ([]models.Candle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.panics {
		panic("boom")
	}
	if f.err != nil {
		return nil, f.err
	}
	if f.failAfter > 0 && f.calls > f.failAfter {
		return nil, errors.New("429")
	}
	src := f.minutes
	if interval == "1d" {
		src = f.daily
	}
	var out []models.Candle
	for _, c := range src {
		if c.OpenTime >= start && len(out) < pageLimit {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeHistory) GetAggTrades(_ context.Context, _ string, start int64) ([]models.Trade, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failAfter > 0 && f.calls > f.failAfter {
		return nil, errors.New("429")
	}
	var out []models.Trade
	for _, t := range f.trades {
		if t.Time >= start {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeHistory) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type storageMock struct {
	mock.Mock
}

func (m *storageMock) FindStaleSignals(ctx context.Context, before time.Time) ([]models.StaleSignal, error) {
	args := m.Called(ctx, before)
	out, _ := args.Get(0).([]models.StaleSignal)
	return out, args.Error(1)
}

func (m *storageMock) CreateOutcomesBatch(ctx context.Context, outcomes []models.Outcome) error {
	return m.Called(ctx, outcomes).Error(0)
}

const day = int64(86_400_000)

// winFixture: в день 1 на второй минуте цена проходит 105, сделка уточняет момент.
func winFixture() *fakeHistory {
	return &fakeHistory{
		daily: []models.Candle{
			{OpenTime: 0, CloseTime: day - 1, High: 104, Low: 98},
			{OpenTime: day, CloseTime: 2*day - 1, High: 107, Low: 99},
		},
		minutes: []models.Candle{
			{OpenTime: day, CloseTime: day + 59_999, High: 101, Low: 99},
			{OpenTime: day + 60_000, CloseTime: day + 119_999, High: 105.5, Low: 100},
		},
		trades: []models.Trade{
			{Time: day + 60_500, Price: 104},
			{Time: day + 70_000, Price: 105.2},
		},
	}
}

// liveSet — id сигналов, которые ещё ведутся вживую.
type liveSet map[string]bool

func (l liveSet) Tracking(id string) bool { return l[id] }

func newTestReconciler(st Storage, h History) *Reconciler {
	return NewReconciler(Config{MaxAttempts: 10, MaxTradeAttempts: 5}, st, h, liveSet{}, observability.NewMetrics())
}

func TestCheckCondition_RefinesToTrade(t *testing.T) {
	t.Parallel()

	r := newTestReconciler(nil, winFixture())
	b, err := r.CheckCondition(context.Background(), "btcusdt", 100, 5, 5, 1_000)
	require.NoError(t, err)
	assert.Equal(t, Breach{Found: true, Time: day + 70_000, Result: models.ResultWin}, b)
}

func TestCheckCondition_SkipsBreachBeforeStart(t *testing.T) {
	t.Parallel()

	// day0 пробил 105 ещё до сигнала, после start минутки спокойные
	h := &fakeHistory{
		daily: []models.Candle{
			{OpenTime: 0, CloseTime: day - 1, High: 110, Low: 99},
			{OpenTime: day, CloseTime: 2*day - 1, High: 101, Low: 90},
		},
		minutes: []models.Candle{
			{OpenTime: day / 2, CloseTime: day/2 + 59_999, High: 101, Low: 99},
			{OpenTime: day - 60_000, CloseTime: day - 1, High: 101, Low: 99},
			{OpenTime: day + 3_600_000, CloseTime: day + 3_659_999, High: 100, Low: 94},
		},
	}
	r := newTestReconciler(nil, h)

	b, err := r.CheckCondition(context.Background(), "btcusdt", 100, 5, 5, day/2)
	require.NoError(t, err)
	assert.Equal(t, Breach{Found: true, Time: day + 3_659_999, Result: models.ResultLoss}, b)
}

func TestCheckCondition_TerminatesOnEmptyData(t *testing.T) {
	t.Parallel()

	h := &fakeHistory{}
	r := newTestReconciler(nil, h)

	b, err := r.CheckCondition(context.Background(), "btcusdt", 100, 5, 5, 1_000)
	require.NoError(t, err)
	assert.False(t, b.Found)
	assert.Equal(t, 2, h.callCount(), "daily then minute, then stop")
}

func TestCheckCondition_BoundedAttempts(t *testing.T) {
	t.Parallel()

	// свеча всегда раньше start: курсор не двигается, выходим по лимиту попыток
	h := &fakeHistory{daily: []models.Candle{{OpenTime: 0, CloseTime: 10, High: 200, Low: 1}}}
	r := newTestReconciler(nil, h)

	b, err := r.CheckCondition(context.Background(), "btcusdt", 100, 5, 5, 1_000)
	require.NoError(t, err)
	assert.False(t, b.Found)
	assert.Equal(t, 10, h.callCount())
}

func TestCheckCondition_CachesBreach(t *testing.T) {
	t.Parallel()

	h := winFixture()
	r := newTestReconciler(nil, h)
	ctx := context.Background()

	first, err := r.CheckCondition(ctx, "btcusdt", 100, 5, 5, 1_000)
	require.NoError(t, err)
	calls := h.callCount()

	second, err := r.CheckCondition(ctx, "btcusdt", 100, 5, 5, 1_000)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, calls, h.callCount())
}

func TestCheckCondition_PropagatesHistoryError(t *testing.T) {
	t.Parallel()

	r := newTestReconciler(nil, &fakeHistory{err: errors.New("429")})
	_, err := r.CheckCondition(context.Background(), "btcusdt", 100, 5, 5, 1_000)
	assert.Error(t, err)
}

// routedHistory выбирает источник по символу.
type routedHistory map[string]History

func (r routedHistory) GetKlines(ctx context.Context, symbol, interval string, start int64) ([]models.Candle, error) {
	return r[symbol].GetKlines(ctx, symbol, interval, start)
}

func (r routedHistory) GetAggTrades(ctx context.Context, symbol string, start int64) ([]models.Trade, error) {
	return r[symbol].GetAggTrades(ctx, symbol, start)
}

func staleSignal(id, symbol string) models.StaleSignal {
	return models.StaleSignal{
		Signal: models.Signal{
			ID:        id,
			Symbol:    symbol,
			Timeframe: models.TF15m,
			Entry:     models.Candle{OpenTime: 0, Close: 100, CloseTime: 999},
			Rules:     []models.Rule{{ID: 1, WinPct: 5, LossPct: 5}, {ID: 2, WinPct: 5, LossPct: 2.5}},
		},
		ResolvedRules: []int{1},
	}
}

func TestReconcileOnce_IsolatesFailures(t *testing.T) {
	t.Parallel()

	st := &storageMock{}
	st.On("FindStaleSignals", mock.Anything, mock.Anything).Return([]models.StaleSignal{
		staleSignal("a", "btcusdt"),
		staleSignal("b", "ethusdt"),
		staleSignal("c", "solusdt"),
	}, nil)
	st.On("CreateOutcomesBatch", mock.Anything, []models.Outcome{{
		SignalID:    "a",
		RuleID:      2,
		Result:      models.ResultWin,
		TargetPrice: 105,
		StopPrice:   97.5,
		DurationMs:  day + 70_000,
		CompletedAt: day + 70_000,
	}}).Return(nil).Once()

	h := routedHistory{
		"btcusdt": winFixture(),
		"ethusdt": &fakeHistory{err: errors.New("timeout")},
		"solusdt": &fakeHistory{panics: true},
	}
	r := newTestReconciler(st, h)

	n, err := r.ReconcileOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 2.0, testutil.ToFloat64(r.metrics.ReconcileErrors))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.metrics.ReconciledOutcomes))
	st.AssertExpectations(t)
}

func TestReconcileOnce_NothingToWrite(t *testing.T) {
	t.Parallel()

	st := &storageMock{}
	st.On("FindStaleSignals", mock.Anything, mock.Anything).Return([]models.StaleSignal{staleSignal("a", "btcusdt")}, nil)
	r := newTestReconciler(st, &fakeHistory{})

	n, err := r.ReconcileOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	st.AssertNotCalled(t, "CreateOutcomesBatch", mock.Anything, mock.Anything)
}

func TestReconcileOnce_FindError(t *testing.T) {
	t.Parallel()

	st := &storageMock{}
	st.On("FindStaleSignals", mock.Anything, mock.Anything).Return(nil, errors.New("db down"))
	r := newTestReconciler(st, &fakeHistory{})

	_, err := r.ReconcileOnce(context.Background())
	assert.Error(t, err)
}

func TestReconcileOnce_SkipsOnlyLiveSignals(t *testing.T) {
	t.Parallel()

	st := &storageMock{}
	h := winFixture()
	r := NewReconciler(Config{MaxAttempts: 10, MaxTradeAttempts: 5}, st, h, liveSet{"b": true}, observability.NewMetrics())

	// оба сигнала созданы уже после старта процесса, но "a" менеджер отпустил
	opened := time.Now()
	st.On("FindStaleSignals", mock.Anything, mock.MatchedBy(func(before time.Time) bool {
		return !before.Before(opened)
	})).Return([]models.StaleSignal{
		staleSignal("a", "btcusdt"),
		staleSignal("b", "btcusdt"),
	}, nil)
	st.On("CreateOutcomesBatch", mock.Anything, mock.MatchedBy(func(out []models.Outcome) bool {
		return len(out) == 1 && out[0].SignalID == "a" && out[0].RuleID == 2
	})).Return(nil).Once()

	n, err := r.ReconcileOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 3, h.callCount(), "daily, minute and trades for \"a\" only")
	st.AssertExpectations(t)
}

func TestReconcileOnce_KeepsFoundOutcomesOnRuleError(t *testing.T) {
	t.Parallel()

	sig := staleSignal("a", "btcusdt")
	sig.Rules = []models.Rule{{ID: 1, WinPct: 5, LossPct: 5}, {ID: 2, WinPct: 8, LossPct: 8}}
	sig.ResolvedRules = nil

	st := &storageMock{}
	st.On("FindStaleSignals", mock.Anything, mock.Anything).Return([]models.StaleSignal{sig}, nil)
	st.On("CreateOutcomesBatch", mock.Anything, []models.Outcome{{
		SignalID:    "a",
		RuleID:      1,
		Result:      models.ResultWin,
		TargetPrice: 105,
		StopPrice:   95,
		DurationMs:  day + 70_000,
		CompletedAt: day + 70_000,
	}}).Return(nil).Once()

	// правило 1 укладывается в три запроса, на правиле 2 история отвечает ошибкой
	h := winFixture()
	h.failAfter = 3
	r := newTestReconciler(st, h)

	n, err := r.ReconcileOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1.0, testutil.ToFloat64(r.metrics.ReconcileErrors))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.metrics.ReconciledOutcomes))
	st.AssertExpectations(t)
}
