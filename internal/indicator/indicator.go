// Package indicator содержит инкрементальные трекеры индикаторов (EMA, ATR,
// скользящая медиана объёма), которые обновляются по одной свече без пересчёта истории.
package indicator

import (
	"errors"
	"fmt"
	"strings"

	"signal_bot/internal/models"
)

var ErrInvariant = errors.New("indicator invariant violation")

type Kind int

const (
	KindEMA Kind = iota
	KindATR
	KindMedian
)

func (k Kind) String() string {
	switch k {
	case KindEMA:
		return "ema"
	case KindATR:
		return "atr"
	case KindMedian:
		return "median"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ema":
		return KindEMA, nil
	case "atr":
		return KindATR, nil
	case "median":
		return KindMedian, nil
	}
	return 0, fmt.Errorf("unknown indicator %q", s)
}

// Update — то, что получает трекер при каждом добавлении закрытой свечи.
// Evicted == nil, пока окно ещё не заполнено.
type Update struct {
	Added   models.Candle
	Evicted *models.Candle
	Oldest  models.Candle
}

// Tracker — общий интерфейс для всех индикаторов.
// Value возвращает (v, true) когда значение готово и (0, false) иначе.
// index: -1 последнее значение, 0 самое старое в окне.
type Tracker interface {
	Kind() Kind
	Update(u Update) error
	Value(period, index int) (float64, bool)
}

func New(kind Kind, periods []int, lookback int) (Tracker, error) {
	if lookback <= 0 {
		return nil, fmt.Errorf("indicator %s: lookback must be positive, got %d", kind, lookback)
	}
	for _, p := range periods {
		if p <= 0 {
			return nil, fmt.Errorf("indicator %s: period must be positive, got %d", kind, p)
		}
	}
	switch kind {
	case KindEMA:
		return NewEMA(periods, lookback), nil
	case KindATR:
		return NewATR(periods, lookback), nil
	case KindMedian:
		return NewMedian(lookback), nil
	}
	return nil, fmt.Errorf("unknown indicator kind %d", int(kind))
}
