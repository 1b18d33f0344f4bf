package indicator

import (
	"math"

	"signal_bot/internal/models"
)

func TrueRange(c models.Candle, prevClose float64) float64 {
	return math.Max(c.High-c.Low, math.Max(math.Abs(c.High-prevClose), math.Abs(c.Low-prevClose)))
}

type atrLine struct {
	period int
	trSum  float64
	trN    int
	value  float64
	ready  bool
	hist   *history
}

func (l *atrLine) push(tr float64) {
	if !l.ready {
		l.trSum += tr
		l.trN++
		if l.trN < l.period {
			return
		}
		l.value = l.trSum / float64(l.period)
		l.ready = true
	} else {
		// сглаживание Уайлдера
		l.value = (l.value*float64(l.period-1) + tr) / float64(l.period)
	}
	l.hist.push(l.value)
}

type ATR struct {
	lines     map[int]*atrLine
	prevClose float64
	hasPrev   bool
}

func NewATR(periods []int, lookback int) *ATR {
	a := &ATR{lines: make(map[int]*atrLine, len(periods))}
	for _, p := range periods {
		a.lines[p] = &atrLine{period: p, hist: newHistory(lookback)}
	}
	return a
}

func (a *ATR) Kind() Kind { return KindATR }

func (a *ATR) Update(u Update) error {
	c := u.Added
	if !a.hasPrev {
		a.prevClose = c.Close
		a.hasPrev = true
		return nil
	}
	tr := TrueRange(c, a.prevClose)
	for _, l := range a.lines {
		l.push(tr)
	}
	a.prevClose = c.Close
	return nil
}

func (a *ATR) Value(period, index int) (float64, bool) {
	l, ok := a.lines[period]
	if !ok {
		return 0, false
	}
	return l.hist.at(index)
}
