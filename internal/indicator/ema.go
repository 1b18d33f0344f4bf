package indicator

type emaLine struct {
	period  int
	alpha   float64
	seedSum float64
	seedN   int
	value   float64
	ready   bool
	hist    *history
}

func (l *emaLine) push(price float64) {
	if !l.ready {
		// до набора period цен считаем SMA как стартовое значение
		l.seedSum += price
		l.seedN++
		if l.seedN < l.period {
			return
		}
		l.value = l.seedSum / float64(l.period)
		l.ready = true
	} else {
		l.value = (price-l.value)*l.alpha + l.value
	}
	l.hist.push(l.value)
}

type EMA struct {
	lines map[int]*emaLine
}

func NewEMA(periods []int, lookback int) *EMA {
	e := &EMA{lines: make(map[int]*emaLine, len(periods))}
	for _, p := range periods {
		e.lines[p] = &emaLine{
			period: p,
			alpha:  2.0 / float64(p+1),
			hist:   newHistory(lookback),
		}
	}
	return e
}

func (e *EMA) Kind() Kind { return KindEMA }

func (e *EMA) Update(u Update) error {
	for _, l := range e.lines {
		l.push(u.Added.Close)
	}
	return nil
}

func (e *EMA) Value(period, index int) (float64, bool) {
	l, ok := e.lines[period]
	if !ok {
		return 0, false
	}
	return l.hist.at(index)
}
