package service

import "signal_bot/internal/models"

// Series — кольцевой буфер закрытых свечей фиксированной ёмкости (FIFO).
type Series struct {
	buf   []models.Candle
	start int
	n     int
}

func NewSeries(capacity int) *Series {
	return &Series{buf: make([]models.Candle, max(capacity, 1))}
}

// Append добавляет свечу; при полном буфере вытесняет самую старую и возвращает её.
func (s *Series) Append(c models.Candle) (evicted models.Candle, ok bool) {
	if s.n < len(s.buf) {
		s.buf[(s.start+s.n)%len(s.buf)] = c
		s.n++
		return models.Candle{}, false
	}
	evicted = s.buf[s.start]
	s.buf[s.start] = c
	s.start = (s.start + 1) % len(s.buf)
	return evicted, true
}

// At: -1 — последняя свеча, 0 — самая старая в окне.
func (s *Series) At(index int) (models.Candle, bool) {
	if index < 0 {
		index += s.n
	}
	if index < 0 || index >= s.n {
		return models.Candle{}, false
	}
	return s.buf[(s.start+index)%len(s.buf)], true
}

func (s *Series) Last() (models.Candle, bool) { return s.At(-1) }

func (s *Series) Len() int { return s.n }

func (s *Series) Cap() int { return len(s.buf) }

func (s *Series) Candles() []models.Candle {
	out := make([]models.Candle, s.n)
	for i := range out {
		out[i] = s.buf[(s.start+i)%len(s.buf)]
	}
	return out
}
