package indicator

// history — кольцевой буфер последних значений индикатора.
type history struct {
	buf   []float64
	start int
	n     int
}

func newHistory(capacity int) *history {
	return &history{buf: make([]float64, max(capacity, 1))}
}

func (h *history) push(v float64) {
	if h.n < len(h.buf) {
		h.buf[(h.start+h.n)%len(h.buf)] = v
		h.n++
		return
	}
	h.buf[h.start] = v
	h.start = (h.start + 1) % len(h.buf)
}

func (h *history) at(index int) (float64, bool) {
	if index < 0 {
		index += h.n
	}
	if index < 0 || index >= h.n {
		return 0, false
	}
	return h.buf[(h.start+index)%len(h.buf)], true
}

func (h *history) len() int { return h.n }
