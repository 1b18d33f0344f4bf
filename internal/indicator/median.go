package indicator

import "fmt"

// Median — скользящая медиана объёма за последние lookback свечей.
// Окно хранит порядок вставки, вытесняется всегда самый старый элемент.
type Median struct {
	lookback int
	heap     *MedianHeap
	window   []*Entry
	hist     *history
}

func NewMedian(lookback int) *Median {
	return &Median{
		lookback: lookback,
		heap:     NewMedianHeap(),
		window:   make([]*Entry, 0, lookback+1),
		hist:     newHistory(lookback),
	}
}

func (m *Median) Kind() Kind { return KindMedian }

func (m *Median) Update(u Update) error {
	m.window = append(m.window, m.heap.Add(u.Added.Volume))
	if len(m.window) > m.lookback {
		oldest := m.window[0]
		m.window[0] = nil
		m.window = m.window[1:]
		if !m.heap.Remove(oldest) {
			return fmt.Errorf("%w: median entry %v missing from heaps", ErrInvariant, oldest.Value())
		}
	}
	if v, ok := m.heap.Median(); ok {
		m.hist.push(v)
	}
	return nil
}

// Value: period игнорируется, окно у медианы одно.
func (m *Median) Value(_, index int) (float64, bool) {
	return m.hist.at(index)
}

func (m *Median) Sizes() (lower, upper int) { return m.heap.Sizes() }
