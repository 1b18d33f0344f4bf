package indicator

import "container/heap"

// Entry — элемент MedianHeap. Хранится вызывающей стороной, чтобы удалять
// конкретную вставку, а не первое попавшееся равное значение.
type Entry struct {
	value float64
	index int
	lower bool
}

func (e *Entry) Value() float64 { return e.value }

type entryHeap struct {
	items []*Entry
	max   bool
}

func (h entryHeap) Len() int { return len(h.items) }

func (h entryHeap) Less(i, j int) bool {
	if h.max {
		return h.items[i].value > h.items[j].value
	}
	return h.items[i].value < h.items[j].value
}

func (h entryHeap) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
	h.items[i].index = i
	h.items[j].index = j
}

func (h *entryHeap) Push(x any) {
	e := x.(*Entry)
	e.index = len(h.items)
	h.items = append(h.items, e)
}

func (h *entryHeap) Pop() any {
	old := h.items
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	h.items = old[:n-1]
	e.index = -1
	return e
}

func (h entryHeap) top() float64 { return h.items[0].value }

// MedianHeap — точная медиана на двух кучах: max-куча для нижней половины,
// min-куча для верхней. После каждой операции |lower-upper| <= 1.
type MedianHeap struct {
	lower entryHeap
	upper entryHeap
}

func NewMedianHeap() *MedianHeap {
	return &MedianHeap{lower: entryHeap{max: true}}
}

func (m *MedianHeap) Add(v float64) *Entry {
	e := &Entry{value: v}
	if m.lower.Len() == 0 || v <= m.lower.top() {
		e.lower = true
		heap.Push(&m.lower, e)
	} else {
		heap.Push(&m.upper, e)
	}
	m.rebalance()
	return e
}

// Remove удаляет ранее добавленный элемент. false — элемента нет ни в одной куче.
func (m *MedianHeap) Remove(e *Entry) bool {
	if e == nil || e.index < 0 {
		return false
	}
	h := &m.upper
	if e.lower {
		h = &m.lower
	}
	if e.index >= h.Len() || h.items[e.index] != e {
		return false
	}
	heap.Remove(h, e.index)
	m.rebalance()
	return true
}

func (m *MedianHeap) rebalance() {
	for m.lower.Len() > m.upper.Len()+1 {
		e := heap.Pop(&m.lower).(*Entry)
		e.lower = false
		heap.Push(&m.upper, e)
	}
	for m.upper.Len() > m.lower.Len()+1 {
		e := heap.Pop(&m.upper).(*Entry)
		e.lower = true
		heap.Push(&m.lower, e)
	}
}

func (m *MedianHeap) Median() (float64, bool) {
	ln, un := m.lower.Len(), m.upper.Len()
	switch {
	case ln == 0 && un == 0:
		return 0, false
	case ln > un:
		return m.lower.top(), true
	case un > ln:
		return m.upper.top(), true
	default:
		return (m.lower.top() + m.upper.top()) / 2, true
	}
}

func (m *MedianHeap) Sizes() (lower, upper int) { return m.lower.Len(), m.upper.Len() }

func (m *MedianHeap) Len() int { return m.lower.Len() + m.upper.Len() }
