package service

import (
	"sync"
	"time"
)

// Cooldown — минимальная пауза между сигналами по одному символу.
type Cooldown struct {
	d    time.Duration
	mu   sync.Mutex
	last map[string]int64
}

func NewCooldown(d time.Duration) *Cooldown {
	return &Cooldown{d: d, last: make(map[string]int64)}
}

// Allow сообщает, можно ли открыть сигнал в момент ts (unix ms).
// Отметка обновляется при любом ответе, в том числе при отказе.
func (c *Cooldown) Allow(symbol string, ts int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev, ok := c.last[symbol]
	c.last[symbol] = ts
	return !ok || ts-prev >= c.d.Milliseconds()
}

func (c *Cooldown) Touch(symbol string, ts int64) {
	c.mu.Lock()
	c.last[symbol] = ts
	c.mu.Unlock()
}
