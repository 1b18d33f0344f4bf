package service

import (
	"sync/atomic"
	"time"

	ws "signal_bot/internal/modules/binance_websocket/service"
)

// Streams — источник состояния websocket-подключений.
type Streams interface {
	Connected() bool
	Statuses() []ws.Status
}

type State struct {
	ready     atomic.Bool
	startedAt time.Time
	streams   Streams

	lastTickUnix atomic.Int64 // unix seconds
}

func NewState(streams Streams) *State {
	s := &State{startedAt: time.Now(), streams: streams}
	s.ready.Store(false)
	return s
}

func (s *State) SetReady(v bool) { s.ready.Store(v) }
func (s *State) Ready() bool     { return s.ready.Load() }

func (s *State) WSConnected() bool { return s.streams != nil && s.streams.Connected() }

func (s *State) Connections() []ws.Status {
	if s.streams == nil {
		return nil
	}
	return s.streams.Statuses()
}

func (s *State) TouchTick(t time.Time) { s.lastTickUnix.Store(t.Unix()) }
func (s *State) LastTick() time.Time {
	u := s.lastTickUnix.Load()
	if u == 0 {
		return time.Time{}
	}
	return time.Unix(u, 0)
}

func (s *State) Uptime() time.Duration { return time.Since(s.startedAt) }
