package models

import "time"

type Rule struct {
	ID      int     `json:"id" yaml:"id"`
	WinPct  float64 `json:"win" yaml:"win"`
	LossPct float64 `json:"loss" yaml:"loss"`
}

type Result string

const (
	ResultWin  Result = "win"
	ResultLoss Result = "loss"
)

type Signal struct {
	ID        string
	Symbol    string
	Timeframe Timeframe
	Entry     Candle
	CreatedAt time.Time
	Rules     []Rule
}

type Outcome struct {
	SignalID    string
	RuleID      int
	Result      Result
	TargetPrice float64
	StopPrice   float64
	DurationMs  int64
	CompletedAt int64
}

// StaleSignal — сигнал, у которого в базе меньше исходов, чем правил.
type StaleSignal struct {
	Signal
	ResolvedRules []int
}

func (s StaleSignal) Pending() []Rule {
	done := make(map[int]struct{}, len(s.ResolvedRules))
	for _, id := range s.ResolvedRules {
		done[id] = struct{}{}
	}
	out := make([]Rule, 0, len(s.Rules))
	for _, r := range s.Rules {
		if _, ok := done[r.ID]; !ok {
			out = append(out, r)
		}
	}
	return out
}
