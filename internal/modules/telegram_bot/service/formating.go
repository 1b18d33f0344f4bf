package service

import (
	"fmt"
	"sort"
	"strings"

	signals "signal_bot/internal/modules/signals/service"
)

func formatNotices(batch []notice) string {
	var b strings.Builder
	b.WriteString("🚀 Новые сигналы:\n")
	for _, n := range batch {
		fmt.Fprintf(&b, "%s @ %s (%s UTC)\n", strings.ToUpper(n.symbol), price(n.price), n.at.UTC().Format("15:04"))
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatActive(active []signals.ActiveSignal) string {
	if len(active) == 0 {
		return "📭 Открытых сигналов нет"
	}
	sort.Slice(active, func(i, j int) bool { return active[i].Symbol < active[j].Symbol })

	var b strings.Builder
	fmt.Fprintf(&b, "📊 Открытые сигналы (%d):\n", len(active))
	for _, s := range active {
		fmt.Fprintf(&b, "- %s [%s] вход %s, ждут правила %v\n",
			strings.ToUpper(s.Symbol), s.Timeframe, price(s.Entry.Close), s.Pending)
	}
	return strings.TrimRight(b.String(), "\n")
}

func price(v float64) string {
	s := strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.8f", v), "0"), ".")
	if s == "" || s == "-" {
		return "0"
	}
	return s
}
