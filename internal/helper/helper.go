package helper

import (
	"strings"

	"github.com/shopspring/decimal"

	"signal_bot/internal/models"
)

// NormTF приводит обозначение таймфрейма из конфига/биржи к models.Timeframe.
func NormTF(raw string) models.Timeframe {
	s := strings.TrimSpace(strings.ToLower(raw))
	switch s {
	case "60m", "1h":
		return models.TF1h
	case "240m", "4h":
		return models.TF4h
	case "d", "1d", "1day":
		return models.TF1d
	case "w", "1w", "1week":
		return models.TF1w
	default:
		return models.Timeframe(s)
	}
}

func SeriesKey(symbol string, tf models.Timeframe) string { return symbol + ":" + string(tf) }

// Round8 округляет до 8 знаков, чтобы пороги не "дрожали" на float.
func Round8(v float64) float64 {
	return decimal.NewFromFloat(v).Round(8).InexactFloat64()
}

// Chunk режет список символов на пачки не больше size.
func Chunk(items []string, size int) [][]string {
	if len(items) == 0 {
		return nil
	}
	if size <= 0 {
		size = len(items)
	}
	out := make([][]string, 0, (len(items)+size-1)/size)
	for i := 0; i < len(items); i += size {
		end := min(i+size, len(items))
		out = append(out, items[i:end])
	}
	return out
}

// WinThreshold / LossThreshold — цены срабатывания правила от цены входа.
func WinThreshold(entry, pct float64) float64 { return Round8(entry * (1 + pct/100)) }

func LossThreshold(entry, pct float64) float64 { return Round8(entry * (1 - pct/100)) }
