package service

import (
	"context"
	"sort"
	"strconv"
	"strings"
)

type ticker24h struct {
	Symbol      string `json:"symbol"`
	QuoteVolume string `json:"quoteVolume"`
}

// Symbols — список фьючерсных тикеров в нижнем регистре, отсортированный по
// обороту. Исключаются символы с суффиксами из ExcludeSuffix.
func (c *Client) Symbols(ctx context.Context) ([]string, error) {
	var raw []ticker24h
	if err := c.get(ctx, "/fapi/v1/ticker/24hr", nil, &raw); err != nil {
		return nil, err
	}

	type item struct {
		sym string
		vol float64
	}
	items := make([]item, 0, len(raw))
	for _, t := range raw {
		sym := strings.ToLower(t.Symbol)
		if sym == "" || c.excluded(sym) {
			continue
		}
		vol, _ := strconv.ParseFloat(t.QuoteVolume, 64)
		items = append(items, item{sym: sym, vol: vol})
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].vol > items[j].vol })

	if c.cfg.TopN > 0 && len(items) > c.cfg.TopN {
		items = items[:c.cfg.TopN]
	}
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.sym
	}
	return out, nil
}

func (c *Client) excluded(sym string) bool {
	for _, suf := range c.cfg.ExcludeSuffix {
		if suf != "" && strings.HasSuffix(sym, strings.ToLower(suf)) {
			return true
		}
	}
	return false
}
