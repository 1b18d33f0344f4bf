package service

import (
	"context"
	"net/url"
	"strconv"
	"strings"

	"signal_bot/internal/models"
)

type aggTrade struct {
	ID    int64  `json:"a"`
	Price string `json:"p"`
	Qty   string `json:"q"`
	Time  int64  `json:"T"`
}

func (c *Client) GetAggTrades(ctx context.Context, symbol string, startTime int64) ([]models.Trade, error) {
	q := url.Values{}
	q.Set("symbol", strings.ToUpper(symbol))
	q.Set("startTime", strconv.FormatInt(startTime, 10))
	q.Set("limit", strconv.Itoa(c.cfg.PageLimit))

	var raw []aggTrade
	if err := c.get(ctx, "/fapi/v1/aggTrades", q, &raw); err != nil {
		return nil, err
	}

	out := make([]models.Trade, 0, len(raw))
	for _, t := range raw {
		price, err := strconv.ParseFloat(t.Price, 64)
		if err != nil {
			continue
		}
		qty, _ := strconv.ParseFloat(t.Qty, 64)
		out = append(out, models.Trade{ID: t.ID, Price: price, Qty: qty, Time: t.Time})
	}
	return out, nil
}
