package service

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"signal_bot/internal/models"
)

// строка kline: [openTime, open, high, low, close, volume, closeTime, ...]
func parseKline(row []any) (models.Candle, error) {
	if len(row) < 7 {
		return models.Candle{}, fmt.Errorf("kline row has %d fields", len(row))
	}
	var (
		c    models.Candle
		errs [7]error
	)
	c.OpenTime, errs[0] = toInt64(row[0])
	c.Open, errs[1] = toFloat(row[1])
	c.High, errs[2] = toFloat(row[2])
	c.Low, errs[3] = toFloat(row[3])
	c.Close, errs[4] = toFloat(row[4])
	c.Volume, errs[5] = toFloat(row[5])
	c.CloseTime, errs[6] = toInt64(row[6])
	for _, err := range errs {
		if err != nil {
			return models.Candle{}, fmt.Errorf("kline row: %w", err)
		}
	}
	return c, nil
}

func (c *Client) klines(ctx context.Context, q url.Values) ([]models.Candle, error) {
	var rows [][]any
	if err := c.get(ctx, "/fapi/v1/klines", q, &rows); err != nil {
		return nil, err
	}
	out := make([]models.Candle, 0, len(rows))
	for _, row := range rows {
		k, err := parseKline(row)
		if err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, nil
}

// GetCandles возвращает последние limit закрытых свечей. Binance отдаёт текущую
// незакрытую свечу последней, поэтому запрашиваем на одну больше и отбрасываем её.
func (c *Client) GetCandles(ctx context.Context, symbol string, tf models.Timeframe, limit int) ([]models.Candle, error) {
	q := url.Values{}
	q.Set("symbol", strings.ToUpper(symbol))
	q.Set("interval", tf.BinanceInterval())
	q.Set("limit", strconv.Itoa(limit+1))

	all, err := c.klines(ctx, q)
	if err != nil {
		return nil, err
	}

	now := c.now().UnixMilli()
	closed := all[:0]
	for _, k := range all {
		if k.CloseTime < now {
			closed = append(closed, k)
		}
	}
	if len(closed) > limit {
		closed = closed[len(closed)-limit:]
	}
	return closed, nil
}

// GetKlines — страница свечей начиная с startTime (для реконсилера).
func (c *Client) GetKlines(ctx context.Context, symbol, interval string, startTime int64) ([]models.Candle, error) {
	q := url.Values{}
	q.Set("symbol", strings.ToUpper(symbol))
	q.Set("interval", interval)
	q.Set("startTime", strconv.FormatInt(startTime, 10))
	q.Set("limit", strconv.Itoa(c.cfg.PageLimit))
	return c.klines(ctx, q)
}
