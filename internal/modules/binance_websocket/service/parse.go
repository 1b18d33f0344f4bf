package service

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"

	"signal_bot/internal/models"
)

var errNotKline = errors.New("not a kline event")

type klineFrame struct {
	Event  string `json:"e"`
	Symbol string `json:"s"`
	K      struct {
		OpenTime  int64  `json:"t"`
		CloseTime int64  `json:"T"`
		Symbol    string `json:"s"`
		Interval  string `json:"i"`
		Open      string `json:"o"`
		Close     string `json:"c"`
		High      string `json:"h"`
		Low       string `json:"l"`
		Volume    string `json:"v"`
		Closed    bool   `json:"x"`
	} `json:"k"`
}

// parseKline разбирает событие kline Binance futures. Таймфрейм берём из
// подписки соединения, а не из payload.
func parseKline(msg []byte, tf models.Timeframe) (models.CandleEvent, error) {
	var f klineFrame
	if err := sonic.Unmarshal(msg, &f); err != nil {
		return models.CandleEvent{}, fmt.Errorf("decode: %w", err)
	}
	if f.Event != "kline" {
		return models.CandleEvent{}, errNotKline
	}

	sym := f.K.Symbol
	if sym == "" {
		sym = f.Symbol
	}
	if sym == "" || f.K.OpenTime == 0 {
		return models.CandleEvent{}, errors.New("missing symbol or open time")
	}

	var (
		c    models.Candle
		errs [5]error
	)
	c.OpenTime = f.K.OpenTime
	c.CloseTime = f.K.CloseTime
	c.Open, errs[0] = strconv.ParseFloat(f.K.Open, 64)
	c.High, errs[1] = strconv.ParseFloat(f.K.High, 64)
	c.Low, errs[2] = strconv.ParseFloat(f.K.Low, 64)
	c.Close, errs[3] = strconv.ParseFloat(f.K.Close, 64)
	c.Volume, errs[4] = strconv.ParseFloat(f.K.Volume, 64)
	if err := errors.Join(errs[:]...); err != nil {
		return models.CandleEvent{}, fmt.Errorf("numbers: %w", err)
	}

	return models.CandleEvent{
		Symbol:    strings.ToLower(sym),
		Timeframe: tf,
		Candle:    c,
		Closed:    f.K.Closed,
	}, nil
}
