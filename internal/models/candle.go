package models

import "time"

type Timeframe string

const (
	TF1m  Timeframe = "1m"
	TF5m  Timeframe = "5m"
	TF15m Timeframe = "15m"
	TF30m Timeframe = "30m"
	TF1h  Timeframe = "1h"
	TF4h  Timeframe = "4h"
	TF1d  Timeframe = "D"
	TF1w  Timeframe = "W"
)

var timeframeDurations = map[Timeframe]time.Duration{
	TF1m:  time.Minute,
	TF5m:  5 * time.Minute,
	TF15m: 15 * time.Minute,
	TF30m: 30 * time.Minute,
	TF1h:  time.Hour,
	TF4h:  4 * time.Hour,
	TF1d:  24 * time.Hour,
	TF1w:  7 * 24 * time.Hour,
}

func (tf Timeframe) Valid() bool {
	_, ok := timeframeDurations[tf]
	return ok
}

func (tf Timeframe) Duration() time.Duration { return timeframeDurations[tf] }

func (tf Timeframe) Millis() int64 { return tf.Duration().Milliseconds() }

// BinanceInterval — имя интервала в REST/WS API Binance.
func (tf Timeframe) BinanceInterval() string {
	switch tf {
	case TF1d:
		return "1d"
	case TF1w:
		return "1w"
	default:
		return string(tf)
	}
}

// Candle — OHLCV бар, время в unix ms.
type Candle struct {
	OpenTime  int64   `json:"openTime"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
	CloseTime int64   `json:"closeTime"`
}

// CandleEvent — обновление свечи из стрима, Closed=true только для закрытой.
type CandleEvent struct {
	Symbol    string
	Timeframe Timeframe
	Candle    Candle
	Closed    bool
}

type Trade struct {
	ID    int64   `json:"id"`
	Price float64 `json:"price"`
	Qty   float64 `json:"qty"`
	Time  int64   `json:"time"`
}
