package service

import "time"

const defaultStreamURL = "wss://fstream.binance.com/ws"

type Config struct {
	BaseURL              string
	ChunkSize            int
	ReconnectBase        time.Duration
	MaxReconnectAttempts int
	PingInterval         time.Duration
	LivenessTimeout      time.Duration
	HandshakeTimeout     time.Duration
}

func (c Config) withDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = defaultStreamURL
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = 200
	}
	if c.ReconnectBase <= 0 {
		c.ReconnectBase = time.Second
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = 5
	}
	if c.PingInterval <= 0 {
		c.PingInterval = time.Minute
	}
	if c.LivenessTimeout <= 0 {
		c.LivenessTimeout = 10 * time.Second
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 15 * time.Second
	}
	return c
}

// Backoff: base * 2^(attempt-1), attempt считается с 1.
func Backoff(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return base << (attempt - 1)
}
