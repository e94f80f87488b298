package rpc

import "time"

type Config struct {
	// ListenIP / ListenPort for the HTTP server
	ListenIP   string
	ListenPort string

	// RateWindow and RateLimit bound requests per client: at most
	// RateLimit calls inside any RateWindow, excess rejected immediately
	RateWindow time.Duration
	RateLimit  int

	// KeepAliveInterval paces websocket pings; peers missing two in a
	// row are dropped
	KeepAliveInterval time.Duration

	// WriteTimeout bounds individual websocket writes
	WriteTimeout time.Duration
}

func DefaultConfig() *Config {
	return &Config{
		ListenIP:          "0.0.0.0",
		ListenPort:        "8080",
		RateWindow:        time.Minute,
		RateLimit:         120,
		KeepAliveInterval: 30 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}
