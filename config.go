package b23bot

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"time"
)

const (
	defaultSettleDelay          = time.Second
	defaultReconnectDelay       = 5 * time.Second
	defaultMaxReconnectAttempts = 5
	defaultRequestTimeout       = 10 * time.Second
	defaultSendRate             = 5
	defaultSendBurst            = 10
)

// Config holds the runtime settings of a Client.
type Config struct {
	// URL is the WebSocket URL of the gateway.
	// Fallback: B23BOT_URL environment variable.
	URL string

	// AccessToken is sent as a bearer token on dial when set.
	// Fallback: B23BOT_ACCESS_TOKEN environment variable.
	AccessToken string

	// SettleDelay bounds the wait for the login-info reply during bootstrap.
	SettleDelay time.Duration

	// ReconnectDelay is the base delay; attempt n waits n*ReconnectDelay.
	ReconnectDelay time.Duration

	// MaxReconnectAttempts caps automatic retries after an unexpected close.
	MaxReconnectAttempts int

	// RequestTimeout bounds Call and the group-list bootstrap step.
	RequestTimeout time.Duration

	// SendRate and SendBurst throttle outbound actions (actions per second).
	SendRate  float64
	SendBurst int
}

// ConfigFromDocument derives runtime settings from the persisted document.
func ConfigFromDocument(doc Document) Config {
	cfg := Config{AccessToken: doc.AccessToken}
	if doc.Host != "" {
		cfg.URL = "ws://" + net.JoinHostPort(doc.Host, strconv.Itoa(doc.Port))
	}
	return cfg
}

// resolveConfig fills empty fields from environment variables and defaults,
// then validates.
func resolveConfig(cfg Config) (Config, error) {
	if cfg.URL == "" {
		cfg.URL = os.Getenv("B23BOT_URL")
	}
	if cfg.AccessToken == "" {
		cfg.AccessToken = os.Getenv("B23BOT_ACCESS_TOKEN")
	}

	if cfg.URL == "" {
		return cfg, fmt.Errorf("URL is required (set host/port in config or B23BOT_URL env)")
	}
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return cfg, fmt.Errorf("parse URL: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return cfg, fmt.Errorf("URL scheme must be ws or wss, got %q", u.Scheme)
	}

	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = defaultSettleDelay
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = defaultReconnectDelay
	}
	if cfg.MaxReconnectAttempts < 0 {
		return cfg, fmt.Errorf("MaxReconnectAttempts must not be negative")
	}
	if cfg.MaxReconnectAttempts == 0 {
		cfg.MaxReconnectAttempts = defaultMaxReconnectAttempts
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.SendRate <= 0 {
		cfg.SendRate = defaultSendRate
	}
	if cfg.SendBurst <= 0 {
		cfg.SendBurst = defaultSendBurst
	}

	return cfg, nil
}
