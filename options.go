package b23bot

import (
	"log/slog"
	"net/http"
	"time"
)

// Option configures a Client, Router, Registry or Bot.
type Option func(*options)

type options struct {
	logger       *slog.Logger
	onError      ErrorHandler
	metrics      *Metrics
	httpClient   *http.Client
	newTransport func(Config) transport
}

func defaultOptions() options {
	return options{}
}

func buildOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.onError == nil {
		o.onError = LogErrors(o.logger)
	}
	if o.metrics == nil {
		// A fresh registry cannot hold conflicting collectors.
		o.metrics, _ = NewMetrics(nil)
	}
	if o.httpClient == nil {
		o.httpClient = newPluginHTTPClient()
	}
	if o.newTransport == nil {
		o.newTransport = func(cfg Config) transport {
			return newWebsocketTransport(cfg.URL, cfg.AccessToken)
		}
	}
	return o
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithErrorHandler routes errors that cannot be returned to a caller.
// Without it they are logged via LogErrors.
func WithErrorHandler(fn ErrorHandler) Option {
	return func(o *options) {
		o.onError = fn
	}
}

// WithMetrics records Prometheus metrics into m. Without it each component
// records into its own private registry.
func WithMetrics(m *Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithHTTPClient replaces the client handed to plugins for outbound calls.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		o.httpClient = c
	}
}

func withTransport(fn func(Config) transport) Option {
	return func(o *options) {
		o.newTransport = fn
	}
}

type userAgentTransport struct {
	base http.RoundTripper
	ua   string
}

func (t userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", t.ua)
	}
	return t.base.RoundTrip(req)
}

func newPluginHTTPClient() *http.Client {
	return &http.Client{
		Timeout:   10 * time.Second,
		Transport: userAgentTransport{base: http.DefaultTransport, ua: "b23Bot/1.0.0"},
	}
}
