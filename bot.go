package b23bot

import (
	"context"
	"log/slog"
)

// Bot wires a Client, a Router and a Registry over one ConfigStore.
type Bot struct {
	store    *ConfigStore
	client   *Client
	router   *Router
	registry *Registry
	logger   *slog.Logger

	failed chan error
}

// New builds a bot whose connection settings come from the store.
func New(store *ConfigStore, catalog *Catalog, opts ...Option) (*Bot, error) {
	return NewWithConfig(ConfigFromDocument(store.Snapshot()), store, catalog, opts...)
}

// NewWithConfig builds a bot with explicit connection settings.
func NewWithConfig(cfg Config, store *ConfigStore, catalog *Catalog, opts ...Option) (*Bot, error) {
	o := buildOptions(opts)
	// One set of collectors for every component.
	opts = append(opts[:len(opts):len(opts)], WithMetrics(o.metrics))

	client, err := NewClient(cfg, opts...)
	if err != nil {
		return nil, err
	}

	b := &Bot{
		store:  store,
		client: client,
		logger: o.logger.With("component", "bot"),
		failed: make(chan error, 1),
	}
	b.router = NewRouter(client, client, opts...)
	b.registry = NewRegistry(catalog, store, b.router, client, opts...)

	client.SetFrameSink(b.router)
	client.SetRoots(store.Roots)
	client.OnReady(func(ctx context.Context) {
		if err := b.registry.LoadAll(ctx, store.Plugins()); err != nil {
			b.logger.Warn("some plugins failed to load", "error", err)
		}
	})
	client.OnFailed(func(err error) {
		select {
		case b.failed <- err:
		default:
		}
	})
	return b, nil
}

// Client returns the connection.
func (b *Bot) Client() *Client { return b.client }

// Router returns the event router.
func (b *Bot) Router() *Router { return b.router }

// Registry returns the plugin registry.
func (b *Bot) Registry() *Registry { return b.registry }

// Store returns the configuration store.
func (b *Bot) Store() *ConfigStore { return b.store }

// Run connects and blocks until ctx is done or reconnecting gives up.
// Giving up returns an error wrapping ErrReconnectExhausted.
func (b *Bot) Run(ctx context.Context) error {
	if err := b.client.Connect(ctx); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		b.logger.Info("shutting down")
		return b.client.Disconnect()
	case err := <-b.failed:
		b.client.Disconnect()
		return err
	}
}
