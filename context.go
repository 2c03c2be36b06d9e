package b23bot

import (
	"context"
	"log/slog"
	"net/http"
	"runtime"
	"sync"
	"time"
)

var processStart = time.Now()

// Link is the part of the connection plugins can reach. *Client
// implements it.
type Link interface {
	Sender
	Call(ctx context.Context, action string, params Params) (*Response, error)
	Connected() bool
	Groups() []GroupInfo
}

// Status is a snapshot of the running framework.
type Status struct {
	Uptime    time.Duration
	HeapInUse uint64
	Plugins   PluginStatus
	Groups    int
	Connected bool
}

// Context is what a plugin receives in Setup. It exposes a fixed set of
// capabilities and records every handler the plugin registers, so the
// registry can retract them when the plugin is disabled or reloaded.
type Context struct {
	plugin string
	reg    *Registry
	logger *slog.Logger

	mu     sync.Mutex
	subs   []Subscription
	closed bool
}

func newContext(reg *Registry, plugin string) *Context {
	return &Context{
		plugin: plugin,
		reg:    reg,
		logger: reg.logger.With("plugin", plugin),
	}
}

// Name is the plugin's name.
func (c *Context) Name() string { return c.plugin }

// Logger returns a logger tagged with the plugin name.
func (c *Context) Logger() *slog.Logger { return c.logger }

// Handle subscribes fn to event. Handles registered after the plugin was
// unloaded are ignored.
func (c *Context) Handle(event string, fn HandlerFunc) Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		c.logger.Warn("subscribe after unload ignored", "event", event)
		return Subscription{Event: event}
	}
	sub := c.reg.router.subscribe(c.plugin, event, fn)
	c.subs = append(c.subs, sub)
	return sub
}

// OnMessage subscribes fn to every message event.
func (c *Context) OnMessage(fn func(ctx context.Context, e *ExtendedMessageEvent) error) Subscription {
	return c.Handle("message", func(ctx context.Context, ev Event) error {
		e, ok := ev.(*ExtendedMessageEvent)
		if !ok {
			return nil
		}
		return fn(ctx, e)
	})
}

// OnRequest subscribes fn to friend and group requests.
func (c *Context) OnRequest(fn func(ctx context.Context, e *RequestEvent) error) Subscription {
	return c.Handle("request", func(ctx context.Context, ev Event) error {
		e, ok := ev.(*RequestEvent)
		if !ok {
			return nil
		}
		return fn(ctx, e)
	})
}

// retract unsubscribes every recorded handler and closes the context.
func (c *Context) retract() int {
	c.mu.Lock()
	subs := c.subs
	c.subs = nil
	c.closed = true
	c.mu.Unlock()

	n := 0
	for _, sub := range subs {
		if c.reg.router.Unsubscribe(sub) {
			n++
		}
	}
	return n
}

// Subscriptions returns the handles registered so far.
func (c *Context) Subscriptions() []Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Subscription, len(c.subs))
	copy(out, c.subs)
	return out
}

// HTTP returns the shared client for outbound requests.
func (c *Context) HTTP() *http.Client { return c.reg.http }

// IsRoot reports whether id is a root user.
func (c *Context) IsRoot(id int64) bool { return c.reg.store.IsRoot(id) }

// IsAdmin reports whether id is an admin. Roots are admins.
func (c *Context) IsAdmin(id int64) bool { return c.reg.store.IsAdmin(id) }

// AddAdmin persists id as an admin. It reports false if id already was one.
func (c *Context) AddAdmin(id int64) (bool, error) { return c.reg.store.AddAdmin(id) }

// AddRoot persists id as a root. It reports false if id already was one.
func (c *Context) AddRoot(id int64) (bool, error) { return c.reg.store.AddRoot(id) }

// Text returns the plain text of a message.
func (c *Context) Text(e *MessageEvent) string { return e.Text() }

// Plugins gives access to plugin management.
func (c *Context) Plugins() PluginManager { return c.reg }

// Status reports uptime, memory, plugins and connection state.
func (c *Context) Status() Status {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	st := Status{
		Uptime:    time.Since(processStart),
		HeapInUse: ms.HeapInuse,
		Plugins:   c.reg.Status(),
	}
	if c.reg.link != nil {
		st.Groups = len(c.reg.link.Groups())
		st.Connected = c.reg.link.Connected()
	}
	return st
}

// Send writes an action without waiting for its reply.
func (c *Context) Send(ctx context.Context, action string, params Params) (string, error) {
	if c.reg.link == nil {
		return "", ErrNotConnected
	}
	return c.reg.link.Send(ctx, action, params)
}

// Call writes an action and waits for its reply. Handlers run on the
// connection's read goroutine, so call it from a separate goroutine there.
func (c *Context) Call(ctx context.Context, action string, params Params) (*Response, error) {
	if c.reg.link == nil {
		return nil, ErrNotConnected
	}
	return c.reg.link.Call(ctx, action, params)
}
