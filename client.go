package b23bot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ConnectionState is the state of the gateway link.
type ConnectionState int32

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateFailed // reconnect attempts exhausted; only Connect leaves it
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// GroupInfo is a cached snapshot of one group.
type GroupInfo struct {
	GroupID        int64  `json:"group_id"`
	GroupName      string `json:"group_name"`
	MemberCount    int    `json:"member_count"`
	MaxMemberCount int    `json:"max_member_count"`
}

// Identity is the account the gateway is logged in as.
type Identity struct {
	UserID   int64  `json:"user_id"`
	Nickname string `json:"nickname"`
}

// FrameSink receives event frames (message, notice, request).
// *Router implements it.
type FrameSink interface {
	HandleFrame(ctx context.Context, postType string, data []byte)
}

type outboundFrame struct {
	Action string `json:"action"`
	Params Params `json:"params"`
	Echo   string `json:"echo"`
}

const onlineNotice = "🤖 b23Bot已上线"

// Client owns the single gateway connection: connection state, reconnect
// policy, outbound framing and echo-token bookkeeping.
//
// Inbound frames are handled on the connection's read goroutine one at a
// time, in arrival order. Every handler subscribed to a frame finishes
// before the next frame is read, so a slow handler delays all later
// frames.
type Client struct {
	cfg     Config
	opts    options
	logger  *slog.Logger
	metrics *Metrics

	mu        sync.Mutex
	state     ConnectionState
	transport transport
	connGen   uint64 // reconnect generation that opened transport

	cacheMu sync.RWMutex
	groups  map[int64]GroupInfo
	self    *Identity

	pending   *pendingCalls
	reconnect *reconnector
	limiter   *rate.Limiter

	sink      FrameSink
	roots     func() []int64
	readyFns  []func(ctx context.Context)
	failedFns []func(error)
}

// NewClient creates a client. It is not connected until Connect is called.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	resolved, err := resolveConfig(cfg)
	if err != nil {
		return nil, err
	}
	o := buildOptions(opts)

	return &Client{
		cfg:       resolved,
		opts:      o,
		logger:    o.logger.With("component", "client"),
		metrics:   o.metrics,
		groups:    make(map[int64]GroupInfo),
		pending:   newPendingCalls(resolved.RequestTimeout * 6),
		reconnect: newReconnector(resolved.ReconnectDelay, resolved.MaxReconnectAttempts),
		limiter:   rate.NewLimiter(rate.Limit(resolved.SendRate), resolved.SendBurst),
		roots:     func() []int64 { return nil },
	}, nil
}

// SetFrameSink sets where event frames are forwarded. Call before Connect.
func (c *Client) SetFrameSink(s FrameSink) {
	c.sink = s
}

// SetRoots sets the source of root identities notified on bootstrap.
func (c *Client) SetRoots(fn func() []int64) {
	c.roots = fn
}

// OnReady registers a hook run at the end of every successful bootstrap.
func (c *Client) OnReady(fn func(ctx context.Context)) {
	c.readyFns = append(c.readyFns, fn)
}

// OnFailed registers a hook run when reconnect attempts are exhausted.
func (c *Client) OnFailed(fn func(error)) {
	c.failedFns = append(c.failedFns, fn)
}

// State returns the current connection state.
func (c *Client) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connected reports whether the client can send.
func (c *Client) Connected() bool {
	return c.State() == StateConnected
}

func (c *Client) setStateLocked(s ConnectionState) {
	if c.state != s {
		c.logger.Debug("state change", "from", c.state.String(), "to", s.String())
	}
	c.state = s
	c.metrics.setState(s)
}

// Connect opens the connection and runs the session bootstrap: login info,
// group list, root notification, then the OnReady hooks. It is allowed from
// Disconnected or Failed. A failed bootstrap leaves the client Disconnected
// with no reconnect scheduled.
func (c *Client) Connect(ctx context.Context) error {
	return c.connect(ctx, 0, false)
}

// connect dials and bootstraps. Retries pass the reconnect generation they
// were scheduled in; an explicit connect opens a new one.
func (c *Client) connect(ctx context.Context, gen uint64, isRetry bool) error {
	c.mu.Lock()
	if isRetry {
		if !c.reconnect.current(gen) {
			c.mu.Unlock()
			return ErrNotConnected
		}
	} else {
		if c.state != StateDisconnected && c.state != StateFailed {
			c.mu.Unlock()
			return ErrAlreadyConnected
		}
		gen = c.reconnect.restart()
		c.setStateLocked(StateConnecting)
	}
	c.mu.Unlock()

	t := c.opts.newTransport(c.cfg)
	t.setFrameHandler(c.handleFrame)
	t.onDisconnect(func(err error) { c.handleLost(t, err) })

	if err := t.dial(ctx); err != nil {
		if !isRetry {
			c.mu.Lock()
			if c.reconnect.generation() == gen {
				c.setStateLocked(StateDisconnected)
			}
			c.mu.Unlock()
		}
		return err
	}

	c.mu.Lock()
	if !c.reconnect.current(gen) {
		c.mu.Unlock()
		t.close()
		return ErrNotConnected
	}
	c.transport = t
	c.connGen = gen
	c.setStateLocked(StateConnected)
	c.mu.Unlock()

	c.logger.Info("connected to gateway", "url", c.cfg.URL)

	if err := c.bootstrap(ctx); err != nil {
		if isRetry {
			c.drop(t)
		} else {
			c.abandon(t, gen)
		}
		return fmt.Errorf("bootstrap: %w", err)
	}
	return nil
}

// drop closes t deliberately, without triggering reconnect.
func (c *Client) drop(t transport) {
	c.mu.Lock()
	owned := c.transport == t
	if owned {
		c.transport = nil
		c.setStateLocked(StateReconnecting)
	}
	c.mu.Unlock()
	t.close()
	if owned {
		c.pending.failAll()
	}
}

// abandon tears down an explicit connect whose bootstrap failed, together
// with any retry a loss during bootstrap has already armed.
func (c *Client) abandon(t transport, gen uint64) {
	c.mu.Lock()
	var cur transport
	owned := c.reconnect.generation() == gen
	if owned {
		c.reconnect.stop()
		cur = c.transport
		c.transport = nil
		c.setStateLocked(StateDisconnected)
	}
	c.mu.Unlock()

	t.close()
	if cur != nil && cur != t {
		cur.close()
	}
	if owned {
		c.pending.failAll()
	}
}

func (c *Client) bootstrap(ctx context.Context) error {
	loginCtx, cancel := context.WithTimeout(ctx, c.cfg.SettleDelay)
	_, err := c.Call(loginCtx, "get_login_info", Params{})
	cancel()
	if err != nil {
		return fmt.Errorf("get login info: %w", err)
	}
	self, ok := c.Self()
	if !ok {
		return errors.New("login info not resolved")
	}
	c.logger.Info("welcome", "nickname", self.Nickname, "user_id", self.UserID)

	groupCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	_, err = c.Call(groupCtx, "get_group_list", Params{"no_cache": false})
	cancel()
	if err != nil {
		return fmt.Errorf("get group list: %w", err)
	}

	for _, root := range c.roots() {
		_, err := c.Send(ctx, "send_private_msg", Params{
			"user_id": root,
			"message": []Segment{Text(onlineNotice)},
		})
		if err != nil {
			c.logger.Warn("notify root failed", "user_id", root, "error", err)
		}
	}

	for _, fn := range c.readyFns {
		fn(ctx)
	}
	return nil
}

// Disconnect closes the connection on purpose. No reconnect is scheduled,
// a pending reconnect timer is cancelled and a retry already dialing is
// discarded.
func (c *Client) Disconnect() error {
	c.reconnect.stop()

	c.mu.Lock()
	t := c.transport
	c.transport = nil
	c.setStateLocked(StateDisconnected)
	c.mu.Unlock()

	c.pending.failAll()
	if t != nil {
		c.logger.Info("disconnected")
		return t.close()
	}
	return nil
}

// handleLost runs when t closed without Disconnect.
func (c *Client) handleLost(t transport, err error) {
	c.mu.Lock()
	if c.transport != t {
		c.mu.Unlock()
		return
	}
	gen := c.connGen
	c.transport = nil
	c.setStateLocked(StateReconnecting)
	c.mu.Unlock()

	c.pending.failAll()
	c.logger.Warn("connection lost", "error", err)
	c.handleFailure(gen, err)
}

func (c *Client) handleFailure(gen uint64, cause error) {
	attempt, delay, outcome := c.reconnect.failure(gen, c.retry)
	switch outcome {
	case reconnectScheduled:
		c.metrics.reconnectScheduled()
		c.logger.Info("reconnecting",
			"attempt", attempt,
			"max_attempts", c.cfg.MaxReconnectAttempts,
			"delay", delay)
	case reconnectExhausted:
		c.mu.Lock()
		if c.reconnect.generation() == gen {
			c.setStateLocked(StateFailed)
		}
		c.mu.Unlock()

		err := fmt.Errorf("%w after %d attempts: %w", ErrReconnectExhausted, attempt, cause)
		c.logger.Error("giving up reconnecting", "attempts", attempt)
		c.opts.onError(BotError{
			Kind:      ErrReconnectGivenUp,
			Cause:     err,
			Timestamp: time.Now(),
		})
		for _, fn := range c.failedFns {
			fn(err)
		}
	}
}

func (c *Client) retry(gen uint64) {
	err := c.connect(context.Background(), gen, true)
	lostAgain, current := c.reconnect.settle(gen, err == nil)
	switch {
	case !current:
		c.logger.Debug("stale reconnect discarded")
	case err != nil:
		c.logger.Warn("reconnect failed", "attempt", c.reconnect.attemptCount(), "error", err)
		c.handleFailure(gen, err)
	case lostAgain:
		c.handleFailure(gen, &ConnectionError{URL: c.cfg.URL, Reason: "lost right after reconnect"})
	default:
		c.logger.Info("reconnected")
	}
}

// Send writes an action and returns its echo token without waiting for the
// reply. The reply, when it arrives, is only logged.
func (c *Client) Send(ctx context.Context, action string, params Params) (string, error) {
	return c.write(ctx, action, params, nil)
}

// Call writes an action and waits for the correlated reply. Without a
// deadline on ctx it waits at most RequestTimeout.
//
// Replies are read on the goroutine that runs event handlers, so a handler
// that calls Call directly blocks its own reply until the timeout. Run it
// from a separate goroutine instead.
func (c *Client) Call(ctx context.Context, action string, params Params) (*Response, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.RequestTimeout)
		defer cancel()
	}

	reply := make(chan *Response, 1)
	token, err := c.write(ctx, action, params, reply)
	if err != nil {
		return nil, err
	}

	select {
	case r, ok := <-reply:
		if !ok {
			return nil, ErrNotConnected
		}
		if !r.OK() {
			return r, &ActionError{Action: action, Status: r.Status, Retcode: r.Retcode, Message: r.Message}
		}
		return r, nil
	case <-ctx.Done():
		c.pending.remove(token)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%s: %w", action, ErrCallTimeout)
		}
		return nil, ctx.Err()
	}
}

func (c *Client) write(ctx context.Context, action string, params Params, reply chan *Response) (string, error) {
	c.mu.Lock()
	t := c.transport
	ready := c.state == StateConnected && t != nil
	c.mu.Unlock()
	if !ready {
		return "", ErrNotConnected
	}

	if params == nil {
		params = Params{}
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("%s: %w", action, err)
	}

	now := time.Now()
	target := targetID(params)
	token := c.pending.token(action, target, now)
	call := &pendingCall{
		action:  action,
		target:  target,
		created: now,
		reply:   reply,
	}
	if isSendMessage(action) {
		call.text = RenderSegments(messageSegments(params["message"]))
	}

	data, err := json.Marshal(outboundFrame{Action: action, Params: params, Echo: token})
	if err != nil {
		return "", fmt.Errorf("encode %s: %w", action, err)
	}

	c.pending.add(token, call)
	if err := t.write(data); err != nil {
		c.pending.remove(token)
		c.metrics.actionFailed(action)
		c.opts.onError(BotError{Kind: ErrTransportWrite, Event: action, Cause: err, Timestamp: now})
		return "", fmt.Errorf("write %s: %w", action, err)
	}
	c.metrics.actionSent(action)
	return token, nil
}

func isSendMessage(action string) bool {
	return strings.HasPrefix(action, "send_") && strings.HasSuffix(action, "_msg")
}

func messageSegments(v any) []Segment {
	switch m := v.(type) {
	case []Segment:
		return m
	case Segments:
		return m
	case Segment:
		return []Segment{m}
	case string:
		return []Segment{Text(m)}
	default:
		return nil
	}
}

// handleFrame classifies one inbound frame: replies first, then meta
// events (discarded), then events for the sink.
func (c *Client) handleFrame(data []byte) {
	f, err := parseFrame(data)
	if err != nil {
		c.metrics.frameDropped()
		c.opts.onError(BotError{
			Kind:      ErrDecodeFailure,
			Cause:     err,
			Raw:       data,
			Timestamp: time.Now(),
		})
		return
	}

	if f.isResponse() {
		c.metrics.frameReceived("response")
		c.handleResponse(f.response())
		return
	}

	switch f.PostType {
	case "meta_event":
		c.metrics.frameReceived("meta_event")
	case "message", "notice", "request":
		c.metrics.frameReceived(f.PostType)
		if c.sink != nil {
			c.sink.HandleFrame(context.Background(), f.PostType, data)
		}
	default:
		c.metrics.frameReceived("unknown")
		c.logger.Debug("unrecognised frame", "post_type", f.PostType)
	}
}

func (c *Client) handleResponse(r *Response) {
	call, tracked := c.pending.take(r.Echo)

	var (
		action string
		target int64
	)
	if tracked {
		action, target = call.action, call.target
	} else if a, _, tg, ok := parseToken(r.Echo); ok {
		action, target = a, tg
	} else {
		action = r.Echo
	}

	awaited := tracked && call.reply != nil
	if !r.OK() {
		c.metrics.actionFailed(action)
		if !awaited {
			c.opts.onError(BotError{
				Kind:      ErrActionRejected,
				Event:     action,
				Cause:     &ActionError{Action: action, Status: r.Status, Retcode: r.Retcode, Message: r.Message},
				Timestamp: time.Now(),
			})
		}
	} else {
		switch action {
		case "get_login_info":
			c.setSelf(r.Data)
		case "get_group_list":
			c.replaceGroups(r.Data)
		case "send_group_msg", "send_private_msg":
			kind := "group"
			if action == "send_private_msg" {
				kind = "private"
			}
			text := ""
			if tracked {
				text = call.text
			}
			c.logger.Info("send ok", "target", kind, "target_id", target, "text", text)
		default:
			if !tracked {
				c.logger.Debug("reply for unknown echo", "echo", r.Echo)
			}
		}
	}

	if awaited {
		call.reply <- r
	}
}

func (c *Client) setSelf(data json.RawMessage) {
	var id Identity
	if err := json.Unmarshal(data, &id); err != nil || id.UserID == 0 {
		c.logger.Warn("malformed login info", "error", err)
		return
	}
	c.cacheMu.Lock()
	c.self = &id
	c.cacheMu.Unlock()
}

func (c *Client) replaceGroups(data json.RawMessage) {
	var list []GroupInfo
	if err := json.Unmarshal(data, &list); err != nil {
		c.logger.Warn("malformed group list", "error", err)
		return
	}
	groups := make(map[int64]GroupInfo, len(list))
	for _, g := range list {
		groups[g.GroupID] = g
	}
	c.cacheMu.Lock()
	c.groups = groups
	c.cacheMu.Unlock()
	c.logger.Info("groups loaded", "count", len(groups))
}

// Self returns the logged-in identity once bootstrap resolved it.
func (c *Client) Self() (Identity, bool) {
	c.cacheMu.RLock()
	defer c.cacheMu.RUnlock()
	if c.self == nil {
		return Identity{}, false
	}
	return *c.self, true
}

// Group looks up a cached group.
func (c *Client) Group(id int64) (GroupInfo, bool) {
	c.cacheMu.RLock()
	defer c.cacheMu.RUnlock()
	g, ok := c.groups[id]
	return g, ok
}

// Groups returns the cached groups sorted by id.
func (c *Client) Groups() []GroupInfo {
	c.cacheMu.RLock()
	out := make([]GroupInfo, 0, len(c.groups))
	for _, g := range c.groups {
		out = append(out, g)
	}
	c.cacheMu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].GroupID < out[j].GroupID })
	return out
}
