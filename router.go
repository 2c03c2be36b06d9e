package b23bot

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

// HandlerFunc handles one event. A returned error is logged and reported;
// it never stops the other handlers for the same event.
type HandlerFunc func(ctx context.Context, ev Event) error

// Subscription identifies one registered handler.
type Subscription struct {
	ID    uuid.UUID
	Event string
}

// GroupLookup resolves cached group info. *Client implements it.
type GroupLookup interface {
	Group(id int64) (GroupInfo, bool)
}

type handlerEntry struct {
	id    uuid.UUID
	owner string // plugin name, "" for direct subscriptions
	fn    HandlerFunc
}

// Router decodes event frames and fans them out to subscribed handlers.
type Router struct {
	sender  Sender
	groups  GroupLookup
	logger  *slog.Logger
	metrics *Metrics
	onError ErrorHandler

	mu       sync.RWMutex
	handlers map[string][]handlerEntry // event name → handlers
}

// NewRouter creates a router that replies through sender and names groups
// from groups. Either may be nil in tests.
func NewRouter(sender Sender, groups GroupLookup, opts ...Option) *Router {
	o := buildOptions(opts)
	return &Router{
		sender:   sender,
		groups:   groups,
		logger:   o.logger.With("component", "router"),
		metrics:  o.metrics,
		onError:  o.onError,
		handlers: make(map[string][]handlerEntry),
	}
}

// Subscribe registers fn for event. Several handlers may share a name.
func (r *Router) Subscribe(event string, fn HandlerFunc) Subscription {
	return r.subscribe("", event, fn)
}

func (r *Router) subscribe(owner, event string, fn HandlerFunc) Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := uuid.New()
	r.handlers[event] = append(r.handlers[event], handlerEntry{id: id, owner: owner, fn: fn})
	return Subscription{ID: id, Event: event}
}

// Unsubscribe removes a handler. It reports whether it was registered.
func (r *Router) Unsubscribe(sub Subscription) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.handlers[sub.Event]
	for i, h := range list {
		if h.id == sub.ID {
			r.handlers[sub.Event] = append(list[:i:i], list[i+1:]...)
			if len(r.handlers[sub.Event]) == 0 {
				delete(r.handlers, sub.Event)
			}
			return true
		}
	}
	return false
}

// Count returns the number of handlers subscribed to event.
func (r *Router) Count(event string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers[event])
}

// Dispatch runs every handler subscribed to event, one after another.
// Handlers added or removed during dispatch take effect on the next event.
func (r *Router) Dispatch(ctx context.Context, event string, ev Event) {
	r.mu.RLock()
	list := make([]handlerEntry, len(r.handlers[event]))
	copy(list, r.handlers[event])
	r.mu.RUnlock()

	for _, h := range list {
		r.run(ctx, event, h, ev)
	}
}

func (r *Router) run(ctx context.Context, event string, h handlerEntry, ev Event) {
	defer func() {
		if p := recover(); p != nil {
			r.metrics.handlerFailed(event)
			r.onError(BotError{
				Kind:      ErrHandlerPanic,
				Event:     event,
				Plugin:    h.owner,
				Cause:     fmt.Errorf("panic: %v", p),
				Timestamp: time.Now(),
			})
		}
	}()

	if err := h.fn(ctx, ev); err != nil {
		r.metrics.handlerFailed(event)
		r.onError(BotError{
			Kind:      ErrHandlerFailure,
			Event:     event,
			Plugin:    h.owner,
			Cause:     err,
			Timestamp: time.Now(),
		})
	}
}

// HandleFrame decodes an event frame and dispatches it. Message frames go
// out under "message" and then "message.<type>" with the same augmented
// event; notices and requests under their post type and then
// "<post_type>.<kind>".
func (r *Router) HandleFrame(ctx context.Context, postType string, data []byte) {
	switch postType {
	case "message":
		e, err := decodeMessageEvent(data)
		if err != nil {
			r.decodeFailed(postType, data, err)
			return
		}
		r.logMessage(e)
		ext := augment(e, r.sender)
		r.Dispatch(ctx, "message", ext)
		r.Dispatch(ctx, "message."+e.MessageType, ext)

	case "notice":
		e, err := decodeNoticeEvent(data)
		if err != nil {
			r.decodeFailed(postType, data, err)
			return
		}
		r.Dispatch(ctx, "notice", e)
		if e.NoticeType != "" {
			r.Dispatch(ctx, "notice."+e.NoticeType, e)
		}

	case "request":
		e, err := decodeRequestEvent(data)
		if err != nil {
			r.decodeFailed(postType, data, err)
			return
		}
		e.sender = r.sender
		r.logger.Info("request", "type", e.RequestType, "user_id", e.UserID, "comment", e.Comment)
		r.Dispatch(ctx, "request", e)
		if e.RequestType != "" {
			r.Dispatch(ctx, "request."+e.RequestType, e)
		}
	}
}

func (r *Router) decodeFailed(postType string, data []byte, err error) {
	r.metrics.frameDropped()
	r.onError(BotError{
		Kind:      ErrDecodeFailure,
		Event:     postType,
		Cause:     err,
		Raw:       data,
		Timestamp: time.Now(),
	})
}

func (r *Router) logMessage(e *MessageEvent) {
	text := RenderSegments(e.Message)
	if e.IsGroup() {
		e.GroupName = strconv.FormatInt(e.GroupID, 10)
		if r.groups != nil {
			if g, ok := r.groups.Group(e.GroupID); ok {
				e.GroupName = g.GroupName
			}
		}
		r.logger.Info("message",
			"group", fmt.Sprintf("%s(%d)", e.GroupName, e.GroupID),
			"member", fmt.Sprintf("%s(%d)", e.Sender.DisplayName(), e.Sender.UserID),
			"text", text)
		return
	}
	r.logger.Info("message",
		"private", fmt.Sprintf("%s(%d)", e.Sender.Nickname, e.Sender.UserID),
		"text", text)
}
