package b23bot

import (
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Sentinel errors for client and registry state.
var (
	ErrNotConnected       = errors.New("client is not connected")
	ErrAlreadyConnected   = errors.New("client is already connected")
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
	ErrCallTimeout        = errors.New("timed out waiting for reply")

	ErrAlreadyEnabled   = errors.New("plugin is already enabled")
	ErrNotEnabled       = errors.New("plugin is not enabled")
	ErrPluginNotFound   = errors.New("plugin not found")
	ErrPermissionDenied = errors.New("permission denied")
)

// ConnectionError represents a failure to reach or hold the gateway link.
type ConnectionError struct {
	URL    string
	Reason string
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection error [%s]: %s", e.URL, e.Reason)
}

// ActionError is a non-ok gateway reply to an awaited action.
type ActionError struct {
	Action  string
	Status  string
	Retcode int64
	Message string
}

func (e *ActionError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("action %s failed [%s/%d]: %s", e.Action, e.Status, e.Retcode, e.Message)
	}
	return fmt.Sprintf("action %s failed [%s/%d]", e.Action, e.Status, e.Retcode)
}

// PluginError describes why a single plugin could not be loaded.
type PluginError struct {
	Plugin string
	Reason string
	Cause  error
}

func (e *PluginError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("plugin %s: %s: %v", e.Plugin, e.Reason, e.Cause)
	}
	return fmt.Sprintf("plugin %s: %s", e.Plugin, e.Reason)
}

func (e *PluginError) Unwrap() error {
	return e.Cause
}

// ErrorKind classifies errors that cannot be returned to a caller.
type ErrorKind int

const (
	ErrDecodeFailure      ErrorKind = iota // inbound frame couldn't be decoded
	ErrHandlerFailure                      // handler returned an error
	ErrHandlerPanic                        // handler panicked
	ErrPluginLoad                          // plugin failed to load
	ErrActionRejected                      // gateway replied with a non-ok status
	ErrReconnectGivenUp                    // reconnect cap reached
	ErrTransportWrite                      // failed to write to connection
)

var errorKindNames = [...]string{
	ErrDecodeFailure:    "ErrDecodeFailure",
	ErrHandlerFailure:   "ErrHandlerFailure",
	ErrHandlerPanic:     "ErrHandlerPanic",
	ErrPluginLoad:       "ErrPluginLoad",
	ErrActionRejected:   "ErrActionRejected",
	ErrReconnectGivenUp: "ErrReconnectGivenUp",
	ErrTransportWrite:   "ErrTransportWrite",
}

func (k ErrorKind) String() string {
	if int(k) >= 0 && int(k) < len(errorKindNames) {
		return errorKindNames[k]
	}
	return fmt.Sprintf("ErrorKind(%d)", k)
}

// BotError is an error the bot could not deliver to a direct caller.
// These are routed to the ErrorHandler.
type BotError struct {
	Kind      ErrorKind
	Event     string // event name or action, if known
	Plugin    string // plugin name, if known
	Cause     error
	Raw       []byte // raw frame (for decode failures)
	Timestamp time.Time
}

func (e *BotError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v (event=%s plugin=%s)", e.Kind, e.Cause, e.Event, e.Plugin)
	}
	return fmt.Sprintf("%s (event=%s plugin=%s)", e.Kind, e.Event, e.Plugin)
}

func (e *BotError) Unwrap() error {
	return e.Cause
}

// ErrorHandler receives every error that cannot be returned to a caller.
type ErrorHandler func(BotError)

// LogErrors returns an ErrorHandler that logs every error at error level.
func LogErrors(logger *slog.Logger) ErrorHandler {
	return func(e BotError) {
		attrs := []any{"kind", e.Kind.String()}
		if e.Event != "" {
			attrs = append(attrs, "event", e.Event)
		}
		if e.Plugin != "" {
			attrs = append(attrs, "plugin", e.Plugin)
		}
		if e.Cause != nil {
			attrs = append(attrs, "error", e.Cause)
		}
		if len(e.Raw) > 0 {
			attrs = append(attrs, "raw_len", len(e.Raw))
		}
		logger.Error("unhandled bot error", attrs...)
	}
}
