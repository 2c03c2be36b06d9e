package b23bot

import (
	"strconv"
	"strings"
	"sync"
	"time"
)

// pendingCall is the bookkeeping for one outbound action until its reply
// arrives or it expires.
type pendingCall struct {
	action  string
	target  int64
	text    string // rendered outgoing message, send actions only
	created time.Time
	reply   chan *Response // nil unless a caller awaits the reply
}

// pendingCalls maps echo tokens to outstanding actions.
type pendingCalls struct {
	ttl time.Duration

	mu        sync.Mutex
	calls     map[string]*pendingCall
	lastStamp int64
}

func newPendingCalls(ttl time.Duration) *pendingCalls {
	return &pendingCalls{
		ttl:   ttl,
		calls: make(map[string]*pendingCall),
	}
}

// token composes "<action>_<ms>_<target>". The millisecond stamp is strictly
// increasing per client so two sends in the same millisecond differ.
func (p *pendingCalls) token(action string, target int64, now time.Time) string {
	p.mu.Lock()
	stamp := now.UnixMilli()
	if stamp <= p.lastStamp {
		stamp = p.lastStamp + 1
	}
	p.lastStamp = stamp
	p.mu.Unlock()

	return action + "_" + strconv.FormatInt(stamp, 10) + "_" + strconv.FormatInt(target, 10)
}

// add records a call and drops fire-and-log entries older than ttl.
func (p *pendingCalls) add(token string, call *pendingCall) {
	p.mu.Lock()
	defer p.mu.Unlock()

	cutoff := call.created.Add(-p.ttl)
	for tok, c := range p.calls {
		if c.reply == nil && c.created.Before(cutoff) {
			delete(p.calls, tok)
		}
	}
	p.calls[token] = call
}

// take removes and returns the call for token.
func (p *pendingCalls) take(token string) (*pendingCall, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.calls[token]
	if ok {
		delete(p.calls, token)
	}
	return c, ok
}

func (p *pendingCalls) remove(token string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.calls, token)
}

// failAll drops every call; awaiting callers see their channel closed.
func (p *pendingCalls) failAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for tok, c := range p.calls {
		if c.reply != nil {
			close(c.reply)
		}
		delete(p.calls, tok)
	}
}

func (p *pendingCalls) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

// parseToken splits a token built by token. Action names contain
// underscores, so the numeric parts are taken from the right.
func parseToken(token string) (action string, stamp, target int64, ok bool) {
	i := strings.LastIndexByte(token, '_')
	if i <= 0 {
		return "", 0, 0, false
	}
	j := strings.LastIndexByte(token[:i], '_')
	if j <= 0 {
		return "", 0, 0, false
	}
	stamp, err := strconv.ParseInt(token[j+1:i], 10, 64)
	if err != nil {
		return "", 0, 0, false
	}
	target, err = strconv.ParseInt(token[i+1:], 10, 64)
	if err != nil {
		return "", 0, 0, false
	}
	return token[:j], stamp, target, true
}
