package b23bot

import (
	"sync"
	"time"
)

type reconnectOutcome int

const (
	reconnectScheduled reconnectOutcome = iota // a retry timer was armed
	reconnectExhausted                         // the attempt cap was exceeded
	reconnectIgnored                           // stopped, or a retry is already in flight
)

// reconnector counts failures since the last successful connect and arms
// at most one retry at a time. Attempt n waits n*base.
//
// Every stop and restart opens a new generation. A retry carries the
// generation it was scheduled in and is void once that generation ends.
type reconnector struct {
	base time.Duration
	max  int

	mu       sync.Mutex
	gen      uint64
	attempts int
	inFlight bool
	lost     bool // connection dropped while a retry was in flight
	stopped  bool
	timer    *time.Timer
}

func newReconnector(base time.Duration, max int) *reconnector {
	return &reconnector{base: base, max: max}
}

// failure records a lost connection or failed retry of generation gen and,
// if allowed, schedules retry after the linear delay.
func (r *reconnector) failure(gen uint64, retry func(gen uint64)) (int, time.Duration, reconnectOutcome) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped || gen != r.gen {
		return r.attempts, 0, reconnectIgnored
	}
	if r.inFlight {
		r.lost = true
		return r.attempts, 0, reconnectIgnored
	}

	r.attempts++
	if r.attempts > r.max {
		r.stopped = true
		return r.attempts - 1, 0, reconnectExhausted
	}

	delay := r.base * time.Duration(r.attempts)
	r.inFlight = true
	r.timer = time.AfterFunc(delay, func() { retry(gen) })
	return r.attempts, delay, reconnectScheduled
}

// settle marks the in-flight retry of generation gen as finished. A
// successful retry resets the attempt counter unless the new connection was
// already lost again, in which case settle reports that another failure
// must be recorded. current is false when gen has ended; the caller must
// then do nothing further.
func (r *reconnector) settle(gen uint64, ok bool) (lostAgain, current bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if gen != r.gen {
		return false, false
	}
	r.inFlight = false
	r.timer = nil
	lostAgain = r.lost
	r.lost = false
	if ok && !lostAgain {
		r.attempts = 0
	}
	return lostAgain, true
}

// stop cancels a scheduled retry, voids one already running and prevents
// new ones until restart.
func (r *reconnector) stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gen++
	r.stopped = true
	r.reset()
}

// restart re-arms the reconnector for an explicit connect and returns the
// new generation.
func (r *reconnector) restart() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gen++
	r.stopped = false
	r.attempts = 0
	r.reset()
	return r.gen
}

func (r *reconnector) reset() {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.inFlight = false
	r.lost = false
}

// current reports whether gen is live and not stopped.
func (r *reconnector) current(gen uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.stopped && gen == r.gen
}

func (r *reconnector) generation() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gen
}

func (r *reconnector) isStopped() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopped
}

func (r *reconnector) attemptCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempts
}
