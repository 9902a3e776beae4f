// Package limiter throttles mutating actions per chat user. Read-only
// actions are exempt so browsing never collides with the throttle.
package limiter

import (
	"sync"
	"time"
)

// Class labels what an inbound action does to backend state.
type Class int

const (
	// ClassMutating submits or changes something and is throttled.
	ClassMutating Class = iota
	// ClassReadOnly browses and is never throttled.
	ClassReadOnly
)

// Limiter enforces a minimum interval between accepted mutating actions per
// user handle. The check and the timestamp update happen under one lock, so
// two near-simultaneous submissions can never both pass.
type Limiter struct {
	window time.Duration
	now    func() time.Time

	mu   sync.Mutex
	last map[string]time.Time
}

// New creates a Limiter with the given minimum interval.
func New(window time.Duration) *Limiter {
	return &Limiter{
		window: window,
		now:    time.Now,
		last:   make(map[string]time.Time),
	}
}

// Allow reports whether the action may proceed. A permitted mutating action
// consumes the window; a denied one leaves the previous timestamp intact.
func (l *Limiter) Allow(userHandle string, class Class) bool {
	if class == ClassReadOnly {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if prev, ok := l.last[userHandle]; ok && now.Sub(prev) < l.window {
		return false
	}
	l.last[userHandle] = now
	return true
}

// Remaining returns how long the user must still wait before the next
// mutating action, zero when none.
func (l *Limiter) Remaining(userHandle string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	prev, ok := l.last[userHandle]
	if !ok {
		return 0
	}
	if rem := l.window - l.now().Sub(prev); rem > 0 {
		return rem
	}
	return 0
}

// Prune drops entries idle longer than age. Run periodically so the map does
// not grow with every user ever seen.
func (l *Limiter) Prune(age time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-age)
	n := 0
	for k, v := range l.last {
		if v.Before(cutoff) {
			delete(l.last, k)
			n++
		}
	}
	return n
}
