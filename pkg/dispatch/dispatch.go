// Package dispatch is the admission layer in front of the conversation
// engine: it throttles mutating actions and serializes event processing per
// user handle so concurrent deliveries never interleave state mutation.
package dispatch

import (
	"context"
	"sync"

	"paybot/pkg/chat"
	"paybot/pkg/flow"
	"paybot/pkg/limiter"
	"paybot/pkg/logx"
)

// Engine is the downstream event handler.
type Engine interface {
	HandleEvent(ctx context.Context, ev chat.Event) (chat.Action, error)
}

// ThrottledText is what a throttled user sees.
const ThrottledText = "Too fast. Please wait a few seconds and try again."

// Observer is notified when an event is throttled. Nil-safe.
type Observer func()

// Dispatcher funnels inbound chat events into the engine, one at a time per
// user handle. Different users proceed in parallel.
type Dispatcher struct {
	engine  Engine
	limiter *limiter.Limiter
	logger  *logx.Logger
	observe Observer

	mu    sync.Mutex
	locks map[string]*userLock
}

// userLock is reference-counted so idle entries can be dropped instead of
// accumulating one mutex per user ever seen.
type userLock struct {
	mu   sync.Mutex
	refs int
}

// New builds a Dispatcher over the given engine and limiter.
func New(engine Engine, lim *limiter.Limiter) *Dispatcher {
	return &Dispatcher{
		engine:  engine,
		limiter: lim,
		logger:  logx.NewLogger("dispatch"),
		locks:   make(map[string]*userLock),
	}
}

// SetObserver installs a throttle metrics hook.
func (d *Dispatcher) SetObserver(o Observer) { d.observe = o }

// Dispatch admits and processes one inbound event. The limiter runs before
// the per-user lock: its compare-and-update is atomic, so of two concurrent
// submissions at most one proceeds to the engine.
func (d *Dispatcher) Dispatch(ctx context.Context, ev chat.Event) (chat.Action, error) {
	if !d.limiter.Allow(ev.UserHandle, flow.Classify(ev)) {
		if d.observe != nil {
			d.observe()
		}
		d.logger.Debug("throttled %s", ev.UserHandle)
		return chat.Send(ThrottledText), nil
	}

	lock := d.acquire(ev.UserHandle)
	lock.mu.Lock()
	defer func() {
		lock.mu.Unlock()
		d.release(ev.UserHandle, lock)
	}()

	return d.engine.HandleEvent(ctx, ev)
}

func (d *Dispatcher) acquire(userHandle string) *userLock {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.locks[userHandle]
	if !ok {
		l = &userLock{}
		d.locks[userHandle] = l
	}
	l.refs++
	return l
}

func (d *Dispatcher) release(userHandle string, l *userLock) {
	d.mu.Lock()
	defer d.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(d.locks, userHandle)
	}
}
