package limiter

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// fakeClock lets tests step time deterministically.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestLimiter(window time.Duration) (*Limiter, *fakeClock) {
	clk := &fakeClock{t: time.Unix(1000, 0)}
	l := New(window)
	l.now = clk.now
	return l, clk
}

func TestMutatingThrottled(t *testing.T) {
	l, clk := newTestLimiter(8 * time.Second)

	assert.True(t, l.Allow("u1", ClassMutating))
	assert.False(t, l.Allow("u1", ClassMutating))

	clk.advance(7 * time.Second)
	assert.False(t, l.Allow("u1", ClassMutating))

	clk.advance(time.Second)
	assert.True(t, l.Allow("u1", ClassMutating))
}

func TestReadOnlyExempt(t *testing.T) {
	l, _ := newTestLimiter(8 * time.Second)

	assert.True(t, l.Allow("u1", ClassMutating))
	for range 5 {
		assert.True(t, l.Allow("u1", ClassReadOnly))
	}
	// Browsing did not reset or consume the window.
	assert.False(t, l.Allow("u1", ClassMutating))
}

func TestUsersIndependent(t *testing.T) {
	l, _ := newTestLimiter(8 * time.Second)

	assert.True(t, l.Allow("u1", ClassMutating))
	assert.True(t, l.Allow("u2", ClassMutating))
	assert.False(t, l.Allow("u1", ClassMutating))
}

func TestDeniedActionDoesNotExtendWindow(t *testing.T) {
	l, clk := newTestLimiter(8 * time.Second)

	assert.True(t, l.Allow("u1", ClassMutating))
	clk.advance(6 * time.Second)
	assert.False(t, l.Allow("u1", ClassMutating))
	// Window counts from the accepted action, not the denied one.
	clk.advance(2 * time.Second)
	assert.True(t, l.Allow("u1", ClassMutating))
}

func TestRemaining(t *testing.T) {
	l, clk := newTestLimiter(8 * time.Second)

	assert.Zero(t, l.Remaining("u1"))
	l.Allow("u1", ClassMutating)
	assert.Equal(t, 8*time.Second, l.Remaining("u1"))
	clk.advance(3 * time.Second)
	assert.Equal(t, 5*time.Second, l.Remaining("u1"))
	clk.advance(6 * time.Second)
	assert.Zero(t, l.Remaining("u1"))
}

func TestConcurrentSingleWinner(t *testing.T) {
	l, _ := newTestLimiter(8 * time.Second)

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Allow("u1", ClassMutating) {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, allowed)
}

func TestPrune(t *testing.T) {
	l, clk := newTestLimiter(8 * time.Second)

	l.Allow("u1", ClassMutating)
	clk.advance(time.Hour)
	l.Allow("u2", ClassMutating)

	assert.Equal(t, 1, l.Prune(30*time.Minute))
	assert.Zero(t, l.Remaining("u1"))
	assert.NotZero(t, l.Remaining("u2"))
}
