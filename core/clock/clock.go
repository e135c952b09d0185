// Package clock provides the time source for components with timers.
//
// Production code uses New, which delegates to the system clock and
// time.AfterFunc. Tests use NewManual and drive time explicitly with
// Advance, so reconnect delays and publish retries can be exercised
// without sleeping.
package clock

import (
	"sort"
	"sync"
	"time"
)

// Clock is a time source with cancellable one-shot timers. A nil *Clock
// behaves like a system clock, so components can treat the field as
// optional.
type Clock struct {
	mu     sync.Mutex
	manual bool
	now    time.Time
	timers []*Timer
}

// Timer is a pending one-shot callback created by AfterFunc.
type Timer struct {
	clk     *Clock
	sysT    *time.Timer
	when    time.Time
	fn      func()
	stopped bool
	fired   bool
}

// New creates a Clock backed by the system clock.
func New() *Clock {
	return &Clock{}
}

// NewManual creates a Clock frozen at start. Time only moves through
// Advance, and timers fire synchronously from the Advance call.
func NewManual(start time.Time) *Clock {
	return &Clock{manual: true, now: start}
}

// Now returns the current time.
func (c *Clock) Now() time.Time {
	if c == nil {
		return time.Now()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.manual {
		return c.now
	}
	return time.Now()
}

// AfterFunc schedules fn to run once after d. On a system clock the
// callback runs on its own goroutine (time.AfterFunc semantics); on a
// manual clock it runs synchronously inside the Advance call that reaches
// its deadline.
func (c *Clock) AfterFunc(d time.Duration, fn func()) *Timer {
	if c == nil {
		return &Timer{sysT: time.AfterFunc(d, fn)}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.manual {
		return &Timer{sysT: time.AfterFunc(d, fn)}
	}
	t := &Timer{clk: c, when: c.now.Add(d), fn: fn}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves a manual clock forward by d, firing every timer whose
// deadline is reached, in deadline order. Panics on a system clock.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	if !c.manual {
		c.mu.Unlock()
		panic("clock: Advance called on a system clock")
	}
	c.now = c.now.Add(d)
	deadline := c.now

	// Callbacks commonly schedule new timers, so fire outside the lock.
	for {
		t := c.nextDueLocked(deadline)
		if t == nil {
			break
		}
		t.fired = true
		fn := t.fn
		c.mu.Unlock()
		fn()
		c.mu.Lock()
	}
	c.mu.Unlock()
}

// nextDueLocked removes and returns the earliest unfired timer due at or
// before deadline, or nil.
func (c *Clock) nextDueLocked(deadline time.Time) *Timer {
	sort.SliceStable(c.timers, func(i, j int) bool {
		return c.timers[i].when.Before(c.timers[j].when)
	})
	for i, t := range c.timers {
		if t.stopped || t.fired {
			continue
		}
		if t.when.After(deadline) {
			return nil
		}
		c.timers = append(c.timers[:i], c.timers[i+1:]...)
		return t
	}
	return nil
}

// Stop cancels the timer. It reports whether the cancellation prevented
// the callback from firing.
func (t *Timer) Stop() bool {
	if t == nil {
		return false
	}
	if t.sysT != nil {
		return t.sysT.Stop()
	}
	t.clk.mu.Lock()
	defer t.clk.mu.Unlock()
	if t.fired || t.stopped {
		return false
	}
	t.stopped = true
	return true
}
