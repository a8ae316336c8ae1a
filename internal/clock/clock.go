// Package clock abstracts the timer operations used by the event transport so
// tests can drive reconnect and heartbeat schedules without sleeping.
package clock

import (
	"sort"
	"sync"
	"time"
)

// Clock provides the current time and one-shot timers.
type Clock interface {
	Now() time.Time
	// AfterFunc calls f in its own goroutine (real) or from Advance (fake)
	// once d has elapsed.
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a pending AfterFunc call.
type Timer interface {
	// Stop prevents the call from happening. It reports whether the call
	// was still pending.
	Stop() bool
}

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Fake is a manually advanced Clock. Timers fire only from Advance, in
// deadline order, and never while the fake's own lock is held, so callbacks
// may schedule new timers.
type Fake struct {
	mu     sync.Mutex
	now    time.Time
	seq    int
	timers []*fakeTimer
}

type fakeTimer struct {
	fake     *Fake
	seq      int
	deadline time.Time
	delay    time.Duration
	fn       func()
	stopped  bool
	fired    bool
}

// NewFake returns a Fake starting at start.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

// Now returns the fake's current time.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// AfterFunc schedules fn at Now()+d. A non-positive d fires on the next
// Advance, including Advance(0).
func (f *Fake) AfterFunc(d time.Duration, fn func()) Timer {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	t := &fakeTimer{fake: f, seq: f.seq, deadline: f.now.Add(d), delay: d, fn: fn}
	f.timers = append(f.timers, t)
	return t
}

// Advance moves the clock forward by d and runs every timer that became due,
// including timers scheduled by callbacks that fall inside the window.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	target := f.now.Add(d)
	f.mu.Unlock()

	for {
		f.mu.Lock()
		next := f.nextDueLocked(target)
		if next == nil {
			f.now = target
			f.mu.Unlock()
			return
		}
		if next.deadline.After(f.now) {
			f.now = next.deadline
		}
		next.fired = true
		f.removeLocked(next)
		f.mu.Unlock()
		next.fn()
	}
}

// Pending returns the delays of timers that have neither fired nor been
// stopped, in scheduling order.
func (f *Fake) Pending() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]time.Duration, 0, len(f.timers))
	for _, t := range f.timers {
		out = append(out, t.delay)
	}
	return out
}

func (f *Fake) nextDueLocked(target time.Time) *fakeTimer {
	due := make([]*fakeTimer, 0, len(f.timers))
	for _, t := range f.timers {
		if !t.deadline.After(target) {
			due = append(due, t)
		}
	}
	if len(due) == 0 {
		return nil
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].deadline.Equal(due[j].deadline) {
			return due[i].seq < due[j].seq
		}
		return due[i].deadline.Before(due[j].deadline)
	})
	return due[0]
}

func (f *Fake) removeLocked(t *fakeTimer) {
	for i, candidate := range f.timers {
		if candidate == t {
			f.timers = append(f.timers[:i], f.timers[i+1:]...)
			return
		}
	}
}

func (t *fakeTimer) Stop() bool {
	t.fake.mu.Lock()
	defer t.fake.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	t.fake.removeLocked(t)
	return true
}
