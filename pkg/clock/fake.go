package clock

import (
	"strconv"
	"sync"
	"time"
)

// Fake is a controllable Clock for deterministic tests: Advance moves
// time forward and fires any tickers whose period has elapsed.
type Fake struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*fakeTicker
	seq     int
}

// NewFake returns a Fake clock starting at now.
func NewFake(now time.Time) *Fake {
	return &Fake{now: now}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Advance moves the fake clock forward by d, firing any ticker whose
// period has elapsed one or more times (non-blocking send; a ticker
// that isn't being drained just keeps its most recent tick buffered).
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
	for _, t := range f.tickers {
		if !t.stopped && !f.now.Before(t.next) {
			select {
			case t.ch <- f.now:
			default:
			}
			for !f.now.Before(t.next) {
				t.next = t.next.Add(t.period)
			}
		}
	}
}

func (f *Fake) NewTicker(d time.Duration) Ticker {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &fakeTicker{ch: make(chan time.Time, 1), period: d, next: f.now.Add(d)}
	f.tickers = append(f.tickers, t)
	return t
}

func (f *Fake) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- f.Now().Add(d)
	return ch
}

type fakeTicker struct {
	ch      chan time.Time
	period  time.Duration
	next    time.Time
	stopped bool
}

func (t *fakeTicker) C() <-chan time.Time { return t.ch }
func (t *fakeTicker) Stop()               { t.stopped = true }

// FakeIDs generates predictable, sequential IDs for assertions.
type FakeIDs struct {
	mu     sync.Mutex
	prefix string
	n      int
}

func NewFakeIDs(prefix string) *FakeIDs { return &FakeIDs{prefix: prefix} }

func (f *FakeIDs) NewID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.n++
	return f.prefix + "-" + strconv.Itoa(f.n)
}
