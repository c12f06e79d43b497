// Package timer is the endpoint for time-based conditions. Deadlines are
// absolute, so a timer that fell due while its conversation was at rest
// fires as soon as the conversation is loaded again.
package timer

import (
	"context"
	"encoding/gob"
	"sync"
	"time"

	"github.com/petrijr/dalma/pkg/api"
)

// Name is the endpoint name under which the timer registers.
const Name = "timer"

func init() {
	gob.Register(&Condition{})
	gob.Register(Expired{})
	gob.Register(&Ticker{})
}

// Expired is the activation value of a timer condition.
type Expired struct {
	Deadline time.Time
}

// EndPoint arms one runtime timer per parked Condition.
type EndPoint struct {
	now func() time.Time

	mu      sync.Mutex
	timers  map[*Condition]*time.Timer
	stopped bool
}

var _ api.EndPoint = (*EndPoint)(nil)

// New returns a running timer endpoint.
func New() *EndPoint {
	return &EndPoint{
		now:    time.Now,
		timers: make(map[*Condition]*time.Timer),
	}
}

func (e *EndPoint) Name() string { return Name }

// Stop cancels every armed timer. Conditions parked afterwards are not
// armed; they are re-armed on the next load.
func (e *EndPoint) Stop(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopped = true
	for c, t := range e.timers {
		t.Stop()
		delete(e.timers, c)
	}
	return nil
}

// After returns a condition that activates d from now.
func (e *EndPoint) After(d time.Duration) *Condition {
	return e.At(e.now().Add(d))
}

// At returns a condition that activates at deadline.
func (e *EndPoint) At(deadline time.Time) *Condition {
	return &Condition{EP: api.RefTo(e), Deadline: deadline}
}

// Armed returns the number of pending timers.
func (e *EndPoint) Armed() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.timers)
}

func (e *EndPoint) arm(c *Condition) {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	d := c.Deadline.Sub(e.now())
	if d <= 0 {
		e.mu.Unlock()
		_ = c.Activate(Expired{Deadline: c.Deadline})
		return
	}
	e.timers[c] = time.AfterFunc(d, func() { e.fire(c) })
	e.mu.Unlock()
}

func (e *EndPoint) fire(c *Condition) {
	e.mu.Lock()
	if _, ok := e.timers[c]; !ok {
		e.mu.Unlock()
		return
	}
	delete(e.timers, c)
	e.mu.Unlock()

	_ = c.Activate(Expired{Deadline: c.Deadline})
}

func (e *EndPoint) disarm(c *Condition) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if t, ok := e.timers[c]; ok {
		t.Stop()
		delete(e.timers, c)
	}
}

// Condition activates with Expired once Deadline has passed.
type Condition struct {
	api.Base
	EP       api.EndPointRef
	Deadline time.Time
}

func (c *Condition) endpoint() *EndPoint {
	e, _ := c.EP.Get().(*EndPoint)
	return e
}

func (c *Condition) OnParked() {
	if e := c.endpoint(); e != nil {
		e.arm(c)
	}
}

func (c *Condition) OnLoad() { c.OnParked() }

func (c *Condition) OnInterrupt() {
	if e := c.endpoint(); e != nil {
		e.disarm(c)
	}
}

// Ticker is a generator that hands out conditions on a fixed period.
// Missed periods are skipped rather than fired in a burst.
type Ticker struct {
	N        string
	Interval time.Duration
	Next     time.Time
	EP       api.EndPointRef
}

var _ api.Generator = (*Ticker)(nil)

// NewTicker returns a ticker whose first tick is one interval from now.
func (e *EndPoint) NewTicker(name string, interval time.Duration) *Ticker {
	return &Ticker{
		N:        name,
		Interval: interval,
		Next:     e.now().Add(interval),
		EP:       api.RefTo(e),
	}
}

func (t *Ticker) Name() string { return t.N }

// OnLoad implements api.Generator. Tick conditions carry their own
// deadline, so nothing has to be re-armed here.
func (t *Ticker) OnLoad(c api.Conversation) {}

func (t *Ticker) Dispose() {}

// Tick returns the condition for the next period and advances the
// ticker.
func (t *Ticker) Tick() *Condition {
	e, _ := t.EP.Get().(*EndPoint)
	now := time.Now()
	if e != nil {
		now = e.now()
	}
	for t.Interval > 0 && !t.Next.After(now) {
		t.Next = t.Next.Add(t.Interval)
	}
	c := &Condition{EP: t.EP, Deadline: t.Next}
	t.Next = t.Next.Add(t.Interval)
	return c
}
