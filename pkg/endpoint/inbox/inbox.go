// Package inbox is an in-process endpoint of named mailboxes. A fiber
// suspends on Receive(key); anything may Deliver a value to that key.
//
// Conditions refer to the inbox by name, so after a restart they re-park
// on whichever Inbox is registered under that name. Deliveries that find
// no receiver are buffered in memory only and do not survive a restart.
package inbox

import (
	"context"
	"encoding/gob"
	"errors"
	"sync"

	"github.com/petrijr/dalma/pkg/api"
)

// DefaultName is the endpoint name used by New("").
const DefaultName = "inbox"

// ErrStopped is returned by Deliver after Stop.
var ErrStopped = errors.New("inbox stopped")

func init() {
	gob.Register(&Message{})
}

// Inbox is an api.EndPoint.
type Inbox struct {
	name string

	mu      sync.Mutex
	waiting map[string][]*Message
	pending map[string][]any
	stopped bool
}

var _ api.EndPoint = (*Inbox)(nil)

// New returns an empty inbox registered under name.
func New(name string) *Inbox {
	if name == "" {
		name = DefaultName
	}
	return &Inbox{
		name:    name,
		waiting: make(map[string][]*Message),
		pending: make(map[string][]any),
	}
}

func (b *Inbox) Name() string { return b.name }

// Stop drops every registration. Parked messages stay inactive and are
// re-parked when their conversation is next loaded.
func (b *Inbox) Stop(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopped = true
	b.waiting = make(map[string][]*Message)
	return nil
}

// Receive returns a condition that activates with the next value
// delivered to key.
func (b *Inbox) Receive(key string) *Message {
	return &Message{EP: api.RefTo(b), Key: key}
}

// Deliver hands v to the oldest receiver waiting on key. It reports
// whether a receiver took it; otherwise v is kept for the next Receive.
func (b *Inbox) Deliver(key string, v any) (bool, error) {
	for {
		b.mu.Lock()
		if b.stopped {
			b.mu.Unlock()
			return false, ErrStopped
		}
		q := b.waiting[key]
		if len(q) == 0 {
			b.pending[key] = append(b.pending[key], v)
			b.mu.Unlock()
			return false, nil
		}
		m := q[0]
		b.setWaiting(key, q[1:])
		b.mu.Unlock()

		// A receiver interrupted in the meantime ignores the value; try
		// the next one.
		if err := m.Activate(v); err == nil && m.Active() {
			return true, nil
		}
	}
}

// Waiting returns the number of receivers parked on key.
func (b *Inbox) Waiting(key string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.waiting[key])
}

// Pending returns the number of buffered values for key.
func (b *Inbox) Pending(key string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending[key])
}

func (b *Inbox) setWaiting(key string, q []*Message) {
	if len(q) == 0 {
		delete(b.waiting, key)
		return
	}
	b.waiting[key] = q
}

func (b *Inbox) park(m *Message) {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	if q := b.pending[m.Key]; len(q) > 0 {
		v := q[0]
		if len(q) == 1 {
			delete(b.pending, m.Key)
		} else {
			b.pending[m.Key] = q[1:]
		}
		b.mu.Unlock()
		_ = m.Activate(v)
		return
	}
	b.waiting[m.Key] = append(b.waiting[m.Key], m)
	b.mu.Unlock()
}

func (b *Inbox) unpark(m *Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	q := b.waiting[m.Key]
	for i, x := range q {
		if x == m {
			b.setWaiting(m.Key, append(q[:i:i], q[i+1:]...))
			return
		}
	}
}

// Message is the condition returned by Receive. Its value is whatever was
// delivered.
type Message struct {
	api.Base
	EP  api.EndPointRef
	Key string
}

func (m *Message) inbox() *Inbox {
	b, _ := m.EP.Get().(*Inbox)
	return b
}

func (m *Message) OnParked() {
	if b := m.inbox(); b != nil {
		b.park(m)
	}
}

func (m *Message) OnLoad() { m.OnParked() }

func (m *Message) OnInterrupt() {
	if b := m.inbox(); b != nil {
		b.unpark(m)
	}
}
