package api

import (
	"encoding/gob"
	"sync"
)

// Owner is notified when a Condition it parked on activates.
// Fibers own their conditions; an OrCondition owns its branches.
type Owner interface {
	Wake(c Condition)
}

// Condition is a serializable wait token: "something external will
// eventually produce a value".
//
// Implementations embed Base and provide the three registration hooks.
// The hooks are invoked by the engine through Park, Interrupt and Load;
// application code never calls them directly.
//
//   - OnParked registers with the external resource. If the event already
//     happened it may call Activate right away, before Park returns.
//   - OnInterrupt unregisters without activating. It runs when the owning
//     conversation is removed while still waiting, or when a sibling branch
//     of an OrCondition won.
//   - OnLoad re-establishes the registration after the owning conversation
//     was read back from the store, exactly as OnParked would.
//
// Concrete condition types must be registered with encoding/gob and must
// be used by pointer.
type Condition interface {
	OnParked()
	OnInterrupt()
	OnLoad()

	// Active reports whether Activate has been called.
	Active() bool
	// Value returns the activation value, or nil while inactive.
	Value() any

	base() *Base
}

// Validator is implemented by conditions that can reject being parked,
// for example an OrCondition without branches.
type Validator interface {
	Validate() error
}

// Base carries the bookkeeping shared by every Condition: the owner, the
// at-most-once activation flag and the activation value. None of it is
// persisted; a condition at rest is always inactive and re-parked on load.
type Base struct {
	// Transient exists so that encoding/gob accepts Base. It writes a
	// version marker and nothing else.
	Transient transient

	mu          sync.Mutex
	self        Condition
	owner       Owner
	active      bool
	interrupted bool
	value       any
}

func (b *Base) base() *Base { return b }

// Activate sets the value and wakes the owner. It may be called from any
// goroutine, at most once. A second call returns ErrAlreadyActive and
// leaves the stored value untouched. Activating an interrupted condition
// is silently ignored, since the resource raced with the cancellation.
func (b *Base) Activate(v any) error {
	b.mu.Lock()
	if b.active {
		b.mu.Unlock()
		return ErrAlreadyActive
	}
	if b.interrupted {
		b.mu.Unlock()
		return nil
	}
	b.active = true
	b.value = v
	owner, self := b.owner, b.self
	b.mu.Unlock()

	if owner != nil {
		owner.Wake(self)
	}
	return nil
}

// Active reports whether the condition has been activated.
func (b *Base) Active() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.active
}

// Value returns the activation value.
func (b *Base) Value() any {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.value
}

// Interrupted reports whether the condition was cancelled.
func (b *Base) Interrupted() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.interrupted
}

type transient struct{}

const transientVersion = 1

func (transient) GobEncode() ([]byte, error) { return []byte{transientVersion}, nil }
func (*transient) GobDecode([]byte) error    { return nil }

// Park records owner and calls c.OnParked. It must be called once per
// suspend, from the goroutine executing the owning fiber.
func Park(c Condition, owner Owner) error {
	if v, ok := c.(Validator); ok {
		if err := v.Validate(); err != nil {
			return err
		}
	}
	if !attach(c, owner) {
		return nil
	}
	c.OnParked()
	return nil
}

// Load is the restart counterpart of Park: it records owner and calls
// c.OnLoad.
func Load(c Condition, owner Owner) {
	if !attach(c, owner) {
		return
	}
	c.OnLoad()
}

// attach binds the owner. It returns false when no registration should
// follow: the condition was interrupted, or it was already activated (in
// which case the owner is woken immediately).
func attach(c Condition, owner Owner) bool {
	b := c.base()
	b.mu.Lock()
	b.self = c
	b.owner = owner
	active, interrupted := b.active, b.interrupted
	b.mu.Unlock()

	if interrupted {
		return false
	}
	if active {
		owner.Wake(c)
		return false
	}
	return true
}

// Interrupt cancels c without activating it. It is safe against a
// concurrent Activate and idempotent.
func Interrupt(c Condition) {
	b := c.base()
	b.mu.Lock()
	if b.active || b.interrupted {
		b.mu.Unlock()
		return
	}
	b.interrupted = true
	b.mu.Unlock()
	c.OnInterrupt()
}

func init() {
	gob.Register(&OrCondition{})
	gob.Register(&Manual{})
}

// Manual is a condition with no external resource: it activates only when
// some code calls Activate on it. It is mostly useful in tests and for
// hand-offs between fibers of the same process.
type Manual struct {
	Base
	Label string
}

// NewManual returns an inactive Manual condition.
func NewManual(label string) *Manual {
	return &Manual{Label: label}
}

func (m *Manual) OnParked()    {}
func (m *Manual) OnInterrupt() {}
func (m *Manual) OnLoad()      {}
