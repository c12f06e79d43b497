package api

import "fmt"

// Resolver maps moniker tokens back to the live singletons of an engine.
// It is handed explicitly to the post-decode binding pass.
type Resolver interface {
	Engine() Engine
	EndPoint(name string) (EndPoint, bool)
	Conversation(id int) (Conversation, bool)
}

// Binder is implemented by values that carry monikers. After structural
// decoding, the store walks the decoded graph and calls Bind on every
// Binder it finds.
type Binder interface {
	Bind(r Resolver) error
}

// EndPointRef is the persisted form of a reference to an EndPoint: only
// the name is written; Bind resolves it to the instance registered on the
// engine, so every conversation shares the same singleton.
type EndPointRef struct {
	Name string

	ep EndPoint
}

// RefTo returns a bound reference to ep.
func RefTo(ep EndPoint) EndPointRef {
	return EndPointRef{Name: ep.Name(), ep: ep}
}

// Get returns the referenced endpoint, or nil if the reference is unbound.
func (r EndPointRef) Get() EndPoint {
	return r.ep
}

// Bind implements Binder.
func (r *EndPointRef) Bind(res Resolver) error {
	ep, ok := res.EndPoint(r.Name)
	if !ok {
		return fmt.Errorf("%w: endpoint %q", ErrUnresolvedMoniker, r.Name)
	}
	r.ep = ep
	return nil
}

// ConversationRef refers to a sibling conversation by ID. A reference to a
// conversation that no longer exists binds to nil rather than failing:
// the target simply ended while the referrer was at rest.
type ConversationRef struct {
	ID int

	conv Conversation
}

// RefToConversation returns a bound reference to c.
func RefToConversation(c Conversation) ConversationRef {
	return ConversationRef{ID: c.ID(), conv: c}
}

// Get returns the referenced conversation, or nil when it has ended.
func (r ConversationRef) Get() Conversation {
	return r.conv
}

// Bind implements Binder.
func (r *ConversationRef) Bind(res Resolver) error {
	r.conv = nil
	if c, ok := res.Conversation(r.ID); ok {
		r.conv = c
	}
	return nil
}

// EngineRef refers to the engine that owns the conversation. Nothing but
// a marker is written.
type EngineRef struct {
	eng Engine
}

// RefToEngine returns a bound engine reference.
func RefToEngine(e Engine) EngineRef {
	return EngineRef{eng: e}
}

// Get returns the bound engine.
func (r EngineRef) Get() Engine {
	return r.eng
}

// Bind implements Binder.
func (r *EngineRef) Bind(res Resolver) error {
	r.eng = res.Engine()
	return nil
}

func (EngineRef) GobEncode() ([]byte, error) { return []byte{1}, nil }
func (r *EngineRef) GobDecode([]byte) error  { return nil }
