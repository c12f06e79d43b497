package persistence

import (
	"bytes"
	"encoding/base64"
	"encoding/gob"
	"encoding/xml"
	"errors"
	"fmt"

	"github.com/petrijr/dalma/pkg/api"
)

// Mode selects what is being serialized. It is passed explicitly to every
// codec call rather than kept in ambient state.
type Mode int

const (
	// ModeContinuation writes the routines of a conversation's fibers.
	ModeContinuation Mode = iota + 1
	// ModeConversation writes conversation metadata: the fiber list,
	// parked conditions and generators.
	ModeConversation
	// ModeEngine writes engine metadata. Nothing in it is a moniker.
	ModeEngine
)

func (m Mode) String() string {
	switch m {
	case ModeContinuation:
		return "continuation"
	case ModeConversation:
		return "conversation"
	case ModeEngine:
		return "engine"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

var (
	// ErrModeMismatch is returned when a value does not belong to the
	// requested mode.
	ErrModeMismatch = errors.New("value does not match serialization mode")

	// ErrActiveCondition is returned when a parked condition that was
	// already activated reaches the encoder. Its value would be lost, so
	// the engine must record it on the fiber instead.
	ErrActiveCondition = errors.New("cannot persist an activated condition")
)

// EngineState is the engine metadata record.
type EngineState struct {
	XMLName xml.Name `xml:"dalma"`
	NextID  int      `xml:"nextId"`
}

// FiberRecord is the persisted part of a fiber that is not its routine.
type FiberRecord struct {
	ID    int
	State api.FiberState
	// Condition is set for WAITING fibers.
	Condition api.Condition
	// Value is the pending activation value of a RUNNABLE fiber.
	Value any
}

// ConversationState is the conversation metadata record.
type ConversationState struct {
	ID         int
	NextFiber  int
	Fibers     []FiberRecord
	Generators []api.Generator
}

// Continuation maps fiber IDs to their routines.
type Continuation map[int]api.Routine

type conversationXML struct {
	XMLName    xml.Name     `xml:"conversation"`
	ID         int          `xml:"id,attr"`
	NextFiber  int          `xml:"nextFiber,attr"`
	Fibers     []fiberXML   `xml:"fiber"`
	Generators []payloadXML `xml:"generator"`
}

type fiberXML struct {
	ID        int         `xml:"id,attr"`
	State     string      `xml:"state,attr"`
	Condition *payloadXML `xml:"condition,omitempty"`
	Value     *payloadXML `xml:"value,omitempty"`
}

// payloadXML holds a gob-encoded value. Type is informational only.
type payloadXML struct {
	Type string `xml:"type,attr"`
	Data string `xml:",chardata"`
}

// Encode serializes v according to mode:
//
//	ModeEngine:       *EngineState       -> XML
//	ModeConversation: *ConversationState -> XML envelope with gob payloads
//	ModeContinuation: Continuation       -> gob
func Encode(mode Mode, v any) ([]byte, error) {
	switch mode {
	case ModeEngine:
		st, ok := v.(*EngineState)
		if !ok {
			return nil, fmt.Errorf("%w: %s got %T", ErrModeMismatch, mode, v)
		}
		return marshalXML(st)

	case ModeConversation:
		st, ok := v.(*ConversationState)
		if !ok {
			return nil, fmt.Errorf("%w: %s got %T", ErrModeMismatch, mode, v)
		}
		return encodeConversation(st)

	case ModeContinuation:
		c, ok := v.(Continuation)
		if !ok {
			return nil, fmt.Errorf("%w: %s got %T", ErrModeMismatch, mode, v)
		}
		var buf bytes.Buffer
		if err := gob.NewEncoder(&buf).Encode(c); err != nil {
			return nil, fmt.Errorf("encode continuation: %w", err)
		}
		return buf.Bytes(), nil

	default:
		return nil, fmt.Errorf("%w: %s", ErrModeMismatch, mode)
	}
}

// Decode is the structural inverse of Encode. Monikers in the result are
// unbound until Bind runs.
func Decode(mode Mode, data []byte, v any) error {
	switch mode {
	case ModeEngine:
		st, ok := v.(*EngineState)
		if !ok {
			return fmt.Errorf("%w: %s got %T", ErrModeMismatch, mode, v)
		}
		return xml.Unmarshal(data, st)

	case ModeConversation:
		st, ok := v.(*ConversationState)
		if !ok {
			return fmt.Errorf("%w: %s got %T", ErrModeMismatch, mode, v)
		}
		return decodeConversation(data, st)

	case ModeContinuation:
		c, ok := v.(*Continuation)
		if !ok {
			return fmt.Errorf("%w: %s got %T", ErrModeMismatch, mode, v)
		}
		if err := gob.NewDecoder(bytes.NewReader(data)).Decode(c); err != nil {
			return fmt.Errorf("decode continuation: %w", err)
		}
		return nil

	default:
		return fmt.Errorf("%w: %s", ErrModeMismatch, mode)
	}
}

func marshalXML(v any) ([]byte, error) {
	out, err := xml.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), out...), nil
}

func encodeConversation(st *ConversationState) ([]byte, error) {
	doc := conversationXML{
		ID:        st.ID,
		NextFiber: st.NextFiber,
		Fibers:    make([]fiberXML, 0, len(st.Fibers)),
	}
	for _, f := range st.Fibers {
		rec := fiberXML{ID: f.ID, State: string(f.State)}
		if f.Condition != nil {
			if f.Condition.Active() {
				return nil, fmt.Errorf("fiber %d: %w", f.ID, ErrActiveCondition)
			}
			p, err := encodePayload(f.Condition)
			if err != nil {
				return nil, fmt.Errorf("fiber %d condition: %w", f.ID, err)
			}
			rec.Condition = p
		}
		if f.Value != nil {
			p, err := encodePayload(f.Value)
			if err != nil {
				return nil, fmt.Errorf("fiber %d value: %w", f.ID, err)
			}
			rec.Value = p
		}
		doc.Fibers = append(doc.Fibers, rec)
	}
	for _, g := range st.Generators {
		p, err := encodePayload(g)
		if err != nil {
			return nil, fmt.Errorf("generator %q: %w", g.Name(), err)
		}
		doc.Generators = append(doc.Generators, *p)
	}
	return marshalXML(&doc)
}

func decodeConversation(data []byte, st *ConversationState) error {
	var doc conversationXML
	if err := xml.Unmarshal(data, &doc); err != nil {
		return err
	}
	st.ID = doc.ID
	st.NextFiber = doc.NextFiber
	st.Fibers = make([]FiberRecord, 0, len(doc.Fibers))
	for _, f := range doc.Fibers {
		rec := FiberRecord{ID: f.ID, State: api.FiberState(f.State)}
		if f.Condition != nil {
			c, err := decodePayload[api.Condition](f.Condition)
			if err != nil {
				return fmt.Errorf("fiber %d condition: %w", f.ID, err)
			}
			rec.Condition = c
		}
		if f.Value != nil {
			v, err := decodePayload[any](f.Value)
			if err != nil {
				return fmt.Errorf("fiber %d value: %w", f.ID, err)
			}
			rec.Value = v
		}
		st.Fibers = append(st.Fibers, rec)
	}
	st.Generators = st.Generators[:0]
	for i := range doc.Generators {
		g, err := decodePayload[api.Generator](&doc.Generators[i])
		if err != nil {
			return fmt.Errorf("generator %d: %w", i, err)
		}
		st.Generators = append(st.Generators, g)
	}
	return nil
}

func encodePayload(v any) (*payloadXML, error) {
	data, err := EncodeValue(v)
	if err != nil {
		return nil, err
	}
	return &payloadXML{
		Type: fmt.Sprintf("%T", v),
		Data: base64.StdEncoding.EncodeToString(data),
	}, nil
}

func decodePayload[T any](p *payloadXML) (T, error) {
	var zero T
	data, err := base64.StdEncoding.DecodeString(p.Data)
	if err != nil {
		return zero, err
	}
	return DecodeValue[T](data)
}

// EncodeValue serializes arbitrary Go values using encoding/gob.
// Concrete types stored behind interfaces must be gob-registered.
func EncodeValue(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)

	// Encode as interface{} so the value can be decoded without knowing
	// its concrete type.
	var iv = v
	if err := enc.Encode(&iv); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeValue decodes a payload written by EncodeValue and asserts it to
// T.
func DecodeValue[T any](data []byte) (T, error) {
	var zero T
	if len(data) == 0 {
		return zero, nil
	}
	var iv any
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&iv); err != nil {
		return zero, err
	}
	if iv == nil {
		return zero, nil
	}
	v, ok := iv.(T)
	if !ok {
		return zero, fmt.Errorf("gob: decoded payload of type %T not assignable to %T", iv, zero)
	}
	return v, nil
}
