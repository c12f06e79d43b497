package dalma

import (
	"context"
	"fmt"
	"time"

	"github.com/petrijr/dalma/pkg/api"
	"github.com/petrijr/dalma/pkg/endpoint/inbox"
	"github.com/petrijr/dalma/pkg/endpoint/timer"
)

// Ready-made steps for programs. The steps that suspend look their
// endpoint up on the engine under its default name.

// Sleep suspends the fiber for d.
func Sleep(d time.Duration) StepFunc {
	return func(ctx context.Context, sc *Scope) (Condition, error) {
		tm, err := timerOf(sc.Fiber().Engine())
		if err != nil {
			return nil, err
		}
		return tm.After(d), nil
	}
}

// Receive suspends until a value is delivered to key on the default
// inbox. The next step reads it with Scope.Value.
func Receive(key string) StepFunc {
	return func(ctx context.Context, sc *Scope) (Condition, error) {
		ib, err := inboxOf(sc.Fiber().Engine())
		if err != nil {
			return nil, err
		}
		return ib.Receive(key), nil
	}
}

// ReceiveWithin is Receive with a deadline. When the timer wins, the
// next step sees a timer.Expired value.
func ReceiveWithin(key string, d time.Duration) StepFunc {
	return func(ctx context.Context, sc *Scope) (Condition, error) {
		eng := sc.Fiber().Engine()
		ib, err := inboxOf(eng)
		if err != nil {
			return nil, err
		}
		tm, err := timerOf(eng)
		if err != nil {
			return nil, err
		}
		return api.Or(ib.Receive(key), tm.After(d)), nil
	}
}

// Deliver sends the value computed by fn to key on the default inbox.
func Deliver(key string, fn func(sc *Scope) any) StepFunc {
	return func(ctx context.Context, sc *Scope) (Condition, error) {
		ib, err := inboxOf(sc.Fiber().Engine())
		if err != nil {
			return nil, err
		}
		if _, err := ib.Deliver(key, fn(sc)); err != nil {
			return nil, err
		}
		return nil, nil
	}
}

// Do wraps a step that never suspends.
func Do(fn func(ctx context.Context, sc *Scope) error) StepFunc {
	return func(ctx context.Context, sc *Scope) (Condition, error) {
		return nil, fn(ctx, sc)
	}
}

// JoinConversation suspends until the conversation whose ID is stored in
// the variable idVar has ended.
func JoinConversation(idVar string) StepFunc {
	return func(ctx context.Context, sc *Scope) (Condition, error) {
		id, ok := sc.Get(idVar).(int)
		if !ok {
			return nil, fmt.Errorf("variable %q does not hold a conversation id", idVar)
		}
		c, ok := sc.Fiber().Engine().Conversation(id)
		if !ok {
			// Already ended.
			return nil, nil
		}
		return c.JoinCondition(), nil
	}
}

// Expired reports whether v is the value of a timer that fired.
func Expired(v any) bool {
	_, ok := v.(timer.Expired)
	return ok
}

func inboxOf(eng Engine) (*inbox.Inbox, error) {
	ep, ok := eng.EndPoint(inbox.DefaultName)
	if !ok {
		return nil, fmt.Errorf("no %q endpoint registered", inbox.DefaultName)
	}
	ib, ok := ep.(*inbox.Inbox)
	if !ok {
		return nil, fmt.Errorf("endpoint %q is a %T", inbox.DefaultName, ep)
	}
	return ib, nil
}

func timerOf(eng Engine) (*timer.EndPoint, error) {
	ep, ok := eng.EndPoint(timer.Name)
	if !ok {
		return nil, fmt.Errorf("no %q endpoint registered", timer.Name)
	}
	tm, ok := ep.(*timer.EndPoint)
	if !ok {
		return nil, fmt.Errorf("endpoint %q is a %T", timer.Name, ep)
	}
	return tm, nil
}
