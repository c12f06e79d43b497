package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/petrijr/dalma/pkg/api"
)

// recoveringObserver keeps a panicking observer from taking a
// conversation down with it: the panic is logged and the engine carries
// on.
type recoveringObserver struct {
	next   api.Observer
	logger *slog.Logger
}

var _ api.Observer = recoveringObserver{}

func (o recoveringObserver) guard(hook string) {
	if v := recover(); v != nil {
		o.logger.Error("observer panicked", "hook", hook, "panic", v)
	}
}

func (o recoveringObserver) OnConversationStart(ctx context.Context, c api.Conversation) {
	defer o.guard("OnConversationStart")
	o.next.OnConversationStart(ctx, c)
}

func (o recoveringObserver) OnConversationEnd(ctx context.Context, c api.Conversation) {
	defer o.guard("OnConversationEnd")
	o.next.OnConversationEnd(ctx, c)
}

func (o recoveringObserver) OnConversationFailed(ctx context.Context, c api.Conversation, err error) {
	defer o.guard("OnConversationFailed")
	o.next.OnConversationFailed(ctx, c, err)
}

func (o recoveringObserver) OnFiberStart(ctx context.Context, f api.Fiber) {
	defer o.guard("OnFiberStart")
	o.next.OnFiberStart(ctx, f)
}

func (o recoveringObserver) OnFiberCompleted(ctx context.Context, f api.Fiber, next api.FiberState, err error, d time.Duration) {
	defer o.guard("OnFiberCompleted")
	o.next.OnFiberCompleted(ctx, f, next, err, d)
}

func (o recoveringObserver) OnPersist(ctx context.Context, c api.Conversation, err error, d time.Duration) {
	defer o.guard("OnPersist")
	o.next.OnPersist(ctx, c, err, d)
}

func (o recoveringObserver) OnRestore(ctx context.Context, c api.Conversation, err error, d time.Duration) {
	defer o.guard("OnRestore")
	o.next.OnRestore(ctx, c, err, d)
}
