package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/petrijr/dalma/pkg/api"
)

// TracerName is the instrumentation name of the spans emitted here.
const TracerName = "github.com/petrijr/dalma"

// TracingObserver records one span per fiber segment and one per store
// round-trip. Conversation failures are recorded as error spans.
type TracingObserver struct {
	api.NoopObserver

	tracer trace.Tracer

	mu    sync.Mutex
	spans map[segmentKey]trace.Span
}

type segmentKey struct {
	conversation int
	fiber        int
}

var _ api.Observer = (*TracingObserver)(nil)

// NewTracingObserver traces through tp, or through the global provider
// when tp is nil.
func NewTracingObserver(tp trace.TracerProvider) *TracingObserver {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &TracingObserver{
		tracer: tp.Tracer(TracerName),
		spans:  make(map[segmentKey]trace.Span),
	}
}

func (o *TracingObserver) OnFiberStart(ctx context.Context, f api.Fiber) {
	_, span := o.tracer.Start(ctx, "dalma.fiber.segment", trace.WithAttributes(
		attribute.Int("dalma.conversation.id", f.Conversation().ID()),
		attribute.Int("dalma.fiber.id", f.ID()),
	))
	o.mu.Lock()
	o.spans[segmentKey{f.Conversation().ID(), f.ID()}] = span
	o.mu.Unlock()
}

func (o *TracingObserver) OnFiberCompleted(ctx context.Context, f api.Fiber, next api.FiberState, err error, d time.Duration) {
	key := segmentKey{f.Conversation().ID(), f.ID()}
	o.mu.Lock()
	span, ok := o.spans[key]
	delete(o.spans, key)
	o.mu.Unlock()
	if !ok {
		return
	}

	span.SetAttributes(attribute.String("dalma.fiber.next", string(next)))
	setStatus(span, err)
	span.End()
}

func (o *TracingObserver) OnConversationFailed(ctx context.Context, c api.Conversation, err error) {
	_, span := o.tracer.Start(ctx, "dalma.conversation.failed", trace.WithAttributes(
		attribute.Int("dalma.conversation.id", c.ID()),
	))
	setStatus(span, err)
	span.End()
}

func (o *TracingObserver) OnPersist(ctx context.Context, c api.Conversation, err error, d time.Duration) {
	o.storeSpan(ctx, "dalma.conversation.persist", c, err, d)
}

func (o *TracingObserver) OnRestore(ctx context.Context, c api.Conversation, err error, d time.Duration) {
	o.storeSpan(ctx, "dalma.conversation.restore", c, err, d)
}

// storeSpan is reported after the fact, so it is back-dated by d.
func (o *TracingObserver) storeSpan(ctx context.Context, name string, c api.Conversation, err error, d time.Duration) {
	end := time.Now()
	_, span := o.tracer.Start(ctx, name,
		trace.WithTimestamp(end.Add(-d)),
		trace.WithAttributes(attribute.Int("dalma.conversation.id", c.ID())),
	)
	setStatus(span, err)
	span.End(trace.WithTimestamp(end))
}

func setStatus(span trace.Span, err error) {
	if err == nil {
		span.SetStatus(codes.Ok, "")
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
