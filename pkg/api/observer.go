package api

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Observer receives callbacks from the engine for logging and metrics.
//
// Implementations should be fast and non-blocking; they are called on the
// worker goroutine that runs the fiber.
type Observer interface {
	// OnConversationStart is called once when a conversation is created.
	OnConversationStart(ctx context.Context, c Conversation)

	// OnConversationEnd is called when a conversation is removed, both
	// after natural completion and after a forced removal.
	OnConversationEnd(ctx context.Context, c Conversation)

	// OnConversationFailed is called when a conversation is killed by an
	// application or persistence error, before it is removed.
	OnConversationFailed(ctx context.Context, c Conversation, err error)

	// OnFiberStart is called before a fiber segment runs.
	OnFiberStart(ctx context.Context, f Fiber)

	// OnFiberCompleted is called after a segment returns. next is the
	// state the fiber moves to: FiberWaiting or FiberEnded.
	OnFiberCompleted(ctx context.Context, f Fiber, next FiberState, err error, d time.Duration)

	// OnPersist is called after a conversation was written to the store.
	OnPersist(ctx context.Context, c Conversation, err error, d time.Duration)

	// OnRestore is called after a conversation's continuation was read
	// back.
	OnRestore(ctx context.Context, c Conversation, err error, d time.Duration)
}

// NoopObserver is an Observer that does nothing.
// It is used as the default when no observer is configured.
type NoopObserver struct{}

func (NoopObserver) OnConversationStart(ctx context.Context, c Conversation)             {}
func (NoopObserver) OnConversationEnd(ctx context.Context, c Conversation)               {}
func (NoopObserver) OnConversationFailed(ctx context.Context, c Conversation, err error) {}
func (NoopObserver) OnFiberStart(ctx context.Context, f Fiber)                           {}
func (NoopObserver) OnFiberCompleted(ctx context.Context, f Fiber, next FiberState, err error, d time.Duration) {
}
func (NoopObserver) OnPersist(ctx context.Context, c Conversation, err error, d time.Duration) {}
func (NoopObserver) OnRestore(ctx context.Context, c Conversation, err error, d time.Duration) {}

// CompositeObserver fans out events to multiple observers.
type CompositeObserver struct {
	observers []Observer
}

// NewCompositeObserver creates an Observer that forwards events to each
// non-nil observer in obs.
func NewCompositeObserver(obs ...Observer) Observer {
	filtered := make([]Observer, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			filtered = append(filtered, o)
		}
	}
	if len(filtered) == 0 {
		return NoopObserver{}
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &CompositeObserver{observers: filtered}
}

func (c *CompositeObserver) OnConversationStart(ctx context.Context, conv Conversation) {
	for _, o := range c.observers {
		o.OnConversationStart(ctx, conv)
	}
}

func (c *CompositeObserver) OnConversationEnd(ctx context.Context, conv Conversation) {
	for _, o := range c.observers {
		o.OnConversationEnd(ctx, conv)
	}
}

func (c *CompositeObserver) OnConversationFailed(ctx context.Context, conv Conversation, err error) {
	for _, o := range c.observers {
		o.OnConversationFailed(ctx, conv, err)
	}
}

func (c *CompositeObserver) OnFiberStart(ctx context.Context, f Fiber) {
	for _, o := range c.observers {
		o.OnFiberStart(ctx, f)
	}
}

func (c *CompositeObserver) OnFiberCompleted(ctx context.Context, f Fiber, next FiberState, err error, d time.Duration) {
	for _, o := range c.observers {
		o.OnFiberCompleted(ctx, f, next, err, d)
	}
}

func (c *CompositeObserver) OnPersist(ctx context.Context, conv Conversation, err error, d time.Duration) {
	for _, o := range c.observers {
		o.OnPersist(ctx, conv, err, d)
	}
}

func (c *CompositeObserver) OnRestore(ctx context.Context, conv Conversation, err error, d time.Duration) {
	for _, o := range c.observers {
		o.OnRestore(ctx, conv, err, d)
	}
}

// LoggingObserver writes structured logs using log/slog.
type LoggingObserver struct {
	Logger *slog.Logger
}

// NewLoggingObserver creates an Observer that logs conversation and fiber
// lifecycle events using the provided slog.Logger. If logger is nil,
// slog.Default() is used.
func NewLoggingObserver(logger *slog.Logger) Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingObserver{Logger: logger}
}

func (o *LoggingObserver) OnConversationStart(ctx context.Context, c Conversation) {
	o.Logger.InfoContext(ctx, "conversation_start",
		slog.Int("conversation_id", c.ID()),
	)
}

func (o *LoggingObserver) OnConversationEnd(ctx context.Context, c Conversation) {
	o.Logger.InfoContext(ctx, "conversation_end",
		slog.Int("conversation_id", c.ID()),
	)
}

func (o *LoggingObserver) OnConversationFailed(ctx context.Context, c Conversation, err error) {
	o.Logger.ErrorContext(ctx, "conversation_failed",
		slog.Int("conversation_id", c.ID()),
		slog.Any("error", err),
	)
}

func (o *LoggingObserver) OnFiberStart(ctx context.Context, f Fiber) {
	o.Logger.DebugContext(ctx, "fiber_start",
		slog.Int("conversation_id", f.Conversation().ID()),
		slog.Int("fiber_id", f.ID()),
	)
}

func (o *LoggingObserver) OnFiberCompleted(ctx context.Context, f Fiber, next FiberState, err error, d time.Duration) {
	level := slog.LevelDebug
	if err != nil {
		level = slog.LevelError
	}
	o.Logger.Log(ctx, level, "fiber_completed",
		slog.Int("conversation_id", f.Conversation().ID()),
		slog.Int("fiber_id", f.ID()),
		slog.String("next", string(next)),
		slog.Duration("duration", d),
		slog.Any("error", err),
	)
}

func (o *LoggingObserver) OnPersist(ctx context.Context, c Conversation, err error, d time.Duration) {
	level := slog.LevelDebug
	if err != nil {
		level = slog.LevelError
	}
	o.Logger.Log(ctx, level, "conversation_persisted",
		slog.Int("conversation_id", c.ID()),
		slog.Duration("duration", d),
		slog.Any("error", err),
	)
}

func (o *LoggingObserver) OnRestore(ctx context.Context, c Conversation, err error, d time.Duration) {
	level := slog.LevelDebug
	if err != nil {
		level = slog.LevelError
	}
	o.Logger.Log(ctx, level, "conversation_restored",
		slog.Int("conversation_id", c.ID()),
		slog.Duration("duration", d),
		slog.Any("error", err),
	)
}

// BasicMetrics collects simple counters and aggregate segment durations.
// It implements Observer, and can be combined with LoggingObserver via
// NewCompositeObserver.
type BasicMetrics struct {
	NoopObserver

	conversationsStarted atomic.Int64
	conversationsEnded   atomic.Int64
	conversationsFailed  atomic.Int64
	segments             atomic.Int64
	totalSegmentDuration atomic.Int64 // nanoseconds
	persists             atomic.Int64
	restores             atomic.Int64
}

// BasicMetricsSnapshot is an immutable snapshot of BasicMetrics.
type BasicMetricsSnapshot struct {
	ConversationsStarted int64
	ConversationsEnded   int64
	ConversationsFailed  int64
	LiveConversations    int64

	Segments           int64
	AvgSegmentDuration time.Duration

	Persists int64
	Restores int64
}

func (m *BasicMetrics) OnConversationStart(ctx context.Context, c Conversation) {
	m.conversationsStarted.Add(1)
}

func (m *BasicMetrics) OnConversationEnd(ctx context.Context, c Conversation) {
	m.conversationsEnded.Add(1)
}

func (m *BasicMetrics) OnConversationFailed(ctx context.Context, c Conversation, err error) {
	m.conversationsFailed.Add(1)
}

func (m *BasicMetrics) OnFiberCompleted(ctx context.Context, f Fiber, next FiberState, err error, d time.Duration) {
	m.segments.Add(1)
	m.totalSegmentDuration.Add(d.Nanoseconds())
}

func (m *BasicMetrics) OnPersist(ctx context.Context, c Conversation, err error, d time.Duration) {
	if err == nil {
		m.persists.Add(1)
	}
}

func (m *BasicMetrics) OnRestore(ctx context.Context, c Conversation, err error, d time.Duration) {
	if err == nil {
		m.restores.Add(1)
	}
}

// Snapshot returns a snapshot of the current metrics.
func (m *BasicMetrics) Snapshot() BasicMetricsSnapshot {
	started := m.conversationsStarted.Load()
	ended := m.conversationsEnded.Load()
	segments := m.segments.Load()
	totalNs := m.totalSegmentDuration.Load()

	var avg time.Duration
	if segments > 0 {
		avg = time.Duration(totalNs / segments)
	}

	return BasicMetricsSnapshot{
		ConversationsStarted: started,
		ConversationsEnded:   ended,
		ConversationsFailed:  m.conversationsFailed.Load(),
		LiveConversations:    started - ended,
		Segments:             segments,
		AvgSegmentDuration:   avg,
		Persists:             m.persists.Load(),
		Restores:             m.restores.Load(),
	}
}
