package api

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
)

type stubConversation struct {
	Conversation
	id int
}

func (c stubConversation) ID() int { return c.id }

type idFiber struct {
	Fiber
	id   int
	conv Conversation
}

func (f idFiber) ID() int                    { return f.id }
func (f idFiber) Conversation() Conversation { return f.conv }

type recordingObserver struct {
	mu     sync.Mutex
	events []string
}

func (o *recordingObserver) add(e string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, e)
}

func (o *recordingObserver) OnConversationStart(ctx context.Context, c Conversation) { o.add("start") }
func (o *recordingObserver) OnConversationEnd(ctx context.Context, c Conversation)   { o.add("end") }
func (o *recordingObserver) OnConversationFailed(ctx context.Context, c Conversation, err error) {
	o.add("failed")
}
func (o *recordingObserver) OnFiberStart(ctx context.Context, f Fiber) { o.add("fiber_start") }
func (o *recordingObserver) OnFiberCompleted(ctx context.Context, f Fiber, next FiberState, err error, d time.Duration) {
	o.add("fiber_completed")
}
func (o *recordingObserver) OnPersist(ctx context.Context, c Conversation, err error, d time.Duration) {
	o.add("persist")
}
func (o *recordingObserver) OnRestore(ctx context.Context, c Conversation, err error, d time.Duration) {
	o.add("restore")
}

func emitAll(o Observer) {
	ctx := context.Background()
	c := stubConversation{id: 7}
	f := idFiber{id: 1, conv: c}
	o.OnConversationStart(ctx, c)
	o.OnFiberStart(ctx, f)
	o.OnFiberCompleted(ctx, f, FiberWaiting, nil, time.Millisecond)
	o.OnPersist(ctx, c, nil, time.Millisecond)
	o.OnRestore(ctx, c, nil, time.Millisecond)
	o.OnFiberCompleted(ctx, f, FiberEnded, errors.New("boom"), 3*time.Millisecond)
	o.OnConversationFailed(ctx, c, errors.New("boom"))
	o.OnConversationEnd(ctx, c)
}

func TestCompositeObserver_FansOut(t *testing.T) {
	a, b := &recordingObserver{}, &recordingObserver{}
	emitAll(NewCompositeObserver(a, nil, b))

	want := "start fiber_start fiber_completed persist restore fiber_completed failed end"
	for name, o := range map[string]*recordingObserver{"a": a, "b": b} {
		if got := strings.Join(o.events, " "); got != want {
			t.Fatalf("observer %s got %q", name, got)
		}
	}
}

func TestCompositeObserver_Collapses(t *testing.T) {
	if _, ok := NewCompositeObserver().(NoopObserver); !ok {
		t.Fatalf("no observers should yield NoopObserver")
	}
	a := &recordingObserver{}
	if got := NewCompositeObserver(nil, a); got != Observer(a) {
		t.Fatalf("a single observer should be returned as is")
	}
}

func TestLoggingObserver_WritesStructuredRecords(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	emitAll(NewLoggingObserver(logger))

	out := buf.String()
	for _, msg := range []string{
		`"msg":"conversation_start"`,
		`"msg":"fiber_completed"`,
		`"msg":"conversation_persisted"`,
		`"msg":"conversation_restored"`,
		`"msg":"conversation_failed"`,
		`"msg":"conversation_end"`,
		`"conversation_id":7`,
		`"next":"WAITING"`,
		`"level":"ERROR"`,
	} {
		if !strings.Contains(out, msg) {
			t.Fatalf("log output missing %s:\n%s", msg, out)
		}
	}
}

func TestBasicMetrics_Snapshot(t *testing.T) {
	m := &BasicMetrics{}
	emitAll(m)
	m.OnConversationStart(context.Background(), stubConversation{id: 8})
	m.OnPersist(context.Background(), stubConversation{id: 8}, errors.New("disk"), 0)

	s := m.Snapshot()
	if s.ConversationsStarted != 2 || s.ConversationsEnded != 1 || s.LiveConversations != 1 {
		t.Fatalf("unexpected conversation counters: %+v", s)
	}
	if s.ConversationsFailed != 1 {
		t.Fatalf("failed=%d", s.ConversationsFailed)
	}
	if s.Segments != 2 || s.AvgSegmentDuration != 2*time.Millisecond {
		t.Fatalf("segments=%d avg=%v", s.Segments, s.AvgSegmentDuration)
	}
	if s.Persists != 1 || s.Restores != 1 {
		t.Fatalf("persists=%d restores=%d", s.Persists, s.Restores)
	}
}
