package engine

import (
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/petrijr/dalma/internal/persistence"
	"github.com/petrijr/dalma/internal/taskqueue"
	"github.com/petrijr/dalma/pkg/api"
	"github.com/petrijr/dalma/pkg/endpoint/inbox"
	"github.com/petrijr/dalma/pkg/endpoint/timer"
	"github.com/petrijr/dalma/pkg/worker"
)

func init() {
	gob.Register(&recvRoutine{})
	gob.Register(&forkRoutine{})
	gob.Register(&joinConversation{})
	gob.Register(&joinChild{})
	gob.Register(&failRoutine{})
	gob.Register(&selfRemove{})
	gob.Register(&raceRoutine{})
	gob.Register(&emptyOr{})
	gob.Register(&panicCond{})
	gob.Register(&parkPanic{})
	gob.Register(&blockRoutine{})
	gob.Register(&manualRoutine{})
	gob.Register(&joinBlocking{})
}

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func newTestEngine(t *testing.T, store persistence.Store, workers int, obs api.Observer, eps ...api.EndPoint) *engineImpl {
	t.Helper()
	pool := worker.New(taskqueue.NewInMemoryQueue(), worker.Config{Workers: workers, Logger: quiet})
	pool.Start(context.Background())

	eng, err := New(context.Background(), Config{
		Store:     store,
		Executor:  pool,
		Observer:  obs,
		Logger:    quiet,
		EndPoints: eps,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Stop(context.Background()) })
	return eng.(*engineImpl)
}

func waitState(t *testing.T, c api.Conversation, want api.ConversationState) {
	t.Helper()
	require.Eventually(t, func() bool { return c.State() == want },
		5*time.Second, 5*time.Millisecond, "conversation %d never reached %s", c.ID(), want)
}

func waitReceivers(t *testing.T, ib *inbox.Inbox, keys ...string) {
	t.Helper()
	require.Eventually(t, func() bool {
		for _, k := range keys {
			if ib.Waiting(k) != 1 {
				return false
			}
		}
		return true
	}, 5*time.Second, 5*time.Millisecond, "receivers %v never parked", keys)
}

func deliver(t *testing.T, ib *inbox.Inbox, key string, v any) {
	t.Helper()
	ok, err := ib.Deliver(key, v)
	require.NoError(t, err)
	require.True(t, ok, "nobody waited on %q", key)
}

func join(t *testing.T, c api.Conversation) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Join(ctx))
}

// sink collects results from routines. Routines are persisted by value,
// so they refer to their sink by name.
type sink struct {
	mu   sync.Mutex
	vals []string
}

var sinks sync.Map

func sinkFor(name string) *sink {
	s, _ := sinks.LoadOrStore(name, &sink{})
	return s.(*sink)
}

func (s *sink) add(v string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vals = append(s.vals, v)
}

func (s *sink) values() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.vals...)
}

// gate releases every caller once n of them have arrived.
type gate struct {
	n       int
	mu      sync.Mutex
	arrived int
	open    chan struct{}
}

var gates sync.Map

func newGate(name string, n int) {
	gates.Store(name, &gate{n: n, open: make(chan struct{})})
}

func arrive(name string) error {
	v, ok := gates.Load(name)
	if !ok {
		return fmt.Errorf("no gate %q", name)
	}
	g := v.(*gate)
	g.mu.Lock()
	g.arrived++
	if g.arrived == g.n {
		close(g.open)
	}
	g.mu.Unlock()

	select {
	case <-g.open:
		return nil
	case <-time.After(5 * time.Second):
		return fmt.Errorf("gate %q: only %d of %d arrived", name, g.arrived, g.n)
	}
}

func inboxOf(f api.Fiber) *inbox.Inbox {
	ep, _ := f.Engine().EndPoint(inbox.DefaultName)
	ib, _ := ep.(*inbox.Inbox)
	return ib
}

func timerOf(f api.Fiber) *timer.EndPoint {
	ep, _ := f.Engine().EndPoint(timer.Name)
	tm, _ := ep.(*timer.EndPoint)
	return tm
}

// recvRoutine receives one value per key in order and reports them,
// comma separated, when it ends.
type recvRoutine struct {
	Sink  string
	Keys  []string
	Gate  string
	Phase int
	Got   []string
}

func (r *recvRoutine) Run(ctx context.Context, f api.Fiber) (api.Condition, error) {
	if r.Phase > 0 {
		r.Got = append(r.Got, fmt.Sprint(f.Value()))
		if r.Gate != "" {
			if err := arrive(r.Gate); err != nil {
				return nil, err
			}
		}
	}
	if r.Phase < len(r.Keys) {
		key := r.Keys[r.Phase]
		r.Phase++
		return inboxOf(f).Receive(key), nil
	}
	sinkFor(r.Sink).add(strings.Join(r.Got, ","))
	return nil, nil
}

// forkRoutine spawns its children on the first segment and then behaves
// like Self.
type forkRoutine struct {
	Children []*recvRoutine
	Self     recvRoutine
}

func (r *forkRoutine) Run(ctx context.Context, f api.Fiber) (api.Condition, error) {
	for _, child := range r.Children {
		if _, err := f.Spawn(child); err != nil {
			return nil, err
		}
	}
	r.Children = nil
	return r.Self.Run(ctx, f)
}

type joinConversation struct {
	Sink   string
	Target int
	Phase  int
}

func (r *joinConversation) Run(ctx context.Context, f api.Fiber) (api.Condition, error) {
	if r.Phase == 0 {
		r.Phase = 1
		c, ok := f.Engine().Conversation(r.Target)
		if !ok {
			return nil, fmt.Errorf("conversation %d not found", r.Target)
		}
		return c.JoinCondition(), nil
	}
	sinkFor(r.Sink).add("joined")
	return nil, nil
}

type joinChild struct {
	Sink  string
	Child *recvRoutine
	Phase int
}

func (r *joinChild) Run(ctx context.Context, f api.Fiber) (api.Condition, error) {
	if r.Phase == 0 {
		r.Phase = 1
		child, err := f.Spawn(r.Child)
		if err != nil {
			return nil, err
		}
		r.Child = nil
		return child.JoinCondition(), nil
	}
	sinkFor(r.Sink).add("child ended")
	return nil, nil
}

var errBoom = errors.New("boom")

type failRoutine struct {
	Panic bool
}

func (r *failRoutine) Run(ctx context.Context, f api.Fiber) (api.Condition, error) {
	if r.Panic {
		panic("kaboom")
	}
	return nil, errBoom
}

type selfRemove struct {
	Sink string
}

func (r *selfRemove) Run(ctx context.Context, f api.Fiber) (api.Condition, error) {
	c := f.Conversation()
	if err := c.Join(ctx); errors.Is(err, errJoinSelf) {
		sinkFor(r.Sink).add("join refused")
	}
	if err := c.Remove(ctx); err != nil {
		return nil, err
	}
	return inboxOf(f).Receive("never"), nil
}

// raceRoutine waits for a reply or a timeout, whichever comes first.
type raceRoutine struct {
	Sink    string
	Key     string
	Timeout time.Duration
	Phase   int
}

func (r *raceRoutine) Run(ctx context.Context, f api.Fiber) (api.Condition, error) {
	if r.Phase == 0 {
		r.Phase = 1
		return api.Or(inboxOf(f).Receive(r.Key), timerOf(f).After(r.Timeout)), nil
	}
	switch v := f.Value().(type) {
	case timer.Expired:
		sinkFor(r.Sink).add("timeout")
	default:
		sinkFor(r.Sink).add("reply:" + fmt.Sprint(v))
	}
	return nil, nil
}

type emptyOr struct{}

func (emptyOr) Run(ctx context.Context, f api.Fiber) (api.Condition, error) {
	return api.Or(), nil
}

// panicCond fails to register with its resource.
type panicCond struct {
	api.Base
}

func (*panicCond) OnParked()    { panic("cannot register") }
func (*panicCond) OnInterrupt() {}
func (*panicCond) OnLoad()      {}

type parkPanic struct{}

func (*parkPanic) Run(ctx context.Context, f api.Fiber) (api.Condition, error) {
	return &panicCond{}, nil
}

// blockRoutine holds its first segment open between two gates, then
// parks on the inbox key named after its sink.
type blockRoutine struct {
	Sink    string
	Started string
	Release string
}

func (r *blockRoutine) Run(ctx context.Context, f api.Fiber) (api.Condition, error) {
	if err := arrive(r.Started); err != nil {
		return nil, err
	}
	if err := arrive(r.Release); err != nil {
		return nil, err
	}
	sinkFor(r.Sink).add("finished")
	return inboxOf(f).Receive(r.Sink), nil
}

var manuals sync.Map

// manualRoutine suspends on a Manual condition that tests reach through
// manualFor, then reports the value it was woken with.
type manualRoutine struct {
	Sink  string
	Label string
	Phase int
}

func (r *manualRoutine) Run(ctx context.Context, f api.Fiber) (api.Condition, error) {
	if r.Phase == 0 {
		r.Phase = 1
		m := api.NewManual(r.Label)
		manuals.Store(r.Label, m)
		return m, nil
	}
	sinkFor(r.Sink).add(fmt.Sprint(f.Value()))
	return nil, nil
}

func manualFor(label string) *api.Manual {
	v, _ := manuals.Load(label)
	m, _ := v.(*api.Manual)
	return m
}

// joinBlocking calls the blocking Join from inside a fiber.
type joinBlocking struct {
	Sink   string
	Target int
}

func (r *joinBlocking) Run(ctx context.Context, f api.Fiber) (api.Condition, error) {
	c, ok := f.Engine().Conversation(r.Target)
	if !ok {
		return nil, fmt.Errorf("conversation %d not found", r.Target)
	}
	if err := c.Join(ctx); errors.Is(err, api.ErrJoinFromFiber) {
		sinkFor(r.Sink).add("refused")
	}
	return nil, nil
}

// countingStore counts the writes that reach the wrapped store. The
// optional hooks run under the conversation lock, before the write.
type countingStore struct {
	persistence.Store

	saveState        atomic.Int32
	saveContinuation atomic.Int32
	loadContinuation atomic.Int32

	onSaveContinuation func(id int)
	onSaveState        func(id int, data []byte)
}

func (s *countingStore) SaveState(ctx context.Context, id int, data []byte) error {
	s.saveState.Add(1)
	if s.onSaveState != nil {
		s.onSaveState(id, data)
	}
	return s.Store.SaveState(ctx, id, data)
}

func (s *countingStore) SaveContinuation(ctx context.Context, id int, data []byte) error {
	s.saveContinuation.Add(1)
	if s.onSaveContinuation != nil {
		s.onSaveContinuation(id)
	}
	return s.Store.SaveContinuation(ctx, id, data)
}

func (s *countingStore) LoadContinuation(ctx context.Context, id int) ([]byte, error) {
	s.loadContinuation.Add(1)
	return s.Store.LoadContinuation(ctx, id)
}

func (s *countingStore) reset() {
	s.saveState.Store(0)
	s.saveContinuation.Store(0)
	s.loadContinuation.Store(0)
}

var errSaveFailed = errors.New("disk full")

type failingStore struct {
	persistence.Store
}

func (failingStore) SaveState(ctx context.Context, id int, data []byte) error {
	return errSaveFailed
}

type countingObserver struct {
	api.NoopObserver
	started atomic.Int32
	ended   atomic.Int32
	failed  atomic.Int32
	persist atomic.Int32
}

func (o *countingObserver) OnConversationStart(ctx context.Context, c api.Conversation) {
	o.started.Add(1)
}

func (o *countingObserver) OnConversationEnd(ctx context.Context, c api.Conversation) {
	o.ended.Add(1)
}

func (o *countingObserver) OnConversationFailed(ctx context.Context, c api.Conversation, err error) {
	o.failed.Add(1)
}

func (o *countingObserver) OnPersist(ctx context.Context, c api.Conversation, err error, d time.Duration) {
	o.persist.Add(1)
}

// panicObserver panics in hooks that run on both sides of a segment.
type panicObserver struct {
	api.NoopObserver
}

func (panicObserver) OnFiberStart(ctx context.Context, f api.Fiber) {
	panic("observer broke")
}

func (panicObserver) OnConversationEnd(ctx context.Context, c api.Conversation) {
	panic("observer broke")
}
