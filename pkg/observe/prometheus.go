package observe

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/petrijr/dalma/pkg/api"
)

// DefaultNamespace prefixes every metric unless another one is given.
const DefaultNamespace = "dalma"

// PrometheusObserver exports engine activity as Prometheus metrics.
type PrometheusObserver struct {
	api.NoopObserver

	conversationsStarted prometheus.Counter
	conversationsEnded   prometheus.Counter
	conversationsFailed  prometheus.Counter
	segments             *prometheus.CounterVec
	segmentDuration      prometheus.Histogram
	storeDuration        *prometheus.HistogramVec
	storeErrors          *prometheus.CounterVec
}

var _ api.Observer = (*PrometheusObserver)(nil)

// NewPrometheusObserver registers the engine metrics on reg. A nil reg
// means prometheus.DefaultRegisterer.
func NewPrometheusObserver(reg prometheus.Registerer, namespace string) *PrometheusObserver {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = DefaultNamespace
	}
	f := promauto.With(reg)

	return &PrometheusObserver{
		conversationsStarted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversations_started_total",
			Help:      "Conversations created by Start.",
		}),
		conversationsEnded: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversations_ended_total",
			Help:      "Conversations removed, whether completed or killed.",
		}),
		conversationsFailed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversations_failed_total",
			Help:      "Conversations killed by an application or persistence error.",
		}),
		segments: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fiber_segments_total",
			Help:      "Fiber segments executed, by the state the fiber moved to.",
		}, []string{"next", "result"}),
		segmentDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fiber_segment_duration_seconds",
			Help:      "Wall time of one fiber segment.",
			Buckets:   prometheus.DefBuckets,
		}),
		storeDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "store_duration_seconds",
			Help:      "Time spent persisting or restoring a conversation.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		storeErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_errors_total",
			Help:      "Failed persist and restore operations.",
		}, []string{"op"}),
	}
}

func (o *PrometheusObserver) OnConversationStart(ctx context.Context, c api.Conversation) {
	o.conversationsStarted.Inc()
}

func (o *PrometheusObserver) OnConversationEnd(ctx context.Context, c api.Conversation) {
	o.conversationsEnded.Inc()
}

func (o *PrometheusObserver) OnConversationFailed(ctx context.Context, c api.Conversation, err error) {
	o.conversationsFailed.Inc()
}

func (o *PrometheusObserver) OnFiberCompleted(ctx context.Context, f api.Fiber, next api.FiberState, err error, d time.Duration) {
	o.segments.WithLabelValues(string(next), result(err)).Inc()
	o.segmentDuration.Observe(d.Seconds())
}

func (o *PrometheusObserver) OnPersist(ctx context.Context, c api.Conversation, err error, d time.Duration) {
	o.observeStore("persist", err, d)
}

func (o *PrometheusObserver) OnRestore(ctx context.Context, c api.Conversation, err error, d time.Duration) {
	o.observeStore("restore", err, d)
}

func (o *PrometheusObserver) observeStore(op string, err error, d time.Duration) {
	o.storeDuration.WithLabelValues(op).Observe(d.Seconds())
	if err != nil {
		o.storeErrors.WithLabelValues(op).Inc()
	}
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
