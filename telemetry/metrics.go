// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
    once sync.Once

    // Counters
    ExcerptsStarted   prometheus.Counter
    ExcerptsFailed    prometheus.Counter
    ExcerptsSucceeded prometheus.Counter
    SegmentsFetched   prometheus.Counter
    SegmentFetchFailures prometheus.Counter
    ChatPagesFetched  prometheus.Counter
    ChatEventsDropped prometheus.Counter
    ProcessingCycles  prometheus.Counter

    // Histograms (seconds)
    FetchDuration prometheus.Observer
    ChatDuration  prometheus.Observer
    TotalProcessDuration prometheus.Observer

    // Gauges
    QueueDepthGauge prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
    once.Do(func() {
        ExcerptsStarted = promauto.NewCounter(prometheus.CounterOpts{Name: "excerpt_jobs_started_total", Help: "Number of excerpt jobs started"})
        ExcerptsFailed = promauto.NewCounter(prometheus.CounterOpts{Name: "excerpt_jobs_failed_total", Help: "Number of excerpt jobs failed"})
        ExcerptsSucceeded = promauto.NewCounter(prometheus.CounterOpts{Name: "excerpt_jobs_succeeded_total", Help: "Number of excerpt jobs succeeded"})
        SegmentsFetched = promauto.NewCounter(prometheus.CounterOpts{Name: "excerpt_segments_fetched_total", Help: "Number of media segments fetched"})
        SegmentFetchFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "excerpt_segment_fetch_failures_total", Help: "Number of media segments that exhausted retries"})
        ChatPagesFetched = promauto.NewCounter(prometheus.CounterOpts{Name: "excerpt_chat_pages_fetched_total", Help: "Number of chat replay pages fetched"})
        ChatEventsDropped = promauto.NewCounter(prometheus.CounterOpts{Name: "excerpt_chat_events_dropped_total", Help: "Number of chat events dropped outside the media duration"})
        ProcessingCycles = promauto.NewCounter(prometheus.CounterOpts{Name: "excerpt_processing_cycles_total", Help: "Number of processing cycles (processOnce invocations)"})
        FetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "excerpt_fetch_duration_seconds", Help: "Media fetch duration seconds", Buckets: prometheus.DefBuckets})
        ChatDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "excerpt_chat_duration_seconds", Help: "Chat collection duration seconds", Buckets: prometheus.DefBuckets})
        TotalProcessDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "excerpt_processing_total_duration_seconds", Help: "Total processing cycle duration seconds", Buckets: prometheus.DefBuckets})
        QueueDepthGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "excerpt_queue_depth", Help: "Current number of pending excerpt requests"})
    })
}

// SetQueueDepth records current pending excerpt count.
func SetQueueDepth(n int) { if QueueDepthGauge != nil { QueueDepthGauge.Set(float64(n)) } }

// IncSegmentFetched increments the fetched-segment counter if registered.
func IncSegmentFetched() { if SegmentsFetched != nil { SegmentsFetched.Inc() } }

// IncSegmentFailed increments the failed-segment counter if registered.
func IncSegmentFailed() { if SegmentFetchFailures != nil { SegmentFetchFailures.Inc() } }

// IncChatPage increments the chat-page counter if registered.
func IncChatPage() { if ChatPagesFetched != nil { ChatPagesFetched.Inc() } }

// AddChatDropped records chat events that fell outside the media duration.
func AddChatDropped(n int) { if ChatEventsDropped != nil && n > 0 { ChatEventsDropped.Add(float64(n)) } }

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
    start := time.Now()
    fn()
    d := time.Since(start)
    if obs != nil { obs.Observe(d.Seconds()) }
    return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}
var corrKey corrKeyType

// WithCorrelation returns a new context embedding correlation id (if absent) and the id.
func WithCorrelation(ctx context.Context, id string) context.Context { return context.WithValue(ctx, corrKey, id) }

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
    v := ctx.Value(corrKey)
    if s, ok := v.(string); ok { return s }
    return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
    if id := GetCorrelation(ctx); id != "" { return slog.Default().With(slog.String("corr", id)) }
    return slog.Default()
}
