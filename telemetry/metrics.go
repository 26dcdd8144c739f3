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
	PollCycles         prometheus.Counter
	ChannelsPolled     prometheus.Counter
	ChannelPollErrors  *prometheus.CounterVec
	NovelClips         *prometheus.CounterVec
	LiveTransitions    *prometheus.CounterVec
	NotificationsSent  prometheus.Counter
	CredentialFailures *prometheus.CounterVec

	// Histograms (seconds)
	PollCycleDuration   prometheus.Observer
	ChannelPollDuration prometheus.Observer

	// Gauges
	TrackedChannelsGauge prometheus.Gauge
	PollIntervalGauge    prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		PollCycles = promauto.NewCounter(prometheus.CounterOpts{Name: "streamclips_poll_cycles_total", Help: "Number of completed poll cycles"})
		ChannelsPolled = promauto.NewCounter(prometheus.CounterOpts{Name: "streamclips_channels_polled_total", Help: "Number of per-channel poll attempts"})
		ChannelPollErrors = promauto.NewCounterVec(prometheus.CounterOpts{Name: "streamclips_channel_poll_errors_total", Help: "Per-channel poll failures"}, []string{"platform"})
		NovelClips = promauto.NewCounterVec(prometheus.CounterOpts{Name: "streamclips_novel_clips_total", Help: "Newly discovered clips"}, []string{"platform"})
		LiveTransitions = promauto.NewCounterVec(prometheus.CounterOpts{Name: "streamclips_live_transitions_total", Help: "Offline to online transitions observed"}, []string{"platform"})
		NotificationsSent = promauto.NewCounter(prometheus.CounterOpts{Name: "streamclips_notifications_total", Help: "Notifications dispatched"})
		CredentialFailures = promauto.NewCounterVec(prometheus.CounterOpts{Name: "streamclips_credential_failures_total", Help: "Invalid-credential errors per platform"}, []string{"platform"})
		PollCycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "streamclips_poll_cycle_duration_seconds", Help: "Full poll cycle duration seconds", Buckets: prometheus.DefBuckets})
		ChannelPollDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "streamclips_channel_poll_duration_seconds", Help: "Per-channel poll duration seconds", Buckets: prometheus.DefBuckets})
		TrackedChannelsGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "streamclips_tracked_channels", Help: "Current number of watched channels"})
		PollIntervalGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "streamclips_poll_interval_seconds", Help: "Effective poll interval seconds"})
	})
}

// SetTrackedChannels records the current watched channel count.
func SetTrackedChannels(n int) {
	if TrackedChannelsGauge != nil {
		TrackedChannelsGauge.Set(float64(n))
	}
}

// SetPollInterval records the effective poll interval.
func SetPollInterval(d time.Duration) {
	if PollIntervalGauge != nil {
		PollIntervalGauge.Set(d.Seconds())
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding correlation id (if absent) and the id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	if s, ok := ctx.Value(corrKey).(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
