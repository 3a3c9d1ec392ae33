// Package telemetry provides Prometheus metrics, OpenTelemetry tracing for pipeline attempts
// and stages, and correlation-id aware logging helpers.
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
	AttemptsTotal     *prometheus.CounterVec // label: outcome
	StageFailures     *prometheus.CounterVec // label: stage
	PublishesTotal    *prometheus.CounterVec // label: result (delivered|not_ready|error)
	CleanupFailures   prometheus.Counter
	PipelineAborts    *prometheus.CounterVec // label: reason
	LiveChecksSkipped prometheus.Counter

	// Histograms (seconds)
	StageDuration   *prometheus.HistogramVec // label: stage
	AttemptDuration prometheus.Observer

	// Gauges
	StateGauge              *prometheus.GaugeVec // label: state, 1 for the active state
	ConsecutiveFailureGauge prometheus.Gauge
	NoiseThresholdGauge     prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		AttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{Name: "limebot_attempts_total", Help: "Pipeline attempts by outcome"}, []string{"outcome"})
		StageFailures = promauto.NewCounterVec(prometheus.CounterOpts{Name: "limebot_stage_failures_total", Help: "Pipeline stage failures"}, []string{"stage"})
		PublishesTotal = promauto.NewCounterVec(prometheus.CounterOpts{Name: "limebot_publishes_total", Help: "Transcript publish attempts by result"}, []string{"result"})
		CleanupFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "limebot_cleanup_failures_total", Help: "Artifact deletions that failed"})
		PipelineAborts = promauto.NewCounterVec(prometheus.CounterOpts{Name: "limebot_pipeline_aborts_total", Help: "Pipeline runs aborted by reason"}, []string{"reason"})
		LiveChecksSkipped = promauto.NewCounter(prometheus.CounterOpts{Name: "limebot_offline_skips_total", Help: "Attempts skipped because the source channel was offline"})
		StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{Name: "limebot_stage_duration_seconds", Help: "Pipeline stage duration seconds", Buckets: prometheus.DefBuckets}, []string{"stage"})
		AttemptDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "limebot_attempt_duration_seconds", Help: "Full attempt duration seconds", Buckets: []float64{1, 5, 10, 20, 30, 45, 60, 90, 120, 300}})
		StateGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{Name: "limebot_pipeline_state", Help: "Current pipeline state (1 = active)"}, []string{"state"})
		ConsecutiveFailureGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "limebot_consecutive_failures", Help: "Failed attempts since the last successful transcription"})
		NoiseThresholdGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "limebot_noise_energy_threshold", Help: "Energy threshold from the last ambient noise calibration"})
	})
}

// SetState marks state as the single active pipeline state. States lists every known state
// so the previous one is zeroed.
func SetState(state string, states []string) {
	if StateGauge == nil {
		return
	}
	for _, s := range states {
		if s == state {
			StateGauge.WithLabelValues(s).Set(1)
		} else {
			StateGauge.WithLabelValues(s).Set(0)
		}
	}
}

// SetConsecutiveFailures records the current failure streak.
func SetConsecutiveFailures(n int) {
	if ConsecutiveFailureGauge != nil {
		ConsecutiveFailureGauge.Set(float64(n))
	}
}

// SetNoiseThreshold records the last calibration threshold.
func SetNoiseThreshold(v float64) {
	if NoiseThresholdGauge != nil {
		NoiseThresholdGauge.Set(v)
	}
}

// IncCleanupFailure counts one failed artifact deletion.
func IncCleanupFailure() {
	if CleanupFailures != nil {
		CleanupFailures.Inc()
	}
}

// IncAttempt counts a finished attempt by outcome.
func IncAttempt(outcome string) {
	if AttemptsTotal != nil {
		AttemptsTotal.WithLabelValues(outcome).Inc()
	}
}

// IncStageFailure counts a failed stage.
func IncStageFailure(stage string) {
	if StageFailures != nil {
		StageFailures.WithLabelValues(stage).Inc()
	}
}

// IncPublish counts a publish attempt by result.
func IncPublish(result string) {
	if PublishesTotal != nil {
		PublishesTotal.WithLabelValues(result).Inc()
	}
}

// IncAbort counts a pipeline abort.
func IncAbort(reason string) {
	if PipelineAborts != nil {
		PipelineAborts.WithLabelValues(reason).Inc()
	}
}

// IncOfflineSkip counts an attempt skipped because the source was offline.
func IncOfflineSkip() {
	if LiveChecksSkipped != nil {
		LiveChecksSkipped.Inc()
	}
}

// ObserveAttempt records a full attempt's duration.
func ObserveAttempt(d time.Duration) {
	if AttemptDuration != nil {
		AttemptDuration.Observe(d.Seconds())
	}
}

// StageObserver returns the duration histogram for a pipeline stage, or nil before Init.
func StageObserver(stage string) prometheus.Observer {
	if StageDuration == nil {
		return nil
	}
	return StageDuration.WithLabelValues(stage)
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

// WithCorrelation returns a new context embedding the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	v := ctx.Value(corrKey)
	if s, ok := v.(string); ok {
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
