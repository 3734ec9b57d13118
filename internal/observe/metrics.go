// Package observe wires OpenTelemetry metrics and tracing into the
// interview runtime, plus the HTTP middleware that ties them together.
//
// Metrics go through the OTel Metrics API; [InitProvider] registers a
// Prometheus exporter bridge so the standard /metrics scrape keeps working.
// Production code uses [DefaultMetrics]; tests build their own [Metrics]
// over a manual reader to stay isolated.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope for all runtime metrics.
const meterName = "github.com/hireloop-ai/hireloop"

// Metrics holds the metric instruments for the interview pipeline. The
// underlying OTel instruments are safe for concurrent use.
type Metrics struct {
	// STTDuration tracks per-utterance transcription latency.
	STTDuration metric.Float64Histogram

	// LLMDuration tracks question generation / classification latency.
	LLMDuration metric.Float64Histogram

	// TTSDuration tracks synthesis latency on cache misses.
	TTSDuration metric.Float64Histogram

	// DetectDuration tracks per-frame proctoring inference latency.
	DetectDuration metric.Float64Histogram

	// MuxDuration tracks recording finalization (mix + mux + verify).
	MuxDuration metric.Float64Histogram

	// ProviderRequests counts provider API calls.
	// Attributes: provider, kind, status.
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider failures. Attributes: provider, kind.
	ProviderErrors metric.Int64Counter

	// Warnings counts emitted proctoring warnings. Attribute: kind.
	Warnings metric.Int64Counter

	// FallbackQuestions counts canned questions served because generation
	// failed. Attribute: ai_type.
	FallbackQuestions metric.Int64Counter

	// TokenRedemptions counts access-token redemption attempts.
	// Attribute: outcome (created, resumed, rejected).
	TokenRedemptions metric.Int64Counter

	// ActiveSessions tracks live interview sessions.
	ActiveSessions metric.Int64UpDownCounter

	// ActiveRelays tracks open candidate STT websockets.
	ActiveRelays metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP handler latency.
	// Attributes: method, path.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are histogram boundaries in seconds, sized for the voice
// pipeline where anything past a couple of seconds is already a stall.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics builds every instrument on the given provider.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(meterName)
	met := &Metrics{}

	histograms := []struct {
		dst  *metric.Float64Histogram
		name string
		desc string
	}{
		{&met.STTDuration, "hireloop.stt.duration", "Latency of speech-to-text transcription."},
		{&met.LLMDuration, "hireloop.llm.duration", "Latency of LLM completions."},
		{&met.TTSDuration, "hireloop.tts.duration", "Latency of text-to-speech synthesis."},
		{&met.DetectDuration, "hireloop.detect.duration", "Latency of per-frame proctoring inference."},
		{&met.MuxDuration, "hireloop.mux.duration", "Latency of recording finalization."},
	}
	for _, h := range histograms {
		inst, err := meter.Float64Histogram(h.name,
			metric.WithDescription(h.desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		)
		if err != nil {
			return nil, err
		}
		*h.dst = inst
	}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&met.ProviderRequests, "hireloop.provider.requests", "Provider API requests by provider, kind, and status."},
		{&met.ProviderErrors, "hireloop.provider.errors", "Provider failures by provider and kind."},
		{&met.Warnings, "hireloop.proctor.warnings", "Proctoring warnings by kind."},
		{&met.FallbackQuestions, "hireloop.dialogue.fallback_questions", "Canned questions served after generation failures."},
		{&met.TokenRedemptions, "hireloop.token.redemptions", "Access-token redemptions by outcome."},
	}
	for _, c := range counters {
		inst, err := meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, err
		}
		*c.dst = inst
	}

	var err error
	if met.ActiveSessions, err = meter.Int64UpDownCounter("hireloop.active_sessions",
		metric.WithDescription("Live interview sessions."),
	); err != nil {
		return nil, err
	}
	if met.ActiveRelays, err = meter.Int64UpDownCounter("hireloop.active_relays",
		metric.WithDescription("Open candidate transcription websockets."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = meter.Float64Histogram("hireloop.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the process-wide [Metrics], built on the global
// meter provider on first use.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordProviderRequest increments the request counter with the standard
// attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("kind", kind),
		attribute.String("status", status),
	))
}

// RecordProviderError increments the error counter.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("kind", kind),
	))
}

// RecordWarning increments the proctoring warning counter.
func (m *Metrics) RecordWarning(ctx context.Context, kind string) {
	m.Warnings.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordFallbackQuestion increments the canned-question counter.
func (m *Metrics) RecordFallbackQuestion(ctx context.Context, aiType string) {
	m.FallbackQuestions.Add(ctx, 1, metric.WithAttributes(attribute.String("ai_type", aiType)))
}

// RecordTokenRedemption increments the redemption counter.
func (m *Metrics) RecordTokenRedemption(ctx context.Context, outcome string) {
	m.TokenRedemptions.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
