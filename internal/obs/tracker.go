package obs

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Usage describes one finished proxy request for metric recording.
type Usage struct {
	// Model is the model the upstream actually served.
	Model string

	// RequestModel is the model the client asked for, before mapping.
	RequestModel string

	// Mode is the proxy mode the request went through ("direct" or "translated").
	Mode string

	// Streamed indicates whether the response was streamed.
	Streamed bool

	// InputTokens is the number of input/prompt tokens consumed.
	InputTokens int

	// OutputTokens is the number of output/completion tokens consumed.
	OutputTokens int

	// ErrorType is the error bucket when the request failed, empty on success.
	// Client disconnects are not failures and should leave this empty.
	ErrorType string

	// Duration is the wall time from accepting the request to finishing the response.
	Duration time.Duration
}

// Tracker records proxy usage through OpenTelemetry instruments.
// A nil *Tracker records nothing, so callers never branch on whether
// metrics are enabled.
type Tracker struct {
	tokenUsage      metric.Int64Counter
	requestCount    metric.Int64Counter
	requestErrors   metric.Int64Counter
	requestDuration metric.Float64Histogram
}

// NewTracker creates a new Tracker with instruments registered on the meter.
func NewTracker(meter metric.Meter) (*Tracker, error) {
	t := &Tracker{}

	var err error

	t.tokenUsage, err = meter.Int64Counter(
		"llm.token.usage",
		metric.WithDescription("LLM token usage by type (input/output)"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, err
	}

	t.requestCount, err = meter.Int64Counter(
		"llm.request.count",
		metric.WithDescription("Number of proxied LLM requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	t.requestErrors, err = meter.Int64Counter(
		"llm.request.errors",
		metric.WithDescription("Number of failed proxied LLM requests"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	t.requestDuration, err = meter.Float64Histogram(
		"llm.request.duration",
		metric.WithDescription("Proxied LLM request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	return t, nil
}

// RecordUsage records one request worth of metrics.
func (t *Tracker) RecordUsage(ctx context.Context, u Usage) {
	if t == nil {
		return
	}

	common := []attribute.KeyValue{
		AttrModel.String(u.Model),
		AttrMode.String(u.Mode),
		AttrStreaming.Bool(u.Streamed),
	}
	if u.RequestModel != "" && u.RequestModel != u.Model {
		common = append(common, AttrRequestModel.String(u.RequestModel))
	}

	if u.InputTokens > 0 {
		attrs := append(common, AttrTokenType.String("input"))
		t.tokenUsage.Add(ctx, int64(u.InputTokens), metric.WithAttributes(attrs...))
	}

	if u.OutputTokens > 0 {
		attrs := append(common, AttrTokenType.String("output"))
		t.tokenUsage.Add(ctx, int64(u.OutputTokens), metric.WithAttributes(attrs...))
	}

	t.requestCount.Add(ctx, 1, metric.WithAttributes(common...))

	if u.Duration > 0 {
		ms := float64(u.Duration) / float64(time.Millisecond)
		t.requestDuration.Record(ctx, ms, metric.WithAttributes(common...))
	}

	if u.ErrorType != "" {
		attrs := append(common, AttrErrorType.String(u.ErrorType))
		t.requestErrors.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}
