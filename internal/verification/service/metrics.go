package service

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"voicegate/backend/internal/verification/domain"
)

// Metrics holds the OTel instruments for the decision path.
type Metrics struct {
	decisions metric.Int64Counter
	duration  metric.Float64Histogram
}

// NewMetrics creates the decision counter and latency histogram on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	decisions, err := meter.Int64Counter("voicegate.verify.decisions",
		metric.WithDescription("Terminal verification decisions by reason"))
	if err != nil {
		return nil, err
	}
	duration, err := meter.Float64Histogram("voicegate.verify.duration",
		metric.WithDescription("End-to-end verification processing time"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}
	return &Metrics{decisions: decisions, duration: duration}, nil
}

// RecordDecision records one terminal decision.
func (m *Metrics) RecordDecision(ctx context.Context, a *domain.AuthAttemptResult) {
	attrs := metric.WithAttributes(
		attribute.String("reason", string(a.Reason)),
		attribute.Bool("success", a.Success),
		attribute.String("policy", a.PolicyName),
	)
	m.decisions.Add(ctx, 1, attrs)
	m.duration.Record(ctx, float64(a.ProcessingTimeMS), attrs)
}
