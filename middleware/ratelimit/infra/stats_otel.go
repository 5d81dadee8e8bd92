package infra

import (
	"context"

	"quota-coordinator/middleware/ratelimit/domain"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "quota-coordinator/ratelimit"

// OTelStatsStore publica as decisões como contadores OpenTelemetry:
//
//	ratelimit.decisions{service,outcome}  número de decisões
//	ratelimit.tokens{service}             tokens consumidos por admissões
type OTelStatsStore struct {
	decisions metric.Int64Counter
	tokens    metric.Float64Counter
}

// NewOTelStatsStore usa o MeterProvider global quando mp é nil.
func NewOTelStatsStore(mp metric.MeterProvider) (*OTelStatsStore, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(meterName)

	decisions, err := meter.Int64Counter("ratelimit.decisions",
		metric.WithDescription("Total number of rate limit admission decisions"))
	if err != nil {
		return nil, err
	}
	tokens, err := meter.Float64Counter("ratelimit.tokens",
		metric.WithDescription("Total number of tokens consumed by admitted calls"))
	if err != nil {
		return nil, err
	}
	return &OTelStatsStore{decisions: decisions, tokens: tokens}, nil
}

func (s *OTelStatsStore) Record(ctx context.Context, ev domain.StatsEvent) error {
	svc := attribute.String("service", string(ev.Service))
	s.decisions.Add(ctx, 1, metric.WithAttributes(svc, attribute.String("outcome", string(ev.Outcome))))
	if ev.Outcome == domain.OutcomeAdmitted && ev.Cost > 0 {
		s.tokens.Add(ctx, ev.Cost, metric.WithAttributes(svc))
	}
	return nil
}

var _ domain.StatsStore = (*OTelStatsStore)(nil)
