package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"quota-coordinator/middleware/ratelimit/domain"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Limiter é a fachada por serviço: uma tentativa, sem dormir.
//
// Não guarda tokens em memória. Toda decisão passa pelo BucketStore.
type Limiter struct {
	services map[domain.Service]domain.BucketConfig
	store    domain.BucketStore
	clock    domain.Clock
	stats    domain.StatsStore
	log      *slog.Logger

	failOpen bool
	// openWarn segura o log de fail-open para uma queda não inundar a saída.
	openWarn *rate.Sometimes
}

type LimiterOption func(*Limiter)

func WithClock(c domain.Clock) LimiterOption {
	return func(l *Limiter) { l.clock = c }
}

func WithStats(s domain.StatsStore) LimiterOption {
	return func(l *Limiter) { l.stats = s }
}

func WithLogger(log *slog.Logger) LimiterOption {
	return func(l *Limiter) { l.log = log }
}

// WithFailOpen define o comportamento com o store fora do ar. Padrão: true.
func WithFailOpen(v bool) LimiterOption {
	return func(l *Limiter) { l.failOpen = v }
}

func NewLimiter(store domain.BucketStore, services map[domain.Service]domain.BucketConfig, opts ...LimiterOption) *Limiter {
	l := &Limiter{
		services: make(map[domain.Service]domain.BucketConfig, len(services)),
		store:    store,
		clock:    domain.SystemClock,
		log:      slog.Default(),
		failOpen: true,
		openWarn: &rate.Sometimes{First: 1, Interval: 10 * time.Second},
	}
	for svc, cfg := range services {
		l.services[svc] = cfg
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Limiter) Config(svc domain.Service) (domain.BucketConfig, error) {
	cfg, ok := l.services[svc]
	if !ok {
		return domain.BucketConfig{}, fmt.Errorf("%w: %q", domain.ErrUnknownService, svc)
	}
	return cfg, nil
}

// Services devolve os serviços configurados em ordem alfabética.
func (l *Limiter) Services() []domain.Service {
	out := make([]domain.Service, 0, len(l.services))
	for svc := range l.services {
		out = append(out, svc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (l *Limiter) FailOpen() bool { return l.failOpen }

func (l *Limiter) Acquire(ctx context.Context, svc domain.Service) (domain.Permit, error) {
	return l.AcquireN(ctx, svc, 1)
}

// AcquireN consome `cost` tokens numa única operação atômica do store.
// Rejeição vira *domain.RateLimitExceededError na hora, sem sleep.
func (l *Limiter) AcquireN(ctx context.Context, svc domain.Service, cost float64) (domain.Permit, error) {
	cfg, err := l.Config(svc)
	if err != nil {
		return domain.Permit{}, err
	}
	if cost < 0 || math.IsNaN(cost) {
		return domain.Permit{}, fmt.Errorf("%w: %v", domain.ErrInvalidCost, cost)
	}

	now := l.clock.Now()
	res, err := l.store.Consume(ctx, svc, cfg, cost, now)
	if err != nil {
		return l.storeFault(ctx, svc, cost, now, err)
	}

	if !res.Admitted {
		l.record(ctx, svc, domain.OutcomeRejected, cost, now)
		retryAfter := domain.RetryAfter(cfg, cost, res.Remaining)
		l.log.Debug("rate limited", "service", svc, "cost", cost, "remaining", res.Remaining, "retry_after", retryAfter)
		return domain.Permit{}, &domain.RateLimitExceededError{
			Service:    svc,
			RetryAfter: retryAfter,
			Remaining:  res.Remaining,
			Attempts:   1,
		}
	}

	l.record(ctx, svc, domain.OutcomeAdmitted, cost, now)
	p := domain.Permit{
		ID:         uuid.New().String(),
		Service:    svc,
		Cost:       cost,
		Remaining:  res.Remaining,
		AdmittedAt: now,
	}
	l.log.Debug("permit granted", "service", svc, "permit", p.ID, "remaining", res.Remaining)
	return p, nil
}

// storeFault aplica a política fail-open/fail-closed. Cancelamento do caller
// e custo inválido não são falha de store e sobem como vieram.
func (l *Limiter) storeFault(ctx context.Context, svc domain.Service, cost float64, now time.Time, err error) (domain.Permit, error) {
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
		return domain.Permit{}, err
	}
	if errors.Is(err, domain.ErrInvalidCost) {
		return domain.Permit{}, err
	}
	if !errors.Is(err, domain.ErrStoreUnavailable) {
		err = &domain.StoreUnavailableError{Service: svc, Op: "consume", Err: err}
	}

	l.record(ctx, svc, domain.OutcomeStoreFault, cost, now)

	if !l.failOpen {
		l.log.Error("bucket store unavailable, failing closed", "service", svc, "err", err)
		return domain.Permit{}, err
	}

	l.openWarn.Do(func() {
		l.log.Warn("bucket store unavailable, failing open", "service", svc, "err", err)
	})
	return domain.Permit{
		ID:         uuid.New().String(),
		Service:    svc,
		Cost:       cost,
		AdmittedAt: now,
		Degraded:   true,
	}, nil
}

// Prime cria, cheios, os buckets de todos os serviços que ainda não existem.
func (l *Limiter) Prime(ctx context.Context) error {
	now := l.clock.Now()
	for _, svc := range l.Services() {
		if _, err := l.store.GetOrInit(ctx, svc, l.services[svc], now); err != nil {
			return fmt.Errorf("prime %q: %w", svc, err)
		}
	}
	return nil
}

func (l *Limiter) record(ctx context.Context, svc domain.Service, o domain.Outcome, cost float64, at time.Time) {
	if l.stats == nil {
		return
	}
	if err := l.stats.Record(ctx, domain.StatsEvent{Service: svc, Outcome: o, Cost: cost, At: at}); err != nil {
		l.log.Debug("rate limit stats record failed", "service", svc, "err", err)
	}
}
