package application

import (
	"context"
	"log/slog"
	"time"

	"quota-coordinator/middleware/ratelimit/domain"
)

// Sleeper dorme d ou até ctx acabar, o que vier primeiro.
type Sleeper func(ctx context.Context, d time.Duration) error

// SleepContext é o Sleeper padrão. Suspende só a goroutine chamadora.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Retrier embrulha o Limiter com backoff exponencial.
type Retrier struct {
	limiter *Limiter
	policy  domain.RetryPolicy
	sleep   Sleeper
	log     *slog.Logger
}

type RetrierOption func(*Retrier)

func WithSleeper(s Sleeper) RetrierOption {
	return func(r *Retrier) { r.sleep = s }
}

func WithRetrierLogger(log *slog.Logger) RetrierOption {
	return func(r *Retrier) { r.log = log }
}

func NewRetrier(l *Limiter, policy domain.RetryPolicy, opts ...RetrierOption) *Retrier {
	r := &Retrier{
		limiter: l,
		policy:  policy,
		sleep:   SleepContext,
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Retrier) Limiter() *Limiter { return r.limiter }

func (r *Retrier) Policy() domain.RetryPolicy { return r.policy }

func (r *Retrier) TryAcquireWithRetry(ctx context.Context, svc domain.Service) (domain.Permit, error) {
	return r.TryAcquireNWithRetry(ctx, svc, 1)
}

// TryAcquireNWithRetry tenta, e em cada rejeição dorme backoff(n) antes da
// próxima tentativa, até MaxRetries retentativas. Só RateLimitExceeded é
// retentado; qualquer outro erro sobe direto.
func (r *Retrier) TryAcquireNWithRetry(ctx context.Context, svc domain.Service, cost float64) (domain.Permit, error) {
	rc := r.policy.NewContext()
	for {
		if err := ctx.Err(); err != nil {
			return domain.Permit{}, err
		}

		p, err := r.limiter.AcquireN(ctx, svc, cost)
		if err == nil {
			return p, nil
		}
		rle, ok := domain.IsRateLimited(err)
		if !ok {
			return domain.Permit{}, err
		}

		if rc.Exhausted() {
			rle.Attempts = rc.Attempt + 1
			r.log.Warn("rate limit retries exhausted",
				"service", svc, "attempts", rle.Attempts, "retry_after", rle.RetryAfter)
			return domain.Permit{}, rle
		}

		d := rc.Next(rle.RetryAfter)
		r.log.Debug("rate limited, backing off", "service", svc, "attempt", rc.Attempt, "sleep", d)
		if err := r.sleep(ctx, d); err != nil {
			return domain.Permit{}, err
		}
	}
}

// Do adquire um permit (com retry) e chama fn exatamente uma vez.
// Erro de fn volta sem alteração.
func (r *Retrier) Do(ctx context.Context, svc domain.Service, fn func(ctx context.Context) error) error {
	if _, err := r.TryAcquireWithRetry(ctx, svc); err != nil {
		return err
	}
	return fn(ctx)
}

// WithRateLimit é o Do para funções que devolvem valor.
func WithRateLimit[T any](ctx context.Context, r *Retrier, svc domain.Service, fn func(ctx context.Context) (T, error)) (T, error) {
	if _, err := r.TryAcquireWithRetry(ctx, svc); err != nil {
		var zero T
		return zero, err
	}
	return fn(ctx)
}
