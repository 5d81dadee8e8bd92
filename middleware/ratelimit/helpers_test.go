package ratelimit

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"quota-coordinator/middleware/ratelimit/application"
	"quota-coordinator/middleware/ratelimit/domain"
	"quota-coordinator/middleware/ratelimit/infra"
)

var t0 = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testStack struct {
	clock   *fakeClock
	store   *infra.MemoryStore
	limiter *application.Limiter
	retrier *application.Retrier
	sleeps  []time.Duration
}

func newTestStack(t *testing.T, services map[domain.Service]domain.BucketConfig, policy domain.RetryPolicy) *testStack {
	t.Helper()

	ts := &testStack{clock: &fakeClock{now: t0}}
	ts.store = infra.NewMemoryStore(infra.WithClock(ts.clock), infra.WithCleanupEvery(0))
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	ts.limiter = application.NewLimiter(ts.store, services, application.WithClock(ts.clock), application.WithLogger(log))
	ts.retrier = application.NewRetrier(ts.limiter, policy,
		application.WithRetrierLogger(log),
		application.WithSleeper(func(ctx context.Context, d time.Duration) error {
			ts.sleeps = append(ts.sleeps, d)
			ts.clock.Advance(d)
			return ctx.Err()
		}))
	return ts
}
