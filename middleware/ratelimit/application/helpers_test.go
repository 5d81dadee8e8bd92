package application

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

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

// fakeSleeper registra as esperas e avança o relógio em vez de dormir.
type fakeSleeper struct {
	clock  *fakeClock
	sleeps []time.Duration
}

func (s *fakeSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.sleeps = append(s.sleeps, d)
	if s.clock != nil {
		s.clock.Advance(d)
	}
	return nil
}

// brokenStore simula o store fora do ar.
type brokenStore struct{}

var errConnRefused = errors.New("dial tcp 127.0.0.1:6379: connect: connection refused")

func (brokenStore) GetOrInit(context.Context, domain.Service, domain.BucketConfig, time.Time) (domain.Bucket, error) {
	return domain.Bucket{}, errConnRefused
}

func (brokenStore) Consume(context.Context, domain.Service, domain.BucketConfig, float64, time.Time) (domain.ConsumeResult, error) {
	return domain.ConsumeResult{}, errConnRefused
}

func (brokenStore) Peek(context.Context, domain.Service) (domain.Bucket, bool, error) {
	return domain.Bucket{}, false, errConnRefused
}

func (brokenStore) Reset(context.Context, domain.Service, domain.BucketConfig, time.Time) error {
	return errConnRefused
}

func newTestLogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return slog.New(slog.NewTextHandler(&buf, nil)), &buf
}

func newMemoryLimiter(clock *fakeClock, services map[domain.Service]domain.BucketConfig, opts ...LimiterOption) (*Limiter, *infra.MemoryStore) {
	store := infra.NewMemoryStore(infra.WithClock(clock), infra.WithCleanupEvery(0))
	log, _ := newTestLogger()
	opts = append([]LimiterOption{WithClock(clock), WithLogger(log)}, opts...)
	return NewLimiter(store, services, opts...), store
}
