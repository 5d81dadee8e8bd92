package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"quota-coordinator/middleware/ratelimit/application"
	"quota-coordinator/middleware/ratelimit/config"
	"quota-coordinator/middleware/ratelimit/domain"
	"quota-coordinator/middleware/ratelimit/infra"

	"github.com/redis/go-redis/v9"
)

// Stack é o rate limit montado a partir de uma config.Config.
type Stack struct {
	Config config.Config

	Limiter *application.Limiter
	Retrier *application.Retrier
	Status  *application.StatusReporter
	Admin   *application.Admin

	Store domain.BucketStore
	Stats domain.StatsStore
	Redis *redis.Client

	closers []func() error
}

type openOptions struct {
	log   *slog.Logger
	redis *redis.Client
	sleep application.Sleeper
	clock domain.Clock
}

type OpenOption func(*openOptions)

func WithOpenLogger(log *slog.Logger) OpenOption {
	return func(o *openOptions) { o.log = log }
}

// WithRedisClient usa um cliente já aberto em vez de conectar em cfg.Redis.
// O Stack não fecha esse cliente.
func WithRedisClient(rdb *redis.Client) OpenOption {
	return func(o *openOptions) { o.redis = rdb }
}

func WithOpenSleeper(s application.Sleeper) OpenOption {
	return func(o *openOptions) { o.sleep = s }
}

func WithOpenClock(c domain.Clock) OpenOption {
	return func(o *openOptions) { o.clock = c }
}

// Open monta store, stats, Limiter, Retrier, StatusReporter e Admin.
// O janitor do MemoryStore roda até ctx encerrar.
func Open(ctx context.Context, cfg config.Config, opts ...OpenOption) (*Stack, error) {
	o := openOptions{log: slog.Default(), clock: domain.SystemClock}
	for _, opt := range opts {
		opt(&o)
	}

	st := &Stack{Config: cfg, Redis: o.redis}

	if st.Redis == nil && (cfg.Store == "redis" || cfg.Stats.Backend == "redis") {
		rdb, err := infra.NewRedisClient(ctx, infra.RedisOptions{
			Addr:        cfg.Redis.Addr,
			Password:    cfg.Redis.Password,
			DB:          cfg.Redis.DB,
			DialTimeout: cfg.Redis.DialTimeout,
		})
		if err != nil {
			return nil, err
		}
		st.Redis = rdb
		st.closers = append(st.closers, rdb.Close)
	}

	switch cfg.Store {
	case "memory":
		ms := infra.NewMemoryStore(infra.WithClock(o.clock))
		ms.StartJanitor(ctx)
		st.Store = ms
	case "redis":
		st.Store = infra.NewRedisStore(st.Redis,
			infra.WithKeyPrefix(cfg.KeyPrefix),
			infra.WithMode(infra.Mode(cfg.StoreMode)))
	default:
		_ = st.Close()
		return nil, fmt.Errorf("%w: unknown store %q", domain.ErrInvalidConfig, cfg.Store)
	}

	switch cfg.Stats.Backend {
	case "", "none":
	case "memory":
		st.Stats = infra.NewMemoryStatsStore()
	case "redis":
		st.Stats = infra.NewRedisStatsStore(st.Redis,
			infra.WithStatsPrefix(cfg.Stats.Prefix),
			infra.WithStatsTTL(cfg.Stats.TTL))
	case "otel":
		ots, err := infra.NewOTelStatsStore(nil)
		if err != nil {
			_ = st.Close()
			return nil, err
		}
		st.Stats = ots
	default:
		_ = st.Close()
		return nil, fmt.Errorf("%w: unknown stats backend %q", domain.ErrInvalidConfig, cfg.Stats.Backend)
	}

	lopts := []application.LimiterOption{
		application.WithLogger(o.log),
		application.WithClock(o.clock),
		application.WithFailOpen(cfg.FailOpen),
	}
	if st.Stats != nil {
		lopts = append(lopts, application.WithStats(st.Stats))
	}
	st.Limiter = application.NewLimiter(st.Store, cfg.Services, lopts...)

	ropts := []application.RetrierOption{application.WithRetrierLogger(o.log)}
	if o.sleep != nil {
		ropts = append(ropts, application.WithSleeper(o.sleep))
	}
	st.Retrier = application.NewRetrier(st.Limiter, cfg.Retry, ropts...)
	st.Status = application.NewStatusReporter(st.Limiter)
	st.Admin = application.NewAdmin(st.Limiter, cfg.AllowReset)

	o.log.Info("rate limit ready",
		"store", cfg.Store, "mode", cfg.StoreMode, "stats", cfg.Stats.Backend,
		"services", len(cfg.Services), "fail_open", cfg.FailOpen, "allow_reset", cfg.AllowReset)
	return st, nil
}

// Transport devolve um RoundTripper limitado com as cotas e limites de
// concorrência da config.
func (s *Stack) Transport(base http.RoundTripper, fn ServiceFunc) *Transport {
	return NewTransport(TransportOptions{
		Base:      base,
		Retrier:   s.Retrier,
		ServiceFn: fn,
		Concurrency: ConcurrencyOptions{
			MaxInFlight:    s.Config.MaxInFlight,
			AcquireTimeout: s.Config.ConcurrencyTimeout,
		},
	})
}

func (s *Stack) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
