package infra

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"quota-coordinator/middleware/ratelimit/domain"

	"github.com/redis/go-redis/v9"
)

// RedisStatsStore agrega as decisões de todos os processos em hashes Redis:
//
//	<prefix>:total              admitted/rejected/store_fault (cumulativo, não expira)
//	<prefix>:service:<svc>      idem, por serviço (expira com ttl)
//	<prefix>:minute:<yyyymmddhhmm>:<svc>  série por minuto (expira com ttl)
type RedisStatsStore struct {
	rdb redis.UniversalClient

	prefix string
	// ttl aplica apenas em chaves de série temporal / por serviço.
	ttl time.Duration

	bucket string // "minute" (padrão) ou "none"
}

type RedisStatsOption func(*RedisStatsStore)

func WithStatsPrefix(prefix string) RedisStatsOption {
	return func(s *RedisStatsStore) {
		s.prefix = strings.Trim(prefix, ":")
	}
}

func WithStatsTTL(d time.Duration) RedisStatsOption {
	return func(s *RedisStatsStore) { s.ttl = d }
}

func WithStatsBucket(bucket string) RedisStatsOption {
	return func(s *RedisStatsStore) { s.bucket = strings.ToLower(strings.TrimSpace(bucket)) }
}

func NewRedisStatsStore(rdb redis.UniversalClient, opts ...RedisStatsOption) *RedisStatsStore {
	s := &RedisStatsStore{
		rdb:    rdb,
		prefix: "ratelimit:stats",
		ttl:    24 * time.Hour,
		bucket: "minute",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStatsStore) Record(ctx context.Context, ev domain.StatsEvent) error {
	if s == nil || s.rdb == nil {
		return nil
	}

	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	field := string(ev.Outcome)
	svc := strings.TrimSpace(string(ev.Service))

	pipe := s.rdb.Pipeline()
	pipe.HIncrBy(ctx, s.prefix+":total", field, 1)

	if svc != "" {
		svcKey := s.prefix + ":service:" + svc
		pipe.HIncrBy(ctx, svcKey, field, 1)
		if s.ttl > 0 {
			pipe.Expire(ctx, svcKey, s.ttl)
		}

		if s.bucket == "minute" {
			bucketKey := fmt.Sprintf("%s:minute:%s:%s", s.prefix, at.UTC().Format("200601021504"), svc)
			pipe.HIncrBy(ctx, bucketKey, field, 1)
			if s.ttl > 0 {
				pipe.Expire(ctx, bucketKey, s.ttl)
			}
		}
	}

	_, err := pipe.Exec(ctx)
	return err
}

// Counters lê os contadores agregados de um serviço (ou o total, se svc for vazio).
func (s *RedisStatsStore) Counters(ctx context.Context, svc domain.Service) (Counters, error) {
	key := s.prefix + ":total"
	if svc != "" {
		key = s.prefix + ":service:" + string(svc)
	}

	vals, err := s.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return Counters{}, err
	}

	var c Counters
	c.Admitted, _ = strconv.ParseInt(vals[string(domain.OutcomeAdmitted)], 10, 64)
	c.Rejected, _ = strconv.ParseInt(vals[string(domain.OutcomeRejected)], 10, 64)
	c.StoreFaults, _ = strconv.ParseInt(vals[string(domain.OutcomeStoreFault)], 10, 64)
	return c, nil
}
