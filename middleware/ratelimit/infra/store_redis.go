package infra

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"quota-coordinator/middleware/ratelimit/domain"

	"github.com/redis/go-redis/v9"
)

// Mode escolhe o primitivo de atomicidade do RedisStore.
type Mode string

const (
	// ModeScript executa refill+decisão+escrita num único EVAL no servidor (padrão).
	ModeScript Mode = "script"
	// ModeCAS usa WATCH/MULTI e repete o ciclo enquanto outro cliente mexer na chave.
	ModeCAS Mode = "cas"
)

// Campos do hash de cada bucket. ts está em microssegundos Unix.
const (
	fieldTokens = "tokens"
	fieldTS     = "ts"
)

// consumeScript espelha domain.RefillAndTryConsume. Manter os dois em sincronia.
//
// KEYS[1] = chave do bucket
// ARGV    = capacity, refill_rate (tokens/s), now (µs), cost, ttl (ms, 0 = sem expiração)
// Retorno = {admitted (0|1), tokens restantes (string)}
var consumeScript = redis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local cost = tonumber(ARGV[4])
local ttl = tonumber(ARGV[5])

local state = redis.call('HMGET', key, 'tokens', 'ts')
local tokens = tonumber(state[1])
local ts = tonumber(state[2])
if tokens == nil or ts == nil then
  tokens = capacity
  ts = now
end

local elapsed = now - ts
if elapsed < 0 then
  elapsed = 0
end

local refilled = 0
if capacity > 0 then
  refilled = math.min(capacity, tokens + (elapsed / 1000000) * rate)
  if refilled < 0 then
    refilled = 0
  end
end

local admitted = 0
if capacity > 0 and refilled >= cost then
  refilled = refilled - cost
  admitted = 1
end

if now > ts then
  ts = now
end

local out = string.format('%.17g', refilled)
redis.call('HSET', key, 'tokens', out, 'ts', string.format('%.0f', ts))
if ttl > 0 then
  redis.call('PEXPIRE', key, ttl)
else
  redis.call('PERSIST', key)
end
return {admitted, out}
`)

// initScript cria o bucket cheio apenas se ele ainda não existir.
//
// ARGV = tokens, now (µs), ttl (ms)
var initScript = redis.NewScript(`
local key = KEYS[1]
local state = redis.call('HMGET', key, 'tokens', 'ts')
if state[1] and state[2] then
  return {state[1], state[2]}
end
redis.call('HSET', key, 'tokens', ARGV[1], 'ts', ARGV[2])
local ttl = tonumber(ARGV[3])
if ttl > 0 then
  redis.call('PEXPIRE', key, ttl)
end
return {ARGV[1], ARGV[2]}
`)

// RedisStore é o BucketStore compartilhado entre processos.
//
// Cada serviço vira um hash {tokens, ts} com TTL de 2 × período, renovado a cada
// consumo. Nenhum estado de bucket fica em cache no processo.
type RedisStore struct {
	rdb    redis.UniversalClient
	prefix string
	mode   Mode
}

type RedisStoreOption func(*RedisStore)

func WithKeyPrefix(prefix string) RedisStoreOption {
	return func(s *RedisStore) {
		if p := strings.Trim(prefix, ":"); p != "" {
			s.prefix = p
		}
	}
}

func WithMode(m Mode) RedisStoreOption {
	return func(s *RedisStore) {
		if m == ModeCAS || m == ModeScript {
			s.mode = m
		}
	}
}

func NewRedisStore(rdb redis.UniversalClient, opts ...RedisStoreOption) *RedisStore {
	s := &RedisStore{
		rdb:    rdb,
		prefix: "ratelimit:bucket",
		mode:   ModeScript,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) Mode() Mode { return s.mode }

func (s *RedisStore) key(svc domain.Service) string {
	return s.prefix + ":" + string(svc)
}

func (s *RedisStore) GetOrInit(ctx context.Context, svc domain.Service, cfg domain.BucketConfig, now time.Time) (domain.Bucket, error) {
	res, err := initScript.Run(ctx, s.rdb, []string{s.key(svc)},
		formatTokens(cfg.Capacity()),
		strconv.FormatInt(now.UnixMicro(), 10),
		cfg.TTL().Milliseconds(),
	).StringSlice()
	if err != nil {
		return domain.Bucket{}, s.wrap(ctx, svc, "get_or_init", err)
	}
	if len(res) != 2 {
		return domain.Bucket{}, fmt.Errorf("unexpected init script result: %v", res)
	}
	return parseBucket(res[0], res[1])
}

// Consume implementa domain.BucketStore.
func (s *RedisStore) Consume(ctx context.Context, svc domain.Service, cfg domain.BucketConfig, cost float64, now time.Time) (domain.ConsumeResult, error) {
	if cost < 0 {
		return domain.ConsumeResult{}, fmt.Errorf("%w: %v", domain.ErrInvalidCost, cost)
	}
	if s.mode == ModeCAS {
		return s.consumeCAS(ctx, svc, cfg, cost, now)
	}
	return s.consumeScript(ctx, svc, cfg, cost, now)
}

func (s *RedisStore) consumeScript(ctx context.Context, svc domain.Service, cfg domain.BucketConfig, cost float64, now time.Time) (domain.ConsumeResult, error) {
	res, err := consumeScript.Run(ctx, s.rdb, []string{s.key(svc)},
		cfg.Capacity(),
		cfg.RefillRate(),
		now.UnixMicro(),
		cost,
		cfg.TTL().Milliseconds(),
	).Slice()
	if err != nil {
		return domain.ConsumeResult{}, s.wrap(ctx, svc, "consume", err)
	}
	if len(res) != 2 {
		return domain.ConsumeResult{}, fmt.Errorf("unexpected consume script result: %v", res)
	}

	admitted, ok := res[0].(int64)
	if !ok {
		return domain.ConsumeResult{}, fmt.Errorf("unexpected admitted type: %T", res[0])
	}
	raw, ok := res[1].(string)
	if !ok {
		return domain.ConsumeResult{}, fmt.Errorf("unexpected tokens type: %T", res[1])
	}
	tokens, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return domain.ConsumeResult{}, fmt.Errorf("parse tokens %q: %w", raw, err)
	}
	return domain.ConsumeResult{Admitted: admitted == 1, Remaining: tokens}, nil
}

// consumeCAS roda o algoritmo do domain no cliente, protegido por WATCH.
// Perder a corrida (TxFailedErr) nunca descarta o consumo: o ciclo recomeça
// até o EXEC passar ou o ctx acabar.
func (s *RedisStore) consumeCAS(ctx context.Context, svc domain.Service, cfg domain.BucketConfig, cost float64, now time.Time) (domain.ConsumeResult, error) {
	key := s.key(svc)
	var out domain.ConsumeResult

	txf := func(tx *redis.Tx) error {
		b, found, err := readBucket(ctx, tx, key)
		if err != nil {
			return err
		}
		if !found {
			b = domain.FullBucket(cfg, now)
		}

		nb, ok, err := domain.RefillAndTryConsume(b, cfg, now, cost)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			writeBucket(ctx, pipe, key, nb, cfg.TTL())
			return nil
		})
		if err != nil {
			return err
		}
		out = domain.ConsumeResult{Admitted: ok, Remaining: nb.Tokens}
		return nil
	}

	for {
		err := s.rdb.Watch(ctx, txf, key)
		if err == nil {
			return out, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			if ctx.Err() != nil {
				return domain.ConsumeResult{}, ctx.Err()
			}
			continue
		}
		if errors.Is(err, domain.ErrInvalidCost) {
			return domain.ConsumeResult{}, err
		}
		return domain.ConsumeResult{}, s.wrap(ctx, svc, "consume", err)
	}
}

// Peek lê o hash sem criar nem renovar TTL.
func (s *RedisStore) Peek(ctx context.Context, svc domain.Service) (domain.Bucket, bool, error) {
	b, found, err := readBucket(ctx, s.rdb, s.key(svc))
	if err != nil {
		return domain.Bucket{}, false, s.wrap(ctx, svc, "peek", err)
	}
	return b, found, nil
}

func (s *RedisStore) Reset(ctx context.Context, svc domain.Service, cfg domain.BucketConfig, now time.Time) error {
	key := s.key(svc)
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		writeBucket(ctx, pipe, key, domain.FullBucket(cfg, now), cfg.TTL())
		return nil
	})
	if err != nil {
		return s.wrap(ctx, svc, "reset", err)
	}
	return nil
}

// wrap classifica o erro: cancelamento do chamador passa direto, o resto é
// falha de infraestrutura.
func (s *RedisStore) wrap(ctx context.Context, svc domain.Service, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return &domain.StoreUnavailableError{Service: svc, Op: op, Err: err}
}

type hashReader interface {
	HMGet(ctx context.Context, key string, fields ...string) *redis.SliceCmd
}

func readBucket(ctx context.Context, c hashReader, key string) (domain.Bucket, bool, error) {
	vals, err := c.HMGet(ctx, key, fieldTokens, fieldTS).Result()
	if err != nil {
		return domain.Bucket{}, false, err
	}
	if len(vals) != 2 || vals[0] == nil || vals[1] == nil {
		return domain.Bucket{}, false, nil
	}

	tokens, _ := vals[0].(string)
	ts, _ := vals[1].(string)
	b, err := parseBucket(tokens, ts)
	if err != nil {
		return domain.Bucket{}, false, err
	}
	return b, true, nil
}

func writeBucket(ctx context.Context, pipe redis.Pipeliner, key string, b domain.Bucket, ttl time.Duration) {
	pipe.HSet(ctx, key,
		fieldTokens, formatTokens(b.Tokens),
		fieldTS, strconv.FormatInt(b.LastRefillAt.UnixMicro(), 10),
	)
	if ttl > 0 {
		pipe.PExpire(ctx, key, ttl)
	} else {
		pipe.Persist(ctx, key)
	}
}

func parseBucket(tokens, ts string) (domain.Bucket, error) {
	t, err := strconv.ParseFloat(tokens, 64)
	if err != nil {
		return domain.Bucket{}, fmt.Errorf("parse tokens %q: %w", tokens, err)
	}
	us, err := strconv.ParseFloat(ts, 64)
	if err != nil {
		return domain.Bucket{}, fmt.Errorf("parse ts %q: %w", ts, err)
	}
	return domain.Bucket{Tokens: t, LastRefillAt: time.UnixMicro(int64(us))}, nil
}

func formatTokens(v float64) string {
	return strconv.FormatFloat(v, 'g', 17, 64)
}

var _ domain.BucketStore = (*RedisStore)(nil)
