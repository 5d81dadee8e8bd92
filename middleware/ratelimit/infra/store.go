package infra

import (
	"context"
	"sync"
	"time"

	"quota-coordinator/middleware/ratelimit/domain"
)

// MemoryStore é um BucketStore de um único processo (mutex + mapa).
//
// Serve para testes, desenvolvimento e workers isolados. Não coordena processos
// diferentes: para isso use RedisStore.
type MemoryStore struct {
	mu           sync.Mutex
	entries      map[domain.Service]*storeEntry
	clock        domain.Clock
	cleanupEvery time.Duration
}

type storeEntry struct {
	bucket    domain.Bucket
	expiresAt time.Time // zero = não expira
}

type StoreOption func(*MemoryStore)

func WithCleanupEvery(d time.Duration) StoreOption {
	return func(s *MemoryStore) { s.cleanupEvery = d }
}

func WithClock(c domain.Clock) StoreOption {
	return func(s *MemoryStore) { s.clock = c }
}

func NewMemoryStore(opts ...StoreOption) *MemoryStore {
	s := &MemoryStore{
		entries:      make(map[domain.Service]*storeEntry),
		clock:        domain.SystemClock,
		cleanupEvery: 2 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) CleanupEvery() time.Duration { return s.cleanupEvery }

// lookupLocked devolve a entrada viva ou nil, removendo a expirada.
func (s *MemoryStore) lookupLocked(svc domain.Service, now time.Time) *storeEntry {
	ent, ok := s.entries[svc]
	if !ok {
		return nil
	}
	if !ent.expiresAt.IsZero() && !now.Before(ent.expiresAt) {
		delete(s.entries, svc)
		return nil
	}
	return ent
}

func (s *MemoryStore) putLocked(svc domain.Service, cfg domain.BucketConfig, b domain.Bucket, now time.Time) {
	ent := &storeEntry{bucket: b}
	if ttl := cfg.TTL(); ttl > 0 {
		ent.expiresAt = now.Add(ttl)
	}
	s.entries[svc] = ent
}

func (s *MemoryStore) GetOrInit(ctx context.Context, svc domain.Service, cfg domain.BucketConfig, now time.Time) (domain.Bucket, error) {
	if err := ctx.Err(); err != nil {
		return domain.Bucket{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if ent := s.lookupLocked(svc, now); ent != nil {
		return ent.bucket, nil
	}
	b := domain.FullBucket(cfg, now)
	s.putLocked(svc, cfg, b, now)
	return b, nil
}

// Consume implementa domain.BucketStore. Refill, decisão e escrita acontecem
// sob o mesmo lock.
func (s *MemoryStore) Consume(ctx context.Context, svc domain.Service, cfg domain.BucketConfig, cost float64, now time.Time) (domain.ConsumeResult, error) {
	if err := ctx.Err(); err != nil {
		return domain.ConsumeResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	b := domain.FullBucket(cfg, now)
	if ent := s.lookupLocked(svc, now); ent != nil {
		b = ent.bucket
	}

	nb, ok, err := domain.RefillAndTryConsume(b, cfg, now, cost)
	if err != nil {
		return domain.ConsumeResult{}, err
	}
	s.putLocked(svc, cfg, nb, now)
	return domain.ConsumeResult{Admitted: ok, Remaining: nb.Tokens}, nil
}

func (s *MemoryStore) Peek(ctx context.Context, svc domain.Service) (domain.Bucket, bool, error) {
	if err := ctx.Err(); err != nil {
		return domain.Bucket{}, false, err
	}

	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	ent, ok := s.entries[svc]
	if !ok || (!ent.expiresAt.IsZero() && !now.Before(ent.expiresAt)) {
		return domain.Bucket{}, false, nil
	}
	return ent.bucket, true, nil
}

func (s *MemoryStore) Reset(ctx context.Context, svc domain.Service, cfg domain.BucketConfig, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.putLocked(svc, cfg, domain.FullBucket(cfg, now), now)
	return nil
}

// Len retorna quantos buckets estão em memória (inclui expirados ainda não limpos).
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Cleanup remove buckets inativos há mais de 2 × período.
func (s *MemoryStore) Cleanup() {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for k, ent := range s.entries {
		if !ent.expiresAt.IsZero() && !now.Before(ent.expiresAt) {
			delete(s.entries, k)
		}
	}
}

// StartJanitor inicia uma goroutine que limpa buckets inativos periodicamente.
// Pare cancelando o contexto.
func (s *MemoryStore) StartJanitor(ctx context.Context) {
	if s.cleanupEvery <= 0 {
		return
	}

	t := time.NewTicker(s.cleanupEvery)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				s.Cleanup()
			}
		}
	}()
}

var _ domain.BucketStore = (*MemoryStore)(nil)
