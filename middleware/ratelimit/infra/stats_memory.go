package infra

import (
	"context"
	"sync"

	"quota-coordinator/middleware/ratelimit/domain"
)

type Counters struct {
	Admitted    int64
	Rejected    int64
	StoreFaults int64
}

func (c *Counters) add(o domain.Outcome) {
	switch o {
	case domain.OutcomeAdmitted:
		c.Admitted++
	case domain.OutcomeRejected:
		c.Rejected++
	case domain.OutcomeStoreFault:
		c.StoreFaults++
	}
}

// MemoryStatsStore é uma implementação simples em memória.
// Útil para testes e desenvolvimento.
//
// Conta apenas o processo local; não é indicada para visão global.
type MemoryStatsStore struct {
	mu        sync.Mutex
	total     Counters
	byService map[domain.Service]Counters
}

func NewMemoryStatsStore() *MemoryStatsStore {
	return &MemoryStatsStore{
		byService: make(map[domain.Service]Counters),
	}
}

func (s *MemoryStatsStore) Record(_ context.Context, ev domain.StatsEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.total.add(ev.Outcome)
	c := s.byService[ev.Service]
	c.add(ev.Outcome)
	s.byService[ev.Service] = c
	return nil
}

func (s *MemoryStatsStore) Total() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

func (s *MemoryStatsStore) Service(svc domain.Service) Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byService[svc]
}

func (s *MemoryStatsStore) ByService() map[domain.Service]Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[domain.Service]Counters, len(s.byService))
	for k, v := range s.byService {
		out[k] = v
	}
	return out
}
