package application

import (
	"context"
	"time"

	"quota-coordinator/middleware/ratelimit/domain"
)

// PoolLookup devolve o semáforo de um serviço, ou nil se ele não tiver limite.
type PoolLookup interface {
	Get(svc domain.Service) domain.SlotPool
}

// ConcurrencyService concentra a regra de aquisição/liberação de vagas com timeout,
// sem saber nada sobre HTTP. É independente do token bucket: limita chamadas
// simultâneas, não chamadas por período.
type ConcurrencyService struct {
	Pools          PoolLookup
	AcquireTimeout time.Duration
}

// Acquire tenta adquirir uma vaga para o serviço.
// - Sem pool para o serviço, libera na hora.
// - Se `AcquireTimeout <= 0`, espera indefinidamente (até ctx cancelar).
// - Se `AcquireTimeout > 0`, espera até o timeout.
// Retorna (release, ok). Se ok=false, nenhuma vaga foi adquirida.
func (s ConcurrencyService) Acquire(ctx context.Context, svc domain.Service) (func(), bool) {
	if s.Pools == nil {
		return func() {}, true
	}
	pool := s.Pools.Get(svc)
	if pool == nil {
		return func() {}, true
	}

	if s.AcquireTimeout <= 0 {
		return pool.Acquire(ctx)
	}

	acqCtx, cancel := context.WithTimeout(ctx, s.AcquireTimeout)
	defer cancel()
	return pool.Acquire(acqCtx)
}
