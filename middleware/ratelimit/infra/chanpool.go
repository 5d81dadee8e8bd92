package infra

import (
	"context"

	"quota-coordinator/middleware/ratelimit/domain"
)

type chanPool struct {
	sem chan struct{}
}

// NewChanPool cria um pool simples baseado em channel com capacidade `max`.
func NewChanPool(max int) domain.SlotPool {
	return &chanPool{sem: make(chan struct{}, max)}
}

func (p *chanPool) Acquire(ctx context.Context) (func(), bool) {
	select {
	case p.sem <- struct{}{}:
		return func() { <-p.sem }, true
	case <-ctx.Done():
		return nil, false
	}
}

// ServicePools guarda um semáforo por serviço. Serviços sem limite (ou com
// limite <= 0) não têm pool e Get devolve nil.
type ServicePools struct {
	pools map[domain.Service]domain.SlotPool
}

func NewServicePools(limits map[domain.Service]int) *ServicePools {
	sp := &ServicePools{pools: make(map[domain.Service]domain.SlotPool, len(limits))}
	for svc, max := range limits {
		if max > 0 {
			sp.pools[svc] = NewChanPool(max)
		}
	}
	return sp
}

func (sp *ServicePools) Get(svc domain.Service) domain.SlotPool {
	if sp == nil {
		return nil
	}
	return sp.pools[svc]
}
