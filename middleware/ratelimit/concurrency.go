package ratelimit

import (
	"errors"
	"io"
	"sync"
	"time"

	"quota-coordinator/middleware/ratelimit/application"
	"quota-coordinator/middleware/ratelimit/domain"
	"quota-coordinator/middleware/ratelimit/infra"
)

// ErrNoSlot indica que não houve vaga de concorrência dentro do timeout.
var ErrNoSlot = errors.New("no concurrency slot available")

type ConcurrencyOptions struct {
	// MaxInFlight por serviço; serviço ausente ou <= 0 não tem limite.
	MaxInFlight    map[domain.Service]int
	AcquireTimeout time.Duration
}

func newConcurrencyService(opts ConcurrencyOptions) application.ConcurrencyService {
	if len(opts.MaxInFlight) == 0 {
		return application.ConcurrencyService{}
	}
	return application.ConcurrencyService{
		Pools:          infra.NewServicePools(opts.MaxInFlight),
		AcquireTimeout: opts.AcquireTimeout,
	}
}

// releaseOnClose segura a vaga até o corpo da resposta ser fechado.
type releaseOnClose struct {
	io.ReadCloser
	once    sync.Once
	release func()
}

func (b *releaseOnClose) Close() error {
	err := b.ReadCloser.Close()
	b.once.Do(b.release)
	return err
}
