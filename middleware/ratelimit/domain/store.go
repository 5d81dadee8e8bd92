package domain

import (
	"context"
	"time"
)

// BucketStore é o estado compartilhado entre todos os processos: a única fonte
// de verdade das decisões de admissão.
//
// Toda mutação passa por Consume (ou Reset/GetOrInit), que precisam ser atômicos
// em relação aos outros chamadores. Erros de infraestrutura devem casar com
// ErrStoreUnavailable.
type BucketStore interface {
	// GetOrInit cria o bucket cheio se ainda não existir e devolve o estado.
	GetOrInit(ctx context.Context, svc Service, cfg BucketConfig, now time.Time) (Bucket, error)

	// Consume executa refill + decisão + escrita como uma operação só.
	Consume(ctx context.Context, svc Service, cfg BucketConfig, cost float64, now time.Time) (ConsumeResult, error)

	// Peek lê sem criar nem alterar. found=false se o bucket não existe.
	Peek(ctx context.Context, svc Service) (b Bucket, found bool, err error)

	// Reset coloca o bucket na capacidade cheia.
	Reset(ctx context.Context, svc Service, cfg BucketConfig, now time.Time) error
}

// Clock abstrai o relógio para permitir testes determinísticos.
type Clock interface {
	Now() time.Time
}

type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// SystemClock usa time.Now.
var SystemClock Clock = ClockFunc(time.Now)
