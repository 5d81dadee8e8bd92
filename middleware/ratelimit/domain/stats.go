package domain

import (
	"context"
	"time"
)

// Outcome é o desfecho de uma decisão de admissão.
type Outcome string

const (
	OutcomeAdmitted   Outcome = "admitted"
	OutcomeRejected   Outcome = "rejected"
	OutcomeStoreFault Outcome = "store_fault"
)

// StatsEvent representa um evento de decisão do rate limit.
//
// Observação: cardinalidade é baixa (um por serviço configurado), então é
// seguro usar Service como dimensão em Redis/OTel.
type StatsEvent struct {
	Service Service
	Outcome Outcome
	Cost    float64

	At time.Time
}

// StatsStore é a estratégia de persistência para estatísticas do rate limit.
//
// Implementações podem armazenar em Redis, memória, OpenTelemetry, etc.
// O limiter trata erro como best-effort (nunca afeta a admissão).
type StatsStore interface {
	Record(ctx context.Context, ev StatsEvent) error
}
