package domain

import "time"

// Permit é o resultado de um acquire bem-sucedido.
//
// Degraded indica que a admissão veio do fail-open (store indisponível), e não
// de uma decisão real do bucket.
type Permit struct {
	ID         string
	Service    Service
	Cost       float64
	Remaining  float64
	AdmittedAt time.Time
	Degraded   bool
}

// ConsumeResult é o que o store devolve de um consumo atômico.
type ConsumeResult struct {
	Admitted  bool
	Remaining float64
}
