package domain

import "context"

// SlotPool limita chamadas simultâneas em andamento para um serviço.
//
// Acquire bloqueia até conseguir uma vaga ou até o ctx encerrar.
// Ao adquirir, retorna uma função de release que deve ser chamada exatamente uma vez.
// É independente do token bucket: limita concorrência, não taxa.
type SlotPool interface {
	Acquire(ctx context.Context) (release func(), ok bool)
}
