package domain

import "context"

// SlotPool é o pool limitado de requisições em voo (ver modelo de
// concorrência do pipeline: não há lock global, só o semáforo de entrada).
//
// Acquire bloqueia até conseguir uma vaga ou até o ctx encerrar. Ao adquirir,
// retorna uma função de release que deve ser chamada exatamente uma vez.
type SlotPool interface {
	Acquire(ctx context.Context) (release func(), ok bool)
}
