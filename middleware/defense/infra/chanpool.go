package infra

import (
	"context"

	"defense-gateway/middleware/defense/domain"
)

type chanPool struct {
	sem chan struct{}
}

// NewChanPool cria o pool de requisições em voo baseado em channel com
// capacidade `max`. É o único limite global do pipeline; todo o resto é
// guardado por chave ou por categoria.
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
