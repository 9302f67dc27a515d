package infra

import (
	"context"
	"log"
	"sync/atomic"

	"defense-gateway/middleware/defense/domain"
)

// AsyncRecorder desacopla o registro de eventos do caminho da requisição:
// enfileira em um channel com buffer e repassa aos sinks em uma goroutine
// própria. Com o buffer cheio o evento é descartado (e contado), nunca
// bloqueia quem registra.
type AsyncRecorder struct {
	sinks   []domain.Recorder
	ch      chan asyncEvent
	dropped atomic.Int64
}

// asyncEvent é a união dos tipos de evento aceitos; exatamente um campo
// preenchido.
type asyncEvent struct {
	decision   *domain.DecisionEvent
	violation  *domain.Violation
	escalation *domain.EscalationEvent
	breaker    *breakerChange
}

type breakerChange struct {
	cat      domain.Category
	from, to domain.CircuitState
}

func NewAsyncRecorder(buffer int, sinks ...domain.Recorder) *AsyncRecorder {
	if buffer <= 0 {
		buffer = 1024
	}
	return &AsyncRecorder{
		sinks: sinks,
		ch:    make(chan asyncEvent, buffer),
	}
}

// Dropped retorna quantos eventos já foram descartados por buffer cheio.
func (r *AsyncRecorder) Dropped() int64 { return r.dropped.Load() }

// Start consome a fila até o contexto encerrar.
func (r *AsyncRecorder) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-r.ch:
				r.dispatch(ev)
			}
		}
	}()
}

func (r *AsyncRecorder) dispatch(ev asyncEvent) {
	// erro de sink é best-effort: loga e segue
	for _, sink := range r.sinks {
		var err error
		switch {
		case ev.decision != nil:
			err = sink.Record(context.Background(), *ev.decision)
		case ev.violation != nil:
			err = sink.RecordViolation(context.Background(), *ev.violation)
		case ev.escalation != nil:
			err = sink.RecordEscalation(context.Background(), *ev.escalation)
		case ev.breaker != nil:
			err = sink.RecordBreakerChange(context.Background(), ev.breaker.cat, ev.breaker.from, ev.breaker.to)
		}
		if err != nil {
			log.Printf("recorder sink error: %v", err)
		}
	}
}

func (r *AsyncRecorder) enqueue(ev asyncEvent) {
	select {
	case r.ch <- ev:
	default:
		r.dropped.Add(1)
	}
}

func (r *AsyncRecorder) Record(_ context.Context, ev domain.DecisionEvent) error {
	r.enqueue(asyncEvent{decision: &ev})
	return nil
}

func (r *AsyncRecorder) RecordViolation(_ context.Context, v domain.Violation) error {
	r.enqueue(asyncEvent{violation: &v})
	return nil
}

func (r *AsyncRecorder) RecordEscalation(_ context.Context, ev domain.EscalationEvent) error {
	r.enqueue(asyncEvent{escalation: &ev})
	return nil
}

func (r *AsyncRecorder) RecordBreakerChange(_ context.Context, cat domain.Category, from, to domain.CircuitState) error {
	r.enqueue(asyncEvent{breaker: &breakerChange{cat: cat, from: from, to: to}})
	return nil
}
