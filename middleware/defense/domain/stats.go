package domain

import (
	"context"
	"time"
)

// DecisionEvent representa uma decisão do pipeline, para observabilidade.
//
// Ele é propositalmente "agnóstico de HTTP": Method/Path são strings
// genéricas.
//
// Observação: cuidado com cardinalidade (salvar Key/Path sem controle pode
// explodir o número de séries/chaves em uma base como Redis/Prometheus);
// os recorders agregam por categoria e tipo de rejeição, não por chave.
type DecisionEvent struct {
	Key      Key
	Category Category
	Origin   Origin

	Allowed bool
	// Kind é vazio quando Allowed=true.
	Kind RejectKind

	ThreatScore int
	Sanitized   bool

	// Elapsed é o tempo gasto pelo compositor nesta decisão.
	Elapsed time.Duration

	Method string
	Path   string

	At time.Time
}

// Recorder é a estratégia de registro de decisões e eventos.
//
// Implementações podem gravar em Prometheus, Redis, memória, etc. O pipeline
// trata erro como best-effort (não derruba a requisição) e o registro nunca
// bloqueia o caminho crítico.
type Recorder interface {
	Record(ctx context.Context, ev DecisionEvent) error
	// RecordViolation registra uma violação (inline ou out-of-band).
	RecordViolation(ctx context.Context, v Violation) error
	// RecordEscalation registra a entrada de uma origem no blocklist.
	RecordEscalation(ctx context.Context, ev EscalationEvent) error
	// RecordBreakerChange registra uma transição de estado de breaker.
	RecordBreakerChange(ctx context.Context, cat Category, from, to CircuitState) error
}
