package domain

import "time"

// CircuitState é o estado de um circuit breaker.
type CircuitState int32

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerPanel mantém um breaker por categoria protegida.
//
// Transições válidas: CLOSED→OPEN→HALF_OPEN→{CLOSED|OPEN}, nunca pulando
// estado. O estado vive só em memória: um restart volta tudo para CLOSED
// (comportamento documentado, não é bug).
type BreakerPanel interface {
	// Allow informa se a categoria aceita tráfego agora. Em OPEN com
	// cooldown vencido, faz a transição para HALF_OPEN e admite a sonda.
	Allow(cat Category) (ok bool, retryAfter time.Duration)
	// OnSuccess registra sucesso (zera falhas em CLOSED; conta sonda em
	// HALF_OPEN, fechando após o número configurado de sondas).
	OnSuccess(cat Category)
	// OnFailure registra falha. Em CLOSED conta rejeições de rate limit e
	// erros do downstream; em HALF_OPEN reabre imediatamente e reinicia o
	// cooldown, e por isso só falha de sonda (downstream) deve ser
	// reportada nesse estado.
	OnFailure(cat Category)
	// State expõe o estado corrente, para observabilidade e amostragem.
	State(cat Category) CircuitState
	// OpenCategories lista categorias com breaker aberto.
	OpenCategories() []Category
}
