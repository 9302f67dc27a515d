package domain

import "time"

// Key identifica o dono de um bucket: "categoria:principal".
type Key string

// Category é a categoria de endpoint (ex: "catalog", "payment", "default").
type Category string

// Origin identifica a origem de uma requisição para fins de bloqueio
// (header Origin quando presente, senão o IP do cliente).
type Origin string

// RejectKind classifica uma rejeição de forma estável para o cliente.
type RejectKind string

const (
	RejectOriginBlocked RejectKind = "origin_blocked"
	RejectThreat        RejectKind = "threat_detected"
	RejectRateLimited   RejectKind = "rate_limited"
	RejectCircuitOpen   RejectKind = "circuit_open"
	RejectOverloaded    RejectKind = "overloaded"
)

// Code é o código estável exposto ao cliente. Nunca carrega detalhe do que
// casou, só a classe da rejeição.
func (k RejectKind) Code() string {
	switch k {
	case RejectOriginBlocked:
		return "DEF-ORIGIN-BLOCKED"
	case RejectThreat:
		return "DEF-THREAT"
	case RejectRateLimited:
		return "DEF-RATE-LIMITED"
	case RejectCircuitOpen:
		return "DEF-CIRCUIT-OPEN"
	case RejectOverloaded:
		return "DEF-OVERLOADED"
	default:
		return "DEF-REJECTED"
	}
}

// Decision é o resultado do compositor para uma requisição.
//
// Quando Allowed=true, Headers carrega os headers de rate limit a anexar na
// resposta e Sanitized indica que o conteúdo foi reescrito pelo detector.
// Quando Allowed=false, Kind/Code descrevem a rejeição (sem expor qual padrão
// casou) e RetryAfter, se > 0, vira o header Retry-After.
type Decision struct {
	Allowed bool

	Kind       RejectKind
	Code       string
	RetryAfter time.Duration

	Headers   map[string]string
	Sanitized bool

	// Parts carrega as partes da requisição após sanitização, quando
	// Sanitized=true. O adapter HTTP reescreve body/query a partir daqui.
	Parts RequestParts
}

// RequestContext é o snapshot imutável de uma requisição na entrada do
// pipeline. Criado pelo adapter HTTP, descartado ao fim da requisição;
// pertence exclusivamente ao caminho de execução daquela requisição.
type RequestContext struct {
	Key       Key
	Category  Category
	Principal string
	Origin    Origin

	Method string
	Path   string
	Parts  RequestParts

	At time.Time
}
