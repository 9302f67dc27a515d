package domain

import "time"

// Severity pondera uma violação dentro da janela deslizante.
type Severity int

const (
	SeverityLow    Severity = 1
	SeverityMedium Severity = 2
	SeverityHigh   Severity = 3
)

// Violation é um evento suspeito atribuído a uma origem.
type Violation struct {
	Origin   Origin
	Severity Severity
	// Source identifica quem reportou ("scanner", "report", ...).
	Source string
	At     time.Time
}

// EscalationEvent é emitido quando uma origem cruza o threshold e entra no
// blocklist.
type EscalationEvent struct {
	Origin Origin
	// Count é o peso acumulado na janela no momento da escalação.
	Count int
	Until time.Time
}

// ViolationTracker acumula violações por origem em janela deslizante e
// escala para bloqueio temporário quando o peso acumulado cruza o threshold.
//
// IsBlocked é consultado antes de qualquer outro estágio do pipeline e deve
// ser O(1).
type ViolationTracker interface {
	Record(v Violation)
	IsBlocked(o Origin) (blocked bool, until time.Time)
	Unblock(o Origin)
}
