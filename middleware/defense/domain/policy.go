package domain

import "time"

// DefaultCategory é usada quando o caminho não mapeia para nenhuma categoria
// configurada.
const DefaultCategory Category = "default"

// CategoryPolicy é a configuração por categoria de endpoint.
//
// Compartilhada e somente-leitura em tempo de requisição; reload troca o
// PolicySet inteiro de forma atômica (ver PolicyProvider).
type CategoryPolicy struct {
	// Capacity é a capacidade base do bucket (tokens por janela).
	Capacity int
	// BurstSize são tokens extras além da capacidade, consumidos primeiro,
	// para absorver rajadas curtas sem elevar a vazão sustentada.
	BurstSize int
	// RefillWindow é a janela em que Capacity tokens são repostos.
	RefillWindow time.Duration

	// BlockThreshold é o score acumulado a partir do qual a requisição é
	// bloqueada em vez de sanitizada.
	BlockThreshold int
	// StrictMode bloqueia em qualquer score > 0, sem tentar sanitizar.
	StrictMode bool

	SanitizeBody    bool
	SanitizeQuery   bool
	SanitizeHeaders bool
	// ScanPath liga a inspeção do path (que nunca é reescrito, só pontuado).
	// Desligável para categorias de baixo risco.
	ScanPath bool

	// MaxBodyBytes limita quantos bytes do body são lidos e inspecionados.
	MaxBodyBytes int64
}

// RefillRate retorna tokens por segundo.
func (p CategoryPolicy) RefillRate() float64 {
	if p.RefillWindow <= 0 {
		return float64(p.Capacity)
	}
	return float64(p.Capacity) / p.RefillWindow.Seconds()
}

// GlobalPolicy são os parâmetros globais do pipeline (rastreio de violações,
// circuit breaker e piso do fator adaptativo).
type GlobalPolicy struct {
	ViolationWindow    time.Duration
	ViolationThreshold int
	BlockDuration      time.Duration

	CircuitFailureThreshold int
	CircuitCooldown         time.Duration
	CircuitProbeCount       int

	// ScaleFloor é o piso do fator adaptativo (0 < floor <= 1). O fator
	// nunca fica abaixo disso, para não zerar o tráfego legítimo.
	ScaleFloor float64
}

// PolicySet é o conjunto completo de políticas vigente.
type PolicySet struct {
	Categories map[Category]CategoryPolicy
	Global     GlobalPolicy
}

// Category resolve a política de uma categoria, caindo para DefaultCategory
// quando não configurada.
func (s *PolicySet) Category(c Category) CategoryPolicy {
	if p, ok := s.Categories[c]; ok {
		return p
	}
	return s.Categories[DefaultCategory]
}

// HasCategory informa se a categoria existe explicitamente no conjunto.
func (s *PolicySet) HasCategory(c Category) bool {
	_, ok := s.Categories[c]
	return ok
}

// PolicyProvider entrega o PolicySet vigente.
//
// Implementações devem permitir troca atômica em reload; leitores nunca
// bloqueiam.
type PolicyProvider interface {
	Current() *PolicySet
}
