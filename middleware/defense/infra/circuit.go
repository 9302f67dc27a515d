package infra

import (
	"sync"
	"time"

	"defense-gateway/middleware/defense/domain"
)

// BreakerPanel implementa domain.BreakerPanel com um breaker por categoria,
// criado sob demanda com os thresholds da política global vigente.
//
// Cada breaker tem seu próprio mutex, segurado apenas para ler/transicionar
// o estado, nunca durante a chamada ao downstream. Categorias diferentes
// não se bloqueiam. Estado não é persistido: restart volta para CLOSED.
type BreakerPanel struct {
	mu       sync.Mutex
	breakers map[domain.Category]*breaker

	policies domain.PolicyProvider
	// onChange é chamado fora do lock do breaker a cada transição.
	onChange func(cat domain.Category, from, to domain.CircuitState)
	now      func() time.Time
}

type breaker struct {
	mu             sync.Mutex
	state          domain.CircuitState
	failures       int
	probeOK        int
	probesInFlight int
	openedAt       time.Time
}

type PanelOption func(*BreakerPanel)

// WithBreakerChange registra o callback de transição (observabilidade).
// Deve ser rápido e não bloquear.
func WithBreakerChange(fn func(cat domain.Category, from, to domain.CircuitState)) PanelOption {
	return func(p *BreakerPanel) { p.onChange = fn }
}

// WithPanelClock troca o relógio (teste de cooldown).
func WithPanelClock(now func() time.Time) PanelOption {
	return func(p *BreakerPanel) { p.now = now }
}

func NewBreakerPanel(policies domain.PolicyProvider, opts ...PanelOption) *BreakerPanel {
	p := &BreakerPanel{
		breakers: make(map[domain.Category]*breaker),
		policies: policies,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *BreakerPanel) breaker(cat domain.Category) *breaker {
	p.mu.Lock()
	defer p.mu.Unlock()
	b, ok := p.breakers[cat]
	if !ok {
		b = &breaker{state: domain.CircuitClosed}
		p.breakers[cat] = b
	}
	return b
}

func (p *BreakerPanel) global() domain.GlobalPolicy {
	return p.policies.Current().Global
}

// Allow implementa domain.BreakerPanel. Em OPEN com cooldown vencido faz a
// transição OPEN→HALF_OPEN e admite a requisição como sonda; em HALF_OPEN
// admite no máximo o número configurado de sondas simultâneas.
func (p *BreakerPanel) Allow(cat domain.Category) (bool, time.Duration) {
	g := p.global()
	b := p.breaker(cat)
	now := p.now()

	b.mu.Lock()
	switch b.state {
	case domain.CircuitClosed:
		b.mu.Unlock()
		return true, 0

	case domain.CircuitOpen:
		remaining := b.openedAt.Add(g.CircuitCooldown).Sub(now)
		if remaining > 0 {
			b.mu.Unlock()
			return false, remaining
		}
		b.state = domain.CircuitHalfOpen
		b.probeOK = 0
		b.probesInFlight = 1
		b.mu.Unlock()
		p.notify(cat, domain.CircuitOpen, domain.CircuitHalfOpen)
		return true, 0

	case domain.CircuitHalfOpen:
		if b.probesInFlight < g.CircuitProbeCount {
			b.probesInFlight++
			b.mu.Unlock()
			return true, 0
		}
		b.mu.Unlock()
		return false, g.CircuitCooldown

	default:
		b.mu.Unlock()
		return true, 0
	}
}

// OnSuccess zera o contador de falhas em CLOSED; em HALF_OPEN conta a sonda
// e fecha o breaker após CircuitProbeCount sucessos consecutivos.
func (p *BreakerPanel) OnSuccess(cat domain.Category) {
	g := p.global()
	b := p.breaker(cat)

	b.mu.Lock()
	switch b.state {
	case domain.CircuitClosed:
		b.failures = 0
		b.mu.Unlock()
		return
	case domain.CircuitHalfOpen:
		if b.probesInFlight > 0 {
			b.probesInFlight--
		}
		b.probeOK++
		if b.probeOK >= g.CircuitProbeCount {
			b.state = domain.CircuitClosed
			b.failures = 0
			b.probeOK = 0
			b.probesInFlight = 0
			b.mu.Unlock()
			p.notify(cat, domain.CircuitHalfOpen, domain.CircuitClosed)
			return
		}
	}
	b.mu.Unlock()
}

// OnFailure conta a falha em CLOSED (abrindo ao atingir o threshold) e em
// HALF_OPEN reabre imediatamente, reiniciando o cooldown. Em HALF_OPEN o
// chamador só deve reportar falha de sonda (resultado do downstream); quem
// nunca chegou ao downstream não derruba a recuperação.
func (p *BreakerPanel) OnFailure(cat domain.Category) {
	g := p.global()
	b := p.breaker(cat)
	now := p.now()

	b.mu.Lock()
	switch b.state {
	case domain.CircuitClosed:
		b.failures++
		if b.failures >= g.CircuitFailureThreshold {
			b.state = domain.CircuitOpen
			b.openedAt = now
			b.mu.Unlock()
			p.notify(cat, domain.CircuitClosed, domain.CircuitOpen)
			return
		}
	case domain.CircuitHalfOpen:
		b.state = domain.CircuitOpen
		b.openedAt = now
		b.probeOK = 0
		b.probesInFlight = 0
		b.mu.Unlock()
		p.notify(cat, domain.CircuitHalfOpen, domain.CircuitOpen)
		return
	}
	b.mu.Unlock()
}

func (p *BreakerPanel) State(cat domain.Category) domain.CircuitState {
	b := p.breaker(cat)
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (p *BreakerPanel) OpenCategories() []domain.Category {
	p.mu.Lock()
	cats := make([]domain.Category, 0, len(p.breakers))
	brs := make([]*breaker, 0, len(p.breakers))
	for c, b := range p.breakers {
		cats = append(cats, c)
		brs = append(brs, b)
	}
	p.mu.Unlock()

	var open []domain.Category
	for i, b := range brs {
		b.mu.Lock()
		if b.state == domain.CircuitOpen {
			open = append(open, cats[i])
		}
		b.mu.Unlock()
	}
	return open
}

func (p *BreakerPanel) notify(cat domain.Category, from, to domain.CircuitState) {
	if p.onChange != nil {
		p.onChange(cat, from, to)
	}
}
