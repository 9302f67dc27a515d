package infra

import (
	"context"
	"math"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"defense-gateway/middleware/defense/domain"
)

// Frações da tabela de decisão do amostrador. Tuning, não corretude.
const (
	memShrink       = 0.5
	openCatShrink   = 0.5
	violationShrink = 0.6
	// violationRateHigh é a fração de requisições com violação a partir da
	// qual o fator global encolhe.
	violationRateHigh = 0.2
)

// AdaptiveManager publica o fator de escala lido pelo rate limiter em cada
// requisição.
//
// Escritas acontecem só no tick periódico; leitores fazem apenas loads
// atômicos, nunca bloqueiam no amostrador. O fator se recupera sozinho
// quando as condições amostradas melhoram; não há reset manual. Nunca cai
// abaixo do piso configurado, para não zerar tráfego legítimo.
type AdaptiveManager struct {
	policies domain.PolicyProvider
	breakers domain.BreakerPanel

	interval     time.Duration
	memHighWater uint64
	memSample    func() uint64

	globalBits atomic.Uint64
	perCat     sync.Map // domain.Category -> *atomic.Uint64

	requests   atomic.Int64
	rejections atomic.Int64
	violations atomic.Int64
}

type AdaptiveOption func(*AdaptiveManager)

func WithSampleInterval(d time.Duration) AdaptiveOption {
	return func(m *AdaptiveManager) { m.interval = d }
}

// WithMemHighWater define o heap (bytes) considerado pressão de memória.
// Zero desabilita o critério.
func WithMemHighWater(bytes uint64) AdaptiveOption {
	return func(m *AdaptiveManager) { m.memHighWater = bytes }
}

// WithMemSampler troca a leitura de heap (teste).
func WithMemSampler(fn func() uint64) AdaptiveOption {
	return func(m *AdaptiveManager) { m.memSample = fn }
}

func NewAdaptiveManager(policies domain.PolicyProvider, breakers domain.BreakerPanel, opts ...AdaptiveOption) *AdaptiveManager {
	m := &AdaptiveManager{
		policies:  policies,
		breakers:  breakers,
		interval:  30 * time.Second,
		memSample: heapInuse,
	}
	m.globalBits.Store(math.Float64bits(1.0))
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func heapInuse() uint64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.HeapInuse
}

// NoteRequest, NoteRejection e NoteViolation alimentam as taxas da janela
// de amostragem corrente. Chamados pelo pipeline; apenas Add atômico.
func (m *AdaptiveManager) NoteRequest()   { m.requests.Add(1) }
func (m *AdaptiveManager) NoteRejection() { m.rejections.Add(1) }
func (m *AdaptiveManager) NoteViolation() { m.violations.Add(1) }

// Factor retorna o fator vigente para a categoria: componente global vezes
// o componente da categoria (encolhida quando o breaker dela está aberto),
// limitado ao piso. Somente loads atômicos.
func (m *AdaptiveManager) Factor(cat domain.Category) float64 {
	f := math.Float64frombits(m.globalBits.Load())
	if v, ok := m.perCat.Load(cat); ok {
		f *= math.Float64frombits(v.(*atomic.Uint64).Load())
	}
	return m.clamp(f)
}

func (m *AdaptiveManager) clamp(f float64) float64 {
	floor := m.policies.Current().Global.ScaleFloor
	if floor <= 0 || floor > 1 {
		floor = 0.1
	}
	if f < floor {
		return floor
	}
	if f > 1 {
		return 1
	}
	return f
}

// Tick recomputa os fatores do zero a partir das condições amostradas.
// A recuperação automática cai naturalmente daqui: condição que sumiu deixa
// de encolher o fator.
func (m *AdaptiveManager) Tick() {
	factor := 1.0

	if m.memHighWater > 0 && m.memSample() >= m.memHighWater {
		factor = memShrink
	}

	// rejeições são amostradas por janela mas não entram na tabela: rejeição
	// de rate limit cresce quando o fator cai, e encolher por rejeição
	// realimentaria a própria queda até o piso.
	req := m.requests.Swap(0)
	m.rejections.Swap(0)
	vio := m.violations.Swap(0)
	if req > 0 && float64(vio)/float64(req) >= violationRateHigh {
		factor *= violationShrink
	}

	m.globalBits.Store(math.Float64bits(factor))

	// zera componentes de categoria e reaplica só para breakers abertos
	m.perCat.Range(func(_, v interface{}) bool {
		v.(*atomic.Uint64).Store(math.Float64bits(1.0))
		return true
	})
	for _, cat := range m.breakers.OpenCategories() {
		m.catBits(cat).Store(math.Float64bits(openCatShrink))
	}
}

func (m *AdaptiveManager) catBits(cat domain.Category) *atomic.Uint64 {
	v, ok := m.perCat.Load(cat)
	if !ok {
		n := &atomic.Uint64{}
		n.Store(math.Float64bits(1.0))
		v, _ = m.perCat.LoadOrStore(cat, n)
	}
	return v.(*atomic.Uint64)
}

// Run roda o tick no intervalo configurado até o contexto encerrar.
func (m *AdaptiveManager) Run(ctx context.Context) {
	t := time.NewTicker(m.interval)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				m.Tick()
			}
		}
	}()
}
