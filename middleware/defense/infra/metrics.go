package infra

import (
	"context"

	"defense-gateway/middleware/defense/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics concentra os instrumentos Prometheus do pipeline. Construído uma
// vez no startup e passado por referência; nada de estado global ambiente.
//
// Labels agregam por categoria e tipo de decisão, nunca por chave/origem
// (cardinalidade).
type Metrics struct {
	Requests           *prometheus.CounterVec
	DecisionSeconds    *prometheus.HistogramVec
	ThreatScore        *prometheus.HistogramVec
	Sanitized          *prometheus.CounterVec
	BucketExhausted    *prometheus.CounterVec
	BreakerTransitions *prometheus.CounterVec
	Violations         *prometheus.CounterVec
	Blocks             prometheus.Counter
	DroppedEvents      prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "defense",
			Name:      "requests_total",
			Help:      "Decisões do pipeline por categoria e resultado.",
		}, []string{"category", "outcome"}),
		DecisionSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "defense",
			Name:      "decision_seconds",
			Help:      "Tempo gasto pelo compositor por decisão.",
			Buckets:   []float64{.0001, .00025, .0005, .001, .0025, .005, .01, .025, .05},
		}, []string{"category"}),
		ThreatScore: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "defense",
			Name:      "threat_score",
			Help:      "Score de ameaça das requisições com score > 0.",
			Buckets:   []float64{5, 10, 25, 40, 60, 80, 120, 200},
		}, []string{"category"}),
		Sanitized: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "defense",
			Name:      "sanitized_total",
			Help:      "Requisições que seguiram com conteúdo sanitizado.",
		}, []string{"category"}),
		BucketExhausted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "defense",
			Name:      "bucket_exhausted_total",
			Help:      "Consumos de token negados por bucket vazio.",
		}, []string{"category"}),
		BreakerTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "defense",
			Name:      "breaker_transitions_total",
			Help:      "Transições de estado de circuit breaker.",
		}, []string{"category", "to"}),
		Violations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "defense",
			Name:      "violations_total",
			Help:      "Violações registradas, por fonte.",
		}, []string{"source"}),
		Blocks: f.NewCounter(prometheus.CounterOpts{
			Namespace: "defense",
			Name:      "origin_blocks_total",
			Help:      "Origens escaladas para o blocklist.",
		}),
		DroppedEvents: f.NewCounter(prometheus.CounterOpts{
			Namespace: "defense",
			Name:      "dropped_events_total",
			Help:      "Eventos de observabilidade descartados por buffer cheio.",
		}),
	}
}

// PromRecorder implementa domain.Recorder sobre Metrics.
type PromRecorder struct {
	m *Metrics
}

func NewPromRecorder(m *Metrics) *PromRecorder { return &PromRecorder{m: m} }

func (r *PromRecorder) Record(_ context.Context, ev domain.DecisionEvent) error {
	cat := string(ev.Category)

	outcome := "allowed"
	if !ev.Allowed {
		outcome = string(ev.Kind)
	}
	r.m.Requests.WithLabelValues(cat, outcome).Inc()

	if ev.Elapsed > 0 {
		r.m.DecisionSeconds.WithLabelValues(cat).Observe(ev.Elapsed.Seconds())
	}
	if ev.ThreatScore > 0 {
		r.m.ThreatScore.WithLabelValues(cat).Observe(float64(ev.ThreatScore))
	}
	if ev.Sanitized {
		r.m.Sanitized.WithLabelValues(cat).Inc()
	}
	if ev.Kind == domain.RejectRateLimited {
		r.m.BucketExhausted.WithLabelValues(cat).Inc()
	}
	return nil
}

func (r *PromRecorder) RecordViolation(_ context.Context, v domain.Violation) error {
	r.m.Violations.WithLabelValues(v.Source).Inc()
	return nil
}

func (r *PromRecorder) RecordEscalation(_ context.Context, _ domain.EscalationEvent) error {
	r.m.Blocks.Inc()
	return nil
}

func (r *PromRecorder) RecordBreakerChange(_ context.Context, cat domain.Category, _, to domain.CircuitState) error {
	r.m.BreakerTransitions.WithLabelValues(string(cat), to.String()).Inc()
	return nil
}
