package application

import (
	"context"
	"errors"
	"log"
	"strconv"
	"time"

	"defense-gateway/middleware/defense/domain"
)

// ScaleProvider entrega o fator adaptativo vigente para uma categoria.
// Leitura atômica, nunca bloqueia.
type ScaleProvider interface {
	Factor(cat domain.Category) float64
}

// LoadCounter recebe os contadores que alimentam o amostrador adaptativo.
type LoadCounter interface {
	NoteRequest()
	NoteRejection()
	NoteViolation()
}

// Pipeline é o compositor de decisão. Ordem fixa de avaliação, do mais
// barato/decisivo para o mais caro:
//
//  1. blocklist (O(1), rejeita origem já conhecida como ruim antes de
//     gastar CPU com pattern matching)
//  2. detecção de ameaça / sanitização
//  3. rate limit (consultando o fator adaptativo)
//  4. circuit breaker (depois do rate limit de propósito: uma enxurrada de
//     tráfego legítimo contra um endpoint em recuperação não deve reabrir
//     o breaker)
//
// Cada estágio pode encerrar com uma rejeição tipada. Pânico em um estágio
// é recuperado e degrada para "permitir com log": um bug em um matcher não
// derruba o pipeline.
type Pipeline struct {
	Policies   domain.PolicyProvider
	Scanner    domain.Scanner
	Buckets    domain.BucketStore
	Scale      ScaleProvider
	Breakers   domain.BreakerPanel
	Violations domain.ViolationTracker
	Recorder   domain.Recorder
	Load       LoadCounter
}

// Decide roda os estágios para uma requisição e produz a decisão final.
// Tokens consumidos e violações registradas não são desfeitos se o chamador
// desistir depois: não há estado especulativo.
func (p *Pipeline) Decide(ctx context.Context, rc domain.RequestContext) domain.Decision {
	start := time.Now()
	if p.Load != nil {
		p.Load.NoteRequest()
	}

	pol := p.Policies.Current().Category(rc.Category)

	// 1. blocklist: nunca falha aberto para bloqueio já conhecido
	if p.Violations != nil {
		if blocked, until := p.Violations.IsBlocked(rc.Origin); blocked {
			return p.reject(ctx, rc, start, domain.Decision{
				Kind:       domain.RejectOriginBlocked,
				RetryAfter: time.Until(until),
			}, 0)
		}
	}

	// 2. detecção de ameaça
	var threat domain.ThreatResult
	threat.Parts = rc.Parts
	if p.Scanner != nil {
		res, ok := p.safeScan(rc, pol)
		if ok {
			threat = res
			if threat.Score > 0 {
				p.reportViolation(ctx, rc, pol, threat)
			}
			if threat.Block {
				return p.reject(ctx, rc, start, domain.Decision{
					Kind: domain.RejectThreat,
				}, threat.Score)
			}
		}
	}

	// 3. rate limit
	var bucket domain.BucketDecision
	haveBucket := false
	if p.Buckets != nil {
		scale := 1.0
		if p.Scale != nil {
			scale = p.Scale.Factor(rc.Category)
		}
		bd, err := p.Buckets.Take(ctx, rc.Key, pol, scale)
		switch {
		case err != nil:
			// store fora do ar: falha aberto para quota, loga e segue
			// (a detecção de ameaça acima continua valendo)
			if errors.Is(err, domain.ErrStoreUnavailable) {
				log.Printf("bucket store unavailable, failing open for key %q: %v", rc.Key, err)
			} else {
				log.Printf("bucket store error, failing open for key %q: %v", rc.Key, err)
			}
		case !bd.Allowed:
			// rejeição de rate limit conta como falha para o breaker, mas
			// apenas em CLOSED: em HALF_OPEN a reabertura é reservada para
			// falha de sonda, e tráfego acima da cota durante a recuperação
			// não pode reabrir o breaker
			if p.Breakers != nil && p.Breakers.State(rc.Category) == domain.CircuitClosed {
				p.Breakers.OnFailure(rc.Category)
			}
			dec := domain.Decision{
				Kind:       domain.RejectRateLimited,
				RetryAfter: bd.RetryAfter,
				Headers:    rateHeaders(bd),
			}
			return p.reject(ctx, rc, start, dec, threat.Score)
		default:
			bucket = bd
			haveBucket = true
		}
	}

	// 4. circuit breaker
	if p.Breakers != nil {
		if ok, retry := p.Breakers.Allow(rc.Category); !ok {
			return p.reject(ctx, rc, start, domain.Decision{
				Kind:       domain.RejectCircuitOpen,
				RetryAfter: retry,
			}, threat.Score)
		}
	}

	dec := domain.Decision{
		Allowed:   true,
		Sanitized: threat.Sanitized,
		Parts:     threat.Parts,
	}
	if haveBucket {
		dec.Headers = rateHeaders(bucket)
	}

	p.record(ctx, rc, domain.DecisionEvent{
		Key:         rc.Key,
		Category:    rc.Category,
		Origin:      rc.Origin,
		Allowed:     true,
		ThreatScore: threat.Score,
		Sanitized:   threat.Sanitized,
		Elapsed:     time.Since(start),
		Method:      rc.Method,
		Path:        rc.Path,
		At:          rc.At,
	})
	return dec
}

// ObserveDownstream alimenta o breaker com o resultado do downstream
// (status >= 500 conta como falha). Chamado pelo adapter HTTP após o proxy.
func (p *Pipeline) ObserveDownstream(cat domain.Category, failed bool) {
	if p.Breakers == nil {
		return
	}
	if failed {
		p.Breakers.OnFailure(cat)
		return
	}
	p.Breakers.OnSuccess(cat)
}

// safeScan isola o scanner: pânico vira "estágio pulado" com log.
func (p *Pipeline) safeScan(rc domain.RequestContext, pol domain.CategoryPolicy) (res domain.ThreatResult, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("threat scanner panic for %s %s: %v", rc.Method, rc.Path, r)
			ok = false
		}
	}()
	return p.Scanner.Scan(rc.Parts, pol), true
}

func (p *Pipeline) reportViolation(ctx context.Context, rc domain.RequestContext, pol domain.CategoryPolicy, threat domain.ThreatResult) {
	sev := domain.SeverityLow
	switch {
	case pol.BlockThreshold > 0 && threat.Score >= pol.BlockThreshold:
		sev = domain.SeverityHigh
	case threat.Score >= WeightMediumViolation:
		sev = domain.SeverityMedium
	}

	v := domain.Violation{
		Origin:   rc.Origin,
		Severity: sev,
		Source:   "scanner",
		At:       rc.At,
	}
	if p.Violations != nil {
		p.Violations.Record(v)
	}
	if p.Recorder != nil {
		_ = p.Recorder.RecordViolation(ctx, v)
	}
	if p.Load != nil {
		p.Load.NoteViolation()
	}
}

// WeightMediumViolation é o score a partir do qual uma violação inline conta
// como severidade média.
const WeightMediumViolation = 20

func (p *Pipeline) reject(ctx context.Context, rc domain.RequestContext, start time.Time, dec domain.Decision, score int) domain.Decision {
	dec.Allowed = false
	dec.Code = dec.Kind.Code()
	if p.Load != nil {
		p.Load.NoteRejection()
	}
	p.record(ctx, rc, domain.DecisionEvent{
		Key:         rc.Key,
		Category:    rc.Category,
		Origin:      rc.Origin,
		Allowed:     false,
		Kind:        dec.Kind,
		ThreatScore: score,
		Elapsed:     time.Since(start),
		Method:      rc.Method,
		Path:        rc.Path,
		At:          rc.At,
	})
	return dec
}

func (p *Pipeline) record(ctx context.Context, rc domain.RequestContext, ev domain.DecisionEvent) {
	if p.Recorder == nil {
		return
	}
	// recorder é assíncrono; erro aqui é best-effort
	_ = p.Recorder.Record(ctx, ev)
}

func rateHeaders(bd domain.BucketDecision) map[string]string {
	h := map[string]string{
		"X-RateLimit-Limit":     strconv.Itoa(bd.Limit),
		"X-RateLimit-Remaining": strconv.Itoa(bd.Remaining),
	}
	reset := int(bd.Reset.Seconds())
	if reset < 0 {
		reset = 0
	}
	h["X-RateLimit-Reset"] = strconv.Itoa(reset)
	return h
}
