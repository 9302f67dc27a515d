package infra

import (
	"context"
	"sync"
	"time"

	"defense-gateway/middleware/defense/domain"
)

// ViolationTracker implementa domain.ViolationTracker em memória: janela
// deslizante de violações por origem e blocklist com expiração.
//
// O peso na janela é a soma das severidades (um evento High vale três Low).
// Ao cruzar o threshold, a origem entra/renova no blocklist e o callback de
// escalação é acionado.
type ViolationTracker struct {
	mu      sync.RWMutex
	windows map[domain.Origin][]violationEntry
	blocks  map[domain.Origin]time.Time

	window     time.Duration
	threshold  int
	blockFor   time.Duration
	sweepEvery time.Duration

	onEscalate func(domain.EscalationEvent)
	now        func() time.Time
}

type violationEntry struct {
	at  time.Time
	sev domain.Severity
}

type TrackerOption func(*ViolationTracker)

// WithEscalation registra o consumidor de eventos de escalação (recorder /
// sink externo de alertas). Deve ser rápido e não bloquear.
func WithEscalation(fn func(domain.EscalationEvent)) TrackerOption {
	return func(t *ViolationTracker) { t.onEscalate = fn }
}

func WithSweepEvery(d time.Duration) TrackerOption {
	return func(t *ViolationTracker) { t.sweepEvery = d }
}

// WithTrackerClock troca o relógio (teste de janela/expiração).
func WithTrackerClock(now func() time.Time) TrackerOption {
	return func(t *ViolationTracker) { t.now = now }
}

func NewViolationTracker(g domain.GlobalPolicy, opts ...TrackerOption) *ViolationTracker {
	t := &ViolationTracker{
		windows:    make(map[domain.Origin][]violationEntry),
		blocks:     make(map[domain.Origin]time.Time),
		window:     g.ViolationWindow,
		threshold:  g.ViolationThreshold,
		blockFor:   g.BlockDuration,
		sweepEvery: time.Minute,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Record adiciona a violação à janela da origem e avalia escalação.
func (t *ViolationTracker) Record(v domain.Violation) {
	if v.Origin == "" {
		return
	}
	at := v.At
	if at.IsZero() {
		at = t.now()
	}
	sev := v.Severity
	if sev <= 0 {
		sev = domain.SeverityLow
	}

	var escalated *domain.EscalationEvent

	t.mu.Lock()
	win := pruneWindow(t.windows[v.Origin], at.Add(-t.window))
	win = append(win, violationEntry{at: at, sev: sev})
	t.windows[v.Origin] = win

	weight := 0
	for _, e := range win {
		weight += int(e.sev)
	}
	if t.threshold > 0 && weight >= t.threshold {
		until := at.Add(t.blockFor)
		t.blocks[v.Origin] = until
		escalated = &domain.EscalationEvent{Origin: v.Origin, Count: weight, Until: until}
	}
	t.mu.Unlock()

	if escalated != nil && t.onEscalate != nil {
		t.onEscalate(*escalated)
	}
}

// IsBlocked é O(1): um lookup no mapa de bloqueios. Entrada vencida conta
// como desbloqueada mesmo antes do sweep passar.
func (t *ViolationTracker) IsBlocked(o domain.Origin) (bool, time.Time) {
	t.mu.RLock()
	until, ok := t.blocks[o]
	t.mu.RUnlock()
	if !ok || t.now().After(until) {
		return false, time.Time{}
	}
	return true, until
}

// Unblock remove um bloqueio manualmente (endpoint operacional).
func (t *ViolationTracker) Unblock(o domain.Origin) {
	t.mu.Lock()
	delete(t.blocks, o)
	delete(t.windows, o)
	t.mu.Unlock()
}

// Sweep poda janelas e bloqueios vencidos para limitar memória. Janela que
// fica vazia após a poda é removida.
func (t *ViolationTracker) Sweep() {
	now := t.now()
	cutoff := now.Add(-t.window)

	t.mu.Lock()
	defer t.mu.Unlock()

	for o, win := range t.windows {
		win = pruneWindow(win, cutoff)
		if len(win) == 0 {
			delete(t.windows, o)
			continue
		}
		t.windows[o] = win
	}
	for o, until := range t.blocks {
		if now.After(until) {
			delete(t.blocks, o)
		}
	}
}

// StartJanitor roda o Sweep periodicamente. Pare cancelando o contexto.
func (t *ViolationTracker) StartJanitor(ctx context.Context) {
	if t.sweepEvery <= 0 {
		return
	}

	tk := time.NewTicker(t.sweepEvery)
	go func() {
		defer tk.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-tk.C:
				t.Sweep()
			}
		}
	}()
}

func pruneWindow(win []violationEntry, cutoff time.Time) []violationEntry {
	i := 0
	for i < len(win) && win[i].at.Before(cutoff) {
		i++
	}
	if i == 0 {
		return win
	}
	return append([]violationEntry(nil), win[i:]...)
}
