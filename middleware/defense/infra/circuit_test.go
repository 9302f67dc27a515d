package infra

import (
	"fmt"
	"testing"
	"time"

	"defense-gateway/middleware/defense/domain"
)

// fakeClock é um relógio controlável para testes de cooldown.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func breakerPolicies() *PolicyStore {
	set := DefaultPolicySet()
	set.Global.CircuitFailureThreshold = 3
	set.Global.CircuitCooldown = 30 * time.Second
	set.Global.CircuitProbeCount = 2
	return NewPolicyStore(set)
}

func TestBreakerPanel_OpensAfterThresholdFailures(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	panel := NewBreakerPanel(breakerPolicies(), WithPanelClock(clock.now))

	for i := 0; i < 2; i++ {
		panel.OnFailure("payment")
		if got := panel.State("payment"); got != domain.CircuitClosed {
			t.Fatalf("after %d failures: expected CLOSED, got %v", i+1, got)
		}
	}
	panel.OnFailure("payment")
	if got := panel.State("payment"); got != domain.CircuitOpen {
		t.Fatalf("expected OPEN after threshold, got %v", got)
	}

	ok, retry := panel.Allow("payment")
	if ok {
		t.Fatalf("expected OPEN breaker to reject")
	}
	if retry <= 0 || retry > 30*time.Second {
		t.Fatalf("expected retry within cooldown, got %v", retry)
	}
}

func TestBreakerPanel_SuccessResetsFailureCount(t *testing.T) {
	panel := NewBreakerPanel(breakerPolicies())

	panel.OnFailure("catalog")
	panel.OnFailure("catalog")
	panel.OnSuccess("catalog") // zera o contador
	panel.OnFailure("catalog")
	panel.OnFailure("catalog")

	if got := panel.State("catalog"); got != domain.CircuitClosed {
		t.Fatalf("expected CLOSED (failures non-consecutive), got %v", got)
	}
}

func TestBreakerPanel_HalfOpenAfterCooldown(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	panel := NewBreakerPanel(breakerPolicies(), WithPanelClock(clock.now))

	for i := 0; i < 3; i++ {
		panel.OnFailure("payment")
	}
	if ok, _ := panel.Allow("payment"); ok {
		t.Fatalf("expected rejection during cooldown")
	}

	clock.advance(31 * time.Second)
	ok, _ := panel.Allow("payment")
	if !ok {
		t.Fatalf("expected probe admitted after cooldown")
	}
	if got := panel.State("payment"); got != domain.CircuitHalfOpen {
		t.Fatalf("expected HALF_OPEN, got %v", got)
	}
}

func TestBreakerPanel_HalfOpenLimitsProbes(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	panel := NewBreakerPanel(breakerPolicies(), WithPanelClock(clock.now))

	for i := 0; i < 3; i++ {
		panel.OnFailure("payment")
	}
	clock.advance(31 * time.Second)

	// probeCount=2: a transição admite a primeira sonda, Allow admite mais uma
	if ok, _ := panel.Allow("payment"); !ok {
		t.Fatalf("expected first probe admitted")
	}
	if ok, _ := panel.Allow("payment"); !ok {
		t.Fatalf("expected second probe admitted")
	}
	if ok, _ := panel.Allow("payment"); ok {
		t.Fatalf("expected third request rejected while probes in flight")
	}
}

func TestBreakerPanel_ClosesAfterProbeSuccesses(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	panel := NewBreakerPanel(breakerPolicies(), WithPanelClock(clock.now))

	for i := 0; i < 3; i++ {
		panel.OnFailure("payment")
	}
	clock.advance(31 * time.Second)
	panel.Allow("payment")
	panel.Allow("payment")

	panel.OnSuccess("payment")
	if got := panel.State("payment"); got != domain.CircuitHalfOpen {
		t.Fatalf("expected still HALF_OPEN after 1 of 2 probes, got %v", got)
	}
	panel.OnSuccess("payment")
	if got := panel.State("payment"); got != domain.CircuitClosed {
		t.Fatalf("expected CLOSED after probe successes, got %v", got)
	}

	// fechado de novo: tráfego normal passa
	if ok, _ := panel.Allow("payment"); !ok {
		t.Fatalf("expected traffic admitted after close")
	}
}

func TestBreakerPanel_ProbeFailureReopens(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	panel := NewBreakerPanel(breakerPolicies(), WithPanelClock(clock.now))

	for i := 0; i < 3; i++ {
		panel.OnFailure("payment")
	}
	clock.advance(31 * time.Second)
	panel.Allow("payment")

	panel.OnFailure("payment") // sonda falhou: reabre e reinicia o cooldown
	if got := panel.State("payment"); got != domain.CircuitOpen {
		t.Fatalf("expected OPEN after probe failure, got %v", got)
	}
	if ok, _ := panel.Allow("payment"); ok {
		t.Fatalf("expected rejection, cooldown restarted")
	}
	clock.advance(31 * time.Second)
	if ok, _ := panel.Allow("payment"); !ok {
		t.Fatalf("expected probe admitted after restarted cooldown")
	}
}

func TestBreakerPanel_CategoriesAreIndependent(t *testing.T) {
	panel := NewBreakerPanel(breakerPolicies())

	for i := 0; i < 3; i++ {
		panel.OnFailure("payment")
	}
	if ok, _ := panel.Allow("catalog"); !ok {
		t.Fatalf("expected catalog unaffected by payment breaker")
	}

	open := panel.OpenCategories()
	if len(open) != 1 || open[0] != "payment" {
		t.Fatalf("expected open=[payment], got %v", open)
	}
}

func TestBreakerPanel_NotifiesTransitions(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	var got []string
	panel := NewBreakerPanel(breakerPolicies(),
		WithPanelClock(clock.now),
		WithBreakerChange(func(cat domain.Category, from, to domain.CircuitState) {
			got = append(got, fmt.Sprintf("%s:%s->%s", cat, from, to))
		}))

	for i := 0; i < 3; i++ {
		panel.OnFailure("payment")
	}
	clock.advance(31 * time.Second)
	panel.Allow("payment")
	panel.Allow("payment")
	panel.OnSuccess("payment")
	panel.OnSuccess("payment")

	want := []string{
		"payment:closed->open",
		"payment:open->half_open",
		"payment:half_open->closed",
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d transitions, got %v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("transition %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}
