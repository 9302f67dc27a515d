package infra

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"defense-gateway/middleware/defense/domain"
)

func TestPromRecorder_CountsDecisions(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := NewPromRecorder(NewMetrics(reg))
	ctx := context.Background()

	rec.Record(ctx, domain.DecisionEvent{Category: "catalog", Allowed: true, Elapsed: time.Millisecond})
	rec.Record(ctx, domain.DecisionEvent{Category: "catalog", Allowed: true, Sanitized: true})
	rec.Record(ctx, domain.DecisionEvent{Category: "catalog", Kind: domain.RejectRateLimited})

	m := rec.m
	if got := testutil.ToFloat64(m.Requests.WithLabelValues("catalog", "allowed")); got != 2 {
		t.Fatalf("expected 2 allowed, got %v", got)
	}
	if got := testutil.ToFloat64(m.Requests.WithLabelValues("catalog", "rate_limited")); got != 1 {
		t.Fatalf("expected 1 rate_limited, got %v", got)
	}
	if got := testutil.ToFloat64(m.Sanitized.WithLabelValues("catalog")); got != 1 {
		t.Fatalf("expected 1 sanitized, got %v", got)
	}
	if got := testutil.ToFloat64(m.BucketExhausted.WithLabelValues("catalog")); got != 1 {
		t.Fatalf("expected 1 bucket exhaustion, got %v", got)
	}
}

func TestPromRecorder_CountsViolationsAndBreakers(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := NewPromRecorder(NewMetrics(reg))
	ctx := context.Background()

	rec.RecordViolation(ctx, domain.Violation{Origin: "10.0.0.1", Source: "scanner"})
	rec.RecordViolation(ctx, domain.Violation{Origin: "10.0.0.1", Source: "report"})
	rec.RecordEscalation(ctx, domain.EscalationEvent{Origin: "10.0.0.1", Count: 5})
	rec.RecordBreakerChange(ctx, "payment", domain.CircuitClosed, domain.CircuitOpen)

	m := rec.m
	if got := testutil.ToFloat64(m.Violations.WithLabelValues("scanner")); got != 1 {
		t.Fatalf("expected 1 scanner violation, got %v", got)
	}
	if got := testutil.ToFloat64(m.Violations.WithLabelValues("report")); got != 1 {
		t.Fatalf("expected 1 report violation, got %v", got)
	}
	if got := testutil.ToFloat64(m.Blocks); got != 1 {
		t.Fatalf("expected 1 block, got %v", got)
	}
	if got := testutil.ToFloat64(m.BreakerTransitions.WithLabelValues("payment", "open")); got != 1 {
		t.Fatalf("expected 1 transition to open, got %v", got)
	}
}
