package infra

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"defense-gateway/middleware/defense/domain"
)

func writePolicyFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "policies.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write policy file: %v", err)
	}
	return path
}

func TestLoadPolicyFile_FullFile(t *testing.T) {
	path := writePolicyFile(t, `
categories:
  payment:
    capacity: 20
    burstSize: 5
    refillWindow: 30s
    blockThreshold: 25
    strictMode: true
    sanitizeHeaders: true
    scanPath: false
    maxBodyBytes: 4096
  catalog:
    capacity: 500
global:
  violationWindow: 2m
  violationThreshold: 5
  blockDuration: 1h
  circuitFailureThreshold: 3
  circuitCooldown: 45s
  circuitProbeCount: 2
  scaleFloor: 0.25
`)

	set, err := LoadPolicyFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	pay := set.Category("payment")
	if pay.Capacity != 20 || pay.BurstSize != 5 || pay.RefillWindow != 30*time.Second {
		t.Fatalf("unexpected payment policy: %+v", pay)
	}
	if !pay.StrictMode || !pay.SanitizeHeaders || pay.ScanPath || pay.MaxBodyBytes != 4096 {
		t.Fatalf("unexpected payment flags: %+v", pay)
	}
	if pay.BlockThreshold != 25 {
		t.Fatalf("expected blockThreshold 25, got %d", pay.BlockThreshold)
	}

	// campos omitidos caem nos defaults
	cat := set.Category("catalog")
	if cat.Capacity != 500 {
		t.Fatalf("expected capacity 500, got %d", cat.Capacity)
	}
	if cat.BurstSize != 10 || cat.RefillWindow != time.Minute || cat.BlockThreshold != 40 || !cat.ScanPath {
		t.Fatalf("expected defaults for omitted fields: %+v", cat)
	}

	g := set.Global
	if g.ViolationWindow != 2*time.Minute || g.ViolationThreshold != 5 || g.BlockDuration != time.Hour {
		t.Fatalf("unexpected global violation policy: %+v", g)
	}
	if g.CircuitFailureThreshold != 3 || g.CircuitCooldown != 45*time.Second || g.CircuitProbeCount != 2 {
		t.Fatalf("unexpected global circuit policy: %+v", g)
	}
	if g.ScaleFloor != 0.25 {
		t.Fatalf("expected scaleFloor 0.25, got %v", g.ScaleFloor)
	}
}

func TestLoadPolicyFile_UnknownCategoryFallsBackToDefault(t *testing.T) {
	path := writePolicyFile(t, `
categories:
  payment:
    capacity: 20
`)
	set, err := LoadPolicyFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// categoria não declarada resolve para a default
	def := set.Category("does-not-exist")
	if def.Capacity != DefaultCategoryPolicy().Capacity {
		t.Fatalf("expected default policy for unknown category, got %+v", def)
	}
	if set.HasCategory("does-not-exist") {
		t.Fatalf("expected HasCategory false for unknown category")
	}
	if !set.HasCategory("payment") {
		t.Fatalf("expected HasCategory true for declared category")
	}
}

func TestLoadPolicyFile_InvalidValues(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"zero capacity", "categories:\n  payment:\n    capacity: 0\n"},
		{"negative burst", "categories:\n  payment:\n    burstSize: -1\n"},
		{"bad duration", "categories:\n  payment:\n    refillWindow: sixty\n"},
		{"scale floor out of range", "global:\n  scaleFloor: 1.5\n"},
		{"zero probe count", "global:\n  circuitProbeCount: 0\n"},
		{"not yaml", "{{{{"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writePolicyFile(t, tc.content)
			if _, err := LoadPolicyFile(path); err == nil {
				t.Fatalf("expected error for %s", tc.name)
			}
		})
	}
}

func TestLoadPolicyFile_MissingFile(t *testing.T) {
	if _, err := LoadPolicyFile(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestPolicyStore_ReloadKeepsCurrentOnError(t *testing.T) {
	set := DefaultPolicySet()
	store := NewPolicyStore(set)

	bad := writePolicyFile(t, "categories:\n  payment:\n    capacity: 0\n")
	if err := store.ReloadFile(bad); err == nil {
		t.Fatalf("expected reload error")
	}
	if store.Current() != set {
		t.Fatalf("expected current set untouched after failed reload")
	}

	good := writePolicyFile(t, "categories:\n  payment:\n    capacity: 7\n")
	if err := store.ReloadFile(good); err != nil {
		t.Fatalf("unexpected reload error: %v", err)
	}
	if got := store.Current().Category("payment").Capacity; got != 7 {
		t.Fatalf("expected reloaded capacity 7, got %d", got)
	}
}

func TestPolicyStore_SwapIsVisible(t *testing.T) {
	store := NewPolicyStore(DefaultPolicySet())

	next := DefaultPolicySet()
	next.Categories[domain.Category("payment")] = DefaultCategoryPolicy()
	store.Swap(next)

	if !store.Current().HasCategory("payment") {
		t.Fatalf("expected swapped set visible")
	}
}
