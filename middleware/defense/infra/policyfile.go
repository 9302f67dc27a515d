package infra

import (
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"defense-gateway/middleware/defense/domain"

	"gopkg.in/yaml.v3"
)

// PolicyStore implementa domain.PolicyProvider com troca atômica do
// conjunto inteiro: reload monta um PolicySet novo, valida e faz o swap.
// Leitores seguram o ponteiro que pegaram, nunca veem estado parcial.
type PolicyStore struct {
	current atomic.Pointer[domain.PolicySet]
}

func NewPolicyStore(set *domain.PolicySet) *PolicyStore {
	s := &PolicyStore{}
	s.current.Store(set)
	return s
}

func (s *PolicyStore) Current() *domain.PolicySet { return s.current.Load() }

func (s *PolicyStore) Swap(set *domain.PolicySet) { s.current.Store(set) }

// ReloadFile recarrega as políticas do arquivo. Em erro, o conjunto vigente
// permanece intocado.
func (s *PolicyStore) ReloadFile(path string) error {
	set, err := LoadPolicyFile(path)
	if err != nil {
		return err
	}
	s.Swap(set)
	return nil
}

// Esquema YAML do arquivo de políticas. Os nomes seguem as opções
// reconhecidas da configuração externa.
type policyFile struct {
	Categories map[string]categoryYAML `yaml:"categories"`
	Global     globalYAML              `yaml:"global"`
}

type categoryYAML struct {
	Capacity        *int      `yaml:"capacity"`
	BurstSize       *int      `yaml:"burstSize"`
	RefillWindow    *duration `yaml:"refillWindow"`
	BlockThreshold  *int      `yaml:"blockThreshold"`
	StrictMode      *bool     `yaml:"strictMode"`
	SanitizeBody    *bool     `yaml:"sanitizeBody"`
	SanitizeQuery   *bool     `yaml:"sanitizeQuery"`
	SanitizeHeaders *bool     `yaml:"sanitizeHeaders"`
	ScanPath        *bool     `yaml:"scanPath"`
	MaxBodyBytes    *int64    `yaml:"maxBodyBytes"`
}

type globalYAML struct {
	ViolationWindow         *duration `yaml:"violationWindow"`
	ViolationThreshold      *int      `yaml:"violationThreshold"`
	BlockDuration           *duration `yaml:"blockDuration"`
	CircuitFailureThreshold *int      `yaml:"circuitFailureThreshold"`
	CircuitCooldown         *duration `yaml:"circuitCooldown"`
	CircuitProbeCount       *int      `yaml:"circuitProbeCount"`
	ScaleFloor              *float64  `yaml:"scaleFloor"`
}

// duration aceita os formatos de time.ParseDuration no YAML ("30s", "5m").
type duration time.Duration

func (d *duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = duration(v)
	return nil
}

// DefaultCategoryPolicy são os valores usados quando o arquivo omite um
// campo (e a política inteira da categoria "default" quando ausente).
func DefaultCategoryPolicy() domain.CategoryPolicy {
	return domain.CategoryPolicy{
		Capacity:       100,
		BurstSize:      10,
		RefillWindow:   time.Minute,
		BlockThreshold: 40,
		SanitizeBody:   true,
		SanitizeQuery:  true,
		ScanPath:       true,
		MaxBodyBytes:   64 << 10,
	}
}

func DefaultGlobalPolicy() domain.GlobalPolicy {
	return domain.GlobalPolicy{
		ViolationWindow:         5 * time.Minute,
		ViolationThreshold:      10,
		BlockDuration:           15 * time.Minute,
		CircuitFailureThreshold: 5,
		CircuitCooldown:         30 * time.Second,
		CircuitProbeCount:       3,
		ScaleFloor:              0.1,
	}
}

// DefaultPolicySet é o conjunto mínimo funcional (só a categoria default).
func DefaultPolicySet() *domain.PolicySet {
	return &domain.PolicySet{
		Categories: map[domain.Category]domain.CategoryPolicy{
			domain.DefaultCategory: DefaultCategoryPolicy(),
		},
		Global: DefaultGlobalPolicy(),
	}
}

// LoadPolicyFile lê e valida o arquivo YAML de políticas. Campos omitidos
// caem nos defaults; a categoria "default" é garantida.
func LoadPolicyFile(path string) (*domain.PolicySet, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}

	var pf policyFile
	if err := yaml.Unmarshal(raw, &pf); err != nil {
		return nil, fmt.Errorf("parse policy file: %w", err)
	}

	set := DefaultPolicySet()

	for name, cy := range pf.Categories {
		pol := DefaultCategoryPolicy()
		applyCategory(&pol, cy)
		if err := validateCategory(name, pol); err != nil {
			return nil, err
		}
		set.Categories[domain.Category(name)] = pol
	}

	applyGlobal(&set.Global, pf.Global)
	if err := validateGlobal(set.Global); err != nil {
		return nil, err
	}
	return set, nil
}

func applyCategory(pol *domain.CategoryPolicy, cy categoryYAML) {
	if cy.Capacity != nil {
		pol.Capacity = *cy.Capacity
	}
	if cy.BurstSize != nil {
		pol.BurstSize = *cy.BurstSize
	}
	if cy.RefillWindow != nil {
		pol.RefillWindow = time.Duration(*cy.RefillWindow)
	}
	if cy.BlockThreshold != nil {
		pol.BlockThreshold = *cy.BlockThreshold
	}
	if cy.StrictMode != nil {
		pol.StrictMode = *cy.StrictMode
	}
	if cy.SanitizeBody != nil {
		pol.SanitizeBody = *cy.SanitizeBody
	}
	if cy.SanitizeQuery != nil {
		pol.SanitizeQuery = *cy.SanitizeQuery
	}
	if cy.SanitizeHeaders != nil {
		pol.SanitizeHeaders = *cy.SanitizeHeaders
	}
	if cy.ScanPath != nil {
		pol.ScanPath = *cy.ScanPath
	}
	if cy.MaxBodyBytes != nil {
		pol.MaxBodyBytes = *cy.MaxBodyBytes
	}
}

func applyGlobal(g *domain.GlobalPolicy, gy globalYAML) {
	if gy.ViolationWindow != nil {
		g.ViolationWindow = time.Duration(*gy.ViolationWindow)
	}
	if gy.ViolationThreshold != nil {
		g.ViolationThreshold = *gy.ViolationThreshold
	}
	if gy.BlockDuration != nil {
		g.BlockDuration = time.Duration(*gy.BlockDuration)
	}
	if gy.CircuitFailureThreshold != nil {
		g.CircuitFailureThreshold = *gy.CircuitFailureThreshold
	}
	if gy.CircuitCooldown != nil {
		g.CircuitCooldown = time.Duration(*gy.CircuitCooldown)
	}
	if gy.CircuitProbeCount != nil {
		g.CircuitProbeCount = *gy.CircuitProbeCount
	}
	if gy.ScaleFloor != nil {
		g.ScaleFloor = *gy.ScaleFloor
	}
}

func validateCategory(name string, pol domain.CategoryPolicy) error {
	if pol.Capacity <= 0 {
		return fmt.Errorf("category %q: capacity must be > 0", name)
	}
	if pol.BurstSize < 0 {
		return fmt.Errorf("category %q: burstSize must be >= 0", name)
	}
	if pol.RefillWindow <= 0 {
		return fmt.Errorf("category %q: refillWindow must be > 0", name)
	}
	if pol.BlockThreshold < 0 {
		return fmt.Errorf("category %q: blockThreshold must be >= 0", name)
	}
	return nil
}

func validateGlobal(g domain.GlobalPolicy) error {
	if g.ViolationWindow <= 0 || g.ViolationThreshold <= 0 || g.BlockDuration <= 0 {
		return fmt.Errorf("global: violation window/threshold/blockDuration must be > 0")
	}
	if g.CircuitFailureThreshold <= 0 || g.CircuitCooldown <= 0 || g.CircuitProbeCount <= 0 {
		return fmt.Errorf("global: circuit thresholds must be > 0")
	}
	if g.ScaleFloor <= 0 || g.ScaleFloor > 1 {
		return fmt.Errorf("global: scaleFloor must be in (0, 1]")
	}
	return nil
}
