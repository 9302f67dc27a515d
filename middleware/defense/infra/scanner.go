package infra

import (
	"sort"

	"defense-gateway/middleware/defense/domain"
)

// maxSanitizePasses limita as passadas de remoção por valor. Remover um span
// pode expor um novo casamento (ex: "<scr<script>ipt>"), então repetimos até
// estabilizar, com teto.
const maxSanitizePasses = 3

// PatternScanner implementa domain.Scanner sobre a biblioteca fixa de
// padrões de patterns.go.
//
// É uma função pura sobre tabelas somente-leitura: sem locks, seguro para
// uso totalmente paralelo.
type PatternScanner struct {
	patterns []threatPattern
}

func NewPatternScanner() *PatternScanner {
	return &PatternScanner{patterns: threatPatterns}
}

// Scan analisa as partes cobertas pela política, soma o score por parte e
// decide entre bloquear (score >= threshold, ou strict mode com score > 0)
// e sanitizar (score > 0 abaixo do threshold: os spans ofensivos são
// removidos e a requisição segue com o conteúdo modificado).
func (s *PatternScanner) Scan(parts domain.RequestParts, pol domain.CategoryPolicy) domain.ThreatResult {
	res := domain.ThreatResult{Parts: parts}
	cats := map[string]bool{}

	// o path só contribui score, nunca é reescrito para não quebrar o
	// roteamento (traversal vive aqui; desligável por política).
	if pol.ScanPath {
		score, _ := s.scanValue(parts.Path, cats)
		res.Score += score
	}

	if pol.SanitizeQuery && len(parts.Query) > 0 {
		partScore, cleaned, changed := s.scanValues(parts.Query, cats)
		res.Score += partScore
		if changed {
			res.Parts.Query = cleaned
			res.Sanitized = true
		}
	}

	if pol.SanitizeHeaders && len(parts.Headers) > 0 {
		partScore, cleaned, changed := s.scanValues(parts.Headers, cats)
		res.Score += partScore
		if changed {
			res.Parts.Headers = cleaned
			res.Sanitized = true
		}
	}

	if pol.SanitizeBody && len(parts.Body) > 0 {
		partScore, cleaned := s.scanValue(string(parts.Body), cats)
		res.Score += partScore
		if cleaned != string(parts.Body) {
			res.Parts.Body = []byte(cleaned)
			res.Sanitized = true
		}
	}

	for c := range cats {
		res.Categories = append(res.Categories, c)
	}
	sort.Strings(res.Categories)

	if res.Score > 0 {
		if pol.StrictMode {
			res.Block = true
		} else if pol.BlockThreshold > 0 && res.Score >= pol.BlockThreshold {
			res.Block = true
		}
	}
	if res.Block {
		// bloqueio não entrega conteúdo modificado
		res.Sanitized = false
		res.Parts = parts
	}
	return res
}

// scanValue aplica cada matcher uma vez sobre o valor. Cada matcher que casa
// contribui seu peso uma única vez, e seus spans são removidos do valor
// retornado.
func (s *PatternScanner) scanValue(v string, cats map[string]bool) (score int, cleaned string) {
	cleaned = v
	for i := range s.patterns {
		p := &s.patterns[i]
		hit, out := safeMatch(p, cleaned)
		if hit {
			score += p.weight
			cats[p.category] = true
			cleaned = out
		}
	}
	return score, cleaned
}

// scanValues trata uma coleção (query ou headers). O peso de cada matcher
// conta no máximo uma vez para a parte inteira, mesmo casando em vários
// valores.
func (s *PatternScanner) scanValues(m map[string][]string, cats map[string]bool) (score int, cleaned map[string][]string, changed bool) {
	hitByPattern := make([]bool, len(s.patterns))
	cleaned = m

	for key, vals := range m {
		for vi, v := range vals {
			newV := v
			for i := range s.patterns {
				p := &s.patterns[i]
				hit, out := safeMatch(p, newV)
				if hit {
					hitByPattern[i] = true
					cats[p.category] = true
					newV = out
				}
			}
			if newV != v {
				if !changed {
					cleaned = copyValues(m)
					changed = true
				}
				cleaned[key][vi] = newV
			}
		}
	}

	for i, hit := range hitByPattern {
		if hit {
			score += s.patterns[i].weight
		}
	}
	return score, cleaned, changed
}

// safeMatch roda um matcher com recover: entrada malformada que quebre um
// matcher individual vale score 0 para aquele matcher, nunca derruba a
// requisição.
func safeMatch(p *threatPattern, v string) (hit bool, cleaned string) {
	defer func() {
		if r := recover(); r != nil {
			hit = false
			cleaned = v
		}
	}()

	if !p.re.MatchString(v) {
		return false, v
	}
	cleaned = v
	for pass := 0; pass < maxSanitizePasses; pass++ {
		out := p.re.ReplaceAllString(cleaned, "")
		if out == cleaned {
			break
		}
		cleaned = out
	}
	return true, cleaned
}

func copyValues(m map[string][]string) map[string][]string {
	out := make(map[string][]string, len(m))
	for k, vals := range m {
		cp := make([]string, len(vals))
		copy(cp, vals)
		out[k] = cp
	}
	return out
}
