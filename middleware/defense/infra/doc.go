// Package infra contém as implementações concretas do pipeline de defesa:
// tabelas de padrões e scanner, stores de token bucket (memória e Redis),
// circuit breaker por categoria, amostrador adaptativo, rastreador de
// violações/blocklist, recorders de observabilidade e carga de políticas.
package infra
