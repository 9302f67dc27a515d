// Package application contém os casos de uso do pipeline de defesa: o
// compositor de decisão (ordem fixa dos estágios, short-circuit tipado,
// recuperação de pânico por estágio) e a aquisição de vaga com timeout.
// Nada aqui conhece net/http.
package application
