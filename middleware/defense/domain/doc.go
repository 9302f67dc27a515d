// Package domain define os contratos e tipos do pipeline de defesa.
//
// Regras e contratos (interfaces/tipos de valor) sem dependência de net/http.
package domain
