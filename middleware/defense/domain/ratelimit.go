package domain

import (
	"context"
	"errors"
	"time"
)

// ErrStoreUnavailable indica que o store compartilhado de buckets está
// inacessível. O compositor trata como erro operacional e falha aberto
// (permite a requisição), porque disponibilidade pesa mais que quota estrita
// durante uma indisponibilidade transitória do store.
var ErrStoreUnavailable = errors.New("bucket store unavailable")

// BucketDecision é o resultado de uma tentativa de consumo de token.
type BucketDecision struct {
	Allowed bool
	// Limit é o tamanho efetivo do bucket (capacidade escalada + burst).
	Limit int
	// Remaining são os tokens restantes após o consumo.
	Remaining int
	// Reset é o tempo até o próximo token ficar disponível.
	Reset time.Duration
	// RetryAfter, quando Allowed=false, é a espera recomendada.
	RetryAfter time.Duration
}

// BucketStore consome um token do bucket (key, categoria).
//
// A leitura-modificação-escrita por chave deve ser atômica: dois consumos
// concorrentes nunca podem ambos passar pelo mesmo token marginal. scale é o
// fator adaptativo vigente (aplicado sobre capacidade e taxa de reposição).
type BucketStore interface {
	Take(ctx context.Context, key Key, pol CategoryPolicy, scale float64) (BucketDecision, error)
}
