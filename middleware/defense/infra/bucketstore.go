package infra

import (
	"context"
	"math"
	"sync"
	"time"

	"defense-gateway/middleware/defense/domain"

	"golang.org/x/time/rate"
)

// BucketStore é a implementação em memória do token bucket (x/time/rate)
// com cache por chave, TTL de inatividade e limpeza periódica.
//
// O fator adaptativo é aplicado a cada consumo: capacidade e taxa efetivas
// são capacidade/taxa base da política vezes o scale, com o burst somado por
// cima (burst absorve rajada, não é escalado). O limiter interno é ajustado
// via SetLimit/SetBurst quando o efetivo muda.
type BucketStore struct {
	mu           sync.Mutex
	entries      map[domain.Key]*bucketEntry
	idleTTL      time.Duration
	cleanupEvery time.Duration
}

type bucketEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
	// efetivos aplicados por último, para detectar mudança de scale/política
	limit rate.Limit
	size  int
}

type BucketStoreOption func(*BucketStore)

func WithBucketIdleTTL(d time.Duration) BucketStoreOption {
	return func(s *BucketStore) { s.idleTTL = d }
}

func WithBucketCleanupEvery(d time.Duration) BucketStoreOption {
	return func(s *BucketStore) { s.cleanupEvery = d }
}

func NewBucketStore(opts ...BucketStoreOption) *BucketStore {
	s := &BucketStore{
		entries:      make(map[domain.Key]*bucketEntry),
		idleTTL:      15 * time.Minute,
		cleanupEvery: 2 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Take implementa domain.BucketStore. Nunca retorna erro: o store em memória
// não tem dependência externa.
func (s *BucketStore) Take(_ context.Context, key domain.Key, pol domain.CategoryPolicy, scale float64) (domain.BucketDecision, error) {
	effLimit, size := effective(pol, scale)
	now := time.Now()

	s.mu.Lock()
	ent, ok := s.entries[key]
	if !ok {
		// bucket novo nasce cheio (capacidade + burst): o burst é
		// consumido primeiro por construção
		ent = &bucketEntry{
			lim:   rate.NewLimiter(effLimit, size),
			limit: effLimit,
			size:  size,
		}
		s.entries[key] = ent
	} else if ent.limit != effLimit || ent.size != size {
		ent.lim.SetLimit(effLimit)
		ent.lim.SetBurst(size)
		ent.limit = effLimit
		ent.size = size
	}
	ent.lastSeen = now
	lim := ent.lim
	s.mu.Unlock()

	// rate.Limiter é thread-safe; a seção crítica acima cobre só o cache
	allowed := lim.Allow()

	remaining := int(math.Floor(lim.Tokens()))
	if remaining < 0 {
		remaining = 0
	}
	if remaining > size {
		remaining = size
	}

	dec := domain.BucketDecision{
		Allowed:   allowed,
		Limit:     size,
		Remaining: remaining,
	}
	if remaining < size {
		dec.Reset = tokenInterval(effLimit)
	}
	if !allowed {
		dec.RetryAfter = tokenInterval(effLimit)
	}
	return dec, nil
}

// effective aplica o fator adaptativo sobre a política. O scale chega já
// limitado ao piso pelo amostrador; aqui só defendemos contra valores fora
// de [0,1] e garantimos capacidade mínima de 1.
func effective(pol domain.CategoryPolicy, scale float64) (rate.Limit, int) {
	if scale <= 0 || scale > 1 {
		scale = 1
	}
	c := int(math.Round(float64(pol.Capacity) * scale))
	if c < 1 {
		c = 1
	}
	r := pol.RefillRate() * scale
	if r <= 0 {
		r = 1
	}
	return rate.Limit(r), c + pol.BurstSize
}

// tokenInterval é o tempo até o próximo token. Pode ser subsegundo em taxas
// altas; o arredondamento para a granularidade de Retry-After acontece só na
// borda HTTP, na formatação do header.
func tokenInterval(l rate.Limit) time.Duration {
	if l <= 0 {
		return time.Second
	}
	return time.Duration(math.Ceil(float64(time.Second) / float64(l)))
}

// Cleanup remove buckets inativos há mais que o TTL.
func (s *BucketStore) Cleanup() {
	cutoff := time.Now().Add(-s.idleTTL)

	s.mu.Lock()
	defer s.mu.Unlock()

	for k, ent := range s.entries {
		if ent.lastSeen.Before(cutoff) {
			delete(s.entries, k)
		}
	}
}

// Len retorna o número de buckets vivos (para métricas/teste).
func (s *BucketStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// StartJanitor inicia uma goroutine que limpa buckets inativos
// periodicamente. Pare cancelando o contexto.
func (s *BucketStore) StartJanitor(ctx context.Context) {
	if s.cleanupEvery <= 0 {
		return
	}

	t := time.NewTicker(s.cleanupEvery)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				s.Cleanup()
			}
		}
	}()
}
