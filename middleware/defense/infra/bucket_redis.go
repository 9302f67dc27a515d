package infra

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync/atomic"
	"time"

	"defense-gateway/middleware/defense/domain"

	"github.com/redis/go-redis/v9"
)

// tokenBucketScript faz a leitura-modificação-escrita do bucket em um único
// comando atômico no Redis: repõe tokens pelo tempo decorrido (limitado à
// capacidade efetiva), consome um se houver, e renova o TTL da chave.
//
// KEYS[1] = chave do bucket (hash com campos tokens / ts)
// ARGV[1] = capacidade efetiva (inteiro, já com burst)
// ARGV[2] = taxa de reposição em tokens/segundo (float)
// ARGV[3] = agora em milissegundos
// ARGV[4] = TTL da chave em milissegundos
//
// Retorna {allowed, remaining}.
var tokenBucketScript = redis.NewScript(`
local size = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local tokens = tonumber(redis.call('HGET', KEYS[1], 'tokens'))
local ts = tonumber(redis.call('HGET', KEYS[1], 'ts'))

if tokens == nil then
  -- bucket novo nasce cheio
  tokens = size
  ts = now
else
  local elapsed = (now - ts) / 1000.0
  if elapsed > 0 then
    tokens = math.min(size, tokens + elapsed * rate)
    ts = now
  end
end

local allowed = 0
if tokens >= 1 then
  tokens = tokens - 1
  allowed = 1
end

redis.call('HSET', KEYS[1], 'tokens', tokens, 'ts', ts)
redis.call('PEXPIRE', KEYS[1], ttl)

return {allowed, math.floor(tokens)}
`)

// RedisBucketStore é o store distribuído de buckets, para quando mais de uma
// instância do gateway compartilha quota.
//
// A chamada tem timeout curto; em erro do store a decisão retorna
// domain.ErrStoreUnavailable e o compositor falha aberto (disponibilidade
// acima de quota estrita durante indisponibilidade transitória). Degraded()
// expõe o estado para métricas.
type RedisBucketStore struct {
	rdb      *redis.Client
	prefix   string
	timeout  time.Duration
	degraded atomic.Bool
}

type RedisBucketOption func(*RedisBucketStore)

func WithBucketPrefix(prefix string) RedisBucketOption {
	return func(s *RedisBucketStore) { s.prefix = strings.Trim(prefix, ":") }
}

func WithBucketTimeout(d time.Duration) RedisBucketOption {
	return func(s *RedisBucketStore) { s.timeout = d }
}

func NewRedisBucketStore(rdb *redis.Client, opts ...RedisBucketOption) *RedisBucketStore {
	s := &RedisBucketStore{
		rdb:     rdb,
		prefix:  "defense:bucket",
		timeout: 150 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisBucketStore) Degraded() bool { return s.degraded.Load() }

// Take implementa domain.BucketStore via script Lua (atomicidade por chave
// garantida pelo Redis, single-threaded por script).
func (s *RedisBucketStore) Take(ctx context.Context, key domain.Key, pol domain.CategoryPolicy, scale float64) (domain.BucketDecision, error) {
	effLimit, size := effective(pol, scale)

	// TTL de alguns múltiplos da janela de reposição: bucket parado some
	ttl := 3 * pol.RefillWindow
	if ttl < time.Minute {
		ttl = time.Minute
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res, err := tokenBucketScript.Run(callCtx, s.rdb,
		[]string{s.prefix + ":" + string(key)},
		size,
		float64(effLimit),
		time.Now().UnixMilli(),
		ttl.Milliseconds(),
	).Result()
	if err != nil {
		if isStoreError(err) {
			s.degraded.Store(true)
		}
		return domain.BucketDecision{}, errors.Join(domain.ErrStoreUnavailable, err)
	}
	s.degraded.Store(false)

	vals, ok := res.([]interface{})
	if !ok || len(vals) < 2 {
		return domain.BucketDecision{}, domain.ErrStoreUnavailable
	}
	allowed, _ := vals[0].(int64)
	remaining, _ := vals[1].(int64)

	dec := domain.BucketDecision{
		Allowed:   allowed == 1,
		Limit:     size,
		Remaining: clampRemaining(remaining, size),
	}
	if dec.Remaining < size {
		dec.Reset = tokenInterval(effLimit)
	}
	if !dec.Allowed {
		dec.RetryAfter = tokenInterval(effLimit)
	}
	return dec, nil
}

func clampRemaining(v int64, size int) int {
	if v < 0 {
		return 0
	}
	if v > int64(size) {
		return size
	}
	return int(v)
}

// isStoreError separa problema de infraestrutura (rede, timeout, erro do
// próprio Redis) de erro de aplicação.
func isStoreError(err error) bool {
	if err == nil {
		return false
	}
	var redisErr redis.Error
	if errors.As(err, &redisErr) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
