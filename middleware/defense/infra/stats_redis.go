package infra

import (
	"context"
	"fmt"
	"strings"
	"time"

	"defense-gateway/middleware/defense/domain"

	"github.com/redis/go-redis/v9"
)

// RedisStatsStore grava contadores agregados de decisão no Redis, como
// segundo sink de observabilidade (além do Prometheus): útil quando várias
// instâncias do gateway compartilham um painel.
type RedisStatsStore struct {
	rdb *redis.Client

	prefix string
	// ttl aplica apenas em chaves de série temporal; totais são
	// cumulativos e não expiram.
	ttl time.Duration

	bucket string // "minute" (padrão) ou "none"
}

type RedisStatsOption func(*RedisStatsStore)

func WithStatsPrefix(prefix string) RedisStatsOption {
	return func(s *RedisStatsStore) { s.prefix = strings.Trim(prefix, ":") }
}

func WithStatsTTL(d time.Duration) RedisStatsOption {
	return func(s *RedisStatsStore) { s.ttl = d }
}

func WithStatsBucket(bucket string) RedisStatsOption {
	return func(s *RedisStatsStore) { s.bucket = strings.ToLower(strings.TrimSpace(bucket)) }
}

func NewRedisStatsStore(rdb *redis.Client, opts ...RedisStatsOption) *RedisStatsStore {
	s := &RedisStatsStore{
		rdb:    rdb,
		prefix: "defense:stats",
		ttl:    24 * time.Hour,
		bucket: "minute",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStatsStore) Record(ctx context.Context, ev domain.DecisionEvent) error {
	if s == nil || s.rdb == nil {
		return nil
	}

	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}

	field := string(ev.Kind)
	if ev.Allowed {
		field = "allowed"
	}
	field = string(ev.Category) + ":" + field

	pipe := s.rdb.Pipeline()
	pipe.HIncrBy(ctx, s.prefix+":total", field, 1)

	if s.bucket == "minute" {
		bucketKey := fmt.Sprintf("%s:minute:%s", s.prefix, at.UTC().Format("200601021504"))
		pipe.HIncrBy(ctx, bucketKey, field, 1)
		if s.ttl > 0 {
			pipe.Expire(ctx, bucketKey, s.ttl)
		}
	}

	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStatsStore) RecordViolation(ctx context.Context, v domain.Violation) error {
	if s == nil || s.rdb == nil {
		return nil
	}
	return s.rdb.HIncrBy(ctx, s.prefix+":violations", v.Source, 1).Err()
}

func (s *RedisStatsStore) RecordEscalation(ctx context.Context, _ domain.EscalationEvent) error {
	if s == nil || s.rdb == nil {
		return nil
	}
	return s.rdb.HIncrBy(ctx, s.prefix+":total", "origin_blocks", 1).Err()
}

func (s *RedisStatsStore) RecordBreakerChange(ctx context.Context, cat domain.Category, _, to domain.CircuitState) error {
	if s == nil || s.rdb == nil {
		return nil
	}
	return s.rdb.HIncrBy(ctx, s.prefix+":breaker", string(cat)+":"+to.String(), 1).Err()
}
