// Package analytics writes per-rule outcome counters to Redis.
//
// Counters are time-bucketed by hour and expire after a retention
// window. Analytics never affects engine correctness: writes are
// best-effort and errors are logged by the consumer.
package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/flowrule/flowrule/internal/domain"
)

const DefaultRetention = 30 * 24 * time.Hour

type RedisSink struct {
	client    *redis.Client
	retention time.Duration
}

func NewRedisSink(client *redis.Client, retention time.Duration) *RedisSink {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &RedisSink{client: client, retention: retention}
}

// Record increments the hourly counter for the outcome of one job.
func (s *RedisSink) Record(ctx context.Context, outcome domain.JobOutcome) error {
	key := buildKey(outcome.ScopeID.String(), outcome.RuleID.String(), string(outcome.Outcome), outcome.At)

	pipe := s.client.Pipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, s.retention)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline: %w", err)
	}
	return nil
}

func buildKey(scopeID, ruleID, outcome string, t time.Time) string {
	bucket := t.UTC().Format("2006010215")
	return fmt.Sprintf("s:%s:r:%s:%s:%s", scopeID, ruleID, outcome, bucket)
}
