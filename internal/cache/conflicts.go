// Package cache 把计算好的冲突报告缓存在 Redis 中，计划没有变化时重复读取可以跳过路程估算。
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sysu-ecnc-dev/field-dispatch/backend/internal/scheduler"
)

// ConflictCache 按 (租户, 日计划, 代数) 存放报告。每次事件写入都会让代数加一，
// 所以基于旧事件算出的报告即使在失效之后才写入，也永远不会再被读到。
type ConflictCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewConflictCache(rdb *redis.Client, ttl time.Duration) *ConflictCache {
	return &ConflictCache{rdb: rdb, ttl: ttl}
}

func generationKey(tenantID, dayPlanID uuid.UUID) string {
	return fmt.Sprintf("conflicts_gen_%s_%s", tenantID, dayPlanID)
}

func conflictKey(tenantID, dayPlanID uuid.UUID, gen int64) string {
	return fmt.Sprintf("conflicts_%s_%s_%d", tenantID, dayPlanID, gen)
}

// Generation 返回计划当前的代数，从未失效过的计划为 0。
// 调用方必须在读取事件之前取得代数，再用它调用 Get 和 Set。
func (c *ConflictCache) Generation(ctx context.Context, tenantID, dayPlanID uuid.UUID) (int64, error) {
	gen, err := c.rdb.Get(ctx, generationKey(tenantID, dayPlanID)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, err
	}
	return gen, nil
}

// Get 在未命中时返回 (nil, nil)
func (c *ConflictCache) Get(ctx context.Context, tenantID, dayPlanID uuid.UUID, gen int64) (*scheduler.Report, error) {
	b, err := c.rdb.Get(ctx, conflictKey(tenantID, dayPlanID, gen)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	report := &scheduler.Report{}
	if err := json.Unmarshal(b, report); err != nil {
		return nil, err
	}
	return report, nil
}

func (c *ConflictCache) Set(ctx context.Context, tenantID, dayPlanID uuid.UUID, gen int64, report *scheduler.Report) error {
	b, err := json.Marshal(report)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, conflictKey(tenantID, dayPlanID, gen), b, c.ttl).Err()
}

// Invalidate 必须在计划的事件写入之后调用。旧代数的报告留给 TTL 清理。
// 代数键不设过期时间，否则计数归零后旧代数的报告可能重新变得可见。
func (c *ConflictCache) Invalidate(ctx context.Context, tenantID, dayPlanID uuid.UUID) error {
	return c.rdb.Incr(ctx, generationKey(tenantID, dayPlanID)).Err()
}
