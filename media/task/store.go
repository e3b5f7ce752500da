package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// storeTimeout 限制单次镜像 IO，防止慢 Redis 拖住生成路径。
const storeTimeout = 2 * time.Second

// RecordStore 是任务快照的诊断镜像。
// 注册表对它的所有写入都是尽力而为：镜像故障不影响去重与轮询的正确性。
type RecordStore interface {
	// Save 写入/覆盖一条任务快照
	Save(ctx context.Context, snap Snapshot) error

	// Load 按任务 id 读取快照
	Load(ctx context.Context, taskID string) (Snapshot, bool, error)

	// Delete 删除快照
	Delete(ctx context.Context, taskID string) error
}

// redisStore 基于 Redis 的镜像实现。
// 键带 TTL，进程消失后残留快照随 TTL 过期，无需额外清理。
type redisStore struct {
	redis  *redis.Client
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisStore 创建基于 Redis 的任务镜像。
// ttl 通常取注册表的 Expiry，保证镜像不比内存记录活得更久太多。
func NewRedisStore(client *redis.Client, prefix string, ttl time.Duration, logger *zap.Logger) RecordStore {
	if prefix == "" {
		prefix = "sceneflow:task:"
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &redisStore{
		redis:  client,
		prefix: prefix,
		ttl:    ttl,
		logger: logger.With(zap.String("component", "task_store")),
	}
}

// Save 实现 RecordStore.Save。
func (s *redisStore) Save(ctx context.Context, snap Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("serialize task snapshot: %w", err)
	}

	if err := s.redis.Set(ctx, s.prefix+snap.TaskID, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("store task snapshot: %w", err)
	}

	s.logger.Debug("task snapshot mirrored",
		zap.String("task_id", snap.TaskID),
		zap.String("state", string(snap.State)),
	)
	return nil
}

// Load 实现 RecordStore.Load。
func (s *redisStore) Load(ctx context.Context, taskID string) (Snapshot, bool, error) {
	data, err := s.redis.Get(ctx, s.prefix+taskID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Snapshot{}, false, nil
		}
		return Snapshot{}, false, fmt.Errorf("load task snapshot: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, false, fmt.Errorf("decode task snapshot: %w", err)
	}
	return snap, true, nil
}

// Delete 实现 RecordStore.Delete。
func (s *redisStore) Delete(ctx context.Context, taskID string) error {
	if err := s.redis.Del(ctx, s.prefix+taskID).Err(); err != nil {
		return fmt.Errorf("delete task snapshot: %w", err)
	}
	return nil
}
