package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mvalley/backend/pkg/redis"
)

// ResourceLocker 确认流程的资源锁（讲师 / 教室 / 时段）
// Lock 内部按字典序加锁；获取失败返回 ErrResourceBusy，成功时返回的 unlock 必须调用
type ResourceLocker interface {
	Lock(ctx context.Context, keys []string, ttl time.Duration) (unlock func(), err error)
}

// resourceKeys 去重并排序，保证所有调用方的加锁顺序一致
func resourceKeys(instructorID, roomID, slotID string) []string {
	keys := []string{"instructor:" + instructorID, "room:" + roomID, "slot:" + slotID}
	sort.Strings(keys)
	return keys
}

// ── 进程内实现 ──

type memoryLocker struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

// NewMemoryLocker 单实例部署（未配置 Redis）时使用的进程内锁
func NewMemoryLocker() ResourceLocker {
	return &memoryLocker{locks: make(map[string]chan struct{})}
}

func (l *memoryLocker) slot(key string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.locks[key]
	if !ok {
		ch = make(chan struct{}, 1)
		l.locks[key] = ch
	}
	return ch
}

func (l *memoryLocker) Lock(ctx context.Context, keys []string, ttl time.Duration) (func(), error) {
	ctx, cancel := context.WithTimeout(ctx, ttl)
	defer cancel()

	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)

	held := make([]chan struct{}, 0, len(sorted))
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			<-held[i]
		}
	}

	for _, key := range sorted {
		ch := l.slot(key)
		select {
		case ch <- struct{}{}:
			held = append(held, ch)
		case <-ctx.Done():
			release()
			return nil, ErrResourceBusy
		}
	}
	return release, nil
}

// ── Redis 实现 ──

// redisLockRetry 锁被占用时的重试间隔
const redisLockRetry = 50 * time.Millisecond

type redisLocker struct {
	rdb    *redis.Client
	logger *zap.Logger
}

// NewRedisLocker 多实例部署时使用的分布式锁（SET NX PX）
func NewRedisLocker(rdb *redis.Client, logger *zap.Logger) ResourceLocker {
	return &redisLocker{rdb: rdb, logger: logger}
}

func (l *redisLocker) Lock(ctx context.Context, keys []string, ttl time.Duration) (func(), error) {
	waitCtx, cancel := context.WithTimeout(ctx, ttl)
	defer cancel()

	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)
	token := uuid.NewString()

	held := make([]string, 0, len(sorted))
	release := func() {
		// 释放使用独立 ctx，避免请求已取消导致锁残留到 TTL
		relCtx, relCancel := context.WithTimeout(context.Background(), time.Second)
		defer relCancel()
		for i := len(held) - 1; i >= 0; i-- {
			if err := l.rdb.ReleaseLock(relCtx, held[i], token); err != nil {
				l.logger.Warn("释放资源锁失败", zap.String("key", held[i]), zap.Error(err))
			}
		}
	}

	for _, key := range sorted {
		for {
			err := l.rdb.AcquireLock(waitCtx, key, token, ttl)
			if err == nil {
				held = append(held, key)
				break
			}
			if !errors.Is(err, redis.ErrLockNotAcquired) {
				release()
				if waitCtx.Err() != nil {
					return nil, ErrResourceBusy
				}
				return nil, err
			}
			select {
			case <-time.After(redisLockRetry):
			case <-waitCtx.Done():
				release()
				return nil, ErrResourceBusy
			}
		}
	}
	return release, nil
}
