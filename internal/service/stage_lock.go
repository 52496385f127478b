package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// ErrLockTimeout 等待写锁超时
var ErrLockTimeout = errors.New("获取阶段写锁超时")

const (
	stageLockName       = "stages:write"
	lockRetryInterval   = 50 * time.Millisecond
	defaultLockWaitTime = 5 * time.Second
)

// WriteLocker 串行化阶段写入。Lock 阻塞直到持有锁或 ctx 结束，返回的 unlock 必须调用。
type WriteLocker interface {
	Lock(ctx context.Context) (unlock func(), err error)
}

// ── 进程内互斥锁 ──

type mutexLocker struct {
	ch chan struct{}
}

// NewMutexLocker 进程内写锁，支持 ctx 取消
func NewMutexLocker() WriteLocker {
	return &mutexLocker{ch: make(chan struct{}, 1)}
}

func (l *mutexLocker) Lock(ctx context.Context) (func(), error) {
	select {
	case l.ch <- struct{}{}:
		return func() { <-l.ch }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ── Redis 分布式锁 ──

// lockClient 由 pkg/redis.Client 实现
type lockClient interface {
	AcquireLock(ctx context.Context, name string, ttl time.Duration) (string, bool, error)
	ReleaseLock(ctx context.Context, name, token string) error
}

type redisLocker struct {
	client   lockClient
	ttl      time.Duration
	wait     time.Duration
	fallback WriteLocker
	logger   *zap.Logger
}

// NewWriteLocker 多实例部署时使用 Redis 锁；client 为 nil 时退化为进程内锁。
// Redis 不可用时同样退化为进程内锁，数据库约束兜底跨实例竞争。
func NewWriteLocker(client lockClient, ttl time.Duration, logger *zap.Logger) WriteLocker {
	local := NewMutexLocker()
	if client == nil {
		return local
	}
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &redisLocker{
		client:   client,
		ttl:      ttl,
		wait:     defaultLockWaitTime,
		fallback: local,
		logger:   logger,
	}
}

func (l *redisLocker) Lock(ctx context.Context) (func(), error) {
	// 先拿本地锁，减少同进程内对 Redis 的争抢
	localUnlock, err := l.fallback.Lock(ctx)
	if err != nil {
		return nil, err
	}

	deadline := time.NewTimer(l.wait)
	defer deadline.Stop()

	for {
		token, ok, err := l.client.AcquireLock(ctx, stageLockName, l.ttl)
		if err != nil {
			l.logger.Warn("Redis 写锁不可用，使用进程内锁", zap.Error(err))
			return localUnlock, nil
		}
		if ok {
			return func() {
				// 使用独立 ctx：请求 ctx 可能已取消，锁仍需释放
				releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
				defer cancel()
				if err := l.client.ReleaseLock(releaseCtx, stageLockName, token); err != nil {
					l.logger.Warn("释放 Redis 写锁失败", zap.Error(err))
				}
				localUnlock()
			}, nil
		}

		select {
		case <-ctx.Done():
			localUnlock()
			return nil, ctx.Err()
		case <-deadline.C:
			localUnlock()
			return nil, ErrLockTimeout
		case <-time.After(lockRetryInterval):
		}
	}
}
