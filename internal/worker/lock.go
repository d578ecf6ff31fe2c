package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Locker grants a pass to exactly one replica at a time.
type Locker interface {
	// TryLock returns ok=false without error when another holder has the lock.
	TryLock(ctx context.Context) (unlock func(), ok bool, err error)
}

// RedisLocker is a Locker on a redsync mutex.
type RedisLocker struct {
	mutex  *redsync.Mutex
	logger *zap.Logger
}

func NewRedisLocker(client redis.UniversalClient, key string, expiry time.Duration, logger *zap.Logger) *RedisLocker {
	rs := redsync.New(goredis.NewPool(client))
	return &RedisLocker{
		mutex: rs.NewMutex(key,
			redsync.WithExpiry(expiry),
			redsync.WithTries(1),
		),
		logger: logger,
	}
}

func (l *RedisLocker) TryLock(ctx context.Context) (func(), bool, error) {
	if err := l.mutex.LockContext(ctx); err != nil {
		if isContention(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("acquire %s: %w", l.mutex.Name(), err)
	}
	unlock := func() {
		// A fresh context: the caller's may already be cancelled at shutdown.
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := l.mutex.UnlockContext(ctx); err != nil {
			l.logger.Warn("sweeper lock release failed", zap.String("key", l.mutex.Name()), zap.Error(err))
		}
	}
	return unlock, true, nil
}

func isContention(err error) bool {
	var taken *redsync.ErrTaken
	if errors.Is(err, redsync.ErrFailed) || errors.As(err, &taken) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "lock already taken") || strings.Contains(msg, "failed to acquire lock")
}

// LocalLocker always grants the lock. It serves single-replica deployments
// without Redis.
type LocalLocker struct{}

func (LocalLocker) TryLock(context.Context) (func(), bool, error) {
	return func() {}, true, nil
}
