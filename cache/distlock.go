package cache

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
)

// ErrLockNotAcquired 获取分布式锁失败
var ErrLockNotAcquired = errors.New("无法获取分布式锁")

// LockService 基于redsync的分布式锁，用于在多实例部署下
// 串行化同一(poll, ip)的并发投票提交。
type LockService struct {
	rs *redsync.Redsync
}

// NewLockService 创建分布式锁服务，client为nil时返回nil
func NewLockService(client *redis.Client) *LockService {
	if client == nil {
		return nil
	}
	pool := goredis.NewPool(client)
	return &LockService{rs: redsync.New(pool)}
}

// VoteLockName 投票提交锁的键名
func VoteLockName(pollID uint, voterIP string) string {
	return fmt.Sprintf("lock:vote:poll:%d:ip:%s", pollID, voterIP)
}

// WithLock 在锁内执行action，结束后释放
func (s *LockService) WithLock(name string, expiry time.Duration, action func() error) error {
	mutex := s.rs.NewMutex(name,
		redsync.WithExpiry(expiry),
		redsync.WithTries(5),
		redsync.WithRetryDelay(50*time.Millisecond),
		redsync.WithDriftFactor(0.01),
	)

	if err := mutex.Lock(); err != nil {
		return ErrLockNotAcquired
	}
	defer func() {
		_, _ = mutex.Unlock()
	}()

	return action()
}
