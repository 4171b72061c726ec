package lock

import (
	"time"
)

// Lock 分布式锁接口，用于在多实例间选举唯一的统计应用者
type Lock interface {
	// AcquireLock 尝试获取锁，返回是否成功
	AcquireLock(lockName string, ttl time.Duration) (bool, error)

	// RefreshLock 刷新已持有锁的过期时间
	RefreshLock(lockName string, ttl time.Duration) (bool, error)

	// ReleaseLock 释放锁
	ReleaseLock(lockName string) error

	// Close 关闭客户端并释放所有仍持有的锁
	Close() error
}
