package lock

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/lvdashuaibi/littlepoker/config"
	clientv3 "go.etcd.io/etcd/client/v3"
)

const lockKeyPrefix = "/littlepoker/locks/"

// EtcdLock 基于etcd租约的分布式锁实现
type EtcdLock struct {
	client *clientv3.Client
	mu     sync.Mutex
	leases map[string]clientv3.LeaseID
}

func NewETCDLock() (*EtcdLock, error) {
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   config.AppConfig.ETCD.Endpoints,
		DialTimeout: config.AppConfig.ETCD.DialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("创建etcd客户端失败: %w", err)
	}

	return &EtcdLock{
		client: cli,
		leases: make(map[string]clientv3.LeaseID),
	}, nil
}

func (el *EtcdLock) requestCtx() (context.Context, context.CancelFunc) {
	timeout := config.AppConfig.ETCD.RequestTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return context.WithTimeout(context.Background(), timeout)
}

// AcquireLock 创建租约并以"键尚不存在"为条件写入锁键
func (el *EtcdLock) AcquireLock(lockName string, ttl time.Duration) (bool, error) {
	el.mu.Lock()
	if _, held := el.leases[lockName]; held {
		el.mu.Unlock()
		return false, fmt.Errorf("锁 %s 已被当前实例持有", lockName)
	}
	el.mu.Unlock()

	ttlSeconds := int64(ttl / time.Second)
	if ttlSeconds < 1 {
		ttlSeconds = 1
	}

	ctx, cancel := el.requestCtx()
	defer cancel()

	grant, err := el.client.Grant(ctx, ttlSeconds)
	if err != nil {
		return false, fmt.Errorf("创建租约失败: %w", err)
	}

	key := lockKeyPrefix + lockName
	txn, err := el.client.Txn(ctx).
		If(clientv3.Compare(clientv3.CreateRevision(key), "=", 0)).
		Then(clientv3.OpPut(key, "", clientv3.WithLease(grant.ID))).
		Commit()
	if err != nil {
		el.client.Revoke(context.Background(), grant.ID)
		return false, fmt.Errorf("锁事务执行失败: %w", err)
	}
	if !txn.Succeeded {
		el.client.Revoke(context.Background(), grant.ID)
		return false, nil
	}

	el.mu.Lock()
	el.leases[lockName] = grant.ID
	el.mu.Unlock()
	return true, nil
}

// RefreshLock 对持有的租约续约一次
func (el *EtcdLock) RefreshLock(lockName string, _ time.Duration) (bool, error) {
	el.mu.Lock()
	leaseID, held := el.leases[lockName]
	el.mu.Unlock()
	if !held {
		return false, fmt.Errorf("锁 %s 未被当前实例持有", lockName)
	}

	ctx, cancel := el.requestCtx()
	defer cancel()

	if _, err := el.client.KeepAliveOnce(ctx, leaseID); err != nil {
		el.mu.Lock()
		delete(el.leases, lockName)
		el.mu.Unlock()
		return false, fmt.Errorf("续约失败: %w", err)
	}
	return true, nil
}

// ReleaseLock 撤销租约，锁键随租约一起删除
func (el *EtcdLock) ReleaseLock(lockName string) error {
	el.mu.Lock()
	leaseID, held := el.leases[lockName]
	delete(el.leases, lockName)
	el.mu.Unlock()
	if !held {
		return fmt.Errorf("锁 %s 未被当前实例持有", lockName)
	}

	ctx, cancel := el.requestCtx()
	defer cancel()

	if _, err := el.client.Revoke(ctx, leaseID); err != nil {
		return fmt.Errorf("撤销租约失败: %w", err)
	}
	return nil
}

// Close 释放全部持有的锁并关闭客户端
func (el *EtcdLock) Close() error {
	el.mu.Lock()
	held := make(map[string]clientv3.LeaseID, len(el.leases))
	for name, id := range el.leases {
		held[name] = id
	}
	el.leases = make(map[string]clientv3.LeaseID)
	el.mu.Unlock()

	for name, id := range held {
		ctx, cancel := el.requestCtx()
		if _, err := el.client.Revoke(ctx, id); err != nil {
			log.Printf("关闭时撤销锁 %s 租约失败: %v", name, err)
		}
		cancel()
	}
	return el.client.Close()
}
