package lock

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/lvdashuaibi/littlepoker/config"
)

const (
	releaseScript = `
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("DEL", KEYS[1])
		else
			return 0
		end
	`
	refreshScript = `
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("PEXPIRE", KEYS[1], ARGV[2])
		else
			return 0
		end
	`
)

// RedLock 多Redis节点上的Redlock实现
type RedLock struct {
	clients []*redis.Client
	ctx     context.Context
	mu      sync.Mutex
	tokens  map[string]string // 锁名 -> 持有令牌
	retries int
}

func NewRedLock() (*RedLock, error) {
	ctx := context.Background()

	var clients []*redis.Client
	for _, addr := range config.AppConfig.Redis.LockAddresses {
		client := redis.NewClient(&redis.Options{
			Addr:         addr,
			Password:     config.AppConfig.Redis.Password,
			DB:           config.AppConfig.Redis.DB,
			PoolSize:     config.AppConfig.Redis.PoolSize,
			MaxRetries:   config.AppConfig.Redis.MaxRetries,
			DialTimeout:  config.AppConfig.Redis.Timeout,
			ReadTimeout:  config.AppConfig.Redis.Timeout,
			WriteTimeout: config.AppConfig.Redis.Timeout,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			for _, c := range clients {
				c.Close()
			}
			return nil, fmt.Errorf("Redis锁节点 %s 连接测试失败: %w", addr, err)
		}
		clients = append(clients, client)
	}

	retries := config.AppConfig.Stats.LockRetries
	if retries <= 0 {
		retries = 3
	}

	return &RedLock{
		clients: clients,
		ctx:     ctx,
		tokens:  make(map[string]string),
		retries: retries,
	}, nil
}

func (r *RedLock) quorum() int {
	return len(r.clients)/2 + 1
}

// AcquireLock 在多数节点上SetNX成功且剩余有效期为正时视为持有
func (r *RedLock) AcquireLock(lockName string, ttl time.Duration) (bool, error) {
	token := uuid.NewString()

	for attempt := 0; attempt < r.retries; attempt++ {
		start := time.Now()
		success := 0
		for _, client := range r.clients {
			ok, err := client.SetNX(r.ctx, lockName, token, ttl).Result()
			if err != nil {
				log.Printf("获取锁 %s 时节点写入失败: %v", lockName, err)
				continue
			}
			if ok {
				success++
			}
		}

		if success >= r.quorum() && ttl-time.Since(start) > 0 {
			r.mu.Lock()
			r.tokens[lockName] = token
			r.mu.Unlock()
			return true, nil
		}

		r.releaseOnAll(lockName, token)
		time.Sleep(100 * time.Millisecond)
	}
	return false, nil
}

// RefreshLock 只刷新自己持有的锁
func (r *RedLock) RefreshLock(lockName string, ttl time.Duration) (bool, error) {
	r.mu.Lock()
	token, ok := r.tokens[lockName]
	r.mu.Unlock()
	if !ok {
		return false, fmt.Errorf("锁 %s 未被当前实例持有", lockName)
	}

	success := 0
	for _, client := range r.clients {
		result, err := client.Eval(r.ctx, refreshScript, []string{lockName}, token, int(ttl/time.Millisecond)).Result()
		if err != nil {
			log.Printf("刷新锁 %s 时节点执行失败: %v", lockName, err)
			continue
		}
		if n, ok := result.(int64); ok && n == 1 {
			success++
		}
	}

	if success >= r.quorum() {
		return true, nil
	}
	r.mu.Lock()
	delete(r.tokens, lockName)
	r.mu.Unlock()
	return false, nil
}

// ReleaseLock 释放自己持有的锁
func (r *RedLock) ReleaseLock(lockName string) error {
	r.mu.Lock()
	token, ok := r.tokens[lockName]
	delete(r.tokens, lockName)
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("锁 %s 未被当前实例持有", lockName)
	}
	r.releaseOnAll(lockName, token)
	return nil
}

// releaseOnAll 用Lua脚本在所有节点删除自己令牌对应的锁
func (r *RedLock) releaseOnAll(lockName, token string) {
	for _, client := range r.clients {
		if _, err := client.Eval(r.ctx, releaseScript, []string{lockName}, token).Result(); err != nil {
			log.Printf("释放锁 %s 时节点执行失败: %v", lockName, err)
		}
	}
}

// Close 释放全部持有的锁并关闭客户端
func (r *RedLock) Close() error {
	r.mu.Lock()
	held := make(map[string]string, len(r.tokens))
	for name, token := range r.tokens {
		held[name] = token
	}
	r.tokens = make(map[string]string)
	r.mu.Unlock()

	for name, token := range held {
		r.releaseOnAll(name, token)
	}
	for _, client := range r.clients {
		if err := client.Close(); err != nil {
			log.Printf("关闭Redis锁客户端失败: %v", err)
		}
	}
	return nil
}
