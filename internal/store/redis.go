package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/lvdashuaibi/littlepoker/config"
)

const (
	// Redis键前缀
	DocKeyPrefix   = "lp:doc:"
	ColIndexPrefix = "lp:col:"
	ChannelPrefix  = "lp:ch:"

	// Lua脚本：文档写入、集合索引维护和变更通知必须原子完成，
	// 否则订阅方可能在索引落后于文档时读到残缺的集合
	SetDocumentScript = `
		local cur = redis.call('GET', KEYS[1])
		if ARGV[4] == '1' and not cur then
			return -1
		end

		local doc
		if ARGV[3] == '1' and cur then
			doc = cjson.decode(cur)
		else
			doc = {}
		end

		for k, v in pairs(cjson.decode(ARGV[1])) do
			doc[k] = v
		end

		redis.call('SET', KEYS[1], cjson.encode(doc))
		redis.call('SADD', KEYS[2], ARGV[2])
		redis.call('PUBLISH', KEYS[3], 'set')
		redis.call('PUBLISH', KEYS[4], ARGV[2])
		return 0
	`

	DeleteDocumentScript = `
		redis.call('DEL', KEYS[1])
		redis.call('SREM', KEYS[2], ARGV[1])
		redis.call('PUBLISH', KEYS[3], 'del')
		redis.call('PUBLISH', KEYS[4], ARGV[1])
		return 0
	`
)

// RedisStore 基于Redis的共享文档存储实现。
// 文档保存为JSON字符串，集合成员关系用一个SET索引，
// 变更通知通过每个路径一个的PUB/SUB频道投递。
type RedisStore struct {
	client       *redis.Client
	scriptHashes map[string]string // 脚本SHA1哈希值
}

func NewRedisStore() (*RedisStore, error) {
	ctx := context.Background()

	client := redis.NewClient(&redis.Options{
		Addr:         config.AppConfig.Redis.DataAddress,
		Password:     config.AppConfig.Redis.Password,
		DB:           config.AppConfig.Redis.DB,
		PoolSize:     config.AppConfig.Redis.PoolSize,
		MaxRetries:   config.AppConfig.Redis.MaxRetries,
		DialTimeout:  config.AppConfig.Redis.Timeout,
		ReadTimeout:  config.AppConfig.Redis.Timeout,
		WriteTimeout: config.AppConfig.Redis.Timeout,
	})

	// 测试连接
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("Redis数据节点连接测试失败: %w", err)
	}

	s := &RedisStore{
		client:       client,
		scriptHashes: make(map[string]string),
	}

	if err := s.preloadScripts(ctx); err != nil {
		return nil, fmt.Errorf("预加载Lua脚本失败: %w", err)
	}

	return s, nil
}

// preloadScripts 预加载所有Lua脚本
func (s *RedisStore) preloadScripts(ctx context.Context) error {
	for name, script := range map[string]string{
		"setDocument":    SetDocumentScript,
		"deleteDocument": DeleteDocumentScript,
	} {
		sha1, err := s.client.ScriptLoad(ctx, script).Result()
		if err != nil {
			return fmt.Errorf("加载脚本 %s 失败: %w", name, err)
		}
		s.scriptHashes[name] = sha1
	}
	return nil
}

// evalScript 用EVALSHA执行预加载脚本，脚本丢失时重新加载再试一次
func (s *RedisStore) evalScript(ctx context.Context, name, script string, keys []string, args ...interface{}) (interface{}, error) {
	sha1, ok := s.scriptHashes[name]
	if !ok {
		return nil, fmt.Errorf("脚本 %s 未预加载", name)
	}

	result, err := s.client.EvalSha(ctx, sha1, keys, args...).Result()
	if err != nil && strings.Contains(err.Error(), "NOSCRIPT") {
		sha1, err = s.client.ScriptLoad(ctx, script).Result()
		if err != nil {
			return nil, fmt.Errorf("重新加载脚本 %s 失败: %w", name, err)
		}
		s.scriptHashes[name] = sha1
		result, err = s.client.EvalSha(ctx, sha1, keys, args...).Result()
	}
	if err != nil {
		return nil, fmt.Errorf("执行脚本 %s 失败: %w", name, err)
	}
	return result, nil
}

func docKey(path string) string     { return DocKeyPrefix + path }
func colKey(path string) string     { return ColIndexPrefix + path }
func channelKey(path string) string { return ChannelPrefix + path }

// GetDocument 点读文档
func (s *RedisStore) GetDocument(ctx context.Context, path string) (map[string]interface{}, error) {
	data, err := s.client.Get(ctx, docKey(path)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("读取文档 %s 失败: %w", path, err)
	}

	var doc map[string]interface{}
	if err := json.Unmarshal([]byte(data), &doc); err != nil {
		return nil, fmt.Errorf("解析文档 %s 失败: %w", path, err)
	}
	return doc, nil
}

// SetDocument 写入文档
func (s *RedisStore) SetDocument(ctx context.Context, path string, data map[string]interface{}, merge bool) error {
	return s.writeDocument(ctx, path, data, merge, false)
}

// UpdateDocument 部分更新已存在的文档
func (s *RedisStore) UpdateDocument(ctx context.Context, path string, partial map[string]interface{}) error {
	return s.writeDocument(ctx, path, partial, true, true)
}

func (s *RedisStore) writeDocument(ctx context.Context, path string, data map[string]interface{}, merge, requireExists bool) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("序列化文档 %s 失败: %w", path, err)
	}

	col := ParentCollection(path)
	id := DocumentID(path)

	mergeFlag := "0"
	if merge {
		mergeFlag = "1"
	}
	existsFlag := "0"
	if requireExists {
		existsFlag = "1"
	}

	result, err := s.evalScript(ctx, "setDocument", SetDocumentScript,
		[]string{docKey(path), colKey(col), channelKey(path), channelKey(col)},
		string(payload), id, mergeFlag, existsFlag,
	)
	if err != nil {
		return fmt.Errorf("写入文档 %s 失败: %w", path, err)
	}

	if code, ok := result.(int64); ok && code == -1 {
		return ErrNotFound
	}
	return nil
}

// DeleteDocument 删除文档，不存在时也视为成功
func (s *RedisStore) DeleteDocument(ctx context.Context, path string) error {
	col := ParentCollection(path)
	id := DocumentID(path)

	_, err := s.evalScript(ctx, "deleteDocument", DeleteDocumentScript,
		[]string{docKey(path), colKey(col), channelKey(path), channelKey(col)},
		id,
	)
	if err != nil {
		return fmt.Errorf("删除文档 %s 失败: %w", path, err)
	}
	return nil
}

// ListCollection 列出集合下全部文档
func (s *RedisStore) ListCollection(ctx context.Context, path string) ([]Document, error) {
	ids, err := s.client.SMembers(ctx, colKey(path)).Result()
	if err != nil {
		return nil, fmt.Errorf("读取集合索引 %s 失败: %w", path, err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = docKey(path + "/" + id)
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("批量读取集合 %s 失败: %w", path, err)
	}

	docs := make([]Document, 0, len(ids))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			// 索引残留：文档已删但SREM尚未送达，跳过即可
			continue
		}
		var data map[string]interface{}
		if err := json.Unmarshal([]byte(raw), &data); err != nil {
			log.Printf("解析集合 %s 文档 %s 失败: %v", path, ids[i], err)
			continue
		}
		docs = append(docs, Document{ID: ids[i], Data: data})
	}
	return docs, nil
}

// SubscribeDocument 订阅单文档变化：先投递当前值，之后每次变更通知再读再投
func (s *RedisStore) SubscribeDocument(ctx context.Context, path string, handler DocumentHandler) (Unsubscribe, error) {
	pubsub := s.client.Subscribe(ctx, channelKey(path))
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("订阅文档 %s 失败: %w", path, err)
	}

	deliver := func() {
		data, err := s.GetDocument(ctx, path)
		if err != nil {
			if err == ErrNotFound {
				handler(nil, false)
			} else {
				log.Printf("订阅读取文档 %s 失败: %v", path, err)
			}
			return
		}
		handler(data, true)
	}

	deliver()

	done := make(chan struct{})
	go func() {
		ch := pubsub.Channel()
		for {
			select {
			case _, ok := <-ch:
				if !ok {
					return
				}
				deliver()
			case <-done:
				return
			}
		}
	}()

	return func() {
		close(done)
		pubsub.Close()
	}, nil
}

// SubscribeCollection 订阅集合变化，每次投递集合完整内容
func (s *RedisStore) SubscribeCollection(ctx context.Context, path string, handler CollectionHandler) (Unsubscribe, error) {
	pubsub := s.client.Subscribe(ctx, channelKey(path))
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("订阅集合 %s 失败: %w", path, err)
	}

	deliver := func() {
		docs, err := s.ListCollection(ctx, path)
		if err != nil {
			log.Printf("订阅读取集合 %s 失败: %v", path, err)
			return
		}
		handler(docs)
	}

	deliver()

	done := make(chan struct{})
	go func() {
		ch := pubsub.Channel()
		for {
			select {
			case _, ok := <-ch:
				if !ok {
					return
				}
				deliver()
			case <-done:
				return
			}
		}
	}()

	return func() {
		close(done)
		pubsub.Close()
	}, nil
}

// ServerTimestamp 取Redis服务端时间
func (s *RedisStore) ServerTimestamp(ctx context.Context) (time.Time, error) {
	t, err := s.client.Time(ctx).Result()
	if err != nil {
		return time.Time{}, fmt.Errorf("读取服务端时间失败: %w", err)
	}
	return t, nil
}

// Close 关闭Redis连接
func (s *RedisStore) Close() error {
	return s.client.Close()
}
