package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// MemoryStore 进程内存储实现，语义与RedisStore对齐：
// 文档以JSON字节保存（保证数值/时间类型经历同样的序列化往返），
// 订阅先投递当前值，之后写入方的每次变更同步回放给所有订阅者。
// 用于测试和单机开发模式。
type MemoryStore struct {
	mu      sync.Mutex
	docs    map[string][]byte
	cols    map[string]map[string]struct{}
	subs    map[int]*memorySub
	nextSub int

	// Clock 可注入的时钟，测试里用来模拟心跳过期
	Clock func() time.Time
}

type memorySub struct {
	path     string
	doc      DocumentHandler
	col      CollectionHandler
	canceled bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs:  make(map[string][]byte),
		cols:  make(map[string]map[string]struct{}),
		subs:  make(map[int]*memorySub),
		Clock: time.Now,
	}
}

func (s *MemoryStore) getLocked(path string) (map[string]interface{}, bool) {
	raw, ok := s.docs[path]
	if !ok {
		return nil, false
	}
	var data map[string]interface{}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, false
	}
	return data, true
}

func (s *MemoryStore) listLocked(path string) []Document {
	ids := s.cols[path]
	docs := make([]Document, 0, len(ids))
	for id := range ids {
		if data, ok := s.getLocked(path + "/" + id); ok {
			docs = append(docs, Document{ID: id, Data: data})
		}
	}
	return docs
}

// notifyLocked 收集path（文档）及其所属集合的订阅回放闭包，由调用方在解锁后执行
func (s *MemoryStore) notifyLocked(docPath string) []func() {
	col := ParentCollection(docPath)
	var fns []func()
	for _, sub := range s.subs {
		sub := sub
		switch {
		case sub.doc != nil && sub.path == docPath:
			fns = append(fns, func() { s.deliverDoc(sub) })
		case sub.col != nil && sub.path == col:
			fns = append(fns, func() { s.deliverCol(sub) })
		}
	}
	return fns
}

func (s *MemoryStore) deliverDoc(sub *memorySub) {
	s.mu.Lock()
	if sub.canceled {
		s.mu.Unlock()
		return
	}
	data, ok := s.getLocked(sub.path)
	s.mu.Unlock()
	sub.doc(data, ok)
}

func (s *MemoryStore) deliverCol(sub *memorySub) {
	s.mu.Lock()
	if sub.canceled {
		s.mu.Unlock()
		return
	}
	docs := s.listLocked(sub.path)
	s.mu.Unlock()
	sub.col(docs)
}

func (s *MemoryStore) GetDocument(_ context.Context, path string) (map[string]interface{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.getLocked(path)
	if !ok {
		return nil, ErrNotFound
	}
	return data, nil
}

func (s *MemoryStore) SetDocument(_ context.Context, path string, data map[string]interface{}, merge bool) error {
	return s.write(path, data, merge, false)
}

func (s *MemoryStore) UpdateDocument(_ context.Context, path string, partial map[string]interface{}) error {
	return s.write(path, partial, true, true)
}

func (s *MemoryStore) write(path string, data map[string]interface{}, merge, requireExists bool) error {
	s.mu.Lock()

	cur, exists := s.getLocked(path)
	if requireExists && !exists {
		s.mu.Unlock()
		return ErrNotFound
	}

	doc := make(map[string]interface{})
	if merge && exists {
		doc = cur
	}
	for k, v := range data {
		doc[k] = v
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("序列化文档 %s 失败: %w", path, err)
	}
	s.docs[path] = raw

	col := ParentCollection(path)
	if s.cols[col] == nil {
		s.cols[col] = make(map[string]struct{})
	}
	s.cols[col][DocumentID(path)] = struct{}{}

	fns := s.notifyLocked(path)
	s.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
	return nil
}

func (s *MemoryStore) DeleteDocument(_ context.Context, path string) error {
	s.mu.Lock()
	delete(s.docs, path)
	if ids := s.cols[ParentCollection(path)]; ids != nil {
		delete(ids, DocumentID(path))
	}
	fns := s.notifyLocked(path)
	s.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
	return nil
}

func (s *MemoryStore) ListCollection(_ context.Context, path string) ([]Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listLocked(path), nil
}

func (s *MemoryStore) SubscribeDocument(_ context.Context, path string, handler DocumentHandler) (Unsubscribe, error) {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	sub := &memorySub{path: path, doc: handler}
	s.subs[id] = sub
	s.mu.Unlock()

	s.deliverDoc(sub)

	return func() {
		s.mu.Lock()
		sub.canceled = true
		delete(s.subs, id)
		s.mu.Unlock()
	}, nil
}

func (s *MemoryStore) SubscribeCollection(_ context.Context, path string, handler CollectionHandler) (Unsubscribe, error) {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	sub := &memorySub{path: path, col: handler}
	s.subs[id] = sub
	s.mu.Unlock()

	s.deliverCol(sub)

	return func() {
		s.mu.Lock()
		sub.canceled = true
		delete(s.subs, id)
		s.mu.Unlock()
	}, nil
}

func (s *MemoryStore) ServerTimestamp(_ context.Context) (time.Time, error) {
	return s.Clock(), nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = make(map[int]*memorySub)
	return nil
}
