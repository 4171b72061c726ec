package graph

import (
	"sync"

	"github.com/google/uuid"
	"github.com/lvdashuaibi/littlepoker/internal/model"
	"github.com/lvdashuaibi/littlepoker/internal/room"
)

// sessionEntry 一个已进房参与者的网关侧状态：
// 房间会话本体加上最近一轮的亮牌评估结果
type sessionEntry struct {
	session *room.Session

	mu         sync.Mutex
	lastResult *model.RevealResult
}

func (e *sessionEntry) storeResult(result model.RevealResult) {
	e.mu.Lock()
	e.lastResult = &result
	e.mu.Unlock()
}

// result 返回本轮的亮牌结果。replay解锁或换轮后结果立即失效，
// 客户端在新一轮看不到上一轮的残留
func (e *sessionEntry) result() *model.RevealResult {
	rm, _, _ := e.session.Snapshot()

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lastResult == nil || !rm.RevealLocked || e.lastResult.Round != rm.Round {
		return nil
	}
	return e.lastResult
}

// sessionRegistry 以不透明令牌索引本实例持有的会话
type sessionRegistry struct {
	mu      sync.Mutex
	entries map[string]*sessionEntry
}

func newSessionRegistry() *sessionRegistry {
	return &sessionRegistry{entries: make(map[string]*sessionEntry)}
}

func (r *sessionRegistry) add(entry *sessionEntry) string {
	token := uuid.NewString()
	r.mu.Lock()
	r.entries[token] = entry
	r.mu.Unlock()
	return token
}

func (r *sessionRegistry) get(token string) (*sessionEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[token]
	return entry, ok
}

func (r *sessionRegistry) remove(token string) (*sessionEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[token]
	delete(r.entries, token)
	return entry, ok
}
