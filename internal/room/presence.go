package room

import (
	"log"
	"time"

	"github.com/lvdashuaibi/littlepoker/internal/model"
	"github.com/lvdashuaibi/littlepoker/internal/store"
)

// activeParticipants 按lastSeen年龄过滤出视为在线的成员。
// 未启用心跳时全员视为在线。阈值大于心跳间隔，漏一次心跳不会抖动。
// 各客户端时钟偏差会直接影响判断，这是接受的不精确性。
func activeParticipants(players []model.Participant, now time.Time, opts Options) []model.Participant {
	if !opts.PresenceEnabled {
		return players
	}
	active := make([]model.Participant, 0, len(players))
	for _, p := range players {
		if !p.LastSeen.IsZero() && now.Sub(p.LastSeen) < opts.LivenessThreshold {
			active = append(active, p)
		}
	}
	return active
}

// startHeartbeat 周期性刷新自己成员文档的lastSeen。
// 不写任何"下线"标记：离线完全由读取方根据时间差推断。
func (s *Session) startHeartbeat() {
	if !s.opts.PresenceEnabled {
		return
	}

	ticker := time.NewTicker(s.opts.HeartbeatInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.refreshLastSeen()
			case <-s.stopChan:
				return
			}
		}
	}()
}

func (s *Session) refreshLastSeen() {
	now, err := s.store.ServerTimestamp(s.ctx)
	if err != nil {
		log.Printf("读取服务端时间失败: %v", err)
		now = time.Now()
	}

	err = s.store.UpdateDocument(s.ctx, playerPath(s.roomKey, s.playerID), map[string]interface{}{
		"lastSeen": encodeTime(now),
	})
	if err != nil {
		if err == store.ErrNotFound {
			// 成员文档没了说明已被踢出，心跳静默停止即可
			return
		}
		log.Printf("刷新成员 %s 心跳失败: %v", s.playerID, err)
	}
}
