package room

import (
	"fmt"
	"log"
	"time"

	"github.com/lvdashuaibi/littlepoker/internal/model"
	"github.com/lvdashuaibi/littlepoker/internal/store"
)

// 轮次状态机：投票 -> 倒计时 -> 亮牌锁定 -> (replay) -> 下一轮投票。
// 所有迁移都是"读-校验-条件写"：两个写入者基于同一份过期读并发迁移的小窗口
// 是接受的，因为重复施加同一迁移对读取方无影响。

// maybeStartCountdown 当每个在线非观察者都已投票时发起倒计时。
// 空投票人集合永远不满足条件。写之前重读房间文档，已在倒计时或已亮牌则放弃。
func (s *Session) maybeStartCountdown() {
	s.mu.Lock()
	if s.closed || s.room.RevealLocked {
		s.mu.Unlock()
		return
	}
	players := make([]model.Participant, len(s.players))
	copy(players, s.players)
	s.mu.Unlock()

	voters := make([]model.Participant, 0, len(players))
	for _, p := range activeParticipants(players, time.Now(), s.opts) {
		if p.Role != model.RoleObserver {
			voters = append(voters, p)
		}
	}
	if len(voters) == 0 {
		return
	}
	for _, p := range voters {
		if !p.HasVoted {
			return
		}
	}

	data, err := s.store.GetDocument(s.ctx, roomPath(s.roomKey))
	if err != nil {
		if err != store.ErrNotFound {
			log.Printf("发起倒计时前读取房间失败: %v", err)
		}
		return
	}
	current := roomFromDoc(s.roomKey, data)
	if current.CountdownActive || current.RevealLocked {
		return
	}

	endsAt := time.Now().Add(s.opts.CountdownDuration).UnixMilli()
	err = s.store.UpdateDocument(s.ctx, roomPath(s.roomKey), map[string]interface{}{
		"countdownActive": true,
		"countdownEndsAt": endsAt,
	})
	if err != nil && err != store.ErrNotFound {
		log.Printf("发起倒计时失败: %v", err)
	}
}

// RequestReveal 立即亮牌，跳过剩余倒计时
func (s *Session) RequestReveal() error {
	return s.revealNow()
}

// revealNow 条件亮牌写入：已亮牌则静默放弃（目标状态已成立，不算错误）。
// 亮牌是本轮的单向锁存，写入后直到replay之前不可能再回到投票态。
func (s *Session) revealNow() error {
	data, err := s.store.GetDocument(s.ctx, roomPath(s.roomKey))
	if err != nil {
		if err == store.ErrNotFound {
			return nil
		}
		return fmt.Errorf("亮牌前读取房间失败: %w", err)
	}
	current := roomFromDoc(s.roomKey, data)
	if current.RevealLocked {
		return nil
	}

	err = s.store.UpdateDocument(s.ctx, roomPath(s.roomKey), map[string]interface{}{
		"revealLocked":    true,
		"countdownActive": false,
		"countdownEndsAt": 0,
	})
	if err != nil {
		if err == store.ErrNotFound {
			return nil
		}
		return fmt.Errorf("亮牌写入失败: %w", err)
	}

	s.publishReveal(current.Round)
	return nil
}

// publishReveal 把本轮票面发到Kafka供统计消费。
// 竞态下可能多个会话都完成了条件写并各发一条，消费侧按(房间,轮次)去重。
func (s *Session) publishReveal(round int) {
	if s.publisher == nil {
		return
	}

	s.mu.Lock()
	result := s.evaluateLocked(model.Room{Key: s.roomKey, Round: round})
	s.mu.Unlock()

	event := &model.RevealEvent{
		RoomKey:    s.roomKey,
		Round:      round,
		Votes:      result.Votes,
		RevealedAt: time.Now(),
	}
	if err := s.publisher.PublishRevealEvent(event); err != nil {
		log.Printf("发送亮牌事件到Kafka失败: %v", err)
	}
}

// RequestReplay 开始新一轮：清空全部投票、重置hasVoted、轮次加一并解除锁定。
// 四步不是事务，读取方可能看到部分生效的中间态，靠每次通知整体重算兜底。
func (s *Session) RequestReplay() error {
	if s.opts.FacilitatorOnlyReplay && !s.IsFacilitator() {
		return ErrNotFacilitator
	}

	votes, err := s.store.ListCollection(s.ctx, votesPath(s.roomKey))
	if err != nil {
		return fmt.Errorf("读取投票集合失败: %w", err)
	}
	for _, v := range votes {
		if err := s.store.DeleteDocument(s.ctx, votePath(s.roomKey, v.ID)); err != nil {
			return fmt.Errorf("清空投票失败: %w", err)
		}
	}

	players, err := s.store.ListCollection(s.ctx, playersPath(s.roomKey))
	if err != nil {
		return fmt.Errorf("读取成员集合失败: %w", err)
	}
	for _, p := range players {
		err := s.store.UpdateDocument(s.ctx, playerPath(s.roomKey, p.ID), map[string]interface{}{
			"hasVoted": false,
		})
		if err != nil && err != store.ErrNotFound {
			return fmt.Errorf("重置成员 %s 投票标记失败: %w", p.ID, err)
		}
	}

	data, err := s.store.GetDocument(s.ctx, roomPath(s.roomKey))
	if err != nil {
		return fmt.Errorf("读取房间文档失败: %w", err)
	}
	current := roomFromDoc(s.roomKey, data)

	err = s.store.UpdateDocument(s.ctx, roomPath(s.roomKey), map[string]interface{}{
		"revealLocked":    false,
		"round":           current.Round + 1,
		"countdownActive": false,
		"countdownEndsAt": 0,
	})
	if err != nil {
		return fmt.Errorf("重置房间状态失败: %w", err)
	}
	return nil
}
