package room

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/lvdashuaibi/littlepoker/config"
	"github.com/lvdashuaibi/littlepoker/internal/identity"
	"github.com/lvdashuaibi/littlepoker/internal/model"
	"github.com/lvdashuaibi/littlepoker/internal/store"
)

// Options 会话行为选项，来自配置
type Options struct {
	Deck                  []string
	CountdownDuration     time.Duration
	PresenceEnabled       bool
	HeartbeatInterval     time.Duration
	LivenessThreshold     time.Duration
	FacilitatorOnlyReplay bool
	FacilitatorOnlyKick   bool
}

// OptionsFromConfig 从全局配置构造会话选项
func OptionsFromConfig() Options {
	rc := config.AppConfig.Room
	return Options{
		Deck:                  rc.Deck,
		CountdownDuration:     rc.CountdownDuration,
		PresenceEnabled:       rc.PresenceEnabled,
		HeartbeatInterval:     rc.HeartbeatInterval,
		LivenessThreshold:     rc.LivenessThreshold,
		FacilitatorOnlyReplay: rc.FacilitatorOnlyReplay,
		FacilitatorOnlyKick:   rc.FacilitatorOnlyKick,
	}
}

// RevealPublisher 亮牌事件的外发接口，由Kafka生产者实现
type RevealPublisher interface {
	PublishRevealEvent(event *model.RevealEvent) error
}

// ResultHandler 每轮亮牌评估结果的回调，同一轮只会触发一次
type ResultHandler func(result model.RevealResult)

// Session 一个参与者的房间会话：进房创建、离房销毁，每个客户端同时最多一个。
// 它持有房间文档、成员集合、投票集合三路独立订阅，所有状态都从订阅快照重算，
// 自己的写入也只通过回声通知生效，不做本地乐观更新。
type Session struct {
	store     store.Store
	opts      Options
	publisher RevealPublisher
	onResult  ResultHandler
	ctx       context.Context

	roomKey  string
	playerID string
	name     string
	role     model.Role

	mu              sync.Mutex
	room            model.Room
	roomExists      bool
	players         []model.Participant
	votes           []model.Vote
	lastResultRound int // 本轮结果已投递的re-entrancy守卫
	countdownTimer  *time.Timer
	closed          bool

	unsubs   []store.Unsubscribe
	stopChan chan struct{}
}

// Join 进入房间：校验昵称唯一性，必要时创建房间文档，写入成员文档并绑定订阅。
// roomKeyRaw为空时随机分配房间号。
func Join(ctx context.Context, st store.Store, opts Options, publisher RevealPublisher,
	roomKeyRaw, name string, role model.Role, onResult ResultHandler) (*Session, error) {

	name, err := identity.NormalizeName(name)
	if err != nil {
		return nil, err
	}
	if role == "" {
		role = model.RolePlayer
	}
	if !role.Valid() {
		return nil, ErrInvalidRole
	}

	roomKey := identity.SanitizeRoomKey(roomKeyRaw)
	if roomKey == "" {
		roomKey = identity.RandomRoomKey()
	}

	s := &Session{
		store:     st,
		opts:      opts,
		publisher: publisher,
		onResult:  onResult,
		ctx:       ctx,
		roomKey:   roomKey,
		playerID:  identity.NewParticipantID(),
		name:      name,
		role:      role,
		stopChan:  make(chan struct{}),
	}

	// 昵称唯一性只在进房时检查一遍；两个同名者同时通过检查的竞态是接受的
	if err := s.checkNameAvailable(); err != nil {
		return nil, err
	}

	if err := s.ensureRoom(); err != nil {
		return nil, err
	}

	now, err := st.ServerTimestamp(ctx)
	if err != nil {
		now = time.Now()
	}
	err = st.SetDocument(ctx, playerPath(roomKey, s.playerID), map[string]interface{}{
		"name":     name,
		"role":     string(role),
		"hasVoted": false,
		"joinedAt": encodeTime(now),
		"lastSeen": encodeTime(now),
	}, true)
	if err != nil {
		return nil, fmt.Errorf("写入成员文档失败: %w", err)
	}

	if err := s.bind(); err != nil {
		s.teardown()
		return nil, err
	}
	s.startHeartbeat()

	return s, nil
}

func (s *Session) checkNameAvailable() error {
	docs, err := s.store.ListCollection(s.ctx, playersPath(s.roomKey))
	if err != nil {
		return fmt.Errorf("读取房间成员失败: %w", err)
	}

	players := make([]model.Participant, 0, len(docs))
	for _, d := range docs {
		players = append(players, participantFromDoc(d.ID, d.Data))
	}
	for _, p := range activeParticipants(players, time.Now(), s.opts) {
		if strings.EqualFold(p.Name, s.name) {
			return ErrNameTaken
		}
	}
	return nil
}

// ensureRoom 房间不存在时创建；两个首进者并发创建时后写覆盖先写，接受
func (s *Session) ensureRoom() error {
	_, err := s.store.GetDocument(s.ctx, roomPath(s.roomKey))
	if err == nil {
		return nil
	}
	if err != store.ErrNotFound {
		return fmt.Errorf("读取房间文档失败: %w", err)
	}

	now, tsErr := s.store.ServerTimestamp(s.ctx)
	if tsErr != nil {
		now = time.Now()
	}
	err = s.store.SetDocument(s.ctx, roomPath(s.roomKey), map[string]interface{}{
		"round":           1,
		"revealLocked":    false,
		"countdownActive": false,
		"countdownEndsAt": 0,
		"facilitatorId":   s.playerID,
		"createdAt":       encodeTime(now),
	}, false)
	if err != nil {
		return fmt.Errorf("创建房间文档失败: %w", err)
	}
	return nil
}

// bind 绑定三路订阅：房间文档、成员集合、投票集合。
// 三路通知独立到达、互相无序，每次都从当前快照组合重算。
func (s *Session) bind() error {
	unsub, err := s.store.SubscribeDocument(s.ctx, roomPath(s.roomKey), s.onRoomChange)
	if err != nil {
		return fmt.Errorf("订阅房间文档失败: %w", err)
	}
	s.unsubs = append(s.unsubs, unsub)

	unsub, err = s.store.SubscribeCollection(s.ctx, playersPath(s.roomKey), s.onPlayersChange)
	if err != nil {
		return fmt.Errorf("订阅成员集合失败: %w", err)
	}
	s.unsubs = append(s.unsubs, unsub)

	unsub, err = s.store.SubscribeCollection(s.ctx, votesPath(s.roomKey), s.onVotesChange)
	if err != nil {
		return fmt.Errorf("订阅投票集合失败: %w", err)
	}
	s.unsubs = append(s.unsubs, unsub)
	return nil
}

func (s *Session) onRoomChange(data map[string]interface{}, exists bool) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.roomExists = exists
	if !exists {
		s.mu.Unlock()
		return
	}
	s.room = roomFromDoc(s.roomKey, data)
	room := s.room

	// 回到投票态（replay之后）就解除本轮的结果守卫
	if !room.RevealLocked {
		s.lastResultRound = 0
	}

	needResult := room.RevealLocked && s.lastResultRound != room.Round
	if needResult {
		s.lastResultRound = room.Round
	}

	s.rescheduleCountdownLocked(room)
	result := model.RevealResult{}
	if needResult {
		result = s.evaluateLocked(room)
	}
	s.mu.Unlock()

	if needResult && s.onResult != nil {
		s.onResult(result)
	}
}

// evaluateLocked 以当前快照评估亮牌结果，调用方持有s.mu
func (s *Session) evaluateLocked(room model.Room) model.RevealResult {
	voters := make(map[string]string, len(s.players))
	for _, p := range s.players {
		if p.Role != model.RoleObserver {
			voters[p.ID] = p.Name
		}
	}

	rows := make([]model.VoteRow, 0, len(s.votes))
	for _, v := range s.votes {
		name, ok := voters[v.PlayerID]
		if !ok {
			// 观察者（含切换角色后的残留票）不计入
			continue
		}
		rows = append(rows, model.VoteRow{PlayerID: v.PlayerID, Name: name, Value: v.Value})
	}
	return Evaluate(s.roomKey, room.Round, rows)
}

// rescheduleCountdownLocked 按房间状态维护倒计时到点的重评估任务
func (s *Session) rescheduleCountdownLocked(room model.Room) {
	if s.countdownTimer != nil {
		s.countdownTimer.Stop()
		s.countdownTimer = nil
	}
	if room.RevealLocked || !room.CountdownActive || room.CountdownEndsAt == 0 {
		return
	}

	remaining := time.Until(time.UnixMilli(room.CountdownEndsAt))
	if remaining < 0 {
		remaining = 0
	}
	s.countdownTimer = time.AfterFunc(remaining, func() {
		if err := s.revealNow(); err != nil {
			log.Printf("倒计时自动亮牌失败: %v", err)
		}
	})
}

func (s *Session) onPlayersChange(docs []store.Document) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	players := make([]model.Participant, 0, len(docs))
	for _, d := range docs {
		players = append(players, participantFromDoc(d.ID, d.Data))
	}
	// 集合遍历顺序不稳定，统一按加入时间排序
	sort.Slice(players, func(i, j int) bool {
		if players[i].JoinedAt.Equal(players[j].JoinedAt) {
			return players[i].ID < players[j].ID
		}
		return players[i].JoinedAt.Before(players[j].JoinedAt)
	})
	s.players = players
	s.mu.Unlock()

	s.maybeStartCountdown()
}

func (s *Session) onVotesChange(docs []store.Document) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	votes := make([]model.Vote, 0, len(docs))
	for _, d := range docs {
		votes = append(votes, voteFromDoc(d.ID, d.Data))
	}
	sort.Slice(votes, func(i, j int) bool { return votes[i].PlayerID < votes[j].PlayerID })
	s.votes = votes
	s.mu.Unlock()
}

// CastVote 投票。仅玩家可投，本轮亮牌后本地拒绝；锁定前重复投票完全覆盖前值。
// 亮牌后的写入只有这一层本地闸门，存储侧不做强制校验。
func (s *Session) CastVote(value string) error {
	if s.role != model.RolePlayer {
		return ErrNotPlayer
	}

	valid := false
	for _, d := range s.opts.Deck {
		if d == value {
			valid = true
			break
		}
	}
	if !valid {
		return ErrValueNotInDeck
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	locked := s.room.RevealLocked
	s.mu.Unlock()
	if locked {
		return ErrRoundLocked
	}

	now, err := s.store.ServerTimestamp(s.ctx)
	if err != nil {
		now = time.Now()
	}
	err = s.store.SetDocument(s.ctx, votePath(s.roomKey, s.playerID), map[string]interface{}{
		"value":     value,
		"updatedAt": encodeTime(now),
	}, true)
	if err != nil {
		return fmt.Errorf("写入投票失败: %w", err)
	}

	err = s.store.SetDocument(s.ctx, playerPath(s.roomKey, s.playerID), map[string]interface{}{
		"hasVoted": true,
	}, true)
	if err != nil {
		return fmt.Errorf("更新成员投票标记失败: %w", err)
	}
	return nil
}

// Kick 踢出目标成员：立刻删除其投票和成员文档。自踢是空操作。
// 删除是尽力而为，目标可能已经不在了。
func (s *Session) Kick(targetID string) error {
	if targetID == s.playerID {
		return nil
	}
	if s.opts.FacilitatorOnlyKick {
		s.mu.Lock()
		facilitator := s.room.FacilitatorID
		s.mu.Unlock()
		if s.playerID != facilitator {
			return ErrNotFacilitator
		}
	}

	if err := s.store.DeleteDocument(s.ctx, votePath(s.roomKey, targetID)); err != nil {
		log.Printf("删除成员 %s 投票失败: %v", targetID, err)
	}
	if err := s.store.DeleteDocument(s.ctx, playerPath(s.roomKey, targetID)); err != nil {
		log.Printf("删除成员 %s 文档失败: %v", targetID, err)
	}
	return nil
}

// Leave 离开房间：尽力删除自己的文档，停掉心跳与订阅，会话随之作废
func (s *Session) Leave() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	if s.countdownTimer != nil {
		s.countdownTimer.Stop()
		s.countdownTimer = nil
	}
	s.mu.Unlock()

	if err := s.store.DeleteDocument(s.ctx, playerPath(s.roomKey, s.playerID)); err != nil {
		log.Printf("删除自己的成员文档失败: %v", err)
	}
	if err := s.store.DeleteDocument(s.ctx, votePath(s.roomKey, s.playerID)); err != nil {
		log.Printf("删除自己的投票文档失败: %v", err)
	}

	s.teardown()
}

func (s *Session) teardown() {
	close(s.stopChan)
	for _, unsub := range s.unsubs {
		unsub()
	}
	s.unsubs = nil
}

// Snapshot 返回当前组合视图：房间、成员（按加入时间排序）、投票
func (s *Session) Snapshot() (model.Room, []model.Participant, []model.Vote) {
	s.mu.Lock()
	defer s.mu.Unlock()
	players := make([]model.Participant, len(s.players))
	copy(players, s.players)
	votes := make([]model.Vote, len(s.votes))
	copy(votes, s.votes)
	return s.room, players, votes
}

// ActivePlayers 返回视为在线的成员
func (s *Session) ActivePlayers() []model.Participant {
	s.mu.Lock()
	players := make([]model.Participant, len(s.players))
	copy(players, s.players)
	s.mu.Unlock()
	return activeParticipants(players, time.Now(), s.opts)
}

func (s *Session) RoomKey() string    { return s.roomKey }
func (s *Session) PlayerID() string   { return s.playerID }
func (s *Session) Name() string       { return s.name }
func (s *Session) Role() model.Role   { return s.role }

// IsFacilitator 当前参与者是否房间创建者
func (s *Session) IsFacilitator() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room.FacilitatorID == s.playerID
}
