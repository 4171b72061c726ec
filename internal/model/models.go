package model

import (
	"time"
)

// Role 参与者角色
type Role string

const (
	RolePlayer   Role = "player"
	RoleObserver Role = "observer"
)

// Valid 校验角色取值
func (r Role) Valid() bool {
	return r == RolePlayer || r == RoleObserver
}

// Room 房间文档模型，是一个房间轮次状态的唯一权威来源
type Room struct {
	Key             string    `json:"key"`
	Round           int       `json:"round"`
	RevealLocked    bool      `json:"revealLocked"`
	CountdownActive bool      `json:"countdownActive"`
	CountdownEndsAt int64     `json:"countdownEndsAt"` // Unix毫秒，0表示未激活
	FacilitatorID   string    `json:"facilitatorId"`
	CreatedAt       time.Time `json:"createdAt"`
}

// Participant 房间成员文档模型
type Participant struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Role     Role      `json:"role"`
	HasVoted bool      `json:"hasVoted"`
	JoinedAt time.Time `json:"joinedAt"`
	LastSeen time.Time `json:"lastSeen"`
}

// Vote 投票文档模型，每个房间每个玩家一份
type Vote struct {
	PlayerID  string    `json:"playerId"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// VoteRow 亮牌结果中的一行：玩家与其票值
type VoteRow struct {
	PlayerID string `json:"playerId"`
	Name     string `json:"name"`
	Value    string `json:"value"`
}

// RevealResult 一轮亮牌的评估结果
type RevealResult struct {
	RoomKey    string    `json:"roomKey"`
	Round      int       `json:"round"`
	Unanimous  bool      `json:"unanimous"`
	Votes      []VoteRow `json:"votes"`
	HasMedian  bool      `json:"hasMedian"`
	Median     float64   `json:"median"`
	ClosestIDs []string  `json:"closestIds"`
}

// RevealEvent Kafka亮牌事件，由完成亮牌条件写的会话发出
type RevealEvent struct {
	RoomKey    string    `json:"roomKey"`
	Round      int       `json:"round"`
	Votes      []VoteRow `json:"votes"`
	RevealedAt time.Time `json:"revealedAt"`
}

// StatAggregate 每房间每玩家的累计统计
type StatAggregate struct {
	RoomKey   string    `json:"roomKey"`
	PlayerID  string    `json:"playerId"`
	Name      string    `json:"name"`
	Rounds    int       `json:"rounds"`
	Sum       float64   `json:"sum"`
	Zen       int       `json:"zen"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Badges 亮牌时重新计算的徽章
type Badges struct {
	LowBidderID   string  `json:"lowBidderId"`
	LowBidderName string  `json:"lowBidderName"`
	LowBidderAvg  float64 `json:"lowBidderAvg"`
	ZenMasterID   string  `json:"zenMasterId"`
	ZenMasterName string  `json:"zenMasterName"`
	ZenRounds     int     `json:"zenRounds"`
}
