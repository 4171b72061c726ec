package room

import (
	"time"

	"github.com/lvdashuaibi/littlepoker/internal/model"
)

// 路径约定：rooms/<key> 为房间文档，players与votes是其下的两个集合
func roomPath(key string) string             { return "rooms/" + key }
func playersPath(key string) string          { return "rooms/" + key + "/players" }
func votesPath(key string) string            { return "rooms/" + key + "/votes" }
func playerPath(key, playerID string) string { return "rooms/" + key + "/players/" + playerID }
func votePath(key, playerID string) string   { return "rooms/" + key + "/votes/" + playerID }

// 文档字段统一为JSON基本类型：时间用RFC3339Nano字符串，时间戳毫秒用数值

func asString(m map[string]interface{}, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func asBool(m map[string]interface{}, key string) bool {
	if v, ok := m[key].(bool); ok {
		return v
	}
	return false
}

func asInt64(m map[string]interface{}, key string) int64 {
	switch v := m[key].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	}
	return 0
}

func asTime(m map[string]interface{}, key string) time.Time {
	s, ok := m[key].(string)
	if !ok || s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func encodeTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func roomFromDoc(key string, m map[string]interface{}) model.Room {
	r := model.Room{
		Key:             key,
		Round:           int(asInt64(m, "round")),
		RevealLocked:    asBool(m, "revealLocked"),
		CountdownActive: asBool(m, "countdownActive"),
		CountdownEndsAt: asInt64(m, "countdownEndsAt"),
		FacilitatorID:   asString(m, "facilitatorId"),
		CreatedAt:       asTime(m, "createdAt"),
	}
	if r.Round == 0 {
		r.Round = 1
	}
	return r
}

func participantFromDoc(id string, m map[string]interface{}) model.Participant {
	return model.Participant{
		ID:       id,
		Name:     asString(m, "name"),
		Role:     model.Role(asString(m, "role")),
		HasVoted: asBool(m, "hasVoted"),
		JoinedAt: asTime(m, "joinedAt"),
		LastSeen: asTime(m, "lastSeen"),
	}
}

func voteFromDoc(id string, m map[string]interface{}) model.Vote {
	return model.Vote{
		PlayerID:  id,
		Value:     asString(m, "value"),
		UpdatedAt: asTime(m, "updatedAt"),
	}
}
