package identity

import (
	"fmt"
	"math/rand"
	"strings"

	"github.com/google/uuid"
)

const (
	MaxRoomKeyLength = 40
	MaxNameLength    = 24
)

// NewParticipantID 生成进程内唯一的参与者标识
func NewParticipantID() string {
	return uuid.NewString()
}

// SanitizeRoomKey 把用户输入的房间号规整为安全键：
// 小写字母、数字、连字符和下划线，其余字符替换为连字符，最长40个字符
func SanitizeRoomKey(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	out := b.String()
	if len(out) > MaxRoomKeyLength {
		out = out[:MaxRoomKeyLength]
	}
	return out
}

// RandomRoomKey 生成随机房间号，用于未指定房间时
func RandomRoomKey() string {
	const alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	b := make([]byte, 6)
	for i := range b {
		b[i] = alphabet[rand.Intn(len(alphabet))]
	}
	return "room-" + string(b)
}

// NormalizeName 修剪显示名并限制长度，空名返回错误
func NormalizeName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("显示名不能为空")
	}
	runes := []rune(name)
	if len(runes) > MaxNameLength {
		name = string(runes[:MaxNameLength])
	}
	return name, nil
}
