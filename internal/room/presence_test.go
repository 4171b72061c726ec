package room

import (
	"context"
	"testing"
	"time"

	"github.com/lvdashuaibi/littlepoker/internal/model"
	"github.com/lvdashuaibi/littlepoker/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActiveParticipants(t *testing.T) {
	t.Parallel()

	now := time.Now()
	players := []model.Participant{
		{ID: "fresh", LastSeen: now.Add(-10 * time.Second)},
		{ID: "stale", LastSeen: now.Add(-10 * time.Minute)},
		{ID: "never"},
	}

	t.Run("未启用心跳时全员在线", func(t *testing.T) {
		t.Parallel()
		opts := Options{PresenceEnabled: false}
		assert.Len(t, activeParticipants(players, now, opts), 3)
	})

	t.Run("超过阈值和从未心跳的成员视为离线", func(t *testing.T) {
		t.Parallel()
		opts := Options{PresenceEnabled: true, LivenessThreshold: time.Minute}
		active := activeParticipants(players, now, opts)
		require.Len(t, active, 1)
		assert.Equal(t, "fresh", active[0].ID)
	})
}

// 把store时钟拨到过去再进房，得到一个lastSeen早已过期的成员
func joinStale(t *testing.T, st *store.MemoryStore, opts Options, key, name string) *Session {
	t.Helper()
	st.Clock = func() time.Time { return time.Now().Add(-time.Hour) }
	s, err := Join(context.Background(), st, opts, nil, key, name, model.RolePlayer, nil)
	require.NoError(t, err)
	t.Cleanup(s.Leave)
	st.Clock = time.Now
	return s
}

func TestPresence(t *testing.T) {
	t.Parallel()

	t.Run("离线成员的昵称可以复用", func(t *testing.T) {
		t.Parallel()
		st := store.NewMemoryStore()
		opts := testOptions()
		opts.PresenceEnabled = true
		opts.LivenessThreshold = time.Minute

		joinStale(t, st, opts, "r1", "alice")
		joinT(t, st, opts, "r1", "alice", model.RolePlayer, nil)
	})

	t.Run("在线成员的昵称不可复用", func(t *testing.T) {
		t.Parallel()
		st := store.NewMemoryStore()
		opts := testOptions()
		opts.PresenceEnabled = true
		opts.LivenessThreshold = time.Minute

		joinT(t, st, opts, "r1", "alice", model.RolePlayer, nil)
		_, err := Join(context.Background(), st, opts, nil, "r1", "alice", model.RolePlayer, nil)
		assert.ErrorIs(t, err, ErrNameTaken)
	})

	t.Run("离线成员不阻塞倒计时", func(t *testing.T) {
		t.Parallel()
		st := store.NewMemoryStore()
		opts := testOptions()
		opts.PresenceEnabled = true
		opts.LivenessThreshold = time.Minute

		joinStale(t, st, opts, "r1", "ghost")
		a := joinT(t, st, opts, "r1", "alice", model.RolePlayer, nil)

		require.NoError(t, a.CastVote("5"))
		rm, _, _ := a.Snapshot()
		assert.True(t, rm.CountdownActive, "离线成员不计入投票人集合")
	})

	t.Run("在线列表过滤离线成员", func(t *testing.T) {
		t.Parallel()
		st := store.NewMemoryStore()
		opts := testOptions()
		opts.PresenceEnabled = true
		opts.LivenessThreshold = time.Minute

		joinStale(t, st, opts, "r1", "ghost")
		a := joinT(t, st, opts, "r1", "alice", model.RolePlayer, nil)

		_, players, _ := a.Snapshot()
		assert.Len(t, players, 2)

		active := a.ActivePlayers()
		require.Len(t, active, 1)
		assert.Equal(t, a.PlayerID(), active[0].ID)
	})
}
