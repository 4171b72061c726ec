package room

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/lvdashuaibi/littlepoker/internal/model"
	"github.com/lvdashuaibi/littlepoker/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testOptions() Options {
	return Options{
		Deck:              []string{"0,5", "1", "2", "3", "5", "8", "?"},
		CountdownDuration: 30 * time.Millisecond,
		HeartbeatInterval: time.Hour,
		LivenessThreshold: 2 * time.Hour,
	}
}

// resultCapture 收集亮牌结果回调，结果可能来自倒计时定时器协程
type resultCapture struct {
	mu      sync.Mutex
	results []model.RevealResult
}

func (c *resultCapture) handle(r model.RevealResult) {
	c.mu.Lock()
	c.results = append(c.results, r)
	c.mu.Unlock()
}

func (c *resultCapture) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.results)
}

func (c *resultCapture) last() model.RevealResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.results[len(c.results)-1]
}

func joinT(t *testing.T, st store.Store, opts Options, key, name string, role model.Role, onResult ResultHandler) *Session {
	t.Helper()
	s, err := Join(context.Background(), st, opts, nil, key, name, role, onResult)
	require.NoError(t, err)
	t.Cleanup(s.Leave)
	return s
}

func TestJoin(t *testing.T) {
	t.Parallel()

	t.Run("首进者创建房间并成为创建者", func(t *testing.T) {
		t.Parallel()
		st := store.NewMemoryStore()
		s := joinT(t, st, testOptions(), "My Room!", "alice", model.RolePlayer, nil)

		assert.Equal(t, "my-room-", s.RoomKey())
		assert.True(t, s.IsFacilitator())

		rm, players, votes := s.Snapshot()
		assert.Equal(t, 1, rm.Round)
		assert.False(t, rm.RevealLocked)
		assert.Equal(t, s.PlayerID(), rm.FacilitatorID)
		assert.Len(t, players, 1)
		assert.Empty(t, votes)
	})

	t.Run("后进者不是创建者", func(t *testing.T) {
		t.Parallel()
		st := store.NewMemoryStore()
		a := joinT(t, st, testOptions(), "r1", "alice", model.RolePlayer, nil)
		b := joinT(t, st, testOptions(), "r1", "bob", model.RolePlayer, nil)

		assert.True(t, a.IsFacilitator())
		assert.False(t, b.IsFacilitator())
	})

	t.Run("空房间号随机分配", func(t *testing.T) {
		t.Parallel()
		st := store.NewMemoryStore()
		s := joinT(t, st, testOptions(), "", "alice", model.RolePlayer, nil)
		assert.NotEmpty(t, s.RoomKey())
	})

	t.Run("昵称冲突不区分大小写", func(t *testing.T) {
		t.Parallel()
		st := store.NewMemoryStore()
		joinT(t, st, testOptions(), "r1", "Alice", model.RolePlayer, nil)

		_, err := Join(context.Background(), st, testOptions(), nil, "r1", "alice", model.RolePlayer, nil)
		assert.ErrorIs(t, err, ErrNameTaken)
	})

	t.Run("不同房间允许同名", func(t *testing.T) {
		t.Parallel()
		st := store.NewMemoryStore()
		joinT(t, st, testOptions(), "r1", "alice", model.RolePlayer, nil)
		joinT(t, st, testOptions(), "r2", "alice", model.RolePlayer, nil)
	})

	t.Run("非法角色", func(t *testing.T) {
		t.Parallel()
		st := store.NewMemoryStore()
		_, err := Join(context.Background(), st, testOptions(), nil, "r1", "alice", "admin", nil)
		assert.ErrorIs(t, err, ErrInvalidRole)
	})

	t.Run("空昵称", func(t *testing.T) {
		t.Parallel()
		st := store.NewMemoryStore()
		_, err := Join(context.Background(), st, testOptions(), nil, "r1", "   ", model.RolePlayer, nil)
		assert.Error(t, err)
	})
}

func TestCastVote(t *testing.T) {
	t.Parallel()

	t.Run("观察者不能投票", func(t *testing.T) {
		t.Parallel()
		st := store.NewMemoryStore()
		s := joinT(t, st, testOptions(), "r1", "olga", model.RoleObserver, nil)
		assert.ErrorIs(t, s.CastVote("5"), ErrNotPlayer)
	})

	t.Run("票值必须在牌组中", func(t *testing.T) {
		t.Parallel()
		st := store.NewMemoryStore()
		s := joinT(t, st, testOptions(), "r1", "alice", model.RolePlayer, nil)
		assert.ErrorIs(t, s.CastVote("42"), ErrValueNotInDeck)
	})

	t.Run("重复投票覆盖前值", func(t *testing.T) {
		t.Parallel()
		st := store.NewMemoryStore()
		opts := testOptions()
		s := joinT(t, st, opts, "r1", "alice", model.RolePlayer, nil)
		// 独自投票会立刻触发倒计时，用第二个未投票成员挡住
		joinT(t, st, opts, "r1", "bob", model.RolePlayer, nil)

		require.NoError(t, s.CastVote("3"))
		require.NoError(t, s.CastVote("8"))

		_, players, votes := s.Snapshot()
		require.Len(t, votes, 1)
		assert.Equal(t, "8", votes[0].Value)
		for _, p := range players {
			if p.ID == s.PlayerID() {
				assert.True(t, p.HasVoted)
			}
		}
	})
}

func TestCountdownAndReveal(t *testing.T) {
	t.Parallel()

	t.Run("全员投票后倒计时并自动亮牌", func(t *testing.T) {
		t.Parallel()
		st := store.NewMemoryStore()
		opts := testOptions()
		capA := &resultCapture{}
		capB := &resultCapture{}
		a := joinT(t, st, opts, "r1", "alice", model.RolePlayer, capA.handle)
		b := joinT(t, st, opts, "r1", "bob", model.RolePlayer, capB.handle)

		require.NoError(t, a.CastVote("5"))
		rm, _, _ := a.Snapshot()
		assert.False(t, rm.CountdownActive, "只有一人投票不应触发倒计时")

		require.NoError(t, b.CastVote("5"))
		rm, _, _ = a.Snapshot()
		assert.True(t, rm.CountdownActive)
		assert.Greater(t, rm.CountdownEndsAt, int64(0))

		require.Eventually(t, func() bool {
			rm, _, _ := a.Snapshot()
			return rm.RevealLocked
		}, 2*time.Second, 5*time.Millisecond)

		require.Eventually(t, func() bool {
			return capA.count() == 1 && capB.count() == 1
		}, 2*time.Second, 5*time.Millisecond)

		result := capA.last()
		assert.Equal(t, 1, result.Round)
		assert.True(t, result.Unanimous)
		assert.Len(t, result.Votes, 2)

		// 锁定后投票被本地拒绝
		assert.ErrorIs(t, a.CastVote("3"), ErrRoundLocked)
	})

	t.Run("立即亮牌跳过倒计时", func(t *testing.T) {
		t.Parallel()
		st := store.NewMemoryStore()
		res := &resultCapture{}
		a := joinT(t, st, testOptions(), "r1", "alice", model.RolePlayer, res.handle)
		joinT(t, st, testOptions(), "r1", "bob", model.RolePlayer, nil)

		require.NoError(t, a.CastVote("3"))
		require.NoError(t, a.RequestReveal())

		rm, _, _ := a.Snapshot()
		assert.True(t, rm.RevealLocked)
		assert.False(t, rm.CountdownActive)

		require.Equal(t, 1, res.count())
		result := res.last()
		assert.True(t, result.Unanimous, "一致性只看已出的票，缺票者不参与")
		assert.Len(t, result.Votes, 1)
	})

	t.Run("倒计时中有人离开仍照常亮牌", func(t *testing.T) {
		t.Parallel()
		st := store.NewMemoryStore()
		opts := testOptions()
		res := &resultCapture{}
		a := joinT(t, st, opts, "r1", "alice", model.RolePlayer, res.handle)
		b := joinT(t, st, opts, "r1", "bob", model.RolePlayer, nil)

		require.NoError(t, a.CastVote("5"))
		require.NoError(t, b.CastVote("8"))
		rm, _, _ := a.Snapshot()
		require.True(t, rm.CountdownActive)

		// 离开会删掉自己的票，但不取消进行中的倒计时
		b.Leave()
		rm, _, _ = a.Snapshot()
		assert.True(t, rm.CountdownActive)
		assert.False(t, rm.RevealLocked)

		require.Eventually(t, func() bool {
			rm, _, _ := a.Snapshot()
			return rm.RevealLocked
		}, 2*time.Second, 5*time.Millisecond)

		require.Eventually(t, func() bool { return res.count() == 1 }, 2*time.Second, 5*time.Millisecond)
		result := res.last()
		require.Len(t, result.Votes, 1)
		assert.Equal(t, "5", result.Votes[0].Value)
		assert.Equal(t, a.PlayerID(), result.Votes[0].PlayerID)
	})

	t.Run("重复亮牌是幂等的", func(t *testing.T) {
		t.Parallel()
		st := store.NewMemoryStore()
		res := &resultCapture{}
		a := joinT(t, st, testOptions(), "r1", "alice", model.RolePlayer, res.handle)

		require.NoError(t, a.RequestReveal())
		require.NoError(t, a.RequestReveal())
		assert.Equal(t, 1, res.count(), "同一轮结果只投递一次")
	})
}

func TestObserverAndQuorum(t *testing.T) {
	t.Parallel()

	t.Run("观察者不阻塞倒计时", func(t *testing.T) {
		t.Parallel()
		st := store.NewMemoryStore()
		opts := testOptions()
		a := joinT(t, st, opts, "r1", "alice", model.RolePlayer, nil)
		joinT(t, st, opts, "r1", "olga", model.RoleObserver, nil)

		require.NoError(t, a.CastVote("5"))
		rm, _, _ := a.Snapshot()
		assert.True(t, rm.CountdownActive, "唯一玩家已投票，观察者不算投票人")
	})

	t.Run("纯观察者房间永不触发倒计时", func(t *testing.T) {
		t.Parallel()
		st := store.NewMemoryStore()
		s := joinT(t, st, testOptions(), "r1", "olga", model.RoleObserver, nil)
		rm, _, _ := s.Snapshot()
		assert.False(t, rm.CountdownActive)
		assert.False(t, rm.RevealLocked)
	})

	t.Run("踢人缩小法定人数后触发倒计时", func(t *testing.T) {
		t.Parallel()
		st := store.NewMemoryStore()
		opts := testOptions()
		a := joinT(t, st, opts, "r1", "alice", model.RolePlayer, nil)
		b := joinT(t, st, opts, "r1", "bob", model.RolePlayer, nil)

		require.NoError(t, a.CastVote("5"))
		rm, _, _ := a.Snapshot()
		require.False(t, rm.CountdownActive)

		require.NoError(t, a.Kick(b.PlayerID()))
		rm, players, _ := a.Snapshot()
		assert.Len(t, players, 1)
		assert.True(t, rm.CountdownActive, "未投票者被踢出后条件即满足")
	})
}

func TestKick(t *testing.T) {
	t.Parallel()

	t.Run("自踢是空操作", func(t *testing.T) {
		t.Parallel()
		st := store.NewMemoryStore()
		a := joinT(t, st, testOptions(), "r1", "alice", model.RolePlayer, nil)
		require.NoError(t, a.Kick(a.PlayerID()))
		_, players, _ := a.Snapshot()
		assert.Len(t, players, 1)
	})

	t.Run("踢人同时删除投票", func(t *testing.T) {
		t.Parallel()
		st := store.NewMemoryStore()
		opts := testOptions()
		a := joinT(t, st, opts, "r1", "alice", model.RolePlayer, nil)
		b := joinT(t, st, opts, "r1", "bob", model.RolePlayer, nil)
		c := joinT(t, st, opts, "r1", "carol", model.RolePlayer, nil)
		_ = c

		require.NoError(t, b.CastVote("8"))
		require.NoError(t, a.Kick(b.PlayerID()))

		_, players, votes := a.Snapshot()
		assert.Len(t, players, 2)
		assert.Empty(t, votes)
	})

	t.Run("仅创建者可踢人的开关", func(t *testing.T) {
		t.Parallel()
		st := store.NewMemoryStore()
		opts := testOptions()
		opts.FacilitatorOnlyKick = true
		a := joinT(t, st, opts, "r1", "alice", model.RolePlayer, nil)
		b := joinT(t, st, opts, "r1", "bob", model.RolePlayer, nil)

		assert.ErrorIs(t, b.Kick(a.PlayerID()), ErrNotFacilitator)
		assert.NoError(t, a.Kick(b.PlayerID()))
	})
}

func TestReplay(t *testing.T) {
	t.Parallel()

	t.Run("新一轮清票解锁并递增轮次", func(t *testing.T) {
		t.Parallel()
		st := store.NewMemoryStore()
		opts := testOptions()
		res := &resultCapture{}
		a := joinT(t, st, opts, "r1", "alice", model.RolePlayer, res.handle)
		b := joinT(t, st, opts, "r1", "bob", model.RolePlayer, nil)

		require.NoError(t, a.CastVote("3"))
		require.NoError(t, b.CastVote("5"))
		require.NoError(t, a.RequestReveal())
		require.Equal(t, 1, res.count())

		require.NoError(t, a.RequestReplay())

		rm, players, votes := a.Snapshot()
		assert.Equal(t, 2, rm.Round)
		assert.False(t, rm.RevealLocked)
		assert.False(t, rm.CountdownActive)
		assert.Empty(t, votes)
		for _, p := range players {
			assert.False(t, p.HasVoted)
		}

		// 第二轮的亮牌结果独立投递
		require.NoError(t, a.CastVote("8"))
		require.NoError(t, a.RequestReveal())
		require.Eventually(t, func() bool { return res.count() == 2 }, 2*time.Second, 5*time.Millisecond)
		assert.Equal(t, 2, res.last().Round)
	})

	t.Run("仅创建者可开新一轮的开关", func(t *testing.T) {
		t.Parallel()
		st := store.NewMemoryStore()
		opts := testOptions()
		opts.FacilitatorOnlyReplay = true
		a := joinT(t, st, opts, "r1", "alice", model.RolePlayer, nil)
		b := joinT(t, st, opts, "r1", "bob", model.RolePlayer, nil)

		require.NoError(t, a.RequestReveal())
		assert.ErrorIs(t, b.RequestReplay(), ErrNotFacilitator)
		assert.NoError(t, a.RequestReplay())
	})
}

// 三人完整走一遍：投票、自动倒计时、亮牌、评估、新一轮
func TestThreePlayerRound(t *testing.T) {
	t.Parallel()

	st := store.NewMemoryStore()
	opts := testOptions()
	res := &resultCapture{}
	a := joinT(t, st, opts, "sprint-42", "alice", model.RolePlayer, res.handle)
	b := joinT(t, st, opts, "sprint-42", "bob", model.RolePlayer, nil)
	c := joinT(t, st, opts, "sprint-42", "carol", model.RolePlayer, nil)

	require.NoError(t, a.CastVote("2"))
	require.NoError(t, b.CastVote("3"))
	rm, _, _ := a.Snapshot()
	require.False(t, rm.CountdownActive)

	require.NoError(t, c.CastVote("8"))
	rm, _, _ = a.Snapshot()
	require.True(t, rm.CountdownActive)

	require.Eventually(t, func() bool { return res.count() == 1 }, 2*time.Second, 5*time.Millisecond)

	result := res.last()
	assert.False(t, result.Unanimous)
	require.True(t, result.HasMedian)
	assert.Equal(t, 3.0, result.Median)
	require.Len(t, result.ClosestIDs, 1)
	assert.Equal(t, b.PlayerID(), result.ClosestIDs[0])

	require.NoError(t, b.RequestReplay())
	rm, _, votes := a.Snapshot()
	assert.Equal(t, 2, rm.Round)
	assert.False(t, rm.RevealLocked)
	assert.Empty(t, votes)
}

func TestLeave(t *testing.T) {
	t.Parallel()

	t.Run("离房删除自己的文档并作废会话", func(t *testing.T) {
		t.Parallel()
		st := store.NewMemoryStore()
		opts := testOptions()
		a := joinT(t, st, opts, "r1", "alice", model.RolePlayer, nil)
		b := joinT(t, st, opts, "r1", "bob", model.RolePlayer, nil)

		require.NoError(t, b.CastVote("5"))
		b.Leave()

		_, players, votes := a.Snapshot()
		assert.Len(t, players, 1)
		assert.Empty(t, votes)

		assert.ErrorIs(t, b.CastVote("5"), ErrSessionClosed)

		// 离房后昵称立即可复用
		joinT(t, st, opts, "r1", "bob", model.RolePlayer, nil)
	})
}
