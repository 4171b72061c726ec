package stats

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/lvdashuaibi/littlepoker/internal/kafka"
	"github.com/lvdashuaibi/littlepoker/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLock struct {
	mu        sync.Mutex
	acquireOK bool
	refreshOK bool
	released  int
}

func (l *fakeLock) AcquireLock(string, time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.acquireOK, nil
}

func (l *fakeLock) RefreshLock(string, time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.refreshOK, nil
}

func (l *fakeLock) ReleaseLock(string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.released++
	return nil
}

func (l *fakeLock) Close() error { return nil }

func (l *fakeLock) releasedCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.released
}

type fakeSource struct {
	mu      sync.Mutex
	started bool
	stopped bool
}

func (f *fakeSource) StartConsuming(kafka.MessageHandler) {
	f.mu.Lock()
	f.started = true
	f.mu.Unlock()
}

func (f *fakeSource) Stop() error {
	f.mu.Lock()
	f.stopped = true
	f.mu.Unlock()
	return nil
}

func (f *fakeSource) state() (started, stopped bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.started, f.stopped
}

func TestApplierElection(t *testing.T) {
	t.Parallel()

	t.Run("非应用者不消费", func(t *testing.T) {
		t.Parallel()
		created := 0
		s := NewService(nil, &fakeLock{}, func() (EventSource, error) {
			created++
			return &fakeSource{}, nil
		}, false)
		s.Start()
		defer s.Stop()

		assert.False(t, s.IsApplier())
		assert.Equal(t, 0, created, "未当选的实例不应创建消费者")
	})

	t.Run("应用者启动即消费", func(t *testing.T) {
		t.Parallel()
		src := &fakeSource{}
		s := NewService(nil, &fakeLock{refreshOK: true}, func() (EventSource, error) {
			return src, nil
		}, true)
		s.Start()
		defer s.Stop()

		assert.True(t, s.IsApplier())
		started, _ := src.state()
		assert.True(t, started)
	})

	t.Run("接管锁后开始消费", func(t *testing.T) {
		t.Parallel()
		src := &fakeSource{}
		s := NewService(nil, &fakeLock{acquireOK: true}, func() (EventSource, error) {
			return src, nil
		}, false)

		s.maintainApplierLock(time.Second)

		assert.True(t, s.IsApplier())
		started, _ := src.state()
		assert.True(t, started)
	})

	t.Run("续锁失败即停止消费", func(t *testing.T) {
		t.Parallel()
		src := &fakeSource{}
		s := NewService(nil, &fakeLock{refreshOK: false}, func() (EventSource, error) {
			return src, nil
		}, true)
		s.startConsuming()

		s.maintainApplierLock(time.Second)

		assert.False(t, s.IsApplier())
		started, stopped := src.state()
		assert.True(t, started)
		assert.True(t, stopped)
	})

	t.Run("消费者创建失败让出应用者身份", func(t *testing.T) {
		t.Parallel()
		lk := &fakeLock{}
		s := NewService(nil, lk, func() (EventSource, error) {
			return nil, errors.New("无可用broker")
		}, true)
		s.startConsuming()

		assert.False(t, s.IsApplier())
		assert.Equal(t, 1, lk.releasedCount())
	})
}

func TestComputeDeltas(t *testing.T) {
	t.Parallel()

	t.Run("数值票入账并标记禅者", func(t *testing.T) {
		t.Parallel()
		event := &model.RevealEvent{
			RoomKey: "r1",
			Round:   1,
			Votes: []model.VoteRow{
				{PlayerID: "a", Name: "alice", Value: "1"},
				{PlayerID: "b", Name: "bob", Value: "3"},
				{PlayerID: "c", Name: "carol", Value: "8"},
			},
			RevealedAt: time.Now(),
		}

		deltas := ComputeDeltas(event)
		require.Len(t, deltas, 3)

		byID := make(map[string]int)
		for i, d := range deltas {
			byID[d.PlayerID] = i
		}

		// 中位数3，bob最贴近
		assert.True(t, deltas[byID["b"]].Zen)
		assert.False(t, deltas[byID["a"]].Zen)
		assert.False(t, deltas[byID["c"]].Zen)

		for _, d := range deltas {
			assert.True(t, d.Numeric)
		}
		assert.Equal(t, 8.0, deltas[byID["c"]].Value)
	})

	t.Run("非数值票不计数值但保留行", func(t *testing.T) {
		t.Parallel()
		event := &model.RevealEvent{
			RoomKey: "r1",
			Round:   2,
			Votes: []model.VoteRow{
				{PlayerID: "a", Name: "alice", Value: "?"},
				{PlayerID: "b", Name: "bob", Value: "5"},
			},
		}

		deltas := ComputeDeltas(event)
		require.Len(t, deltas, 2)
		assert.False(t, deltas[0].Numeric)
		assert.True(t, deltas[1].Numeric)
		// 唯一的数值票自己就是中位数
		assert.True(t, deltas[1].Zen)
		assert.False(t, deltas[0].Zen)
	})

	t.Run("全部非数值票没有禅者", func(t *testing.T) {
		t.Parallel()
		event := &model.RevealEvent{
			RoomKey: "r1",
			Round:   3,
			Votes: []model.VoteRow{
				{PlayerID: "a", Name: "alice", Value: "?"},
				{PlayerID: "b", Name: "bob", Value: "☕"},
			},
		}
		for _, d := range ComputeDeltas(event) {
			assert.False(t, d.Zen)
			assert.False(t, d.Numeric)
		}
	})

	t.Run("空事件", func(t *testing.T) {
		t.Parallel()
		assert.Empty(t, ComputeDeltas(&model.RevealEvent{RoomKey: "r1", Round: 1}))
	})
}

func TestComputeBadges(t *testing.T) {
	t.Parallel()

	t.Run("最低人均出价与禅师", func(t *testing.T) {
		t.Parallel()
		stats := []*model.StatAggregate{
			{RoomKey: "r1", PlayerID: "a", Name: "alice", Rounds: 4, Sum: 8, Zen: 1},
			{RoomKey: "r1", PlayerID: "b", Name: "bob", Rounds: 4, Sum: 20, Zen: 3},
			{RoomKey: "r1", PlayerID: "c", Name: "carol", Rounds: 0, Sum: 0, Zen: 0},
		}

		badges := ComputeBadges(stats)
		assert.Equal(t, "a", badges.LowBidderID)
		assert.Equal(t, 2.0, badges.LowBidderAvg)
		assert.Equal(t, "b", badges.ZenMasterID)
		assert.Equal(t, 3, badges.ZenRounds)
	})

	t.Run("无可比数据字段留空", func(t *testing.T) {
		t.Parallel()
		badges := ComputeBadges(nil)
		assert.Empty(t, badges.LowBidderID)
		assert.Empty(t, badges.ZenMasterID)

		// 只投过非数值票的玩家不参与任何徽章
		badges = ComputeBadges([]*model.StatAggregate{
			{PlayerID: "a", Name: "alice", Rounds: 0, Zen: 0},
		})
		assert.Empty(t, badges.LowBidderID)
		assert.Empty(t, badges.ZenMasterID)
	})
}
