package stats

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/lvdashuaibi/littlepoker/config"
	"github.com/lvdashuaibi/littlepoker/internal/kafka"
	"github.com/lvdashuaibi/littlepoker/internal/lock"
	"github.com/lvdashuaibi/littlepoker/internal/model"
	"github.com/lvdashuaibi/littlepoker/internal/repository"
	"github.com/lvdashuaibi/littlepoker/internal/room"
)

const ApplierLockName = "littlepoker:stats:applier:lock"

// EventSource 亮牌事件来源，由Kafka消费者实现。停止后不可复用
type EventSource interface {
	StartConsuming(handler kafka.MessageHandler)
	Stop() error
}

// EventSourceFactory 每次当选应用者时新建事件来源
type EventSourceFactory func() (EventSource, error)

// Service 统计应用服务：消费亮牌事件，把每轮的rounds/sum/zen增量入账MySQL。
// 多实例部署时由分布式锁选举唯一的应用者实例，只有应用者才启动消费；
// 锁交接窗口内可能出现短暂的双消费，由MySQL侧的(房间,轮次)唯一键挡住重复入账。
type Service struct {
	mysqlRepo *repository.MySQLRepository
	distLock  lock.Lock
	newSource EventSourceFactory

	mu        sync.Mutex
	isApplier bool
	source    EventSource

	stopChan chan struct{}
}

func NewService(mysqlRepo *repository.MySQLRepository, distLock lock.Lock, newSource EventSourceFactory, isApplier bool) *Service {
	return &Service{
		mysqlRepo: mysqlRepo,
		distLock:  distLock,
		newSource: newSource,
		isApplier: isApplier,
		stopChan:  make(chan struct{}),
	}
}

// IsApplier 当前实例是否统计应用者
func (s *Service) IsApplier() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isApplier
}

func (s *Service) setApplier(v bool) {
	s.mu.Lock()
	s.isApplier = v
	s.mu.Unlock()
}

// Start 按当前身份启动消费，并开启锁维护协程：应用者定期续锁，非应用者定期尝试接管
func (s *Service) Start() {
	if s.IsApplier() {
		s.startConsuming()
	}

	ttl := config.AppConfig.Stats.LockTimeout
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	checkInterval := ttl / 2

	go func() {
		ticker := time.NewTicker(checkInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.maintainApplierLock(ttl)
			case <-s.stopChan:
				return
			}
		}
	}()
}

func (s *Service) maintainApplierLock(ttl time.Duration) {
	if s.IsApplier() {
		ok, err := s.distLock.RefreshLock(ApplierLockName, ttl)
		if err != nil || !ok {
			log.Printf("续期统计应用者锁失败: %v，本实例退出应用者模式", err)
			s.setApplier(false)
			s.stopConsuming()
		}
		return
	}

	ok, err := s.distLock.AcquireLock(ApplierLockName, ttl)
	if err != nil {
		log.Printf("尝试获取统计应用者锁失败: %v", err)
		return
	}
	if ok {
		log.Printf("本实例接管统计应用者")
		s.setApplier(true)
		s.startConsuming()
	}
}

// startConsuming 新建消费者并开始消费。创建失败时让出应用者身份，由其他实例接管
func (s *Service) startConsuming() {
	src, err := s.newSource()
	if err != nil {
		log.Printf("创建亮牌事件消费者失败: %v，让出统计应用者身份", err)
		s.setApplier(false)
		if relErr := s.distLock.ReleaseLock(ApplierLockName); relErr != nil {
			log.Printf("让出统计应用者锁失败: %v", relErr)
		}
		return
	}

	s.mu.Lock()
	s.source = src
	s.mu.Unlock()

	src.StartConsuming(s.HandleRevealEvent)
	log.Printf("统计应用者已开始消费亮牌事件")
}

func (s *Service) stopConsuming() {
	s.mu.Lock()
	src := s.source
	s.source = nil
	s.mu.Unlock()

	if src != nil {
		if err := src.Stop(); err != nil {
			log.Printf("停止亮牌事件消费者失败: %v", err)
		}
	}
}

// Stop 停止锁维护与消费，并释放应用者锁
func (s *Service) Stop() {
	close(s.stopChan)
	s.stopConsuming()
	if s.IsApplier() {
		if err := s.distLock.ReleaseLock(ApplierLockName); err != nil {
			log.Printf("释放统计应用者锁失败: %v", err)
		}
	}
}

// HandleRevealEvent 处理一条亮牌事件（消费者回调）
func (s *Service) HandleRevealEvent(event *model.RevealEvent) error {
	deltas := ComputeDeltas(event)
	if len(deltas) == 0 {
		return nil
	}

	err := s.mysqlRepo.ApplyRevealStats(event.RoomKey, event.Round, event.RevealedAt, deltas)
	if err != nil {
		if err == repository.ErrRoundAlreadyApplied {
			// 锁交接窗口的重复消费，或竞态下多个会话各发了一条同轮事件，后到的直接丢弃
			return nil
		}
		return fmt.Errorf("亮牌事件入账失败: %w", err)
	}
	return nil
}

// ComputeDeltas 从亮牌事件推出每个玩家的统计增量。
// 非数值票面不计入rounds和sum；zen按与本轮中位数距离最小判定，允许并列。
func ComputeDeltas(event *model.RevealEvent) []repository.StatDelta {
	var nums []float64
	for _, v := range event.Votes {
		if n, ok := room.ParseDeckNumber(v.Value); ok {
			nums = append(nums, n)
		}
	}

	zenIDs := make(map[string]bool)
	if median, ok := room.Median(nums); ok {
		for _, id := range room.ClosestToMedian(event.Votes, median) {
			zenIDs[id] = true
		}
	}

	deltas := make([]repository.StatDelta, 0, len(event.Votes))
	for _, v := range event.Votes {
		d := repository.StatDelta{
			PlayerID: v.PlayerID,
			Name:     v.Name,
			Zen:      zenIDs[v.PlayerID],
		}
		if n, ok := room.ParseDeckNumber(v.Value); ok {
			d.Numeric = true
			d.Value = n
		}
		deltas = append(deltas, d)
	}
	return deltas
}

// Badges 每次亮牌重新从累计统计算徽章：
// 全场人均最低出价者和"禅师"（贴近中位数次数最多者）
func (s *Service) Badges(roomKey string) (*model.Badges, error) {
	stats, err := s.mysqlRepo.GetRoomStats(roomKey)
	if err != nil {
		return nil, err
	}
	return ComputeBadges(stats), nil
}

// ComputeBadges 从累计统计推导徽章，无可比数据时对应字段留空
func ComputeBadges(stats []*model.StatAggregate) *model.Badges {
	badges := &model.Badges{}

	bestAvg := 0.0
	for _, st := range stats {
		if st.Rounds == 0 {
			continue
		}
		avg := st.Sum / float64(st.Rounds)
		if badges.LowBidderID == "" || avg < bestAvg {
			bestAvg = avg
			badges.LowBidderID = st.PlayerID
			badges.LowBidderName = st.Name
			badges.LowBidderAvg = avg
		}
	}

	for _, st := range stats {
		if st.Zen > 0 && st.Zen > badges.ZenRounds {
			badges.ZenMasterID = st.PlayerID
			badges.ZenMasterName = st.Name
			badges.ZenRounds = st.Zen
		}
	}
	return badges
}
