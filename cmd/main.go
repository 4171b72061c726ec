package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/lvdashuaibi/littlepoker/config"
	"github.com/lvdashuaibi/littlepoker/internal/api/graph"
	intkafka "github.com/lvdashuaibi/littlepoker/internal/kafka"
	"github.com/lvdashuaibi/littlepoker/internal/lock"
	"github.com/lvdashuaibi/littlepoker/internal/repository"
	"github.com/lvdashuaibi/littlepoker/internal/stats"
	"github.com/lvdashuaibi/littlepoker/internal/store"
)

var (
	configPath = flag.String("config", "config/config.yaml", "配置文件路径")
	instanceID = flag.Int("instance", 1, "实例ID，用于区分多个实例")
)

func main() {
	// 解析命令行参数
	flag.Parse()

	// 加载配置
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	log.Printf("配置加载成功，当前实例ID: %d", *instanceID)

	// 创建共享文档存储（Redis）
	docStore, err := store.NewRedisStore()
	if err != nil {
		log.Fatalf("初始化Redis文档存储失败: %v", err)
	}
	defer docStore.Close()
	log.Printf("Redis文档存储初始化成功")

	// 创建Kafka生产者，房间亮牌事件经由它进入统计管道
	producer, err := intkafka.NewProducer()
	if err != nil {
		log.Fatalf("初始化Kafka生产者失败: %v", err)
	}
	defer producer.Close()
	log.Printf("Kafka生产者初始化成功")

	// 统计管道是可选的，关闭后网关只做房间同步
	var statsService *stats.Service
	if cfg.Stats.Enabled {
		// 创建数据库连接
		mysqlRepo, err := repository.NewMySQLRepository()
		if err != nil {
			log.Fatalf("初始化MySQL仓库失败: %v", err)
		}
		defer mysqlRepo.Close()
		log.Printf("MySQL仓库初始化成功")

		// 创建分布式锁，优先ETCD，降级RedLock
		var distLock lock.Lock
		distLock, err = lock.NewETCDLock()
		if err != nil {
			log.Printf("初始化ETCD分布式锁失败: %v，降级使用RedLock", err)
			distLock, err = lock.NewRedLock()
			if err != nil {
				log.Fatalf("初始化RedLock失败: %v", err)
			}
		}
		defer distLock.Close()
		log.Printf("分布式锁初始化成功")

		// 尝试竞选统计应用者
		lockAcquired, err := distLock.AcquireLock(stats.ApplierLockName, cfg.Stats.LockTimeout)
		if err != nil {
			log.Printf("获取统计应用者锁失败: %v，以普通节点模式启动", err)
		}
		if lockAcquired {
			log.Printf("实例 %d 获取统计应用者锁成功，将作为统计应用者启动", *instanceID)
		} else {
			log.Printf("实例 %d 未获取到统计应用者锁，以普通节点模式启动", *instanceID)
		}

		// 创建统计服务。消费者由服务按应用者身份启停，
		// 锁交接窗口的重复消费由MySQL的(room_key, round)唯一键挡住
		statsService = stats.NewService(mysqlRepo, distLock, func() (stats.EventSource, error) {
			return intkafka.NewConsumer(0)
		}, lockAcquired)
		statsService.Start()
		defer statsService.Stop()
		log.Printf("统计服务初始化成功，应用者模式: %v", lockAcquired)
	} else {
		log.Printf("统计管道已禁用，跳过MySQL/ETCD/消费者初始化")
	}

	// 创建GraphQL服务
	graphqlServer := graph.NewGraphQLServer(docStore, producer, statsService)
	log.Printf("GraphQL服务初始化成功")

	// 计算端口，支持多实例
	serverPort := cfg.Server.Port + *instanceID - 1

	// 启动HTTP服务器(异步)
	go func() {
		if err := graphqlServer.Start(serverPort); err != nil {
			log.Fatalf("启动GraphQL服务器失败: %v", err)
		}
	}()

	log.Printf("Little Poker 系统 (实例 %d) 已启动，服务地址: http://localhost:%d", *instanceID, serverPort)

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("正在关闭服务...")
}
