package kafka

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/lvdashuaibi/littlepoker/config"
	"github.com/lvdashuaibi/littlepoker/internal/model"
	"github.com/segmentio/kafka-go"
)

type Consumer struct {
	readers []*kafka.Reader
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

type MessageHandler func(event *model.RevealEvent) error

// NewConsumer 创建消费者组模式的消费者。
// 同组内多实例按分区均衡，保证每条亮牌事件只被一个实例处理；
// 事件本身按(房间,轮次)在应用侧去重，重复投递无害。
func NewConsumer(workers int) (*Consumer, error) {
	ctx, cancel := context.WithCancel(context.Background())

	if workers <= 0 {
		workers = 4
	}

	readers := make([]*kafka.Reader, 0, workers)
	for i := 0; i < workers; i++ {
		readers = append(readers, kafka.NewReader(kafka.ReaderConfig{
			Brokers:  config.AppConfig.Kafka.Brokers,
			Topic:    config.AppConfig.Kafka.Topic,
			GroupID:  config.AppConfig.Kafka.GroupID,
			MinBytes: 10e3, // 10KB
			MaxBytes: 10e6, // 10MB
		}))
	}

	return &Consumer{
		readers: readers,
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// StartConsuming 启动全部消费工作线程
func (c *Consumer) StartConsuming(handler MessageHandler) {
	for i, reader := range c.readers {
		c.wg.Add(1)
		go func(workerID int, r *kafka.Reader) {
			defer c.wg.Done()
			c.consumeMessages(workerID, r, handler)
		}(i, reader)
	}
	log.Printf("已启动 %d 个Kafka消费者工作线程", len(c.readers))
}

func (c *Consumer) consumeMessages(workerID int, reader *kafka.Reader, handler MessageHandler) {
	for {
		select {
		case <-c.ctx.Done():
			return
		default:
			m, err := reader.ReadMessage(c.ctx)
			if err != nil {
				if err == context.Canceled {
					return
				}
				log.Printf("消费者工作线程 #%d 读取消息失败: %v", workerID, err)
				time.Sleep(time.Second)
				continue
			}

			var event model.RevealEvent
			if err := json.Unmarshal(m.Value, &event); err != nil {
				log.Printf("消费者工作线程 #%d 解析消息失败: %v", workerID, err)
				continue
			}

			if err := handler(&event); err != nil {
				log.Printf("消费者工作线程 #%d 处理亮牌事件失败: %v", workerID, err)
			}
		}
	}
}

// Stop 停止消费并关闭全部reader
func (c *Consumer) Stop() error {
	c.cancel()
	c.wg.Wait()

	for i, reader := range c.readers {
		if err := reader.Close(); err != nil {
			log.Printf("关闭消费者 #%d 失败: %v", i, err)
		}
	}
	return nil
}
