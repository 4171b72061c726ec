package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lvdashuaibi/littlepoker/config"
	"github.com/lvdashuaibi/littlepoker/internal/model"
	"github.com/segmentio/kafka-go"
)

type Producer struct {
	writer *kafka.Writer
	ctx    context.Context
}

func NewProducer() (*Producer, error) {
	ctx := context.Background()

	// 先探测一次连通性，启动即暴露配置问题
	conn, err := kafka.DialLeader(ctx, "tcp", config.AppConfig.Kafka.Brokers[0], config.AppConfig.Kafka.Topic, 0)
	if err != nil {
		return nil, fmt.Errorf("连接Kafka失败: %w", err)
	}
	conn.Close()

	// 以房间号为消息Key做Hash分区，同一房间的亮牌事件保持有序
	writer := &kafka.Writer{
		Addr:     kafka.TCP(config.AppConfig.Kafka.Brokers...),
		Topic:    config.AppConfig.Kafka.Topic,
		Balancer: &kafka.Hash{},
	}

	return &Producer{
		writer: writer,
		ctx:    ctx,
	}, nil
}

// PublishRevealEvent 发送亮牌事件
func (p *Producer) PublishRevealEvent(event *model.RevealEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("序列化亮牌事件失败: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(event.RoomKey),
		Value: data,
		Time:  time.Now(),
	}
	if err := p.writer.WriteMessages(p.ctx, msg); err != nil {
		return fmt.Errorf("发送亮牌事件失败: %w", err)
	}
	return nil
}

// Close 关闭Kafka生产者
func (p *Producer) Close() error {
	return p.writer.Close()
}
