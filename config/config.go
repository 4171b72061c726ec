package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Redis   RedisConfig   `mapstructure:"redis"`
	MySQL   MySQLConfig   `mapstructure:"mysql"`
	Kafka   KafkaConfig   `mapstructure:"kafka"`
	ETCD    ETCDConfig    `mapstructure:"etcd"`
	Room    RoomConfig    `mapstructure:"room"`
	Stats   StatsConfig   `mapstructure:"stats"`
	GraphQL GraphQLConfig `mapstructure:"graphql"`
}

type ServerConfig struct {
	Port      int    `mapstructure:"port"`
	PublicURL string `mapstructure:"public_url"`
}

type RedisConfig struct {
	// 数据存储Redis（房间文档、成员、投票）
	DataAddress string        `mapstructure:"data_address"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	PoolSize    int           `mapstructure:"pool_size"`
	MaxRetries  int           `mapstructure:"max_retries"`
	Timeout     time.Duration `mapstructure:"timeout"`

	// Redlock使用的Redis节点
	LockAddresses []string `mapstructure:"lock_addresses"`
}

type MySQLConfig struct {
	Master       string `mapstructure:"master"`
	Slave        string `mapstructure:"slave"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
	GroupID string   `mapstructure:"group_id"`
}

type ETCDConfig struct {
	Endpoints      []string      `mapstructure:"endpoints"`
	DialTimeout    time.Duration `mapstructure:"dial_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// RoomConfig 房间行为配置
type RoomConfig struct {
	// 牌组，投票值只能取其中之一
	Deck []string `mapstructure:"deck"`

	// 满票后倒计时时长
	CountdownDuration time.Duration `mapstructure:"countdown_duration"`

	// 存活心跳：presence_enabled为true时生效，liveness_threshold必须大于heartbeat_interval
	PresenceEnabled   bool          `mapstructure:"presence_enabled"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	LivenessThreshold time.Duration `mapstructure:"liveness_threshold"`

	// 严格模式：仅房间创建者可以开新一轮/踢人
	FacilitatorOnlyReplay bool `mapstructure:"facilitator_only_replay"`
	FacilitatorOnlyKick   bool `mapstructure:"facilitator_only_kick"`
}

type StatsConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	LockTimeout time.Duration `mapstructure:"lock_timeout"`
	LockRetries int           `mapstructure:"lock_retries"`
}

type GraphQLConfig struct {
	Path string `mapstructure:"path"`
}

var AppConfig Config

// DefaultDeck 默认牌组（斐波那契变体加"?"和休息符号）
var DefaultDeck = []string{"0,5", "1", "2", "3", "5", "8", "13", "20", "40", "100", "?", "☕"}

// LoadConfig 加载配置文件
func LoadConfig(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	if len(AppConfig.Room.Deck) == 0 {
		AppConfig.Room.Deck = DefaultDeck
	}
	if AppConfig.Room.CountdownDuration <= 0 {
		AppConfig.Room.CountdownDuration = 3200 * time.Millisecond
	}
	if AppConfig.GraphQL.Path == "" {
		AppConfig.GraphQL.Path = "/graphql"
	}

	// 阈值必须严格大于心跳间隔，否则漏掉一次心跳就会误判离线
	if AppConfig.Room.PresenceEnabled &&
		AppConfig.Room.LivenessThreshold <= AppConfig.Room.HeartbeatInterval {
		return nil, fmt.Errorf("liveness_threshold(%v) 必须大于 heartbeat_interval(%v)",
			AppConfig.Room.LivenessThreshold, AppConfig.Room.HeartbeatInterval)
	}

	return &AppConfig, nil
}
