package conf

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"

	"chatservice/internal/backend"
	"chatservice/internal/data"
	"chatservice/internal/server"
)

// Config 应用配置
type Config struct {
	Server    server.Config        `mapstructure:"server"`
	Redis     data.RedisConfig     `mapstructure:"redis"`
	Chat      ChatConfig           `mapstructure:"chat"`
	Worker    WorkerConfig         `mapstructure:"worker"`
	Remote    backend.RemoteConfig `mapstructure:"remote"`
	Local     backend.LocalConfig  `mapstructure:"local"`
	WebSocket WebSocketConfig      `mapstructure:"websocket"`
	Models    []ModelConfig        `mapstructure:"models"`
	Log       LogConfig            `mapstructure:"log"`
}

// ChatConfig 会话配置
type ChatConfig struct {
	DefaultModel string `mapstructure:"default_model"`
	ChunkSize    int    `mapstructure:"chunk_size"`
}

// WorkerConfig 工作池配置
type WorkerConfig struct {
	Workers   int `mapstructure:"workers"`
	QueueSize int `mapstructure:"queue_size"`
}

// WebSocketConfig 连接限制配置
type WebSocketConfig struct {
	MaxConnectionsPerUser int `mapstructure:"max_connections_per_user"`
	MaxTotalConnections   int `mapstructure:"max_total_connections"`
}

// ModelConfig 一个可用模型的声明
type ModelConfig struct {
	Name                string `mapstructure:"name"`
	Backend             string `mapstructure:"backend"`
	MaxTotalTokens      int    `mapstructure:"max_total_tokens"`
	MaxTokensPerRequest int    `mapstructure:"max_tokens_per_request"`
	TokenMargin         int    `mapstructure:"token_margin"`
	Endpoint            string `mapstructure:"endpoint"`
	APIKey              string `mapstructure:"api_key"`
	ModelPath           string `mapstructure:"model_path"`
	Description         string `mapstructure:"description"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// Load 加载配置：YAML 文件打底，CHAT_ 前缀环境变量覆盖
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("chat-service")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath("../configs")
		v.AddConfigPath("../../configs")
	}

	v.SetEnvPrefix("CHAT")
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config error: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unmarshal config error: %w", err)
	}

	// 敏感配置从环境变量覆盖
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		config.Redis.Password = password
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		for i := range config.Models {
			if config.Models[i].Backend == "remote_api" && config.Models[i].APIKey == "" {
				config.Models[i].APIKey = key
			}
		}
	}

	if len(config.Models) == 0 {
		return nil, fmt.Errorf("config error: no models declared")
	}
	if config.Chat.DefaultModel == "" {
		config.Chat.DefaultModel = config.Models[0].Name
	}
	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("chat.chunk_size", 2)
	v.SetDefault("worker.workers", 4)
	v.SetDefault("worker.queue_size", 64)
	v.SetDefault("remote.connect_timeout", 30*time.Second)
	v.SetDefault("remote.stream_buffer", 100)
	v.SetDefault("local.handoff_buffer", 64)
	v.SetDefault("websocket.max_connections_per_user", 3)
	v.SetDefault("websocket.max_total_connections", 10000)
	v.SetDefault("log.level", "info")
}
