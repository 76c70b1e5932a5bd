package main

import (
	"github.com/go-kratos/kratos/v2/log"
	"github.com/redis/go-redis/v9"

	"chatservice/internal/backend"
	"chatservice/internal/conf"
	"chatservice/internal/data"
	"chatservice/internal/domain"
	"chatservice/internal/server"
	"chatservice/internal/service"
	"chatservice/internal/websocket"
	"chatservice/internal/worker"
)

// AppComponents 包含应用组件和资源
type AppComponents struct {
	Server   *server.HTTPServer
	Hub      *websocket.Hub
	Chat     *service.ChatService
	Registry *domain.ModelRegistry
	Pool     *worker.Pool
	Redis    *redis.Client
}

// 下面的 provide* 把配置树拆成各构造器需要的子块

func provideRedisConfig(config *conf.Config) *data.RedisConfig { return &config.Redis }

func provideServerConfig(config *conf.Config) *server.Config { return &config.Server }

func provideChatConfig(config *conf.Config) *service.Config {
	return &service.Config{
		DefaultModel: config.Chat.DefaultModel,
		ChunkSize:    config.Chat.ChunkSize,
	}
}

func provideRegistry(config *conf.Config) (*domain.ModelRegistry, error) {
	return conf.BuildRegistry(config.Models)
}

func providePool(config *conf.Config, logger log.Logger) *worker.Pool {
	return worker.NewPool(config.Worker.Workers, config.Worker.QueueSize, logger)
}

func provideBackends(config *conf.Config, pool *worker.Pool, logger log.Logger) []backend.Backend {
	return []backend.Backend{
		backend.NewRemoteAPI(&config.Remote, logger),
		backend.NewLocalInference(backend.NewExecEngine(config.Local.Binary), pool, &config.Local, logger),
	}
}

func provideHub(config *conf.Config, logger log.Logger) *websocket.Hub {
	return websocket.NewHub(logger, &websocket.HubConfig{
		MaxConnectionsPerUser: config.WebSocket.MaxConnectionsPerUser,
		MaxTotalConnections:   config.WebSocket.MaxTotalConnections,
	})
}
