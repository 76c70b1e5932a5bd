//go:build wireinject
// +build wireinject

package main

import (
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"

	"chatservice/internal/biz"
	"chatservice/internal/conf"
	"chatservice/internal/data"
	"chatservice/internal/server"
	"chatservice/internal/service"
)

// initApp 初始化应用
func initApp(config *conf.Config, logger log.Logger) (*AppComponents, error) {
	panic(wire.Build(
		// 配置拆分
		provideRedisConfig,
		provideServerConfig,
		provideChatConfig,
		provideRegistry,
		providePool,
		provideBackends,
		provideHub,

		// Data 层
		data.ProviderSet,
		wire.Bind(new(data.KV), new(*data.RedisKV)),

		// Biz 层
		biz.ProviderSet,

		// Service 层
		service.NewChatService,

		// Server 层
		server.NewHTTPServer,

		// 组装 AppComponents
		wire.Struct(new(AppComponents), "*"),
	))
}
