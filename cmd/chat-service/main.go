package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-kratos/kratos/v2/log"

	"chatservice/internal/conf"
	"chatservice/internal/tokenizer"
)

var configPath = flag.String("conf", "", "config file path, eg: -conf ./configs/chat-service.yaml")

func main() {
	flag.Parse()

	config, err := conf.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config error: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(config.Log.Level)
	helper := log.NewHelper(log.With(logger, "module", "main"))

	app, err := initApp(config, logger)
	if err != nil {
		helper.Fatalf("init app error: %v", err)
	}
	defer app.Redis.Close()
	defer app.Pool.Close()

	// 本地模型家族的分词器初始化开销大，启动时在工作池上预热
	for _, name := range app.Registry.Names() {
		model, err := app.Registry.FindByName(name)
		if err != nil {
			continue
		}
		if lazy, ok := model.Tokenizer.(*tokenizer.Lazy); ok {
			if err := lazy.Preload(context.Background(), app.Pool.SubmitWait); err != nil {
				helper.Warnf("tokenizer preload error for %s: %v", name, err)
			}
		}
	}

	app.Hub.SetHandlers(app.Chat.OnMessage, app.Chat.OnDisconnect)
	hubCtx, stopHub := context.WithCancel(context.Background())
	go app.Hub.Run(hubCtx)

	go func() {
		if err := app.Server.Start(); err != nil {
			helper.Fatalf("http server error: %v", err)
		}
	}()
	helper.Infof("chat-service started, models: %v", app.Registry.Names())

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	helper.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := app.Server.Shutdown(shutdownCtx); err != nil {
		helper.Errorf("server shutdown error: %v", err)
	}
	stopHub()
	helper.Info("chat-service exited")
}

// newLogger 标准输出结构化日志，按配置级别过滤
func newLogger(level string) log.Logger {
	logger := log.With(log.NewStdLogger(os.Stdout),
		"ts", log.DefaultTimestamp,
		"caller", log.DefaultCaller,
		"service", "chat-service",
	)
	return log.NewFilter(logger, log.FilterLevel(log.ParseLevel(level)))
}
