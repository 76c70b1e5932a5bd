package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/go-kratos/kratos/v2/log"

	"chatservice/internal/domain"
	"chatservice/internal/stream"
	"chatservice/internal/worker"
)

// GenerationParams 本地推理参数
type GenerationParams struct {
	MaxTokens     int
	Temperature   float32
	TopP          float32
	RepeatPenalty float32
	Stop          []string
}

// TokenSource 阻塞式增量来源。Next 自然结束返回 io.EOF。
type TokenSource interface {
	Next() (string, error)
	Close() error
}

// Engine 本地推理引擎的绑定边界（如 llama.cpp 绑定）。Open 载入提示串并
// 返回阻塞拉取器；调用方负责在独立工作线程上驱动它。
type Engine interface {
	Open(modelPath, prompt string, params GenerationParams) (TokenSource, error)
}

// LocalConfig 本地后端配置
type LocalConfig struct {
	HandoffBuffer int    `mapstructure:"handoff_buffer"`
	Binary        string `mapstructure:"binary"`
}

// LocalInference 本地推理后端。阻塞的拉取循环在共享工作池上运行，经有界
// 交接队列转成推式流；工作池满时请求排队（背压，不拒绝）。
type LocalInference struct {
	engine Engine
	pool   *worker.Pool
	config *LocalConfig
	logger *log.Helper
}

// NewLocalInference 创建本地后端
func NewLocalInference(engine Engine, pool *worker.Pool, config *LocalConfig, logger log.Logger) *LocalInference {
	if config == nil {
		config = &LocalConfig{}
	}
	if config.HandoffBuffer <= 0 {
		config.HandoffBuffer = 64
	}
	return &LocalInference{
		engine: engine,
		pool:   pool,
		config: config,
		logger: log.NewHelper(log.With(logger, "module", "local-backend")),
	}
}

func (b *LocalInference) Kind() domain.BackendKind {
	return domain.BackendLocal
}

// Stream 在工作池上驱动引擎，返回推式流。完成标志保证引擎异常时转发侧
// 不会悬挂：源关闭先于错误传播。
func (b *LocalInference) Stream(ctx context.Context, req *Request) (stream.Stream, error) {
	src, err := b.engine.Open(req.Model.ModelPath, req.Prompt, GenerationParams{
		MaxTokens:   req.MaxTokens,
		Temperature: req.Sampling.Temperature,
		TopP:        req.Sampling.TopP,
	})
	if err != nil {
		return stream.Stream{}, fmt.Errorf("engine open error: %w", err)
	}

	// done 是完成标志：无论自然结束、引擎异常还是客户端取消，都恰好
	// 关闭一次源，转发侧不会悬挂在已死的引擎上
	var done atomic.Bool
	closeSrc := func() {
		if done.CompareAndSwap(false, true) {
			if err := src.Close(); err != nil {
				b.logger.Warnf("engine close error: %v", err)
			}
		}
	}
	go func() {
		<-ctx.Done()
		closeSrc()
	}()

	next := func() (string, error) {
		if done.Load() {
			return "", io.EOF
		}
		delta, err := src.Next()
		if err != nil {
			closeSrc()
			if errors.Is(err, io.EOF) {
				return "", io.EOF
			}
			b.logger.Errorf("local inference error: %v", err)
			return "", err
		}
		return delta, nil
	}
	return stream.FromPull(ctx, b.pool, next, b.config.HandoffBuffer)
}
