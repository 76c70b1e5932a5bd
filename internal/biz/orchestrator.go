package biz

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-kratos/kratos/v2/log"

	"chatservice/internal/backend"
	"chatservice/internal/domain"
	"chatservice/internal/metrics"
	"chatservice/internal/stream"
)

// maxContinuations 单次生成允许的最大续写次数
const maxContinuations = 5

// Orchestrator 生成编排器。选择模型对应的推理后端，发起流式生成并通过
// Relay 转发给调用方。后端因长度上限提前截断时自动续写：把已生成的
// 片段折回请求上下文再次发起，客户端侧始终只看到一条连续的流。
type Orchestrator struct {
	backends map[domain.BackendKind]backend.Backend
	logger   *log.Helper
}

// NewOrchestrator 创建生成编排器
func NewOrchestrator(backends []backend.Backend, logger log.Logger) *Orchestrator {
	byKind := make(map[domain.BackendKind]backend.Backend, len(backends))
	for _, b := range backends {
		byKind[b.Kind()] = b
	}
	return &Orchestrator{
		backends: byKind,
		logger:   log.NewHelper(log.With(logger, "module", "orchestrator")),
	}
}

// Generate 为会话生成一条完整回复，经 relay 流式送出。返回拼接后的
// 全量文本；出错时返回已生成的部分与错误。握手与收尾各只发生一次，
// 无论中间经历多少次续写或失败。
func (o *Orchestrator) Generate(ctx context.Context, conv *domain.ConversationContext, relay *stream.Relay) (string, error) {
	b, ok := o.backends[conv.Model.Backend]
	if !ok {
		return "", fmt.Errorf("%w: backend %q for model %q",
			domain.ErrModelNotImplemented, conv.Model.Backend, conv.Model.Name)
	}

	modelName := conv.Model.Name
	start := time.Now()
	metrics.StreamsActive.Inc()
	defer func() {
		metrics.StreamsActive.Dec()
		metrics.GenerationDuration.WithLabelValues(modelName, string(conv.Model.Backend)).
			Observe(time.Since(start).Seconds())
	}()

	if err := relay.Handshake(); err != nil {
		return "", err
	}
	defer relay.Finish()

	partial := ""
	for attempt := 0; ; attempt++ {
		maxTokens := conv.TokensPerRequest()
		if maxTokens <= 0 {
			metrics.GenerationErrors.WithLabelValues("token_budget").Inc()
			return partial, fmt.Errorf("%w: no token budget left for model %q",
				domain.ErrTokenLimitExceeded, modelName)
		}

		req := &backend.Request{
			Model:     conv.Model,
			Messages:  BuildChatMessages(conv, partial),
			Prompt:    BuildPrompt(conv, partial),
			MaxTokens: maxTokens,
			Sampling:  conv.Profile.Sampling,
		}
		s, err := b.Stream(ctx, req)
		if err != nil {
			metrics.GenerationErrors.WithLabelValues(errorReason(err)).Inc()
			return partial, err
		}

		consumed, err := relay.Consume(ctx, s)
		partial += consumed
		if err == nil {
			return partial, nil
		}
		if errors.Is(err, domain.ErrLengthLimit) {
			if attempt < maxContinuations {
				metrics.GenerationContinuations.WithLabelValues(modelName).Inc()
				o.logger.Infof("length limit hit, continuing generation: model=%s attempt=%d partial=%d chars",
					modelName, attempt+1, len(partial))
				continue
			}
			// 续写次数到顶，按正常结束处理已有文本
			o.logger.Warnf("continuation cap reached: model=%s partial=%d chars", modelName, len(partial))
			return partial, nil
		}
		if interrupted, ok := domain.IsInterrupted(err); ok {
			metrics.StreamInterruptions.Inc()
			o.logger.Warnf("stream interrupted: model=%s cause=%v", modelName, interrupted.Cause)
			return partial, err
		}
		metrics.GenerationErrors.WithLabelValues(errorReason(err)).Inc()
		return partial, err
	}
}

// errorReason 把生成错误归并为指标标签
func errorReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrConnectionFailed):
		return "connection_failed"
	case errors.Is(err, domain.ErrContentFilter):
		return "content_filter"
	case errors.Is(err, domain.ErrTokenLimitExceeded):
		return "token_budget"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "backend_error"
	}
}
