package backend

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/sony/gobreaker"

	"chatservice/internal/domain"
	"chatservice/internal/stream"
)

// RemoteConfig 远程后端配置
type RemoteConfig struct {
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	StreamBuffer   int           `mapstructure:"stream_buffer"`
}

// RemoteAPI OpenAI 风格 chat-completions 流式后端。传输层故障经熔断器
// 统计，熔断开启与连接失败都归一为 ErrConnectionFailed。
type RemoteAPI struct {
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	config     *RemoteConfig
	logger     *log.Helper
}

// NewRemoteAPI 创建远程后端
func NewRemoteAPI(config *RemoteConfig, logger log.Logger) *RemoteAPI {
	if config == nil {
		config = &RemoteConfig{}
	}
	if config.ConnectTimeout == 0 {
		config.ConnectTimeout = 30 * time.Second
	}
	if config.StreamBuffer <= 0 {
		config.StreamBuffer = 100
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "remote-model-api",
		MaxRequests: 3,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 3 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.5
		},
	})

	return &RemoteAPI{
		// 整体超时保持为零：响应体是长流，由调用方 ctx 控制生命周期；
		// 建连与响应头等待单独限时
		httpClient: &http.Client{
			Transport: &http.Transport{
				ResponseHeaderTimeout: config.ConnectTimeout,
			},
		},
		breaker: cb,
		config:  config,
		logger:  log.NewHelper(log.With(logger, "module", "remote-backend")),
	}
}

func (b *RemoteAPI) Kind() domain.BackendKind {
	return domain.BackendRemoteAPI
}

type chatCompletionRequest struct {
	Model            string        `json:"model"`
	Messages         []ChatMessage `json:"messages"`
	MaxTokens        int           `json:"max_tokens"`
	Temperature      float32       `json:"temperature"`
	TopP             float32       `json:"top_p"`
	PresencePenalty  float32       `json:"presence_penalty"`
	FrequencyPenalty float32       `json:"frequency_penalty"`
	Stream           bool          `json:"stream"`
}

type chatCompletionChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// Stream 发起流式生成。连接建立经熔断器执行；响应体在独立 goroutine 中
// 按 SSE 逐行解析并推入流。
func (b *RemoteAPI) Stream(ctx context.Context, req *Request) (stream.Stream, error) {
	payload := chatCompletionRequest{
		Model:            req.Model.Name,
		Messages:         req.Messages,
		MaxTokens:        req.MaxTokens,
		Temperature:      req.Sampling.Temperature,
		TopP:             req.Sampling.TopP,
		PresencePenalty:  req.Sampling.PresencePenalty,
		FrequencyPenalty: req.Sampling.FrequencyPenalty,
		Stream:           true,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return stream.Stream{}, fmt.Errorf("request marshal error: %w", err)
	}

	resp, err := b.open(ctx, req.Model, body)
	if err != nil {
		return stream.Stream{}, err
	}

	deltas := make(chan string, b.config.StreamBuffer)
	errs := make(chan error, 1)
	go b.consume(ctx, resp, deltas, errs)
	return stream.Stream{Deltas: deltas, Errs: errs}, nil
}

func (b *RemoteAPI) open(ctx context.Context, model *domain.ModelDescriptor, body []byte) (*http.Response, error) {
	result, err := b.breaker.Execute(func() (interface{}, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, model.Endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Accept", "text/event-stream")
		if model.APIKey != "" {
			httpReq.Header.Set("Authorization", "Bearer "+model.APIKey)
		}

		resp, err := b.httpClient.Do(httpReq)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
		}
		return resp, nil
	})
	if err != nil {
		b.logger.Warnf("remote backend unavailable: %v", err)
		return nil, fmt.Errorf("%w: %v", domain.ErrConnectionFailed, err)
	}
	return result.(*http.Response), nil
}

// consume 逐行读取 SSE 数据帧，终止错误写入 errs 后关闭两个通道
func (b *RemoteAPI) consume(ctx context.Context, resp *http.Response, deltas chan<- string, errs chan<- error) {
	defer close(deltas)
	defer close(errs)
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			return
		}

		var chunk chatCompletionChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			b.logger.Warnf("malformed stream chunk skipped: %v", err)
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]

		if choice.Delta.Content != "" {
			select {
			case deltas <- choice.Delta.Content:
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			}
		}

		switch choice.FinishReason {
		case "":
			// 未结束
		case "stop":
			return
		case "length":
			errs <- domain.ErrLengthLimit
			return
		case "content_filter":
			errs <- domain.ErrContentFilter
			return
		default:
			errs <- fmt.Errorf("unexpected finish reason %q", choice.FinishReason)
			return
		}
	}
	if err := scanner.Err(); err != nil {
		errs <- fmt.Errorf("%w: %v", domain.ErrConnectionFailed, err)
	}
}
