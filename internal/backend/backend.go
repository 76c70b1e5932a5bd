// Package backend 封装两类模型后端：远程流式 API 与本地推理。
// 编排器通过统一的 Backend 接口多态调用，不做类型分支。
package backend

import (
	"context"

	"chatservice/internal/domain"
	"chatservice/internal/stream"
)

// ChatMessage 发往后端的一条对话消息
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request 一次生成调用
type Request struct {
	Model *domain.ModelDescriptor

	// Messages 远程后端使用的结构化历史
	Messages []ChatMessage

	// Prompt 本地后端使用的扁平提示串
	Prompt string

	MaxTokens int
	Sampling  domain.SamplingParams
}

// Backend 模型后端契约：发起一次流式生成。
// 终止条件经流错误通道传出：ErrLengthLimit / ErrContentFilter / ErrConnectionFailed。
type Backend interface {
	Kind() domain.BackendKind
	Stream(ctx context.Context, req *Request) (stream.Stream, error)
}
