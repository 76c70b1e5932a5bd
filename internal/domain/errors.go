package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrTokenLimitExceeded 单条消息超过单次请求 token 上限，写入前拒绝
	ErrTokenLimitExceeded = errors.New("message exceeds token limit")

	// ErrLengthLimit 生成因 token 上限被截断（非自然停止），由编排器自动续写
	ErrLengthLimit = errors.New("generation truncated by length limit")

	// ErrContentFilter 内容安全过滤，终止本次生成
	ErrContentFilter = errors.New("generation blocked by content filter")

	// ErrConnectionFailed 后端连接失败，终止本次生成
	ErrConnectionFailed = errors.New("backend connection failed")

	// ErrModelNotImplemented 未知后端类型，配置错误
	ErrModelNotImplemented = errors.New("model backend not implemented")

	// ErrModelNotFound 模型未注册
	ErrModelNotFound = errors.New("model not found")

	// ErrHistoryDesync 用户/助手通道长度不一致，成对淘汰无法继续
	ErrHistoryDesync = errors.New("user/assistant histories out of sync")

	// ErrEmptyChannel 通道内没有消息
	ErrEmptyChannel = errors.New("message channel is empty")

	// ErrContextNotFound 外部存储中不存在该会话上下文
	ErrContextNotFound = errors.New("conversation context not found")
)

// StreamInterruptedError 客户端取消导致流中断。已累计的部分文本通过
// Partial 保留给调用方，而不是丢弃。
type StreamInterruptedError struct {
	Partial string
	Cause   error
}

func (e *StreamInterruptedError) Error() string {
	return fmt.Sprintf("stream interrupted after %d bytes: %v", len(e.Partial), e.Cause)
}

func (e *StreamInterruptedError) Unwrap() error {
	return e.Cause
}

// IsInterrupted 判断错误是否为流中断，并取出部分文本
func IsInterrupted(err error) (*StreamInterruptedError, bool) {
	var si *StreamInterruptedError
	if errors.As(err, &si) {
		return si, true
	}
	return nil, false
}
