// Package stream 把两类生成产出（推式通道、阻塞拉取）统一成对客户端的
// 单一有序分块消息流。
package stream

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"chatservice/internal/domain"
)

// Stream 推式增量流。生产者约定：终止错误先写入 Errs（容量 1），再关闭
// Errs，最后关闭 Deltas。流结束以通道关闭表示，不依赖哨兵值，空字符串
// 增量是合法载荷。
type Stream struct {
	Deltas <-chan string
	Errs   <-chan error
}

// SendFunc 向客户端发送一段文本。msg 为 nil 表示占位消息（握手），
// finish 标记最终消息。
type SendFunc func(msg *string, finish bool) error

// Progress 单次生成的流转进度，仅存活于一次转发，不落盘
type Progress struct {
	Accumulated   string
	Buffer        string
	CorrelationID string
}

type relayState int

const (
	stateIdle relayState = iota
	stateStreaming
	stateFinished
)

// Relay 流转器。状态机：握手（空占位）→ 流转（每 chunkSize 个增量冲刷
// 一次缓冲）→ 结束（finish=true 的最终消息，错误路径同样触发）。
type Relay struct {
	chunkSize int
	send      SendFunc

	progress  Progress
	iteration int
	state     relayState
}

// NewRelay 创建流转器
func NewRelay(chunkSize int, send SendFunc) *Relay {
	if chunkSize <= 0 {
		chunkSize = 2
	}
	return &Relay{
		chunkSize: chunkSize,
		send:      send,
		progress:  Progress{CorrelationID: uuid.NewString()},
	}
}

// Partial 当前已累计的全部文本（含未冲刷缓冲）
func (r *Relay) Partial() string {
	return r.progress.Accumulated + r.progress.Buffer
}

// CorrelationID 本次流转的关联 id
func (r *Relay) CorrelationID() string {
	return r.progress.CorrelationID
}

// Handshake 发送空占位消息，进入流转状态
func (r *Relay) Handshake() error {
	if r.state != stateIdle {
		return fmt.Errorf("handshake in state %d", r.state)
	}
	if err := r.send(nil, false); err != nil {
		return fmt.Errorf("handshake send error: %w", err)
	}
	r.state = stateStreaming
	return nil
}

// Consume 消费一条流直至其关闭。返回本条流贡献的文本。
// ctx 取消会以 StreamInterruptedError 返回，携带已累计的部分文本。
// 终止错误（如长度截断）原样返回，已消费的增量保留在进度中。
func (r *Relay) Consume(ctx context.Context, s Stream) (string, error) {
	if r.state != stateStreaming {
		return "", fmt.Errorf("consume in state %d", r.state)
	}

	consumed := ""
	for {
		select {
		case <-ctx.Done():
			return consumed, &domain.StreamInterruptedError{Partial: r.Partial(), Cause: ctx.Err()}

		case delta, ok := <-s.Deltas:
			if !ok {
				// 流结束后才读取终止错误，保证增量不丢
				if err := <-s.Errs; err != nil {
					return consumed, err
				}
				return consumed, nil
			}
			consumed += delta
			r.progress.Buffer += delta
			r.iteration++
			if r.iteration%r.chunkSize == 0 {
				if err := r.flush(false); err != nil {
					return consumed, err
				}
			}
		}
	}
}

// Finish 冲刷剩余缓冲并发送 finish=true 的最终消息。任何路径（包括错误）
// 都必须走到这里；重复调用无副作用。
func (r *Relay) Finish() error {
	if r.state == stateFinished {
		return nil
	}
	r.state = stateFinished
	return r.flush(true)
}

func (r *Relay) flush(finish bool) error {
	buf := r.progress.Buffer
	r.progress.Accumulated += buf
	r.progress.Buffer = ""
	if err := r.send(&buf, finish); err != nil {
		return fmt.Errorf("chunk send error: %w", err)
	}
	return nil
}

// Run 单条流的完整流转：握手、消费、结束。结束消息在错误路径同样发出。
// 返回累计文本。
func (r *Relay) Run(ctx context.Context, s Stream) (string, error) {
	if err := r.Handshake(); err != nil {
		return "", err
	}
	_, err := r.Consume(ctx, s)
	if finishErr := r.Finish(); finishErr != nil && err == nil {
		err = finishErr
	}
	return r.progress.Accumulated, err
}
