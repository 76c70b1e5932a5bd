package websocket

import "errors"

var (
	// ErrSendBufferFull 客户端发送缓冲已满
	ErrSendBufferFull = errors.New("client send buffer is full")

	// ErrClientClosed 客户端连接已关闭
	ErrClientClosed = errors.New("client connection closed")
)
