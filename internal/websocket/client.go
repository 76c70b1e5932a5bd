package websocket

import (
	"sync"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/gorilla/websocket"
)

const (
	// writeWait 写入超时
	writeWait = 10 * time.Second

	// pongWait Pong超时
	pongWait = 60 * time.Second

	// pingPeriod Ping周期（必须小于pongWait）
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize 最大消息大小
	maxMessageSize = 64 * 1024 // 64KB
)

// Client 一条 WebSocket 会话连接
type Client struct {
	ID     string
	UserID string
	RoomID string
	Conn   *websocket.Conn
	Send   chan []byte
	Hub    *Hub
	log    *log.Helper

	mu     sync.Mutex
	closed bool
}

// NewClient 创建会话连接
func NewClient(id, userID, roomID string, conn *websocket.Conn, hub *Hub, logger log.Logger) *Client {
	return &Client{
		ID:     id,
		UserID: userID,
		RoomID: roomID,
		Conn:   conn,
		Send:   make(chan []byte, 256),
		Hub:    hub,
		log:    log.NewHelper(log.With(logger, "module", "ws-client", "client_id", id)),
	}
}

// ReadPump 读取上行消息并交给 Hub 的处理器。连接断开时注销自身。
func (c *Client) ReadPump() {
	defer func() {
		c.Hub.Unregister <- c
		c.Conn.Close()
	}()

	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	c.Conn.SetReadLimit(maxMessageSize)

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure) {
				c.log.Errorf("WebSocket error: %v", err)
			}
			break
		}
		c.Hub.handleInbound(c, message)
	}
}

// WritePump 把发送队列刷到连接上，按周期发 Ping 保活
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub关闭了通道
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// SendRaw 把已编码的消息投入发送队列
func (c *Client) SendRaw(message []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClientClosed
	}
	select {
	case c.Send <- message:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// SendServerMessage 编码并发送一条下行消息
func (c *Client) SendServerMessage(msg *ServerMessage) error {
	raw, err := msg.Encode()
	if err != nil {
		return err
	}
	return c.SendRaw(raw)
}

// markClosed 关闭发送队列，之后的发送返回 ErrClientClosed
func (c *Client) markClosed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.Send)
}
