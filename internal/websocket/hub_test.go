package websocket

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(id, userID string, hub *Hub) *Client {
	return NewClient(id, userID, "room-1", nil, hub, log.DefaultLogger)
}

func runHub(t *testing.T, hub *Hub) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	return cancel
}

func TestHubRegisterUnregister(t *testing.T) {
	hub := NewHub(log.DefaultLogger, nil)
	var disconnected []string
	hub.SetHandlers(nil, func(c *Client) { disconnected = append(disconnected, c.ID) })
	cancel := runHub(t, hub)
	defer cancel()

	client := newTestClient("c1", "u1", hub)
	hub.Register <- client
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	hub.Unregister <- client
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"c1"}, disconnected)

	// 注销后发送直接失败
	assert.ErrorIs(t, client.SendRaw([]byte("x")), ErrClientClosed)
}

func TestHubUnregisterUnknownClient(t *testing.T) {
	hub := NewHub(log.DefaultLogger, nil)
	cancel := runHub(t, hub)
	defer cancel()

	hub.Unregister <- newTestClient("ghost", "u1", hub)
	// 不应崩溃，也不影响计数
	assert.Eventually(t, func() bool { return hub.ClientCount() == 0 }, time.Second, 10*time.Millisecond)
}

func TestHubPerUserConnectionLimit(t *testing.T) {
	hub := NewHub(log.DefaultLogger, &HubConfig{MaxConnectionsPerUser: 2, MaxTotalConnections: 100})
	cancel := runHub(t, hub)
	defer cancel()

	for i := 0; i < 3; i++ {
		hub.Register <- newTestClient(fmt.Sprintf("c%d", i), "u1", hub)
	}
	// 第三条连接挤掉最旧的一条，总数保持在上限内
	require.Eventually(t, func() bool { return hub.ClientCount() == 2 }, time.Second, 10*time.Millisecond)
}

func TestHubTotalConnectionLimitRejectionNotifiesDisconnect(t *testing.T) {
	hub := NewHub(log.DefaultLogger, &HubConfig{MaxConnectionsPerUser: 10, MaxTotalConnections: 1})
	var mu sync.Mutex
	var disconnected []string
	hub.SetHandlers(nil, func(c *Client) {
		mu.Lock()
		disconnected = append(disconnected, c.ID)
		mu.Unlock()
	})
	cancel := runHub(t, hub)
	defer cancel()

	hub.Register <- newTestClient("c1", "u1", hub)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	// 超过总连接上限的注册被拒，但断连回调必须触发，
	// 否则服务层提前建好的会话态无人回收
	rejected := newTestClient("c2", "u2", hub)
	hub.Register <- rejected
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(disconnected) == 1
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.Equal(t, []string{"c2"}, disconnected)
	mu.Unlock()
	assert.Equal(t, 1, hub.ClientCount())
	assert.ErrorIs(t, rejected.SendRaw([]byte("x")), ErrClientClosed)
}

func TestServerMessageWireShape(t *testing.T) {
	text := "hi"
	raw, err := NewStreamMessage("room-1", &text, false).Encode()
	require.NoError(t, err)
	assert.JSONEq(t, `{"msg":"hi","finish":false,"chat_room_id":"room-1","is_user":false,"init":false}`, string(raw))

	// 握手帧 msg 必须显式为 null
	raw, err = NewStreamMessage("room-1", nil, false).Encode()
	require.NoError(t, err)
	assert.JSONEq(t, `{"msg":null,"finish":false,"chat_room_id":"room-1","is_user":false,"init":false}`, string(raw))
}

func TestDecodeClientMessage(t *testing.T) {
	msg, err := DecodeClientMessage([]byte(`{"msg":"hello","chat_room_id":"r9"}`))
	require.NoError(t, err)
	assert.Equal(t, "hello", msg.Msg)
	assert.Equal(t, "r9", msg.ChatRoomID)

	_, err = DecodeClientMessage([]byte(`{bad`))
	assert.Error(t, err)
}
