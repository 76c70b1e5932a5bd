package websocket

import (
	"context"
	"sync"

	"github.com/go-kratos/kratos/v2/log"

	"chatservice/internal/metrics"
)

// InboundHandler 上行消息处理器，由服务层注入
type InboundHandler func(client *Client, raw []byte)

// DisconnectHandler 连接注销回调，服务层用来清理会话状态
type DisconnectHandler func(client *Client)

// HubConfig Hub 配置
type HubConfig struct {
	MaxConnectionsPerUser int
	MaxTotalConnections   int
}

// DefaultHubConfig 默认连接限制
func DefaultHubConfig() *HubConfig {
	return &HubConfig{
		MaxConnectionsPerUser: 3,
		MaxTotalConnections:   10000,
	}
}

// Hub WebSocket 连接管理中心。注册、注销、按用户索引，超限时关最旧的
// 连接。上行消息转交注入的处理器。
type Hub struct {
	Register   chan *Client
	Unregister chan *Client

	clients     map[string]*Client
	userClients map[string]map[string]*Client

	onInbound    InboundHandler
	onDisconnect DisconnectHandler

	config *HubConfig
	log    *log.Helper
	mu     sync.RWMutex
}

// NewHub 创建 Hub
func NewHub(logger log.Logger, config *HubConfig) *Hub {
	if config == nil {
		config = DefaultHubConfig()
	}
	return &Hub{
		Register:    make(chan *Client),
		Unregister:  make(chan *Client),
		clients:     make(map[string]*Client),
		userClients: make(map[string]map[string]*Client),
		config:      config,
		log:         log.NewHelper(log.With(logger, "module", "ws-hub")),
	}
}

// SetHandlers 注入服务层回调，必须在 Run 之前调用
func (h *Hub) SetHandlers(inbound InboundHandler, disconnect DisconnectHandler) {
	h.onInbound = inbound
	h.onDisconnect = disconnect
}

// Run 运行注册循环直到 ctx 取消
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.log.Info("hub shutting down")
			h.closeAll()
			return
		case client := <-h.Register:
			h.registerClient(client)
		case client := <-h.Unregister:
			h.unregisterClient(client)
		}
	}
}

// ClientCount 当前连接数
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()

	if len(h.clients) >= h.config.MaxTotalConnections {
		h.mu.Unlock()
		h.log.Warnf("rejected connection: total limit %d reached", h.config.MaxTotalConnections)
		client.markClosed()
		// 被拒的连接从未入册，Unregister 会把它当陌生人跳过，
		// 服务层的会话态要在这里回收
		if h.onDisconnect != nil {
			h.onDisconnect(client)
		}
		return
	}
	if perUser, ok := h.userClients[client.UserID]; ok && len(perUser) >= h.config.MaxConnectionsPerUser {
		oldest := h.oldestLocked(client.UserID)
		h.removeLocked(oldest)
		h.mu.Unlock()
		h.log.Warnf("user %s over connection limit, closing oldest client %s", client.UserID, oldest.ID)
		metrics.WebSocketConnectionsActive.Dec()
		oldest.markClosed()
		if h.onDisconnect != nil {
			h.onDisconnect(oldest)
		}
		h.mu.Lock()
	}

	h.clients[client.ID] = client
	if h.userClients[client.UserID] == nil {
		h.userClients[client.UserID] = make(map[string]*Client)
	}
	h.userClients[client.UserID][client.ID] = client
	h.mu.Unlock()

	metrics.WebSocketConnectionsActive.Inc()
	h.log.Infof("client registered: user=%s room=%s", client.UserID, client.RoomID)
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	_, known := h.clients[client.ID]
	if known {
		h.removeLocked(client)
	}
	h.mu.Unlock()
	if !known {
		return
	}

	metrics.WebSocketConnectionsActive.Dec()
	client.markClosed()
	if h.onDisconnect != nil {
		h.onDisconnect(client)
	}
	h.log.Infof("client unregistered: user=%s room=%s", client.UserID, client.RoomID)
}

// removeLocked 从索引里摘除客户端，调用方持有写锁
func (h *Hub) removeLocked(client *Client) {
	delete(h.clients, client.ID)
	if perUser, ok := h.userClients[client.UserID]; ok {
		delete(perUser, client.ID)
		if len(perUser) == 0 {
			delete(h.userClients, client.UserID)
		}
	}
}

// oldestLocked 找用户任意一条现存连接作为淘汰对象，调用方持有写锁
func (h *Hub) oldestLocked(userID string) *Client {
	for _, c := range h.userClients[userID] {
		return c
	}
	return nil
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[string]*Client)
	h.userClients = make(map[string]map[string]*Client)
	h.mu.Unlock()

	for _, c := range clients {
		metrics.WebSocketConnectionsActive.Dec()
		c.markClosed()
	}
}

func (h *Hub) handleInbound(client *Client, raw []byte) {
	if h.onInbound == nil {
		return
	}
	h.onInbound(client, raw)
}
