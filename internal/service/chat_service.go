package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-kratos/kratos/v2/log"

	"chatservice/internal/biz"
	"chatservice/internal/data"
	"chatservice/internal/domain"
	"chatservice/internal/metrics"
	"chatservice/internal/stream"
	"chatservice/internal/websocket"
)

// Config 聊天服务配置
type Config struct {
	DefaultModel string
	ChunkSize    int
}

// session 一条连接的会话态。exchanging 保证同一会话同一时刻只有一轮
// 问答在进行，命令与问答抢同一把锁。genCancel 指向在途那轮生成的取消
// 函数，/stop 靠它打断当前流而不影响下一轮。
type session struct {
	conv       *domain.ConversationContext
	ctx        context.Context
	cancel     context.CancelFunc
	exchanging sync.Mutex

	genMu     sync.Mutex
	genCancel context.CancelFunc
}

// beginGeneration 为一轮生成派生可单独取消的 context
func (s *session) beginGeneration() context.Context {
	ctx, cancel := context.WithCancel(s.ctx)
	s.genMu.Lock()
	s.genCancel = cancel
	s.genMu.Unlock()
	return ctx
}

// endGeneration 释放本轮的取消函数
func (s *session) endGeneration() {
	s.genMu.Lock()
	if s.genCancel != nil {
		s.genCancel()
		s.genCancel = nil
	}
	s.genMu.Unlock()
}

// stopGeneration 打断在途生成，没有在途生成时返回 false
func (s *session) stopGeneration() bool {
	s.genMu.Lock()
	defer s.genMu.Unlock()
	if s.genCancel == nil {
		return false
	}
	s.genCancel()
	s.genCancel = nil
	return true
}

// ChatService 聊天业务入口。连接建立时加载会话上下文并下发历史快照，
// 之后每条上行消息走一轮完整的问答交换：记用户消息、流式生成、记助手
// 回复。终止性错误渲染成一条聊天消息送回客户端，而不是裸断开。
type ChatService struct {
	cache        *data.ContextCache
	manager      *biz.MessageManager
	orchestrator *biz.Orchestrator
	registry     *domain.ModelRegistry
	config       *Config
	logger       *log.Helper

	mu       sync.Mutex
	sessions map[string]*session
}

// NewChatService 创建聊天服务
func NewChatService(
	cache *data.ContextCache,
	manager *biz.MessageManager,
	orchestrator *biz.Orchestrator,
	registry *domain.ModelRegistry,
	config *Config,
	logger log.Logger,
) *ChatService {
	if config.ChunkSize <= 0 {
		config.ChunkSize = 2
	}
	return &ChatService{
		cache:        cache,
		manager:      manager,
		orchestrator: orchestrator,
		registry:     registry,
		config:       config,
		logger:       log.NewHelper(log.With(logger, "module", "chat-service")),
		sessions:     make(map[string]*session),
	}
}

// OnConnect 连接建立：读取（或默认构造）会话上下文并下发 init 快照
func (s *ChatService) OnConnect(ctx context.Context, client *websocket.Client) error {
	conv, err := s.cache.ReadContext(ctx, client.UserID, client.RoomID, s.config.DefaultModel)
	if err != nil {
		return fmt.Errorf("load conversation error: %w", err)
	}

	// 会话生命周期独立于握手请求：生成的取消由断连驱动
	sessionCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.sessions[client.ID] = &session{conv: conv, ctx: sessionCtx, cancel: cancel}
	s.mu.Unlock()

	return client.SendServerMessage(websocket.NewInitMessage(
		client.RoomID, conv.Model.Name, historySnapshot(conv)))
}

// OnDisconnect 连接关闭：取消在途生成并丢弃会话态
func (s *ChatService) OnDisconnect(client *websocket.Client) {
	s.mu.Lock()
	sess, ok := s.sessions[client.ID]
	delete(s.sessions, client.ID)
	s.mu.Unlock()
	if ok {
		sess.cancel()
	}
}

// OnMessage 处理一条上行消息：命令直接执行，普通文本进入问答交换
func (s *ChatService) OnMessage(client *websocket.Client, raw []byte) {
	msg, err := websocket.DecodeClientMessage(raw)
	if err != nil {
		s.logger.Warnf("malformed client message from %s: %v", client.ID, err)
		return
	}

	s.mu.Lock()
	sess, ok := s.sessions[client.ID]
	s.mu.Unlock()
	if !ok {
		s.logger.Warnf("message from unknown session %s", client.ID)
		return
	}

	text := strings.TrimSpace(msg.Msg)
	if text == "" {
		return
	}
	if strings.HasPrefix(text, "/") {
		// /stop 专门打断在途生成，不抢串行锁
		if text == "/stop" {
			if sess.stopGeneration() {
				s.sendNotice(client, "Generation stopped.")
			} else {
				s.sendNotice(client, "Nothing is being generated.")
			}
			return
		}
		// 命令会改写会话上下文，与问答抢同一把串行锁
		if !sess.exchanging.TryLock() {
			s.sendNotice(client, "A reply is still being generated, please wait.")
			return
		}
		defer sess.exchanging.Unlock()
		s.handleCommand(client, sess, text)
		return
	}

	// 单会话串行：上一轮没结束时拒绝新输入
	if !sess.exchanging.TryLock() {
		s.sendNotice(client, "A reply is still being generated, please wait.")
		return
	}
	go func() {
		defer sess.exchanging.Unlock()
		s.exchange(client, sess, text)
	}()
}

// exchange 执行一轮完整问答
func (s *ChatService) exchange(client *websocket.Client, sess *session, text string) {
	ctx := sess.beginGeneration()
	defer sess.endGeneration()
	conv := sess.conv
	// 生成被打断（断连或 /stop）后收尾写入仍要落库，否则双通道会失衡
	persistCtx := context.WithoutCancel(sess.ctx)

	if err := s.manager.Append(ctx, conv, text, domain.ChannelUser); err != nil {
		if errors.Is(err, domain.ErrTokenLimitExceeded) {
			s.sendNotice(client, "Message is too long for the current model.")
			return
		}
		s.failExchange(client, conv, "Failed to record your message.", err)
		return
	}

	relay := stream.NewRelay(s.config.ChunkSize, func(chunk *string, finish bool) error {
		if chunk != nil {
			metrics.StreamChunksSent.WithLabelValues(conv.Model.Name).Inc()
		}
		return client.SendServerMessage(websocket.NewStreamMessage(client.RoomID, chunk, finish))
	})

	reply, genErr := s.orchestrator.Generate(ctx, conv, relay)
	if genErr != nil && reply == "" {
		s.failExchange(client, conv, renderError(genErr), genErr)
		// 生成彻底失败时撤掉刚记下的用户消息，避免历史里出现无回应的一轮
		if _, err := s.manager.PopLast(persistCtx, conv, domain.ChannelUser); err != nil {
			s.logger.Errorf("rollback user message error: %v", err)
		}
		return
	}

	if err := s.manager.Append(persistCtx, conv, reply, domain.ChannelAssistant); err != nil {
		s.logger.Errorf("record assistant reply error: %v", err)
	}
	if genErr != nil {
		// 有部分回复：已送出的内容保留，错误作为后续聊天消息解释
		s.sendNotice(client, renderError(genErr))
	}
}

// handleCommand 执行聊天命令
func (s *ChatService) handleCommand(client *websocket.Client, sess *session, text string) {
	ctx := context.Background()
	fields := strings.Fields(text)

	switch fields[0] {
	case "/clear":
		for _, ch := range []domain.Channel{domain.ChannelUser, domain.ChannelAssistant} {
			if err := s.manager.Clear(ctx, sess.conv, ch); err != nil {
				s.failExchange(client, sess.conv, "Failed to clear history.", err)
				return
			}
		}
		s.sendNotice(client, "Chat history cleared.")

	case "/model":
		if len(fields) < 2 {
			s.sendNotice(client, "Usage: /model <name>. Available: "+strings.Join(s.registry.Names(), ", "))
			return
		}
		s.switchModel(ctx, client, sess, fields[1])

	case "/models":
		s.sendNotice(client, "Available models: "+strings.Join(s.registry.Names(), ", "))

	default:
		s.sendNotice(client, fmt.Sprintf("Unknown command %q.", fields[0]))
	}
}

// switchModel 切换会话模型并持久化，token 预算按新模型重新收敛
func (s *ChatService) switchModel(ctx context.Context, client *websocket.Client, sess *session, name string) {
	model, err := s.registry.FindByName(name)
	if err != nil {
		s.sendNotice(client, fmt.Sprintf("Unknown model %q. Available: %s",
			name, strings.Join(s.registry.Names(), ", ")))
		return
	}
	sess.conv.Model = model
	if evicted, err := sess.conv.EnforceBudget(); err != nil {
		s.failExchange(client, sess.conv, "Conversation history is inconsistent.", err)
		return
	} else if evicted > 0 {
		metrics.HistoryEvictions.Add(float64(evicted))
	}
	if err := s.cache.UpdateContext(ctx, sess.conv); err != nil {
		s.failExchange(client, sess.conv, "Failed to switch model.", err)
		return
	}
	s.sendNotice(client, "Model switched to "+name+".")
}

// sendNotice 给客户端发一条系统侧聊天消息
func (s *ChatService) sendNotice(client *websocket.Client, text string) {
	if err := client.SendServerMessage(websocket.NewTextMessage(client.RoomID, text, false)); err != nil {
		s.logger.Warnf("send notice to %s error: %v", client.ID, err)
	}
}

// failExchange 记日志并把失败解释成用户可见的聊天消息
func (s *ChatService) failExchange(client *websocket.Client, conv *domain.ConversationContext, notice string, err error) {
	s.logger.Errorf("exchange failed: user=%s room=%s model=%s err=%v",
		conv.Profile.UserID, conv.Profile.RoomID, conv.Model.Name, err)
	s.sendNotice(client, notice)
}

// renderError 把生成错误翻译成用户可读的说明
func renderError(err error) string {
	switch {
	case errors.Is(err, domain.ErrConnectionFailed):
		return "The model service is unreachable, please try again later."
	case errors.Is(err, domain.ErrContentFilter):
		return "The reply was stopped by the content filter."
	case errors.Is(err, domain.ErrTokenLimitExceeded):
		return "The conversation is out of token budget."
	case errors.Is(err, domain.ErrModelNotImplemented):
		return "This model has no usable inference backend."
	default:
		if _, ok := domain.IsInterrupted(err); ok {
			return "The reply was interrupted."
		}
		return "Generation failed, please try again."
	}
}

// historySnapshot 把用户与助手历史按轮次交错成 init 快照
func historySnapshot(conv *domain.ConversationContext) []websocket.HistoryItem {
	rounds := len(conv.UserHistory)
	if len(conv.AssistantHistory) > rounds {
		rounds = len(conv.AssistantHistory)
	}
	items := make([]websocket.HistoryItem, 0, len(conv.UserHistory)+len(conv.AssistantHistory))
	for i := 0; i < rounds; i++ {
		if i < len(conv.UserHistory) {
			items = append(items, websocket.HistoryItem{Content: conv.UserHistory[i].Content, IsUser: true})
		}
		if i < len(conv.AssistantHistory) {
			items = append(items, websocket.HistoryItem{Content: conv.AssistantHistory[i].Content})
		}
	}
	return items
}
