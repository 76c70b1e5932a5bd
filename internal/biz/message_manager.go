package biz

import (
	"context"
	"fmt"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"

	"chatservice/internal/data"
	"chatservice/internal/domain"
	"chatservice/internal/metrics"
)

// ProviderSet 业务层提供者集合
var ProviderSet = wire.NewSet(
	NewMessageManager,
	NewOrchestrator,
)

// tokenOverhead 每条消息的协议封装 token 开销（角色标记、分隔符），
// 纯文本分词不包含这部分
const tokenOverhead = 8

// MessageManager 消息历史的唯一写入方。每次变更都维护 token 计数、执行
// 预算淘汰，然后写回外部存储。内存态先行、存储随后：两步之间崩溃会让
// 存储落后，但会话存续期内内存是权威。
type MessageManager struct {
	cache  *data.ContextCache
	logger *log.Helper
}

// NewMessageManager 创建消息管理器
func NewMessageManager(cache *data.ContextCache, logger log.Logger) *MessageManager {
	return &MessageManager{
		cache:  cache,
		logger: log.NewHelper(log.With(logger, "module", "message-manager")),
	}
}

// Append 追加一条消息。单条消息超过单次请求上限时在任何变更前拒绝。
func (m *MessageManager) Append(ctx context.Context, conv *domain.ConversationContext, content string, ch domain.Channel) error {
	if !ch.Valid() {
		return fmt.Errorf("invalid channel %q", ch)
	}
	tokens := conv.Tokenize(content) + tokenOverhead
	if tokens > conv.Model.MaxTokensPerRequest {
		return fmt.Errorf("%w: message is %d tokens, %d allowed",
			domain.ErrTokenLimitExceeded, tokens, conv.Model.MaxTokensPerRequest)
	}

	rec := domain.MessageRecord{
		Role:       conv.RoleLabel(ch),
		Content:    content,
		TokenCount: tokens,
		IsUser:     ch == domain.ChannelUser,
	}
	switch ch {
	case domain.ChannelUser:
		conv.UserHistory = append(conv.UserHistory, rec)
		conv.UserTokens += tokens
	case domain.ChannelAssistant:
		conv.AssistantHistory = append(conv.AssistantHistory, rec)
		conv.AssistantTokens += tokens
	case domain.ChannelSystem:
		conv.SystemHistory = append(conv.SystemHistory, rec)
		conv.SystemTokens += tokens
	}

	evicted, evictErr := conv.EnforceBudget()

	userID, roomID := conv.Profile.UserID, conv.Profile.RoomID
	if err := m.cache.AppendMessage(ctx, userID, roomID, ch, rec); err != nil {
		return err
	}
	if evicted > 0 {
		metrics.HistoryEvictions.Add(float64(evicted))
		m.logger.Infof("evicted %d message pairs for user=%s room=%s", evicted, userID, roomID)
		for _, evictCh := range []domain.Channel{domain.ChannelUser, domain.ChannelAssistant} {
			if err := m.cache.PopOldest(ctx, userID, roomID, evictCh, evicted); err != nil {
				return err
			}
		}
	}
	return evictErr
}

// PopLast 移除并返回通道里最新的一条消息
func (m *MessageManager) PopLast(ctx context.Context, conv *domain.ConversationContext, ch domain.Channel) (domain.MessageRecord, error) {
	history := conv.History(ch)
	if len(history) == 0 {
		return domain.MessageRecord{}, domain.ErrEmptyChannel
	}
	rec := history[len(history)-1]

	switch ch {
	case domain.ChannelUser:
		conv.UserHistory = conv.UserHistory[:len(conv.UserHistory)-1]
		conv.UserTokens -= rec.TokenCount
	case domain.ChannelAssistant:
		conv.AssistantHistory = conv.AssistantHistory[:len(conv.AssistantHistory)-1]
		conv.AssistantTokens -= rec.TokenCount
	case domain.ChannelSystem:
		conv.SystemHistory = conv.SystemHistory[:len(conv.SystemHistory)-1]
		conv.SystemTokens -= rec.TokenCount
	}

	if err := m.cache.PopNewest(ctx, conv.Profile.UserID, conv.Profile.RoomID, ch); err != nil {
		return rec, err
	}
	return rec, nil
}

// Replace 原地替换通道里第 index 条消息的内容并重算 token
func (m *MessageManager) Replace(ctx context.Context, conv *domain.ConversationContext, ch domain.Channel, index int, newContent string) error {
	history := conv.History(ch)
	if index < 0 || index >= len(history) {
		return fmt.Errorf("index %d out of range for %s history of %d", index, ch, len(history))
	}

	newTokens := conv.Tokenize(newContent) + tokenOverhead
	oldTokens := history[index].TokenCount
	history[index].Content = newContent
	history[index].TokenCount = newTokens

	switch ch {
	case domain.ChannelUser:
		conv.UserTokens += newTokens - oldTokens
	case domain.ChannelAssistant:
		conv.AssistantTokens += newTokens - oldTokens
	case domain.ChannelSystem:
		conv.SystemTokens += newTokens - oldTokens
	}

	evicted, evictErr := conv.EnforceBudget()

	userID, roomID := conv.Profile.UserID, conv.Profile.RoomID
	// 先按淘汰前下标覆写，再持久化淘汰，下标语义与存储一致
	if err := m.cache.SetMessage(ctx, userID, roomID, ch, index, history[index]); err != nil {
		return err
	}
	if evicted > 0 {
		metrics.HistoryEvictions.Add(float64(evicted))
		for _, evictCh := range []domain.Channel{domain.ChannelUser, domain.ChannelAssistant} {
			if err := m.cache.PopOldest(ctx, userID, roomID, evictCh, evicted); err != nil {
				return err
			}
		}
	}
	return evictErr
}

// Clear 清空一个通道的历史与计数
func (m *MessageManager) Clear(ctx context.Context, conv *domain.ConversationContext, ch domain.Channel) error {
	switch ch {
	case domain.ChannelUser:
		conv.UserHistory = nil
		conv.UserTokens = 0
	case domain.ChannelAssistant:
		conv.AssistantHistory = nil
		conv.AssistantTokens = 0
	case domain.ChannelSystem:
		conv.SystemHistory = nil
		conv.SystemTokens = 0
	default:
		return fmt.Errorf("invalid channel %q", ch)
	}
	return m.cache.DeleteChannel(ctx, conv.Profile.UserID, conv.Profile.RoomID, ch)
}
