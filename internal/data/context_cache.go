package data

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-kratos/kratos/v2/log"

	"chatservice/internal/domain"
	"chatservice/internal/metrics"
)

const (
	fieldProfile = "profile"
	fieldModel   = "model"
)

var channelFields = []domain.Channel{
	domain.ChannelUser,
	domain.ChannelAssistant,
	domain.ChannelSystem,
}

// ContextCache 会话上下文缓存管理器。会话开始时从外部存储读入（read-through），
// 之后每次变更写回（write-through）。存储结构：档案与模型名为字符串键，
// 三个通道的历史为有序列表键。
type ContextCache struct {
	kv       KV
	registry *domain.ModelRegistry
	logger   *log.Helper
}

// NewContextCache 创建上下文缓存管理器
func NewContextCache(kv KV, registry *domain.ModelRegistry, logger log.Logger) *ContextCache {
	return &ContextCache{
		kv:       kv,
		registry: registry,
		logger:   log.NewHelper(log.With(logger, "module", "context-cache")),
	}
}

func (c *ContextCache) key(userID, roomID, field string) string {
	return fmt.Sprintf("chat:user:%s:room:%s:%s", userID, roomID, field)
}

func historyField(ch domain.Channel) string {
	return string(ch) + "_history"
}

// ReadContext 读取会话上下文。存储中不存在时默认构建并写入。
func (c *ContextCache) ReadContext(ctx context.Context, userID, roomID, defaultModel string) (*domain.ConversationContext, error) {
	profileRaw, profileOK, err := c.kv.Get(ctx, c.key(userID, roomID, fieldProfile))
	if err != nil {
		return nil, err
	}
	modelName, modelOK, err := c.kv.Get(ctx, c.key(userID, roomID, fieldModel))
	if err != nil {
		return nil, err
	}

	if !profileOK || !modelOK {
		metrics.ContextCacheMisses.Inc()
		model, err := c.registry.FindByName(defaultModel)
		if err != nil {
			return nil, err
		}
		conv := domain.NewConversationContext(domain.NewProfile(userID, roomID), model)
		if err := c.CreateContext(ctx, conv); err != nil {
			return nil, err
		}
		c.logger.Infof("created default context for user=%s room=%s model=%s", userID, roomID, defaultModel)
		return conv, nil
	}
	metrics.ContextCacheHits.Inc()

	var profile domain.ConversationProfile
	if err := json.Unmarshal([]byte(profileRaw), &profile); err != nil {
		return nil, fmt.Errorf("profile unmarshal error: %w", err)
	}
	model, err := c.registry.FindByName(modelName)
	if err != nil {
		return nil, err
	}

	conv := domain.NewConversationContext(&profile, model)
	for _, ch := range channelFields {
		records, err := c.readChannel(ctx, userID, roomID, ch)
		if err != nil {
			return nil, err
		}
		total := 0
		for _, r := range records {
			total += r.TokenCount
		}
		switch ch {
		case domain.ChannelUser:
			conv.UserHistory, conv.UserTokens = records, total
		case domain.ChannelAssistant:
			conv.AssistantHistory, conv.AssistantTokens = records, total
		case domain.ChannelSystem:
			conv.SystemHistory, conv.SystemTokens = records, total
		}
	}
	return conv, nil
}

func (c *ContextCache) readChannel(ctx context.Context, userID, roomID string, ch domain.Channel) ([]domain.MessageRecord, error) {
	raw, err := c.kv.LRange(ctx, c.key(userID, roomID, historyField(ch)))
	if err != nil {
		return nil, err
	}
	records := make([]domain.MessageRecord, 0, len(raw))
	for _, item := range raw {
		var rec domain.MessageRecord
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			return nil, fmt.Errorf("message record unmarshal error: %w", err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// CreateContext 写入新会话上下文（仅当不存在时）
func (c *ContextCache) CreateContext(ctx context.Context, conv *domain.ConversationContext) error {
	userID, roomID := conv.Profile.UserID, conv.Profile.RoomID

	profileRaw, err := json.Marshal(conv.Profile)
	if err != nil {
		return fmt.Errorf("profile marshal error: %w", err)
	}
	if _, err := c.kv.SetNX(ctx, c.key(userID, roomID, fieldProfile), string(profileRaw)); err != nil {
		return err
	}
	if _, err := c.kv.SetNX(ctx, c.key(userID, roomID, fieldModel), conv.Model.Name); err != nil {
		return err
	}
	return c.writeHistories(ctx, conv)
}

// UpdateContext 整体写回上下文（仅当已存在时更新字符串字段）
func (c *ContextCache) UpdateContext(ctx context.Context, conv *domain.ConversationContext) error {
	userID, roomID := conv.Profile.UserID, conv.Profile.RoomID

	profileRaw, err := json.Marshal(conv.Profile)
	if err != nil {
		return fmt.Errorf("profile marshal error: %w", err)
	}
	set, err := c.kv.SetXX(ctx, c.key(userID, roomID, fieldProfile), string(profileRaw))
	if err != nil {
		return err
	}
	if !set {
		return fmt.Errorf("%w: user=%s room=%s", domain.ErrContextNotFound, userID, roomID)
	}
	if _, err := c.kv.SetXX(ctx, c.key(userID, roomID, fieldModel), conv.Model.Name); err != nil {
		return err
	}
	return c.writeHistories(ctx, conv)
}

// UpdateProfileAndModel 仅写回档案与模型名
func (c *ContextCache) UpdateProfileAndModel(ctx context.Context, conv *domain.ConversationContext) error {
	userID, roomID := conv.Profile.UserID, conv.Profile.RoomID

	profileRaw, err := json.Marshal(conv.Profile)
	if err != nil {
		return fmt.Errorf("profile marshal error: %w", err)
	}
	if err := c.kv.Set(ctx, c.key(userID, roomID, fieldProfile), string(profileRaw)); err != nil {
		return err
	}
	return c.kv.Set(ctx, c.key(userID, roomID, fieldModel), conv.Model.Name)
}

func (c *ContextCache) writeHistories(ctx context.Context, conv *domain.ConversationContext) error {
	userID, roomID := conv.Profile.UserID, conv.Profile.RoomID
	for _, ch := range channelFields {
		key := c.key(userID, roomID, historyField(ch))
		if err := c.kv.Del(ctx, key); err != nil {
			return err
		}
		records := conv.History(ch)
		if len(records) == 0 {
			continue
		}
		items := make([]string, len(records))
		for i, rec := range records {
			raw, err := json.Marshal(rec)
			if err != nil {
				return fmt.Errorf("message record marshal error: %w", err)
			}
			items[i] = string(raw)
		}
		if err := c.kv.RPush(ctx, key, items...); err != nil {
			return err
		}
	}
	return nil
}

// AppendMessage 追加一条消息到通道列表
func (c *ContextCache) AppendMessage(ctx context.Context, userID, roomID string, ch domain.Channel, rec domain.MessageRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("message record marshal error: %w", err)
	}
	return c.kv.RPush(ctx, c.key(userID, roomID, historyField(ch)), string(raw))
}

// PopOldest 从通道头部弹出 count 条（淘汰持久化）
func (c *ContextCache) PopOldest(ctx context.Context, userID, roomID string, ch domain.Channel, count int) error {
	if count <= 0 {
		return nil
	}
	_, err := c.kv.LPop(ctx, c.key(userID, roomID, historyField(ch)), count)
	return err
}

// PopNewest 从通道尾部弹出一条
func (c *ContextCache) PopNewest(ctx context.Context, userID, roomID string, ch domain.Channel) error {
	_, _, err := c.kv.RPop(ctx, c.key(userID, roomID, historyField(ch)))
	return err
}

// SetMessage 按下标覆写通道内一条消息
func (c *ContextCache) SetMessage(ctx context.Context, userID, roomID string, ch domain.Channel, index int, rec domain.MessageRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("message record marshal error: %w", err)
	}
	return c.kv.LSet(ctx, c.key(userID, roomID, historyField(ch)), index, string(raw))
}

// DeleteChannel 清空一个通道
func (c *ContextCache) DeleteChannel(ctx context.Context, userID, roomID string, ch domain.Channel) error {
	return c.kv.Del(ctx, c.key(userID, roomID, historyField(ch)))
}

// DeleteContext 删除整个会话上下文
func (c *ContextCache) DeleteContext(ctx context.Context, userID, roomID string) error {
	keys := []string{
		c.key(userID, roomID, fieldProfile),
		c.key(userID, roomID, fieldModel),
	}
	for _, ch := range channelFields {
		keys = append(keys, c.key(userID, roomID, historyField(ch)))
	}
	return c.kv.Del(ctx, keys...)
}
