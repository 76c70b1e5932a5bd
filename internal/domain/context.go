package domain

// ConversationContext 会话上下文领域模型。持有三个角色通道的消息历史与
// 各自的 token 计数器，并维护 token 预算不变式：
//
//	UserTokens + AssistantTokens + SystemTokens + TokenMargin <= MaxTotalTokens
//
// 历史只能通过 MessageManager 变更；同一会话内的变更操作必须串行。
type ConversationContext struct {
	Profile *ConversationProfile
	Model   *ModelDescriptor

	UserHistory      []MessageRecord
	AssistantHistory []MessageRecord
	SystemHistory    []MessageRecord

	UserTokens      int
	AssistantTokens int
	SystemTokens    int
}

// NewConversationContext 创建默认会话上下文
func NewConversationContext(profile *ConversationProfile, model *ModelDescriptor) *ConversationContext {
	return &ConversationContext{
		Profile: profile,
		Model:   model,
	}
}

// History 返回指定通道的消息历史
func (c *ConversationContext) History(ch Channel) []MessageRecord {
	switch ch {
	case ChannelUser:
		return c.UserHistory
	case ChannelAssistant:
		return c.AssistantHistory
	case ChannelSystem:
		return c.SystemHistory
	}
	return nil
}

// ChannelTokens 返回指定通道的 token 计数
func (c *ConversationContext) ChannelTokens(ch Channel) int {
	switch ch {
	case ChannelUser:
		return c.UserTokens
	case ChannelAssistant:
		return c.AssistantTokens
	case ChannelSystem:
		return c.SystemTokens
	}
	return 0
}

// RoleLabel 返回通道对应的角色名
func (c *ConversationContext) RoleLabel(ch Channel) string {
	switch ch {
	case ChannelUser:
		return c.Profile.UserRoleLabel
	case ChannelAssistant:
		return c.Profile.AssistantRoleLabel
	default:
		return string(ch)
	}
}

// TotalTokens 三个通道的 token 总数
func (c *ConversationContext) TotalTokens() int {
	return c.UserTokens + c.AssistantTokens + c.SystemTokens
}

// RemainingTokens 剩余可用 token 数。淘汰执行前可能短暂为负。
func (c *ConversationContext) RemainingTokens() int {
	return c.Model.MaxTotalTokens - c.TotalTokens() - c.Model.TokenMargin
}

// TokensPerRequest 本次生成请求允许的最大 token 数。历史随时在变，
// 每次发起生成前必须重新计算。
func (c *ConversationContext) TokensPerRequest() int {
	remaining := c.RemainingTokens()
	if remaining < c.Model.MaxTokensPerRequest {
		return remaining
	}
	return c.Model.MaxTokensPerRequest
}

// OverBudget 当前是否超出 token 预算
func (c *ConversationContext) OverBudget() bool {
	return c.TotalTokens()+c.Model.TokenMargin > c.Model.MaxTotalTokens
}

// EnforceBudget 成对淘汰最旧的 user/assistant 消息，直到回到预算内。
// 返回成对淘汰的次数。系统通道永不自动淘汰。
//
// 成对淘汰假设 user/assistant 轮次 1:1 交错。仍超预算时若只有一个通道
// 为空，说明历史已经错位，返回 ErrHistoryDesync 而不是静默忽略。
func (c *ConversationContext) EnforceBudget() (int, error) {
	evicted := 0
	for c.OverBudget() {
		if len(c.UserHistory) == 0 && len(c.AssistantHistory) == 0 {
			// 历史已空，无可淘汰
			return evicted, nil
		}
		if len(c.UserHistory) == 0 || len(c.AssistantHistory) == 0 {
			return evicted, ErrHistoryDesync
		}

		c.UserTokens -= c.UserHistory[0].TokenCount
		c.AssistantTokens -= c.AssistantHistory[0].TokenCount
		c.UserHistory = c.UserHistory[1:]
		c.AssistantHistory = c.AssistantHistory[1:]
		evicted++
	}
	return evicted, nil
}

// Tokenize 用当前模型分词器计数
func (c *ConversationContext) Tokenize(text string) int {
	return c.Model.Tokenizer.Count(text)
}
