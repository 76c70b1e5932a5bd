package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixedTokenizer 按固定字符数折算 token，测试用
type fixedTokenizer struct{}

func (fixedTokenizer) Count(text string) int { return len(text) }

func (fixedTokenizer) Encode(text string) []int {
	ids := make([]int, len(text))
	for i := range text {
		ids[i] = int(text[i])
	}
	return ids
}

func testModel(maxTotal, perRequest, margin int) *ModelDescriptor {
	return &ModelDescriptor{
		Name:                "test-model",
		MaxTotalTokens:      maxTotal,
		MaxTokensPerRequest: perRequest,
		TokenMargin:         margin,
		Tokenizer:           fixedTokenizer{},
		Backend:             BackendRemoteAPI,
	}
}

func newTestContext(maxTotal, perRequest, margin int) *ConversationContext {
	return NewConversationContext(NewProfile("u1", "room1"), testModel(maxTotal, perRequest, margin))
}

func appendRecord(c *ConversationContext, ch Channel, tokens int) {
	rec := MessageRecord{Role: string(ch), Content: "x", TokenCount: tokens, IsUser: ch == ChannelUser}
	switch ch {
	case ChannelUser:
		c.UserHistory = append(c.UserHistory, rec)
		c.UserTokens += tokens
	case ChannelAssistant:
		c.AssistantHistory = append(c.AssistantHistory, rec)
		c.AssistantTokens += tokens
	case ChannelSystem:
		c.SystemHistory = append(c.SystemHistory, rec)
		c.SystemTokens += tokens
	}
}

func sumTokens(records []MessageRecord) int {
	total := 0
	for _, r := range records {
		total += r.TokenCount
	}
	return total
}

func TestTokenAccounting(t *testing.T) {
	c := newTestContext(1000, 500, 8)

	appendRecord(c, ChannelUser, 100)
	appendRecord(c, ChannelAssistant, 200)
	appendRecord(c, ChannelSystem, 50)

	assert.Equal(t, 350, c.TotalTokens())
	assert.Equal(t, 1000-350-8, c.RemainingTokens())
	assert.Equal(t, c.UserTokens, sumTokens(c.UserHistory))
	assert.Equal(t, c.AssistantTokens, sumTokens(c.AssistantHistory))
	assert.Equal(t, c.SystemTokens, sumTokens(c.SystemHistory))
}

func TestTokensPerRequest(t *testing.T) {
	c := newTestContext(1000, 500, 8)
	// 剩余充足时取单次请求上限
	assert.Equal(t, 500, c.TokensPerRequest())

	// 历史增长后取剩余量
	appendRecord(c, ChannelUser, 300)
	appendRecord(c, ChannelAssistant, 300)
	assert.Equal(t, 1000-600-8, c.TokensPerRequest())
}

func TestEnforceBudgetPairedEviction(t *testing.T) {
	// Scenario A: 100 上限，8 余量，user 50 + assistant 50 = 100+8 > 100
	c := newTestContext(100, 50, 8)
	appendRecord(c, ChannelUser, 50)
	appendRecord(c, ChannelAssistant, 50)

	evicted, err := c.EnforceBudget()
	require.NoError(t, err)
	assert.Equal(t, 1, evicted)
	assert.Empty(t, c.UserHistory)
	assert.Empty(t, c.AssistantHistory)
	assert.Zero(t, c.TotalTokens())
}

func TestEnforceBudgetKeepsOldestOut(t *testing.T) {
	c := newTestContext(200, 100, 8)
	appendRecord(c, ChannelUser, 60)
	appendRecord(c, ChannelAssistant, 60)
	appendRecord(c, ChannelUser, 40)
	appendRecord(c, ChannelAssistant, 40)

	evicted, err := c.EnforceBudget()
	require.NoError(t, err)
	assert.Equal(t, 1, evicted)
	// 最早一对被移除，后写入的保留
	require.Len(t, c.UserHistory, 1)
	require.Len(t, c.AssistantHistory, 1)
	assert.Equal(t, 40, c.UserHistory[0].TokenCount)
	assert.False(t, c.OverBudget())
}

func TestEnforceBudgetIdempotent(t *testing.T) {
	c := newTestContext(100, 50, 8)
	appendRecord(c, ChannelUser, 50)
	appendRecord(c, ChannelAssistant, 50)

	_, err := c.EnforceBudget()
	require.NoError(t, err)

	evicted, err := c.EnforceBudget()
	require.NoError(t, err)
	assert.Zero(t, evicted)
}

func TestEnforceBudgetNeverTouchesSystem(t *testing.T) {
	c := newTestContext(100, 50, 8)
	appendRecord(c, ChannelSystem, 30)
	appendRecord(c, ChannelUser, 40)
	appendRecord(c, ChannelAssistant, 40)

	_, err := c.EnforceBudget()
	require.NoError(t, err)
	require.Len(t, c.SystemHistory, 1)
	assert.Equal(t, 30, c.SystemTokens)
}

func TestEnforceBudgetDesync(t *testing.T) {
	c := newTestContext(100, 50, 8)
	// 只有 user 通道有消息，淘汰无法成对进行
	appendRecord(c, ChannelUser, 200)

	_, err := c.EnforceBudget()
	assert.ErrorIs(t, err, ErrHistoryDesync)
}

func TestEnforceBudgetEmptyHistories(t *testing.T) {
	c := newTestContext(100, 50, 8)
	// 仅系统消息超预算：历史无可淘汰，不报错
	appendRecord(c, ChannelSystem, 200)

	evicted, err := c.EnforceBudget()
	require.NoError(t, err)
	assert.Zero(t, evicted)
	assert.Len(t, c.SystemHistory, 1)
}

func TestRegistry(t *testing.T) {
	r := NewModelRegistry()
	m := testModel(1000, 500, 8)
	require.NoError(t, r.Register(m))

	assert.Error(t, r.Register(m), "duplicate registration must fail")

	got, err := r.FindByName("test-model")
	require.NoError(t, err)
	assert.Same(t, m, got)

	_, err = r.FindByName("missing")
	assert.ErrorIs(t, err, ErrModelNotFound)
}
