package biz

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatservice/internal/data"
	"chatservice/internal/domain"
)

// memoryKV data.KV 的内存实现
type memoryKV struct {
	mu      sync.Mutex
	strings map[string]string
	lists   map[string][]string
}

func newMemoryKV() *memoryKV {
	return &memoryKV{strings: make(map[string]string), lists: make(map[string][]string)}
}

func (m *memoryKV) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.strings[key]
	return v, ok, nil
}

func (m *memoryKV) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.strings[key] = value
	return nil
}

func (m *memoryKV) SetNX(_ context.Context, key, value string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.strings[key]; ok {
		return false, nil
	}
	m.strings[key] = value
	return true, nil
}

func (m *memoryKV) SetXX(_ context.Context, key, value string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.strings[key]; !ok {
		return false, nil
	}
	m.strings[key] = value
	return true, nil
}

func (m *memoryKV) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.strings, k)
		delete(m.lists, k)
	}
	return nil
}

func (m *memoryKV) RPush(_ context.Context, key string, values ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lists[key] = append(m.lists[key], values...)
	return nil
}

func (m *memoryKV) LPop(_ context.Context, key string, count int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.lists[key]
	if count > len(list) {
		count = len(list)
	}
	popped := list[:count]
	m.lists[key] = list[count:]
	return popped, nil
}

func (m *memoryKV) RPop(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.lists[key]
	if len(list) == 0 {
		return "", false, nil
	}
	last := list[len(list)-1]
	m.lists[key] = list[:len(list)-1]
	return last, true, nil
}

func (m *memoryKV) LSet(_ context.Context, key string, index int, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.lists[key]
	if index < 0 || index >= len(list) {
		return fmt.Errorf("index out of range")
	}
	list[index] = value
	return nil
}

func (m *memoryKV) LRange(_ context.Context, key string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.lists[key]...), nil
}

func (m *memoryKV) listLen(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.lists[key])
}

// lenTokenizer token 数等于字符数，便于直算
type lenTokenizer struct{}

func (lenTokenizer) Count(text string) int { return len(text) }
func (lenTokenizer) Encode(text string) []int {
	ids := make([]int, len(text))
	for i := range text {
		ids[i] = int(text[i])
	}
	return ids
}

func newTestModel() *domain.ModelDescriptor {
	return &domain.ModelDescriptor{
		Name:                "test-model",
		MaxTotalTokens:      100,
		MaxTokensPerRequest: 50,
		TokenMargin:         8,
		Tokenizer:           lenTokenizer{},
		Backend:             domain.BackendRemoteAPI,
	}
}

func newManagerFixture(t *testing.T) (*MessageManager, *domain.ConversationContext, *memoryKV) {
	t.Helper()
	kv := newMemoryKV()
	registry := domain.NewModelRegistry()
	require.NoError(t, registry.Register(newTestModel()))
	cache := data.NewContextCache(kv, registry, log.DefaultLogger)
	mgr := NewMessageManager(cache, log.DefaultLogger)
	conv := domain.NewConversationContext(domain.NewProfile("u1", "r1"), newTestModel())
	return mgr, conv, kv
}

func historyKey(ch domain.Channel) string {
	return fmt.Sprintf("chat:user:u1:room:r1:%s_history", ch)
}

func TestAppendUpdatesCountersAndStore(t *testing.T) {
	mgr, conv, kv := newManagerFixture(t)
	ctx := context.Background()

	require.NoError(t, mgr.Append(ctx, conv, "hello", domain.ChannelUser))

	require.Len(t, conv.UserHistory, 1)
	assert.Equal(t, "hello", conv.UserHistory[0].Content)
	assert.Equal(t, 5+tokenOverhead, conv.UserHistory[0].TokenCount)
	assert.Equal(t, 5+tokenOverhead, conv.UserTokens)
	assert.True(t, conv.UserHistory[0].IsUser)
	assert.Equal(t, 1, kv.listLen(historyKey(domain.ChannelUser)))
}

func TestAppendRejectsOversizeBeforeMutation(t *testing.T) {
	mgr, conv, kv := newManagerFixture(t)
	ctx := context.Background()

	// 50 字符 + 8 开销 = 58 > 单次请求上限 50
	long := make([]byte, 50)
	for i := range long {
		long[i] = 'x'
	}
	err := mgr.Append(ctx, conv, string(long), domain.ChannelUser)
	require.ErrorIs(t, err, domain.ErrTokenLimitExceeded)

	assert.Empty(t, conv.UserHistory)
	assert.Zero(t, conv.UserTokens)
	assert.Zero(t, kv.listLen(historyKey(domain.ChannelUser)))
}

func TestAppendEvictsAndPersistsEvictions(t *testing.T) {
	mgr, conv, kv := newManagerFixture(t)
	ctx := context.Background()

	// 每条 30+8=38；两轮后 76，再加一条用户消息 114 > 100-8
	require.NoError(t, mgr.Append(ctx, conv, string(make([]byte, 30)), domain.ChannelUser))
	require.NoError(t, mgr.Append(ctx, conv, string(make([]byte, 30)), domain.ChannelAssistant))
	require.NoError(t, mgr.Append(ctx, conv, string(make([]byte, 30)), domain.ChannelUser))

	// 最老的一轮被成对淘汰
	require.Len(t, conv.UserHistory, 1)
	require.Len(t, conv.AssistantHistory, 0)
	assert.Equal(t, 38, conv.UserTokens)
	assert.Equal(t, 0, conv.AssistantTokens)
	assert.Equal(t, 1, kv.listLen(historyKey(domain.ChannelUser)))
	assert.Equal(t, 0, kv.listLen(historyKey(domain.ChannelAssistant)))
}

func TestPopLast(t *testing.T) {
	mgr, conv, kv := newManagerFixture(t)
	ctx := context.Background()

	require.NoError(t, mgr.Append(ctx, conv, "first", domain.ChannelUser))
	require.NoError(t, mgr.Append(ctx, conv, "second", domain.ChannelUser))

	rec, err := mgr.PopLast(ctx, conv, domain.ChannelUser)
	require.NoError(t, err)
	assert.Equal(t, "second", rec.Content)
	require.Len(t, conv.UserHistory, 1)
	assert.Equal(t, 5+tokenOverhead, conv.UserTokens)
	assert.Equal(t, 1, kv.listLen(historyKey(domain.ChannelUser)))
}

func TestPopLastEmptyChannel(t *testing.T) {
	mgr, conv, _ := newManagerFixture(t)

	_, err := mgr.PopLast(context.Background(), conv, domain.ChannelAssistant)
	assert.ErrorIs(t, err, domain.ErrEmptyChannel)
}

func TestReplaceRecomputesTokens(t *testing.T) {
	mgr, conv, kv := newManagerFixture(t)
	ctx := context.Background()

	require.NoError(t, mgr.Append(ctx, conv, "short", domain.ChannelAssistant))
	require.NoError(t, mgr.Replace(ctx, conv, domain.ChannelAssistant, 0, "a longer reply"))

	assert.Equal(t, "a longer reply", conv.AssistantHistory[0].Content)
	assert.Equal(t, 14+tokenOverhead, conv.AssistantTokens)

	stored, err := kv.LRange(ctx, historyKey(domain.ChannelAssistant))
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Contains(t, stored[0], "a longer reply")
}

func TestReplaceIndexOutOfRange(t *testing.T) {
	mgr, conv, _ := newManagerFixture(t)

	err := mgr.Replace(context.Background(), conv, domain.ChannelUser, 0, "nope")
	assert.Error(t, err)
}

func TestClearChannel(t *testing.T) {
	mgr, conv, kv := newManagerFixture(t)
	ctx := context.Background()

	require.NoError(t, mgr.Append(ctx, conv, "hello", domain.ChannelUser))
	require.NoError(t, mgr.Clear(ctx, conv, domain.ChannelUser))

	assert.Empty(t, conv.UserHistory)
	assert.Zero(t, conv.UserTokens)
	assert.Zero(t, kv.listLen(historyKey(domain.ChannelUser)))
}
