package biz

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatservice/internal/domain"
)

func newPromptContext() *domain.ConversationContext {
	profile := domain.NewProfile("u1", "r1")
	profile.UserRoleLabel = "Human"
	profile.AssistantRoleLabel = "Bot"
	model := newTestModel()
	model.Description = "A chat between {user} and {ai}."
	conv := domain.NewConversationContext(profile, model)
	conv.SystemHistory = []domain.MessageRecord{{Role: "system", Content: "Be brief."}}
	conv.UserHistory = []domain.MessageRecord{
		{Role: "Human", Content: "Hi", IsUser: true},
		{Role: "Human", Content: "How are you?", IsUser: true},
	}
	conv.AssistantHistory = []domain.MessageRecord{
		{Role: "Bot", Content: "Hello!"},
	}
	return conv
}

func TestBuildChatMessagesInterleaves(t *testing.T) {
	conv := newPromptContext()

	messages := BuildChatMessages(conv, "")
	require.Len(t, messages, 4)
	assert.Equal(t, "system", messages[0].Role)
	assert.Equal(t, "Be brief.", messages[0].Content)
	assert.Equal(t, "user", messages[1].Role)
	assert.Equal(t, "Hi", messages[1].Content)
	assert.Equal(t, "assistant", messages[2].Role)
	assert.Equal(t, "Hello!", messages[2].Content)
	assert.Equal(t, "user", messages[3].Role)
	assert.Equal(t, "How are you?", messages[3].Content)
}

func TestBuildChatMessagesFoldsPartial(t *testing.T) {
	conv := newPromptContext()

	messages := BuildChatMessages(conv, "I was saying")
	last := messages[len(messages)-1]
	assert.Equal(t, "assistant", last.Role)
	assert.Equal(t, "I was saying"+continuationMarker, last.Content)
}

func TestBuildPromptSubstitutesLabels(t *testing.T) {
	conv := newPromptContext()

	prompt := BuildPrompt(conv, "")
	assert.Contains(t, prompt, "A chat between Human and Bot.")
	assert.Contains(t, prompt, "Human: Hi\n")
	assert.Contains(t, prompt, "Bot: Hello!\n")
	// 以待补全的助手前缀收尾
	assert.Equal(t, "Bot: ", prompt[len(prompt)-5:])
}

func TestBuildPromptCarriesPartial(t *testing.T) {
	conv := newPromptContext()

	prompt := BuildPrompt(conv, "half a thought")
	suffix := "Bot: half a thought" + continuationMarker
	assert.Equal(t, suffix, prompt[len(prompt)-len(suffix):])
}
