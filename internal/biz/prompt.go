package biz

import (
	"strings"

	"chatservice/internal/backend"
	"chatservice/internal/domain"
)

// continuationMarker 追加在折回的半成品回复末尾，提示模型上一段因长度
// 上限被截断、必须接着写。只进请求上下文，客户端看到的文本不含它。
const continuationMarker = " ...[CONTINUED]"

// BuildChatMessages 把会话历史展开为对话式请求体：系统消息在前，
// 用户与助手消息按轮次交错。partial 非空时作为未完成的助手消息挂在
// 末尾，提示模型接着写而不是重新开始。
func BuildChatMessages(conv *domain.ConversationContext, partial string) []backend.ChatMessage {
	capacity := len(conv.SystemHistory) + len(conv.UserHistory) + len(conv.AssistantHistory) + 1
	messages := make([]backend.ChatMessage, 0, capacity)

	for _, rec := range conv.SystemHistory {
		messages = append(messages, backend.ChatMessage{Role: "system", Content: rec.Content})
	}
	rounds := len(conv.UserHistory)
	if len(conv.AssistantHistory) > rounds {
		rounds = len(conv.AssistantHistory)
	}
	for i := 0; i < rounds; i++ {
		if i < len(conv.UserHistory) {
			messages = append(messages, backend.ChatMessage{Role: "user", Content: conv.UserHistory[i].Content})
		}
		if i < len(conv.AssistantHistory) {
			messages = append(messages, backend.ChatMessage{Role: "assistant", Content: conv.AssistantHistory[i].Content})
		}
	}
	if partial != "" {
		messages = append(messages, backend.ChatMessage{Role: "assistant", Content: partial + continuationMarker})
	}
	return messages
}

// BuildPrompt 把会话历史拼接为本地推理用的单串提示词。模型描述作为
// 开场说明，其中的 {user} / {ai} 占位符替换为会话里的角色名。
func BuildPrompt(conv *domain.ConversationContext, partial string) string {
	userLabel := conv.Profile.UserRoleLabel
	aiLabel := conv.Profile.AssistantRoleLabel

	var b strings.Builder
	if conv.Model.Description != "" {
		desc := strings.ReplaceAll(conv.Model.Description, "{user}", userLabel)
		desc = strings.ReplaceAll(desc, "{ai}", aiLabel)
		b.WriteString(desc)
		b.WriteString("\n\n")
	}
	for _, rec := range conv.SystemHistory {
		b.WriteString(rec.Content)
		b.WriteString("\n")
	}
	rounds := len(conv.UserHistory)
	if len(conv.AssistantHistory) > rounds {
		rounds = len(conv.AssistantHistory)
	}
	for i := 0; i < rounds; i++ {
		if i < len(conv.UserHistory) {
			b.WriteString(userLabel)
			b.WriteString(": ")
			b.WriteString(conv.UserHistory[i].Content)
			b.WriteString("\n")
		}
		if i < len(conv.AssistantHistory) {
			b.WriteString(aiLabel)
			b.WriteString(": ")
			b.WriteString(conv.AssistantHistory[i].Content)
			b.WriteString("\n")
		}
	}
	b.WriteString(aiLabel)
	b.WriteString(": ")
	if partial != "" {
		b.WriteString(partial)
		b.WriteString(continuationMarker)
	}
	return b.String()
}
