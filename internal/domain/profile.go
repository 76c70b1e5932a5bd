package domain

// SamplingParams 采样参数，随会话可变
type SamplingParams struct {
	Temperature      float32 `json:"temperature"`
	TopP             float32 `json:"top_p"`
	PresencePenalty  float32 `json:"presence_penalty"`
	FrequencyPenalty float32 `json:"frequency_penalty"`
}

// DefaultSamplingParams 默认采样参数
func DefaultSamplingParams() SamplingParams {
	return SamplingParams{
		Temperature: 0.9,
		TopP:        1.0,
	}
}

// ConversationProfile 会话档案。会话开始时创建，除采样参数外不可变。
type ConversationProfile struct {
	UserID             string         `json:"user_id"`
	RoomID             string         `json:"room_id"`
	UserRoleLabel      string         `json:"user_role"`
	AssistantRoleLabel string         `json:"assistant_role"`
	Sampling           SamplingParams `json:"sampling"`
}

// NewProfile 创建默认会话档案
func NewProfile(userID, roomID string) *ConversationProfile {
	return &ConversationProfile{
		UserID:             userID,
		RoomID:             roomID,
		UserRoleLabel:      "user",
		AssistantRoleLabel: "assistant",
		Sampling:           DefaultSamplingParams(),
	}
}
