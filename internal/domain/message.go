package domain

// Channel 消息历史通道（user / assistant / system）
type Channel string

const (
	ChannelUser      Channel = "user"      // 用户
	ChannelAssistant Channel = "assistant" // 助手
	ChannelSystem    Channel = "system"    // 系统
)

// Valid 检查通道是否合法
func (c Channel) Valid() bool {
	switch c {
	case ChannelUser, ChannelAssistant, ChannelSystem:
		return true
	}
	return false
}

// MessageRecord 单条历史消息。TokenCount 在写入时由 MessageManager 计算，
// 之后只有原地修改内容时才会重新计算。
type MessageRecord struct {
	Role       string `json:"role"`
	Content    string `json:"content"`
	TokenCount int    `json:"token_count"`
	IsUser     bool   `json:"is_user"`
}
