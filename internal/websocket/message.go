package websocket

import "encoding/json"

// ServerMessage 服务端下行线格式。msg 为 null 表示流式握手；finish 为
// true 表示一条回复结束。init 消息在连接建立时携带历史快照与模型名。
type ServerMessage struct {
	Msg           *string       `json:"msg"`
	Finish        bool          `json:"finish"`
	ChatRoomID    string        `json:"chat_room_id"`
	IsUser        bool          `json:"is_user"`
	Init          bool          `json:"init"`
	ModelName     *string       `json:"model_name,omitempty"`
	PreviousChats []HistoryItem `json:"previous_chats,omitempty"`
}

// HistoryItem init 快照里的一条历史消息
type HistoryItem struct {
	Content string `json:"content"`
	IsUser  bool   `json:"is_user"`
}

// ClientMessage 客户端上行线格式
type ClientMessage struct {
	Msg        string `json:"msg"`
	ChatRoomID string `json:"chat_room_id"`
}

// NewTextMessage 一条普通聊天消息
func NewTextMessage(roomID, text string, isUser bool) *ServerMessage {
	return &ServerMessage{Msg: &text, ChatRoomID: roomID, IsUser: isUser}
}

// NewStreamMessage 流式分片。msg 为 nil 时是握手帧。
func NewStreamMessage(roomID string, msg *string, finish bool) *ServerMessage {
	return &ServerMessage{Msg: msg, ChatRoomID: roomID, Finish: finish}
}

// NewInitMessage 连接建立时的历史快照
func NewInitMessage(roomID, modelName string, history []HistoryItem) *ServerMessage {
	return &ServerMessage{
		ChatRoomID:    roomID,
		Init:          true,
		ModelName:     &modelName,
		PreviousChats: history,
	}
}

// Encode 序列化为线格式
func (m *ServerMessage) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// DecodeClientMessage 解析客户端上行消息
func DecodeClientMessage(raw []byte) (*ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
