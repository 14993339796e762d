package models

import (
	"encoding/json"
	"strings"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ConversationTurn 对话中的一轮（由调用方每次携带，服务端不保存）
type ConversationTurn struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// UnmarshalJSON 兼容 {"role","content"} 形式的历史记录
func (t *ConversationTurn) UnmarshalJSON(data []byte) error {
	var raw struct {
		Role    string  `json:"role"`
		Text    *string `json:"text"`
		Content *string `json:"content"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	t.Role = raw.Role
	t.Text = ""
	if raw.Text != nil {
		t.Text = *raw.Text
	} else if raw.Content != nil {
		t.Text = *raw.Content
	}
	return nil
}

// NormalizeRole 将前端的角色名映射到 user / assistant
func NormalizeRole(role string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(role)) {
	case "user", "human":
		return RoleUser, true
	case "assistant", "ai", "model", "bot":
		return RoleAssistant, true
	}
	return "", false
}

// Attachment 附件（图片、PDF 等）
type Attachment struct {
	Data     []byte
	MimeType string
	Filename string
}

// ChatTurnRequest 一次聊天请求
type ChatTurnRequest struct {
	Message    string
	History    []ConversationTurn
	Attachment *Attachment
}

// ChatJSONRequest application/json 形式的 /chat 请求
type ChatJSONRequest struct {
	Message    string             `json:"message"`
	History    []ConversationTurn `json:"history"`
	Attachment *AttachmentJSON    `json:"attachment,omitempty"`
}

// AttachmentJSON base64 编码的附件
type AttachmentJSON struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
	Filename string `json:"filename,omitempty"`
}

// TitleRequest /generate_title 请求，message 与 text 二选一
type TitleRequest struct {
	Message string `json:"message"`
	Text    string `json:"text"`
}
