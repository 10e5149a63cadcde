package model

import "time"

// Role 标记一条对话轮次的来源。
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn 表示对话中的一个轮次。追加后不再修改，顺序即发往上游的顺序。
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// 时间线事件类型。
const (
	EventUserMessage   = "user_message"
	EventAssistantText = "assistant_text"
	EventUpstreamError = "upstream_error"
)

// Event 表示时间线中的一个事件。
type Event struct {
	// Seq 由后端分配的单调序号，用于回放与幂等。
	Seq int64 `json:"seq,omitempty"`
	// SessionID 由时间线存储补齐。
	SessionID string `json:"session_id,omitempty"`
	// EventID 用于去重，相同 EventID 只记录一次。
	EventID string `json:"event_id,omitempty"`
	// RequestID 关联触发该事件的 HTTP 请求，便于和访问日志对齐。
	RequestID string `json:"request_id,omitempty"`

	// Type 表示事件类型（user_message/assistant_text/upstream_error）。
	Type string `json:"type"`
	// Text 是用户输入或助手回复。
	Text string `json:"text,omitempty"`
	// Error 仅在 upstream_error 时填写。
	Error    string    `json:"error,omitempty"`
	ServerTS time.Time `json:"server_ts"`
}

// ChatRequest 是 POST /api/chat 的请求体。
type ChatRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// ChatResponse 是 POST /api/chat 的成功响应。
type ChatResponse struct {
	Reply string `json:"reply"`
}

// CreateSessionResponse 是签发新会话 ID 的响应。
type CreateSessionResponse struct {
	SessionID string `json:"session_id"`
}

// HistoryResponse 返回某个会话已保存的全部轮次。
type HistoryResponse struct {
	SessionID string `json:"session_id"`
	Turns     []Turn `json:"turns"`
}

// TimelineResponse 返回某个会话的审计事件。
type TimelineResponse struct {
	SessionID string  `json:"session_id"`
	Events    []Event `json:"events"`
}
