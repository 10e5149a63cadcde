package gateway

import (
	"time"
)

// EventType 定义了网关处理的消息类型
type EventType string

const (
	EventTypeChat  EventType = "chat"  // 用户消息（上行）
	EventTypeReply EventType = "reply" // 助手回复（下行）
	EventTypeError EventType = "error" // 处理失败（下行）
)

// ClientMessage 客户端发送给网关的消息（WebSocket文本帧）
type ClientMessage struct {
	Type      EventType `json:"type"`
	EventID   string    `json:"event_id,omitempty"` // 原样回带，便于客户端配对请求与回复
	SessionID string    `json:"session_id"`
	Message   string    `json:"message"`
	ClientTS  time.Time `json:"client_ts,omitempty"`
}

// ServerMessage 网关发送给客户端的消息
type ServerMessage struct {
	Type     EventType `json:"type"`
	Seq      int64     `json:"seq,omitempty"` // 连接内单调递增
	EventID  string    `json:"event_id,omitempty"`
	Reply    string    `json:"reply,omitempty"`
	Status   int       `json:"status,omitempty"` // 与 HTTP 接口一致的状态码（仅 error）
	Error    string    `json:"error,omitempty"`
	ServerTS time.Time `json:"server_ts"`
}
