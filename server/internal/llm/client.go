package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"chat-relay/server/internal/config"
	"chat-relay/server/internal/model"
)

// ErrEmptyReply 表示上游返回成功但提取出的回复为空（去掉首尾空白后）。
var ErrEmptyReply = errors.New("empty response from LLM API")

// Client LLM 客户端接口
type Client interface {
	// Complete 把完整的对话历史发给上游，返回助手回复文本。
	Complete(ctx context.Context, messages []Message) (string, error)
}

// Message 消息结构
type Message struct {
	Role    string `json:"role"` // "user", "assistant"
	Content string `json:"content"`
}

// MessagesFromTurns 按原顺序把会话轮次转换为上游消息。
func MessagesFromTurns(turns []model.Turn) []Message {
	out := make([]Message, len(turns))
	for i, t := range turns {
		out[i] = Message{Role: string(t.Role), Content: t.Content}
	}
	return out
}

// StatusError 表示上游返回了非 2xx 状态码。
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Body)
}

// NewClient 创建 LLM 客户端
func NewClient(cfg config.LLMConfig) (Client, error) {
	switch cfg.Provider {
	case config.ProviderCompletion, "":
		return NewCompletionClient(cfg), nil
	case config.ProviderOpenAI:
		return NewOpenAIClient(cfg), nil
	case config.ProviderAnthropic:
		return NewAnthropicClient(cfg), nil
	case config.ProviderEcho:
		return NewEchoClient(), nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.Provider)
	}
}

// newHTTPClient 的 Timeout 为 0 时不限时，与调用方 ctx 的取消配合使用。
func newHTTPClient(cfg config.LLMConfig) *http.Client {
	return &http.Client{Timeout: cfg.Timeout}
}
