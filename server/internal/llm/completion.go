package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"chat-relay/server/internal/config"
)

// maxErrorBody 限制错误信息里携带的上游响应长度。
const maxErrorBody = 4096

// CompletionClient 对接通用的补全接口：
// 请求体 {"messages": [...]}，回复取 choices[0].text。
type CompletionClient struct {
	config     config.LLMConfig
	httpClient *http.Client
}

// NewCompletionClient 创建通用补全客户端
func NewCompletionClient(cfg config.LLMConfig) *CompletionClient {
	return &CompletionClient{
		config:     cfg,
		httpClient: newHTTPClient(cfg),
	}
}

type completionRequest struct {
	Model       string    `json:"model,omitempty"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

// Complete 发送完整历史并提取回复。不重试：任何失败直接返回。
func (c *CompletionClient) Complete(ctx context.Context, messages []Message) (string, error) {
	if messages == nil {
		messages = []Message{}
	}
	body, err := json.Marshal(completionRequest{
		Model:       c.config.Model,
		Messages:    messages,
		Temperature: c.config.Temperature,
		MaxTokens:   c.config.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.APIURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		limited, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return "", &StatusError{StatusCode: resp.StatusCode, Body: string(limited)}
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	return extractReply(respBody)
}

// extractReply 取 choices[0].text；兼容 chat 风格的 choices[0].message.content。
func extractReply(body []byte) (string, error) {
	if !gjson.ValidBytes(body) {
		return "", errors.New("malformed response body")
	}

	result := gjson.GetBytes(body, "choices.0.text")
	if !result.Exists() {
		result = gjson.GetBytes(body, "choices.0.message.content")
	}

	reply := strings.TrimSpace(result.String())
	if reply == "" {
		return "", ErrEmptyReply
	}
	return reply, nil
}
