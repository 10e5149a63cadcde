package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-relay/server/internal/config"
)

func TestNewClientSelectsProvider(t *testing.T) {
	tests := []struct {
		provider string
		want     any
	}{
		{config.ProviderCompletion, &CompletionClient{}},
		{"", &CompletionClient{}},
		{config.ProviderOpenAI, &OpenAIClient{}},
		{config.ProviderAnthropic, &AnthropicClient{}},
		{config.ProviderEcho, &EchoClient{}},
	}
	for _, tt := range tests {
		client, err := NewClient(config.LLMConfig{Provider: tt.provider, APIKey: "k", Model: "m"})
		require.NoError(t, err)
		assert.IsType(t, tt.want, client)
	}

	_, err := NewClient(config.LLMConfig{Provider: "cohere"})
	assert.ErrorContains(t, err, "unsupported LLM provider")
}

// TestOpenAIClientComplete 验证 OpenAI 客户端按顺序发送历史并提取 message.content。
func TestOpenAIClientComplete(t *testing.T) {
	var (
		gotPath string
		gotAuth string
		gotBody struct {
			Model    string    `json:"model"`
			Messages []Message `json:"messages"`
		}
	)
	ts := newUpstream(t, http.StatusOK, `{
		"id": "chatcmpl-1",
		"object": "chat.completion",
		"created": 1700000000,
		"model": "gpt-test",
		"choices": [{
			"index": 0,
			"finish_reason": "stop",
			"message": {"role": "assistant", "content": " hi there "}
		}],
		"usage": {"prompt_tokens": 3, "completion_tokens": 2, "total_tokens": 5}
	}`, func(r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
	})

	client := NewOpenAIClient(config.LLMConfig{
		Provider: config.ProviderOpenAI,
		APIURL:   ts.URL,
		APIKey:   "sk-test",
		Model:    "gpt-test",
	})
	reply, err := client.Complete(context.Background(), []Message{
		{Role: "user", Content: "hello"},
		{Role: "assistant", Content: "hi"},
		{Role: "user", Content: "again"},
	})
	require.NoError(t, err)

	assert.Equal(t, "hi there", reply)
	assert.True(t, strings.HasSuffix(gotPath, "/chat/completions"), gotPath)
	assert.Equal(t, "Bearer sk-test", gotAuth)
	assert.Equal(t, "gpt-test", gotBody.Model)
	assert.Equal(t, []Message{
		{Role: "user", Content: "hello"},
		{Role: "assistant", Content: "hi"},
		{Role: "user", Content: "again"},
	}, gotBody.Messages)
}

// TestOpenAIClientDoesNotRetry 验证上游失败只请求一次。
func TestOpenAIClientDoesNotRetry(t *testing.T) {
	calls := 0
	ts := newUpstream(t, http.StatusInternalServerError, `{"error":{"message":"boom"}}`, func(*http.Request) {
		calls++
	})

	client := NewOpenAIClient(config.LLMConfig{APIURL: ts.URL, APIKey: "k", Model: "m"})
	_, err := client.Complete(context.Background(), []Message{{Role: "user", Content: "x"}})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestAnthropicClientComplete(t *testing.T) {
	var (
		gotPath string
		gotKey  string
		gotBody map[string]any
	)
	ts := newUpstream(t, http.StatusOK, `{
		"id": "msg_1",
		"type": "message",
		"role": "assistant",
		"model": "claude-test",
		"content": [{"type": "text", "text": "hello "}, {"type": "text", "text": "world\n"}],
		"stop_reason": "end_turn",
		"usage": {"input_tokens": 3, "output_tokens": 2}
	}`, func(r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("X-Api-Key")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
	})

	client := NewAnthropicClient(config.LLMConfig{
		Provider: config.ProviderAnthropic,
		APIURL:   ts.URL,
		APIKey:   "sk-ant-test",
		Model:    "claude-test",
	})
	reply, err := client.Complete(context.Background(), []Message{
		{Role: "user", Content: "hello"},
		{Role: "assistant", Content: "hi"},
		{Role: "user", Content: "again"},
	})
	require.NoError(t, err)

	assert.Equal(t, "hello world", reply)
	assert.True(t, strings.HasSuffix(gotPath, "/v1/messages"), gotPath)
	assert.Equal(t, "sk-ant-test", gotKey)
	assert.Equal(t, float64(defaultAnthropicMaxTokens), gotBody["max_tokens"])

	messages, ok := gotBody["messages"].([]any)
	require.True(t, ok)
	require.Len(t, messages, 3)
	roles := make([]string, 0, len(messages))
	for _, m := range messages {
		roles = append(roles, m.(map[string]any)["role"].(string))
	}
	assert.Equal(t, []string{"user", "assistant", "user"}, roles)
}

func TestAnthropicClientEmptyReply(t *testing.T) {
	ts := newUpstream(t, http.StatusOK, `{
		"id": "msg_1", "type": "message", "role": "assistant", "model": "m",
		"content": [{"type": "text", "text": "  "}],
		"stop_reason": "end_turn",
		"usage": {"input_tokens": 1, "output_tokens": 0}
	}`, nil)

	client := NewAnthropicClient(config.LLMConfig{APIURL: ts.URL, APIKey: "k", Model: "m"})
	_, err := client.Complete(context.Background(), []Message{{Role: "user", Content: "x"}})
	assert.ErrorIs(t, err, ErrEmptyReply)
}
