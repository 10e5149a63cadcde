package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-relay/server/internal/config"
)

func newUpstream(t *testing.T, status int, body string, inspect func(r *http.Request)) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if inspect != nil {
			inspect(r)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(ts.Close)
	return ts
}

func completionClient(url string) *CompletionClient {
	return NewCompletionClient(config.LLMConfig{
		Provider: config.ProviderCompletion,
		APIURL:   url,
		APIKey:   "test-key",
	})
}

// TestCompletionClientSendsHistoryAndTrimsReply 验证请求体、鉴权头以及回复的去空白处理。
func TestCompletionClientSendsHistoryAndTrimsReply(t *testing.T) {
	var (
		gotAuth   string
		gotMethod string
		gotBody   map[string]any
	)
	ts := newUpstream(t, http.StatusOK, `{"choices":[{"text":" hi there "}]}`, func(r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotMethod = r.Method
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
	})

	messages := []Message{
		{Role: "user", Content: "hello"},
		{Role: "assistant", Content: "hi"},
		{Role: "user", Content: "how are you"},
	}
	reply, err := completionClient(ts.URL).Complete(context.Background(), messages)
	require.NoError(t, err)

	assert.Equal(t, "hi there", reply)
	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "Bearer test-key", gotAuth)
	assert.Equal(t, []any{
		map[string]any{"role": "user", "content": "hello"},
		map[string]any{"role": "assistant", "content": "hi"},
		map[string]any{"role": "user", "content": "how are you"},
	}, gotBody["messages"])
	// 未配置的可选参数不出现在请求体里
	assert.NotContains(t, gotBody, "model")
	assert.NotContains(t, gotBody, "max_tokens")
}

func TestCompletionClientOptionalParams(t *testing.T) {
	var gotBody map[string]any
	ts := newUpstream(t, http.StatusOK, `{"choices":[{"text":"ok"}]}`, func(r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
	})

	client := NewCompletionClient(config.LLMConfig{
		APIURL:      ts.URL,
		APIKey:      "k",
		Model:       "small",
		Temperature: 0.5,
		MaxTokens:   64,
	})
	_, err := client.Complete(context.Background(), []Message{{Role: "user", Content: "x"}})
	require.NoError(t, err)

	assert.Equal(t, "small", gotBody["model"])
	assert.Equal(t, 0.5, gotBody["temperature"])
	assert.Equal(t, float64(64), gotBody["max_tokens"])
}

func TestCompletionClientChatStyleFallback(t *testing.T) {
	ts := newUpstream(t, http.StatusOK, `{"choices":[{"message":{"content":"hello world\n"}}]}`, nil)

	reply, err := completionClient(ts.URL).Complete(context.Background(), []Message{{Role: "user", Content: "x"}})
	require.NoError(t, err)
	assert.Equal(t, "hello world", reply)
}

func TestCompletionClientFailures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		check  func(t *testing.T, err error)
	}{
		{
			name:   "non-success status",
			status: http.StatusServiceUnavailable,
			body:   `{"error":"overloaded"}`,
			check: func(t *testing.T, err error) {
				var statusErr *StatusError
				require.ErrorAs(t, err, &statusErr)
				assert.Equal(t, http.StatusServiceUnavailable, statusErr.StatusCode)
				assert.Contains(t, err.Error(), "overloaded")
			},
		},
		{
			name:   "malformed body",
			status: http.StatusOK,
			body:   `{"choices": [`,
			check: func(t *testing.T, err error) {
				assert.ErrorContains(t, err, "malformed response body")
			},
		},
		{
			name:   "whitespace reply",
			status: http.StatusOK,
			body:   `{"choices":[{"text":"   \n"}]}`,
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrEmptyReply)
			},
		},
		{
			name:   "no choices",
			status: http.StatusOK,
			body:   `{"choices":[]}`,
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrEmptyReply)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newUpstream(t, tt.status, tt.body, nil)
			_, err := completionClient(ts.URL).Complete(context.Background(), []Message{{Role: "user", Content: "x"}})
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

func TestCompletionClientNetworkError(t *testing.T) {
	ts := newUpstream(t, http.StatusOK, `{}`, nil)
	url := ts.URL
	ts.Close()

	_, err := completionClient(url).Complete(context.Background(), []Message{{Role: "user", Content: "x"}})
	assert.ErrorContains(t, err, "execute request")
}

// TestCompletionClientHonoursContext 验证调用方取消会中断挂起的上游请求。
func TestCompletionClientHonoursContext(t *testing.T) {
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer ts.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := completionClient(ts.URL).Complete(ctx, []Message{{Role: "user", Content: "x"}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}
