package llm

import (
	"context"
	"fmt"
	"strings"
)

// EchoClient 不访问网络，回显最后一条用户消息。用于没有上游凭证时的本地联调和页面调试。
type EchoClient struct {
	// Fail 非空时每次调用都返回该错误，便于演示失败路径
	Fail error
}

func NewEchoClient() *EchoClient {
	return &EchoClient{}
}

func (e *EchoClient) Complete(ctx context.Context, messages []Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if e.Fail != nil {
		return "", e.Fail
	}

	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role != "user" {
			continue
		}
		text := strings.TrimSpace(messages[i].Content)
		if text == "" {
			break
		}
		return fmt.Sprintf("echo (%d turns): %s", len(messages), text), nil
	}
	return "", ErrEmptyReply
}
