package timeline

import (
	"context"
	"time"

	"chat-relay/server/internal/model"
)

type Store interface {
	// Append 写入一条审计事件，返回本次写入的 seq。
	// 约定：同一 session 的 seq 单调递增；每次调用都会落一条新事件。
	Append(ctx context.Context, sessionID string, evt *model.Event) (int64, error)
	// List 返回该 session 的全量事件（按 seq 顺序）。
	List(ctx context.Context, sessionID string) ([]model.Event, error)
	// Delete 丢弃该 session 的全部事件，会话被清空或过期时调用。
	Delete(ctx context.Context, sessionID string) error
	// Expire 丢弃最后一条事件早于 before 的 session，返回被丢弃的 session ID。
	Expire(ctx context.Context, before time.Time) ([]string, error)
}
