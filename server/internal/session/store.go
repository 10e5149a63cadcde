package session

import (
	"context"
	"errors"
	"time"

	"chat-relay/server/internal/model"
)

var ErrNotFound = errors.New("session not found")

// Store 保存每个会话的有序轮次。实现必须支持并发插入新 key；
// 同一会话的读-改-写原子性由调用方（relay）负责。
type Store interface {
	// Get 返回会话的轮次副本；未见过的会话返回 ErrNotFound。
	Get(ctx context.Context, id string) ([]model.Turn, error)
	// Save 整体替换会话的轮次。
	Save(ctx context.Context, id string, turns []model.Turn) error
	// Delete 删除会话；会话不存在时不报错。
	Delete(ctx context.Context, id string) error
	// Expire 删除最后更新时间早于 before 的会话，返回被删除的会话 ID。
	Expire(ctx context.Context, before time.Time) ([]string, error)
}

// GetOrCreate 返回会话的轮次；未见过的会话返回空序列而不是错误。
func GetOrCreate(ctx context.Context, s Store, id string) ([]model.Turn, error) {
	turns, err := s.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return []model.Turn{}, nil
	}
	if err != nil {
		return nil, err
	}
	return turns, nil
}

func cloneTurns(turns []model.Turn) []model.Turn {
	out := make([]model.Turn, len(turns))
	copy(out, turns)
	return out
}
