package session

import (
	"context"
	"sync"
	"time"

	"chat-relay/server/internal/model"
)

type entry struct {
	turns     []model.Turn
	updatedAt time.Time
}

// InMemoryStore 是一个基于内存的 Session 存储实现。
type InMemoryStore struct {
	mu   sync.RWMutex
	data map[string]*entry
	now  func() time.Time
}

func NewInMemoryStore() *InMemoryStore {
	// 重启即丢数据；多实例部署需要替换为持久化后端。
	return &InMemoryStore{
		data: make(map[string]*entry),
		now:  time.Now,
	}
}

// Get 根据 SessionID 获取轮次副本。
func (s *InMemoryStore) Get(_ context.Context, id string) ([]model.Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.data[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneTurns(e.turns), nil
}

// Save 保存或替换会话轮次。
func (s *InMemoryStore) Save(_ context.Context, id string, turns []model.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[id] = &entry{turns: cloneTurns(turns), updatedAt: s.now()}
	return nil
}

func (s *InMemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data, id)
	return nil
}

func (s *InMemoryStore) Expire(_ context.Context, before time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expired []string
	for id, e := range s.data {
		if e.updatedAt.Before(before) {
			delete(s.data, id)
			expired = append(expired, id)
		}
	}
	return expired, nil
}

// Len 返回当前会话数。
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
