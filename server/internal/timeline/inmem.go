package timeline

import (
	"context"
	"sync"
	"time"

	"chat-relay/server/internal/model"
)

// InMemoryStore 是一个基于内存的 Timeline 存储实现。
type InMemoryStore struct {
	mu     sync.RWMutex
	events map[string][]model.Event
	seq    map[string]int64
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		events: make(map[string][]model.Event),
		seq:    make(map[string]int64),
	}
}

// Append 追加事件到 timeline，并为该 session 分配单调递增 seq。
func (s *InMemoryStore) Append(_ context.Context, sessionID string, evt *model.Event) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq[sessionID]++
	seq := s.seq[sessionID]

	eventCopy := *evt
	eventCopy.Seq = seq
	eventCopy.SessionID = sessionID
	s.events[sessionID] = append(s.events[sessionID], eventCopy)

	return seq, nil
}

// List 返回某个 session 的全部 timeline 事件（按 seq 顺序）。
// 返回切片副本，避免调用方修改内部数据。
func (s *InMemoryStore) List(_ context.Context, sessionID string) ([]model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := s.events[sessionID]
	out := make([]model.Event, len(events))
	copy(out, events)
	return out, nil
}

// Delete 删除某个 session 的事件与序号状态。再次写入时 seq 从 1 重新开始。
func (s *InMemoryStore) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.events, sessionID)
	delete(s.seq, sessionID)
	return nil
}

// Expire 按最后一条事件的 ServerTS 回收空闲 session。
// 事件按时间顺序追加，所以只看最后一条。
func (s *InMemoryStore) Expire(_ context.Context, before time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expired []string
	for id, events := range s.events {
		if len(events) == 0 || events[len(events)-1].ServerTS.Before(before) {
			expired = append(expired, id)
			delete(s.events, id)
			delete(s.seq, id)
		}
	}
	return expired, nil
}
