package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"chat-relay/server/internal/llm"
	"chat-relay/server/internal/logging"
	"chat-relay/server/internal/model"
	"chat-relay/server/internal/session"
	"chat-relay/server/internal/timeline"
)

// Relay 把用户消息连同会话历史转发给上游补全接口，并维护会话轮次。
//
// 职责与契约：
// - 同一会话的读-改-写串行执行（锁覆盖上游调用），不同会话互不阻塞。
// - 成功时一次保存 user + assistant 两个轮次；失败时什么都不写，存储保持调用前的状态。
// - 每次请求的结果追加到 Timeline，失败也记录，便于排查。
type Relay struct {
	store    session.Store
	timeline timeline.Store
	client   llm.Client
	locks    *sessionLocks
	now      func() time.Time
}

func New(store session.Store, timeline timeline.Store, client llm.Client, now func() time.Time) *Relay {
	if now == nil {
		now = time.Now
	}
	return &Relay{
		store:    store,
		timeline: timeline,
		client:   client,
		locks:    newSessionLocks(),
		now:      now,
	}
}

// HandleMessage 处理一条用户消息并返回助手回复。
func (r *Relay) HandleMessage(ctx context.Context, sessionID, message string) (string, error) {
	// 只拒绝空串；纯空白的消息照原样转发给上游。
	if sessionID == "" || message == "" {
		return "", &ValidationError{Msg: "missing session_id or message"}
	}

	unlock := r.locks.lock(sessionID)
	defer unlock()

	logger := logging.FromContext(ctx).With().Str("session_id", sessionID).Logger()

	turns, err := session.GetOrCreate(ctx, r.store, sessionID)
	if err != nil {
		return "", &StoreError{Op: "load", Err: err}
	}

	// 在副本上追加，失败时存储里的历史不受影响。
	history := make([]model.Turn, 0, len(turns)+2)
	history = append(history, turns...)
	history = append(history, model.Turn{Role: model.RoleUser, Content: message})

	started := r.now()
	reply, err := r.client.Complete(ctx, llm.MessagesFromTurns(history))
	if err != nil {
		logger.Warn().Err(err).Int("turns", len(history)).Msg("completion failed")
		r.record(ctx, sessionID, model.Event{Type: model.EventUpstreamError, Text: message, Error: err.Error()})
		return "", &UpstreamError{Err: err}
	}

	history = append(history, model.Turn{Role: model.RoleAssistant, Content: reply})
	if err := r.store.Save(ctx, sessionID, history); err != nil {
		return "", &StoreError{Op: "save", Err: err}
	}

	r.record(ctx, sessionID, model.Event{Type: model.EventUserMessage, Text: message})
	r.record(ctx, sessionID, model.Event{Type: model.EventAssistantText, Text: reply})

	logger.Info().
		Int("turns", len(history)).
		Dur("upstream_latency", r.now().Sub(started)).
		Msg("chat turn completed")
	return reply, nil
}

// History 返回会话已保存的轮次；会话不存在时返回 session.ErrNotFound。
func (r *Relay) History(ctx context.Context, sessionID string) ([]model.Turn, error) {
	return r.store.Get(ctx, sessionID)
}

// Timeline 返回会话的审计事件。
func (r *Relay) Timeline(ctx context.Context, sessionID string) ([]model.Event, error) {
	return r.timeline.List(ctx, sessionID)
}

// Reset 清空会话历史与时间线。与进行中的请求互斥。
func (r *Relay) Reset(ctx context.Context, sessionID string) error {
	unlock := r.locks.lock(sessionID)
	defer unlock()

	if err := r.store.Delete(ctx, sessionID); err != nil {
		return &StoreError{Op: "delete", Err: err}
	}
	if err := r.timeline.Delete(ctx, sessionID); err != nil {
		return fmt.Errorf("delete timeline: %w", err)
	}
	logging.FromContext(ctx).Info().Str("session_id", sessionID).Msg("session reset")
	return nil
}

// Expire 回收过期会话的时间线，签名与 session.ExpireFunc 一致。
// ids 是会话存储本轮删除的会话；只有失败记录、从未落库的会话由时间线按最后事件时间回收。
func (r *Relay) Expire(ctx context.Context, before time.Time, ids []string) {
	logger := logging.FromContext(ctx)
	for _, id := range ids {
		if err := r.timeline.Delete(ctx, id); err != nil {
			logger.Warn().Err(err).Str("session_id", id).Msg("delete expired timeline failed")
		}
	}

	dropped, err := r.timeline.Expire(ctx, before)
	if err != nil {
		logger.Warn().Err(err).Msg("expire timelines failed")
		return
	}
	if len(dropped) > 0 {
		logger.Debug().Int("timelines", len(dropped)).Msg("expired idle timelines")
	}
}

// record 追加审计事件。时间线只是旁路记录，写失败不影响对话结果。
func (r *Relay) record(ctx context.Context, sessionID string, evt model.Event) {
	evt.EventID = uuid.NewString()
	evt.RequestID = logging.RequestID(ctx)
	evt.ServerTS = r.now()
	if _, err := r.timeline.Append(ctx, sessionID, &evt); err != nil {
		logging.FromContext(ctx).Warn().Err(err).Str("session_id", sessionID).Msg("append timeline failed")
	}
}
