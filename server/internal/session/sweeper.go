package session

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// Sweeper 按 cron 计划删除空闲超过 ttl 的会话。
type Sweeper struct {
	store    Store
	ttl      time.Duration
	cron     *cron.Cron
	now      func() time.Time
	onExpire ExpireFunc
}

// ExpireFunc 在每轮清理后调用，before 为本轮的截止时间，ids 为本轮从存储中删除的会话（可能为空）。
// 按会话存放、但不一定进过存储的数据（例如只有失败记录的时间线）也应按 before 回收。
type ExpireFunc func(ctx context.Context, before time.Time, ids []string)

// NewSweeper 创建清理器。schedule 支持标准 5 段表达式与 "@every 10m" 这类描述符。
// onExpire 可为空，用于联动清理其他按会话存放的数据（例如时间线）。
func NewSweeper(store Store, ttl time.Duration, schedule string, onExpire ExpireFunc) (*Sweeper, error) {
	if ttl <= 0 {
		return nil, fmt.Errorf("sweeper ttl must be positive, got %s", ttl)
	}

	s := &Sweeper{
		store:    store,
		ttl:      ttl,
		cron:     cron.New(),
		now:      time.Now,
		onExpire: onExpire,
	}
	if _, err := s.cron.AddFunc(schedule, s.run); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	return s, nil
}

// Start 启动后台调度。
func (s *Sweeper) Start() {
	s.cron.Start()
	log.Info().Dur("ttl", s.ttl).Msg("session sweeper started")
}

// Stop 停止调度并等待正在执行的清理结束。
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
	log.Info().Msg("session sweeper stopped")
}

func (s *Sweeper) run() {
	if _, err := s.Sweep(context.Background()); err != nil {
		log.Error().Err(err).Msg("session sweep failed")
	}
}

// Sweep 执行一次清理，返回删除的会话数。
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	before := s.now().Add(-s.ttl)
	expired, err := s.store.Expire(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("expire sessions: %w", err)
	}

	if s.onExpire != nil {
		s.onExpire(ctx, before, expired)
	}
	if len(expired) > 0 {
		log.Debug().Int("expired", len(expired)).Msg("expired idle sessions")
	}
	return len(expired), nil
}
