package logging

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type requestIDKey struct{}

// WithRequest 把请求 ID 与带 request_id 字段的子 logger 一起放进 ctx。
func WithRequest(ctx context.Context, requestID string) context.Context {
	ctx = context.WithValue(ctx, requestIDKey{}, requestID)
	logger := log.Logger.With().Str("request_id", requestID).Logger()
	return logger.WithContext(ctx)
}

// RequestID 返回 ctx 中的请求 ID，没有时为空串。
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// FromContext 返回请求级 logger；ctx 中没有时退回全局 logger。
func FromContext(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &log.Logger
}
