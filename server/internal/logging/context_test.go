package logging

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
)

func TestWithRequestAttachesID(t *testing.T) {
	prev := log.Logger
	t.Cleanup(func() { log.Logger = prev })

	var buf bytes.Buffer
	log.Logger = zerolog.New(&buf)

	ctx := WithRequest(context.Background(), "req-1")
	assert.Equal(t, "req-1", RequestID(ctx))

	FromContext(ctx).Info().Msg("hello")
	assert.Contains(t, buf.String(), `"request_id":"req-1"`)
}

func TestFromContextFallsBackToGlobal(t *testing.T) {
	prev := log.Logger
	t.Cleanup(func() { log.Logger = prev })

	var buf bytes.Buffer
	log.Logger = zerolog.New(&buf)

	assert.Empty(t, RequestID(context.Background()))
	FromContext(context.Background()).Info().Msg("global")
	assert.Contains(t, buf.String(), "global")
}
