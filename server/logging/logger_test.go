package logging

import (
	"bytes"
	"context"
	"testing"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"debug":    zerolog.DebugLevel,
		"WARN":     zerolog.WarnLevel,
		"warning":  zerolog.WarnLevel,
		"error":    zerolog.ErrorLevel,
		"disabled": zerolog.Disabled,
		"":         zerolog.InfoLevel,
		"bogus":    zerolog.InfoLevel,
	}
	for in, want := range tests {
		assert.Equal(t, want, parseLevel(in), in)
	}
}

func TestCtx_AddsContextFields(t *testing.T) {
	var buf bytes.Buffer
	prev := setLogger(NewTestLogger(&buf))
	defer setLogger(prev)
	prevLevel := zerolog.GlobalLevel()
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	defer zerolog.SetGlobalLevel(prevLevel)

	ctx := ContextWithCorrelationID(context.Background(), "abc12345")
	ctx = ContextWithConnID(ctx, "01HZCONN")
	Ctx(ctx).Info().Msg("hello")

	var out map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	assert.Equal(t, "abc12345", out["correlation_id"])
	assert.Equal(t, "01HZCONN", out["conn_id"])
	assert.Equal(t, "hello", out["message"])
}

func TestContextWithCorrelationID_GeneratesWhenEmpty(t *testing.T) {
	a := correlationID(ContextWithCorrelationID(context.Background(), ""))
	b := correlationID(ContextWithCorrelationID(context.Background(), ""))
	assert.Len(t, a, 8)
	assert.NotEqual(t, a, b)
	assert.Equal(t, "req-42", correlationID(ContextWithCorrelationID(context.Background(), "req-42")))
}

func TestWithComponent(t *testing.T) {
	var buf bytes.Buffer
	prev := setLogger(NewTestLogger(&buf))
	defer setLogger(prev)

	l := WithComponent("room")
	l.Info().Msg("seeded")
	Err(assert.AnError).Msg("failed")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)
	var first, second map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &first))
	require.NoError(t, json.Unmarshal(lines[1], &second))
	assert.Equal(t, "room", first["component"])
	assert.Equal(t, "error", second["level"])
	assert.Equal(t, assert.AnError.Error(), second["error"])
}
