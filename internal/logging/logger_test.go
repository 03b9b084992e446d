package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestInitJSONAndContextLogger(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "debug", Format: "json", Output: &buf})
	t.Cleanup(func() { Init(DefaultConfig()) })

	logger := WithUser(Component("inbox"), "u1")
	ctx := WithContext(context.Background(), logger)
	FromContext(ctx).Debug().Msg("refreshed")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "inbox", line["component"])
	require.Equal(t, "u1", line["user_id"])
	require.Equal(t, "refreshed", line["message"])

	buf.Reset()
	FromContext(context.Background()).Info().Msg("global")
	require.Contains(t, buf.String(), `"message":"global"`)
}

func TestParseLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		"warning": zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"unknown": zerolog.InfoLevel,
	}
	for in, want := range tests {
		require.Equal(t, want, parseLevel(in), in)
	}
}
