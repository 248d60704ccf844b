package log

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"", slog.LevelInfo, false},
		{"info", slog.LevelInfo, false},
		{"WARNING", slog.LevelWarn, false},
		{"debug", slog.LevelDebug, false},
		{"trace", LevelTrace, false},
		{"error", slog.LevelError, false},
		{"verbose", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseLevel(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSetLogLevel(t *testing.T) {
	original := GetLogLevel()
	t.Cleanup(func() { _ = SetLogLevel(original) })

	require.NoError(t, SetLogLevel("debug"))
	assert.Equal(t, "debug", GetLogLevel())

	assert.Error(t, SetLogLevel("nope"))
	assert.Equal(t, "debug", GetLogLevel())
}

func TestFields(t *testing.T) {
	in := map[string]any{"uid": "u1"}

	out := Fields(context.Background(), in)
	assert.Equal(t, map[string]any{"uid": "u1"}, out)

	ctx := WithRequestID(context.Background(), "01HZY")
	out = Fields(ctx, in)
	assert.Equal(t, "01HZY", out["request_id"])
	assert.Equal(t, "u1", out["uid"])
	assert.NotContains(t, in, "request_id", "input map is left untouched")

	assert.Equal(t, "01HZY", RequestID(ctx))
	assert.Empty(t, RequestID(context.Background()))

	out = Fields(ctx, nil)
	assert.Equal(t, map[string]any{"request_id": "01HZY"}, out)
}

func TestRedactsSensitiveFields(t *testing.T) {
	var buf bytes.Buffer
	restore := SetOutput(&buf)
	t.Cleanup(restore)

	LogWarnWithFields("auth", "Login rejected", map[string]any{
		"idToken":     "eyJhbGciOiJSUzI1NiJ9.secret-payload",
		"code":        "4/0Adeu5BX",
		"tokenPrefix": "eyJhbGci...",
		"uid":         "u1",
	})

	out := buf.String()
	assert.NotContains(t, out, "secret-payload")
	assert.NotContains(t, out, "4/0Adeu5BX")
	assert.Contains(t, out, "idToken="+Redacted)
	assert.Contains(t, out, "tokenPrefix=eyJhbGci...")
	assert.Contains(t, out, "uid=u1")
	assert.Contains(t, out, "component=auth")
}
