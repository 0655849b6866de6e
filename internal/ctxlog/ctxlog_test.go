package ctxlog

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromContextFallsBack(t *testing.T) {
	l := FromContext(context.Background())
	require.NotNil(t, l)
	l.Info("dropped")
}

func TestRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(slog.LevelDebug, "json", &buf)
	require.NoError(t, err)

	ctx := WithLogger(context.Background(), l)
	FromContext(ctx).Debug("hello", "package", "foo")
	assert.Contains(t, buf.String(), `"package":"foo"`)
}

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"", slog.LevelInfo, false},
		{"debug", slog.LevelDebug, false},
		{"warn", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"loud", slog.LevelInfo, true},
	}
	for _, c := range cases {
		got, err := ParseLevel(c.in)
		if (err != nil) != c.wantErr || got != c.want {
			t.Fatalf("ParseLevel(%q)=(%v,%v) want %v", c.in, got, err, c.want)
		}
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	_, err := New(slog.LevelInfo, "xml", &bytes.Buffer{})
	assert.Error(t, err)
}
