package logging

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSlogLogger_Levels(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	handler := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := NewSlog(slog.New(handler))

	logger.Debug("debug msg", "k", "v")
	logger.Info("info msg")
	logger.Warn("warn msg")
	logger.Error("error msg", "err", "boom")

	out := buf.String()
	require.Contains(t, out, "debug msg")
	require.Contains(t, out, "info msg")
	require.Contains(t, out, "warn msg")
	require.Contains(t, out, "error msg")
	require.Contains(t, out, "k=v")
}

func TestNopLogger_DiscardsEverything(t *testing.T) {
	t.Parallel()

	logger := NewNop()

	// None of these should panic or produce output; Fatal must not exit.
	logger.Debug("a")
	logger.Info("b", "k", 1)
	logger.Warn("c")
	logger.Error("d")
	logger.Fatal("e")
}
