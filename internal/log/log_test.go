package log_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/CZERTAINLY/renderq/internal/log"
	"github.com/stretchr/testify/require"
)

func TestContextAttrs(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	logger := log.New(&buf, false)

	ctx := log.ContextAttrs(context.Background(), slog.String("run", "r1"))
	a := log.ContextAttrs(ctx, slog.String("job", "a"))
	b := log.ContextAttrs(ctx, slog.String("job", "b"))

	logger.InfoContext(a, "first")
	logger.DebugContext(b, "hidden")
	logger.With("pid", 1).InfoContext(b, "second")

	dec := json.NewDecoder(&buf)
	var first, second map[string]any
	require.NoError(t, dec.Decode(&first))
	require.NoError(t, dec.Decode(&second))
	require.False(t, dec.More())

	require.Equal(t, "first", first["msg"])
	require.Equal(t, "r1", first["run"])
	require.Equal(t, "a", first["job"])

	require.Equal(t, "second", second["msg"])
	require.Equal(t, "b", second["job"])
	require.Equal(t, float64(1), second["pid"])
}
