package observability

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/ask-relay/internal/config"
)

func TestSetupLogger_DevAndProd(t *testing.T) {
	lg := SetupLogger(config.Config{AppEnv: "dev", OTELServiceName: "svc"})
	require.NotNil(t, lg)
	assert.True(t, lg.Enabled(context.Background(), slog.LevelDebug))

	lg2 := SetupLogger(config.Config{AppEnv: "prod", OTELServiceName: "svc"})
	require.NotNil(t, lg2)
	assert.False(t, lg2.Enabled(context.Background(), slog.LevelDebug))
}

func TestLoggerContext(t *testing.T) {
	assert.Equal(t, slog.Default(), LoggerFromContext(context.Background()))
	//nolint:staticcheck // nil context is handled explicitly.
	assert.Equal(t, slog.Default(), LoggerFromContext(nil))

	lg := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := ContextWithLogger(context.Background(), lg)
	assert.Same(t, lg, LoggerFromContext(ctx))

	// nil logger leaves the context untouched
	assert.Equal(t, ctx, ContextWithLogger(ctx, nil))
}

func TestRequestIDContext(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, "", RequestIDFromContext(ctx))
	assert.Equal(t, ctx, ContextWithRequestID(ctx, ""))

	ctx = ContextWithRequestID(ctx, "01HZX")
	assert.Equal(t, "01HZX", RequestIDFromContext(ctx))
}
