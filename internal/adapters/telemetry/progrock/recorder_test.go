package progrock_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.trai.ch/keel/internal/adapters/telemetry/progrock"
	"go.trai.ch/keel/internal/core/domain"
	"go.trai.ch/keel/internal/core/ports"
)

func TestRecorder_VertexLifecycle(t *testing.T) {
	recorder := progrock.New()

	ctx, core := recorder.Record(context.Background(), "core 1.0.0 lib:core")
	got, ok := ports.VertexFromContext(ctx)
	require.True(t, ok)
	assert.Same(t, core, got)

	_, err := core.Stdout().Write([]byte("compiling core\n"))
	require.NoError(t, err)
	core.Log(domain.LogLevelDebug, "debug msg")
	core.Complete(nil)

	_, app := recorder.Record(context.Background(), "app 1.0.0 bin:app",
		ports.WithInputs("core 1.0.0 lib:core"))
	_, err = app.Stderr().Write([]byte("error: boom\n"))
	require.NoError(t, err)
	app.Complete(errors.New("exit status 1"))

	_, cached := recorder.Record(context.Background(), "util 2.0.0 lib:util")
	cached.Cached()

	require.NoError(t, recorder.Close())
	require.NoError(t, recorder.Close())
}

func TestVertexDigest_IsStable(t *testing.T) {
	assert.Equal(t, progrock.VertexDigest("a 1.0.0 lib:a"), progrock.VertexDigest("a 1.0.0 lib:a"))
	assert.NotEqual(t, progrock.VertexDigest("a 1.0.0 lib:a"), progrock.VertexDigest("a 1.0.0 bin:a"))
}
