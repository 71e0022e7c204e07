package service

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/xkilldash9x/stepwright/api/schemas"
	"github.com/xkilldash9x/stepwright/internal/config"
	"github.com/xkilldash9x/stepwright/internal/observability"
	"github.com/xkilldash9x/stepwright/internal/store"
)

func TestMain(m *testing.M) {
	cfg := config.NewDefaultConfig()
	observability.Initialize(cfg.Logger, zapcore.AddSync(os.Stderr))

	exitCode := m.Run()

	observability.Sync()
	os.Exit(exitCode)
}

func memoryConfig() *config.Config {
	cfg := config.NewDefaultConfig()
	cfg.Database.Driver = config.DriverMemory
	cfg.Capture.BucketDir = ""
	return cfg
}

func TestCreate_WiresComponents(t *testing.T) {
	ctx := context.Background()
	components, err := NewComponentFactory().Create(ctx, memoryConfig(), zap.NewNop())
	require.NoError(t, err)
	defer components.Shutdown(ctx)

	assert.NotNil(t, components.Store)
	assert.NotNil(t, components.BrowserManager)
	assert.NotNil(t, components.Executor)
	assert.NotNil(t, components.Orchestrator)
	assert.Equal(t, []string{"store", "inline"}, components.Capture.Strategies())
}

func TestCreate_BucketStrategyFromConfig(t *testing.T) {
	ctx := context.Background()
	cfg := memoryConfig()
	cfg.Capture.BucketDir = t.TempDir()

	components, err := NewComponentFactory().Create(ctx, cfg, zap.NewNop())
	require.NoError(t, err)
	defer components.Shutdown(ctx)

	assert.Equal(t, []string{"store", "bucket", "inline"}, components.Capture.Strategies())
}

func TestCreate_StoreFailure(t *testing.T) {
	openErr := errors.New("connection refused")
	factory := NewComponentFactoryWithStore(func(context.Context, config.DatabaseConfig, *zap.Logger) (store.Repository, error) {
		return nil, openErr
	})

	_, err := factory.Create(context.Background(), memoryConfig(), zap.NewNop())
	require.Error(t, err)
	assert.ErrorIs(t, err, openErr)
	assert.Contains(t, err.Error(), "failed to initialize memory store")
}

func TestCreate_RequiresConfig(t *testing.T) {
	_, err := NewComponentFactory().Create(context.Background(), nil, zap.NewNop())
	assert.Error(t, err)
}

func TestComponents_ShutdownIsSafeWhenPartial(t *testing.T) {
	repo, err := store.NewMemory(context.Background(), zap.NewNop())
	require.NoError(t, err)
	c := &Components{Store: repo}
	assert.NotPanics(t, func() { c.Shutdown(context.Background()) })

	_, err = repo.ListScripts(context.Background())
	assert.Error(t, err, "shutdown closes the store")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NotPanics(t, func() { (&Components{}).Shutdown(ctx) })
}

func TestComponents_UnknownScriptThroughOrchestrator(t *testing.T) {
	ctx := context.Background()
	components, err := NewComponentFactory().Create(ctx, memoryConfig(), zap.NewNop())
	require.NoError(t, err)
	defer components.Shutdown(ctx)

	_, err = components.Orchestrator.StartExecution(ctx, 12345)
	assert.ErrorIs(t, err, store.ErrNotFound)

	// A script with no steps still needs a browser; without Chrome the run fails,
	// with it the run completes. Either way it reaches a terminal state.
	script, err := components.Store.CreateScript(ctx, &schemas.Script{Name: "empty"})
	require.NoError(t, err)
	if testing.Short() {
		t.Skip("skipping browser launch in short mode")
	}
	resp, err := components.Orchestrator.StartExecution(ctx, script.ID)
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 90*time.Second)
	defer cancel()
	exec, err := components.Orchestrator.Wait(waitCtx, resp.ExecutionID)
	require.NoError(t, err)
	assert.True(t, exec.Status.IsTerminal())
}
