package cmd

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/stepwright/api/schemas"
	"github.com/xkilldash9x/stepwright/internal/browser"
	"github.com/xkilldash9x/stepwright/internal/capture"
	"github.com/xkilldash9x/stepwright/internal/config"
	"github.com/xkilldash9x/stepwright/internal/engine"
	"github.com/xkilldash9x/stepwright/internal/service"
	"github.com/xkilldash9x/stepwright/internal/store"
)

var pngBytes = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

// stubPage answers every call at once. Selectors in missing never appear.
type stubPage struct {
	missing map[string]bool
}

func (p *stubPage) Navigate(context.Context, string) error { return nil }
func (p *stubPage) WaitReady(ctx context.Context, selector string, _ schemas.SelectorType) error {
	if p.missing[selector] {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}
func (p *stubPage) Click(context.Context, string, schemas.SelectorType) error { return nil }
func (p *stubPage) Type(context.Context, string, schemas.SelectorType, string) error {
	return nil
}
func (p *stubPage) Text(context.Context, string, schemas.SelectorType) (string, error) {
	return "Example Domain", nil
}
func (p *stubPage) Attribute(context.Context, string, schemas.SelectorType, string) (string, bool, error) {
	return "https://example.com/more", true, nil
}
func (p *stubPage) Select(context.Context, string, schemas.SelectorType, string) error { return nil }
func (p *stubPage) ScrollByViewport(context.Context) error                             { return nil }
func (p *stubPage) Evaluate(context.Context, string, any) error                        { return nil }
func (p *stubPage) FullScreenshot(context.Context) ([]byte, error) {
	return append([]byte(nil), pngBytes...), nil
}
func (p *stubPage) WaitNetworkIdle(context.Context, time.Duration, time.Duration) error {
	return nil
}

type stubLauncher struct {
	page *stubPage
	err  error
}

func (l *stubLauncher) Acquire(context.Context) (engine.Page, error) {
	if l.err != nil {
		return nil, l.err
	}
	return l.page, nil
}
func (l *stubLauncher) Release(context.Context, engine.Page) {}

type settledStabilizer struct{}

func (settledStabilizer) Settle(context.Context, browser.StabilityTarget) {}
func (settledStabilizer) CheckReady(context.Context, browser.StabilityTarget, time.Duration) error {
	return nil
}

// sharedRepo keeps the test store open across command invocations; each
// command's shutdown would otherwise close it.
type sharedRepo struct {
	store.Repository
}

func (sharedRepo) Close() error { return nil }

// testFactory builds components around one shared in-memory store so state
// survives across command invocations within a test.
type testFactory struct {
	mu        sync.Mutex
	repo      *store.SQLiteStore
	launcher  *stubLauncher
	createErr error
	creates   int
}

func newTestFactory(t *testing.T) *testFactory {
	t.Helper()
	repo, err := store.NewMemory(context.Background(), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return &testFactory{
		repo:     repo,
		launcher: &stubLauncher{page: &stubPage{missing: map[string]bool{}}},
	}
}

func (f *testFactory) Create(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*service.Components, error) {
	f.mu.Lock()
	f.creates++
	f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}

	engineCfg := cfg.Engine
	engineCfg.Timeouts.Selector = 50 * time.Millisecond

	repo := sharedRepo{f.repo}
	chain := capture.NewDefaultChain(repo, config.CaptureConfig{}, logger)
	executor, err := engine.NewStepExecutor(engineCfg, settledStabilizer{}, chain, logger)
	if err != nil {
		return nil, err
	}
	orch, err := engine.NewOrchestrator(engineCfg, repo, f.launcher, executor, logger)
	if err != nil {
		return nil, err
	}
	return &service.Components{
		Store:        repo,
		Capture:      chain,
		Executor:     executor,
		Orchestrator: orch,
	}, nil
}

var _ service.ComponentFactory = (*testFactory)(nil)

// writeConfig writes a minimal config using the memory driver and returns its path.
func writeConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "logger:\n  level: error\n  format: console\ndatabase:\n  driver: memory\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// writeScript stores a script definition in a temp file and returns its path.
func writeScript(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "script.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// runCommand executes the command tree with args and returns stdout.
func runCommand(t *testing.T, factory service.ComponentFactory, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand(factory)
	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(append([]string{"--config", writeConfig(t)}, args...))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := root.ExecuteContext(ctx)
	return stdout.String(), err
}

var errFactory = errors.New("factory exploded")

func itoa(id int64) string { return strconv.FormatInt(id, 10) }
