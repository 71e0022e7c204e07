// internal/engine/fakes_test.go
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/stepwright/api/schemas"
	"github.com/xkilldash9x/stepwright/internal/browser"
	"github.com/xkilldash9x/stepwright/internal/capture"
	"github.com/xkilldash9x/stepwright/internal/config"
)

var errNotFound = errors.New("not found")

// fakePage is an in-memory page. Selectors listed in present resolve immediately;
// any other selector blocks until the caller's deadline.
type fakePage struct {
	mu        sync.Mutex
	present   map[string]string
	attrs     map[string]map[string]string
	options   map[string][]string
	calls     []string
	typed     map[string]string
	shotErr   error
	panicOn   string
	navErr    error
	scrolls   int
	navigated []string
}

func newFakePage() *fakePage {
	return &fakePage{
		present: make(map[string]string),
		attrs:   make(map[string]map[string]string),
		options: make(map[string][]string),
		typed:   make(map[string]string),
	}
}

func (p *fakePage) record(call string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, call)
	if p.panicOn != "" && strings.HasPrefix(call, p.panicOn) {
		panic("fake page exploded on " + call)
	}
}

func (p *fakePage) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

func (p *fakePage) has(selector string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.present[selector]
	return ok
}

func (p *fakePage) Navigate(ctx context.Context, url string) error {
	p.record("navigate " + url)
	if p.navErr != nil {
		return p.navErr
	}
	p.mu.Lock()
	p.navigated = append(p.navigated, url)
	p.mu.Unlock()
	return nil
}

func (p *fakePage) WaitReady(ctx context.Context, selector string, st schemas.SelectorType) error {
	p.record("wait " + selector)
	if p.has(selector) {
		return nil
	}
	<-ctx.Done()
	return ctx.Err()
}

func (p *fakePage) Click(ctx context.Context, selector string, st schemas.SelectorType) error {
	p.record("click " + selector)
	return nil
}

func (p *fakePage) Type(ctx context.Context, selector string, st schemas.SelectorType, value string) error {
	p.record("type " + selector)
	p.mu.Lock()
	p.typed[selector] = value
	p.mu.Unlock()
	return nil
}

func (p *fakePage) Text(ctx context.Context, selector string, st schemas.SelectorType) (string, error) {
	p.record("text " + selector)
	p.mu.Lock()
	defer p.mu.Unlock()
	return strings.TrimSpace(p.present[selector]), nil
}

func (p *fakePage) Attribute(ctx context.Context, selector string, st schemas.SelectorType, name string) (string, bool, error) {
	p.record("attr " + selector)
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.attrs[selector][name]
	return v, ok, nil
}

func (p *fakePage) Select(ctx context.Context, selector string, st schemas.SelectorType, value string) error {
	p.record("select " + selector)
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, o := range p.options[selector] {
		if o == value {
			return nil
		}
	}
	return fmt.Errorf("no option with value %q", value)
}

func (p *fakePage) ScrollByViewport(ctx context.Context) error {
	p.record("scroll")
	p.mu.Lock()
	p.scrolls++
	p.mu.Unlock()
	return nil
}

func (p *fakePage) Evaluate(ctx context.Context, expression string, out any) error {
	p.record("evaluate")
	return nil
}

func (p *fakePage) FullScreenshot(ctx context.Context) ([]byte, error) {
	p.record("screenshot")
	if p.shotErr != nil {
		return nil, p.shotErr
	}
	return []byte("\x89PNG"), nil
}

func (p *fakePage) WaitNetworkIdle(ctx context.Context, idle, max time.Duration) error {
	p.record("idle")
	return nil
}

// fakeStabilizer counts settles and returns a configured readiness error.
type fakeStabilizer struct {
	mu       sync.Mutex
	settles  int
	readyErr error
	panics   bool
}

func (s *fakeStabilizer) Settle(ctx context.Context, target browser.StabilityTarget) {
	if s.panics {
		panic("stabilizer bug")
	}
	s.mu.Lock()
	s.settles++
	s.mu.Unlock()
}

func (s *fakeStabilizer) CheckReady(ctx context.Context, target browser.StabilityTarget, limit time.Duration) error {
	return s.readyErr
}

func (s *fakeStabilizer) Settles() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settles
}

// recordingCapturer keeps every shot and hands back sequential references.
type recordingCapturer struct {
	mu    sync.Mutex
	shots []capture.Shot
}

func (c *recordingCapturer) Persist(ctx context.Context, shot capture.Shot) (capture.Ref, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shots = append(c.shots, shot)
	id := int64(len(c.shots))
	return capture.Ref{URL: fmt.Sprintf("%s%d", schemas.ScreenshotURLPrefix, id), ScreenshotID: &id, Strategy: "store"}, nil
}

func (c *recordingCapturer) Filenames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, len(c.shots))
	for i, s := range c.shots {
		names[i] = s.Filename
	}
	return names
}

// mockLauncher is a testify mock so tests can assert Release was called.
type mockLauncher struct {
	mock.Mock
}

func (m *mockLauncher) Acquire(ctx context.Context) (Page, error) {
	args := m.Called(ctx)
	page, _ := args.Get(0).(Page)
	return page, args.Error(1)
}

func (m *mockLauncher) Release(ctx context.Context, page Page) {
	m.Called(ctx, page)
}

// fakeStore is an in-memory Store that enforces the one-way terminal transition.
type fakeStore struct {
	mu          sync.Mutex
	scripts     map[int64]*schemas.Script
	executions  map[int64]*schemas.Execution
	nextID      int64
	completions int
}

func newFakeStore(scripts ...*schemas.Script) *fakeStore {
	s := &fakeStore{scripts: make(map[int64]*schemas.Script), executions: make(map[int64]*schemas.Execution)}
	for _, sc := range scripts {
		s.scripts[sc.ID] = sc
	}
	return s
}

func (s *fakeStore) GetScript(ctx context.Context, id int64) (*schemas.Script, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.scripts[id]
	if !ok {
		return nil, errNotFound
	}
	return sc, nil
}

func (s *fakeStore) CreateExecution(ctx context.Context, scriptID int64) (*schemas.Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	e := &schemas.Execution{ID: s.nextID, ScriptID: scriptID, Status: schemas.StatusRunning, StartedAt: time.Now()}
	s.executions[e.ID] = e
	cp := *e
	return &cp, nil
}

func (s *fakeStore) CompleteExecution(ctx context.Context, id int64, status schemas.ExecutionStatus, result *schemas.ExecutionResult, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.executions[id]
	if !ok {
		return errNotFound
	}
	if e.Status != schemas.StatusRunning {
		return nil
	}
	now := time.Now()
	e.Status, e.Result, e.ErrorMessage, e.CompletedAt = status, result, errMsg, &now
	s.completions++
	return nil
}

func (s *fakeStore) GetExecution(ctx context.Context, id int64) (*schemas.Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.executions[id]
	if !ok {
		return nil, errNotFound
	}
	cp := *e
	return &cp, nil
}

func (s *fakeStore) ListScreenshots(ctx context.Context, executionID int64) ([]schemas.ScreenshotRef, error) {
	return []schemas.ScreenshotRef{}, nil
}

func (s *fakeStore) Completions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completions
}

func testEngineConfig() config.EngineConfig {
	return config.EngineConfig{
		StepDelay:      time.Millisecond,
		PersistTimeout: time.Second,
		Timeouts: config.TimeoutConfig{
			Navigation: 200 * time.Millisecond,
			Selector:   50 * time.Millisecond,
		},
		Wait: config.WaitConfig{Default: 20 * time.Millisecond, Extra: 50 * time.Millisecond},
		Stability: config.StabilityConfig{
			NetworkIdle:  5 * time.Millisecond,
			NetworkMax:   20 * time.Millisecond,
			AnimationCap: 10 * time.Millisecond,
			ScrollSettle: 5 * time.Millisecond,
		},
	}
}

func intPtr(v int) *int { return &v }
