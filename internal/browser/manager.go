// internal/browser/manager.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/stepwright/internal/config"
)

// ErrLaunchFailed wraps every error that prevents a session from becoming usable.
var ErrLaunchFailed = errors.New("browser launch failed")

const defaultCloseTimeout = 10 * time.Second

// Manager launches one isolated browser process per acquired session.
type Manager struct {
	cfg     config.BrowserConfig
	persona Persona
	logger  *zap.Logger

	// wg tracks live sessions so Shutdown can wait for them.
	wg sync.WaitGroup
}

// NewManager creates a browser manager. No process is started until Acquire.
func NewManager(cfg config.BrowserConfig, logger *zap.Logger) *Manager {
	return &Manager{
		cfg:     cfg,
		persona: NewPersona(cfg),
		logger:  logger.Named("browser_manager"),
	}
}

// Acquire launches a fresh browser with its own profile and a single tab carrying
// the persona. The launch is verified with an about:blank navigation bounded by
// the configured launch timeout. Partially created resources are released before
// an error is returned.
func (m *Manager) Acquire(ctx context.Context) (*Session, error) {
	id := uuid.NewString()
	logger := m.logger.With(zap.String("session_id", id))

	profileDir, err := os.MkdirTemp("", "stepwright-"+id+"-")
	if err != nil {
		return nil, fmt.Errorf("%w: create profile directory: %v", ErrLaunchFailed, err)
	}

	// The browser must outlive ctx cancellation long enough to be released cleanly.
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(Detach(ctx), m.buildAllocatorOptions(profileDir)...)
	tabCtx, cancelTab := chromedp.NewContext(allocCtx, chromedp.WithLogf(logger.Sugar().Debugf))

	s := &Session{
		id:          id,
		ctx:         tabCtx,
		logger:      logger,
		monitor:     NewNetworkMonitor(logger),
		cancelTab:   cancelTab,
		cancelAlloc: cancelAlloc,
		profileDir:  profileDir,
	}
	s.monitor.Listen(tabCtx)

	if err := m.startTab(ctx, s); err != nil {
		releaseCtx, cancel := context.WithTimeout(context.Background(), m.closeTimeout())
		defer cancel()
		s.close(releaseCtx)
		return nil, fmt.Errorf("%w: %v", ErrLaunchFailed, err)
	}

	m.wg.Add(1)
	logger.Info("Browser session acquired.")
	return s, nil
}

// startTab allocates the browser on the first Run and applies the persona.
func (m *Manager) startTab(ctx context.Context, s *Session) error {
	// The first Run allocates the browser and is tied to the context it runs on, so
	// it runs on the tab context itself and the launch timeout is enforced here.
	errCh := make(chan error, 1)
	go func() {
		errCh <- chromedp.Run(s.ctx,
			network.Enable(),
			ApplyPersona(m.persona, s.logger),
			chromedp.Navigate("about:blank"),
		)
	}()

	launchCtx, cancel := context.WithTimeout(ctx, m.cfg.LaunchTimeout)
	defer cancel()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("browser failed to start or respond: %w", err)
		}
		return nil
	case <-launchCtx.Done():
		// Unblock the pending Run before reporting.
		s.cancelTab()
		<-errCh
		return fmt.Errorf("browser did not respond within %s: %w", m.cfg.LaunchTimeout, launchCtx.Err())
	}
}

// Release closes the session's tab and browser. Cleanup errors are logged, not
// returned. Releasing the same session twice is a no-op.
func (m *Manager) Release(ctx context.Context, s *Session) {
	if s == nil || !s.released.CompareAndSwap(false, true) {
		return
	}

	closeCtx, cancel := context.WithTimeout(Detach(ctx), m.closeTimeout())
	defer cancel()
	s.close(closeCtx)

	m.wg.Done()
	s.logger.Info("Browser session released.")
}

// Shutdown waits for live sessions to be released, bounded by ctx.
func (m *Manager) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("All browser sessions released.")
		return nil
	case <-ctx.Done():
		m.logger.Warn("Shutdown deadline exceeded with browser sessions still open.", zap.Error(ctx.Err()))
		return ctx.Err()
	}
}

func (m *Manager) closeTimeout() time.Duration {
	if m.cfg.CloseTimeout > 0 {
		return m.cfg.CloseTimeout
	}
	return defaultCloseTimeout
}

// allocatorFlags returns the Chrome command-line flags layered over the chromedp
// defaults. A false value removes a default flag.
func (m *Manager) allocatorFlags() map[string]interface{} {
	flags := map[string]interface{}{
		"enable-automation":         false,
		"headless":                  m.cfg.Headless,
		"ignore-certificate-errors": m.cfg.IgnoreTLSErrors,
		"disable-blink-features":    "AutomationControlled",
		"disable-extensions":        true,
		"disable-gpu":               m.cfg.Headless,
		"hide-scrollbars":           true,
	}

	// Containers usually lack the kernel features the sandbox needs.
	if runtime.GOOS == "linux" {
		flags["no-sandbox"] = true
		flags["disable-dev-shm-usage"] = true
		flags["disable-setuid-sandbox"] = true
	}

	for _, arg := range m.cfg.Args {
		parts := strings.SplitN(arg, "=", 2)
		name := strings.TrimPrefix(parts[0], "--")
		if len(parts) == 2 {
			flags[name] = parts[1]
		} else {
			flags[name] = true
		}
	}
	return flags
}

// buildAllocatorOptions assembles launch options: chromedp defaults, the flag
// overrides, the persona window and user agent, and the session profile.
func (m *Manager) buildAllocatorOptions(profileDir string) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	for name, value := range m.allocatorFlags() {
		opts = append(opts, chromedp.Flag(name, value))
	}

	opts = append(opts,
		chromedp.WindowSize(int(m.persona.Width), int(m.persona.Height)),
		chromedp.UserAgent(m.persona.UserAgent),
	)
	if profileDir != "" {
		opts = append(opts, chromedp.UserDataDir(profileDir))
	}
	if m.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(m.cfg.ExecPath))
	}
	return opts
}
