// internal/browser/network_monitor.go
package browser

import (
	"context"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// NetworkMonitor tracks in-flight requests for one tab and answers "has the network
// gone quiet" questions. It is fed by CDP network events, or directly in tests.
type NetworkMonitor struct {
	logger *zap.Logger

	mu           sync.Mutex
	inflight     map[string]struct{}
	lastActivity time.Time

	// activity receives a non-blocking signal on every request lifecycle event.
	activity chan struct{}
}

// NewNetworkMonitor creates a monitor with no tracked requests.
func NewNetworkMonitor(logger *zap.Logger) *NetworkMonitor {
	return &NetworkMonitor{
		logger:   logger.Named("network_monitor"),
		inflight: make(map[string]struct{}),
		activity: make(chan struct{}, 1),
	}
}

// Listen subscribes the monitor to the network events of the tab bound to tabCtx.
// The Network domain must be enabled on the tab for events to arrive.
func (m *NetworkMonitor) Listen(tabCtx context.Context) {
	chromedp.ListenTarget(tabCtx, m.handleEvent)
}

func (m *NetworkMonitor) handleEvent(ev interface{}) {
	switch e := ev.(type) {
	case *network.EventRequestWillBeSent:
		m.RequestStarted(string(e.RequestID))
	case *network.EventResponseReceived:
		m.touch()
	case *network.EventLoadingFinished:
		m.RequestFinished(string(e.RequestID))
	case *network.EventLoadingFailed:
		m.RequestFinished(string(e.RequestID))
	}
}

// RequestStarted marks a request as in flight. Redirects reuse the request id and
// are counted once.
func (m *NetworkMonitor) RequestStarted(id string) {
	m.mu.Lock()
	m.inflight[id] = struct{}{}
	m.lastActivity = time.Now()
	m.mu.Unlock()
	m.signal()
}

// RequestFinished removes a request from the in-flight set. Unknown ids are ignored
// apart from counting as activity.
func (m *NetworkMonitor) RequestFinished(id string) {
	m.mu.Lock()
	delete(m.inflight, id)
	m.lastActivity = time.Now()
	m.mu.Unlock()
	m.signal()
}

func (m *NetworkMonitor) touch() {
	m.mu.Lock()
	m.lastActivity = time.Now()
	m.mu.Unlock()
	m.signal()
}

func (m *NetworkMonitor) signal() {
	select {
	case m.activity <- struct{}{}:
	default:
	}
}

// Inflight returns the number of requests that have started but not finished.
func (m *NetworkMonitor) Inflight() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.inflight)
}

// LastActivity returns the time of the most recent network event, zero if none.
func (m *NetworkMonitor) LastActivity() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastActivity
}

// WaitIdle blocks until no request has been in flight for the idle window, or until
// max has elapsed. Reaching max is not an error: long-polling pages never go quiet.
// Only ctx cancellation is reported.
func (m *NetworkMonitor) WaitIdle(ctx context.Context, idle, max time.Duration) error {
	// Drop a signal left over from before this wait started.
	select {
	case <-m.activity:
	default:
	}

	safety := time.NewTimer(max)
	defer safety.Stop()
	idleTimer := time.NewTimer(idle)
	defer idleTimer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-safety.C:
			m.logger.Debug("Network still busy at safety timeout, continuing.",
				zap.Int("inflight", m.Inflight()), zap.Duration("max", max))
			return nil
		case <-m.activity:
			// Any request event restarts the quiet window.
			idleTimer.Reset(idle)
		case <-idleTimer.C:
			if m.Inflight() == 0 {
				return nil
			}
			// Requests are still open; the next finish event restarts the timer.
		}
	}
}
