// internal/browser/stability.go
package browser

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/stepwright/internal/config"
)

// frameTimeout bounds the animation-frame yield; rAF callbacks stall in throttled tabs.
const frameTimeout = time.Second

// readyPollScript resolves once the document has a body and has finished parsing.
const readyPollScript = `new Promise((resolve) => {
	const check = () => {
		if (document.body && document.readyState !== 'loading') {
			resolve(true);
			return;
		}
		setTimeout(check, 50);
	};
	check();
})`

// animationScript returns, in milliseconds, the longest declared animation or
// transition (duration plus delay) on any element of the page.
const animationScript = `(() => {
	const toMs = (v) => {
		v = (v || '').trim();
		if (v.endsWith('ms')) return parseFloat(v) || 0;
		if (v.endsWith('s')) return (parseFloat(v) || 0) * 1000;
		return 0;
	};
	const longest = (durations, delays) => {
		const d = durations.split(',');
		const l = (delays || '0s').split(',');
		let max = 0;
		for (let i = 0; i < d.length; i++) {
			max = Math.max(max, toMs(d[i]) + toMs(l[i % l.length]));
		}
		return max;
	};
	let max = 0;
	for (const el of document.querySelectorAll('*')) {
		const cs = window.getComputedStyle(el);
		if (cs.animationName && cs.animationName !== 'none') {
			max = Math.max(max, longest(cs.animationDuration, cs.animationDelay));
		}
		if (cs.transitionDuration && cs.transitionDuration.split(',').some((d) => toMs(d) > 0)) {
			max = Math.max(max, longest(cs.transitionDuration, cs.transitionDelay));
		}
	}
	return max;
})()`

// frameScript resolves after two animation-frame boundaries.
const frameScript = `new Promise((resolve) => requestAnimationFrame(() => requestAnimationFrame(() => resolve(true))))`

// StabilityTarget is the slice of a page the stability monitor needs.
type StabilityTarget interface {
	WaitNetworkIdle(ctx context.Context, idle, max time.Duration) error
	Evaluate(ctx context.Context, expression string, out any) error
}

// StabilityMonitor waits for a page to look visually settled before it is captured.
type StabilityMonitor struct {
	cfg    config.StabilityConfig
	logger *zap.Logger
}

// NewStabilityMonitor creates a monitor using the configured stability timings.
func NewStabilityMonitor(cfg config.StabilityConfig, logger *zap.Logger) *StabilityMonitor {
	return &StabilityMonitor{cfg: cfg, logger: logger.Named("stability")}
}

// Settle waits for network quiescence, then for running CSS animations and
// transitions (capped), then yields two animation frames. It is best effort: every
// failure is logged and Settle always returns so the capture can proceed.
func (p *StabilityMonitor) Settle(ctx context.Context, target StabilityTarget) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Recovered from panic during stability check.", zap.Any("panic", r))
		}
	}()

	if err := target.WaitNetworkIdle(ctx, p.cfg.NetworkIdle, p.cfg.NetworkMax); err != nil {
		p.logger.Debug("Network idle check failed.", zap.Error(err))
	}
	if err := p.WaitAnimations(ctx, target); err != nil {
		p.logger.Debug("Animation check failed.", zap.Error(err))
	}
	if err := p.WaitFrames(ctx, target); err != nil {
		p.logger.Debug("Animation frame yield failed.", zap.Error(err))
	}
}

// WaitAnimations sleeps for the longest declared animation on the page, capped at
// the configured maximum.
func (p *StabilityMonitor) WaitAnimations(ctx context.Context, target StabilityTarget) error {
	var longestMs float64
	if err := target.Evaluate(ctx, animationScript, &longestMs); err != nil {
		return fmt.Errorf("measure animations: %w", err)
	}

	wait := time.Duration(longestMs * float64(time.Millisecond))
	if wait > p.cfg.AnimationCap {
		wait = p.cfg.AnimationCap
	}
	if wait <= 0 {
		return nil
	}

	p.logger.Debug("Waiting for animations to finish.", zap.Duration("wait", wait))
	return sleepCtx(ctx, wait)
}

// WaitFrames yields two requestAnimationFrame boundaries.
func (p *StabilityMonitor) WaitFrames(ctx context.Context, target StabilityTarget) error {
	frameCtx, cancel := context.WithTimeout(ctx, frameTimeout)
	defer cancel()

	var ok bool
	return target.Evaluate(frameCtx, frameScript, &ok)
}

// CheckReady confirms the page has a body, a quiet network and a parsed DOM, then
// yields two frames. The whole check is bounded by limit.
func (p *StabilityMonitor) CheckReady(ctx context.Context, target StabilityTarget, limit time.Duration) error {
	checkCtx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	var ready bool
	if err := target.Evaluate(checkCtx, readyPollScript, &ready); err != nil {
		return fmt.Errorf("document not ready: %w", err)
	}
	if err := target.WaitNetworkIdle(checkCtx, p.cfg.NetworkIdle, p.cfg.NetworkMax); err != nil {
		return fmt.Errorf("network idle: %w", err)
	}
	return p.WaitFrames(checkCtx, target)
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
