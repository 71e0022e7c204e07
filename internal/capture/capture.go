// Package capture persists screenshot bytes through an ordered chain of strategies.
// The chain always ends in an inline strategy, so a capture never fails the run.
package capture

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/stepwright/internal/observability"
)

// ErrAllStrategiesFailed is returned only by a chain without an inline fallback.
var ErrAllStrategiesFailed = errors.New("all screenshot strategies failed")

// Shot is one captured image waiting to be persisted.
type Shot struct {
	ExecutionID int64
	StepNumber  int
	Filename    string
	ContentType string
	Data        []byte
}

// Ref is where a persisted shot can be found again.
type Ref struct {
	URL          string
	ScreenshotID *int64
	Strategy     string
}

// Strategy persists a shot one particular way.
type Strategy interface {
	Name() string
	Persist(ctx context.Context, shot Shot) (Ref, error)
}

// Chain tries each strategy in order and returns the first success.
type Chain struct {
	strategies []Strategy
	logger     *zap.Logger
}

// NewChain builds a chain from strategies in priority order.
func NewChain(logger *zap.Logger, strategies ...Strategy) *Chain {
	return &Chain{strategies: strategies, logger: logger.Named("capture")}
}

// Persist stores shot with the first strategy that accepts it. Falling past the
// first strategy is logged and counted.
func (c *Chain) Persist(ctx context.Context, shot Shot) (Ref, error) {
	var errs []error
	for i, s := range c.strategies {
		ref, err := s.Persist(ctx, shot)
		if err == nil {
			ref.Strategy = s.Name()
			if i > 0 {
				observability.RecordScreenshotFallback(s.Name())
				c.logger.Info("Screenshot stored by fallback strategy.",
					zap.String("strategy", s.Name()), zap.String("filename", shot.Filename))
			}
			return ref, nil
		}
		c.logger.Warn("Screenshot strategy failed.",
			zap.String("strategy", s.Name()),
			zap.Int64("execution_id", shot.ExecutionID),
			zap.Int("step", shot.StepNumber),
			zap.Error(err))
		errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
	}
	return Ref{}, fmt.Errorf("%w: %w", ErrAllStrategiesFailed, errors.Join(errs...))
}

// Strategies returns the strategy names in the order they are tried.
func (c *Chain) Strategies() []string {
	names := make([]string, len(c.strategies))
	for i, s := range c.strategies {
		names[i] = s.Name()
	}
	return names
}
