// internal/engine/recorder.go
package engine

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/xkilldash9x/stepwright/api/schemas"
)

// runRecorder accumulates the result of one execution. Steps run sequentially, the
// mutex only guards against readers snapshotting a run in progress.
type runRecorder struct {
	mu     sync.Mutex
	result *schemas.ExecutionResult
	logger *zap.Logger
}

func newRunRecorder(logger *zap.Logger) *runRecorder {
	return &runRecorder{result: schemas.NewExecutionResult(), logger: logger}
}

// logf appends a line to the run log and mirrors it to zap.
func (r *runRecorder) logf(format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	r.mu.Lock()
	r.result.Logs = append(r.result.Logs, line)
	r.mu.Unlock()
	r.logger.Info(line)
}

func (r *runRecorder) addScreenshot(ref string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.result.Screenshots = append(r.result.Screenshots, ref)
}

func (r *runRecorder) extract(stepID string, value any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.result.ExtractedData[stepID] = value
}

// appendStep records a finished step; one failed step fails the whole result.
func (r *runRecorder) appendStep(sr schemas.StepResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.result.StepResults = append(r.result.StepResults, sr)
	if !sr.Success {
		r.result.Success = false
	}
}

// fail marks a session-level failure on the result.
func (r *runRecorder) fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.result.Success = false
	r.result.Error = err.Error()
}

// snapshot returns the result accumulated so far.
func (r *runRecorder) snapshot() *schemas.ExecutionResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := *r.result
	out.Screenshots = append(make([]string, 0, len(r.result.Screenshots)), r.result.Screenshots...)
	out.Logs = append(make([]string, 0, len(r.result.Logs)), r.result.Logs...)
	out.StepResults = append(make([]schemas.StepResult, 0, len(r.result.StepResults)), r.result.StepResults...)
	out.ExtractedData = make(map[string]any, len(r.result.ExtractedData))
	for k, v := range r.result.ExtractedData {
		out.ExtractedData[k] = v
	}
	return &out
}
