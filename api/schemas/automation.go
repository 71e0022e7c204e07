package schemas

import (
	"time"
)

// -- Step Definitions --

// Action identifies the browser operation a step performs.
type Action string

const (
	ActionNavigate         Action = "navigate"
	ActionClick            Action = "click"
	ActionType             Action = "type"
	ActionWait             Action = "wait"
	ActionScreenshot       Action = "screenshot"
	ActionExtractText      Action = "extract_text"
	ActionExtractAttribute Action = "extract_attribute"
	ActionScroll           Action = "scroll"
	ActionSelectDropdown   Action = "select_dropdown"
)

// KnownActions lists every action the engine has a handler for.
var KnownActions = []Action{
	ActionNavigate,
	ActionClick,
	ActionType,
	ActionWait,
	ActionScreenshot,
	ActionExtractText,
	ActionExtractAttribute,
	ActionScroll,
	ActionSelectDropdown,
}

// IsKnown reports whether the engine has a dedicated handler for the action.
func (a Action) IsKnown() bool {
	for _, known := range KnownActions {
		if a == known {
			return true
		}
	}
	return false
}

// SelectorType tells the browser how to interpret a step's selector.
type SelectorType string

const (
	SelectorCSS   SelectorType = "css"
	SelectorXPath SelectorType = "xpath"
	SelectorID    SelectorType = "id"
	SelectorClass SelectorType = "class"
	SelectorText  SelectorType = "text"
)

// OrDefault returns the selector type, falling back to CSS when unset.
func (s SelectorType) OrDefault() SelectorType {
	if s == "" {
		return SelectorCSS
	}
	return s
}

// AutomationStep is one declarative browser action with its parameters.
// Steps are copied by value into the executor and never mutated during a run.
type AutomationStep struct {
	ID           string       `json:"id"`
	Action       Action       `json:"action"`
	Selector     string       `json:"selector,omitempty"`
	SelectorType SelectorType `json:"selectorType,omitempty"`
	Value        string       `json:"value,omitempty"`
	// WaitTime is expressed in milliseconds.
	WaitTime    *int   `json:"waitTime,omitempty"`
	Description string `json:"description,omitempty"`
}

// Script is a named, ordered list of steps.
type Script struct {
	ID          int64            `json:"id"`
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Steps       []AutomationStep `json:"steps"`
	CreatedAt   time.Time        `json:"createdAt"`
	UpdatedAt   time.Time        `json:"updatedAt"`
}

// ScriptUpdate carries the optional fields of a partial script update.
// Nil fields keep their stored value.
type ScriptUpdate struct {
	Name        *string           `json:"name,omitempty"`
	Description *string           `json:"description,omitempty"`
	Steps       *[]AutomationStep `json:"steps,omitempty"`
}

// -- Execution Tracking --

// ExecutionStatus is the lifecycle state of one script run.
type ExecutionStatus string

const (
	StatusRunning   ExecutionStatus = "running"
	StatusCompleted ExecutionStatus = "completed"
	StatusFailed    ExecutionStatus = "failed"
)

// IsTerminal reports whether the status can no longer change.
func (s ExecutionStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Execution is one run of a script's steps, tracked to a terminal outcome.
type Execution struct {
	ID           int64            `json:"id"`
	ScriptID     int64            `json:"scriptId"`
	Status       ExecutionStatus  `json:"status"`
	Result       *ExecutionResult `json:"result,omitempty"`
	ErrorMessage string           `json:"errorMessage,omitempty"`
	StartedAt    time.Time        `json:"startedAt"`
	CompletedAt  *time.Time       `json:"completedAt,omitempty"`
}

// StepResult records the outcome of a single attempted step.
type StepResult struct {
	StepID        string `json:"stepId"`
	Action        Action `json:"action"`
	Description   string `json:"description,omitempty"`
	Success       bool   `json:"success"`
	Screenshot    string `json:"screenshot,omitempty"`
	ScreenshotID  *int64 `json:"screenshotId,omitempty"`
	ExtractedData any    `json:"extractedData,omitempty"`
	Error         string `json:"error,omitempty"`
	Timestamp     string `json:"timestamp"`
}

// ExecutionResult aggregates everything a run produced.
type ExecutionResult struct {
	Success       bool           `json:"success"`
	Screenshots   []string       `json:"screenshots"`
	ExtractedData map[string]any `json:"extractedData"`
	Logs          []string       `json:"logs"`
	StepResults   []StepResult   `json:"stepResults"`
	Error         string         `json:"error,omitempty"`
}

// NewExecutionResult returns an empty, successful result with initialized collections.
func NewExecutionResult() *ExecutionResult {
	return &ExecutionResult{
		Success:       true,
		Screenshots:   make([]string, 0),
		ExtractedData: make(map[string]any),
		Logs:          make([]string, 0),
		StepResults:   make([]StepResult, 0),
	}
}

// StartResponse is handed back to callers of StartExecution before the run finishes.
type StartResponse struct {
	ExecutionID int64           `json:"executionId"`
	Status      ExecutionStatus `json:"status"`
}

// -- Screenshots --

// Screenshot is a stored capture including its bytes.
type Screenshot struct {
	ID          int64     `json:"id"`
	ExecutionID int64     `json:"executionId"`
	StepNumber  int       `json:"stepNumber"`
	Filename    string    `json:"filename"`
	ContentType string    `json:"contentType"`
	Data        []byte    `json:"-"`
	CreatedAt   time.Time `json:"createdAt"`
}

// ScreenshotRef is the listing view of a stored capture; it never carries bytes.
type ScreenshotRef struct {
	ID          int64     `json:"id"`
	ExecutionID int64     `json:"executionId"`
	ScriptID    int64     `json:"scriptId,omitempty"`
	ScriptName  string    `json:"scriptName,omitempty"`
	StepNumber  int       `json:"stepNumber"`
	Filename    string    `json:"filename"`
	URL         string    `json:"url"`
	CreatedAt   time.Time `json:"createdAt"`
}

// ScreenshotURLPrefix is the path under which stored screenshots are addressed.
const ScreenshotURLPrefix = "/api/automation/screenshots/"
