// internal/engine/executor_test.go
package engine

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/stepwright/api/schemas"
	"github.com/xkilldash9x/stepwright/internal/capture"
)

func newTestExecutor(t *testing.T) (*StepExecutor, *fakeStabilizer, *recordingCapturer) {
	t.Helper()
	stab := &fakeStabilizer{}
	capt := &recordingCapturer{}
	e, err := NewStepExecutor(testEngineConfig(), stab, capt, zap.NewNop())
	require.NoError(t, err)
	return e, stab, capt
}

func TestNewStepExecutor_RequiresDependencies(t *testing.T) {
	_, err := NewStepExecutor(testEngineConfig(), nil, &recordingCapturer{}, zap.NewNop())
	assert.Error(t, err)
	_, err = NewStepExecutor(testEngineConfig(), &fakeStabilizer{}, nil, zap.NewNop())
	assert.Error(t, err)
	_, err = NewStepExecutor(testEngineConfig(), &fakeStabilizer{}, &recordingCapturer{}, nil)
	assert.Error(t, err)
}

func TestStepExecutor_HandlerForCoversEveryKnownAction(t *testing.T) {
	e, _, _ := newTestExecutor(t)
	page := newFakePage()
	for _, action := range schemas.KnownActions {
		res, out := e.Execute(context.Background(), schemas.AutomationStep{ID: "x", Action: action}, page)
		assert.NotContains(t, strings.Join(out.Logs, "\n"), "Unknown action", "action %s fell through to the no-op handler", action)
		assert.Equal(t, "x", res.StepID)
	}
}

func TestStepExecutor_Validation(t *testing.T) {
	tests := []struct {
		name string
		step schemas.AutomationStep
		want string
	}{
		{"NavigateWithoutURL", schemas.AutomationStep{ID: "n", Action: schemas.ActionNavigate}, "navigate requires a value"},
		{"ClickWithoutSelector", schemas.AutomationStep{ID: "c", Action: schemas.ActionClick}, "click requires a selector"},
		{"TypeWithoutValue", schemas.AutomationStep{ID: "t", Action: schemas.ActionType, Selector: "#q"}, "type requires a value"},
		{"ExtractTextWithoutSelector", schemas.AutomationStep{ID: "e", Action: schemas.ActionExtractText}, "extract_text requires a selector"},
		{"ExtractAttributeWithoutName", schemas.AutomationStep{ID: "a", Action: schemas.ActionExtractAttribute, Selector: "a"}, "extract_attribute requires a value"},
		{"SelectWithoutValue", schemas.AutomationStep{ID: "s", Action: schemas.ActionSelectDropdown, Selector: "#color"}, "select_dropdown requires a value"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, _, _ := newTestExecutor(t)
			page := newFakePage()

			res, out := e.Execute(context.Background(), tt.step, page)
			assert.False(t, res.Success)
			assert.Contains(t, res.Error, tt.want)
			assert.Contains(t, res.Error, "invalid step")
			assert.False(t, out.Success)
			assert.Empty(t, page.Calls(), "validation must fail before touching the page")
		})
	}
}

func TestStepExecutor_ClickTimesOutOnMissingSelector(t *testing.T) {
	e, _, _ := newTestExecutor(t)

	res, _ := e.Execute(context.Background(), schemas.AutomationStep{ID: "c", Action: schemas.ActionClick, Selector: "#missing"}, newFakePage())
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "timed out")
	assert.Contains(t, res.Error, `"#missing"`)
	assert.Contains(t, res.Error, "50ms")
}

func TestStepExecutor_TypeAndSelect(t *testing.T) {
	e, _, _ := newTestExecutor(t)
	page := newFakePage()
	page.present["#q"] = ""
	page.present["#color"] = ""
	page.options["#color"] = []string{"red", "blue"}

	res, out := e.Execute(context.Background(), schemas.AutomationStep{ID: "t", Action: schemas.ActionType, Selector: "#q", Value: "golang"}, page)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "golang", page.typed["#q"])
	assert.Contains(t, out.Logs, `Typing "golang" into element: #q`)

	res, _ = e.Execute(context.Background(), schemas.AutomationStep{ID: "s", Action: schemas.ActionSelectDropdown, Selector: "#color", Value: "blue"}, page)
	assert.True(t, res.Success, res.Error)

	res, _ = e.Execute(context.Background(), schemas.AutomationStep{ID: "s2", Action: schemas.ActionSelectDropdown, Selector: "#color", Value: "green"}, page)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "no option")
}

func TestStepExecutor_Extraction(t *testing.T) {
	e, _, _ := newTestExecutor(t)
	page := newFakePage()
	page.present["h1"] = "  Welcome back  "
	page.present["a.cta"] = "Go"
	page.attrs["a.cta"] = map[string]string{"href": "/signup"}

	res, out := e.Execute(context.Background(), schemas.AutomationStep{ID: "title", Action: schemas.ActionExtractText, Selector: "h1"}, page)
	require.True(t, res.Success)
	assert.Equal(t, "Welcome back", res.ExtractedData)
	assert.Equal(t, "Welcome back", out.ExtractedData["title"])

	res, out = e.Execute(context.Background(), schemas.AutomationStep{ID: "link", Action: schemas.ActionExtractAttribute, Selector: "a.cta", Value: "href"}, page)
	require.True(t, res.Success)
	assert.Equal(t, "/signup", out.ExtractedData["link"])

	res, out = e.Execute(context.Background(), schemas.AutomationStep{ID: "rel", Action: schemas.ActionExtractAttribute, Selector: "a.cta", Value: "rel"}, page)
	require.True(t, res.Success)
	v, ok := out.ExtractedData["rel"]
	assert.True(t, ok)
	assert.Nil(t, v, "a missing attribute is stored as null")
}

func TestStepExecutor_Wait(t *testing.T) {
	t.Run("DefaultDuration", func(t *testing.T) {
		e, _, _ := newTestExecutor(t)
		res, out := e.Execute(context.Background(), schemas.AutomationStep{ID: "w", Action: schemas.ActionWait}, newFakePage())
		assert.True(t, res.Success)
		assert.Contains(t, out.Logs, "Waiting for 20ms")
	})

	t.Run("ExplicitDuration", func(t *testing.T) {
		e, _, _ := newTestExecutor(t)
		res, out := e.Execute(context.Background(), schemas.AutomationStep{ID: "w", Action: schemas.ActionWait, WaitTime: intPtr(5)}, newFakePage())
		assert.True(t, res.Success)
		assert.Contains(t, out.Logs, "Waiting for 5ms")
	})

	t.Run("UnsettledPageDoesNotFail", func(t *testing.T) {
		e, stab, _ := newTestExecutor(t)
		stab.readyErr = errors.New("document not ready: context deadline exceeded")

		res, out := e.Execute(context.Background(), schemas.AutomationStep{ID: "w", Action: schemas.ActionWait, WaitTime: intPtr(1)}, newFakePage())
		assert.True(t, res.Success)
		assert.Contains(t, strings.Join(out.Logs, "\n"), "Page not fully settled")
	})

	t.Run("CancelledContextFails", func(t *testing.T) {
		e, _, _ := newTestExecutor(t)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		res, _ := e.Execute(ctx, schemas.AutomationStep{ID: "w", Action: schemas.ActionWait, WaitTime: intPtr(1000)}, newFakePage())
		assert.False(t, res.Success)
	})
}

func TestStepExecutor_ScreenshotAction(t *testing.T) {
	e, stab, capt := newTestExecutor(t)

	res, out := e.Execute(context.Background(), schemas.AutomationStep{ID: "shot", Action: schemas.ActionScreenshot}, newFakePage())
	require.True(t, res.Success)
	assert.Equal(t, 1, stab.Settles(), "the page is settled before capture")
	require.Len(t, out.Screenshots, 1)
	assert.Equal(t, out.Screenshots[0], res.Screenshot)
	require.NotNil(t, res.ScreenshotID)
	assert.True(t, strings.HasPrefix(capt.Filenames()[0], "screenshot_step_1_"))

	capt.mu.Lock()
	defer capt.mu.Unlock()
	assert.Equal(t, capture.ContentTypePNG, capt.shots[0].ContentType)
}

func TestStepExecutor_FailedScreenshotTakesErrorCapture(t *testing.T) {
	e, _, capt := newTestExecutor(t)
	page := newFakePage()
	page.shotErr = errors.New("target crashed")

	res, out := e.Execute(context.Background(), schemas.AutomationStep{ID: "shot", Action: schemas.ActionScreenshot}, page)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "target crashed")
	assert.Empty(t, out.Screenshots)
	assert.Empty(t, capt.Filenames())
	assert.Contains(t, strings.Join(out.Logs, "\n"), "Screenshot for step 1 not captured")
}

func TestStepExecutor_ScrollAndUnknown(t *testing.T) {
	e, _, _ := newTestExecutor(t)
	page := newFakePage()

	res, out := e.Execute(context.Background(), schemas.AutomationStep{ID: "s", Action: schemas.ActionScroll}, page)
	assert.True(t, res.Success)
	assert.Equal(t, 1, page.scrolls)
	assert.Contains(t, out.Logs, "Scrolling page")

	res, out = e.Execute(context.Background(), schemas.AutomationStep{ID: "h", Action: "hover", Description: "hover the menu"}, page)
	assert.True(t, res.Success)
	assert.Equal(t, []string{"Executing step: hover - hover the menu", `Unknown action "hover", skipping`}, out.Logs)
}

func TestStepExecutor_RecoversHandlerPanics(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	e, err := NewStepExecutor(testEngineConfig(), &fakeStabilizer{}, &recordingCapturer{}, zap.New(core))
	require.NoError(t, err)

	page := newFakePage()
	page.present["#btn"] = ""
	page.panicOn = "click"

	res, _ := e.Execute(context.Background(), schemas.AutomationStep{ID: "c", Action: schemas.ActionClick, Selector: "#btn"}, page)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "panic")
	assert.Equal(t, 1, logs.FilterMessage("Recovered from panic in step handler.").Len())
}

func TestStepError(t *testing.T) {
	err := &StepError{StepID: "s1", Action: schemas.ActionClick, Err: ErrTimeout}
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, "step s1 (click): timed out", err.Error())

	var target *StepError
	assert.True(t, errors.As(error(err), &target))
}
