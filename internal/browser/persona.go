// internal/browser/persona.go
package browser

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/stepwright/internal/config"
)

//go:embed evasions.js
var evasionsScript string

// Persona is the browser identity every session presents: a desktop user agent
// and a fixed viewport.
type Persona struct {
	UserAgent string   `json:"userAgent"`
	Platform  string   `json:"platform"`
	Languages []string `json:"languages"`
	Width     int64    `json:"width"`
	Height    int64    `json:"height"`
}

// NewPersona derives the session persona from browser configuration.
func NewPersona(cfg config.BrowserConfig) Persona {
	ua := cfg.UserAgent
	if ua == "" {
		ua = config.DefaultUserAgent
	}
	return Persona{
		UserAgent: ua,
		Platform:  "Win32",
		Languages: []string{"en-US", "en"},
		Width:     int64(cfg.Viewport.Width),
		Height:    int64(cfg.Viewport.Height),
	}
}

// Script returns the evasion script with the persona bound as a constant.
func (p Persona) Script() (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("persona: marshal: %w", err)
	}
	return fmt.Sprintf("const PERSONA = %s;\n%s", data, evasionsScript), nil
}

// ApplyPersona returns the CDP actions that make a fresh tab present the persona.
func ApplyPersona(p Persona, logger *zap.Logger) chromedp.Action {
	return chromedp.Tasks{
		chromedp.ActionFunc(func(ctx context.Context) error {
			err := emulation.SetUserAgentOverride(p.UserAgent).
				WithPlatform(p.Platform).
				WithAcceptLanguage(strings.Join(p.Languages, ",")).
				Do(ctx)
			if err != nil {
				return fmt.Errorf("persona: set user agent: %w", err)
			}
			return nil
		}),
		chromedp.ActionFunc(func(ctx context.Context) error {
			if err := emulation.SetDeviceMetricsOverride(p.Width, p.Height, 1.0, false).Do(ctx); err != nil {
				return fmt.Errorf("persona: set viewport: %w", err)
			}
			return nil
		}),
		chromedp.ActionFunc(func(ctx context.Context) error {
			script, err := p.Script()
			if err != nil {
				return err
			}
			if _, err := page.AddScriptToEvaluateOnNewDocument(script).Do(ctx); err != nil {
				return fmt.Errorf("persona: add evasion script: %w", err)
			}
			logger.Debug("Persona applied.", zap.String("user_agent", p.UserAgent),
				zap.Int64("width", p.Width), zap.Int64("height", p.Height))
			return nil
		}),
	}
}
