// internal/browser/selector.go
package browser

import (
	"fmt"
	"strings"

	"github.com/chromedp/chromedp"

	"github.com/xkilldash9x/stepwright/api/schemas"
)

// query is a resolved selector ready to hand to a chromedp query action.
type query struct {
	sel string
	by  chromedp.QueryOption
}

// resolveSelector maps a step selector onto a chromedp query.
func resolveSelector(selector string, st schemas.SelectorType) (query, error) {
	if strings.TrimSpace(selector) == "" {
		return query{}, fmt.Errorf("empty selector")
	}

	switch st.OrDefault() {
	case schemas.SelectorCSS:
		return query{sel: selector, by: chromedp.ByQuery}, nil
	case schemas.SelectorXPath:
		return query{sel: selector, by: chromedp.BySearch}, nil
	case schemas.SelectorID:
		if !strings.HasPrefix(selector, "#") {
			selector = "#" + selector
		}
		return query{sel: selector, by: chromedp.ByID}, nil
	case schemas.SelectorClass:
		if !strings.HasPrefix(selector, ".") {
			selector = "." + selector
		}
		return query{sel: selector, by: chromedp.ByQuery}, nil
	case schemas.SelectorText:
		xpath := fmt.Sprintf("//*[contains(normalize-space(text()), %s)]", xpathLiteral(selector))
		return query{sel: xpath, by: chromedp.BySearch}, nil
	default:
		return query{}, fmt.Errorf("unsupported selector type %q", st)
	}
}

// xpathLiteral quotes s as an XPath string literal. XPath 1.0 has no escape
// sequences, so values containing both quote kinds are built with concat().
func xpathLiteral(s string) string {
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	parts := strings.Split(s, `"`)
	quoted := make([]string, 0, len(parts)*2)
	for i, part := range parts {
		if i > 0 {
			quoted = append(quoted, `'"'`)
		}
		if part != "" {
			quoted = append(quoted, `"`+part+`"`)
		}
	}
	return "concat(" + strings.Join(quoted, ", ") + ")"
}
