// Package template renders campaign message templates with per-recipient
// personalization using the Liquid template language.
package template

import (
	"fmt"
	"strings"
	"sync"

	"github.com/osteele/liquid"

	"github.com/beyonder07/XenoCrm-sub001/internal/domain"
)

// Engine renders Liquid templates with parse caching. Safe for concurrent
// use: the dispatcher renders from many workers at once.
type Engine struct {
	engine *liquid.Engine
	cache  sync.Map // template source -> *liquid.Template
}

// NewEngine creates a template engine with the campaign filters registered.
func NewEngine() *Engine {
	e := &Engine{engine: liquid.NewEngine()}
	e.registerFilters()
	return e
}

func (e *Engine) registerFilters() {
	// {{ first_name | default: "there" }}
	e.engine.RegisterFilter("default", func(value interface{}, defaultVal string) interface{} {
		if value == nil {
			return defaultVal
		}
		s := fmt.Sprintf("%v", value)
		if s == "" || s == "<nil>" {
			return defaultVal
		}
		return value
	})

	// {{ location | capitalize }}
	e.engine.RegisterFilter("capitalize", func(s string) string {
		if len(s) == 0 {
			return s
		}
		return strings.ToUpper(string(s[0])) + strings.ToLower(s[1:])
	})

	// {{ total_spend | money }}
	e.engine.RegisterFilter("money", func(v interface{}) string {
		switch n := v.(type) {
		case float64:
			return fmt.Sprintf("%.2f", n)
		case int:
			return fmt.Sprintf("%d.00", n)
		default:
			return fmt.Sprintf("%v", v)
		}
	})
}

// Render renders a template against one customer's attributes. Missing
// variables render empty rather than failing: a half-filled profile should
// still receive the message.
func (e *Engine) Render(source string, customer domain.Customer) (string, error) {
	tmpl, err := e.parse(source)
	if err != nil {
		return "", err
	}
	out, err := tmpl.RenderString(Bindings(customer))
	if err != nil {
		return "", fmt.Errorf("render template: %w", err)
	}
	return out, nil
}

// Validate parses the template without rendering, for create-time checks.
func (e *Engine) Validate(source string) error {
	_, err := e.parse(source)
	return err
}

func (e *Engine) parse(source string) (*liquid.Template, error) {
	if cached, ok := e.cache.Load(source); ok {
		return cached.(*liquid.Template), nil
	}
	// Liquid treats an unterminated {{ or {% as literal text rather than
	// an error, so delimiter balance is checked before handing off.
	if err := checkDelimiters(source); err != nil {
		return nil, fmt.Errorf("parse template: %w", err)
	}
	tmpl, err := e.engine.ParseString(source)
	if err != nil {
		return nil, fmt.Errorf("parse template: %w", err)
	}
	e.cache.Store(source, tmpl)
	return tmpl, nil
}

// checkDelimiters rejects templates with an unclosed or re-opened {{ or {%
// delimiter. An unclosed delimiter is always an authoring mistake; letting
// it through would mail the raw markup to recipients.
func checkDelimiters(source string) error {
	for i := 0; i+1 < len(source); {
		var closer string
		switch source[i : i+2] {
		case "{{":
			closer = "}}"
		case "{%":
			closer = "%}"
		default:
			i++
			continue
		}
		rest := source[i+2:]
		end := strings.Index(rest, closer)
		if end == -1 {
			return fmt.Errorf("unterminated %s at offset %d", source[i:i+2], i)
		}
		for _, opener := range []string{"{{", "{%"} {
			if j := strings.Index(rest, opener); j != -1 && j < end {
				return fmt.Errorf("nested %s inside unterminated %s at offset %d", opener, source[i:i+2], i)
			}
		}
		i += 2 + end + len(closer)
	}
	return nil
}

// Bindings exposes the customer attributes available to templates.
func Bindings(c domain.Customer) map[string]interface{} {
	b := map[string]interface{}{
		"first_name":  c.FirstName,
		"last_name":   c.LastName,
		"email":       c.Email,
		"location":    c.Location,
		"total_spend": c.TotalSpend,
		"visit_count": c.VisitCount,
		"tags":        c.Tags,
	}
	if c.LastActive != nil {
		b["last_active_at"] = *c.LastActive
	}
	return b
}
