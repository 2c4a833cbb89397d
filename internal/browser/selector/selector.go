// Package selector provides the shadow-piercing element lookup engine that is
// installed into every page, along with the page helper script that exposes
// closed shadow roots to it.
package selector

import (
	"context"
	_ "embed"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	jsoniter "github.com/json-iterator/go"
)

// DefaultAttribute is matched when a selector is a bare token.
const DefaultAttribute = "data-__stagehand-id"

// EngineName is the prefix locators use to address the engine ("stagehand=abc123").
const EngineName = "stagehand"

// OverlayAttribute marks overlay nodes that ClearOverlays removes.
const OverlayAttribute = "data-__stagehand-overlay"

//go:embed engine.js
var engineSource string

//go:embed helper.js
var helperSource string

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Query is a parsed selector: the attribute to read and the exact value it must hold.
type Query struct {
	Name  string
	Value string
}

// Parse splits a selector the same way the in-page engine does. A bare token
// matches DefaultAttribute; "name=value" splits at the first '='. One
// leading and one trailing quote are stripped from the value.
func Parse(selector string) Query {
	raw := strings.TrimSpace(selector)
	name, value, found := strings.Cut(raw, "=")
	if !found {
		return Query{Name: DefaultAttribute, Value: stripQuotes(raw)}
	}
	return Query{
		Name:  strings.TrimSpace(name),
		Value: stripQuotes(strings.TrimSpace(value)),
	}
}

func stripQuotes(s string) string {
	if strings.HasPrefix(s, `"`) || strings.HasPrefix(s, `'`) {
		s = s[1:]
	}
	if strings.HasSuffix(s, `"`) || strings.HasSuffix(s, `'`) {
		s = s[:len(s)-1]
	}
	return s
}

// Source returns the engine script. It evaluates to an object with
// query(root, selector) and queryAll(root, selector).
func Source() string { return engineSource }

// HelperScript returns the page helper script wrapped in a guard so repeated
// injection into the same document is a no-op.
func HelperScript() string {
	return "if (!globalThis.__stagehandInjected) { globalThis.__stagehandInjected = true; " +
		helperSource + " }"
}

// InjectedProbe evaluates to true once HelperScript has run in the current document.
const InjectedProbe = "!!globalThis.__stagehandInjected"

// InstallScript returns a script that stores the engine built from source
// under name in the page's engine table.
func InstallScript(name, source string) string {
	return fmt.Sprintf(
		"(globalThis.__stagehandEngines__ = globalThis.__stagehandEngines__ || {})[%s] = %s;",
		quote(name), strings.TrimSpace(source))
}

// Expression returns a JS expression running the engine against document.
// With all set it evaluates to an array, otherwise to an element or null.
func Expression(selector string, all bool) string {
	fn := "query"
	if all {
		fn = "queryAll"
	}
	return fmt.Sprintf("globalThis.__stagehandEngines__[%s].%s(document, %s)",
		quote(EngineName), fn, quote(selector))
}

func quote(s string) string {
	b, err := json.Marshal(s)
	if err != nil {
		return `""`
	}
	return string(b)
}

// -- Registration --

// Host accepts custom selector engines. The browser Manager implements it.
type Host interface {
	RegisterSelectorEngine(ctx context.Context, name, source string) error
}

// Registry registers the engine with a host at most once. The flag is set
// before the host call, so a failed registration is not retried.
type Registry struct {
	once       sync.Once
	registered atomic.Bool
}

// Register installs the engine on host. It reports false without touching
// the host when the registry has already registered. Concurrent callers
// block until the first registration has returned.
func (r *Registry) Register(ctx context.Context, host Host) (bool, error) {
	first := false
	var err error
	r.once.Do(func() {
		first = true
		r.registered.Store(true)
		err = host.RegisterSelectorEngine(ctx, EngineName, engineSource)
	})
	if err != nil {
		return true, fmt.Errorf("failed to register %s selector engine: %w", EngineName, err)
	}
	return first, nil
}

// Registered reports whether Register has run.
func (r *Registry) Registered() bool { return r.registered.Load() }
