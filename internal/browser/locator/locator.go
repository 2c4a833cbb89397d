// Package locator implements lazily resolved element handles over CDP.
//
// A Locator stores only its selector. Every operation resolves the selector
// against the live DOM to backend node ids and acts on them through
// Runtime.callFunctionOn or synthetic input, so a Locator is never stale.
package locator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"

	"github.com/xkilldash9x/pagehand/api/schemas"
	"github.com/xkilldash9x/pagehand/internal/browser/selector"
	"github.com/xkilldash9x/pagehand/internal/browser/session"
)

// ErrNotFound is returned when no element matches a locator.
var ErrNotFound = errors.New("no element matches locator")

// attachPollInterval is how often actions re-query while waiting for an element.
const attachPollInterval = 100 * time.Millisecond

// objectGroup scopes remote objects created while resolving engine selectors.
const objectGroup = "pagehand-locator"

// Kind is the selector language of a Locator.
type Kind int

const (
	KindCSS Kind = iota
	KindXPath
	KindEngine
	KindText
	KindBackendNode
)

func (k Kind) String() string {
	switch k {
	case KindCSS:
		return "css"
	case KindXPath:
		return "xpath"
	case KindEngine:
		return selector.EngineName
	case KindText:
		return "text"
	case KindBackendNode:
		return "backend"
	default:
		return "unknown"
	}
}

// ParseSelector splits a raw selector into its kind and body. Unprefixed
// selectors starting with "/" or "(" are XPath; everything else is CSS.
func ParseSelector(raw string) (Kind, string) {
	s := strings.TrimSpace(raw)
	if name, body, ok := strings.Cut(s, "="); ok {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "css":
			return KindCSS, body
		case "xpath":
			return KindXPath, body
		case selector.EngineName:
			return KindEngine, body
		case "text":
			return KindText, body
		}
	}
	if strings.HasPrefix(s, "/") || strings.HasPrefix(s, "(") {
		return KindXPath, s
	}
	return KindCSS, s
}

// Locator implements schemas.Locator against a CDP tab.
type Locator struct {
	exec    session.ActionExecutor
	raw     string
	kind    Kind
	body    string
	backend cdp.BackendNodeID
	// nth narrows the match set to one element; -1 keeps every match.
	nth int
}

var _ schemas.Locator = (*Locator)(nil)

// New returns a Locator for a raw selector such as "css=#id", "xpath=//a",
// "stagehand=login" or "text=Sign in".
func New(exec session.ActionExecutor, raw string) *Locator {
	kind, body := ParseSelector(raw)
	return &Locator{exec: exec, raw: raw, kind: kind, body: body, nth: -1}
}

// ForBackendNode returns a Locator bound to a single backend node.
func ForBackendNode(exec session.ActionExecutor, id cdp.BackendNodeID) *Locator {
	return &Locator{
		exec:    exec,
		raw:     fmt.Sprintf("backend=%d", id),
		kind:    KindBackendNode,
		backend: id,
		nth:     -1,
	}
}

// Kind reports the selector language.
func (l *Locator) Kind() Kind { return l.kind }

// Nth narrows the locator to the i-th match.
func (l *Locator) Nth(i int) *Locator {
	c := *l
	c.nth = i
	return &c
}

// First narrows the locator to the first match.
func (l *Locator) First() *Locator { return l.Nth(0) }

func (l *Locator) String() string {
	if l.nth >= 0 {
		return fmt.Sprintf("%s >> nth=%d", l.raw, l.nth)
	}
	return l.raw
}

// -- Resolution --

// resolve returns the backend ids currently matching, in document order.
func (l *Locator) resolve(ctx context.Context) ([]cdp.BackendNodeID, error) {
	var (
		ids []cdp.BackendNodeID
		err error
	)
	switch l.kind {
	case KindBackendNode:
		ids = []cdp.BackendNodeID{l.backend}
	case KindCSS:
		ids, err = l.resolveCSS(ctx)
	case KindXPath:
		ids, err = l.resolveSearch(ctx, l.body)
	case KindText:
		ids, err = l.resolveSearch(ctx, TextXPath(l.body))
	case KindEngine:
		ids, err = l.resolveEngine(ctx)
	default:
		err = fmt.Errorf("unsupported selector kind %d", l.kind)
	}
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", l, err)
	}

	if l.nth < 0 {
		return ids, nil
	}
	if l.nth >= len(ids) {
		return nil, nil
	}
	return ids[l.nth : l.nth+1], nil
}

func (l *Locator) resolveCSS(ctx context.Context) ([]cdp.BackendNodeID, error) {
	var nodes []*cdp.Node
	err := l.exec.RunActions(ctx,
		chromedp.Nodes(l.body, &nodes, chromedp.ByQueryAll, chromedp.AtLeast(0)),
	)
	if err != nil {
		return nil, err
	}
	ids := make([]cdp.BackendNodeID, 0, len(nodes))
	for _, n := range nodes {
		ids = append(ids, n.BackendNodeID)
	}
	return ids, nil
}

// resolveSearch runs an XPath query through DOM.performSearch. Text node
// matches are lifted to their parent element.
func (l *Locator) resolveSearch(ctx context.Context, query string) ([]cdp.BackendNodeID, error) {
	var ids []cdp.BackendNodeID
	err := l.exec.RunActions(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		// performSearch only sees nodes the frontend has been given.
		if _, err := dom.GetDocument().WithDepth(-1).Do(ctx); err != nil {
			return err
		}
		searchID, count, err := dom.PerformSearch(query).Do(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = dom.DiscardSearchResults(searchID).Do(ctx) }()
		if count == 0 {
			return nil
		}

		nodeIDs, err := dom.GetSearchResults(searchID, 0, count).Do(ctx)
		if err != nil {
			return err
		}
		seen := make(map[cdp.BackendNodeID]bool, len(nodeIDs))
		for _, nid := range nodeIDs {
			node, err := dom.DescribeNode().WithNodeID(nid).Do(ctx)
			if err != nil {
				return err
			}
			if node.NodeType != cdp.NodeTypeElement && node.ParentID != 0 {
				if node, err = dom.DescribeNode().WithNodeID(node.ParentID).Do(ctx); err != nil {
					return err
				}
			}
			if node.NodeType != cdp.NodeTypeElement || seen[node.BackendNodeID] {
				continue
			}
			seen[node.BackendNodeID] = true
			ids = append(ids, node.BackendNodeID)
		}
		return nil
	}))
	return ids, err
}

// resolveEngine evaluates the shadow-piercing engine in the page and maps the
// returned elements to backend ids.
func (l *Locator) resolveEngine(ctx context.Context) ([]cdp.BackendNodeID, error) {
	var ids []cdp.BackendNodeID
	err := l.exec.RunActions(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		defer func() { _ = runtime.ReleaseObjectGroup(objectGroup).Do(ctx) }()

		arr, exc, err := runtime.Evaluate(selector.Expression(l.body, true)).
			WithObjectGroup(objectGroup).
			Do(ctx)
		if err != nil {
			return err
		}
		if exc != nil {
			return exc
		}
		if arr == nil || arr.ObjectID == "" {
			return nil
		}

		props, _, _, exc, err := runtime.GetProperties(arr.ObjectID).WithOwnProperties(true).Do(ctx)
		if err != nil {
			return err
		}
		if exc != nil {
			return exc
		}

		type indexed struct {
			i  int
			id cdp.BackendNodeID
		}
		var found []indexed
		for _, p := range props {
			i, convErr := strconv.Atoi(p.Name)
			if convErr != nil || p.Value == nil || p.Value.ObjectID == "" {
				continue
			}
			node, err := dom.DescribeNode().WithObjectID(p.Value.ObjectID).Do(ctx)
			if err != nil {
				return err
			}
			found = append(found, indexed{i, node.BackendNodeID})
		}
		sort.Slice(found, func(a, b int) bool { return found[a].i < found[b].i })
		for _, f := range found {
			ids = append(ids, f.id)
		}
		return nil
	}))
	return ids, err
}

// first resolves the target element for single-element operations.
func (l *Locator) first(ctx context.Context) (cdp.BackendNodeID, error) {
	ids, err := l.resolve(ctx)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, l)
	}
	return ids[0], nil
}

// waitAttached polls until the locator matches or ctx ends. Actions use it so
// an element that renders shortly after the call is still found.
func (l *Locator) waitAttached(ctx context.Context) (cdp.BackendNodeID, error) {
	ticker := time.NewTicker(attachPollInterval)
	defer ticker.Stop()

	for {
		id, err := l.first(ctx)
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return 0, err
		}
		select {
		case <-ctx.Done():
			return 0, fmt.Errorf("%w (waited until %v)", err, ctx.Err())
		case <-ticker.C:
		}
	}
}

// TextXPath builds the XPath used for "text=" selectors: elements owning a
// text node that contains s after whitespace normalisation.
func TextXPath(s string) string {
	return fmt.Sprintf("//*[text()[contains(normalize-space(.), %s)]]", XPathLiteral(strings.TrimSpace(s)))
}

// XPathLiteral quotes s as an XPath 1.0 string literal.
func XPathLiteral(s string) string {
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	var args []string
	for i, p := range strings.Split(s, `"`) {
		if i > 0 {
			args = append(args, `'"'`)
		}
		if p != "" {
			args = append(args, `"`+p+`"`)
		}
	}
	return "concat(" + strings.Join(args, ", ") + ")"
}
