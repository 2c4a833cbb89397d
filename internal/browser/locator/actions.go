package locator

import (
	"context"
	"errors"
	"fmt"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// -- Element Calls --

// callOn runs fn with the element bound to this and decodes its by-value
// result into out when out is non-nil.
func (l *Locator) callOn(ctx context.Context, id cdp.BackendNodeID, out any, fn string, args ...any) error {
	decl, err := bindArgs(fn, args...)
	if err != nil {
		return err
	}

	return l.exec.RunActions(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		obj, err := dom.ResolveNode().WithBackendNodeID(id).Do(ctx)
		if err != nil {
			return fmt.Errorf("resolving node %d: %w", id, err)
		}
		defer func() { _ = runtime.ReleaseObject(obj.ObjectID).Do(ctx) }()

		res, exc, err := runtime.CallFunctionOn(decl).
			WithObjectID(obj.ObjectID).
			WithReturnByValue(true).
			WithAwaitPromise(true).
			Do(ctx)
		if err != nil {
			return err
		}
		if exc != nil {
			return exc
		}
		if out == nil || res == nil || len(res.Value) == 0 {
			return nil
		}
		return json.Unmarshal([]byte(res.Value), out)
	}))
}

func (l *Locator) readString(ctx context.Context, fn string, args ...any) (string, error) {
	id, err := l.first(ctx)
	if err != nil {
		return "", err
	}
	var s string
	if err := l.callOn(ctx, id, &s, fn, args...); err != nil {
		return "", err
	}
	return s, nil
}

// center scrolls the element into view and returns the midpoint of its
// content quad in viewport coordinates.
func (l *Locator) center(ctx context.Context, id cdp.BackendNodeID) (x, y float64, err error) {
	err = l.exec.RunActions(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		if err := dom.ScrollIntoViewIfNeeded().WithBackendNodeID(id).Do(ctx); err != nil {
			return fmt.Errorf("scrolling node %d into view: %w", id, err)
		}
		box, err := dom.GetBoxModel().WithBackendNodeID(id).Do(ctx)
		if err != nil {
			return fmt.Errorf("element %d is not visible: %w", id, err)
		}
		x, y, err = QuadCenter(box.Content)
		return err
	}))
	return x, y, err
}

// QuadCenter returns the centroid of a four point quad.
func QuadCenter(q dom.Quad) (float64, float64, error) {
	if len(q) != 8 {
		return 0, 0, fmt.Errorf("malformed quad with %d coordinates", len(q))
	}
	var x, y float64
	for i := 0; i < 8; i += 2 {
		x += q[i]
		y += q[i+1]
	}
	return x / 4, y / 4, nil
}

// -- Actions --

func (l *Locator) click(ctx context.Context, count int) error {
	id, err := l.waitAttached(ctx)
	if err != nil {
		return err
	}
	x, y, err := l.center(ctx, id)
	if err != nil {
		return err
	}
	return l.exec.RunActions(ctx, chromedp.MouseClickXY(x, y, chromedp.ClickCount(count)))
}

func (l *Locator) Click(ctx context.Context) error { return l.click(ctx, 1) }

func (l *Locator) DblClick(ctx context.Context) error { return l.click(ctx, 2) }

func (l *Locator) Hover(ctx context.Context) error {
	id, err := l.waitAttached(ctx)
	if err != nil {
		return err
	}
	x, y, err := l.center(ctx, id)
	if err != nil {
		return err
	}
	return l.exec.RunActions(ctx, input.DispatchMouseEvent(input.MouseMoved, x, y))
}

func (l *Locator) Focus(ctx context.Context) error {
	id, err := l.waitAttached(ctx)
	if err != nil {
		return err
	}
	return l.exec.RunActions(ctx, dom.Focus().WithBackendNodeID(id))
}

// Fill replaces the element's value with value, firing input and change events.
func (l *Locator) Fill(ctx context.Context, value string) error {
	id, err := l.waitAttached(ctx)
	if err != nil {
		return err
	}
	if err := l.exec.RunActions(ctx, dom.Focus().WithBackendNodeID(id)); err != nil {
		return err
	}
	if err := l.callOn(ctx, id, nil, fnClearForFill); err != nil {
		return err
	}
	if value != "" {
		if err := l.exec.RunActions(ctx, input.InsertText(value)); err != nil {
			return err
		}
	}
	return l.callOn(ctx, id, nil, fnDispatchChange)
}

// Press focuses the element and presses key, which may carry modifiers.
func (l *Locator) Press(ctx context.Context, key string) error {
	chord, err := ParseKeyChord(key)
	if err != nil {
		return err
	}
	if err := l.Focus(ctx); err != nil {
		return err
	}
	return l.exec.RunActions(ctx, chromedp.KeyEvent(chord.Key, chromedp.KeyModifiers(chord.Modifiers...)))
}

func (l *Locator) setChecked(ctx context.Context, want bool) error {
	id, err := l.waitAttached(ctx)
	if err != nil {
		return err
	}
	var ok bool
	if err := l.callOn(ctx, id, &ok, fnSetChecked, want); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("clicking %s did not change its checked state", l)
	}
	return nil
}

func (l *Locator) Check(ctx context.Context) error { return l.setChecked(ctx, true) }

func (l *Locator) Uncheck(ctx context.Context) error { return l.setChecked(ctx, false) }

// SelectOption selects the option whose value, label or text equals value.
func (l *Locator) SelectOption(ctx context.Context, value string) error {
	id, err := l.waitAttached(ctx)
	if err != nil {
		return err
	}
	var ok bool
	if err := l.callOn(ctx, id, &ok, fnSelectOption, value); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s has no option %q", l, value)
	}
	return nil
}

// -- Reads --

func (l *Locator) InnerText(ctx context.Context) (string, error) {
	return l.readString(ctx, fnInnerText)
}

func (l *Locator) TextContent(ctx context.Context) (string, error) {
	return l.readString(ctx, fnTextContent)
}

func (l *Locator) InputValue(ctx context.Context) (string, error) {
	return l.readString(ctx, fnInputValue)
}

func (l *Locator) InnerHTML(ctx context.Context) (string, error) {
	return l.readString(ctx, fnInnerHTML)
}

func (l *Locator) GetAttribute(ctx context.Context, name string) (string, error) {
	if name == "" {
		return "", errors.New("attribute name is required")
	}
	return l.readString(ctx, fnGetAttribute, name)
}

// AllTextContents returns the textContent of every match in document order.
func (l *Locator) AllTextContents(ctx context.Context) ([]string, error) {
	ids, err := l.resolve(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		var s string
		if err := l.callOn(ctx, id, &s, fnTextContent); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func (l *Locator) Count(ctx context.Context) (int, error) {
	ids, err := l.resolve(ctx)
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}
