// internal/browser/observe.go
package browser

import (
	"strings"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/domsnapshot"

	"github.com/xkilldash9x/pagehand/api/schemas"
	"github.com/xkilldash9x/pagehand/internal/browser/frameid"
)

const (
	nodeTypeElement = 1
	nodeTypeText    = 3

	// maxElementText caps the text kept per observed element.
	maxElementText = 100
)

// interactiveTags are observed regardless of their attributes.
var interactiveTags = map[string]bool{
	"a": true, "button": true, "input": true, "select": true, "textarea": true,
}

// keptAttributes are copied onto observed elements.
var keptAttributes = []string{
	"id", "name", "type", "role", "aria-label", "placeholder", "title", "href", "value", "data-testid",
}

// textlessTags contribute no text to their ancestors.
var textlessTags = map[string]bool{"script": true, "style": true, "noscript": true, "template": true}

// snapshotDoc indexes one document of a DOMSnapshot capture.
type snapshotDoc struct {
	nodes    *domsnapshot.NodeTreeSnapshot
	strs     []string
	children [][]int
	uaShadow map[int]bool
	values   map[int]string
}

func newSnapshotDoc(doc *domsnapshot.DocumentSnapshot, strs []string) *snapshotDoc {
	nodes := doc.Nodes
	d := &snapshotDoc{
		nodes:    nodes,
		strs:     strs,
		children: make([][]int, len(nodes.ParentIndex)),
		uaShadow: map[int]bool{},
		values:   map[int]string{},
	}
	for i, parent := range nodes.ParentIndex {
		if parent >= 0 && int(parent) < len(d.children) {
			d.children[parent] = append(d.children[parent], i)
		}
	}
	if rare := nodes.ShadowRootType; rare != nil {
		for j, idx := range rare.Index {
			if j < len(rare.Value) && d.str(rare.Value[j]) == "user-agent" {
				d.uaShadow[int(idx)] = true
			}
		}
	}
	if rare := nodes.InputValue; rare != nil {
		for j, idx := range rare.Index {
			if j < len(rare.Value) {
				d.values[int(idx)] = d.str(rare.Value[j])
			}
		}
	}
	return d
}

func (d *snapshotDoc) str(i domsnapshot.StringIndex) string {
	if i < 0 || int(i) >= len(d.strs) {
		return ""
	}
	return d.strs[i]
}

func (d *snapshotDoc) tag(i int) string {
	if i >= len(d.nodes.NodeName) {
		return ""
	}
	return strings.ToLower(d.str(d.nodes.NodeName[i]))
}

func (d *snapshotDoc) nodeType(i int) int64 {
	if i >= len(d.nodes.NodeType) {
		return 0
	}
	return d.nodes.NodeType[i]
}

func (d *snapshotDoc) attributes(i int) map[string]string {
	if i >= len(d.nodes.Attributes) {
		return nil
	}
	pairs := d.nodes.Attributes[i]
	attrs := make(map[string]string, len(pairs)/2)
	for j := 0; j+1 < len(pairs); j += 2 {
		attrs[d.str(domsnapshot.StringIndex(pairs[j]))] = d.str(domsnapshot.StringIndex(pairs[j+1]))
	}
	return attrs
}

// text concatenates the descendant text of node i with whitespace collapsed.
func (d *snapshotDoc) text(i int) string {
	var b strings.Builder
	var walk func(n int)
	walk = func(n int) {
		if b.Len() > 4*maxElementText {
			return
		}
		switch d.nodeType(n) {
		case nodeTypeText:
			if n < len(d.nodes.NodeValue) {
				b.WriteString(d.str(d.nodes.NodeValue[n]))
				b.WriteString(" ")
			}
			return
		case nodeTypeElement:
			if textlessTags[d.tag(n)] {
				return
			}
		}
		for _, c := range d.children[n] {
			walk(c)
		}
	}
	walk(i)

	text := strings.Join(strings.Fields(b.String()), " ")
	if r := []rune(text); len(r) > maxElementText {
		text = string(r[:maxElementText])
	}
	return text
}

// collectElements turns a DOMSnapshot capture into observed elements. The
// first document is the top-level one and maps to the root frame; every
// other document is keyed by its own frame id, so ordinals follow the order
// frames appear in the capture.
func collectElements(docs []*domsnapshot.DocumentSnapshot, strs []string, enc *frameid.Encoder) []schemas.ObservedElement {
	var out []schemas.ObservedElement
	for di, doc := range docs {
		if doc == nil || doc.Nodes == nil {
			continue
		}
		d := newSnapshotDoc(doc, strs)

		frame := frameid.Root
		if di > 0 {
			frame = cdp.FrameID(d.str(doc.FrameID))
		}

		for i := range d.nodes.ParentIndex {
			if d.nodeType(i) != nodeTypeElement || d.uaShadow[i] || i >= len(d.nodes.BackendNodeID) {
				continue
			}
			tag := d.tag(i)
			attrs := d.attributes(i)
			if !isInteractive(tag, attrs) {
				continue
			}
			if v, ok := d.values[i]; ok {
				attrs["value"] = v
			}

			backend := d.nodes.BackendNodeID[i]
			el := schemas.ObservedElement{
				EncodedID:     string(enc.Encode(frame, backend)),
				BackendNodeID: int64(backend),
				FrameID:       string(frame),
				Tag:           tag,
				Role:          roleOf(tag, attrs),
				Attributes:    keep(attrs),
			}
			if tag != "input" && tag != "select" {
				el.Text = d.text(i)
			}
			out = append(out, el)
		}
	}
	return out
}

func isInteractive(tag string, attrs map[string]string) bool {
	if tag == "input" && strings.EqualFold(attrs["type"], "hidden") {
		return false
	}
	if interactiveTags[tag] {
		return true
	}
	if _, ok := attrs["role"]; ok {
		return true
	}
	if _, ok := attrs["onclick"]; ok {
		return true
	}
	if v, ok := attrs["contenteditable"]; ok && !strings.EqualFold(v, "false") {
		return true
	}
	return false
}

// roleOf returns the explicit role or the implicit one for common controls.
func roleOf(tag string, attrs map[string]string) string {
	if r := attrs["role"]; r != "" {
		return r
	}
	switch tag {
	case "a":
		if _, ok := attrs["href"]; ok {
			return "link"
		}
	case "button":
		return "button"
	case "select":
		return "combobox"
	case "textarea":
		return "textbox"
	case "input":
		switch strings.ToLower(attrs["type"]) {
		case "checkbox":
			return "checkbox"
		case "radio":
			return "radio"
		case "button", "submit", "reset", "image":
			return "button"
		case "range":
			return "slider"
		default:
			return "textbox"
		}
	}
	return ""
}

func keep(attrs map[string]string) map[string]string {
	var out map[string]string
	for _, name := range keptAttributes {
		if v, ok := attrs[name]; ok {
			if out == nil {
				out = make(map[string]string)
			}
			out[name] = v
		}
	}
	return out
}
