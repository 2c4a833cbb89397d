package browser

import (
	"testing"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/domsnapshot"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/pagehand/internal/browser/frameid"
)

// snapBuilder interns strings the way a DOMSnapshot capture does.
type snapBuilder struct {
	strs []string
	idx  map[string]int64
}

func newSnapBuilder() *snapBuilder { return &snapBuilder{idx: map[string]int64{}} }

func (b *snapBuilder) s(v string) domsnapshot.StringIndex {
	if v == "" {
		return -1
	}
	if i, ok := b.idx[v]; ok {
		return domsnapshot.StringIndex(i)
	}
	b.idx[v] = int64(len(b.strs))
	b.strs = append(b.strs, v)
	return domsnapshot.StringIndex(b.idx[v])
}

type testNode struct {
	parent  int64
	typ     int64
	name    string
	value   string
	backend cdp.BackendNodeID
	attrs   []string
	input   string
	shadow  string
}

func (b *snapBuilder) doc(frame string, nodes []testNode) *domsnapshot.DocumentSnapshot {
	tree := &domsnapshot.NodeTreeSnapshot{
		ShadowRootType: &domsnapshot.RareStringData{},
		InputValue:     &domsnapshot.RareStringData{},
	}
	for i, n := range nodes {
		tree.ParentIndex = append(tree.ParentIndex, n.parent)
		tree.NodeType = append(tree.NodeType, n.typ)
		tree.NodeName = append(tree.NodeName, b.s(n.name))
		tree.NodeValue = append(tree.NodeValue, b.s(n.value))
		tree.BackendNodeID = append(tree.BackendNodeID, n.backend)

		var attrs domsnapshot.ArrayOfStrings
		for _, a := range n.attrs {
			attrs = append(attrs, int64(b.s(a)))
		}
		tree.Attributes = append(tree.Attributes, attrs)

		if n.input != "" {
			tree.InputValue.Index = append(tree.InputValue.Index, int64(i))
			tree.InputValue.Value = append(tree.InputValue.Value, b.s(n.input))
		}
		if n.shadow != "" {
			tree.ShadowRootType.Index = append(tree.ShadowRootType.Index, int64(i))
			tree.ShadowRootType.Value = append(tree.ShadowRootType.Value, b.s(n.shadow))
		}
	}
	return &domsnapshot.DocumentSnapshot{FrameID: b.s(frame), Nodes: tree}
}

func checkoutSnapshot() ([]*domsnapshot.DocumentSnapshot, []string) {
	b := newSnapBuilder()
	top := b.doc("TOP", []testNode{
		{parent: -1, typ: 9, name: "#document", backend: 1},
		{parent: 0, typ: 1, name: "HTML", backend: 2},
		{parent: 1, typ: 1, name: "BODY", backend: 3},
		{parent: 2, typ: 1, name: "BUTTON", backend: 15, attrs: []string{"id", "buy", "class", "primary"}},
		{parent: 3, typ: 3, name: "#text", value: "  Buy \n  now ", backend: 100},
		{parent: 2, typ: 1, name: "INPUT", backend: 16, attrs: []string{"type", "hidden", "name", "csrf"}},
		{parent: 2, typ: 1, name: "INPUT", backend: 17, attrs: []string{"id", "q", "placeholder", "Search"}, input: "golang"},
		{parent: 2, typ: 1, name: "DIV", backend: 18, attrs: []string{"role", "tab"}},
		{parent: 7, typ: 3, name: "#text", value: "Tab", backend: 101},
		{parent: 2, typ: 1, name: "DIV", backend: 19},
		{parent: 9, typ: 3, name: "#text", value: "plain", backend: 102},
		{parent: 6, typ: 1, name: "DIV", backend: 21, attrs: []string{"role", "presentation"}, shadow: "user-agent"},
		{parent: 2, typ: 1, name: "SPAN", backend: 23, attrs: []string{"contenteditable", "false"}},
		{parent: 3, typ: 1, name: "SCRIPT", backend: 24},
		{parent: 13, typ: 3, name: "#text", value: "track()", backend: 103},
		{parent: 2, typ: 1, name: "P", backend: 25, attrs: []string{"contenteditable", ""}},
		{parent: 15, typ: 3, name: "#text", value: "Notes", backend: 104},
	})
	frame := b.doc("F1", []testNode{
		{parent: -1, typ: 9, name: "#document", backend: 1},
		{parent: 0, typ: 1, name: "HTML", backend: 2},
		{parent: 1, typ: 1, name: "BODY", backend: 3},
		{parent: 2, typ: 1, name: "A", backend: 4, attrs: []string{"href", "/terms"}},
		{parent: 3, typ: 3, name: "#text", value: "Terms", backend: 5},
	})
	return []*domsnapshot.DocumentSnapshot{top, frame}, b.strs
}

func TestCollectElements(t *testing.T) {
	docs, strs := checkoutSnapshot()
	enc := frameid.New()

	els := collectElements(docs, strs, enc)
	require.Len(t, els, 5)

	byID := map[string]int{}
	for i, el := range els {
		byID[el.EncodedID] = i
	}

	t.Run("Button", func(t *testing.T) {
		el := els[byID["0-15"]]
		assert.Equal(t, "button", el.Tag)
		assert.Equal(t, "button", el.Role)
		assert.Equal(t, "Buy now", el.Text, "script text is skipped and whitespace collapsed")
		assert.Equal(t, map[string]string{"id": "buy"}, el.Attributes, "unlisted attributes are dropped")
		assert.Equal(t, int64(15), el.BackendNodeID)
		assert.Empty(t, el.FrameID)
	})

	t.Run("InputCarriesLiveValue", func(t *testing.T) {
		el := els[byID["0-17"]]
		assert.Equal(t, "textbox", el.Role)
		assert.Empty(t, el.Text)
		assert.Equal(t, "golang", el.Attributes["value"])
		assert.Equal(t, "Search", el.Attributes["placeholder"])
	})

	t.Run("ExplicitRoleAndContentEditable", func(t *testing.T) {
		assert.Equal(t, "tab", els[byID["0-18"]].Role)
		assert.Equal(t, "Tab", els[byID["0-18"]].Text)
		assert.Equal(t, "Notes", els[byID["0-25"]].Text)
	})

	t.Run("Skipped", func(t *testing.T) {
		for _, id := range []string{"0-16", "0-19", "0-21", "0-23"} {
			_, ok := byID[id]
			assert.False(t, ok, id)
		}
	})

	t.Run("ChildFrame", func(t *testing.T) {
		el := els[byID["1-4"]]
		assert.Equal(t, "F1", el.FrameID)
		assert.Equal(t, "link", el.Role)
		assert.Equal(t, "Terms", el.Text)

		fid, ok := enc.FrameFor(1)
		require.True(t, ok)
		assert.Equal(t, cdp.FrameID("F1"), fid)
	})

	t.Run("StableAcrossCaptures", func(t *testing.T) {
		again := collectElements(docs, strs, enc)
		if diff := cmp.Diff(els, again); diff != "" {
			t.Errorf("Second capture differs. Diff:\n%s", diff)
		}
		assert.Equal(t, 2, enc.Len())
	})
}

func TestCollectElements_Empty(t *testing.T) {
	assert.Empty(t, collectElements(nil, nil, frameid.New()))
	assert.Empty(t, collectElements([]*domsnapshot.DocumentSnapshot{nil, {}}, nil, frameid.New()))
}

func TestRoleOf(t *testing.T) {
	cases := []struct {
		tag   string
		attrs map[string]string
		want  string
	}{
		{"a", map[string]string{"href": "/"}, "link"},
		{"a", nil, ""},
		{"input", map[string]string{"type": "Checkbox"}, "checkbox"},
		{"input", map[string]string{"type": "submit"}, "button"},
		{"input", map[string]string{"type": "range"}, "slider"},
		{"input", nil, "textbox"},
		{"select", nil, "combobox"},
		{"textarea", nil, "textbox"},
		{"div", map[string]string{"role": "menuitem"}, "menuitem"},
		{"div", nil, ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, roleOf(tc.tag, tc.attrs), "%s %v", tc.tag, tc.attrs)
	}
}

func TestElementTextIsCapped(t *testing.T) {
	b := newSnapBuilder()
	long := ""
	for i := 0; i < 30; i++ {
		long += "word "
	}
	doc := b.doc("TOP", []testNode{
		{parent: -1, typ: 9, name: "#document", backend: 1},
		{parent: 0, typ: 1, name: "BUTTON", backend: 2},
		{parent: 1, typ: 3, name: "#text", value: long, backend: 3},
	})
	els := collectElements([]*domsnapshot.DocumentSnapshot{doc}, b.strs, frameid.New())
	require.Len(t, els, 1)
	assert.Len(t, []rune(els[0].Text), maxElementText)
}
