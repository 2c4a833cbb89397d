package browser

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/pagehand/api/schemas"
	"github.com/xkilldash9x/pagehand/internal/browser/frameid"
	"github.com/xkilldash9x/pagehand/internal/browser/locator"
	"github.com/xkilldash9x/pagehand/internal/browser/settle"
	"github.com/xkilldash9x/pagehand/internal/store"
)

// stubPage records which inner methods the hooks let through. Methods it
// does not override panic through the nil embedded Page.
type stubPage struct {
	Page

	mu     sync.Mutex
	calls  []string
	frames *frameid.Encoder

	initErr   error
	gotoErr   error
	actErr    error
	helperErr error
}

func newStubPage() *stubPage { return &stubPage{frames: frameid.New()} }

func (s *stubPage) called(name string) {
	s.mu.Lock()
	s.calls = append(s.calls, name)
	s.mu.Unlock()
}

func (s *stubPage) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func (s *stubPage) ID() string                      { return "page-1" }
func (s *stubPage) FrameIdentity() *frameid.Encoder { return s.frames }

func (s *stubPage) Init(context.Context) error {
	s.called("init")
	return s.initErr
}

func (s *stubPage) Goto(context.Context, string, GotoOptions) error {
	s.called("goto")
	return s.gotoErr
}

func (s *stubPage) WaitForSettledDOM(context.Context, time.Duration) (settle.Report, error) {
	s.called("settle")
	return settle.Report{Reason: settle.ReasonQuiet}, nil
}

func (s *stubPage) Evaluate(context.Context, string, any) error {
	s.called("evaluate")
	return nil
}

func (s *stubPage) ensureHelper(context.Context) error {
	s.called("ensureHelper")
	return s.helperErr
}

func (s *stubPage) Observe(_ context.Context, instruction string) ([]schemas.ObservedElement, error) {
	s.called("observe:" + instruction)
	return []schemas.ObservedElement{{EncodedID: "0-15", Tag: "button"}}, nil
}

func (s *stubPage) Act(context.Context, schemas.ActRequest) (schemas.ActResult, error) {
	s.called("act")
	if s.actErr != nil {
		return schemas.ActResult{}, s.actErr
	}
	return schemas.ActResult{Success: true, Message: "done", Action: "click"}, nil
}

func (s *stubPage) Extract(context.Context, schemas.ExtractRequest) (schemas.ExtractResult, error) {
	s.called("extract")
	return schemas.ExtractResult{schemas.ExtractionField: "Checkout"}, nil
}

func (s *stubPage) Perform(context.Context, schemas.PerformRequest) (schemas.PerformResult, error) {
	s.called("perform")
	return schemas.PerformResult{Value: "Checkout", Via: schemas.SourceDirect}, nil
}

func newTestHookedPage(t *testing.T, llm bool) (*hookedPage, *stubPage, *store.Memory) {
	t.Helper()
	inner := newStubPage()
	history := store.NewMemory(16)
	return newHookedPage(inner, llm, history, zaptest.NewLogger(t)), inner, history
}

func TestHookedPage_RequiresInit(t *testing.T) {
	ctx := context.Background()
	h, inner, history := newTestHookedPage(t, true)

	_, err := h.Act(ctx, schemas.ActRequest{Action: "click buy"})
	assert.ErrorIs(t, err, ErrNotInitialized)
	_, err = h.Extract(ctx, schemas.ExtractRequest{Instruction: "title"})
	assert.ErrorIs(t, err, ErrNotInitialized)
	_, err = h.Observe(ctx, "")
	assert.ErrorIs(t, err, ErrNotInitialized)
	_, err = h.Perform(ctx, schemas.PerformRequest{Method: schemas.VerbClick})
	assert.ErrorIs(t, err, ErrNotInitialized)

	assert.Empty(t, inner.Calls(), "guarded calls never reach the page")
	assert.Empty(t, history.Entries(), "rejected calls are not recorded")

	inner.initErr = errors.New("boom")
	require.Error(t, h.Init(ctx))
	_, err = h.Perform(ctx, schemas.PerformRequest{Method: schemas.VerbClick})
	assert.ErrorIs(t, err, ErrNotInitialized, "a failed init leaves the page unusable")

	inner.initErr = nil
	require.NoError(t, h.Init(ctx))
	_, err = h.Perform(ctx, schemas.PerformRequest{Method: schemas.VerbClick})
	assert.NoError(t, err)
}

func TestHookedPage_RequiresLLM(t *testing.T) {
	ctx := context.Background()
	h, inner, _ := newTestHookedPage(t, false)
	require.NoError(t, h.Init(ctx))

	_, err := h.Act(ctx, schemas.ActRequest{Action: "click buy"})
	assert.ErrorIs(t, err, ErrMissingLLMConfiguration)
	_, err = h.Extract(ctx, schemas.ExtractRequest{Instruction: "title"})
	assert.ErrorIs(t, err, ErrMissingLLMConfiguration)
	_, err = h.Observe(ctx, "find the buy button")
	assert.ErrorIs(t, err, ErrMissingLLMConfiguration)

	els, err := h.Observe(ctx, "")
	require.NoError(t, err, "listing elements needs no model")
	assert.Len(t, els, 1)

	_, err = h.Perform(ctx, schemas.PerformRequest{Method: schemas.VerbInnerText})
	assert.NoError(t, err)

	assert.Equal(t, []string{"init", "observe:", "perform"}, inner.Calls())
}

func TestHookedPage_GotoSettlesAndResetsFrames(t *testing.T) {
	ctx := context.Background()
	h, inner, _ := newTestHookedPage(t, true)

	inner.frames.OrdinalFor("F1")
	require.Equal(t, 2, inner.frames.Len())

	require.NoError(t, h.Goto(ctx, "https://example.test", GotoOptions{}))
	assert.Equal(t, 1, inner.frames.Len())
	assert.Equal(t, []string{"goto", "settle"}, inner.Calls())

	inner.frames.OrdinalFor("F2")
	require.NoError(t, h.Goto(ctx, "https://example.test/2", GotoOptions{SkipSettle: true}))
	assert.Equal(t, 1, inner.frames.Len(), "frames reset even without settling")
	assert.Equal(t, []string{"goto", "settle", "goto"}, inner.Calls())
}

func TestHookedPage_FailedGotoKeepsFrames(t *testing.T) {
	ctx := context.Background()
	h, inner, history := newTestHookedPage(t, true)
	inner.gotoErr = errors.New("net::ERR_NAME_NOT_RESOLVED")
	inner.frames.OrdinalFor("F1")

	err := h.Goto(ctx, "https://nowhere.invalid", GotoOptions{})
	require.Error(t, err)
	assert.Equal(t, 2, inner.frames.Len())
	assert.Equal(t, []string{"goto"}, inner.Calls())

	entries := history.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, schemas.HistoryNavigate, entries[0].Method)
	assert.Equal(t, "net::ERR_NAME_NOT_RESOLVED", entries[0].Error)
	assert.Empty(t, entries[0].Result)
	assert.JSONEq(t, `{"url":"https://nowhere.invalid","options":{"Timeout":0,"SkipSettle":false}}`, string(entries[0].Parameters))
}

func TestHookedPage_EvaluateEnsuresHelper(t *testing.T) {
	ctx := context.Background()
	h, inner, history := newTestHookedPage(t, true)

	require.NoError(t, h.Evaluate(ctx, "1 + 1", nil))
	inner.helperErr = errors.New("context destroyed")
	require.NoError(t, h.Evaluate(ctx, "1 + 1", nil), "a failed probe does not block the evaluation")

	assert.Equal(t, []string{"ensureHelper", "evaluate", "ensureHelper", "evaluate"}, inner.Calls())
	assert.Empty(t, history.Entries(), "evaluate is not part of the history")
}

func TestHookedPage_RecordsHistory(t *testing.T) {
	ctx := context.Background()
	h, inner, history := newTestHookedPage(t, true)
	require.NoError(t, h.Init(ctx))

	_, err := h.Act(ctx, schemas.ActRequest{
		Action:    "type %password% into the password field",
		Variables: map[string]string{"password": "hunter2", "user": "ada"},
	})
	require.NoError(t, err)

	inner.actErr = errors.New("no such element")
	_, err = h.Act(ctx, schemas.ActRequest{Action: "click the missing button"})
	require.Error(t, err)

	_, err = h.Extract(ctx, schemas.ExtractRequest{Instruction: "the title", Schema: schemas.DefaultExtractSchema()})
	require.NoError(t, err)

	value := "q"
	_, err = h.Perform(ctx, schemas.PerformRequest{
		Locators:   []schemas.Locator{locator.New(nil, "#missing"), locator.New(nil, "css=#title")},
		Method:     schemas.VerbGetAttribute,
		InputValue: &value,
		Timeout:    time.Second,
	})
	require.NoError(t, err)

	entries := history.Entries()
	require.Len(t, entries, 4)
	for _, e := range entries {
		assert.Equal(t, "page-1", e.PageID)
		assert.NotZero(t, e.ID)
		assert.False(t, e.StartedAt.IsZero())
		assert.Equal(t, time.UTC, e.StartedAt.Location())
	}

	t.Run("ActHidesVariableValues", func(t *testing.T) {
		e := entries[0]
		assert.Equal(t, schemas.HistoryAct, e.Method)
		assert.JSONEq(t, `{"action":"type %password% into the password field","variables":["password","user"]}`, string(e.Parameters))
		assert.NotContains(t, string(e.Parameters), "hunter2")
		assert.JSONEq(t, `{"success":true,"message":"done","action":"click"}`, string(e.Result))
	})

	t.Run("FailuresKeepTheError", func(t *testing.T) {
		e := entries[1]
		assert.Equal(t, "no such element", e.Error)
		assert.Empty(t, e.Result)
	})

	t.Run("Extract", func(t *testing.T) {
		e := entries[2]
		assert.Equal(t, schemas.HistoryExtract, e.Method)
		assert.Contains(t, string(e.Parameters), `"instruction":"the title"`)
		assert.JSONEq(t, `{"extraction":"Checkout"}`, string(e.Result))
	})

	t.Run("PerformUsesLocatorStrings", func(t *testing.T) {
		e := entries[3]
		assert.Equal(t, schemas.HistoryPerform, e.Method)
		assert.JSONEq(t, `{"locators":["#missing","css=#title"],"method":"getAttribute","timeout":1000000000,"hasInputValue":true}`,
			string(e.Parameters))
	})
}

func TestPerformParams_HideInputValue(t *testing.T) {
	secret := "hunter2"
	params := newPerformParams(schemas.PerformRequest{
		Method:      schemas.VerbFill,
		Description: "type %inputValue% into the password field",
		InputValue:  &secret,
	})
	b, err := json.Marshal(params)
	require.NoError(t, err)
	assert.JSONEq(t, `{"locators":[],"method":"fill","description":"type %inputValue% into the password field","hasInputValue":true}`, string(b))
	assert.NotContains(t, string(b), secret)

	b, err = json.Marshal(newPerformParams(schemas.PerformRequest{Method: schemas.VerbClick}))
	require.NoError(t, err)
	assert.NotContains(t, string(b), "hasInputValue")
}

type failingHistory struct{}

func (failingHistory) Record(context.Context, schemas.HistoryEntry) error {
	return errors.New("disk full")
}

func (failingHistory) Recent(context.Context, int) ([]schemas.HistoryEntry, error) { return nil, nil }

func TestHookedPage_HistoryFailureIsLoggedOnly(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	h := newHookedPage(newStubPage(), true, failingHistory{}, zap.New(core))
	require.NoError(t, h.Init(context.Background()))

	res, err := h.Perform(context.Background(), schemas.PerformRequest{Method: schemas.VerbInnerText})
	require.NoError(t, err)
	assert.Equal(t, "Checkout", res.Value)

	require.Equal(t, 1, logs.FilterMessage("Failed to record history entry.").Len())
}

func TestHookedPage_NilHistory(t *testing.T) {
	h := newHookedPage(newStubPage(), true, nil, zaptest.NewLogger(t))
	require.NoError(t, h.Init(context.Background()))
	_, err := h.Act(context.Background(), schemas.ActRequest{Action: "click"})
	assert.NoError(t, err)
}
