// internal/browser/hooks.go
package browser

import (
	"context"
	"slices"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/pagehand/api/schemas"
	"github.com/xkilldash9x/pagehand/internal/store"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Hooked method names.
const (
	MethodInit     = "init"
	MethodGoto     = "goto"
	MethodEvaluate = "evaluate"
	MethodObserve  = "observe"
	MethodAct      = "act"
	MethodExtract  = "extract"
	MethodPerform  = "perform"
)

// historyMethods maps hooked methods onto the history they are recorded under.
var historyMethods = map[string]schemas.HistoryMethod{
	MethodGoto:    schemas.HistoryNavigate,
	MethodObserve: schemas.HistoryObserve,
	MethodAct:     schemas.HistoryAct,
	MethodExtract: schemas.HistoryExtract,
	MethodPerform: schemas.HistoryPerform,
}

// Call describes one intercepted page call as it passes through the hooks.
type Call struct {
	Method  string
	Params  any
	Result  any
	Err     error
	Started time.Time
}

// preHook runs before the call; an error aborts it and is returned to the caller.
type preHook func(ctx context.Context, c *Call) error

// postHook observes a finished call. It cannot change the outcome.
type postHook func(ctx context.Context, c *Call)

type hookSet struct {
	pre  []preHook
	post []postHook
}

// hookedPage decorates a Page with a per-method hook table: readiness guards
// before the AI calls, helper injection before evaluate, DOM settling after
// navigation and history recording after every top-level call.
type hookedPage struct {
	Page
	hooks         map[string]hookSet
	initialized   atomic.Bool
	llmConfigured bool
	history       store.History
	logger        *zap.Logger
}

var _ Page = (*hookedPage)(nil)

// helperEnsurer is implemented by pages that can re-inject the helper script.
type helperEnsurer interface {
	ensureHelper(ctx context.Context) error
}

// newHookedPage wraps inner. history may be nil.
func newHookedPage(inner Page, llmConfigured bool, history store.History, logger *zap.Logger) *hookedPage {
	h := &hookedPage{
		Page:          inner,
		llmConfigured: llmConfigured,
		history:       history,
		logger:        logger.Named("hooks"),
	}

	guarded := hookSet{pre: []preHook{h.requireInitialized}, post: []postHook{h.record}}
	needsLLM := hookSet{pre: []preHook{h.requireInitialized, h.requireLLM}, post: []postHook{h.record}}

	h.hooks = map[string]hookSet{
		MethodInit:     {post: []postHook{h.markInitialized}},
		MethodGoto:     {post: []postHook{h.settleAfterNavigation, h.record}},
		MethodEvaluate: {pre: []preHook{h.ensureHelper}},
		MethodObserve:  needsLLM,
		MethodAct:      needsLLM,
		MethodExtract:  needsLLM,
		MethodPerform:  guarded,
	}
	return h
}

// invoke runs fn between the pre and post hooks registered for c.Method.
func invoke[T any](ctx context.Context, h *hookedPage, c *Call, fn func(context.Context) (T, error)) (T, error) {
	set := h.hooks[c.Method]
	c.Started = time.Now()

	for _, hook := range set.pre {
		if err := hook(ctx, c); err != nil {
			var zero T
			c.Err = err
			return zero, err
		}
	}

	res, err := fn(ctx)
	c.Result, c.Err = res, err

	for _, hook := range set.post {
		hook(ctx, c)
	}
	return res, err
}

// -- Hooks --

func (h *hookedPage) requireInitialized(_ context.Context, _ *Call) error {
	if !h.initialized.Load() {
		return ErrNotInitialized
	}
	return nil
}

// requireLLM guards the AI calls. A plain observe needs no model.
func (h *hookedPage) requireLLM(_ context.Context, c *Call) error {
	if c.Method == MethodObserve {
		if instruction, _ := c.Params.(string); instruction == "" {
			return nil
		}
	}
	if !h.llmConfigured {
		return ErrMissingLLMConfiguration
	}
	return nil
}

func (h *hookedPage) markInitialized(_ context.Context, c *Call) {
	if c.Err == nil {
		h.initialized.Store(true)
	}
}

func (h *hookedPage) ensureHelper(ctx context.Context, _ *Call) error {
	if e, ok := h.Page.(helperEnsurer); ok {
		if err := e.ensureHelper(ctx); err != nil {
			h.logger.Debug("Could not ensure helper script before evaluate.", zap.Error(err))
		}
	}
	return nil
}

// settleAfterNavigation waits for the new document to go quiet and drops
// the frame ordinals of the previous one.
func (h *hookedPage) settleAfterNavigation(ctx context.Context, c *Call) {
	if c.Err != nil {
		return
	}
	h.FrameIdentity().Reset()

	if p, ok := c.Params.(gotoParams); ok && p.Options.SkipSettle {
		return
	}
	report, err := h.Page.WaitForSettledDOM(ctx, 0)
	if err != nil {
		h.logger.Warn("Failed to wait for DOM to settle after navigation.", zap.Error(err))
		return
	}
	h.logger.Debug("DOM settled after navigation.",
		zap.String("reason", string(report.Reason)),
		zap.Int("outstanding", report.Outstanding),
		zap.Duration("elapsed", report.Elapsed))
}

// record stores a history entry. Recording failures are logged only.
func (h *hookedPage) record(ctx context.Context, c *Call) {
	if h.history == nil {
		return
	}
	method, ok := historyMethods[c.Method]
	if !ok {
		return
	}

	entry := schemas.HistoryEntry{
		ID:        uuid.New(),
		PageID:    h.ID(),
		Method:    method,
		StartedAt: c.Started.UTC(),
		Duration:  time.Since(c.Started),
	}
	var err error
	if entry.Parameters, err = json.Marshal(c.Params); err != nil {
		h.logger.Warn("Failed to encode history parameters.", zap.String("method", c.Method), zap.Error(err))
		return
	}
	if c.Err != nil {
		entry.Error = c.Err.Error()
	} else if c.Result != nil {
		if entry.Result, err = json.Marshal(c.Result); err != nil {
			h.logger.Warn("Failed to encode history result.", zap.String("method", c.Method), zap.Error(err))
			return
		}
	}

	if err := h.history.Record(ctx, entry); err != nil {
		h.logger.Warn("Failed to record history entry.", zap.String("method", c.Method), zap.Error(err))
	}
}

// -- History parameter views --

type gotoParams struct {
	URL     string      `json:"url"`
	Options GotoOptions `json:"options"`
}

// performParams is the JSON-safe view of a PerformRequest. The input value
// may be a secret, so only its presence is kept.
type performParams struct {
	Locators      []string      `json:"locators"`
	Method        schemas.Verb  `json:"method"`
	Timeout       time.Duration `json:"timeout,omitempty"`
	Description   string        `json:"description,omitempty"`
	HasInputValue bool          `json:"hasInputValue,omitempty"`
	HasSchema     bool          `json:"hasSchema,omitempty"`
}

func newPerformParams(req schemas.PerformRequest) performParams {
	locs := make([]string, len(req.Locators))
	for i, l := range req.Locators {
		locs[i] = l.String()
	}
	return performParams{
		Locators:      locs,
		Method:        req.Method,
		Timeout:       req.Timeout,
		Description:   req.Description,
		HasInputValue: req.InputValue != nil,
		HasSchema:     req.Schema != nil,
	}
}

// actParams records only the variable names; their values may be secrets.
type actParams struct {
	Action    string   `json:"action"`
	Variables []string `json:"variables,omitempty"`
}

func newActParams(req schemas.ActRequest) actParams {
	p := actParams{Action: req.Action}
	for k := range req.Variables {
		p.Variables = append(p.Variables, k)
	}
	slices.Sort(p.Variables)
	return p
}

// -- Intercepted methods --

func (h *hookedPage) Init(ctx context.Context) error {
	_, err := invoke(ctx, h, &Call{Method: MethodInit}, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, h.Page.Init(ctx)
	})
	return err
}

func (h *hookedPage) Goto(ctx context.Context, url string, opts GotoOptions) error {
	c := &Call{Method: MethodGoto, Params: gotoParams{URL: url, Options: opts}}
	_, err := invoke(ctx, h, c, func(ctx context.Context) (any, error) {
		return nil, h.Page.Goto(ctx, url, opts)
	})
	return err
}

func (h *hookedPage) Evaluate(ctx context.Context, expression string, out any) error {
	_, err := invoke(ctx, h, &Call{Method: MethodEvaluate}, func(ctx context.Context) (any, error) {
		return nil, h.Page.Evaluate(ctx, expression, out)
	})
	return err
}

func (h *hookedPage) Observe(ctx context.Context, instruction string) ([]schemas.ObservedElement, error) {
	return invoke(ctx, h, &Call{Method: MethodObserve, Params: instruction}, func(ctx context.Context) ([]schemas.ObservedElement, error) {
		return h.Page.Observe(ctx, instruction)
	})
}

func (h *hookedPage) Act(ctx context.Context, req schemas.ActRequest) (schemas.ActResult, error) {
	return invoke(ctx, h, &Call{Method: MethodAct, Params: newActParams(req)}, func(ctx context.Context) (schemas.ActResult, error) {
		return h.Page.Act(ctx, req)
	})
}

func (h *hookedPage) Extract(ctx context.Context, req schemas.ExtractRequest) (schemas.ExtractResult, error) {
	return invoke(ctx, h, &Call{Method: MethodExtract, Params: req}, func(ctx context.Context) (schemas.ExtractResult, error) {
		return h.Page.Extract(ctx, req)
	})
}

func (h *hookedPage) Perform(ctx context.Context, req schemas.PerformRequest) (schemas.PerformResult, error) {
	return invoke(ctx, h, &Call{Method: MethodPerform, Params: newPerformParams(req)}, func(ctx context.Context) (schemas.PerformResult, error) {
		return h.Page.Perform(ctx, req)
	})
}
