package agent

import (
	"context"
	"fmt"

	"github.com/chromedp/cdproto/cdp"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/xkilldash9x/pagehand/api/schemas"
	"github.com/xkilldash9x/pagehand/internal/browser/locator"
	"github.com/xkilldash9x/pagehand/internal/browser/perform"
	"github.com/xkilldash9x/pagehand/internal/llmutil"
)

// actionMethods are the verbs the model may choose for act.
var actionMethods = []string{
	string(schemas.VerbClick), string(schemas.VerbDblClick), string(schemas.VerbHover),
	string(schemas.VerbFocus), string(schemas.VerbFill), string(schemas.VerbPress),
	string(schemas.VerbCheck), string(schemas.VerbUncheck), string(schemas.VerbSelectOption),
}

var actResponseSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"elementId":   {Type: genai.TypeString},
		"method":      {Type: genai.TypeString, Enum: actionMethods},
		"arguments":   {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
		"description": {Type: genai.TypeString},
	},
	Required:         []string{"elementId", "method"},
	PropertyOrdering: []string{"elementId", "method", "arguments", "description"},
}

// actDecision is the model's choice for one act call.
type actDecision struct {
	ElementID   string   `json:"elementId"`
	Method      string   `json:"method"`
	Arguments   []string `json:"arguments"`
	Description string   `json:"description"`
}

// Actor implements schemas.Actor by letting the model pick one element and
// one action verb from a page snapshot.
type Actor struct {
	page   Page
	llm    schemas.LLMClient
	logger *zap.Logger
}

var _ schemas.Actor = (*Actor)(nil)

// NewActor returns an Actor for page.
func NewActor(page Page, llm schemas.LLMClient, logger *zap.Logger) *Actor {
	return &Actor{page: page, llm: llm, logger: logger.Named("actor")}
}

// Act observes the page, asks the model for an element and a verb, and runs
// that verb through the same dispatch perform uses. Variables are applied to
// the chosen arguments after the model has answered, so their values never
// reach the prompt.
func (a *Actor) Act(ctx context.Context, req schemas.ActRequest) (schemas.ActResult, error) {
	res := schemas.ActResult{Action: req.Action}

	elements, err := a.page.Snapshot(ctx)
	if err != nil {
		return res, fmt.Errorf("failed to observe page: %w", err)
	}
	if len(elements) == 0 {
		res.Message = ErrNoElements.Error()
		return res, ErrNoElements
	}

	raw, err := a.llm.Generate(ctx, schemas.GenerationRequest{
		SystemPrompt: actSystemPrompt,
		UserPrompt:   actUserPrompt(req, elements),
		Options:      schemas.GenerationOptions{ForceJSONFormat: true, ResponseSchema: actResponseSchema},
	})
	if err != nil {
		return res, fmt.Errorf("llm generation failed: %w", err)
	}

	decision, err := llmutil.ParseJSONResponse[actDecision](raw)
	if err != nil {
		return res, err
	}
	if decision.Description != "" {
		res.Action = decision.Description
	}

	var target *schemas.ObservedElement
	for i := range elements {
		if elements[i].EncodedID == decision.ElementID {
			target = &elements[i]
			break
		}
	}
	if target == nil {
		res.Message = fmt.Sprintf("element %q is not on the page", decision.ElementID)
		return res, fmt.Errorf("%w: %q", ErrUnknownElement, decision.ElementID)
	}

	verb := schemas.Verb(decision.Method)
	if !verb.IsAction() {
		res.Message = fmt.Sprintf("method %q is not an action", decision.Method)
		return res, fmt.Errorf("%w: %q", ErrUnsupportedMethod, decision.Method)
	}

	var value *string
	if len(decision.Arguments) > 0 {
		v := Substitute(decision.Arguments[0], req.Variables)
		value = &v
	}

	log := a.logger.With(zap.String("element_id", target.EncodedID), zap.String("method", decision.Method))
	log.Debug("Applying model-chosen action.")

	loc := locator.ForBackendNode(a.page, cdp.BackendNodeID(target.BackendNodeID))
	if err := perform.ApplyAction(ctx, loc, verb, value); err != nil {
		res.Message = err.Error()
		log.Info("Model-chosen action failed.", zap.Error(err))
		return res, fmt.Errorf("failed to %s element %s: %w", verb, target.EncodedID, err)
	}

	res.Success = true
	res.Message = fmt.Sprintf("Action [%s] performed successfully on element %s", verb, target.EncodedID)
	return res, nil
}
