package schemas

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"google.golang.org/genai"
)

// Verb names a locator operation a caller asks perform to run.
type Verb string

// Action verbs change page state and never produce a value.
const (
	VerbClick        Verb = "click"
	VerbDblClick     Verb = "dblclick"
	VerbHover        Verb = "hover"
	VerbFocus        Verb = "focus"
	VerbFill         Verb = "fill"
	VerbPress        Verb = "press"
	VerbCheck        Verb = "check"
	VerbUncheck      Verb = "uncheck"
	VerbSelectOption Verb = "selectOption"
)

// Extraction verbs read a raw string value from the page.
const (
	VerbInnerText       Verb = "innerText"
	VerbTextContent     Verb = "textContent"
	VerbInputValue      Verb = "inputValue"
	VerbInnerHTML       Verb = "innerHTML"
	VerbAllTextContents Verb = "allTextContents"
	VerbGetAttribute    Verb = "getAttribute"
)

var actionVerbs = map[Verb]struct{}{
	VerbClick: {}, VerbDblClick: {}, VerbHover: {}, VerbFocus: {}, VerbFill: {},
	VerbPress: {}, VerbCheck: {}, VerbUncheck: {}, VerbSelectOption: {},
}

var extractionVerbs = map[Verb]struct{}{
	VerbInnerText: {}, VerbTextContent: {}, VerbInputValue: {}, VerbInnerHTML: {},
	VerbAllTextContents: {}, VerbGetAttribute: {},
}

// IsAction reports whether v belongs to the action set.
func (v Verb) IsAction() bool {
	_, ok := actionVerbs[v]
	return ok
}

// IsExtraction reports whether v belongs to the extraction set.
func (v Verb) IsExtraction() bool {
	_, ok := extractionVerbs[v]
	return ok
}

// NeedsValue reports whether the action verb reads its argument from InputValue.
func (v Verb) NeedsValue() bool {
	return v == VerbFill || v == VerbPress || v == VerbSelectOption
}

// -- Perform --

// PerformRequest asks the resolver to run Method against the first candidate
// locator that succeeds, degrading to the AI collaborators otherwise.
type PerformRequest struct {
	// Locators are tried in order; the most specific candidate comes first.
	Locators []Locator
	Method   Verb
	// Timeout bounds each candidate attempt. Zero selects the configured default.
	Timeout     time.Duration
	Description string
	InputValue  *string
	// Schema and Transform must be supplied together for extraction verbs.
	Schema    *genai.Schema
	Transform func(raw string) (any, error)
}

// Source records which path produced a perform result.
type Source string

const (
	SourceDirect   Source = "direct"
	SourceFallback Source = "fallback"
)

// PerformResult is the outcome of a perform call. Value is nil for action verbs.
type PerformResult struct {
	Value any    `json:"value,omitempty"`
	Via   Source `json:"via"`
	// Locator is the index of the candidate that succeeded, or -1 after a fallback.
	Locator int `json:"locator"`
}

// -- AI Collaborator Contracts --

// ActRequest is a natural language action. Variables are substituted into
// %name% markers of Action before the action runs.
type ActRequest struct {
	Action    string            `json:"action"`
	Variables map[string]string `json:"variables,omitempty"`
}

// ActResult describes what the actor did.
type ActResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Action  string `json:"action"`
}

// ExtractRequest is a natural language extraction constrained by Schema.
type ExtractRequest struct {
	Instruction string        `json:"instruction"`
	Schema      *genai.Schema `json:"schema"`
}

// ExtractResult is the decoded object returned by an extractor.
type ExtractResult map[string]any

// ExtractionField is the single property of DefaultExtractSchema.
const ExtractionField = "extraction"

// DefaultExtractSchema returns the generic single string field schema used
// when a caller extracts without supplying a schema of its own.
func DefaultExtractSchema() *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			ExtractionField: {Type: genai.TypeString},
		},
		Required: []string{ExtractionField},
	}
}

// -- History --

// HistoryMethod names the top-level page call a history entry records.
type HistoryMethod string

const (
	HistoryNavigate HistoryMethod = "navigate"
	HistoryAct      HistoryMethod = "act"
	HistoryExtract  HistoryMethod = "extract"
	HistoryObserve  HistoryMethod = "observe"
	HistoryPerform  HistoryMethod = "perform"
)

// HistoryEntry is one recorded top-level page call.
type HistoryEntry struct {
	ID         uuid.UUID       `json:"id"`
	PageID     string          `json:"page_id"`
	Method     HistoryMethod   `json:"method"`
	Parameters json.RawMessage `json:"parameters"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
	StartedAt  time.Time       `json:"started_at"`
	Duration   time.Duration   `json:"duration"`
}

// -- Observation --

// ObservedElement is one interactive element found by observe. EncodedID is
// the "{frameOrdinal}-{backendNodeId}" handle the actor and extractor use to
// name elements across frames.
type ObservedElement struct {
	EncodedID     string            `json:"elementId"`
	BackendNodeID int64             `json:"backendNodeId"`
	FrameID       string            `json:"frameId,omitempty"`
	Tag           string            `json:"tag"`
	Role          string            `json:"role,omitempty"`
	Text          string            `json:"text,omitempty"`
	Attributes    map[string]string `json:"attributes,omitempty"`
	// Description is filled in when observe ran with an instruction.
	Description string `json:"description,omitempty"`
}
