package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/genai"

	"github.com/xkilldash9x/pagehand/api/schemas"
	"github.com/xkilldash9x/pagehand/internal/llmutil"
)

const orderPage = `<html><body><h1>Order #1234</h1><p>Total: $42</p><script>ignored()</script></body></html>`

func TestExtractor_Extract(t *testing.T) {
	schema := &genai.Schema{
		Type:       genai.TypeObject,
		Properties: map[string]*genai.Schema{"order": {Type: genai.TypeString}, "total": {Type: genai.TypeNumber}},
	}

	t.Run("DecodesAndValidates", func(t *testing.T) {
		llm, validator := new(MockLLMClient), new(MockValidator)
		ex := NewExtractor(&fakePage{html: orderPage}, llm, validator, zaptest.NewLogger(t), Options{})

		llm.On("Generate", mock.Anything, mock.MatchedBy(func(req schemas.GenerationRequest) bool {
			return req.Options.ForceJSONFormat && req.Options.ResponseSchema == schema &&
				assert.Contains(t, req.UserPrompt, "Instruction: the order number and total") &&
				assert.Contains(t, req.UserPrompt, "Order #1234\nTotal: $42") &&
				assert.NotContains(t, req.UserPrompt, "ignored()")
		})).Return(`{"order": "1234", "total": 42}`, nil).Once()
		validator.On("Validate", schema, map[string]any{"order": "1234", "total": float64(42)}).Return(nil).Once()

		out, err := ex.Extract(context.Background(), schemas.ExtractRequest{Instruction: "the order number and total", Schema: schema})
		require.NoError(t, err)
		assert.Equal(t, schemas.ExtractResult{"order": "1234", "total": float64(42)}, out)
		llm.AssertExpectations(t)
		validator.AssertExpectations(t)
	})

	t.Run("DefaultSchema", func(t *testing.T) {
		llm := new(MockLLMClient)
		ex := NewExtractor(&fakePage{html: orderPage}, llm, nil, zaptest.NewLogger(t), Options{})
		llm.On("Generate", mock.Anything, mock.MatchedBy(func(req schemas.GenerationRequest) bool {
			_, ok := req.Options.ResponseSchema.Properties[schemas.ExtractionField]
			return ok
		})).Return(`{"extraction": "Order #1234"}`, nil).Once()

		out, err := ex.Extract(context.Background(), schemas.ExtractRequest{Instruction: "title"})
		require.NoError(t, err)
		assert.Equal(t, "Order #1234", out[schemas.ExtractionField])
	})

	t.Run("TruncatesPageText", func(t *testing.T) {
		llm := new(MockLLMClient)
		ex := NewExtractor(&fakePage{html: orderPage}, llm, nil, zaptest.NewLogger(t), Options{MaxPageChars: 5})
		llm.On("Generate", mock.Anything, mock.MatchedBy(func(req schemas.GenerationRequest) bool {
			return assert.Contains(t, req.UserPrompt, "Page text:\nOrder") && assert.NotContains(t, req.UserPrompt, "#1234")
		})).Return(`{"extraction": ""}`, nil).Once()

		_, err := ex.Extract(context.Background(), schemas.ExtractRequest{Instruction: "x"})
		require.NoError(t, err)
	})

	t.Run("ValidationFailure", func(t *testing.T) {
		llm, validator := new(MockLLMClient), new(MockValidator)
		ex := NewExtractor(&fakePage{html: orderPage}, llm, validator, zaptest.NewLogger(t), Options{})
		llm.On("Generate", mock.Anything, mock.Anything).Return(`{"total": "lots"}`, nil).Once()
		invalid := errors.New("validation failed at .total: expected number")
		validator.On("Validate", schema, mock.Anything).Return(invalid).Once()

		_, err := ex.Extract(context.Background(), schemas.ExtractRequest{Instruction: "total", Schema: schema})
		assert.ErrorIs(t, err, invalid)
	})

	t.Run("NonObjectSchema", func(t *testing.T) {
		ex := NewExtractor(&fakePage{}, new(MockLLMClient), nil, zaptest.NewLogger(t), Options{})
		_, err := ex.Extract(context.Background(), schemas.ExtractRequest{Schema: &genai.Schema{Type: genai.TypeString}})
		var usage *schemas.UsageError
		assert.ErrorAs(t, err, &usage)
	})

	t.Run("UndecodableResponse", func(t *testing.T) {
		llm := new(MockLLMClient)
		ex := NewExtractor(&fakePage{html: orderPage}, llm, nil, zaptest.NewLogger(t), Options{})
		llm.On("Generate", mock.Anything, mock.Anything).Return("I could not find it.", nil).Once()
		_, err := ex.Extract(context.Background(), schemas.ExtractRequest{Instruction: "x"})
		assert.ErrorIs(t, err, llmutil.ErrNoJSON)
	})
}
