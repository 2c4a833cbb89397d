package schemas

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

func TestVerbSetsAreDisjoint(t *testing.T) {
	for v := range actionVerbs {
		assert.True(t, v.IsAction(), "%s should be an action", v)
		assert.False(t, v.IsExtraction(), "%s must not also be an extraction", v)
	}
	for v := range extractionVerbs {
		assert.True(t, v.IsExtraction(), "%s should be an extraction", v)
		assert.False(t, v.IsAction(), "%s must not also be an action", v)
	}

	unknown := Verb("scrollIntoView")
	assert.False(t, unknown.IsAction())
	assert.False(t, unknown.IsExtraction())
}

func TestVerbNeedsValue(t *testing.T) {
	assert.True(t, VerbFill.NeedsValue())
	assert.True(t, VerbPress.NeedsValue())
	assert.True(t, VerbSelectOption.NeedsValue())
	assert.False(t, VerbClick.NeedsValue())
	assert.False(t, VerbGetAttribute.NeedsValue(), "getAttribute reads its name separately")
}

func TestDefaultExtractSchema(t *testing.T) {
	s := DefaultExtractSchema()
	require.NotNil(t, s)
	assert.Equal(t, genai.TypeObject, s.Type)
	require.Contains(t, s.Properties, ExtractionField)
	assert.Equal(t, genai.TypeString, s.Properties[ExtractionField].Type)
	assert.Equal(t, []string{ExtractionField}, s.Required)

	// Each call hands out a fresh schema so callers may mutate it.
	s.Required = nil
	assert.Equal(t, []string{ExtractionField}, DefaultExtractSchema().Required)
}

func TestUsageError(t *testing.T) {
	err := fmt.Errorf("candidate 0: %w", NewUsageError(VerbFill, "%s requires an input value", VerbFill))

	var usage *UsageError
	require.True(t, errors.As(err, &usage))
	assert.Equal(t, VerbFill, usage.Method)
	assert.Equal(t, "usage error (fill): fill requires an input value", usage.Error())

	bare := &UsageError{Message: "no method"}
	assert.Equal(t, "usage error: no method", bare.Error())
}
