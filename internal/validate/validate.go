// Package validate checks decoded values against genai response schemas.
package validate

import (
	"fmt"
	"math"
	"regexp"
	"slices"
	"strconv"

	jsoniter "github.com/json-iterator/go"
	"google.golang.org/genai"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ValidationError reports the first place a value departs from its schema.
type ValidationError struct {
	// Path is a JSONPath-like location such as "$.items[2].price".
	Path    string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed at %s: %s", e.Path, e.Message)
}

// Validator implements schemas.Validator. The zero value is ready to use.
type Validator struct{}

// New returns a Validator.
func New() *Validator { return &Validator{} }

// Validate normalises value to generic JSON and checks it against schema.
// A nil schema accepts anything.
func (v *Validator) Validate(schema *genai.Schema, value any) error {
	if schema == nil {
		return nil
	}
	generic, err := normalise(value)
	if err != nil {
		return &ValidationError{Path: "$", Message: err.Error()}
	}
	return check(schema, generic, "$")
}

// normalise turns structs and typed maps into map[string]any, []any,
// float64, string, bool and nil.
func normalise(value any) (any, error) {
	switch value.(type) {
	case nil, string, bool, float64, map[string]any, []any:
		return value, nil
	}
	b, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("value is not JSON encodable: %w", err)
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("value did not round-trip through JSON: %w", err)
	}
	return out, nil
}

func check(s *genai.Schema, value any, path string) error {
	if s == nil {
		return nil
	}
	if len(s.AnyOf) > 0 {
		for _, alt := range s.AnyOf {
			if check(alt, value, path) == nil {
				return nil
			}
		}
		return fail(path, "value matches none of the anyOf alternatives")
	}

	if value == nil {
		if s.Type == genai.TypeNULL || (s.Nullable != nil && *s.Nullable) || s.Type == "" || s.Type == genai.TypeUnspecified {
			return nil
		}
		return fail(path, "expected %s, got null", s.Type)
	}

	switch s.Type {
	case "", genai.TypeUnspecified:
		return nil
	case genai.TypeString:
		str, ok := value.(string)
		if !ok {
			return mismatch(s, value, path)
		}
		return checkString(s, str, path)
	case genai.TypeNumber, genai.TypeInteger:
		n, ok := toFloat(value)
		if !ok {
			return mismatch(s, value, path)
		}
		if s.Type == genai.TypeInteger && n != math.Trunc(n) {
			return fail(path, "expected INTEGER, got %v", n)
		}
		return checkNumber(s, n, path)
	case genai.TypeBoolean:
		if _, ok := value.(bool); !ok {
			return mismatch(s, value, path)
		}
		return nil
	case genai.TypeArray:
		items, ok := value.([]any)
		if !ok {
			return mismatch(s, value, path)
		}
		return checkArray(s, items, path)
	case genai.TypeObject:
		obj, ok := value.(map[string]any)
		if !ok {
			return mismatch(s, value, path)
		}
		return checkObject(s, obj, path)
	case genai.TypeNULL:
		return fail(path, "expected NULL, got %s", kindOf(value))
	default:
		return fail(path, "unsupported schema type %q", s.Type)
	}
}

func checkString(s *genai.Schema, str string, path string) error {
	if len(s.Enum) > 0 && !slices.Contains(s.Enum, str) {
		return fail(path, "%q is not one of %v", str, s.Enum)
	}
	n := int64(len([]rune(str)))
	if s.MinLength != nil && n < *s.MinLength {
		return fail(path, "length %d is below minLength %d", n, *s.MinLength)
	}
	if s.MaxLength != nil && n > *s.MaxLength {
		return fail(path, "length %d exceeds maxLength %d", n, *s.MaxLength)
	}
	if s.Pattern != "" {
		re, err := regexp.Compile(s.Pattern)
		if err != nil {
			return fail(path, "invalid pattern %q: %v", s.Pattern, err)
		}
		if !re.MatchString(str) {
			return fail(path, "%q does not match pattern %q", str, s.Pattern)
		}
	}
	return nil
}

func checkNumber(s *genai.Schema, n float64, path string) error {
	if len(s.Enum) > 0 && !slices.Contains(s.Enum, strconv.FormatFloat(n, 'f', -1, 64)) {
		return fail(path, "%v is not one of %v", n, s.Enum)
	}
	if s.Minimum != nil && n < *s.Minimum {
		return fail(path, "%v is below minimum %v", n, *s.Minimum)
	}
	if s.Maximum != nil && n > *s.Maximum {
		return fail(path, "%v exceeds maximum %v", n, *s.Maximum)
	}
	return nil
}

func checkArray(s *genai.Schema, items []any, path string) error {
	n := int64(len(items))
	if s.MinItems != nil && n < *s.MinItems {
		return fail(path, "%d items is below minItems %d", n, *s.MinItems)
	}
	if s.MaxItems != nil && n > *s.MaxItems {
		return fail(path, "%d items exceeds maxItems %d", n, *s.MaxItems)
	}
	for i, item := range items {
		if err := check(s.Items, item, fmt.Sprintf("%s[%d]", path, i)); err != nil {
			return err
		}
	}
	return nil
}

func checkObject(s *genai.Schema, obj map[string]any, path string) error {
	for _, name := range s.Required {
		if _, ok := obj[name]; !ok {
			return fail(path, "missing required property %q", name)
		}
	}
	// Walk in a stable order so the reported path is deterministic.
	for _, name := range propertyOrder(s) {
		value, ok := obj[name]
		if !ok {
			continue
		}
		if err := check(s.Properties[name], value, path+"."+name); err != nil {
			return err
		}
	}
	return nil
}

func propertyOrder(s *genai.Schema) []string {
	if len(s.PropertyOrdering) == len(s.Properties) {
		return s.PropertyOrdering
	}
	names := make([]string, 0, len(s.Properties))
	for name := range s.Properties {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func mismatch(s *genai.Schema, value any, path string) error {
	return fail(path, "expected %s, got %s", s.Type, kindOf(value))
}

func fail(path, format string, args ...any) error {
	return &ValidationError{Path: path, Message: fmt.Sprintf(format, args...)}
}

func kindOf(value any) string {
	switch value.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case float64, float32, int, int64, int32:
		return "number"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", value)
	}
}

func toFloat(value any) (float64, bool) {
	switch n := value.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	default:
		return 0, false
	}
}
