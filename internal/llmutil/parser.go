// internal/llmutil/parser.go
package llmutil

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Regex definitions use \x60 for backticks because Go raw strings cannot contain them.
var (
	// jsonObjectRegex extracts a JSON object if the response is wrapped in markdown.
	jsonObjectRegex = regexp.MustCompile("(?s)\x60\x60\x60(?:json)?\\s*({.*})\\s*\x60\x60\x60")
	// jsonArrayRegex extracts a JSON array if the response is wrapped in markdown.
	jsonArrayRegex = regexp.MustCompile("(?s)\x60\x60\x60(?:json)?\\s*(\\[.*\\])\\s*\x60\x60\x60")
)

// ErrNoJSON is returned when a response holds nothing that looks like JSON.
var ErrNoJSON = errors.New("could not find any JSON in the LLM response")

// ExtractJSON returns the JSON document inside a model response. JSON mode
// normally yields a bare document, but models still wrap it in markdown or
// surround it with conversational text.
func ExtractJSON(response string) (string, error) {
	response = strings.TrimSpace(response)
	if response == "" {
		return "", ErrNoJSON
	}
	isObject := strings.Contains(response, "{")
	isArray := strings.Contains(response, "[")

	// 1. Markdown wrapping.
	if strings.HasPrefix(response, "```") {
		var matches []string
		if isObject {
			matches = jsonObjectRegex.FindStringSubmatch(response)
		}
		if len(matches) <= 1 && isArray {
			matches = jsonArrayRegex.FindStringSubmatch(response)
		}
		if len(matches) > 1 {
			return matches[1], nil
		}
		return "", ErrNoJSON
	}

	if strings.HasPrefix(response, "{") || strings.HasPrefix(response, "[") {
		return response, nil
	}

	// 2. A document inside conversational text. Objects win over arrays.
	if isObject {
		if fb, lb := strings.Index(response, "{"), strings.LastIndex(response, "}"); fb != -1 && lb > fb {
			return response[fb : lb+1], nil
		}
	}
	if isArray {
		if fb, lb := strings.Index(response, "["), strings.LastIndex(response, "]"); fb != -1 && lb > fb {
			return response[fb : lb+1], nil
		}
	}
	return "", ErrNoJSON
}

// ParseJSONResponse parses the JSON document in an LLM response into T.
func ParseJSONResponse[T any](response string) (*T, error) {
	doc, err := ExtractJSON(response)
	if err != nil {
		return nil, err
	}

	var result T
	if err := json.Unmarshal([]byte(doc), &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal LLM JSON response: %w. Extracted JSON (truncated): %s", err, truncateString(doc, 500))
	}
	return &result, nil
}

// truncateString truncates s to at most maxLen runes.
func truncateString(s string, maxLen int) string {
	if maxLen <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen]) + "..."
}
