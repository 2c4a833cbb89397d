package schemas

import "fmt"

// UsageError reports an invalid combination of request fields. Inside the
// direct attempt path it only fails the current candidate; raised by a
// fallback precondition it reaches the caller.
type UsageError struct {
	Method  Verb
	Message string
}

func (e *UsageError) Error() string {
	if e.Method == "" {
		return "usage error: " + e.Message
	}
	return fmt.Sprintf("usage error (%s): %s", e.Method, e.Message)
}

// NewUsageError builds a UsageError for method.
func NewUsageError(method Verb, format string, args ...any) *UsageError {
	return &UsageError{Method: method, Message: fmt.Sprintf(format, args...)}
}
