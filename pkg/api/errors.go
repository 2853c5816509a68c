package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/studylab/studysync/pkg/jsonutil"
)

// Error is a remote-reported failure: a transport-level status code plus the
// server's decoded error document. Validation failures (400) carry per-field
// messages in Fields.
type Error struct {
	StatusCode int
	Detail     string
	Fields     map[string][]string
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("api: status %d: %s", e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("api: status %d", e.StatusCode)
}

// NotFound reports whether the server answered 404.
func (e *Error) NotFound() bool {
	return e.StatusCode == http.StatusNotFound
}

// Validation reports whether the error carries field-level messages.
func (e *Error) Validation() bool {
	return len(e.Fields) > 0
}

// decodeError builds an *Error from a 4xx/5xx response body. The server
// serializes either {"detail": "..."} or {"field": ["msg", ...]}.
func decodeError(status int, raw []byte) *Error {
	apiErr := &Error{StatusCode: status}
	if len(raw) == 0 {
		return apiErr
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		apiErr.Detail = string(raw)
		return apiErr
	}

	for field, val := range doc {
		if field == "detail" {
			apiErr.Detail = jsonutil.FlexibleStringValue(val)
			continue
		}
		var msgs []string
		if err := json.Unmarshal(val, &msgs); err == nil {
			if apiErr.Fields == nil {
				apiErr.Fields = make(map[string][]string)
			}
			apiErr.Fields[field] = msgs
			continue
		}
		// Single messages arrive unwrapped, occasionally as a number or bool.
		if apiErr.Fields == nil {
			apiErr.Fields = make(map[string][]string)
		}
		apiErr.Fields[field] = []string{jsonutil.FlexibleStringValue(val)}
	}
	return apiErr
}
