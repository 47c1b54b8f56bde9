// Package httputil writes JSON responses and maps domain error codes to HTTP
// statuses. The code-to-status mapping is a policy table, not control flow,
// so deployments can tune it without touching handlers.
package httputil

import (
	"encoding/json"
	"net/http"

	dErrors "github.com/lekkimworld/salesforce-consent-demo-herokuapp/pkg/domain-errors"
)

// StatusPolicy maps error codes to HTTP status codes.
type StatusPolicy map[dErrors.Code]int

// DefaultStatusPolicy mirrors the upstream app's conventions: client-visible
// flow errors use 417, credential failures 401, transport failures 503.
func DefaultStatusPolicy() StatusPolicy {
	return StatusPolicy{
		dErrors.CodeAlreadyAuthenticated: http.StatusExpectationFailed,
		dErrors.CodeMissingNonce:         http.StatusExpectationFailed,
		dErrors.CodeCallbackValidation:   http.StatusExpectationFailed,
		dErrors.CodeConsentLookup:        http.StatusExpectationFailed,
		dErrors.CodeUpstreamAuth:         http.StatusUnauthorized,
		dErrors.CodeUpstreamUnavailable:  http.StatusServiceUnavailable,
		dErrors.CodeBadRequest:           http.StatusBadRequest,
		dErrors.CodeInternal:             http.StatusInternalServerError,
	}
}

// Writer renders responses under a fixed status policy.
type Writer struct {
	policy StatusPolicy
}

// NewWriter builds a Writer. Codes absent from policy fall back to the
// default policy, so a partial override only needs the codes it changes.
func NewWriter(policy StatusPolicy) *Writer {
	merged := DefaultStatusPolicy()
	for code, status := range policy {
		merged[code] = status
	}
	return &Writer{policy: merged}
}

type errorBody struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// WriteError renders err as a JSON error body. Internal errors omit the
// description so upstream detail never reaches the browser.
func (w *Writer) WriteError(rw http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	status, ok := w.policy[code]
	if !ok {
		status = http.StatusInternalServerError
	}

	body := errorBody{Error: string(code)}
	if code != dErrors.CodeInternal {
		body.ErrorDescription = dErrors.MessageOf(err)
	}
	WriteJSON(rw, status, body)
}

// WriteJSON renders v as a JSON response with the given status.
func WriteJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}
