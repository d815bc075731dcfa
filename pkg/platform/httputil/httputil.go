// Package httputil maps domain errors onto HTTP responses.
package httputil

import (
	"encoding/json"
	"errors"
	"net/http"

	dErrors "electorate/pkg/domain-errors"
)

// statusByCode maps domain error codes to HTTP statuses. Unlisted codes fall
// through to 500.
var statusByCode = map[dErrors.Code]int{
	dErrors.CodeBadRequest:   http.StatusBadRequest,
	dErrors.CodeInvalidInput: http.StatusBadRequest,
	dErrors.CodeValidation:   http.StatusUnprocessableEntity,

	dErrors.CodeUnauthorized:     http.StatusUnauthorized,
	dErrors.CodeForbidden:        http.StatusForbidden,
	dErrors.CodeSignatureInvalid: http.StatusUnauthorized,

	dErrors.CodeNotFound:          http.StatusNotFound,
	dErrors.CodeConflict:          http.StatusConflict,
	dErrors.CodeAlreadyRegistered: http.StatusConflict,
	dErrors.CodeAlreadyVerified:   http.StatusConflict,
	dErrors.CodeAlreadyIssued:     http.StatusConflict,
	dErrors.CodeAlreadyConsumed:   http.StatusConflict,
	dErrors.CodeNotVerified:       http.StatusConflict,
	dErrors.CodeExpired:           http.StatusGone,

	dErrors.CodeUnavailable: http.StatusServiceUnavailable,
	dErrors.CodeTimeout:     http.StatusGatewayTimeout,
}

// StatusFor returns the HTTP status for an error's domain code.
func StatusFor(err error) int {
	if status, ok := statusByCode[dErrors.CodeOf(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}

type errorBody struct {
	Error       string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

// WriteError renders a domain error as JSON. Internal-class errors omit the
// description so store and ledger details never reach clients.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	status := StatusFor(err)

	body := errorBody{Error: string(code)}
	if status < http.StatusInternalServerError {
		var de *dErrors.Error
		if errors.As(err, &de) {
			body.Description = de.Message()
		}
	}

	WriteJSON(w, status, body)
}

// WriteJSON renders v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
