package errors

import (
	"encoding/json"
	"net/http"

	gferrors "github.com/fulmenhq/gofulmen/errors"
)

// RequestIDHeader carries the request correlation id.
const RequestIDHeader = "X-Request-ID"

// HTTPErrorResponse is the JSON body of every error response.
type HTTPErrorResponse struct {
	Error HTTPError `json:"error"`
}

// HTTPError is the error object inside HTTPErrorResponse.
type HTTPError struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	RequestID string         `json:"request_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// envelopeView reads the fields of a gofulmen envelope through its JSON
// form.
type envelopeView struct {
	Code          string         `json:"code"`
	Message       string         `json:"message"`
	CorrelationID string         `json:"correlation_id"`
	Context       map[string]any `json:"context"`
	Details       map[string]any `json:"details"`
}

// Envelope converts an AppError into a gofulmen error envelope. requestID
// becomes the correlation id.
func Envelope(appErr *AppError, requestID string) *gferrors.ErrorEnvelope {
	env := gferrors.NewErrorEnvelope(appErr.Code, appErr.Message)
	if requestID != "" {
		env = env.WithCorrelationID(requestID)
	}
	if len(appErr.Details) > 0 {
		if withCtx, err := env.WithContext(appErr.Details); err == nil {
			env = withCtx
		}
	}
	return env
}

// FromEnvelope renders a gofulmen envelope as an HTTPError. Envelope
// context becomes the response details.
func FromEnvelope(env *gferrors.ErrorEnvelope) HTTPError {
	var view envelopeView
	if env != nil {
		if data, err := json.Marshal(env); err == nil {
			_ = json.Unmarshal(data, &view)
		}
	}
	details := view.Context
	if len(details) == 0 {
		details = view.Details
	}
	return HTTPError{
		Code:      view.Code,
		Message:   view.Message,
		RequestID: view.CorrelationID,
		Details:   details,
	}
}

// WriteEnvelope writes env as a JSON error response.
func WriteEnvelope(w http.ResponseWriter, env *gferrors.ErrorEnvelope, status int) {
	WriteJSON(w, status, HTTPErrorResponse{Error: FromEnvelope(env)})
}

// RespondWithError writes err as a JSON error response. Errors that are not
// AppErrors become INTERNAL_ERROR with a generic message.
func RespondWithError(w http.ResponseWriter, r *http.Request, err error) {
	appErr := As(err)
	requestID := ""
	if r != nil {
		requestID = r.Header.Get(RequestIDHeader)
	}
	WriteEnvelope(w, Envelope(appErr, requestID), appErr.Status)
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
