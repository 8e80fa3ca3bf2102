package core

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"membergate/internal/types"
)

// maxRequestBodySize caps decoded request bodies.
const maxRequestBodySize = 1 << 20

const errCodeValidationInvalidJSON types.ErrorCode = "validation_invalid_json"

// appErrorer lets domain errors such as billing gate failures choose their
// own client-facing code.
type appErrorer interface {
	AppError() *types.AppError
}

// APIErrorResponse is the body of every non-2xx response.
type APIErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"request_id"`
}

// JSON marshals data and writes it with status. A value that cannot be
// marshalled becomes a 500 envelope instead.
func JSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	body, err := json.Marshal(data)
	if err != nil {
		status = http.StatusInternalServerError
		body, _ = json.Marshal(errorEnvelope(r, types.ErrCodeInternalUnexpected, "failed to marshal response", nil))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// Error writes err as an APIErrorResponse. Only the code, message and
// details of a resolved AppError reach the client; anything else is reported
// as internal_unexpected_error with a fixed message.
func Error(w http.ResponseWriter, r *http.Request, err error) {
	appErr := resolveAppError(err)
	if appErr == nil {
		JSON(w, r, http.StatusInternalServerError,
			errorEnvelope(r, types.ErrCodeInternalUnexpected, "an unexpected error occurred", nil))
		return
	}
	JSON(w, r, appErr.HTTPStatus(), errorEnvelope(r, appErr.Code, appErr.Message, appErr.Details))
}

func resolveAppError(err error) *types.AppError {
	var conv appErrorer
	if errors.As(err, &conv) {
		return conv.AppError()
	}
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return nil
}

func errorEnvelope(r *http.Request, code types.ErrorCode, msg string, details map[string]any) APIErrorResponse {
	return APIErrorResponse{Error: ErrorDetail{
		Code:      string(code),
		Message:   msg,
		Details:   details,
		RequestID: types.GetRequestID(r.Context()),
	}}
}

// DecodeJSON decodes exactly one JSON value from the body into dst. Unknown
// fields, trailing values, empty bodies and bodies over 1MB are rejected with
// validation_invalid_json.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return decodeError(err)
	}
	if dec.More() {
		return types.NewAppError(errCodeValidationInvalidJSON, "request body must contain a single JSON object", nil)
	}
	return nil
}

func decodeError(err error) *types.AppError {
	invalid := func(msg string) *types.AppError {
		return types.NewAppError(errCodeValidationInvalidJSON, msg, err)
	}

	var (
		maxErr    *http.MaxBytesError
		syntaxErr *json.SyntaxError
		typeErr   *json.UnmarshalTypeError
	)
	if errors.As(err, &maxErr) {
		return invalid("request body must not exceed 1MB")
	}
	if errors.As(err, &syntaxErr) {
		return invalid("malformed JSON in request body")
	}
	if errors.As(err, &typeErr) {
		return types.NewAppErrorWithDetails(errCodeValidationInvalidJSON, "invalid value for field", err,
			map[string]any{"field": typeErr.Field, "expected": typeErr.Type.String()})
	}
	// encoding/json has no typed error for DisallowUnknownFields.
	if field, ok := strings.CutPrefix(err.Error(), "json: unknown field "); ok {
		return invalid("unknown field in request body: " + field)
	}
	if errors.Is(err, io.EOF) {
		return invalid("request body must not be empty")
	}
	return invalid("invalid JSON in request body")
}
