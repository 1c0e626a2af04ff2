package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// ErrorResponse is the wire envelope for every non-2xx JSON body.
type ErrorResponse struct {
	Error     ErrorDetail `json:"error"`
	RequestID string      `json:"request_id"`
}

// ErrorDetail carries the taxonomy code and a human-readable message.
type ErrorDetail struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// Error is a failure bound to a taxonomy code. Status, when non-zero,
// overrides the code's default HTTP mapping (used to pass through upstream
// statuses such as 404 for an unknown session or 502 for a bad risk engine
// response).
type Error struct {
	Code    ErrorCode
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the explicit Status if set, else the code default.
func (e *Error) HTTPStatus() int {
	if e.Status != 0 {
		return e.Status
	}
	return e.Code.HTTPStatus()
}

// New builds an Error with the code's default HTTP status.
func New(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf builds an Error with a formatted message.
func Newf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithStatus builds an Error whose HTTP status differs from the code default.
func WithStatus(status int, code ErrorCode, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap attaches a cause to a coded error. The message stays client-facing;
// the cause is for logs only.
func Wrap(code ErrorCode, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// Resolve maps any error to the (status, code, message) triple written to
// the client. Unrecognized errors collapse to 500 UNSPECIFIED with the raw
// error text, matching how internal failures surface on the proxy endpoints.
func Resolve(err error) (int, ErrorCode, string) {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.HTTPStatus(), ge.Code, ge.Message
	}
	return 500, ErrCodeUnspecified, err.Error()
}

// WriteJSON writes the error envelope with the given status.
func WriteJSON(w http.ResponseWriter, status int, code ErrorCode, message, requestID string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:     ErrorDetail{Code: code, Message: message},
		RequestID: requestID,
	})
}
