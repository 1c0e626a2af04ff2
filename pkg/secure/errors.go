package secure

import (
	"github.com/x402secure/gateway/internal/errors"
)

// HeaderError classifies failures while parsing or building the secure
// header family. Message is the client-facing detail; Code selects the
// taxonomy entry and HTTP status.
type HeaderError struct {
	Code    errors.ErrorCode
	Message string
}

func (e HeaderError) Error() string {
	return e.Message
}

func newHeaderError(code errors.ErrorCode, message string) HeaderError {
	return HeaderError{Code: code, Message: message}
}
