package ap2

import (
	apperrors "github.com/x402secure/gateway/internal/errors"
)

// CheckError is a single failed verification check. Every check failure maps
// to HTTP 422 at the proxy boundary; Code carries the taxonomy entry for the
// specific check that failed.
type CheckError struct {
	Code    apperrors.ErrorCode
	Message string
}

func (e *CheckError) Error() string {
	return e.Message
}

func failed(code apperrors.ErrorCode, message string) *CheckError {
	return &CheckError{Code: code, Message: message}
}
