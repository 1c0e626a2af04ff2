package riskstore

import (
	"github.com/x402secure/gateway/internal/errors"
)

// Store lookup failures, pre-bound to the statuses the risk endpoints emit.
var (
	ErrUnknownSession = errors.WithStatus(404, errors.ErrCodeRiskSessionInvalid, "unknown sid")
	ErrUnknownTrace   = errors.WithStatus(404, errors.ErrCodeRiskTraceInvalid, "unknown tid")
	ErrTraceNotLinked = errors.New(errors.ErrCodeRiskTraceInvalid, "tid not linked to sid")
)
