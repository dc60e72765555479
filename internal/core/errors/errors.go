package errors

import (
	"context"
	"errors"
)

const (
	HttpInternalError       = "internal_error"
	HttpNotInitializedError = "engine_not_initialized"
)

// ErrorResponse is the error response body for the status API.
type ErrorResponse struct {
	ErrorType string      `json:"error_type"`
	Message   string      `json:"message"`
	Details   interface{} `json:"details,omitempty"`
}

// Dispatch failure taxonomy. Every failure is local to one
// (event, trigger entry, record) dispatch.
var (
	// ErrNotInitialized means the platform has not been initialised yet; the
	// engine declines to start reactive processing.
	ErrNotInitialized = errors.New("platform not initialised")

	// ErrMissingFormula means a trigger entry references a formula that is no
	// longer part of the formula set.
	ErrMissingFormula = errors.New("formula not found")

	// ErrMissingHierarchy means a remote formula has no dependency declared for
	// the changed (model, field), so the affected records cannot be resolved.
	ErrMissingHierarchy = errors.New("hierarchy definition missing")

	// ErrEvaluation wraps a failure raised while evaluating a formula.
	ErrEvaluation = errors.New("formula evaluation failed")

	// ErrStore wraps a failure of a record store read or write.
	ErrStore = errors.New("record store operation failed")

	// ErrCascadeBlocked means a write was suppressed by the cascade guard.
	ErrCascadeBlocked = errors.New("cascade blocked")

	// ErrQuarantined means a (formula, record) pair failed too many times and is skipped.
	ErrQuarantined = errors.New("formula quarantined for record")

	// ErrUnsupportedTrigger means the trigger entry kind has no dispatch behaviour yet.
	ErrUnsupportedTrigger = errors.New("trigger kind not supported")
)

// Kind is a short label for a dispatch outcome, used in logs and metrics.
type Kind string

const (
	KindOK               Kind = "ok"
	KindNotInitialized   Kind = "not_initialized"
	KindMissingFormula   Kind = "missing_formula"
	KindMissingHierarchy Kind = "missing_hierarchy"
	KindEvaluation       Kind = "evaluation"
	KindStore            Kind = "store"
	KindCascadeBlocked   Kind = "cascade_blocked"
	KindQuarantined      Kind = "quarantined"
	KindUnsupported      Kind = "unsupported"
	KindCancelled        Kind = "cancelled"
	KindUnknown          Kind = "unknown"
)

// Classify maps an error to its taxonomy kind. A nil error is KindOK.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindOK
	case errors.Is(err, context.Canceled):
		return KindCancelled
	case errors.Is(err, ErrNotInitialized):
		return KindNotInitialized
	case errors.Is(err, ErrMissingFormula):
		return KindMissingFormula
	case errors.Is(err, ErrMissingHierarchy):
		return KindMissingHierarchy
	case errors.Is(err, ErrCascadeBlocked):
		return KindCascadeBlocked
	case errors.Is(err, ErrQuarantined):
		return KindQuarantined
	case errors.Is(err, ErrUnsupportedTrigger):
		return KindUnsupported
	case errors.Is(err, ErrEvaluation):
		return KindEvaluation
	case errors.Is(err, ErrStore), errors.Is(err, context.DeadlineExceeded):
		return KindStore
	default:
		return KindUnknown
	}
}

// Skippable reports whether the failure is an expected, silent skip rather
// than something an operator needs to look at.
func Skippable(err error) bool {
	switch Classify(err) {
	case KindMissingFormula, KindUnsupported:
		return true
	default:
		return false
	}
}
