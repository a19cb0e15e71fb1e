package models

import (
	"errors"

	"github.com/mmdatafocus/metal_ledger/config"
)

var (
	ErrValidation              = errors.New("validation failed")
	ErrNotFound                = errors.New("record not found")
	ErrInsufficientStock       = errors.New("insufficient stock")
	ErrAllocationMismatch      = errors.New("allocation mismatch")
	ErrInvariantViolation      = errors.New("invariant violation")
	ErrQuotationNotFound       = errors.New("quotation not found")
	ErrImmutableQuotation      = errors.New("quotation for a past date is immutable")
	ErrConcurrencyConflict     = errors.New("concurrency conflict")
	ErrTransientFailure        = errors.New("transient failure")
	ErrInvalidStatusTransition = errors.New("invalid status transition")
	ErrImmutableLedger         = config.ErrImmutableLedger
	ErrAlreadyReversed         = errors.New("already reversed")
)

// ErrorKind maps an error to a stable discriminator for API callers.
// Order matters: retry exhaustion wraps the underlying conflict.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTransientFailure):
		return "transient_failure"
	case errors.Is(err, ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, ErrAllocationMismatch):
		return "allocation_mismatch"
	case errors.Is(err, ErrInvariantViolation):
		return "invariant_violation"
	case errors.Is(err, ErrQuotationNotFound):
		return "quotation_not_found"
	case errors.Is(err, ErrImmutableQuotation):
		return "immutable_quotation"
	case errors.Is(err, ErrConcurrencyConflict):
		return "concurrency_conflict"
	case errors.Is(err, ErrInvalidStatusTransition):
		return "invalid_status_transition"
	case errors.Is(err, ErrImmutableLedger):
		return "immutable_ledger"
	case errors.Is(err, ErrAlreadyReversed):
		return "already_reversed"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrValidation):
		return "validation"
	}
	return "internal"
}
