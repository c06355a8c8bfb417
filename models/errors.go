package models

import (
	"errors"
	"fmt"
)

var (
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrInvalidConversion  = errors.New("invalid conversion: output exceeds input")
	ErrInvalidQuantity    = errors.New("invalid quantity")
	ErrInvalidTransfer    = errors.New("invalid transfer")
	ErrRoleNotPermitted   = errors.New("role not permitted for operation")
	ErrInvalidDraft       = errors.New("invalid draft")
	ErrDuplicateAccount   = errors.New("duplicate account")
	ErrLedgerRejected     = errors.New("ledger rejected")
	ErrPartiallyCommitted = errors.New("partially committed")
	ErrNotFound           = errors.New("record not found")
	ErrConnection         = errors.New("connection error")
)

// PartiallyCommittedError is returned when the ledger confirmed an operation
// but the local mirror write failed afterwards.
type PartiallyCommittedError struct {
	OperationRef string
	Kind         string
	EntityId     string
	TxHash       string
	BlockNumber  uint64
	Cause        error
}

func (e *PartiallyCommittedError) Error() string {
	return fmt.Sprintf("partially committed %s %s (ref=%s tx=%s block=%d): %v",
		e.Kind, e.EntityId, e.OperationRef, e.TxHash, e.BlockNumber, e.Cause)
}

func (e *PartiallyCommittedError) Unwrap() error {
	return e.Cause
}

func (e *PartiallyCommittedError) Is(target error) bool {
	return target == ErrPartiallyCommitted
}

// DraftError lists field -> failed rule for a rejected draft.
type DraftError struct {
	Fields map[string]string
}

func (e *DraftError) Error() string {
	return fmt.Sprintf("invalid draft: %v", e.Fields)
}

func (e *DraftError) Is(target error) bool {
	return target == ErrInvalidDraft
}

// IsValidationError reports errors raised before any side effect; the caller may correct input and retry.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInsufficientStock) ||
		errors.Is(err, ErrInvalidConversion) ||
		errors.Is(err, ErrInvalidQuantity) ||
		errors.Is(err, ErrInvalidTransfer) ||
		errors.Is(err, ErrRoleNotPermitted) ||
		errors.Is(err, ErrInvalidDraft) ||
		errors.Is(err, ErrDuplicateAccount)
}
