package models

import (
	"errors"
	"fmt"
)

type ErrorCode string

const (
	ErrorCode_InvalidParameters      ErrorCode = "INVALID_PARAMETERS"
	ErrorCode_CommitmentNotFound     ErrorCode = "COMMITMENT_NOT_FOUND"
	ErrorCode_Unauthorized           ErrorCode = "UNAUTHORIZED"
	ErrorCode_CommitmentTerminated   ErrorCode = "COMMITMENT_TERMINATED"
	ErrorCode_NoClaimableAmount      ErrorCode = "NO_CLAIMABLE_AMOUNT"
	ErrorCode_InsufficientBalance    ErrorCode = "INSUFFICIENT_BALANCE"
	ErrorCode_GloballyPaused         ErrorCode = "GLOBALLY_PAUSED"
	ErrorCode_ReentrantCall          ErrorCode = "REENTRANT_CALL"
	ErrorCode_ConcurrentModification ErrorCode = "CONCURRENT_MODIFICATION"
	ErrorCode_TransferFailed         ErrorCode = "TRANSFER_FAILED"
)

// Error is the ledger's failure type. Two errors match under errors.Is when their codes are equal, so callers can
// test against the sentinels below regardless of message or cause.
type Error struct {
	Code    ErrorCode
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

func NewError(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func WrapError(code ErrorCode, cause error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Cause: cause}
}

var (
	ErrInvalidParameters      = &Error{Code: ErrorCode_InvalidParameters, Message: "invalid parameters"}
	ErrCommitmentNotFound     = &Error{Code: ErrorCode_CommitmentNotFound, Message: "commitment not found"}
	ErrUnauthorized           = &Error{Code: ErrorCode_Unauthorized, Message: "unauthorized"}
	ErrCommitmentTerminated   = &Error{Code: ErrorCode_CommitmentTerminated, Message: "commitment terminated"}
	ErrNoClaimableAmount      = &Error{Code: ErrorCode_NoClaimableAmount, Message: "no claimable amount"}
	ErrInsufficientBalance    = &Error{Code: ErrorCode_InsufficientBalance, Message: "insufficient balance"}
	ErrGloballyPaused         = &Error{Code: ErrorCode_GloballyPaused, Message: "globally paused"}
	ErrReentrantCall          = &Error{Code: ErrorCode_ReentrantCall, Message: "reentrant call"}
	ErrConcurrentModification = &Error{Code: ErrorCode_ConcurrentModification, Message: "concurrent modification"}
	ErrTransferFailed         = &Error{Code: ErrorCode_TransferFailed, Message: "transfer failed"}
)

// ErrInsufficientFunds is returned by value-transfer collaborators when the payer's balance or allowance cannot cover
// a transfer. The ledger never passes it through, it maps it to ErrInsufficientBalance.
var ErrInsufficientFunds = errors.New("insufficient funds")
