package model

import (
	"errors"
	"fmt"
)

// Kind groups error codes by the class of failure.
type Kind string

const (
	KindAuthorization Kind = "authorization"
	KindStateConflict Kind = "state_conflict"
	KindValidation    Kind = "validation"
	KindFunds         Kind = "funds"
	KindRandomness    Kind = "randomness"
	KindNotFound      Kind = "not_found"
)

// Code is a machine-readable error identifier.
type Code string

// Error is a domain error. Two Errors match under errors.Is when their
// codes are equal, so detail added with With does not break comparisons.
type Error struct {
	Kind    Kind
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target carries the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// With returns a copy of e with a more specific message.
func (e *Error) With(format string, args ...any) *Error {
	c := *e
	c.Message = fmt.Sprintf("%s: %s", e.Message, fmt.Sprintf(format, args...))
	return &c
}

// Wrap returns a copy of e that wraps cause.
func (e *Error) Wrap(cause error) *Error {
	c := *e
	c.Cause = cause
	return &c
}

func newError(kind Kind, code Code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Message: msg}
}

var (
	ErrUnauthorized = newError(KindAuthorization, "Unauthorized", "caller is not authorized")

	ErrAlreadyInitialized    = newError(KindStateConflict, "AlreadyInitialized", "house already initialized")
	ErrHouseNotInitialized   = newError(KindStateConflict, "HouseNotInitialized", "house not initialized")
	ErrGameNotOpen           = newError(KindStateConflict, "GameNotOpen", "game is not open")
	ErrNotAwaitingRandomness = newError(KindStateConflict, "NotAwaitingRandomness", "game is not awaiting randomness")
	ErrAlreadySettled        = newError(KindStateConflict, "AlreadySettled", "game already settled")
	ErrCancelNotAllowed      = newError(KindStateConflict, "CancelNotAllowed", "game cannot be cancelled")
	ErrGameCancelled         = newError(KindStateConflict, "GameCancelled", "game was cancelled")
	ErrNotEnoughParticipants = newError(KindStateConflict, "NotEnoughParticipants", "not enough participants")

	ErrInvalidFeePercent     = newError(KindValidation, "InvalidFeePercent", "fee percent out of range")
	ErrInvalidWager          = newError(KindValidation, "InvalidWager", "invalid wager")
	ErrInvalidAmount         = newError(KindValidation, "InvalidAmount", "amount must be positive")
	ErrInvalidGameID         = newError(KindValidation, "InvalidGameId", "invalid game id")
	ErrInvalidGameType       = newError(KindValidation, "InvalidGameType", "unsupported game type")
	ErrDuplicateGameID       = newError(KindValidation, "DuplicateGameId", "game id already exists")
	ErrGameFull              = newError(KindValidation, "GameFull", "game is full")
	ErrAlreadyJoined         = newError(KindValidation, "AlreadyJoined", "identity already joined")
	ErrExposureLimitExceeded = newError(KindValidation, "ExposureLimitExceeded", "stake in play would exceed limit")

	ErrInsufficientFunds  = newError(KindFunds, "InsufficientFunds", "insufficient funds")
	ErrPoolUnderflow      = newError(KindFunds, "PoolUnderflow", "payout exceeds pool")
	ErrNothingToClaim     = newError(KindFunds, "NothingToClaim", "no fees to claim")
	ErrAccountingMismatch = newError(KindFunds, "AccountingMismatch", "escrow accounting mismatch")
	ErrAmountOverflow     = newError(KindFunds, "AmountOverflow", "amount overflow")

	ErrRequestAlreadyPending   = newError(KindRandomness, "RequestAlreadyPending", "randomness request already pending")
	ErrRequestAlreadyFulfilled = newError(KindRandomness, "RequestAlreadyFulfilled", "randomness request already fulfilled")
	ErrInvalidProof            = newError(KindRandomness, "InvalidProof", "invalid randomness proof")
	ErrUnknownRequest          = newError(KindRandomness, "UnknownRequest", "unknown randomness request")
	ErrRandomnessNotFulfilled  = newError(KindRandomness, "RandomnessNotFulfilled", "randomness not fulfilled")

	ErrGameNotFound = newError(KindNotFound, "GameNotFound", "game not found")
)

// AsError extracts the domain error from err, if any.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
