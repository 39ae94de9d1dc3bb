package core

import "errors"

// ErrNotFound is returned when a requested object does not exist in storage.
var ErrNotFound = errors.New("not found")

// Kind groups error codes by how a caller should react to them. Every kind
// except KindInternal is terminal for the call and correctable by the caller.
type Kind string

const (
	KindInvalidInput       Kind = "INVALID_INPUT"
	KindNotAuthorized      Kind = "NOT_AUTHORIZED"
	KindNotFound           Kind = "NOT_FOUND"
	KindPreconditionFailed Kind = "PRECONDITION_FAILED"
	KindRateRejected       Kind = "RATE_REJECTED"
	KindTransferFailed     Kind = "TRANSFER_FAILED"
	KindInternal           Kind = "INTERNAL"
)

// Code is a machine-readable error code.
type Code string

const (
	// Input
	CodeInvalidInput       Code = "INVALID_INPUT"
	CodeInvalidCoordinates Code = "INVALID_COORDINATES"
	CodeInvalidAmount      Code = "INVALID_AMOUNT"
	CodeInvalidPlayerID    Code = "INVALID_PLAYER_ID"

	// Authorization
	CodeNotAuthorized Code = "NOT_AUTHORIZED"
	CodeNotStakeOwner Code = "NOT_STAKE_OWNER"

	// Lookup
	CodePlayerNotFound Code = "PLAYER_NOT_FOUND"
	CodeMarkerNotFound Code = "MARKER_NOT_FOUND"
	CodeNoStake        Code = "NO_STAKE"

	// Preconditions
	CodePlayerAlreadyExists  Code = "PLAYER_ALREADY_EXISTS"
	CodeCooldownNotMet       Code = "COOLDOWN_NOT_MET"
	CodeNoUnstakeRequest     Code = "NO_UNSTAKE_REQUEST"
	CodeNoRewards            Code = "NO_REWARDS"
	CodeInsufficientBalance  Code = "INSUFFICIENT_BALANCE"
	CodeInvalidNonce         Code = "INVALID_NONCE"
	CodeSystemAccountInvalid Code = "SYSTEM_ACCOUNT"

	// Rate
	CodeSpeedTooHigh Code = "SPEED_TOO_HIGH"

	// Transfer
	CodeTransferFailed Code = "TRANSFER_FAILED"
)

var codeKinds = map[Code]Kind{
	CodeInvalidInput:         KindInvalidInput,
	CodeInvalidCoordinates:   KindInvalidInput,
	CodeInvalidAmount:        KindInvalidInput,
	CodeInvalidPlayerID:      KindInvalidInput,
	CodeSystemAccountInvalid: KindInvalidInput,
	CodeNotAuthorized:        KindNotAuthorized,
	CodeNotStakeOwner:        KindNotAuthorized,
	CodePlayerNotFound:       KindNotFound,
	CodeMarkerNotFound:       KindNotFound,
	CodeNoStake:              KindNotFound,
	CodePlayerAlreadyExists:  KindPreconditionFailed,
	CodeCooldownNotMet:       KindPreconditionFailed,
	CodeNoUnstakeRequest:     KindPreconditionFailed,
	CodeNoRewards:            KindPreconditionFailed,
	CodeInsufficientBalance:  KindPreconditionFailed,
	CodeInvalidNonce:         KindPreconditionFailed,
	CodeSpeedTooHigh:         KindRateRejected,
	CodeTransferFailed:       KindTransferFailed,
}

// Kind returns the category of c. Unknown codes are internal.
func (c Code) Kind() Kind {
	if k, ok := codeKinds[c]; ok {
		return k
	}
	return KindInternal
}

// Error is the ledger's domain error.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return string(e.Code) + ": " + e.Message + ": " + e.Cause.Error()
	}
	return string(e.Code) + ": " + e.Message
}

// Unwrap returns the underlying cause for error chain traversal.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// Kind returns the category of the error's code.
func (e *Error) Kind() Kind {
	return e.Code.Kind()
}

// NewError creates a domain error with a code and message.
func NewError(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WrapError creates a domain error that wraps an underlying cause.
func WrapError(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// Sentinels for errors.Is matching by code.
var (
	ErrInvalidCoordinates  = NewError(CodeInvalidCoordinates, "coordinates out of range")
	ErrInvalidAmount       = NewError(CodeInvalidAmount, "amount out of range")
	ErrNotAuthorized       = NewError(CodeNotAuthorized, "caller not authorized")
	ErrNotStakeOwner       = NewError(CodeNotStakeOwner, "caller does not own stake")
	ErrPlayerNotFound      = NewError(CodePlayerNotFound, "player not found")
	ErrMarkerNotFound      = NewError(CodeMarkerNotFound, "marker not found")
	ErrNoStake             = NewError(CodeNoStake, "nothing staked")
	ErrPlayerAlreadyExists = NewError(CodePlayerAlreadyExists, "player already exists")
	ErrCooldownNotMet      = NewError(CodeCooldownNotMet, "cooldown not met")
	ErrNoUnstakeRequest    = NewError(CodeNoUnstakeRequest, "no unstake request")
	ErrNoRewards           = NewError(CodeNoRewards, "no rewards to claim")
	ErrSpeedTooHigh        = NewError(CodeSpeedTooHigh, "speed too high")
	ErrTransferFailed      = NewError(CodeTransferFailed, "transfer failed")
	ErrInsufficientBalance = NewError(CodeInsufficientBalance, "insufficient balance")
)

// KindOf returns the kind of err, or KindInternal when err is not a domain
// error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind()
	}
	return KindInternal
}
