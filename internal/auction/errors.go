package auction

import (
	"errors"
	"fmt"
)

// Error is returned by every machine operation that rejects a call.
//
// Callers branch on Code (or the Is helpers below); Message is for humans.
// Collaborator failures are not Errors: they are wrapped with fmt.Errorf and
// surface unchanged through errors.Is/As.
type Error struct {
	// Code identifies the rejection.
	Code ErrorCode

	// Kind groups codes by the phase that raised them.
	Kind ErrorKind

	// Message is a human-readable description.
	Message string

	// DrawID is the draw the call was evaluated against, when known.
	DrawID uint64

	// Details contains additional context.
	Details map[string]string

	// Err is the underlying collaborator failure, if any.
	Err error
}

// ErrorCode identifies why an operation was rejected.
type ErrorCode string

const (
	// Configuration errors, raised at construction.
	ErrCodeInvalidConfig          ErrorCode = "INVALID_CONFIG"
	ErrCodeTargetExceedsDuration  ErrorCode = "TARGET_EXCEEDS_DURATION"
	ErrCodeDurationExceedsBudget  ErrorCode = "DURATION_EXCEEDS_BUDGET"
	ErrCodeAnchorFractionTooLarge ErrorCode = "ANCHOR_FRACTION_TOO_LARGE"

	// ErrCodeEmptyRecipient indicates the zero address was given as recipient.
	ErrCodeEmptyRecipient ErrorCode = "EMPTY_RECIPIENT"

	// ErrCodeNotYetDue indicates the due draw has not closed yet.
	ErrCodeNotYetDue ErrorCode = "NOT_YET_DUE"

	// ErrCodeRequestNotFresh indicates the randomness request was not made in
	// the current scheduling tick.
	ErrCodeRequestNotFresh ErrorCode = "REQUEST_NOT_FRESH"

	// ErrCodeAlreadyTriggered indicates the draw has a live attempt.
	ErrCodeAlreadyTriggered ErrorCode = "ALREADY_TRIGGERED"

	// ErrCodeRetryLimitReached indicates the retry budget is spent.
	ErrCodeRetryLimitReached ErrorCode = "RETRY_LIMIT_REACHED"

	// ErrCodeStaleRequest indicates a retry reused an old randomness request.
	ErrCodeStaleRequest ErrorCode = "STALE_REQUEST"

	// ErrCodeWindowExpired indicates the auction window has passed.
	ErrCodeWindowExpired ErrorCode = "WINDOW_EXPIRED"

	// ErrCodeNotTriggered indicates completion was attempted with no attempt
	// on record.
	ErrCodeNotTriggered ErrorCode = "NOT_TRIGGERED"

	// ErrCodeDrawAlreadyFinalized indicates the recorded attempts belong to a
	// draw that is no longer due.
	ErrCodeDrawAlreadyFinalized ErrorCode = "DRAW_ALREADY_FINALIZED"

	// ErrCodeRandomnessNotReady indicates the latest request has no value yet.
	ErrCodeRandomnessNotReady ErrorCode = "RANDOMNESS_NOT_READY"

	// ErrCodePayoutFailed indicates the draw was finalized but at least one
	// transfer could not be made. Unpaid transfers stay pending.
	ErrCodePayoutFailed ErrorCode = "PAYOUT_FAILED"

	// ErrCodePersistFailed indicates the draw was finalized but its
	// settlement could not be written to the store.
	ErrCodePersistFailed ErrorCode = "PERSIST_FAILED"

	// ErrCodeInvariantViolated indicates a collaborator broke its contract,
	// for example a curve paying more than the pool.
	ErrCodeInvariantViolated ErrorCode = "INVARIANT_VIOLATED"
)

// ErrorKind groups error codes.
type ErrorKind string

const (
	KindConfiguration ErrorKind = "configuration"
	KindPrecondition  ErrorKind = "precondition"
	KindTiming        ErrorKind = "timing"
	KindFinalization  ErrorKind = "finalization"
	KindSettlement    ErrorKind = "settlement"
)

var codeKinds = map[ErrorCode]ErrorKind{
	ErrCodeInvalidConfig:          KindConfiguration,
	ErrCodeTargetExceedsDuration:  KindConfiguration,
	ErrCodeDurationExceedsBudget:  KindConfiguration,
	ErrCodeAnchorFractionTooLarge: KindConfiguration,
	ErrCodeEmptyRecipient:         KindPrecondition,
	ErrCodeAlreadyTriggered:       KindPrecondition,
	ErrCodeRetryLimitReached:      KindPrecondition,
	ErrCodeStaleRequest:           KindPrecondition,
	ErrCodeNotTriggered:           KindPrecondition,
	ErrCodeNotYetDue:              KindTiming,
	ErrCodeRequestNotFresh:        KindTiming,
	ErrCodeWindowExpired:          KindTiming,
	ErrCodeDrawAlreadyFinalized:   KindFinalization,
	ErrCodeRandomnessNotReady:     KindFinalization,
	ErrCodeInvariantViolated:      KindFinalization,
	ErrCodePayoutFailed:           KindSettlement,
	ErrCodePersistFailed:          KindSettlement,
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.DrawID != 0 {
		msg = fmt.Sprintf("%s (draw=%d)", msg, e.DrawID)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying failure.
func (e *Error) Unwrap() error {
	return e.Err
}

// CodeOf returns the code of the first Error in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return ""
}

// IsCode reports whether err is an Error with the given code.
// Uses errors.As to handle wrapped errors.
func IsCode(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}

// KindOf returns the kind of the first Error in err's chain, or "".
func KindOf(err error) ErrorKind {
	var ae *Error
	if !errors.As(err, &ae) {
		return ""
	}
	if ae.Kind != "" {
		return ae.Kind
	}
	return codeKinds[ae.Code]
}

// IsConfigError reports whether err was raised while validating a Config.
func IsConfigError(err error) bool {
	return KindOf(err) == KindConfiguration
}

// IsRetryable reports whether the same call may succeed later without any
// other party acting first.
func IsRetryable(err error) bool {
	switch CodeOf(err) {
	case ErrCodeNotYetDue, ErrCodeRandomnessNotReady, ErrCodePayoutFailed, ErrCodePersistFailed:
		return true
	}
	return false
}

func newError(code ErrorCode, drawID uint64, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Kind:    codeKinds[code],
		Message: fmt.Sprintf(format, args...),
		DrawID:  drawID,
	}
}

func (e *Error) with(key, value string) *Error {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}
