package auction

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorFormatting(t *testing.T) {
	err := newError(ErrCodeNotYetDue, 7, "draw closes at %s", "noon")
	assert.Equal(t, "NOT_YET_DUE: draw closes at noon (draw=7)", err.Error())

	err = newError(ErrCodeEmptyRecipient, 0, "zero address")
	assert.Equal(t, "EMPTY_RECIPIENT: zero address", err.Error())

	cause := errors.New("boom")
	wrapped := &Error{Code: ErrCodePayoutFailed, Message: "trigger transfer 0", DrawID: 2, Err: cause}
	assert.Equal(t, "PAYOUT_FAILED: trigger transfer 0 (draw=2): boom", wrapped.Error())
	assert.ErrorIs(t, wrapped, cause)
}

func TestErrorHelpers(t *testing.T) {
	err := fmt.Errorf("outer: %w", newError(ErrCodeRandomnessNotReady, 1, "pending"))

	assert.Equal(t, ErrCodeRandomnessNotReady, CodeOf(err))
	assert.True(t, IsCode(err, ErrCodeRandomnessNotReady))
	assert.False(t, IsCode(err, ErrCodeNotYetDue))
	assert.True(t, IsRetryable(err))
	assert.False(t, IsConfigError(err))

	assert.Equal(t, ErrorCode(""), CodeOf(errors.New("plain")))
	assert.False(t, IsCode(nil, ""))
}

func TestErrorDetails(t *testing.T) {
	err := newError(ErrCodeDurationExceedsBudget, 0, "too long").with("budget", "4h0m0s")
	assert.Equal(t, map[string]string{"budget": "4h0m0s"}, err.Details)
	assert.True(t, IsConfigError(err))
}

func TestErrorKinds(t *testing.T) {
	tests := []struct {
		code ErrorCode
		kind ErrorKind
	}{
		{ErrCodeTargetExceedsDuration, KindConfiguration},
		{ErrCodeStaleRequest, KindPrecondition},
		{ErrCodeWindowExpired, KindTiming},
		{ErrCodeRandomnessNotReady, KindFinalization},
		{ErrCodePayoutFailed, KindSettlement},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			err := fmt.Errorf("wrapped: %w", newError(tt.code, 1, "x"))
			assert.Equal(t, tt.kind, KindOf(err))
		})
	}

	// Errors built as literals fall back to the code's kind.
	assert.Equal(t, KindSettlement, KindOf(&Error{Code: ErrCodePersistFailed}))
	assert.Equal(t, ErrorKind(""), KindOf(errors.New("plain")))
}
