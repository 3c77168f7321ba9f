package auction

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// TriggerEvent is emitted when an attempt is recorded.
type TriggerEvent struct {
	Sender        common.Address
	Recipient     common.Address
	DrawID        uint64
	RequestHandle uint64
	Elapsed       time.Duration
	Position      int
	At            time.Time
}

// DrawCompletedEvent is emitted when a draw is finalized and settled.
// Recipients and Amounts are parallel: trigger recipients in ledger order,
// then the completion recipient.
type DrawCompletedEvent struct {
	Sender     common.Address
	DrawID     uint64
	Recipients []common.Address
	Amounts    []*uint256.Int
	Leftover   *uint256.Int
	At         time.Time
}

type senderKey struct{}

// WithSender returns a context carrying the address of the caller. It only
// affects the Sender field of emitted events.
func WithSender(ctx context.Context, sender common.Address) context.Context {
	return context.WithValue(ctx, senderKey{}, sender)
}

// SenderFrom returns the caller address stored by WithSender.
func SenderFrom(ctx context.Context) common.Address {
	sender, _ := ctx.Value(senderKey{}).(common.Address)
	return sender
}
