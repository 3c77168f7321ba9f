package auction

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// WorkPool is the system whose periodic draws the auction gets finalized and
// whose reserve funds the rewards.
type WorkPool interface {
	// DueDrawID returns the draw that should be awarded next.
	DueDrawID(ctx context.Context) (uint64, error)

	// DrawClosesAt returns when the given draw closes.
	DrawClosesAt(ctx context.Context, drawID uint64) (time.Time, error)

	// WindowBudget is the draw period; an auction must fit inside it.
	WindowBudget(ctx context.Context) (time.Duration, error)

	// ReserveBalance is the reserve currently held.
	ReserveBalance(ctx context.Context) (*uint256.Int, error)

	// PendingReserveInflow is what the reserve will receive when the due
	// draw is finalized.
	PendingReserveInflow(ctx context.Context) (*uint256.Int, error)

	// FinalizeDraw awards the due draw with randomValue and returns its id.
	FinalizeDraw(ctx context.Context, randomValue *uint256.Int) (uint64, error)

	// AllocateFromReserve pays amount from the reserve to recipient.
	AllocateFromReserve(ctx context.Context, recipient common.Address, amount *uint256.Int) error

	// ContributeOnBehalf moves amount from the reserve back into the pool,
	// credited to beneficiary.
	ContributeOnBehalf(ctx context.Context, beneficiary common.Address, amount *uint256.Int) error
}

// Randomness is the asynchronous randomness service triggers request from.
type Randomness interface {
	// RequestedAtTick returns the tick the request was made in.
	RequestedAtTick(ctx context.Context, handle uint64) (uint64, error)

	IsComplete(ctx context.Context, handle uint64) (bool, error)
	IsFailed(ctx context.Context, handle uint64) (bool, error)

	// Value returns the random value of a completed request.
	Value(ctx context.Context, handle uint64) (*uint256.Int, error)
}

// Store persists machine state so a restarted machine resumes where it
// stopped. Each method must be atomic.
type Store interface {
	// LoadState returns the persisted state. A fresh store returns a zero
	// Snapshot with HasAnchors false.
	LoadState(ctx context.Context) (Snapshot, error)

	// RecordAttempt appends a to the ledger, first clearing it when cleared
	// is set, and appends ev to the event log.
	RecordAttempt(ctx context.Context, a Attempt, cleared bool, ev TriggerEvent) error

	// CommitSettlement stores s with its transfers unpaid, replaces the
	// anchors and appends ev to the event log.
	CommitSettlement(ctx context.Context, s Settlement, anchors RewardAnchors, ev DrawCompletedEvent) error

	// MarkTransferPaid flags one transfer as paid.
	MarkTransferPaid(ctx context.Context, drawID uint64, position int) error
}

// Snapshot is the persisted machine state.
type Snapshot struct {
	Attempts   []Attempt
	Anchors    RewardAnchors
	HasAnchors bool
	Pending    []Transfer
}

// Observer is notified of operation outcomes. Code is "" on success.
type Observer interface {
	TriggerObserved(code ErrorCode)
	CompletionObserved(code ErrorCode, s *Settlement)
	TransferObserved(t Transfer, err error)
}

type nopObserver struct{}

func (nopObserver) TriggerObserved(ErrorCode) {}
func (nopObserver) CompletionObserved(ErrorCode, *Settlement) {}
func (nopObserver) TransferObserved(Transfer, error) {}
