// Package workpool is an in-memory work pool: a schedule of periodic draws
// plus a reserve that funds auction rewards. It backs simulations, the
// keeper daemon's dry-run mode, and tests.
package workpool

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	// ErrDrawNotClosed is returned when finalizing a draw that is still open.
	ErrDrawNotClosed = errors.New("draw has not closed")

	// ErrInsufficientReserve is returned when a payment exceeds the reserve.
	ErrInsufficientReserve = errors.New("insufficient reserve")

	// ErrUnknownDraw is returned for draw ids before the first draw.
	ErrUnknownDraw = errors.New("unknown draw")
)

// TimeSource supplies the current instant.
type TimeSource interface {
	Now() time.Time
}

// Award records one finalized draw.
type Award struct {
	DrawID      uint64
	RandomValue *uint256.Int
	AwardedAt   time.Time
}

// Pool is an in-memory work pool. Draw n (n >= 1) closes at
// FirstClose + (n-1)*Period. With a draw timeout, a draw not awarded by
// its close time plus the timeout is skipped and its pending inflow rolls
// into the next draw. Safe for concurrent use.
type Pool struct {
	mu sync.Mutex

	clock      TimeSource
	firstClose time.Time
	period     time.Duration
	timeout    time.Duration

	due           uint64
	reserve       *uint256.Int
	inflow        *uint256.Int
	balances      map[common.Address]*uint256.Int
	contributions map[common.Address]*uint256.Int
	awards        []Award
	skipped       []uint64

	// failNext makes the next n payments fail. Used to exercise settlement
	// retries.
	failNext int
}

// Option configures a Pool.
type Option func(*Pool)

// WithDrawTimeout skips a draw once d has passed since it closed without
// it being awarded. Zero keeps every draw due until it is awarded.
func WithDrawTimeout(d time.Duration) Option {
	return func(p *Pool) {
		p.timeout = d
	}
}

// New returns a pool whose first draw closes at firstClose.
func New(clock TimeSource, firstClose time.Time, period time.Duration, opts ...Option) *Pool {
	p := &Pool{
		clock:         clock,
		firstClose:    firstClose,
		period:        period,
		due:           1,
		reserve:       new(uint256.Int),
		inflow:        new(uint256.Int),
		balances:      make(map[common.Address]*uint256.Int),
		contributions: make(map[common.Address]*uint256.Int),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Resume makes drawID the due draw, for a pool rebuilt after a restart
// whose earlier draws were already awarded.
func (p *Pool) Resume(drawID uint64) error {
	if drawID == 0 {
		return fmt.Errorf("%w: %d", ErrUnknownDraw, drawID)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.due = drawID
	return nil
}

// DueDrawID returns the draw that should be awarded next, skipping draws
// whose timeout has passed.
func (p *Pool) DueDrawID(ctx context.Context) (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.skipTimedOut(p.clock.Now())
	return p.due, nil
}

// skipTimedOut advances due past every draw whose close time plus the
// timeout is at or before now. Callers hold p.mu.
func (p *Pool) skipTimedOut(now time.Time) {
	if p.timeout <= 0 {
		return
	}
	since := now.Sub(p.firstClose) - p.timeout
	if since < 0 {
		return
	}
	// Draw n has timed out when (n-1)*period <= since.
	last := uint64(since/p.period) + 1
	for ; p.due <= last; p.due++ {
		p.skipped = append(p.skipped, p.due)
	}
}

// DrawClosesAt returns when drawID closes.
func (p *Pool) DrawClosesAt(ctx context.Context, drawID uint64) (time.Time, error) {
	if drawID == 0 {
		return time.Time{}, fmt.Errorf("%w: %d", ErrUnknownDraw, drawID)
	}
	return p.closesAt(drawID), nil
}

func (p *Pool) closesAt(drawID uint64) time.Time {
	return p.firstClose.Add(time.Duration(drawID-1) * p.period)
}

// WindowBudget returns the draw period.
func (p *Pool) WindowBudget(ctx context.Context) (time.Duration, error) {
	return p.period, nil
}

// ReserveBalance returns the reserve.
func (p *Pool) ReserveBalance(ctx context.Context) (*uint256.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reserve.Clone(), nil
}

// PendingReserveInflow returns what finalizing the due draw adds to the
// reserve.
func (p *Pool) PendingReserveInflow(ctx context.Context) (*uint256.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inflow.Clone(), nil
}

// FinalizeDraw awards the due draw, moves pending inflow into the reserve,
// and advances the due draw.
func (p *Pool) FinalizeDraw(ctx context.Context, randomValue *uint256.Int) (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.clock.Now()
	p.skipTimedOut(now)
	if closes := p.closesAt(p.due); now.Before(closes) {
		return 0, fmt.Errorf("%w: draw %d closes at %s", ErrDrawNotClosed, p.due, closes.UTC().Format(time.RFC3339))
	}
	awarded := p.due
	p.awards = append(p.awards, Award{DrawID: awarded, RandomValue: randomValue.Clone(), AwardedAt: now})
	p.reserve.Add(p.reserve, p.inflow)
	p.inflow.Clear()
	p.due++
	return awarded, nil
}

// AllocateFromReserve moves amount from the reserve to recipient's balance.
func (p *Pool) AllocateFromReserve(ctx context.Context, recipient common.Address, amount *uint256.Int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.move(p.balances, recipient, amount)
}

// ContributeOnBehalf moves amount from the reserve to beneficiary's prize
// contribution.
func (p *Pool) ContributeOnBehalf(ctx context.Context, beneficiary common.Address, amount *uint256.Int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.move(p.contributions, beneficiary, amount)
}

func (p *Pool) move(to map[common.Address]*uint256.Int, who common.Address, amount *uint256.Int) error {
	if p.failNext > 0 {
		p.failNext--
		return fmt.Errorf("transfer of %s to %s rejected", amount.Dec(), who.Hex())
	}
	if amount.Gt(p.reserve) {
		return fmt.Errorf("%w: need %s, have %s", ErrInsufficientReserve, amount.Dec(), p.reserve.Dec())
	}
	p.reserve.Sub(p.reserve, amount)
	bal, ok := to[who]
	if !ok {
		bal = new(uint256.Int)
		to[who] = bal
	}
	bal.Add(bal, amount)
	return nil
}

// Fund adds amount directly to the reserve.
func (p *Pool) Fund(amount *uint256.Int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reserve.Add(p.reserve, amount)
}

// AddInflow adds amount to the pending inflow of the due draw.
func (p *Pool) AddInflow(amount *uint256.Int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inflow.Add(p.inflow, amount)
}

// FailNextTransfers makes the next n reserve payments fail.
func (p *Pool) FailNextTransfers(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failNext = n
}

// Balance returns what recipient has been allocated.
func (p *Pool) Balance(recipient common.Address) *uint256.Int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if bal, ok := p.balances[recipient]; ok {
		return bal.Clone()
	}
	return new(uint256.Int)
}

// Contribution returns what has been contributed on behalf of beneficiary.
func (p *Pool) Contribution(beneficiary common.Address) *uint256.Int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.contributions[beneficiary]; ok {
		return c.Clone()
	}
	return new(uint256.Int)
}

// Skipped returns every draw that timed out without being awarded, in
// order.
func (p *Pool) Skipped() []uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.skipped)
}

// Awards returns every finalized draw in order.
func (p *Pool) Awards() []Award {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Award, len(p.awards))
	copy(out, p.awards)
	return out
}
