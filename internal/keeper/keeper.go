// Package keeper is a permissionless bot that drives the draw auction: it
// completes draws whose randomness has arrived and triggers draws that are
// due, collecting the rewards for a configured recipient.
package keeper

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"github.com/roach88/drawkeeper/internal/auction"
)

// Auction is the part of auction.Machine the keeper uses.
type Auction interface {
	CanTrigger(ctx context.Context) (bool, error)
	TriggerReward(ctx context.Context) (*uint256.Int, error)
	AttemptTrigger(ctx context.Context, recipient common.Address, handle uint64) (uint64, error)
	CanComplete(ctx context.Context) (bool, error)
	CompletionReward(ctx context.Context) (*uint256.Int, error)
	CompleteDraw(ctx context.Context, recipient common.Address) (uint64, error)
}

// Requester issues randomness requests.
type Requester interface {
	Request(ctx context.Context) (uint64, error)
}

// Recorder counts keeper runs.
type Recorder interface {
	KeeperRun(action string)
}

type nopRecorder struct{}

func (nopRecorder) KeeperRun(string) {}

// Action is what a run did.
type Action string

const (
	ActionIdle     Action = "idle"
	ActionWait     Action = "wait"
	ActionTrigger  Action = "trigger"
	ActionComplete Action = "complete"
	ActionError    Action = "error"
)

// Keeper triggers and completes draws on behalf of one recipient.
type Keeper struct {
	auction   Auction
	rng       Requester
	recipient common.Address
	minReward *uint256.Int
	recorder  Recorder
	logger    *slog.Logger
	id        string
}

// Option configures a Keeper.
type Option func(*Keeper)

// WithMinReward makes the keeper wait until a call would pay at least min.
func WithMinReward(min *uint256.Int) Option {
	return func(k *Keeper) {
		k.minReward = min.Clone()
	}
}

// WithRecorder reports every run to r.
func WithRecorder(r Recorder) Option {
	return func(k *Keeper) {
		k.recorder = r
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(k *Keeper) {
		k.logger = l
	}
}

// New creates a keeper paying rewards to recipient.
func New(a Auction, rng Requester, recipient common.Address, opts ...Option) *Keeper {
	k := &Keeper{
		auction:   a,
		rng:       rng,
		recipient: recipient,
		minReward: new(uint256.Int),
		recorder:  nopRecorder{},
		logger:    slog.Default(),
		id:        newRunID(),
	}
	for _, opt := range opts {
		opt(k)
	}
	k.logger = k.logger.With("keeper", k.id)
	return k
}

func newRunID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// ID identifies this keeper instance in logs.
func (k *Keeper) ID() string {
	return k.id
}

// RunOnce completes the due draw if possible, otherwise triggers it if
// possible. It performs at most one of the two.
func (k *Keeper) RunOnce(ctx context.Context) (Action, error) {
	action, err := k.run(auction.WithSender(ctx, k.recipient))
	if err != nil {
		k.recorder.KeeperRun(string(ActionError))
		return action, err
	}
	k.recorder.KeeperRun(string(action))
	return action, nil
}

func (k *Keeper) run(ctx context.Context) (Action, error) {
	canComplete, err := k.auction.CanComplete(ctx)
	if err != nil {
		return ActionError, fmt.Errorf("check completion: %w", err)
	}
	if canComplete {
		return k.complete(ctx)
	}

	canTrigger, err := k.auction.CanTrigger(ctx)
	if err != nil {
		return ActionError, fmt.Errorf("check trigger: %w", err)
	}
	if canTrigger {
		return k.trigger(ctx)
	}

	k.logger.Debug("nothing to do")
	return ActionIdle, nil
}

func (k *Keeper) complete(ctx context.Context) (Action, error) {
	reward, err := k.auction.CompletionReward(ctx)
	if err != nil {
		return ActionError, fmt.Errorf("read completion reward: %w", err)
	}
	if reward.Lt(k.minReward) {
		k.logger.Debug("completion reward below minimum", "reward", reward.Dec(), "min", k.minReward.Dec())
		return ActionWait, nil
	}

	drawID, err := k.auction.CompleteDraw(ctx, k.recipient)
	if err != nil {
		if drawID != 0 {
			k.logger.Error("draw completed with unsettled transfers", "draw_id", drawID, "error", err)
			return ActionComplete, err
		}
		return ActionError, fmt.Errorf("complete draw: %w", err)
	}
	k.logger.Info("completed draw", "draw_id", drawID, "reward", reward.Dec())
	return ActionComplete, nil
}

func (k *Keeper) trigger(ctx context.Context) (Action, error) {
	reward, err := k.auction.TriggerReward(ctx)
	if err != nil {
		return ActionError, fmt.Errorf("read trigger reward: %w", err)
	}
	if reward.Lt(k.minReward) {
		k.logger.Debug("trigger reward below minimum", "reward", reward.Dec(), "min", k.minReward.Dec())
		return ActionWait, nil
	}

	handle, err := k.rng.Request(ctx)
	if err != nil {
		return ActionError, fmt.Errorf("request randomness: %w", err)
	}
	drawID, err := k.auction.AttemptTrigger(ctx, k.recipient, handle)
	if err != nil {
		// Another keeper may have won the race, or the tick rolled over
		// between request and trigger. Both resolve on the next run.
		if auction.IsCode(err, auction.ErrCodeAlreadyTriggered) || auction.IsCode(err, auction.ErrCodeRequestNotFresh) {
			k.logger.Warn("trigger lost", "handle", handle, "error", err)
			return ActionIdle, nil
		}
		return ActionError, fmt.Errorf("trigger draw: %w", err)
	}
	k.logger.Info("triggered draw", "draw_id", drawID, "handle", handle, "reward", reward.Dec())
	return ActionTrigger, nil
}
