package auction

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/roach88/drawkeeper/internal/fixed"
)

// Default anchor fractions used when a Config leaves them unset.
var (
	DefaultTriggerFraction    = fixed.MustParseFraction("0.1")
	DefaultCompletionFraction = fixed.MustParseFraction("0.2")
)

// Config holds the fixed auction parameters. Use NewConfig or Validate before
// handing a Config to New; the zero value is not usable.
type Config struct {
	// Duration is how long an auction window stays open.
	Duration time.Duration

	// TargetTime is the elapsed time at which a reward is expected to equal
	// the previous reward of the same kind.
	TargetTime time.Duration

	// TargetFraction is TargetTime/Duration, filled in by Validate.
	TargetFraction fixed.Fraction

	// MaxRewards caps the pool available to a single draw.
	MaxRewards *uint256.Int

	// MaxRetries is how many times a draw may be re-triggered after its
	// first attempt.
	MaxRetries int

	// RemainderRecipient receives whatever is left of the pool after a draw
	// is rewarded. The zero address disables remainder routing.
	RemainderRecipient common.Address

	// InitialTriggerFraction and InitialCompletionFraction seed the reward
	// anchors before the first draw is completed.
	InitialTriggerFraction    fixed.Fraction
	InitialCompletionFraction fixed.Fraction
}

// NewConfig builds and validates a Config with default anchors.
func NewConfig(duration, targetTime time.Duration, maxRewards *uint256.Int, maxRetries int, remainder common.Address) (Config, error) {
	cfg := Config{
		Duration:                  duration,
		TargetTime:                targetTime,
		MaxRewards:                maxRewards,
		MaxRetries:                maxRetries,
		RemainderRecipient:        remainder,
		InitialTriggerFraction:    DefaultTriggerFraction,
		InitialCompletionFraction: DefaultCompletionFraction,
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the static invariants and computes TargetFraction.
// The window budget check needs the work pool and happens in New.
func (c *Config) Validate() error {
	switch {
	case c.Duration <= 0:
		return newError(ErrCodeInvalidConfig, 0, "auction duration must be positive, got %s", c.Duration)
	case c.TargetTime <= 0:
		return newError(ErrCodeInvalidConfig, 0, "target time must be positive, got %s", c.TargetTime)
	case c.TargetTime > c.Duration:
		return newError(ErrCodeTargetExceedsDuration, 0, "target time %s exceeds auction duration %s", c.TargetTime, c.Duration)
	case c.MaxRewards == nil:
		return newError(ErrCodeInvalidConfig, 0, "max rewards must be set")
	case c.MaxRetries < 0:
		return newError(ErrCodeInvalidConfig, 0, "max retries must not be negative, got %d", c.MaxRetries)
	case c.InitialTriggerFraction > fixed.One:
		return newError(ErrCodeAnchorFractionTooLarge, 0, "initial trigger fraction %s exceeds 1", c.InitialTriggerFraction)
	case c.InitialCompletionFraction > fixed.One:
		return newError(ErrCodeAnchorFractionTooLarge, 0, "initial completion fraction %s exceeds 1", c.InitialCompletionFraction)
	}

	target, err := fixed.Ratio(uint64(c.TargetTime), uint64(c.Duration))
	if err != nil {
		return &Error{Code: ErrCodeInvalidConfig, Kind: KindConfiguration, Message: "target fraction", Err: err}
	}
	c.TargetFraction = target
	return nil
}

// checkBudget verifies the auction fits inside one work pool draw period.
func (c *Config) checkBudget(budget time.Duration) error {
	if c.Duration > budget {
		return newError(ErrCodeDurationExceedsBudget, 0, "auction duration %s exceeds draw window budget %s", c.Duration, budget).
			with("duration", c.Duration.String()).
			with("budget", budget.String())
	}
	return nil
}
