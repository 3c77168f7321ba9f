package cli

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/roach88/drawkeeper/internal/auction"
	"github.com/roach88/drawkeeper/internal/curve"
	"github.com/roach88/drawkeeper/internal/fixed"
)

// CurveOptions holds flags for the curve command.
type CurveOptions struct {
	*RootOptions
	Duration time.Duration
	Target   time.Duration
	Last     string
	Pool     string
	Steps    int
}

// CurvePoint is one sampled point of the reward curve.
type CurvePoint struct {
	Elapsed  string `json:"elapsed"`
	Fraction string `json:"fraction"`
	Amount   string `json:"amount"`
}

// NewCurveCommand creates the curve command.
func NewCurveCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CurveOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "curve",
		Short: "Print the reward curve",
		Long: `Sample the reward curve at evenly spaced points of an auction window and
print the fraction and amount of the pool a caller would earn.

--last is the fraction paid by the previous draw; the curve passes through
it at the target time.

Examples:
  drawkeeper curve
  drawkeeper curve --duration 6h --target 1h --last 0.1 --pool 1000000000000000000
  drawkeeper curve --steps 24 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCurve(opts, cmd)
		},
	}

	cmd.Flags().DurationVar(&opts.Duration, "duration", 6*time.Hour, "auction duration")
	cmd.Flags().DurationVar(&opts.Target, "target", time.Hour, "target time")
	cmd.Flags().StringVar(&opts.Last, "last", auction.DefaultTriggerFraction.String(), "previous reward fraction")
	cmd.Flags().StringVar(&opts.Pool, "pool", "1000000000000000000", "reward pool in base units")
	cmd.Flags().IntVar(&opts.Steps, "steps", 12, "number of intervals to sample")

	return cmd
}

func runCurve(opts *CurveOptions, cmd *cobra.Command) error {
	points, err := sampleCurve(curve.Parabolic{}, opts)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid curve parameters", err)
	}

	if opts.Format == "json" {
		return newFormatter(opts.RootOptions, cmd).Success(points)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "%-12s %-22s %s\n", "ELAPSED", "FRACTION", "AMOUNT")
	for _, p := range points {
		fmt.Fprintf(w, "%-12s %-22s %s\n", p.Elapsed, p.Fraction, decimal(p.Amount))
	}
	return nil
}

func sampleCurve(engine curve.Engine, opts *CurveOptions) ([]CurvePoint, error) {
	if opts.Steps <= 0 {
		return nil, fmt.Errorf("steps must be positive, got %d", opts.Steps)
	}
	pool, err := fixed.ParseAmount(opts.Pool)
	if err != nil {
		return nil, err
	}
	last, err := fixed.ParseFraction(opts.Last)
	if err != nil {
		return nil, err
	}
	if last > fixed.One {
		return nil, fmt.Errorf("last fraction %s exceeds 1", last)
	}
	cfg, err := auction.NewConfig(opts.Duration, opts.Target, pool, 0, common.Address{})
	if err != nil {
		return nil, err
	}

	points := make([]CurvePoint, 0, opts.Steps+1)
	for i := 0; i <= opts.Steps; i++ {
		elapsed := cfg.Duration * time.Duration(i) / time.Duration(opts.Steps)
		f := engine.Fraction(elapsed, cfg.Duration, cfg.TargetFraction, last)
		points = append(points, CurvePoint{
			Elapsed:  elapsed.String(),
			Fraction: f.String(),
			Amount:   engine.Amount(f, pool).Dec(),
		})
	}
	return points, nil
}
