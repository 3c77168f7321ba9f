package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/drawkeeper/internal/config"
)

// ValidateOptions holds flags for the validate command.
type ValidateOptions struct {
	*RootOptions
}

// ValidateSummary describes a valid configuration.
type ValidateSummary struct {
	File               string `json:"file"`
	Duration           string `json:"duration"`
	TargetTime         string `json:"target_time"`
	TargetFraction     string `json:"target_fraction"`
	MaxRewards         string `json:"max_rewards"`
	MaxRetries         int    `json:"max_retries"`
	RemainderRecipient string `json:"remainder_recipient"`
	Keeper             bool   `json:"keeper"`
	Schedule           string `json:"schedule,omitempty"`
	DrawPeriod         string `json:"draw_period"`
	DrawTimeout        string `json:"draw_timeout"`
	Store              string `json:"store,omitempty"`
	Metrics            string `json:"metrics,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "validate <config>",
		Short: "Validate a configuration file",
		Long: `Validate a drawkeeper configuration file against the schema and the
auction invariants without starting anything. Environment overrides are
not applied.

Exit codes:
  0 - Configuration is valid
  1 - Configuration is invalid
  2 - File could not be read

Example:
  drawkeeper validate ./drawkeeper.cue
  drawkeeper validate ./drawkeeper.json --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(opts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *ValidateOptions, path string, cmd *cobra.Command) error {
	out := newFormatter(opts.RootOptions, cmd)

	data, err := os.ReadFile(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read config", err)
	}

	cfg, err := config.Parse(data, path)
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		if ferr := out.Error(errorCode(err, ErrCodeConfig), err.Error(), nil); ferr != nil {
			return ferr
		}
		return WrapExitError(ExitFailure, "invalid config", err)
	}

	summary, err := summarize(path, cfg)
	if err != nil {
		return WrapExitError(ExitFailure, "invalid config", err)
	}

	if opts.Format == "json" {
		return out.Success(summary)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "✓ %s is valid\n", path)
	fmt.Fprintf(w, "  auction:   duration=%s target=%s (%s) retries=%d\n",
		summary.Duration, summary.TargetTime, summary.TargetFraction, summary.MaxRetries)
	fmt.Fprintf(w, "  rewards:   max=%s remainder=%s\n", decimal(summary.MaxRewards), summary.RemainderRecipient)
	if summary.Keeper {
		fmt.Fprintf(w, "  keeper:    %s\n", summary.Schedule)
	} else {
		fmt.Fprintln(w, "  keeper:    disabled")
	}
	fmt.Fprintf(w, "  pool:      draw period %s, timeout %s\n", summary.DrawPeriod, summary.DrawTimeout)
	if summary.Store != "" {
		fmt.Fprintf(w, "  store:     %s\n", summary.Store)
	}
	if summary.Metrics != "" {
		fmt.Fprintf(w, "  metrics:   %s\n", summary.Metrics)
	}
	return nil
}

func summarize(path string, cfg *config.Config) (ValidateSummary, error) {
	ac, err := cfg.AuctionConfig()
	if err != nil {
		return ValidateSummary{}, err
	}
	params, _, err := cfg.PoolSettings()
	if err != nil {
		return ValidateSummary{}, err
	}
	s := ValidateSummary{
		File:               path,
		Duration:           ac.Duration.String(),
		TargetTime:         ac.TargetTime.String(),
		TargetFraction:     ac.TargetFraction.String(),
		MaxRewards:         ac.MaxRewards.Dec(),
		MaxRetries:         ac.MaxRetries,
		RemainderRecipient: ac.RemainderRecipient.Hex(),
		Keeper:             cfg.Keeper.Enabled,
		DrawPeriod:         params.DrawPeriod.String(),
		DrawTimeout:        params.DrawTimeout.String(),
		Store:              cfg.Store.Path,
		Metrics:            cfg.Metrics.Addr,
	}
	if cfg.Keeper.Enabled {
		s.Schedule = cfg.Keeper.Schedule
	}
	return s, nil
}
