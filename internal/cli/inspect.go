package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/drawkeeper/internal/auction"
	"github.com/roach88/drawkeeper/internal/store"
)

// InspectOptions holds flags for the inspect command.
type InspectOptions struct {
	*RootOptions
	Database string
	Limit    int
	Events   bool
}

// InspectAttempt is one ledger entry.
type InspectAttempt struct {
	Position  int    `json:"position"`
	DrawID    uint64 `json:"draw_id"`
	Recipient string `json:"recipient"`
	Request   uint64 `json:"request"`
	OpenedAt  string `json:"opened_at"`
	ClosedAt  string `json:"closed_at"`
	Elapsed   string `json:"elapsed"`
}

// InspectTransfer is one settlement transfer.
type InspectTransfer struct {
	DrawID    uint64 `json:"draw_id"`
	Position  int    `json:"position"`
	Kind      string `json:"kind"`
	Recipient string `json:"recipient"`
	Amount    string `json:"amount"`
	Fraction  string `json:"fraction"`
	Paid      bool   `json:"paid"`
}

// InspectSettlement is one completed draw.
type InspectSettlement struct {
	ID                 string            `json:"id"`
	DrawID             uint64            `json:"draw_id"`
	Available          string            `json:"available"`
	Leftover           string            `json:"leftover"`
	TriggerFraction    string            `json:"trigger_fraction"`
	CompletionFraction string            `json:"completion_fraction"`
	CompletedAt        string            `json:"completed_at"`
	Transfers          []InspectTransfer `json:"transfers"`
}

// InspectEvent is one event log row.
type InspectEvent struct {
	Seq        int64  `json:"seq"`
	ID         string `json:"id"`
	Kind       string `json:"kind"`
	DrawID     uint64 `json:"draw_id"`
	RecordedAt string `json:"recorded_at"`
}

// InspectResult is the persisted state of an auction database.
type InspectResult struct {
	Anchors     map[string]string   `json:"anchors,omitempty"`
	Attempts    []InspectAttempt    `json:"attempts"`
	Pending     []InspectTransfer   `json:"pending"`
	Settlements []InspectSettlement `json:"settlements"`
	Events      []InspectEvent      `json:"events,omitempty"`
}

// NewInspectCommand creates the inspect command.
func NewInspectCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InspectOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Show persisted auction state",
		Long: `Show the state stored in an auction database: the reward anchors, the
attempt ledger of the current draw, unpaid transfers and the most recent
settlements.

Examples:
  drawkeeper inspect --db ./drawkeeper.db
  drawkeeper inspect --db ./drawkeeper.db --limit 3 --events
  drawkeeper inspect --db ./drawkeeper.db --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().IntVar(&opts.Limit, "limit", 10, "number of settlements to show (negative for all)")
	cmd.Flags().BoolVar(&opts.Events, "events", false, "include the event log")

	return cmd
}

func runInspect(opts *InspectOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	// Opening would create the file, so refuse missing databases first
	if _, err := os.Stat(opts.Database); os.IsNotExist(err) {
		return NewExitError(ExitCommandError, fmt.Sprintf("database not found: %s", opts.Database))
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	result, err := collectInspect(ctx, st, opts)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read database", err)
	}

	if opts.Format == "json" {
		return json.NewEncoder(cmd.OutOrStdout()).Encode(CLIResponse{Status: "ok", Data: result})
	}
	return outputInspectText(cmd, result)
}

func collectInspect(ctx context.Context, st *store.Store, opts *InspectOptions) (InspectResult, error) {
	var result InspectResult

	snap, err := st.LoadState(ctx)
	if err != nil {
		return result, err
	}
	if snap.HasAnchors {
		result.Anchors = map[string]string{
			"trigger":    snap.Anchors.Trigger.String(),
			"completion": snap.Anchors.Completion.String(),
		}
	}

	result.Attempts = make([]InspectAttempt, len(snap.Attempts))
	for i, a := range snap.Attempts {
		result.Attempts[i] = InspectAttempt{
			Position:  i,
			DrawID:    a.DrawID,
			Recipient: a.Recipient.Hex(),
			Request:   a.RequestHandle,
			OpenedAt:  a.OpenedAt.UTC().Format(time.RFC3339),
			ClosedAt:  a.ClosedAt.UTC().Format(time.RFC3339),
			Elapsed:   a.Elapsed().String(),
		}
	}

	result.Pending = inspectTransfers(snap.Pending)

	settlements, err := st.Settlements(ctx, opts.Limit)
	if err != nil {
		return result, err
	}
	result.Settlements = make([]InspectSettlement, len(settlements))
	for i, s := range settlements {
		result.Settlements[i] = InspectSettlement{
			ID:                 s.ID,
			DrawID:             s.DrawID,
			Available:          s.Available.Dec(),
			Leftover:           s.Leftover.Dec(),
			TriggerFraction:    s.TriggerFraction.String(),
			CompletionFraction: s.CompletionFraction.String(),
			CompletedAt:        s.CompletedAt.Format(time.RFC3339),
			Transfers:          inspectTransfers(s.Transfers),
		}
	}

	if opts.Events {
		events, err := st.Events(ctx, 0, -1)
		if err != nil {
			return result, err
		}
		result.Events = make([]InspectEvent, len(events))
		for i, ev := range events {
			result.Events[i] = InspectEvent{
				Seq:        ev.Seq,
				ID:         ev.ID,
				Kind:       ev.Kind,
				DrawID:     ev.DrawID,
				RecordedAt: ev.RecordedAt.Format(time.RFC3339),
			}
		}
	}
	return result, nil
}

func inspectTransfers(ts []auction.Transfer) []InspectTransfer {
	out := make([]InspectTransfer, len(ts))
	for i, t := range ts {
		out[i] = InspectTransfer{
			DrawID:    t.DrawID,
			Position:  t.Position,
			Kind:      string(t.Kind),
			Recipient: t.Recipient.Hex(),
			Amount:    t.Amount.Dec(),
			Fraction:  t.Fraction.String(),
			Paid:      t.Paid,
		}
	}
	return out
}

// outputInspectText renders amounts with thousands separators. The JSON form
// keeps plain decimal strings.
func outputInspectText(cmd *cobra.Command, result InspectResult) error {
	w := cmd.OutOrStdout()

	if result.Anchors == nil {
		fmt.Fprintln(w, "Anchors: none (no draw completed)")
	} else {
		fmt.Fprintf(w, "Anchors: trigger=%s completion=%s\n", result.Anchors["trigger"], result.Anchors["completion"])
	}

	fmt.Fprintf(w, "\nAttempts (%d):\n", len(result.Attempts))
	for _, a := range result.Attempts {
		fmt.Fprintf(w, "  [%d] draw=%d %s request=%d elapsed=%s\n", a.Position, a.DrawID, a.Recipient, a.Request, a.Elapsed)
	}

	fmt.Fprintf(w, "\nPending transfers (%d):\n", len(result.Pending))
	for _, t := range result.Pending {
		fmt.Fprintf(w, "  draw=%d [%d] %s %s %s\n", t.DrawID, t.Position, t.Kind, t.Recipient, decimal(t.Amount))
	}

	fmt.Fprintf(w, "\nSettlements (%d):\n", len(result.Settlements))
	for _, s := range result.Settlements {
		fmt.Fprintf(w, "  draw %d  %s  available=%s leftover=%s\n",
			s.DrawID, s.CompletedAt, decimal(s.Available), decimal(s.Leftover))
		for _, t := range s.Transfers {
			paid := "paid"
			if !t.Paid {
				paid = "unpaid"
			}
			fmt.Fprintf(w, "    [%d] %-10s %s %s (%s) %s\n", t.Position, t.Kind, t.Recipient, decimal(t.Amount), t.Fraction, paid)
		}
	}

	if result.Events != nil {
		fmt.Fprintf(w, "\nEvents (%d):\n", len(result.Events))
		for _, ev := range result.Events {
			fmt.Fprintf(w, "  [%d] %s %s draw=%d %s\n", ev.Seq, ev.RecordedAt, ev.Kind, ev.DrawID, ev.ID)
		}
	}
	return nil
}
