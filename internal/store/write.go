package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/roach88/drawkeeper/internal/auction"
	"github.com/roach88/drawkeeper/internal/canon"
)

// RecordAttempt appends an attempt to the ledger and logs its trigger event.
// When cleared is set the previous draw's attempts are deleted first.
func (s *Store) RecordAttempt(ctx context.Context, a auction.Attempt, cleared bool, ev auction.TriggerEvent) error {
	id, payload, err := encodeEvent(canon.DomainTrigger, TriggerPayload(ev))
	if err != nil {
		return fmt.Errorf("record attempt: %w", err)
	}

	return s.inTx(ctx, "record attempt", func(tx *sql.Tx) error {
		if cleared {
			if _, err := tx.ExecContext(ctx, `DELETE FROM attempts`); err != nil {
				return err
			}
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO attempts
			(draw_id, position, recipient, opened_at, closed_at, request_handle)
			VALUES (?, ?, ?, ?, ?, ?)
		`,
			int64(a.DrawID),
			ev.Position,
			a.Recipient.Hex(),
			a.OpenedAt.UnixNano(),
			a.ClosedAt.UnixNano(),
			int64(a.RequestHandle),
		); err != nil {
			return err
		}
		return insertEvent(ctx, tx, id, KindTrigger, ev.DrawID, payload, ev.At.UnixNano())
	})
}

// CommitSettlement stores a completed draw, its unpaid transfers, the new
// anchors and the completion event. Committing the same draw twice is a
// no-op for the settlement and its transfers.
func (s *Store) CommitSettlement(ctx context.Context, st auction.Settlement, anchors auction.RewardAnchors, ev auction.DrawCompletedEvent) error {
	eventID, payload, err := encodeEvent(canon.DomainCompletion, CompletionPayload(ev))
	if err != nil {
		return fmt.Errorf("commit settlement: %w", err)
	}
	settlementID, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("commit settlement: %w", err)
	}

	return s.inTx(ctx, "commit settlement", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO settlements
			(id, draw_id, available, leftover, trigger_fraction, completion_fraction, completed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(draw_id) DO NOTHING
		`,
			settlementID.String(),
			int64(st.DrawID),
			st.Available.Dec(),
			st.Leftover.Dec(),
			int64(st.TriggerFraction),
			int64(st.CompletionFraction),
			st.CompletedAt.UnixNano(),
		); err != nil {
			return err
		}

		for _, t := range st.Transfers() {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO transfers
				(draw_id, position, kind, recipient, amount, fraction, elapsed_ns, paid)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT(draw_id, position) DO NOTHING
			`,
				int64(t.DrawID),
				t.Position,
				string(t.Kind),
				t.Recipient.Hex(),
				t.Amount.Dec(),
				int64(t.Fraction),
				int64(t.Elapsed),
				boolToInt(t.Paid),
			); err != nil {
				return err
			}
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO anchors (id, trigger_fraction, completion_fraction, updated_at)
			VALUES (1, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				trigger_fraction = excluded.trigger_fraction,
				completion_fraction = excluded.completion_fraction,
				updated_at = excluded.updated_at
		`,
			int64(anchors.Trigger),
			int64(anchors.Completion),
			st.CompletedAt.UnixNano(),
		); err != nil {
			return err
		}

		return insertEvent(ctx, tx, eventID, KindCompletion, ev.DrawID, payload, ev.At.UnixNano())
	})
}

// MarkTransferPaid flags a transfer as paid. Marking a transfer the store
// does not know is not an error.
func (s *Store) MarkTransferPaid(ctx context.Context, drawID uint64, position int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE transfers SET paid = 1
		WHERE draw_id = ? AND position = ?
	`, int64(drawID), position)
	if err != nil {
		return fmt.Errorf("mark transfer paid: %w", err)
	}
	return nil
}

func insertEvent(ctx context.Context, tx *sql.Tx, id, kind string, drawID uint64, payload string, at int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO events (id, kind, draw_id, payload, recorded_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, id, kind, int64(drawID), payload, at)
	return err
}

// inTx runs fn in a transaction, wrapping any failure with op.
func (s *Store) inTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: begin: %w", op, err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s: commit: %w", op, err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
