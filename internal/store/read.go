package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/roach88/drawkeeper/internal/auction"
	"github.com/roach88/drawkeeper/internal/fixed"
)

// EventRecord is one row of the event log.
type EventRecord struct {
	Seq        int64
	ID         string
	Kind       string
	DrawID     uint64
	Payload    string
	RecordedAt time.Time
}

// SettlementRecord is a stored settlement with its transfers.
type SettlementRecord struct {
	ID                 string
	DrawID             uint64
	Available          *uint256.Int
	Leftover           *uint256.Int
	TriggerFraction    fixed.Fraction
	CompletionFraction fixed.Fraction
	CompletedAt        time.Time
	Transfers          []auction.Transfer
}

// LoadState returns the ledger, anchors and unpaid transfers.
func (s *Store) LoadState(ctx context.Context) (auction.Snapshot, error) {
	var snap auction.Snapshot

	attempts, err := s.ReadAttempts(ctx)
	if err != nil {
		return snap, err
	}
	snap.Attempts = attempts

	var trigger, completion int64
	err = s.db.QueryRowContext(ctx, `
		SELECT trigger_fraction, completion_fraction FROM anchors WHERE id = 1
	`).Scan(&trigger, &completion)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return snap, fmt.Errorf("read anchors: %w", err)
	default:
		snap.HasAnchors = true
		snap.Anchors = auction.RewardAnchors{
			Trigger:    fixed.Fraction(trigger),
			Completion: fixed.Fraction(completion),
		}
	}

	pending, err := s.readTransfers(ctx, `WHERE paid = 0`)
	if err != nil {
		return snap, err
	}
	snap.Pending = pending
	return snap, nil
}

// ReadAttempts returns the ledger in position order.
func (s *Store) ReadAttempts(ctx context.Context) ([]auction.Attempt, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT draw_id, recipient, opened_at, closed_at, request_handle
		FROM attempts
		ORDER BY draw_id ASC, position ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("read attempts: %w", err)
	}
	defer rows.Close()

	var out []auction.Attempt
	for rows.Next() {
		var (
			drawID, handle, opened, closed int64
			recipient                      string
		)
		if err := rows.Scan(&drawID, &recipient, &opened, &closed, &handle); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		out = append(out, auction.Attempt{
			Recipient:     common.HexToAddress(recipient),
			OpenedAt:      time.Unix(0, opened).UTC(),
			ClosedAt:      time.Unix(0, closed).UTC(),
			DrawID:        uint64(drawID),
			RequestHandle: uint64(handle),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read attempts: %w", err)
	}
	return out, nil
}

// Settlements returns the most recent settlements, newest first.
func (s *Store) Settlements(ctx context.Context, limit int) ([]SettlementRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, draw_id, available, leftover, trigger_fraction, completion_fraction, completed_at
		FROM settlements
		ORDER BY draw_id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("read settlements: %w", err)
	}
	defer rows.Close()

	var out []SettlementRecord
	for rows.Next() {
		var (
			rec                 SettlementRecord
			drawID, completedAt int64
			trigger, completion int64
			available, leftover string
		)
		if err := rows.Scan(&rec.ID, &drawID, &available, &leftover, &trigger, &completion, &completedAt); err != nil {
			return nil, fmt.Errorf("scan settlement: %w", err)
		}
		rec.DrawID = uint64(drawID)
		rec.TriggerFraction = fixed.Fraction(trigger)
		rec.CompletionFraction = fixed.Fraction(completion)
		rec.CompletedAt = time.Unix(0, completedAt).UTC()
		if rec.Available, err = fixed.ParseAmount(available); err != nil {
			return nil, fmt.Errorf("settlement %d: %w", rec.DrawID, err)
		}
		if rec.Leftover, err = fixed.ParseAmount(leftover); err != nil {
			return nil, fmt.Errorf("settlement %d: %w", rec.DrawID, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read settlements: %w", err)
	}
	rows.Close()

	for i := range out {
		transfers, err := s.readTransfers(ctx, `WHERE draw_id = ?`, int64(out[i].DrawID))
		if err != nil {
			return nil, err
		}
		out[i].Transfers = transfers
	}
	return out, nil
}

func (s *Store) readTransfers(ctx context.Context, where string, args ...any) ([]auction.Transfer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT draw_id, position, kind, recipient, amount, fraction, elapsed_ns, paid
		FROM transfers `+where+`
		ORDER BY draw_id ASC, position ASC
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("read transfers: %w", err)
	}
	defer rows.Close()

	var out []auction.Transfer
	for rows.Next() {
		var (
			drawID, fraction, elapsed int64
			position, paid            int
			kind, recipient, amount   string
		)
		if err := rows.Scan(&drawID, &position, &kind, &recipient, &amount, &fraction, &elapsed, &paid); err != nil {
			return nil, fmt.Errorf("scan transfer: %w", err)
		}
		value, err := fixed.ParseAmount(amount)
		if err != nil {
			return nil, fmt.Errorf("transfer %d/%d: %w", drawID, position, err)
		}
		out = append(out, auction.Transfer{
			DrawID:    uint64(drawID),
			Position:  position,
			Kind:      auction.TransferKind(kind),
			Recipient: common.HexToAddress(recipient),
			Amount:    value,
			Fraction:  fixed.Fraction(fraction),
			Elapsed:   time.Duration(elapsed),
			Paid:      paid != 0,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read transfers: %w", err)
	}
	return out, nil
}

// Events returns up to limit events with seq greater than after, oldest
// first.
func (s *Store) Events(ctx context.Context, after int64, limit int) ([]EventRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, id, kind, draw_id, payload, recorded_at
		FROM events
		WHERE seq > ?
		ORDER BY seq ASC
		LIMIT ?
	`, after, limit)
	if err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	defer rows.Close()

	var out []EventRecord
	for rows.Next() {
		var (
			rec        EventRecord
			drawID, at int64
		)
		if err := rows.Scan(&rec.Seq, &rec.ID, &rec.Kind, &drawID, &rec.Payload, &at); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		rec.DrawID = uint64(drawID)
		rec.RecordedAt = time.Unix(0, at).UTC()
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	return out, nil
}
