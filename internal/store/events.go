package store

import (
	"github.com/roach88/drawkeeper/internal/auction"
	"github.com/roach88/drawkeeper/internal/canon"
)

// Event kinds stored in events.kind.
const (
	KindTrigger    = "trigger"
	KindCompletion = "completion"
)

// TriggerPayload is the canonical form of a trigger event.
func TriggerPayload(ev auction.TriggerEvent) map[string]any {
	return map[string]any{
		"kind":           KindTrigger,
		"sender":         ev.Sender.Hex(),
		"recipient":      ev.Recipient.Hex(),
		"draw_id":        ev.DrawID,
		"request_handle": ev.RequestHandle,
		"elapsed_ns":     int64(ev.Elapsed),
		"position":       ev.Position,
		"at":             ev.At.UnixNano(),
	}
}

// CompletionPayload is the canonical form of a draw-completed event.
func CompletionPayload(ev auction.DrawCompletedEvent) map[string]any {
	recipients := make([]string, len(ev.Recipients))
	for i, r := range ev.Recipients {
		recipients[i] = r.Hex()
	}
	amounts := make([]string, len(ev.Amounts))
	for i, a := range ev.Amounts {
		amounts[i] = a.Dec()
	}
	return map[string]any{
		"kind":       KindCompletion,
		"sender":     ev.Sender.Hex(),
		"draw_id":    ev.DrawID,
		"recipients": recipients,
		"amounts":    amounts,
		"leftover":   ev.Leftover.Dec(),
		"at":         ev.At.UnixNano(),
	}
}

// encodeEvent returns the content ID and canonical JSON of payload.
func encodeEvent(domain string, payload map[string]any) (string, string, error) {
	id, err := canon.ID(domain, payload)
	if err != nil {
		return "", "", err
	}
	data, err := canon.Marshal(payload)
	if err != nil {
		return "", "", err
	}
	return id, string(data), nil
}
