package nats

import (
	"fmt"
	"time"

	"github.com/brojonat/pentacle/service/sned"
)

// OutcomeEvent represents one transfer outcome published to NATS.
// This is published to the subject "sned.outcomes.{batch_id}" in JetStream.
type OutcomeEvent struct {
	BatchID  string `json:"batch_id"`
	Position int    `json:"position"`
	Payer    string `json:"payer"`
	Memo     string `json:"memo"`

	Destination string `json:"destination"`
	Lamports    uint64 `json:"lamports"`

	TxID      string `json:"tx_id"`
	Succeeded bool   `json:"succeeded"`
	Attempts  int    `json:"attempts"`
	Error     string `json:"error,omitempty"`

	CreatedAt   time.Time `json:"created_at"`
	PublishedAt time.Time `json:"published_at"`
}

// Subject returns the subject the event is published on.
func (e *OutcomeEvent) Subject() string {
	return OutcomeSubject(e.BatchID)
}

// OutcomeSubject returns the subject for a batch's outcome events.
func OutcomeSubject(batchID string) string {
	return fmt.Sprintf("%s.%s", SubjectPrefix, batchID)
}

// EventsFromReport converts a report into one event per outcome, in request order.
func EventsFromReport(report *sned.Report) []*OutcomeEvent {
	now := time.Now().UTC()
	events := make([]*OutcomeEvent, len(report.Outcomes))
	for i, o := range report.Outcomes {
		events[i] = &OutcomeEvent{
			BatchID:     report.ID.String(),
			Position:    i,
			Payer:       report.Payer,
			Memo:        report.Memo,
			Destination: o.Request.Destination,
			Lamports:    o.Request.Lamports,
			TxID:        o.TxID,
			Succeeded:   o.Succeeded,
			Attempts:    o.Attempts,
			Error:       o.Error,
			CreatedAt:   report.CreatedAt,
			PublishedAt: now,
		}
	}
	return events
}
