package sned

import (
	"context"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
)

// Report is the record of one batch run. Outcomes are in request order.
type Report struct {
	ID        uuid.UUID `json:"id"`
	Payer     string    `json:"payer"`
	Memo      string    `json:"memo"`
	CreatedAt time.Time `json:"created_at"`
	Outcomes  []Outcome `json:"outcomes"`
}

// Succeeded counts the confirmed outcomes.
func (r *Report) Succeeded() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Succeeded {
			n++
		}
	}
	return n
}

// LamportsSent sums the lamports of confirmed outcomes.
func (r *Report) LamportsSent() uint64 {
	var total uint64
	for _, o := range r.Outcomes {
		if o.Succeeded {
			total += o.Request.Lamports
		}
	}
	return total
}

// OutcomeSink receives every finished report, e.g. for persistence or events.
type OutcomeSink interface {
	RecordReport(ctx context.Context, report *Report) error
}

// Orchestrator runs a batch of transfers: build all, sign all at once, then
// broadcast one by one.
type Orchestrator struct {
	submitter *Submitter
	sinks     []OutcomeSink
	logger    *slog.Logger
}

func NewOrchestrator(submitter *Submitter, logger *slog.Logger, sinks ...OutcomeSink) *Orchestrator {
	return &Orchestrator{
		submitter: submitter,
		sinks:     sinks,
		logger:    logger.With("component", "orchestrator"),
	}
}

// Payer is the account every transfer in a batch is sent from.
func (o *Orchestrator) Payer() solana.PublicKey {
	return o.submitter.Payer()
}

// Run submits requests and returns one outcome per request in input order.
//
// Each request gets its own blockhash. Requests that cannot be built (bad
// destination, no blockhash) fail individually. The rest are signed in a
// single SignAll call; if signing fails nothing is broadcast and Run returns
// a *SigningError. Broadcasts are sequential and a failure never stops the
// following requests. If ctx is cancelled during the broadcast phase the
// partial report is returned together with ctx.Err().
func (o *Orchestrator) Run(ctx context.Context, requests []TransferRequest) (*Report, error) {
	return o.RunWithID(ctx, uuid.New(), requests)
}

// RunWithID is Run with a caller-chosen report ID, so a batch registered
// ahead of time keeps the same ID in its report.
func (o *Orchestrator) RunWithID(ctx context.Context, id uuid.UUID, requests []TransferRequest) (*Report, error) {
	start := time.Now()
	report, err := o.run(ctx, id, requests)
	if m := o.submitter.metrics; m != nil {
		m.RecordBatch(len(requests), time.Since(start).Seconds(), err)
	}
	return report, err
}

func (o *Orchestrator) run(ctx context.Context, id uuid.UUID, requests []TransferRequest) (*Report, error) {
	createdAt := o.submitter.now()
	report := &Report{
		ID:        id,
		Payer:     o.submitter.Payer().String(),
		Memo:      MemoText(createdAt),
		CreatedAt: createdAt,
		Outcomes:  make([]Outcome, len(requests)),
	}
	logger := o.logger.With("batch_id", report.ID.String())
	logger.InfoContext(ctx, "starting batch",
		"requests", len(requests),
		"lamports", TotalLamports(requests),
		"payer", report.Payer,
	)

	// build
	txs := make([]*solana.Transaction, len(requests))
	var toSign []*solana.Transaction
	for i, req := range requests {
		if _, err := ParseDestination(req.Destination); err != nil {
			report.Outcomes[i] = failed(req, 0, err)
			continue
		}
		hash, err := o.submitter.LatestBlockhash(ctx)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			report.Outcomes[i] = failed(req, 0, err)
			continue
		}
		tx, err := BuildTransfer(req, o.submitter.Payer(), hash, report.Memo)
		if err != nil {
			report.Outcomes[i] = failed(req, 0, err)
			continue
		}
		txs[i] = tx
		toSign = append(toSign, tx)
	}

	// sign
	if len(toSign) > 0 {
		if err := o.submitter.signer.SignAll(ctx, toSign); err != nil {
			logger.ErrorContext(ctx, "signing rejected, aborting batch", "error", err)
			return nil, &SigningError{Err: err}
		}
	}

	// broadcast
	for i, tx := range txs {
		req := requests[i]
		switch {
		case tx == nil:
		case ctx.Err() != nil:
			report.Outcomes[i] = failed(req, 0, ctx.Err())
		default:
			sig, attempts, err := o.submitter.BroadcastAndConfirm(ctx, tx)
			if err != nil {
				report.Outcomes[i] = failed(req, attempts, err)
			} else {
				report.Outcomes[i] = succeeded(req, sig, attempts)
			}
		}
		o.submitter.record(ctx, report.Outcomes[i])
	}

	logger.InfoContext(ctx, "batch finished",
		"succeeded", report.Succeeded(),
		"failed", len(report.Outcomes)-report.Succeeded(),
		"lamports_sent", report.LamportsSent(),
	)

	// a cancelled batch may already have moved funds, so its report is still recorded
	sinkCtx := context.WithoutCancel(ctx)
	for _, sink := range o.sinks {
		if err := sink.RecordReport(sinkCtx, report); err != nil {
			logger.ErrorContext(ctx, "failed to record report", "sink", sinkName(sink), "error", err)
		}
	}
	return report, ctx.Err()
}

func sinkName(s OutcomeSink) string {
	if n, ok := s.(interface{ Name() string }); ok {
		return n.Name()
	}
	return "unknown"
}
