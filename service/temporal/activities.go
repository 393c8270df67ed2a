package temporal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/pentacle/service/db"
	"github.com/brojonat/pentacle/service/metrics"
	"github.com/brojonat/pentacle/service/sned"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.temporal.io/sdk/activity"
	temporalsdk "go.temporal.io/sdk/temporal"
)

// SendBatchInput contains the input parameters for sending a batch.
type SendBatchInput struct {
	BatchID  string                 `json:"batch_id"`
	Requests []sned.TransferRequest `json:"requests"`
}

// SendBatchResult contains the result of a batch run.
type SendBatchResult struct {
	BatchID      string         `json:"batch_id"`
	Memo         string         `json:"memo"`
	Succeeded    int            `json:"succeeded"`
	Failed       int            `json:"failed"`
	LamportsSent uint64         `json:"lamports_sent"`
	Outcomes     []sned.Outcome `json:"outcomes"`
	Error        *string        `json:"error,omitempty"`
}

// RegisterBatchInput contains parameters for the RegisterBatch activity.
type RegisterBatchInput struct {
	BatchID    string                 `json:"batch_id"`
	WorkflowID string                 `json:"workflow_id"`
	Requests   []sned.TransferRequest `json:"requests"`
}

// RegisterBatchResult contains the result of the RegisterBatch activity.
type RegisterBatchResult struct {
	Payer string `json:"payer"`
}

// Error types the workflow must not retry.
const (
	ErrTypeInvalidInput    = "InvalidInput"
	ErrTypeSigningRejected = "SigningRejected"
)

// StoreInterface defines the database operations needed by activities.
// This allows for easy mocking in tests.
type StoreInterface interface {
	CreateBatch(context.Context, db.CreateBatchParams) (*db.Batch, error)
	GetBatch(context.Context, uuid.UUID) (*db.Batch, error)
	MarkBatchAborted(context.Context, uuid.UUID, string) error
}

// BatchRunner runs a batch under a given ID. *sned.Orchestrator implements it.
type BatchRunner interface {
	Payer() solanago.PublicKey
	RunWithID(ctx context.Context, id uuid.UUID, requests []sned.TransferRequest) (*sned.Report, error)
}

// Activities holds the dependencies needed by Temporal activities.
// Following go-kit pattern, all dependencies are explicit.
type Activities struct {
	store   StoreInterface
	runner  BatchRunner
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewActivities creates a new Activities instance with explicit dependencies.
// If metrics is nil, no metrics will be recorded. store may be nil when no
// database is configured.
func NewActivities(store StoreInterface, runner BatchRunner, m *metrics.Metrics, logger *slog.Logger) *Activities {
	if logger == nil {
		logger = slog.Default()
	}
	return &Activities{
		store:   store,
		runner:  runner,
		metrics: m,
		logger:  logger,
	}
}

func (a *Activities) observe(name string, start time.Time, err error) {
	if a.metrics != nil {
		a.metrics.RecordActivityDuration(name, time.Since(start).Seconds(), err)
	}
}

// RegisterBatch stores the batch as pending before anything is sent.
// Registering an existing batch is a no-op, so the activity can be retried.
func (a *Activities) RegisterBatch(ctx context.Context, input RegisterBatchInput) (result *RegisterBatchResult, err error) {
	start := time.Now()
	defer func() { a.observe("RegisterBatch", start, err) }()

	id, err := uuid.Parse(input.BatchID)
	if err != nil {
		return nil, temporalsdk.NewNonRetryableApplicationError(
			fmt.Sprintf("invalid batch id %q", input.BatchID), ErrTypeInvalidInput, err)
	}
	result = &RegisterBatchResult{Payer: a.runner.Payer().String()}

	if a.store == nil {
		return result, nil
	}

	if _, err := a.store.GetBatch(ctx, id); err == nil {
		a.logger.DebugContext(ctx, "batch already registered", "batch_id", id)
		return result, nil
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to look up batch: %w", err)
	}

	_, err = a.store.CreateBatch(ctx, db.CreateBatchParams{
		ID:         id,
		Payer:      result.Payer,
		WorkflowID: input.WorkflowID,
		Requests:   input.Requests,
	})
	if err != nil {
		a.logger.ErrorContext(ctx, "failed to register batch", "batch_id", id, "error", err)
		return nil, fmt.Errorf("failed to register batch: %w", err)
	}

	a.logger.InfoContext(ctx, "batch registered",
		"batch_id", id,
		"requests", len(input.Requests),
		"workflow_id", input.WorkflowID,
	)
	return result, nil
}

// SendBatch signs and broadcasts every transfer. Money may have moved by the
// time it fails, so the workflow runs it at most once.
func (a *Activities) SendBatch(ctx context.Context, input SendBatchInput) (result *SendBatchResult, err error) {
	start := time.Now()
	defer func() { a.observe("SendBatch", start, err) }()

	id, err := uuid.Parse(input.BatchID)
	if err != nil {
		return nil, temporalsdk.NewNonRetryableApplicationError(
			fmt.Sprintf("invalid batch id %q", input.BatchID), ErrTypeInvalidInput, err)
	}

	a.logger.InfoContext(ctx, "sending batch", "batch_id", id, "requests", len(input.Requests))
	if activity.IsActivity(ctx) {
		activity.RecordHeartbeat(ctx, "started")
	}

	report, err := a.runner.RunWithID(ctx, id, input.Requests)
	if err != nil {
		var signErr *sned.SigningError
		if errors.As(err, &signErr) {
			a.abort(ctx, id, err)
			return nil, temporalsdk.NewNonRetryableApplicationError(err.Error(), ErrTypeSigningRejected, err)
		}
		if report == nil {
			a.abort(ctx, id, err)
			return nil, fmt.Errorf("batch did not start: %w", err)
		}
		// cancelled mid-broadcast: the partial report was recorded, return it
		a.logger.WarnContext(ctx, "batch interrupted", "batch_id", id, "error", err)
	}

	result = &SendBatchResult{
		BatchID:      report.ID.String(),
		Memo:         report.Memo,
		Succeeded:    report.Succeeded(),
		Failed:       len(report.Outcomes) - report.Succeeded(),
		LamportsSent: report.LamportsSent(),
		Outcomes:     report.Outcomes,
	}
	if err != nil {
		msg := err.Error()
		result.Error = &msg
	}

	a.logger.InfoContext(ctx, "batch sent",
		"batch_id", id,
		"succeeded", result.Succeeded,
		"failed", result.Failed,
		"lamports_sent", result.LamportsSent,
	)
	return result, nil
}

func (a *Activities) abort(ctx context.Context, id uuid.UUID, cause error) {
	if a.store == nil {
		return
	}
	if err := a.store.MarkBatchAborted(context.WithoutCancel(ctx), id, cause.Error()); err != nil {
		a.logger.ErrorContext(ctx, "failed to mark batch aborted", "batch_id", id, "error", err)
	}
}
