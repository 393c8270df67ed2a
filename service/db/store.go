package db

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/brojonat/pentacle/service/metrics"
	"github.com/brojonat/pentacle/service/sned"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schema string

// Batch statuses
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusAborted   = "aborted"
)

// Store persists batch reports in Postgres.
type Store struct {
	pool    *pgxpool.Pool
	metrics *metrics.Metrics
}

// NewStore creates a new Store with the given database connection pool.
// If m is nil, no metrics will be recorded.
func NewStore(pool *pgxpool.Pool, m *metrics.Metrics) *Store {
	return &Store{pool: pool, metrics: m}
}

// Batch is a stored batch run and, once completed, its outcomes in request order.
type Batch struct {
	ID            uuid.UUID      `json:"id"`
	Payer         string         `json:"payer"`
	Memo          string         `json:"memo"`
	Status        string         `json:"status"`
	WorkflowID    *string        `json:"workflow_id,omitempty"`
	RequestCount  int            `json:"request_count"`
	TotalLamports uint64         `json:"total_lamports"`
	Error         *string        `json:"error,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	CompletedAt   *time.Time     `json:"completed_at,omitempty"`
	Outcomes      []sned.Outcome `json:"outcomes"`
}

// CreateBatchParams contains the parameters for registering a pending batch.
type CreateBatchParams struct {
	ID         uuid.UUID
	Payer      string
	WorkflowID string
	Requests   []sned.TransferRequest
}

// ListBatchesParams contains pagination parameters.
type ListBatchesParams struct {
	Payer  string // empty lists every payer
	Limit  int32
	Offset int32
}

func (s *Store) observe(operation, table string, start time.Time, err error) {
	if s.metrics != nil {
		s.metrics.RecordDBQuery(operation, table, time.Since(start).Seconds(), err)
	}
}

// Name identifies the store in logs when used as a report sink.
func (s *Store) Name() string {
	return "postgres"
}

// Migrate creates the schema if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// CreateBatch registers a batch before it runs.
func (s *Store) CreateBatch(ctx context.Context, params CreateBatchParams) (*Batch, error) {
	start := time.Now()
	row := s.pool.QueryRow(ctx, `
		INSERT INTO batches (id, payer, status, workflow_id, request_count, total_lamports)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+batchColumns,
		params.ID,
		params.Payer,
		StatusPending,
		pgtextFromString(params.WorkflowID),
		len(params.Requests),
		int64(sned.TotalLamports(params.Requests)),
	)
	b, err := scanBatch(row)
	s.observe("create_batch", "batches", start, err)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// RecordReport stores a finished report, creating the batch row if needed,
// and marks the batch completed. Recording the same report twice replaces
// its outcomes.
func (s *Store) RecordReport(ctx context.Context, report *sned.Report) error {
	start := time.Now()
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		requests := make([]sned.TransferRequest, len(report.Outcomes))
		for i, o := range report.Outcomes {
			requests[i] = o.Request
		}

		_, err := tx.Exec(ctx, `
			INSERT INTO batches (id, payer, memo, status, request_count, total_lamports, created_at, completed_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, now())
			ON CONFLICT (id) DO UPDATE SET
				memo = EXCLUDED.memo,
				status = EXCLUDED.status,
				request_count = EXCLUDED.request_count,
				total_lamports = EXCLUDED.total_lamports,
				error = NULL,
				completed_at = now()`,
			report.ID,
			report.Payer,
			report.Memo,
			StatusCompleted,
			len(requests),
			int64(sned.TotalLamports(requests)),
			report.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to upsert batch: %w", err)
		}

		if _, err := tx.Exec(ctx, `DELETE FROM batch_outcomes WHERE batch_id = $1`, report.ID); err != nil {
			return fmt.Errorf("failed to clear outcomes: %w", err)
		}

		rows := make([][]any, len(report.Outcomes))
		for i, o := range report.Outcomes {
			rows[i] = []any{
				report.ID,
				int32(i),
				o.Request.Destination,
				int64(o.Request.Lamports),
				o.TxID,
				o.Succeeded,
				int32(o.Attempts),
				pgtextFromString(o.Error),
			}
		}
		_, err = tx.CopyFrom(ctx,
			pgx.Identifier{"batch_outcomes"},
			[]string{"batch_id", "position", "destination", "lamports", "tx_id", "succeeded", "attempts", "error"},
			pgx.CopyFromRows(rows),
		)
		if err != nil {
			return fmt.Errorf("failed to insert outcomes: %w", err)
		}
		return nil
	})
	s.observe("record_report", "batch_outcomes", start, err)
	return err
}

// MarkBatchAborted records that a batch stopped before broadcasting, e.g.
// because signing was rejected.
func (s *Store) MarkBatchAborted(ctx context.Context, id uuid.UUID, reason string) error {
	start := time.Now()
	tag, err := s.pool.Exec(ctx, `
		UPDATE batches SET status = $2, error = $3, completed_at = now()
		WHERE id = $1`,
		id, StatusAborted, reason,
	)
	s.observe("mark_batch_aborted", "batches", start, err)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// GetBatch retrieves a batch and its outcomes.
// Returns pgx.ErrNoRows if the batch does not exist.
func (s *Store) GetBatch(ctx context.Context, id uuid.UUID) (*Batch, error) {
	start := time.Now()
	b, err := scanBatch(s.pool.QueryRow(ctx, `SELECT `+batchColumns+` FROM batches WHERE id = $1`, id))
	s.observe("get_batch", "batches", start, err)
	if err != nil {
		return nil, err
	}

	start = time.Now()
	rows, err := s.pool.Query(ctx, `
		SELECT destination, lamports, tx_id, succeeded, attempts, error
		FROM batch_outcomes
		WHERE batch_id = $1
		ORDER BY position`, id)
	if err != nil {
		s.observe("get_outcomes", "batch_outcomes", start, err)
		return nil, err
	}
	b.Outcomes, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (sned.Outcome, error) {
		var (
			o        sned.Outcome
			lamports int64
			attempts int32
			errText  pgtype.Text
		)
		if err := row.Scan(&o.Request.Destination, &lamports, &o.TxID, &o.Succeeded, &attempts, &errText); err != nil {
			return o, err
		}
		o.Request.Lamports = uint64(lamports)
		o.Attempts = int(attempts)
		if errText.Valid {
			o.Error = errText.String
		}
		return o, nil
	})
	s.observe("get_outcomes", "batch_outcomes", start, err)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// ListBatches lists batches newest first, without outcomes.
func (s *Store) ListBatches(ctx context.Context, params ListBatchesParams) ([]*Batch, error) {
	if params.Limit <= 0 {
		params.Limit = 50
	}
	start := time.Now()
	rows, err := s.pool.Query(ctx, `
		SELECT `+batchColumns+`
		FROM batches
		WHERE $1 = '' OR payer = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`,
		params.Payer, params.Limit, params.Offset,
	)
	if err != nil {
		s.observe("list_batches", "batches", start, err)
		return nil, err
	}
	batches, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*Batch, error) {
		return scanBatch(row)
	})
	s.observe("list_batches", "batches", start, err)
	if err != nil {
		return nil, err
	}
	return batches, nil
}

const batchColumns = `id, payer, memo, status, workflow_id, request_count, total_lamports, error, created_at, completed_at`

func scanBatch(row pgx.Row) (*Batch, error) {
	var (
		b           Batch
		workflowID  pgtype.Text
		errText     pgtype.Text
		total       int64
		count       int32
		completedAt pgtype.Timestamptz
	)
	if err := row.Scan(&b.ID, &b.Payer, &b.Memo, &b.Status, &workflowID, &count, &total, &errText, &b.CreatedAt, &completedAt); err != nil {
		return nil, err
	}
	b.WorkflowID = stringPtrFromPgtext(workflowID)
	b.Error = stringPtrFromPgtext(errText)
	b.RequestCount = int(count)
	b.TotalLamports = uint64(total)
	if completedAt.Valid {
		t := completedAt.Time
		b.CompletedAt = &t
	}
	b.Outcomes = []sned.Outcome{}
	return &b, nil
}

// Helper functions for pgtype conversions

func pgtextFromString(s string) pgtype.Text {
	return pgtype.Text{String: s, Valid: s != ""}
}

func stringPtrFromPgtext(t pgtype.Text) *string {
	if !t.Valid {
		return nil
	}
	return &t.String
}
