package db

import (
	"context"
	"testing"
	"time"

	"github.com/brojonat/pentacle/service/sned"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testReport() *sned.Report {
	return &sned.Report{
		ID:        uuid.New(),
		Payer:     "payer111",
		Memo:      "Sent by snedmaster at 1700000000000",
		CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
		Outcomes: []sned.Outcome{
			{Request: sned.TransferRequest{Destination: "dest-a", Lamports: 2_000_000}, TxID: "sig-a", Succeeded: true, Attempts: 1},
			{Request: sned.TransferRequest{Destination: "dest-b", Lamports: 1_000_000}, TxID: sned.TxIDFailed, Attempts: 6, Error: "retries exhausted"},
			{Request: sned.TransferRequest{Destination: "dest-c", Lamports: 1_000_000}, TxID: "sig-c", Succeeded: true, Attempts: 3},
		},
	}
}

func TestCreateBatch(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	ctx := context.Background()

	params := CreateBatchParams{
		ID:         uuid.New(),
		Payer:      "payer111",
		WorkflowID: "sned-batch-1",
		Requests: []sned.TransferRequest{
			{Destination: "dest-a", Lamports: 5},
			{Destination: "dest-b", Lamports: 7},
		},
	}

	b, err := store.CreateBatch(ctx, params)
	require.NoError(t, err)

	assert.Equal(t, params.ID, b.ID)
	assert.Equal(t, StatusPending, b.Status)
	assert.Equal(t, 2, b.RequestCount)
	assert.Equal(t, uint64(12), b.TotalLamports)
	require.NotNil(t, b.WorkflowID)
	assert.Equal(t, "sned-batch-1", *b.WorkflowID)
	assert.Nil(t, b.CompletedAt)
	assert.Empty(t, b.Outcomes)

	_, err = store.CreateBatch(ctx, params)
	assert.Error(t, err, "duplicate batch id should fail")
}

func TestRecordReport(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	ctx := context.Background()
	report := testReport()

	t.Run("stores outcomes in request order", func(t *testing.T) {
		require.NoError(t, store.RecordReport(ctx, report))

		b, err := store.GetBatch(ctx, report.ID)
		require.NoError(t, err)

		assert.Equal(t, StatusCompleted, b.Status)
		assert.Equal(t, report.Memo, b.Memo)
		assert.Equal(t, 3, b.RequestCount)
		assert.Equal(t, uint64(4_000_000), b.TotalLamports)
		assert.NotNil(t, b.CompletedAt)
		assert.WithinDuration(t, report.CreatedAt, b.CreatedAt, time.Microsecond)

		require.Len(t, b.Outcomes, 3)
		for i, o := range b.Outcomes {
			assert.Equal(t, report.Outcomes[i].Request, o.Request)
			assert.Equal(t, report.Outcomes[i].TxID, o.TxID)
			assert.Equal(t, report.Outcomes[i].Succeeded, o.Succeeded)
			assert.Equal(t, report.Outcomes[i].Attempts, o.Attempts)
			assert.Equal(t, report.Outcomes[i].Error, o.Error)
		}
	})

	t.Run("recording twice replaces outcomes", func(t *testing.T) {
		report.Outcomes = report.Outcomes[:1]
		require.NoError(t, store.RecordReport(ctx, report))

		b, err := store.GetBatch(ctx, report.ID)
		require.NoError(t, err)
		assert.Len(t, b.Outcomes, 1)
		assert.Equal(t, 1, b.RequestCount)
	})

	t.Run("completes a pending batch", func(t *testing.T) {
		pending := testReport()
		_, err := store.CreateBatch(ctx, CreateBatchParams{
			ID:         pending.ID,
			Payer:      pending.Payer,
			WorkflowID: "wf-1",
		})
		require.NoError(t, err)

		require.NoError(t, store.RecordReport(ctx, pending))

		b, err := store.GetBatch(ctx, pending.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusCompleted, b.Status)
		require.NotNil(t, b.WorkflowID)
		assert.Equal(t, "wf-1", *b.WorkflowID)
		assert.Len(t, b.Outcomes, 3)
	})
}

func TestMarkBatchAborted(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	ctx := context.Background()

	id := uuid.New()
	_, err := store.CreateBatch(ctx, CreateBatchParams{ID: id, Payer: "payer111"})
	require.NoError(t, err)

	require.NoError(t, store.MarkBatchAborted(ctx, id, "signing rejected"))

	b, err := store.GetBatch(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusAborted, b.Status)
	require.NotNil(t, b.Error)
	assert.Equal(t, "signing rejected", *b.Error)

	err = store.MarkBatchAborted(ctx, uuid.New(), "nope")
	assert.ErrorIs(t, err, pgx.ErrNoRows)
}

func TestGetBatchNotFound(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()

	_, err := store.GetBatch(context.Background(), uuid.New())
	assert.ErrorIs(t, err, pgx.ErrNoRows)
}

func TestListBatches(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Microsecond)
	var ids []uuid.UUID
	for i := range 3 {
		r := testReport()
		r.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		if i == 2 {
			r.Payer = "payer222"
		}
		require.NoError(t, store.RecordReport(ctx, r))
		ids = append(ids, r.ID)
	}

	all, err := store.ListBatches(ctx, ListBatchesParams{Limit: 10})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, ids[2], all[0].ID, "newest first")
	assert.Equal(t, ids[0], all[2].ID)

	filtered, err := store.ListBatches(ctx, ListBatchesParams{Payer: "payer111"})
	require.NoError(t, err)
	assert.Len(t, filtered, 2)

	paged, err := store.ListBatches(ctx, ListBatchesParams{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, paged, 1)
	assert.Equal(t, ids[1], paged[0].ID)
}
