package temporal

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/brojonat/pentacle/service/db"
	"github.com/brojonat/pentacle/service/sned"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	temporalsdk "go.temporal.io/sdk/temporal"
)

// Mock Store
type MockStore struct {
	mock.Mock
}

func (m *MockStore) CreateBatch(ctx context.Context, params db.CreateBatchParams) (*db.Batch, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*db.Batch), args.Error(1)
}

func (m *MockStore) GetBatch(ctx context.Context, id uuid.UUID) (*db.Batch, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*db.Batch), args.Error(1)
}

func (m *MockStore) MarkBatchAborted(ctx context.Context, id uuid.UUID, reason string) error {
	args := m.Called(ctx, id, reason)
	return args.Error(0)
}

// Mock Runner
type MockRunner struct {
	mock.Mock
	payer solanago.PublicKey
}

func (m *MockRunner) Payer() solanago.PublicKey {
	return m.payer
}

func (m *MockRunner) RunWithID(ctx context.Context, id uuid.UUID, requests []sned.TransferRequest) (*sned.Report, error) {
	args := m.Called(ctx, id, requests)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*sned.Report), args.Error(1)
}

func newMockRunner() *MockRunner {
	return &MockRunner{payer: solanago.NewWallet().PublicKey()}
}

func testRequests() []sned.TransferRequest {
	return []sned.TransferRequest{
		{Destination: "dest-a", Lamports: 2_000_000},
		{Destination: "dest-b", Lamports: 1_000_000},
	}
}

func testActivities(store StoreInterface, runner BatchRunner) *Activities {
	return NewActivities(store, runner, nil, slog.Default())
}

func TestRegisterBatch(t *testing.T) {
	ctx := context.Background()
	id := uuid.New()

	t.Run("creates pending batch", func(t *testing.T) {
		store := &MockStore{}
		runner := newMockRunner()
		store.On("GetBatch", mock.Anything, id).Return(nil, pgx.ErrNoRows)
		store.On("CreateBatch", mock.Anything, db.CreateBatchParams{
			ID:         id,
			Payer:      runner.payer.String(),
			WorkflowID: "sned-batch-x",
			Requests:   testRequests(),
		}).Return(&db.Batch{ID: id}, nil)

		result, err := testActivities(store, runner).RegisterBatch(ctx, RegisterBatchInput{
			BatchID:    id.String(),
			WorkflowID: "sned-batch-x",
			Requests:   testRequests(),
		})
		require.NoError(t, err)
		assert.Equal(t, runner.payer.String(), result.Payer)
		store.AssertExpectations(t)
	})

	t.Run("existing batch is a no-op", func(t *testing.T) {
		store := &MockStore{}
		store.On("GetBatch", mock.Anything, id).Return(&db.Batch{ID: id}, nil)

		_, err := testActivities(store, newMockRunner()).RegisterBatch(ctx, RegisterBatchInput{BatchID: id.String()})
		require.NoError(t, err)
		store.AssertNotCalled(t, "CreateBatch", mock.Anything, mock.Anything)
	})

	t.Run("lookup error is retryable", func(t *testing.T) {
		store := &MockStore{}
		store.On("GetBatch", mock.Anything, id).Return(nil, errors.New("connection refused"))

		_, err := testActivities(store, newMockRunner()).RegisterBatch(ctx, RegisterBatchInput{BatchID: id.String()})
		require.Error(t, err)
		var appErr *temporalsdk.ApplicationError
		assert.False(t, errors.As(err, &appErr) && appErr.NonRetryable())
	})

	t.Run("invalid id is not retryable", func(t *testing.T) {
		_, err := testActivities(&MockStore{}, newMockRunner()).RegisterBatch(ctx, RegisterBatchInput{BatchID: "nope"})
		var appErr *temporalsdk.ApplicationError
		require.ErrorAs(t, err, &appErr)
		assert.True(t, appErr.NonRetryable())
		assert.Equal(t, ErrTypeInvalidInput, appErr.Type())
	})

	t.Run("no store", func(t *testing.T) {
		_, err := testActivities(nil, newMockRunner()).RegisterBatch(ctx, RegisterBatchInput{BatchID: id.String()})
		assert.NoError(t, err)
	})
}

func TestSendBatch(t *testing.T) {
	ctx := context.Background()
	id := uuid.New()

	report := &sned.Report{
		ID:        id,
		Memo:      "Sent by snedmaster at 1700000000000",
		CreatedAt: time.UnixMilli(1700000000000),
		Outcomes: []sned.Outcome{
			{Request: testRequests()[0], TxID: "sig-a", Succeeded: true, Attempts: 1},
			{Request: testRequests()[1], TxID: sned.TxIDFailed, Attempts: 6, Error: "retries exhausted"},
		},
	}

	t.Run("summarizes report", func(t *testing.T) {
		runner := newMockRunner()
		runner.On("RunWithID", mock.Anything, id, testRequests()).Return(report, nil)

		result, err := testActivities(&MockStore{}, runner).SendBatch(ctx, SendBatchInput{
			BatchID:  id.String(),
			Requests: testRequests(),
		})
		require.NoError(t, err)
		assert.Equal(t, id.String(), result.BatchID)
		assert.Equal(t, 1, result.Succeeded)
		assert.Equal(t, 1, result.Failed)
		assert.Equal(t, uint64(2_000_000), result.LamportsSent)
		assert.Len(t, result.Outcomes, 2)
		assert.Nil(t, result.Error)
	})

	t.Run("signing rejected aborts without retry", func(t *testing.T) {
		store := &MockStore{}
		runner := newMockRunner()
		signErr := &sned.SigningError{Err: errors.New("user rejected")}
		runner.On("RunWithID", mock.Anything, id, mock.Anything).Return(nil, signErr)
		store.On("MarkBatchAborted", mock.Anything, id, signErr.Error()).Return(nil)

		_, err := testActivities(store, runner).SendBatch(ctx, SendBatchInput{BatchID: id.String()})
		var appErr *temporalsdk.ApplicationError
		require.ErrorAs(t, err, &appErr)
		assert.True(t, appErr.NonRetryable())
		assert.Equal(t, ErrTypeSigningRejected, appErr.Type())
		store.AssertExpectations(t)
	})

	t.Run("interrupted batch returns partial report", func(t *testing.T) {
		runner := newMockRunner()
		runner.On("RunWithID", mock.Anything, id, mock.Anything).Return(report, context.Canceled)

		result, err := testActivities(nil, runner).SendBatch(ctx, SendBatchInput{BatchID: id.String()})
		require.NoError(t, err)
		require.NotNil(t, result.Error)
		assert.Contains(t, *result.Error, "context canceled")
		assert.Equal(t, 1, result.Succeeded)
	})

	t.Run("batch that never started is marked aborted", func(t *testing.T) {
		store := &MockStore{}
		runner := newMockRunner()
		runner.On("RunWithID", mock.Anything, id, mock.Anything).Return(nil, context.DeadlineExceeded)
		store.On("MarkBatchAborted", mock.Anything, id, mock.Anything).Return(errors.New("db down"))

		_, err := testActivities(store, runner).SendBatch(ctx, SendBatchInput{BatchID: id.String()})
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		store.AssertExpectations(t)
	})
}
