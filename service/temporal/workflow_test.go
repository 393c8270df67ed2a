package temporal

import (
	"errors"
	"testing"

	"github.com/brojonat/pentacle/service/sned"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/testsuite"
)

const testBatchID = "6f1c2a9e-3b7d-4c1a-9e0f-2d5b8a7c6e41"

func newWorkflowEnv(t *testing.T) (*testsuite.TestWorkflowEnvironment, *Activities) {
	t.Helper()
	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestWorkflowEnvironment()

	activities := &Activities{}
	env.RegisterActivity(activities.RegisterBatch)
	env.RegisterActivity(activities.SendBatch)
	return env, activities
}

func TestSendBatchWorkflow(t *testing.T) {
	input := SendBatchInput{BatchID: testBatchID, Requests: testRequests()}

	t.Run("registers then sends", func(t *testing.T) {
		env, activities := newWorkflowEnv(t)

		env.OnActivity(activities.RegisterBatch, mock.Anything, mock.MatchedBy(func(in RegisterBatchInput) bool {
			return in.BatchID == testBatchID && len(in.Requests) == 2 && in.WorkflowID != ""
		})).Return(&RegisterBatchResult{Payer: "payer111"}, nil).Once()
		env.OnActivity(activities.SendBatch, mock.Anything, input).Return(&SendBatchResult{
			BatchID:      testBatchID,
			Succeeded:    2,
			LamportsSent: 3_000_000,
			Outcomes: []sned.Outcome{
				{Request: testRequests()[0], TxID: "sig-a", Succeeded: true, Attempts: 1},
				{Request: testRequests()[1], TxID: "sig-b", Succeeded: true, Attempts: 2},
			},
		}, nil).Once()

		env.ExecuteWorkflow(SendBatchWorkflow, input)

		require.True(t, env.IsWorkflowCompleted())
		require.NoError(t, env.GetWorkflowError())

		var result SendBatchResult
		require.NoError(t, env.GetWorkflowResult(&result))
		assert.Equal(t, 2, result.Succeeded)
		assert.Equal(t, uint64(3_000_000), result.LamportsSent)
		assert.Len(t, result.Outcomes, 2)
		env.AssertExpectations(t)
	})

	t.Run("register failure skips send", func(t *testing.T) {
		env, activities := newWorkflowEnv(t)

		env.OnActivity(activities.RegisterBatch, mock.Anything, mock.Anything).
			Return(nil, errors.New("database unavailable"))

		sendCalls := 0
		env.OnActivity(activities.SendBatch, mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
			sendCalls++
		}).Return(&SendBatchResult{}, nil)

		env.ExecuteWorkflow(SendBatchWorkflow, input)

		require.True(t, env.IsWorkflowCompleted())
		assert.Error(t, env.GetWorkflowError())
		assert.Equal(t, 0, sendCalls)
	})

	t.Run("send runs at most once", func(t *testing.T) {
		env, activities := newWorkflowEnv(t)

		env.OnActivity(activities.RegisterBatch, mock.Anything, mock.Anything).
			Return(&RegisterBatchResult{Payer: "payer111"}, nil)

		sendCalls := 0
		env.OnActivity(activities.SendBatch, mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
			sendCalls++
		}).Return(nil, errors.New("rpc node unreachable"))

		env.ExecuteWorkflow(SendBatchWorkflow, input)

		require.True(t, env.IsWorkflowCompleted())
		err := env.GetWorkflowError()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to send batch")
		assert.Equal(t, 1, sendCalls)
	})

	t.Run("register is retried", func(t *testing.T) {
		env, activities := newWorkflowEnv(t)

		registerCalls := 0
		env.OnActivity(activities.RegisterBatch, mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
			registerCalls++
			if registerCalls < 2 {
				panic("transient error") // Temporal retries on panics
			}
		}).Return(&RegisterBatchResult{Payer: "payer111"}, nil)
		env.OnActivity(activities.SendBatch, mock.Anything, mock.Anything).
			Return(&SendBatchResult{BatchID: testBatchID}, nil)

		env.ExecuteWorkflow(SendBatchWorkflow, input)

		require.True(t, env.IsWorkflowCompleted())
		assert.NoError(t, env.GetWorkflowError())
		assert.Equal(t, 2, registerCalls)
	})
}

func TestWorkflowID(t *testing.T) {
	assert.Equal(t, "sned-batch-"+testBatchID, WorkflowID(testBatchID))
}
