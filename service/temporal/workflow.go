package temporal

import (
	"fmt"
	"time"

	temporalsdk "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

var a *Activities // for type-safe activity invocation

// SendBatchWorkflow registers a batch and then sends it.
//
// RegisterBatch is idempotent and retried. SendBatch moves funds and is
// attempted exactly once; a failure after broadcasting started is never
// replayed by Temporal.
func SendBatchWorkflow(ctx workflow.Context, input SendBatchInput) (*SendBatchResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("SendBatchWorkflow started", "batch_id", input.BatchID, "requests", len(input.Requests))

	result := &SendBatchResult{BatchID: input.BatchID}

	registerCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: &temporalsdk.RetryPolicy{
			InitialInterval:        time.Second,
			BackoffCoefficient:     2.0,
			MaximumInterval:        30 * time.Second,
			MaximumAttempts:        3,
			NonRetryableErrorTypes: []string{ErrTypeInvalidInput},
		},
	})

	var registered *RegisterBatchResult
	err := workflow.ExecuteActivity(registerCtx, a.RegisterBatch, RegisterBatchInput{
		BatchID:    input.BatchID,
		WorkflowID: workflow.GetInfo(ctx).WorkflowExecution.ID,
		Requests:   input.Requests,
	}).Get(ctx, &registered)
	if err != nil {
		errMsg := fmt.Sprintf("failed to register batch: %v", err)
		result.Error = &errMsg
		return result, fmt.Errorf("failed to register batch: %w", err)
	}
	logger.Info("batch registered", "batch_id", input.BatchID, "payer", registered.Payer)

	sendCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: time.Hour,
		RetryPolicy: &temporalsdk.RetryPolicy{
			MaximumAttempts: 1,
		},
	})

	var sent *SendBatchResult
	err = workflow.ExecuteActivity(sendCtx, a.SendBatch, input).Get(ctx, &sent)
	if err != nil {
		logger.Error("failed to send batch", "batch_id", input.BatchID, "error", err)
		errMsg := fmt.Sprintf("failed to send batch: %v", err)
		result.Error = &errMsg
		return result, fmt.Errorf("failed to send batch: %w", err)
	}

	logger.Info("SendBatchWorkflow completed",
		"batch_id", input.BatchID,
		"succeeded", sent.Succeeded,
		"failed", sent.Failed,
	)
	return sent, nil
}

// WorkflowID is the deterministic workflow ID for a batch.
func WorkflowID(batchID string) string {
	return "sned-batch-" + batchID
}
