package temporal

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/brojonat/pentacle/service/sned"
	"github.com/google/uuid"
	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/client"
)

// Client starts and follows batch workflows.
type Client struct {
	client    client.Client
	taskQueue string
	logger    *slog.Logger
}

// NewClient creates a new Temporal client.
func NewClient(host, namespace, taskQueue string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("connecting to temporal",
		"host", host,
		"namespace", namespace,
		"task_queue", taskQueue,
	)

	c, err := client.Dial(client.Options{
		HostPort:  host,
		Namespace: namespace,
		Logger:    newTemporalLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Temporal: %w", err)
	}

	logger.Info("connected to temporal successfully")

	return &Client{
		client:    c,
		taskQueue: taskQueue,
		logger:    logger,
	}, nil
}

// StartSendBatch starts SendBatchWorkflow for the batch and returns its workflow ID.
// Starting the same batch twice fails instead of sending twice.
func (c *Client) StartSendBatch(ctx context.Context, batchID uuid.UUID, requests []sned.TransferRequest) (string, error) {
	id := WorkflowID(batchID.String())

	run, err := c.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:                    id,
		TaskQueue:             c.taskQueue,
		WorkflowIDReusePolicy: enumspb.WORKFLOW_ID_REUSE_POLICY_REJECT_DUPLICATE,
		Memo: map[string]any{
			"batch_id":   batchID.String(),
			"requests":   len(requests),
			"created_by": "pentacle",
		},
	}, SendBatchWorkflow, SendBatchInput{
		BatchID:  batchID.String(),
		Requests: requests,
	})
	if err != nil {
		c.logger.ErrorContext(ctx, "failed to start batch workflow",
			"batch_id", batchID,
			"workflow_id", id,
			"error", err,
		)
		return "", fmt.Errorf("failed to start workflow %q: %w", id, err)
	}

	c.logger.InfoContext(ctx, "batch workflow started",
		"batch_id", batchID,
		"workflow_id", run.GetID(),
		"run_id", run.GetRunID(),
		"requests", len(requests),
	)
	return run.GetID(), nil
}

// AwaitSendBatch blocks until the batch workflow finishes and returns its result.
func (c *Client) AwaitSendBatch(ctx context.Context, workflowID string) (*SendBatchResult, error) {
	var result SendBatchResult
	if err := c.client.GetWorkflow(ctx, workflowID, "").Get(ctx, &result); err != nil {
		return nil, fmt.Errorf("workflow %q failed: %w", workflowID, err)
	}
	return &result, nil
}

// SDKClient returns the underlying Temporal SDK client for direct workflow operations.
func (c *Client) SDKClient() client.Client {
	return c.client
}

// TaskQueue returns the configured task queue for this client.
func (c *Client) TaskQueue() string {
	return c.taskQueue
}

// Close closes the Temporal client connection.
func (c *Client) Close() {
	c.logger.Info("closing temporal client")
	c.client.Close()
}

// temporalLogger adapts slog.Logger to Temporal's logger interface.
type temporalLogger struct {
	logger *slog.Logger
}

func newTemporalLogger(logger *slog.Logger) *temporalLogger {
	return &temporalLogger{logger: logger}
}

func (l *temporalLogger) Debug(msg string, keyvals ...any) {
	l.logger.Debug(msg, keyvals...)
}

func (l *temporalLogger) Info(msg string, keyvals ...any) {
	l.logger.Info(msg, keyvals...)
}

func (l *temporalLogger) Warn(msg string, keyvals ...any) {
	l.logger.Warn(msg, keyvals...)
}

func (l *temporalLogger) Error(msg string, keyvals ...any) {
	l.logger.Error(msg, keyvals...)
}
