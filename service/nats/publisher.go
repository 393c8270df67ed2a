package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/pentacle/service/metrics"
	"github.com/brojonat/pentacle/service/sned"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Publisher defines the interface for publishing outcome events to NATS.
type Publisher interface {
	// PublishOutcome publishes a single outcome event to JetStream.
	PublishOutcome(ctx context.Context, event *OutcomeEvent) error

	// PublishOutcomeBatch publishes multiple outcome events. Every event is
	// attempted; the returned error joins the individual failures.
	PublishOutcomeBatch(ctx context.Context, events []*OutcomeEvent) error

	// Close closes the connection to NATS.
	Close() error
}

// JetStreamPublisher publishes outcome events to NATS JetStream.
type JetStreamPublisher struct {
	nc      *nats.Conn
	js      jetstream.JetStream
	logger  *slog.Logger
	metrics *metrics.Metrics
}

const (
	// StreamName is the name of the JetStream stream for outcomes.
	StreamName = "SNED_OUTCOMES"

	// SubjectPrefix prefixes every outcome subject.
	SubjectPrefix = "sned.outcomes"

	// StreamSubjects is the subject pattern for the stream.
	StreamSubjects = SubjectPrefix + ".*"

	// StreamRetention is how long messages are retained (30 days by default).
	StreamRetention = 30 * 24 * time.Hour
)

// Connect dials NATS with the reconnect settings shared by the publisher and
// the CLI subscriber.
func Connect(natsURL, name string) (*nats.Conn, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name(name),
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(1*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return nc, nil
}

// NewPublisher creates a new JetStream publisher.
// It connects to NATS and ensures the stream exists. m may be nil.
func NewPublisher(natsURL string, logger *slog.Logger, m *metrics.Metrics) (*JetStreamPublisher, error) {
	nc, err := Connect(natsURL, "pentacle-publisher")
	if err != nil {
		return nil, err
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	publisher := &JetStreamPublisher{
		nc:      nc,
		js:      js,
		logger:  logger.With("component", "nats_publisher"),
		metrics: m,
	}

	if err := publisher.ensureStream(); err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to ensure stream exists: %w", err)
	}

	publisher.logger.Info("NATS publisher initialized",
		"url", natsURL,
		"stream", StreamName,
	)

	return publisher, nil
}

// ensureStream creates the JetStream stream if it doesn't exist.
func (p *JetStreamPublisher) ensureStream() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := p.js.CreateOrUpdateStream(ctx, StreamConfig())
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}
	p.logger.Debug("JetStream stream ready", "stream", StreamName)
	return nil
}

// StreamConfig is the configuration of the outcome stream.
func StreamConfig() jetstream.StreamConfig {
	return jetstream.StreamConfig{
		Name:        StreamName,
		Description: "Transfer outcomes from sned batches",
		Subjects:    []string{StreamSubjects},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      StreamRetention,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
	}
}

// PublishOutcome publishes a single outcome event. The message ID is
// batch+position so JetStream drops duplicates when a report is re-published.
func (p *JetStreamPublisher) PublishOutcome(ctx context.Context, event *OutcomeEvent) error {
	start := time.Now()
	subject := event.Subject()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal outcome event: %w", err)
	}

	_, err = p.js.Publish(ctx, subject, data,
		jetstream.WithMsgID(fmt.Sprintf("%s-%d", event.BatchID, event.Position)),
	)
	if p.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		p.metrics.RecordNATSPublish(SubjectPrefix, status, time.Since(start).Seconds())
	}
	if err != nil {
		return fmt.Errorf("failed to publish outcome: %w", err)
	}

	p.logger.DebugContext(ctx, "published outcome event",
		"subject", subject,
		"tx_id", event.TxID,
		"destination", event.Destination,
	)

	return nil
}

// PublishOutcomeBatch publishes multiple outcome events.
func (p *JetStreamPublisher) PublishOutcomeBatch(ctx context.Context, events []*OutcomeEvent) error {
	if len(events) == 0 {
		return nil
	}

	var errs []error
	for _, event := range events {
		if err := p.PublishOutcome(ctx, event); err != nil {
			p.logger.ErrorContext(ctx, "failed to publish outcome in batch",
				"batch_id", event.BatchID,
				"position", event.Position,
				"error", err,
			)
			errs = append(errs, err)
		}
	}

	p.logger.DebugContext(ctx, "published outcome batch",
		"count", len(events),
		"failed", len(errs),
	)

	return errors.Join(errs...)
}

// Close closes the connection to NATS.
func (p *JetStreamPublisher) Close() error {
	if p.nc != nil {
		p.nc.Close()
		p.logger.Info("NATS publisher closed")
	}
	return nil
}

// ReportSink publishes every finished report as outcome events.
type ReportSink struct {
	publisher Publisher
}

// NewReportSink adapts a Publisher to sned.OutcomeSink.
func NewReportSink(p Publisher) *ReportSink {
	return &ReportSink{publisher: p}
}

func (s *ReportSink) Name() string {
	return "nats"
}

func (s *ReportSink) RecordReport(ctx context.Context, report *sned.Report) error {
	return s.publisher.PublishOutcomeBatch(ctx, EventsFromReport(report))
}
