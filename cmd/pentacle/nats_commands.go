package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	natspkg "github.com/brojonat/pentacle/service/nats"
	"github.com/brojonat/pentacle/service/sned"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/urfave/cli/v2"
)

// subscribeCommand streams transfer outcome events.
func subscribeCommand() *cli.Command {
	return &cli.Command{
		Name:      "subscribe",
		Usage:     "Stream transfer outcomes as batches run",
		ArgsUsage: "[batch_id]",
		Description: `Subscribe to outcome events published to NATS JetStream.

Events are published to the subject: sned.outcomes.{batch_id}
Without a batch id every batch is streamed.

Example:
  pentacle nats subscribe 0f8fad5b-d9cb-469f-a165-70867728950e --json`,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "durable",
				Aliases: []string{"d"},
				Usage:   "Create a durable consumer (survives restarts)",
			},
			&cli.StringFlag{
				Name:  "consumer-name",
				Usage: "Consumer name (required for durable)",
				Value: "pentacle-cli",
			},
		},
		Action: func(c *cli.Context) error {
			subject := natspkg.StreamSubjects
			if c.NArg() > 0 {
				subject = natspkg.OutcomeSubject(c.Args().First())
			}
			return streamOutcomes(c, subject)
		},
	}
}

func streamOutcomes(c *cli.Context, subject string) error {
	jsonOutput := c.Bool("json")

	nc, err := natspkg.Connect(c.String("nats-url"), "pentacle-cli")
	if err != nil {
		return err
	}
	defer nc.Close()

	js, err := jetstream.New(nc)
	if err != nil {
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	consumerConfig := jetstream.ConsumerConfig{
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
	}
	if c.Bool("durable") {
		consumerConfig.Durable = c.String("consumer-name")
		consumerConfig.Name = c.String("consumer-name")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cons, err := js.CreateOrUpdateConsumer(ctx, natspkg.StreamName, consumerConfig)
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}

	if !jsonOutput {
		fmt.Printf("📡 Subscribing to: %s\n", subject)
		fmt.Printf("\nWaiting for outcomes... (Ctrl-C to exit)\n\n")
	}

	msgChan := make(chan jetstream.Msg, 10)
	cc, err := cons.Consume(func(msg jetstream.Msg) {
		msgChan <- msg
	})
	if err != nil {
		return fmt.Errorf("failed to consume: %w", err)
	}
	defer cc.Stop()

	count, failed := 0, 0
	for {
		select {
		case msg := <-msgChan:
			var event natspkg.OutcomeEvent
			if err := json.Unmarshal(msg.Data(), &event); err != nil {
				fmt.Fprintf(os.Stderr, "Error parsing event: %v\n", err)
				msg.Ack()
				continue
			}
			count++
			if !event.Succeeded {
				failed++
			}

			if jsonOutput {
				data, _ := json.Marshal(event)
				fmt.Println(string(data))
			} else {
				status := "✓"
				if !event.Succeeded {
					status = "✗ " + event.Error
				}
				fmt.Printf("[%s #%d] %s SOL -> %s  %s  %s\n",
					event.BatchID,
					event.Position,
					sned.LamportsToSOL(event.Lamports),
					event.Destination,
					event.TxID,
					status,
				)
			}
			msg.Ack()

		case <-ctx.Done():
			if !jsonOutput {
				fmt.Printf("\n✅ Received %d outcomes (%d failed) at %s\n", count, failed, time.Now().Format(time.RFC3339))
			}
			return nil
		}
	}
}
