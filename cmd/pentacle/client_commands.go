package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/brojonat/pentacle/client"
	"github.com/brojonat/pentacle/service/sned"
	"github.com/urfave/cli/v2"
)

func clientCommands() *cli.Command {
	return &cli.Command{
		Name:  "client",
		Usage: "HTTP client commands for interacting with the pentacle server",
		Subcommands: []*cli.Command{
			clientBatchCommand(),
			clientReportCommand(),
			clientMintsCommand(),
		},
	}
}

func newAPIClient(c *cli.Context) (*client.Client, error) {
	serverURL := c.String("server-url")
	if serverURL == "" {
		return nil, fmt.Errorf("server-url is required (set SERVER_URL env var or use --server-url)")
	}
	httpClient := &http.Client{Timeout: c.Duration("timeout")}
	return client.NewClient(serverURL, httpClient, newLogger(c)), nil
}

func timeoutFlag() cli.Flag {
	return &cli.DurationFlag{
		Name:  "timeout",
		Usage: "Request timeout",
		Value: 30 * time.Second,
	}
}

func clientBatchCommand() *cli.Command {
	return &cli.Command{
		Name:      "batch",
		Usage:     "Submit an airdrop batch to the server's worker",
		ArgsUsage: "[addresses]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "amount",
				Aliases:  []string{"a"},
				Usage:    "SOL to send per address occurrence",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "addresses",
				Usage: "Address list",
			},
			&cli.StringFlag{
				Name:    "file",
				Aliases: []string{"f"},
				Usage:   "Read the address list from a file ('-' for stdin)",
			},
			timeoutFlag(),
		},
		Action: func(c *cli.Context) error {
			input, err := readAddressInput(c)
			if err != nil {
				return err
			}
			cl, err := newAPIClient(c)
			if err != nil {
				return err
			}

			accepted, err := cl.CreateBatch(context.Background(), input, c.String("amount"))
			if err != nil {
				return fmt.Errorf("failed to submit batch: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(accepted)
			}
			fmt.Printf("✓ Batch accepted\n")
			fmt.Printf("  Batch ID:    %s\n", accepted.BatchID)
			fmt.Printf("  Workflow ID: %s\n", accepted.WorkflowID)
			fmt.Printf("  Transfers:   %d (%s SOL)\n",
				len(accepted.Requests), sned.LamportsToSOL(sned.TotalLamports(accepted.Requests)))
			return nil
		},
	}
}

func clientReportCommand() *cli.Command {
	return &cli.Command{
		Name:      "report",
		Usage:     "Fetch the report of a batch",
		ArgsUsage: "<batch-id>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "save",
				Usage: "Write the report entries as Airdrop-<ms>.json into this directory",
			},
			timeoutFlag(),
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("batch id is required")
			}
			cl, err := newAPIClient(c)
			if err != nil {
				return err
			}

			batch, err := cl.GetBatch(context.Background(), c.Args().First())
			if err != nil {
				return fmt.Errorf("failed to get batch: %w", err)
			}

			if dir := c.String("save"); dir != "" {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return fmt.Errorf("failed to create report directory: %w", err)
				}
				path := filepath.Join(dir, fmt.Sprintf("Airdrop-%d.json", batch.CreatedAt.UnixMilli()))
				f, err := os.Create(path)
				if err != nil {
					return fmt.Errorf("failed to write report: %w", err)
				}
				defer f.Close()
				if err := writeJSON(f, batch.Entries); err != nil {
					return err
				}
				fmt.Fprintf(os.Stderr, "Wrote %s\n", path)
			}

			if c.Bool("json") {
				return outputJSON(batch)
			}
			fmt.Printf("Batch %s (%s)\n", batch.ID, batch.Status)
			fmt.Printf("  Payer: %s\n", batch.Payer)
			if batch.Memo != "" {
				fmt.Printf("  Memo:  %s\n", batch.Memo)
			}
			if batch.Error != nil {
				fmt.Printf("  Error: %s\n", *batch.Error)
			}
			fmt.Println()
			printEntries(os.Stdout, batch.Entries)
			return nil
		},
	}
}

func clientMintsCommand() *cli.Command {
	return &cli.Command{
		Name:      "mints",
		Usage:     "List the token mints a wallet holds",
		ArgsUsage: "<owner>",
		Flags:     []cli.Flag{timeoutFlag()},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("owner address is required")
			}
			cl, err := newAPIClient(c)
			if err != nil {
				return err
			}

			mints, err := cl.Mints(context.Background(), c.Args().First())
			if err != nil {
				return fmt.Errorf("failed to list mints: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(mints)
			}
			for _, m := range mints {
				fmt.Println(m)
			}
			fmt.Fprintf(os.Stderr, "\nTotal: %d mints\n", len(mints))
			return nil
		},
	}
}
