package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/brojonat/pentacle/service/db"
	"github.com/brojonat/pentacle/service/sned"
	"github.com/urfave/cli/v2"
)

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Create the batch report tables",
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			if err := store.Migrate(context.Background()); err != nil {
				return fmt.Errorf("failed to migrate: %w", err)
			}
			fmt.Println("✓ Schema is up to date")
			return nil
		},
	}
}

func listReportsCommand() *cli.Command {
	return &cli.Command{
		Name:    "reports",
		Usage:   "List stored batch reports, newest first",
		Aliases: []string{"ls"},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "payer",
				Usage: "Only list batches sent from this wallet",
			},
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Value:   50,
			},
			&cli.IntFlag{
				Name:  "offset",
				Value: 0,
			},
		},
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			batches, err := store.ListBatches(context.Background(), db.ListBatchesParams{
				Payer:  c.String("payer"),
				Limit:  int32(c.Int("limit")),
				Offset: int32(c.Int("offset")),
			})
			if err != nil {
				return fmt.Errorf("failed to list batches: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(batches)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTATUS\tPAYER\tTRANSFERS\tSOL\tCREATED")
			for _, b := range batches {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
					b.ID,
					b.Status,
					b.Payer,
					b.RequestCount,
					sned.LamportsToSOL(b.TotalLamports),
					b.CreatedAt.Format(time.RFC3339),
				)
			}
			w.Flush()

			fmt.Fprintf(os.Stderr, "\nTotal: %d batches\n", len(batches))
			return nil
		},
	}
}
