package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/brojonat/pentacle/service/sned"
	"github.com/itchyny/gojq"
	"github.com/urfave/cli/v2"
)

func reportShowCommand() *cli.Command {
	return &cli.Command{
		Name:      "show",
		Usage:     "Print an airdrop report, optionally filtered with jq",
		ArgsUsage: "<Airdrop-ms.json>",
		Description: `Print the entries of an airdrop report.

Filters are jq expressions applied in order to the entry array.

Examples:
  pentacle report show Airdrop-1700000000000.json
  pentacle report show --jq '.[] | select(.txId == "failed") | .destination' Airdrop-1700000000000.json`,
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:  "jq",
				Usage: "jq filter applied to the report (repeatable)",
			},
		},
		Action: func(c *cli.Context) error {
			switch {
			case c.NArg() == 0:
				return fmt.Errorf("report file is required")
			case c.NArg() > 1:
				// Flags after the file are not parsed and would be silently dropped.
				return fmt.Errorf("unexpected arguments after %s: %v (flags go before the report file)", c.Args().First(), c.Args().Tail())
			}
			entries, err := sned.ReadReport(c.Args().First())
			if err != nil {
				return err
			}

			filters := c.StringSlice("jq")
			if len(filters) == 0 {
				if c.Bool("json") {
					return outputJSON(entries)
				}
				printEntries(os.Stdout, entries)
				return nil
			}

			results, err := applyFilters(entries, filters)
			if err != nil {
				return err
			}
			for _, r := range results {
				if s, ok := r.(string); ok && !c.Bool("json") {
					fmt.Println(s)
					continue
				}
				if err := outputJSON(r); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

// applyFilters runs each jq filter over the output of the previous one,
// starting from the report entries.
func applyFilters(entries []sned.ReportEntry, filters []string) ([]any, error) {
	data, err := json.Marshal(entries)
	if err != nil {
		return nil, err
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}

	inputs := []any{doc}
	for _, f := range filters {
		query, err := gojq.Parse(f)
		if err != nil {
			return nil, fmt.Errorf("invalid jq filter %q: %w", f, err)
		}
		var outputs []any
		for _, in := range inputs {
			iter := query.Run(in)
			for {
				v, ok := iter.Next()
				if !ok {
					break
				}
				if err, ok := v.(error); ok {
					return nil, fmt.Errorf("jq filter %q failed: %w", f, err)
				}
				outputs = append(outputs, v)
			}
		}
		inputs = outputs
	}
	return inputs, nil
}

func reportVerifyCommand() *cli.Command {
	return &cli.Command{
		Name:      "verify",
		Usage:     "Check every report entry against the chain",
		ArgsUsage: "<Airdrop-ms.json>",
		Action: func(c *cli.Context) error {
			switch {
			case c.NArg() == 0:
				return fmt.Errorf("report file is required")
			case c.NArg() > 1:
				// Flags after the file are not parsed and would be silently dropped.
				return fmt.Errorf("unexpected arguments after %s: %v (flags go before the report file)", c.Args().First(), c.Args().Tail())
			}
			entries, err := sned.ReadReport(c.Args().First())
			if err != nil {
				return err
			}

			logger := newLogger(c)
			chain, err := getChain(c, logger)
			if err != nil {
				return err
			}

			results, err := sned.VerifyReport(context.Background(), chain, entries)
			if err != nil {
				return err
			}

			bad := 0
			for _, r := range results {
				if !r.OK {
					bad++
				}
			}

			if c.Bool("json") {
				if err := outputJSON(results); err != nil {
					return err
				}
			} else {
				w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "DESTINATION\tSOL\tTX\tSTATUS")
				for _, r := range results {
					status := "ok"
					if !r.OK {
						status = r.Problem
					}
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.Entry.Destination, r.Entry.Amount, r.Entry.TxID, status)
				}
				w.Flush()
			}

			fmt.Fprintf(os.Stderr, "\n%d/%d entries verified\n", len(results)-bad, len(results))
			if bad > 0 {
				return fmt.Errorf("%d entries did not verify", bad)
			}
			return nil
		},
	}
}

func printEntries(out io.Writer, entries []sned.ReportEntry) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "DESTINATION\tSOL\tTX")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\n", e.Destination, e.Amount, e.TxID)
	}
	w.Flush()
}
