package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	natspkg "github.com/brojonat/pentacle/service/nats"
	"github.com/brojonat/pentacle/service/sned"
	"github.com/urfave/cli/v2"
)

func snedCommand() *cli.Command {
	return &cli.Command{
		Name:      "sned",
		Usage:     "Send the same amount of SOL to a list of addresses",
		ArgsUsage: "[addresses]",
		Description: `Send SOL to every address in the list, signed with one keypair.

Addresses may be a JSON array, comma separated, or one per line. An address that
appears N times receives N times the amount in a single transfer.

Each transfer is retried on its own signed transaction until confirmed or the
retry budget runs out. A report is written to --report-dir when the batch ends.

Examples:
  pentacle sned --amount 0.01 --addresses "addr1,addr2,addr1"
  pentacle sned --amount 0.5 --file winners.txt --yes`,
		Flags: []cli.Flag{
			keypairFlag(),
			&cli.StringFlag{
				Name:     "amount",
				Aliases:  []string{"a"},
				Usage:    "SOL to send per address occurrence (e.g. 0.25)",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "addresses",
				Usage: "Address list",
			},
			&cli.StringFlag{
				Name:    "file",
				Aliases: []string{"f"},
				Usage:   "Read the address list from a file ('-' for stdin, requires --yes)",
			},
			&cli.StringFlag{
				Name:    "report-dir",
				Usage:   "Directory the Airdrop-<ms>.json report is written to",
				EnvVars: []string{"REPORT_DIR"},
				Value:   ".",
			},
			&cli.IntFlag{
				Name:  "max-attempts",
				Usage: "Broadcast attempts per transfer",
				Value: sned.DefaultRetryBudget().MaxAttempts,
			},
			&cli.BoolFlag{
				Name:    "yes",
				Aliases: []string{"y"},
				Usage:   "Skip the confirmation prompt",
			},
			&cli.BoolFlag{
				Name:  "publish",
				Usage: "Publish outcomes to NATS (--nats-url)",
			},
		},
		Action: func(c *cli.Context) error {
			input, err := readAddressInput(c)
			if err != nil {
				return err
			}
			lamports, err := sned.ParseSOL(c.String("amount"))
			if err != nil {
				return err
			}
			requests := sned.Aggregate(sned.ParseAddressList(input), lamports)
			if len(requests) == 0 {
				return fmt.Errorf("no addresses given")
			}

			logger := newLogger(c)
			sub, err := getSubmitter(c, logger)
			if err != nil {
				return err
			}

			total := sned.TotalLamports(requests)
			fmt.Fprintf(os.Stderr, "Sending %s SOL to %d addresses from %s\n",
				sned.LamportsToSOL(total), len(requests), sub.Payer())
			if !c.Bool("yes") {
				ok, err := confirm(os.Stdin, os.Stderr, "Continue?")
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("aborted")
				}
			}

			var sinks []sned.OutcomeSink
			if c.String("database-url") != "" {
				store, closer, err := getStore(c)
				if err != nil {
					return err
				}
				defer closer()
				sinks = append(sinks, store)
			}
			if c.Bool("publish") {
				pub, err := natspkg.NewPublisher(c.String("nats-url"), logger, nil)
				if err != nil {
					return err
				}
				defer pub.Close()
				sinks = append(sinks, natspkg.NewReportSink(pub))
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			report, runErr := sned.NewOrchestrator(sub, logger, sinks...).Run(ctx, requests)
			if report == nil {
				return runErr
			}

			path, err := sned.WriteReport(c.String("report-dir"), report)
			if err != nil {
				return err
			}

			if c.Bool("json") {
				if err := outputJSON(report); err != nil {
					return err
				}
			} else {
				printReport(os.Stdout, report)
			}
			fmt.Fprintf(os.Stderr, "\nSent %s SOL, %d/%d transfers confirmed. Report: %s\n",
				sned.LamportsToSOL(report.LamportsSent()), report.Succeeded(), len(report.Outcomes), path)

			return runErr
		},
	}
}

// readAddressInput returns the raw address list from --addresses, --file or
// the first argument. Reading from stdin consumes the prompt's input, so
// --file - requires --yes.
func readAddressInput(c *cli.Context) (string, error) {
	switch {
	case c.String("addresses") != "":
		return c.String("addresses"), nil
	case c.String("file") == "-":
		if !c.Bool("yes") {
			return "", fmt.Errorf("--yes is required when reading addresses from stdin")
		}
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("failed to read stdin: %w", err)
		}
		return string(data), nil
	case c.String("file") != "":
		data, err := os.ReadFile(c.String("file"))
		if err != nil {
			return "", fmt.Errorf("failed to read address file: %w", err)
		}
		return string(data), nil
	case c.NArg() > 0:
		return strings.Join(c.Args().Slice(), ","), nil
	}
	return "", fmt.Errorf("addresses are required (use --addresses, --file or pass them as arguments)")
}

func confirm(in io.Reader, out io.Writer, prompt string) (bool, error) {
	fmt.Fprintf(out, "%s [y/N] ", prompt)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}

func printReport(out io.Writer, report *sned.Report) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "DESTINATION\tSOL\tATTEMPTS\tTX")
	for _, o := range report.Outcomes {
		tx := o.TxID
		if !o.Succeeded && o.Error != "" {
			tx = fmt.Sprintf("%s (%s)", o.TxID, o.Error)
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n",
			o.Request.Destination,
			sned.LamportsToSOL(o.Request.Lamports),
			o.Attempts,
			tx,
		)
	}
	w.Flush()
}
