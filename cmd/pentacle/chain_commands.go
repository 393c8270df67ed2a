package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brojonat/pentacle/service/candy"
	"github.com/brojonat/pentacle/service/sned"
	"github.com/urfave/cli/v2"
)

func stuckSOLCommand() *cli.Command {
	return &cli.Command{
		Name:      "stuck-sol",
		Usage:     "Find SOL held by candy machine v1 accounts of an authority",
		ArgsUsage: "<authority>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("authority address is required")
			}
			authority, err := parseKey(c.Args().First())
			if err != nil {
				return err
			}

			logger := newLogger(c)
			chain, err := getChain(c, logger)
			if err != nil {
				return err
			}

			stuck, err := candy.NewFinder(chain, logger).Find(context.Background(), authority)
			if err != nil {
				return err
			}

			if c.Bool("json") {
				return outputJSON(map[string]any{
					"authority": stuck.Authority,
					"accounts":  stuck.Accounts,
					"lamports":  stuck.Lamports,
					"sol":       stuck.SOL(),
					"message":   stuck.String(),
				})
			}
			fmt.Println(stuck.String())
			for _, a := range stuck.Accounts {
				fmt.Printf("  %s\n", a)
			}
			return nil
		},
	}
}

func balanceCommand() *cli.Command {
	return &cli.Command{
		Name:      "balance",
		Usage:     "Show the SOL balance of an address",
		ArgsUsage: "<address>",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "watch",
				Aliases: []string{"w"},
				Usage:   "Keep polling and print the balance when it changes",
			},
			&cli.DurationFlag{
				Name:  "interval",
				Usage: "Polling interval for --watch",
				Value: time.Second,
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("address is required")
			}
			address, err := parseKey(c.Args().First())
			if err != nil {
				return err
			}

			logger := newLogger(c)
			chain, err := getChain(c, logger)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			show := func(lamports uint64) error {
				if c.Bool("json") {
					return outputJSON(map[string]any{
						"address":  address.String(),
						"lamports": lamports,
						"sol":      sned.LamportsToSOL(lamports).String(),
						"as_of":    time.Now().UTC(),
					})
				}
				fmt.Printf("%s SOL\n", sned.LamportsToSOL(lamports))
				return nil
			}

			lamports, err := chain.Balance(ctx, address)
			if err != nil {
				return err
			}
			if err := show(lamports); err != nil || !c.Bool("watch") {
				return err
			}

			ticker := time.NewTicker(c.Duration("interval"))
			defer ticker.Stop()
			last := lamports
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					lamports, err := chain.Balance(ctx, address)
					if err != nil {
						if ctx.Err() != nil {
							return nil
						}
						logger.WarnContext(ctx, "balance poll failed", "address", address.String(), "error", err)
						continue
					}
					if lamports != last {
						last = lamports
						if err := show(lamports); err != nil {
							return err
						}
					}
				}
			}
		},
	}
}
