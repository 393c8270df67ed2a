package main

import (
	"fmt"
	"log"
	"os"

	"github.com/urfave/cli/v2"
)

var (
	// Version information (set via ldflags during build)
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "pentacle",
		Usage: "Solana NFT creator tools",
		Description: `Bulk SOL airdrops, NFT inspection and burning, stuck candy machine SOL lookups.

Transfers are signed with a local keypair and retried on their own signed transaction.
Every airdrop writes an Airdrop-<ms>.json report that "report verify" can check against chain.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		Commands: []*cli.Command{
			snedCommand(),
			{
				Name:  "nft",
				Usage: "Inspect and burn NFTs",
				Subcommands: []*cli.Command{
					nftListCommand(),
					nftBurnCommand(),
					nftMintsCommand(),
					nftHoldersCommand(),
					nftMetaCommand(),
				},
			},
			stuckSOLCommand(),
			balanceCommand(),
			{
				Name:  "report",
				Usage: "Inspect airdrop reports",
				Subcommands: []*cli.Command{
					reportShowCommand(),
					reportVerifyCommand(),
				},
			},
			{
				Name:  "db",
				Usage: "Batch report database commands",
				Subcommands: []*cli.Command{
					migrateCommand(),
					listReportsCommand(),
				},
			},
			{
				Name:  "nats",
				Usage: "NATS outcome streaming commands",
				Subcommands: []*cli.Command{
					subscribeCommand(),
				},
			},
			clientCommands(),
			{
				Name:  "server",
				Usage: "Server utility commands",
				Subcommands: []*cli.Command{
					healthCommand(),
					versionCommand(),
				},
			},
		},
		// Global flags available to all commands
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:    "rpc-url",
				Usage:   "Solana RPC endpoint (repeatable, one is picked at random)",
				EnvVars: []string{"SOLANA_RPC_URLS", "SOLANA_RPC_URL"},
				Value:   cli.NewStringSlice("https://api.mainnet-beta.solana.com"),
			},
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "Database connection URL",
				EnvVars: []string{"DATABASE_URL"},
			},
			&cli.StringFlag{
				Name:    "server-url",
				Usage:   "Pentacle API server URL",
				EnvVars: []string{"SERVER_URL"},
				Value:   "http://localhost:8080",
			},
			&cli.StringFlag{
				Name:    "nats-url",
				Usage:   "NATS server URL",
				EnvVars: []string{"NATS_URL"},
				Value:   "nats://localhost:4222",
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				EnvVars: []string{"LOG_LEVEL"},
				Value:   "warn",
			},
			&cli.BoolFlag{
				Name:    "json",
				Aliases: []string{"j"},
				Usage:   "Output in JSON format",
			},
		},
	}
}
