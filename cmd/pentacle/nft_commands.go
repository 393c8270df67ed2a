package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/brojonat/pentacle/service/nft"
	"github.com/brojonat/pentacle/service/sned"
	"github.com/urfave/cli/v2"
)

func nftListCommand() *cli.Command {
	return &cli.Command{
		Name:      "list",
		Usage:     "List the NFTs a wallet holds",
		ArgsUsage: "<owner>",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "page",
				Usage: "Page to show (1-based)",
				Value: 1,
			},
			&cli.IntFlag{
				Name:  "per-page",
				Usage: fmt.Sprintf("NFTs per page (one of %v)", nft.PerPageOptions),
				Value: nft.PerPageOptions[0],
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("owner address is required")
			}
			owner, err := parseKey(c.Args().First())
			if err != nil {
				return err
			}

			logger := newLogger(c)
			svc, _, err := getNFTService(c, logger)
			if err != nil {
				return err
			}

			ctx := context.Background()
			state, err := fetchListing(ctx, svc, owner.String())
			if err != nil {
				return err
			}
			if state, err = nft.Reduce(state, nft.SetPerPage{PerPage: c.Int("per-page")}); err != nil {
				return err
			}
			if state, err = nft.Reduce(state, nft.SetPage{Page: c.Int("page")}); err != nil {
				return err
			}

			if c.Bool("json") {
				return outputJSON(state)
			}
			printNFTs(os.Stdout, state.CurrentPage())
			fmt.Fprintf(os.Stderr, "\nPage %d/%d, %d NFTs total\n",
				state.Page, max(nft.PageCount(len(state.NFTs), state.PerPage), 1), len(state.NFTs))
			return nil
		},
	}
}

// fetchListing loads the NFTs of owner into a fresh view state.
func fetchListing(ctx context.Context, svc *nft.Service, owner string) (nft.ViewState, error) {
	state, err := nft.Reduce(nft.NewViewState(), nft.FetchStarted{Owner: owner})
	if err != nil {
		return state, err
	}
	key, err := parseKey(owner)
	if err != nil {
		return state, err
	}
	nfts, fetchErr := svc.OwnedNFTs(ctx, key)
	if fetchErr != nil {
		state, _ = nft.Reduce(state, nft.FetchFailed{Err: fetchErr})
		return state, fmt.Errorf("failed to list nfts: %w", fetchErr)
	}
	return nft.Reduce(state, nft.FetchSucceeded{NFTs: nfts})
}

func nftBurnCommand() *cli.Command {
	return &cli.Command{
		Name:      "burn",
		Usage:     "Burn an NFT held by the keypair wallet and reclaim its rent",
		ArgsUsage: "<mint>",
		Flags: []cli.Flag{
			keypairFlag(),
			&cli.IntFlag{
				Name:  "max-attempts",
				Usage: "Broadcast attempts",
				Value: sned.DefaultRetryBudget().MaxAttempts,
			},
			&cli.BoolFlag{
				Name:    "yes",
				Aliases: []string{"y"},
				Usage:   "Skip the confirmation prompt",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("mint address is required")
			}
			mint, err := parseKey(c.Args().First())
			if err != nil {
				return err
			}

			logger := newLogger(c)
			svc, _, err := getNFTService(c, logger)
			if err != nil {
				return err
			}
			sub, err := getSubmitter(c, logger)
			if err != nil {
				return err
			}

			ctx := context.Background()
			state, err := fetchListing(ctx, svc, sub.Payer().String())
			if err != nil {
				return err
			}
			if state, err = nft.Reduce(state, nft.Select{Mint: mint.String()}); err != nil {
				return err
			}

			if !c.Bool("yes") {
				ok, err := confirm(os.Stdin, os.Stderr, fmt.Sprintf("Burn %q (%s)?", state.Selected.Name, mint))
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("aborted")
				}
			}

			if state, err = nft.Reduce(state, nft.BurnStarted{}); err != nil {
				return err
			}
			result, burnErr := svc.Burn(ctx, sub, mint)
			if burnErr != nil {
				state, _ = nft.Reduce(state, nft.BurnFailed{Err: burnErr})
				return burnErr
			}
			state, _ = nft.Reduce(state, nft.BurnSucceeded{})

			if c.Bool("json") {
				return outputJSON(result)
			}
			fmt.Printf("✓ Burned %s\n", result.Mint)
			fmt.Printf("  Token account: %s (closed)\n", result.TokenAccount)
			fmt.Printf("  Transaction:   %s\n", result.TxID)
			fmt.Fprintf(os.Stderr, "\n%d NFTs left in wallet\n", len(state.NFTs))
			return nil
		},
	}
}

func nftMintsCommand() *cli.Command {
	return &cli.Command{
		Name:      "mints",
		Usage:     "List the mints whose first creator is a given address",
		ArgsUsage: "<creator>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "out",
				Aliases: []string{"o"},
				Usage:   "Write the mint list as a JSON array to this file",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("creator address is required")
			}
			creator, err := parseKey(c.Args().First())
			if err != nil {
				return err
			}

			logger := newLogger(c)
			svc, _, err := getNFTService(c, logger)
			if err != nil {
				return err
			}

			mints, err := svc.MintsByCreator(context.Background(), creator)
			if err != nil {
				return err
			}

			if out := c.String("out"); out != "" {
				f, err := os.Create(out)
				if err != nil {
					return fmt.Errorf("failed to create %s: %w", out, err)
				}
				defer f.Close()
				if err := writeJSON(f, mints); err != nil {
					return err
				}
				fmt.Fprintf(os.Stderr, "Wrote %d mints to %s\n", len(mints), out)
				return nil
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

func nftHoldersCommand() *cli.Command {
	return &cli.Command{
		Name:      "holders",
		Usage:     "Show the wallet currently holding each mint",
		ArgsUsage: "<mint>...",
		Action: func(c *cli.Context) error {
			if c.NArg() == 0 {
				return fmt.Errorf("at least one mint address is required")
			}
			mints, err := parseKeys(c.Args().Slice())
			if err != nil {
				return err
			}

			logger := newLogger(c)
			svc, _, err := getNFTService(c, logger)
			if err != nil {
				return err
			}

			holders, err := svc.Holders(context.Background(), mints)
			if err != nil {
				return err
			}

			if c.Bool("json") {
				return outputJSON(holders)
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "MINT\tOWNER\tTOKEN ACCOUNT")
			for _, h := range holders {
				owner := h.Owner
				if h.Failed {
					owner = "error: " + h.Error
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", h.Mint, owner, h.TokenAccount)
			}
			w.Flush()
			return nil
		},
	}
}

func nftMetaCommand() *cli.Command {
	return &cli.Command{
		Name:      "meta",
		Usage:     "Show on-chain and off-chain metadata of mints",
		ArgsUsage: "<mint>...",
		Action: func(c *cli.Context) error {
			if c.NArg() == 0 {
				return fmt.Errorf("at least one mint address is required")
			}
			mints, err := parseKeys(c.Args().Slice())
			if err != nil {
				return err
			}

			logger := newLogger(c)
			svc, _, err := getNFTService(c, logger)
			if err != nil {
				return err
			}

			metadata := svc.Metadata(context.Background(), mints)
			if c.Bool("json") {
				return outputJSON(metadata)
			}
			printNFTs(os.Stdout, metadata)
			return nil
		},
	}
}

func printNFTs(out io.Writer, nfts []nft.Metadata) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "MINT\tNAME\tSYMBOL\tIMAGE")
	for _, m := range nfts {
		name := m.Name
		if m.Failed {
			name = "error: " + m.Error
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", m.Mint, name, m.Symbol, m.Image)
	}
	w.Flush()
}

