// Package candy finds SOL locked as rent in candy machine v1 accounts.
package candy

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/brojonat/pentacle/service/sned"
	solanasvc "github.com/brojonat/pentacle/service/solana"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// authorityOffset follows the 8 byte account discriminator.
const authorityOffset = 8

// ProgramScanner lists accounts owned by a program.
type ProgramScanner interface {
	ProgramAccounts(ctx context.Context, program solana.PublicKey, filters ...rpc.RPCFilter) (rpc.GetProgramAccountsResult, error)
}

// StuckSOL is the rent held by the candy machine accounts of one authority.
type StuckSOL struct {
	Authority string   `json:"authority"`
	Accounts  []string `json:"accounts"`
	Lamports  uint64   `json:"lamports"`
}

// SOL returns Lamports as a decimal string.
func (s *StuckSOL) SOL() string {
	return sned.LamportsToSOL(s.Lamports).String()
}

func (s *StuckSOL) String() string {
	if s.Lamports == 0 {
		return "No SOL stuck in any accounts"
	}
	return fmt.Sprintf("%s SOL are in %d accounts", s.SOL(), len(s.Accounts))
}

type Finder struct {
	chain  ProgramScanner
	logger *slog.Logger
}

func NewFinder(chain ProgramScanner, logger *slog.Logger) *Finder {
	return &Finder{chain: chain, logger: logger.With("component", "candy")}
}

// Find sums the lamports of every candy machine v1 account whose authority
// is authority.
func (f *Finder) Find(ctx context.Context, authority solana.PublicKey) (*StuckSOL, error) {
	accounts, err := f.chain.ProgramAccounts(ctx, solanasvc.CandyMachineV1ProgramID,
		rpc.RPCFilter{Memcmp: &rpc.RPCFilterMemcmp{Offset: authorityOffset, Bytes: solana.Base58(authority.Bytes())}},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan candy machine accounts: %w", err)
	}

	res := &StuckSOL{Authority: authority.String(), Accounts: make([]string, 0, len(accounts))}
	for _, acct := range accounts {
		if acct.Account == nil {
			continue
		}
		res.Accounts = append(res.Accounts, acct.Pubkey.String())
		res.Lamports += acct.Account.Lamports
	}

	f.logger.InfoContext(ctx, "found candy machine rent",
		"authority", res.Authority,
		"accounts", len(res.Accounts),
		"lamports", res.Lamports,
	)
	return res, nil
}
