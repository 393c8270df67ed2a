// Package nft lists, inspects and burns the NFTs of a wallet.
package nft

import (
	"context"
	"fmt"
	"log/slog"

	solanasvc "github.com/brojonat/pentacle/service/solana"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"
)

var (
	TokenProgramID    = solanasvc.TokenProgramID
	MetadataProgramID = solanasvc.TokenMetadataProgramID
)

// InstructionSubmitter sends instructions paid for and signed by Payer.
type InstructionSubmitter interface {
	Payer() solana.PublicKey
	SubmitInstructions(ctx context.Context, ixs ...solana.Instruction) (solana.Signature, int, error)
}

// Holder is the current owner of one mint.
type Holder struct {
	Mint         string `json:"mint"`
	TokenAccount string `json:"token_account,omitempty"`
	Owner        string `json:"owner,omitempty"`
	Failed       bool   `json:"failed"`
	Error        string `json:"error,omitempty"`
}

// BurnResult describes a confirmed burn.
type BurnResult struct {
	Mint         string `json:"mint"`
	TokenAccount string `json:"token_account"`
	TxID         string `json:"tx_id"`
	Attempts     int    `json:"attempts"`
}

type Service struct {
	chain    AccountReader
	metadata *MetadataFetcher
	logger   *slog.Logger
}

func NewService(chain AccountReader, metadata *MetadataFetcher, logger *slog.Logger) *Service {
	return &Service{
		chain:    chain,
		metadata: metadata,
		logger:   logger.With("component", "nft"),
	}
}

// Metadata resolves metadata for mints. See MetadataFetcher.Fetch.
func (s *Service) Metadata(ctx context.Context, mints []solana.PublicKey) []Metadata {
	return s.metadata.Fetch(ctx, mints)
}

// OwnedMints returns the mints of every non-empty SPL token account owned by owner.
func (s *Service) OwnedMints(ctx context.Context, owner solana.PublicKey) ([]solana.PublicKey, error) {
	accounts, err := s.chain.ProgramAccounts(ctx, TokenProgramID,
		rpc.RPCFilter{DataSize: tokenAccountSize},
		rpc.RPCFilter{Memcmp: &rpc.RPCFilterMemcmp{Offset: tokenOwnerOffset, Bytes: solana.Base58(owner.Bytes())}},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list token accounts of %s: %w", owner, err)
	}

	var mints []solana.PublicKey
	for _, acct := range accounts {
		if acct.Account == nil || acct.Account.Data == nil {
			continue
		}
		ta, err := decodeTokenAccount(acct.Account.Data.GetBinary())
		if err != nil {
			s.logger.WarnContext(ctx, "skipping undecodable token account", "account", acct.Pubkey.String(), "error", err)
			continue
		}
		if ta.Amount > 0 {
			mints = append(mints, ta.Mint)
		}
	}
	return mints, nil
}

// OwnedNFTs lists the tokens held by owner that have resolvable metadata.
// Tokens whose metadata fails to resolve are left out.
func (s *Service) OwnedNFTs(ctx context.Context, owner solana.PublicKey) ([]Metadata, error) {
	mints, err := s.OwnedMints(ctx, owner)
	if err != nil {
		return nil, err
	}

	all := s.metadata.Fetch(ctx, mints)
	nfts := make([]Metadata, 0, len(all))
	for _, md := range all {
		if !md.Failed {
			nfts = append(nfts, md)
		}
	}

	s.logger.InfoContext(ctx, "listed owned nfts",
		"owner", owner.String(),
		"token_accounts", len(mints),
		"nfts", len(nfts),
	)
	return nfts, nil
}

// MintsByCreator lists the mints whose first creator is creator.
func (s *Service) MintsByCreator(ctx context.Context, creator solana.PublicKey) ([]string, error) {
	accounts, err := s.chain.ProgramAccounts(ctx, MetadataProgramID,
		rpc.RPCFilter{Memcmp: &rpc.RPCFilterMemcmp{Offset: metadataFirstCreatorOffset, Bytes: solana.Base58(creator.Bytes())}},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan metadata accounts for creator %s: %w", creator, err)
	}

	mints := make([]string, 0, len(accounts))
	for _, acct := range accounts {
		if acct.Account == nil || acct.Account.Data == nil {
			continue
		}
		data := acct.Account.Data.GetBinary()
		if len(data) < metadataMintOffset+32 {
			continue
		}
		mints = append(mints, solana.PublicKeyFromBytes(data[metadataMintOffset:metadataMintOffset+32]).String())
	}
	return mints, nil
}

// Holders finds the wallet currently holding each mint.
func (s *Service) Holders(ctx context.Context, mints []solana.PublicKey) ([]Holder, error) {
	holders := make([]Holder, len(mints))
	var tokenAccounts []solana.PublicKey
	var idx []int

	for i, mint := range mints {
		holders[i].Mint = mint.String()
		largest, err := s.chain.LargestTokenAccounts(ctx, mint)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			holders[i].Failed, holders[i].Error = true, err.Error()
			continue
		}
		found := false
		for _, la := range largest {
			if la.Amount != "" && la.Amount != "0" {
				holders[i].TokenAccount = la.Address.String()
				tokenAccounts = append(tokenAccounts, la.Address)
				idx = append(idx, i)
				found = true
				break
			}
		}
		if !found {
			holders[i].Failed, holders[i].Error = true, "no token account holds this mint"
		}
	}

	if len(tokenAccounts) == 0 {
		return holders, nil
	}
	accounts, err := s.chain.MultipleAccounts(ctx, tokenAccounts)
	if err != nil {
		return nil, fmt.Errorf("failed to read token accounts: %w", err)
	}
	for j, acct := range accounts {
		h := &holders[idx[j]]
		if acct == nil || acct.Data == nil {
			h.Failed, h.Error = true, "token account not found"
			continue
		}
		ta, err := decodeTokenAccount(acct.Data.GetBinary())
		if err != nil {
			h.Failed, h.Error = true, err.Error()
			continue
		}
		h.Owner = ta.Owner.String()
	}
	return holders, nil
}

// BurnInstructions burns the single token of mint held in owner's associated
// token account and closes that account, returning its rent to owner.
func BurnInstructions(owner, mint solana.PublicKey) ([]solana.Instruction, solana.PublicKey, error) {
	ata, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return nil, solana.PublicKey{}, fmt.Errorf("failed to derive token account: %w", err)
	}
	return []solana.Instruction{
		token.NewBurnInstruction(1, ata, mint, owner, nil).Build(),
		token.NewCloseAccountInstruction(ata, owner, owner, nil).Build(),
	}, ata, nil
}

// Burn burns mint from the submitter's payer wallet.
func (s *Service) Burn(ctx context.Context, sub InstructionSubmitter, mint solana.PublicKey) (*BurnResult, error) {
	owner := sub.Payer()
	ixs, ata, err := BurnInstructions(owner, mint)
	if err != nil {
		return nil, err
	}

	sig, attempts, err := sub.SubmitInstructions(ctx, ixs...)
	if err != nil {
		s.logger.ErrorContext(ctx, "burn failed", "mint", mint.String(), "attempts", attempts, "error", err)
		return nil, fmt.Errorf("failed to burn %s: %w", mint, err)
	}

	s.logger.InfoContext(ctx, "burned nft",
		"mint", mint.String(),
		"token_account", ata.String(),
		"tx_id", sig.String(),
	)
	return &BurnResult{Mint: mint.String(), TokenAccount: ata.String(), TxID: sig.String(), Attempts: attempts}, nil
}
