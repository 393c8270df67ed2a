package solana

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/brojonat/pentacle/service/metrics"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// RPCClient is an interface for the Solana RPC operations we need.
// This allows us to mock the RPC layer in tests without hitting real Solana nodes.
type RPCClient interface {
	GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error)
	SendRawTransaction(ctx context.Context, rawTx []byte) (solana.Signature, error)
	GetSignatureStatuses(ctx context.Context, sigs ...solana.Signature) (*rpc.GetSignatureStatusesResult, error)
	GetBalance(ctx context.Context, account solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetBalanceResult, error)
	GetAccountInfo(ctx context.Context, account solana.PublicKey) (*rpc.GetAccountInfoResult, error)
	GetMultipleAccounts(ctx context.Context, accounts ...solana.PublicKey) (*rpc.GetMultipleAccountsResult, error)
	GetProgramAccounts(ctx context.Context, program solana.PublicKey, opts *rpc.GetProgramAccountsOpts) (rpc.GetProgramAccountsResult, error)
	GetTokenLargestAccounts(ctx context.Context, mint solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetTokenLargestAccountsResult, error)
	GetTransaction(ctx context.Context, signature solana.Signature, opts *rpc.GetTransactionOpts) (*rpc.GetTransactionResult, error)
}

// maxAccountsPerCall is the getMultipleAccounts limit enforced by RPC nodes.
const maxAccountsPerCall = 100

// Client is the chain capability shared by every tool: blockhashes,
// broadcasts, confirmations, balances and account scans. Each method is a
// single RPC round trip (plus polling for Confirm); retry budgets belong to
// the caller. Client is safe for concurrent use.
type Client struct {
	rpc      RPCClient
	logger   *slog.Logger
	metrics  *metrics.Metrics
	endpoint string // RPC endpoint identifier for metrics (e.g., "mainnet", "devnet", rpc host)
	confirm  ConfirmPolicy
}

// NewClient creates a new Solana client.
// The endpoint parameter is used for metrics labeling (e.g., "mainnet", "devnet", or RPC hostname).
// If metrics is nil, no metrics will be recorded.
func NewClient(rpcClient RPCClient, endpoint string, m *metrics.Metrics, logger *slog.Logger) *Client {
	return &Client{
		rpc:      rpcClient,
		logger:   logger,
		metrics:  m,
		endpoint: endpoint,
		confirm:  DefaultConfirmPolicy(),
	}
}

// WithConfirmPolicy returns a copy of c that confirms using p.
func (c *Client) WithConfirmPolicy(p ConfirmPolicy) *Client {
	cp := *c
	cp.confirm = p
	return &cp
}

// record reports one RPC round trip to metrics.
func (c *Client) record(method string, start time.Time, err error) {
	if c.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
		if isRateLimited(err) {
			c.metrics.RecordRateLimitHit(c.endpoint)
		}
	}
	c.metrics.RecordRPCCall(method, status, c.endpoint, time.Since(start).Seconds())
}

func isRateLimited(err error) bool {
	return strings.Contains(err.Error(), "429")
}

// LatestBlockhash fetches a recent blockhash at "finalized" commitment.
func (c *Client) LatestBlockhash(ctx context.Context) (solana.Hash, error) {
	start := time.Now()
	out, err := c.rpc.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err == nil && (out == nil || out.Value == nil) {
		err = fmt.Errorf("empty getLatestBlockhash response")
	}
	c.record("GetLatestBlockhash", start, err)
	if err != nil {
		return solana.Hash{}, err
	}
	return out.Value.Blockhash, nil
}

// Broadcast serializes a signed transaction and sends it to the cluster.
// The returned signature is the transaction id.
func (c *Client) Broadcast(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	raw, err := tx.MarshalBinary()
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to serialize transaction: %w", err)
	}

	start := time.Now()
	sig, err := c.rpc.SendRawTransaction(ctx, raw)
	c.record("SendTransaction", start, err)
	if err != nil {
		return solana.Signature{}, err
	}

	c.logger.DebugContext(ctx, "broadcast transaction", "signature", sig.String(), "bytes", len(raw))
	return sig, nil
}

// Confirm polls the signature status until it reaches the policy commitment,
// the cluster reports an execution error, or the policy timeout elapses.
func (c *Client) Confirm(ctx context.Context, sig solana.Signature) error {
	ctx, cancel := context.WithTimeout(ctx, c.confirm.Timeout)
	defer cancel()

	ticker := time.NewTicker(c.confirm.PollInterval)
	defer ticker.Stop()

	for {
		start := time.Now()
		out, err := c.rpc.GetSignatureStatuses(ctx, sig)
		c.record("GetSignatureStatuses", start, err)

		if err == nil && out != nil && len(out.Value) > 0 && out.Value[0] != nil {
			status := out.Value[0]
			if status.Err != nil {
				return fmt.Errorf("%w: %v", ErrTransactionFailed, status.Err)
			}
			if meetsCommitment(status.ConfirmationStatus, c.confirm.Commitment) {
				return nil
			}
		} else if err != nil {
			c.logger.DebugContext(ctx, "signature status poll failed",
				"signature", sig.String(),
				"error", err,
			)
		}

		select {
		case <-ctx.Done():
			if ctx.Err() == context.DeadlineExceeded {
				return fmt.Errorf("%w: %s after %s", ErrConfirmationTimeout, sig, c.confirm.Timeout)
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

var commitmentRank = map[string]int{
	string(rpc.CommitmentProcessed): 1,
	string(rpc.CommitmentConfirmed): 2,
	string(rpc.CommitmentFinalized): 3,
}

func meetsCommitment(got rpc.ConfirmationStatusType, want rpc.CommitmentType) bool {
	have, ok := commitmentRank[string(got)]
	if !ok {
		return false
	}
	return have >= commitmentRank[string(want)]
}

// Balance returns the lamport balance of account.
func (c *Client) Balance(ctx context.Context, account solana.PublicKey) (uint64, error) {
	start := time.Now()
	out, err := c.rpc.GetBalance(ctx, account, rpc.CommitmentConfirmed)
	c.record("GetBalance", start, err)
	if err != nil {
		return 0, err
	}
	return out.Value, nil
}

// AccountInfo returns the raw account, or ErrAccountNotFound.
func (c *Client) AccountInfo(ctx context.Context, account solana.PublicKey) (*rpc.Account, error) {
	start := time.Now()
	out, err := c.rpc.GetAccountInfo(ctx, account)
	c.record("GetAccountInfo", start, err)
	if err == rpc.ErrNotFound || (err == nil && (out == nil || out.Value == nil)) {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, account)
	}
	if err != nil {
		return nil, err
	}
	return out.Value, nil
}

// MultipleAccounts fetches accounts in chunks of 100. The result is aligned
// with accounts; missing accounts are nil.
func (c *Client) MultipleAccounts(ctx context.Context, accounts []solana.PublicKey) ([]*rpc.Account, error) {
	result := make([]*rpc.Account, 0, len(accounts))
	for lo := 0; lo < len(accounts); lo += maxAccountsPerCall {
		hi := min(lo+maxAccountsPerCall, len(accounts))

		start := time.Now()
		out, err := c.rpc.GetMultipleAccounts(ctx, accounts[lo:hi]...)
		c.record("GetMultipleAccounts", start, err)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch accounts %d-%d: %w", lo, hi, err)
		}
		if len(out.Value) != hi-lo {
			return nil, fmt.Errorf("getMultipleAccounts returned %d accounts, want %d", len(out.Value), hi-lo)
		}
		result = append(result, out.Value...)
	}
	return result, nil
}

// ProgramAccounts scans the accounts owned by program that match every filter.
func (c *Client) ProgramAccounts(ctx context.Context, program solana.PublicKey, filters ...rpc.RPCFilter) (rpc.GetProgramAccountsResult, error) {
	start := time.Now()
	out, err := c.rpc.GetProgramAccounts(ctx, program, &rpc.GetProgramAccountsOpts{
		Commitment: rpc.CommitmentConfirmed,
		Encoding:   solana.EncodingBase64,
		Filters:    filters,
	})
	c.record("GetProgramAccounts", start, err)
	if err != nil {
		return nil, err
	}

	c.logger.DebugContext(ctx, "scanned program accounts",
		"program", program.String(),
		"filters", len(filters),
		"count", len(out),
	)
	return out, nil
}

// LargestTokenAccounts returns the largest token accounts of a mint. For an
// NFT the first entry holds the single token.
func (c *Client) LargestTokenAccounts(ctx context.Context, mint solana.PublicKey) ([]*rpc.TokenLargestAccountsResult, error) {
	start := time.Now()
	out, err := c.rpc.GetTokenLargestAccounts(ctx, mint, rpc.CommitmentConfirmed)
	c.record("GetTokenLargestAccounts", start, err)
	if err != nil {
		return nil, err
	}
	return out.Value, nil
}

// GetTransfer fetches a transaction by signature and parses the native SOL
// transfer and memo it carries. Rate limits and transient failures are retried
// up to three times with exponential backoff.
func (c *Client) GetTransfer(ctx context.Context, signature solana.Signature) (*Transaction, error) {
	const maxAttempts = 3

	var result *rpc.GetTransactionResult
	var err error
	for attempt := range maxAttempts {
		start := time.Now()
		result, err = c.rpc.GetTransaction(ctx, signature, &rpc.GetTransactionOpts{
			Encoding:                       solana.EncodingBase64,
			Commitment:                     rpc.CommitmentConfirmed,
			MaxSupportedTransactionVersion: &[]uint64{0}[0],
		})
		c.record("GetTransaction", start, err)
		if err == nil {
			break
		}
		if err == rpc.ErrNotFound {
			return nil, fmt.Errorf("transaction %s not found: %w", signature, err)
		}

		reason := "error"
		backoff := time.Duration(1<<uint(attempt)) * time.Second // 1s, 2s, 4s
		if isRateLimited(err) {
			reason = "rate_limit"
			backoff *= 2
		}
		if c.metrics != nil {
			c.metrics.RecordRPCRetry("GetTransaction", reason)
		}
		if attempt == maxAttempts-1 {
			break
		}
		c.logger.WarnContext(ctx, "failed to get transaction, retrying",
			"signature", signature.String(),
			"attempt", attempt+1,
			"error", err,
			"backoff_seconds", backoff.Seconds(),
		)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction %s after %d attempts: %w", signature, maxAttempts, err)
	}
	if result == nil {
		return nil, fmt.Errorf("transaction %s not found", signature)
	}

	return parseTransactionResult(signature, result)
}
