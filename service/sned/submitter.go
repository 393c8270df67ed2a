package sned

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/pentacle/service/metrics"
	solanasvc "github.com/brojonat/pentacle/service/solana"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
)

// TxIDFailed is the transaction id recorded for a request that never confirmed.
const TxIDFailed = "failed"

// Chain is the network capability the submitter needs.
type Chain interface {
	LatestBlockhash(ctx context.Context) (solana.Hash, error)
	Broadcast(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)
	Confirm(ctx context.Context, sig solana.Signature) error
}

// Signer signs transactions on behalf of the payer. SignAll must sign every
// transaction or return an error.
type Signer interface {
	PublicKey() solana.PublicKey
	SignAll(ctx context.Context, txs []*solana.Transaction) error
}

// RetryBudget bounds the broadcast-and-confirm loop.
type RetryBudget struct {
	MaxAttempts int
	Backoff     time.Duration
}

// BlockhashPolicy bounds the recent blockhash loop. MaxAttempts 0 means the
// loop only stops on success or ctx cancellation.
type BlockhashPolicy struct {
	Delay       time.Duration
	MaxAttempts int
}

func DefaultRetryBudget() RetryBudget {
	return RetryBudget{MaxAttempts: 6, Backoff: 500 * time.Millisecond}
}

func DefaultBlockhashPolicy() BlockhashPolicy {
	return BlockhashPolicy{Delay: time.Second, MaxAttempts: 60}
}

// Outcome is the result of submitting one TransferRequest.
type Outcome struct {
	Request   TransferRequest `json:"request"`
	TxID      string          `json:"tx_id"`
	Succeeded bool            `json:"succeeded"`
	Attempts  int             `json:"attempts"`
	Error     string          `json:"error,omitempty"`
	Err       error           `json:"-"`
}

func succeeded(req TransferRequest, sig solana.Signature, attempts int) Outcome {
	return Outcome{Request: req, TxID: sig.String(), Succeeded: true, Attempts: attempts}
}

func failed(req TransferRequest, attempts int, err error) Outcome {
	return Outcome{Request: req, TxID: TxIDFailed, Attempts: attempts, Error: err.Error(), Err: err}
}

// Submitter acquires a blockhash, builds, signs, broadcasts and confirms
// transactions with bounded retries. Calls on one Submitter may run
// concurrently; each call is a single sequential flow.
type Submitter struct {
	chain     Chain
	signer    Signer
	budget    RetryBudget
	blockhash BlockhashPolicy
	logger    *slog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

// Option configures a Submitter.
type Option func(*Submitter)

func WithRetryBudget(b RetryBudget) Option {
	return func(s *Submitter) { s.budget = b }
}

func WithBlockhashPolicy(p BlockhashPolicy) Option {
	return func(s *Submitter) { s.blockhash = p }
}

// WithMetrics records attempts and outcomes. A nil *Metrics disables recording.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Submitter) { s.metrics = m }
}

// WithClock replaces time.Now, which stamps memos and reports.
func WithClock(now func() time.Time) Option {
	return func(s *Submitter) { s.now = now }
}

func NewSubmitter(chain Chain, signer Signer, logger *slog.Logger, opts ...Option) *Submitter {
	s := &Submitter{
		chain:     chain,
		signer:    signer,
		budget:    DefaultRetryBudget(),
		blockhash: DefaultBlockhashPolicy(),
		logger:    logger.With("component", "submitter"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.budget.MaxAttempts < 1 {
		s.budget.MaxAttempts = 1
	}
	return s
}

// Payer is the account that funds and signs every transaction.
func (s *Submitter) Payer() solana.PublicKey {
	return s.signer.PublicKey()
}

// MemoText is the memo attached to transfers sent at t.
func MemoText(t time.Time) string {
	return fmt.Sprintf("Sent by snedmaster at %d", t.UnixMilli())
}

// LatestBlockhash fetches a recent blockhash, waiting BlockhashPolicy.Delay
// between failed attempts.
func (s *Submitter) LatestBlockhash(ctx context.Context) (solana.Hash, error) {
	hash, attempts, err := retry(ctx, s.blockhash.MaxAttempts, s.blockhash.Delay,
		func(ctx context.Context, attempt int) (solana.Hash, error) {
			hash, err := s.chain.LatestBlockhash(ctx)
			if s.metrics != nil {
				s.metrics.RecordBlockhashAttempt(err)
			}
			if err != nil {
				s.logger.WarnContext(ctx, "failed to get recent blockhash",
					"attempt", attempt,
					"error", err,
				)
			}
			return hash, err
		})
	if err != nil {
		return solana.Hash{}, fmt.Errorf("%w after %d attempts: %w", ErrBlockhashUnavailable, attempts, err)
	}
	return hash, nil
}

// BuildTransfer builds an unsigned transaction holding a System transfer of
// req.Lamports from payer to req.Destination and a memo signed by payer.
func BuildTransfer(req TransferRequest, payer solana.PublicKey, blockhash solana.Hash, memo string) (*solana.Transaction, error) {
	dest, err := ParseDestination(req.Destination)
	if err != nil {
		return nil, err
	}

	ixs := []solana.Instruction{
		system.NewTransferInstruction(req.Lamports, payer, dest).Build(),
		MemoInstruction(payer, memo),
	}
	tx, err := solana.NewTransaction(ixs, blockhash, solana.TransactionPayer(payer))
	if err != nil {
		return nil, fmt.Errorf("failed to build transfer to %s: %w", req.Destination, err)
	}
	return tx, nil
}

// ParseDestination decodes a transfer destination. A malformed address is a
// *ValidationError.
func ParseDestination(destination string) (solana.PublicKey, error) {
	dest, err := solana.PublicKeyFromBase58(destination)
	if err != nil {
		return solana.PublicKey{}, &ValidationError{Field: "destination", Message: fmt.Sprintf("%q is not a public key", destination)}
	}
	return dest, nil
}

// MemoInstruction writes text to the SPL Memo program with signer as the
// only (signing) account.
func MemoInstruction(signer solana.PublicKey, text string) solana.Instruction {
	return solana.NewInstruction(
		solanasvc.MemoProgramID,
		solana.AccountMetaSlice{solana.NewAccountMeta(signer, false, true)},
		[]byte(text),
	)
}

// BroadcastAndConfirm sends an already signed transaction and waits for it
// to confirm, re-sending the same transaction after any failure until the
// RetryBudget is spent. It returns the number of broadcasts made.
//
// The transaction is not rebuilt between attempts, so every retry carries the
// original blockhash; once that blockhash expires the remaining attempts
// cannot land.
func (s *Submitter) BroadcastAndConfirm(ctx context.Context, tx *solana.Transaction) (solana.Signature, int, error) {
	sig, attempts, err := retry(ctx, s.budget.MaxAttempts, s.budget.Backoff,
		func(ctx context.Context, attempt int) (solana.Signature, error) {
			sig, err := s.chain.Broadcast(ctx, tx)
			if err == nil {
				err = s.chain.Confirm(ctx, sig)
			}
			if s.metrics != nil {
				s.metrics.RecordBroadcastAttempt(err)
			}
			if err != nil {
				s.logger.WarnContext(ctx, "broadcast attempt failed",
					"attempt", attempt,
					"max_attempts", s.budget.MaxAttempts,
					"error", err,
				)
			}
			return sig, err
		})
	if err != nil {
		return solana.Signature{}, attempts, fmt.Errorf("%w (%d attempts): %w", ErrRetriesExhausted, attempts, err)
	}
	return sig, attempts, nil
}

// Submit sends one transfer end to end. It never returns an error; failures
// are reported in the Outcome.
func (s *Submitter) Submit(ctx context.Context, req TransferRequest) Outcome {
	out := s.submit(ctx, req)
	s.record(ctx, out)
	return out
}

func (s *Submitter) submit(ctx context.Context, req TransferRequest) Outcome {
	if _, err := ParseDestination(req.Destination); err != nil {
		return failed(req, 0, err)
	}

	hash, err := s.LatestBlockhash(ctx)
	if err != nil {
		return failed(req, 0, err)
	}

	tx, err := BuildTransfer(req, s.Payer(), hash, MemoText(s.now()))
	if err != nil {
		return failed(req, 0, err)
	}

	if err := s.signer.SignAll(ctx, []*solana.Transaction{tx}); err != nil {
		return failed(req, 0, &SigningError{Err: err})
	}

	sig, attempts, err := s.BroadcastAndConfirm(ctx, tx)
	if err != nil {
		return failed(req, attempts, err)
	}
	return succeeded(req, sig, attempts)
}

// SubmitInstructions runs the same blockhash, sign and broadcast flow for
// arbitrary instructions paid for by the signer.
func (s *Submitter) SubmitInstructions(ctx context.Context, ixs ...solana.Instruction) (solana.Signature, int, error) {
	hash, err := s.LatestBlockhash(ctx)
	if err != nil {
		return solana.Signature{}, 0, err
	}

	tx, err := solana.NewTransaction(ixs, hash, solana.TransactionPayer(s.Payer()))
	if err != nil {
		return solana.Signature{}, 0, fmt.Errorf("failed to build transaction: %w", err)
	}

	if err := s.signer.SignAll(ctx, []*solana.Transaction{tx}); err != nil {
		return solana.Signature{}, 0, &SigningError{Err: err}
	}

	return s.BroadcastAndConfirm(ctx, tx)
}

func (s *Submitter) record(ctx context.Context, out Outcome) {
	if s.metrics != nil {
		s.metrics.RecordSubmission(out.Succeeded, out.Attempts, out.Request.Lamports)
	}
	if out.Succeeded {
		s.logger.InfoContext(ctx, "transfer confirmed",
			"destination", out.Request.Destination,
			"lamports", out.Request.Lamports,
			"tx_id", out.TxID,
			"attempts", out.Attempts,
		)
		return
	}
	s.logger.ErrorContext(ctx, "transfer failed",
		"destination", out.Request.Destination,
		"lamports", out.Request.Lamports,
		"attempts", out.Attempts,
		"error", out.Err,
	)
}
