package solana

import (
	"errors"
	"time"

	"github.com/gagliardetto/solana-go/rpc"
)

var (
	// ErrConfirmationTimeout is returned when a broadcast transaction does not
	// reach the requested commitment within ConfirmPolicy.Timeout.
	ErrConfirmationTimeout = errors.New("transaction confirmation timeout")

	// ErrTransactionFailed is returned when the cluster reports an execution
	// error for a broadcast transaction.
	ErrTransactionFailed = errors.New("transaction failed on chain")

	// ErrAccountNotFound is returned when an account lookup comes back empty.
	ErrAccountNotFound = errors.New("account not found")
)

// ConfirmPolicy controls how long Confirm polls signature statuses and which
// commitment level counts as confirmed.
type ConfirmPolicy struct {
	Commitment   rpc.CommitmentType
	Timeout      time.Duration
	PollInterval time.Duration
}

// DefaultConfirmPolicy confirms at "processed", polling every 500ms for up to 30s.
func DefaultConfirmPolicy() ConfirmPolicy {
	return ConfirmPolicy{
		Commitment:   rpc.CommitmentProcessed,
		Timeout:      30 * time.Second,
		PollInterval: 500 * time.Millisecond,
	}
}

// Transaction is a transaction read back from chain, reduced to the fields
// needed to check a native SOL transfer.
type Transaction struct {
	Signature   string
	Slot        uint64
	BlockTime   time.Time
	Lamports    uint64
	FromAddress string
	ToAddress   string
	Memo        string
	Err         string // empty if the transaction succeeded
}
