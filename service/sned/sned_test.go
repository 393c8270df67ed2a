package sned

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"
)

// fakeChain scripts broadcast and confirmation failures per destination and
// records the order broadcasts arrive in.
type fakeChain struct {
	mu sync.Mutex

	blockhashFailures int // fail this many LatestBlockhash calls first; -1 fails forever
	blockhashCalls    int

	failures        map[string]int // destination -> broadcast failures before success; -1 fails forever
	confirmFailures map[string]int // destination -> confirmation timeouts before success; -1 fails forever
	broadcasts      map[string]int
	confirms        map[string]int
	sent            map[solana.Signature]string
	order           []string
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		failures:        map[string]int{},
		confirmFailures: map[string]int{},
		broadcasts:      map[string]int{},
		confirms:        map[string]int{},
		sent:            map[solana.Signature]string{},
	}
}

func (c *fakeChain) LatestBlockhash(ctx context.Context) (solana.Hash, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.blockhashCalls++
	if c.blockhashFailures < 0 || c.blockhashCalls <= c.blockhashFailures {
		return solana.Hash{}, errors.New("node unhealthy")
	}
	return solana.Hash{byte(c.blockhashCalls)}, nil
}

func (c *fakeChain) Broadcast(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	dest := destinationOf(tx)
	c.broadcasts[dest]++
	c.order = append(c.order, dest)

	switch n := c.failures[dest]; {
	case n < 0:
		return solana.Signature{}, errors.New("blockhash not found")
	case n > 0:
		c.failures[dest] = n - 1
		return solana.Signature{}, errors.New("blockhash not found")
	}
	c.sent[tx.Signatures[0]] = dest
	return tx.Signatures[0], nil
}

func (c *fakeChain) Confirm(ctx context.Context, sig solana.Signature) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	dest := c.sent[sig]
	c.confirms[dest]++

	switch n := c.confirmFailures[dest]; {
	case n < 0:
		return errors.New("transaction confirmation timeout")
	case n > 0:
		c.confirmFailures[dest] = n - 1
		return errors.New("transaction confirmation timeout")
	}
	return nil
}

func (c *fakeChain) totalBroadcasts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.order)
}

// destinationOf returns the recipient of the first (System transfer) instruction.
func destinationOf(tx *solana.Transaction) string {
	ix := tx.Message.Instructions[0]
	if len(ix.Accounts) < 2 {
		return ""
	}
	return tx.Message.AccountKeys[ix.Accounts[1]].String()
}

type fakeSigner struct {
	key   solana.PrivateKey
	err   error
	calls int
	seen  int
}

func newFakeSigner() *fakeSigner {
	return &fakeSigner{key: solana.NewWallet().PrivateKey}
}

func (s *fakeSigner) PublicKey() solana.PublicKey {
	return s.key.PublicKey()
}

func (s *fakeSigner) SignAll(ctx context.Context, txs []*solana.Transaction) error {
	s.calls++
	s.seen += len(txs)
	if s.err != nil {
		return s.err
	}
	for _, tx := range txs {
		if _, err := tx.Sign(func(k solana.PublicKey) *solana.PrivateKey {
			if k.Equals(s.key.PublicKey()) {
				return &s.key
			}
			return nil
		}); err != nil {
			return err
		}
	}
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestSubmitter(chain Chain, signer Signer, opts ...Option) *Submitter {
	opts = append([]Option{
		WithRetryBudget(RetryBudget{MaxAttempts: 6, Backoff: time.Millisecond}),
		WithBlockhashPolicy(BlockhashPolicy{Delay: time.Millisecond, MaxAttempts: 5}),
		WithClock(func() time.Time { return time.UnixMilli(1700000000000) }),
	}, opts...)
	return NewSubmitter(chain, signer, testLogger(), opts...)
}

func newAddress() string {
	return solana.NewWallet().PublicKey().String()
}

func requireAllSigned(t *testing.T, tx *solana.Transaction) {
	t.Helper()
	require.NotEmpty(t, tx.Signatures)
	require.NoError(t, tx.VerifySignatures())
}
