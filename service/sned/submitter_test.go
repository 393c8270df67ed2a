package sned

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmit_SucceedsFirstTry(t *testing.T) {
	chain := newFakeChain()
	signer := newFakeSigner()
	sub := newTestSubmitter(chain, signer)
	dest := newAddress()

	out := sub.Submit(context.Background(), TransferRequest{Destination: dest, Lamports: 5000})

	require.True(t, out.Succeeded)
	assert.Equal(t, 1, out.Attempts)
	assert.NotEqual(t, TxIDFailed, out.TxID)
	assert.NoError(t, out.Err)
	assert.Equal(t, 1, chain.broadcasts[dest])
	assert.Equal(t, 1, signer.calls)
}

func TestSubmit_RetriesUntilSuccess(t *testing.T) {
	for k := 1; k <= 5; k++ {
		chain := newFakeChain()
		sub := newTestSubmitter(chain, newFakeSigner())
		dest := newAddress()
		chain.failures[dest] = k

		out := sub.Submit(context.Background(), TransferRequest{Destination: dest, Lamports: 1})

		require.True(t, out.Succeeded, "k=%d", k)
		assert.Equal(t, k+1, out.Attempts)
		assert.Equal(t, k+1, chain.broadcasts[dest])
	}
}

func TestSubmit_ExhaustsBudget(t *testing.T) {
	chain := newFakeChain()
	sub := newTestSubmitter(chain, newFakeSigner())
	dest := newAddress()
	chain.failures[dest] = -1

	out := sub.Submit(context.Background(), TransferRequest{Destination: dest, Lamports: 1})

	assert.False(t, out.Succeeded)
	assert.Equal(t, TxIDFailed, out.TxID)
	assert.Equal(t, 6, out.Attempts)
	assert.Equal(t, 6, chain.broadcasts[dest])
	assert.ErrorIs(t, out.Err, ErrRetriesExhausted)
	assert.NotEmpty(t, out.Error)
}

func TestSubmit_ConfirmTimeoutsRetried(t *testing.T) {
	for k := 1; k <= 5; k++ {
		chain := newFakeChain()
		sub := newTestSubmitter(chain, newFakeSigner())
		dest := newAddress()
		chain.confirmFailures[dest] = k

		out := sub.Submit(context.Background(), TransferRequest{Destination: dest, Lamports: 1})

		require.True(t, out.Succeeded, "k=%d", k)
		assert.Equal(t, k+1, out.Attempts)
		assert.Equal(t, k+1, chain.broadcasts[dest])
		assert.Equal(t, k+1, chain.confirms[dest])
	}
}

func TestSubmit_ConfirmNeverSucceeds(t *testing.T) {
	chain := newFakeChain()
	sub := newTestSubmitter(chain, newFakeSigner())
	dest := newAddress()
	chain.confirmFailures[dest] = -1

	out := sub.Submit(context.Background(), TransferRequest{Destination: dest, Lamports: 1})

	assert.False(t, out.Succeeded)
	assert.Equal(t, TxIDFailed, out.TxID)
	assert.Equal(t, 6, out.Attempts)
	assert.Equal(t, 6, chain.broadcasts[dest])
	assert.ErrorIs(t, out.Err, ErrRetriesExhausted)
}

func TestSubmit_ResendsSameTransaction(t *testing.T) {
	chain := newFakeChain()
	signer := newFakeSigner()
	sub := newTestSubmitter(chain, signer)
	dest := newAddress()
	chain.failures[dest] = 2

	out := sub.Submit(context.Background(), TransferRequest{Destination: dest, Lamports: 1})

	require.True(t, out.Succeeded)
	// one blockhash and one signature for all three broadcasts
	assert.Equal(t, 1, chain.blockhashCalls)
	assert.Equal(t, 1, signer.calls)
}

func TestSubmit_SigningRejected(t *testing.T) {
	chain := newFakeChain()
	signer := newFakeSigner()
	signer.err = errors.New("user rejected the request")
	sub := newTestSubmitter(chain, signer)

	out := sub.Submit(context.Background(), TransferRequest{Destination: newAddress(), Lamports: 1})

	assert.False(t, out.Succeeded)
	assert.Equal(t, 0, out.Attempts)
	var signErr *SigningError
	require.ErrorAs(t, out.Err, &signErr)
	assert.Equal(t, 0, chain.totalBroadcasts())
}

func TestSubmit_InvalidDestination(t *testing.T) {
	chain := newFakeChain()
	signer := newFakeSigner()
	sub := newTestSubmitter(chain, signer)

	out := sub.Submit(context.Background(), TransferRequest{Destination: "not-an-address", Lamports: 1})

	assert.False(t, out.Succeeded)
	assert.True(t, IsValidation(out.Err))
	assert.Equal(t, 0, chain.blockhashCalls, "no network call for a malformed address")
	assert.Equal(t, 0, signer.calls)
	assert.Equal(t, 0, chain.totalBroadcasts())
}

func TestSubmit_InvalidDestinationWhileRPCDown(t *testing.T) {
	chain := newFakeChain()
	chain.blockhashFailures = -1
	sub := newTestSubmitter(chain, newFakeSigner())

	out := sub.Submit(context.Background(), TransferRequest{Destination: "not-an-address", Lamports: 1})

	assert.True(t, IsValidation(out.Err))
	assert.NotErrorIs(t, out.Err, ErrBlockhashUnavailable)
	assert.Equal(t, 0, chain.blockhashCalls)
}

func TestLatestBlockhash_RetriesThenSucceeds(t *testing.T) {
	chain := newFakeChain()
	chain.blockhashFailures = 3
	sub := newTestSubmitter(chain, newFakeSigner())

	hash, err := sub.LatestBlockhash(context.Background())
	require.NoError(t, err)
	assert.Equal(t, solana.Hash{4}, hash)
	assert.Equal(t, 4, chain.blockhashCalls)
}

func TestLatestBlockhash_StopsAtCap(t *testing.T) {
	chain := newFakeChain()
	chain.blockhashFailures = -1
	sub := newTestSubmitter(chain, newFakeSigner())

	_, err := sub.LatestBlockhash(context.Background())
	assert.ErrorIs(t, err, ErrBlockhashUnavailable)
	assert.Equal(t, 5, chain.blockhashCalls)
}

func TestLatestBlockhash_StopsOnCancel(t *testing.T) {
	chain := newFakeChain()
	chain.blockhashFailures = -1
	sub := newTestSubmitter(chain, newFakeSigner(),
		WithBlockhashPolicy(BlockhashPolicy{Delay: 5 * time.Millisecond, MaxAttempts: 0}))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := sub.LatestBlockhash(ctx)
	assert.ErrorIs(t, err, ErrBlockhashUnavailable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBuildTransfer(t *testing.T) {
	signer := newFakeSigner()
	dest := solana.NewWallet().PublicKey()
	memo := MemoText(time.UnixMilli(1700000000123))

	tx, err := BuildTransfer(TransferRequest{Destination: dest.String(), Lamports: 42}, signer.PublicKey(), solana.Hash{9}, memo)
	require.NoError(t, err)

	assert.Equal(t, "Sent by snedmaster at 1700000000123", memo)
	assert.Equal(t, solana.Hash{9}, tx.Message.RecentBlockhash)
	assert.True(t, tx.Message.AccountKeys[0].Equals(signer.PublicKey()), "payer is the fee payer")
	require.Len(t, tx.Message.Instructions, 2)
	assert.Equal(t, dest.String(), destinationOf(tx))
	assert.Equal(t, []byte(memo), []byte(tx.Message.Instructions[1].Data))

	require.NoError(t, signer.SignAll(context.Background(), []*solana.Transaction{tx}))
	requireAllSigned(t, tx)
}

func TestSubmitInstructions(t *testing.T) {
	chain := newFakeChain()
	signer := newFakeSigner()
	sub := newTestSubmitter(chain, signer)
	dest := newAddress()
	chain.failures[dest] = 1

	ixs := []solana.Instruction{
		system.NewTransferInstruction(7, signer.PublicKey(), solana.MustPublicKeyFromBase58(dest)).Build(),
		MemoInstruction(signer.PublicKey(), "burn"),
	}

	sig, attempts, err := sub.SubmitInstructions(context.Background(), ixs...)
	require.NoError(t, err)
	assert.False(t, sig.IsZero())
	assert.Equal(t, 2, attempts)
	assert.Equal(t, 1, signer.calls)
}
