package sned

import (
	"context"
	"errors"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	reports []*Report
	err     error
}

func (s *recordingSink) RecordReport(ctx context.Context, r *Report) error {
	s.reports = append(s.reports, r)
	return s.err
}

func TestRun_MiddleFailureKeepsOrder(t *testing.T) {
	chain := newFakeChain()
	signer := newFakeSigner()
	orch := NewOrchestrator(newTestSubmitter(chain, signer), testLogger())

	a, b, c := newAddress(), newAddress(), newAddress()
	chain.failures[b] = -1
	requests := []TransferRequest{
		{Destination: a, Lamports: 1},
		{Destination: b, Lamports: 2},
		{Destination: c, Lamports: 3},
	}

	report, err := orch.Run(context.Background(), requests)
	require.NoError(t, err)
	require.Len(t, report.Outcomes, 3)

	for i, out := range report.Outcomes {
		assert.Equal(t, requests[i], out.Request)
	}
	assert.True(t, report.Outcomes[0].Succeeded)
	assert.False(t, report.Outcomes[1].Succeeded)
	assert.Equal(t, TxIDFailed, report.Outcomes[1].TxID)
	assert.Equal(t, 6, report.Outcomes[1].Attempts)
	assert.True(t, report.Outcomes[2].Succeeded)

	// sequential: a once, b six times, then c
	assert.Equal(t, []string{a, b, b, b, b, b, b, c}, chain.order)
	assert.Equal(t, 1, signer.calls)
	assert.Equal(t, 2, report.Succeeded())
	assert.Equal(t, uint64(4), report.LamportsSent())
}

func TestRun_DuplicateAddressesEndToEnd(t *testing.T) {
	chain := newFakeChain()
	signer := newFakeSigner()
	orch := NewOrchestrator(newTestSubmitter(chain, signer), testLogger())

	a, b := newAddress(), newAddress()
	perAddress, err := ParseSOL("0.5")
	require.NoError(t, err)

	requests := Aggregate(ParseAddressList(a+","+a+","+b), perAddress)
	report, err := orch.Run(context.Background(), requests)
	require.NoError(t, err)

	require.Len(t, report.Outcomes, 2)
	assert.Equal(t, a, report.Outcomes[0].Request.Destination)
	assert.Equal(t, solana.LAMPORTS_PER_SOL, report.Outcomes[0].Request.Lamports)
	assert.Equal(t, b, report.Outcomes[1].Request.Destination)
	assert.Equal(t, solana.LAMPORTS_PER_SOL/2, report.Outcomes[1].Request.Lamports)
	assert.Equal(t, 1, chain.broadcasts[a])
	assert.Equal(t, 1, chain.broadcasts[b])

	entries := report.Entries()
	assert.Equal(t, "1", entries[0].Amount.String())
	assert.Equal(t, "0.5", entries[1].Amount.String())
}

func TestRun_SigningRejectedAbortsBatch(t *testing.T) {
	chain := newFakeChain()
	signer := newFakeSigner()
	signer.err = errors.New("wallet locked")
	sink := &recordingSink{}
	orch := NewOrchestrator(newTestSubmitter(chain, signer), testLogger(), sink)

	report, err := orch.Run(context.Background(), []TransferRequest{
		{Destination: newAddress(), Lamports: 1},
		{Destination: newAddress(), Lamports: 1},
	})

	assert.Nil(t, report)
	var signErr *SigningError
	require.ErrorAs(t, err, &signErr)
	assert.Equal(t, 1, signer.calls)
	assert.Equal(t, 2, signer.seen)
	assert.Equal(t, 0, chain.totalBroadcasts())
	assert.Empty(t, sink.reports)
}

func TestRun_InvalidDestinationIsolated(t *testing.T) {
	chain := newFakeChain()
	signer := newFakeSigner()
	orch := NewOrchestrator(newTestSubmitter(chain, signer), testLogger())

	good := newAddress()
	report, err := orch.Run(context.Background(), []TransferRequest{
		{Destination: "0OIl-not-base58", Lamports: 1},
		{Destination: good, Lamports: 1},
	})
	require.NoError(t, err)

	assert.False(t, report.Outcomes[0].Succeeded)
	assert.True(t, IsValidation(report.Outcomes[0].Err))
	assert.True(t, report.Outcomes[1].Succeeded)
	assert.Equal(t, 1, signer.seen, "invalid request is not signed")
	assert.Equal(t, []string{good}, chain.order)
	assert.Equal(t, 1, chain.blockhashCalls, "only the valid request fetches a blockhash")
}

func TestRun_InvalidDestinationWhileRPCDown(t *testing.T) {
	chain := newFakeChain()
	chain.blockhashFailures = -1
	orch := NewOrchestrator(newTestSubmitter(chain, newFakeSigner()), testLogger())

	report, err := orch.Run(context.Background(), []TransferRequest{
		{Destination: "not-an-address", Lamports: 1},
	})
	require.NoError(t, err)

	require.Len(t, report.Outcomes, 1)
	assert.True(t, IsValidation(report.Outcomes[0].Err))
	assert.Equal(t, 0, chain.blockhashCalls)
}

func TestRun_SameMemoForWholeBatch(t *testing.T) {
	chain := newFakeChain()
	orch := NewOrchestrator(newTestSubmitter(chain, newFakeSigner()), testLogger())

	report, err := orch.Run(context.Background(), []TransferRequest{{Destination: newAddress(), Lamports: 1}})
	require.NoError(t, err)
	assert.Equal(t, "Sent by snedmaster at 1700000000000", report.Memo)
	assert.Equal(t, "Airdrop-1700000000000.json", report.ReportFilename())
}

func TestRun_SinksReceiveReport(t *testing.T) {
	chain := newFakeChain()
	failing := &recordingSink{err: errors.New("db down")}
	ok := &recordingSink{}
	orch := NewOrchestrator(newTestSubmitter(chain, newFakeSigner()), testLogger(), failing, ok)

	report, err := orch.Run(context.Background(), []TransferRequest{{Destination: newAddress(), Lamports: 1}})
	require.NoError(t, err)
	require.Len(t, ok.reports, 1)
	assert.Same(t, report, ok.reports[0])
	assert.Len(t, failing.reports, 1)
}

func TestRun_CancelledBeforeBuild(t *testing.T) {
	chain := newFakeChain()
	chain.blockhashFailures = -1
	orch := NewOrchestrator(newTestSubmitter(chain, newFakeSigner()), testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := orch.Run(ctx, []TransferRequest{{Destination: newAddress(), Lamports: 1}})
	assert.Nil(t, report)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, chain.totalBroadcasts())
}

func TestRun_Empty(t *testing.T) {
	signer := newFakeSigner()
	orch := NewOrchestrator(newTestSubmitter(newFakeChain(), signer), testLogger())

	report, err := orch.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, report.Outcomes)
	assert.Equal(t, 0, signer.calls)
}

func TestRunWithID_KeepsID(t *testing.T) {
	sink := &recordingSink{}
	orch := NewOrchestrator(newTestSubmitter(newFakeChain(), newFakeSigner()), testLogger(), sink)

	id := uuid.New()
	report, err := orch.RunWithID(context.Background(), id, []TransferRequest{{Destination: newAddress(), Lamports: 1}})
	require.NoError(t, err)
	assert.Equal(t, id, report.ID)
	require.Len(t, sink.reports, 1)
	assert.Equal(t, id, sink.reports[0].ID)
}
