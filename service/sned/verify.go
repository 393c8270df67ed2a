package sned

import (
	"context"
	"fmt"
	"strings"

	solanasvc "github.com/brojonat/pentacle/service/solana"
	"github.com/gagliardetto/solana-go"
)

// TransferFetcher reads a submitted transfer back from chain.
type TransferFetcher interface {
	GetTransfer(ctx context.Context, sig solana.Signature) (*solanasvc.Transaction, error)
}

// Verification is the result of checking one report entry against chain.
type Verification struct {
	Entry   ReportEntry `json:"entry"`
	OK      bool        `json:"ok"`
	Problem string      `json:"problem,omitempty"`
}

// VerifyReport checks that every submitted entry landed with the recorded
// amount, destination and a snedmaster memo. Entries that were never
// submitted are reported as such without an RPC call.
func VerifyReport(ctx context.Context, fetcher TransferFetcher, entries []ReportEntry) ([]Verification, error) {
	results := make([]Verification, 0, len(entries))
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		results = append(results, verifyEntry(ctx, fetcher, e))
	}
	return results, nil
}

func verifyEntry(ctx context.Context, fetcher TransferFetcher, e ReportEntry) Verification {
	v := Verification{Entry: e}
	if e.TxID == TxIDFailed {
		v.Problem = "not submitted"
		return v
	}

	sig, err := solana.SignatureFromBase58(e.TxID)
	if err != nil {
		v.Problem = fmt.Sprintf("bad transaction id: %v", err)
		return v
	}
	want, err := ParseSOL(e.Amount.String())
	if err != nil {
		v.Problem = err.Error()
		return v
	}

	got, err := fetcher.GetTransfer(ctx, sig)
	switch {
	case err != nil:
		v.Problem = err.Error()
	case got.Err != "":
		v.Problem = got.Err
	case got.ToAddress != e.Destination:
		v.Problem = fmt.Sprintf("destination %s, want %s", got.ToAddress, e.Destination)
	case got.Lamports != want:
		v.Problem = fmt.Sprintf("amount %s SOL, want %s SOL", LamportsToSOL(got.Lamports), e.Amount)
	case !strings.HasPrefix(got.Memo, "Sent by snedmaster at "):
		v.Problem = fmt.Sprintf("unexpected memo %q", got.Memo)
	default:
		v.OK = true
	}
	return v
}
