package solana

import (
	"encoding/binary"
	"fmt"
	"unicode/utf8"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// Well-known Solana program IDs
var (
	// SystemProgramID is the native SOL transfer program
	SystemProgramID = solana.SystemProgramID

	// TokenProgramID is the SPL Token program
	TokenProgramID = solana.MustPublicKeyFromBase58("TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA")

	// MemoProgramID is the SPL Memo program (v2), the one snedmaster writes to
	MemoProgramID = solana.MustPublicKeyFromBase58("MemoSq4gqABAXKb96qnH8TysNcWxMyWCqXgDLGmfcHr")

	// MemoProgramIDLegacy is the legacy memo program (v1)
	MemoProgramIDLegacy = solana.MustPublicKeyFromBase58("Memo1UhkJRfHyvLMcVucJwxXeuD728EqVDDwQDxFMNo")

	// TokenMetadataProgramID is the Metaplex Token Metadata program
	TokenMetadataProgramID = solana.MustPublicKeyFromBase58("metaqbxxUerdq28cj1RbAWkYQm3ybzjb6a8bt518x1s")

	// CandyMachineV1ProgramID is the Metaplex candy machine v1 program
	CandyMachineV1ProgramID = solana.MustPublicKeyFromBase58("cndyAnrLdpjq1Ssp1z8xxDsB8dxe7u4HL5Nxi2K5WXZ")
)

// System Program instruction types
const (
	SystemProgramTransferInstruction = uint32(2)
)

// parseTransactionResult reduces a getTransaction result to the transfer it
// carries. A transaction with several System transfers reports the last one.
func parseTransactionResult(sig solana.Signature, result *rpc.GetTransactionResult) (*Transaction, error) {
	txn := &Transaction{
		Signature: sig.String(),
		Slot:      result.Slot,
	}
	if result.BlockTime != nil {
		txn.BlockTime = result.BlockTime.Time()
	}
	if result.Meta != nil && result.Meta.Err != nil {
		txn.Err = fmt.Sprintf("transaction failed: %v", result.Meta.Err)
	}
	if result.Transaction == nil {
		return nil, fmt.Errorf("transaction %s has no body", sig)
	}

	tx, err := result.Transaction.GetTransaction()
	if err != nil {
		return nil, fmt.Errorf("failed to decode transaction: %w", err)
	}

	accountKeys := tx.Message.AccountKeys
	for _, instruction := range tx.Message.Instructions {
		if int(instruction.ProgramIDIndex) >= len(accountKeys) {
			continue
		}
		programID := accountKeys[instruction.ProgramIDIndex]

		switch {
		case programID.Equals(SystemProgramID):
			if amount, from, to, err := parseSystemTransfer(instruction, accountKeys); err == nil {
				txn.Lamports = amount
				txn.FromAddress = from.String()
				txn.ToAddress = to.String()
			}
		case programID.Equals(MemoProgramID) || programID.Equals(MemoProgramIDLegacy):
			if memo := parseMemo(instruction.Data); memo != "" {
				txn.Memo = memo
			}
		}
	}

	return txn, nil
}

// parseSystemTransfer extracts the amount and both parties from a System Program Transfer instruction.
func parseSystemTransfer(instruction solana.CompiledInstruction, accountKeys []solana.PublicKey) (uint64, solana.PublicKey, solana.PublicKey, error) {
	// System Transfer instruction format:
	// [0..4]  = instruction type (u32, should be 2 for Transfer)
	// [4..12] = lamports (u64)
	if len(instruction.Data) < 12 {
		return 0, solana.PublicKey{}, solana.PublicKey{}, fmt.Errorf("instruction data too short: %d bytes", len(instruction.Data))
	}

	instructionType := binary.LittleEndian.Uint32(instruction.Data[0:4])
	if instructionType != SystemProgramTransferInstruction {
		return 0, solana.PublicKey{}, solana.PublicKey{}, fmt.Errorf("not a transfer instruction: type %d", instructionType)
	}

	// System Transfer accounts: [from, to]
	if len(instruction.Accounts) < 2 {
		return 0, solana.PublicKey{}, solana.PublicKey{}, fmt.Errorf("transfer missing accounts")
	}
	from, to := int(instruction.Accounts[0]), int(instruction.Accounts[1])
	if from >= len(accountKeys) || to >= len(accountKeys) {
		return 0, solana.PublicKey{}, solana.PublicKey{}, fmt.Errorf("transfer account index out of bounds")
	}

	amount := binary.LittleEndian.Uint64(instruction.Data[4:12])
	return amount, accountKeys[from], accountKeys[to], nil
}

// parseMemo returns the memo text, or "" if the data is not valid UTF-8.
func parseMemo(data []byte) string {
	if !utf8.Valid(data) {
		return ""
	}
	return string(data)
}
