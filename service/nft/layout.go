package nft

import (
	"encoding/binary"
	"fmt"
	"strings"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// SPL token account layout: mint(32) owner(32) amount(8) ...
const (
	tokenAccountSize   = 165
	tokenOwnerOffset   = 32
	tokenAmountOffset  = 64
	tokenAccountMinLen = 72
)

// Metaplex metadata layout: key(1) update_authority(32) mint(32) followed by
// name, symbol and uri padded to 32, 10 and 200 bytes. With the padding every
// account puts the first creator address at the same offset.
const (
	metadataMintOffset         = 33
	metadataFirstCreatorOffset = 1 + 32 + 32 + (4 + 32) + (4 + 10) + (4 + 200) + 2 + 1 + 4
)

type tokenAccount struct {
	Mint   solana.PublicKey
	Owner  solana.PublicKey
	Amount uint64
}

func decodeTokenAccount(data []byte) (tokenAccount, error) {
	if len(data) < tokenAccountMinLen {
		return tokenAccount{}, fmt.Errorf("token account data too short: %d bytes", len(data))
	}
	return tokenAccount{
		Mint:   solana.PublicKeyFromBytes(data[0:32]),
		Owner:  solana.PublicKeyFromBytes(data[tokenOwnerOffset : tokenOwnerOffset+32]),
		Amount: binary.LittleEndian.Uint64(data[tokenAmountOffset : tokenAmountOffset+8]),
	}, nil
}

// Creator is a royalty recipient listed in the metadata account.
type Creator struct {
	Address  solana.PublicKey `json:"address"`
	Verified bool             `json:"verified"`
	Share    uint8            `json:"share"`
}

type onChainData struct {
	Name                 string
	Symbol               string
	URI                  string
	SellerFeeBasisPoints uint16
	Creators             *[]Creator `bin:"optional"`
}

type onChainMetadata struct {
	Key             uint8
	UpdateAuthority solana.PublicKey
	Mint            solana.PublicKey
	Data            onChainData
}

func decodeMetadata(data []byte) (*onChainMetadata, error) {
	var md onChainMetadata
	if err := bin.NewBorshDecoder(data).Decode(&md); err != nil {
		return nil, fmt.Errorf("failed to decode metadata account: %w", err)
	}
	md.Data.Name = trimPadding(md.Data.Name)
	md.Data.Symbol = trimPadding(md.Data.Symbol)
	md.Data.URI = trimPadding(md.Data.URI)
	return &md, nil
}

func trimPadding(s string) string {
	return strings.TrimSpace(strings.TrimRight(s, "\x00"))
}

// MetadataAddress derives the Metaplex metadata account of mint.
func MetadataAddress(mint solana.PublicKey) (solana.PublicKey, error) {
	addr, _, err := solana.FindProgramAddress(
		[][]byte{[]byte("metadata"), MetadataProgramID.Bytes(), mint.Bytes()},
		MetadataProgramID,
	)
	return addr, err
}
