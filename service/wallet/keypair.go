// Package wallet provides the signing capability backed by a local keypair.
package wallet

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go"
)

// Keypair signs transactions with a single private key. It is safe for
// concurrent use.
type Keypair struct {
	key solana.PrivateKey
}

// LoadKeypair reads a solana-keygen JSON file (an array of 64 bytes).
func LoadKeypair(path string) (*Keypair, error) {
	key, err := solana.PrivateKeyFromSolanaKeygenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load keypair from %s: %w", path, err)
	}
	return newKeypair(key)
}

// ParseKeypair accepts a base58 encoded secret key as exported by browser wallets.
func ParseKeypair(secret string) (*Keypair, error) {
	key, err := solana.PrivateKeyFromBase58(strings.TrimSpace(secret))
	if err != nil {
		return nil, fmt.Errorf("failed to parse base58 secret key: %w", err)
	}
	return newKeypair(key)
}

// NewRandomKeypair generates a throwaway keypair.
func NewRandomKeypair() *Keypair {
	return &Keypair{key: solana.NewWallet().PrivateKey}
}

func newKeypair(key solana.PrivateKey) (*Keypair, error) {
	if len(key) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid private key: got %d bytes, want %d", len(key), ed25519.PrivateKeySize)
	}
	return &Keypair{key: key}, nil
}

func (k *Keypair) PublicKey() solana.PublicKey {
	return k.key.PublicKey()
}

// SignAll signs every transaction as the keypair. It fails without signing
// anything further if a transaction needs a signature from another account.
func (k *Keypair) SignAll(ctx context.Context, txs []*solana.Transaction) error {
	pub := k.key.PublicKey()
	for i, tx := range txs {
		if err := ctx.Err(); err != nil {
			return err
		}
		_, err := tx.Sign(func(signer solana.PublicKey) *solana.PrivateKey {
			if signer.Equals(pub) {
				return &k.key
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("transaction %d: %w", i, err)
		}
	}
	return nil
}
