// Package storage persists the wallet's ecash, keysets
// and quote bookkeeping.
package storage

import (
	"github.com/walnutd/walnut/cashu"
	"github.com/walnutd/walnut/cashu/nuts/nut04"
	"github.com/walnutd/walnut/crypto"
)

// KeysetsMap maps mint urls to the keysets known for that mint,
// keyed by keyset id.
type KeysetsMap map[string]map[string]crypto.WalletKeyset

type MintQuote struct {
	QuoteId        string
	Mint           string
	Amount         uint64
	PaymentRequest string
	State          nut04.State
	Expiry         uint64
}

type WalletDB interface {
	SaveMnemonicSeed(mnemonic string, seed []byte) error
	GetSeed() []byte
	GetMnemonic() string

	SaveProofs(cashu.Proofs) error
	GetProofs() cashu.Proofs
	GetProofsByKeysetId(id string) cashu.Proofs
	DeleteProof(secret string) error

	SaveKeyset(*crypto.WalletKeyset) error
	GetKeysets() KeysetsMap
	GetKeyset(id string) *crypto.WalletKeyset
	IncrementKeysetCounter(id string, num uint32) error
	GetKeysetCounter(id string) uint32

	SaveMintQuote(MintQuote) error
	GetMintQuotes() []MintQuote
	GetMintQuoteById(id string) *MintQuote

	Close() error
}
