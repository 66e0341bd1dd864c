// Package inmem is an in-memory implementation of the mint storage
// contract. It keeps everything in maps behind a single mutex and is
// meant for tests and throwaway mints, nothing survives a restart.
package inmem

import (
	"database/sql"
	"encoding/hex"
	"errors"
	"sync"

	"github.com/walnutd/walnut/cashu"
	"github.com/walnutd/walnut/cashu/nuts/nut04"
	"github.com/walnutd/walnut/cashu/nuts/nut05"
	"github.com/walnutd/walnut/crypto"
	"github.com/walnutd/walnut/mint/storage"
)

type InMemDB struct {
	mu sync.RWMutex

	seed            []byte
	keysets         map[string]storage.DBKeyset
	proofs          map[string]storage.DBProof
	pendingProofs   map[string]storage.DBProof
	mintQuotes      map[string]storage.MintQuote
	meltQuotes      map[string]storage.MeltQuote
	blindSignatures map[string]cashu.BlindedSignature
}

func NewInMemDB() *InMemDB {
	return &InMemDB{
		keysets:         make(map[string]storage.DBKeyset),
		proofs:          make(map[string]storage.DBProof),
		pendingProofs:   make(map[string]storage.DBProof),
		mintQuotes:      make(map[string]storage.MintQuote),
		meltQuotes:      make(map[string]storage.MeltQuote),
		blindSignatures: make(map[string]cashu.BlindedSignature),
	}
}

func (db *InMemDB) Close() error { return nil }

func (db *InMemDB) GetBalance() (uint64, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	var issued, redeemed uint64
	for _, sig := range db.blindSignatures {
		issued += sig.Amount
	}
	for _, proof := range db.proofs {
		redeemed += proof.Amount
	}

	if redeemed > issued {
		return 0, errors.New("redeemed ecash exceeds issued ecash")
	}
	return issued - redeemed, nil
}

func (db *InMemDB) SaveSeed(seed []byte) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.seed != nil {
		return errors.New("seed already saved")
	}
	db.seed = seed
	return nil
}

func (db *InMemDB) GetSeed() ([]byte, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if db.seed == nil {
		return nil, sql.ErrNoRows
	}
	return db.seed, nil
}

func (db *InMemDB) SaveKeyset(keyset storage.DBKeyset) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	db.keysets[keyset.Id] = keyset
	return nil
}

func (db *InMemDB) GetKeysets() ([]storage.DBKeyset, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	keysets := make([]storage.DBKeyset, 0, len(db.keysets))
	for _, keyset := range db.keysets {
		keysets = append(keysets, keyset)
	}
	return keysets, nil
}

func (db *InMemDB) UpdateKeysetActive(keysetId string, active bool) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	keyset, ok := db.keysets[keysetId]
	if !ok {
		return errors.New("keyset was not updated")
	}
	keyset.Active = active
	db.keysets[keysetId] = keyset
	return nil
}

func toDBProofs(proofs cashu.Proofs, quoteId string) ([]storage.DBProof, error) {
	dbProofs := make([]storage.DBProof, len(proofs))
	for i, proof := range proofs {
		Y, err := crypto.HashToCurve([]byte(proof.Secret))
		if err != nil {
			return nil, err
		}

		dbProofs[i] = storage.DBProof{
			Y:           hex.EncodeToString(Y.SerializeCompressed()),
			Amount:      proof.Amount,
			Id:          proof.Id,
			Secret:      proof.Secret,
			C:           proof.C,
			MeltQuoteId: quoteId,
		}
	}
	return dbProofs, nil
}

// SaveProofs inserts all proofs or none. A Y already present in the
// spent set fails the whole batch.
func (db *InMemDB) SaveProofs(proofs cashu.Proofs) error {
	dbProofs, err := toDBProofs(proofs, "")
	if err != nil {
		return err
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	for _, proof := range dbProofs {
		if _, ok := db.proofs[proof.Y]; ok {
			return errors.New("proof already saved")
		}
	}
	for _, proof := range dbProofs {
		db.proofs[proof.Y] = proof
	}
	return nil
}

func (db *InMemDB) GetProofsUsed(Ys []string) ([]storage.DBProof, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	proofs := []storage.DBProof{}
	for _, y := range Ys {
		if proof, ok := db.proofs[y]; ok {
			proofs = append(proofs, proof)
		}
	}
	return proofs, nil
}

func (db *InMemDB) AddPendingProofs(proofs cashu.Proofs, quoteId string) error {
	dbProofs, err := toDBProofs(proofs, quoteId)
	if err != nil {
		return err
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	for _, proof := range dbProofs {
		if _, ok := db.pendingProofs[proof.Y]; ok {
			return errors.New("proof already pending")
		}
	}
	for _, proof := range dbProofs {
		db.pendingProofs[proof.Y] = proof
	}
	return nil
}

func (db *InMemDB) GetPendingProofs(Ys []string) ([]storage.DBProof, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	proofs := []storage.DBProof{}
	for _, y := range Ys {
		if proof, ok := db.pendingProofs[y]; ok {
			proofs = append(proofs, proof)
		}
	}
	return proofs, nil
}

func (db *InMemDB) GetPendingProofsByQuote(quoteId string) ([]storage.DBProof, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	proofs := []storage.DBProof{}
	for _, proof := range db.pendingProofs {
		if proof.MeltQuoteId == quoteId {
			proofs = append(proofs, proof)
		}
	}
	return proofs, nil
}

func (db *InMemDB) RemovePendingProofs(Ys []string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	for _, y := range Ys {
		delete(db.pendingProofs, y)
	}
	return nil
}

func (db *InMemDB) SaveMintQuote(quote storage.MintQuote) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, ok := db.mintQuotes[quote.Id]; ok {
		return errors.New("mint quote already saved")
	}
	db.mintQuotes[quote.Id] = quote
	return nil
}

func (db *InMemDB) GetMintQuote(quoteId string) (storage.MintQuote, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	quote, ok := db.mintQuotes[quoteId]
	if !ok {
		return storage.MintQuote{}, sql.ErrNoRows
	}
	return quote, nil
}

func (db *InMemDB) GetMintQuoteByPaymentHash(paymentHash string) (storage.MintQuote, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	for _, quote := range db.mintQuotes {
		if quote.PaymentHash == paymentHash {
			return quote, nil
		}
	}
	return storage.MintQuote{}, sql.ErrNoRows
}

func (db *InMemDB) UpdateMintQuoteState(quoteId string, state nut04.State) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	quote, ok := db.mintQuotes[quoteId]
	if !ok {
		return errors.New("mint quote was not updated")
	}
	quote.State = state
	db.mintQuotes[quoteId] = quote
	return nil
}

func (db *InMemDB) SaveMeltQuote(quote storage.MeltQuote) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, ok := db.meltQuotes[quote.Id]; ok {
		return errors.New("melt quote already saved")
	}
	db.meltQuotes[quote.Id] = quote
	return nil
}

func (db *InMemDB) GetMeltQuote(quoteId string) (storage.MeltQuote, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	quote, ok := db.meltQuotes[quoteId]
	if !ok {
		return storage.MeltQuote{}, sql.ErrNoRows
	}
	return quote, nil
}

func (db *InMemDB) GetMeltQuoteByPaymentRequest(invoiceRequest string) (*storage.MeltQuote, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	for _, quote := range db.meltQuotes {
		if quote.InvoiceRequest == invoiceRequest {
			return &quote, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (db *InMemDB) UpdateMeltQuote(quoteId, preimage string, state nut05.State) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	quote, ok := db.meltQuotes[quoteId]
	if !ok {
		return errors.New("melt quote was not updated")
	}
	quote.State = state
	quote.Preimage = preimage
	db.meltQuotes[quoteId] = quote
	return nil
}

func (db *InMemDB) SaveBlindSignatures(B_s []string, blindSignatures cashu.BlindedSignatures) error {
	if len(B_s) != len(blindSignatures) {
		return errors.New("blinded message and blind signature counts do not match")
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	for _, B_ := range B_s {
		if _, ok := db.blindSignatures[B_]; ok {
			return errors.New("blind signature already saved")
		}
	}
	for i, B_ := range B_s {
		db.blindSignatures[B_] = blindSignatures[i]
	}
	return nil
}

func (db *InMemDB) GetBlindSignature(B_ string) (cashu.BlindedSignature, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	signature, ok := db.blindSignatures[B_]
	if !ok {
		return cashu.BlindedSignature{}, sql.ErrNoRows
	}
	return signature, nil
}

func (db *InMemDB) GetBlindSignatures(B_s []string) (cashu.BlindedSignatures, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	signatures := cashu.BlindedSignatures{}
	for _, B_ := range B_s {
		if signature, ok := db.blindSignatures[B_]; ok {
			signatures = append(signatures, signature)
		}
	}
	return signatures, nil
}
