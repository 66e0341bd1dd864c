// Package mint implements the ledger side of the ecash protocol:
// issuing blind signatures against paid quotes, swapping proofs and
// paying bolt11 requests in exchange for proofs.
package mint

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	decodepay "github.com/nbd-wtf/ln-decodepay"
	"github.com/tyler-smith/go-bip39"
	"github.com/walnutd/walnut/cashu"
	"github.com/walnutd/walnut/cashu/nuts/nut04"
	"github.com/walnutd/walnut/cashu/nuts/nut05"
	"github.com/walnutd/walnut/cashu/nuts/nut06"
	"github.com/walnutd/walnut/cashu/nuts/nut07"
	"github.com/walnutd/walnut/cashu/nuts/nut10"
	"github.com/walnutd/walnut/cashu/nuts/nut11"
	"github.com/walnutd/walnut/cashu/nuts/nut14"
	"github.com/walnutd/walnut/cashu/nuts/nut20"
	"github.com/walnutd/walnut/crypto"
	"github.com/walnutd/walnut/mint/lightning"
	"github.com/walnutd/walnut/mint/storage"
	"github.com/walnutd/walnut/mint/storage/sqlite"
)

const (
	QuoteExpiryMins    = 10
	DefaultMeltTimeout = time.Second * 65
)

type Mint struct {
	// mu serializes every verify-then-spend section so that two
	// concurrent transactions cannot both consume the same proof
	mu sync.Mutex

	db storage.MintDB

	masterKey    *hdkeychain.ExtendedKey
	activeKeyset *crypto.MintKeyset
	// map of all keysets (both active and inactive)
	keysets map[string]crypto.MintKeyset

	lightningClient lightning.Client
	mintInfo        MintInfo
	limits          MintLimits
	meltTimeout     time.Duration
	logger          *slog.Logger
}

func LoadMint(config Config) (*Mint, error) {
	if config.LightningClient == nil {
		return nil, errors.New("invalid lightning client")
	}
	if err := config.LightningClient.ConnectionStatus(); err != nil {
		return nil, fmt.Errorf("error connecting to lightning backend: %v", err)
	}

	path := config.MintPath
	if path == "" {
		path = mintPath()
	}
	if err := os.MkdirAll(path, 0700); err != nil {
		return nil, err
	}

	db, err := sqlite.InitSQLite(path)
	if err != nil {
		return nil, fmt.Errorf("error setting up sqlite: %v", err)
	}

	return loadMint(config, db)
}

// LoadMintWithDB is like LoadMint but on a caller provided database.
func LoadMintWithDB(config Config, db storage.MintDB) (*Mint, error) {
	if config.LightningClient == nil {
		return nil, errors.New("invalid lightning client")
	}
	return loadMint(config, db)
}

func loadMint(config Config, db storage.MintDB) (*Mint, error) {
	logger := getLogger(config.LogLevel)

	seed, err := db.GetSeed()
	if errors.Is(err, sql.ErrNoRows) {
		entropy, err := bip39.NewEntropy(128)
		if err != nil {
			return nil, err
		}
		mnemonic, err := bip39.NewMnemonic(entropy)
		if err != nil {
			return nil, err
		}
		seed = bip39.NewSeed(mnemonic, "")
		if err := db.SaveSeed(seed); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}

	masterKey, err := crypto.MasterKeyFromSeed(seed)
	if err != nil {
		return nil, err
	}

	activeKeyset, err := crypto.GenerateKeyset(masterKey, config.DerivationPathIdx, config.InputFeePpk)
	if err != nil {
		return nil, err
	}

	mint := &Mint{
		db:              db,
		masterKey:       masterKey,
		activeKeyset:    activeKeyset,
		keysets:         make(map[string]crypto.MintKeyset),
		lightningClient: config.LightningClient,
		mintInfo:        config.MintInfo,
		limits:          config.Limits,
		meltTimeout:     DefaultMeltTimeout,
		logger:          logger,
	}
	if config.MeltTimeout != nil {
		mint.meltTimeout = *config.MeltTimeout
	}

	dbKeysets, err := db.GetKeysets()
	if err != nil {
		return nil, fmt.Errorf("error reading keysets from db: %v", err)
	}

	activeInDb := false
	for _, dbKeyset := range dbKeysets {
		keyset, err := crypto.GenerateKeyset(masterKey, dbKeyset.DerivationPathIdx, dbKeyset.InputFeePpk)
		if err != nil {
			return nil, err
		}

		if keyset.Id == activeKeyset.Id {
			activeInDb = true
			if !dbKeyset.Active {
				if err := db.UpdateKeysetActive(keyset.Id, true); err != nil {
					return nil, err
				}
			}
			continue
		}

		// any other keyset gets deactivated
		if dbKeyset.Active {
			if err := db.UpdateKeysetActive(keyset.Id, false); err != nil {
				return nil, err
			}
			logger.Info("deactivated keyset", slog.String("keyset_id", keyset.Id))
		}
		keyset.Active = false
		mint.keysets[keyset.Id] = *keyset
	}

	if !activeInDb {
		dbKeyset := storage.DBKeyset{
			Id:                activeKeyset.Id,
			Unit:              activeKeyset.Unit,
			Active:            true,
			Seed:              hex.EncodeToString(seed),
			DerivationPathIdx: activeKeyset.DerivationPathIdx,
			InputFeePpk:       activeKeyset.InputFeePpk,
		}
		if err := db.SaveKeyset(dbKeyset); err != nil {
			return nil, fmt.Errorf("error saving active keyset: %v", err)
		}
	}
	mint.keysets[activeKeyset.Id] = *activeKeyset

	logger.Info("mint loaded", slog.String("active_keyset", activeKeyset.Id))
	return mint, nil
}

func getLogger(level LogLevel) *slog.Logger {
	if level == Disable {
		return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.Level(12)}))
	}

	logLevel := slog.LevelInfo
	if level == Debug {
		logLevel = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
}

// mintPath returns the mint's path at $HOME/.walnut/mint
func mintPath() string {
	homedir, err := os.UserHomeDir()
	if err != nil {
		panic(err)
	}
	return filepath.Join(homedir, ".walnut", "mint")
}

func (m *Mint) Shutdown() error {
	return m.db.Close()
}

// GetActiveKeyset returns the keyset proofs are currently
// being signed with.
func (m *Mint) GetActiveKeyset() crypto.MintKeyset {
	return *m.activeKeyset
}

// GetKeysets returns all keysets, active and inactive.
func (m *Mint) GetKeysets() map[string]crypto.MintKeyset {
	keysets := make(map[string]crypto.MintKeyset, len(m.keysets))
	for id, keyset := range m.keysets {
		keysets[id] = keyset
	}
	return keysets
}

// RotateKeyset derives a new active keyset at the next derivation
// index. Proofs from the previous keyset remain redeemable.
func (m *Mint) RotateKeyset(inputFeePpk uint) (*crypto.MintKeyset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	newKeyset, err := crypto.GenerateKeyset(m.masterKey, m.activeKeyset.DerivationPathIdx+1, inputFeePpk)
	if err != nil {
		return nil, err
	}

	seed, err := m.db.GetSeed()
	if err != nil {
		return nil, err
	}

	dbKeyset := storage.DBKeyset{
		Id:                newKeyset.Id,
		Unit:              newKeyset.Unit,
		Active:            true,
		Seed:              hex.EncodeToString(seed),
		DerivationPathIdx: newKeyset.DerivationPathIdx,
		InputFeePpk:       newKeyset.InputFeePpk,
	}
	if err := m.db.SaveKeyset(dbKeyset); err != nil {
		return nil, err
	}
	if err := m.db.UpdateKeysetActive(m.activeKeyset.Id, false); err != nil {
		return nil, err
	}

	previous := *m.activeKeyset
	previous.Active = false
	m.keysets[previous.Id] = previous

	m.activeKeyset = newKeyset
	m.keysets[newKeyset.Id] = *newKeyset

	m.logger.Info("rotated keyset",
		slog.String("previous_keyset", previous.Id),
		slog.String("new_keyset", newKeyset.Id),
	)
	return newKeyset, nil
}

// RequestMintQuote will process a request to mint tokens
// and returns a mint quote or an error.
func (m *Mint) RequestMintQuote(mintQuoteRequest nut04.PostMintQuoteBolt11Request) (storage.MintQuote, error) {
	if mintQuoteRequest.Unit != cashu.Sat.String() {
		return storage.MintQuote{}, cashu.UnitNotSupportedErr
	}

	amount := mintQuoteRequest.Amount
	if m.limits.MintingSettings.MaxAmount > 0 && amount > m.limits.MintingSettings.MaxAmount {
		return storage.MintQuote{}, cashu.MintAmountExceededErr
	}
	if amount < m.limits.MintingSettings.MinAmount {
		return storage.MintQuote{}, cashu.BuildCashuError("amount below minimum for minting", cashu.AmountLimitExceeded)
	}
	if m.limits.MaxBalance > 0 {
		balance, err := m.db.GetBalance()
		if err != nil {
			return storage.MintQuote{}, cashu.StandardErr
		}
		if overflowAddUint64(balance, amount) || balance+amount > m.limits.MaxBalance {
			return storage.MintQuote{}, cashu.MintingDisabled
		}
	}

	// quote can optionally be locked to a public key
	var pubkey *secp256k1.PublicKey
	if mintQuoteRequest.Pubkey != "" {
		pubkeyBytes, err := hex.DecodeString(mintQuoteRequest.Pubkey)
		if err != nil {
			return storage.MintQuote{}, cashu.BuildCashuError("invalid pubkey in mint quote request", cashu.StandardErrCode)
		}
		pubkey, err = secp256k1.ParsePubKey(pubkeyBytes)
		if err != nil {
			return storage.MintQuote{}, cashu.BuildCashuError("invalid pubkey in mint quote request", cashu.StandardErrCode)
		}
	}

	invoice, err := m.lightningClient.CreateInvoice(amount)
	if err != nil {
		msg := fmt.Sprintf("error creating invoice: %v", err)
		return storage.MintQuote{}, cashu.BuildCashuError(msg, cashu.LightningBackendErrCode)
	}

	quoteId, err := cashu.GenerateRandomQuoteId()
	if err != nil {
		return storage.MintQuote{}, cashu.StandardErr
	}

	mintQuote := storage.MintQuote{
		Id:             quoteId,
		Amount:         amount,
		PaymentRequest: invoice.PaymentRequest,
		PaymentHash:    invoice.PaymentHash,
		State:          nut04.Unpaid,
		Expiry:         uint64(time.Now().Add(time.Minute * QuoteExpiryMins).Unix()),
		Pubkey:         pubkey,
	}
	if err := m.db.SaveMintQuote(mintQuote); err != nil {
		msg := fmt.Sprintf("error saving mint quote: %v", err)
		return storage.MintQuote{}, cashu.BuildCashuError(msg, cashu.DBErrCode)
	}

	m.logger.Info("created mint quote",
		slog.String("quote_id", quoteId),
		slog.Uint64("amount", amount),
	)
	return mintQuote, nil
}

// GetMintQuoteState returns the state of a mint quote.
// Used to check whether a mint quote has been paid.
func (m *Mint) GetMintQuoteState(quoteId string) (storage.MintQuote, error) {
	mintQuote, err := m.db.GetMintQuote(quoteId)
	if err != nil {
		return storage.MintQuote{}, cashu.QuoteNotExistErr
	}

	// check with the payment backend if the invoice
	// settled since the last lookup
	if mintQuote.State == nut04.Unpaid {
		invoice, err := m.lightningClient.InvoiceStatus(mintQuote.PaymentHash)
		if err != nil {
			msg := fmt.Sprintf("error getting invoice status: %v", err)
			return storage.MintQuote{}, cashu.BuildCashuError(msg, cashu.LightningBackendErrCode)
		}
		if invoice.Settled {
			mintQuote.State = nut04.Paid
			if err := m.db.UpdateMintQuoteState(mintQuote.Id, nut04.Paid); err != nil {
				return storage.MintQuote{}, cashu.StandardErr
			}
		}
	}

	return mintQuote, nil
}

// MintTokens verifies whether the mint quote has been paid and if so
// signs the outputs. A quote can only be issued against once.
func (m *Mint) MintTokens(mintTokensRequest nut04.PostMintBolt11Request) (cashu.BlindedSignatures, error) {
	mintQuote, err := m.GetMintQuoteState(mintTokensRequest.Quote)
	if err != nil {
		return nil, err
	}

	switch mintQuote.State {
	case nut04.Issued:
		return nil, cashu.MintQuoteAlreadyIssued
	case nut04.Unpaid:
		if quoteExpired(mintQuote.Expiry) {
			return nil, cashu.QuoteExpiredErr
		}
		return nil, cashu.MintQuoteRequestNotPaid
	}

	// a quote locked to a pubkey needs a valid signature
	// over the quote id and the outputs
	if mintQuote.Pubkey != nil {
		sigBytes, err := hex.DecodeString(mintTokensRequest.Signature)
		if err != nil {
			return nil, cashu.MintQuoteInvalidSigErr
		}
		signature, err := schnorr.ParseSignature(sigBytes)
		if err != nil {
			return nil, cashu.MintQuoteInvalidSigErr
		}
		if !nut20.VerifyMintQuoteSignature(signature, mintTokensRequest.Quote, mintTokensRequest.Outputs, mintQuote.Pubkey) {
			return nil, cashu.MintQuoteInvalidSigErr
		}
	}

	blindedMessages := mintTokensRequest.Outputs
	if err := m.verifyOutputs(blindedMessages); err != nil {
		return nil, err
	}

	if blindedMessages.Amount() != mintQuote.Amount {
		return nil, cashu.QuoteAmountMismatchErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// re-read state under the lock so concurrent requests
	// for the same quote cannot both issue
	quote, err := m.db.GetMintQuote(mintQuote.Id)
	if err != nil {
		return nil, cashu.QuoteNotExistErr
	}
	if quote.State == nut04.Issued {
		return nil, cashu.MintQuoteAlreadyIssued
	}

	blindedSignatures, err := m.signBlindedMessages(blindedMessages)
	if err != nil {
		return nil, err
	}

	B_s := make([]string, len(blindedMessages))
	for i, msg := range blindedMessages {
		B_s[i] = msg.B_
	}
	if err := m.db.SaveBlindSignatures(B_s, blindedSignatures); err != nil {
		msg := fmt.Sprintf("error saving blind signatures: %v", err)
		return nil, cashu.BuildCashuError(msg, cashu.DBErrCode)
	}

	if err := m.db.UpdateMintQuoteState(mintQuote.Id, nut04.Issued); err != nil {
		return nil, cashu.StandardErr
	}

	m.logger.Info("issued ecash for mint quote",
		slog.String("quote_id", mintQuote.Id),
		slog.Uint64("amount", mintQuote.Amount),
	)
	return blindedSignatures, nil
}

// Swap takes a set of valid proofs, invalidates them and signs the
// requested outputs. The amounts must satisfy
// sum(inputs) - fee >= sum(outputs).
func (m *Mint) Swap(proofs cashu.Proofs, blindedMessages cashu.BlindedMessages) (cashu.BlindedSignatures, error) {
	if len(proofs) == 0 {
		return nil, cashu.NoProofsProvided
	}
	if len(blindedMessages) == 0 {
		return nil, cashu.EmptyBodyErr
	}

	fees := m.TransactionFees(proofs)
	proofsAmount := proofs.Amount()
	outputsAmount := blindedMessages.Amount()
	if underflowSubUint64(proofsAmount, fees) || proofsAmount-fees < outputsAmount {
		return nil, cashu.InsufficientProofsAmount
	}

	if err := m.verifyProofs(proofs); err != nil {
		return nil, err
	}

	// SIG_ALL flagged proofs commit to the outputs as well
	if nut11.ProofsSigAll(proofs) {
		if err := verifySigAll(proofs, blindedMessages); err != nil {
			return nil, err
		}
	}

	if err := m.verifyOutputs(blindedMessages); err != nil {
		return nil, err
	}

	Ys, err := proofs.Ys()
	if err != nil {
		return nil, cashu.InvalidProofErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkProofsSpendable(Ys); err != nil {
		return nil, err
	}

	blindedSignatures, err := m.signBlindedMessages(blindedMessages)
	if err != nil {
		return nil, err
	}

	// invalidate proofs and save signatures. SaveProofs is atomic
	// so a race lost here surfaces as a db error
	if err := m.db.SaveProofs(proofs); err != nil {
		return nil, cashu.ProofAlreadyUsedErr
	}

	B_s := make([]string, len(blindedMessages))
	for i, msg := range blindedMessages {
		B_s[i] = msg.B_
	}
	if err := m.db.SaveBlindSignatures(B_s, blindedSignatures); err != nil {
		msg := fmt.Sprintf("error saving blind signatures: %v", err)
		return nil, cashu.BuildCashuError(msg, cashu.DBErrCode)
	}

	m.logger.Info("swap processed",
		slog.Uint64("inputs_amount", proofsAmount),
		slog.Uint64("outputs_amount", outputsAmount),
	)
	return blindedSignatures, nil
}

// RequestMeltQuote will process a request to melt tokens and return a
// quote with the fee reserve required on top of the invoice amount.
func (m *Mint) RequestMeltQuote(meltQuoteRequest nut05.PostMeltQuoteBolt11Request) (storage.MeltQuote, error) {
	if meltQuoteRequest.Unit != cashu.Sat.String() {
		return storage.MeltQuote{}, cashu.UnitNotSupportedErr
	}

	request := meltQuoteRequest.Request
	bolt11, err := decodepay.Decodepay(request)
	if err != nil {
		msg := fmt.Sprintf("invalid invoice: %v", err)
		return storage.MeltQuote{}, cashu.BuildCashuError(msg, cashu.MeltQuoteErrCode)
	}
	if bolt11.MSatoshi == 0 {
		return storage.MeltQuote{}, cashu.BuildCashuError("invoice has no amount", cashu.MeltQuoteErrCode)
	}
	if bolt11.MSatoshi < 1000 {
		return storage.MeltQuote{}, cashu.BuildCashuError("invoice amount is below 1 sat", cashu.MeltQuoteErrCode)
	}
	amount := uint64(bolt11.MSatoshi) / 1000

	if m.limits.MeltingSettings.MaxAmount > 0 && amount > m.limits.MeltingSettings.MaxAmount {
		return storage.MeltQuote{}, cashu.MeltAmountExceededErr
	}
	if amount < m.limits.MeltingSettings.MinAmount {
		return storage.MeltQuote{}, cashu.BuildCashuError("amount below minimum for melting", cashu.AmountLimitExceeded)
	}

	// only one quote per payment request
	if quote, _ := m.db.GetMeltQuoteByPaymentRequest(request); quote != nil {
		return storage.MeltQuote{}, cashu.MeltQuoteForRequestExists
	}

	quoteId, err := cashu.GenerateRandomQuoteId()
	if err != nil {
		return storage.MeltQuote{}, cashu.StandardErr
	}

	meltQuote := storage.MeltQuote{
		Id:             quoteId,
		InvoiceRequest: request,
		PaymentHash:    bolt11.PaymentHash,
		Amount:         amount,
		FeeReserve:     m.lightningClient.FeeReserve(amount),
		State:          nut05.Unpaid,
		Expiry:         uint64(time.Now().Add(time.Minute * QuoteExpiryMins).Unix()),
	}

	// no fee reserve needed if the invoice is for one
	// of this mint's own quotes
	if _, err := m.db.GetMintQuoteByPaymentHash(bolt11.PaymentHash); err == nil {
		meltQuote.FeeReserve = 0
	}

	if err := m.db.SaveMeltQuote(meltQuote); err != nil {
		msg := fmt.Sprintf("error saving melt quote: %v", err)
		return storage.MeltQuote{}, cashu.BuildCashuError(msg, cashu.DBErrCode)
	}

	m.logger.Info("created melt quote",
		slog.String("quote_id", quoteId),
		slog.Uint64("amount", amount),
	)
	return meltQuote, nil
}

// GetMeltQuoteState returns the state of a melt quote. If a payment
// was left in flight, it tries to resolve it with the backend.
func (m *Mint) GetMeltQuoteState(ctx context.Context, quoteId string) (storage.MeltQuote, error) {
	meltQuote, err := m.db.GetMeltQuote(quoteId)
	if err != nil {
		return storage.MeltQuote{}, cashu.QuoteNotExistErr
	}

	if meltQuote.State == nut05.Pending {
		status, err := m.lightningClient.OutgoingPaymentStatus(ctx, meltQuote.PaymentHash)
		if err != nil {
			return meltQuote, nil
		}

		switch status.PaymentStatus {
		case lightning.Succeeded:
			meltQuote.State = nut05.Paid
			meltQuote.Preimage = status.Preimage
			if err := m.settleMeltQuote(&meltQuote); err != nil {
				return storage.MeltQuote{}, err
			}
		case lightning.Failed:
			if err := m.rollbackMeltQuote(&meltQuote); err != nil {
				return storage.MeltQuote{}, err
			}
		}
	}

	return meltQuote, nil
}

// MeltTokens verifies the proofs against the quote, reserves them and
// attempts the payment. On success the proofs are invalidated and any
// overpaid fee reserve is returned as change signatures.
func (m *Mint) MeltTokens(ctx context.Context, meltTokensRequest nut05.PostMeltBolt11Request) (storage.MeltQuote, cashu.BlindedSignatures, error) {
	proofs := meltTokensRequest.Inputs
	if len(proofs) == 0 {
		return storage.MeltQuote{}, nil, cashu.NoProofsProvided
	}

	meltQuote, err := m.db.GetMeltQuote(meltTokensRequest.Quote)
	if err != nil {
		return storage.MeltQuote{}, nil, cashu.QuoteNotExistErr
	}

	switch meltQuote.State {
	case nut05.Paid:
		return storage.MeltQuote{}, nil, cashu.MeltQuoteAlreadyPaid
	case nut05.Pending:
		return storage.MeltQuote{}, nil, cashu.QuotePending
	}
	if quoteExpired(meltQuote.Expiry) {
		return storage.MeltQuote{}, nil, cashu.QuoteExpiredErr
	}

	// locked inputs in a melt commit only to themselves
	if nut11.ProofsSigAll(proofs) {
		return storage.MeltQuote{}, nil, nut11.SigAllOnlySwap
	}

	fees := m.TransactionFees(proofs)
	proofsAmount := proofs.Amount()
	required := meltQuote.Amount + meltQuote.FeeReserve + fees
	if proofsAmount < required {
		return storage.MeltQuote{}, nil, cashu.InsufficientProofsAmount
	}

	if err := m.verifyProofs(proofs); err != nil {
		return storage.MeltQuote{}, nil, err
	}

	// optional blank outputs for fee reserve change
	if len(meltTokensRequest.Outputs) > 0 {
		if err := m.verifyOutputs(meltTokensRequest.Outputs); err != nil {
			return storage.MeltQuote{}, nil, err
		}
	}

	Ys, err := proofs.Ys()
	if err != nil {
		return storage.MeltQuote{}, nil, cashu.InvalidProofErr
	}

	// reserve the proofs and mark the quote as pending. From here
	// the proofs cannot enter any other transaction until the
	// payment resolves
	m.mu.Lock()
	// re-read state under the lock so concurrent melts of the
	// same quote cannot both reserve proofs and pay
	quote, err := m.db.GetMeltQuote(meltQuote.Id)
	if err != nil {
		m.mu.Unlock()
		return storage.MeltQuote{}, nil, cashu.QuoteNotExistErr
	}
	switch quote.State {
	case nut05.Paid:
		m.mu.Unlock()
		return storage.MeltQuote{}, nil, cashu.MeltQuoteAlreadyPaid
	case nut05.Pending:
		m.mu.Unlock()
		return storage.MeltQuote{}, nil, cashu.QuotePending
	}
	if err := m.checkProofsSpendable(Ys); err != nil {
		m.mu.Unlock()
		return storage.MeltQuote{}, nil, err
	}
	if err := m.db.AddPendingProofs(proofs, meltQuote.Id); err != nil {
		m.mu.Unlock()
		msg := fmt.Sprintf("error reserving proofs: %v", err)
		return storage.MeltQuote{}, nil, cashu.BuildCashuError(msg, cashu.DBErrCode)
	}
	if err := m.db.UpdateMeltQuote(meltQuote.Id, "", nut05.Pending); err != nil {
		m.mu.Unlock()
		return storage.MeltQuote{}, nil, cashu.StandardErr
	}
	meltQuote.State = nut05.Pending
	m.mu.Unlock()

	settled := false
	var actualFee uint64

	// check if the invoice is for one of this mint's own quotes,
	// in which case it can be settled internally
	if mintQuote, err := m.db.GetMintQuoteByPaymentHash(meltQuote.PaymentHash); err == nil {
		if mintQuote.State != nut04.Unpaid {
			if rollbackErr := m.rollbackMeltQuote(&meltQuote); rollbackErr != nil {
				return storage.MeltQuote{}, nil, rollbackErr
			}
			return storage.MeltQuote{}, nil, cashu.MintQuoteAlreadyIssued
		}

		if err := m.db.UpdateMintQuoteState(mintQuote.Id, nut04.Paid); err != nil {
			return storage.MeltQuote{}, nil, cashu.StandardErr
		}
		meltQuote.State = nut05.Paid
		settled = true
		m.logger.Info("settled melt internally",
			slog.String("melt_quote", meltQuote.Id),
			slog.String("mint_quote", mintQuote.Id),
		)
	} else {
		ctx, cancel := context.WithTimeout(ctx, m.meltTimeout)
		defer cancel()

		status, payErr := m.lightningClient.SendPayment(ctx, meltQuote.InvoiceRequest, meltQuote.Amount)
		switch status.PaymentStatus {
		case lightning.Succeeded:
			meltQuote.State = nut05.Paid
			meltQuote.Preimage = status.Preimage
			actualFee = status.PaymentFee
			settled = true
		case lightning.Failed:
			// payment failed definitively so the proofs can
			// be released and the quote reset
			if err := m.rollbackMeltQuote(&meltQuote); err != nil {
				return storage.MeltQuote{}, nil, err
			}
			msg := fmt.Sprintf("payment failed: %v", payErr)
			return storage.MeltQuote{}, nil, cashu.BuildCashuError(msg, cashu.MeltQuoteErrCode)
		default:
			// unknown outcome. Leave the proofs reserved and the
			// quote pending until the payment can be resolved
			m.logger.Warn("payment left in flight",
				slog.String("quote_id", meltQuote.Id),
			)
			return meltQuote, nil, nil
		}
	}

	if !settled {
		return meltQuote, nil, nil
	}

	// move the proofs from pending to spent under the lock so a
	// concurrent swap cannot observe them in neither state
	m.mu.Lock()
	if err := m.db.UpdateMeltQuote(meltQuote.Id, meltQuote.Preimage, nut05.Paid); err != nil {
		m.mu.Unlock()
		return storage.MeltQuote{}, nil, cashu.StandardErr
	}
	if err := m.db.RemovePendingProofs(Ys); err != nil {
		m.mu.Unlock()
		return storage.MeltQuote{}, nil, cashu.StandardErr
	}
	if err := m.db.SaveProofs(proofs); err != nil {
		m.mu.Unlock()
		msg := fmt.Sprintf("error invalidating proofs: %v", err)
		return storage.MeltQuote{}, nil, cashu.BuildCashuError(msg, cashu.DBErrCode)
	}
	m.mu.Unlock()

	// the unused portion of the fee reserve comes back as change.
	// The fee limit given to the backend is the reserve so the
	// actual fee cannot exceed it
	if actualFee > meltQuote.FeeReserve {
		actualFee = meltQuote.FeeReserve
	}
	var change cashu.BlindedSignatures
	changeAmount := proofsAmount - meltQuote.Amount - fees - actualFee
	if changeAmount > 0 && len(meltTokensRequest.Outputs) > 0 {
		change, err = m.signChange(changeAmount, meltTokensRequest.Outputs)
		if err != nil {
			return storage.MeltQuote{}, nil, err
		}
	}

	m.logger.Info("melt processed",
		slog.String("quote_id", meltQuote.Id),
		slog.Uint64("amount", meltQuote.Amount),
	)
	return meltQuote, change, nil
}

// signChange assigns amounts from the binary split of changeAmount to
// the blank outputs and signs them. If there are fewer outputs than
// denominations the largest ones take precedence.
func (m *Mint) signChange(changeAmount uint64, outputs cashu.BlindedMessages) (cashu.BlindedSignatures, error) {
	split := cashu.AmountSplit(changeAmount)
	if len(split) > len(outputs) {
		slices.Reverse(split)
		split = split[:len(outputs)]
	}

	blankOutputs := make(cashu.BlindedMessages, len(split))
	for i, amount := range split {
		output := outputs[i]
		output.Amount = amount
		blankOutputs[i] = output
	}

	signatures, err := m.signBlindedMessages(blankOutputs)
	if err != nil {
		return nil, err
	}

	B_s := make([]string, len(blankOutputs))
	for i, msg := range blankOutputs {
		B_s[i] = msg.B_
	}
	if err := m.db.SaveBlindSignatures(B_s, signatures); err != nil {
		msg := fmt.Sprintf("error saving blind signatures: %v", err)
		return nil, cashu.BuildCashuError(msg, cashu.DBErrCode)
	}

	return signatures, nil
}

func (m *Mint) settleMeltQuote(meltQuote *storage.MeltQuote) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.db.UpdateMeltQuote(meltQuote.Id, meltQuote.Preimage, nut05.Paid); err != nil {
		return cashu.StandardErr
	}

	pendingProofs, err := m.db.GetPendingProofsByQuote(meltQuote.Id)
	if err != nil {
		return cashu.StandardErr
	}

	proofs := make(cashu.Proofs, len(pendingProofs))
	Ys := make([]string, len(pendingProofs))
	for i, pending := range pendingProofs {
		proofs[i] = cashu.Proof{
			Amount: pending.Amount,
			Id:     pending.Id,
			Secret: pending.Secret,
			C:      pending.C,
		}
		Ys[i] = pending.Y
	}

	if err := m.db.RemovePendingProofs(Ys); err != nil {
		return cashu.StandardErr
	}
	if err := m.db.SaveProofs(proofs); err != nil {
		msg := fmt.Sprintf("error invalidating proofs: %v", err)
		return cashu.BuildCashuError(msg, cashu.DBErrCode)
	}
	return nil
}

func (m *Mint) rollbackMeltQuote(meltQuote *storage.MeltQuote) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	pendingProofs, err := m.db.GetPendingProofsByQuote(meltQuote.Id)
	if err != nil {
		return cashu.StandardErr
	}

	Ys := make([]string, len(pendingProofs))
	for i, pending := range pendingProofs {
		Ys[i] = pending.Y
	}

	if err := m.db.RemovePendingProofs(Ys); err != nil {
		return cashu.StandardErr
	}
	if err := m.db.UpdateMeltQuote(meltQuote.Id, "", nut05.Unpaid); err != nil {
		return cashu.StandardErr
	}
	meltQuote.State = nut05.Unpaid
	meltQuote.Preimage = ""
	return nil
}

// ProofsStateCheck returns the state of each Y, preserving the
// order of the request.
func (m *Mint) ProofsStateCheck(Ys []string) ([]nut07.ProofState, error) {
	usedProofs, err := m.db.GetProofsUsed(Ys)
	if err != nil {
		msg := fmt.Sprintf("error getting used proofs: %v", err)
		return nil, cashu.BuildCashuError(msg, cashu.DBErrCode)
	}
	pendingProofs, err := m.db.GetPendingProofs(Ys)
	if err != nil {
		msg := fmt.Sprintf("error getting pending proofs: %v", err)
		return nil, cashu.BuildCashuError(msg, cashu.DBErrCode)
	}

	used := make(map[string]storage.DBProof, len(usedProofs))
	for _, proof := range usedProofs {
		used[proof.Y] = proof
	}
	pending := make(map[string]bool, len(pendingProofs))
	for _, proof := range pendingProofs {
		pending[proof.Y] = true
	}

	states := make([]nut07.ProofState, len(Ys))
	for i, y := range Ys {
		state := nut07.ProofState{Y: y, State: nut07.Unspent}
		if _, ok := used[y]; ok {
			state.State = nut07.Spent
		} else if pending[y] {
			state.State = nut07.Pending
		}
		states[i] = state
	}

	return states, nil
}

// RestoreSignatures returns the previously issued signatures for
// the given outputs.
func (m *Mint) RestoreSignatures(blindedMessages cashu.BlindedMessages) (cashu.BlindedMessages, cashu.BlindedSignatures, error) {
	outputs := cashu.BlindedMessages{}
	signatures := cashu.BlindedSignatures{}

	for _, msg := range blindedMessages {
		sig, err := m.db.GetBlindSignature(msg.B_)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				continue
			}
			return nil, nil, cashu.StandardErr
		}
		outputs = append(outputs, msg)
		signatures = append(signatures, sig)
	}

	return outputs, signatures, nil
}

// TransactionFees returns the fee for the inputs, derived from the
// fee ppk of the keysets the proofs belong to.
func (m *Mint) TransactionFees(inputs cashu.Proofs) uint64 {
	var fees uint = 0
	for _, proof := range inputs {
		if keyset, ok := m.keysets[proof.Id]; ok {
			fees += keyset.InputFeePpk
		}
	}
	return uint64((fees + 999) / 1000)
}

// checkProofsSpendable fails if any of the Ys is already spent or
// reserved by an in-flight melt. Callers must hold m.mu.
func (m *Mint) checkProofsSpendable(Ys []string) error {
	pendingProofs, err := m.db.GetPendingProofs(Ys)
	if err != nil {
		msg := fmt.Sprintf("error getting pending proofs: %v", err)
		return cashu.BuildCashuError(msg, cashu.DBErrCode)
	}
	if len(pendingProofs) > 0 {
		return cashu.ProofPendingErr
	}

	usedProofs, err := m.db.GetProofsUsed(Ys)
	if err != nil {
		msg := fmt.Sprintf("error getting used proofs: %v", err)
		return cashu.BuildCashuError(msg, cashu.DBErrCode)
	}
	if len(usedProofs) > 0 {
		return cashu.ProofAlreadyUsedErr
	}

	return nil
}

func (m *Mint) verifyProofs(proofs cashu.Proofs) error {
	if cashu.CheckDuplicateProofs(proofs) {
		return cashu.DuplicateProofs
	}

	for _, proof := range proofs {
		keyset, ok := m.keysets[proof.Id]
		if !ok {
			return cashu.UnknownKeysetErr
		}

		keypair, ok := keyset.Keys[proof.Amount]
		if !ok {
			return cashu.InvalidProofErr
		}

		// verify spending condition if the proof is locked
		switch nut10.SecretType(proof) {
		case nut10.P2PK:
			if err := verifyP2PKProof(proof); err != nil {
				return err
			}
		case nut10.HTLC:
			if err := verifyHTLCProof(proof); err != nil {
				return err
			}
		}

		Cbytes, err := hex.DecodeString(proof.C)
		if err != nil {
			return cashu.InvalidProofErr
		}
		C, err := secp256k1.ParsePubKey(Cbytes)
		if err != nil {
			return cashu.InvalidProofErr
		}

		if !crypto.Verify(proof.Secret, keypair.PrivateKey, C) {
			return cashu.InvalidProofErr
		}
	}
	return nil
}

// verifyOutputs checks the blinded messages are well formed, from the
// active keyset and not already signed.
func (m *Mint) verifyOutputs(outputs cashu.BlindedMessages) error {
	if len(outputs) == 0 {
		return cashu.EmptyBodyErr
	}
	if cashu.CheckDuplicateBlindedMessages(outputs) {
		return cashu.DuplicateOutputs
	}

	keysetId := outputs[0].Id
	keyset, ok := m.keysets[keysetId]
	if !ok {
		return cashu.UnknownKeysetErr
	}
	if !keyset.Active {
		return cashu.InactiveKeysetSignatureRequest
	}

	B_s := make([]string, len(outputs))
	for i, output := range outputs {
		// all outputs must be from the same keyset
		if output.Id != keysetId {
			return cashu.UnknownKeysetErr
		}
		if _, ok := keyset.Keys[output.Amount]; !ok && output.Amount != 0 {
			return cashu.InvalidBlindedMessageAmount
		}

		B_bytes, err := hex.DecodeString(output.B_)
		if err != nil {
			return cashu.BuildCashuError("invalid B_ in blinded message", cashu.StandardErrCode)
		}
		if _, err := secp256k1.ParsePubKey(B_bytes); err != nil {
			return cashu.BuildCashuError("invalid B_ in blinded message", cashu.StandardErrCode)
		}
		B_s[i] = output.B_
	}

	signatures, err := m.db.GetBlindSignatures(B_s)
	if err != nil {
		msg := fmt.Sprintf("error getting blind signatures: %v", err)
		return cashu.BuildCashuError(msg, cashu.DBErrCode)
	}
	if len(signatures) > 0 {
		return cashu.BlindedMessageAlreadySigned
	}

	return nil
}

// signBlindedMessages signs each output with the key for its amount
// and attaches a DLEQ proof.
func (m *Mint) signBlindedMessages(blindedMessages cashu.BlindedMessages) (cashu.BlindedSignatures, error) {
	blindedSignatures := make(cashu.BlindedSignatures, len(blindedMessages))

	for i, msg := range blindedMessages {
		keyset, ok := m.keysets[msg.Id]
		if !ok {
			return nil, cashu.UnknownKeysetErr
		}
		keypair, ok := keyset.Keys[msg.Amount]
		if !ok {
			return nil, cashu.InvalidBlindedMessageAmount
		}

		B_bytes, err := hex.DecodeString(msg.B_)
		if err != nil {
			return nil, cashu.StandardErr
		}
		B_, err := secp256k1.ParsePubKey(B_bytes)
		if err != nil {
			return nil, cashu.BuildCashuError("invalid B_ in blinded message", cashu.StandardErrCode)
		}

		C_ := crypto.SignBlindedMessage(B_, keypair.PrivateKey)

		e, s, err := crypto.GenerateDLEQ(keypair.PrivateKey, B_, C_)
		if err != nil {
			return nil, cashu.StandardErr
		}

		blindedSignatures[i] = cashu.BlindedSignature{
			Amount: msg.Amount,
			C_:     hex.EncodeToString(C_.SerializeCompressed()),
			Id:     keyset.Id,
			DLEQ: &cashu.DLEQProof{
				E: hex.EncodeToString(e.Serialize()),
				S: hex.EncodeToString(s.Serialize()),
			},
		}
	}

	return blindedSignatures, nil
}

func verifyP2PKProof(proof cashu.Proof) error {
	secret, err := nut10.DeserializeSecret(proof.Secret)
	if err != nil {
		return cashu.InvalidProofErr
	}
	p2pkTags, err := nut11.ParseP2PKTags(secret.Tags)
	if err != nil {
		return err
	}

	pubkeys, err := nut11.PublicKeys(secret)
	if err != nil {
		return err
	}
	nsigs := 1
	if p2pkTags.NSigs > 0 {
		nsigs = p2pkTags.NSigs
	}

	// after the locktime the refund keys take over. With no refund
	// keys the proof becomes spendable by anyone
	if p2pkTags.Locktime > 0 && time.Now().Unix() > p2pkTags.Locktime {
		if len(p2pkTags.Refund) == 0 {
			return nil
		}
		pubkeys = p2pkTags.Refund
		nsigs = 1
	}

	witness, err := parseP2PKWitness(proof.Witness)
	if err != nil {
		return err
	}

	hash := sha256.Sum256([]byte(proof.Secret))
	if !nut11.HasValidSignatures(hash[:], witness, nsigs, pubkeys) {
		return nut11.NotEnoughSignaturesErr
	}
	return nil
}

func verifyHTLCProof(proof cashu.Proof) error {
	secret, err := nut10.DeserializeSecret(proof.Secret)
	if err != nil {
		return cashu.InvalidProofErr
	}
	p2pkTags, err := nut11.ParseP2PKTags(secret.Tags)
	if err != nil {
		return err
	}

	// refund path after locktime needs only the refund signatures
	if p2pkTags.Locktime > 0 && time.Now().Unix() > p2pkTags.Locktime {
		if len(p2pkTags.Refund) == 0 {
			return nil
		}

		witness, err := parseHTLCWitness(proof.Witness)
		if err != nil {
			return err
		}
		hash := sha256.Sum256([]byte(proof.Secret))
		if !nut11.HasValidSignatures(hash[:], nut11.P2PKWitness{Signatures: witness.Signatures}, 1, p2pkTags.Refund) {
			return nut11.NotEnoughSignaturesErr
		}
		return nil
	}

	witness, err := parseHTLCWitness(proof.Witness)
	if err != nil {
		return err
	}

	if err := nut14.VerifyPreimage(secret, witness.Preimage); err != nil {
		return err
	}

	// hash lock can additionally require signatures
	if len(p2pkTags.Pubkeys) > 0 {
		nsigs := 1
		if p2pkTags.NSigs > 0 {
			nsigs = p2pkTags.NSigs
		}
		hash := sha256.Sum256([]byte(proof.Secret))
		if !nut11.HasValidSignatures(hash[:], nut11.P2PKWitness{Signatures: witness.Signatures}, nsigs, p2pkTags.Pubkeys) {
			return nut11.NotEnoughSignaturesErr
		}
	}
	return nil
}

// verifySigAll checks the witness on the first proof against a message
// committing to every input secret and every output. All inputs must
// share the same spending condition.
func verifySigAll(proofs cashu.Proofs, blindedMessages cashu.BlindedMessages) error {
	first, err := nut10.DeserializeSecret(proofs[0].Secret)
	if err != nil {
		return cashu.InvalidProofErr
	}
	firstKind := nut10.SecretType(proofs[0])

	p2pkTags, err := nut11.ParseP2PKTags(first.Tags)
	if err != nil {
		return err
	}

	msg := ""
	for _, proof := range proofs {
		secret, err := nut10.DeserializeSecret(proof.Secret)
		if err != nil {
			return cashu.InvalidProofErr
		}
		if !nut11.IsSigAll(secret) {
			return nut11.AllSigAllFlagsErr
		}
		if nut10.SecretType(proof) != firstKind || secret.Data != first.Data {
			return nut11.SigAllKeysMustBeEqualErr
		}

		tags, err := nut11.ParseP2PKTags(secret.Tags)
		if err != nil {
			return err
		}
		if tags.NSigs != p2pkTags.NSigs {
			return nut11.NSigsMustBeEqualErr
		}
		if !nut11.EqualKeys(tags.Pubkeys, p2pkTags.Pubkeys) {
			return nut11.SigAllKeysMustBeEqualErr
		}

		msg += proof.Secret
	}
	for _, output := range blindedMessages {
		msg += output.B_
	}
	hash := sha256.Sum256([]byte(msg))

	nsigs := 1
	if p2pkTags.NSigs > 0 {
		nsigs = p2pkTags.NSigs
	}

	var signatures []string
	switch firstKind {
	case nut10.P2PK:
		witness, err := parseP2PKWitness(proofs[0].Witness)
		if err != nil {
			return err
		}
		signatures = witness.Signatures
	case nut10.HTLC:
		witness, err := parseHTLCWitness(proofs[0].Witness)
		if err != nil {
			return err
		}
		if err := nut14.VerifyPreimage(first, witness.Preimage); err != nil {
			return err
		}
		signatures = witness.Signatures
	default:
		return cashu.InvalidProofErr
	}

	var pubkeys []*btcec.PublicKey
	if firstKind == nut10.P2PK {
		pubkeys, err = nut11.PublicKeys(first)
		if err != nil {
			return err
		}
	} else {
		pubkeys = p2pkTags.Pubkeys
	}

	if !nut11.HasValidSignatures(hash[:], nut11.P2PKWitness{Signatures: signatures}, nsigs, pubkeys) {
		return nut11.NotEnoughSignaturesErr
	}
	return nil
}

func parseP2PKWitness(witness string) (nut11.P2PKWitness, error) {
	if witness == "" {
		return nut11.P2PKWitness{}, nut11.EmptyWitnessErr
	}
	var p2pkWitness nut11.P2PKWitness
	if err := json.Unmarshal([]byte(witness), &p2pkWitness); err != nil {
		return nut11.P2PKWitness{}, cashu.BuildCashuError("invalid witness", nut11.NUT11ErrCode)
	}
	return p2pkWitness, nil
}

func parseHTLCWitness(witness string) (nut14.HTLCWitness, error) {
	if witness == "" {
		return nut14.HTLCWitness{}, nut11.EmptyWitnessErr
	}
	var htlcWitness nut14.HTLCWitness
	if err := json.Unmarshal([]byte(witness), &htlcWitness); err != nil {
		return nut14.HTLCWitness{}, cashu.BuildCashuError("invalid witness", nut14.NUT14ErrCode)
	}
	return htlcWitness, nil
}

// RetrieveMintInfo returns the mint info response with the
// supported operations.
func (m *Mint) RetrieveMintInfo() (nut06.MintInfo, error) {
	mintingSettings := nut06.MethodSetting{
		Method:    cashu.BOLT11_METHOD,
		Unit:      cashu.Sat.String(),
		MinAmount: m.limits.MintingSettings.MinAmount,
		MaxAmount: m.limits.MintingSettings.MaxAmount,
	}
	meltingSettings := nut06.MethodSetting{
		Method:    cashu.BOLT11_METHOD,
		Unit:      cashu.Sat.String(),
		MinAmount: m.limits.MeltingSettings.MinAmount,
		MaxAmount: m.limits.MeltingSettings.MaxAmount,
	}

	nuts := nut06.Nuts{
		Nut04: nut06.NutSetting{Methods: []nut06.MethodSetting{mintingSettings}},
		Nut05: nut06.NutSetting{Methods: []nut06.MethodSetting{meltingSettings}},
		Nut07: nut06.Supported{Supported: true},
		Nut08: nut06.Supported{Supported: true},
		Nut09: nut06.Supported{Supported: true},
		Nut10: nut06.Supported{Supported: true},
		Nut11: nut06.Supported{Supported: true},
		Nut12: nut06.Supported{Supported: true},
		Nut14: nut06.Supported{Supported: true},
		Nut20: nut06.Supported{Supported: true},
	}

	seed, err := m.db.GetSeed()
	if err != nil {
		return nut06.MintInfo{}, cashu.StandardErr
	}
	mintingKey, err := crypto.MasterKeyFromSeed(seed)
	if err != nil {
		return nut06.MintInfo{}, cashu.StandardErr
	}
	publicKey, err := mintingKey.ECPubKey()
	if err != nil {
		return nut06.MintInfo{}, cashu.StandardErr
	}

	return nut06.MintInfo{
		Name:            m.mintInfo.Name,
		Pubkey:          hex.EncodeToString(publicKey.SerializeCompressed()),
		Version:         "walnut/0.4.0",
		Description:     m.mintInfo.Description,
		LongDescription: m.mintInfo.LongDescription,
		Contact:         m.mintInfo.Contact,
		Motd:            m.mintInfo.Motd,
		IconURL:         m.mintInfo.IconURL,
		URLs:            m.mintInfo.URLs,
		Time:            time.Now().Unix(),
		Nuts:            nuts,
	}, nil
}

func quoteExpired(expiry uint64) bool {
	return uint64(time.Now().Unix()) > expiry
}

func overflowAddUint64(a, b uint64) bool {
	return a > math.MaxUint64-b
}

func underflowSubUint64(a, b uint64) bool {
	return a < b
}
