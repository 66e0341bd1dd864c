package wallet

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"os"
	"slices"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/tyler-smith/go-bip39"
	"github.com/walnutd/walnut/cashu"
	"github.com/walnutd/walnut/cashu/nuts/nut03"
	"github.com/walnutd/walnut/cashu/nuts/nut04"
	"github.com/walnutd/walnut/cashu/nuts/nut05"
	"github.com/walnutd/walnut/cashu/nuts/nut07"
	"github.com/walnutd/walnut/cashu/nuts/nut10"
	"github.com/walnutd/walnut/cashu/nuts/nut11"
	"github.com/walnutd/walnut/cashu/nuts/nut12"
	"github.com/walnutd/walnut/cashu/nuts/nut13"
	"github.com/walnutd/walnut/crypto"
	"github.com/walnutd/walnut/wallet/client"
	"github.com/walnutd/walnut/wallet/storage"
)

var ErrInsufficientBalance = errors.New("not enough funds in wallet")

type Config struct {
	WalletPath     string
	CurrentMintURL string
}

type Wallet struct {
	db        storage.WalletDB
	masterKey *hdkeychain.ExtendedKey
	unit      cashu.Unit

	// mint the wallet operates against
	mintURL         string
	activeKeyset    crypto.WalletKeyset
	inactiveKeysets map[string]crypto.WalletKeyset
}

func InitStorage(path string) (storage.WalletDB, error) {
	return storage.InitBolt(path)
}

// LoadWallet sets up the wallet from the stored seed, generating a new
// mnemonic on first use, and syncs the keysets of the configured mint.
func LoadWallet(config Config) (*Wallet, error) {
	if err := os.MkdirAll(config.WalletPath, 0700); err != nil {
		return nil, err
	}

	db, err := InitStorage(config.WalletPath)
	if err != nil {
		return nil, fmt.Errorf("InitStorage: %v", err)
	}

	seed := db.GetSeed()
	if len(seed) == 0 {
		entropy, err := bip39.NewEntropy(128)
		if err != nil {
			return nil, err
		}
		mnemonic, err := bip39.NewMnemonic(entropy)
		if err != nil {
			return nil, err
		}
		seed = bip39.NewSeed(mnemonic, "")
		if err := db.SaveMnemonicSeed(mnemonic, seed); err != nil {
			return nil, err
		}
	}

	masterKey, err := crypto.MasterKeyFromSeed(seed)
	if err != nil {
		return nil, err
	}

	wallet := &Wallet{
		db:        db,
		masterKey: masterKey,
		unit:      cashu.Sat,
		mintURL:   config.CurrentMintURL,
	}
	if err := wallet.loadMintKeysets(); err != nil {
		return nil, err
	}

	return wallet, nil
}

func (w *Wallet) loadMintKeysets() error {
	activeKeyset, err := GetMintActiveKeyset(w.mintURL, w.unit)
	if err != nil {
		return fmt.Errorf("error getting active keyset from mint: %v", err)
	}

	storedKeysets := w.db.GetKeysets()[w.mintURL]
	for _, stored := range storedKeysets {
		// the mint rotated keysets since the last time the wallet ran
		if stored.Active && stored.Id != activeKeyset.Id {
			stored.Active = false
			if err := w.db.SaveKeyset(&stored); err != nil {
				return err
			}
		}
		if stored.Id == activeKeyset.Id {
			activeKeyset.Counter = stored.Counter
		}
	}
	if err := w.db.SaveKeyset(activeKeyset); err != nil {
		return err
	}
	w.activeKeyset = *activeKeyset

	inactiveKeysets, err := GetMintInactiveKeysets(w.mintURL, w.unit)
	if err != nil {
		return err
	}
	for id, keyset := range inactiveKeysets {
		if stored, ok := storedKeysets[id]; ok {
			keyset.Counter = stored.Counter
			keyset.PublicKeys = stored.PublicKeys
		}
		inactiveKeysets[id] = keyset
	}
	w.inactiveKeysets = inactiveKeysets

	return nil
}

func (w *Wallet) Shutdown() error {
	return w.db.Close()
}

func (w *Wallet) CurrentMint() string {
	return w.mintURL
}

func (w *Wallet) Mnemonic() string {
	return w.db.GetMnemonic()
}

func (w *Wallet) GetBalance() uint64 {
	return w.db.GetProofs().Amount()
}

// RequestMint requests an amount to be minted and returns the quote
// with the invoice to be paid.
func (w *Wallet) RequestMint(amount uint64) (*nut04.PostMintQuoteBolt11Response, error) {
	mintRequest := nut04.PostMintQuoteBolt11Request{Amount: amount, Unit: w.unit.String()}
	mintResponse, err := client.PostMintQuoteBolt11(w.mintURL, mintRequest)
	if err != nil {
		return nil, err
	}

	quote := storage.MintQuote{
		QuoteId:        mintResponse.Quote,
		Mint:           w.mintURL,
		Amount:         amount,
		PaymentRequest: mintResponse.Request,
		State:          mintResponse.State,
		Expiry:         mintResponse.Expiry,
	}
	if err := w.db.SaveMintQuote(quote); err != nil {
		return nil, fmt.Errorf("error saving mint quote: %v", err)
	}

	return mintResponse, nil
}

func (w *Wallet) MintQuoteState(quoteId string) (*nut04.PostMintQuoteBolt11Response, error) {
	return client.GetMintQuoteState(w.mintURL, quoteId)
}

// MintTokens mints tokens for a paid quote and stores the new proofs.
// It returns the amount minted.
func (w *Wallet) MintTokens(quoteId string) (uint64, error) {
	quote := w.db.GetMintQuoteById(quoteId)
	if quote == nil {
		return 0, errors.New("mint quote does not exist")
	}

	quoteState, err := w.MintQuoteState(quoteId)
	if err != nil {
		return 0, err
	}
	if quoteState.State == nut04.Issued {
		return 0, errors.New("quote has already been issued")
	}
	if quoteState.State == nut04.Unpaid {
		return 0, errors.New("invoice not paid")
	}

	split := cashu.AmountSplit(quote.Amount)
	blindedMessages, secrets, rs, err := w.createBlindedMessages(split, w.activeKeyset.Id)
	if err != nil {
		return 0, fmt.Errorf("error creating blinded messages: %v", err)
	}

	mintRequest := nut04.PostMintBolt11Request{Quote: quoteId, Outputs: blindedMessages}
	mintResponse, err := client.PostMintBolt11(w.mintURL, mintRequest)
	if err != nil {
		return 0, err
	}

	proofs, err := w.constructProofs(mintResponse.Signatures, blindedMessages, secrets, rs, &w.activeKeyset)
	if err != nil {
		return 0, fmt.Errorf("error constructing proofs: %v", err)
	}
	if err := w.db.SaveProofs(proofs); err != nil {
		return 0, fmt.Errorf("error storing proofs: %v", err)
	}

	quote.State = nut04.Issued
	if err := w.db.SaveMintQuote(*quote); err != nil {
		return 0, fmt.Errorf("error saving mint quote: %v", err)
	}

	return proofs.Amount(), nil
}

// Send returns a token with proofs for the given amount. If includeFees
// is set, the token carries extra value to cover the fees the receiver
// pays to redeem it.
func (w *Wallet) Send(amount uint64, includeFees bool) (cashu.Token, error) {
	if includeFees {
		amount += w.feesForCount(len(cashu.AmountSplit(amount)) + 1)
	}
	proofsToSend, err := w.getProofsForAmount(amount)
	if err != nil {
		return nil, err
	}

	token, err := cashu.NewTokenV4(proofsToSend, w.mintURL, w.unit, true)
	if err != nil {
		return nil, err
	}
	return token, nil
}

// SendToPubkey swaps the amount into proofs locked to the public key,
// redeemable only with a signature from the matching private key.
func (w *Wallet) SendToPubkey(amount uint64, pubkey *btcec.PublicKey) (cashu.Token, error) {
	if pubkey == nil {
		return nil, errors.New("invalid public key")
	}

	amount += w.feesForCount(len(cashu.AmountSplit(amount)) + 1)
	proofs, err := w.getProofsForAmount(amount)
	if err != nil {
		return nil, err
	}

	lockAmount := proofs.Amount() - w.fees(proofs)
	secret, err := nut11.P2PKSecret(hex.EncodeToString(pubkey.SerializeCompressed()))
	if err != nil {
		return nil, err
	}

	split := cashu.AmountSplit(lockAmount)
	blindedMessages := make(cashu.BlindedMessages, len(split))
	secrets := make([]string, len(split))
	rs := make([]*secp256k1.PrivateKey, len(split))
	for i, amt := range split {
		r, err := secp256k1.GeneratePrivateKey()
		if err != nil {
			return nil, err
		}
		B_, r, err := crypto.BlindMessage(secret, r)
		if err != nil {
			return nil, err
		}
		blindedMessages[i] = cashu.NewBlindedMessage(w.activeKeyset.Id, amt, B_)
		secrets[i] = secret
		rs[i] = r
	}

	swapRequest := nut03.PostSwapRequest{Inputs: proofs, Outputs: blindedMessages}
	swapResponse, err := client.PostSwap(w.mintURL, swapRequest)
	if err != nil {
		return nil, err
	}

	lockedProofs, err := w.constructProofs(swapResponse.Signatures, blindedMessages, secrets, rs, &w.activeKeyset)
	if err != nil {
		return nil, fmt.Errorf("error constructing proofs: %v", err)
	}

	return cashu.NewTokenV4(lockedProofs, w.mintURL, w.unit, true)
}

// Receive swaps the proofs in the token for new ones tied to the
// wallet's seed and returns the amount received. Tokens from a mint
// other than the wallet's are rejected.
func (w *Wallet) Receive(token cashu.Token) (uint64, error) {
	if token.Mint() != w.mintURL {
		return 0, fmt.Errorf("token is from mint '%v' not trusted by this wallet", token.Mint())
	}

	proofs := token.Proofs()
	if len(proofs) == 0 {
		return 0, errors.New("token has no proofs")
	}

	keyset, err := w.getKeysetKeys(proofs[0].Id)
	if err != nil {
		return 0, err
	}
	if !nut12.VerifyProofsDLEQ(proofs, *keyset) {
		return 0, errors.New("invalid DLEQ proof")
	}

	proofs, err = w.signLockedProofs(proofs)
	if err != nil {
		return 0, err
	}

	receiveAmount := proofs.Amount() - w.fees(proofs)
	split := cashu.AmountSplit(receiveAmount)
	blindedMessages, secrets, rs, err := w.createBlindedMessages(split, w.activeKeyset.Id)
	if err != nil {
		return 0, fmt.Errorf("error creating blinded messages: %v", err)
	}

	swapRequest := nut03.PostSwapRequest{Inputs: proofs, Outputs: blindedMessages}
	swapResponse, err := client.PostSwap(w.mintURL, swapRequest)
	if err != nil {
		return 0, err
	}

	newProofs, err := w.constructProofs(swapResponse.Signatures, blindedMessages, secrets, rs, &w.activeKeyset)
	if err != nil {
		return 0, fmt.Errorf("error constructing proofs: %v", err)
	}
	if err := w.db.SaveProofs(newProofs); err != nil {
		return 0, fmt.Errorf("error storing proofs: %v", err)
	}

	return newProofs.Amount(), nil
}

// signLockedProofs adds the wallet's signature to any P2PK locked
// proofs that its receive key can spend.
func (w *Wallet) signLockedProofs(proofs cashu.Proofs) (cashu.Proofs, error) {
	p2pkKey, err := w.GetReceivePrivateKey()
	if err != nil {
		return nil, err
	}

	for _, proof := range proofs {
		if !nut11.IsSecretP2PK(proof) {
			continue
		}
		secret, err := nut10.DeserializeSecret(proof.Secret)
		if err != nil {
			return nil, err
		}
		if nut11.CanSign(secret, p2pkKey) {
			return nut11.AddSignatureToInputs(proofs, p2pkKey)
		}
	}
	return proofs, nil
}

// Melt requests a melt quote for the invoice and pays it with proofs
// from the wallet balance.
func (w *Wallet) Melt(invoice string) (*nut05.PostMeltQuoteBolt11Response, error) {
	quoteRequest := nut05.PostMeltQuoteBolt11Request{Request: invoice, Unit: w.unit.String()}
	meltQuote, err := client.PostMeltQuoteBolt11(w.mintURL, quoteRequest)
	if err != nil {
		return nil, err
	}

	proofs, err := w.getProofsForAmount(meltQuote.Amount + meltQuote.FeeReserve)
	if err != nil {
		return nil, err
	}

	// blank outputs for any unused portion of the fee reserve
	changeOutputs, changeSecrets, changeRs, err := w.createBlankOutputs(meltQuote.FeeReserve)
	if err != nil {
		return nil, err
	}

	meltRequest := nut05.PostMeltBolt11Request{
		Quote:   meltQuote.Quote,
		Inputs:  proofs,
		Outputs: changeOutputs,
	}
	meltResponse, err := client.PostMeltBolt11(w.mintURL, meltRequest)
	if err != nil {
		// payment did not go through, put the proofs back
		w.db.SaveProofs(proofs)
		return nil, err
	}

	switch meltResponse.State {
	case nut05.Unpaid:
		if err := w.db.SaveProofs(proofs); err != nil {
			return nil, fmt.Errorf("error storing proofs: %v", err)
		}
	case nut05.Paid:
		if len(meltResponse.Change) > 0 {
			change, err := w.constructProofs(meltResponse.Change,
				changeOutputs[:len(meltResponse.Change)],
				changeSecrets[:len(meltResponse.Change)],
				changeRs[:len(meltResponse.Change)], &w.activeKeyset)
			if err != nil {
				return nil, fmt.Errorf("error constructing change proofs: %v", err)
			}
			if err := w.db.SaveProofs(change); err != nil {
				return nil, fmt.Errorf("error storing change proofs: %v", err)
			}
		}
	}

	return meltResponse, nil
}

func (w *Wallet) MeltQuoteState(quoteId string) (*nut05.PostMeltQuoteBolt11Response, error) {
	return client.GetMeltQuoteState(w.mintURL, quoteId)
}

// CheckProofsSpent returns the subset of the proofs that the mint
// reports as already spent.
func (w *Wallet) CheckProofsSpent(proofs cashu.Proofs) (cashu.Proofs, error) {
	Ys, err := proofs.Ys()
	if err != nil {
		return nil, err
	}

	stateResponse, err := client.PostCheckProofState(w.mintURL, nut07.PostCheckStateRequest{Ys: Ys})
	if err != nil {
		return nil, err
	}

	spent := cashu.Proofs{}
	for i, proofState := range stateResponse.States {
		if proofState.State == nut07.Spent {
			spent = append(spent, proofs[i])
		}
	}
	return spent, nil
}

// getProofsForAmount returns proofs totalling the amount, swapping with
// the mint when the stored denominations cannot make exact change. The
// returned proofs are removed from the wallet balance.
func (w *Wallet) getProofsForAmount(amount uint64) (cashu.Proofs, error) {
	selected, err := w.selectProofsToSend(amount)
	if err != nil {
		return nil, err
	}

	// exact match from the active keyset, no swap needed
	if selected.Amount() == amount && fromActiveKeyset(selected, w.activeKeyset.Id) {
		if err := w.deleteProofs(selected); err != nil {
			return nil, err
		}
		return selected, nil
	}

	swapFees := w.fees(selected)
	if selected.Amount() < amount+swapFees {
		return nil, ErrInsufficientBalance
	}
	changeAmount := selected.Amount() - amount - swapFees

	sendSplit := cashu.AmountSplit(amount)
	changeSplit := cashu.AmountSplit(changeAmount)
	split := append(append([]uint64{}, sendSplit...), changeSplit...)

	blindedMessages, secrets, rs, err := w.createBlindedMessages(split, w.activeKeyset.Id)
	if err != nil {
		return nil, fmt.Errorf("error creating blinded messages: %v", err)
	}

	swapRequest := nut03.PostSwapRequest{Inputs: selected, Outputs: blindedMessages}
	swapResponse, err := client.PostSwap(w.mintURL, swapRequest)
	if err != nil {
		return nil, err
	}

	proofs, err := w.constructProofs(swapResponse.Signatures, blindedMessages, secrets, rs, &w.activeKeyset)
	if err != nil {
		return nil, fmt.Errorf("error constructing proofs: %v", err)
	}

	proofsToSend := proofs[:len(sendSplit)]
	change := proofs[len(sendSplit):]
	if err := w.db.SaveProofs(change); err != nil {
		return nil, fmt.Errorf("error storing change proofs: %v", err)
	}
	if err := w.deleteProofs(selected); err != nil {
		return nil, err
	}

	return proofsToSend, nil
}

// selectProofsToSend picks proofs covering the amount plus the swap
// fees for spending them. Proofs from inactive keysets are spent first
// so balances migrate to the active keyset over time.
func (w *Wallet) selectProofsToSend(amount uint64) (cashu.Proofs, error) {
	proofs := w.db.GetProofs()
	if proofs.Amount() < amount {
		return nil, ErrInsufficientBalance
	}

	inactiveProofs := cashu.Proofs{}
	activeProofs := cashu.Proofs{}
	for _, proof := range proofs {
		if proof.Id == w.activeKeyset.Id {
			activeProofs = append(activeProofs, proof)
		} else {
			inactiveProofs = append(inactiveProofs, proof)
		}
	}
	sortProofsByAmount(inactiveProofs)
	sortProofsByAmount(activeProofs)

	selected := cashu.Proofs{}
	for _, proof := range append(inactiveProofs, activeProofs...) {
		if selected.Amount() >= amount+w.fees(selected) {
			break
		}
		selected = append(selected, proof)
	}

	if selected.Amount() < amount+w.fees(selected) {
		return nil, ErrInsufficientBalance
	}
	return selected, nil
}

func fromActiveKeyset(proofs cashu.Proofs, activeId string) bool {
	for _, proof := range proofs {
		if proof.Id != activeId {
			return false
		}
	}
	return true
}

func sortProofsByAmount(proofs cashu.Proofs) {
	slices.SortFunc(proofs, func(a, b cashu.Proof) int {
		if a.Amount < b.Amount {
			return -1
		}
		return 1
	})
}

func (w *Wallet) deleteProofs(proofs cashu.Proofs) error {
	for _, proof := range proofs {
		if err := w.db.DeleteProof(proof.Secret); err != nil {
			return fmt.Errorf("error removing proof: %v", err)
		}
	}
	return nil
}

// fees returns the input fees the mint charges for spending the proofs.
func (w *Wallet) fees(proofs cashu.Proofs) uint64 {
	var feePpk uint
	for _, proof := range proofs {
		if proof.Id == w.activeKeyset.Id {
			feePpk += w.activeKeyset.InputFeePpk
			continue
		}
		if keyset, ok := w.inactiveKeysets[proof.Id]; ok {
			feePpk += keyset.InputFeePpk
		}
	}
	return uint64((feePpk + 999) / 1000)
}

// feesForCount estimates the fee to spend count proofs from the
// active keyset.
func (w *Wallet) feesForCount(count int) uint64 {
	return uint64((w.activeKeyset.InputFeePpk*uint(count) + 999) / 1000)
}

// createBlindedMessages derives secrets and blinding factors from the
// wallet seed at the keyset's derivation path, advancing the keyset
// counter so restores can find them again.
func (w *Wallet) createBlindedMessages(splitAmounts []uint64, keysetId string) (
	cashu.BlindedMessages, []string, []*secp256k1.PrivateKey, error) {

	keysetPath, err := nut13.DeriveKeysetPath(w.masterKey, keysetId)
	if err != nil {
		return nil, nil, nil, err
	}
	counter := w.db.GetKeysetCounter(keysetId)

	splitLen := len(splitAmounts)
	blindedMessages := make(cashu.BlindedMessages, splitLen)
	secrets := make([]string, splitLen)
	rs := make([]*secp256k1.PrivateKey, splitLen)

	for i, amount := range splitAmounts {
		secret, err := nut13.DeriveSecret(keysetPath, counter+uint32(i))
		if err != nil {
			return nil, nil, nil, err
		}
		r, err := nut13.DeriveBlindingFactor(keysetPath, counter+uint32(i))
		if err != nil {
			return nil, nil, nil, err
		}

		B_, r, err := crypto.BlindMessage(secret, r)
		if err != nil {
			return nil, nil, nil, err
		}

		blindedMessages[i] = cashu.NewBlindedMessage(keysetId, amount, B_)
		secrets[i] = secret
		rs[i] = r
	}

	if err := w.db.IncrementKeysetCounter(keysetId, uint32(splitLen)); err != nil {
		return nil, nil, nil, fmt.Errorf("error incrementing keyset counter: %v", err)
	}

	return blindedMessages, secrets, rs, nil
}

// createBlankOutputs returns amount-0 outputs for overpaid melt fees,
// enough to express any change up to the fee reserve.
func (w *Wallet) createBlankOutputs(feeReserve uint64) (
	cashu.BlindedMessages, []string, []*secp256k1.PrivateKey, error) {

	count := 1
	if feeReserve > 0 {
		count = int(math.Ceil(math.Log2(float64(feeReserve))))
		if count < 1 {
			count = 1
		}
	}

	split := make([]uint64, count)
	return w.createBlindedMessages(split, w.activeKeyset.Id)
}

// constructProofs unblinds the signatures into proofs. Signatures
// carrying a DLEQ proof are checked against the keyset key.
func (w *Wallet) constructProofs(
	signatures cashu.BlindedSignatures,
	blindedMessages cashu.BlindedMessages,
	secrets []string,
	rs []*secp256k1.PrivateKey,
	keyset *crypto.WalletKeyset,
) (cashu.Proofs, error) {

	sigsLen := len(signatures)
	if sigsLen != len(secrets) || sigsLen != len(rs) {
		return nil, errors.New("unequal number of signatures and secrets")
	}

	proofs := make(cashu.Proofs, sigsLen)
	for i, signature := range signatures {
		C_bytes, err := hex.DecodeString(signature.C_)
		if err != nil {
			return nil, err
		}
		C_, err := secp256k1.ParsePubKey(C_bytes)
		if err != nil {
			return nil, err
		}

		K, ok := keyset.PublicKeys[signature.Amount]
		if !ok {
			return nil, errors.New("key for amount not found in keyset")
		}

		var dleq *cashu.DLEQProof
		if signature.DLEQ != nil {
			if !nut12.VerifyBlindSignatureDLEQ(*signature.DLEQ, K, blindedMessages[i].B_, signature.C_) {
				return nil, errors.New("invalid DLEQ proof on blind signature")
			}
			// carry the proof with the blinding factor so a receiver
			// can verify it offline
			dleq = &cashu.DLEQProof{
				E: signature.DLEQ.E,
				S: signature.DLEQ.S,
				R: hex.EncodeToString(rs[i].Serialize()),
			}
		}

		C := crypto.UnblindSignature(C_, rs[i], K)
		proofs[i] = cashu.Proof{
			Amount: signature.Amount,
			Id:     signature.Id,
			Secret: secrets[i],
			C:      hex.EncodeToString(C.SerializeCompressed()),
			DLEQ:   dleq,
		}
	}

	return proofs, nil
}
