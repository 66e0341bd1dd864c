package mint

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"math"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/lightningnetwork/lnd/zpay32"
	"github.com/walnutd/walnut/cashu"
	"github.com/walnutd/walnut/cashu/nuts/nut04"
	"github.com/walnutd/walnut/cashu/nuts/nut05"
	"github.com/walnutd/walnut/cashu/nuts/nut07"
	"github.com/walnutd/walnut/cashu/nuts/nut10"
	"github.com/walnutd/walnut/cashu/nuts/nut11"
	"github.com/walnutd/walnut/cashu/nuts/nut14"
	"github.com/walnutd/walnut/cashu/nuts/nut20"
	"github.com/walnutd/walnut/crypto"
	"github.com/walnutd/walnut/mint/lightning"
	"github.com/walnutd/walnut/mint/storage/inmem"
)

func testConfig(fakeBackend *lightning.FakeBackend) Config {
	return Config{
		InputFeePpk:     0,
		LightningClient: fakeBackend,
		LogLevel:        Disable,
	}
}

func testMint(t *testing.T, config Config) *Mint {
	mint, err := LoadMintWithDB(config, inmem.NewInMemDB())
	if err != nil {
		t.Fatalf("error loading mint: %v", err)
	}
	return mint
}

func newBlindedMessage(id string, amount uint64, B_ *secp256k1.PublicKey) cashu.BlindedMessage {
	B_str := hex.EncodeToString(B_.SerializeCompressed())
	return cashu.BlindedMessage{Amount: amount, B_: B_str, Id: id}
}

func createBlindedMessages(amount uint64, keysetId string) (cashu.BlindedMessages, []string, []*secp256k1.PrivateKey, error) {
	splitAmounts := cashu.AmountSplit(amount)

	blindedMessages := make(cashu.BlindedMessages, len(splitAmounts))
	secrets := make([]string, len(splitAmounts))
	rs := make([]*secp256k1.PrivateKey, len(splitAmounts))

	for i, amt := range splitAmounts {
		secretKey, err := secp256k1.GeneratePrivateKey()
		if err != nil {
			return nil, nil, nil, err
		}
		secret := hex.EncodeToString(secretKey.Serialize())

		r, err := secp256k1.GeneratePrivateKey()
		if err != nil {
			return nil, nil, nil, err
		}
		B_, r, err := crypto.BlindMessage(secret, r)
		if err != nil {
			return nil, nil, nil, err
		}

		blindedMessages[i] = newBlindedMessage(keysetId, amt, B_)
		secrets[i] = secret
		rs[i] = r
	}

	return blindedMessages, secrets, rs, nil
}

func blindedMessagesFromSecrets(secrets []string, amounts []uint64, keysetId string) (cashu.BlindedMessages, []*secp256k1.PrivateKey, error) {
	blindedMessages := make(cashu.BlindedMessages, len(secrets))
	rs := make([]*secp256k1.PrivateKey, len(secrets))

	for i, secret := range secrets {
		r, err := secp256k1.GeneratePrivateKey()
		if err != nil {
			return nil, nil, err
		}
		B_, r, err := crypto.BlindMessage(secret, r)
		if err != nil {
			return nil, nil, err
		}
		blindedMessages[i] = newBlindedMessage(keysetId, amounts[i], B_)
		rs[i] = r
	}

	return blindedMessages, rs, nil
}

func constructProofs(
	signatures cashu.BlindedSignatures,
	secrets []string,
	rs []*secp256k1.PrivateKey,
	keyset crypto.MintKeyset,
) (cashu.Proofs, error) {
	proofs := make(cashu.Proofs, len(signatures))
	for i, signature := range signatures {
		C_bytes, err := hex.DecodeString(signature.C_)
		if err != nil {
			return nil, err
		}
		C_, err := secp256k1.ParsePubKey(C_bytes)
		if err != nil {
			return nil, err
		}

		K := keyset.Keys[signature.Amount].PublicKey
		C := crypto.UnblindSignature(C_, rs[i], K)

		proofs[i] = cashu.Proof{
			Amount: signature.Amount,
			Id:     signature.Id,
			Secret: secrets[i],
			C:      hex.EncodeToString(C.SerializeCompressed()),
		}
	}
	return proofs, nil
}

// createInvoiceMsat builds a signed invoice for an amount expressed
// in millisats, which the fake backend cannot produce.
func createInvoiceMsat(msat uint64) (string, error) {
	var random [32]byte
	if _, err := rand.Read(random[:]); err != nil {
		return "", err
	}
	paymentHash := sha256.Sum256(random[:])

	invoice, err := zpay32.NewInvoice(
		&chaincfg.SigNetParams,
		paymentHash,
		time.Now(),
		zpay32.Amount(lnwire.MilliSatoshi(msat)),
		zpay32.Description("test"),
	)
	if err != nil {
		return "", err
	}

	return invoice.Encode(zpay32.MessageSigner{
		SignCompact: func(msg []byte) ([]byte, error) {
			key, err := secp256k1.GeneratePrivateKey()
			if err != nil {
				return nil, err
			}
			return ecdsa.SignCompact(key, msg, true), nil
		},
	})
}

// mintProofs goes through a full quote and issuance flow
// to get valid proofs for the amount.
func mintProofs(t *testing.T, mint *Mint, amount uint64) cashu.Proofs {
	keyset := mint.GetActiveKeyset()

	quote, err := mint.RequestMintQuote(nut04.PostMintQuoteBolt11Request{
		Amount: amount,
		Unit:   cashu.Sat.String(),
	})
	if err != nil {
		t.Fatalf("error requesting mint quote: %v", err)
	}

	blindedMessages, secrets, rs, err := createBlindedMessages(amount, keyset.Id)
	if err != nil {
		t.Fatalf("error creating blinded messages: %v", err)
	}

	signatures, err := mint.MintTokens(nut04.PostMintBolt11Request{
		Quote:   quote.Id,
		Outputs: blindedMessages,
	})
	if err != nil {
		t.Fatalf("error minting tokens: %v", err)
	}

	proofs, err := constructProofs(signatures, secrets, rs, keyset)
	if err != nil {
		t.Fatalf("error constructing proofs: %v", err)
	}
	return proofs
}

// swapProofsForSecrets swaps proofs into new proofs carrying the
// provided secrets. Used to create proofs with spending conditions.
func swapProofsForSecrets(t *testing.T, mint *Mint, proofs cashu.Proofs, secrets []string, amounts []uint64) cashu.Proofs {
	keyset := mint.GetActiveKeyset()

	blindedMessages, rs, err := blindedMessagesFromSecrets(secrets, amounts, keyset.Id)
	if err != nil {
		t.Fatalf("error creating blinded messages: %v", err)
	}

	signatures, err := mint.Swap(proofs, blindedMessages)
	if err != nil {
		t.Fatalf("error swapping proofs: %v", err)
	}

	lockedProofs, err := constructProofs(signatures, secrets, rs, keyset)
	if err != nil {
		t.Fatalf("error constructing proofs: %v", err)
	}
	return lockedProofs
}

func TestRequestMintQuote(t *testing.T) {
	mint := testMint(t, testConfig(&lightning.FakeBackend{}))
	defer mint.Shutdown()

	_, err := mint.RequestMintQuote(nut04.PostMintQuoteBolt11Request{Amount: 21, Unit: "eth"})
	if !errors.Is(err, cashu.UnitNotSupportedErr) {
		t.Fatalf("expected '%v' but got '%v' instead", cashu.UnitNotSupportedErr, err)
	}

	quote, err := mint.RequestMintQuote(nut04.PostMintQuoteBolt11Request{Amount: 21, Unit: cashu.Sat.String()})
	if err != nil {
		t.Fatalf("error requesting mint quote: %v", err)
	}
	if quote.State != nut04.Unpaid {
		t.Fatalf("expected quote state '%v' but got '%v' instead", nut04.Unpaid, quote.State)
	}
	if quote.PaymentRequest == "" {
		t.Fatal("got empty payment request in mint quote")
	}
}

func TestMintQuoteLimits(t *testing.T) {
	config := testConfig(&lightning.FakeBackend{})
	config.Limits = MintLimits{
		MintingSettings: MintMethodSettings{MaxAmount: 1000},
		MaxBalance:      5000,
	}
	mint := testMint(t, config)
	defer mint.Shutdown()

	_, err := mint.RequestMintQuote(nut04.PostMintQuoteBolt11Request{Amount: 5000, Unit: cashu.Sat.String()})
	if !errors.Is(err, cashu.MintAmountExceededErr) {
		t.Fatalf("expected '%v' but got '%v' instead", cashu.MintAmountExceededErr, err)
	}
}

func TestMintTokens(t *testing.T) {
	mint := testMint(t, testConfig(&lightning.FakeBackend{}))
	defer mint.Shutdown()
	keyset := mint.GetActiveKeyset()

	var mintAmount uint64 = 42
	quote, err := mint.RequestMintQuote(nut04.PostMintQuoteBolt11Request{
		Amount: mintAmount,
		Unit:   cashu.Sat.String(),
	})
	if err != nil {
		t.Fatalf("error requesting mint quote: %v", err)
	}

	_, err = mint.MintTokens(nut04.PostMintBolt11Request{Quote: "nonexistent"})
	if !errors.Is(err, cashu.QuoteNotExistErr) {
		t.Fatalf("expected '%v' but got '%v' instead", cashu.QuoteNotExistErr, err)
	}

	// sum of the outputs must match the quote amount
	overBlindedMessages, _, _, err := createBlindedMessages(mintAmount+10, keyset.Id)
	if err != nil {
		t.Fatalf("error creating blinded messages: %v", err)
	}
	_, err = mint.MintTokens(nut04.PostMintBolt11Request{Quote: quote.Id, Outputs: overBlindedMessages})
	if !errors.Is(err, cashu.QuoteAmountMismatchErr) {
		t.Fatalf("expected '%v' but got '%v' instead", cashu.QuoteAmountMismatchErr, err)
	}

	blindedMessages, _, _, err := createBlindedMessages(mintAmount, keyset.Id)
	if err != nil {
		t.Fatalf("error creating blinded messages: %v", err)
	}
	signatures, err := mint.MintTokens(nut04.PostMintBolt11Request{Quote: quote.Id, Outputs: blindedMessages})
	if err != nil {
		t.Fatalf("error minting tokens: %v", err)
	}

	if len(signatures) != len(blindedMessages) {
		t.Fatalf("expected '%v' signatures but got '%v' instead", len(blindedMessages), len(signatures))
	}
	for i, signature := range signatures {
		if signature.Amount != blindedMessages[i].Amount {
			t.Fatalf("expected signature amount '%v' but got '%v' instead",
				blindedMessages[i].Amount, signature.Amount)
		}
		if signature.Id != keyset.Id {
			t.Fatalf("expected signature id '%v' but got '%v' instead", keyset.Id, signature.Id)
		}
		if signature.DLEQ == nil {
			t.Fatal("mint did not attach DLEQ proof to signature")
		}
	}

	// quote can only be issued against once
	_, err = mint.MintTokens(nut04.PostMintBolt11Request{Quote: quote.Id, Outputs: blindedMessages})
	if !errors.Is(err, cashu.MintQuoteAlreadyIssued) {
		t.Fatalf("expected '%v' but got '%v' instead", cashu.MintQuoteAlreadyIssued, err)
	}
}

func TestMintQuoteLockedToPubkey(t *testing.T) {
	mint := testMint(t, testConfig(&lightning.FakeBackend{}))
	defer mint.Shutdown()
	keyset := mint.GetActiveKeyset()

	privateKey, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("error generating key: %v", err)
	}

	var mintAmount uint64 = 21
	quote, err := mint.RequestMintQuote(nut04.PostMintQuoteBolt11Request{
		Amount: mintAmount,
		Unit:   cashu.Sat.String(),
		Pubkey: hex.EncodeToString(privateKey.PubKey().SerializeCompressed()),
	})
	if err != nil {
		t.Fatalf("error requesting mint quote: %v", err)
	}

	blindedMessages, _, _, err := createBlindedMessages(mintAmount, keyset.Id)
	if err != nil {
		t.Fatalf("error creating blinded messages: %v", err)
	}

	// no signature on the minting request
	_, err = mint.MintTokens(nut04.PostMintBolt11Request{Quote: quote.Id, Outputs: blindedMessages})
	if !errors.Is(err, cashu.MintQuoteInvalidSigErr) {
		t.Fatalf("expected '%v' but got '%v' instead", cashu.MintQuoteInvalidSigErr, err)
	}

	// signature from a different key
	wrongKey, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("error generating key: %v", err)
	}
	badSignature, err := nut20.SignMintQuote(wrongKey, quote.Id, blindedMessages)
	if err != nil {
		t.Fatalf("error signing mint quote: %v", err)
	}
	_, err = mint.MintTokens(nut04.PostMintBolt11Request{
		Quote:     quote.Id,
		Outputs:   blindedMessages,
		Signature: hex.EncodeToString(badSignature.Serialize()),
	})
	if !errors.Is(err, cashu.MintQuoteInvalidSigErr) {
		t.Fatalf("expected '%v' but got '%v' instead", cashu.MintQuoteInvalidSigErr, err)
	}

	signature, err := nut20.SignMintQuote(privateKey, quote.Id, blindedMessages)
	if err != nil {
		t.Fatalf("error signing mint quote: %v", err)
	}
	_, err = mint.MintTokens(nut04.PostMintBolt11Request{
		Quote:     quote.Id,
		Outputs:   blindedMessages,
		Signature: hex.EncodeToString(signature.Serialize()),
	})
	if err != nil {
		t.Fatalf("got unexpected error minting with valid signature: %v", err)
	}
}

func TestSwap(t *testing.T) {
	mint := testMint(t, testConfig(&lightning.FakeBackend{}))
	defer mint.Shutdown()
	keyset := mint.GetActiveKeyset()

	var amount uint64 = 64
	proofs := mintProofs(t, mint, amount)

	// outputs over the input amount
	overBlindedMessages, _, _, err := createBlindedMessages(amount+1, keyset.Id)
	if err != nil {
		t.Fatalf("error creating blinded messages: %v", err)
	}
	_, err = mint.Swap(proofs, overBlindedMessages)
	if !errors.Is(err, cashu.InsufficientProofsAmount) {
		t.Fatalf("expected '%v' but got '%v' instead", cashu.InsufficientProofsAmount, err)
	}

	duplicates := make(cashu.Proofs, len(proofs)*2)
	copy(duplicates, proofs)
	copy(duplicates[len(proofs):], proofs)
	blindedMessages, _, _, err := createBlindedMessages(amount*2, keyset.Id)
	if err != nil {
		t.Fatalf("error creating blinded messages: %v", err)
	}
	_, err = mint.Swap(duplicates, blindedMessages)
	if !errors.Is(err, cashu.DuplicateProofs) {
		t.Fatalf("expected '%v' but got '%v' instead", cashu.DuplicateProofs, err)
	}

	blindedMessages, _, _, err = createBlindedMessages(amount, keyset.Id)
	if err != nil {
		t.Fatalf("error creating blinded messages: %v", err)
	}
	signatures, err := mint.Swap(proofs, blindedMessages)
	if err != nil {
		t.Fatalf("error swapping proofs: %v", err)
	}
	if signatures.Amount() != amount {
		t.Fatalf("expected signatures amounting to '%v' but got '%v' instead", amount, signatures.Amount())
	}

	// swapped proofs are now spent
	newBlindedMessages, _, _, err := createBlindedMessages(amount, keyset.Id)
	if err != nil {
		t.Fatalf("error creating blinded messages: %v", err)
	}
	_, err = mint.Swap(proofs, newBlindedMessages)
	if !errors.Is(err, cashu.ProofAlreadyUsedErr) {
		t.Fatalf("expected '%v' but got '%v' instead", cashu.ProofAlreadyUsedErr, err)
	}
}

func TestSwapWithFees(t *testing.T) {
	config := testConfig(&lightning.FakeBackend{})
	config.InputFeePpk = 100
	mint := testMint(t, config)
	defer mint.Shutdown()
	keyset := mint.GetActiveKeyset()

	var amount uint64 = 64
	proofs := mintProofs(t, mint, amount)

	fees := mint.TransactionFees(proofs)
	if fees != 1 {
		t.Fatalf("expected fee of '%v' but got '%v' instead", 1, fees)
	}

	// not accounting for the fee
	blindedMessages, _, _, err := createBlindedMessages(amount, keyset.Id)
	if err != nil {
		t.Fatalf("error creating blinded messages: %v", err)
	}
	_, err = mint.Swap(proofs, blindedMessages)
	if !errors.Is(err, cashu.InsufficientProofsAmount) {
		t.Fatalf("expected '%v' but got '%v' instead", cashu.InsufficientProofsAmount, err)
	}

	blindedMessages, _, _, err = createBlindedMessages(amount-fees, keyset.Id)
	if err != nil {
		t.Fatalf("error creating blinded messages: %v", err)
	}
	if _, err := mint.Swap(proofs, blindedMessages); err != nil {
		t.Fatalf("error swapping proofs: %v", err)
	}
}

func TestTransactionFees(t *testing.T) {
	config := testConfig(&lightning.FakeBackend{})
	config.InputFeePpk = 100
	mint := testMint(t, config)
	defer mint.Shutdown()
	keysetId := mint.GetActiveKeyset().Id

	tests := []struct {
		numInputs   int
		expectedFee uint64
	}{
		{1, 1},
		{10, 1},
		{11, 2},
		{20, 2},
		{21, 3},
	}

	for _, test := range tests {
		inputs := make(cashu.Proofs, test.numInputs)
		for i := 0; i < test.numInputs; i++ {
			inputs[i] = cashu.Proof{Amount: 1, Id: keysetId}
		}
		fee := mint.TransactionFees(inputs)
		if fee != test.expectedFee {
			t.Fatalf("expected fee of '%v' for '%v' inputs but got '%v' instead",
				test.expectedFee, test.numInputs, fee)
		}
	}
}

// Concurrent swaps with the same proofs have to result in
// exactly one success.
func TestConcurrentDoubleSpend(t *testing.T) {
	mint := testMint(t, testConfig(&lightning.FakeBackend{}))
	defer mint.Shutdown()
	keyset := mint.GetActiveKeyset()

	var amount uint64 = 64
	proofs := mintProofs(t, mint, amount)

	const n = 10
	var wg sync.WaitGroup
	errChan := make(chan error, n)

	for i := 0; i < n; i++ {
		blindedMessages, _, _, err := createBlindedMessages(amount, keyset.Id)
		if err != nil {
			t.Fatalf("error creating blinded messages: %v", err)
		}

		wg.Add(1)
		go func(outputs cashu.BlindedMessages) {
			defer wg.Done()
			_, err := mint.Swap(proofs, outputs)
			errChan <- err
		}(blindedMessages)
	}
	wg.Wait()
	close(errChan)

	successes := 0
	for err := range errChan {
		if err == nil {
			successes++
		} else if !errors.Is(err, cashu.ProofAlreadyUsedErr) {
			t.Fatalf("expected '%v' but got '%v' instead", cashu.ProofAlreadyUsedErr, err)
		}
	}
	if successes != 1 {
		t.Fatalf("expected exactly 1 successful swap but got '%v' instead", successes)
	}
}

func TestMelt(t *testing.T) {
	fakeBackend := &lightning.FakeBackend{}
	mint := testMint(t, testConfig(fakeBackend))
	defer mint.Shutdown()

	var amount uint64 = 64
	proofs := mintProofs(t, mint, amount)

	// invoice from an external node
	external := &lightning.FakeBackend{}
	invoice, err := external.CreateInvoice(21)
	if err != nil {
		t.Fatalf("error creating invoice: %v", err)
	}

	_, err = mint.RequestMeltQuote(nut05.PostMeltQuoteBolt11Request{Request: invoice.PaymentRequest, Unit: "eth"})
	if !errors.Is(err, cashu.UnitNotSupportedErr) {
		t.Fatalf("expected '%v' but got '%v' instead", cashu.UnitNotSupportedErr, err)
	}

	meltQuote, err := mint.RequestMeltQuote(nut05.PostMeltQuoteBolt11Request{
		Request: invoice.PaymentRequest,
		Unit:    cashu.Sat.String(),
	})
	if err != nil {
		t.Fatalf("error requesting melt quote: %v", err)
	}
	if meltQuote.Amount != 21 {
		t.Fatalf("expected melt quote amount '%v' but got '%v' instead", 21, meltQuote.Amount)
	}

	// melt quote for the same invoice already exists
	_, err = mint.RequestMeltQuote(nut05.PostMeltQuoteBolt11Request{
		Request: invoice.PaymentRequest,
		Unit:    cashu.Sat.String(),
	})
	if !errors.Is(err, cashu.MeltQuoteForRequestExists) {
		t.Fatalf("expected '%v' but got '%v' instead", cashu.MeltQuoteForRequestExists, err)
	}

	melt, _, err := mint.MeltTokens(context.Background(), nut05.PostMeltBolt11Request{
		Quote:  meltQuote.Id,
		Inputs: proofs,
	})
	if err != nil {
		t.Fatalf("error melting tokens: %v", err)
	}
	if melt.State != nut05.Paid {
		t.Fatalf("expected melt quote state '%v' but got '%v' instead", nut05.Paid, melt.State)
	}
	if melt.Preimage == "" {
		t.Fatal("got empty preimage in settled melt quote")
	}

	// proofs got invalidated by the melt
	Ys, err := proofs.Ys()
	if err != nil {
		t.Fatalf("error deriving Ys: %v", err)
	}
	states, err := mint.ProofsStateCheck(Ys)
	if err != nil {
		t.Fatalf("error checking proof states: %v", err)
	}
	for _, state := range states {
		if state.State != nut07.Spent {
			t.Fatalf("expected proof state '%v' but got '%v' instead", nut07.Spent, state.State)
		}
	}

	// quote already paid
	_, _, err = mint.MeltTokens(context.Background(), nut05.PostMeltBolt11Request{
		Quote:  meltQuote.Id,
		Inputs: proofs,
	})
	if !errors.Is(err, cashu.MeltQuoteAlreadyPaid) {
		t.Fatalf("expected '%v' but got '%v' instead", cashu.MeltQuoteAlreadyPaid, err)
	}
}

func TestMeltQuoteSubSatInvoice(t *testing.T) {
	mint := testMint(t, testConfig(&lightning.FakeBackend{}))
	defer mint.Shutdown()

	request, err := createInvoiceMsat(500)
	if err != nil {
		t.Fatalf("error creating invoice: %v", err)
	}

	_, err = mint.RequestMeltQuote(nut05.PostMeltQuoteBolt11Request{
		Request: request,
		Unit:    cashu.Sat.String(),
	})
	var cashuErr *cashu.Error
	if !errors.As(err, &cashuErr) || cashuErr.Code != cashu.MeltQuoteErrCode {
		t.Fatalf("expected melt quote error for sub-sat invoice but got '%v' instead", err)
	}
}

// Two melts racing on the same quote with different proof sets must
// not both pay the invoice.
func TestConcurrentMelt(t *testing.T) {
	mint := testMint(t, testConfig(&lightning.FakeBackend{}))
	defer mint.Shutdown()

	proofSets := make([]cashu.Proofs, 2)
	for i := range proofSets {
		proofSets[i] = mintProofs(t, mint, 64)
	}

	external := &lightning.FakeBackend{}
	invoice, err := external.CreateInvoice(21)
	if err != nil {
		t.Fatalf("error creating invoice: %v", err)
	}
	meltQuote, err := mint.RequestMeltQuote(nut05.PostMeltQuoteBolt11Request{
		Request: invoice.PaymentRequest,
		Unit:    cashu.Sat.String(),
	})
	if err != nil {
		t.Fatalf("error requesting melt quote: %v", err)
	}

	var wg sync.WaitGroup
	errs := make([]error, len(proofSets))
	for i := range proofSets {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, errs[i] = mint.MeltTokens(context.Background(), nut05.PostMeltBolt11Request{
				Quote:  meltQuote.Id,
				Inputs: proofSets[i],
			})
		}(i)
	}
	wg.Wait()

	successes := 0
	for i, meltErr := range errs {
		if meltErr == nil {
			successes++
			continue
		}
		if !errors.Is(meltErr, cashu.MeltQuoteAlreadyPaid) && !errors.Is(meltErr, cashu.QuotePending) {
			t.Fatalf("expected quote paid or pending error but got '%v' instead", meltErr)
		}

		// the losing proofs were never reserved or spent
		Ys, err := proofSets[i].Ys()
		if err != nil {
			t.Fatalf("error deriving Ys: %v", err)
		}
		states, err := mint.ProofsStateCheck(Ys)
		if err != nil {
			t.Fatalf("error checking proof states: %v", err)
		}
		for _, state := range states {
			if state.State != nut07.Unspent {
				t.Fatalf("expected proof state '%v' but got '%v' instead", nut07.Unspent, state.State)
			}
		}
	}
	if successes != 1 {
		t.Fatalf("expected exactly 1 successful melt but got '%v' instead", successes)
	}
}

func TestMeltChange(t *testing.T) {
	fakeBackend := &lightning.FakeBackend{}
	mint := testMint(t, testConfig(fakeBackend))
	defer mint.Shutdown()
	keyset := mint.GetActiveKeyset()

	var amount uint64 = 64
	proofs := mintProofs(t, mint, amount)

	external := &lightning.FakeBackend{}
	invoice, err := external.CreateInvoice(21)
	if err != nil {
		t.Fatalf("error creating invoice: %v", err)
	}
	meltQuote, err := mint.RequestMeltQuote(nut05.PostMeltQuoteBolt11Request{
		Request: invoice.PaymentRequest,
		Unit:    cashu.Sat.String(),
	})
	if err != nil {
		t.Fatalf("error requesting melt quote: %v", err)
	}

	// blank outputs for the overpaid amount
	blankOutputs := make(cashu.BlindedMessages, 8)
	rs := make([]*secp256k1.PrivateKey, 8)
	secrets := make([]string, 8)
	for i := 0; i < 8; i++ {
		secretKey, err := secp256k1.GeneratePrivateKey()
		if err != nil {
			t.Fatalf("error generating key: %v", err)
		}
		secrets[i] = hex.EncodeToString(secretKey.Serialize())
		r, err := secp256k1.GeneratePrivateKey()
		if err != nil {
			t.Fatalf("error generating key: %v", err)
		}
		B_, r, err := crypto.BlindMessage(secrets[i], r)
		if err != nil {
			t.Fatalf("error blinding message: %v", err)
		}
		blankOutputs[i] = newBlindedMessage(keyset.Id, 0, B_)
		rs[i] = r
	}

	melt, change, err := mint.MeltTokens(context.Background(), nut05.PostMeltBolt11Request{
		Quote:   meltQuote.Id,
		Inputs:  proofs,
		Outputs: blankOutputs,
	})
	if err != nil {
		t.Fatalf("error melting tokens: %v", err)
	}
	if melt.State != nut05.Paid {
		t.Fatalf("expected melt quote state '%v' but got '%v' instead", nut05.Paid, melt.State)
	}

	// FakeBackend has no fee reserve so the whole overpaid
	// amount comes back
	expectedChange := amount - meltQuote.Amount
	if change.Amount() != expectedChange {
		t.Fatalf("expected change amounting to '%v' but got '%v' instead", expectedChange, change.Amount())
	}
}

// Change is based on the fee the payment actually cost, not on the
// fee reserve quoted upfront.
func TestMeltChangeActualFee(t *testing.T) {
	tests := []struct {
		reserve        uint64
		paymentFee     uint64
		expectedChange uint64
	}{
		// whole reserve unused
		{reserve: 2, paymentFee: 0, expectedChange: 43},
		// part of the reserve spent on routing
		{reserve: 2, paymentFee: 1, expectedChange: 42},
		// whole reserve spent
		{reserve: 2, paymentFee: 2, expectedChange: 41},
	}

	for _, test := range tests {
		fakeBackend := &lightning.FakeBackend{
			Reserve:    test.reserve,
			PaymentFee: test.paymentFee,
		}
		mint := testMint(t, testConfig(fakeBackend))
		keyset := mint.GetActiveKeyset()

		var amount uint64 = 64
		proofs := mintProofs(t, mint, amount)

		external := &lightning.FakeBackend{}
		invoice, err := external.CreateInvoice(21)
		if err != nil {
			t.Fatalf("error creating invoice: %v", err)
		}
		meltQuote, err := mint.RequestMeltQuote(nut05.PostMeltQuoteBolt11Request{
			Request: invoice.PaymentRequest,
			Unit:    cashu.Sat.String(),
		})
		if err != nil {
			t.Fatalf("error requesting melt quote: %v", err)
		}
		if meltQuote.FeeReserve != test.reserve {
			t.Fatalf("expected fee reserve '%v' but got '%v' instead", test.reserve, meltQuote.FeeReserve)
		}

		blankOutputs, _, _, err := createBlindedMessages(63, keyset.Id)
		if err != nil {
			t.Fatalf("error creating blinded messages: %v", err)
		}
		for i := range blankOutputs {
			blankOutputs[i].Amount = 0
		}

		_, change, err := mint.MeltTokens(context.Background(), nut05.PostMeltBolt11Request{
			Quote:   meltQuote.Id,
			Inputs:  proofs,
			Outputs: blankOutputs,
		})
		if err != nil {
			t.Fatalf("error melting tokens: %v", err)
		}
		if change.Amount() != test.expectedChange {
			t.Fatalf("expected change amounting to '%v' but got '%v' instead",
				test.expectedChange, change.Amount())
		}
		mint.Shutdown()
	}
}

func TestMeltFailureRollback(t *testing.T) {
	fakeBackend := &lightning.FakeBackend{PaymentOutcome: lightning.Failed}
	mint := testMint(t, testConfig(fakeBackend))
	defer mint.Shutdown()

	var amount uint64 = 64
	proofs := mintProofs(t, mint, amount)

	external := &lightning.FakeBackend{}
	invoice, err := external.CreateInvoice(21)
	if err != nil {
		t.Fatalf("error creating invoice: %v", err)
	}
	meltQuote, err := mint.RequestMeltQuote(nut05.PostMeltQuoteBolt11Request{
		Request: invoice.PaymentRequest,
		Unit:    cashu.Sat.String(),
	})
	if err != nil {
		t.Fatalf("error requesting melt quote: %v", err)
	}

	_, _, err = mint.MeltTokens(context.Background(), nut05.PostMeltBolt11Request{
		Quote:  meltQuote.Id,
		Inputs: proofs,
	})
	if err == nil {
		t.Fatal("expected error for failed payment but got nil")
	}

	// quote is back to unpaid and the proofs are released
	quote, err := mint.GetMeltQuoteState(context.Background(), meltQuote.Id)
	if err != nil {
		t.Fatalf("error getting melt quote state: %v", err)
	}
	if quote.State != nut05.Unpaid {
		t.Fatalf("expected melt quote state '%v' but got '%v' instead", nut05.Unpaid, quote.State)
	}

	Ys, err := proofs.Ys()
	if err != nil {
		t.Fatalf("error deriving Ys: %v", err)
	}
	states, err := mint.ProofsStateCheck(Ys)
	if err != nil {
		t.Fatalf("error checking proof states: %v", err)
	}
	for _, state := range states {
		if state.State != nut07.Unspent {
			t.Fatalf("expected proof state '%v' but got '%v' instead", nut07.Unspent, state.State)
		}
	}

	// released proofs can be melted again after the backend recovers
	fakeBackend.PaymentOutcome = lightning.Succeeded
	melt, _, err := mint.MeltTokens(context.Background(), nut05.PostMeltBolt11Request{
		Quote:  meltQuote.Id,
		Inputs: proofs,
	})
	if err != nil {
		t.Fatalf("error melting tokens: %v", err)
	}
	if melt.State != nut05.Paid {
		t.Fatalf("expected melt quote state '%v' but got '%v' instead", nut05.Paid, melt.State)
	}
}

func TestMeltPending(t *testing.T) {
	fakeBackend := &lightning.FakeBackend{PaymentOutcome: lightning.Pending}
	mint := testMint(t, testConfig(fakeBackend))
	defer mint.Shutdown()

	var amount uint64 = 64
	proofs := mintProofs(t, mint, amount)

	external := &lightning.FakeBackend{}
	invoice, err := external.CreateInvoice(21)
	if err != nil {
		t.Fatalf("error creating invoice: %v", err)
	}
	meltQuote, err := mint.RequestMeltQuote(nut05.PostMeltQuoteBolt11Request{
		Request: invoice.PaymentRequest,
		Unit:    cashu.Sat.String(),
	})
	if err != nil {
		t.Fatalf("error requesting melt quote: %v", err)
	}

	melt, _, err := mint.MeltTokens(context.Background(), nut05.PostMeltBolt11Request{
		Quote:  meltQuote.Id,
		Inputs: proofs,
	})
	if err != nil {
		t.Fatalf("error melting tokens: %v", err)
	}
	if melt.State != nut05.Pending {
		t.Fatalf("expected melt quote state '%v' but got '%v' instead", nut05.Pending, melt.State)
	}

	// proofs stay reserved while the payment is in flight
	Ys, err := proofs.Ys()
	if err != nil {
		t.Fatalf("error deriving Ys: %v", err)
	}
	states, err := mint.ProofsStateCheck(Ys)
	if err != nil {
		t.Fatalf("error checking proof states: %v", err)
	}
	for _, state := range states {
		if state.State != nut07.Pending {
			t.Fatalf("expected proof state '%v' but got '%v' instead", nut07.Pending, state.State)
		}
	}

	// reserved proofs cannot enter another transaction
	blindedMessages, _, _, err := createBlindedMessages(amount, mint.GetActiveKeyset().Id)
	if err != nil {
		t.Fatalf("error creating blinded messages: %v", err)
	}
	_, err = mint.Swap(proofs, blindedMessages)
	if !errors.Is(err, cashu.ProofPendingErr) {
		t.Fatalf("expected '%v' but got '%v' instead", cashu.ProofPendingErr, err)
	}

	// payment eventually settles
	fakeBackend.PaymentOutcome = lightning.Succeeded
	quote, err := mint.GetMeltQuoteState(context.Background(), meltQuote.Id)
	if err != nil {
		t.Fatalf("error getting melt quote state: %v", err)
	}
	if quote.State != nut05.Paid {
		t.Fatalf("expected melt quote state '%v' but got '%v' instead", nut05.Paid, quote.State)
	}

	states, err = mint.ProofsStateCheck(Ys)
	if err != nil {
		t.Fatalf("error checking proof states: %v", err)
	}
	for _, state := range states {
		if state.State != nut07.Spent {
			t.Fatalf("expected proof state '%v' but got '%v' instead", nut07.Spent, state.State)
		}
	}
}

// A melt paying an invoice from one of the mint's own quotes settles
// internally without going through the payment backend.
func TestInternalMelt(t *testing.T) {
	mint := testMint(t, testConfig(&lightning.FakeBackend{}))
	defer mint.Shutdown()

	var amount uint64 = 64
	proofs := mintProofs(t, mint, amount)

	mintQuote, err := mint.RequestMintQuote(nut04.PostMintQuoteBolt11Request{
		Amount: 21,
		Unit:   cashu.Sat.String(),
	})
	if err != nil {
		t.Fatalf("error requesting mint quote: %v", err)
	}

	meltQuote, err := mint.RequestMeltQuote(nut05.PostMeltQuoteBolt11Request{
		Request: mintQuote.PaymentRequest,
		Unit:    cashu.Sat.String(),
	})
	if err != nil {
		t.Fatalf("error requesting melt quote: %v", err)
	}
	if meltQuote.FeeReserve != 0 {
		t.Fatalf("expected no fee reserve for internal melt but got '%v'", meltQuote.FeeReserve)
	}

	melt, _, err := mint.MeltTokens(context.Background(), nut05.PostMeltBolt11Request{
		Quote:  meltQuote.Id,
		Inputs: proofs,
	})
	if err != nil {
		t.Fatalf("error melting tokens: %v", err)
	}
	if melt.State != nut05.Paid {
		t.Fatalf("expected melt quote state '%v' but got '%v' instead", nut05.Paid, melt.State)
	}

	// the matching mint quote got marked as paid
	quote, err := mint.GetMintQuoteState(mintQuote.Id)
	if err != nil {
		t.Fatalf("error getting mint quote state: %v", err)
	}
	if quote.State != nut04.Paid {
		t.Fatalf("expected mint quote state '%v' but got '%v' instead", nut04.Paid, quote.State)
	}
}

func TestP2PKSpending(t *testing.T) {
	mint := testMint(t, testConfig(&lightning.FakeBackend{}))
	defer mint.Shutdown()
	keyset := mint.GetActiveKeyset()

	lockKey, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("error generating key: %v", err)
	}

	var amount uint64 = 64
	proofs := mintProofs(t, mint, amount)

	secret, err := nut11.P2PKSecret(hex.EncodeToString(lockKey.PubKey().SerializeCompressed()))
	if err != nil {
		t.Fatalf("error creating P2PK secret: %v", err)
	}
	lockedProofs := swapProofsForSecrets(t, mint, proofs, []string{secret}, []uint64{amount})

	// spending without the witness
	blindedMessages, _, _, err := createBlindedMessages(amount, keyset.Id)
	if err != nil {
		t.Fatalf("error creating blinded messages: %v", err)
	}
	_, err = mint.Swap(lockedProofs, blindedMessages)
	if !errors.Is(err, nut11.EmptyWitnessErr) {
		t.Fatalf("expected '%v' but got '%v' instead", nut11.EmptyWitnessErr, err)
	}

	// signature from the wrong key
	wrongKey, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("error generating key: %v", err)
	}
	badProofs := make(cashu.Proofs, len(lockedProofs))
	copy(badProofs, lockedProofs)
	badProofs, err = nut11.AddSignatureToInputs(badProofs, wrongKey)
	if err != nil {
		t.Fatalf("error signing proofs: %v", err)
	}
	_, err = mint.Swap(badProofs, blindedMessages)
	if !errors.Is(err, nut11.NotEnoughSignaturesErr) {
		t.Fatalf("expected '%v' but got '%v' instead", nut11.NotEnoughSignaturesErr, err)
	}

	signedProofs, err := nut11.AddSignatureToInputs(lockedProofs, lockKey)
	if err != nil {
		t.Fatalf("error signing proofs: %v", err)
	}
	if _, err := mint.Swap(signedProofs, blindedMessages); err != nil {
		t.Fatalf("error swapping signed proofs: %v", err)
	}
}

func TestP2PKLocktime(t *testing.T) {
	mint := testMint(t, testConfig(&lightning.FakeBackend{}))
	defer mint.Shutdown()
	keyset := mint.GetActiveKeyset()

	lockKey, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("error generating key: %v", err)
	}

	var amount uint64 = 64
	proofs := mintProofs(t, mint, amount)

	// lock expired in the past with no refund keys, so the
	// proof is spendable by anyone
	pastLocktime := time.Now().Add(-time.Minute).Unix()
	secret, err := nut10.NewSecretFromSpendingCondition(nut10.SpendingCondition{
		Kind: nut10.P2PK,
		Data: hex.EncodeToString(lockKey.PubKey().SerializeCompressed()),
		Tags: [][]string{{nut11.LOCKTIME, strconv.FormatInt(pastLocktime, 10)}},
	})
	if err != nil {
		t.Fatalf("error creating secret: %v", err)
	}
	expiredProofs := swapProofsForSecrets(t, mint, proofs, []string{secret}, []uint64{amount})

	blindedMessages, _, _, err := createBlindedMessages(amount, keyset.Id)
	if err != nil {
		t.Fatalf("error creating blinded messages: %v", err)
	}
	if _, err := mint.Swap(expiredProofs, blindedMessages); err != nil {
		t.Fatalf("error swapping expired lock without witness: %v", err)
	}
}

func TestP2PKRefund(t *testing.T) {
	mint := testMint(t, testConfig(&lightning.FakeBackend{}))
	defer mint.Shutdown()
	keyset := mint.GetActiveKeyset()

	lockKey, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("error generating key: %v", err)
	}
	refundKey, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("error generating key: %v", err)
	}

	var amount uint64 = 64
	proofs := mintProofs(t, mint, amount)

	pastLocktime := time.Now().Add(-time.Minute).Unix()
	secret, err := nut10.NewSecretFromSpendingCondition(nut10.SpendingCondition{
		Kind: nut10.P2PK,
		Data: hex.EncodeToString(lockKey.PubKey().SerializeCompressed()),
		Tags: [][]string{
			{nut11.LOCKTIME, strconv.FormatInt(pastLocktime, 10)},
			{nut11.REFUND, hex.EncodeToString(refundKey.PubKey().SerializeCompressed())},
		},
	})
	if err != nil {
		t.Fatalf("error creating secret: %v", err)
	}
	lockedProofs := swapProofsForSecrets(t, mint, proofs, []string{secret}, []uint64{amount})

	blindedMessages, _, _, err := createBlindedMessages(amount, keyset.Id)
	if err != nil {
		t.Fatalf("error creating blinded messages: %v", err)
	}

	// after the locktime only the refund key can spend
	badProofs := make(cashu.Proofs, len(lockedProofs))
	copy(badProofs, lockedProofs)
	badProofs, err = nut11.AddSignatureToInputs(badProofs, lockKey)
	if err != nil {
		t.Fatalf("error signing proofs: %v", err)
	}
	_, err = mint.Swap(badProofs, blindedMessages)
	if !errors.Is(err, nut11.NotEnoughSignaturesErr) {
		t.Fatalf("expected '%v' but got '%v' instead", nut11.NotEnoughSignaturesErr, err)
	}

	refundProofs, err := nut11.AddSignatureToInputs(lockedProofs, refundKey)
	if err != nil {
		t.Fatalf("error signing proofs: %v", err)
	}
	if _, err := mint.Swap(refundProofs, blindedMessages); err != nil {
		t.Fatalf("error swapping with refund signature: %v", err)
	}
}

func TestHTLCSpending(t *testing.T) {
	mint := testMint(t, testConfig(&lightning.FakeBackend{}))
	defer mint.Shutdown()
	keyset := mint.GetActiveKeyset()

	var amount uint64 = 64
	proofs := mintProofs(t, mint, amount)

	preimage := "111111"
	secret, err := nut14.HTLCSecret(preimage)
	if err != nil {
		t.Fatalf("error creating HTLC secret: %v", err)
	}
	lockedProofs := swapProofsForSecrets(t, mint, proofs, []string{secret}, []uint64{amount})

	blindedMessages, _, _, err := createBlindedMessages(amount, keyset.Id)
	if err != nil {
		t.Fatalf("error creating blinded messages: %v", err)
	}

	// spending without the preimage
	_, err = mint.Swap(lockedProofs, blindedMessages)
	if !errors.Is(err, nut11.EmptyWitnessErr) {
		t.Fatalf("expected '%v' but got '%v' instead", nut11.EmptyWitnessErr, err)
	}

	// wrong preimage
	badProofs := make(cashu.Proofs, len(lockedProofs))
	copy(badProofs, lockedProofs)
	badProofs, err = nut14.AddWitnessHTLC(badProofs, "222222", nil)
	if err != nil {
		t.Fatalf("error adding witness: %v", err)
	}
	_, err = mint.Swap(badProofs, blindedMessages)
	if !errors.Is(err, nut14.InvalidPreimageErr) {
		t.Fatalf("expected '%v' but got '%v' instead", nut14.InvalidPreimageErr, err)
	}

	unlockedProofs, err := nut14.AddWitnessHTLC(lockedProofs, preimage, nil)
	if err != nil {
		t.Fatalf("error adding witness: %v", err)
	}
	if _, err := mint.Swap(unlockedProofs, blindedMessages); err != nil {
		t.Fatalf("error swapping proofs with preimage: %v", err)
	}
}

func TestHTLCWithSignature(t *testing.T) {
	mint := testMint(t, testConfig(&lightning.FakeBackend{}))
	defer mint.Shutdown()
	keyset := mint.GetActiveKeyset()

	lockKey, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("error generating key: %v", err)
	}

	var amount uint64 = 64
	proofs := mintProofs(t, mint, amount)

	preimage := "111111"
	preimageBytes, err := hex.DecodeString(preimage)
	if err != nil {
		t.Fatalf("error decoding preimage: %v", err)
	}
	hashLock := sha256.Sum256(preimageBytes)

	secret, err := nut10.NewSecretFromSpendingCondition(nut10.SpendingCondition{
		Kind: nut10.HTLC,
		Data: hex.EncodeToString(hashLock[:]),
		Tags: [][]string{{nut11.PUBKEYS, hex.EncodeToString(lockKey.PubKey().SerializeCompressed())}},
	})
	if err != nil {
		t.Fatalf("error creating secret: %v", err)
	}
	lockedProofs := swapProofsForSecrets(t, mint, proofs, []string{secret}, []uint64{amount})

	blindedMessages, _, _, err := createBlindedMessages(amount, keyset.Id)
	if err != nil {
		t.Fatalf("error creating blinded messages: %v", err)
	}

	// preimage alone is not enough when a pubkey is set
	badProofs := make(cashu.Proofs, len(lockedProofs))
	copy(badProofs, lockedProofs)
	badProofs, err = nut14.AddWitnessHTLC(badProofs, preimage, nil)
	if err != nil {
		t.Fatalf("error adding witness: %v", err)
	}
	_, err = mint.Swap(badProofs, blindedMessages)
	if !errors.Is(err, nut11.NotEnoughSignaturesErr) {
		t.Fatalf("expected '%v' but got '%v' instead", nut11.NotEnoughSignaturesErr, err)
	}

	unlockedProofs, err := nut14.AddWitnessHTLC(lockedProofs, preimage, lockKey)
	if err != nil {
		t.Fatalf("error adding witness: %v", err)
	}
	if _, err := mint.Swap(unlockedProofs, blindedMessages); err != nil {
		t.Fatalf("error swapping proofs with preimage and signature: %v", err)
	}
}

func TestKeysetRotation(t *testing.T) {
	mint := testMint(t, testConfig(&lightning.FakeBackend{}))
	defer mint.Shutdown()
	oldKeyset := mint.GetActiveKeyset()

	var amount uint64 = 64
	proofs := mintProofs(t, mint, amount)

	newKeyset, err := mint.RotateKeyset(100)
	if err != nil {
		t.Fatalf("error rotating keyset: %v", err)
	}
	if newKeyset.Id == oldKeyset.Id {
		t.Fatal("rotation did not produce a new keyset")
	}
	if mint.GetActiveKeyset().Id != newKeyset.Id {
		t.Fatalf("expected active keyset '%v' but got '%v' instead",
			newKeyset.Id, mint.GetActiveKeyset().Id)
	}

	// outputs on the old keyset are rejected
	blindedMessages, _, _, err := createBlindedMessages(amount, oldKeyset.Id)
	if err != nil {
		t.Fatalf("error creating blinded messages: %v", err)
	}
	_, err = mint.Swap(proofs, blindedMessages)
	if !errors.Is(err, cashu.InactiveKeysetSignatureRequest) {
		t.Fatalf("expected '%v' but got '%v' instead", cashu.InactiveKeysetSignatureRequest, err)
	}

	// proofs from the old keyset stay redeemable, accounting for
	// the new keyset's fee
	fees := mint.TransactionFees(proofs)
	blindedMessages, _, _, err = createBlindedMessages(amount-fees, newKeyset.Id)
	if err != nil {
		t.Fatalf("error creating blinded messages: %v", err)
	}
	if _, err := mint.Swap(proofs, blindedMessages); err != nil {
		t.Fatalf("error swapping proofs from previous keyset: %v", err)
	}
}

func TestRestoreSignatures(t *testing.T) {
	mint := testMint(t, testConfig(&lightning.FakeBackend{}))
	defer mint.Shutdown()
	keyset := mint.GetActiveKeyset()

	var amount uint64 = 42
	quote, err := mint.RequestMintQuote(nut04.PostMintQuoteBolt11Request{
		Amount: amount,
		Unit:   cashu.Sat.String(),
	})
	if err != nil {
		t.Fatalf("error requesting mint quote: %v", err)
	}

	blindedMessages, _, _, err := createBlindedMessages(amount, keyset.Id)
	if err != nil {
		t.Fatalf("error creating blinded messages: %v", err)
	}
	signatures, err := mint.MintTokens(nut04.PostMintBolt11Request{Quote: quote.Id, Outputs: blindedMessages})
	if err != nil {
		t.Fatalf("error minting tokens: %v", err)
	}

	// unknown outputs mixed in with the previously signed ones
	unknown, _, _, err := createBlindedMessages(8, keyset.Id)
	if err != nil {
		t.Fatalf("error creating blinded messages: %v", err)
	}
	request := append(cashu.BlindedMessages{}, blindedMessages...)
	request = append(request, unknown...)

	outputs, restored, err := mint.RestoreSignatures(request)
	if err != nil {
		t.Fatalf("error restoring signatures: %v", err)
	}
	if len(outputs) != len(blindedMessages) {
		t.Fatalf("expected '%v' restored outputs but got '%v' instead", len(blindedMessages), len(outputs))
	}
	for i, signature := range restored {
		if signature.C_ != signatures[i].C_ {
			t.Fatalf("expected restored signature '%v' but got '%v' instead", signatures[i].C_, signature.C_)
		}
	}
}

func TestOverflowHelpers(t *testing.T) {
	if !overflowAddUint64(math.MaxUint64, 1) {
		t.Fatal("expected overflow")
	}
	if overflowAddUint64(math.MaxUint64-1, 1) {
		t.Fatal("did not expect overflow")
	}
	if !underflowSubUint64(1, 2) {
		t.Fatal("expected underflow")
	}
	if underflowSubUint64(2, 1) {
		t.Fatal("did not expect underflow")
	}
}
