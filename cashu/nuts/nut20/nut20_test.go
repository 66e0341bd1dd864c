package nut20

import (
	"encoding/hex"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/walnutd/walnut/cashu"
)

const testQuoteId = "9d745270-1405-46de-b5c5-e2762b4f5e00"

// outputs from the published signature vectors
func testOutputs() cashu.BlindedMessages {
	B_s := []string{
		"0342e5bcc77f5b2a3c2afb40bb591a1e27da83cddc968abdc0ec4904201a201834",
		"032fd3c4dc49a2844a89998d5e9d5b0f0b00dde9310063acb8a92e2fdafa4126d4",
		"033b6fde50b6a0dfe61ad148fff167ad9cf8308ded5f6f6b2fe000a036c464c311",
		"02be5a55f03e5c0aaea77595d574bce92c6d57a2a0fb2b5955c0b87e4520e06b53",
		"02209fc2873f28521cbdde7f7b3bb1521002463f5979686fd156f23fe6a8aa2b79",
	}

	outputs := make(cashu.BlindedMessages, len(B_s))
	for i, B_ := range B_s {
		outputs[i] = cashu.BlindedMessage{Amount: 1, Id: "00456a94ab4e1c46", B_: B_}
	}
	return outputs
}

func TestSignMintQuote(t *testing.T) {
	privateKey, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("error generating key: %v", err)
	}
	outputs := testOutputs()

	sig, err := SignMintQuote(privateKey, testQuoteId, outputs)
	if err != nil {
		t.Fatalf("error signing mint quote: %v", err)
	}
	if !VerifyMintQuoteSignature(sig, testQuoteId, outputs, privateKey.PubKey()) {
		t.Fatal("signature on mint quote did not verify")
	}

	// the signature commits to the quote id and the outputs
	if VerifyMintQuoteSignature(sig, "different-quote-id", outputs, privateKey.PubKey()) {
		t.Fatal("signature verified for a different quote id")
	}
	if VerifyMintQuoteSignature(sig, testQuoteId, outputs[1:], privateKey.PubKey()) {
		t.Fatal("signature verified for different outputs")
	}
}

func TestVerifyMintQuoteSignature(t *testing.T) {
	tests := []struct {
		name      string
		signature string
		valid     bool
	}{
		{
			name:      "valid signature",
			signature: "d4b386f21f7aa7172f0994ee6e4dd966539484247ea71c99b81b8e09b1bb2acbc0026a43c221fd773471dc30d6a32b04692e6837ddaccf0830a63128308e4ee0",
			valid:     true,
		},
		{
			name:      "signature over different message",
			signature: "cb2b8e7ea69362dfe2a07093f2bbc319226db33db2ef686c940b5ec976bcbfc78df0cd35b3e998adf437b09ee2c950bd66dfe9eb64abd706e43ebc7c669c36c3",
			valid:     false,
		},
	}

	pubkeyBytes, err := hex.DecodeString("03d56ce4e446a85bbdaa547b4ec2b073d40ff802831352b8272b7dd7a4de5a7cac")
	if err != nil {
		t.Fatalf("error decoding pubkey: %v", err)
	}
	publicKey, err := secp256k1.ParsePubKey(pubkeyBytes)
	if err != nil {
		t.Fatalf("error parsing pubkey: %v", err)
	}
	outputs := testOutputs()

	for _, test := range tests {
		sigBytes, err := hex.DecodeString(test.signature)
		if err != nil {
			t.Fatalf("error decoding signature: %v", err)
		}
		signature, err := schnorr.ParseSignature(sigBytes)
		if err != nil {
			t.Fatalf("error parsing signature: %v", err)
		}

		if valid := VerifyMintQuoteSignature(signature, testQuoteId, outputs, publicKey); valid != test.valid {
			t.Fatalf("%v: expected '%v' but got '%v' instead", test.name, test.valid, valid)
		}
	}
}
