package crypto

import (
	"encoding/hex"
	"testing"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

func TestHashToCurve(t *testing.T) {
	tests := []struct {
		message  string
		expected string
	}{
		{message: "0000000000000000000000000000000000000000000000000000000000000000",
			expected: "024cce997d3b518f739663b757deaec95bcd9473c30a14ac2fd04023a739d1a725"},
		{message: "0000000000000000000000000000000000000000000000000000000000000001",
			expected: "022e7158e11c9506f1aa4248bf531298daa7febd6194f003edcd9b93ade6253acf"},
		{message: "0000000000000000000000000000000000000000000000000000000000000002",
			expected: "026cdbe15362df59cd1dd3c9c11de8aedac2106eca69236ecd9fbe117af897be4f"},
	}

	for _, test := range tests {
		msgBytes, err := hex.DecodeString(test.message)
		if err != nil {
			t.Errorf("error decoding msg: %v", err)
		}

		pk, err := HashToCurve(msgBytes)
		if err != nil {
			t.Errorf("got unexpected error: %v", err)
		}
		hexStr := hex.EncodeToString(pk.SerializeCompressed())
		if hexStr != test.expected {
			t.Errorf("expected '%v' but got '%v' instead", test.expected, hexStr)
		}
	}
}

func TestBlindSignRoundTrip(t *testing.T) {
	secrets := []string{
		"test_message",
		"hello",
		"9becd3a8ce24b53beaf8ffb3b40a1f6b9c6aa5d6f0d3ecebd38c10dbfd6019c1",
	}

	k, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("error generating mint key: %v", err)
	}
	K := k.PubKey()

	for _, secret := range secrets {
		r, err := secp256k1.GeneratePrivateKey()
		if err != nil {
			t.Fatalf("error generating blinding factor: %v", err)
		}

		B_, r, err := BlindMessage(secret, r)
		if err != nil {
			t.Fatalf("error blinding message: %v", err)
		}

		C_ := SignBlindedMessage(B_, k)
		C := UnblindSignature(C_, r, K)

		if !Verify(secret, k, C) {
			t.Errorf("failed verification for secret '%v'", secret)
		}

		// C must equal k * HashToCurve(secret)
		Y, _ := HashToCurve([]byte(secret))
		expected := SignBlindedMessage(Y, k)
		if !C.IsEqual(expected) {
			t.Errorf("unblinded signature does not match k*HashToCurve(secret)")
		}

		// a different secret must not verify against C
		if Verify(secret+"x", k, C) {
			t.Error("verification passed for mutated secret")
		}
	}
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	secret := "test_message"

	k, _ := secp256k1.GeneratePrivateKey()
	r, _ := secp256k1.GeneratePrivateKey()

	B_, r, err := BlindMessage(secret, r)
	if err != nil {
		t.Fatalf("error blinding message: %v", err)
	}
	C_ := SignBlindedMessage(B_, k)
	C := UnblindSignature(C_, r, k.PubKey())

	wrongKey, _ := secp256k1.GeneratePrivateKey()
	if Verify(secret, wrongKey, C) {
		t.Error("verification passed with wrong mint key")
	}
}

func TestDLEQ(t *testing.T) {
	secret := "d5287e9ce4c4f7a77e2b62852a7bb4b2ea4d8100fdc13030d1a603103664cb41"

	k, _ := secp256k1.GeneratePrivateKey()
	r, _ := secp256k1.GeneratePrivateKey()

	B_, _, err := BlindMessage(secret, r)
	if err != nil {
		t.Fatalf("error blinding message: %v", err)
	}
	C_ := SignBlindedMessage(B_, k)

	e, s, err := GenerateDLEQ(k, B_, C_)
	if err != nil {
		t.Fatalf("error generating DLEQ proof: %v", err)
	}

	if !VerifyDLEQ(e, s, k.PubKey(), B_, C_) {
		t.Error("DLEQ proof failed verification")
	}

	// proof must not verify under a different keyset key
	otherKey, _ := secp256k1.GeneratePrivateKey()
	if VerifyDLEQ(e, s, otherKey.PubKey(), B_, C_) {
		t.Error("DLEQ proof verified under wrong public key")
	}

	// altering s must invalidate the proof
	sBytes := s.Serialize()
	sBytes[31] ^= 1
	badS := secp256k1.PrivKeyFromBytes(sBytes)
	if VerifyDLEQ(e, badS, k.PubKey(), B_, C_) {
		t.Error("DLEQ proof verified with altered s")
	}

	// altering C_ must invalidate the proof
	otherC_ := SignBlindedMessage(B_, otherKey)
	if VerifyDLEQ(e, s, k.PubKey(), B_, otherC_) {
		t.Error("DLEQ proof verified with altered C_")
	}
}

func TestZeroBlindingFactor(t *testing.T) {
	var zero secp256k1.ModNScalar
	zeroBytes := zero.Bytes()
	r := secp256k1.PrivKeyFromBytes(zeroBytes[:])

	if _, _, err := BlindMessage("test_message", r); err == nil {
		t.Error("expected error for zero blinding factor")
	}
}
