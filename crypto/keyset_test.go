package crypto

import (
	"encoding/hex"
	"testing"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/tyler-smith/go-bip39"
)

func pubkeyHex(pubkey *secp256k1.PublicKey) string {
	return hex.EncodeToString(pubkey.SerializeCompressed())
}

func TestGenerateKeyset(t *testing.T) {
	seed := bip39.NewSeed("rail sample hedgehog shoot silver sudden tragic practice fashion hunt math fiction", "")
	master, err := MasterKeyFromSeed(seed)
	if err != nil {
		t.Fatalf("error deriving master key: %v", err)
	}

	keyset, err := GenerateKeyset(master, 0, 100)
	if err != nil {
		t.Fatalf("error generating keyset: %v", err)
	}

	if len(keyset.Keys) != maxOrder {
		t.Fatalf("expected '%v' keys but got '%v'", maxOrder, len(keyset.Keys))
	}
	if keyset.InputFeePpk != 100 {
		t.Fatalf("expected input fee ppk '100' but got '%v'", keyset.InputFeePpk)
	}

	for amount, key := range keyset.Keys {
		if amount&(amount-1) != 0 || amount == 0 {
			t.Fatalf("amount '%v' is not a power of two", amount)
		}
		if !key.PrivateKey.PubKey().IsEqual(key.PublicKey) {
			t.Fatalf("public key for amount '%v' does not match private key", amount)
		}
	}

	// same seed and index must derive the same keyset and id
	keyset2, err := GenerateKeyset(master, 0, 100)
	if err != nil {
		t.Fatalf("error generating keyset: %v", err)
	}
	if keyset.Id != keyset2.Id {
		t.Fatalf("derivation not deterministic: ids '%v' and '%v'", keyset.Id, keyset2.Id)
	}

	// a different index must derive a different id
	rotated, err := GenerateKeyset(master, 1, 100)
	if err != nil {
		t.Fatalf("error generating keyset: %v", err)
	}
	if keyset.Id == rotated.Id {
		t.Fatal("rotated keyset derived the same id")
	}
}

func TestDeriveKeysetId(t *testing.T) {
	seed := bip39.NewSeed("rail sample hedgehog shoot silver sudden tragic practice fashion hunt math fiction", "")
	master, err := MasterKeyFromSeed(seed)
	if err != nil {
		t.Fatalf("error deriving master key: %v", err)
	}
	keyset, err := GenerateKeyset(master, 0, 0)
	if err != nil {
		t.Fatalf("error generating keyset: %v", err)
	}

	id := DeriveKeysetId(keyset.PublicKeys())
	if len(id) != 16 {
		t.Fatalf("expected id of length 16 but got '%v'", len(id))
	}
	if id[:2] != "00" {
		t.Fatalf("expected version byte '00' but got '%v'", id[:2])
	}
	if id != keyset.Id {
		t.Fatalf("id '%v' does not match keyset id '%v'", id, keyset.Id)
	}

	// id must be derivable from the published hex keys alone
	hexKeys := make(map[uint64]string, len(keyset.Keys))
	for amount, key := range keyset.Keys {
		hexKeys[amount] = pubkeyHex(key.PublicKey)
	}
	parsed, err := MapPubKeys(hexKeys)
	if err != nil {
		t.Fatalf("error parsing public keys: %v", err)
	}
	if DeriveKeysetId(parsed) != keyset.Id {
		t.Fatal("id derived from published keys does not match")
	}
}
