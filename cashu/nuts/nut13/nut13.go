// Package nut13 derives deterministic secrets and blinding factors
// from a wallet seed so that ecash can be recovered from the mnemonic.
//
// The derivation path is m/129372'/0'/keyset_k_int'/counter'/0 for
// secrets and .../1 for blinding factors, where keyset_k_int is the
// keyset id folded into a hardened child index.
package nut13

import (
	"encoding/binary"
	"encoding/hex"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// DeriveKeysetPath derives m/129372'/0'/keyset_k_int' from the
// wallet master key.
func DeriveKeysetPath(master *hdkeychain.ExtendedKey, keysetId string) (*hdkeychain.ExtendedKey, error) {
	keysetBytes, err := hex.DecodeString(keysetId)
	if err != nil {
		return nil, err
	}
	keysetIdInt := binary.BigEndian.Uint64(keysetBytes) % (1<<31 - 1)

	purpose, err := master.Derive(hdkeychain.HardenedKeyStart + 129372)
	if err != nil {
		return nil, err
	}
	coinType, err := purpose.Derive(hdkeychain.HardenedKeyStart + 0)
	if err != nil {
		return nil, err
	}
	return coinType.Derive(hdkeychain.HardenedKeyStart + uint32(keysetIdInt))
}

// DeriveSecret derives the proof secret at the given counter under
// the keyset path.
func DeriveSecret(keysetPath *hdkeychain.ExtendedKey, counter uint32) (string, error) {
	secretPath, err := deriveCounterChild(keysetPath, counter, 0)
	if err != nil {
		return "", err
	}

	secretKey, err := secretPath.ECPrivKey()
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(secretKey.Serialize()), nil
}

// DeriveBlindingFactor derives the blinding factor paired with the
// secret at the given counter.
func DeriveBlindingFactor(keysetPath *hdkeychain.ExtendedKey, counter uint32) (*secp256k1.PrivateKey, error) {
	rPath, err := deriveCounterChild(keysetPath, counter, 1)
	if err != nil {
		return nil, err
	}
	return rPath.ECPrivKey()
}

func deriveCounterChild(keysetPath *hdkeychain.ExtendedKey, counter uint32, child uint32) (*hdkeychain.ExtendedKey, error) {
	counterPath, err := keysetPath.Derive(hdkeychain.HardenedKeyStart + counter)
	if err != nil {
		return nil, err
	}
	return counterPath.Derive(child)
}
