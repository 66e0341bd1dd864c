// Package nut01 has the structs for the public keys
// that a mint shares with wallets.
package nut01

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"slices"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

type GetKeysResponse struct {
	Keysets []Keyset `json:"keysets"`
}

type Keyset struct {
	Id   string  `json:"id"`
	Unit string  `json:"unit"`
	Keys KeysMap `json:"keys"`
}

type KeysMap map[uint64]*secp256k1.PublicKey

// custom marshaller to display sorted keys
func (km KeysMap) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')

	amounts := make([]uint64, len(km))
	i := 0
	for k := range km {
		amounts[i] = k
		i++
	}
	slices.Sort(amounts)

	for j, amount := range amounts {
		if j != 0 {
			buf.WriteByte(',')
		}

		// marshal key
		key, err := json.Marshal(amount)
		if err != nil {
			return nil, err
		}
		buf.WriteByte('"')
		buf.Write(key)
		buf.WriteByte('"')
		buf.WriteByte(':')
		// marshal value
		pubkey := hex.EncodeToString(km[amount].SerializeCompressed())
		val, err := json.Marshal(pubkey)
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}

	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (km *KeysMap) UnmarshalJSON(data []byte) error {
	var hexKeys map[uint64]string
	if err := json.Unmarshal(data, &hexKeys); err != nil {
		return err
	}

	keys := make(KeysMap, len(hexKeys))
	for amount, hexKey := range hexKeys {
		keyBytes, err := hex.DecodeString(hexKey)
		if err != nil {
			return err
		}
		pubkey, err := secp256k1.ParsePubKey(keyBytes)
		if err != nil {
			return err
		}
		keys[amount] = pubkey
	}

	*km = keys
	return nil
}
