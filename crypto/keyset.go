package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

const maxOrder = 64

type KeyPair struct {
	PrivateKey *secp256k1.PrivateKey
	PublicKey  *secp256k1.PublicKey
}

// MintKeyset holds one keypair per power-of-two amount. It is owned by the
// mint and never leaves it; only the public keys are published.
type MintKeyset struct {
	Id                string
	Unit              string
	Active            bool
	DerivationPathIdx uint32
	Keys              map[uint64]KeyPair
	InputFeePpk       uint
}

// WalletKeyset is the public half of a mint keyset as seen by a wallet.
type WalletKeyset struct {
	Id          string
	MintURL     string
	Unit        string
	Active      bool
	PublicKeys  map[uint64]*secp256k1.PublicKey
	Counter     uint32
	InputFeePpk uint
}

type walletKeysetTemp struct {
	Id          string
	MintURL     string
	Unit        string
	Active      bool
	PublicKeys  map[uint64]string
	Counter     uint32
	InputFeePpk uint
}

func (wk *WalletKeyset) MarshalJSON() ([]byte, error) {
	publicKeys := make(map[uint64]string, len(wk.PublicKeys))
	for amount, key := range wk.PublicKeys {
		publicKeys[amount] = hex.EncodeToString(key.SerializeCompressed())
	}

	return json.Marshal(&walletKeysetTemp{
		Id:          wk.Id,
		MintURL:     wk.MintURL,
		Unit:        wk.Unit,
		Active:      wk.Active,
		PublicKeys:  publicKeys,
		Counter:     wk.Counter,
		InputFeePpk: wk.InputFeePpk,
	})
}

func (wk *WalletKeyset) UnmarshalJSON(data []byte) error {
	var temp walletKeysetTemp
	if err := json.Unmarshal(data, &temp); err != nil {
		return err
	}

	publicKeys, err := MapPubKeys(temp.PublicKeys)
	if err != nil {
		return err
	}

	wk.Id = temp.Id
	wk.MintURL = temp.MintURL
	wk.Unit = temp.Unit
	wk.Active = temp.Active
	wk.PublicKeys = publicKeys
	wk.Counter = temp.Counter
	wk.InputFeePpk = temp.InputFeePpk
	return nil
}

// GenerateKeyset derives a keyset from the master key at
// m/0'/unit'/index', with one child key per amount index.
func GenerateKeyset(master *hdkeychain.ExtendedKey, index uint32, inputFeePpk uint) (*MintKeyset, error) {
	purpose, err := master.Derive(hdkeychain.HardenedKeyStart + 0)
	if err != nil {
		return nil, fmt.Errorf("error deriving purpose: %v", err)
	}

	// unit 0 = sat
	unitPath, err := purpose.Derive(hdkeychain.HardenedKeyStart + 0)
	if err != nil {
		return nil, fmt.Errorf("error deriving unit: %v", err)
	}

	keysetPath, err := unitPath.Derive(hdkeychain.HardenedKeyStart + index)
	if err != nil {
		return nil, fmt.Errorf("error deriving keyset path: %v", err)
	}

	keys := make(map[uint64]KeyPair, maxOrder)
	for i := 0; i < maxOrder; i++ {
		amountPath, err := keysetPath.Derive(hdkeychain.HardenedKeyStart + uint32(i))
		if err != nil {
			return nil, fmt.Errorf("error deriving key for amount: %v", err)
		}
		privKey, err := amountPath.ECPrivKey()
		if err != nil {
			return nil, err
		}

		amount := uint64(1) << i
		keys[amount] = KeyPair{
			PrivateKey: privKey,
			PublicKey:  privKey.PubKey(),
		}
	}

	return &MintKeyset{
		Id:                DeriveKeysetId(PublicKeys(keys)),
		Unit:              "sat",
		Active:            true,
		DerivationPathIdx: index,
		Keys:              keys,
		InputFeePpk:       inputFeePpk,
	}, nil
}

// MasterKeyFromSeed returns the BIP32 master key for the seed.
func MasterKeyFromSeed(seed []byte) (*hdkeychain.ExtendedKey, error) {
	return hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
}

// DeriveKeysetId returns the id as the hex of the hash of the
// public keys sorted by amount, prefixed with the version byte:
//
//	"00" + sha256(concat(compressed pubkeys))[:14]
//
// Any two mints holding the same keys derive the same id.
func DeriveKeysetId(keys map[uint64]*secp256k1.PublicKey) string {
	amounts := make([]uint64, len(keys))
	i := 0
	for amount := range keys {
		amounts[i] = amount
		i++
	}
	sort.Slice(amounts, func(i, j int) bool { return amounts[i] < amounts[j] })

	pubkeys := make([]byte, 0, len(keys)*33)
	for _, amount := range amounts {
		pubkeys = append(pubkeys, keys[amount].SerializeCompressed()...)
	}
	hash := sha256.Sum256(pubkeys)

	return "00" + hex.EncodeToString(hash[:])[:14]
}

// PublicKeys returns the public key for each amount in the keyset.
func PublicKeys(keys map[uint64]KeyPair) map[uint64]*secp256k1.PublicKey {
	publicKeys := make(map[uint64]*secp256k1.PublicKey, len(keys))
	for amount, key := range keys {
		publicKeys[amount] = key.PublicKey
	}
	return publicKeys
}

func (ks *MintKeyset) PublicKeys() map[uint64]*secp256k1.PublicKey {
	return PublicKeys(ks.Keys)
}

// MapPubKeys parses a map of hex encoded public keys by amount.
func MapPubKeys(keys map[uint64]string) (map[uint64]*secp256k1.PublicKey, error) {
	publicKeys := make(map[uint64]*secp256k1.PublicKey, len(keys))
	for amount, key := range keys {
		pkbytes, err := hex.DecodeString(key)
		if err != nil {
			return nil, err
		}
		pubkey, err := secp256k1.ParsePubKey(pkbytes)
		if err != nil {
			return nil, err
		}
		publicKeys[amount] = pubkey
	}
	return publicKeys, nil
}
