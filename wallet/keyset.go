package wallet

import (
	"fmt"

	"github.com/walnutd/walnut/cashu"
	"github.com/walnutd/walnut/cashu/nuts/nut02"
	"github.com/walnutd/walnut/crypto"
	"github.com/walnutd/walnut/wallet/client"
)

// GetMintActiveKeyset returns the mint's active keyset for the unit.
// The keyset id is re-derived locally from the keys and has to match
// the id advertised by the mint.
func GetMintActiveKeyset(mintURL string, unit cashu.Unit) (*crypto.WalletKeyset, error) {
	keysetsResponse, err := client.GetActiveKeysets(mintURL)
	if err != nil {
		return nil, fmt.Errorf("error getting active keysets from mint: %v", err)
	}

	allKeysets, err := client.GetAllKeysets(mintURL)
	if err != nil {
		return nil, fmt.Errorf("error getting keysets from mint: %v", err)
	}

	for _, keyset := range keysetsResponse.Keysets {
		if keyset.Unit != unit.String() {
			continue
		}

		derivedId := crypto.DeriveKeysetId(keyset.Keys)
		if derivedId != keyset.Id {
			return nil, fmt.Errorf(
				"Got invalid keyset. Derived id: '%v' but got '%v' from mint", derivedId, keyset.Id)
		}

		return &crypto.WalletKeyset{
			Id:          keyset.Id,
			MintURL:     mintURL,
			Unit:        keyset.Unit,
			Active:      true,
			PublicKeys:  keyset.Keys,
			InputFeePpk: keysetFeePpk(allKeysets, keyset.Id),
		}, nil
	}

	return nil, fmt.Errorf("mint has no active keyset for unit '%v'", unit)
}

// GetMintInactiveKeysets returns the mint's inactive keysets by id.
// Keys are not fetched here, they are pulled on demand when a proof
// from the keyset needs to be checked.
func GetMintInactiveKeysets(mintURL string, unit cashu.Unit) (map[string]crypto.WalletKeyset, error) {
	keysetsResponse, err := client.GetAllKeysets(mintURL)
	if err != nil {
		return nil, fmt.Errorf("error getting keysets from mint: %v", err)
	}

	inactiveKeysets := make(map[string]crypto.WalletKeyset)
	for _, keyset := range keysetsResponse.Keysets {
		if keyset.Active || keyset.Unit != unit.String() {
			continue
		}
		inactiveKeysets[keyset.Id] = crypto.WalletKeyset{
			Id:          keyset.Id,
			MintURL:     mintURL,
			Unit:        keyset.Unit,
			Active:      false,
			InputFeePpk: keyset.InputFeePpk,
		}
	}
	return inactiveKeysets, nil
}

func keysetFeePpk(keysets *nut02.GetKeysetsResponse, id string) uint {
	for _, keyset := range keysets.Keysets {
		if keyset.Id == id {
			return keyset.InputFeePpk
		}
	}
	return 0
}

// getKeysetKeys fetches the keyset's public keys from the mint
// if the wallet does not already have them.
func (w *Wallet) getKeysetKeys(keysetId string) (*crypto.WalletKeyset, error) {
	if keysetId == w.activeKeyset.Id {
		return &w.activeKeyset, nil
	}

	keyset, ok := w.inactiveKeysets[keysetId]
	if ok && len(keyset.PublicKeys) > 0 {
		return &keyset, nil
	}

	keysetResponse, err := client.GetKeysetById(w.mintURL, keysetId)
	if err != nil {
		return nil, fmt.Errorf("error getting keyset from mint: %v", err)
	}
	if len(keysetResponse.Keysets) == 0 {
		return nil, fmt.Errorf("mint does not have keyset with id '%v'", keysetId)
	}

	keys := keysetResponse.Keysets[0].Keys
	derivedId := crypto.DeriveKeysetId(keys)
	if derivedId != keysetId {
		return nil, fmt.Errorf(
			"Got invalid keyset. Derived id: '%v' but got '%v' from mint", derivedId, keysetId)
	}

	keyset.Id = keysetId
	keyset.MintURL = w.mintURL
	keyset.Unit = keysetResponse.Keysets[0].Unit
	keyset.PublicKeys = keys
	w.inactiveKeysets[keysetId] = keyset
	if err := w.db.SaveKeyset(&keyset); err != nil {
		return nil, err
	}

	return &keyset, nil
}
