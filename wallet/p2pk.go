package wallet

import (
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
)

// DeriveP2PK derives the key the wallet uses to receive locked ecash
// at m/129372'/0'/1'/0.
func DeriveP2PK(key *hdkeychain.ExtendedKey) (*btcec.PrivateKey, error) {
	purpose, err := key.Derive(hdkeychain.HardenedKeyStart + 129372)
	if err != nil {
		return nil, err
	}
	coinType, err := purpose.Derive(hdkeychain.HardenedKeyStart + 0)
	if err != nil {
		return nil, err
	}
	account, err := coinType.Derive(hdkeychain.HardenedKeyStart + 1)
	if err != nil {
		return nil, err
	}
	extKey, err := account.Derive(0)
	if err != nil {
		return nil, err
	}
	return extKey.ECPrivKey()
}

// GetReceivePrivateKey returns the key that can redeem ecash locked to
// the wallet's receive public key.
func (w *Wallet) GetReceivePrivateKey() (*btcec.PrivateKey, error) {
	return DeriveP2PK(w.masterKey)
}

// GetReceivePubkey returns the public key to which ecash can be locked
// for this wallet.
func (w *Wallet) GetReceivePubkey() (*btcec.PublicKey, error) {
	key, err := w.GetReceivePrivateKey()
	if err != nil {
		return nil, err
	}
	return key.PubKey(), nil
}
