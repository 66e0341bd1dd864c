package wallet

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/tyler-smith/go-bip39"
	"github.com/walnutd/walnut/cashu"
	"github.com/walnutd/walnut/cashu/nuts/nut07"
	"github.com/walnutd/walnut/cashu/nuts/nut09"
	"github.com/walnutd/walnut/cashu/nuts/nut13"
	"github.com/walnutd/walnut/crypto"
	"github.com/walnutd/walnut/wallet/client"
)

const restoreBatchSize = 100

// Restore recreates a wallet from its mnemonic by scanning the mints
// for signatures on deterministically derived outputs. It returns the
// proofs recovered as unspent.
func Restore(walletPath, mnemonic string, mintsToRestore []string) (cashu.Proofs, error) {
	if _, err := os.Stat(filepath.Join(walletPath, "wallet.db")); err == nil {
		return nil, errors.New("wallet already exists")
	}
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, errors.New("invalid mnemonic")
	}

	if err := os.MkdirAll(walletPath, 0700); err != nil {
		return nil, err
	}
	db, err := InitStorage(walletPath)
	if err != nil {
		return nil, fmt.Errorf("error restoring wallet: %v", err)
	}
	defer db.Close()

	seed := bip39.NewSeed(mnemonic, "")
	masterKey, err := crypto.MasterKeyFromSeed(seed)
	if err != nil {
		return nil, err
	}
	if err := db.SaveMnemonicSeed(mnemonic, seed); err != nil {
		return nil, err
	}

	proofsRestored := cashu.Proofs{}
	for _, mint := range mintsToRestore {
		mintInfo, err := client.GetMintInfo(mint)
		if err != nil {
			return nil, fmt.Errorf("error getting info from mint: %v", err)
		}
		if !mintInfo.Nuts.Nut07.Supported || !mintInfo.Nuts.Nut09.Supported {
			fmt.Printf("mint '%v' does not support the operations needed to restore\n", mint)
			continue
		}

		keysetsResponse, err := client.GetAllKeysets(mint)
		if err != nil {
			return nil, err
		}

		for _, keyset := range keysetsResponse.Keysets {
			if keyset.Unit != cashu.Sat.String() {
				continue
			}
			// ignore keysets with non-hex ids
			if _, err := hex.DecodeString(keyset.Id); err != nil {
				continue
			}

			keysResponse, err := client.GetKeysetById(mint, keyset.Id)
			if err != nil {
				return nil, err
			}
			if len(keysResponse.Keysets) == 0 {
				continue
			}
			keysetKeys := keysResponse.Keysets[0].Keys

			walletKeyset := crypto.WalletKeyset{
				Id:          keyset.Id,
				MintURL:     mint,
				Unit:        keyset.Unit,
				Active:      keyset.Active,
				PublicKeys:  keysetKeys,
				InputFeePpk: keyset.InputFeePpk,
			}
			if err := db.SaveKeyset(&walletKeyset); err != nil {
				return nil, err
			}

			keysetProofs, counter, err := restoreKeysetProofs(mint, keyset.Id, keysetKeys, masterKey)
			if err != nil {
				return nil, err
			}
			if len(keysetProofs) > 0 {
				if err := db.SaveProofs(keysetProofs); err != nil {
					return nil, fmt.Errorf("error saving restored proofs: %v", err)
				}
				proofsRestored = append(proofsRestored, keysetProofs...)
			}
			if counter > 0 {
				if err := db.IncrementKeysetCounter(keyset.Id, counter); err != nil {
					return nil, fmt.Errorf("error incrementing keyset counter: %v", err)
				}
			}
		}
	}

	return proofsRestored, nil
}

// restoreKeysetProofs scans batches of deterministic outputs for the
// keyset until 3 consecutive batches come back with no signatures.
// It returns the unspent proofs found and the counter value past the
// last batch that had any.
func restoreKeysetProofs(
	mint, keysetId string,
	keysetKeys map[uint64]*secp256k1.PublicKey,
	masterKey *hdkeychain.ExtendedKey,
) (cashu.Proofs, uint32, error) {

	keysetPath, err := nut13.DeriveKeysetPath(masterKey, keysetId)
	if err != nil {
		return nil, 0, err
	}

	restoredProofs := cashu.Proofs{}
	var counter, lastCounterWithSigs uint32
	emptyBatches := 0

	for emptyBatches < 3 {
		blindedMessages := make(cashu.BlindedMessages, restoreBatchSize)
		secrets := make([]string, restoreBatchSize)
		rs := make([]*secp256k1.PrivateKey, restoreBatchSize)
		batchIdx := make(map[string]int, restoreBatchSize)

		for i := 0; i < restoreBatchSize; i++ {
			secret, err := nut13.DeriveSecret(keysetPath, counter)
			if err != nil {
				return nil, 0, err
			}
			r, err := nut13.DeriveBlindingFactor(keysetPath, counter)
			if err != nil {
				return nil, 0, err
			}
			B_, r, err := crypto.BlindMessage(secret, r)
			if err != nil {
				return nil, 0, err
			}

			blindedMessages[i] = cashu.NewBlindedMessage(keysetId, 0, B_)
			secrets[i] = secret
			rs[i] = r
			batchIdx[blindedMessages[i].B_] = i
			counter++
		}

		restoreResponse, err := client.PostRestore(mint, nut09.PostRestoreRequest{Outputs: blindedMessages})
		if err != nil {
			return nil, 0, fmt.Errorf("error restoring signatures from mint '%v': %v", mint, err)
		}
		if len(restoreResponse.Signatures) == 0 {
			emptyBatches++
			continue
		}

		Ys := make([]string, len(restoreResponse.Signatures))
		proofsByY := make(map[string]cashu.Proof, len(restoreResponse.Signatures))

		// the mint only returns the outputs it has seen, so map each
		// returned output back to its position in the batch
		for i, signature := range restoreResponse.Signatures {
			idx, ok := batchIdx[restoreResponse.Outputs[i].B_]
			if !ok {
				return nil, 0, errors.New("mint returned unknown output")
			}

			K, ok := keysetKeys[signature.Amount]
			if !ok {
				return nil, 0, errors.New("key for amount not found in keyset")
			}

			C_bytes, err := hex.DecodeString(signature.C_)
			if err != nil {
				return nil, 0, err
			}
			C_, err := secp256k1.ParsePubKey(C_bytes)
			if err != nil {
				return nil, 0, err
			}
			C := crypto.UnblindSignature(C_, rs[idx], K)

			Y, err := crypto.HashToCurve([]byte(secrets[idx]))
			if err != nil {
				return nil, 0, err
			}
			Yhex := hex.EncodeToString(Y.SerializeCompressed())
			Ys[i] = Yhex

			proofsByY[Yhex] = cashu.Proof{
				Amount: signature.Amount,
				Id:     signature.Id,
				Secret: secrets[idx],
				C:      hex.EncodeToString(C.SerializeCompressed()),
			}
		}

		stateResponse, err := client.PostCheckProofState(mint, nut07.PostCheckStateRequest{Ys: Ys})
		if err != nil {
			return nil, 0, err
		}
		for _, proofState := range stateResponse.States {
			if proofState.State == nut07.Unspent {
				restoredProofs = append(restoredProofs, proofsByY[proofState.Y])
			}
		}

		lastCounterWithSigs = counter
		emptyBatches = 0
	}

	return restoredProofs, lastCounterWithSigs, nil
}
