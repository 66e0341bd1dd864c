// Package nut14 implements Hashed Timelock Contract spending conditions.
// An HTLC locked proof is redeemed with the hash preimage plus any
// signatures that the secret's tags call for.
package nut14

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/walnutd/walnut/cashu"
	"github.com/walnutd/walnut/cashu/nuts/nut10"
)

const (
	// Error code
	NUT14ErrCode cashu.CashuErrCode = 30002
)

// errors
var (
	InvalidPreimageErr = cashu.Error{Detail: "invalid preimage for HTLC", Code: NUT14ErrCode}
	InvalidHashErr     = cashu.Error{Detail: "invalid hash in secret", Code: NUT14ErrCode}
)

type HTLCWitness struct {
	Preimage   string   `json:"preimage"`
	Signatures []string `json:"signatures"`
}

// HTLCSecret returns a secret that locks ecash to the
// sha256 hash of a preimage
func HTLCSecret(preimage string) (string, error) {
	preimageBytes, err := hex.DecodeString(preimage)
	if err != nil {
		return "", InvalidPreimageErr
	}
	hashBytes := sha256.Sum256(preimageBytes)

	spendingCondition := nut10.SpendingCondition{
		Kind: nut10.HTLC,
		Data: hex.EncodeToString(hashBytes[:]),
	}
	return nut10.NewSecretFromSpendingCondition(spendingCondition)
}

func IsSecretHTLC(proof cashu.Proof) bool {
	return nut10.SecretType(proof) == nut10.HTLC
}

func AddWitnessHTLC(
	proofs cashu.Proofs,
	preimage string,
	signingKey *btcec.PrivateKey,
) (cashu.Proofs, error) {
	for i, proof := range proofs {
		htlcWitness := HTLCWitness{Preimage: preimage}
		if signingKey != nil {
			hash := sha256.Sum256([]byte(proof.Secret))
			signature, err := schnorr.Sign(signingKey, hash[:])
			if err != nil {
				return nil, err
			}
			htlcWitness.Signatures = []string{hex.EncodeToString(signature.Serialize())}
		}

		witness, err := json.Marshal(htlcWitness)
		if err != nil {
			return nil, err
		}
		proof.Witness = string(witness)
		proofs[i] = proof
	}

	return proofs, nil
}

func AddWitnessHTLCToOutputs(
	outputs cashu.BlindedMessages,
	preimage string,
	signingKey *btcec.PrivateKey,
) (cashu.BlindedMessages, error) {
	for i, output := range outputs {
		htlcWitness := HTLCWitness{Preimage: preimage}
		if signingKey != nil {
			msgToSign, err := hex.DecodeString(output.B_)
			if err != nil {
				return nil, err
			}
			hash := sha256.Sum256(msgToSign)
			signature, err := schnorr.Sign(signingKey, hash[:])
			if err != nil {
				return nil, err
			}
			htlcWitness.Signatures = []string{hex.EncodeToString(signature.Serialize())}
		}

		witness, err := json.Marshal(htlcWitness)
		if err != nil {
			return nil, err
		}
		output.Witness = string(witness)
		outputs[i] = output
	}

	return outputs, nil
}

// VerifyPreimage checks that the witness preimage hashes to the
// lock in the secret's data field.
func VerifyPreimage(secret nut10.WellKnownSecret, preimage string) error {
	preimageBytes, err := hex.DecodeString(preimage)
	if err != nil {
		return InvalidPreimageErr
	}
	hashBytes := sha256.Sum256(preimageBytes)

	lockBytes, err := hex.DecodeString(secret.Data)
	if err != nil || len(lockBytes) != 32 {
		return InvalidHashErr
	}

	if hex.EncodeToString(hashBytes[:]) != secret.Data {
		return InvalidPreimageErr
	}
	return nil
}
