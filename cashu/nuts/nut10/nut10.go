// Package nut10 implements the well-known secret format carrying
// spending conditions.
package nut10

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/walnutd/walnut/cashu"
)

type SecretKind int

const (
	AnyoneCanSpend SecretKind = iota
	P2PK
	HTLC
)

func (kind SecretKind) String() string {
	switch kind {
	case P2PK:
		return "P2PK"
	case HTLC:
		return "HTLC"
	default:
		return "anyonecanspend"
	}
}

// SecretType reports the kind of spending condition attached to the
// proof. Secrets that do not parse as a well-known secret are plain
// random secrets anyone can spend.
func SecretType(proof cashu.Proof) SecretKind {
	var parts []json.RawMessage
	if err := json.Unmarshal([]byte(proof.Secret), &parts); err != nil {
		return AnyoneCanSpend
	}
	if len(parts) < 2 {
		return AnyoneCanSpend
	}

	var kind string
	if err := json.Unmarshal(parts[0], &kind); err != nil {
		return AnyoneCanSpend
	}

	switch kind {
	case "P2PK":
		return P2PK
	case "HTLC":
		return HTLC
	}
	return AnyoneCanSpend
}

// WellKnownSecret is the second element of the serialized secret
// tuple ["kind", {nonce, data, tags}].
type WellKnownSecret struct {
	Nonce string     `json:"nonce"`
	Data  string     `json:"data"`
	Tags  [][]string `json:"tags"`
}

// SerializeSecret builds the json string stored in the secret field
// of a proof.
func SerializeSecret(kind SecretKind, secretData WellKnownSecret) (string, error) {
	jsonSecret, err := json.Marshal(secretData)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("[\"%s\", %v]", kind, string(jsonSecret)), nil
}

// DeserializeSecret parses a secret expected to carry a spending
// condition.
func DeserializeSecret(secret string) (WellKnownSecret, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal([]byte(secret), &parts); err != nil {
		return WellKnownSecret{}, err
	}
	if len(parts) < 2 {
		return WellKnownSecret{}, errors.New("invalid secret: length < 2")
	}

	var kind string
	if err := json.Unmarshal(parts[0], &kind); err != nil {
		return WellKnownSecret{}, errors.New("invalid kind for secret")
	}

	var secretData WellKnownSecret
	if err := json.Unmarshal(parts[1], &secretData); err != nil {
		return WellKnownSecret{}, fmt.Errorf("invalid secret: %v", err)
	}
	return secretData, nil
}

type SpendingCondition struct {
	Kind SecretKind
	Data string
	Tags [][]string
}

// NewSecretFromSpendingCondition serializes the condition with a
// fresh random nonce.
func NewSecretFromSpendingCondition(spendingCondition SpendingCondition) (string, error) {
	nonceBytes := make([]byte, 32)
	if _, err := rand.Read(nonceBytes); err != nil {
		return "", err
	}

	if spendingCondition.Kind != P2PK && spendingCondition.Kind != HTLC {
		return "", fmt.Errorf("cannot create secret of kind '%s'", spendingCondition.Kind)
	}

	secretData := WellKnownSecret{
		Nonce: hex.EncodeToString(nonceBytes),
		Data:  spendingCondition.Data,
		Tags:  spendingCondition.Tags,
	}
	return SerializeSecret(spendingCondition.Kind, secretData)
}
