// Package nut20 has the signature scheme for locked mint quotes.
// A quote created with a pubkey can only be redeemed by a request
// signed over the quote id and the outputs.
package nut20

import (
	"crypto/sha256"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/walnutd/walnut/cashu"
)

func mintQuoteHash(quoteId string, blindedMessages cashu.BlindedMessages) [32]byte {
	msg := quoteId
	for _, bm := range blindedMessages {
		msg += bm.B_
	}
	return sha256.Sum256([]byte(msg))
}

func SignMintQuote(
	privateKey *secp256k1.PrivateKey,
	quoteId string,
	blindedMessages cashu.BlindedMessages,
) (*schnorr.Signature, error) {
	hash := mintQuoteHash(quoteId, blindedMessages)
	sig, err := schnorr.Sign(privateKey, hash[:])
	if err != nil {
		return nil, err
	}

	return sig, nil
}

func VerifyMintQuoteSignature(
	signature *schnorr.Signature,
	quoteId string,
	blindedMessages cashu.BlindedMessages,
	publicKey *secp256k1.PublicKey,
) bool {
	hash := mintQuoteHash(quoteId, blindedMessages)
	return signature.Verify(hash[:], publicKey)
}
