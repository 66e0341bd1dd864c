// Package nut09 defines the wire types for signature restore, used
// by wallets recovering from seed.
package nut09

import "github.com/walnutd/walnut/cashu"

type PostRestoreRequest struct {
	Outputs cashu.BlindedMessages `json:"outputs"`
}

type PostRestoreResponse struct {
	Outputs    cashu.BlindedMessages   `json:"outputs"`
	Signatures cashu.BlindedSignatures `json:"signatures"`
}
