// Package crypto implements the blind Diffie-Hellman key exchange
// on which the ecash tokens are built.
package crypto

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

const DomainSeparator = "Secp256k1_HashToCurve_Cashu_"

var ErrInvalidPoint = errors.New("message does not hash to a valid point")

// HashToCurve maps a message to a point on the curve by hashing the message
// under the domain separator with an incrementing 32-bit counter until the
// digest is the x coordinate of a valid point.
func HashToCurve(message []byte) (*secp256k1.PublicKey, error) {
	msgToHash := sha256.Sum256(append([]byte(DomainSeparator), message...))

	counter := make([]byte, 4)
	for i := uint32(0); i < 1<<16; i++ {
		binary.LittleEndian.PutUint32(counter, i)
		hash := sha256.Sum256(append(msgToHash[:], counter...))

		pkhash := append([]byte{0x02}, hash[:]...)
		point, err := secp256k1.ParsePubKey(pkhash)
		if err == nil {
			return point, nil
		}
	}

	return nil, ErrInvalidPoint
}

// BlindMessage computes B_ = Y + rG with Y = HashToCurve(secret).
func BlindMessage(secret string, r *secp256k1.PrivateKey) (
	*secp256k1.PublicKey, *secp256k1.PrivateKey, error) {

	if r.Key.IsZero() {
		return nil, nil, errors.New("blinding factor cannot be zero")
	}

	Y, err := HashToCurve([]byte(secret))
	if err != nil {
		return nil, nil, err
	}

	var ypoint, rpoint, blindedMessage secp256k1.JacobianPoint
	Y.AsJacobian(&ypoint)
	r.PubKey().AsJacobian(&rpoint)

	secp256k1.AddNonConst(&ypoint, &rpoint, &blindedMessage)
	blindedMessage.ToAffine()
	B_ := secp256k1.NewPublicKey(&blindedMessage.X, &blindedMessage.Y)

	return B_, r, nil
}

// SignBlindedMessage computes C_ = kB_.
func SignBlindedMessage(B_ *secp256k1.PublicKey, k *secp256k1.PrivateKey) *secp256k1.PublicKey {
	var bpoint, result secp256k1.JacobianPoint
	B_.AsJacobian(&bpoint)

	secp256k1.ScalarMultNonConst(&k.Key, &bpoint, &result)
	result.ToAffine()
	C_ := secp256k1.NewPublicKey(&result.X, &result.Y)

	return C_
}

// UnblindSignature computes C = C_ - rK.
func UnblindSignature(C_ *secp256k1.PublicKey, r *secp256k1.PrivateKey,
	K *secp256k1.PublicKey) *secp256k1.PublicKey {

	var Kpoint, rKPoint, CPoint secp256k1.JacobianPoint
	K.AsJacobian(&Kpoint)

	var rNeg secp256k1.ModNScalar
	rNeg.NegateVal(&r.Key)

	secp256k1.ScalarMultNonConst(&rNeg, &Kpoint, &rKPoint)

	var C_Point secp256k1.JacobianPoint
	C_.AsJacobian(&C_Point)
	secp256k1.AddNonConst(&C_Point, &rKPoint, &CPoint)
	CPoint.ToAffine()

	C := secp256k1.NewPublicKey(&CPoint.X, &CPoint.Y)
	return C
}

// Verify checks k * HashToCurve(secret) == C.
func Verify(secret string, k *secp256k1.PrivateKey, C *secp256k1.PublicKey) bool {
	Y, err := HashToCurve([]byte(secret))
	if err != nil {
		return false
	}

	var Ypoint, result secp256k1.JacobianPoint
	Y.AsJacobian(&Ypoint)

	secp256k1.ScalarMultNonConst(&k.Key, &Ypoint, &result)
	result.ToAffine()
	pk := secp256k1.NewPublicKey(&result.X, &result.Y)

	return C.IsEqual(pk)
}

// HashE hashes the hex of the uncompressed serialization
// of each of the public keys passed.
func HashE(publicKeys []*secp256k1.PublicKey) [32]byte {
	e := ""
	for _, publicKey := range publicKeys {
		publicKeyUncompressed := publicKey.SerializeUncompressed()
		e += hex.EncodeToString(publicKeyUncompressed)
	}

	hash := sha256.Sum256([]byte(e))
	return hash
}

// GenerateDLEQ generates a proof that C_ was signed with the same
// private key k behind the public key A = kG:
//
//	R1 = r1*G
//	R2 = r1*B_
//	e = hash(R1, R2, A, C_)
//	s = r1 + e*k
func GenerateDLEQ(k *secp256k1.PrivateKey, B_, C_ *secp256k1.PublicKey) (
	*secp256k1.PrivateKey, *secp256k1.PrivateKey, error) {

	r1, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, nil, err
	}

	R1 := r1.PubKey()
	R2 := SignBlindedMessage(B_, r1)

	ehash := HashE([]*secp256k1.PublicKey{R1, R2, k.PubKey(), C_})
	e := secp256k1.PrivKeyFromBytes(ehash[:])

	// s = r1 + e*k
	ek := new(secp256k1.ModNScalar).Mul2(&e.Key, &k.Key)
	sScalar := new(secp256k1.ModNScalar).Add2(&r1.Key, ek)
	sBytes := sScalar.Bytes()
	s := secp256k1.PrivKeyFromBytes(sBytes[:])

	return e, s, nil
}

// VerifyDLEQ verifies the proof (e, s) against the public data
// (B_, C_) and the keyset public key A:
//
//	R1 = s*G - e*A
//	R2 = s*B_ - e*C_
//	e == hash(R1, R2, A, C_)
func VerifyDLEQ(e, s *secp256k1.PrivateKey, A, B_, C_ *secp256k1.PublicKey) bool {
	var eNeg secp256k1.ModNScalar
	eNeg.NegateVal(&e.Key)

	// R1 = s*G - e*A
	var APoint, eAPoint, sGPoint, R1Point secp256k1.JacobianPoint
	A.AsJacobian(&APoint)
	secp256k1.ScalarMultNonConst(&eNeg, &APoint, &eAPoint)
	s.PubKey().AsJacobian(&sGPoint)
	secp256k1.AddNonConst(&sGPoint, &eAPoint, &R1Point)
	R1Point.ToAffine()
	R1 := secp256k1.NewPublicKey(&R1Point.X, &R1Point.Y)

	// R2 = s*B_ - e*C_
	var B_Point, C_Point, sB_Point, eC_Point, R2Point secp256k1.JacobianPoint
	B_.AsJacobian(&B_Point)
	C_.AsJacobian(&C_Point)
	secp256k1.ScalarMultNonConst(&s.Key, &B_Point, &sB_Point)
	secp256k1.ScalarMultNonConst(&eNeg, &C_Point, &eC_Point)
	secp256k1.AddNonConst(&sB_Point, &eC_Point, &R2Point)
	R2Point.ToAffine()
	R2 := secp256k1.NewPublicKey(&R2Point.X, &R2Point.Y)

	ehash := HashE([]*secp256k1.PublicKey{R1, R2, A, C_})
	expected := secp256k1.PrivKeyFromBytes(ehash[:])

	return e.Key.Equals(&expected.Key)
}
