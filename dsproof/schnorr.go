// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package dsproof

import (
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// schnorrSigSize is the size of a Bitcoin Cash Schnorr signature without its
// hash type byte.
const schnorrSigSize = 64

// verifySchnorr returns whether sig is a valid Bitcoin Cash Schnorr
// signature of hash by pubKey.
//
// The scheme is:
//
// 1. Fail if r >= p or s >= n
// 2. e = SHA-256(r || compressed(P) || m) mod n
// 3. R = s*G - e*P
// 4. Fail if R is the point at infinity
// 5. Fail if R.y is not a quadratic residue
// 6. Verified if R.x == r
func verifySchnorr(sig []byte, hash []byte, pubKey *btcec.PublicKey) bool {
	if len(sig) != schnorrSigSize || len(hash) != 32 {
		return false
	}

	// Step 1.
	var r secp256k1.FieldVal
	if overflow := r.SetByteSlice(sig[:32]); overflow {
		return false
	}
	var s secp256k1.ModNScalar
	if overflow := s.SetByteSlice(sig[32:]); overflow {
		return false
	}

	// Step 2.
	var commitmentInput [32 + btcec.PubKeyBytesLenCompressed + 32]byte
	copy(commitmentInput[:32], sig[:32])
	copy(commitmentInput[32:], pubKey.SerializeCompressed())
	copy(commitmentInput[32+btcec.PubKeyBytesLenCompressed:], hash)
	var e secp256k1.ModNScalar
	e.SetByteSlice(chainhash.HashB(commitmentInput[:]))

	// Step 3.
	var P, R, sG, eP secp256k1.JacobianPoint
	pubKey.AsJacobian(&P)
	secp256k1.ScalarBaseMultNonConst(&s, &sG)
	e.Negate()
	secp256k1.ScalarMultNonConst(&e, &P, &eP)
	secp256k1.AddNonConst(&sG, &eP, &R)

	// Step 4.
	if (R.X.IsZero() && R.Y.IsZero()) || R.Z.IsZero() {
		return false
	}

	// Step 5.
	//
	// Note that R must be in affine coordinates for this check.
	R.ToAffine()
	var root secp256k1.FieldVal
	if !root.SquareRootVal(&R.Y) {
		return false
	}

	// Step 6.
	return R.X.Equals(&r)
}

// verifySignature checks a transaction signature, including its trailing
// hash type byte, against hash.  Signatures of schnorrSigSize bytes are
// Schnorr signatures, anything else is parsed as an ECDSA signature.
func verifySignature(sigWithHashType []byte, hash []byte,
	pubKey *btcec.PublicKey) bool {

	if len(sigWithHashType) == 0 {
		return false
	}
	sig := sigWithHashType[:len(sigWithHashType)-1]
	if len(sig) == schnorrSigSize {
		return verifySchnorr(sig, hash, pubKey)
	}

	parsed, err := ecdsa.ParseSignature(sig)
	if err != nil {
		return false
	}
	return parsed.Verify(hash, pubKey)
}
