// Package schnorr implements BIP-340 Schnorr signatures over secp256k1 with
// x-only public keys.
package schnorr

import (
	"bytes"
	"crypto/sha256"
	"math/big"

	"github.com/alfredjeanlab/zapline/internal/secp256k1"
	"github.com/alfredjeanlab/zapline/internal/zaperr"
)

// Sizes of the fixed-width inputs and outputs.
const (
	MessageSize   = 32
	SecretKeySize = 32
	PublicKeySize = 32
	AuxRandSize   = 32
	SignatureSize = 64
)

// BIP-340 hash tags.
const (
	TagAux       = "BIP0340/aux"
	TagNonce     = "BIP0340/nonce"
	TagChallenge = "BIP0340/challenge"
)

// TaggedHash returns SHA256(SHA256(tag) || SHA256(tag) || data...).
func TaggedHash(tag string, data ...[]byte) [32]byte {
	tagHash := sha256.Sum256([]byte(tag))
	h := sha256.New()
	h.Write(tagHash[:])
	h.Write(tagHash[:])
	for _, d := range data {
		h.Write(d)
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// secretScalar parses a secret key and checks 0 < d < n.
func secretScalar(op string, sk []byte) (*big.Int, error) {
	if len(sk) != SecretKeySize {
		return nil, zaperr.Newf(zaperr.KindMalformedInput, op, "secret key must be %d bytes, got %d", SecretKeySize, len(sk))
	}
	d := new(big.Int).SetBytes(sk)
	if d.Sign() == 0 || d.Cmp(secp256k1.Order()) >= 0 {
		return nil, zaperr.New(zaperr.KindMalformedInput, op, "secret key out of range")
	}
	return d, nil
}

// PublicKey returns the x-only public key for sk.
func PublicKey(sk []byte) ([PublicKeySize]byte, error) {
	d, err := secretScalar("schnorr.PublicKey", sk)
	if err != nil {
		return [PublicKeySize]byte{}, err
	}
	return secp256k1.ScalarBaseMult(d).XBytes(), nil
}

// Sign produces a BIP-340 signature of msg. The same inputs always produce
// the same signature. aux should be fresh randomness in production; callers
// that want fully deterministic output may pass 32 zero bytes.
func Sign(msg, sk, aux []byte) ([SignatureSize]byte, error) {
	const op = "schnorr.Sign"
	var sig [SignatureSize]byte

	if len(msg) != MessageSize {
		return sig, zaperr.Newf(zaperr.KindMalformedInput, op, "message must be %d bytes, got %d", MessageSize, len(msg))
	}
	if len(aux) != AuxRandSize {
		return sig, zaperr.Newf(zaperr.KindMalformedInput, op, "aux_rand must be %d bytes, got %d", AuxRandSize, len(aux))
	}
	d0, err := secretScalar(op, sk)
	if err != nil {
		return sig, err
	}
	n := secp256k1.Order()

	pub := secp256k1.ScalarBaseMult(d0)
	d := d0
	if !pub.HasEvenY() {
		d = new(big.Int).Sub(n, d0)
	}
	px := pub.XBytes()

	var dBytes [32]byte
	d.FillBytes(dBytes[:])
	auxHash := TaggedHash(TagAux, aux)
	var t [32]byte
	for i := range t {
		t[i] = dBytes[i] ^ auxHash[i]
	}

	rand := TaggedHash(TagNonce, t[:], px[:], msg)
	k0 := new(big.Int).SetBytes(rand[:])
	k0.Mod(k0, n)
	if k0.Sign() == 0 {
		return sig, zaperr.New(zaperr.KindMalformedInput, op, "derived nonce is zero")
	}

	r := secp256k1.ScalarBaseMult(k0)
	k := k0
	if !r.HasEvenY() {
		k = new(big.Int).Sub(n, k0)
	}
	rx := r.XBytes()

	e := challenge(rx[:], px[:], msg)

	s := new(big.Int).Mul(e, d)
	s.Add(s, k)
	s.Mod(s, n)

	copy(sig[:32], rx[:])
	s.FillBytes(sig[32:])

	if !Verify(msg, px[:], sig[:]) {
		return [SignatureSize]byte{}, zaperr.New(zaperr.KindSignatureInvalid, op, "produced signature does not verify")
	}
	return sig, nil
}

// Verify reports whether sig is a valid BIP-340 signature of msg under the
// x-only key pub. Malformed inputs verify as false.
func Verify(msg, pub, sig []byte) bool {
	if len(msg) != MessageSize || len(pub) != PublicKeySize || len(sig) != SignatureSize {
		return false
	}
	pt, err := secp256k1.LiftXBytes(pub)
	if err != nil {
		return false
	}

	r := new(big.Int).SetBytes(sig[:32])
	if r.Cmp(secp256k1.FieldPrime()) >= 0 {
		return false
	}
	s := new(big.Int).SetBytes(sig[32:])
	n := secp256k1.Order()
	if s.Cmp(n) >= 0 {
		return false
	}

	e := challenge(sig[:32], pub, msg)

	// R = s·G − e·P
	negE := new(big.Int).Sub(n, e)
	rPt := secp256k1.Add(secp256k1.ScalarBaseMult(s), secp256k1.ScalarMult(negE, pt))
	if rPt.IsInfinity() || !rPt.HasEvenY() {
		return false
	}
	rx := rPt.XBytes()
	return bytes.Equal(rx[:], sig[:32])
}

func challenge(rx, px, msg []byte) *big.Int {
	h := TaggedHash(TagChallenge, rx, px, msg)
	e := new(big.Int).SetBytes(h[:])
	return e.Mod(e, secp256k1.Order())
}
