// Package secp256k1 implements the small amount of secp256k1 point arithmetic
// needed for BIP-340 signatures: affine point addition, negation, scalar
// multiplication and x-only decompression.
//
// Points are immutable values. All arithmetic is done with math/big and is
// not constant time; callers that hold long-lived secrets should keep signing
// off hot paths shared with untrusted input.
package secp256k1

import (
	"errors"
	"math/big"
)

// ErrInvalidPublicKey is returned by LiftX when x is not the x coordinate of a
// curve point.
var ErrInvalidPublicKey = errors.New("secp256k1: invalid public key")

var (
	fieldP  = mustHex("FFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFEFFFFFC2F")
	orderN  = mustHex("FFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFEBAAEDCE6AF48A03BBFD25E8CD0364141")
	genX    = mustHex("79BE667EF9DCBBAC55A06295CE870B07029BFCDB2DCE28D959F2815B16F81798")
	genY    = mustHex("483ADA7726A3C4655DA4FBFC0E1108A8FD17B448A68554199C47D08FFB10D4B8")
	curveB  = big.NewInt(7)
	sqrtExp = new(big.Int).Rsh(new(big.Int).Add(fieldP, big.NewInt(1)), 2) // (p+1)/4
)

func mustHex(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 16)
	if !ok {
		panic("secp256k1: bad constant " + s)
	}
	return v
}

// FieldPrime returns a copy of the field prime p.
func FieldPrime() *big.Int { return new(big.Int).Set(fieldP) }

// Order returns a copy of the group order n.
func Order() *big.Int { return new(big.Int).Set(orderN) }

// Point is an affine curve point or the point at infinity.
type Point struct {
	x, y *big.Int
	inf  bool
}

// Infinity returns the identity element.
func Infinity() Point { return Point{inf: true} }

// Generator returns G.
func Generator() Point { return Point{x: genX, y: genY} }

// NewPoint returns the point (x, y) after checking it lies on the curve.
func NewPoint(x, y *big.Int) (Point, error) {
	if x.Sign() < 0 || y.Sign() < 0 || x.Cmp(fieldP) >= 0 || y.Cmp(fieldP) >= 0 {
		return Point{}, ErrInvalidPublicKey
	}
	pt := Point{x: new(big.Int).Set(x), y: new(big.Int).Set(y)}
	if !pt.IsOnCurve() {
		return Point{}, ErrInvalidPublicKey
	}
	return pt, nil
}

// IsInfinity reports whether pt is the identity.
func (pt Point) IsInfinity() bool { return pt.inf }

// X returns a copy of the x coordinate, or nil for the identity.
func (pt Point) X() *big.Int {
	if pt.inf {
		return nil
	}
	return new(big.Int).Set(pt.x)
}

// Y returns a copy of the y coordinate, or nil for the identity.
func (pt Point) Y() *big.Int {
	if pt.inf {
		return nil
	}
	return new(big.Int).Set(pt.y)
}

// HasEvenY reports whether the y coordinate is even. The identity has no y
// and reports false.
func (pt Point) HasEvenY() bool {
	return !pt.inf && pt.y.Bit(0) == 0
}

// XBytes returns the 32-byte big-endian x coordinate.
func (pt Point) XBytes() [32]byte {
	var out [32]byte
	if !pt.inf {
		pt.x.FillBytes(out[:])
	}
	return out
}

// Equal reports whether two points are the same.
func (pt Point) Equal(q Point) bool {
	if pt.inf || q.inf {
		return pt.inf == q.inf
	}
	return pt.x.Cmp(q.x) == 0 && pt.y.Cmp(q.y) == 0
}

// IsOnCurve reports whether y² = x³ + 7 (mod p).
func (pt Point) IsOnCurve() bool {
	if pt.inf {
		return true
	}
	lhs := new(big.Int).Mul(pt.y, pt.y)
	lhs.Mod(lhs, fieldP)
	return lhs.Cmp(curveRHS(pt.x)) == 0
}

func curveRHS(x *big.Int) *big.Int {
	rhs := new(big.Int).Exp(x, big.NewInt(3), fieldP)
	rhs.Add(rhs, curveB)
	return rhs.Mod(rhs, fieldP)
}

// Negate returns -pt.
func Negate(pt Point) Point {
	if pt.inf {
		return pt
	}
	y := new(big.Int).Sub(fieldP, pt.y)
	y.Mod(y, fieldP)
	return Point{x: pt.x, y: y}
}

// Add returns a + b.
func Add(a, b Point) Point {
	if a.inf {
		return b
	}
	if b.inf {
		return a
	}
	if a.x.Cmp(b.x) == 0 {
		if a.y.Cmp(b.y) != 0 {
			// a == -b
			return Infinity()
		}
		return double(a)
	}

	// lambda = (y2 - y1) / (x2 - x1)
	num := new(big.Int).Sub(b.y, a.y)
	den := new(big.Int).Sub(b.x, a.x)
	den.Mod(den, fieldP)
	lambda := num.Mul(num, den.ModInverse(den, fieldP))
	lambda.Mod(lambda, fieldP)

	return fromLambda(lambda, a, b.x)
}

func double(a Point) Point {
	if a.inf || a.y.Sign() == 0 {
		return Infinity()
	}
	// lambda = 3x² / 2y
	num := new(big.Int).Mul(a.x, a.x)
	num.Mul(num, big.NewInt(3))
	den := new(big.Int).Lsh(a.y, 1)
	den.Mod(den, fieldP)
	lambda := num.Mul(num, den.ModInverse(den, fieldP))
	lambda.Mod(lambda, fieldP)

	return fromLambda(lambda, a, a.x)
}

// fromLambda finishes an addition or doubling given the slope.
func fromLambda(lambda *big.Int, a Point, bx *big.Int) Point {
	x3 := new(big.Int).Mul(lambda, lambda)
	x3.Sub(x3, a.x)
	x3.Sub(x3, bx)
	x3.Mod(x3, fieldP)

	y3 := new(big.Int).Sub(a.x, x3)
	y3.Mul(y3, lambda)
	y3.Sub(y3, a.y)
	y3.Mod(y3, fieldP)

	return Point{x: x3, y: y3}
}

// ScalarMult returns k·pt using double-and-add over the bits of k. Negative
// scalars are reduced mod n first.
func ScalarMult(k *big.Int, pt Point) Point {
	scalar := new(big.Int).Mod(k, orderN)
	result := Infinity()
	addend := pt
	for i := 0; i < scalar.BitLen(); i++ {
		if scalar.Bit(i) == 1 {
			result = Add(result, addend)
		}
		addend = double(addend)
	}
	return result
}

// ScalarBaseMult returns k·G.
func ScalarBaseMult(k *big.Int) Point {
	return ScalarMult(k, Generator())
}

// LiftX returns the curve point with the given x coordinate and even y.
func LiftX(x *big.Int) (Point, error) {
	if x.Sign() < 0 || x.Cmp(fieldP) >= 0 {
		return Point{}, ErrInvalidPublicKey
	}
	c := curveRHS(x)
	y := new(big.Int).Exp(c, sqrtExp, fieldP)
	check := new(big.Int).Mul(y, y)
	check.Mod(check, fieldP)
	if check.Cmp(c) != 0 {
		return Point{}, ErrInvalidPublicKey
	}
	if y.Bit(0) == 1 {
		y.Sub(fieldP, y)
	}
	return Point{x: new(big.Int).Set(x), y: y}, nil
}

// LiftXBytes is LiftX over a 32-byte big-endian x coordinate.
func LiftXBytes(b []byte) (Point, error) {
	if len(b) != 32 {
		return Point{}, ErrInvalidPublicKey
	}
	return LiftX(new(big.Int).SetBytes(b))
}
