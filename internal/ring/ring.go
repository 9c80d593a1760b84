// Package ring provides address arithmetic over the shared u64 identifier
// space. Tokens, peers and blocks all live on the same ring: a peer's
// address is a valid token, which is what makes signature-directed peer
// discovery possible.
package ring

import "math/bits"

// ID is a fixed-width ring address.
type ID uint64

// Token, Peer and Block are ring addresses. They share one space so that
// values can cross roles without conversion (a peer owns the token equal
// to its own address).
type (
	Token = ID
	Peer  = ID
	Block = ID
)

// NumClasses is the number of log2 distance classes on a 64-bit ring.
const NumClasses = 64

// Distance returns the wrapping ring distance between a and b: the
// minimum of the forward and backward differences modulo 2^64.
func Distance(a, b ID) uint64 {
	forward := uint64(b - a)
	backward := uint64(a - b)
	if forward < backward {
		return forward
	}
	return backward
}

// DistanceClass buckets the distance between a and b into one of
// NumClasses log2 classes. Distance d maps to class floor(log2(d)), so
// class c covers [2^c, 2^(c+1)). Zero distance maps to class 0.
func DistanceClass(a, b ID) int {
	d := Distance(a, b)
	if d == 0 {
		return 0
	}
	return bits.Len64(d) - 1
}

// ClassBounds returns the half-open distance interval [lo, hi) covered by
// a class. The top class is clamped to the maximum representable distance.
func ClassBounds(class int) (lo, hi uint64) {
	lo = 1 << class
	if class >= NumClasses-1 {
		return 1 << (NumClasses - 1), 1<<64 - 1
	}
	return lo, 1 << (class + 1)
}

// Closer reports whether a is strictly closer to target than b,
// breaking ties toward the numerically smaller address.
func Closer(target ID, a, b ID) bool {
	da, db := Distance(target, a), Distance(target, b)
	if da != db {
		return da < db
	}
	return a < b
}
