// Package floats provides a deterministic total ordering for float64 values.
//
// Ordinary float comparison is not a total order (NaN compares false with
// everything) and distinguishes -0 from +0 by bit pattern. Index builds and
// tie-breaks need an ordering that is identical across platforms and runs, so
// values are canonicalized first: -0 becomes +0 and every NaN collapses to a
// single quiet NaN. Arithmetic elsewhere still uses standard IEEE-754
// semantics; only ordering goes through this package.
package floats

import "math"

const canonicalNaNBits = 0x7FF8000000000000

// Canonical returns v with -0 normalized to +0 and any NaN replaced by the
// single canonical quiet NaN.
func Canonical(v float64) float64 {
	if v == 0 {
		return 0
	}
	if math.IsNaN(v) {
		return math.Float64frombits(canonicalNaNBits)
	}
	return v
}

// TotalCompare compares a and b under IEEE-754 totalOrder semantics after
// canonicalization: -Inf < negatives < 0 < positives < +Inf < NaN.
func TotalCompare(a, b float64) int {
	ab := orderedBits(Canonical(a))
	bb := orderedBits(Canonical(b))
	switch {
	case ab < bb:
		return -1
	case ab > bb:
		return 1
	default:
		return 0
	}
}

// orderedBits maps the float's bits to an integer whose natural order matches
// totalOrder: flip all bits of negative values, set the sign bit of positives.
func orderedBits(v float64) uint64 {
	bits := math.Float64bits(v)
	if bits&(1<<63) != 0 {
		return ^bits
	}
	return bits | (1 << 63)
}
