package task

import (
	"errors"
	"fmt"
	"strings"
)

// Sort keys are fractional ordering keys over a base-36 alphabet: between any
// two keys there is always another key, so a row can be inserted between two
// siblings without renumbering anything. Ordering is plain byte-wise string
// comparison. A valid key never ends in the minimal digit, which guarantees
// the "always room below" half of the invariant.

// keyAlphabet is the digit set for sort keys, in ascending order.
const keyAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// ErrKeyOrder is returned when the bounds passed to KeyBetween are not in
// strictly ascending order.
var ErrKeyOrder = errors.New("sort key bounds out of order")

// ErrKeyInvalid is returned for keys containing characters outside the
// alphabet or ending in the minimal digit.
var ErrKeyInvalid = errors.New("invalid sort key")

// KeyBetween returns a key strictly between a and b. An empty a means "before
// everything"; an empty b means "after everything". KeyBetween("", "") yields
// the canonical first key.
func KeyBetween(a, b string) (string, error) {
	if err := validateKey(a); err != nil {
		return "", err
	}
	if err := validateKey(b); err != nil {
		return "", err
	}
	if a != "" && b != "" && a >= b {
		return "", fmt.Errorf("%w: %q >= %q", ErrKeyOrder, a, b)
	}
	return midpoint(a, b), nil
}

// KeyAfter returns a key ordered after a (and before any existing key that
// compares greater than the result's prefix would allow).
func KeyAfter(a string) (string, error) {
	return KeyBetween(a, "")
}

// KeyBefore returns a key ordered before b.
func KeyBefore(b string) (string, error) {
	return KeyBetween("", b)
}

// midpoint returns a string strictly between a and b, where empty a is the
// lower bound of the key space and empty b the upper bound. Preconditions:
// a < b when both are nonempty, and neither ends in the minimal digit.
func midpoint(a, b string) string {
	if b != "" {
		// Strip the longest common prefix and recurse on the remainder.
		n := 0
		for n < len(a) && n < len(b) && a[n] == b[n] {
			n++
		}
		if n > 0 {
			return b[:n] + midpoint(a[n:], b[n:])
		}
	}

	digitA := 0
	if a != "" {
		digitA = strings.IndexByte(keyAlphabet, a[0])
	}
	digitB := len(keyAlphabet)
	if b != "" {
		digitB = strings.IndexByte(keyAlphabet, b[0])
	}

	if digitB-digitA > 1 {
		mid := (digitA + digitB) / 2
		return string(keyAlphabet[mid])
	}

	// Consecutive leading digits: no room at this position.
	if len(b) > 1 {
		if digitB > digitA {
			// b has further digits, so its first digit alone sorts strictly
			// between a and b.
			return b[:1]
		}
		// Equal leading digits only happen with an empty lower bound and b
		// starting at the minimal digit. b's first digit alone would end in
		// the minimal digit, so descend under b instead.
		return b[:1] + midpoint("", b[1:])
	}
	// Descend into a's remainder with an open upper bound.
	var rest string
	if a != "" {
		rest = a[1:]
	}
	return string(keyAlphabet[digitA]) + midpoint(rest, "")
}

// validateKey checks a key against the alphabet and the no-trailing-minimal-
// digit rule. Empty keys are valid bounds.
func validateKey(k string) error {
	if k == "" {
		return nil
	}
	for i := 0; i < len(k); i++ {
		if strings.IndexByte(keyAlphabet, k[i]) < 0 {
			return fmt.Errorf("%w: %q contains %q", ErrKeyInvalid, k, k[i])
		}
	}
	if k[len(k)-1] == keyAlphabet[0] {
		return fmt.Errorf("%w: %q ends in minimal digit", ErrKeyInvalid, k)
	}
	return nil
}
