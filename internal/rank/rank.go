// Package rank produces lexicographic ordering keys for sibling lists and
// cards. A key sorts by plain byte comparison, so inserting between two
// neighbours only ever rewrites the moved row.
package rank

import (
	"errors"
	"fmt"
	"strings"
)

const digits = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

const base = len(digits)

var (
	ErrInvalidKey = errors.New("invalid rank key")
	ErrNoSpace    = errors.New("rank keys out of order")
)

// First is the key given to the only element of an empty sibling set.
func First() string {
	return midpoint("", "")
}

// After returns a key sorting after key; an empty key means "no siblings".
func After(key string) (string, error) {
	return Between(key, "")
}

// Before returns a key sorting before key.
func Before(key string) (string, error) {
	return Between("", key)
}

// Between returns a key strictly greater than lo and strictly less than hi.
// Empty bounds are open. Keys never end in the zero digit, which guarantees a
// result exists for any lo < hi.
func Between(lo, hi string) (string, error) {
	if err := Validate(lo); lo != "" && err != nil {
		return "", err
	}
	if err := Validate(hi); hi != "" && err != nil {
		return "", err
	}
	if lo != "" && hi != "" && lo >= hi {
		return "", fmt.Errorf("%w: %q >= %q", ErrNoSpace, lo, hi)
	}
	return midpoint(lo, hi), nil
}

// Validate checks that key uses the rank alphabet and has no trailing zero digit.
func Validate(key string) error {
	if key == "" {
		return fmt.Errorf("%w: empty", ErrInvalidKey)
	}
	for i := 0; i < len(key); i++ {
		if strings.IndexByte(digits, key[i]) < 0 {
			return fmt.Errorf("%w: %q", ErrInvalidKey, key)
		}
	}
	if key[len(key)-1] == digits[0] {
		return fmt.Errorf("%w: trailing zero in %q", ErrInvalidKey, key)
	}
	return nil
}

// midpoint assumes lo < hi (hi == "" is +inf) and both are valid.
func midpoint(lo, hi string) string {
	if hi != "" {
		n := 0
		for n < len(hi) && digitAt(lo, n) == hi[n] {
			n++
		}
		if n > 0 {
			rest := ""
			if n < len(lo) {
				rest = lo[n:]
			}
			return hi[:n] + midpoint(rest, hi[n:])
		}
	}

	dlo := 0
	if lo != "" {
		dlo = strings.IndexByte(digits, lo[0])
	}
	dhi := base
	if hi != "" {
		dhi = strings.IndexByte(digits, hi[0])
	}

	if dhi-dlo > 1 {
		return string(digits[(dlo+dhi)/2])
	}
	if hi != "" && len(hi) > 1 {
		return hi[:1]
	}
	rest := ""
	if len(lo) > 1 {
		rest = lo[1:]
	}
	return string(digits[dlo]) + midpoint(rest, "")
}

func digitAt(key string, i int) byte {
	if i < len(key) {
		return key[i]
	}
	return digits[0]
}

// Slot computes the key for an element placed at index among ordered
// siblings (the moving element excluded). Index is clamped to [0, len].
func Slot(siblings []string, index int) (string, error) {
	if index < 0 {
		index = 0
	}
	if index > len(siblings) {
		index = len(siblings)
	}
	lo, hi := "", ""
	if index > 0 {
		lo = siblings[index-1]
	}
	if index < len(siblings) {
		hi = siblings[index]
	}
	return Between(lo, hi)
}
