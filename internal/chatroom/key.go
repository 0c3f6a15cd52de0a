// Package chatroom implements the room key contract shared by every client
// of the realtime API. A room key is a pure function of the two participant
// identities, so any caller deriving a key for the same pair reaches the
// same room regardless of argument order.
package chatroom

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const keyPrefix = "chat_"

// ErrMalformedKey indicates a room key that does not follow the
// chat_<min>_<max> derivation format.
var ErrMalformedKey = errors.New("malformed room key")

// Derive returns the canonical room key for two participant identities.
// The key is commutative: Derive(a, b) == Derive(b, a).
func Derive(a, b uint) string {
	if a > b {
		a, b = b, a
	}
	return fmt.Sprintf("%s%d_%d", keyPrefix, a, b)
}

// Parse extracts the two participant identities encoded in a room key.
// It rejects keys that are not in canonical form, including keys where the
// identities are equal or out of order.
func Parse(key string) (uint, uint, error) {
	rest, ok := strings.CutPrefix(key, keyPrefix)
	if !ok {
		return 0, 0, ErrMalformedKey
	}

	low, high, ok := strings.Cut(rest, "_")
	if !ok || low == "" || high == "" {
		return 0, 0, ErrMalformedKey
	}

	a, err := strconv.ParseUint(low, 10, 64)
	if err != nil {
		return 0, 0, ErrMalformedKey
	}
	b, err := strconv.ParseUint(high, 10, 64)
	if err != nil {
		return 0, 0, ErrMalformedKey
	}

	if a >= b {
		return 0, 0, ErrMalformedKey
	}

	// Zero-padded digits would alias the canonical key while naming a room
	// nothing ever broadcasts to.
	if key != Derive(uint(a), uint(b)) {
		return 0, 0, ErrMalformedKey
	}

	return uint(a), uint(b), nil
}

// HasMember reports whether the identity is one of the two participants
// encoded in the room key. Malformed keys have no members.
func HasMember(key string, identity uint) bool {
	a, b, err := Parse(key)
	if err != nil {
		return false
	}
	return identity == a || identity == b
}
