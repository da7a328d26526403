package idempotency

import (
	"fmt"
	"unicode/utf8"
)

// MaxKeyLength bounds client-supplied keys.
const MaxKeyLength = 50

// Key is a validated client-supplied idempotency key.
type Key string

// ParseKey validates s. Keys are opaque: only emptiness and length are checked.
func ParseKey(s string) (Key, error) {
	if s == "" {
		return "", fmt.Errorf("%w: the key cannot be empty", ErrInvalidKey)
	}
	if n := utf8.RuneCountInString(s); n > MaxKeyLength {
		return "", fmt.Errorf("%w: the key must be shorter than %d characters, got %d", ErrInvalidKey, MaxKeyLength, n)
	}
	return Key(s), nil
}

func (k Key) String() string { return string(k) }
