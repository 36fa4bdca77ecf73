package validation

import (
	"errors"
	"regexp"
	"strings"
)

// MaxKeyLength bounds idempotency keys (Stripe's header convention).
const MaxKeyLength = 255

var (
	// ErrKeyRequired indicates the Idempotency-Key header was missing or blank.
	ErrKeyRequired = errors.New("idempotency key is required")

	// ErrKeyTooLong indicates the key exceeds MaxKeyLength.
	ErrKeyTooLong = errors.New("idempotency key exceeds maximum length of 255 characters")

	// ErrKeyInvalid indicates the key carries characters outside the allowed set.
	ErrKeyInvalid = errors.New("invalid idempotency key format")
)

// keyPattern allows alphanumerics, hyphens and underscores, so UUIDs and
// ULIDs pass untouched.
var keyPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// NormalizeKey trims surrounding whitespace from a client-supplied key.
func NormalizeKey(key string) string {
	return strings.TrimSpace(key)
}

// ValidateIdempotencyKey checks format and length. The key becomes the
// primary key of a durable run-once record, so rejecting garbage here keeps
// unusable keys from ever being inserted.
func ValidateIdempotencyKey(key string) error {
	if key == "" {
		return ErrKeyRequired
	}
	if len(key) > MaxKeyLength {
		return ErrKeyTooLong
	}
	if !keyPattern.MatchString(key) {
		return ErrKeyInvalid
	}
	return nil
}
