// Copyright 2026 The OpenPortal Authors
// SPDX-License-Identifier: Apache-2.0

package crypto

import "errors"

// Sentinel crypto errors: BadKey, Tampered, Malformed.
var (
	// ErrBadKey is returned when a key is the wrong length or otherwise
	// unusable to construct an AEAD cipher.
	ErrBadKey = errors.New("crypto: bad key")

	// ErrTampered is returned when AEAD authentication fails: wrong key,
	// corrupted ciphertext, or a mismatched additional-authenticated-data
	// binding.
	ErrTampered = errors.New("crypto: tampered or wrong key")

	// ErrMalformed is returned when the encrypted payload isn't
	// well-formed hex, is too short to contain a nonce, or (for
	// zstd-framed payloads) fails to decompress.
	ErrMalformed = errors.New("crypto: malformed payload")
)
