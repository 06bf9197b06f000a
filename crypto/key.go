// Copyright 2026 The OpenPortal Authors
// SPDX-License-Identifier: Apache-2.0

// Package crypto implements OpenPortal's AEAD symmetric-key primitive:
// generate, encrypt, decrypt of a JSON-serialisable value, plus the
// envelope helper used to double-encrypt handshake and wire messages.
// Keys are 256-bit XChaCha20-Poly1305 keys held in a secret.Buffer so
// they are zeroed, swap-locked, and never printable.
package crypto

import (
	"crypto/rand"
	"fmt"
	"io"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/isambard-sc/openportal/lib/secret"
)

// KeySize is the size in bytes of every symmetric key in OpenPortal:
// invitation keys, session keys, and any key derived from them.
const KeySize = chacha20poly1305.KeySize // 32

// Key is a 256-bit AEAD key. The zero value is not usable; construct
// with Generate, Null, or FromBytes. Callers must call Close when the
// key is no longer needed.
type Key struct {
	buffer *secret.Buffer
}

// Generate creates a fresh, cryptographically random key. This is the
// only way invitation and session keys should be produced.
func Generate() (*Key, error) {
	raw := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, raw); err != nil {
		return nil, fmt.Errorf("crypto: generating key: %w", err)
	}
	buffer, err := secret.NewFromBytes(raw)
	if err != nil {
		return nil, fmt.Errorf("crypto: protecting generated key: %w", err)
	}
	return &Key{buffer: buffer}, nil
}

// Null returns an all-zero key, the "not yet issued" sentinel that an
// Invitation's AssertValid rejects. It must never be used to encrypt
// real traffic.
func Null() (*Key, error) {
	buffer, err := secret.New(KeySize)
	if err != nil {
		return nil, fmt.Errorf("crypto: allocating null key: %w", err)
	}
	return &Key{buffer: buffer}, nil
}

// FromBytes wraps existing key bytes (e.g. decoded from a config
// file's 64-hex-character field) in a protected Key. The source slice
// is zeroed by this call.
func FromBytes(raw []byte) (*Key, error) {
	if len(raw) != KeySize {
		return nil, fmt.Errorf("%w: key must be %d bytes, got %d", ErrBadKey, KeySize, len(raw))
	}
	buffer, err := secret.NewFromBytes(raw)
	if err != nil {
		return nil, fmt.Errorf("crypto: protecting key: %w", err)
	}
	return &Key{buffer: buffer}, nil
}

// IsNull reports whether the key is all-zero bytes, i.e. never
// generated. Used by Invitation.AssertValid.
func (k *Key) IsNull() bool {
	for _, b := range k.buffer.Bytes() {
		if b != 0 {
			return false
		}
	}
	return true
}

// Bytes returns the raw key bytes, which point directly into
// swap-locked memory. Do not retain beyond the Key's lifetime.
func (k *Key) Bytes() []byte { return k.buffer.Bytes() }

// Close zeroes and releases the underlying secret buffer. Idempotent.
func (k *Key) Close() error { return k.buffer.Close() }

// Fingerprint returns a short, non-secret digest of the key suitable
// for log lines and error messages that need to say "which key failed
// to decrypt" without ever printing key material. It is a keyless
// BLAKE3 hash of the key truncated to 4 bytes, hex-encoded (8 hex
// characters).
func (k *Key) Fingerprint() string {
	sum := blake3.Sum256(k.buffer.Bytes())
	return fmt.Sprintf("%x", sum[:4])
}
