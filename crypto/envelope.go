// Copyright 2026 The OpenPortal Authors
// SPDX-License-Identifier: Apache-2.0

package crypto

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"

	"crypto/rand"

	"github.com/klauspost/compress/zstd"
	"golang.org/x/crypto/chacha20poly1305"
)

// compressThreshold is the plaintext size above which Encrypt zstd-frames
// the JSON before sealing. Board snapshots routinely carry hundreds of
// Jobs; keepalives and handshake messages stay well under this and are
// never compressed.
const compressThreshold = 8192

// zstdEncoder and zstdDecoder are package-level and safe for concurrent
// use; every call reuses them rather than paying encoder/decoder setup
// cost per message.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("crypto: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("crypto: zstd decoder initialization failed: " + err.Error())
	}
}

// flagCompressed marks a payload whose plaintext is zstd-framed before
// encryption. Connection uses this for large snapshot/delta payloads;
// the flag byte is authenticated as AAD so a stripped or forged flag
// fails decryption rather than silently mis-decompressing.
const flagCompressed byte = 1 << 0

// wire format: [flags: 1 byte][nonce: 24 bytes][ciphertext+tag]
const headerSize = 1 + chacha20poly1305.NonceSizeX

// EncryptBytes seals plaintext under key and returns it as a hex
// string: flags || nonce || ciphertext, hex-encoded. compressed
// records whether the caller already zstd-compressed plaintext, so
// DecryptBytes knows whether to inflate after opening.
func EncryptBytes(key *Key, plaintext []byte, compressed bool) (string, error) {
	aead, err := chacha20poly1305.NewX(key.Bytes())
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadKey, err)
	}

	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("crypto: generating nonce: %w", err)
	}

	var flags byte
	if compressed {
		flags |= flagCompressed
	}

	sealed := make([]byte, 0, headerSize+len(plaintext)+aead.Overhead())
	sealed = append(sealed, flags)
	sealed = append(sealed, nonce...)
	sealed = aead.Seal(sealed, nonce, plaintext, []byte{flags})

	return hex.EncodeToString(sealed), nil
}

// DecryptBytes opens a hex string produced by EncryptBytes and reports
// whether the recovered plaintext is zstd-compressed.
func DecryptBytes(key *Key, hexPayload string) (plaintext []byte, compressed bool, err error) {
	raw, err := hex.DecodeString(hexPayload)
	if err != nil {
		return nil, false, fmt.Errorf("%w: not valid hex: %v", ErrMalformed, err)
	}
	if len(raw) < headerSize {
		return nil, false, fmt.Errorf("%w: payload shorter than header", ErrMalformed)
	}

	flags := raw[0]
	nonce := raw[1:headerSize]
	ciphertext := raw[headerSize:]

	aead, err := chacha20poly1305.NewX(key.Bytes())
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrBadKey, err)
	}

	opened, err := aead.Open(nil, nonce, ciphertext, []byte{flags})
	if err != nil {
		return nil, false, fmt.Errorf("%w (key %s): %v", ErrTampered, key.Fingerprint(), err)
	}

	return opened, flags&flagCompressed != 0, nil
}

// Encrypt JSON-serialises value and seals it under key, returning the
// result as a HexString. Payloads larger than compressThreshold are
// zstd-framed before sealing; Decrypt inflates them transparently.
func Encrypt(key *Key, value any) (string, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("crypto: marshaling value: %w", err)
	}
	if len(data) > compressThreshold {
		return EncryptBytes(key, zstdEncoder.EncodeAll(data, nil), true)
	}
	return EncryptBytes(key, data, false)
}

// Decrypt opens a HexString produced by Encrypt and JSON-decodes it
// into out (a pointer), inflating first if the payload was compressed.
func Decrypt(key *Key, hexPayload string, out any) error {
	data, compressed, err := DecryptBytes(key, hexPayload)
	if err != nil {
		return err
	}
	if compressed {
		inflated, err := zstdDecoder.DecodeAll(data, nil)
		if err != nil {
			return fmt.Errorf("%w: decompressing payload: %v", ErrMalformed, err)
		}
		data = inflated
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: decrypted payload is not valid JSON: %v", ErrMalformed, err)
	}
	return nil
}

// Envelope double-encrypts value: encrypt(outer, encrypt(inner,
// value)). Used for the handshake (invitation keys as outer/inner) and
// for every post-handshake wire message (session keys as outer/inner).
func Envelope(outer, inner *Key, value any) (string, error) {
	innerHex, err := Encrypt(inner, value)
	if err != nil {
		return "", fmt.Errorf("crypto: inner encrypt: %w", err)
	}
	outerHex, err := Encrypt(outer, innerHex)
	if err != nil {
		return "", fmt.Errorf("crypto: outer encrypt: %w", err)
	}
	return outerHex, nil
}

// Open inverts Envelope: decrypt(outer, decrypt(inner, hexPayload)).
func Open(outer, inner *Key, hexPayload string, out any) error {
	var innerHex string
	if err := Decrypt(outer, hexPayload, &innerHex); err != nil {
		return fmt.Errorf("crypto: outer decrypt: %w", err)
	}
	if err := Decrypt(inner, innerHex, out); err != nil {
		return fmt.Errorf("crypto: inner decrypt: %w", err)
	}
	return nil
}
