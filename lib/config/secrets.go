// Copyright 2026 The OpenPortal Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"

	"filippo.io/age"
	"github.com/pelletier/go-toml/v2"

	"github.com/isambard-sc/openportal/lib/secret"
)

// SecretsMode selects how the [secrets] table is protected at rest.
type SecretsMode string

const (
	// SecretsSimple stores secret values as plain TOML, relying on the
	// configuration file's 0600 permissions for protection.
	SecretsSimple SecretsMode = "simple"

	// SecretsEncrypted stores secret values as an age-encrypted,
	// base64-armored blob, opened with a passphrase supplied at
	// startup.
	SecretsEncrypted SecretsMode = "encrypted"
)

// Secrets is the `[secrets]` table. In Simple mode, Values holds the
// plaintext key/value pairs directly. In Encrypted mode, Values is
// empty on disk and Blob carries the age-encrypted, base64-encoded
// serialisation of the same map.
type Secrets struct {
	Mode   SecretsMode       `toml:"mode"`
	Values map[string]string `toml:"values,omitempty"`
	Blob   string            `toml:"blob,omitempty"`
}

// secretsPayload is the plaintext shape encrypted into Blob.
type secretsPayload struct {
	Values map[string]string `toml:"values"`
}

// Open returns the plaintext secret map, decrypting Blob with
// passphrase if Mode is Encrypted. passphrase is ignored in Simple
// mode and may be nil.
func (s *Secrets) Open(passphrase *secret.Buffer) (map[string]string, error) {
	switch s.Mode {
	case "", SecretsSimple:
		out := make(map[string]string, len(s.Values))
		for k, v := range s.Values {
			out[k] = v
		}
		return out, nil
	case SecretsEncrypted:
		if passphrase == nil {
			return nil, fmt.Errorf("config: secrets are encrypted, but no passphrase was supplied")
		}
		return decryptSecrets(s.Blob, passphrase)
	default:
		return nil, fmt.Errorf("config: unknown secrets mode %q", s.Mode)
	}
}

// Seal replaces the table's contents with values, encrypting under
// passphrase if Mode is Encrypted. In Simple mode, passphrase is
// ignored and may be nil.
func (s *Secrets) Seal(values map[string]string, passphrase *secret.Buffer) error {
	switch s.Mode {
	case "", SecretsSimple:
		s.Mode = SecretsSimple
		s.Values = values
		s.Blob = ""
		return nil
	case SecretsEncrypted:
		if passphrase == nil {
			return fmt.Errorf("config: encrypting secrets requires a passphrase")
		}
		blob, err := encryptSecrets(values, passphrase)
		if err != nil {
			return err
		}
		s.Values = nil
		s.Blob = blob
		return nil
	default:
		return fmt.Errorf("config: unknown secrets mode %q", s.Mode)
	}
}

func encryptSecrets(values map[string]string, passphrase *secret.Buffer) (string, error) {
	plaintext, err := toml.Marshal(secretsPayload{Values: values})
	if err != nil {
		return "", fmt.Errorf("config: marshaling secrets: %w", err)
	}

	recipient, err := age.NewScryptRecipient(passphrase.String())
	if err != nil {
		return "", fmt.Errorf("config: building scrypt recipient: %w", err)
	}

	var ciphertext bytes.Buffer
	writer, err := age.Encrypt(&ciphertext, recipient)
	if err != nil {
		return "", fmt.Errorf("config: creating age encryptor: %w", err)
	}
	if _, err := writer.Write(plaintext); err != nil {
		return "", fmt.Errorf("config: encrypting secrets: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("config: finalizing secrets encryption: %w", err)
	}

	return base64.StdEncoding.EncodeToString(ciphertext.Bytes()), nil
}

func decryptSecrets(blob string, passphrase *secret.Buffer) (map[string]string, error) {
	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return nil, fmt.Errorf("config: decoding secrets blob: %w", err)
	}

	identity, err := age.NewScryptIdentity(passphrase.String())
	if err != nil {
		return nil, fmt.Errorf("config: building scrypt identity: %w", err)
	}

	reader, err := age.Decrypt(bytes.NewReader(raw), identity)
	if err != nil {
		return nil, fmt.Errorf("config: decrypting secrets (wrong passphrase?): %w", err)
	}
	plaintext, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("config: reading decrypted secrets: %w", err)
	}

	var payload secretsPayload
	if err := toml.Unmarshal(plaintext, &payload); err != nil {
		return nil, fmt.Errorf("config: parsing decrypted secrets: %w", err)
	}
	return payload.Values, nil
}
