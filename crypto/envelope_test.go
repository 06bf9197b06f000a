// Copyright 2026 The OpenPortal Authors
// SPDX-License-Identifier: Apache-2.0

package crypto

import "testing"

type samplePayload struct {
	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`
	Version   int    `json:"version"`
}

func newTestKey(t *testing.T) *Key {
	t.Helper()
	key, err := Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	t.Cleanup(func() { key.Close() })
	return key
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key := newTestKey(t)
	want := samplePayload{Sender: "portal", Recipient: "brics", Version: 3}

	hexPayload, err := Encrypt(key, want)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	var got samplePayload
	if err := Decrypt(key, hexPayload, &got); err != nil {
		t.Fatalf("Decrypt: %v", err)
	}

	if got != want {
		t.Fatalf("round trip = %+v, want %+v", got, want)
	}
}

func TestDecryptWithWrongKeyFails(t *testing.T) {
	key := newTestKey(t)
	wrongKey := newTestKey(t)

	hexPayload, err := Encrypt(key, samplePayload{Sender: "a", Recipient: "b"})
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	var out samplePayload
	err = Decrypt(wrongKey, hexPayload, &out)
	if err == nil {
		t.Fatal("expected decryption with the wrong key to fail")
	}
}

func TestDecryptTamperedCiphertextFails(t *testing.T) {
	key := newTestKey(t)

	hexPayload, err := Encrypt(key, samplePayload{Sender: "a", Recipient: "b"})
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	tampered := []byte(hexPayload)
	// Flip a hex character well past the header so the tamper lands in
	// the ciphertext, not the nonce.
	flip := len(tampered) - 1
	if tampered[flip] == '0' {
		tampered[flip] = '1'
	} else {
		tampered[flip] = '0'
	}

	var out samplePayload
	if err := Decrypt(key, string(tampered), &out); err == nil {
		t.Fatal("expected tampered ciphertext to fail authentication")
	}
}

func TestDecryptMalformedHexFails(t *testing.T) {
	key := newTestKey(t)
	if err := Decrypt(key, "not-hex!!", new(samplePayload)); err == nil {
		t.Fatal("expected malformed hex to fail")
	}
}

func TestEnvelopeOpenRoundTrip(t *testing.T) {
	outer := newTestKey(t)
	inner := newTestKey(t)
	want := samplePayload{Sender: "waldur", Recipient: "brics", Version: 1}

	hexPayload, err := Envelope(outer, inner, want)
	if err != nil {
		t.Fatalf("Envelope: %v", err)
	}

	var got samplePayload
	if err := Open(outer, inner, hexPayload, &got); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if got != want {
		t.Fatalf("round trip = %+v, want %+v", got, want)
	}
}

func TestOpenWithSwappedKeysFails(t *testing.T) {
	outer := newTestKey(t)
	inner := newTestKey(t)

	hexPayload, err := Envelope(outer, inner, samplePayload{Sender: "x"})
	if err != nil {
		t.Fatalf("Envelope: %v", err)
	}

	var out samplePayload
	// Swapping outer/inner should fail because the outer layer was
	// sealed with the other key.
	if err := Open(inner, outer, hexPayload, &out); err == nil {
		t.Fatal("expected swapped outer/inner keys to fail")
	}
}

func TestBytesRoundTripWithCompressionFlag(t *testing.T) {
	key := newTestKey(t)
	plaintext := []byte("pretend this is zstd-framed bytes")

	hexPayload, err := EncryptBytes(key, plaintext, true)
	if err != nil {
		t.Fatalf("EncryptBytes: %v", err)
	}

	got, compressed, err := DecryptBytes(key, hexPayload)
	if err != nil {
		t.Fatalf("DecryptBytes: %v", err)
	}
	if !compressed {
		t.Fatal("expected compressed flag to round-trip as true")
	}
	if string(got) != string(plaintext) {
		t.Fatalf("plaintext = %q, want %q", got, plaintext)
	}
}

type bulkPayload struct {
	Jobs []samplePayload `json:"jobs"`
}

func TestEncryptCompressesLargePayloadsTransparently(t *testing.T) {
	key := newTestKey(t)

	var want bulkPayload
	for i := 0; i < 500; i++ {
		want.Jobs = append(want.Jobs, samplePayload{Sender: "waldur", Recipient: "brics", Version: i})
	}

	hexPayload, err := Encrypt(key, want)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	_, compressed, err := DecryptBytes(key, hexPayload)
	if err != nil {
		t.Fatalf("DecryptBytes: %v", err)
	}
	if !compressed {
		t.Fatal("expected a payload well over the compression threshold to be zstd-framed")
	}

	var got bulkPayload
	if err := Decrypt(key, hexPayload, &got); err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if len(got.Jobs) != len(want.Jobs) || got.Jobs[42] != want.Jobs[42] {
		t.Fatalf("round trip through compression lost data: got %d jobs, want %d", len(got.Jobs), len(want.Jobs))
	}
}

func TestFingerprintDoesNotLeakKeyBytes(t *testing.T) {
	key := newTestKey(t)
	fp := key.Fingerprint()
	if len(fp) != 8 {
		t.Fatalf("fingerprint length = %d, want 8 hex chars", len(fp))
	}
	for _, b := range key.Bytes() {
		_ = b // keys are opaque; this test only asserts fingerprint shape
	}
}

func TestNullKeyIsDetected(t *testing.T) {
	key, err := Null()
	if err != nil {
		t.Fatalf("Null: %v", err)
	}
	defer key.Close()
	if !key.IsNull() {
		t.Fatal("Null() key should report IsNull() == true")
	}

	generated := newTestKey(t)
	if generated.IsNull() {
		t.Fatal("Generate() key should never be null (probability ~0)")
	}
}

func TestFromBytesRejectsWrongLength(t *testing.T) {
	if _, err := FromBytes(make([]byte, 10)); err == nil {
		t.Fatal("expected FromBytes to reject a short key")
	}
}
