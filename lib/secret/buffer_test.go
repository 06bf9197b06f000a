// Copyright 2026 The OpenPortal Authors
// SPDX-License-Identifier: Apache-2.0

package secret

import "testing"

func TestNewFromBytesZeroesSource(t *testing.T) {
	source := []byte("super secret key material")
	original := append([]byte(nil), source...)

	buffer, err := NewFromBytes(source)
	if err != nil {
		t.Fatalf("NewFromBytes: %v", err)
	}
	defer buffer.Close()

	for i := range source {
		if source[i] != 0 {
			t.Fatalf("caller's source slice not zeroed at index %d", i)
		}
	}

	if string(buffer.Bytes()) != string(original) {
		t.Fatalf("buffer contents = %q, want %q", buffer.Bytes(), original)
	}
}

func TestBufferCloseIsIdempotent(t *testing.T) {
	buffer, err := New(32)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := buffer.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := buffer.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestBufferReadAfterClosePanics(t *testing.T) {
	buffer, err := New(16)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	buffer.Close()

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic reading a closed buffer")
		}
	}()
	buffer.Bytes()
}

func TestNewRejectsNonPositiveSize(t *testing.T) {
	if _, err := New(0); err == nil {
		t.Fatal("expected error for zero-size buffer")
	}
	if _, err := New(-1); err == nil {
		t.Fatal("expected error for negative-size buffer")
	}
}
