// Copyright 2026 The Easel Authors
// SPDX-License-Identifier: Apache-2.0

package sealed

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestBox(t *testing.T) *Box {
	t.Helper()
	identity, err := GenerateIdentity()
	if err != nil {
		t.Fatalf("GenerateIdentity: %v", err)
	}
	box, err := NewBox(identity)
	if err != nil {
		t.Fatalf("NewBox: %v", err)
	}
	return box
}

func TestSealOpen(t *testing.T) {
	box := newTestBox(t)
	ciphertext, err := box.Seal("turn-password")
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if strings.Contains(ciphertext, "turn-password") {
		t.Fatal("ciphertext contains the plaintext")
	}
	plaintext, err := box.Open(ciphertext)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if plaintext != "turn-password" {
		t.Errorf("Open() = %q", plaintext)
	}
}

func TestEmptyStaysEmpty(t *testing.T) {
	box := newTestBox(t)
	ciphertext, err := box.Seal("")
	if err != nil || ciphertext != "" {
		t.Fatalf("Seal(\"\") = %q, %v", ciphertext, err)
	}
	plaintext, err := box.Open("")
	if err != nil || plaintext != "" {
		t.Fatalf("Open(\"\") = %q, %v", plaintext, err)
	}
}

func TestOpenWithWrongIdentity(t *testing.T) {
	ciphertext, err := newTestBox(t).Seal("secret")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := newTestBox(t).Open(ciphertext); err == nil {
		t.Fatal("Open succeeded with a different identity")
	}
}

func TestLoadBox(t *testing.T) {
	identity, err := GenerateIdentity()
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "registry.key")
	content := "# created: 2026-01-01\n# public key: ignored\n" + identity + "\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	box, err := LoadBox(path)
	if err != nil {
		t.Fatalf("LoadBox: %v", err)
	}
	if !strings.HasPrefix(box.Recipient(), "age1") {
		t.Errorf("Recipient() = %q", box.Recipient())
	}
}
