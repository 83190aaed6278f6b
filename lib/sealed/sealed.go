// Copyright 2026 The Easel Authors
// SPDX-License-Identifier: Apache-2.0

package sealed

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"filippo.io/age"
)

// Box seals to one X25519 recipient and opens with the matching
// identity.
type Box struct {
	identity  *age.X25519Identity
	recipient *age.X25519Recipient
}

// GenerateIdentity returns a fresh identity in AGE-SECRET-KEY-1 form.
func GenerateIdentity() (string, error) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return "", fmt.Errorf("generating age identity: %w", err)
	}
	return identity.String(), nil
}

// NewBox parses an AGE-SECRET-KEY-1 identity.
func NewBox(identity string) (*Box, error) {
	parsed, err := age.ParseX25519Identity(strings.TrimSpace(identity))
	if err != nil {
		return nil, fmt.Errorf("parsing age identity: %w", err)
	}
	return &Box{identity: parsed, recipient: parsed.Recipient()}, nil
}

// LoadBox reads an identity file as written by age-keygen. Comment
// lines are skipped; the first identity is used.
func LoadBox(path string) (*Box, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading identity file: %w", err)
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		return NewBox(line)
	}
	return nil, fmt.Errorf("identity file %s contains no identity", path)
}

// Recipient returns the public age1... key.
func (b *Box) Recipient() string { return b.recipient.String() }

// Seal encrypts plaintext. The empty string seals to the empty string
// so absent secrets stay absent.
func (b *Box) Seal(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	var ciphertext bytes.Buffer
	writer, err := age.Encrypt(&ciphertext, b.recipient)
	if err != nil {
		return "", fmt.Errorf("creating age encryptor: %w", err)
	}
	if _, err := io.WriteString(writer, plaintext); err != nil {
		return "", fmt.Errorf("writing plaintext: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("finalizing age encryption: %w", err)
	}
	return base64.StdEncoding.EncodeToString(ciphertext.Bytes()), nil
}

// Open reverses Seal.
func (b *Box) Open(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("decoding base64 ciphertext: %w", err)
	}
	reader, err := age.Decrypt(bytes.NewReader(raw), b.identity)
	if err != nil {
		var noMatch *age.NoIdentityMatchError
		if errors.As(err, &noMatch) {
			return "", fmt.Errorf("secret was sealed to a different identity: %w", err)
		}
		return "", fmt.Errorf("decrypting: %w", err)
	}
	plaintext, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("reading plaintext: %w", err)
	}
	return string(plaintext), nil
}
