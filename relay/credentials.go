// Copyright 2026 The Easel Authors
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/easel-collab/easel/discovery"
	"github.com/pion/turn/v4"
)

// Credentials are a time-limited TURN username and password derived
// from the relay's shared secret. The username is the expiry as a Unix
// timestamp; the password is an HMAC of it, so the relay verifies
// credentials without storing them.
type Credentials struct {
	Username string
	Password string
	Expires  time.Time
}

// MintCredentials issues credentials valid for ttl.
func MintCredentials(secret string, ttl time.Duration) (Credentials, error) {
	if secret == "" {
		return Credentials{}, errors.New("relay secret is empty")
	}
	username, password, err := turn.GenerateLongTermCredentials(secret, ttl)
	if err != nil {
		return Credentials{}, fmt.Errorf("minting relay credentials: %w", err)
	}
	expiry, err := strconv.ParseInt(username, 10, 64)
	if err != nil {
		return Credentials{}, fmt.Errorf("unexpected credential username %q: %w", username, err)
	}
	return Credentials{Username: username, Password: password, Expires: time.Unix(expiry, 0)}, nil
}

// RelayInfo is what a host publishes in its discovery record so peers
// can fall back to the relay at url.
func (c Credentials) RelayInfo(url string) discovery.RelayInfo {
	return discovery.RelayInfo{URL: url, Username: c.Username, Secret: c.Password}
}

// LoadSecret reads the shared secret from path, trimming surrounding
// whitespace.
func LoadSecret(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading relay secret: %w", err)
	}
	secret := bytes.TrimSpace(data)
	if len(secret) == 0 {
		return "", fmt.Errorf("relay secret %s is empty", path)
	}
	return string(secret), nil
}
