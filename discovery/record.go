// Copyright 2026 The Easel Authors
// SPDX-License-Identifier: Apache-2.0

package discovery

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// MaxIDLength bounds a peer identity in bytes.
const MaxIDLength = 128

// RelayInfo is the TURN relay a peer can be reached through. The zero
// value means the peer published no relay.
type RelayInfo struct {
	URL      string
	Username string
	Secret   string
}

// IsZero reports whether no relay was published.
func (r RelayInfo) IsZero() bool { return r.URL == "" }

// PeerRecord is one row of the directory.
type PeerRecord struct {
	ID       string
	Address  string
	Port     int
	Relay    RelayInfo
	LastSeen time.Time
}

// HostPort returns the record's endpoint in host:port form, bracketing
// IPv6 literals.
func (r PeerRecord) HostPort() string {
	return net.JoinHostPort(r.Address, strconv.Itoa(r.Port))
}

func (r PeerRecord) sameEndpoint(other PeerRecord) bool {
	return r.Address == other.Address && r.Port == other.Port
}

// Validate checks the fields a registration must carry.
func (r PeerRecord) Validate() error {
	if err := ValidateID(r.ID); err != nil {
		return err
	}
	if err := validateAddress(r.Address); err != nil {
		return err
	}
	if r.Port < 1 || r.Port > 65535 {
		return fmt.Errorf("port %d out of range 1-65535", r.Port)
	}
	relay := r.Relay
	if !relay.IsZero() {
		for _, field := range []string{relay.URL, relay.Username, relay.Secret} {
			if field == "" || strings.IndexFunc(field, unicode.IsSpace) >= 0 {
				return errors.New("relay url, username and secret must be non-empty and contain no whitespace")
			}
		}
	}
	return nil
}

// ValidateID checks an identity: non-empty UTF-8, at most MaxIDLength
// bytes, no whitespace or control characters.
func ValidateID(id string) error {
	switch {
	case id == "":
		return errors.New("empty id")
	case len(id) > MaxIDLength:
		return fmt.Errorf("id longer than %d bytes", MaxIDLength)
	case !utf8.ValidString(id):
		return errors.New("id is not valid UTF-8")
	}
	for _, r := range id {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return errors.New("id contains whitespace or control characters")
		}
	}
	return nil
}

func validateAddress(address string) error {
	if address == "" {
		return errors.New("empty address")
	}
	if net.ParseIP(address) != nil {
		return nil
	}
	if len(address) > 253 {
		return errors.New("address longer than 253 bytes")
	}
	for _, label := range strings.Split(address, ".") {
		if label == "" || len(label) > 63 {
			return fmt.Errorf("invalid host name %q", address)
		}
		for _, r := range label {
			if !(r == '-' || r == '_' || r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z') {
				return fmt.Errorf("invalid host name %q", address)
			}
		}
	}
	return nil
}

// NotFoundError is returned when an identity has no record.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("peer %q not found", e.ID)
}

// RegistrationConflict is returned when the conflict policy rejects a
// registration because another endpoint holds a live lease on the id.
type RegistrationConflict struct {
	ID      string
	Holder  string
	Expires time.Time
}

func (e *RegistrationConflict) Error() string {
	return fmt.Sprintf("peer %q is registered to %s until %s", e.ID, e.Holder, e.Expires.Format(time.RFC3339))
}

// IsNotFound reports whether err is, or wraps, a NotFoundError.
func IsNotFound(err error) bool {
	var notFound *NotFoundError
	return errors.As(err, &notFound)
}
