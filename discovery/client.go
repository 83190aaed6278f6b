// Copyright 2026 The Easel Authors
// SPDX-License-Identifier: Apache-2.0

package discovery

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
)

// Client talks to a directory Server. Each call uses its own
// connection; the zero value is not usable, Address is required.
type Client struct {
	Address string

	// TLS, when set, is used for every connection.
	TLS *tls.Config

	// Timeout bounds one whole request. Zero means ten seconds.
	Timeout time.Duration

	// MaxDialAttempts bounds connection attempts per request, with
	// exponential backoff between them. Zero means four.
	MaxDialAttempts int

	Logger *slog.Logger
}

// Register publishes record. An empty Address asks the server to use
// the address this client connects from. A rejection under the lease
// policy returns *RegistrationConflict.
func (c *Client) Register(ctx context.Context, record PeerRecord) error {
	response, err := c.roundTrip(ctx, Command{
		Verb:    VerbRegister,
		ID:      record.ID,
		Address: record.Address,
		Port:    record.Port,
		Relay:   record.Relay,
	})
	if err != nil {
		return err
	}
	switch response {
	case ResponseOK:
		return nil
	case ResponseAlreadyRegistered:
		return &RegistrationConflict{ID: record.ID}
	}
	return responseError(response)
}

// Lookup resolves id. A miss returns *NotFoundError.
func (c *Client) Lookup(ctx context.Context, id string) (PeerRecord, error) {
	response, err := c.roundTrip(ctx, Command{Verb: VerbLookup, ID: id})
	if err != nil {
		return PeerRecord{}, err
	}
	if response == ResponseNotFound {
		return PeerRecord{}, &NotFoundError{ID: id}
	}
	if strings.HasPrefix(response, ResponseErrorPrefix) {
		return PeerRecord{}, responseError(response)
	}
	return ParseLookup(id, response)
}

// Deregister removes id. A miss returns *NotFoundError.
func (c *Client) Deregister(ctx context.Context, id string) error {
	response, err := c.roundTrip(ctx, Command{Verb: VerbDeregister, ID: id})
	if err != nil {
		return err
	}
	switch response {
	case ResponseOK:
		return nil
	case ResponseErrorPrefix + "not found":
		return &NotFoundError{ID: id}
	}
	return responseError(response)
}

// Ping checks that the server answers.
func (c *Client) Ping(ctx context.Context) error {
	response, err := c.roundTrip(ctx, Command{Verb: VerbPing})
	if err != nil {
		return err
	}
	if response != ResponsePong {
		return responseError(response)
	}
	return nil
}

func responseError(response string) error {
	if reason, ok := strings.CutPrefix(response, ResponseErrorPrefix); ok {
		return &ProtocolError{Reason: reason}
	}
	return protocolErrorf("unexpected response %q", truncate(response, 64))
}

func (c *Client) roundTrip(ctx context.Context, command Command) (string, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := c.dial(ctx)
	if err != nil {
		return "", err
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.SetDeadline(time.Now()) })
	defer stop()

	if _, err := conn.Write([]byte(command.String() + "\n")); err != nil {
		return "", fmt.Errorf("sending %s: %w", command.Verb, err)
	}
	reader := bufio.NewReaderSize(conn, MaxLineLength)
	line, err := reader.ReadString('\n')
	if err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("waiting for %s response: %w", command.Verb, ctx.Err())
		}
		return "", fmt.Errorf("reading %s response: %w", command.Verb, err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	if c.Address == "" {
		return nil, errors.New("discovery client has no address")
	}
	logger := c.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	attempts := c.MaxDialAttempts
	if attempts <= 0 {
		attempts = 4
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 100 * time.Millisecond
	policy.MaxInterval = 2 * time.Second
	retry := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(attempts-1)), ctx)

	var conn net.Conn
	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		var err error
		if c.TLS != nil {
			dialer := &tls.Dialer{Config: c.TLS}
			conn, err = dialer.DialContext(ctx, "tcp", c.Address)
		} else {
			var dialer net.Dialer
			conn, err = dialer.DialContext(ctx, "tcp", c.Address)
		}
		if err != nil {
			logger.Debug("discovery dial failed", "address", c.Address, "attempt", attempt, "error", err)
		}
		return err
	}, retry)
	if err != nil {
		return nil, fmt.Errorf("connecting to discovery at %s after %d attempts: %w", c.Address, attempt, err)
	}
	return conn, nil
}
