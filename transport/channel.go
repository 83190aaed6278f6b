// Copyright 2026 The Easel Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/easel-collab/easel/lib/netutil"
)

// MaxMessageSize bounds one channel message.
const MaxMessageSize = 8 << 20

// DefaultQueueDepth is the outbound queue length when none is
// configured.
const DefaultQueueDepth = 256

// Channel is an established message link to one peer.
type Channel interface {
	// Peer returns the remote identity.
	Peer() string

	// Send queues payload without blocking. A full queue or closed
	// channel yields a *TransportError.
	Send(payload []byte) error

	// Messages delivers incoming payloads. It is closed after Done.
	Messages() <-chan []byte

	// Done is closed when the channel ends.
	Done() <-chan struct{}

	// Err returns why the channel ended; nil for a local Close or an
	// orderly remote close.
	Err() error

	Close() error
}

// ChannelConfig tunes a ConnChannel.
type ChannelConfig struct {
	QueueDepth int
	Logger     *slog.Logger

	// OnClose runs once after the channel ends.
	OnClose func()
}

// ConnChannel frames messages over a net.Conn with a 4-byte big-endian
// length prefix.
type ConnChannel struct {
	conn     net.Conn
	peer     string
	outbound chan []byte
	inbound  chan []byte
	done     chan struct{}
	logger   *slog.Logger
	onClose  func()

	closeOnce sync.Once
	mu        sync.Mutex
	err       error
	loops     sync.WaitGroup
}

var _ Channel = (*ConnChannel)(nil)

// NewConnChannel starts the read and write loops over conn.
func NewConnChannel(conn net.Conn, peer string, config ChannelConfig) *ConnChannel {
	depth := config.QueueDepth
	if depth <= 0 {
		depth = DefaultQueueDepth
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	c := &ConnChannel{
		conn:     conn,
		peer:     peer,
		outbound: make(chan []byte, depth),
		inbound:  make(chan []byte, depth),
		done:     make(chan struct{}),
		logger:   logger,
		onClose:  config.OnClose,
	}
	c.loops.Add(2)
	go c.readLoop()
	go c.writeLoop()
	return c
}

func (c *ConnChannel) Peer() string { return c.peer }

func (c *ConnChannel) Send(payload []byte) error {
	if len(payload) > MaxMessageSize {
		return &TransportError{Peer: c.peer, Op: "send", Err: fmt.Errorf("message of %d bytes exceeds %d", len(payload), MaxMessageSize)}
	}
	select {
	case <-c.done:
		return &TransportError{Peer: c.peer, Op: "send", Err: net.ErrClosed}
	default:
	}
	select {
	case c.outbound <- payload:
		return nil
	default:
		return &TransportError{Peer: c.peer, Op: "send", Err: ErrQueueFull}
	}
}

func (c *ConnChannel) Messages() <-chan []byte { return c.inbound }

func (c *ConnChannel) Done() <-chan struct{} { return c.done }

func (c *ConnChannel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close ends the channel and waits for its loops to exit.
func (c *ConnChannel) Close() error {
	c.shutdown(nil)
	c.loops.Wait()
	return nil
}

func (c *ConnChannel) shutdown(cause error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.err = cause
		c.mu.Unlock()
		close(c.done)
		c.conn.Close()
		if c.onClose != nil {
			c.onClose()
		}
	})
}

func (c *ConnChannel) readLoop() {
	defer c.loops.Done()
	defer close(c.inbound)
	reader := bufio.NewReaderSize(c.conn, 64<<10)
	var header [4]byte
	for {
		if _, err := io.ReadFull(reader, header[:]); err != nil {
			c.fail("receive", err)
			return
		}
		size := binary.BigEndian.Uint32(header[:])
		if size > MaxMessageSize {
			c.fail("receive", fmt.Errorf("peer announced a %d byte message, limit %d", size, MaxMessageSize))
			return
		}
		payload := make([]byte, size)
		if _, err := io.ReadFull(reader, payload); err != nil {
			c.fail("receive", err)
			return
		}
		select {
		case c.inbound <- payload:
		case <-c.done:
			return
		}
	}
}

func (c *ConnChannel) writeLoop() {
	defer c.loops.Done()
	writer := bufio.NewWriter(c.conn)
	var header [4]byte
	for {
		select {
		case payload := <-c.outbound:
			binary.BigEndian.PutUint32(header[:], uint32(len(payload)))
			writer.Write(header[:])
			writer.Write(payload)
			// Coalesce whatever else is already queued into one flush.
			if len(c.outbound) == 0 {
				if err := writer.Flush(); err != nil {
					c.fail("send", err)
					return
				}
			}
		case <-c.done:
			return
		}
	}
}

func (c *ConnChannel) fail(op string, err error) {
	select {
	case <-c.done:
		return
	default:
	}
	if netutil.IsExpectedCloseError(err) || errors.Is(err, io.ErrUnexpectedEOF) && op == "receive" {
		c.logger.Debug("channel closed by peer", "peer", c.peer, "error", err)
		c.shutdown(nil)
		return
	}
	c.logger.Warn("channel failed", "peer", c.peer, "op", op, "error", err)
	c.shutdown(&TransportError{Peer: c.peer, Op: op, Err: err})
}
