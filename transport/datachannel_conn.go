// Copyright 2026 The Easel Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/easel-collab/easel/lib/clock"
)

// maxDataChannelMessage bounds each SCTP message written. Detached pion
// channels are message oriented: a Read must be given room for a whole
// message, so writes are split and reads go through a message buffer.
const maxDataChannelMessage = 16 << 10

// DataChannelConn presents a detached data channel as a byte stream
// net.Conn. A deadline that passes closes the channel, which unblocks
// any Read or Write in progress; the conn is unusable afterwards.
type DataChannelConn struct {
	rwc        io.ReadWriteCloser
	localLabel string
	peerLabel  string
	clock      clock.Clock

	readMu  sync.Mutex
	message []byte
	unread  []byte

	writeMu sync.Mutex

	mu      sync.Mutex
	read    deadline
	write   deadline
	expired bool
}

var _ net.Conn = (*DataChannelConn)(nil)

// NewDataChannelConn wraps a detached data channel.
func NewDataChannelConn(rwc io.ReadWriteCloser, localLabel, peerLabel string) *DataChannelConn {
	return newDataChannelConn(rwc, localLabel, peerLabel, clock.Real())
}

func newDataChannelConn(rwc io.ReadWriteCloser, localLabel, peerLabel string, clk clock.Clock) *DataChannelConn {
	return &DataChannelConn{
		rwc:        rwc,
		localLabel: localLabel,
		peerLabel:  peerLabel,
		clock:      clk,
		message:    make([]byte, maxDataChannelMessage),
	}
}

func (c *DataChannelConn) Read(buffer []byte) (int, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()
	if len(c.unread) == 0 {
		n, err := c.rwc.Read(c.message)
		if err != nil {
			return 0, c.deadlineError(err)
		}
		c.unread = c.message[:n]
	}
	n := copy(buffer, c.unread)
	c.unread = c.unread[n:]
	return n, nil
}

func (c *DataChannelConn) Write(buffer []byte) (int, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	written := 0
	for written < len(buffer) {
		end := min(written+maxDataChannelMessage, len(buffer))
		n, err := c.rwc.Write(buffer[written:end])
		written += n
		if err != nil {
			return written, c.deadlineError(err)
		}
	}
	return written, nil
}

func (c *DataChannelConn) Close() error {
	c.mu.Lock()
	c.read.stop()
	c.write.stop()
	c.mu.Unlock()
	return c.rwc.Close()
}

func (c *DataChannelConn) LocalAddr() net.Addr  { return dataChannelAddr(c.localLabel) }
func (c *DataChannelConn) RemoteAddr() net.Addr { return dataChannelAddr(c.peerLabel) }

// SetDeadline sets both deadlines. The zero time clears them.
func (c *DataChannelConn) SetDeadline(t time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.armLocked(&c.read, t)
	c.armLocked(&c.write, t)
	return nil
}

func (c *DataChannelConn) SetReadDeadline(t time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.armLocked(&c.read, t)
	return nil
}

func (c *DataChannelConn) SetWriteDeadline(t time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.armLocked(&c.write, t)
	return nil
}

func (c *DataChannelConn) armLocked(d *deadline, t time.Time) {
	d.stop()
	if t.IsZero() || c.expired {
		return
	}
	wait := t.Sub(c.clock.Now())
	if wait <= 0 {
		c.expireLocked()
		return
	}
	d.timer = c.clock.AfterFunc(wait, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.expireLocked()
	})
}

func (c *DataChannelConn) expireLocked() {
	if c.expired {
		return
	}
	c.expired = true
	c.rwc.Close()
}

// deadlineError reports os.ErrDeadlineExceeded for I/O cut short by a
// deadline.
func (c *DataChannelConn) deadlineError(err error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.expired {
		return os.ErrDeadlineExceeded
	}
	return err
}

type deadline struct {
	timer *clock.Timer
}

func (d *deadline) stop() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

type dataChannelAddr string

func (a dataChannelAddr) Network() string { return "webrtc" }
func (a dataChannelAddr) String() string  { return string(a) }
