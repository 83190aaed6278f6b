// Copyright 2026 The Easel Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"sync"
)

var _ Signaler = (*MemorySignaler)(nil)

// memorySignalBuffer is the number of messages each direction holds
// before Send blocks.
const memorySignalBuffer = 64

// MemorySignaler is one end of an in-process signaling link. Closing
// either end ends the link for both.
type MemorySignaler struct {
	inbox  chan SignalMessage
	outbox chan SignalMessage
	link   *memoryLink
}

type memoryLink struct {
	once sync.Once
	done chan struct{}
}

// NewMemorySignalerPair returns the two ends of a signaling link.
func NewMemorySignalerPair() (*MemorySignaler, *MemorySignaler) {
	link := &memoryLink{done: make(chan struct{})}
	aToB := make(chan SignalMessage, memorySignalBuffer)
	bToA := make(chan SignalMessage, memorySignalBuffer)
	return &MemorySignaler{inbox: bToA, outbox: aToB, link: link},
		&MemorySignaler{inbox: aToB, outbox: bToA, link: link}
}

func (s *MemorySignaler) Send(ctx context.Context, msg SignalMessage) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	select {
	case <-s.link.done:
		return ErrSignalingClosed
	default:
	}
	select {
	case s.outbox <- msg:
		return nil
	case <-s.link.done:
		return ErrSignalingClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *MemorySignaler) Messages() <-chan SignalMessage { return s.inbox }

func (s *MemorySignaler) Done() <-chan struct{} { return s.link.done }

func (s *MemorySignaler) Close() error {
	s.link.once.Do(func() { close(s.link.done) })
	return nil
}
