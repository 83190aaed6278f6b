// Copyright 2026 The Easel Authors
// SPDX-License-Identifier: Apache-2.0

package boardsync

import (
	"maps"
	"slices"
)

// stream restores the sequence order of one incarnation of a remote
// author. The first action seen fixes the baseline: a peer that joins
// late has never seen the earlier actions and there is no catch-up.
type stream struct {
	incarnation uint64
	next        uint64
	pending     map[uint64]Action
}

// admission is what a stream decided about an incoming action.
type admission int

const (
	admitReady admission = iota
	admitBuffered
	admitDuplicate
	admitSkipped
)

// admit files a and returns the actions now ready to apply, in order.
// When the buffer already holds window actions the stream gives up on
// the gap and resumes at the earliest buffered sequence.
func (s *stream) admit(a Action, window int) ([]Action, admission) {
	if s.pending == nil {
		s.pending = make(map[uint64]Action)
		if s.next == 0 {
			s.next = a.Sequence
		}
	}
	if a.Sequence < s.next {
		return nil, admitDuplicate
	}
	if _, buffered := s.pending[a.Sequence]; buffered {
		return nil, admitDuplicate
	}
	s.pending[a.Sequence] = a
	if a.Sequence == s.next {
		return s.drain(), admitReady
	}
	if len(s.pending) <= window {
		return nil, admitBuffered
	}
	s.next = slices.Min(slices.Collect(maps.Keys(s.pending)))
	return s.drain(), admitSkipped
}

func (s *stream) drain() []Action {
	var ready []Action
	for {
		a, ok := s.pending[s.next]
		if !ok {
			return ready
		}
		delete(s.pending, s.next)
		ready = append(ready, a)
		s.next++
	}
}

// buffered reports how many actions wait on a gap.
func (s *stream) buffered() int { return len(s.pending) }
