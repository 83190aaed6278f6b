// Copyright 2026 The Easel Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"sync"

	"github.com/pion/webrtc/v4"
)

// fakeLink is a Link whose events the test injects. Like pion, it
// rejects remote candidates until a remote description is set.
type fakeLink struct {
	config  LinkConfig
	events  chan LinkEvent
	closed  chan struct{}
	once    sync.Once
	applied chan webrtc.ICECandidateInit

	mu            sync.Mutex
	remoteSet     bool
	remoteAnswers []string
	remoteOffer   string
	rejected      int
}

func (l *fakeLink) CreateOffer(context.Context) (string, error) {
	return "v=0 offer " + l.config.PeerID, nil
}

func (l *fakeLink) CreateAnswer(_ context.Context, offer string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.remoteOffer = offer
	l.remoteSet = true
	return "v=0 answer " + l.config.LocalID, nil
}

func (l *fakeLink) SetRemoteAnswer(answer string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.remoteAnswers = append(l.remoteAnswers, answer)
	l.remoteSet = true
	return nil
}

func (l *fakeLink) AddRemoteCandidate(candidate webrtc.ICECandidateInit) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.remoteSet {
		l.rejected++
		return errors.New("remote description not set")
	}
	l.applied <- candidate
	return nil
}

func (l *fakeLink) Events() <-chan LinkEvent { return l.events }

func (l *fakeLink) Close() error {
	l.once.Do(func() { close(l.closed) })
	return nil
}

func (l *fakeLink) answerCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.remoteAnswers)
}

func (l *fakeLink) rejectedCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rejected
}

type fakeLinkFactory struct {
	created chan *fakeLink
}

func newFakeLinkFactory() *fakeLinkFactory {
	return &fakeLinkFactory{created: make(chan *fakeLink, 16)}
}

func (f *fakeLinkFactory) NewLink(_ context.Context, config LinkConfig) (Link, error) {
	link := &fakeLink{
		config:  config,
		events:  make(chan LinkEvent, 16),
		closed:  make(chan struct{}),
		applied: make(chan webrtc.ICECandidateInit, 16),
	}
	f.created <- link
	return link, nil
}
