// Copyright 2026 The Easel Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/easel-collab/easel/lib/clock"
	"github.com/easel-collab/easel/lib/pionlog"
	"github.com/pion/webrtc/v4"
)

// dataChannelLabel names the single data channel of every link.
const dataChannelLabel = "easel"

// linkEventBuffer holds pion callbacks until the negotiator reads them.
const linkEventBuffer = 64

// WebRTCLinkFactory creates pion PeerConnections with detached data
// channels and trickled candidates.
type WebRTCLinkFactory struct {
	// IncludeLoopback gathers loopback candidates, needed when both
	// peers run on one machine.
	IncludeLoopback bool

	// Clock drives data channel deadlines. Nil means the real clock.
	Clock clock.Clock
}

// NewLink creates a PeerConnection for one attempt. In relay mode ICE
// gathers relay candidates only.
func (f *WebRTCLinkFactory) NewLink(_ context.Context, config LinkConfig) (Link, error) {
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	clk := f.Clock
	if clk == nil {
		clk = clock.Real()
	}

	settingEngine := webrtc.SettingEngine{LoggerFactory: pionlog.Factory{Logger: logger}}
	settingEngine.DetachDataChannels()
	settingEngine.SetIncludeLoopbackCandidate(f.IncludeLoopback)
	api := webrtc.NewAPI(webrtc.WithSettingEngine(settingEngine))

	pcConfig := webrtc.Configuration{ICEServers: config.ICEServers}
	if config.Mode == ModeRelay {
		pcConfig.ICETransportPolicy = webrtc.ICETransportPolicyRelay
	}
	pc, err := api.NewPeerConnection(pcConfig)
	if err != nil {
		return nil, fmt.Errorf("creating peer connection: %w", err)
	}

	link := &webrtcLink{
		pc:     pc,
		config: config,
		clock:  clk,
		logger: logger,
		events: make(chan LinkEvent, linkEventBuffer),
		closed: make(chan struct{}),
	}
	pc.OnICECandidate(link.handleCandidate)
	pc.OnICEConnectionStateChange(link.handleICEState)
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != dataChannelLabel {
			logger.Warn("ignoring unexpected data channel", "label", dc.Label())
			dc.Close()
			return
		}
		link.watchDataChannel(dc)
	})
	return link, nil
}

type webrtcLink struct {
	pc     *webrtc.PeerConnection
	config LinkConfig
	clock  clock.Clock
	logger *slog.Logger

	events    chan LinkEvent
	closed    chan struct{}
	closeOnce sync.Once
}

func (l *webrtcLink) CreateOffer(ctx context.Context) (string, error) {
	ordered := true
	dc, err := l.pc.CreateDataChannel(dataChannelLabel, &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		return "", fmt.Errorf("creating data channel: %w", err)
	}
	l.watchDataChannel(dc)

	offer, err := l.pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("creating SDP offer: %w", err)
	}
	if err := l.pc.SetLocalDescription(offer); err != nil {
		return "", fmt.Errorf("setting local description: %w", err)
	}
	return offer.SDP, ctx.Err()
}

func (l *webrtcLink) CreateAnswer(ctx context.Context, offer string) (string, error) {
	remote := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offer}
	if err := l.pc.SetRemoteDescription(remote); err != nil {
		return "", fmt.Errorf("setting remote offer: %w", err)
	}
	answer, err := l.pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("creating SDP answer: %w", err)
	}
	if err := l.pc.SetLocalDescription(answer); err != nil {
		return "", fmt.Errorf("setting local description: %w", err)
	}
	return answer.SDP, ctx.Err()
}

func (l *webrtcLink) SetRemoteAnswer(answer string) error {
	remote := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answer}
	if err := l.pc.SetRemoteDescription(remote); err != nil {
		return fmt.Errorf("setting remote answer: %w", err)
	}
	return nil
}

func (l *webrtcLink) AddRemoteCandidate(candidate webrtc.ICECandidateInit) error {
	if err := l.pc.AddICECandidate(candidate); err != nil {
		return fmt.Errorf("adding remote candidate: %w", err)
	}
	return nil
}

func (l *webrtcLink) Events() <-chan LinkEvent { return l.events }

func (l *webrtcLink) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.closed)
		err = l.pc.Close()
	})
	return err
}

// emit blocks until the negotiator takes the event or the link closes.
// Pion calls back from its own goroutines, so this never runs under a
// negotiator lock.
func (l *webrtcLink) emit(event LinkEvent) {
	select {
	case l.events <- event:
	case <-l.closed:
	}
}

func (l *webrtcLink) handleCandidate(candidate *webrtc.ICECandidate) {
	// A nil candidate marks the end of gathering.
	if candidate == nil {
		return
	}
	l.emit(LinkEvent{Kind: LinkCandidate, Candidate: candidate.ToJSON()})
}

func (l *webrtcLink) handleICEState(state webrtc.ICEConnectionState) {
	l.logger.Debug("ICE state change", "peer", l.config.PeerID, "mode", l.config.Mode, "state", state.String())
	switch state {
	case webrtc.ICEConnectionStateChecking:
		l.emit(LinkEvent{Kind: LinkChecking})
	case webrtc.ICEConnectionStateConnected, webrtc.ICEConnectionStateCompleted:
		l.emit(LinkEvent{Kind: LinkConnected})
	case webrtc.ICEConnectionStateFailed, webrtc.ICEConnectionStateClosed:
		l.emit(LinkEvent{Kind: LinkFailed, Err: fmt.Errorf("ICE connection %s", state)})
	}
}

func (l *webrtcLink) watchDataChannel(dc *webrtc.DataChannel) {
	dc.OnOpen(func() {
		raw, err := dc.Detach()
		if err != nil {
			l.emit(LinkEvent{Kind: LinkFailed, Err: fmt.Errorf("detaching data channel: %w", err)})
			return
		}
		conn := newDataChannelConn(raw,
			l.config.LocalID+"/"+dataChannelLabel,
			l.config.PeerID+"/"+dataChannelLabel,
			l.clock)
		l.emit(LinkEvent{Kind: LinkChannelOpen, Conn: conn})
	})
}
