// Copyright 2026 The Easel Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/easel-collab/easel/lib/clock"
	"github.com/easel-collab/easel/lib/config"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
)

var (
	errPeerHungUp = errors.New("peer ended the session")
	errSuperseded = errors.New("superseded by a newer offer")
)

// stateEventBuffer is each subscriber's Events backlog.
const stateEventBuffer = 32

// RetryPolicy bounds each mode's attempts and every wait within an
// attempt.
type RetryPolicy struct {
	Attempts int
	Timeout  time.Duration
}

// RetryPolicyFromConfig reads negotiation.attempts and
// negotiation.timeout.
func RetryPolicyFromConfig(negotiation config.NegotiationConfig) RetryPolicy {
	return RetryPolicy{Attempts: negotiation.Attempts, Timeout: negotiation.Timeout}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.Attempts <= 0 {
		p.Attempts = 3
	}
	if p.Timeout <= 0 {
		p.Timeout = 10 * time.Second
	}
	return p
}

// StateEvent reports one session transition. FAILED is reported once,
// when Connect or Accept gives up.
type StateEvent struct {
	Peer      string
	SessionID string
	Mode      Mode
	Attempt   int
	State     ConnectionState
	Err       error
}

// NegotiatorConfig configures a Negotiator.
type NegotiatorConfig struct {
	// LocalID is sent as the from field of every signal message.
	LocalID string

	Links  LinkFactory
	Policy RetryPolicy

	// STUNServers are used for direct attempts.
	STUNServers []ICEServer

	// Relay supplies TURN servers once direct attempts are exhausted.
	// Nil disables the relay phase.
	Relay RelayStrategy

	// Answer supplies the servers added to STUNServers when answering
	// an offer, typically the relay this peer published. It is asked
	// again for every offer. Nil answers with STUN only.
	Answer RelayStrategy

	// QueueDepth is the outbound queue length of established channels.
	QueueDepth int

	Clock  clock.Clock
	Logger *slog.Logger
}

// Negotiator establishes Channels: direct first, then through a relay,
// with a bounded number of timed attempts in each mode.
type Negotiator struct {
	config NegotiatorConfig
	policy RetryPolicy
	clock  clock.Clock
	logger *slog.Logger

	// closeMu orders bind's Add against Close's Wait.
	closeMu sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	active  sync.WaitGroup

	subscribersMu sync.Mutex
	subscribers   map[int]chan StateEvent
	nextID        int

	stateErrors atomic.Int64
}

// NewNegotiator returns a Negotiator. Links is required.
func NewNegotiator(config NegotiatorConfig) *Negotiator {
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if config.Relay == nil {
		config.Relay = NoRelay{}
	}
	if config.Answer == nil {
		config.Answer = NoRelay{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Negotiator{
		config:      config,
		policy:      config.Policy.withDefaults(),
		clock:       clk,
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
		subscribers: make(map[int]chan StateEvent),
	}
}

// Events subscribes to state transitions. Events are dropped for a
// subscriber that falls behind. Call the returned function to
// unsubscribe.
func (n *Negotiator) Events() (<-chan StateEvent, func()) {
	n.subscribersMu.Lock()
	defer n.subscribersMu.Unlock()
	id := n.nextID
	n.nextID++
	events := make(chan StateEvent, stateEventBuffer)
	n.subscribers[id] = events
	return events, func() {
		n.subscribersMu.Lock()
		defer n.subscribersMu.Unlock()
		delete(n.subscribers, id)
	}
}

func (n *Negotiator) publish(event StateEvent) {
	n.subscribersMu.Lock()
	defer n.subscribersMu.Unlock()
	for _, events := range n.subscribers {
		select {
		case events <- event:
		default:
			n.logger.Warn("dropping state event for slow subscriber",
				"peer", event.Peer, "state", event.State.String())
		}
	}
}

func (n *Negotiator) publishSession(session *Session) {
	n.publish(StateEvent{
		Peer:      session.Peer,
		SessionID: session.ID,
		Mode:      session.Mode,
		Attempt:   session.Attempt,
		State:     session.State(),
	})
}

// StateErrors returns how many out-of-state signal messages were
// rejected.
func (n *Negotiator) StateErrors() int64 { return n.stateErrors.Load() }

// Close aborts every negotiation in progress and waits for them to
// release their links. Established channels stay open.
func (n *Negotiator) Close() error {
	n.closeMu.Lock()
	n.cancel()
	n.closeMu.Unlock()
	n.active.Wait()
	return nil
}

// bind derives a context that also ends when the negotiator closes.
func (n *Negotiator) bind(ctx context.Context) (context.Context, func(), error) {
	n.closeMu.Lock()
	if n.ctx.Err() != nil {
		n.closeMu.Unlock()
		return nil, nil, ErrNegotiatorClosed
	}
	n.active.Add(1)
	n.closeMu.Unlock()
	ctx, cancel := context.WithCancelCause(ctx)
	stop := context.AfterFunc(n.ctx, func() { cancel(ErrNegotiatorClosed) })
	return ctx, func() {
		stop()
		cancel(nil)
		n.active.Done()
	}, nil
}

// Connect negotiates a channel to peer over signaler. Direct attempts
// run first; once they are exhausted the same policy runs in relay
// mode. If every attempt fails the result is one *NegotiationError and
// one FAILED event.
func (n *Negotiator) Connect(ctx context.Context, peer Endpoint, signaler Signaler) (Channel, error) {
	ctx, done, err := n.bind(ctx)
	if err != nil {
		return nil, err
	}
	defer done()

	logger := n.logger.With("peer", peer.ID)
	var last error
	total := 0
	lastMode := ModeDirect

modes:
	for _, mode := range []Mode{ModeDirect, ModeRelay} {
		servers, err := n.serversFor(ctx, mode, peer)
		if err != nil {
			logger.Info("skipping relay fallback", "error", err)
			continue
		}
		lastMode = mode
		for attempt := 1; attempt <= n.policy.Attempts; attempt++ {
			total++
			channel, err := n.offer(ctx, peer, signaler, mode, attempt, servers)
			if err == nil {
				return channel, nil
			}
			last = err
			if terminal(ctx, err) {
				break modes
			}
			logger.Warn("negotiation attempt failed", "mode", mode, "attempt", attempt, "error", err)
		}
	}

	failure := &NegotiationError{Peer: peer.ID, Attempts: total, Last: last}
	logger.Error("negotiation failed", "attempts", total, "error", last)
	n.publish(StateEvent{Peer: peer.ID, Mode: lastMode, Attempt: total, State: StateFailed, Err: failure})
	return nil, failure
}

func (n *Negotiator) serversFor(ctx context.Context, mode Mode, peer Endpoint) ([]ICEServer, error) {
	if mode == ModeDirect {
		return n.config.STUNServers, nil
	}
	servers, err := n.config.Relay.RelayServers(ctx, peer)
	if err != nil {
		return nil, err
	}
	if len(servers) == 0 {
		return nil, ErrNoRelay
	}
	return servers, nil
}

// terminal reports whether retrying is pointless.
func terminal(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, ErrSignalingClosed)
}

func (n *Negotiator) offer(ctx context.Context, peer Endpoint, signaler Signaler, mode Mode, attempt int, servers []ICEServer) (Channel, error) {
	session := newSession(uuid.NewString(), peer.ID, mode, attempt)
	a, err := n.newAttempt(ctx, session, signaler, mode, servers, true)
	if err != nil {
		return nil, err
	}

	sdp, err := a.link.CreateOffer(ctx)
	if err == nil {
		err = session.SetLocalOffer(sdp)
	}
	if err != nil {
		return nil, a.abandon(ctx, err)
	}
	n.publishSession(session)
	err = signaler.Send(ctx, SignalMessage{
		Type: MessageOffer, SDP: sdp, Session: session.ID, From: n.config.LocalID, Mode: mode,
	})
	if err != nil {
		return nil, a.abandon(ctx, fmt.Errorf("sending offer: %w", err))
	}

	conn, err := a.await(ctx, "answer")
	if err != nil {
		return nil, a.abandon(ctx, err)
	}
	return n.establish(a, conn), nil
}

// Accept answers offers arriving on signaler until one connects. An
// offer for a new session replaces the one being answered, since the
// offerer has moved on to its next attempt. Accept fails only when ctx
// ends, the signaling link closes, or the negotiator closes.
func (n *Negotiator) Accept(ctx context.Context, signaler Signaler) (Channel, error) {
	ctx, done, err := n.bind(ctx)
	if err != nil {
		return nil, err
	}
	defer done()

	var next *SignalMessage
	attempts := 0
	peer := ""
	for {
		if next == nil {
			offer, err := n.awaitOffer(ctx, signaler)
			if err != nil {
				return nil, n.acceptFailed(peer, attempts, err)
			}
			next = &offer
		}
		offer := *next
		next = nil
		peer = offerPeer(offer)
		attempts++

		channel, err := n.answer(ctx, signaler, offer, attempts, &next)
		if err == nil {
			return channel, nil
		}
		if terminal(ctx, err) {
			return nil, n.acceptFailed(peer, attempts, err)
		}
		n.logger.Info("answering session ended", "peer", peer, "session", offer.Session, "error", err)
	}
}

func (n *Negotiator) acceptFailed(peer string, attempts int, err error) error {
	failure := &NegotiationError{Peer: peer, Attempts: attempts, Last: err}
	n.publish(StateEvent{Peer: peer, State: StateFailed, Attempt: attempts, Err: failure})
	return failure
}

func offerPeer(offer SignalMessage) string {
	if offer.From == "" {
		return "anonymous"
	}
	return offer.From
}

func (n *Negotiator) awaitOffer(ctx context.Context, signaler Signaler) (SignalMessage, error) {
	for {
		select {
		case <-ctx.Done():
			return SignalMessage{}, context.Cause(ctx)
		case <-signaler.Done():
			return SignalMessage{}, ErrSignalingClosed
		case msg := <-signaler.Messages():
			if msg.Type == MessageOffer {
				return msg, nil
			}
			if msg.Type == MessageAnswer {
				n.rejectState(n.logger, &NegotiationStateError{Session: msg.Session, State: StateNew, Message: msg.Type})
				continue
			}
			n.logger.Debug("ignoring signal outside a session", "type", msg.Type, "session", msg.Session)
		}
	}
}

func (n *Negotiator) answer(ctx context.Context, signaler Signaler, offer SignalMessage, attempt int, next **SignalMessage) (Channel, error) {
	mode := offer.Mode
	if mode == "" {
		mode = ModeDirect
	}
	session := newSession(offer.Session, offerPeer(offer), mode, attempt)
	servers := slices.Clone(n.config.STUNServers)
	extra, err := n.config.Answer.RelayServers(ctx, Endpoint{ID: session.Peer})
	switch {
	case err == nil:
		servers = append(servers, extra...)
	case !errors.Is(err, ErrNoRelay):
		n.logger.Warn("answering without a relay", "peer", session.Peer, "error", err)
	}
	// The answering side gathers every candidate type; a relay-mode
	// offerer reaches them through its own TURN allocation.
	a, err := n.newAttempt(ctx, session, signaler, ModeDirect, servers, false)
	if err != nil {
		return nil, err
	}

	answer, err := a.link.CreateAnswer(ctx, offer.SDP)
	if err == nil {
		err = session.ApplyOffer(offer.SDP, answer)
	}
	if err != nil {
		return nil, a.abandon(ctx, err)
	}
	n.publishSession(session)
	err = signaler.Send(ctx, SignalMessage{
		Type: MessageAnswer, SDP: answer, Session: session.ID, From: n.config.LocalID, Mode: mode,
	})
	if err != nil {
		return nil, a.abandon(ctx, fmt.Errorf("sending answer: %w", err))
	}

	conn, err := a.await(ctx, "ICE connectivity")
	if err != nil {
		*next = a.superseding
		return nil, a.abandon(ctx, err)
	}
	return n.establish(a, conn), nil
}

func (n *Negotiator) rejectState(logger *slog.Logger, err error) {
	n.stateErrors.Add(1)
	logger.Warn("ignoring out-of-state signal", "error", err)
}

// establish hands a connected attempt's link to a channel. Closing the
// channel closes the link; an ICE failure on the link fails the channel.
func (n *Negotiator) establish(a *attempt, conn net.Conn) Channel {
	n.publishSession(a.session)
	a.logger.Info("channel established")
	link := a.link
	channel := NewConnChannel(conn, a.session.Peer, ChannelConfig{
		QueueDepth: n.config.QueueDepth,
		Logger:     a.logger,
		OnClose:    func() { link.Close() },
	})
	go func() {
		for {
			select {
			case event := <-link.Events():
				if event.Kind == LinkFailed {
					channel.fail("ice", event.Err)
					return
				}
			case <-channel.Done():
				return
			}
		}
	}()
	return channel
}

// attempt drives one Session over its Link and the signaling link.
type attempt struct {
	n        *Negotiator
	session  *Session
	link     Link
	signaler Signaler
	offerer  bool
	logger   *slog.Logger

	timer       *clock.Timer
	waiting     string
	superseding *SignalMessage
}

func (n *Negotiator) newAttempt(ctx context.Context, session *Session, signaler Signaler, linkMode Mode, servers []ICEServer, offerer bool) (*attempt, error) {
	logger := n.logger.With("peer", session.Peer, "session", session.ID, "mode", session.Mode, "attempt", session.Attempt)
	link, err := n.config.Links.NewLink(ctx, LinkConfig{
		Mode:       linkMode,
		ICEServers: servers,
		LocalID:    n.config.LocalID,
		PeerID:     session.Peer,
		Logger:     logger,
	})
	if err != nil {
		session.Fail(err)
		return nil, fmt.Errorf("creating link: %w", err)
	}
	return &attempt{n: n, session: session, link: link, signaler: signaler, offerer: offerer, logger: logger}, nil
}

// abandon releases a failed attempt and tells the peer, if it can
// still be reached, that the session is over.
func (a *attempt) abandon(ctx context.Context, cause error) error {
	a.session.Fail(cause)
	a.session.Close()
	a.link.Close()
	if ctx.Err() == nil && !errors.Is(cause, ErrSignalingClosed) && !errors.Is(cause, errPeerHungUp) {
		byeCtx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		bye := SignalMessage{Type: MessageBye, Session: a.session.ID, From: a.n.config.LocalID}
		if err := a.signaler.Send(byeCtx, bye); err != nil {
			a.logger.Debug("bye not delivered", "error", err)
		}
	}
	return cause
}

func (a *attempt) arm(waiting string) {
	if a.timer != nil {
		a.timer.Stop()
	}
	a.timer = a.n.clock.NewTimer(a.n.policy.Timeout)
	a.waiting = waiting
}

// await runs the attempt until the data channel opens. Each phase
// (answer, ICE connectivity, data channel) gets the full policy
// timeout.
func (a *attempt) await(ctx context.Context, waiting string) (net.Conn, error) {
	a.arm(waiting)
	defer func() { a.timer.Stop() }()
	for {
		select {
		case <-ctx.Done():
			return nil, context.Cause(ctx)
		case <-a.signaler.Done():
			return nil, ErrSignalingClosed
		case <-a.timer.C:
			return nil, fmt.Errorf("no %s from %s within %s: %w", a.waiting, a.session.Peer, a.n.policy.Timeout, ErrNegotiationTimeout)
		case msg := <-a.signaler.Messages():
			if err := a.handleSignal(msg); err != nil {
				return nil, err
			}
		case event := <-a.link.Events():
			conn, err := a.handleLinkEvent(ctx, event)
			if err != nil || conn != nil {
				return conn, err
			}
		}
	}
}

func (a *attempt) handleSignal(msg SignalMessage) error {
	session := a.session
	if msg.Session != session.ID {
		switch {
		case msg.Type == MessageOffer && !a.offerer:
			a.superseding = &msg
			return errSuperseded
		case msg.Type == MessageAnswer:
			a.n.rejectState(a.logger, &NegotiationStateError{Session: msg.Session, State: StateClosed, Message: msg.Type})
		default:
			a.logger.Debug("ignoring signal for another session", "type", msg.Type, "other", msg.Session)
		}
		return nil
	}

	switch msg.Type {
	case MessageAnswer:
		if err := session.ApplyAnswer(msg.SDP); err != nil {
			a.n.rejectState(a.logger, err)
			return nil
		}
		if err := a.link.SetRemoteAnswer(msg.SDP); err != nil {
			return err
		}
		a.n.publishSession(session)
		a.applyCandidates(session.TakePending())
		a.arm("ICE connectivity")
	case MessageOffer:
		a.n.rejectState(a.logger, &NegotiationStateError{Session: session.ID, State: session.State(), Message: msg.Type})
	case MessageCandidate:
		a.applyCandidates(session.AddRemoteCandidate(*msg.Candidate))
	case MessageBye:
		return errPeerHungUp
	}
	return nil
}

// applyCandidates hands candidates to the link in order. A candidate
// the link rejects is logged and skipped.
func (a *attempt) applyCandidates(candidates []webrtc.ICECandidateInit) {
	for _, candidate := range candidates {
		if err := a.link.AddRemoteCandidate(candidate); err != nil {
			a.logger.Warn("remote candidate rejected", "candidate", candidate.Candidate, "error", err)
		}
	}
}

func (a *attempt) handleLinkEvent(ctx context.Context, event LinkEvent) (net.Conn, error) {
	session := a.session
	switch event.Kind {
	case LinkCandidate:
		candidate := event.Candidate
		err := a.signaler.Send(ctx, SignalMessage{
			Type: MessageCandidate, Candidate: &candidate, Session: session.ID, From: a.n.config.LocalID,
		})
		if err != nil {
			return nil, fmt.Errorf("sending candidate: %w", err)
		}
	case LinkChecking:
		if session.BeginChecking() {
			a.n.publishSession(session)
		}
	case LinkConnected:
		if session.BeginChecking() {
			a.n.publishSession(session)
		}
		a.arm("data channel")
	case LinkChannelOpen:
		if err := session.MarkConnected(); err != nil {
			event.Conn.Close()
			return nil, err
		}
		return event.Conn, nil
	case LinkFailed:
		return nil, event.Err
	}
	return nil, nil
}
