// Copyright 2026 The Easel Authors
// SPDX-License-Identifier: Apache-2.0

package boardsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/easel-collab/easel/canvas"
	"github.com/easel-collab/easel/lib/clock"
	"github.com/easel-collab/easel/lib/compress"
	"github.com/easel-collab/easel/lib/config"
	"github.com/easel-collab/easel/transport"
)

const (
	defaultInboxDepth    = 256
	defaultReorderWindow = 1024
	eventBuffer          = 64
)

var (
	// ErrStopped is returned by operations submitted after Run has
	// returned.
	ErrStopped = errors.New("synchronizer stopped")

	// ErrNotLocalAuthor is returned by Undo and Redo for any author
	// other than the local one. Remote authors undo their own edits.
	ErrNotLocalAuthor = errors.New("only the local author's history can be undone here")
)

// Config configures a Synchronizer.
type Config struct {
	// LocalID is the author id stamped on local actions.
	LocalID string

	// Incarnation is stamped on local actions so peers can tell this
	// run of LocalID from an earlier one. Zero takes the clock's time
	// in nanoseconds.
	Incarnation uint64

	// Model is the canvas. Only the Run goroutine touches it.
	Model canvas.Model

	// Compression and CompressionThreshold control frame encoding.
	Compression          compress.Tag
	CompressionThreshold int

	// InboxDepth bounds the operations waiting for Run.
	InboxDepth int

	// ReorderWindow bounds the early actions buffered per remote
	// author.
	ReorderWindow int

	// Forward re-broadcasts every admitted remote action to the other
	// peers. A host sitting between guests that cannot reach each other
	// sets it.
	Forward bool

	Clock  clock.Clock
	Logger *slog.Logger
}

// ConfigFromSync builds a Config from the sync section of the
// configuration file.
func ConfigFromSync(localID string, model canvas.Model, settings config.SyncConfig) (Config, error) {
	tag, err := compress.ParseTag(settings.Compression)
	if err != nil {
		return Config{}, fmt.Errorf("sync: %w", err)
	}
	return Config{
		LocalID:              localID,
		Model:                model,
		Compression:          tag,
		CompressionThreshold: settings.CompressionThreshold,
		InboxDepth:           settings.QueueDepth,
		ReorderWindow:        settings.ReorderWindow,
	}, nil
}

// EventKind classifies an Event.
type EventKind int

const (
	EventPeerJoined EventKind = iota
	EventPeerLeft
	EventApplied
	EventReplayFailed
)

func (k EventKind) String() string {
	switch k {
	case EventPeerJoined:
		return "peer-joined"
	case EventPeerLeft:
		return "peer-left"
	case EventApplied:
		return "applied"
	case EventReplayFailed:
		return "replay-failed"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event reports something that happened to the session. Action is set
// for EventApplied; Err for EventReplayFailed and for a peer that left
// because its channel failed.
type Event struct {
	Kind   EventKind
	Peer   string
	Action Action
	Err    error
}

// Stats counts what the synchronizer did with remote traffic.
type Stats struct {
	Applied    uint64
	Echoes     uint64
	Duplicates uint64
	Rejected   uint64
	Skipped    uint64
	Stale      uint64
	Restarts   uint64
}

type operation int

const (
	opSubmit operation = iota
	opUndo
	opRedo
	opRemote
	opDo
)

type command struct {
	op     operation
	action Action
	from   string
	fn     func()
	reply  chan reply
}

type reply struct {
	action Action
	err    error
}

type peer struct {
	id      string
	channel transport.Channel
}

// Synchronizer replicates canvas edits between peers. Every mutation
// (local submissions, undo and redo, remote actions) passes through one
// inbox consumed by Run, so the canvas and histories have a single
// owner. Broadcasts are best effort: a peer whose queue is full or
// whose channel failed misses the action and nothing is resent.
type Synchronizer struct {
	config  Config
	clock   clock.Clock
	logger  *slog.Logger
	inbox   chan command
	events  chan Event
	stopped chan struct{}
	running atomic.Bool

	mu    sync.Mutex
	peers map[string]*peer

	applied    atomic.Uint64
	echoes     atomic.Uint64
	duplicates atomic.Uint64
	rejected   atomic.Uint64
	skipped    atomic.Uint64
	stale      atomic.Uint64
	restarts   atomic.Uint64

	// Owned by Run.
	board     board
	histories map[string]*AuthorHistory
	streams   map[string]*stream
	sequence  uint64
}

// New returns a Synchronizer. Call Run to start processing.
func New(config Config) *Synchronizer {
	if config.InboxDepth <= 0 {
		config.InboxDepth = defaultInboxDepth
	}
	if config.ReorderWindow <= 0 {
		config.ReorderWindow = defaultReorderWindow
	}
	if config.Model == nil {
		config.Model = canvas.NewMemory()
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	if config.Incarnation == 0 {
		config.Incarnation = uint64(config.Clock.Now().UnixNano())
	}
	return &Synchronizer{
		config:    config,
		clock:     config.Clock,
		logger:    config.Logger,
		inbox:     make(chan command, config.InboxDepth),
		events:    make(chan Event, eventBuffer),
		stopped:   make(chan struct{}),
		peers:     make(map[string]*peer),
		board:     board{scene: newScene(), model: config.Model},
		histories: make(map[string]*AuthorHistory),
		streams:   make(map[string]*stream),
	}
}

// LocalID returns the local author id.
func (s *Synchronizer) LocalID() string { return s.config.LocalID }

// Incarnation returns the incarnation stamped on local actions.
func (s *Synchronizer) Incarnation() uint64 { return s.config.Incarnation }

// Events delivers session events. Events are dropped when nobody keeps
// up with the channel.
func (s *Synchronizer) Events() <-chan Event { return s.events }

// Stats returns a snapshot of the remote traffic counters.
func (s *Synchronizer) Stats() Stats {
	return Stats{
		Applied:    s.applied.Load(),
		Echoes:     s.echoes.Load(),
		Duplicates: s.duplicates.Load(),
		Rejected:   s.rejected.Load(),
		Skipped:    s.skipped.Load(),
		Stale:      s.stale.Load(),
		Restarts:   s.restarts.Load(),
	}
}

// Run processes the inbox until ctx is done, then closes every peer
// channel. It may be called once.
func (s *Synchronizer) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.New("synchronizer already running")
	}
	defer close(s.stopped)
	defer s.closePeers()

	s.logger.Info("synchronizer running", "author", s.config.LocalID)
	for {
		select {
		case <-ctx.Done():
			return context.Cause(ctx)
		case cmd := <-s.inbox:
			s.dispatch(cmd)
		}
	}
}

func (s *Synchronizer) dispatch(cmd command) {
	var result reply
	switch cmd.op {
	case opSubmit:
		result.action, result.err = s.submit(cmd.action)
	case opUndo:
		result.action, result.err = s.undo()
	case opRedo:
		result.action, result.err = s.redo()
	case opRemote:
		result.err = s.receive(cmd.from, cmd.action)
	case opDo:
		cmd.fn()
	}
	cmd.reply <- result
}

// call hands cmd to Run and waits for the outcome.
func (s *Synchronizer) call(ctx context.Context, cmd command) (Action, error) {
	cmd.reply = make(chan reply, 1)
	select {
	case s.inbox <- cmd:
	case <-ctx.Done():
		return Action{}, context.Cause(ctx)
	case <-s.stopped:
		return Action{}, ErrStopped
	}
	select {
	case result := <-cmd.reply:
		return result.action, result.err
	case <-ctx.Done():
		return Action{}, context.Cause(ctx)
	case <-s.stopped:
		select {
		case result := <-cmd.reply:
			return result.action, result.err
		default:
			return Action{}, ErrStopped
		}
	}
}

// SubmitLocalAction applies a local edit and broadcasts it. The author,
// sequence, and timestamp are assigned here; the stamped action is
// returned. Undo and Redo go through their own methods.
func (s *Synchronizer) SubmitLocalAction(ctx context.Context, a Action) (Action, error) {
	return s.call(ctx, command{op: opSubmit, action: a})
}

// OnRemoteAction replays an action received from peer from. Echoes of
// local actions and duplicates are dropped silently. An action that
// cannot be replayed is reported on Events and returned as a
// *ReplayError; it does not affect later actions.
func (s *Synchronizer) OnRemoteAction(ctx context.Context, from string, a Action) error {
	_, err := s.call(ctx, command{op: opRemote, from: from, action: a})
	return err
}

// Undo reverses the most recent edit of author, which must be the
// local author, and broadcasts the Undo action.
func (s *Synchronizer) Undo(ctx context.Context, author string) (Action, error) {
	if author != s.config.LocalID {
		return Action{}, fmt.Errorf("undo %s: %w", author, ErrNotLocalAuthor)
	}
	return s.call(ctx, command{op: opUndo})
}

// Redo repeats the most recently undone edit of author, which must be
// the local author, and broadcasts the Redo action.
func (s *Synchronizer) Redo(ctx context.Context, author string) (Action, error) {
	if author != s.config.LocalID {
		return Action{}, fmt.Errorf("redo %s: %w", author, ErrNotLocalAuthor)
	}
	return s.call(ctx, command{op: opRedo})
}

// Do runs fn on the Run goroutine, where it may read the canvas model.
func (s *Synchronizer) Do(ctx context.Context, fn func()) error {
	_, err := s.call(ctx, command{op: opDo, fn: fn})
	return err
}

// History returns author's undo and redo stacks, oldest first.
func (s *Synchronizer) History(ctx context.Context, author string) (undo, redo []ActionRef, err error) {
	err = s.Do(ctx, func() {
		if history, ok := s.histories[author]; ok {
			undo, redo = history.UndoRefs(), history.RedoRefs()
		}
	})
	return undo, redo, err
}

func (s *Synchronizer) history(author string) *AuthorHistory {
	history, ok := s.histories[author]
	if !ok {
		history = newAuthorHistory(author)
		s.histories[author] = history
	}
	return history
}

func (s *Synchronizer) stamp(a Action) Action {
	a.Author = s.config.LocalID
	a.Sequence = s.sequence + 1
	a.Incarnation = s.config.Incarnation
	a.Timestamp = s.clock.Now()
	return a
}

func (s *Synchronizer) submit(a Action) (Action, error) {
	if a.Kind == KindUndo || a.Kind == KindRedo {
		return Action{}, fmt.Errorf("submit %s: use Undo or Redo", a.Kind)
	}
	a = s.stamp(a)
	if a.Kind == KindTextCreate && a.Text != nil && a.Text.TextID == "" {
		text := *a.Text
		text.TextID = a.generatedID()
		a.Text = &text
	}
	if err := a.Validate(); err != nil {
		return Action{}, fmt.Errorf("submit: %w", err)
	}
	effect, err := s.board.plan(a)
	if err != nil {
		return Action{}, fmt.Errorf("submit %s: %w", a.Kind, err)
	}
	s.sequence = a.Sequence
	s.board.forward(effect)
	s.history(a.Author).record(&entry{action: a, effect: effect})
	s.logger.Debug("local action", "kind", a.Kind, "seq", a.Sequence)
	s.broadcast(a, "")
	return a, nil
}

func (s *Synchronizer) undo() (Action, error) {
	history := s.history(s.config.LocalID)
	top, err := history.peekUndo()
	if err != nil {
		return Action{}, err
	}
	target := top.action.Ref()
	a := s.stamp(Action{Kind: KindUndo, Target: &target})
	s.sequence = a.Sequence
	s.board.reverse(top.effect)
	history.undone()
	s.logger.Debug("local undo", "target", target.String())
	s.broadcast(a, "")
	return a, nil
}

func (s *Synchronizer) redo() (Action, error) {
	history := s.history(s.config.LocalID)
	top, err := history.peekRedo()
	if err != nil {
		return Action{}, err
	}
	target := top.action.Ref()
	a := s.stamp(Action{Kind: KindRedo, Target: &target})
	s.sequence = a.Sequence
	s.board.forward(top.effect)
	history.redone()
	s.logger.Debug("local redo", "target", target.String())
	s.broadcast(a, "")
	return a, nil
}

// receive admits a remote action into its author's stream and replays
// whatever the stream releases.
func (s *Synchronizer) receive(from string, a Action) error {
	if a.Author == s.config.LocalID {
		s.echoes.Add(1)
		s.logger.Debug("dropping echo", "peer", from, "seq", a.Sequence)
		return nil
	}
	if err := a.Validate(); err != nil {
		return s.replayFailed(&ReplayError{Peer: from, Action: a.Ref(), Kind: a.Kind, Err: err})
	}

	author, ok := s.streams[a.Author]
	switch {
	case !ok:
		author = &stream{incarnation: a.Incarnation}
		s.streams[a.Author] = author
	case a.Incarnation < author.incarnation:
		s.stale.Add(1)
		s.logger.Debug("dropping action from an earlier incarnation", "peer", from,
			"author", a.Author, "seq", a.Sequence, "incarnation", a.Incarnation)
		return nil
	case a.Incarnation > author.incarnation:
		s.restarts.Add(1)
		s.logger.Info("author restarted, starting a new history", "peer", from,
			"author", a.Author, "incarnation", a.Incarnation, "dropped_buffered", author.buffered())
		author = &stream{incarnation: a.Incarnation}
		s.streams[a.Author] = author
		delete(s.histories, a.Author)
	}
	ready, admission := author.admit(a, s.config.ReorderWindow)
	switch admission {
	case admitDuplicate:
		s.duplicates.Add(1)
		s.logger.Debug("dropping duplicate", "peer", from, "author", a.Author, "seq", a.Sequence)
		return nil
	case admitBuffered:
		s.logger.Debug("buffering early action", "author", a.Author, "seq", a.Sequence,
			"expected", author.next, "buffered", author.buffered())
		return nil
	case admitSkipped:
		s.skipped.Add(1)
		s.logger.Warn("reorder window full, skipping missing actions",
			"author", a.Author, "resume_at", ready[0].Sequence, "window", s.config.ReorderWindow)
	}

	var errs []error
	for _, next := range ready {
		if s.config.Forward {
			s.broadcast(next, from)
		}
		if err := s.replay(next); err != nil {
			errs = append(errs, s.replayFailed(&ReplayError{Peer: from, Action: next.Ref(), Kind: next.Kind, Err: err}))
			continue
		}
		s.applied.Add(1)
		s.publish(Event{Kind: EventApplied, Peer: from, Action: next})
	}
	return errors.Join(errs...)
}

// replay applies one remote action to the canvas and the author's
// shadow history.
func (s *Synchronizer) replay(a Action) error {
	history := s.history(a.Author)
	switch a.Kind {
	case KindUndo:
		top, err := history.peekUndo()
		if err != nil {
			return err
		}
		if top.action.Ref() != *a.Target {
			return fmt.Errorf("undo targets %s but %s is on top of the history", a.Target, top.action.Ref())
		}
		s.board.reverse(top.effect)
		history.undone()
	case KindRedo:
		top, err := history.peekRedo()
		if err != nil {
			return err
		}
		if top.action.Ref() != *a.Target {
			return fmt.Errorf("redo targets %s but %s is on top of the redo stack", a.Target, top.action.Ref())
		}
		s.board.forward(top.effect)
		history.redone()
	default:
		effect, err := s.board.plan(a)
		if err != nil {
			return err
		}
		s.board.forward(effect)
		history.record(&entry{action: a, effect: effect})
	}
	return nil
}

func (s *Synchronizer) replayFailed(err *ReplayError) error {
	s.rejected.Add(1)
	s.logger.Warn("skipping remote action", "peer", err.Peer, "action", err.Action.String(), "error", err.Err)
	s.publish(Event{Kind: EventReplayFailed, Peer: err.Peer, Err: err})
	return err
}

func (s *Synchronizer) publish(event Event) {
	select {
	case s.events <- event:
	default:
		s.logger.Debug("event dropped", "kind", event.Kind.String(), "peer", event.Peer)
	}
}

// broadcast sends a to every peer except the one named by except.
func (s *Synchronizer) broadcast(a Action, except string) {
	peers := s.snapshot()
	if len(peers) == 0 {
		return
	}
	frame, err := EncodeFrame(a, s.config.Compression, s.config.CompressionThreshold)
	if err != nil {
		s.logger.Error("cannot encode action", "action", a.Ref().String(), "error", err)
		return
	}
	for _, p := range peers {
		if p.id == except {
			continue
		}
		if err := p.channel.Send(frame); err != nil {
			s.logger.Warn("peer missed action", "peer", p.id, "action", a.Ref().String(), "error", err)
		}
	}
}

// AddPeer starts replicating with the peer at the other end of channel.
// A second channel for the same peer replaces the first.
func (s *Synchronizer) AddPeer(channel transport.Channel) error {
	id := channel.Peer()
	if id == s.config.LocalID {
		return fmt.Errorf("peer %s is the local author", id)
	}
	select {
	case <-s.stopped:
		return ErrStopped
	default:
	}

	p := &peer{id: id, channel: channel}
	s.mu.Lock()
	previous := s.peers[id]
	s.peers[id] = p
	s.mu.Unlock()
	if previous != nil {
		s.logger.Info("replacing channel", "peer", id)
		previous.channel.Close()
	}

	s.logger.Info("peer joined", "peer", id)
	s.publish(Event{Kind: EventPeerJoined, Peer: id})
	go s.read(p)
	return nil
}

// RemovePeer closes the channel to peer id. Nothing that peer missed
// is resent if it joins again.
func (s *Synchronizer) RemovePeer(id string) bool {
	s.mu.Lock()
	p, ok := s.peers[id]
	delete(s.peers, id)
	s.mu.Unlock()
	if !ok {
		return false
	}
	p.channel.Close()
	s.logger.Info("peer removed", "peer", id)
	s.publish(Event{Kind: EventPeerLeft, Peer: id})
	return true
}

// Peers returns the connected peer ids, sorted.
func (s *Synchronizer) Peers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.peers))
	for id := range s.peers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (s *Synchronizer) snapshot() []*peer {
	s.mu.Lock()
	defer s.mu.Unlock()
	peers := make([]*peer, 0, len(s.peers))
	for _, p := range s.peers {
		peers = append(peers, p)
	}
	return peers
}

// read feeds one peer's frames into the inbox until its channel ends.
func (s *Synchronizer) read(p *peer) {
	for frame := range p.channel.Messages() {
		a, err := DecodeFrame(frame)
		if err != nil {
			s.replayFailed(&ReplayError{Peer: p.id, Action: a.Ref(), Kind: a.Kind, Err: err})
			continue
		}
		if err := s.OnRemoteAction(context.Background(), p.id, a); errors.Is(err, ErrStopped) {
			return
		}
	}

	s.mu.Lock()
	current := s.peers[p.id] == p
	if current {
		delete(s.peers, p.id)
	}
	s.mu.Unlock()
	if !current {
		return
	}
	err := p.channel.Err()
	s.logger.Info("peer left", "peer", p.id, "error", err)
	s.publish(Event{Kind: EventPeerLeft, Peer: p.id, Err: err})
}

func (s *Synchronizer) closePeers() {
	s.mu.Lock()
	peers := s.peers
	s.peers = make(map[string]*peer)
	s.mu.Unlock()
	for _, p := range peers {
		p.channel.Close()
	}
}
