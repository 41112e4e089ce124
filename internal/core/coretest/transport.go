// Package coretest provides in-memory implementations of the core contracts
// for tests.
package coretest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
)

var ErrInjected = errors.New("injected transport failure")

// Transport is a PeerTransport that fabricates SDP. The SDP body lists the
// ids of the tracks attached when it was produced.
type Transport struct {
	Label string

	mu          sync.Mutex
	offers      int
	answers     int
	hasLocal    bool
	hasRemote   bool
	tracks      []core.LocalTrack
	senders     []*Sender
	remoteSDPs  []domain.SessionDescription
	closed      bool
	failNext    bool
	onTrack     func(core.RemoteTrack)
	onState     func(core.TransportState)
	connected   bool
	closeCalled int
}

func NewTransport(label string) *Transport {
	return &Transport{Label: label}
}

// FailNext makes the next description call return ErrInjected.
func (t *Transport) FailNext() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failNext = true
}

func (t *Transport) takeFailure() bool {
	f := t.failNext
	t.failNext = false
	return f
}

func (t *Transport) sdpLocked(kind string, n int) string {
	ids := make([]string, 0, len(t.tracks))
	for _, tr := range t.tracks {
		ids = append(ids, tr.ID())
	}
	return fmt.Sprintf("%s:%s:%d:tracks=%s", kind, t.Label, n, strings.Join(ids, ","))
}

func (t *Transport) CreateOffer(ctx context.Context) (domain.SessionDescription, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return domain.SessionDescription{}, errors.New("transport closed")
	}
	if t.takeFailure() {
		return domain.SessionDescription{}, ErrInjected
	}
	t.offers++
	t.hasLocal = true
	return domain.SessionDescription{Type: domain.SDPTypeOffer, SDP: t.sdpLocked("offer", t.offers)}, nil
}

func (t *Transport) CreateAnswer(ctx context.Context) (domain.SessionDescription, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return domain.SessionDescription{}, errors.New("transport closed")
	}
	if t.takeFailure() {
		t.mu.Unlock()
		return domain.SessionDescription{}, ErrInjected
	}
	if !t.hasRemote {
		t.mu.Unlock()
		return domain.SessionDescription{}, errors.New("no remote offer")
	}
	t.answers++
	sd := domain.SessionDescription{Type: domain.SDPTypeAnswer, SDP: t.sdpLocked("answer", t.answers)}
	t.hasRemote = false
	fire := t.markConnectedLocked()
	t.mu.Unlock()
	fire()
	return sd, nil
}

func (t *Transport) SetRemoteDescription(ctx context.Context, sd domain.SessionDescription) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return errors.New("transport closed")
	}
	if t.takeFailure() {
		t.mu.Unlock()
		return ErrInjected
	}
	t.remoteSDPs = append(t.remoteSDPs, sd)
	fire := func() {}
	switch sd.Type {
	case domain.SDPTypeOffer:
		if t.hasLocal {
			t.mu.Unlock()
			return errors.New("remote offer in have-local-offer")
		}
		t.hasRemote = true
	case domain.SDPTypeAnswer:
		if !t.hasLocal {
			t.mu.Unlock()
			return errors.New("answer without local offer")
		}
		t.hasLocal = false
		fire = t.markConnectedLocked()
	}
	t.mu.Unlock()
	fire()
	return nil
}

func (t *Transport) markConnectedLocked() func() {
	if t.connected || t.onState == nil {
		return func() {}
	}
	t.connected = true
	fn := t.onState
	return func() { fn(core.TransportConnected) }
}

func (t *Transport) AddTrack(track core.LocalTrack) (core.TrackSender, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, errors.New("transport closed")
	}
	t.tracks = append(t.tracks, track)
	s := &Sender{current: track}
	t.senders = append(t.senders, s)
	return s, nil
}

func (t *Transport) OnTrack(fn func(core.RemoteTrack)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onTrack = fn
}

func (t *Transport) OnStateChange(fn func(core.TransportState)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onState = fn
}

func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closeCalled++
	t.closed = true
	return nil
}

// EmitTrack delivers an inbound remote track.
func (t *Transport) EmitTrack(track core.RemoteTrack) {
	t.mu.Lock()
	fn := t.onTrack
	t.mu.Unlock()
	if fn != nil {
		fn(track)
	}
}

// EmitState reports a transport state change.
func (t *Transport) EmitState(st core.TransportState) {
	t.mu.Lock()
	fn := t.onState
	t.mu.Unlock()
	if fn != nil {
		fn(st)
	}
}

func (t *Transport) Offers() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.offers
}

func (t *Transport) Answers() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.answers
}

func (t *Transport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *Transport) CloseCalls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closeCalled
}

// Tracks lists the ids of tracks added, in order.
func (t *Transport) Tracks() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.tracks))
	for _, tr := range t.tracks {
		out = append(out, tr.ID())
	}
	return out
}

func (t *Transport) Senders() []*Sender {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*Sender(nil), t.senders...)
}

// Sender records track substitutions.
type Sender struct {
	mu       sync.Mutex
	current  core.LocalTrack
	replaced []string
}

func (s *Sender) ReplaceTrack(track core.LocalTrack) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = track
	s.replaced = append(s.replaced, track.ID())
	return nil
}

func (s *Sender) Current() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return ""
	}
	return s.current.ID()
}

func (s *Sender) Replaced() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.replaced...)
}

// Factory hands out Transports and remembers them by participant.
type Factory struct {
	mu         sync.Mutex
	transports map[domain.ParticipantID][]*Transport
	label      string
}

func NewFactory(label string) *Factory {
	return &Factory{label: label, transports: make(map[domain.ParticipantID][]*Transport)}
}

func (f *Factory) New(id domain.ParticipantID) (core.PeerTransport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := NewTransport(f.label + "->" + string(id))
	f.transports[id] = append(f.transports[id], t)
	return t, nil
}

// Latest returns the most recent transport built for id.
func (f *Factory) Latest(id domain.ParticipantID) *Transport {
	f.mu.Lock()
	defer f.mu.Unlock()
	ts := f.transports[id]
	if len(ts) == 0 {
		return nil
	}
	return ts[len(ts)-1]
}

func (f *Factory) Count(id domain.ParticipantID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.transports[id])
}

// All returns every transport built for id, oldest first.
func (f *Factory) All(id domain.ParticipantID) []*Transport {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Transport(nil), f.transports[id]...)
}
