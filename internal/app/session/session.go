// Package session drives offer/answer negotiation with one remote participant.
package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Session owns the transport to one participant. It never stops the local
// tracks it sends; those belong to the media controller.
type Session struct {
	participant domain.ParticipantID
	transport   core.PeerTransport
	logger      zerolog.Logger

	mu       sync.Mutex
	state    domain.NegotiationState
	inflight bool
	local    *domain.SessionDescription
	remote   *domain.SessionDescription
	senders  map[domain.MediaKind]core.TrackSender
	stableCh chan struct{}

	onReady   []func(*Session)
	onTrack   func(*Session, core.RemoteTrack)
	onState   func(*Session, core.TransportState)
	closed    chan struct{}
	closeOnce sync.Once
}

func New(participant domain.ParticipantID, transport core.PeerTransport) *Session {
	s := &Session{
		participant: participant,
		transport:   transport,
		logger:      log.With().Str("module", "session").Str("participant", string(participant)).Logger(),
		state:       domain.Idle,
		senders:     make(map[domain.MediaKind]core.TrackSender),
		stableCh:    make(chan struct{}),
		closed:      make(chan struct{}),
	}
	transport.OnTrack(func(t core.RemoteTrack) {
		s.mu.Lock()
		fn := s.onTrack
		s.mu.Unlock()
		if fn != nil {
			fn(s, t)
		}
	})
	transport.OnStateChange(func(st core.TransportState) {
		s.logger.Debug().Str("transport", st.String()).Msg("transport state")
		s.mu.Lock()
		fn := s.onState
		s.mu.Unlock()
		if fn != nil {
			fn(s, st)
		}
	})
	return s
}

func (s *Session) Participant() domain.ParticipantID { return s.participant }

func (s *Session) State() domain.NegotiationState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) LocalDescription() *domain.SessionDescription {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.local
}

func (s *Session) RemoteDescription() *domain.SessionDescription {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remote
}

// OnReady registers a callback fired every time the session enters Stable.
func (s *Session) OnReady(fn func(*Session)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onReady = append(s.onReady, fn)
}

// OnRemoteTrack sets the handler for inbound tracks.
func (s *Session) OnRemoteTrack(fn func(*Session, core.RemoteTrack)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onTrack = fn
}

// OnTransportState sets the handler for transport health changes.
func (s *Session) OnTransportState(fn func(*Session, core.TransportState)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onState = fn
}

// CreateOffer starts an outbound negotiation from Idle or Stable.
func (s *Session) CreateOffer(ctx context.Context) (domain.SessionDescription, error) {
	s.mu.Lock()
	if err := s.beginLocked(domain.OfferSent); err != nil {
		s.mu.Unlock()
		return domain.SessionDescription{}, err
	}
	s.mu.Unlock()

	offer, err := s.transport.CreateOffer(ctx)
	if err != nil {
		return domain.SessionDescription{}, s.fail(domain.OfferSent, err)
	}

	s.mu.Lock()
	s.local = &offer
	s.inflight = false
	s.mu.Unlock()
	s.logger.Info().Msg("offer created")
	return offer, nil
}

// AcceptOffer answers a remote offer. It is valid from Idle and, for
// renegotiation, from Stable.
func (s *Session) AcceptOffer(ctx context.Context, offer domain.SessionDescription) (domain.SessionDescription, error) {
	s.mu.Lock()
	if err := s.beginLocked(domain.OfferReceived); err != nil {
		s.mu.Unlock()
		return domain.SessionDescription{}, err
	}
	s.remote = &offer
	s.mu.Unlock()

	if err := s.transport.SetRemoteDescription(ctx, offer); err != nil {
		return domain.SessionDescription{}, s.fail(domain.OfferReceived, err)
	}
	s.setState(domain.Answering)

	answer, err := s.transport.CreateAnswer(ctx)
	if err != nil {
		return domain.SessionDescription{}, s.fail(domain.Answering, err)
	}

	s.mu.Lock()
	s.local = &answer
	s.mu.Unlock()
	s.logger.Info().Msg("offer accepted")
	s.becomeStable()
	return answer, nil
}

// ApplyAnswer completes an outbound negotiation. Out of sequence answers are
// a ProtocolError and leave the session untouched.
func (s *Session) ApplyAnswer(ctx context.Context, answer domain.SessionDescription) error {
	s.mu.Lock()
	if s.state != domain.OfferSent || s.inflight {
		cause := domain.ErrOutOfOrderAnswer
		if s.state == domain.Closed {
			cause = domain.ErrSessionClosed
		}
		err := &domain.ProtocolError{Participant: s.participant, Event: domain.EventCallAccepted, State: s.state, Err: cause}
		s.mu.Unlock()
		return err
	}
	s.inflight = true
	s.mu.Unlock()

	if err := s.transport.SetRemoteDescription(ctx, answer); err != nil {
		return s.fail(domain.OfferSent, err)
	}

	s.mu.Lock()
	s.remote = &answer
	s.mu.Unlock()
	s.logger.Info().Msg("answer applied")
	s.becomeStable()
	return nil
}

// WaitStable blocks until the session is Stable, closed or ctx is done.
func (s *Session) WaitStable(ctx context.Context) error {
	s.mu.Lock()
	ch := s.stableCh
	s.mu.Unlock()
	select {
	case <-ch:
		return nil
	case <-s.closed:
		return &domain.NegotiationError{Participant: s.participant, State: domain.Closed, Err: domain.ErrSessionClosed}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed when the session is closed.
func (s *Session) Done() <-chan struct{} { return s.closed }

// Close releases the transport. It is safe to call in any state, any number
// of times.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = domain.Closed
		s.senders = make(map[domain.MediaKind]core.TrackSender)
		close(s.closed)
		s.mu.Unlock()
		err = s.transport.Close()
		s.logger.Info().Msg("session closed")
	})
	return err
}

// beginLocked validates and enters the first state of a negotiation.
func (s *Session) beginLocked(next domain.NegotiationState) error {
	var cause error
	switch {
	case s.state == domain.Closed:
		cause = domain.ErrSessionClosed
	case s.state == domain.OfferSent:
		cause = domain.ErrGlare
	case s.inflight, s.state == domain.OfferReceived, s.state == domain.Answering:
		cause = domain.ErrNegotiationBusy
	}
	if cause != nil {
		return &domain.NegotiationError{Participant: s.participant, State: s.state, Err: cause}
	}
	if s.state == domain.Stable {
		s.stableCh = make(chan struct{})
	}
	s.state = next
	s.inflight = true
	return nil
}

func (s *Session) setState(next domain.NegotiationState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != domain.Closed {
		s.state = next
	}
}

func (s *Session) becomeStable() {
	s.mu.Lock()
	if s.state == domain.Closed {
		s.mu.Unlock()
		return
	}
	s.state = domain.Stable
	s.inflight = false
	close(s.stableCh)
	hooks := append([]func(*Session){}, s.onReady...)
	s.mu.Unlock()

	s.logger.Info().Msg("session stable")
	for _, fn := range hooks {
		fn(s)
	}
}

// fail closes the session after a transport error during negotiation.
func (s *Session) fail(at domain.NegotiationState, err error) error {
	s.logger.Error().Err(err).Str("state", at.String()).Msg("negotiation failed, closing session")
	_ = s.Close()
	return &domain.NegotiationError{
		Participant: s.participant,
		State:       at,
		Err:         &domain.TransportError{Participant: s.participant, Err: err},
	}
}

// AddTrack sends track on a new outbound channel.
func (s *Session) AddTrack(track core.LocalTrack) (core.TrackSender, error) {
	if s.State() == domain.Closed {
		return nil, &domain.NegotiationError{Participant: s.participant, State: domain.Closed, Err: domain.ErrSessionClosed}
	}
	sender, err := s.transport.AddTrack(track)
	if err != nil {
		return nil, fmt.Errorf("add %s track %s: %w", track.Kind(), track.ID(), err)
	}
	s.mu.Lock()
	if _, ok := s.senders[track.Kind()]; !ok {
		s.senders[track.Kind()] = sender
	}
	s.mu.Unlock()
	return sender, nil
}

// Sending reports whether an outbound channel for kind exists.
func (s *Session) Sending(kind domain.MediaKind) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.senders[kind]
	return ok
}

// ReplaceTrack swaps the source of the outbound channel of track's kind
// without renegotiation.
func (s *Session) ReplaceTrack(track core.LocalTrack) error {
	s.mu.Lock()
	sender, ok := s.senders[track.Kind()]
	st := s.state
	s.mu.Unlock()
	if st == domain.Closed {
		return &domain.NegotiationError{Participant: s.participant, State: st, Err: domain.ErrSessionClosed}
	}
	if !ok {
		return fmt.Errorf("replace %s track %s: no sender", track.Kind(), track.ID())
	}
	if err := sender.ReplaceTrack(track); err != nil {
		return fmt.Errorf("replace %s track %s: %w", track.Kind(), track.ID(), err)
	}
	return nil
}
