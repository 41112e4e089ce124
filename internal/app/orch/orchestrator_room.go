package orch

import (
	"context"
	"errors"
	"fmt"

	"github.com/dkeye/Meet/internal/app/session"
	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
)

// openSession builds a session for id and wires its callbacks.
func (o *Orchestrator) openSession(id domain.ParticipantID) (*session.Session, error) {
	t, err := o.Transports(id)
	if err != nil {
		return nil, &domain.TransportError{Participant: id, Err: err}
	}
	s := session.New(id, t)
	s.OnReady(func(s *session.Session) { o.markReady(s.Participant()) })
	s.OnRemoteTrack(func(s *session.Session, track core.RemoteTrack) {
		if !o.current(s) {
			return
		}
		o.Reconciler.OnRemoteTrack(o.life, s, track)
	})
	s.OnTransportState(o.onTransportState)

	o.mu.Lock()
	old := o.sessions[id]
	o.sessions[id] = s
	o.mu.Unlock()
	if old != nil {
		o.Reconciler.Forget(old)
		_ = old.Close()
	}
	log.Info().Str("module", "orch").Str("participant", string(id)).Msg("session opened")
	return s, nil
}

func (o *Orchestrator) current(s *session.Session) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sessions[s.Participant()] == s
}

// dropSession is the registry's removal hook.
func (o *Orchestrator) dropSession(id domain.ParticipantID) {
	o.mu.Lock()
	s := o.sessions[id]
	delete(o.sessions, id)
	delete(o.renegotiate, id)
	cancel := o.reconnects[id]
	delete(o.reconnects, id)
	o.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if s != nil {
		o.Reconciler.Forget(s)
		_ = s.Close()
	}
}

// closeAll closes every session in parallel and waits for all of them.
func (o *Orchestrator) closeAll() {
	o.mu.Lock()
	sessions := make([]*session.Session, 0, len(o.sessions))
	for _, s := range o.sessions {
		sessions = append(sessions, s)
	}
	for id, cancel := range o.reconnects {
		cancel()
		delete(o.reconnects, id)
	}
	o.mu.Unlock()

	var wg conc.WaitGroup
	for _, s := range sessions {
		wg.Go(func() {
			if err := s.Close(); err != nil {
				log.Warn().Str("module", "orch").Str("participant", string(s.Participant())).Err(err).Msg("close session")
			}
		})
	}
	wg.Wait()
}

func (o *Orchestrator) onUserJoined(ctx context.Context, id domain.ParticipantID) error {
	if id == o.Self {
		return nil
	}
	if _, ok := o.Session(id); ok {
		log.Debug().Str("module", "orch").Str("participant", string(id)).Msg("duplicate join notice")
		return nil
	}
	o.Registry.Add(id)
	s, err := o.openSession(id)
	if err != nil {
		o.Registry.Remove(id)
		return err
	}
	o.Registry.MarkNegotiating(id)
	o.attach(s)
	return o.offer(ctx, s)
}

func (o *Orchestrator) onIncomingCall(ctx context.Context, from domain.ParticipantID, offer domain.SessionDescription) error {
	s, ok := o.Session(from)
	if !ok {
		o.Registry.Add(from)
		var err error
		if s, err = o.openSession(from); err != nil {
			o.Registry.Remove(from)
			return err
		}
		o.Registry.MarkNegotiating(from)
		o.attach(s)
	}

	if s.State() == domain.OfferSent {
		if !o.Glare.Polite(o.Self, from) {
			log.Info().Str("module", "orch").Str("participant", string(from)).Msg("glare, keeping local offer")
			return &domain.NegotiationError{Participant: from, State: domain.OfferSent, Err: domain.ErrGlare}
		}
		// A pending local offer cannot be withdrawn from the transport, so the
		// polite side answers on a fresh one. Tracks attached before the
		// remote offer travel in the answer.
		log.Info().Str("module", "orch").Str("participant", string(from)).Msg("glare, answering on a fresh session")
		fresh, err := o.openSession(from)
		if err != nil {
			o.discard(s)
			o.Registry.Remove(from)
			return err
		}
		o.attach(fresh)
		o.mu.Lock()
		delete(o.renegotiate, from)
		o.mu.Unlock()
		s = fresh
	}

	answer, err := s.AcceptOffer(ctx, offer)
	if err != nil {
		o.onNegotiationFailure(s, err)
		return err
	}
	return o.Gateway.Send(ctx, domain.AnswerMessage{To: from, SDP: answer})
}

func (o *Orchestrator) onCallAccepted(ctx context.Context, from domain.ParticipantID, answer domain.SessionDescription) error {
	s, ok := o.Session(from)
	if !ok {
		return &domain.ProtocolError{Participant: from, Event: domain.EventCallAccepted, State: domain.Closed, Err: domain.ErrUnknownParticipant}
	}
	if err := s.ApplyAnswer(ctx, answer); err != nil {
		o.onNegotiationFailure(s, err)
		return err
	}
	return nil
}

func (o *Orchestrator) onUserLeft(id domain.ParticipantID) {
	if !o.Registry.Remove(id) {
		log.Debug().Str("module", "orch").Str("participant", string(id)).Msg("leave notice for unknown participant")
		return
	}
	log.Info().Str("module", "orch").Str("participant", string(id)).Msg("participant left")
}

// offer creates and publishes an offer. A busy session defers to the next
// session-ready.
func (o *Orchestrator) offer(ctx context.Context, s *session.Session) error {
	sd, err := s.CreateOffer(ctx)
	if err != nil {
		var nerr *domain.NegotiationError
		if errors.As(err, &nerr) && (errors.Is(err, domain.ErrGlare) || errors.Is(err, domain.ErrNegotiationBusy)) {
			o.markRenegotiate(s.Participant())
			return nil
		}
		o.onNegotiationFailure(s, err)
		return err
	}
	if err := o.Gateway.Send(ctx, domain.OfferMessage{To: s.Participant(), SDP: sd}); err != nil {
		return fmt.Errorf("send offer to %s: %w", s.Participant(), err)
	}
	o.awaitAnswer(s, s.LocalDescription())
	return nil
}

// onNegotiationFailure starts recovery when a negotiation step killed the
// session's transport.
func (o *Orchestrator) onNegotiationFailure(s *session.Session, err error) {
	var terr *domain.TransportError
	if !errors.As(err, &terr) || s.State() != domain.Closed {
		return
	}
	o.recover(s)
}
