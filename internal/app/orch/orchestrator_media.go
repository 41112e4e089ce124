package orch

import (
	"context"

	"github.com/dkeye/Meet/internal/app/session"
	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
	"github.com/rs/zerolog/log"
)

// Publish feeds a newly composed local stream into every live session.
// Sessions that gained an outbound channel are renegotiated.
func (o *Orchestrator) Publish(ctx context.Context, stream *core.LocalStream) {
	o.init()
	o.mu.Lock()
	sessions := make([]*session.Session, 0, len(o.sessions))
	for _, s := range o.sessions {
		sessions = append(sessions, s)
	}
	o.mu.Unlock()

	for _, s := range sessions {
		res, err := o.Reconciler.AttachLocalTracks(s, stream)
		if err != nil {
			log.Warn().Str("module", "orch").Str("participant", string(s.Participant())).Err(err).Msg("attach local tracks")
		}
		if !res.NeedsNegotiation() {
			continue
		}
		switch s.State() {
		case domain.Stable:
			if err := o.offer(ctx, s); err != nil {
				log.Warn().Str("module", "orch").Str("participant", string(s.Participant())).Err(err).Msg("renegotiate")
			}
		case domain.Idle, domain.Closed:
			// The first offer or answer carries the tracks.
		default:
			o.markRenegotiate(s.Participant())
		}
	}
	o.flushRenegotiations(ctx)
}

// attach sends the current local stream on a fresh session.
func (o *Orchestrator) attach(s *session.Session) {
	if o.Media == nil {
		return
	}
	if _, err := o.Reconciler.AttachLocalTracks(s, o.Media.LocalStream()); err != nil {
		log.Warn().Str("module", "orch").Str("participant", string(s.Participant())).Err(err).Msg("attach local tracks")
	}
}

func (o *Orchestrator) markRenegotiate(id domain.ParticipantID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.renegotiate[id] = true
}

func (o *Orchestrator) markReady(id domain.ParticipantID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.ready = append(o.ready, id)
}

// flushRenegotiations re-offers to sessions that became ready with a pending
// renegotiation. It runs after the triggering message has been answered.
func (o *Orchestrator) flushRenegotiations(ctx context.Context) {
	o.mu.Lock()
	ready := o.ready
	o.ready = nil
	var due []*session.Session
	for _, id := range ready {
		s, ok := o.sessions[id]
		if !ok || !o.renegotiate[id] {
			continue
		}
		delete(o.renegotiate, id)
		due = append(due, s)
	}
	o.mu.Unlock()

	for _, s := range due {
		log.Info().Str("module", "orch").Str("participant", string(s.Participant())).Msg("renegotiating")
		if err := o.offer(ctx, s); err != nil {
			log.Warn().Str("module", "orch").Str("participant", string(s.Participant())).Err(err).Msg("renegotiate")
		}
	}
}

func (o *Orchestrator) onTransportState(s *session.Session, st core.TransportState) {
	if !o.current(s) {
		return
	}
	switch st {
	case core.TransportConnected:
		o.Registry.MarkConnected(s.Participant(), nil)
	case core.TransportFailed:
		log.Warn().Str("module", "orch").Str("participant", string(s.Participant())).Msg("transport failed")
		o.post("transport failed", func(context.Context) error {
			o.recover(s)
			return nil
		})
	case core.TransportNew, core.TransportConnecting, core.TransportDisconnected, core.TransportClosed:
	}
}
