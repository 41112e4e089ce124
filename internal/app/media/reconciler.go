package media

import (
	"context"
	"errors"
	"sync"

	"github.com/dkeye/Meet/internal/app/remote"
	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
	"github.com/rs/zerolog/log"
)

// Target is the outbound side of a session.
type Target interface {
	Participant() domain.ParticipantID
	Sending(kind domain.MediaKind) bool
	AddTrack(track core.LocalTrack) (core.TrackSender, error)
	ReplaceTrack(track core.LocalTrack) error
}

// Roster is the part of the participant registry the reconciler updates.
type Roster interface {
	MarkConnected(id domain.ParticipantID, stream *remote.Stream) bool
}

type AttachResult struct {
	Added    int
	Replaced int
}

// NeedsNegotiation reports whether a new outbound channel was created.
func (r AttachResult) NeedsNegotiation() bool { return r.Added > 0 }

// Reconciler keeps each session's outbound tracks in line with the local
// stream and routes inbound tracks to the participant's remote stream.
type Reconciler struct {
	roster  Roster
	streams *remote.Manager

	mu       sync.Mutex
	attached map[Target]map[string]struct{}
}

func NewReconciler(roster Roster, streams *remote.Manager) *Reconciler {
	return &Reconciler{
		roster:   roster,
		streams:  streams,
		attached: make(map[Target]map[string]struct{}),
	}
}

// AttachLocalTracks sends every track of stream that the session has not seen
// yet. A track of a kind the session already sends is substituted in place.
func (r *Reconciler) AttachLocalTracks(s Target, stream *core.LocalStream) (AttachResult, error) {
	var res AttachResult
	if stream == nil {
		return res, nil
	}
	var errs []error
	for _, t := range stream.Tracks {
		r.mu.Lock()
		set, ok := r.attached[s]
		if !ok {
			set = make(map[string]struct{})
			r.attached[s] = set
		}
		_, seen := set[t.ID()]
		r.mu.Unlock()
		if seen {
			continue
		}

		if s.Sending(t.Kind()) {
			if err := s.ReplaceTrack(t); err != nil {
				errs = append(errs, err)
				continue
			}
			res.Replaced++
		} else {
			if _, err := s.AddTrack(t); err != nil {
				errs = append(errs, err)
				continue
			}
			res.Added++
		}

		r.mu.Lock()
		set[t.ID()] = struct{}{}
		r.mu.Unlock()
	}
	log.Debug().Str("module", "media").Str("participant", string(s.Participant())).
		Int("added", res.Added).Int("replaced", res.Replaced).Msg("local tracks attached")
	return res, errors.Join(errs...)
}

// Attached lists the track ids attached to s.
func (r *Reconciler) Attached(s Target) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.attached[s]))
	for id := range r.attached[s] {
		out = append(out, id)
	}
	return out
}

// OnRemoteTrack adds track to the remote stream of the session's participant
// and marks the participant connected. The stream is picked by session
// identity only.
func (r *Reconciler) OnRemoteTrack(ctx context.Context, s Target, track core.RemoteTrack) *remote.Stream {
	id := s.Participant()
	stream := r.streams.Open(id)
	if stream.AddTrack(ctx, track) {
		log.Info().Str("module", "media").Str("participant", string(id)).
			Str("track", track.ID()).Str("kind", string(track.Kind())).Msg("remote track received")
	}
	if !r.roster.MarkConnected(id, stream) {
		// Participant already gone.
		stream.Close()
		return nil
	}
	return stream
}

// Forget drops the attached set of a closed session.
func (r *Reconciler) Forget(s Target) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.attached, s)
}
