package remote

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// RendererFactory picks the renderer a newly received track starts with.
// ok=false leaves the track unrendered; it is still read and counted.
type RendererFactory func(participant domain.ParticipantID, track core.RemoteTrack) (id string, out core.RTPSink, ok bool)

// TrackStats is the receive side of one remote track.
type TrackStats struct {
	TrackID      string           `json:"track_id"`
	Kind         domain.MediaKind `json:"kind"`
	Packets      uint64           `json:"packets"`
	Bytes        uint64           `json:"bytes"`
	Lost         uint64           `json:"lost"`
	LastPacketAt *time.Time       `json:"last_packet_at,omitempty"`
	Renderers    []RendererStats  `json:"renderers,omitempty"`
}

// Stream groups the remote tracks received from one participant.
// It is owned by the participant registry.
type Stream struct {
	participant domain.ParticipantID
	renderers   RendererFactory
	logger      zerolog.Logger

	mu      sync.RWMutex
	readers map[string]*trackReader
	order   []string
	closed  bool
	onClose func()
}

func newStream(id domain.ParticipantID, renderers RendererFactory, onClose func()) *Stream {
	return &Stream{
		participant: id,
		renderers:   renderers,
		logger:      log.With().Str("module", "remote").Str("participant", string(id)).Logger(),
		readers:     make(map[string]*trackReader),
		onClose:     onClose,
	}
}

func (s *Stream) Participant() domain.ParticipantID { return s.participant }

// AddTrack starts reading track. It reports false for a closed stream or a
// track id that is already read.
func (s *Stream) AddTrack(ctx context.Context, track core.RemoteTrack) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	if _, ok := s.readers[track.ID()]; ok {
		s.mu.Unlock()
		return false
	}
	readCtx, cancel := context.WithCancel(ctx)
	reader := newTrackReader(track, cancel)
	if s.renderers != nil {
		if id, out, ok := s.renderers(s.participant, track); ok {
			reader.attach(newRenderer(id, out))
		}
	}
	s.readers[track.ID()] = reader
	s.order = append(s.order, track.ID())
	s.mu.Unlock()

	logger := s.logger.With().Str("track", track.ID()).Str("kind", string(track.Kind())).Logger()
	logger.Info().Msg("reading remote track")
	go reader.run(readCtx, &logger)
	return true
}

// Attach renders every track of the given kind into out under id and
// returns how many tracks it was attached to. An existing renderer with the
// same id is replaced.
func (s *Stream) Attach(id string, kind domain.MediaKind, out core.RTPSink) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, r := range s.readers {
		if r.src.Kind() != kind {
			continue
		}
		r.attach(newRenderer(id, out))
		n++
	}
	return n
}

// Detach removes renderer id from every track.
func (s *Stream) Detach(id string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, r := range s.readers {
		if r.detach(id) {
			n++
		}
	}
	return n
}

// SetPaused stops or resumes rendering into id. Packets keep being counted.
func (s *Stream) SetPaused(id string, paused bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.readers {
		if rr, ok := r.renderer(id); ok {
			rr.paused.Store(paused)
		}
	}
}

// TrackIDs lists read tracks in arrival order.
func (s *Stream) TrackIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.order)
}

func (s *Stream) Stats() []TrackStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]TrackStats, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.readers[id].stats())
	}
	return out
}

func (s *Stream) Closed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// Close stops every track reader. Safe to call more than once.
func (s *Stream) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	readers := s.readers
	onClose := s.onClose
	s.mu.Unlock()

	for _, r := range readers {
		r.stop()
	}
	if onClose != nil {
		onClose()
	}
	s.logger.Info().Int("tracks", len(readers)).Msg("stream closed")
}
