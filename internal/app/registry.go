package app

import (
	"iter"
	"sync"

	"github.com/dkeye/Meet/internal/app/remote"
	"github.com/dkeye/Meet/internal/domain"
	"github.com/rs/zerolog/log"
)

type participantEntry struct {
	state  domain.ConnectionState
	stream *remote.Stream
}

// Registry is the roster of remote participants in the current room.
// Every operation is total: unknown ids are a no-op returning false.
type Registry struct {
	mu       sync.RWMutex
	entries  map[domain.ParticipantID]*participantEntry
	order    []domain.ParticipantID
	onRemove []func(domain.ParticipantID)
}

func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[domain.ParticipantID]*participantEntry),
	}
}

// OnRemove registers a hook fired after a participant leaves the roster.
func (r *Registry) OnRemove(fn func(domain.ParticipantID)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onRemove = append(r.onRemove, fn)
}

// Add inserts id as Pending. It returns false if id is already present.
func (r *Registry) Add(id domain.ParticipantID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[id]; ok {
		return false
	}
	r.entries[id] = &participantEntry{state: domain.Pending}
	r.order = append(r.order, id)
	log.Info().Str("module", "app.registry").Str("participant", string(id)).Msg("participant added")
	return true
}

// MarkNegotiating moves a Pending participant to Negotiating.
func (r *Registry) MarkNegotiating(id domain.ParticipantID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok || e.state != domain.Pending {
		return false
	}
	e.state = domain.Negotiating
	log.Debug().Str("module", "app.registry").Str("participant", string(id)).Msg("participant negotiating")
	return true
}

// Reset puts a participant back to Negotiating while its transport reconnects.
func (r *Registry) Reset(id domain.ParticipantID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return false
	}
	e.state = domain.Negotiating
	log.Info().Str("module", "app.registry").Str("participant", string(id)).Msg("participant reconnecting")
	return true
}

// MarkConnected marks id Connected. A nil stream keeps any stream already
// owned; a stream never replaces an existing one.
func (r *Registry) MarkConnected(id domain.ParticipantID, stream *remote.Stream) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return false
	}
	if e.stream == nil && stream != nil {
		e.stream = stream
	}
	if e.state != domain.Connected {
		e.state = domain.Connected
		log.Info().Str("module", "app.registry").Str("participant", string(id)).Bool("stream", e.stream != nil).Msg("participant connected")
	}
	return true
}

// Remove drops id, closes its remote stream and fires the OnRemove hooks.
func (r *Registry) Remove(id domain.ParticipantID) bool {
	r.mu.Lock()
	e, ok := r.entries[id]
	if !ok {
		r.mu.Unlock()
		return false
	}
	e.state = domain.Disconnected
	delete(r.entries, id)
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	hooks := append([]func(domain.ParticipantID){}, r.onRemove...)
	r.mu.Unlock()

	if e.stream != nil {
		e.stream.Close()
	}
	for _, fn := range hooks {
		fn(id)
	}
	log.Info().Str("module", "app.registry").Str("participant", string(id)).Msg("participant removed")
	return true
}

// Clear removes every participant.
func (r *Registry) Clear() {
	for _, p := range r.Snapshot() {
		r.Remove(p.ID)
	}
}

func (r *Registry) Get(id domain.ParticipantID) (domain.Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return domain.Participant{ID: id, State: domain.Disconnected}, false
	}
	return domain.Participant{ID: id, State: e.state}, true
}

func (r *Registry) Stream(id domain.ParticipantID) (*remote.Stream, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok || e.stream == nil {
		return nil, false
	}
	return e.stream, true
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Snapshot returns every participant in join order.
func (r *Registry) Snapshot() []domain.Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Participant, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, domain.Participant{ID: id, State: r.entries[id].state})
	}
	return out
}

// ListConnected yields the participants that are Connected at iteration time.
// The sequence is lazy and may be ranged over again.
func (r *Registry) ListConnected() iter.Seq[domain.Participant] {
	return func(yield func(domain.Participant) bool) {
		for _, p := range r.Snapshot() {
			if p.State != domain.Connected {
				continue
			}
			if !yield(p) {
				return
			}
		}
	}
}
