package remote

import (
	"sync"

	"github.com/dkeye/Meet/internal/domain"
	"github.com/rs/zerolog/log"
)

// Manager hands out one Stream per remote participant.
type Manager struct {
	renderers RendererFactory

	mu      sync.RWMutex
	streams map[domain.ParticipantID]*Stream
}

func NewManager(renderers RendererFactory) *Manager {
	return &Manager{
		renderers: renderers,
		streams:   make(map[domain.ParticipantID]*Stream),
	}
}

// Open returns the live stream of id, creating it if needed.
func (m *Manager) Open(id domain.ParticipantID) *Stream {
	m.mu.RLock()
	s, ok := m.streams[id]
	m.mu.RUnlock()
	if ok && !s.Closed() {
		return s
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok = m.streams[id]; ok && !s.Closed() {
		return s
	}
	var fresh *Stream
	fresh = newStream(id, m.renderers, func() { m.forget(id, fresh) })
	m.streams[id] = fresh
	log.Debug().Str("module", "remote").Str("participant", string(id)).Msg("stream opened")
	return fresh
}

func (m *Manager) Get(id domain.ParticipantID) (*Stream, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.streams[id]
	return s, ok
}

// Stop closes the stream of id if there is one.
func (m *Manager) Stop(id domain.ParticipantID) {
	if s, ok := m.Get(id); ok {
		s.Close()
	}
}

func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.streams)
}

func (m *Manager) forget(id domain.ParticipantID, s *Stream) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.streams[id]; ok && cur == s {
		delete(m.streams, id)
	}
}
