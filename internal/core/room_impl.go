package core

import (
	"fmt"
	"sync"

	"github.com/dkeye/Meet/internal/domain"
	"github.com/rs/zerolog/log"
)

// roomImpl is a threadsafe in-memory room.
// It never closes adapter-owned resources.
type roomImpl struct {
	room   *domain.Room
	mu     sync.RWMutex
	byUser map[domain.ParticipantID]MemberSession
}

func NewRoomService(room *domain.Room) RoomService {
	return &roomImpl{
		room:   room,
		byUser: make(map[domain.ParticipantID]MemberSession),
	}
}

func (r *roomImpl) Room() *domain.Room { return r.room }

func (r *roomImpl) MemberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}

func (r *roomImpl) AddMember(ms MemberSession) error {
	u := ms.Meta().User.ID
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.byUser[u]; ok && cur.ID() != ms.ID() {
		return fmt.Errorf("%w: %s", ErrMemberExists, u)
	}
	r.byUser[u] = ms
	log.Info().Str("module", "core.room").Str("room", string(r.room.ID)).Str("sid", string(ms.ID())).Str("user", string(u)).Msg("member added")
	return nil
}

// RemoveMember removes id only if it is still bound to sid, so a stale
// connection cannot evict a newer one.
func (r *roomImpl) RemoveMember(id domain.ParticipantID, sid SessionID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	ms, ok := r.byUser[id]
	if !ok || ms.ID() != sid {
		return false
	}
	delete(r.byUser, id)
	log.Info().Str("module", "core.room").Str("room", string(r.room.ID)).Str("sid", string(sid)).Str("user", string(id)).Msg("member removed")
	return true
}

func (r *roomImpl) Member(id domain.ParticipantID) (MemberSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ms, ok := r.byUser[id]
	return ms, ok
}

func (r *roomImpl) SendTo(id domain.ParticipantID, data Frame) error {
	ms, ok := r.Member(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrMemberMissing, id)
	}
	return ms.Signal().TrySend(data)
}

func (r *roomImpl) Broadcast(from domain.ParticipantID, data Frame) PublishResult {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := PublishResult{}
	for id, m := range r.byUser {
		if id == from {
			continue
		}
		if err := m.Signal().TrySend(data); err != nil {
			res.Dropped = append(res.Dropped, m)
			continue
		}
		res.SendTo++
	}
	log.Debug().Str("module", "core.room").Str("from", string(from)).Int("sent_to", res.SendTo).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	return res
}

func (r *roomImpl) MembersSnapshot() []MemberDTO {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]MemberDTO, 0, len(r.byUser))
	for _, ms := range r.byUser {
		u := ms.Meta().User
		out = append(out, MemberDTO{ID: u.ID, Email: u.Email})
	}
	return out
}
