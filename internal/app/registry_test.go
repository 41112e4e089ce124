package app

import (
	"fmt"
	"math/rand/v2"
	"slices"
	"sync"
	"testing"

	"github.com/dkeye/Meet/internal/app/remote"
	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(r *Registry) []domain.ParticipantID {
	var out []domain.ParticipantID
	for p := range r.ListConnected() {
		out = append(out, p.ID)
	}
	return out
}

func TestRegistryAddIsIdempotent(t *testing.T) {
	r := NewRegistry()
	assert.True(t, r.Add("b@x.io"))
	assert.False(t, r.Add("b@x.io"))
	assert.Equal(t, 1, r.Len())

	p, ok := r.Get("b@x.io")
	require.True(t, ok)
	assert.Equal(t, domain.Pending, p.State)
}

func TestRegistryUnknownIDsAreNoops(t *testing.T) {
	r := NewRegistry()
	assert.False(t, r.MarkNegotiating("ghost"))
	assert.False(t, r.MarkConnected("ghost", nil))
	assert.False(t, r.Remove("ghost"))
	assert.False(t, r.Reset("ghost"))

	p, ok := r.Get("ghost")
	assert.False(t, ok)
	assert.Equal(t, domain.Disconnected, p.State)
}

func TestRegistryLifecycle(t *testing.T) {
	r := NewRegistry()
	var removed []domain.ParticipantID
	r.OnRemove(func(id domain.ParticipantID) { removed = append(removed, id) })

	require.True(t, r.Add("b@x.io"))
	require.True(t, r.MarkNegotiating("b@x.io"))
	assert.False(t, r.MarkNegotiating("b@x.io"), "only Pending moves to Negotiating")

	streams := remote.NewManager(nil)
	s := streams.Open("b@x.io")
	require.True(t, r.MarkConnected("b@x.io", s))
	got, ok := r.Stream("b@x.io")
	require.True(t, ok)
	assert.Same(t, s, got)

	other := remote.NewManager(nil).Open("b@x.io")
	require.True(t, r.MarkConnected("b@x.io", other))
	got, _ = r.Stream("b@x.io")
	assert.Same(t, s, got, "an owned stream is never replaced")

	require.True(t, r.Remove("b@x.io"))
	assert.True(t, s.Closed())
	assert.Equal(t, []domain.ParticipantID{"b@x.io"}, removed)
	assert.Equal(t, 0, r.Len())
}

func TestRegistryListConnectedIsRestartable(t *testing.T) {
	r := NewRegistry()
	r.Add("a@x.io")
	r.Add("b@x.io")
	r.Add("c@x.io")
	r.MarkConnected("a@x.io", nil)
	r.MarkConnected("c@x.io", nil)

	first := collect(r)
	second := collect(r)
	assert.Equal(t, []domain.ParticipantID{"a@x.io", "c@x.io"}, first)
	assert.Equal(t, first, second)

	r.Remove("a@x.io")
	assert.Equal(t, []domain.ParticipantID{"c@x.io"}, collect(r), "sequence reflects state at iteration time")

	for range r.ListConnected() {
		break
	}
}

func TestRegistryRandomOpsKeepIDsUnique(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	r := NewRegistry()
	ids := make([]domain.ParticipantID, 6)
	for i := range ids {
		ids[i] = domain.ParticipantID(fmt.Sprintf("p%d@x.io", i))
	}

	for range 2000 {
		id := ids[rng.IntN(len(ids))]
		switch rng.IntN(5) {
		case 0:
			r.Add(id)
		case 1:
			r.MarkNegotiating(id)
		case 2:
			r.MarkConnected(id, nil)
		case 3:
			r.Remove(id)
		case 4:
			r.Reset(id)
		}

		snap := r.Snapshot()
		seen := make([]domain.ParticipantID, 0, len(snap))
		for _, p := range snap {
			require.False(t, slices.Contains(seen, p.ID), "duplicate id %s", p.ID)
			require.NotEqual(t, domain.Disconnected, p.State)
			seen = append(seen, p.ID)
		}
		require.Equal(t, len(snap), r.Len())
	}
}

func TestRegistryClearFiresHooks(t *testing.T) {
	r := NewRegistry()
	count := 0
	r.OnRemove(func(domain.ParticipantID) { count++ })
	r.Add("a@x.io")
	r.Add("b@x.io")

	r.Clear()
	assert.Equal(t, 2, count)
	assert.Equal(t, 0, r.Len())
}

func TestIDGlarePolicyIsAntisymmetric(t *testing.T) {
	p := IDGlarePolicy{}
	assert.True(t, p.Polite("b@x.io", "a@x.io"))
	assert.False(t, p.Polite("a@x.io", "b@x.io"))
}

func TestRoomManagerGetOrCreate(t *testing.T) {
	m := NewRoomManager()
	a := m.GetOrCreate("R7")
	assert.Same(t, a, m.GetOrCreate("R7"))
	_, ok := m.Get("R8")
	assert.False(t, ok)
	require.Len(t, m.List(), 1)

	m.StopRoom("R7")
	assert.Empty(t, m.List())
}

type nopConn struct{}

func (nopConn) TrySend(core.Frame) error { return nil }
func (nopConn) Close()                   {}

func roomMember(t *testing.T, email string) core.MemberSession {
	t.Helper()
	u, err := domain.NewUser(email)
	require.NoError(t, err)
	return core.NewMemberSession(core.SessionID(email+"/1"), domain.NewMember(u, "R7"), nopConn{})
}

func TestStopRoomIfEmptyKeepsRejoinedRoom(t *testing.T) {
	m := NewRoomManager()
	room, err := m.JoinRoom("R7", roomMember(t, "a@x.io"))
	require.NoError(t, err)

	// a leaves and sees an empty room, then b joins before the stop.
	require.True(t, room.RemoveMember("a@x.io", "a@x.io/1"))
	require.Equal(t, 0, room.MemberCount())
	joined, err := m.JoinRoom("R7", roomMember(t, "b@x.io"))
	require.NoError(t, err)
	assert.Same(t, room, joined)

	assert.False(t, m.StopRoomIfEmpty(room))
	got, ok := m.Get("R7")
	require.True(t, ok)
	assert.Same(t, room, got)
	assert.Equal(t, 1, got.MemberCount())
}

func TestStopRoomIfEmptyIgnoresReplacedRoom(t *testing.T) {
	m := NewRoomManager()
	old, err := m.JoinRoom("R7", roomMember(t, "a@x.io"))
	require.NoError(t, err)
	require.True(t, old.RemoveMember("a@x.io", "a@x.io/1"))
	require.True(t, m.StopRoomIfEmpty(old))
	assert.False(t, m.StopRoomIfEmpty(old), "already stopped")

	fresh := m.GetOrCreate("R7")
	assert.NotSame(t, old, fresh)
	assert.False(t, m.StopRoomIfEmpty(old), "a stale room never stops its successor")
	_, ok := m.Get("R7")
	assert.True(t, ok)
}

func TestJoinRoomRaceWithStop(t *testing.T) {
	m := NewRoomManager()
	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(2)
		id := fmt.Sprintf("u%d@x.io", i)
		go func() {
			defer wg.Done()
			room, err := m.JoinRoom("R7", roomMember(t, id))
			if err != nil {
				return
			}
			room.RemoveMember(domain.ParticipantID(id), core.SessionID(id+"/1"))
			m.StopRoomIfEmpty(room)
		}()
		go func() {
			defer wg.Done()
			if room, ok := m.Get("R7"); ok {
				m.StopRoomIfEmpty(room)
			}
		}()
	}
	wg.Wait()

	room, err := m.JoinRoom("R7", roomMember(t, "last@x.io"))
	require.NoError(t, err)
	got, ok := m.Get("R7")
	require.True(t, ok, "a joined member's room stays registered")
	assert.Same(t, room, got)
	assert.Equal(t, 1, got.MemberCount())
}
