package core

import (
	"errors"
	"testing"

	"github.com/dkeye/Meet/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingConn struct {
	frames []Frame
	full   bool
}

func (c *recordingConn) TrySend(f Frame) error {
	if c.full {
		return errors.New("backpressure")
	}
	c.frames = append(c.frames, f)
	return nil
}

func (c *recordingConn) Close() {}

func member(t *testing.T, sid SessionID, email string, conn SignalConnection) MemberSession {
	t.Helper()
	u, err := domain.NewUser(email)
	require.NoError(t, err)
	return NewMemberSession(sid, domain.NewMember(u, "R7"), conn)
}

func TestRoomRejectsSecondConnectionForSameParticipant(t *testing.T) {
	room := NewRoomService(&domain.Room{ID: "R7"})
	require.NoError(t, room.AddMember(member(t, "s1", "a@x.io", &recordingConn{})))

	err := room.AddMember(member(t, "s2", "a@x.io", &recordingConn{}))
	assert.ErrorIs(t, err, ErrMemberExists)
	assert.Equal(t, 1, room.MemberCount())
}

func TestRoomRemoveIgnoresStaleSession(t *testing.T) {
	room := NewRoomService(&domain.Room{ID: "R7"})
	require.NoError(t, room.AddMember(member(t, "s1", "a@x.io", &recordingConn{})))

	assert.False(t, room.RemoveMember("a@x.io", "old"))
	assert.True(t, room.RemoveMember("a@x.io", "s1"))
	assert.Equal(t, 0, room.MemberCount())
}

func TestRoomBroadcastSkipsSenderAndReportsDropped(t *testing.T) {
	room := NewRoomService(&domain.Room{ID: "R7"})
	a, b, c := &recordingConn{}, &recordingConn{}, &recordingConn{full: true}
	require.NoError(t, room.AddMember(member(t, "s1", "a@x.io", a)))
	require.NoError(t, room.AddMember(member(t, "s2", "b@x.io", b)))
	require.NoError(t, room.AddMember(member(t, "s3", "c@x.io", c)))

	res := room.Broadcast("a@x.io", Frame("hi"))

	assert.Equal(t, 1, res.SendTo)
	require.Len(t, res.Dropped, 1)
	assert.Equal(t, SessionID("s3"), res.Dropped[0].ID())
	assert.Empty(t, a.frames)
	assert.Equal(t, []Frame{Frame("hi")}, b.frames)
}

func TestRoomSendToUnknownMember(t *testing.T) {
	room := NewRoomService(&domain.Room{ID: "R7"})
	err := room.SendTo("ghost@x.io", Frame("x"))
	assert.ErrorIs(t, err, ErrMemberMissing)
}
