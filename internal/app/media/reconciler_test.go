package media

import (
	"context"
	"testing"

	"github.com/dkeye/Meet/internal/app"
	"github.com/dkeye/Meet/internal/app/remote"
	"github.com/dkeye/Meet/internal/app/session"
	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/core/coretest"
	"github.com/dkeye/Meet/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stream(tracks ...core.LocalTrack) *core.LocalStream {
	return &core.LocalStream{ID: "local", Tracks: tracks}
}

func TestAttachIsIdempotent(t *testing.T) {
	reg := app.NewRegistry()
	rec := NewReconciler(reg, remote.NewManager(nil))
	tr := coretest.NewTransport("a")
	s := session.New("b@x.io", tr)
	local := stream(coretest.NewTrack("mic-1", domain.KindAudio), coretest.NewTrack("cam-1", domain.KindVideo))

	res, err := rec.AttachLocalTracks(s, local)
	require.NoError(t, err)
	assert.Equal(t, AttachResult{Added: 2}, res)
	assert.True(t, res.NeedsNegotiation())

	res, err = rec.AttachLocalTracks(s, local)
	require.NoError(t, err)
	assert.Equal(t, AttachResult{}, res)
	assert.Equal(t, []string{"mic-1", "cam-1"}, tr.Tracks())
	assert.ElementsMatch(t, []string{"mic-1", "cam-1"}, rec.Attached(s))
}

func TestAttachSubstitutesSameKind(t *testing.T) {
	rec := NewReconciler(app.NewRegistry(), remote.NewManager(nil))
	tr := coretest.NewTransport("a")
	s := session.New("b@x.io", tr)
	mic := coretest.NewTrack("mic-1", domain.KindAudio)

	_, err := rec.AttachLocalTracks(s, stream(mic, coretest.NewTrack("cam-1", domain.KindVideo)))
	require.NoError(t, err)

	res, err := rec.AttachLocalTracks(s, stream(mic, coretest.NewTrack("screen-2", domain.KindVideo)))
	require.NoError(t, err)
	assert.Equal(t, AttachResult{Replaced: 1}, res)
	assert.False(t, res.NeedsNegotiation())
	assert.Len(t, tr.Tracks(), 2)
	assert.Equal(t, "screen-2", tr.Senders()[1].Current())
}

func TestForgetResetsAttachedSet(t *testing.T) {
	rec := NewReconciler(app.NewRegistry(), remote.NewManager(nil))
	s := session.New("b@x.io", coretest.NewTransport("a"))
	_, err := rec.AttachLocalTracks(s, stream(coretest.NewTrack("mic-1", domain.KindAudio)))
	require.NoError(t, err)

	rec.Forget(s)
	assert.Empty(t, rec.Attached(s))
}

func TestAttachToClosedSessionFails(t *testing.T) {
	rec := NewReconciler(app.NewRegistry(), remote.NewManager(nil))
	s := session.New("b@x.io", coretest.NewTransport("a"))
	require.NoError(t, s.Close())

	res, err := rec.AttachLocalTracks(s, stream(coretest.NewTrack("mic-1", domain.KindAudio)))
	assert.ErrorIs(t, err, domain.ErrSessionClosed)
	assert.Equal(t, AttachResult{}, res)
	assert.Empty(t, rec.Attached(s))
}

func TestRemoteTracksJoinOneStream(t *testing.T) {
	reg := app.NewRegistry()
	streams := remote.NewManager(nil)
	rec := NewReconciler(reg, streams)
	s := session.New("b@x.io", coretest.NewTransport("a"))
	reg.Add("b@x.io")

	audio := coretest.NewRemoteTrack("ra", domain.KindAudio)
	video := coretest.NewRemoteTrack("rv", domain.KindVideo)
	video.Stream = "some-other-stream-id"

	first := rec.OnRemoteTrack(context.Background(), s, audio)
	second := rec.OnRemoteTrack(context.Background(), s, video)
	require.NotNil(t, first)
	assert.Same(t, first, second)
	assert.Equal(t, []string{"ra", "rv"}, first.TrackIDs())

	p, _ := reg.Get("b@x.io")
	assert.Equal(t, domain.Connected, p.State)
	owned, ok := reg.Stream("b@x.io")
	require.True(t, ok)
	assert.Same(t, first, owned)

	reg.Remove("b@x.io")
	assert.True(t, first.Closed())
	close(audio.Packets)
	close(video.Packets)
}

func TestRemoteTrackForUnknownParticipantIsDropped(t *testing.T) {
	streams := remote.NewManager(nil)
	rec := NewReconciler(app.NewRegistry(), streams)
	s := session.New("ghost@x.io", coretest.NewTransport("a"))
	rt := coretest.NewRemoteTrack("rv", domain.KindVideo)

	assert.Nil(t, rec.OnRemoteTrack(context.Background(), s, rt))
	assert.Equal(t, 0, streams.Len())
	close(rt.Packets)
}
