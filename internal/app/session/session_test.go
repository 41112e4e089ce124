package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/core/coretest"
	"github.com/dkeye/Meet/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pair(t *testing.T) (*Session, *coretest.Transport, *Session, *coretest.Transport) {
	t.Helper()
	at, bt := coretest.NewTransport("a"), coretest.NewTransport("b")
	return New("b@x.io", at), at, New("a@x.io", bt), bt
}

func TestOfferAnswerReachesStable(t *testing.T) {
	ctx := context.Background()
	a, _, b, _ := pair(t)
	ready := 0
	a.OnReady(func(*Session) { ready++ })

	offer, err := a.CreateOffer(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.OfferSent, a.State())

	answer, err := b.AcceptOffer(ctx, offer)
	require.NoError(t, err)
	assert.Equal(t, domain.Stable, b.State())

	require.NoError(t, a.ApplyAnswer(ctx, answer))
	assert.Equal(t, domain.Stable, a.State())
	assert.Equal(t, 1, ready)
	assert.Equal(t, offer, *a.LocalDescription())
	assert.Equal(t, answer, *a.RemoteDescription())
	require.NoError(t, a.WaitStable(ctx))
}

func TestAnswerBeforeOfferIsProtocolError(t *testing.T) {
	a, _, _, _ := pair(t)
	err := a.ApplyAnswer(context.Background(), domain.SessionDescription{Type: domain.SDPTypeAnswer, SDP: "x"})

	var perr *domain.ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.ErrorIs(t, err, domain.ErrOutOfOrderAnswer)
	assert.Equal(t, domain.EventCallAccepted, perr.Event)
	assert.Equal(t, domain.Idle, a.State())
}

func TestSecondAnswerIsProtocolError(t *testing.T) {
	ctx := context.Background()
	a, _, b, _ := pair(t)
	offer, _ := a.CreateOffer(ctx)
	answer, _ := b.AcceptOffer(ctx, offer)
	require.NoError(t, a.ApplyAnswer(ctx, answer))

	err := a.ApplyAnswer(ctx, answer)
	assert.ErrorIs(t, err, domain.ErrOutOfOrderAnswer)
	assert.Equal(t, domain.Stable, a.State())
}

func TestOfferWhileOfferOutstandingIsGlare(t *testing.T) {
	ctx := context.Background()
	a, _, _, _ := pair(t)
	_, err := a.CreateOffer(ctx)
	require.NoError(t, err)

	_, err = a.CreateOffer(ctx)
	var nerr *domain.NegotiationError
	require.ErrorAs(t, err, &nerr)
	assert.ErrorIs(t, err, domain.ErrGlare)
	assert.Equal(t, domain.OfferSent, a.State())

	_, err = a.AcceptOffer(ctx, domain.SessionDescription{Type: domain.SDPTypeOffer, SDP: "remote"})
	assert.ErrorIs(t, err, domain.ErrGlare)
}

func TestRenegotiationFromStable(t *testing.T) {
	ctx := context.Background()
	a, _, b, _ := pair(t)
	offer, _ := a.CreateOffer(ctx)
	answer, _ := b.AcceptOffer(ctx, offer)
	require.NoError(t, a.ApplyAnswer(ctx, answer))

	offer2, err := b.CreateOffer(ctx)
	require.NoError(t, err)
	answer2, err := a.AcceptOffer(ctx, offer2)
	require.NoError(t, err)
	require.NoError(t, b.ApplyAnswer(ctx, answer2))
	assert.Equal(t, domain.Stable, a.State())
	assert.Equal(t, domain.Stable, b.State())
}

func TestTransportFailureClosesSession(t *testing.T) {
	a, at, _, _ := pair(t)
	at.FailNext()

	_, err := a.CreateOffer(context.Background())
	var nerr *domain.NegotiationError
	require.ErrorAs(t, err, &nerr)
	var terr *domain.TransportError
	require.ErrorAs(t, err, &terr)
	assert.ErrorIs(t, err, coretest.ErrInjected)
	assert.Equal(t, domain.Closed, a.State())
	assert.True(t, at.Closed())
}

func TestCloseIsIdempotent(t *testing.T) {
	a, at, _, _ := pair(t)
	require.NoError(t, a.Close())
	require.NoError(t, a.Close())
	assert.Equal(t, 1, at.CloseCalls())
	assert.Equal(t, domain.Closed, a.State())

	_, err := a.CreateOffer(context.Background())
	assert.ErrorIs(t, err, domain.ErrSessionClosed)
	err = a.WaitStable(context.Background())
	assert.ErrorIs(t, err, domain.ErrSessionClosed)
}

func TestWaitStableHonoursContext(t *testing.T) {
	a, _, _, _ := pair(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.True(t, errors.Is(a.WaitStable(ctx), context.DeadlineExceeded))
}

func TestTracksAndSubstitution(t *testing.T) {
	a, at, _, _ := pair(t)
	cam := coretest.NewTrack("cam-1", domain.KindVideo)
	screen := coretest.NewTrack("screen-1", domain.KindVideo)

	err := a.ReplaceTrack(cam)
	assert.Error(t, err, "nothing to replace yet")

	_, err = a.AddTrack(cam)
	require.NoError(t, err)
	assert.True(t, a.Sending(domain.KindVideo))
	assert.False(t, a.Sending(domain.KindAudio))

	require.NoError(t, a.ReplaceTrack(screen))
	assert.Equal(t, "screen-1", at.Senders()[0].Current())
	assert.Equal(t, 0, cam.Stops(), "sessions never stop tracks")

	require.NoError(t, a.Close())
	_, err = a.AddTrack(screen)
	assert.ErrorIs(t, err, domain.ErrSessionClosed)
}

func TestCallbacksReceiveSession(t *testing.T) {
	a, at, _, _ := pair(t)
	var gotTrack core.RemoteTrack
	var gotState core.TransportState
	a.OnRemoteTrack(func(s *Session, tr core.RemoteTrack) {
		assert.Same(t, a, s)
		gotTrack = tr
	})
	a.OnTransportState(func(s *Session, st core.TransportState) { gotState = st })

	rt := coretest.NewRemoteTrack("v", domain.KindVideo)
	at.EmitTrack(rt)
	at.EmitState(core.TransportFailed)

	assert.Equal(t, rt, gotTrack)
	assert.Equal(t, core.TransportFailed, gotState)
}
