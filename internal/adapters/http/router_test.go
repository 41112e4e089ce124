package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dkeye/Meet/internal/adapters/gateway"
	"github.com/dkeye/Meet/internal/adapters/signal"
	"github.com/dkeye/Meet/internal/adapters/wire"
	"github.com/dkeye/Meet/internal/app"
	"github.com/dkeye/Meet/internal/config"
	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
	"github.com/gin-gonic/gin"
	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type relay struct {
	srv   *httptest.Server
	rooms core.RoomManager
	codec wire.Codec
}

func startRelay(t *testing.T, codec wire.Codec) *relay {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	rooms := app.NewRoomManager()
	ctrl := signal.NewSignalWSController(rooms, codec)
	cfg := &config.Config{Mode: "test", Secret: "s3cret"}
	srv := httptest.NewServer(SetupRouter(ctx, cfg, rooms, ctrl))
	t.Cleanup(srv.Close)
	return &relay{srv: srv, rooms: rooms, codec: codec}
}

func (r *relay) dial(t *testing.T) *gateway.Client {
	t.Helper()
	url := "ws" + strings.TrimPrefix(r.srv.URL, "http") + "/api/ws/signal"
	c, err := gateway.Dial(context.Background(), url, r.codec, gateway.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func next(t *testing.T, c *gateway.Client) domain.SignalingMessage {
	t.Helper()
	select {
	case msg, ok := <-c.Incoming():
		require.True(t, ok, "gateway closed")
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for relay")
	}
	return nil
}

func join(t *testing.T, c *gateway.Client, id domain.ParticipantID) {
	t.Helper()
	require.NoError(t, c.Send(context.Background(), domain.JoinRoom{Participant: id, Room: "R7"}))
	assert.Equal(t, domain.JoinedRoom{Room: "R7"}, next(t, c))
}

func TestRelayForwardsNegotiation(t *testing.T) {
	for _, codec := range []wire.Codec{wire.JSON, wire.MsgPack} {
		t.Run(codec.Name(), func(t *testing.T) {
			r := startRelay(t, codec)
			ctx := context.Background()
			a, b := r.dial(t), r.dial(t)

			join(t, a, "a@x.io")
			join(t, b, "b@x.io")
			assert.Equal(t, domain.JoinNotice{Participant: "b@x.io"}, next(t, a))

			offer := domain.SessionDescription{Type: domain.SDPTypeOffer, SDP: "o"}
			require.NoError(t, a.Send(ctx, domain.OfferMessage{To: "b@x.io", SDP: offer}))
			assert.Equal(t, domain.OfferMessage{From: "a@x.io", SDP: offer}, next(t, b))

			answer := domain.SessionDescription{Type: domain.SDPTypeAnswer, SDP: "a"}
			require.NoError(t, b.Send(ctx, domain.AnswerMessage{To: "a@x.io", SDP: answer}))
			assert.Equal(t, domain.AnswerMessage{From: "b@x.io", SDP: answer}, next(t, a))

			require.NoError(t, b.Send(ctx, domain.LeaveRoom{Room: "R7"}))
			assert.Equal(t, domain.LeaveNotice{Participant: "b@x.io"}, next(t, a))
		})
	}
}

func TestRelayDisconnectAnnouncesLeaveAndStopsEmptyRoom(t *testing.T) {
	r := startRelay(t, wire.JSON)
	a, b := r.dial(t), r.dial(t)
	join(t, a, "a@x.io")
	join(t, b, "b@x.io")
	next(t, a)

	require.NoError(t, b.Close())
	assert.Equal(t, domain.LeaveNotice{Participant: "b@x.io"}, next(t, a))

	require.NoError(t, a.Send(context.Background(), domain.LeaveRoom{Room: "R7"}))
	require.Eventually(t, func() bool {
		_, ok := r.rooms.Get("R7")
		return !ok
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRelayRejoinAfterRoomStopped(t *testing.T) {
	r := startRelay(t, wire.JSON)
	a := r.dial(t)
	join(t, a, "a@x.io")
	first, ok := r.rooms.Get("R7")
	require.True(t, ok)

	require.NoError(t, a.Send(context.Background(), domain.LeaveRoom{Room: "R7"}))
	require.Eventually(t, func() bool {
		_, ok := r.rooms.Get("R7")
		return !ok
	}, 2*time.Second, 10*time.Millisecond)

	b := r.dial(t)
	join(t, b, "b@x.io")
	room, ok := r.rooms.Get("R7")
	require.True(t, ok)
	assert.NotSame(t, first, room)
	assert.Equal(t, 1, room.MemberCount())
	assert.False(t, r.rooms.StopRoomIfEmpty(first), "a stopped room cannot remove its successor")
	_, ok = r.rooms.Get("R7")
	assert.True(t, ok)
}

func TestRelayRejectsDuplicateIdentity(t *testing.T) {
	r := startRelay(t, wire.JSON)
	a, dup := r.dial(t), r.dial(t)
	join(t, a, "a@x.io")

	require.NoError(t, dup.Send(context.Background(), domain.JoinRoom{Participant: "a@x.io", Room: "R7"}))
	select {
	case msg := <-dup.Incoming():
		t.Fatalf("unexpected %v", msg)
	case <-time.After(100 * time.Millisecond):
	}
	room, ok := r.rooms.Get("R7")
	require.True(t, ok)
	assert.Equal(t, 1, room.MemberCount())
}

func TestRoomsEndpoint(t *testing.T) {
	r := startRelay(t, wire.JSON)
	a := r.dial(t)
	join(t, a, "a@x.io")

	resp, err := http.Get(r.srv.URL + "/api/rooms")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Rooms []core.RoomInfo `json:"rooms"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, []core.RoomInfo{{ID: "R7", MemberCount: 1}}, body.Rooms)

	var ct bool
	for _, c := range resp.Cookies() {
		ct = ct || c.Name == "ct"
	}
	assert.True(t, ct, "client token cookie")
}
