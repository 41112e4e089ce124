package gateway

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dkeye/Meet/internal/adapters/wire"
	"github.com/dkeye/Meet/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoServer answers every join with joined-room and echoes the rest back.
func echoServer(t *testing.T, codec wire.Codec) *httptest.Server {
	t.Helper()
	up := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		for {
			mt, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			msg, err := wire.Decode(codec, data)
			if err == nil {
				if j, ok := msg.(domain.JoinRoom); ok {
					data, _ = wire.Encode(codec, domain.JoinedRoom{Room: j.Room})
				}
			}
			if err := ws.WriteMessage(mt, data); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func receive(t *testing.T, c *Client) domain.SignalingMessage {
	t.Helper()
	select {
	case msg, ok := <-c.Incoming():
		require.True(t, ok, "incoming closed")
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("no message")
	}
	return nil
}

func TestClientRoundTrip(t *testing.T) {
	for _, codec := range []wire.Codec{wire.JSON, wire.MsgPack} {
		t.Run(codec.Name(), func(t *testing.T) {
			srv := echoServer(t, codec)
			ctx := context.Background()
			c, err := Dial(ctx, wsURL(srv), codec, Options{})
			require.NoError(t, err)
			defer c.Close()

			require.NoError(t, c.Send(ctx, domain.JoinRoom{Participant: "a@x", Room: "r1"}))
			assert.Equal(t, domain.JoinedRoom{Room: "r1"}, receive(t, c))

			sdp := domain.SessionDescription{Type: domain.SDPTypeAnswer, SDP: "s"}
			require.NoError(t, c.Send(ctx, domain.AnswerMessage{From: "b@x", SDP: sdp}))
			assert.Equal(t, domain.AnswerMessage{From: "b@x", SDP: sdp}, receive(t, c))
		})
	}
}

func TestClientCloseEndsIncoming(t *testing.T) {
	srv := echoServer(t, wire.JSON)
	c, err := Dial(context.Background(), wsURL(srv), wire.JSON, Options{PingPeriod: 50 * time.Millisecond})
	require.NoError(t, err)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	select {
	case _, ok := <-c.Incoming():
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("incoming not closed")
	}
	assert.ErrorIs(t, c.Send(context.Background(), domain.LeaveRoom{Room: "r1"}), ErrClosed)
}

// recordingServer forwards every decoded frame to the returned channel.
func recordingServer(t *testing.T, codec wire.Codec) (*httptest.Server, <-chan domain.SignalingMessage) {
	t.Helper()
	got := make(chan domain.SignalingMessage, 64)
	up := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			if msg, err := wire.Decode(codec, data); err == nil {
				got <- msg
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv, got
}

func TestClientCloseFlushesQueuedFrames(t *testing.T) {
	srv, got := recordingServer(t, wire.JSON)
	ctx := context.Background()
	for i := range 20 {
		c, err := Dial(ctx, wsURL(srv), wire.JSON, Options{})
		require.NoError(t, err)
		room := domain.RoomID(fmt.Sprintf("r%d", i))
		require.NoError(t, c.Send(ctx, domain.LeaveRoom{Room: room}))
		require.NoError(t, c.Close())

		select {
		case msg := <-got:
			assert.Equal(t, domain.LeaveRoom{Room: room}, msg)
		case <-time.After(2 * time.Second):
			t.Fatalf("leave-room %d lost on close", i)
		}
	}
}

func TestDialFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	_, err := Dial(context.Background(), wsURL(srv), wire.JSON, Options{})
	assert.Error(t, err)
}
