// Package signal is the relay side of the signaling channel: it joins
// websocket connections into rooms and forwards offers and answers between
// them without looking at the media.
package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/Meet/internal/adapters/wire"
	"github.com/dkeye/Meet/internal/app"
	"github.com/dkeye/Meet/internal/core"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
)

type SignalWSController struct {
	Rooms      core.RoomManager
	Policy     app.Policy
	Limiter    *JoinRateLimiter
	Codec      wire.Codec
	ReadLimit  int64
	PingPeriod time.Duration
}

func NewSignalWSController(rooms core.RoomManager, codec wire.Codec) *SignalWSController {
	return &SignalWSController{
		Rooms:      rooms,
		Policy:     app.SimplePolicy{},
		Limiter:    NewJoinRateLimiter(5, time.Minute),
		Codec:      codec,
		ReadLimit:  1 << 20,
		PingPeriod: 30 * time.Second,
	}
}

type WsSignalConn struct {
	conn        *websocket.Conn
	send        chan core.Frame
	messageType int

	mu     sync.RWMutex
	closed bool
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

// peer is the relay state of one connection. It is only touched by the
// connection's read loop.
type peer struct {
	sid    core.SessionID
	conn   *WsSignalConn
	member core.MemberSession
	room   core.RoomService
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	sid := core.SessionID(c.GetString("client_token") + "/" + uuid.NewString())
	log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Msg("ws upgrade")
		return
	}
	ws.SetReadLimit(ctl.ReadLimit)

	p := &peer{
		sid: sid,
		conn: &WsSignalConn{
			conn:        ws,
			send:        make(chan core.Frame, 32),
			messageType: ctl.Codec.MessageType(),
		},
	}

	go ctl.writePump(ctx, p.conn)
	go ctl.readPump(ctx, p)
}
