package signal

import (
	"context"
	"time"

	"github.com/dkeye/Meet/internal/adapters/wire"
	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const writeWait = 5 * time.Second

func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) {
	ticker := time.NewTicker(ctl.PingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Msg("writePump ctx done")
			c.Close()
			return
		case data, ok := <-c.send:
			if !ok {
				log.Debug().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				c.Close()
				return
			}
			if err := c.conn.WriteMessage(c.messageType, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				c.Close()
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				log.Warn().Err(err).Str("module", "signal").Msg("writePump ping failed")
				c.Close()
				return
			}
		}
	}
}

func (ctl *SignalWSController) readPump(ctx context.Context, p *peer) {
	defer func() {
		log.Info().Str("module", "signal").Str("sid", string(p.sid)).Msg("readPump closing")
		ctl.handleLeave(p)
		p.conn.Close()
	}()

	ws := p.conn.conn
	_ = ws.SetReadDeadline(time.Now().Add(2 * ctl.PingPeriod))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(2 * ctl.PingPeriod))
	})

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("sid", string(p.sid)).Msg("readPump ctx done")
			return
		default:
			_, data, err := ws.ReadMessage()
			if err != nil {
				log.Debug().Err(err).Str("module", "signal").Str("sid", string(p.sid)).Msg("readPump read error")
				return
			}
			// Any inbound frame proves the peer alive.
			_ = ws.SetReadDeadline(time.Now().Add(2 * ctl.PingPeriod))
			ctl.handleSignal(p, data)
		}
	}
}

func (ctl *SignalWSController) handleSignal(p *peer, data []byte) {
	msg, err := wire.Decode(ctl.Codec, data)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(p.sid)).Msg("bad frame")
		return
	}

	switch m := msg.(type) {
	case domain.JoinRoom:
		ctl.handleJoin(p, m)
	case domain.OfferMessage:
		ctl.handleOffer(p, m)
	case domain.AnswerMessage:
		ctl.handleAnswer(p, m)
	case domain.LeaveRoom:
		ctl.handleLeave(p)
	default:
		log.Warn().Str("module", "signal").Str("event", string(msg.Event())).Msg("unexpected event from client")
	}
}

func (ctl *SignalWSController) encode(msg domain.SignalingMessage) (core.Frame, bool) {
	b, err := wire.Encode(ctl.Codec, msg)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("encode")
		return nil, false
	}
	return b, true
}

func (ctl *SignalWSController) send(c *WsSignalConn, msg domain.SignalingMessage) {
	if b, ok := ctl.encode(msg); ok {
		_ = c.TrySend(b)
	}
}
