package signal

import (
	"errors"

	"github.com/dkeye/Meet/internal/app"
	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) handleJoin(p *peer, m domain.JoinRoom) {
	logger := log.With().Str("module", "signal").Str("sid", string(p.sid)).Str("user", string(m.Participant)).Logger()
	if p.room != nil {
		logger.Warn().Str("room", string(p.room.Room().ID)).Msg("join while in a room")
		return
	}
	if !ctl.Limiter.Allow(m.Participant) {
		logger.Warn().Msg("join rate limited")
		return
	}
	user, err := domain.NewUser(string(m.Participant))
	if err != nil {
		logger.Warn().Err(err).Msg("bad join identity")
		return
	}
	roomID, err := domain.NormalizeRoomID(string(m.Room))
	if err != nil {
		logger.Warn().Err(err).Msg("bad join room")
		return
	}

	ms := core.NewMemberSession(p.sid, domain.NewMember(user, roomID), p.conn)
	room, err := ctl.Rooms.JoinRoom(roomID, ms)
	if err != nil {
		logger.Warn().Err(err).Msg("join refused")
		return
	}
	p.room, p.member = room, ms
	logger.Info().Str("room", string(roomID)).Msg("join")

	ctl.send(p.conn, domain.JoinedRoom{Room: roomID})
	ctl.broadcast(room, user.ID, domain.JoinNotice{Participant: user.ID})
}

// handleOffer forwards call-user to its target as incoming-call.
func (ctl *SignalWSController) handleOffer(p *peer, m domain.OfferMessage) {
	if p.room == nil || m.To == "" {
		log.Warn().Str("module", "signal").Str("sid", string(p.sid)).Msg("offer outside a room")
		return
	}
	ctl.forward(p, m.To, domain.OfferMessage{From: p.member.Meta().User.ID, SDP: m.SDP})
}

// handleAnswer forwards call-accepted to the caller, stamped with the sender.
func (ctl *SignalWSController) handleAnswer(p *peer, m domain.AnswerMessage) {
	if p.room == nil || !m.Outbound() {
		log.Warn().Str("module", "signal").Str("sid", string(p.sid)).Msg("answer outside a room")
		return
	}
	ctl.forward(p, m.To, domain.AnswerMessage{From: p.member.Meta().User.ID, SDP: m.SDP})
}

// handleLeave drops the peer from its room. The connection stays open.
func (ctl *SignalWSController) handleLeave(p *peer) {
	if p.room == nil {
		return
	}
	room, id := p.room, p.member.Meta().User.ID
	p.room, p.member = nil, nil

	if !room.RemoveMember(id, p.sid) {
		return
	}
	log.Info().Str("module", "signal").Str("sid", string(p.sid)).Str("user", string(id)).Msg("leave")
	ctl.broadcast(room, id, domain.LeaveNotice{Participant: id})
	ctl.Rooms.StopRoomIfEmpty(room)
}

func (ctl *SignalWSController) forward(p *peer, to domain.ParticipantID, msg domain.SignalingMessage) {
	frame, ok := ctl.encode(msg)
	if !ok {
		return
	}
	err := p.room.SendTo(to, frame)
	switch {
	case err == nil:
		log.Debug().Str("module", "signal").Str("event", string(msg.Event())).Str("to", string(to)).Msg("forwarded")
	case errors.Is(err, ErrBackpressure):
		if target, ok := p.room.Member(to); ok {
			ctl.applyPolicy(p.room, target)
		}
	default:
		log.Warn().Err(err).Str("module", "signal").Str("event", string(msg.Event())).Str("to", string(to)).Msg("forward failed")
	}
}

func (ctl *SignalWSController) broadcast(room core.RoomService, from domain.ParticipantID, msg domain.SignalingMessage) {
	frame, ok := ctl.encode(msg)
	if !ok {
		return
	}
	res := room.Broadcast(from, frame)
	for _, m := range res.Dropped {
		ctl.applyPolicy(room, m)
	}
}

func (ctl *SignalWSController) applyPolicy(room core.RoomService, m core.MemberSession) {
	action := ctl.Policy.OnBackPressure(room, m)
	logger := log.With().Str("module", "signal").Str("room", string(room.Room().ID)).Str("user", string(m.Meta().User.ID)).Logger()
	switch action {
	case app.KickMember:
		logger.Warn().Msg("backpressure: kicking member")
		m.Signal().Close()
	case app.DropFrame, app.MarkSlow:
		logger.Warn().Msg("backpressure: frame dropped")
	}
}
