package wire

import (
	"errors"
	"fmt"

	"github.com/dkeye/Meet/internal/domain"
)

var (
	ErrUnknownEvent = errors.New("unknown event")
	ErrMalformed    = errors.New("malformed frame")
)

// frame is the flat {"event": ..., payload...} object on the relay channel.
type frame struct {
	Event   domain.Event               `json:"event" msgpack:"event"`
	EmailID string                     `json:"emailId,omitempty" msgpack:"emailId,omitempty"`
	RoomID  string                     `json:"roomId,omitempty" msgpack:"roomId,omitempty"`
	From    string                     `json:"from,omitempty" msgpack:"from,omitempty"`
	Offer   *domain.SessionDescription `json:"offer,omitempty" msgpack:"offer,omitempty"`
	Ans     *domain.SessionDescription `json:"ans,omitempty" msgpack:"ans,omitempty"`
}

// Encode renders msg as a frame. Offers and answers addressed with To go out
// as emailId; ones carrying From go out as from.
func Encode(c Codec, msg domain.SignalingMessage) ([]byte, error) {
	var f frame
	switch m := msg.(type) {
	case domain.JoinRoom:
		f = frame{Event: domain.EventJoinRoom, EmailID: string(m.Participant), RoomID: string(m.Room)}
	case domain.JoinedRoom:
		f = frame{Event: domain.EventJoinedRoom, RoomID: string(m.Room)}
	case domain.JoinNotice:
		f = frame{Event: domain.EventUserJoined, EmailID: string(m.Participant)}
	case domain.OfferMessage:
		sdp := m.SDP
		f = frame{Event: m.Event(), EmailID: string(m.To), From: string(m.From), Offer: &sdp}
	case domain.AnswerMessage:
		sdp := m.SDP
		f = frame{Event: domain.EventCallAccepted, EmailID: string(m.To), From: string(m.From), Ans: &sdp}
	case domain.LeaveRoom:
		f = frame{Event: domain.EventLeaveRoom, RoomID: string(m.Room)}
	case domain.LeaveNotice:
		f = frame{Event: domain.EventUserLeft, EmailID: string(m.Participant)}
	default:
		return nil, fmt.Errorf("encode %T: %w", msg, ErrUnknownEvent)
	}
	return c.Marshal(f)
}

// Decode parses a frame into its message.
func Decode(c Codec, data []byte) (domain.SignalingMessage, error) {
	var f frame
	if err := c.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	switch f.Event {
	case domain.EventJoinRoom:
		if f.EmailID == "" || f.RoomID == "" {
			return nil, missing(f.Event, "emailId/roomId")
		}
		return domain.JoinRoom{Participant: domain.ParticipantID(f.EmailID), Room: domain.RoomID(f.RoomID)}, nil
	case domain.EventJoinedRoom:
		return domain.JoinedRoom{Room: domain.RoomID(f.RoomID)}, nil
	case domain.EventUserJoined:
		if f.EmailID == "" {
			return nil, missing(f.Event, "emailId")
		}
		return domain.JoinNotice{Participant: domain.ParticipantID(f.EmailID)}, nil
	case domain.EventCallUser:
		if f.EmailID == "" || f.Offer == nil {
			return nil, missing(f.Event, "emailId/offer")
		}
		return domain.OfferMessage{To: domain.ParticipantID(f.EmailID), SDP: *f.Offer}, nil
	case domain.EventIncomingCall:
		if f.From == "" || f.Offer == nil {
			return nil, missing(f.Event, "from/offer")
		}
		return domain.OfferMessage{From: domain.ParticipantID(f.From), SDP: *f.Offer}, nil
	case domain.EventCallAccepted:
		if f.Ans == nil || (f.From == "" && f.EmailID == "") {
			return nil, missing(f.Event, "emailId|from/ans")
		}
		if f.From != "" {
			return domain.AnswerMessage{From: domain.ParticipantID(f.From), SDP: *f.Ans}, nil
		}
		return domain.AnswerMessage{To: domain.ParticipantID(f.EmailID), SDP: *f.Ans}, nil
	case domain.EventLeaveRoom:
		return domain.LeaveRoom{Room: domain.RoomID(f.RoomID)}, nil
	case domain.EventUserLeft:
		if f.EmailID == "" {
			return nil, missing(f.Event, "emailId")
		}
		return domain.LeaveNotice{Participant: domain.ParticipantID(f.EmailID)}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, f.Event)
}

func missing(ev domain.Event, fields string) error {
	return fmt.Errorf("%w: %s without %s", ErrMalformed, ev, fields)
}
