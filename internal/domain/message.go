package domain

// Event is the name of a signaling event on the relay channel.
type Event string

const (
	EventJoinRoom     Event = "join-room"
	EventJoinedRoom   Event = "joined-room"
	EventUserJoined   Event = "user-joined"
	EventCallUser     Event = "call-user"
	EventIncomingCall Event = "incoming-call"
	EventCallAccepted Event = "call-accepted"
	EventLeaveRoom    Event = "leave-room"
	EventUserLeft     Event = "user-left"
)

// SignalingMessage is the tagged union of everything that crosses the relay.
type SignalingMessage interface {
	Event() Event
}

// JoinRoom is sent on entry.
type JoinRoom struct {
	Participant ParticipantID
	Room        RoomID
}

// JoinedRoom acknowledges JoinRoom.
type JoinedRoom struct {
	Room RoomID
}

// JoinNotice announces another participant entering the room.
type JoinNotice struct {
	Participant ParticipantID
}

// OfferMessage carries an offer. Outbound messages set To, inbound set From.
type OfferMessage struct {
	To   ParticipantID
	From ParticipantID
	SDP  SessionDescription
}

// AnswerMessage carries an answer. Outbound messages set To, inbound set From.
type AnswerMessage struct {
	To   ParticipantID
	From ParticipantID
	SDP  SessionDescription
}

// LeaveRoom is sent on exit.
type LeaveRoom struct {
	Room RoomID
}

// LeaveNotice announces a participant leaving.
type LeaveNotice struct {
	Participant ParticipantID
}

func (JoinRoom) Event() Event    { return EventJoinRoom }
func (JoinedRoom) Event() Event  { return EventJoinedRoom }
func (JoinNotice) Event() Event  { return EventUserJoined }
func (LeaveRoom) Event() Event   { return EventLeaveRoom }
func (LeaveNotice) Event() Event { return EventUserLeft }

func (m OfferMessage) Event() Event {
	if m.To != "" {
		return EventCallUser
	}
	return EventIncomingCall
}

func (AnswerMessage) Event() Event { return EventCallAccepted }

// Outbound reports whether the message is addressed to a peer (To is set).
func (m AnswerMessage) Outbound() bool { return m.To != "" }
