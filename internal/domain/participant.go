package domain

// ParticipantID is the room-unique identity of a participant (the email the
// participant joined with).
type ParticipantID string

type ConnectionState int

const (
	Pending ConnectionState = iota
	Negotiating
	Connected
	Disconnected
)

func (s ConnectionState) String() string {
	switch s {
	case Pending:
		return "pending"
	case Negotiating:
		return "negotiating"
	case Connected:
		return "connected"
	case Disconnected:
		return "disconnected"
	}
	return "unknown"
}

// Participant is a roster entry as seen by callers of the registry.
type Participant struct {
	ID    ParticipantID   `json:"id"`
	State ConnectionState `json:"-"`
}

// MediaKind distinguishes audio from video tracks.
type MediaKind string

const (
	KindAudio MediaKind = "audio"
	KindVideo MediaKind = "video"
)
