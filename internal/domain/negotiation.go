package domain

type NegotiationState int

const (
	Idle NegotiationState = iota
	OfferSent
	OfferReceived
	Answering
	Stable
	Closed
)

func (s NegotiationState) String() string {
	switch s {
	case Idle:
		return "idle"
	case OfferSent:
		return "offer-sent"
	case OfferReceived:
		return "offer-received"
	case Answering:
		return "answering"
	case Stable:
		return "stable"
	case Closed:
		return "closed"
	}
	return "unknown"
}

// SessionDescription is an SDP blob plus its type ("offer" or "answer").
type SessionDescription struct {
	Type string `json:"type" msgpack:"type"`
	SDP  string `json:"sdp" msgpack:"sdp"`
}

const (
	SDPTypeOffer  = "offer"
	SDPTypeAnswer = "answer"
)
