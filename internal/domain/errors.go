package domain

import (
	"errors"
	"fmt"
)

var (
	ErrDeviceUnavailable  = errors.New("capture device unavailable")
	ErrPermissionDenied   = errors.New("capture permission denied")
	ErrGlare              = errors.New("offer already outstanding")
	ErrNegotiationBusy    = errors.New("inbound negotiation in progress")
	ErrOutOfOrderAnswer   = errors.New("answer out of sequence")
	ErrUnknownParticipant = errors.New("unknown participant")
	ErrSessionClosed      = errors.New("session closed")
	ErrAlreadySharing     = errors.New("screen share already active")
	ErrNotSharing         = errors.New("screen share not active")
)

// DeviceError reports that a capture device could not be opened. It is terminal
// for the media kind only; the session continues without that media.
type DeviceError struct {
	Kind string
	Err  error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("device %s: %v", e.Kind, e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }

// NegotiationError is returned when an offer/answer step cannot run in the
// session's current state. The caller backs off and retries.
type NegotiationError struct {
	Participant ParticipantID
	State       NegotiationState
	Err         error
}

func (e *NegotiationError) Error() string {
	return fmt.Sprintf("negotiation with %s in state %s: %v", e.Participant, e.State, e.Err)
}

func (e *NegotiationError) Unwrap() error { return e.Err }

// ProtocolError marks a signaling message that does not fit the session state.
// The message is dropped and the session is left untouched.
type ProtocolError struct {
	Participant ParticipantID
	Event       Event
	State       NegotiationState
	Err         error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol %s from %s in state %s: %v", e.Event, e.Participant, e.State, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// TransportError reports a failed media transport (ICE/DTLS).
type TransportError struct {
	Participant ParticipantID
	Err         error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport to %s: %v", e.Participant, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
