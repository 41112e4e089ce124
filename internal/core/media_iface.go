package core

import (
	"context"

	"github.com/dkeye/Meet/internal/domain"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// TransportState is the connection-level health of a PeerTransport.
type TransportState int

const (
	TransportNew TransportState = iota
	TransportConnecting
	TransportConnected
	TransportDisconnected
	TransportFailed
	TransportClosed
)

func (s TransportState) String() string {
	switch s {
	case TransportNew:
		return "new"
	case TransportConnecting:
		return "connecting"
	case TransportConnected:
		return "connected"
	case TransportDisconnected:
		return "disconnected"
	case TransportFailed:
		return "failed"
	case TransportClosed:
		return "closed"
	}
	return "unknown"
}

// PeerTransport is the media connection to one remote participant.
// Description methods block until ICE gathering completes so the returned SDP
// can be published as is.
type PeerTransport interface {
	CreateOffer(ctx context.Context) (domain.SessionDescription, error)
	CreateAnswer(ctx context.Context) (domain.SessionDescription, error)
	SetRemoteDescription(ctx context.Context, sd domain.SessionDescription) error
	// AddTrack starts sending a local track. The transport never stops it.
	AddTrack(track LocalTrack) (TrackSender, error)
	// OnTrack sets a callback invoked for every inbound remote track.
	OnTrack(func(RemoteTrack))
	// OnStateChange sets a callback for connection-level state changes.
	OnStateChange(func(TransportState))
	Close() error
}

// TransportFactory builds a transport for one remote participant.
type TransportFactory func(participant domain.ParticipantID) (PeerTransport, error)

// TrackSender is the outbound channel a LocalTrack was attached to.
type TrackSender interface {
	// ReplaceTrack swaps the media source without renegotiation.
	ReplaceTrack(track LocalTrack) error
}

// LocalTrack is a captured media track owned by the media controller.
type LocalTrack interface {
	ID() string
	Kind() domain.MediaKind
	Enabled() bool
	SetEnabled(enabled bool)
	// Stop releases the device behind the track. Only the owner calls it.
	Stop()
	// OnEnded registers a callback for a track ended by the system
	// (device unplugged, "stop sharing" pressed).
	OnEnded(func())
	// Local is the pion track fed to an RTPSender.
	Local() webrtc.TrackLocal
}

// RemoteTrack is an inbound media track.
type RemoteTrack interface {
	ID() string
	StreamID() string
	Kind() domain.MediaKind
	ReadRTP() (*rtp.Packet, error)
}

// RTPSink consumes forwarded remote packets (rendering, loopback...).
// *webrtc.TrackLocalStaticRTP satisfies it.
type RTPSink interface {
	WriteRTP(p *rtp.Packet) error
}
