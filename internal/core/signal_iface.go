package core

import (
	"context"

	"github.com/dkeye/Meet/internal/domain"
)

// Frame is a raw encoded signaling frame.
type Frame []byte

// SignalConnection abstracts for a system messaging transport
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

// Gateway is the participant's view of the relay channel. Delivery is assumed
// reliable and ordered per sender.
type Gateway interface {
	Send(ctx context.Context, msg domain.SignalingMessage) error
	Incoming() <-chan domain.SignalingMessage
	Close() error
}
