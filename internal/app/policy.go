package app

import (
	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
)

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	MarkSlow
	KickMember
	DropFrame
)

// Policy decides what the relay does with a member whose send queue is full.
type Policy interface {
	OnBackPressure(room core.RoomService, member core.MemberSession) BackpressureAction
}

type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(room core.RoomService, member core.MemberSession) BackpressureAction {
	return KickMember
}

// GlarePolicy settles simultaneous offers between two participants.
// Polite reports whether self yields: it drops its own offer and answers
// the remote one. Both sides must reach opposite answers.
type GlarePolicy interface {
	Polite(self, remote domain.ParticipantID) bool
}

// IDGlarePolicy makes the participant with the larger id polite.
type IDGlarePolicy struct{}

func (IDGlarePolicy) Polite(self, remote domain.ParticipantID) bool {
	return self > remote
}
