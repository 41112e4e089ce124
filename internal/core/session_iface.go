package core

import "github.com/dkeye/Meet/internal/domain"

type SessionID string

// MemberSession binds domain.Member and its relay transport endpoint.
// This is what a relay room stores and fans out to.
type MemberSession interface {
	ID() SessionID
	Meta() *domain.Member
	Signal() SignalConnection
}
