package core

import (
	"errors"

	"github.com/dkeye/Meet/internal/domain"
)

var (
	ErrMemberExists  = errors.New("participant already in room")
	ErrMemberMissing = errors.New("participant not in room")
)

// PublishResult reports delivery stats/backpressure to the relay controller.
type PublishResult struct {
	SendTo  int
	Dropped []MemberSession
}

// MemberDTO is a read-only view for APIs (no transport fields).
type MemberDTO struct {
	ID    domain.ParticipantID `json:"id"`
	Email string               `json:"email"`
}

// RoomService is the relay-facing API of a room.
// It owns the membership set but never touches transport resources.
type RoomService interface {
	Room() *domain.Room
	MemberCount() int
	MembersSnapshot() []MemberDTO

	AddMember(ms MemberSession) error
	RemoveMember(id domain.ParticipantID, sid SessionID) bool
	Member(id domain.ParticipantID) (MemberSession, bool)
	SendTo(id domain.ParticipantID, data Frame) error
	Broadcast(from domain.ParticipantID, data Frame) PublishResult
}

type RoomInfo struct {
	ID          domain.RoomID `json:"id"`
	MemberCount int           `json:"member_count"`
}

type RoomManager interface {
	GetOrCreate(id domain.RoomID) RoomService
	Get(id domain.RoomID) (RoomService, bool)
	List() []RoomInfo
	StopRoom(id domain.RoomID)
	// JoinRoom adds ms to room id, creating the room if needed. It is atomic
	// with StopRoomIfEmpty, so a member never lands in a stopped room.
	JoinRoom(id domain.RoomID, ms MemberSession) (RoomService, error)
	// StopRoomIfEmpty stops room only while it is still registered and has
	// no members.
	StopRoomIfEmpty(room RoomService) bool
}
