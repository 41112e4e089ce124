// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"
	"strings"
)

const (
	MaxEmailLen  = 254
	MaxRoomIDLen = 36
)

var (
	ErrEmailEmpty   = errors.New("email empty")
	ErrEmailTooLong = errors.New("email too long")
	ErrEmailInvalid = errors.New("email invalid")
	ErrRoomIDEmpty  = errors.New("room id empty")
)

// User is the identity a relay connection joins a room with.
type User struct {
	ID    ParticipantID `json:"id"`
	Email string        `json:"email"`
}

// NewUser is a tiny helper to avoid ad-hoc struct literals in adapters.
func NewUser(email string) (*User, error) {
	if err := ValidateEmail(email); err != nil {
		return nil, err
	}
	return &User{ID: ParticipantID(email), Email: email}, nil
}

func ValidateEmail(email string) error {
	if len(email) == 0 {
		return ErrEmailEmpty
	}
	if len(email) > MaxEmailLen {
		return ErrEmailTooLong
	}
	if !strings.Contains(email, "@") {
		return ErrEmailInvalid
	}
	return nil
}

// NormalizeRoomID trims the room id to its maximum length.
func NormalizeRoomID(raw string) (RoomID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrRoomIDEmpty
	}
	if len(raw) > MaxRoomIDLen {
		raw = raw[:MaxRoomIDLen]
	}
	return RoomID(raw), nil
}
