package room

import (
	"errors"
	"fmt"
)

var (
	// ErrNotHost is returned when a host-only action is attempted by the other seat
	ErrNotHost = errors.New("only the host can do that")
	// ErrNotInRoom is returned for room actions while not in a room
	ErrNotInRoom = errors.New("not in a room")
	// ErrAlreadyInRoom is returned when creating or joining while already in a room
	ErrAlreadyInRoom = errors.New("already in a room")
	// ErrTimeout is returned when the relay does not acknowledge a create or join in time
	ErrTimeout = errors.New("timed out waiting for the server")
	// ErrGameStarted is returned for lobby actions once the game is starting
	ErrGameStarted = errors.New("game already started")
	// ErrCancelled is returned for pending requests abandoned by a reset or disconnect
	ErrCancelled = errors.New("request cancelled")
)

// RoomError is a relay rejection of a room action, such as a full or unknown room.
type RoomError struct {
	Code    string
	Message string
}

func (e *RoomError) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Code)
}
