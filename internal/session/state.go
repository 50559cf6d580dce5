package session

import (
	"github.com/npezzotti/roomsync/internal/types"
)

// Phase is where the controller stands in the active room lifecycle.
type Phase int

const (
	NoRoomSelected Phase = iota
	SwitchingRoom
	RoomActive
)

func (p Phase) String() string {
	switch p {
	case NoRoomSelected:
		return "NoRoomSelected"
	case SwitchingRoom:
		return "SwitchingRoom"
	case RoomActive:
		return "RoomActive"
	default:
		return "Unknown"
	}
}

// State is the view model exposed by the controller. Messages always belong
// to ActiveRoomId; while a switch is in flight TargetRoomId names the room
// being loaded and the rest of the state still describes the previous room.
type State struct {
	Phase           Phase
	ActiveRoomId    *int
	TargetRoomId    *int
	ActiveRoomTitle string
	Rooms           []types.Room
	Messages        []types.Message
	Draft           string
	Connected       bool
}

// Clone returns a deep copy that shares nothing with s.
func (s State) Clone() State {
	c := s
	c.ActiveRoomId = cloneId(s.ActiveRoomId)
	c.TargetRoomId = cloneId(s.TargetRoomId)
	c.Rooms = append([]types.Room(nil), s.Rooms...)
	c.Messages = append([]types.Message(nil), s.Messages...)
	return c
}

// IsActive reports whether id is the committed active room.
func (s State) IsActive(id int) bool {
	return s.ActiveRoomId != nil && *s.ActiveRoomId == id
}

func cloneId(id *int) *int {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}

func idPtr(id int) *int {
	return &id
}
