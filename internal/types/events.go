package types

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// Live channel event names. Connect and disconnect are the socket lifecycle
// and never travel as frames.
const (
	EventJoin        = "join"
	EventLeave       = "leave"
	EventChatMessage = "chatMessage"
)

// Envelope is the frame exchanged over the live channel websocket.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// RoomRef is the payload of join and leave.
type RoomRef struct {
	Room int `json:"room"`
}

func NewEnvelope(event string, data any) (*Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, errors.Wrapf(err, "marshal %s payload", event)
	}

	return &Envelope{Event: event, Data: raw}, nil
}

func (e *Envelope) DecodeRoomRef() (RoomRef, error) {
	var ref RoomRef
	if err := json.Unmarshal(e.Data, &ref); err != nil {
		return ref, errors.Wrapf(err, "decode %s payload", e.Event)
	}

	return ref, nil
}

func (e *Envelope) DecodeMessage() (Message, error) {
	var msg Message
	if err := json.Unmarshal(e.Data, &msg); err != nil {
		return msg, errors.Wrapf(err, "decode %s payload", e.Event)
	}

	return msg, nil
}
