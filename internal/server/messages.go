package server

import (
	"encoding/json"
	"fmt"

	"github.com/npezzotti/roomsync/internal/assistant"
	"github.com/npezzotti/roomsync/internal/database"
	"github.com/npezzotti/roomsync/internal/types"
	"github.com/pkg/errors"
)

// encodeMessage builds the chatMessage frame broadcast to a room.
func encodeMessage(msg types.Message) ([]byte, error) {
	env, err := types.NewEnvelope(types.EventChatMessage, msg)
	if err != nil {
		return nil, err
	}

	raw, err := json.Marshal(env)
	if err != nil {
		return nil, errors.Wrap(err, "marshal envelope")
	}

	return raw, nil
}

func missingChatMessage(id int) types.Message {
	return types.Message{
		RoomId: id,
		Origin: types.OriginAssistant,
		Body:   fmt.Sprintf("chat (id: %d) does not exist", id),
	}
}

func replyFailedMessage(id int) types.Message {
	return types.Message{
		RoomId: id,
		Origin: types.OriginAssistant,
		Body:   "sorry, I could not answer that right now",
	}
}

func toTurns(history []database.Message) []assistant.Turn {
	turns := make([]assistant.Turn, 0, len(history))
	for _, m := range history {
		turns = append(turns, assistant.Turn{Origin: types.Origin(m.Role), Content: m.Content})
	}
	return turns
}
