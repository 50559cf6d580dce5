package view

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

type Kind int

const (
	CmdSend Kind = iota
	CmdNew
	CmdJoin
	CmdDelete
	CmdRooms
	CmdHelp
	CmdQuit
)

var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrMissingRoomId  = errors.New("room id required")
)

// Command is one parsed input line.
type Command struct {
	Kind   Kind
	RoomId int
	Text   string
}

// ParseCommand turns an input line into a Command. Lines that do not start
// with a slash are messages for the active room.
func ParseCommand(line string) (Command, error) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "/") {
		return Command{Kind: CmdSend, Text: line}, nil
	}

	fields := strings.Fields(trimmed)
	switch fields[0] {
	case "/new":
		return Command{Kind: CmdNew}, nil
	case "/rooms":
		return Command{Kind: CmdRooms}, nil
	case "/help":
		return Command{Kind: CmdHelp}, nil
	case "/quit", "/exit":
		return Command{Kind: CmdQuit}, nil
	case "/join", "/del":
		if len(fields) < 2 {
			return Command{}, errors.Wrap(ErrMissingRoomId, fields[0])
		}
		id, err := strconv.Atoi(fields[1])
		if err != nil || id <= 0 {
			return Command{}, errors.Errorf("%s: invalid room id %q", fields[0], fields[1])
		}
		kind := CmdJoin
		if fields[0] == "/del" {
			kind = CmdDelete
		}
		return Command{Kind: kind, RoomId: id}, nil
	default:
		return Command{}, errors.Wrap(ErrUnknownCommand, fields[0])
	}
}

const helpText = `commands:
  /new          create a chat and switch to it
  /join <id>    switch to chat <id>
  /del <id>     delete chat <id>
  /rooms        reload the chat list
  /quit         exit
anything else is sent to the current chat`
