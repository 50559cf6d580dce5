package database

import (
	"context"

	"github.com/pkg/errors"
)

var ErrNotFound = errors.New("not found")

type ChatRepository interface {
	Ping(ctx context.Context) error
	ListChats(ctx context.Context) ([]Chat, error)
	GetChat(ctx context.Context, id int) (Chat, error)
	CreateChat(ctx context.Context) (Chat, error)
	DeleteChat(ctx context.Context, id int) error
	ChatExists(ctx context.Context, id int) (bool, error)
	ListMessages(ctx context.Context, chatId int) ([]Message, error)
	RecentMessages(ctx context.Context, chatId, limit int) ([]Message, error)
	CreateMessage(ctx context.Context, params CreateMessageParams) (Message, error)
	Close() error
}
