package database

import (
	"context"

	"github.com/stretchr/testify/mock"
)

type MockChatRepository struct {
	mock.Mock
}

func (m *MockChatRepository) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
func (m *MockChatRepository) ListChats(ctx context.Context) ([]Chat, error) {
	args := m.Called(ctx)
	if chats, ok := args.Get(0).([]Chat); ok {
		return chats, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockChatRepository) GetChat(ctx context.Context, id int) (Chat, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(Chat), args.Error(1)
}
func (m *MockChatRepository) CreateChat(ctx context.Context) (Chat, error) {
	args := m.Called(ctx)
	return args.Get(0).(Chat), args.Error(1)
}
func (m *MockChatRepository) DeleteChat(ctx context.Context, id int) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}
func (m *MockChatRepository) ChatExists(ctx context.Context, id int) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}
func (m *MockChatRepository) ListMessages(ctx context.Context, chatId int) ([]Message, error) {
	args := m.Called(ctx, chatId)
	if msgs, ok := args.Get(0).([]Message); ok {
		return msgs, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockChatRepository) RecentMessages(ctx context.Context, chatId, limit int) ([]Message, error) {
	args := m.Called(ctx, chatId, limit)
	if msgs, ok := args.Get(0).([]Message); ok {
		return msgs, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockChatRepository) CreateMessage(ctx context.Context, params CreateMessageParams) (Message, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockChatRepository) Close() error {
	args := m.Called()
	return args.Error(0)
}
