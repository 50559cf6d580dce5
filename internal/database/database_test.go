package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openSQLite(t *testing.T) *SQLRepository {
	t.Helper()
	db, err := Open(context.Background(), DriverSQLite, filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open(context.Background(), "mysql", "dsn")
	assert.Error(t, err)
}

func TestSqliteDSN(t *testing.T) {
	tcases := []struct {
		name string
		dsn  string
		want string
	}{
		{
			name: "plain path",
			dsn:  "chat.db",
			want: "chat.db?_foreign_keys=on&_busy_timeout=5000",
		},
		{
			name: "existing query",
			dsn:  "file:chat.db?cache=shared",
			want: "file:chat.db?cache=shared&_foreign_keys=on&_busy_timeout=5000",
		},
		{
			name: "foreign keys already set",
			dsn:  "chat.db?_fk=off",
			want: "chat.db?_fk=off&_busy_timeout=5000",
		},
		{
			name: "everything set",
			dsn:  "chat.db?_timeout=100&_foreign_keys=on",
			want: "chat.db?_timeout=100&_foreign_keys=on",
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, sqliteDSN(tc.dsn))
		})
	}
}

func TestOpen_SQLiteQueryKeepsForeignKeys(t *testing.T) {
	dsn := "file:" + filepath.Join(t.TempDir(), "chat.db") + "?cache=private"
	db, err := Open(context.Background(), DriverSQLite, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	var enabled int
	require.NoError(t, db.conn.QueryRowContext(context.Background(), "PRAGMA foreign_keys").Scan(&enabled))
	assert.Equal(t, 1, enabled)
}

func TestSQLRepository_Chats(t *testing.T) {
	db := openSQLite(t)
	ctx := context.Background()

	require.NoError(t, db.Ping(ctx))

	chats, err := db.ListChats(ctx)
	require.NoError(t, err)
	assert.NotNil(t, chats, "expected an empty list, not nil")
	assert.Empty(t, chats)

	first, err := db.CreateChat(ctx)
	require.NoError(t, err)
	second, err := db.CreateChat(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Id)
	assert.Equal(t, "Chat 1", first.Title)
	assert.Equal(t, "Chat 2", second.Title)

	got, err := db.GetChat(ctx, second.Id)
	require.NoError(t, err)
	assert.Equal(t, second.Id, got.Id)
	assert.Equal(t, "Chat 2", got.Title)
	assert.WithinDuration(t, second.CreatedAt, got.CreatedAt, time.Second)

	exists, err := db.ChatExists(ctx, first.Id)
	require.NoError(t, err)
	assert.True(t, exists)

	chats, err = db.ListChats(ctx)
	require.NoError(t, err)
	require.Len(t, chats, 2)
	assert.Equal(t, first.Id, chats[0].Id)

	require.NoError(t, db.DeleteChat(ctx, first.Id))
	_, err = db.GetChat(ctx, first.Id)
	assert.ErrorIs(t, err, ErrNotFound)

	exists, err = db.ChatExists(ctx, first.Id)
	require.NoError(t, err)
	assert.False(t, exists)

	assert.ErrorIs(t, db.DeleteChat(ctx, first.Id), ErrNotFound)
}

func TestSQLRepository_Messages(t *testing.T) {
	db := openSQLite(t)
	ctx := context.Background()

	chat, err := db.CreateChat(ctx)
	require.NoError(t, err)
	other, err := db.CreateChat(ctx)
	require.NoError(t, err)

	msgs, err := db.ListMessages(ctx, chat.Id)
	require.NoError(t, err)
	assert.NotNil(t, msgs)
	assert.Empty(t, msgs)

	bodies := []string{"one", "two", "three", "four", "five"}
	for i, body := range bodies {
		role := "human"
		if i%2 == 1 {
			role = "ai"
		}
		_, err := db.CreateMessage(ctx, CreateMessageParams{ChatId: chat.Id, Role: role, Content: body})
		require.NoError(t, err)
	}
	_, err = db.CreateMessage(ctx, CreateMessageParams{ChatId: other.Id, Role: "human", Content: "elsewhere"})
	require.NoError(t, err)

	msgs, err = db.ListMessages(ctx, chat.Id)
	require.NoError(t, err)
	require.Len(t, msgs, 5)
	for i, m := range msgs {
		assert.Equal(t, bodies[i], m.Content)
		assert.Equal(t, chat.Id, m.ChatId)
	}
	assert.Equal(t, "ai", msgs[1].Role)

	recent, err := db.RecentMessages(ctx, chat.Id, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "four", recent[0].Content)
	assert.Equal(t, "five", recent[1].Content)

	recent, err = db.RecentMessages(ctx, chat.Id, 0)
	require.NoError(t, err)
	assert.Empty(t, recent)

	require.NoError(t, db.DeleteChat(ctx, chat.Id))
	msgs, err = db.ListMessages(ctx, chat.Id)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	msgs, err = db.ListMessages(ctx, other.Id)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestSQLRepository_ReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chat.db")
	ctx := context.Background()

	db, err := Open(ctx, DriverSQLite, path)
	require.NoError(t, err)
	_, err = db.CreateChat(ctx)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = Open(ctx, DriverSQLite, path)
	require.NoError(t, err)
	defer db.Close()

	chats, err := db.ListChats(ctx)
	require.NoError(t, err)
	assert.Len(t, chats, 1)
}
