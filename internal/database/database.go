package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"github.com/samber/lo"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

//go:embed migrations/postgres/*.sql
var postgresMigrations embed.FS

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS chats (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	title TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	chat_id INTEGER NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_chat_id ON messages(chat_id, id);
`

// SQLRepository stores chats and messages in PostgreSQL or SQLite. Queries
// use numbered placeholders in ascending order, which both drivers accept.
type SQLRepository struct {
	conn   *sql.DB
	driver string
}

// Open connects to the database and brings its schema up to date.
func Open(ctx context.Context, driver, dsn string) (*SQLRepository, error) {
	var (
		conn *sql.DB
		err  error
	)

	switch driver {
	case DriverPostgres:
		conn, err = sql.Open(DriverPostgres, dsn)
		if err != nil {
			return nil, errors.Wrap(err, "open postgres database")
		}
	case DriverSQLite:
		conn, err = sql.Open(DriverSQLite, sqliteDSN(dsn))
		if err != nil {
			return nil, errors.Wrap(err, "open sqlite database")
		}
		// sqlite allows a single writer
		conn.SetMaxOpenConns(1)
	default:
		return nil, errors.Errorf("unsupported driver: %s", driver)
	}

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "ping database")
	}

	db := &SQLRepository{conn: conn, driver: driver}
	if err := db.migrate(ctx); err != nil {
		conn.Close()
		return nil, err
	}

	return db, nil
}

// now is truncated to the precision postgres keeps.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// sqliteParams are added to every sqlite DSN unless the caller already set
// them under one of their accepted names.
var sqliteParams = []struct {
	names []string
	param string
}{
	{names: []string{"_foreign_keys", "_fk"}, param: "_foreign_keys=on"},
	{names: []string{"_busy_timeout", "_timeout"}, param: "_busy_timeout=5000"},
}

func sqliteDSN(dsn string) string {
	_, query, _ := strings.Cut(dsn, "?")
	values, _ := url.ParseQuery(query)

	for _, p := range sqliteParams {
		if lo.SomeBy(p.names, values.Has) {
			continue
		}
		if strings.Contains(dsn, "?") {
			dsn += "&" + p.param
		} else {
			dsn += "?" + p.param
		}
	}

	return dsn
}

func (db *SQLRepository) migrate(ctx context.Context) error {
	if db.driver == DriverSQLite {
		if _, err := db.conn.ExecContext(ctx, sqliteSchema); err != nil {
			return errors.Wrap(err, "init sqlite schema")
		}
		return nil
	}

	src, err := iofs.New(postgresMigrations, "migrations/postgres")
	if err != nil {
		return errors.Wrap(err, "load migrations")
	}
	target, err := migratepg.WithInstance(db.conn, &migratepg.Config{})
	if err != nil {
		return errors.Wrap(err, "migration driver")
	}
	m, err := migrate.NewWithInstance("iofs", src, DriverPostgres, target)
	if err != nil {
		return errors.Wrap(err, "create migrator")
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return errors.Wrap(err, "run migrations")
	}

	return nil
}

func (db *SQLRepository) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

func (db *SQLRepository) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

func (db *SQLRepository) ListChats(ctx context.Context) ([]Chat, error) {
	rows, err := db.conn.QueryContext(ctx, "SELECT id, title, created_at FROM chats ORDER BY id")
	if err != nil {
		return nil, errors.Wrap(err, "list chats")
	}
	defer rows.Close()

	var chats = make([]Chat, 0)
	for rows.Next() {
		var c Chat
		if err := rows.Scan(&c.Id, &c.Title, &c.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan chat")
		}
		chats = append(chats, c)
	}

	return chats, rows.Err()
}

func (db *SQLRepository) GetChat(ctx context.Context, id int) (Chat, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT id, title, created_at FROM chats WHERE id = $1 LIMIT 1",
		id,
	)

	var c Chat
	if err := row.Scan(&c.Id, &c.Title, &c.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Chat{}, errors.Wrapf(ErrNotFound, "chat %d", id)
		}
		return Chat{}, errors.Wrapf(err, "get chat %d", id)
	}

	return c, nil
}

func (db *SQLRepository) ChatExists(ctx context.Context, id int) (bool, error) {
	var exists bool
	err := db.conn.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM chats WHERE id = $1)",
		id,
	).Scan(&exists)
	if err != nil {
		return false, errors.Wrapf(err, "check chat %d", id)
	}

	return exists, nil
}

// CreateChat inserts a chat and titles it after its id.
func (db *SQLRepository) CreateChat(ctx context.Context) (Chat, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return Chat{}, errors.Wrap(err, "begin")
	}
	defer tx.Rollback()

	c := Chat{CreatedAt: now()}
	err = tx.QueryRowContext(ctx,
		"INSERT INTO chats (title, created_at) VALUES ($1, $2) RETURNING id",
		"",
		c.CreatedAt,
	).Scan(&c.Id)
	if err != nil {
		return Chat{}, errors.Wrap(err, "insert chat")
	}

	c.Title = fmt.Sprintf("Chat %d", c.Id)
	if _, err := tx.ExecContext(ctx, "UPDATE chats SET title = $1 WHERE id = $2", c.Title, c.Id); err != nil {
		return Chat{}, errors.Wrap(err, "title chat")
	}

	if err := tx.Commit(); err != nil {
		return Chat{}, errors.Wrap(err, "commit")
	}

	return c, nil
}

func (db *SQLRepository) DeleteChat(ctx context.Context, id int) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM messages WHERE chat_id = $1", id); err != nil {
		return errors.Wrapf(err, "delete messages of chat %d", id)
	}

	res, err := tx.ExecContext(ctx, "DELETE FROM chats WHERE id = $1", id)
	if err != nil {
		return errors.Wrapf(err, "delete chat %d", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "rows affected")
	}
	if n == 0 {
		return errors.Wrapf(ErrNotFound, "chat %d", id)
	}

	return errors.Wrap(tx.Commit(), "commit")
}

// ListMessages returns the whole history of a chat, oldest first.
func (db *SQLRepository) ListMessages(ctx context.Context, chatId int) ([]Message, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT id, chat_id, role, content, created_at FROM messages "+
			"WHERE chat_id = $1 ORDER BY id",
		chatId,
	)
	if err != nil {
		return nil, errors.Wrapf(err, "list messages of chat %d", chatId)
	}
	defer rows.Close()

	return scanMessages(rows)
}

// RecentMessages returns the last limit messages of a chat, oldest first.
func (db *SQLRepository) RecentMessages(ctx context.Context, chatId, limit int) ([]Message, error) {
	if limit <= 0 {
		return []Message{}, nil
	}

	rows, err := db.conn.QueryContext(ctx,
		"SELECT id, chat_id, role, content, created_at FROM ("+
			"SELECT id, chat_id, role, content, created_at FROM messages "+
			"WHERE chat_id = $1 ORDER BY id DESC LIMIT $2"+
			") AS recent ORDER BY id",
		chatId,
		limit,
	)
	if err != nil {
		return nil, errors.Wrapf(err, "recent messages of chat %d", chatId)
	}
	defer rows.Close()

	return scanMessages(rows)
}

func (db *SQLRepository) CreateMessage(ctx context.Context, params CreateMessageParams) (Message, error) {
	msg := Message{
		ChatId:    params.ChatId,
		Role:      params.Role,
		Content:   params.Content,
		CreatedAt: now(),
	}

	err := db.conn.QueryRowContext(ctx,
		"INSERT INTO messages (chat_id, role, content, created_at) "+
			"VALUES ($1, $2, $3, $4) RETURNING id",
		msg.ChatId,
		msg.Role,
		msg.Content,
		msg.CreatedAt,
	).Scan(&msg.Id)
	if err != nil {
		return Message{}, errors.Wrapf(err, "insert message into chat %d", params.ChatId)
	}

	return msg, nil
}

func scanMessages(rows *sql.Rows) ([]Message, error) {
	var messages = make([]Message, 0)
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.Id, &m.ChatId, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan message")
		}
		messages = append(messages, m)
	}

	return messages, rows.Err()
}
