package api

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/npezzotti/roomsync/internal/assistant"
	"github.com/npezzotti/roomsync/internal/config"
	"github.com/npezzotti/roomsync/internal/database"
	"github.com/npezzotti/roomsync/internal/server"
	"github.com/npezzotti/roomsync/internal/stats"
	"github.com/npezzotti/roomsync/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func testConfig() *config.ServerConfig {
	return &config.ServerConfig{
		ServerAddr:     "localhost:8000",
		AllowedOrigins: "http://localhost:3000, http://example.com",
	}
}

// newTestChatServer starts a hub answering with the echo assistant.
func newTestChatServer(t *testing.T, db database.ChatRepository) *server.ChatServer {
	su := &stats.MockRecorder{}
	su.On("RegisterMetric", mock.Anything).Return()
	su.On("Incr", mock.Anything).Return().Maybe()
	su.On("Decr", mock.Anything).Return().Maybe()

	cs := server.NewChatServer(testutil.TestLogger(t), db, assistant.Echo{}, su)
	go cs.Run()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		assert.NoError(t, cs.Shutdown(ctx))
	})

	return cs
}

func newTestServer(t *testing.T, db *database.MockChatRepository) *Server {
	return NewServer(http.NewServeMux(), testutil.TestLogger(t), newTestChatServer(t, db), db, testConfig())
}

func TestNewServer(t *testing.T) {
	db := &database.MockChatRepository{}
	cs := newTestChatServer(t, db)

	s := NewServer(http.NewServeMux(), testutil.TestLogger(t), cs, db, testConfig())

	assert.NotNil(t, s.srv, "expected http server to be initialized")
	assert.Equal(t, "localhost:8000", s.srv.Addr, "expected server address to match config")
	assert.Equal(t, db, s.db, "expected db to be set")
	assert.Equal(t, cs, s.cs, "expected chat server to be set")
	assert.Equal(t, []string{"http://localhost:3000", "http://example.com"}, s.allowedOrigins)
}
