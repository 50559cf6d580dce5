// Package api serves the chat history REST endpoints and the websocket
// entry point of the live channel hub.
package api

import (
	"context"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/npezzotti/roomsync/internal/config"
	"github.com/npezzotti/roomsync/internal/database"
	"github.com/npezzotti/roomsync/internal/server"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

type Server struct {
	log            zerolog.Logger
	db             database.ChatRepository
	cs             *server.ChatServer
	srv            *http.Server
	allowedOrigins []string
}

func NewServer(mux *http.ServeMux, logger zerolog.Logger, cs *server.ChatServer, db database.ChatRepository, cfg *config.ServerConfig) *Server {
	s := &Server{
		log:            logger.With().Str("component", "api").Logger(),
		db:             db,
		cs:             cs,
		allowedOrigins: cfg.Origins(),
	}

	mux.HandleFunc("GET /healthz", s.healthCheck)
	mux.HandleFunc("GET /chat", s.listChats)
	mux.HandleFunc("POST /chat", s.createChat)
	mux.HandleFunc("GET /chat/{id}", s.getChat)
	mux.HandleFunc("DELETE /chat/{id}", s.deleteChat)
	mux.HandleFunc("GET /chat-history/{id}", s.chatHistory)
	mux.HandleFunc("GET /ws", s.serveWs)

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(s.allowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept", "X-Request-ID"}),
	)(mux)

	h = s.requestLogger(h)
	h = s.errorHandler(h)

	s.srv = &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	return s
}

func (s *Server) Start() error {
	s.log.Info().Str("addr", s.srv.Addr).Msg("starting server")
	return s.srv.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down HTTP server")
	if err := s.srv.Shutdown(ctx); err != nil {
		return errors.Wrap(err, "server shutdown")
	}

	return nil
}
