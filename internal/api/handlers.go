package api

import (
	"encoding/json"
	"net/http"
	"slices"
	"strconv"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/roomsync/internal/database"
	"github.com/npezzotti/roomsync/internal/server"
	"github.com/npezzotti/roomsync/internal/types"
	"github.com/samber/lo"
)

func (s *Server) writeJson(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("json encode")
	}
}

func (s *Server) writeError(w http.ResponseWriter, errResp *ApiError) {
	if errResp.Err != nil {
		s.log.Error().Err(errResp.Err).Int("status", errResp.StatusCode).Msg("request failed")
	}
	s.writeJson(w, errResp.StatusCode, errResp)
}

func chatId(r *http.Request) (int, bool) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func toRoom(c database.Chat) types.Room {
	return types.Room{
		Id:        c.Id,
		CreatedAt: types.NewTimestamp(c.CreatedAt),
		Title:     c.Title,
	}
}

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Ping(r.Context()); err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *Server) listChats(w http.ResponseWriter, r *http.Request) {
	chats, err := s.db.ListChats(r.Context())
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	s.writeJson(w, http.StatusOK, lo.Map(chats, func(c database.Chat, _ int) types.Room {
		return toRoom(c)
	}))
}

func (s *Server) createChat(w http.ResponseWriter, r *http.Request) {
	chat, err := s.db.CreateChat(r.Context())
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	s.log.Info().Int("chat_id", chat.Id).Msg("chat created")
	s.writeJson(w, http.StatusCreated, chat.Id)
}

func (s *Server) getChat(w http.ResponseWriter, r *http.Request) {
	id, ok := chatId(r)
	if !ok {
		s.writeError(w, NewBadRequestError())
		return
	}

	chat, err := s.db.GetChat(r.Context(), id)
	if err != nil {
		s.writeError(w, storeError(err))
		return
	}

	s.writeJson(w, http.StatusOK, toRoom(chat))
}

func (s *Server) deleteChat(w http.ResponseWriter, r *http.Request) {
	id, ok := chatId(r)
	if !ok {
		s.writeError(w, NewBadRequestError())
		return
	}

	if err := s.db.DeleteChat(r.Context(), id); err != nil {
		s.writeError(w, storeError(err))
		return
	}

	s.cs.RemoveRoom(id)
	s.log.Info().Int("chat_id", id).Msg("chat deleted")
	s.writeJson(w, http.StatusOK, struct{}{})
}

func (s *Server) chatHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := chatId(r)
	if !ok {
		s.writeError(w, NewBadRequestError())
		return
	}

	messages, err := s.db.ListMessages(r.Context(), id)
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	s.writeJson(w, http.StatusOK, lo.Map(messages, func(m database.Message, _ int) types.Message {
		return types.Message{
			RoomId: m.ChatId,
			Origin: types.Origin(m.Role),
			Body:   m.Content,
		}
	}))
}

func (s *Server) serveWs(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			// only allow connections from allowed origins
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}

			return slices.Contains(s.allowedOrigins, origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("upgrade connection")
		return
	}

	client := server.NewClient(conn, s.cs, s.log)
	if !s.cs.Register(client) {
		conn.Close()
		return
	}

	go client.Write()
	go client.Read()
}
