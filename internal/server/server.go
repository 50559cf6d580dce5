// Package server is the live channel hub. Connections join and leave rooms
// by chat id; every chatMessage is persisted, broadcast to the room and
// answered by the assistant.
package server

import (
	"context"
	"sync"
	"time"

	"github.com/npezzotti/roomsync/internal/assistant"
	"github.com/npezzotti/roomsync/internal/database"
	"github.com/npezzotti/roomsync/internal/stats"
	"github.com/npezzotti/roomsync/internal/types"
	"github.com/rs/zerolog"
)

const (
	metricClients  = "NumActiveClients"
	metricRooms    = "NumActiveRooms"
	metricMessages = "NumMessages"
)

// ClientMessage is a join, leave or chatMessage frame from a connection.
// Frames of one connection reach its rooms in the order they were read.
type ClientMessage struct {
	client *Client
	event  string
	roomId int
	msg    types.Message
}

type stopReq struct {
	done chan struct{}
}

type ChatServer struct {
	log       zerolog.Logger
	db        database.ChatRepository
	assistant assistant.Assistant
	stats     stats.Recorder
	roomIdle  time.Duration

	// owned by Run
	clients     map[*Client]map[int]struct{}
	rooms       map[int]*Room
	clientsLock sync.RWMutex

	registerChan   chan *Client
	deRegisterChan chan *Client
	clientMsgChan  chan *ClientMessage
	unloadRoomChan chan *Room
	rmRoomChan     chan int
	stop           chan stopReq
	done           chan struct{}
}

func NewChatServer(logger zerolog.Logger, db database.ChatRepository, a assistant.Assistant, su stats.Recorder) *ChatServer {
	su.RegisterMetric(metricClients)
	su.RegisterMetric(metricRooms)
	su.RegisterMetric(metricMessages)

	return &ChatServer{
		log:            logger.With().Str("component", "hub").Logger(),
		db:             db,
		assistant:      a,
		stats:          su,
		roomIdle:       idleRoomTimeout,
		clients:        make(map[*Client]map[int]struct{}),
		rooms:          make(map[int]*Room),
		registerChan:   make(chan *Client),
		deRegisterChan: make(chan *Client),
		clientMsgChan:  make(chan *ClientMessage, 256),
		unloadRoomChan: make(chan *Room),
		rmRoomChan:     make(chan int),
		stop:           make(chan stopReq),
		done:           make(chan struct{}),
	}
}

func (cs *ChatServer) Run() {
	defer close(cs.done)

	for {
		select {
		case c := <-cs.registerChan:
			cs.addClient(c)
		case c := <-cs.deRegisterChan:
			cs.removeClient(c)
		case msg := <-cs.clientMsgChan:
			cs.handleClientMessage(msg)
		case r := <-cs.unloadRoomChan:
			cs.handleUnload(r)
		case id := <-cs.rmRoomChan:
			cs.handleRemoveRoom(id)
		case req := <-cs.stop:
			cs.log.Info().Int("rooms", len(cs.rooms)).Msg("shutting down hub")
			for id, r := range cs.rooms {
				r.shutdown()
				cs.dropRoom(id)
			}
			for c := range cs.clients {
				c.stopClient()
			}
			close(req.done)
			return
		}
	}
}

// Shutdown stops every room and connection and waits for Run to return.
func (cs *ChatServer) Shutdown(ctx context.Context) error {
	req := stopReq{done: make(chan struct{})}
	select {
	case cs.stop <- req:
	case <-cs.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-req.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RemoveRoom stops the room of a deleted chat and forgets its members.
func (cs *ChatServer) RemoveRoom(id int) {
	select {
	case cs.rmRoomChan <- id:
	case <-cs.done:
	}
}

// Register adds a connection to the hub. It returns false once the hub has
// stopped.
func (cs *ChatServer) Register(c *Client) bool {
	select {
	case cs.registerChan <- c:
		return true
	case <-cs.done:
		return false
	}
}

// NumClients reports how many connections are registered.
func (cs *ChatServer) NumClients() int {
	cs.clientsLock.RLock()
	defer cs.clientsLock.RUnlock()
	return len(cs.clients)
}

func (cs *ChatServer) addClient(c *Client) {
	cs.clientsLock.Lock()
	cs.clients[c] = make(map[int]struct{})
	cs.clientsLock.Unlock()

	cs.stats.Incr(metricClients)
	cs.log.Debug().Str("conn_id", c.id).Msg("connection registered")
}

func (cs *ChatServer) removeClient(c *Client) {
	cs.clientsLock.Lock()
	joined, ok := cs.clients[c]
	delete(cs.clients, c)
	cs.clientsLock.Unlock()
	if !ok {
		return
	}

	for id := range joined {
		if r, ok := cs.rooms[id]; ok {
			r.send(&ClientMessage{client: c, event: types.EventLeave, roomId: id})
		}
	}

	cs.stats.Decr(metricClients)
	cs.log.Debug().Str("conn_id", c.id).Int("rooms", len(joined)).Msg("connection removed")
}

func (cs *ChatServer) handleClientMessage(msg *ClientMessage) {
	joined, ok := cs.clients[msg.client]
	if !ok {
		return
	}

	switch msg.event {
	case types.EventJoin:
		if _, already := joined[msg.roomId]; already {
			return
		}
		joined[msg.roomId] = struct{}{}
		cs.loadRoom(msg.roomId).send(msg)
	case types.EventLeave:
		if _, member := joined[msg.roomId]; !member {
			cs.log.Debug().Str("conn_id", msg.client.id).Int("room_id", msg.roomId).Msg("leave of a room not joined")
			return
		}
		delete(joined, msg.roomId)
		if r, ok := cs.rooms[msg.roomId]; ok {
			r.send(msg)
		}
	case types.EventChatMessage:
		cs.loadRoom(msg.roomId).send(msg)
	}
}

// handleUnload removes an idle room unless it picked up work after asking.
func (cs *ChatServer) handleUnload(r *Room) {
	if cur, ok := cs.rooms[r.id]; !ok || cur != r {
		return
	}

	if r.tryExit(exitReq{}) {
		cs.dropRoom(r.id)
	}
}

func (cs *ChatServer) handleRemoveRoom(id int) {
	for _, joined := range cs.clients {
		delete(joined, id)
	}

	if r, ok := cs.rooms[id]; ok {
		r.shutdown()
		cs.dropRoom(id)
	}
}

func (cs *ChatServer) loadRoom(id int) *Room {
	if r, ok := cs.rooms[id]; ok {
		return r
	}

	r := newRoom(id, cs)
	cs.rooms[id] = r
	cs.stats.Incr(metricRooms)
	go r.start()

	return r
}

func (cs *ChatServer) dropRoom(id int) {
	delete(cs.rooms, id)
	cs.stats.Decr(metricRooms)
	cs.log.Debug().Int("room_id", id).Int("rooms", len(cs.rooms)).Msg("room unloaded")
}
