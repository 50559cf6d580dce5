package server

import (
	"context"
	"time"

	"github.com/npezzotti/roomsync/internal/assistant"
	"github.com/npezzotti/roomsync/internal/database"
	"github.com/npezzotti/roomsync/internal/types"
	"github.com/rs/zerolog"
)

const (
	idleRoomTimeout = 5 * time.Second
	roomQueueSize   = 64
)

type exitReq struct {
	// force stops the room even when it still has members or work queued.
	force bool
	done  chan bool
}

// Room owns the membership of one chat and fans frames out to it. Chat
// messages are handed to a responder goroutine so a slow assistant never
// holds up joins and leaves.
type Room struct {
	id  int
	cs  *ChatServer
	log zerolog.Logger

	clientMsgChan chan *ClientMessage
	broadcastChan chan []byte
	processed     chan struct{}
	exit          chan exitReq

	clients map[*Client]struct{}
	// pending counts messages handed to the responder and not yet answered
	pending int
	// killTimer unloads the room once it has been idle for a while
	killTimer *time.Timer

	queue         chan types.Message
	ctx           context.Context
	cancel        context.CancelFunc
	quit          chan struct{}
	responderDone chan struct{}
}

func newRoom(id int, cs *ChatServer) *Room {
	ctx, cancel := context.WithCancel(context.Background())
	killTimer := time.NewTimer(cs.roomIdle)
	killTimer.Stop()

	return &Room{
		id:            id,
		cs:            cs,
		log:           cs.log.With().Int("room_id", id).Logger(),
		clientMsgChan: make(chan *ClientMessage, 256),
		broadcastChan: make(chan []byte),
		processed:     make(chan struct{}),
		exit:          make(chan exitReq),
		clients:       make(map[*Client]struct{}),
		queue:         make(chan types.Message, roomQueueSize),
		ctx:           ctx,
		cancel:        cancel,
		quit:          make(chan struct{}),
		responderDone: make(chan struct{}),
		killTimer:     killTimer,
	}
}

func (r *Room) start() {
	r.log.Debug().Msg("starting room")
	go r.respond()
	r.checkIdle()

	for {
		select {
		case msg := <-r.clientMsgChan:
			r.handleClientMessage(msg)
		case frame := <-r.broadcastChan:
			r.broadcast(frame)
		case <-r.processed:
			r.pending--
			r.checkIdle()
		case <-r.killTimer.C:
			if r.handleRoomTimeout() {
				return
			}
		case e := <-r.exit:
			if r.handleExit(e) {
				return
			}
		}
	}
}

// send hands a frame to the room. The room keeps receiving while it waits
// to be unloaded, so the hub can block here.
func (r *Room) send(msg *ClientMessage) {
	r.clientMsgChan <- msg
}

// tryExit asks the room to stop and reports whether it did.
func (r *Room) tryExit(e exitReq) bool {
	e.done = make(chan bool, 1)
	r.exit <- e
	return <-e.done
}

func (r *Room) shutdown() {
	r.tryExit(exitReq{force: true})
}

// handleRoomTimeout asks the hub to unload the room. It reports whether the
// room exited while waiting.
func (r *Room) handleRoomTimeout() bool {
	r.log.Debug().Msg("room idle")
	select {
	case r.cs.unloadRoomChan <- r:
		return false
	case msg := <-r.clientMsgChan:
		r.handleClientMessage(msg)
		r.checkIdle()
		return false
	case e := <-r.exit:
		return r.handleExit(e)
	}
}

func (r *Room) handleExit(e exitReq) bool {
	if !e.force {
		r.drain()
		if len(r.clients) > 0 || r.pending > 0 {
			r.log.Debug().Int("clients", len(r.clients)).Int("pending", r.pending).Msg("room busy, staying loaded")
			r.checkIdle()
			e.done <- false
			return false
		}
	}

	r.killTimer.Stop()
	r.cancel()
	close(r.quit)
	<-r.responderDone

	r.log.Debug().Bool("forced", e.force).Msg("room exiting")
	e.done <- true
	return true
}

// drain applies the frames the hub already routed here.
func (r *Room) drain() {
	for {
		select {
		case msg := <-r.clientMsgChan:
			r.handleClientMessage(msg)
		default:
			return
		}
	}
}

func (r *Room) handleClientMessage(msg *ClientMessage) {
	switch msg.event {
	case types.EventJoin:
		r.addClient(msg.client)
	case types.EventLeave:
		r.removeClient(msg.client)
	case types.EventChatMessage:
		r.enqueue(msg.msg)
	}
}

func (r *Room) addClient(c *Client) {
	r.clients[c] = struct{}{}
	r.log.Debug().Str("conn_id", c.id).Int("clients", len(r.clients)).Msg("client joined")
	r.checkIdle()
}

func (r *Room) removeClient(c *Client) {
	if _, ok := r.clients[c]; !ok {
		return
	}

	delete(r.clients, c)
	r.log.Debug().Str("conn_id", c.id).Int("clients", len(r.clients)).Msg("client left")
	r.checkIdle()
}

func (r *Room) enqueue(msg types.Message) {
	select {
	case r.queue <- msg:
		r.pending++
	default:
		r.log.Warn().Msg("responder queue full, dropping message")
	}
	r.checkIdle()
}

func (r *Room) checkIdle() {
	if len(r.clients) == 0 && r.pending == 0 {
		r.killTimer.Reset(r.cs.roomIdle)
		return
	}
	r.killTimer.Stop()
}

func (r *Room) broadcast(frame []byte) {
	for c := range r.clients {
		c.queueMessage(frame)
	}
}

func (r *Room) respond() {
	defer close(r.responderDone)

	for {
		select {
		case msg := <-r.queue:
			r.handleMessage(msg)
			select {
			case r.processed <- struct{}{}:
			case <-r.quit:
				return
			}
		case <-r.quit:
			return
		}
	}
}

// handleMessage persists and broadcasts a human message, then generates,
// persists and broadcasts the assistant's answer.
func (r *Room) handleMessage(in types.Message) {
	ctx := r.ctx
	db := r.cs.db

	exists, err := db.ChatExists(ctx, r.id)
	if err != nil {
		r.log.Error().Err(err).Msg("check chat")
		return
	}
	if !exists {
		r.log.Warn().Msg("message for a chat that does not exist")
		r.emit(missingChatMessage(r.id))
		return
	}

	history, err := db.RecentMessages(ctx, r.id, 2*assistant.HistoryWindow)
	if err != nil {
		r.log.Warn().Err(err).Msg("load history, answering without it")
		history = nil
	}

	human := types.Message{RoomId: r.id, Origin: types.OriginHuman, Body: in.Body}
	if !r.save(human) {
		return
	}
	r.emit(human)

	answer, err := r.cs.assistant.Reply(ctx, toTurns(history), human.Body)
	if err != nil {
		if ctx.Err() == nil {
			r.log.Error().Err(err).Msg("generate reply")
			r.emit(replyFailedMessage(r.id))
		}
		return
	}

	reply := types.Message{RoomId: r.id, Origin: types.OriginAssistant, Body: answer}
	if !r.save(reply) {
		return
	}
	r.emit(reply)
}

func (r *Room) save(msg types.Message) bool {
	_, err := r.cs.db.CreateMessage(r.ctx, database.CreateMessageParams{
		ChatId:  msg.RoomId,
		Role:    string(msg.Origin),
		Content: msg.Body,
	})
	if err != nil {
		r.log.Error().Err(err).Str("origin", string(msg.Origin)).Msg("save message")
		return false
	}

	r.cs.stats.Incr(metricMessages)
	return true
}

func (r *Room) emit(msg types.Message) {
	frame, err := encodeMessage(msg)
	if err != nil {
		r.log.Error().Err(err).Msg("encode message")
		return
	}

	select {
	case r.broadcastChan <- frame:
	case <-r.quit:
	}
}
