package server

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/roomsync/internal/types"
	"github.com/rs/zerolog"
	"github.com/teris-io/shortid"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 256
)

// Client is one websocket connection to the hub.
type Client struct {
	id       string
	conn     *websocket.Conn
	cs       *ChatServer
	log      zerolog.Logger
	send     chan []byte
	stop     chan struct{}
	stopOnce sync.Once
}

func NewClient(conn *websocket.Conn, cs *ChatServer, logger zerolog.Logger) *Client {
	id, err := shortid.Generate()
	if err != nil {
		id = conn.RemoteAddr().String()
	}

	return &Client{
		id:   id,
		conn: conn,
		cs:   cs,
		log:  logger.With().Str("conn_id", id).Logger(),
		send: make(chan []byte, sendBuffer),
		stop: make(chan struct{}),
	}
}

func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.log.Debug().Msg("write exiting")
	}()

	for {
		select {
		case frame := <-c.send:
			if !c.sendMessage(websocket.TextMessage, frame) {
				return
			}
		case <-c.stop:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			return
		case <-ticker.C:
			if !c.sendMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) Read() {
	defer func() {
		c.conn.Close()
		c.cleanup()
		c.log.Debug().Msg("read exiting")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { return c.conn.SetReadDeadline(time.Now().Add(pongWait)) })

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Warn().Err(err).Msg("read")
			}
			return
		}

		var env types.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			c.log.Debug().Err(err).Msg("ignoring malformed frame")
			continue
		}

		if !c.dispatch(&env) {
			return
		}
	}
}

// dispatch routes a frame to the hub. It returns false once the client or
// the hub has stopped.
func (c *Client) dispatch(env *types.Envelope) bool {
	msg := &ClientMessage{client: c, event: env.Event}

	switch env.Event {
	case types.EventJoin, types.EventLeave:
		ref, err := env.DecodeRoomRef()
		if err != nil || ref.Room <= 0 {
			c.log.Debug().Err(err).Str("event", env.Event).Msg("ignoring invalid room reference")
			return true
		}
		msg.roomId = ref.Room
	case types.EventChatMessage:
		body, err := env.DecodeMessage()
		if err != nil || body.RoomId <= 0 || strings.TrimSpace(body.Body) == "" {
			c.log.Debug().Err(err).Msg("ignoring invalid chat message")
			return true
		}
		body.Origin = types.OriginHuman
		msg.roomId = body.RoomId
		msg.msg = body
	default:
		c.log.Debug().Str("event", env.Event).Msg("ignoring unknown event")
		return true
	}

	select {
	case <-c.stop:
		return false
	default:
	}

	select {
	case c.cs.clientMsgChan <- msg:
		return true
	case <-c.cs.done:
		return false
	}
}

func (c *Client) queueMessage(frame []byte) bool {
	select {
	case c.send <- frame:
	default:
		c.log.Warn().Msg("send buffer full, dropping frame")
		return false
	}

	return true
}

func (c *Client) sendMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Warn().Err(err).Msg("write message")
		}
		return false
	}

	return true
}

func (c *Client) stopClient() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *Client) cleanup() {
	select {
	case c.cs.deRegisterChan <- c:
	case <-c.cs.done:
	}
	c.stopClient()
}
