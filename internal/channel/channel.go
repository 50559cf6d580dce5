// Package channel is the client end of the live event connection. It keeps a
// single websocket to the hub, re-dials after unexpected drops and fans the
// lifecycle and message events out to subscribers.
package channel

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/roomsync/internal/types"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 256

	DefaultReconnectDelay = 2 * time.Second
)

var (
	ErrNotConnected   = errors.New("channel not connected")
	ErrSendBufferFull = errors.New("channel send buffer full")
	ErrAlreadyStarted = errors.New("channel already started")
)

type Channel struct {
	url            string
	dialer         *websocket.Dialer
	log            zerolog.Logger
	reconnectDelay time.Duration

	connLock  sync.RWMutex
	connected bool
	send      chan []byte

	subs *subscriptions

	runLock sync.Mutex
	stop    chan struct{}
	done    chan struct{}
}

type Option func(*Channel)

func WithLogger(l zerolog.Logger) Option {
	return func(ch *Channel) {
		ch.log = l
	}
}

func WithReconnectDelay(d time.Duration) Option {
	return func(ch *Channel) {
		ch.reconnectDelay = d
	}
}

func WithDialer(d *websocket.Dialer) Option {
	return func(ch *Channel) {
		ch.dialer = d
	}
}

func New(url string, opts ...Option) *Channel {
	ch := &Channel{
		url:            url,
		dialer:         websocket.DefaultDialer,
		log:            zerolog.Nop(),
		reconnectDelay: DefaultReconnectDelay,
		subs:           newSubscriptions(),
	}
	for _, opt := range opts {
		opt(ch)
	}
	ch.log = ch.log.With().Str("component", "channel").Str("url", url).Logger()

	return ch
}

// Connect starts maintaining the connection in the background. It returns
// immediately; subscribers learn about the actual link through OnConnected.
// The connection is kept until Disconnect is called or ctx is done.
func (ch *Channel) Connect(ctx context.Context) error {
	ch.runLock.Lock()
	defer ch.runLock.Unlock()

	if ch.stop != nil {
		return ErrAlreadyStarted
	}

	ch.stop = make(chan struct{})
	ch.done = make(chan struct{})
	go ch.run(ctx, ch.stop, ch.done)

	return nil
}

// Disconnect closes the connection and stops reconnecting. It is safe to call
// on a channel that was never connected.
func (ch *Channel) Disconnect() {
	ch.runLock.Lock()
	stop, done := ch.stop, ch.done
	ch.stop, ch.done = nil, nil
	ch.runLock.Unlock()

	if stop == nil {
		return
	}

	close(stop)
	<-done
}

func (ch *Channel) Connected() bool {
	ch.connLock.RLock()
	defer ch.connLock.RUnlock()
	return ch.connected
}

// Join asks the hub to add this connection to a room. Without a live
// connection the request is dropped.
func (ch *Channel) Join(roomId int) {
	if err := ch.emit(types.EventJoin, types.RoomRef{Room: roomId}); err != nil {
		ch.log.Debug().Err(err).Int("room_id", roomId).Msg("join dropped")
	}
}

// Leave is the counterpart of Join. Leaving a room that was never joined is
// harmless on the hub side.
func (ch *Channel) Leave(roomId int) {
	if err := ch.emit(types.EventLeave, types.RoomRef{Room: roomId}); err != nil {
		ch.log.Debug().Err(err).Int("room_id", roomId).Msg("leave dropped")
	}
}

// Send publishes a chat message. The hub echoes it back to every member of
// the room, this connection included.
func (ch *Channel) Send(msg types.Message) error {
	return ch.emit(types.EventChatMessage, msg)
}

func (ch *Channel) OnConnected(fn func()) (unsubscribe func()) {
	return ch.subs.addConnected(fn)
}

func (ch *Channel) OnDisconnected(fn func()) (unsubscribe func()) {
	return ch.subs.addDisconnected(fn)
}

func (ch *Channel) OnMessage(fn func(types.Message)) (unsubscribe func()) {
	return ch.subs.addMessage(fn)
}

func (ch *Channel) emit(event string, data any) error {
	env, err := types.NewEnvelope(event, data)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return errors.Wrap(err, "marshal envelope")
	}

	ch.connLock.RLock()
	defer ch.connLock.RUnlock()

	if !ch.connected {
		return ErrNotConnected
	}

	select {
	case ch.send <- raw:
	default:
		return ErrSendBufferFull
	}

	return nil
}

func (ch *Channel) run(ctx context.Context, stop, done chan struct{}) {
	defer close(done)

	for {
		conn, _, err := ch.dialer.DialContext(ctx, ch.url, nil)
		if err != nil {
			ch.log.Warn().Err(err).Msg("dial failed")
		} else {
			ch.serve(ctx, conn, stop)
		}

		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-time.After(ch.reconnectDelay):
			ch.log.Debug().Msg("reconnecting")
		}
	}
}

// serve owns one websocket connection until it drops. Reads happen on the
// calling goroutine; writes are funneled through ch.send to a single writer.
func (ch *Channel) serve(ctx context.Context, conn *websocket.Conn, stop chan struct{}) {
	send := make(chan []byte, sendBuffer)
	writerDone := make(chan struct{})
	readerDone := make(chan struct{})

	ch.connLock.Lock()
	ch.connected = true
	ch.send = send
	ch.connLock.Unlock()

	ch.log.Info().Msg("connected")
	ch.subs.emitConnected()

	go func() {
		defer close(writerDone)
		ch.write(ctx, conn, send, stop, readerDone)
	}()

	ch.read(conn)
	close(readerDone)
	<-writerDone

	ch.connLock.Lock()
	ch.connected = false
	ch.send = nil
	ch.connLock.Unlock()

	ch.log.Info().Msg("disconnected")
	ch.subs.emitDisconnected()
}

func (ch *Channel) read(conn *websocket.Conn) {
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error { conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				ch.log.Warn().Err(err).Msg("read failed")
			}
			return
		}

		var env types.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			ch.log.Warn().Err(err).Msg("discarding malformed frame")
			continue
		}

		switch env.Event {
		case types.EventChatMessage:
			msg, err := env.DecodeMessage()
			if err != nil {
				ch.log.Warn().Err(err).Msg("discarding malformed message")
				continue
			}
			ch.subs.emitMessage(msg)
		default:
			ch.log.Debug().Str("event", env.Event).Msg("ignoring event")
		}
	}
}

func (ch *Channel) write(ctx context.Context, conn *websocket.Conn, send chan []byte, stop, readerDone chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case raw := <-send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				ch.log.Warn().Err(err).Msg("write failed")
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				ch.log.Warn().Err(err).Msg("ping failed")
				return
			}
		case <-stop:
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		case <-ctx.Done():
			return
		case <-readerDone:
			return
		}
	}
}
