package channel

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/roomsync/internal/testutil"
	"github.com/npezzotti/roomsync/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeHub accepts websocket connections and records the frames it receives.
type fakeHub struct {
	t        *testing.T
	upgrader websocket.Upgrader
	lock     sync.Mutex
	conns    []*websocket.Conn
	frames   []types.Envelope
	accepted chan *websocket.Conn
}

func newFakeHub(t *testing.T) (*fakeHub, string) {
	h := &fakeHub{t: t, accepted: make(chan *websocket.Conn, 8)}
	srv := httptest.NewServer(http.HandlerFunc(h.serve))
	t.Cleanup(func() {
		h.closeAll()
		srv.Close()
	})

	return h, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func (h *fakeHub) serve(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.t.Logf("upgrade: %v", err)
		return
	}

	h.lock.Lock()
	h.conns = append(h.conns, conn)
	h.lock.Unlock()
	h.accepted <- conn

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var env types.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			continue
		}
		h.lock.Lock()
		h.frames = append(h.frames, env)
		h.lock.Unlock()
	}
}

func (h *fakeHub) received() []types.Envelope {
	h.lock.Lock()
	defer h.lock.Unlock()
	return append([]types.Envelope(nil), h.frames...)
}

func (h *fakeHub) closeAll() {
	h.lock.Lock()
	defer h.lock.Unlock()
	for _, c := range h.conns {
		c.Close()
	}
}

func waitFor[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	var zero T
	return zero
}

func TestChannel_ConnectJoinLeaveSend(t *testing.T) {
	hub, url := newFakeHub(t)
	ch := New(url, WithLogger(testutil.TestLogger(t)), WithReconnectDelay(10*time.Millisecond))

	connected := make(chan struct{}, 1)
	unsub := ch.OnConnected(func() { connected <- struct{}{} })
	defer unsub()

	require.NoError(t, ch.Connect(context.Background()))
	defer ch.Disconnect()
	assert.ErrorIs(t, ch.Connect(context.Background()), ErrAlreadyStarted)

	waitFor(t, connected)
	assert.True(t, ch.Connected())

	ch.Join(5)
	ch.Leave(5)
	require.NoError(t, ch.Send(types.Message{RoomId: 5, Origin: types.OriginHuman, Body: "hi"}))

	require.Eventually(t, func() bool { return len(hub.received()) == 3 }, 5*time.Second, 10*time.Millisecond)

	frames := hub.received()
	assert.Equal(t, types.EventJoin, frames[0].Event)
	ref, err := frames[0].DecodeRoomRef()
	require.NoError(t, err)
	assert.Equal(t, 5, ref.Room)

	assert.Equal(t, types.EventLeave, frames[1].Event)

	assert.Equal(t, types.EventChatMessage, frames[2].Event)
	msg, err := frames[2].DecodeMessage()
	require.NoError(t, err)
	assert.Equal(t, types.Message{RoomId: 5, Origin: types.OriginHuman, Body: "hi"}, msg)
}

func TestChannel_ReceivesMessages(t *testing.T) {
	hub, url := newFakeHub(t)
	ch := New(url, WithLogger(testutil.TestLogger(t)))

	messages := make(chan types.Message, 4)
	unsub := ch.OnMessage(func(m types.Message) { messages <- m })

	require.NoError(t, ch.Connect(context.Background()))
	defer ch.Disconnect()

	conn := waitFor(t, hub.accepted)
	write := func(raw string) {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(raw)))
	}

	write(`not json`)
	write(`{"event":"somethingElse","data":{}}`)
	write(`{"event":"chatMessage","data":{"chatid":3,"type":"ai","message":"hello"}}`)

	msg := waitFor(t, messages)
	assert.Equal(t, types.Message{RoomId: 3, Origin: types.OriginAssistant, Body: "hello"}, msg)

	unsub()
	unsub()
	write(`{"event":"chatMessage","data":{"chatid":3,"type":"ai","message":"again"}}`)

	select {
	case m := <-messages:
		t.Fatalf("expected no delivery after unsubscribe, got %+v", m)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestChannel_Reconnects(t *testing.T) {
	hub, url := newFakeHub(t)
	ch := New(url, WithLogger(testutil.TestLogger(t)), WithReconnectDelay(10*time.Millisecond))

	connected := make(chan struct{}, 4)
	disconnected := make(chan struct{}, 4)
	ch.OnConnected(func() { connected <- struct{}{} })
	ch.OnDisconnected(func() { disconnected <- struct{}{} })

	require.NoError(t, ch.Connect(context.Background()))
	defer ch.Disconnect()

	first := waitFor(t, hub.accepted)
	waitFor(t, connected)

	first.Close()
	waitFor(t, disconnected)

	waitFor(t, hub.accepted)
	waitFor(t, connected)
	assert.True(t, ch.Connected())
}

func TestChannel_DropsWhileDisconnected(t *testing.T) {
	ch := New("ws://127.0.0.1:1/ws", WithLogger(testutil.TestLogger(t)))

	assert.False(t, ch.Connected())
	ch.Join(1)
	ch.Leave(1)
	assert.ErrorIs(t, ch.Send(types.Message{RoomId: 1, Origin: types.OriginHuman, Body: "x"}), ErrNotConnected)

	// never connected
	ch.Disconnect()
}

func TestChannel_DisconnectStopsReconnecting(t *testing.T) {
	hub, url := newFakeHub(t)
	ch := New(url, WithLogger(testutil.TestLogger(t)), WithReconnectDelay(10*time.Millisecond))

	disconnected := make(chan struct{}, 1)
	ch.OnDisconnected(func() { disconnected <- struct{}{} })

	require.NoError(t, ch.Connect(context.Background()))
	waitFor(t, hub.accepted)

	ch.Disconnect()
	waitFor(t, disconnected)
	assert.False(t, ch.Connected())

	select {
	case <-hub.accepted:
		t.Fatal("expected no reconnect after Disconnect")
	case <-time.After(100 * time.Millisecond):
	}

	require.NoError(t, ch.Connect(context.Background()), "expected channel to be restartable")
	waitFor(t, hub.accepted)
	ch.Disconnect()
}
