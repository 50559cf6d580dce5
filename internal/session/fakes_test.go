package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/npezzotti/roomsync/internal/types"
)

// fakeRemote serves rooms and history from memory. Calls can be held back
// with gates so tests decide the order in which responses resolve.
type fakeRemote struct {
	lock     sync.Mutex
	rooms    []types.Room
	history  map[int][]types.Message
	gates    map[string]chan struct{}
	failures map[string]error
	nextId   int
	calls    []string
}

func newFakeRemote(rooms ...types.Room) *fakeRemote {
	return &fakeRemote{
		rooms:    rooms,
		history:  make(map[int][]types.Message),
		gates:    make(map[string]chan struct{}),
		failures: make(map[string]error),
		nextId:   100,
	}
}

// hold makes calls identified by key block until release is called.
func (f *fakeRemote) hold(key string) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.gates[key] = make(chan struct{})
}

func (f *fakeRemote) release(key string) {
	f.lock.Lock()
	defer f.lock.Unlock()
	if g, ok := f.gates[key]; ok {
		close(g)
		delete(f.gates, key)
	}
}

func (f *fakeRemote) fail(key string, err error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.failures[key] = err
}

func (f *fakeRemote) setHistory(id int, msgs ...types.Message) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.history[id] = msgs
}

func (f *fakeRemote) callLog() []string {
	f.lock.Lock()
	defer f.lock.Unlock()
	return append([]string(nil), f.calls...)
}

// enter logs the call and decides its failure up front, so a failure set
// after waitCalls saw the call only affects later calls.
func (f *fakeRemote) enter(ctx context.Context, key string) error {
	f.lock.Lock()
	f.calls = append(f.calls, key)
	gate := f.gates[key]
	failure := f.failures[key]
	f.lock.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return failure
}

// ListRooms answers with the rooms that existed when it was called.
func (f *fakeRemote) ListRooms(ctx context.Context) ([]types.Room, error) {
	f.lock.Lock()
	rooms := append([]types.Room(nil), f.rooms...)
	f.lock.Unlock()

	if err := f.enter(ctx, "list"); err != nil {
		return nil, err
	}
	return rooms, nil
}

func (f *fakeRemote) CreateRoom(ctx context.Context) (int, error) {
	if err := f.enter(ctx, "create"); err != nil {
		return 0, err
	}
	f.lock.Lock()
	defer f.lock.Unlock()
	f.nextId++
	f.rooms = append(f.rooms, types.Room{Id: f.nextId, Title: fmt.Sprintf("Chat %d", f.nextId)})
	return f.nextId, nil
}

func (f *fakeRemote) DeleteRoom(ctx context.Context, id int) error {
	if err := f.enter(ctx, fmt.Sprintf("delete:%d", id)); err != nil {
		return err
	}
	f.lock.Lock()
	defer f.lock.Unlock()
	for i, r := range f.rooms {
		if r.Id == id {
			f.rooms = append(f.rooms[:i], f.rooms[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("room %d not found", id)
}

func (f *fakeRemote) GetRoom(ctx context.Context, id int) (types.Room, error) {
	if err := f.enter(ctx, fmt.Sprintf("room:%d", id)); err != nil {
		return types.Room{}, err
	}
	f.lock.Lock()
	defer f.lock.Unlock()
	for _, r := range f.rooms {
		if r.Id == id {
			return r, nil
		}
	}
	return types.Room{}, fmt.Errorf("room %d not found", id)
}

func (f *fakeRemote) GetHistory(ctx context.Context, id int) ([]types.Message, error) {
	if err := f.enter(ctx, fmt.Sprintf("history:%d", id)); err != nil {
		return nil, err
	}
	f.lock.Lock()
	defer f.lock.Unlock()
	return append([]types.Message(nil), f.history[id]...), nil
}

// fakeLive records every membership call and lets tests fire channel events.
type fakeLive struct {
	lock         sync.Mutex
	connected    bool
	ops          []string
	sent         []types.Message
	sendErr      error
	onConnect    map[int]func()
	onDisconnect map[int]func()
	onMessage    map[int]func(types.Message)
	nextSub      int
}

func newFakeLive(connected bool) *fakeLive {
	return &fakeLive{
		connected:    connected,
		onConnect:    make(map[int]func()),
		onDisconnect: make(map[int]func()),
		onMessage:    make(map[int]func(types.Message)),
	}
}

func (l *fakeLive) Join(roomId int) {
	l.lock.Lock()
	defer l.lock.Unlock()
	l.ops = append(l.ops, fmt.Sprintf("join:%d", roomId))
}

func (l *fakeLive) Leave(roomId int) {
	l.lock.Lock()
	defer l.lock.Unlock()
	l.ops = append(l.ops, fmt.Sprintf("leave:%d", roomId))
}

func (l *fakeLive) Send(msg types.Message) error {
	l.lock.Lock()
	defer l.lock.Unlock()
	if l.sendErr != nil {
		return l.sendErr
	}
	l.sent = append(l.sent, msg)
	return nil
}

func (l *fakeLive) Connected() bool {
	l.lock.Lock()
	defer l.lock.Unlock()
	return l.connected
}

func (l *fakeLive) OnConnected(fn func()) func() {
	l.lock.Lock()
	defer l.lock.Unlock()
	id := l.nextSub
	l.nextSub++
	l.onConnect[id] = fn
	return func() {
		l.lock.Lock()
		defer l.lock.Unlock()
		delete(l.onConnect, id)
	}
}

func (l *fakeLive) OnDisconnected(fn func()) func() {
	l.lock.Lock()
	defer l.lock.Unlock()
	id := l.nextSub
	l.nextSub++
	l.onDisconnect[id] = fn
	return func() {
		l.lock.Lock()
		defer l.lock.Unlock()
		delete(l.onDisconnect, id)
	}
}

func (l *fakeLive) OnMessage(fn func(types.Message)) func() {
	l.lock.Lock()
	defer l.lock.Unlock()
	id := l.nextSub
	l.nextSub++
	l.onMessage[id] = fn
	return func() {
		l.lock.Lock()
		defer l.lock.Unlock()
		delete(l.onMessage, id)
	}
}

func (l *fakeLive) fireConnected() {
	l.lock.Lock()
	l.connected = true
	handlers := make([]func(), 0, len(l.onConnect))
	for _, fn := range l.onConnect {
		handlers = append(handlers, fn)
	}
	l.lock.Unlock()

	for _, fn := range handlers {
		fn()
	}
}

func (l *fakeLive) fireDisconnected() {
	l.lock.Lock()
	l.connected = false
	handlers := make([]func(), 0, len(l.onDisconnect))
	for _, fn := range l.onDisconnect {
		handlers = append(handlers, fn)
	}
	l.lock.Unlock()

	for _, fn := range handlers {
		fn()
	}
}

func (l *fakeLive) fireMessage(msg types.Message) {
	l.lock.Lock()
	handlers := make([]func(types.Message), 0, len(l.onMessage))
	for _, fn := range l.onMessage {
		handlers = append(handlers, fn)
	}
	l.lock.Unlock()

	for _, fn := range handlers {
		fn(msg)
	}
}

func (l *fakeLive) opLog() []string {
	l.lock.Lock()
	defer l.lock.Unlock()
	return append([]string(nil), l.ops...)
}

func (l *fakeLive) sentMessages() []types.Message {
	l.lock.Lock()
	defer l.lock.Unlock()
	return append([]types.Message(nil), l.sent...)
}

func (l *fakeLive) subscriberCount() int {
	l.lock.Lock()
	defer l.lock.Unlock()
	return len(l.onConnect) + len(l.onDisconnect) + len(l.onMessage)
}
