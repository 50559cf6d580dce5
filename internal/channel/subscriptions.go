package channel

import (
	"sync"

	"github.com/npezzotti/roomsync/internal/types"
)

type subscriptions struct {
	lock         sync.RWMutex
	nextId       int
	connected    map[int]func()
	disconnected map[int]func()
	message      map[int]func(types.Message)
}

func newSubscriptions() *subscriptions {
	return &subscriptions{
		connected:    make(map[int]func()),
		disconnected: make(map[int]func()),
		message:      make(map[int]func(types.Message)),
	}
}

func (s *subscriptions) addConnected(fn func()) func() {
	s.lock.Lock()
	defer s.lock.Unlock()

	id := s.nextId
	s.nextId++
	s.connected[id] = fn

	return s.remover(func() { delete(s.connected, id) })
}

func (s *subscriptions) addDisconnected(fn func()) func() {
	s.lock.Lock()
	defer s.lock.Unlock()

	id := s.nextId
	s.nextId++
	s.disconnected[id] = fn

	return s.remover(func() { delete(s.disconnected, id) })
}

func (s *subscriptions) addMessage(fn func(types.Message)) func() {
	s.lock.Lock()
	defer s.lock.Unlock()

	id := s.nextId
	s.nextId++
	s.message[id] = fn

	return s.remover(func() { delete(s.message, id) })
}

// remover wraps del so the returned unsubscribe func can be called any
// number of times.
func (s *subscriptions) remover(del func()) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			s.lock.Lock()
			defer s.lock.Unlock()
			del()
		})
	}
}

func (s *subscriptions) emitConnected() {
	for _, fn := range s.snapshotConnected() {
		fn()
	}
}

func (s *subscriptions) emitDisconnected() {
	for _, fn := range s.snapshotDisconnected() {
		fn()
	}
}

func (s *subscriptions) emitMessage(msg types.Message) {
	s.lock.RLock()
	handlers := make([]func(types.Message), 0, len(s.message))
	for _, fn := range s.message {
		handlers = append(handlers, fn)
	}
	s.lock.RUnlock()

	for _, fn := range handlers {
		fn(msg)
	}
}

func (s *subscriptions) snapshotConnected() []func() {
	s.lock.RLock()
	defer s.lock.RUnlock()

	handlers := make([]func(), 0, len(s.connected))
	for _, fn := range s.connected {
		handlers = append(handlers, fn)
	}
	return handlers
}

func (s *subscriptions) snapshotDisconnected() []func() {
	s.lock.RLock()
	defer s.lock.RUnlock()

	handlers := make([]func(), 0, len(s.disconnected))
	for _, fn := range s.disconnected {
		handlers = append(handlers, fn)
	}
	return handlers
}
