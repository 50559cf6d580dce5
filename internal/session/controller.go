// Package session keeps the client's view of rooms and messages consistent
// between the history service and the live channel.
//
// All state lives on a single goroutine (Run). User intents, live channel
// events and the results of room switch fetches are queued to that goroutine
// and applied one at a time, so no state is ever mutated concurrently.
package session

import (
	"context"
	"strings"
	"sync"

	"github.com/npezzotti/roomsync/internal/types"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
)

const eventBuffer = 64

var (
	ErrClosed       = errors.New("session closed")
	ErrNoActiveRoom = errors.New("no active room")
	ErrEmptyDraft   = errors.New("draft is empty")
)

// Directory lists, creates and deletes rooms.
type Directory interface {
	ListRooms(ctx context.Context) ([]types.Room, error)
	CreateRoom(ctx context.Context) (int, error)
	DeleteRoom(ctx context.Context, id int) error
}

// History loads a single room and its message log.
type History interface {
	GetRoom(ctx context.Context, id int) (types.Room, error)
	GetHistory(ctx context.Context, id int) ([]types.Message, error)
}

// LiveChannel is the push side. Join and Leave are fire and forget; the
// controller never waits for the hub to acknowledge them.
type LiveChannel interface {
	Join(roomId int)
	Leave(roomId int)
	Send(msg types.Message) error
	Connected() bool
	OnConnected(fn func()) (unsubscribe func())
	OnDisconnected(fn func()) (unsubscribe func())
	OnMessage(fn func(types.Message)) (unsubscribe func())
}

type Controller struct {
	dir  Directory
	hist History
	live LiveChannel
	log  zerolog.Logger

	events   chan event
	updates  chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	// Everything below is owned by the Run goroutine.
	ctx    context.Context
	cancel context.CancelFunc
	state  State
	// joined is the room this client last joined on the live channel.
	joined *int
	// generation tags each room switch; only the latest one may commit.
	generation uint64
	// listSeq orders room list fetches so an older list never replaces a
	// newer one.
	listSeq     uint64
	appliedList uint64
	// batchDone is called after a switch result was applied or discarded.
	batchDone func(roomId int, applied bool)

	snapLock sync.RWMutex
	snapshot State
}

func NewController(logger zerolog.Logger, dir Directory, hist History, live LiveChannel) *Controller {
	return &Controller{
		dir:     dir,
		hist:    hist,
		live:    live,
		log:     logger.With().Str("component", "session").Logger(),
		events:  make(chan event, eventBuffer),
		updates: make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Run processes events until ctx is done or Shutdown is called. Intents block
// until Run picks them up, so Run must be started before they are issued.
func (c *Controller) Run(ctx context.Context) {
	c.ctx, c.cancel = context.WithCancel(ctx)

	unsubscribe := []func(){
		c.live.OnConnected(func() { c.post(c.handleConnected) }),
		c.live.OnDisconnected(func() { c.post(c.handleDisconnected) }),
		c.live.OnMessage(func(msg types.Message) {
			c.post(func() { c.handleMessage(msg) })
		}),
	}
	defer func() {
		for _, unsub := range unsubscribe {
			unsub()
		}
		c.teardown()
		c.publish()
		close(c.done)
	}()

	c.state.Connected = c.live.Connected()
	c.publish()

	for {
		select {
		case ev := <-c.events:
			ev.fn()
			c.publish()
			if ev.handled != nil {
				close(ev.handled)
			}
		case <-ctx.Done():
			c.log.Debug().Err(ctx.Err()).Msg("context done, stopping session")
			return
		case <-c.stop:
			return
		}
	}
}

// Shutdown stops Run and waits for it to leave the current room.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.stopOnce.Do(func() { close(c.stop) })

	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// State returns a copy of the latest committed state.
func (c *Controller) State() State {
	c.snapLock.RLock()
	defer c.snapLock.RUnlock()
	return c.snapshot.Clone()
}

// Updates signals after state changes. Signals coalesce; readers should call
// State after each one.
func (c *Controller) Updates() <-chan struct{} {
	return c.updates
}

// SelectRoom starts switching to room id. It returns once the switch has
// begun; the new room becomes active when its data has loaded.
func (c *Controller) SelectRoom(id int) error {
	return c.exec(func() { c.beginSwitch(id) })
}

// CreateRoom asks the directory for a new room and switches to it.
func (c *Controller) CreateRoom(ctx context.Context) (int, error) {
	id, err := c.dir.CreateRoom(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "create room")
	}

	if err := c.SelectRoom(id); err != nil {
		return id, err
	}

	return id, nil
}

// DeleteRoom deletes room id and refreshes the room list. If the room was
// active the session falls back to NoRoomSelected. A failed delete leaves
// the state untouched.
func (c *Controller) DeleteRoom(ctx context.Context, id int) error {
	if err := c.dir.DeleteRoom(ctx, id); err != nil {
		return errors.Wrapf(err, "delete room %d", id)
	}

	var seq uint64
	if err := c.exec(func() {
		c.handleDeleted(id)
		c.listSeq++
		seq = c.listSeq
	}); err != nil {
		return err
	}

	rooms, err := c.dir.ListRooms(ctx)
	if err != nil {
		return errors.Wrap(err, "refresh rooms")
	}

	return c.exec(func() { c.applyRooms(seq, rooms) })
}

// RefreshRooms reloads the room list without touching the active room.
func (c *Controller) RefreshRooms(ctx context.Context) error {
	var seq uint64
	if err := c.exec(func() {
		c.listSeq++
		seq = c.listSeq
	}); err != nil {
		return err
	}

	rooms, err := c.dir.ListRooms(ctx)
	if err != nil {
		return errors.Wrap(err, "list rooms")
	}

	return c.exec(func() { c.applyRooms(seq, rooms) })
}

func (c *Controller) SetDraft(body string) error {
	return c.exec(func() { c.state.Draft = body })
}

// Send transmits the draft to the active room and clears it. The message is
// not added to the log here; it shows up when the hub echoes it back.
func (c *Controller) Send() error {
	var err error
	if execErr := c.exec(func() { err = c.sendDraft() }); execErr != nil {
		return execErr
	}

	return err
}

func (c *Controller) sendDraft() error {
	if c.state.Phase != RoomActive || c.state.ActiveRoomId == nil {
		return ErrNoActiveRoom
	}
	if strings.TrimSpace(c.state.Draft) == "" {
		return ErrEmptyDraft
	}

	msg := types.Message{
		RoomId: *c.state.ActiveRoomId,
		Origin: types.OriginHuman,
		Body:   c.state.Draft,
	}
	if err := c.live.Send(msg); err != nil {
		return errors.Wrap(err, "send message")
	}

	c.state.Draft = ""
	return nil
}

type batch struct {
	generation uint64
	listSeq    uint64
	roomId     int
	room       types.Room
	rooms      []types.Room
	history    []types.Message
	err        error
}

func (c *Controller) beginSwitch(id int) {
	if c.state.Phase == RoomActive && c.state.IsActive(id) {
		c.log.Debug().Int("room_id", id).Msg("room already active")
		return
	}
	if c.state.Phase == SwitchingRoom && c.state.TargetRoomId != nil && *c.state.TargetRoomId == id {
		c.log.Debug().Int("room_id", id).Msg("switch already in progress")
		return
	}

	if c.joined != nil && *c.joined != id {
		c.leaveJoined()
	}

	c.generation++
	c.listSeq++
	b := &batch{
		generation: c.generation,
		listSeq:    c.listSeq,
		roomId:     id,
	}

	c.state.Phase = SwitchingRoom
	c.state.TargetRoomId = idPtr(id)

	c.log.Debug().Int("room_id", id).Uint64("generation", b.generation).Msg("switching room")
	go c.fetch(c.ctx, b)
}

// fetch loads everything a room switch needs concurrently and hands the
// result back to the Run goroutine.
func (c *Controller) fetch(ctx context.Context, b *batch) {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		room, err := c.hist.GetRoom(gctx, b.roomId)
		if err != nil {
			return errors.Wrap(err, "get room")
		}
		b.room = room
		return nil
	})
	g.Go(func() error {
		rooms, err := c.dir.ListRooms(gctx)
		if err != nil {
			return errors.Wrap(err, "list rooms")
		}
		b.rooms = rooms
		return nil
	})
	g.Go(func() error {
		history, err := c.hist.GetHistory(gctx, b.roomId)
		if err != nil {
			return errors.Wrap(err, "get history")
		}
		b.history = history
		return nil
	})

	b.err = g.Wait()
	c.post(func() { c.applyBatch(b) })
}

func (c *Controller) applyBatch(b *batch) {
	applied := false
	defer func() {
		if c.batchDone != nil {
			c.batchDone(b.roomId, applied)
		}
	}()

	if b.generation != c.generation {
		c.log.Debug().
			Int("room_id", b.roomId).
			Uint64("generation", b.generation).
			Uint64("current", c.generation).
			Msg("discarding stale room switch")
		return
	}

	if b.err != nil {
		c.log.Error().Err(b.err).Int("room_id", b.roomId).Msg("room switch failed")
		c.revertSwitch()
		return
	}

	c.state.Phase = RoomActive
	c.state.ActiveRoomId = idPtr(b.roomId)
	c.state.TargetRoomId = nil
	c.state.ActiveRoomTitle = b.room.Title
	c.state.Messages = append(make([]types.Message, 0, len(b.history)), b.history...)
	c.state.Draft = ""
	c.applyRooms(b.listSeq, b.rooms)
	c.joinRoom(b.roomId)
	applied = true

	c.log.Info().Int("room_id", b.roomId).Str("title", b.room.Title).Msg("room active")
}

// revertSwitch abandons the switch in flight and goes back to whatever was
// committed before it.
func (c *Controller) revertSwitch() {
	c.state.TargetRoomId = nil

	if c.state.ActiveRoomId == nil {
		c.state.Phase = NoRoomSelected
		return
	}

	c.state.Phase = RoomActive
	if c.joined == nil {
		c.joinRoom(*c.state.ActiveRoomId)
	}
}

func (c *Controller) applyRooms(seq uint64, rooms []types.Room) {
	if seq <= c.appliedList {
		c.log.Debug().Uint64("seq", seq).Uint64("applied", c.appliedList).Msg("discarding stale room list")
		return
	}

	c.appliedList = seq
	c.state.Rooms = append(make([]types.Room, 0, len(rooms)), rooms...)
}

func (c *Controller) handleDeleted(id int) {
	c.state.Rooms = lo.Reject(c.state.Rooms, func(r types.Room, _ int) bool {
		return r.Id == id
	})
	// Lists requested before the delete may still contain the room.
	c.appliedList = c.listSeq

	if c.state.IsActive(id) {
		if c.joined != nil && *c.joined == id {
			c.leaveJoined()
		}
		c.state.ActiveRoomId = nil
		c.state.ActiveRoomTitle = ""
		c.state.Messages = nil
		c.state.Draft = ""
		if c.state.Phase == RoomActive {
			c.state.Phase = NoRoomSelected
		}
	}

	if c.state.TargetRoomId != nil && *c.state.TargetRoomId == id {
		c.generation++
		c.revertSwitch()
	}
}

func (c *Controller) handleConnected() {
	c.state.Connected = true

	if c.state.Phase == RoomActive && c.state.ActiveRoomId != nil {
		c.joinRoom(*c.state.ActiveRoomId)
	}
}

func (c *Controller) handleDisconnected() {
	c.state.Connected = false
}

func (c *Controller) handleMessage(msg types.Message) {
	active := c.state.ActiveRoomId
	if active == nil {
		c.log.Debug().Int("room_id", msg.RoomId).Msg("dropping message, no active room")
		return
	}
	if msg.RoomId != 0 && msg.RoomId != *active {
		c.log.Debug().Int("room_id", msg.RoomId).Int("active_room_id", *active).Msg("dropping message for inactive room")
		return
	}

	c.state.Messages = append(c.state.Messages, msg)
}

func (c *Controller) joinRoom(id int) {
	c.live.Join(id)
	c.joined = idPtr(id)
}

func (c *Controller) leaveJoined() {
	if c.joined == nil {
		return
	}
	c.live.Leave(*c.joined)
	c.joined = nil
}

func (c *Controller) teardown() {
	if c.cancel != nil {
		c.cancel()
	}
	c.leaveJoined()
}

func (c *Controller) publish() {
	c.snapLock.Lock()
	c.snapshot = c.state.Clone()
	c.snapLock.Unlock()

	select {
	case c.updates <- struct{}{}:
	default:
	}
}

// event is a unit of work for the Run goroutine. handled, when set, is
// closed once fn ran and the resulting state was published.
type event struct {
	fn      func()
	handled chan struct{}
}

// exec runs fn on the Run goroutine and waits for it to finish.
func (c *Controller) exec(fn func()) error {
	ev := event{fn: fn, handled: make(chan struct{})}
	select {
	case c.events <- ev:
	case <-c.done:
		return ErrClosed
	}

	select {
	case <-ev.handled:
		return nil
	case <-c.done:
		return ErrClosed
	}
}

// post queues fn without waiting. Used from goroutines that must never block
// on a stopped session.
func (c *Controller) post(fn func()) {
	select {
	case c.events <- event{fn: fn}:
	case <-c.done:
	}
}
