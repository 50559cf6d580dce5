// Package view is a line oriented terminal front end for a session.
package view

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/gookit/color"
	"github.com/npezzotti/roomsync/internal/session"
	"github.com/npezzotti/roomsync/internal/types"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// Session is the part of the session controller the terminal drives.
type Session interface {
	State() session.State
	Updates() <-chan struct{}
	SelectRoom(id int) error
	CreateRoom(ctx context.Context) (int, error)
	DeleteRoom(ctx context.Context, id int) error
	RefreshRooms(ctx context.Context) error
	SetDraft(body string) error
	Send() error
}

type Terminal struct {
	sess  Session
	in    io.Reader
	out   io.Writer
	log   zerolog.Logger
	plain bool

	outLock sync.Mutex
}

type Option func(*Terminal)

func WithLogger(logger zerolog.Logger) Option {
	return func(t *Terminal) {
		t.log = logger.With().Str("component", "view").Logger()
	}
}

// WithPlain disables colored output.
func WithPlain() Option {
	return func(t *Terminal) {
		t.plain = true
	}
}

func New(sess Session, in io.Reader, out io.Writer, opts ...Option) *Terminal {
	t := &Terminal{
		sess: sess,
		in:   in,
		out:  out,
		log:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(t)
	}

	return t
}

// Run reads commands until /quit, end of input or ctx is done, redrawing
// the screen whenever the session state changes.
func (t *Terminal) Run(ctx context.Context) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(t.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	t.write(t.Render(t.sess.State()))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-scanErr:
			return err
		case <-t.sess.Updates():
			t.write(t.Render(t.sess.State()))
		case line := <-lines:
			quit, err := t.Handle(ctx, line)
			if err != nil {
				t.log.Debug().Err(err).Str("line", line).Msg("command failed")
				t.write(t.paint(color.FgRed, "error: "+err.Error()) + "\n")
			}
			if quit {
				return nil
			}
		}
	}
}

// Handle executes a single input line. It reports whether the user asked
// to quit.
func (t *Terminal) Handle(ctx context.Context, line string) (bool, error) {
	if strings.TrimSpace(line) == "" {
		return false, nil
	}

	cmd, err := ParseCommand(line)
	if err != nil {
		return false, err
	}

	switch cmd.Kind {
	case CmdQuit:
		return true, nil
	case CmdHelp:
		t.write(helpText + "\n")
		return false, nil
	case CmdNew:
		_, err := t.sess.CreateRoom(ctx)
		return false, err
	case CmdJoin:
		return false, t.sess.SelectRoom(cmd.RoomId)
	case CmdDelete:
		return false, t.sess.DeleteRoom(ctx, cmd.RoomId)
	case CmdRooms:
		return false, t.sess.RefreshRooms(ctx)
	default:
		if err := t.sess.SetDraft(cmd.Text); err != nil {
			return false, err
		}
		return false, t.sess.Send()
	}
}

// Render draws the room list followed by the active chat.
func (t *Terminal) Render(st session.State) string {
	var b strings.Builder

	b.WriteString(t.paint(color.OpBold, "chats") + "\n")
	if len(st.Rooms) == 0 {
		b.WriteString("  (none)\n")
	}
	lines := lo.Map(st.Rooms, func(r types.Room, _ int) string {
		marker := lo.Ternary(st.IsActive(r.Id), "*", " ")
		return fmt.Sprintf("%s %d  %s", marker, r.Id, r.Title)
	})
	for _, l := range lines {
		b.WriteString(l + "\n")
	}
	b.WriteString("\n")

	status := lo.Ternary(st.Connected, t.paint(color.FgGreen, "connected"), t.paint(color.FgYellow, "disconnected"))

	switch {
	case st.ActiveRoomId != nil:
		header := fmt.Sprintf("%s (id: %d)", st.ActiveRoomTitle, *st.ActiveRoomId)
		fmt.Fprintf(&b, "%s [%s]\n", t.paint(color.OpBold, header), status)
		for _, msg := range st.Messages {
			b.WriteString(t.renderMessage(msg) + "\n")
		}
	default:
		fmt.Fprintf(&b, "no chat selected, use /new or /join <id> [%s]\n", status)
	}

	if st.Phase == session.SwitchingRoom && st.TargetRoomId != nil {
		b.WriteString(t.paint(color.FgGray, fmt.Sprintf("loading chat %d...", *st.TargetRoomId)) + "\n")
	}

	return b.String()
}

func (t *Terminal) renderMessage(msg types.Message) string {
	if msg.Origin == types.OriginAssistant {
		return t.paint(color.FgCyan, "ai>") + " " + msg.Body
	}
	return t.paint(color.FgGreen, "you>") + " " + msg.Body
}

func (t *Terminal) paint(c color.Color, s string) string {
	if t.plain {
		return s
	}
	return c.Render(s)
}

func (t *Terminal) write(s string) {
	t.outLock.Lock()
	defer t.outLock.Unlock()

	if _, err := io.WriteString(t.out, s); err != nil {
		t.log.Error().Err(err).Msg("write to terminal")
	}
}
