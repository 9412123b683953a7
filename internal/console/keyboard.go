// Package console drives keyboard mode from the controller's own terminal
// and echoes the session log to it.
package console

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/term"

	"github.com/petal-ejector/petal-controller/internal/models"
	"github.com/petal-ejector/petal-controller/internal/session"
)

// ErrInterrupted is returned by Run when the operator presses Ctrl-C
var ErrInterrupted = errors.New("console interrupted")

const ctrlC = 0x03

// Dispatcher applies session events
type Dispatcher interface {
	Dispatch(ctx context.Context, ev session.Event) (session.State, error)
}

// Console reads key presses and prints session output
type Console struct {
	in      io.Reader
	session Dispatcher

	mu  sync.Mutex
	out io.Writer
}

// New creates a console. out receives the echoed session log.
func New(in io.Reader, out io.Writer, ctrl Dispatcher) *Console {
	return &Console{in: in, out: out, session: ctrl}
}

// IsTerminal reports whether f is an interactive terminal
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// Run reads keys until ctx is done, input ends or Ctrl-C is pressed.
// A terminal input is switched to raw mode for the duration.
func (c *Console) Run(ctx context.Context) error {
	if f, ok := c.in.(*os.File); ok && IsTerminal(f) {
		prev, err := term.MakeRaw(int(f.Fd()))
		if err != nil {
			return fmt.Errorf("enter raw mode: %w", err)
		}
		defer term.Restore(int(f.Fd()), prev)
		log.Info().Msg("Console keyboard attached, press Ctrl-C to quit")
	}

	keys := make(chan byte)
	readErr := make(chan error, 1)
	stop := make(chan struct{})
	defer close(stop)

	go func() {
		r := bufio.NewReader(c.in)
		for {
			b, err := r.ReadByte()
			if err != nil {
				readErr <- err
				return
			}
			select {
			case keys <- b:
			case <-stop:
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read console: %w", err)
		case b := <-keys:
			if b == ctrlC {
				return ErrInterrupted
			}
			key, ok := keyFor(b)
			if !ok {
				continue
			}
			if _, err := c.session.Dispatch(ctx, session.KeyPress{Key: key}); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("dispatch key press: %w", err)
			}
		}
	}
}

// keyFor maps an input byte to a session key; line endings are skipped
func keyFor(b byte) (string, bool) {
	switch b {
	case '\r', '\n':
		return "", false
	}
	if b < ' ' || b > '~' {
		return "", false
	}
	return string(rune(b)), true
}

// OnLog implements session.Observer
func (c *Console) OnLog(entry models.LogEntry) {
	c.println(entry.String())
}

// OnLogCleared implements session.Observer
func (c *Console) OnLogCleared() {
	c.println("-- log cleared --")
}

// OnState implements session.Observer
func (c *Console) OnState(session.State) {}

// OnNotify implements session.Observer
func (c *Console) OnNotify(n models.Notification) {
	c.println("!! " + n.Message)
}

func (c *Console) println(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprint(c.out, s+"\r\n")
}

// CRLFWriter rewrites bare newlines so output stays aligned while the
// terminal is in raw mode
type CRLFWriter struct {
	W io.Writer
}

func (w CRLFWriter) Write(p []byte) (int, error) {
	if _, err := w.W.Write(bytes.ReplaceAll(p, []byte("\n"), []byte("\r\n"))); err != nil {
		return 0, err
	}
	return len(p), nil
}
