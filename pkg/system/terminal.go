package system

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Slashx124/NeonShell/pkg/define"
	"github.com/sirupsen/logrus"
	"golang.org/x/term"
)

type StdinState struct {
	State *term.State
}

// GetTerminalSize returns the local terminal geometry as (cols, rows).
func GetTerminalSize() (int, int, error) {
	cols, rows, err := term.GetSize(int(os.Stdin.Fd()))
	if err != nil {
		return 0, 0, err
	}
	return cols, rows, nil
}

// MakeStdinRaw switches stdin to raw mode so keystrokes pass through to the
// remote PTY unmodified. The returned state must be handed to ResetStdin.
func MakeStdinRaw() (*StdinState, error) {
	state, err := term.MakeRaw(int(os.Stdin.Fd()))
	if err != nil {
		return nil, fmt.Errorf("terminal make raw failed: %v", err)
	}
	return &StdinState{state}, nil
}

func ResetStdin(s *StdinState) {
	if s.State != nil {
		_ = term.Restore(int(os.Stdin.Fd()), s.State)
		s.State = nil
	}
}

// OnTerminalResize reports the current terminal size immediately, then again
// on every SIGWINCH until the context ends.
func OnTerminalResize(ctx context.Context, setTerminalSize func(cols, rows int)) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGWINCH)

	if cols, rows, err := GetTerminalSize(); err == nil {
		setTerminalSize(cols, rows)
	}

	go func() {
		defer signal.Stop(ch)
		for {
			select {
			case <-ctx.Done():
				logrus.Debugf("terminal resize watch stopped")
				return
			case <-ch:
				if cols, rows, err := GetTerminalSize(); err == nil {
					setTerminalSize(cols, rows)
				}
			}
		}
	}()
}

func IsTerminal() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// GetTerminalType returns $TERM, defaulting when unset.
func GetTerminalType() string {
	termEnv := os.Getenv(define.EnvTerm)
	if termEnv == "" {
		termEnv = define.DefaultTermType
	}
	return termEnv
}
