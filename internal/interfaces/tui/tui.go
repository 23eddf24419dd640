package tui

import (
	"context"
	"errors"
	"fmt"
	"sync"

	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"github.com/chatdesk/chatdesk/console/internal/application"
	"github.com/chatdesk/chatdesk/console/internal/domain/session"
)

// Expiry is the session redirector of the interactive console. A terminal
// cannot navigate to a login page, so the redirect is shown to the user and
// the console stops working until it is restarted.
type Expiry struct {
	mu      sync.Mutex
	send    func(tea.Msg)
	pending *sessionExpiredMsg
}

var _ session.Redirector = (*Expiry)(nil)

// NewExpiry creates a detached redirector.
func NewExpiry() *Expiry {
	return &Expiry{}
}

// Redirect records the redirect and forwards it to the program when one runs.
func (e *Expiry) Redirect(loginURL string, cause error) {
	msg := sessionExpiredMsg{loginURL: loginURL, cause: cause}
	e.mu.Lock()
	e.pending = &msg
	send := e.send
	e.mu.Unlock()
	if send != nil {
		send(msg)
	}
}

// LoginURL returns the recorded redirect target.
func (e *Expiry) LoginURL() (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pending == nil {
		return "", false
	}
	return e.pending.loginURL, true
}

func (e *Expiry) attach(send func(tea.Msg)) {
	e.mu.Lock()
	e.send = send
	pending := e.pending
	e.mu.Unlock()
	if pending != nil {
		send(*pending)
	}
}

// Run starts the app and blocks in the interactive console until the user
// quits or ctx is cancelled. The app must have been created with expiry as
// its redirector.
func Run(ctx context.Context, app *application.App, expiry *Expiry, opts ...tea.ProgramOption) error {
	logger := app.Logger().With(zap.String("component", "tui"))

	if err := app.Start(ctx); err != nil {
		if errors.Is(err, session.ErrRedirected) {
			if url, ok := expiry.LoginURL(); ok && url != "" {
				return fmt.Errorf("not signed in, sign in at %s: %w", url, err)
			}
		}
		return err
	}

	m := NewModel(ctx, app)
	defer m.Close()

	options := append([]tea.ProgramOption{
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
		tea.WithContext(ctx),
	}, opts...)
	p := tea.NewProgram(m, options...)

	// program.Send blocks until the event loop reads; background callers must not wait on it
	send := func(msg tea.Msg) { go p.Send(msg) }
	m.Bind(send)
	expiry.attach(send)

	logger.Debug("Console started")
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
