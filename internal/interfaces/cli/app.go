// Package cli exposes every console view as a cobra subcommand: list, show
// and mutate conversations, contacts, templates, channels, AI providers,
// team, backups, notifications, analytics and settings.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/chatdesk/chatdesk/console/internal/application"
	"github.com/chatdesk/chatdesk/console/internal/domain/service"
)

// ─── ANSI Helpers ───

const (
	reset    = "\033[0m"
	cyanBold = "\033[96m\033[1m"
	dimText  = "\033[90m"
	clearLn  = "\033[2K\r"
)

// Braille spinner frames
var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// Env is what every subcommand runs against.
type Env struct {
	Out io.Writer
	Err io.Writer
	In  io.ReadCloser

	// Open returns a started app; the command stops it when done.
	Open func(ctx context.Context) (*application.App, error)
	// Confirm approves destructive actions, readline prompt when nil.
	Confirm service.Confirmer
	// Secret reads a value without echo, readline prompt when nil.
	Secret func(prompt string) (string, error)

	format string
	yes    bool
}

// Register adds the view subcommands and the shared flags to root.
func Register(root *cobra.Command, env *Env) {
	if env.Out == nil {
		env.Out = os.Stdout
	}
	if env.Err == nil {
		env.Err = os.Stderr
	}
	if env.In == nil {
		env.In = os.Stdin
	}
	root.PersistentFlags().StringVarP(&env.format, "output", "o", FormatTable, "输出格式 table|json|yaml")
	root.PersistentFlags().BoolVarP(&env.yes, "yes", "y", false, "跳过确认")

	root.AddCommand(
		conversationsCommand(env),
		contactsCommand(env),
		templatesCommand(env),
		channelsCommand(env),
		aiProvidersCommand(env),
		teamCommand(env),
		backupsCommand(env),
		notificationsCommand(env),
		analyticsCommand(env),
		settingsCommand(env),
		whoamiCommand(env),
	)
}

type runFunc func(ctx context.Context, app *application.App, r *Renderer, args []string) error

// run opens the app, builds the renderer and stops the app afterwards.
func (e *Env) run(fn runFunc) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		r, err := NewRenderer(e.Out, e.format, termWidth())
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		app, err := e.Open(ctx)
		if err != nil {
			return err
		}
		defer app.Stop()
		return fn(ctx, app, r, args)
	}
}

func (e *Env) confirmer() service.Confirmer {
	if e.yes {
		return service.ConfirmFunc(func(string) (bool, error) { return true, nil })
	}
	if e.Confirm != nil {
		return e.Confirm
	}
	return service.ConfirmFunc(e.readlineConfirm)
}

func (e *Env) readlineConfirm(prompt string) (bool, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          prompt + " [y/N] ",
		Stdin:           e.In,
		Stdout:          e.Out,
		InterruptPrompt: "^C",
	})
	if err != nil {
		return false, fmt.Errorf("readline init: %w", err)
	}
	defer rl.Close()

	line, err := rl.Readline()
	if err != nil {
		if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
			return false, nil
		}
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}

func (e *Env) secret(prompt string) (string, error) {
	if e.Secret != nil {
		return e.Secret(prompt)
	}
	rl, err := readline.NewEx(&readline.Config{Stdin: e.In, Stdout: e.Out})
	if err != nil {
		return "", fmt.Errorf("readline init: %w", err)
	}
	defer rl.Close()
	b, err := rl.ReadPassword(prompt)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

// ─── Braille Spinner ───

type asyncSpinner struct {
	mu      sync.Mutex
	w       io.Writer
	running bool
	msg     string
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// spin shows msg with a spinner on an interactive stderr until stop is called.
func (e *Env) spin(msg string) (stop func()) {
	f, ok := e.Err.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return func() {}
	}
	s := &asyncSpinner{w: e.Err}
	s.Update(msg)
	return s.Stop
}

func (s *asyncSpinner) Update(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.msg = msg
	if !s.running {
		s.running = true
		s.stopCh = make(chan struct{})
		s.doneCh = make(chan struct{})
		go s.run()
	}
}

func (s *asyncSpinner) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	doneCh := s.doneCh
	s.mu.Unlock()

	<-doneCh
	fmt.Fprint(s.w, clearLn)
}

func (s *asyncSpinner) run() {
	defer close(s.doneCh)

	frame := 0
	ticker := time.NewTicker(80 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.mu.Lock()
			msg := s.msg
			s.mu.Unlock()

			f := spinnerFrames[frame%len(spinnerFrames)]
			fmt.Fprintf(s.w, "%s%s%s %s%s%s", clearLn, cyanBold, f, dimText, msg, reset)
			frame++
		}
	}
}

// ─── Helpers ───

func termWidth() int {
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || w <= 0 {
		return 80
	}
	return w
}
