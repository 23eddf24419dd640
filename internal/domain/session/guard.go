// Package session resolves who is using the console and gates everything that
// needs an authenticated admin.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/chatdesk/chatdesk/console/internal/domain/entity"
	"go.uber.org/zap"
)

// State is the guard's lifecycle state.
type State string

const (
	StateIdle          State = "idle"
	StateResolving     State = "resolving"
	StateAuthenticated State = "authenticated"
	StateRedirected    State = "redirected" // terminal
	StateClosed        State = "closed"     // terminal
)

// validTransitions: key = from, value = allowed targets.
var validTransitions = map[State]map[State]bool{
	StateIdle: {
		StateResolving: true,
		StateClosed:    true,
	},
	StateResolving: {
		StateAuthenticated: true,
		StateRedirected:    true,
		StateClosed:        true,
	},
	StateAuthenticated: {
		StateRedirected: true,
		StateClosed:     true,
	},
	StateRedirected: {},
	StateClosed:     {},
}

// ErrRedirected is returned once the identity could not be resolved and the
// user has been sent to the login location.
var ErrRedirected = errors.New("session: not authenticated, redirected to login")

// ErrClosed is returned after Close.
var ErrClosed = errors.New("session: closed")

// IdentityFetcher fetches the current admin.
type IdentityFetcher interface {
	Me(ctx context.Context) (*entity.Identity, error)
}

// Redirector sends an unauthenticated user to loginURL.
type Redirector interface {
	Redirect(loginURL string, cause error)
}

// RedirectFunc adapts a function to Redirector.
type RedirectFunc func(loginURL string, cause error)

// Redirect calls f.
func (f RedirectFunc) Redirect(loginURL string, cause error) { f(loginURL, cause) }

// Guard 身份守卫
//
// The identity is fetched exactly once. Any failure is terminal: the
// redirector is called and protected work never runs.
type Guard struct {
	fetcher    IdentityFetcher
	redirector Redirector
	loginURL   string
	logger     *zap.Logger

	once     sync.Once
	mu       sync.RWMutex
	state    State
	identity *entity.Identity
	err      error

	listeners []func(from, to State)
}

// NewGuard creates a guard in StateIdle.
func NewGuard(fetcher IdentityFetcher, redirector Redirector, loginURL string, logger *zap.Logger) *Guard {
	return &Guard{
		fetcher:    fetcher,
		redirector: redirector,
		loginURL:   loginURL,
		logger:     logger.With(zap.String("component", "session-guard")),
		state:      StateIdle,
	}
}

// State returns the current state.
func (g *Guard) State() State {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.state
}

// Identity returns a copy of the resolved identity, nil until authenticated.
func (g *Guard) Identity() *entity.Identity {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.identityCopy()
}

func (g *Guard) identityCopy() *entity.Identity {
	if g.identity == nil {
		return nil
	}
	id := *g.identity
	return &id
}

// OnTransition registers a listener called after every state change.
func (g *Guard) OnTransition(fn func(from, to State)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.listeners = append(g.listeners, fn)
}

func (g *Guard) transition(to State) error {
	g.mu.Lock()
	from := g.state
	if !validTransitions[from][to] {
		g.mu.Unlock()
		return fmt.Errorf("invalid session transition: %s → %s", from, to)
	}
	g.state = to
	listeners := make([]func(from, to State), len(g.listeners))
	copy(listeners, g.listeners)
	g.mu.Unlock()

	g.logger.Debug("Session transition",
		zap.String("from", string(from)),
		zap.String("to", string(to)),
	)
	for _, fn := range listeners {
		fn(from, to)
	}
	return nil
}

// Resolve fetches the identity on the first call and returns the cached
// outcome afterwards.
func (g *Guard) Resolve(ctx context.Context) (*entity.Identity, error) {
	g.once.Do(func() {
		if err := g.transition(StateResolving); err != nil {
			g.setErr(ErrClosed)
			return
		}

		id, err := g.fetcher.Me(ctx)
		if err == nil && id == nil {
			err = errors.New("empty identity")
		}
		if err != nil {
			g.logger.Warn("Identity resolution failed, redirecting to login",
				zap.String("login_url", g.loginURL),
				zap.Error(err),
			)
			g.setErr(fmt.Errorf("%w: %v", ErrRedirected, err))
			if terr := g.transition(StateRedirected); terr == nil {
				g.redirector.Redirect(g.loginURL, err)
			}
			return
		}

		owned := *id
		g.mu.Lock()
		g.identity = &owned
		g.mu.Unlock()
		if err := g.transition(StateAuthenticated); err != nil {
			g.setErr(ErrClosed)
			return
		}
		g.logger.Info("Admin identity resolved",
			zap.Int64("admin_id", id.AdminID),
			zap.String("username", id.Username),
			zap.Int64("org_id", id.OrgID),
		)
	})

	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.err != nil {
		return nil, g.err
	}
	if g.state == StateClosed {
		return nil, ErrClosed
	}
	return g.identityCopy(), nil
}

func (g *Guard) setErr(err error) {
	g.mu.Lock()
	g.err = err
	g.mu.Unlock()
}

// Run shows loading until the identity is resolved, then runs protected with
// the identity attached to its context. protected is never called when
// resolution fails. loading may be nil.
func (g *Guard) Run(ctx context.Context, loading func(), protected func(ctx context.Context, id *entity.Identity) error) error {
	if loading != nil && g.State() == StateIdle {
		loading()
	}
	id, err := g.Resolve(ctx)
	if err != nil {
		return err
	}
	return protected(WithIdentity(ctx, id), id)
}

// Close ends the session. The identity is dropped.
func (g *Guard) Close() {
	g.mu.RLock()
	state := g.state
	g.mu.RUnlock()
	if state == StateClosed || state == StateRedirected {
		return
	}
	// Prevent a later Resolve from fetching.
	g.once.Do(func() {})
	if err := g.transition(StateClosed); err != nil {
		g.logger.Debug("Close ignored", zap.Error(err))
		return
	}
	g.mu.Lock()
	g.identity = nil
	g.mu.Unlock()
}

// Expire handles a 401 received after authentication: the identity is
// dropped and the user is redirected once. Calls in any other state are
// ignored.
func (g *Guard) Expire(cause error) {
	if g.State() != StateAuthenticated {
		return
	}
	if err := g.transition(StateRedirected); err != nil {
		return
	}
	g.mu.Lock()
	g.identity = nil
	g.err = fmt.Errorf("%w: %v", ErrRedirected, cause)
	g.mu.Unlock()

	g.logger.Warn("Session expired, redirecting to login",
		zap.String("login_url", g.loginURL),
		zap.Error(cause),
	)
	g.redirector.Redirect(g.loginURL, cause)
}

type identityKey struct{}

// WithIdentity attaches id to ctx.
func WithIdentity(ctx context.Context, id *entity.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFrom returns the identity attached by WithIdentity.
func IdentityFrom(ctx context.Context) (*entity.Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(*entity.Identity)
	return id, ok && id != nil
}
