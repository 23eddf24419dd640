package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/chatdesk/chatdesk/console/internal/domain/entity"
	apperrors "github.com/chatdesk/chatdesk/console/pkg/errors"
	"go.uber.org/zap"
)

type stubFetcher struct {
	calls atomic.Int32
	id    *entity.Identity
	err   error
}

func (f *stubFetcher) Me(ctx context.Context) (*entity.Identity, error) {
	f.calls.Add(1)
	return f.id, f.err
}

type recordingRedirector struct {
	mu    sync.Mutex
	urls  []string
	cause error
}

func (r *recordingRedirector) Redirect(loginURL string, cause error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.urls = append(r.urls, loginURL)
	r.cause = cause
}

func TestGuard_UnauthorizedRedirectsAndNeverRendersChildren(t *testing.T) {
	fetcher := &stubFetcher{err: apperrors.NewUnauthorizedError("unauthorized")}
	redirector := &recordingRedirector{}
	g := NewGuard(fetcher, redirector, "https://admin.example/login", zap.NewNop())

	var loading, rendered int
	err := g.Run(context.Background(), func() { loading++ }, func(ctx context.Context, id *entity.Identity) error {
		rendered++
		return nil
	})

	if !errors.Is(err, ErrRedirected) {
		t.Fatalf("expected ErrRedirected, got %v", err)
	}
	if rendered != 0 {
		t.Error("protected content must not render")
	}
	if loading != 1 {
		t.Errorf("loading placeholder should show once, got %d", loading)
	}
	if len(redirector.urls) != 1 || redirector.urls[0] != "https://admin.example/login" {
		t.Errorf("redirect: %v", redirector.urls)
	}
	if !apperrors.IsUnauthorized(redirector.cause) {
		t.Errorf("cause should be the 401: %v", redirector.cause)
	}
	if g.State() != StateRedirected {
		t.Errorf("state: %s", g.State())
	}

	// Terminal: no retry.
	if _, err := g.Resolve(context.Background()); !errors.Is(err, ErrRedirected) {
		t.Errorf("second resolve: %v", err)
	}
	if fetcher.calls.Load() != 1 || len(redirector.urls) != 1 {
		t.Errorf("fetch and redirect happen once: %d %d", fetcher.calls.Load(), len(redirector.urls))
	}
}

func TestGuard_AuthenticatedProvidesIdentityThroughContext(t *testing.T) {
	want := &entity.Identity{AdminID: 3, Username: "mai", Role: "admin", OrgID: 9, OrgName: "Acme"}
	fetcher := &stubFetcher{id: want}
	g := NewGuard(fetcher, RedirectFunc(func(string, error) { t.Error("must not redirect") }), "", zap.NewNop())

	var seen []State
	g.OnTransition(func(from, to State) { seen = append(seen, to) })

	err := g.Run(context.Background(), nil, func(ctx context.Context, id *entity.Identity) error {
		got, ok := IdentityFrom(ctx)
		if !ok || got.OrgID != 9 {
			t.Errorf("identity from context: %+v %v", got, ok)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	for i := 0; i < 3; i++ {
		if _, err := g.Resolve(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	if fetcher.calls.Load() != 1 {
		t.Errorf("identity must be fetched exactly once, got %d", fetcher.calls.Load())
	}
	if len(seen) != 2 || seen[0] != StateResolving || seen[1] != StateAuthenticated {
		t.Errorf("transitions: %v", seen)
	}
	if g.Identity().Username != "mai" {
		t.Errorf("identity: %+v", g.Identity())
	}
}

func TestGuard_IdentityIsACopy(t *testing.T) {
	served := &entity.Identity{AdminID: 4, Username: "niran", OrgID: 2}
	g := NewGuard(&stubFetcher{id: served}, &recordingRedirector{}, "", zap.NewNop())
	resolved, err := g.Resolve(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	resolved.OrgID = 99
	served.Username = "changed"
	got := g.Identity()
	got.AdminID = 100

	again := g.Identity()
	if again.OrgID != 2 || again.Username != "niran" || again.AdminID != 4 {
		t.Errorf("guard identity mutated from outside: %+v", again)
	}
	if again == got {
		t.Error("each call should return its own copy")
	}
}

func TestGuard_CloseDropsIdentity(t *testing.T) {
	g := NewGuard(&stubFetcher{id: &entity.Identity{AdminID: 1, OrgID: 1}}, &recordingRedirector{}, "", zap.NewNop())
	if _, err := g.Resolve(context.Background()); err != nil {
		t.Fatal(err)
	}
	g.Close()
	g.Close()
	if g.Identity() != nil || g.State() != StateClosed {
		t.Errorf("after close: %v %s", g.Identity(), g.State())
	}
	if _, err := g.Resolve(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("resolve after close: %v", err)
	}
}

func TestGuard_CloseBeforeResolveSkipsFetch(t *testing.T) {
	fetcher := &stubFetcher{id: &entity.Identity{AdminID: 1}}
	g := NewGuard(fetcher, &recordingRedirector{}, "", zap.NewNop())
	g.Close()
	if _, err := g.Resolve(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("got %v", err)
	}
	if fetcher.calls.Load() != 0 {
		t.Error("closed guard must not fetch")
	}
}

func TestIdentityFrom_Missing(t *testing.T) {
	if _, ok := IdentityFrom(context.Background()); ok {
		t.Error("empty context has no identity")
	}
}

func TestGuard_ExpireAfterAuthentication(t *testing.T) {
	fetcher := &stubFetcher{id: &entity.Identity{AdminID: 1, OrgID: 2}}
	redirector := &recordingRedirector{}
	g := NewGuard(fetcher, redirector, "https://login", zap.NewNop())

	g.Expire(errors.New("too early")) // idle: ignored
	if _, err := g.Resolve(context.Background()); err != nil {
		t.Fatal(err)
	}

	g.Expire(apperrors.NewUnauthorizedError("unauthorized"))
	g.Expire(apperrors.NewUnauthorizedError("unauthorized"))

	if g.State() != StateRedirected || g.Identity() != nil {
		t.Errorf("state %s identity %+v", g.State(), g.Identity())
	}
	if len(redirector.urls) != 1 {
		t.Errorf("redirect should happen once, got %d", len(redirector.urls))
	}
	if _, err := g.Resolve(context.Background()); !errors.Is(err, ErrRedirected) {
		t.Errorf("resolve after expiry: %v", err)
	}
}
