package service

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/chatdesk/chatdesk/console/internal/domain/entity"
	apperrors "github.com/chatdesk/chatdesk/console/pkg/errors"
	"go.uber.org/zap"
)

// === UploadPolicy ===

func TestUploadPolicy_Validate(t *testing.T) {
	p := NewUploadPolicy(0, nil)

	if err := p.Validate("text/plain", 100); !apperrors.IsUploadRejected(err) {
		t.Errorf("text/plain: got %v", err)
	}
	if err := p.Validate("image/png", 11*1024*1024); !apperrors.IsUploadRejected(err) {
		t.Errorf("11 MB: got %v", err)
	}
	if err := p.Validate("image/png", 5*1024*1024); err != nil {
		t.Errorf("5 MB png: got %v", err)
	}
	if err := p.Validate("video/mp4", DefaultMaxUploadBytes); err != nil {
		t.Errorf("exactly at the limit: got %v", err)
	}
	if err := p.Validate("IMAGE/JPEG; charset=binary", 10); err != nil {
		t.Errorf("parameters and case are ignored: got %v", err)
	}
	if err := p.Validate("image/png", 0); !apperrors.IsUploadRejected(err) {
		t.Errorf("empty file: got %v", err)
	}
}

func TestDetectContentType(t *testing.T) {
	if got := DetectContentType("photo.PNG", nil); got != "image/png" {
		t.Errorf("extension: got %q", got)
	}
	png := []byte("\x89PNG\r\n\x1a\n0000")
	if got := DetectContentType("noext", png); got != "image/png" {
		t.Errorf("sniffed: got %q", got)
	}
	if got := DetectContentType("notes", []byte("hello")); got != "text/plain" {
		t.Errorf("text: got %q", got)
	}
}

// === ListView ===

func TestListView_MutationAlwaysReloads(t *testing.T) {
	var loads atomic.Int32
	server := []string{"a"}
	v := NewListView("templates", func(ctx context.Context) ([]string, error) {
		loads.Add(1)
		return append([]string(nil), server...), nil
	}, zap.NewNop())

	if err := v.Load(context.Background()); err != nil {
		t.Fatal(err)
	}

	err := v.Mutate(context.Background(), func(ctx context.Context) error {
		server = append(server, "b")
		return nil
	})
	if err != nil {
		t.Fatalf("Mutate: %v", err)
	}
	if got := v.Items(); len(got) != 2 || got[1] != "b" {
		t.Errorf("items after reload: %v", got)
	}

	failure := errors.New("boom")
	if err := v.Mutate(context.Background(), func(ctx context.Context) error { return failure }); !errors.Is(err, failure) {
		t.Errorf("mutation error should surface: %v", err)
	}
	if loads.Load() != 3 {
		t.Errorf("each mutation reloads, got %d loads", loads.Load())
	}
	if v.LoadedAt().IsZero() || v.Err() != nil {
		t.Error("load bookkeeping")
	}
}

func TestListView_DeleteRequiresConfirmation(t *testing.T) {
	v := NewListView("contacts", func(ctx context.Context) ([]int, error) { return []int{1}, nil }, zap.NewNop())

	var deleted bool
	var prompt string
	err := v.Delete(context.Background(), ConfirmFunc(func(p string) (bool, error) {
		prompt = p
		return false, nil
	}), "#1", func(ctx context.Context) error {
		deleted = true
		return nil
	})
	if !apperrors.IsCancelled(err) {
		t.Errorf("declined delete: got %v", err)
	}
	if deleted {
		t.Error("declined delete must not run")
	}
	if prompt != "Delete contacts #1?" {
		t.Errorf("prompt: %q", prompt)
	}

	err = v.Delete(context.Background(), ConfirmFunc(func(string) (bool, error) { return true, nil }), "#1", func(ctx context.Context) error {
		deleted = true
		return nil
	})
	if err != nil || !deleted {
		t.Errorf("confirmed delete: %v %v", err, deleted)
	}
	if len(v.Items()) != 1 {
		t.Error("delete should reload")
	}
}

func TestListView_LoadErrorKeepsItems(t *testing.T) {
	fail := false
	v := NewListView("team", func(ctx context.Context) ([]string, error) {
		if fail {
			return nil, errors.New("offline")
		}
		return []string{"x"}, nil
	}, zap.NewNop())
	_ = v.Load(context.Background())
	fail = true
	if err := v.Load(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if len(v.Items()) != 1 || v.Err() == nil {
		t.Error("failed load keeps the last items and records the error")
	}
}

// === CredentialEditor ===

func TestCredentialEditor_WriteOnlyAndWiped(t *testing.T) {
	var fetches int
	var saved map[string]string
	ed := NewCredentialEditor(func(ctx context.Context) (map[string]string, error) {
		fetches++
		return map[string]string{"channel_secret": "****cdef", "channel_access_token": "****9876"}, nil
	}, func(ctx context.Context, values map[string]string) error {
		saved = values
		return nil
	})

	if err := ed.Set("channel_secret", "x"); !errors.Is(err, ErrEditorClosed) {
		t.Errorf("set before open: %v", err)
	}

	current, err := ed.Open(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if current["channel_secret"] != "****cdef" || fetches != 1 {
		t.Errorf("open: %v %d", current, fetches)
	}
	_ = ed.Set("channel_secret", "new-secret")
	if err := ed.Submit(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(saved) != 1 || saved["channel_secret"] != "new-secret" {
		t.Errorf("only changed fields are sent: %v", saved)
	}

	ed.Close()
	if ed.Held() != 0 {
		t.Error("close must forget values")
	}
	if err := ed.Submit(context.Background()); !errors.Is(err, ErrEditorClosed) {
		t.Errorf("submit after close: %v", err)
	}

	if _, err := ed.Open(context.Background()); err != nil || fetches != 2 {
		t.Errorf("each session fetches again: %d", fetches)
	}
}

// === Badge ===

type stubNotifications struct {
	unread []entity.Notification
	err    error
}

func (s *stubNotifications) Notifications(ctx context.Context, unreadOnly bool) ([]entity.Notification, error) {
	return s.unread, s.err
}

func (s *stubNotifications) MarkNotificationRead(ctx context.Context, id int64) error {
	var kept []entity.Notification
	for _, n := range s.unread {
		if n.ID != id {
			kept = append(kept, n)
		}
	}
	s.unread = kept
	return nil
}

func (s *stubNotifications) MarkAllNotificationsRead(ctx context.Context) error {
	s.unread = nil
	return nil
}

func TestBadge_RefreshAndMarkRead(t *testing.T) {
	src := &stubNotifications{unread: []entity.Notification{{ID: 1, Title: "a"}, {ID: 2, Title: "b"}}}
	b := NewBadge(src, zap.NewNop())

	var counts []int
	b.OnChange(func(c int) { counts = append(counts, c) })

	if err := b.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	_ = b.Refresh(context.Background()) // unchanged, no notification
	if b.Count() != 2 {
		t.Errorf("count: %d", b.Count())
	}

	if err := b.MarkRead(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	if b.Count() != 1 || b.Unread()[0].ID != 2 {
		t.Errorf("after mark read: %+v", b.Unread())
	}

	src.err = errors.New("offline")
	if err := b.Refresh(context.Background()); err == nil {
		t.Error("refresh error should be returned")
	}
	if b.Count() != 1 {
		t.Error("failed refresh keeps the previous list")
	}
	src.err = nil

	if err := b.MarkAllRead(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(counts) != 3 || counts[0] != 2 || counts[1] != 1 || counts[2] != 0 {
		t.Errorf("change notifications: %v", counts)
	}
}

func TestBadge_SameCountDifferentSet(t *testing.T) {
	src := &stubNotifications{unread: []entity.Notification{{ID: 1, Title: "a"}, {ID: 2, Title: "b"}}}
	b := NewBadge(src, zap.NewNop())

	var counts []int
	b.OnChange(func(c int) { counts = append(counts, c) })
	if err := b.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}

	// One read elsewhere, one new arrival: count stays 2 but the list changed.
	src.unread = []entity.Notification{{ID: 2, Title: "b"}, {ID: 3, Title: "c"}}
	if err := b.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(counts) != 2 || counts[1] != 2 {
		t.Errorf("change notifications: %v", counts)
	}
	if u := b.Unread(); len(u) != 2 || u[1].ID != 3 {
		t.Errorf("unread: %+v", u)
	}

	// Same ids in another order is not a change.
	src.unread = []entity.Notification{{ID: 3, Title: "c"}, {ID: 2, Title: "b"}}
	_ = b.Refresh(context.Background())
	if len(counts) != 2 {
		t.Errorf("reorder should not notify: %v", counts)
	}
}
