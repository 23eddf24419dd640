package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrEditorClosed is returned when an edit session is used after Close.
var ErrEditorClosed = errors.New("credential editor is closed")

// CredentialEditor is one edit session over write-only secrets (channel
// credentials, an AI provider's API key). Current values are fetched when the
// session opens and forgotten when it closes; nothing is cached in between
// sessions.
type CredentialEditor struct {
	fetch func(ctx context.Context) (map[string]string, error)
	save  func(ctx context.Context, values map[string]string) error

	mu      sync.Mutex
	current map[string]string
	changed map[string]string
	open    bool
}

// NewCredentialEditor creates a closed editor.
func NewCredentialEditor(fetch func(ctx context.Context) (map[string]string, error), save func(ctx context.Context, values map[string]string) error) *CredentialEditor {
	return &CredentialEditor{fetch: fetch, save: save}
}

// Open fetches the current (usually masked) values.
func (e *CredentialEditor) Open(ctx context.Context) (map[string]string, error) {
	values, err := e.fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch credentials: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.current = copyValues(values)
	e.changed = make(map[string]string)
	e.open = true
	return copyValues(values), nil
}

// Set records a new value for key.
func (e *CredentialEditor) Set(key, value string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.open {
		return ErrEditorClosed
	}
	e.changed[key] = value
	return nil
}

// Submit sends the changed fields only; untouched masked values are never
// echoed back. The session stays open so the caller can retry on error.
func (e *CredentialEditor) Submit(ctx context.Context) error {
	e.mu.Lock()
	if !e.open {
		e.mu.Unlock()
		return ErrEditorClosed
	}
	values := copyValues(e.changed)
	e.mu.Unlock()

	if len(values) == 0 {
		return nil
	}
	if err := e.save(ctx, values); err != nil {
		return fmt.Errorf("save credentials: %w", err)
	}
	return nil
}

// Close forgets every fetched and entered value.
func (e *CredentialEditor) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for k := range e.current {
		delete(e.current, k)
	}
	for k := range e.changed {
		delete(e.changed, k)
	}
	e.current, e.changed = nil, nil
	e.open = false
}

// Held reports how many values the session currently holds.
func (e *CredentialEditor) Held() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.current) + len(e.changed)
}

func copyValues(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
