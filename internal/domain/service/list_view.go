package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	apperrors "github.com/chatdesk/chatdesk/console/pkg/errors"
	"go.uber.org/zap"
)

// Confirmer asks the user to approve a destructive action.
type Confirmer interface {
	Confirm(prompt string) (bool, error)
}

// ConfirmFunc adapts a function to Confirmer.
type ConfirmFunc func(prompt string) (bool, error)

// Confirm calls f.
func (f ConfirmFunc) Confirm(prompt string) (bool, error) { return f(prompt) }

// ListView is the state of one CRUD screen (contacts, templates, channels, AI
// providers, team, backups). Load replaces the items in full; every mutation
// is followed by a full reload whatever its outcome, so the view never shows
// a locally patched copy.
type ListView[T any] struct {
	name   string
	load   func(ctx context.Context) ([]T, error)
	logger *zap.Logger

	mu       sync.RWMutex
	items    []T
	loadedAt time.Time
	lastErr  error
}

// NewListView creates a view named name (used in logs and prompts).
func NewListView[T any](name string, load func(ctx context.Context) ([]T, error), logger *zap.Logger) *ListView[T] {
	return &ListView[T]{
		name:   name,
		load:   load,
		logger: logger.With(zap.String("view", name)),
	}
}

// Name 视图名
func (v *ListView[T]) Name() string {
	return v.name
}

// Load fetches every item and replaces local state.
func (v *ListView[T]) Load(ctx context.Context) error {
	items, err := v.load(ctx)

	v.mu.Lock()
	defer v.mu.Unlock()
	v.lastErr = err
	if err != nil {
		return fmt.Errorf("load %s: %w", v.name, err)
	}
	v.items = items
	v.loadedAt = time.Now()
	return nil
}

// Items returns a copy of the loaded items.
func (v *ListView[T]) Items() []T {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]T, len(v.items))
	copy(out, v.items)
	return out
}

// LoadedAt is the time of the last successful load.
func (v *ListView[T]) LoadedAt() time.Time {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.loadedAt
}

// Err is the error of the last load, nil if it succeeded.
func (v *ListView[T]) Err() error {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.lastErr
}

// Mutate runs a create or update, then reloads. The mutation error wins over a
// reload error.
func (v *ListView[T]) Mutate(ctx context.Context, mutation func(ctx context.Context) error) error {
	mErr := mutation(ctx)
	if mErr != nil {
		v.logger.Debug("Mutation failed", zap.Error(mErr))
	}
	lErr := v.Load(ctx)
	if mErr != nil {
		return mErr
	}
	return lErr
}

// Delete asks for confirmation, then behaves like Mutate. A declined prompt
// returns a CANCELLED error and touches nothing.
func (v *ListView[T]) Delete(ctx context.Context, confirm Confirmer, what string, deletion func(ctx context.Context) error) error {
	ok, err := confirm.Confirm(fmt.Sprintf("Delete %s %s?", v.name, what))
	if err != nil {
		return fmt.Errorf("confirm delete: %w", err)
	}
	if !ok {
		return apperrors.NewCancelledError(fmt.Sprintf("delete %s %s cancelled", v.name, what))
	}
	return v.Mutate(ctx, deletion)
}
