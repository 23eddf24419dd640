package persistence

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/chatdesk/chatdesk/console/internal/domain/entity"
	"github.com/chatdesk/chatdesk/console/internal/domain/repository"
	"github.com/chatdesk/chatdesk/console/internal/infrastructure/config"
	"github.com/chatdesk/chatdesk/console/pkg/errors"
)

func repositories(t *testing.T) map[string]repository.DraftRepository {
	t.Helper()
	cfg := &config.DatabaseConfig{Type: "sqlite", DSN: filepath.Join(t.TempDir(), "sub", "drafts.db")}
	gormRepo, closeFn, err := NewDraftRepository(cfg)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = closeFn() })

	return map[string]repository.DraftRepository{
		"sqlite": gormRepo,
		"memory": NewMemoryDraftRepository(),
	}
}

func TestDraftRepository_SaveFindReplace(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			if _, err := repo.Find(ctx, 1, 42); !errors.IsNotFound(err) {
				t.Fatalf("missing draft: got %v", err)
			}

			if err := repo.Save(ctx, &entity.Draft{OrgID: 1, ConversationID: 42, Content: "hel"}); err != nil {
				t.Fatal(err)
			}
			if err := repo.Save(ctx, &entity.Draft{OrgID: 1, ConversationID: 42, Content: "hello"}); err != nil {
				t.Fatal(err)
			}

			got, err := repo.Find(ctx, 1, 42)
			if err != nil {
				t.Fatal(err)
			}
			if got.Content != "hello" || got.UpdatedAt.IsZero() {
				t.Errorf("draft: %+v", got)
			}

			// same conversation id in another org is separate
			if _, err := repo.Find(ctx, 2, 42); !errors.IsNotFound(err) {
				t.Errorf("other org: got %v", err)
			}
		})
	}
}

func TestDraftRepository_ListAndDelete(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

			_ = repo.Save(ctx, &entity.Draft{OrgID: 1, ConversationID: 1, Content: "old", UpdatedAt: base})
			_ = repo.Save(ctx, &entity.Draft{OrgID: 1, ConversationID: 2, Content: "new", UpdatedAt: base.Add(time.Minute)})
			_ = repo.Save(ctx, &entity.Draft{OrgID: 9, ConversationID: 3, Content: "elsewhere", UpdatedAt: base})

			list, err := repo.List(ctx, 1)
			if err != nil {
				t.Fatal(err)
			}
			if len(list) != 2 || list[0].ConversationID != 2 {
				t.Fatalf("list: %+v", list)
			}

			if err := repo.Delete(ctx, 1, 2); err != nil {
				t.Fatal(err)
			}
			if err := repo.Delete(ctx, 1, 2); err != nil {
				t.Errorf("deleting twice: %v", err)
			}
			list, _ = repo.List(ctx, 1)
			if len(list) != 1 || list[0].Content != "old" {
				t.Errorf("after delete: %+v", list)
			}
		})
	}
}

func TestNewDBConnection_UnsupportedType(t *testing.T) {
	if _, err := NewDBConnection(&config.DatabaseConfig{Type: "mysql"}); err == nil {
		t.Error("expected error for unsupported type")
	}
}
