package persistence

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/chatdesk/chatdesk/console/internal/domain/entity"
	"github.com/chatdesk/chatdesk/console/internal/domain/repository"
	"github.com/chatdesk/chatdesk/console/pkg/errors"
)

type draftKey struct {
	org, conversation int64
}

// MemoryDraftRepository 内存实现的草稿仓储（用于开发/测试）
type MemoryDraftRepository struct {
	mu     sync.RWMutex
	drafts map[draftKey]entity.Draft
}

// NewMemoryDraftRepository 创建内存草稿仓储
func NewMemoryDraftRepository() repository.DraftRepository {
	return &MemoryDraftRepository{
		drafts: make(map[draftKey]entity.Draft),
	}
}

// Save 保存草稿
func (r *MemoryDraftRepository) Save(ctx context.Context, draft *entity.Draft) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	d := *draft
	if d.UpdatedAt.IsZero() {
		d.UpdatedAt = time.Now().UTC()
	}
	r.drafts[draftKey{d.OrgID, d.ConversationID}] = d
	return nil
}

// Find 查找草稿
func (r *MemoryDraftRepository) Find(ctx context.Context, orgID, conversationID int64) (*entity.Draft, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.drafts[draftKey{orgID, conversationID}]
	if !ok {
		return nil, errors.NewNotFoundError("draft not found")
	}
	return &d, nil
}

// Delete 删除草稿
func (r *MemoryDraftRepository) Delete(ctx context.Context, orgID, conversationID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.drafts, draftKey{orgID, conversationID})
	return nil
}

// List 列出草稿
func (r *MemoryDraftRepository) List(ctx context.Context, orgID int64) ([]*entity.Draft, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*entity.Draft, 0)
	for k, d := range r.drafts {
		if k.org != orgID {
			continue
		}
		d := d
		out = append(out, &d)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}
