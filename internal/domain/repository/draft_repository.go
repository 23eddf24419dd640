package repository

import (
	"context"

	"github.com/chatdesk/chatdesk/console/internal/domain/entity"
)

// DraftRepository 草稿仓储接口
type DraftRepository interface {
	// Save 保存草稿 (insert or replace)
	Save(ctx context.Context, draft *entity.Draft) error

	// Find 查找草稿, NOT_FOUND when none is stored
	Find(ctx context.Context, orgID, conversationID int64) (*entity.Draft, error)

	// Delete 删除草稿; deleting a missing draft is not an error
	Delete(ctx context.Context, orgID, conversationID int64) error

	// List 列出组织下的草稿, most recently updated first
	List(ctx context.Context, orgID int64) ([]*entity.Draft, error)
}
