package persistence

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/chatdesk/chatdesk/console/internal/domain/entity"
	"github.com/chatdesk/chatdesk/console/internal/domain/repository"
	"github.com/chatdesk/chatdesk/console/internal/infrastructure/persistence/models"
	domainErrors "github.com/chatdesk/chatdesk/console/pkg/errors"
)

// GormDraftRepository GORM实现的草稿仓储
type GormDraftRepository struct {
	db *gorm.DB
}

// NewGormDraftRepository 创建GORM草稿仓储
func NewGormDraftRepository(db *gorm.DB) repository.DraftRepository {
	return &GormDraftRepository{db: db}
}

// Save 保存草稿
func (r *GormDraftRepository) Save(ctx context.Context, draft *entity.Draft) error {
	model := r.toModel(draft)
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "org_id"}, {Name: "conversation_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"content", "updated_at"}),
	}).Create(model).Error
	if err != nil {
		return domainErrors.NewInternalErrorWithCause("failed to save draft", err)
	}
	return nil
}

// Find 查找草稿
func (r *GormDraftRepository) Find(ctx context.Context, orgID, conversationID int64) (*entity.Draft, error) {
	var model models.DraftModel
	err := r.db.WithContext(ctx).
		Where("org_id = ? AND conversation_id = ?", orgID, conversationID).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainErrors.NewNotFoundError("draft not found")
		}
		return nil, domainErrors.NewInternalErrorWithCause("failed to find draft", err)
	}
	return r.toEntity(&model), nil
}

// Delete 删除草稿
func (r *GormDraftRepository) Delete(ctx context.Context, orgID, conversationID int64) error {
	err := r.db.WithContext(ctx).
		Delete(&models.DraftModel{}, "org_id = ? AND conversation_id = ?", orgID, conversationID).Error
	if err != nil {
		return domainErrors.NewInternalErrorWithCause("failed to delete draft", err)
	}
	return nil
}

// List 列出草稿
func (r *GormDraftRepository) List(ctx context.Context, orgID int64) ([]*entity.Draft, error) {
	var rows []models.DraftModel
	err := r.db.WithContext(ctx).
		Where("org_id = ?", orgID).
		Order("updated_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, domainErrors.NewInternalErrorWithCause("failed to list drafts", err)
	}

	drafts := make([]*entity.Draft, 0, len(rows))
	for i := range rows {
		drafts = append(drafts, r.toEntity(&rows[i]))
	}
	return drafts, nil
}

// 转换方法

func (r *GormDraftRepository) toModel(d *entity.Draft) *models.DraftModel {
	updated := d.UpdatedAt
	if updated.IsZero() {
		updated = time.Now().UTC()
	}
	return &models.DraftModel{
		OrgID:          d.OrgID,
		ConversationID: d.ConversationID,
		Content:        d.Content,
		UpdatedAt:      updated,
	}
}

func (r *GormDraftRepository) toEntity(m *models.DraftModel) *entity.Draft {
	return &entity.Draft{
		OrgID:          m.OrgID,
		ConversationID: m.ConversationID,
		Content:        m.Content,
		UpdatedAt:      m.UpdatedAt,
	}
}
