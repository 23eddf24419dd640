package models

import (
	"time"
)

// DraftModel 草稿数据库模型
type DraftModel struct {
	OrgID          int64     `gorm:"primaryKey;autoIncrement:false"`
	ConversationID int64     `gorm:"primaryKey;autoIncrement:false"`
	Content        string    `gorm:"type:text;not null"`
	UpdatedAt      time.Time `gorm:"index"`
}

// TableName 指定表名
func (DraftModel) TableName() string {
	return "drafts"
}
