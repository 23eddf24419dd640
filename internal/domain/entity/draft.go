package entity

import (
	"strings"
	"time"
)

// Draft 未发送的输入框内容
//
// Drafts are keyed by organization and conversation so one local store can
// serve several backends without collisions.
type Draft struct {
	OrgID          int64
	ConversationID int64
	Content        string
	UpdatedAt      time.Time
}

// Empty reports whether the draft holds only whitespace.
func (d *Draft) Empty() bool {
	return strings.TrimSpace(d.Content) == ""
}
