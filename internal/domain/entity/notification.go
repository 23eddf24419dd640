package entity

// Notification 管理员通知
type Notification struct {
	ID               int64     `json:"id"`
	OrgID            int64     `json:"org_id"`
	AdminID          int64     `json:"admin_id"`
	NotificationType string    `json:"notification_type"`
	Title            string    `json:"title"`
	Body             string    `json:"body"`
	ReferenceType    string    `json:"reference_type,omitempty"`
	ReferenceID      *int64    `json:"reference_id"`
	IsRead           Flag      `json:"is_read"`
	CreatedAt        Timestamp `json:"created_at"`
}

// Backup 数据库备份文件
type Backup struct {
	Filename  string    `json:"filename"`
	SizeMB    float64   `json:"size_mb"`
	CreatedAt Timestamp `json:"created_at"`
}

// ValidBackupName accepts only names of the form backup_YYYYmmdd_HHMMSS.db.
func ValidBackupName(name string) bool {
	const prefix, suffix = "backup_", ".db"
	if len(name) != len(prefix)+15+len(suffix) {
		return false
	}
	if name[:len(prefix)] != prefix || name[len(name)-len(suffix):] != suffix {
		return false
	}
	stamp := name[len(prefix) : len(name)-len(suffix)]
	for i, r := range stamp {
		if i == 8 {
			if r != '_' {
				return false
			}
			continue
		}
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Settings 组织级设置
type Settings struct {
	AIAutoReplyEnabled bool   `json:"ai_auto_reply_enabled"`
	PublicBaseURL      string `json:"public_base_url"`
}
