package entity

// Contact 客户联系人
type Contact struct {
	ID               int64     `json:"id"`
	OrgID            int64     `json:"org_id"`
	ChannelID        int64     `json:"channel_id"`
	PlatformUserID   string    `json:"platform_user_id"`
	DisplayName      string    `json:"display_name"`
	AvatarURL        string    `json:"avatar_url,omitempty"`
	Email            string    `json:"email,omitempty"`
	Phone            string    `json:"phone,omitempty"`
	CustomerCode     string    `json:"customer_code"`
	TagsJSON         string    `json:"tags_json,omitempty"`
	Notes            string    `json:"notes"`
	CustomFieldsJSON string    `json:"custom_fields_json,omitempty"`
	FirstSeenAt      Timestamp `json:"first_seen_at"`
	LastSeenAt       Timestamp `json:"last_seen_at"`

	ChannelType string `json:"channel_type,omitempty"`
	ChannelName string `json:"channel_name,omitempty"`
}

// ContactUpdate is the PUT body for a contact; nil fields are left untouched.
type ContactUpdate struct {
	DisplayName  *string `json:"display_name,omitempty"`
	Email        *string `json:"email,omitempty"`
	Phone        *string `json:"phone,omitempty"`
	CustomerCode *string `json:"customer_code,omitempty"`
	Notes        *string `json:"notes,omitempty"`
}

// Validate 校验
func (u ContactUpdate) Validate() error {
	if u.DisplayName == nil && u.Email == nil && u.Phone == nil && u.CustomerCode == nil && u.Notes == nil {
		return ErrEmptyUpdate
	}
	return nil
}
