package entity

// Identity 当前登录的管理员
type Identity struct {
	AdminID  int64  `json:"admin_id"`
	Username string `json:"username"`
	Role     string `json:"role"`
	OrgID    int64  `json:"org_id"`
	OrgName  string `json:"org_name"`
}

// OrgRoom is the realtime scope of the identity's organization.
func (i *Identity) OrgRoom() string {
	return "org_" + itoa(i.OrgID)
}

// TeamMember 组织内的管理员
type TeamMember struct {
	ID          int64     `json:"id"`
	Username    string    `json:"username"`
	Role        string    `json:"role"`
	DisplayName string    `json:"display_name"`
	AvatarURL   string    `json:"avatar_url,omitempty"`
	CreatedAt   Timestamp `json:"created_at"`
}

// Name prefers the display name.
func (m *TeamMember) Name() string {
	if m.DisplayName != "" {
		return m.DisplayName
	}
	return m.Username
}
