package entity

import "strings"

// Channel 接入渠道 (LINE / Facebook / Instagram)
type Channel struct {
	ID                int64             `json:"id"`
	OrgID             int64             `json:"org_id"`
	ChannelType       string            `json:"channel_type"`
	Name              string            `json:"name"`
	IsActive          Flag              `json:"is_active"`
	ConfigJSON        string            `json:"config_json,omitempty"`
	HasCredentials    Flag              `json:"has_credentials"`
	MaskedCredentials map[string]string `json:"masked_credentials,omitempty"`
	TypeInfo          ChannelType       `json:"channel_type_info"`
	CreatedAt         Timestamp         `json:"created_at"`
	UpdatedAt         Timestamp         `json:"updated_at"`
}

// ChannelInput is the create/update body.
type ChannelInput struct {
	ChannelType string `json:"channel_type,omitempty"`
	Name        string `json:"name,omitempty"`
	IsActive    *bool  `json:"is_active,omitempty"`
}

// Validate checks a create request.
func (in ChannelInput) Validate() error {
	if strings.TrimSpace(in.ChannelType) == "" {
		return ErrInvalidChannel
	}
	if strings.TrimSpace(in.Name) == "" {
		return ErrNameRequired
	}
	return nil
}

// CredentialField describes one credential input of a channel type.
type CredentialField struct {
	Key   string `json:"key"`
	Label string `json:"label"`
	Type  string `json:"type"` // password | text
}

// Secret reports whether the field must never be echoed back.
func (f CredentialField) Secret() bool {
	return f.Type == "password"
}

// ChannelType 渠道类型目录项
type ChannelType struct {
	Label            string            `json:"label"`
	CredentialFields []CredentialField `json:"credential_fields"`
}

// VerifyResult 渠道凭证校验结果
type VerifyResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}
