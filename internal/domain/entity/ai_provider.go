package entity

import "strings"

// AIProvider AI 回复服务配置
type AIProvider struct {
	ID           int64              `json:"id"`
	OrgID        int64              `json:"org_id"`
	ProviderType string             `json:"provider_type"`
	Name         string             `json:"name"`
	ModelName    string             `json:"model_name"`
	IsDefault    Flag               `json:"is_default"`
	SystemPrompt string             `json:"system_prompt"`
	MaxTokens    int                `json:"max_tokens"`
	Temperature  float64            `json:"temperature"`
	IsActive     Flag               `json:"is_active"`
	MaskedAPIKey string             `json:"masked_api_key,omitempty"`
	ProviderInfo AIProviderTypeInfo `json:"provider_info"`
	CreatedAt    Timestamp          `json:"created_at"`
}

// AIProviderInput is the create/update body. APIKey is write-only.
type AIProviderInput struct {
	ProviderType string   `json:"provider_type,omitempty"`
	Name         string   `json:"name,omitempty"`
	APIKey       string   `json:"api_key,omitempty"`
	ModelName    string   `json:"model_name,omitempty"`
	SystemPrompt string   `json:"system_prompt,omitempty"`
	MaxTokens    int      `json:"max_tokens,omitempty"`
	Temperature  *float64 `json:"temperature,omitempty"`
	IsDefault    *bool    `json:"is_default,omitempty"`
	IsActive     *bool    `json:"is_active,omitempty"`
}

// ValidateCreate checks a create request; an API key is mandatory on create.
func (in AIProviderInput) ValidateCreate() error {
	if strings.TrimSpace(in.ProviderType) == "" {
		return ErrInvalidProvider
	}
	if strings.TrimSpace(in.Name) == "" {
		return ErrNameRequired
	}
	if strings.TrimSpace(in.APIKey) == "" {
		return ErrAPIKeyRequired
	}
	return in.ValidateUpdate()
}

// ValidateUpdate checks fields that may appear on any write.
func (in AIProviderInput) ValidateUpdate() error {
	if in.Temperature != nil && (*in.Temperature < 0 || *in.Temperature > 2) {
		return ErrInvalidTemperature
	}
	return nil
}

// AIProviderTypeInfo AI 服务类型目录项
type AIProviderTypeInfo struct {
	Label        string   `json:"label"`
	Models       []string `json:"models"`
	DefaultModel string   `json:"default_model"`
}
