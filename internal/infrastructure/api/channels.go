package api

import (
	"context"
	"net/http"

	"github.com/chatdesk/chatdesk/console/internal/domain/entity"
)

// ListChannels GET /channels
func (c *Client) ListChannels(ctx context.Context) ([]entity.Channel, error) {
	var out []entity.Channel
	if err := c.getJSON(ctx, "/channels", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetChannel GET /channels/{id}; the response carries masked credentials.
func (c *Client) GetChannel(ctx context.Context, id int64) (*entity.Channel, error) {
	var out entity.Channel
	if err := c.getJSON(ctx, idPath("/channels/%d", id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateChannel POST /channels
func (c *Client) CreateChannel(ctx context.Context, in entity.ChannelInput) (int64, error) {
	if err := in.Validate(); err != nil {
		return 0, err
	}
	var out result
	if err := c.sendJSON(ctx, http.MethodPost, "/channels", in, &out); err != nil {
		return 0, err
	}
	return out.ID, nil
}

// UpdateChannel PUT /channels/{id}
func (c *Client) UpdateChannel(ctx context.Context, id int64, in entity.ChannelInput) error {
	return c.sendJSON(ctx, http.MethodPut, idPath("/channels/%d", id), in, nil)
}

// DeleteChannel DELETE /channels/{id}
func (c *Client) DeleteChannel(ctx context.Context, id int64) error {
	return c.sendJSON(ctx, http.MethodDelete, idPath("/channels/%d", id), nil, nil)
}

// ChannelCredentials fetches the masked credential values of one channel.
// Values are fetched on demand and never cached by the client.
func (c *Client) ChannelCredentials(ctx context.Context, id int64) (map[string]string, error) {
	ch, err := c.GetChannel(ctx, id)
	if err != nil {
		return nil, err
	}
	if ch.MaskedCredentials == nil {
		return map[string]string{}, nil
	}
	return ch.MaskedCredentials, nil
}

// SetChannelCredentials POST /channels/{id}/credentials
func (c *Client) SetChannelCredentials(ctx context.Context, id int64, values map[string]string) error {
	return c.sendJSON(ctx, http.MethodPost, idPath("/channels/%d/credentials", id), values, nil)
}

// VerifyChannel POST /channels/{id}/verify
func (c *Client) VerifyChannel(ctx context.Context, id int64) (*entity.VerifyResult, error) {
	var out entity.VerifyResult
	if err := c.sendJSON(ctx, http.MethodPost, idPath("/channels/%d/verify", id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// WebhookURL GET /channels/{id}/webhook-url
func (c *Client) WebhookURL(ctx context.Context, id int64) (string, error) {
	var out struct {
		WebhookURL string `json:"webhook_url"`
	}
	if err := c.getJSON(ctx, idPath("/channels/%d/webhook-url", id), nil, &out); err != nil {
		return "", err
	}
	return out.WebhookURL, nil
}

// ChannelTypes GET /channel-types
func (c *Client) ChannelTypes(ctx context.Context) (map[string]entity.ChannelType, error) {
	out := map[string]entity.ChannelType{}
	if err := c.getJSON(ctx, "/channel-types", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ===== AI providers =====

// ListAIProviders GET /ai-providers
func (c *Client) ListAIProviders(ctx context.Context) ([]entity.AIProvider, error) {
	var out []entity.AIProvider
	if err := c.getJSON(ctx, "/ai-providers", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateAIProvider POST /ai-providers
func (c *Client) CreateAIProvider(ctx context.Context, in entity.AIProviderInput) (int64, error) {
	if err := in.ValidateCreate(); err != nil {
		return 0, err
	}
	var out result
	if err := c.sendJSON(ctx, http.MethodPost, "/ai-providers", in, &out); err != nil {
		return 0, err
	}
	return out.ID, nil
}

// UpdateAIProvider PUT /ai-providers/{id}; an empty APIKey keeps the stored key.
func (c *Client) UpdateAIProvider(ctx context.Context, id int64, in entity.AIProviderInput) error {
	if err := in.ValidateUpdate(); err != nil {
		return err
	}
	return c.sendJSON(ctx, http.MethodPut, idPath("/ai-providers/%d", id), in, nil)
}

// ActivateAIProvider makes id the default provider.
func (c *Client) ActivateAIProvider(ctx context.Context, id int64) error {
	yes := true
	return c.UpdateAIProvider(ctx, id, entity.AIProviderInput{IsDefault: &yes, IsActive: &yes})
}

// DeleteAIProvider DELETE /ai-providers/{id}
func (c *Client) DeleteAIProvider(ctx context.Context, id int64) error {
	return c.sendJSON(ctx, http.MethodDelete, idPath("/ai-providers/%d", id), nil, nil)
}

// TestAIProvider POST /ai-providers/{id}/test
func (c *Client) TestAIProvider(ctx context.Context, id int64) (*entity.VerifyResult, error) {
	var out entity.VerifyResult
	if err := c.sendJSON(ctx, http.MethodPost, idPath("/ai-providers/%d/test", id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AIProviderTypes GET /ai-provider-types
func (c *Client) AIProviderTypes(ctx context.Context) (map[string]entity.AIProviderTypeInfo, error) {
	out := map[string]entity.AIProviderTypeInfo{}
	if err := c.getJSON(ctx, "/ai-provider-types", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}
