package application

import (
	"context"
	"fmt"

	"github.com/chatdesk/chatdesk/console/internal/domain/entity"
	"github.com/chatdesk/chatdesk/console/internal/domain/service"
	apperrors "github.com/chatdesk/chatdesk/console/pkg/errors"
)

// Views holds one list view per CRUD screen.
type Views struct {
	Contacts      *service.ListView[entity.Contact]
	Templates     *service.ListView[entity.Template]
	Channels      *service.ListView[entity.Channel]
	AIProviders   *service.ListView[entity.AIProvider]
	Team          *service.ListView[entity.TeamMember]
	Backups       *service.ListView[entity.Backup]
	Notifications *service.ListView[entity.Notification]
}

// ViewQuery narrows the list loads.
type ViewQuery struct {
	ContactSearch    string
	ContactLimit     int
	TemplateCategory string
	UnreadOnly       bool
}

// NewViews builds the CRUD list views over the REST client.
func (app *App) NewViews(q ViewQuery) *Views {
	c := app.client
	log := app.logger
	return &Views{
		Contacts: service.NewListView("contacts", func(ctx context.Context) ([]entity.Contact, error) {
			return c.ListContacts(ctx, q.ContactSearch, q.ContactLimit, 0)
		}, log),
		Templates: service.NewListView("templates", func(ctx context.Context) ([]entity.Template, error) {
			return c.ListTemplates(ctx, q.TemplateCategory)
		}, log),
		Channels:    service.NewListView("channels", c.ListChannels, log),
		AIProviders: service.NewListView("ai-providers", c.ListAIProviders, log),
		Team:        service.NewListView("team", c.ListTeam, log),
		Backups:     service.NewListView("backups", c.ListBackups, log),
		Notifications: service.NewListView("notifications", func(ctx context.Context) ([]entity.Notification, error) {
			return c.Notifications(ctx, q.UnreadOnly)
		}, log),
	}
}

// ChannelCredentialEditor opens an edit session over one channel's
// credentials. Masked values come from the channel record each time.
func (app *App) ChannelCredentialEditor(channelID int64) *service.CredentialEditor {
	c := app.client
	return service.NewCredentialEditor(func(ctx context.Context) (map[string]string, error) {
		return c.ChannelCredentials(ctx, channelID)
	}, func(ctx context.Context, values map[string]string) error {
		return c.SetChannelCredentials(ctx, channelID, values)
	})
}

// AIKeyEditor opens an edit session over one AI provider's API key.
func (app *App) AIKeyEditor(providerID int64) *service.CredentialEditor {
	c := app.client
	return service.NewCredentialEditor(func(ctx context.Context) (map[string]string, error) {
		providers, err := c.ListAIProviders(ctx)
		if err != nil {
			return nil, err
		}
		for _, p := range providers {
			if p.ID == providerID {
				return map[string]string{"api_key": p.MaskedAPIKey}, nil
			}
		}
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("ai provider %d not found", providerID))
	}, func(ctx context.Context, values map[string]string) error {
		key, ok := values["api_key"]
		if !ok || key == "" {
			return entity.ErrAPIKeyRequired
		}
		return c.UpdateAIProvider(ctx, providerID, entity.AIProviderInput{APIKey: key})
	})
}
