// Package telegram relays console notifications to a Telegram chat.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/chatdesk/chatdesk/console/internal/domain/entity"
)

// Config 转发配置
type Config struct {
	BotToken string
	ChatID   int64
	// APIEndpoint overrides the Bot API URL pattern, tgbotapi.APIEndpoint when empty.
	APIEndpoint string
	Timeout     time.Duration
	// ConversationURL builds a link for a conversation id, optional.
	ConversationURL func(id int64) string
}

// Relay Telegram 通知转发器
type Relay struct {
	bot    *tgbotapi.BotAPI
	config Config
	logger *zap.Logger
}

// NewRelay authorizes the bot (getMe) and returns a relay bound to one chat.
func NewRelay(config Config, logger *zap.Logger) (*Relay, error) {
	if config.BotToken == "" {
		return nil, errors.New("telegram bot token is empty")
	}
	if config.ChatID == 0 {
		return nil, errors.New("telegram chat id is empty")
	}
	if config.APIEndpoint == "" {
		config.APIEndpoint = tgbotapi.APIEndpoint
	}
	if config.Timeout <= 0 {
		config.Timeout = 15 * time.Second
	}

	bot, err := tgbotapi.NewBotAPIWithClient(config.BotToken, config.APIEndpoint, &http.Client{Timeout: config.Timeout})
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	logger.Info("Telegram relay authorized",
		zap.String("username", bot.Self.UserName),
		zap.Int64("chat_id", config.ChatID),
	)
	return &Relay{bot: bot, config: config, logger: logger}, nil
}

// Relay sends n as one or more HTML messages. A body Telegram refuses to
// parse is resent as plain text.
func (r *Relay) Relay(ctx context.Context, n entity.NotificationPayload) error {
	for _, part := range Chunk(r.format(n), MessageLimit-256) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.send(part); err != nil {
			return err
		}
	}
	return nil
}

// format lays a notification out as markdown; the title goes first in bold.
func (r *Relay) format(n entity.NotificationPayload) string {
	var sb strings.Builder
	title := n.Title
	if title == "" {
		title = n.Type
	}
	sb.WriteString("**" + escapeMarkdown(title) + "**")
	if body := strings.TrimSpace(n.Body); body != "" {
		sb.WriteString("\n\n" + body)
	}
	if n.ConversationID != 0 {
		sb.WriteString("\n\n")
		label := fmt.Sprintf("conversation #%d", n.ConversationID)
		if r.config.ConversationURL != nil {
			sb.WriteString(fmt.Sprintf("[%s](%s)", label, r.config.ConversationURL(n.ConversationID)))
		} else {
			sb.WriteString("_" + label + "_")
		}
	}
	return sb.String()
}

func (r *Relay) send(md string) error {
	msg := tgbotapi.NewMessage(r.config.ChatID, ToHTML(md))
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true

	_, err := r.bot.Send(msg)
	if err == nil {
		return nil
	}
	var apiErr *tgbotapi.Error
	if !errors.As(err, &apiErr) || !strings.Contains(apiErr.Message, "can't parse entities") {
		return fmt.Errorf("telegram send: %w", err)
	}

	r.logger.Debug("HTML rejected, resending as plain text", zap.String("reason", apiErr.Message))
	plain := tgbotapi.NewMessage(r.config.ChatID, PlainText(md))
	plain.DisableWebPagePreview = true
	if _, err := r.bot.Send(plain); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}

// escapeMarkdown keeps a title literal when it goes through the markdown parser.
func escapeMarkdown(s string) string {
	var sb strings.Builder
	for _, c := range s {
		if strings.ContainsRune("\\`*_[]<>#", c) {
			sb.WriteRune('\\')
		}
		sb.WriteRune(c)
	}
	return sb.String()
}
