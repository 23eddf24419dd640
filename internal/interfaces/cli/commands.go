package cli

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/chatdesk/chatdesk/console/internal/application"
	"github.com/chatdesk/chatdesk/console/internal/domain/entity"
	"github.com/chatdesk/chatdesk/console/internal/infrastructure/api"
	apperrors "github.com/chatdesk/chatdesk/console/pkg/errors"
)

func parseID(s, what string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimPrefix(s, "#"), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperrors.NewInvalidInputError(fmt.Sprintf("invalid %s id %q", what, s))
	}
	return id, nil
}

func when(t entity.Timestamp) string {
	if s := t.Short(time.Now()); s != "" {
		return s
	}
	return "-"
}

// saveDownload writes data under dir, or to out when dir is "-".
func saveDownload(out io.Writer, dir, name string, data []byte) (string, error) {
	if dir == "-" {
		_, err := out.Write(data)
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, filepath.Base(name))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// ─── conversations ───

func conversationsCommand(env *Env) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "conversations",
		Aliases: []string{"conv", "c"},
		Short:   "会话列表与操作",
	}

	var f entity.ConversationFilter
	list := &cobra.Command{
		Use:   "list",
		Short: "列出会话 (置顶优先)",
		Args:  cobra.NoArgs,
		RunE: env.run(func(ctx context.Context, app *application.App, r *Renderer, _ []string) error {
			if f.Status != "" && !f.Status.Valid() {
				return apperrors.NewInvalidInputError(fmt.Sprintf("unknown status %q", f.Status))
			}
			inbox := app.NewInbox()
			defer inbox.Close()
			inbox.SetFilter(f)
			if err := inbox.Load(ctx); err != nil {
				return err
			}
			items := inbox.Items()
			rows := make([][]string, 0, len(items))
			for _, c := range items {
				name := c.DisplayName()
				if c.IsPinned {
					name = "★ " + name
				}
				rows = append(rows, []string{
					strconv.FormatInt(c.ID, 10), name, c.ChannelType, string(c.Status), string(c.Priority),
					strconv.Itoa(c.UnreadCount), when(c.LastMessageAt), firstLine(c.LastMessagePreview, 40),
				})
			}
			return r.Render(items, []string{"ID", "Contact", "Channel", "Status", "Priority", "Unread", "Last", "Preview"}, rows)
		}),
	}
	list.Flags().StringVar((*string)(&f.Status), "status", "", "open|assigned|resolved")
	list.Flags().Int64Var(&f.ChannelID, "channel", 0, "渠道 ID")
	list.Flags().Int64Var(&f.AssignedAdminID, "assigned", 0, "负责管理员 ID")
	list.Flags().StringVarP(&f.Search, "search", "s", "", "搜索联系人/内容")
	list.Flags().IntVar(&f.Limit, "limit", 0, "最多条数")

	show := &cobra.Command{
		Use:   "show <id>",
		Short: "会话详情",
		Args:  cobra.ExactArgs(1),
		RunE: env.run(func(ctx context.Context, app *application.App, r *Renderer, args []string) error {
			id, err := parseID(args[0], "conversation")
			if err != nil {
				return err
			}
			c, err := app.Client().GetConversation(ctx, id)
			if err != nil {
				return err
			}
			return r.Fields(c, conversationFields(c))
		}),
	}

	var limit int
	var before int64
	messages := &cobra.Command{
		Use:   "messages <id>",
		Short: "消息历史 (按 id 升序)",
		Args:  cobra.ExactArgs(1),
		RunE: env.run(func(ctx context.Context, app *application.App, r *Renderer, args []string) error {
			id, err := parseID(args[0], "conversation")
			if err != nil {
				return err
			}
			page, err := app.Client().Messages(ctx, id, limit, before)
			if err != nil {
				return err
			}
			// the media proxy needs the conversation's channel
			var channelID int64
			if hasProviderMedia(page.Messages) {
				c, err := app.Client().GetConversation(ctx, id)
				if err != nil {
					return err
				}
				channelID = c.ChannelID
			}
			rows := make([][]string, 0, len(page.Messages))
			for i := range page.Messages {
				m := &page.Messages[i]
				content := m.Content
				if m.MessageType.IsMedia() {
					content = m.MediaURL(app.Client().MediaPrefix(), channelID)
				}
				rows = append(rows, []string{
					strconv.FormatInt(m.ID, 10), when(m.CreatedAt), sender(m), string(m.MessageType), firstLine(content, 60),
				})
			}
			return r.Render(page, []string{"ID", "Time", "From", "Type", "Content"}, rows)
		}),
	}
	messages.Flags().IntVar(&limit, "limit", 50, "每页条数")
	messages.Flags().Int64Var(&before, "before", 0, "只看此 id 之前的消息")

	send := &cobra.Command{
		Use:   "send <id> <text...>",
		Short: "以管理员身份发送消息",
		Args:  cobra.MinimumNArgs(2),
		RunE: env.run(func(ctx context.Context, app *application.App, r *Renderer, args []string) error {
			id, err := parseID(args[0], "conversation")
			if err != nil {
				return err
			}
			msg := entity.NewMessage{Content: strings.Join(args[1:], " "), MessageType: entity.MessageText}
			if err := msg.Validate(); err != nil {
				return err
			}
			res, err := app.Client().SendMessage(ctx, id, msg)
			if err != nil {
				return err
			}
			return r.Success(fmt.Sprintf("Sent message #%d", res.MessageID), res)
		}),
	}

	upload := &cobra.Command{
		Use:   "upload <id> <file>",
		Short: "发送图片或视频",
		Args:  cobra.ExactArgs(2),
		RunE: env.run(func(ctx context.Context, app *application.App, r *Renderer, args []string) error {
			id, err := parseID(args[0], "conversation")
			if err != nil {
				return err
			}
			stop := env.spin("uploading " + filepath.Base(args[1]))
			res, err := app.Client().UploadFile(ctx, id, args[1])
			stop()
			if err != nil {
				return err
			}
			msg := fmt.Sprintf("Uploaded %s as message #%d", filepath.Base(args[1]), res.MessageID)
			if res.Warning != "" {
				msg += " (" + res.Warning + ")"
			}
			return r.Success(msg, res)
		}),
	}

	cmd.AddCommand(list, show, messages, send, upload,
		conversationAction(env, "resolve", "标记为已解决", "Resolved", (*api.Client).ResolveConversation),
		conversationAction(env, "reopen", "重新打开", "Reopened", (*api.Client).ReopenConversation),
		conversationAction(env, "pin", "置顶", "Pinned", (*api.Client).Pin),
		conversationAction(env, "unpin", "取消置顶", "Unpinned", (*api.Client).Unpin),
		conversationAction(env, "read", "标记为已读", "Marked read", (*api.Client).MarkRead),
		tagCommand(env, "tag", "添加标签", (*api.Client).AddTag),
		tagCommand(env, "untag", "删除标签", (*api.Client).RemoveTag),
		priorityCommand(env),
		assignCommand(env),
		exportCommand(env),
		exportAllCommand(env),
	)
	return cmd
}

func sender(m *entity.Message) string {
	if m.SenderType == entity.SenderAI {
		return "AI Auto-Reply"
	}
	if m.SenderType == entity.SenderContact && m.SenderID != "" {
		return m.SenderID
	}
	return m.Author()
}

func conversationFields(c *entity.Conversation) [][2]string {
	assigned := "-"
	if c.AssignedAdminName != "" {
		assigned = c.AssignedAdminName
	} else if c.AssignedAdminID != nil {
		assigned = fmt.Sprintf("#%d", *c.AssignedAdminID)
	}
	tags := "-"
	if len(c.Tags) > 0 {
		tags = strings.Join(c.Tags, ", ")
	}
	return [][2]string{
		{"ID", strconv.FormatInt(c.ID, 10)},
		{"Contact", c.DisplayName()},
		{"Channel", fmt.Sprintf("%s (%s)", c.ChannelName, c.ChannelType)},
		{"Status", string(c.Status)},
		{"Priority", string(c.Priority)},
		{"Pinned", yesNo(bool(c.IsPinned))},
		{"Assigned", assigned},
		{"Tags", tags},
		{"Unread", strconv.Itoa(c.UnreadCount)},
		{"Last", when(c.LastMessageAt)},
		{"Preview", firstLine(c.LastMessagePreview, 60)},
	}
}

func conversationAction(env *Env, use, short, done string, fn func(*api.Client, context.Context, int64) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: env.run(func(ctx context.Context, app *application.App, r *Renderer, args []string) error {
			id, err := parseID(args[0], "conversation")
			if err != nil {
				return err
			}
			if err := fn(app.Client(), ctx, id); err != nil {
				return err
			}
			return r.Success(fmt.Sprintf("%s conversation #%d", done, id), nil)
		}),
	}
}

func tagCommand(env *Env, use, short string, fn func(*api.Client, context.Context, int64, string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id> <tag>",
		Short: short,
		Args:  cobra.MinimumNArgs(2),
		RunE: env.run(func(ctx context.Context, app *application.App, r *Renderer, args []string) error {
			id, err := parseID(args[0], "conversation")
			if err != nil {
				return err
			}
			if err := fn(app.Client(), ctx, id, strings.Join(args[1:], " ")); err != nil {
				return err
			}
			tags, err := app.Client().Tags(ctx, id)
			if err != nil {
				return err
			}
			return r.Success(fmt.Sprintf("Tags of #%d: %s", id, strings.Join(tags, ", ")), tags)
		}),
	}
}

func priorityCommand(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "priority <id> <normal|high|urgent>",
		Short: "设置优先级",
		Args:  cobra.ExactArgs(2),
		RunE: env.run(func(ctx context.Context, app *application.App, r *Renderer, args []string) error {
			id, err := parseID(args[0], "conversation")
			if err != nil {
				return err
			}
			p := entity.Priority(strings.ToLower(args[1]))
			if !p.Valid() {
				return entity.ErrInvalidPriority
			}
			if err := app.Client().SetPriority(ctx, id, p); err != nil {
				return err
			}
			return r.Success(fmt.Sprintf("Priority of #%d set to %s", id, p), nil)
		}),
	}
}

func assignCommand(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "assign <id> <admin-id>",
		Short: "分配给管理员",
		Args:  cobra.ExactArgs(2),
		RunE: env.run(func(ctx context.Context, app *application.App, r *Renderer, args []string) error {
			id, err := parseID(args[0], "conversation")
			if err != nil {
				return err
			}
			adminID, err := parseID(args[1], "admin")
			if err != nil {
				return err
			}
			if err := app.Client().Assign(ctx, id, adminID); err != nil {
				return err
			}
			return r.Success(fmt.Sprintf("Assigned #%d to admin #%d", id, adminID), nil)
		}),
	}
}

func exportCommand(env *Env) *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "export <id>",
		Short: "导出会话为 CSV",
		Args:  cobra.ExactArgs(1),
		RunE: env.run(func(ctx context.Context, app *application.App, r *Renderer, args []string) error {
			id, err := parseID(args[0], "conversation")
			if err != nil {
				return err
			}
			var buf bytes.Buffer
			name, err := app.Client().ExportConversation(ctx, id, &buf)
			if err != nil {
				return err
			}
			path, err := saveDownload(env.Out, dir, name, buf.Bytes())
			if err != nil || path == "" {
				return err
			}
			return r.Success("Exported to "+path, map[string]string{"path": path})
		}),
	}
	cmd.Flags().StringVar(&dir, "out", ".", "输出目录, - 表示标准输出")
	return cmd
}

func exportAllCommand(env *Env) *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "export-all",
		Short: "导出全部会话为 CSV",
		Args:  cobra.NoArgs,
		RunE: env.run(func(ctx context.Context, app *application.App, r *Renderer, _ []string) error {
			var buf bytes.Buffer
			stop := env.spin("exporting conversations")
			name, err := app.Client().ExportAll(ctx, &buf)
			stop()
			if err != nil {
				return err
			}
			path, err := saveDownload(env.Out, dir, name, buf.Bytes())
			if err != nil || path == "" {
				return err
			}
			return r.Success("Exported to "+path, map[string]string{"path": path})
		}),
	}
	cmd.Flags().StringVar(&dir, "out", ".", "输出目录, - 表示标准输出")
	return cmd
}

// hasProviderMedia reports whether any media message must go through the proxy.
func hasProviderMedia(msgs []entity.Message) bool {
	for i := range msgs {
		m := &msgs[i]
		if m.MessageType.IsMedia() && m.Metadata().MediaURL == "" && m.PlatformMessageID != "" {
			return true
		}
	}
	return false
}
