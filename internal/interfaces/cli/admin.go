package cli

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/chatdesk/chatdesk/console/internal/application"
	"github.com/chatdesk/chatdesk/console/internal/domain/entity"
	apperrors "github.com/chatdesk/chatdesk/console/pkg/errors"
)

// ─── backups ───

func backupsCommand(env *Env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backups",
		Short: "数据库备份",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "列出备份",
		Args:  cobra.NoArgs,
		RunE: env.run(func(ctx context.Context, app *application.App, r *Renderer, _ []string) error {
			v := app.NewViews(application.ViewQuery{}).Backups
			if err := v.Load(ctx); err != nil {
				return err
			}
			return renderBackups(r, v.Items())
		}),
	}

	create := &cobra.Command{
		Use:   "create",
		Short: "立即备份",
		Args:  cobra.NoArgs,
		RunE: env.run(func(ctx context.Context, app *application.App, r *Renderer, _ []string) error {
			v := app.NewViews(application.ViewQuery{}).Backups
			var b *entity.Backup
			stop := env.spin("creating backup")
			err := v.Mutate(ctx, func(ctx context.Context) (err error) {
				b, err = app.Client().CreateBackup(ctx)
				return err
			})
			stop()
			if err != nil {
				return err
			}
			return r.Success(fmt.Sprintf("Created %s (%.2f MB)", b.Filename, b.SizeMB), b)
		}),
	}

	restore := &cobra.Command{
		Use:   "restore <filename>",
		Short: "从备份恢复 (覆盖当前数据)",
		Args:  cobra.ExactArgs(1),
		RunE: env.run(func(ctx context.Context, app *application.App, r *Renderer, args []string) error {
			name := args[0]
			if !entity.ValidBackupName(name) {
				return apperrors.NewInvalidInputError(fmt.Sprintf("%v: %q", entity.ErrInvalidBackupName, name))
			}
			ok, err := env.confirmer().Confirm(fmt.Sprintf("Restore %s? Current data will be replaced.", name))
			if err != nil {
				return err
			}
			if !ok {
				return apperrors.NewCancelledError("restore " + name + " cancelled")
			}
			stop := env.spin("restoring " + name)
			err = app.Client().RestoreBackup(ctx, name)
			stop()
			if err != nil {
				return err
			}
			return r.Success("Restored "+name, nil)
		}),
	}

	var dir string
	download := &cobra.Command{
		Use:   "download <filename>",
		Short: "下载备份文件",
		Args:  cobra.ExactArgs(1),
		RunE: env.run(func(ctx context.Context, app *application.App, r *Renderer, args []string) error {
			name := args[0]
			var buf bytes.Buffer
			stop := env.spin("downloading " + name)
			err := app.Client().DownloadBackup(ctx, name, &buf)
			stop()
			if err != nil {
				return err
			}
			path, err := saveDownload(env.Out, dir, name, buf.Bytes())
			if err != nil || path == "" {
				return err
			}
			return r.Success("Saved to "+path, map[string]string{"path": path})
		}),
	}
	download.Flags().StringVar(&dir, "out", ".", "输出目录, - 表示标准输出")

	cmd.AddCommand(list, create, restore, download)
	return cmd
}

func renderBackups(r *Renderer, items []entity.Backup) error {
	rows := make([][]string, 0, len(items))
	for _, b := range items {
		rows = append(rows, []string{b.Filename, fmt.Sprintf("%.2f MB", b.SizeMB), when(b.CreatedAt)})
	}
	return r.Render(items, []string{"File", "Size", "Created"}, rows)
}

// ─── notifications ───

func notificationsCommand(env *Env) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "notifications",
		Aliases: []string{"notif"},
		Short:   "通知",
	}

	var unread, full bool
	list := &cobra.Command{
		Use:   "list",
		Short: "列出通知",
		Args:  cobra.NoArgs,
		RunE: env.run(func(ctx context.Context, app *application.App, r *Renderer, _ []string) error {
			v := app.NewViews(application.ViewQuery{UnreadOnly: unread}).Notifications
			if err := v.Load(ctx); err != nil {
				return err
			}
			items := v.Items()
			if full && !r.Structured() {
				for _, n := range items {
					mark := " "
					if !n.IsRead {
						mark = "●"
					}
					r.Println(fmt.Sprintf("%s #%d %s  %s", mark, n.ID, n.Title, when(n.CreatedAt)))
					if n.Body != "" {
						r.Println(r.Markdown(n.Body))
					}
					r.Println("")
				}
				if len(items) == 0 {
					r.Println("(none)")
				}
				return nil
			}
			return renderNotifications(r, items)
		}),
	}
	list.Flags().BoolVar(&unread, "unread", false, "只看未读")
	list.Flags().BoolVar(&full, "full", false, "显示正文")

	read := &cobra.Command{
		Use:   "read <id>",
		Short: "标记为已读",
		Args:  cobra.ExactArgs(1),
		RunE: env.run(func(ctx context.Context, app *application.App, r *Renderer, args []string) error {
			id, err := parseID(args[0], "notification")
			if err != nil {
				return err
			}
			if err := app.Badge().MarkRead(ctx, id); err != nil {
				return err
			}
			return r.Success(fmt.Sprintf("Marked #%d read, %d unread left", id, app.Badge().Count()),
				map[string]int{"unread": app.Badge().Count()})
		}),
	}

	readAll := &cobra.Command{
		Use:   "read-all",
		Short: "全部标记为已读",
		Args:  cobra.NoArgs,
		RunE: env.run(func(ctx context.Context, app *application.App, r *Renderer, _ []string) error {
			if err := app.Badge().MarkAllRead(ctx); err != nil {
				return err
			}
			return r.Success("All notifications read", map[string]int{"unread": app.Badge().Count()})
		}),
	}

	cmd.AddCommand(list, read, readAll)
	return cmd
}

func renderNotifications(r *Renderer, items []entity.Notification) error {
	rows := make([][]string, 0, len(items))
	for _, n := range items {
		mark := ""
		if !n.IsRead {
			mark = "●"
		}
		rows = append(rows, []string{
			strconv.FormatInt(n.ID, 10), mark, n.NotificationType, n.Title, firstLine(n.Body, 40), when(n.CreatedAt),
		})
	}
	return r.Render(items, []string{"ID", "", "Type", "Title", "Body", "Created"}, rows)
}

// ─── analytics ───

func analyticsCommand(env *Env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analytics",
		Short: "数据统计",
	}

	overview := &cobra.Command{
		Use:   "overview",
		Short: "概览",
		Args:  cobra.NoArgs,
		RunE: env.run(func(ctx context.Context, app *application.App, r *Renderer, _ []string) error {
			o, err := app.Client().AnalyticsOverview(ctx)
			if err != nil {
				return err
			}
			return r.Fields(o, [][2]string{
				{"Conversations", strconv.Itoa(o.TotalConversations)},
				{"Open", strconv.Itoa(o.OpenConversations)},
				{"Messages", strconv.Itoa(o.TotalMessages)},
				{"Unread", strconv.Itoa(o.UnreadMessages)},
				{"Contacts", strconv.Itoa(o.TotalContacts)},
				{"Channels", strconv.Itoa(o.Channels)},
			})
		}),
	}

	behavior := &cobra.Command{
		Use:   "behavior",
		Short: "客户行为分析",
		Args:  cobra.NoArgs,
		RunE: env.run(func(ctx context.Context, app *application.App, r *Renderer, _ []string) error {
			b, err := app.Client().CustomerBehavior(ctx)
			if err != nil {
				return err
			}
			if r.Structured() {
				return r.Render(b, nil, nil)
			}
			r.Println(r.Markdown(behaviorMarkdown(b)))
			return nil
		}),
	}

	cmd.AddCommand(overview, behavior)
	return cmd
}

// behaviorMarkdown lays the report out as markdown for glamour.
func behaviorMarkdown(b *entity.CustomerBehavior) string {
	var sb strings.Builder
	sb.WriteString("# Customer behavior\n\n")

	peak := "n/a"
	if h := b.PeakHour(); h >= 0 {
		peak = fmt.Sprintf("%02d:00", h)
	}
	fmt.Fprintf(&sb, "- **Peak hour:** %s\n", peak)
	fmt.Fprintf(&sb, "- **Avg response time:** %s\n\n", seconds(b.AvgResponseTimeSeconds))

	if len(b.DailyActivity) > 0 {
		sb.WriteString("## By weekday\n\n| Day | Messages |\n|---|---|\n")
		for _, d := range b.DailyActivity {
			fmt.Fprintf(&sb, "| %s | %d |\n", d.Day, d.Count)
		}
		sb.WriteString("\n")
	}

	if len(b.TopContacts) > 0 {
		sb.WriteString("## Top contacts\n\n| Contact | Code | Messages | Last message |\n|---|---|---|---|\n")
		for _, c := range b.TopContacts {
			fmt.Fprintf(&sb, "| %s | %s | %d | %s |\n", c.DisplayName, c.CustomerCode, c.MessageCount, when(c.LastMessageAt))
		}
		sb.WriteString("\n")
	}

	if len(b.ProductCategories) > 0 {
		cats := make([]string, 0, len(b.ProductCategories))
		for k := range b.ProductCategories {
			cats = append(cats, k)
		}
		sort.Slice(cats, func(i, j int) bool {
			ci, cj := b.ProductCategories[cats[i]], b.ProductCategories[cats[j]]
			if ci != cj {
				return ci > cj
			}
			return cats[i] < cats[j]
		})
		sb.WriteString("## Product interest\n\n")
		for _, k := range cats {
			fmt.Fprintf(&sb, "- %s: %d\n", k, b.ProductCategories[k])
		}
		sb.WriteString("\n")
	}

	if len(b.MonthlyTrend) > 0 {
		sb.WriteString("## Monthly trend\n\n| Month | Messages |\n|---|---|\n")
		for _, m := range b.MonthlyTrend {
			fmt.Fprintf(&sb, "| %s | %d |\n", m.Month, m.Count)
		}
	}
	return sb.String()
}

func seconds(s float64) string {
	switch {
	case s <= 0:
		return "n/a"
	case s < 60:
		return fmt.Sprintf("%.0fs", s)
	case s < 3600:
		return fmt.Sprintf("%.1f min", s/60)
	}
	return fmt.Sprintf("%.1f h", s/3600)
}

// ─── settings ───

func settingsCommand(env *Env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "组织设置",
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "查看设置",
		Args:  cobra.NoArgs,
		RunE: env.run(func(ctx context.Context, app *application.App, r *Renderer, _ []string) error {
			s, err := app.Client().Settings(ctx)
			if err != nil {
				return err
			}
			return r.Fields(s, [][2]string{
				{"AI auto-reply", onOff(s.AIAutoReplyEnabled)},
				{"Public URL", s.PublicBaseURL},
			})
		}),
	}

	aiReply := &cobra.Command{
		Use:       "ai-reply on|off",
		Short:     "开启/关闭 AI 自动回复",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"on", "off"},
		RunE: env.run(func(ctx context.Context, app *application.App, r *Renderer, args []string) error {
			var enabled bool
			switch strings.ToLower(args[0]) {
			case "on", "true", "1":
				enabled = true
			case "off", "false", "0":
			default:
				return apperrors.NewInvalidInputError(fmt.Sprintf("expected on or off, got %q", args[0]))
			}
			if err := app.Client().SetAIAutoReply(ctx, enabled); err != nil {
				return err
			}
			return r.Success("AI auto-reply "+onOff(enabled), map[string]bool{"ai_auto_reply_enabled": enabled})
		}),
	}

	publicURL := &cobra.Command{
		Use:   "public-url <url>",
		Short: "设置对外访问地址 (webhook 基地址)",
		Args:  cobra.ExactArgs(1),
		RunE: env.run(func(ctx context.Context, app *application.App, r *Renderer, args []string) error {
			u := strings.TrimRight(strings.TrimSpace(args[0]), "/")
			if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
				return apperrors.NewInvalidInputError(fmt.Sprintf("public url must start with http:// or https://, got %q", args[0]))
			}
			if err := app.Client().SetPublicURL(ctx, u); err != nil {
				return err
			}
			return r.Success("Public URL set to "+u, map[string]string{"public_base_url": u})
		}),
	}

	cmd.AddCommand(show, aiReply, publicURL)
	return cmd
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

// ─── whoami ───

func whoamiCommand(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "当前登录身份",
		Args:  cobra.NoArgs,
		RunE: env.run(func(ctx context.Context, app *application.App, r *Renderer, _ []string) error {
			id := app.Identity()
			if id == nil {
				return apperrors.NewUnauthorizedError("not signed in")
			}
			if r.Structured() {
				return r.Render(id, nil, nil)
			}
			r.Println(RenderBanner(BannerInfo{
				BaseURL: app.Client().BaseURL(),
				Admin:   fmt.Sprintf("%s (%s)", id.Username, id.Role),
				Org:     fmt.Sprintf("%s #%d", id.OrgName, id.OrgID),
				Live:    app.Channel().Connected(),
				Unread:  app.Badge().Count(),
			}, termWidth()))
			return nil
		}),
	}
}
