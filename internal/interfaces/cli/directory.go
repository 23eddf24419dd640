package cli

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/chatdesk/chatdesk/console/internal/application"
	"github.com/chatdesk/chatdesk/console/internal/domain/entity"
	apperrors "github.com/chatdesk/chatdesk/console/pkg/errors"
)

// ─── contacts ───

func contactsCommand(env *Env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "contacts",
		Short: "联系人",
	}

	var q application.ViewQuery
	list := &cobra.Command{
		Use:   "list",
		Short: "列出联系人",
		Args:  cobra.NoArgs,
		RunE: env.run(func(ctx context.Context, app *application.App, r *Renderer, _ []string) error {
			v := app.NewViews(q).Contacts
			if err := v.Load(ctx); err != nil {
				return err
			}
			return renderContacts(r, v.Items())
		}),
	}
	list.Flags().StringVarP(&q.ContactSearch, "search", "s", "", "按名称/编号搜索")
	list.Flags().IntVar(&q.ContactLimit, "limit", 0, "最多条数")

	show := &cobra.Command{
		Use:   "show <id>",
		Short: "联系人详情",
		Args:  cobra.ExactArgs(1),
		RunE: env.run(func(ctx context.Context, app *application.App, r *Renderer, args []string) error {
			id, err := parseID(args[0], "contact")
			if err != nil {
				return err
			}
			c, err := app.Client().GetContact(ctx, id)
			if err != nil {
				return err
			}
			return r.Fields(c, [][2]string{
				{"ID", strconv.FormatInt(c.ID, 10)},
				{"Name", c.DisplayName},
				{"Platform ID", c.PlatformUserID},
				{"Channel", c.ChannelType},
				{"Code", c.CustomerCode},
				{"Email", c.Email},
				{"Phone", c.Phone},
				{"Notes", c.Notes},
				{"First seen", when(c.FirstSeenAt)},
				{"Last seen", when(c.LastSeenAt)},
			})
		}),
	}

	var name, email, phone, code, notes string
	var update *cobra.Command
	update = &cobra.Command{
		Use:   "update <id>",
		Short: "修改联系人",
		Args:  cobra.ExactArgs(1),
		RunE: env.run(func(ctx context.Context, app *application.App, r *Renderer, args []string) error {
			id, err := parseID(args[0], "contact")
			if err != nil {
				return err
			}
			var u entity.ContactUpdate
			flags := []struct {
				flag string
				val  *string
				dst  **string
			}{
				{"name", &name, &u.DisplayName},
				{"email", &email, &u.Email},
				{"phone", &phone, &u.Phone},
				{"code", &code, &u.CustomerCode},
				{"notes", &notes, &u.Notes},
			}
			for _, f := range flags {
				if update.Flags().Changed(f.flag) {
					*f.dst = f.val
				}
			}
			if err := u.Validate(); err != nil {
				return err
			}
			v := app.NewViews(application.ViewQuery{}).Contacts
			if err := v.Mutate(ctx, func(ctx context.Context) error {
				return app.Client().UpdateContact(ctx, id, u)
			}); err != nil {
				return err
			}
			if err := r.Success(fmt.Sprintf("Updated contact #%d", id), nil); err != nil {
				return err
			}
			return renderContacts(r, v.Items())
		}),
	}
	update.Flags().StringVar(&name, "name", "", "显示名")
	update.Flags().StringVar(&email, "email", "", "邮箱")
	update.Flags().StringVar(&phone, "phone", "", "电话")
	update.Flags().StringVar(&code, "code", "", "客户编号")
	update.Flags().StringVar(&notes, "notes", "", "备注")

	cmd.AddCommand(list, show, update)
	return cmd
}

func renderContacts(r *Renderer, items []entity.Contact) error {
	rows := make([][]string, 0, len(items))
	for _, c := range items {
		rows = append(rows, []string{
			strconv.FormatInt(c.ID, 10), c.DisplayName, c.ChannelType, c.CustomerCode, c.Phone, when(c.LastSeenAt),
		})
	}
	return r.Render(items, []string{"ID", "Name", "Channel", "Code", "Phone", "Last seen"}, rows)
}

// ─── templates ───

func templatesCommand(env *Env) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "templates",
		Aliases: []string{"tpl"},
		Short:   "快捷回复模板",
	}

	var category string
	list := &cobra.Command{
		Use:   "list",
		Short: "列出模板",
		Args:  cobra.NoArgs,
		RunE: env.run(func(ctx context.Context, app *application.App, r *Renderer, _ []string) error {
			v := app.NewViews(application.ViewQuery{TemplateCategory: category}).Templates
			if err := v.Load(ctx); err != nil {
				return err
			}
			return renderTemplates(r, v.Items())
		}),
	}
	list.Flags().StringVar(&category, "category", "", "分类")

	show := &cobra.Command{
		Use:   "show <id>",
		Short: "预览模板",
		Args:  cobra.ExactArgs(1),
		RunE: env.run(func(ctx context.Context, app *application.App, r *Renderer, args []string) error {
			id, err := parseID(args[0], "template")
			if err != nil {
				return err
			}
			v := app.NewViews(application.ViewQuery{}).Templates
			if err := v.Load(ctx); err != nil {
				return err
			}
			for _, t := range v.Items() {
				if t.ID != id {
					continue
				}
				if r.Structured() {
					return r.Render(t, nil, nil)
				}
				r.Println(fmt.Sprintf("◇ %s  %s", t.Name, t.Shortcut))
				r.Println(r.Markdown(t.Content))
				return nil
			}
			return apperrors.NewNotFoundError(fmt.Sprintf("template %d not found", id))
		}),
	}

	var in entity.TemplateInput
	create := &cobra.Command{
		Use:   "create",
		Short: "新建模板",
		Args:  cobra.NoArgs,
		RunE: env.run(func(ctx context.Context, app *application.App, r *Renderer, _ []string) error {
			if err := in.Validate(); err != nil {
				return err
			}
			v := app.NewViews(application.ViewQuery{}).Templates
			var id int64
			if err := v.Mutate(ctx, func(ctx context.Context) (err error) {
				id, err = app.Client().CreateTemplate(ctx, in)
				return err
			}); err != nil {
				return err
			}
			if err := r.Success(fmt.Sprintf("Created template #%d", id), map[string]int64{"id": id}); err != nil {
				return err
			}
			return renderTemplatesTable(r, v.Items())
		}),
	}
	templateFlags(create, &in)

	var upd entity.TemplateInput
	update := &cobra.Command{
		Use:   "update <id>",
		Short: "修改模板",
		Args:  cobra.ExactArgs(1),
		RunE: env.run(func(ctx context.Context, app *application.App, r *Renderer, args []string) error {
			id, err := parseID(args[0], "template")
			if err != nil {
				return err
			}
			if err := upd.Validate(); err != nil {
				return err
			}
			v := app.NewViews(application.ViewQuery{}).Templates
			if err := v.Mutate(ctx, func(ctx context.Context) error {
				return app.Client().UpdateTemplate(ctx, id, upd)
			}); err != nil {
				return err
			}
			if err := r.Success(fmt.Sprintf("Updated template #%d", id), nil); err != nil {
				return err
			}
			return renderTemplatesTable(r, v.Items())
		}),
	}
	templateFlags(update, &upd)

	del := &cobra.Command{
		Use:   "delete <id>",
		Short: "删除模板",
		Args:  cobra.ExactArgs(1),
		RunE: env.run(func(ctx context.Context, app *application.App, r *Renderer, args []string) error {
			id, err := parseID(args[0], "template")
			if err != nil {
				return err
			}
			v := app.NewViews(application.ViewQuery{}).Templates
			if err := v.Delete(ctx, env.confirmer(), fmt.Sprintf("#%d", id), func(ctx context.Context) error {
				return app.Client().DeleteTemplate(ctx, id)
			}); err != nil {
				return err
			}
			if err := r.Success(fmt.Sprintf("Deleted template #%d", id), nil); err != nil {
				return err
			}
			return renderTemplatesTable(r, v.Items())
		}),
	}

	cmd.AddCommand(list, show, create, update, del)
	return cmd
}

func templateFlags(cmd *cobra.Command, in *entity.TemplateInput) {
	cmd.Flags().StringVar(&in.Name, "name", "", "名称")
	cmd.Flags().StringVar(&in.Content, "content", "", "内容 (Markdown)")
	cmd.Flags().StringVar(&in.Category, "category", "", "分类")
	cmd.Flags().StringVar(&in.Shortcut, "shortcut", "", "快捷键, 如 /hello")
}

func renderTemplates(r *Renderer, items []entity.Template) error {
	rows := make([][]string, 0, len(items))
	for _, t := range items {
		rows = append(rows, []string{
			strconv.FormatInt(t.ID, 10), t.Name, t.Category, t.Shortcut, strconv.Itoa(t.UsageCount), firstLine(t.Content, 40),
		})
	}
	return r.Render(items, []string{"ID", "Name", "Category", "Shortcut", "Used", "Content"}, rows)
}

// renderTemplatesTable shows the reloaded list after a mutation, table mode only.
func renderTemplatesTable(r *Renderer, items []entity.Template) error {
	if r.Structured() {
		return nil
	}
	return renderTemplates(r, items)
}

// ─── team ───

func teamCommand(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "team",
		Short: "团队成员",
		Args:  cobra.NoArgs,
		RunE: env.run(func(ctx context.Context, app *application.App, r *Renderer, _ []string) error {
			v := app.NewViews(application.ViewQuery{}).Team
			if err := v.Load(ctx); err != nil {
				return err
			}
			items := v.Items()
			rows := make([][]string, 0, len(items))
			for _, m := range items {
				rows = append(rows, []string{strconv.FormatInt(m.ID, 10), m.Username, m.Name(), m.Role})
			}
			return r.Render(items, []string{"ID", "Username", "Name", "Role"}, rows)
		}),
	}
}
