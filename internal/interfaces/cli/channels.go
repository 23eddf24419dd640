package cli

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/chatdesk/chatdesk/console/internal/application"
	"github.com/chatdesk/chatdesk/console/internal/domain/entity"
	"github.com/chatdesk/chatdesk/console/internal/domain/service"
	apperrors "github.com/chatdesk/chatdesk/console/pkg/errors"
)

// ─── channels ───

func channelsCommand(env *Env) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "channels",
		Aliases: []string{"ch"},
		Short:   "消息渠道",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "列出渠道",
		Args:  cobra.NoArgs,
		RunE: env.run(func(ctx context.Context, app *application.App, r *Renderer, _ []string) error {
			v := app.NewViews(application.ViewQuery{}).Channels
			if err := v.Load(ctx); err != nil {
				return err
			}
			return renderChannels(r, v.Items())
		}),
	}

	show := &cobra.Command{
		Use:   "show <id>",
		Short: "渠道详情 (凭证已脱敏)",
		Args:  cobra.ExactArgs(1),
		RunE: env.run(func(ctx context.Context, app *application.App, r *Renderer, args []string) error {
			id, err := parseID(args[0], "channel")
			if err != nil {
				return err
			}
			ch, err := app.Client().GetChannel(ctx, id)
			if err != nil {
				return err
			}
			pairs := [][2]string{
				{"ID", strconv.FormatInt(ch.ID, 10)},
				{"Name", ch.Name},
				{"Type", ch.ChannelType},
				{"Active", yesNo(bool(ch.IsActive))},
				{"Credentials", yesNo(bool(ch.HasCredentials))},
			}
			for _, k := range sortedKeys(ch.MaskedCredentials) {
				pairs = append(pairs, [2]string{"  " + k, ch.MaskedCredentials[k]})
			}
			return r.Fields(ch, pairs)
		}),
	}

	var in entity.ChannelInput
	var active bool
	create := &cobra.Command{
		Use:   "create",
		Short: "新建渠道",
		Args:  cobra.NoArgs,
		RunE: env.run(func(ctx context.Context, app *application.App, r *Renderer, _ []string) error {
			if err := in.Validate(); err != nil {
				return err
			}
			v := app.NewViews(application.ViewQuery{}).Channels
			var id int64
			if err := v.Mutate(ctx, func(ctx context.Context) (err error) {
				id, err = app.Client().CreateChannel(ctx, in)
				return err
			}); err != nil {
				return err
			}
			if err := r.Success(fmt.Sprintf("Created channel #%d", id), map[string]int64{"id": id}); err != nil {
				return err
			}
			if r.Structured() {
				return nil
			}
			return renderChannels(r, v.Items())
		}),
	}
	create.Flags().StringVar(&in.ChannelType, "type", "", "渠道类型 (line, facebook, ...)")
	create.Flags().StringVar(&in.Name, "name", "", "名称")

	var upd entity.ChannelInput
	var update *cobra.Command
	update = &cobra.Command{
		Use:   "update <id>",
		Short: "修改渠道",
		Args:  cobra.ExactArgs(1),
		RunE: env.run(func(ctx context.Context, app *application.App, r *Renderer, args []string) error {
			id, err := parseID(args[0], "channel")
			if err != nil {
				return err
			}
			if update.Flags().Changed("active") {
				upd.IsActive = &active
			}
			if upd.Name == "" && upd.IsActive == nil {
				return entity.ErrEmptyUpdate
			}
			v := app.NewViews(application.ViewQuery{}).Channels
			if err := v.Mutate(ctx, func(ctx context.Context) error {
				return app.Client().UpdateChannel(ctx, id, upd)
			}); err != nil {
				return err
			}
			return r.Success(fmt.Sprintf("Updated channel #%d", id), nil)
		}),
	}
	update.Flags().StringVar(&upd.Name, "name", "", "名称")
	update.Flags().BoolVar(&active, "active", true, "启用/停用")

	del := &cobra.Command{
		Use:   "delete <id>",
		Short: "删除渠道",
		Args:  cobra.ExactArgs(1),
		RunE: env.run(func(ctx context.Context, app *application.App, r *Renderer, args []string) error {
			id, err := parseID(args[0], "channel")
			if err != nil {
				return err
			}
			v := app.NewViews(application.ViewQuery{}).Channels
			if err := v.Delete(ctx, env.confirmer(), fmt.Sprintf("#%d", id), func(ctx context.Context) error {
				return app.Client().DeleteChannel(ctx, id)
			}); err != nil {
				return err
			}
			return r.Success(fmt.Sprintf("Deleted channel #%d", id), nil)
		}),
	}

	cmd.AddCommand(list, show, create, update, del,
		credentialsCommand(env),
		verifyCommand(env),
		webhookCommand(env),
		channelTypesCommand(env),
	)
	return cmd
}

func renderChannels(r *Renderer, items []entity.Channel) error {
	rows := make([][]string, 0, len(items))
	for _, ch := range items {
		rows = append(rows, []string{
			strconv.FormatInt(ch.ID, 10), ch.Name, ch.ChannelType, yesNo(bool(ch.IsActive)), yesNo(bool(ch.HasCredentials)),
		})
	}
	return r.Render(items, []string{"ID", "Name", "Type", "Active", "Credentials"}, rows)
}

// credentialsCommand is one write-only edit session: current values are shown
// masked, only the fields given with --set are sent.
func credentialsCommand(env *Env) *cobra.Command {
	var set []string
	var prompt []string
	cmd := &cobra.Command{
		Use:   "credentials <id>",
		Short: "查看/修改渠道凭证",
		Args:  cobra.ExactArgs(1),
		RunE: env.run(func(ctx context.Context, app *application.App, r *Renderer, args []string) error {
			id, err := parseID(args[0], "channel")
			if err != nil {
				return err
			}
			ed := app.ChannelCredentialEditor(id)
			defer ed.Close()

			current, err := ed.Open(ctx)
			if err != nil {
				return err
			}
			if len(set) == 0 && len(prompt) == 0 {
				pairs := make([][2]string, 0, len(current))
				for _, k := range sortedKeys(current) {
					pairs = append(pairs, [2]string{k, current[k]})
				}
				return r.Fields(current, pairs)
			}
			if err := applyCredentials(env, ed, set, prompt); err != nil {
				return err
			}
			if err := ed.Submit(ctx); err != nil {
				return err
			}
			return r.Success(fmt.Sprintf("Updated credentials of channel #%d", id), nil)
		}),
	}
	cmd.Flags().StringArrayVar(&set, "set", nil, "key=value, 可重复")
	cmd.Flags().StringArrayVar(&prompt, "prompt", nil, "交互式输入 key 的值 (不回显), 可重复")
	return cmd
}

func applyCredentials(env *Env, ed *service.CredentialEditor, set, prompt []string) error {
	for _, kv := range set {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return apperrors.NewInvalidInputError(fmt.Sprintf("expected key=value, got %q", kv))
		}
		if err := ed.Set(strings.TrimSpace(k), v); err != nil {
			return err
		}
	}
	for _, k := range prompt {
		v, err := env.secret(k + ": ")
		if err != nil {
			return err
		}
		if err := ed.Set(k, v); err != nil {
			return err
		}
	}
	return nil
}

func verifyCommand(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <id>",
		Short: "校验渠道凭证",
		Args:  cobra.ExactArgs(1),
		RunE: env.run(func(ctx context.Context, app *application.App, r *Renderer, args []string) error {
			id, err := parseID(args[0], "channel")
			if err != nil {
				return err
			}
			res, err := app.Client().VerifyChannel(ctx, id)
			if err != nil {
				return err
			}
			return renderVerify(r, res)
		}),
	}
}

func renderVerify(r *Renderer, res *entity.VerifyResult) error {
	if r.Structured() {
		return r.Render(res, nil, nil)
	}
	if res.Success {
		return r.Success(res.Message, nil)
	}
	r.Println("✗ " + res.Message)
	return nil
}

func webhookCommand(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "webhook <id>",
		Short: "渠道 webhook 地址",
		Args:  cobra.ExactArgs(1),
		RunE: env.run(func(ctx context.Context, app *application.App, r *Renderer, args []string) error {
			id, err := parseID(args[0], "channel")
			if err != nil {
				return err
			}
			url, err := app.Client().WebhookURL(ctx, id)
			if err != nil {
				return err
			}
			if r.Structured() {
				return r.Render(map[string]string{"webhook_url": url}, nil, nil)
			}
			r.Println(url)
			return nil
		}),
	}
}

func channelTypesCommand(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "types",
		Short: "支持的渠道类型及凭证字段",
		Args:  cobra.NoArgs,
		RunE: env.run(func(ctx context.Context, app *application.App, r *Renderer, _ []string) error {
			types, err := app.Client().ChannelTypes(ctx)
			if err != nil {
				return err
			}
			keys := make([]string, 0, len(types))
			for k := range types {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			rows := make([][]string, 0, len(keys))
			for _, k := range keys {
				var fields []string
				for _, f := range types[k].CredentialFields {
					fields = append(fields, f.Key)
				}
				rows = append(rows, []string{k, types[k].Label, strings.Join(fields, ", ")})
			}
			return r.Render(types, []string{"Type", "Label", "Credential fields"}, rows)
		}),
	}
}

// ─── ai-providers ───

func aiProvidersCommand(env *Env) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "ai-providers",
		Aliases: []string{"ai"},
		Short:   "AI 自动回复服务商",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "列出服务商",
		Args:  cobra.NoArgs,
		RunE: env.run(func(ctx context.Context, app *application.App, r *Renderer, _ []string) error {
			v := app.NewViews(application.ViewQuery{}).AIProviders
			if err := v.Load(ctx); err != nil {
				return err
			}
			return renderProviders(r, v.Items())
		}),
	}

	var in entity.AIProviderInput
	var temperature float64
	var isDefault, promptKey bool
	var create *cobra.Command
	create = &cobra.Command{
		Use:   "create",
		Short: "新建服务商",
		Args:  cobra.NoArgs,
		RunE: env.run(func(ctx context.Context, app *application.App, r *Renderer, _ []string) error {
			if promptKey {
				key, err := env.secret("api_key: ")
				if err != nil {
					return err
				}
				in.APIKey = key
			}
			if create.Flags().Changed("temperature") {
				in.Temperature = &temperature
			}
			if create.Flags().Changed("default") {
				in.IsDefault = &isDefault
			}
			if err := in.ValidateCreate(); err != nil {
				return err
			}
			v := app.NewViews(application.ViewQuery{}).AIProviders
			var id int64
			if err := v.Mutate(ctx, func(ctx context.Context) (err error) {
				id, err = app.Client().CreateAIProvider(ctx, in)
				return err
			}); err != nil {
				return err
			}
			if err := r.Success(fmt.Sprintf("Created AI provider #%d", id), map[string]int64{"id": id}); err != nil {
				return err
			}
			if r.Structured() {
				return nil
			}
			return renderProviders(r, v.Items())
		}),
	}
	providerFlags(create, &in, &temperature, &isDefault)
	create.Flags().StringVar(&in.ProviderType, "type", "", "openai|anthropic|gemini|...")
	create.Flags().StringVar(&in.APIKey, "key", "", "API key")
	create.Flags().BoolVar(&promptKey, "prompt-key", false, "交互式输入 API key")

	var upd entity.AIProviderInput
	var updTemperature float64
	var updDefault bool
	var update *cobra.Command
	update = &cobra.Command{
		Use:   "update <id>",
		Short: "修改服务商 (API key 请用 set-key)",
		Args:  cobra.ExactArgs(1),
		RunE: env.run(func(ctx context.Context, app *application.App, r *Renderer, args []string) error {
			id, err := parseID(args[0], "ai provider")
			if err != nil {
				return err
			}
			if update.Flags().Changed("temperature") {
				upd.Temperature = &updTemperature
			}
			if update.Flags().Changed("default") {
				upd.IsDefault = &updDefault
			}
			v := app.NewViews(application.ViewQuery{}).AIProviders
			if err := v.Mutate(ctx, func(ctx context.Context) error {
				return app.Client().UpdateAIProvider(ctx, id, upd)
			}); err != nil {
				return err
			}
			return r.Success(fmt.Sprintf("Updated AI provider #%d", id), nil)
		}),
	}
	providerFlags(update, &upd, &updTemperature, &updDefault)

	var key string
	setKey := &cobra.Command{
		Use:   "set-key <id>",
		Short: "更换 API key (只写)",
		Args:  cobra.ExactArgs(1),
		RunE: env.run(func(ctx context.Context, app *application.App, r *Renderer, args []string) error {
			id, err := parseID(args[0], "ai provider")
			if err != nil {
				return err
			}
			ed := app.AIKeyEditor(id)
			defer ed.Close()
			current, err := ed.Open(ctx)
			if err != nil {
				return err
			}
			value := key
			if value == "" {
				r.Println("current api_key: " + current["api_key"])
				if value, err = env.secret("new api_key: "); err != nil {
					return err
				}
			}
			if err := ed.Set("api_key", value); err != nil {
				return err
			}
			if err := ed.Submit(ctx); err != nil {
				return err
			}
			return r.Success(fmt.Sprintf("Replaced the API key of provider #%d", id), nil)
		}),
	}
	setKey.Flags().StringVar(&key, "key", "", "新 API key, 省略则交互式输入")

	activate := &cobra.Command{
		Use:   "activate <id>",
		Short: "设为默认服务商",
		Args:  cobra.ExactArgs(1),
		RunE: env.run(func(ctx context.Context, app *application.App, r *Renderer, args []string) error {
			id, err := parseID(args[0], "ai provider")
			if err != nil {
				return err
			}
			v := app.NewViews(application.ViewQuery{}).AIProviders
			if err := v.Mutate(ctx, func(ctx context.Context) error {
				return app.Client().ActivateAIProvider(ctx, id)
			}); err != nil {
				return err
			}
			if err := r.Success(fmt.Sprintf("Provider #%d is now the default", id), nil); err != nil {
				return err
			}
			if r.Structured() {
				return nil
			}
			return renderProviders(r, v.Items())
		}),
	}

	del := &cobra.Command{
		Use:   "delete <id>",
		Short: "删除服务商",
		Args:  cobra.ExactArgs(1),
		RunE: env.run(func(ctx context.Context, app *application.App, r *Renderer, args []string) error {
			id, err := parseID(args[0], "ai provider")
			if err != nil {
				return err
			}
			v := app.NewViews(application.ViewQuery{}).AIProviders
			if err := v.Delete(ctx, env.confirmer(), fmt.Sprintf("#%d", id), func(ctx context.Context) error {
				return app.Client().DeleteAIProvider(ctx, id)
			}); err != nil {
				return err
			}
			return r.Success(fmt.Sprintf("Deleted AI provider #%d", id), nil)
		}),
	}

	test := &cobra.Command{
		Use:   "test <id>",
		Short: "测试服务商连通性",
		Args:  cobra.ExactArgs(1),
		RunE: env.run(func(ctx context.Context, app *application.App, r *Renderer, args []string) error {
			id, err := parseID(args[0], "ai provider")
			if err != nil {
				return err
			}
			stop := env.spin("testing provider")
			res, err := app.Client().TestAIProvider(ctx, id)
			stop()
			if err != nil {
				return err
			}
			return renderVerify(r, res)
		}),
	}

	types := &cobra.Command{
		Use:   "types",
		Short: "支持的服务商与模型",
		Args:  cobra.NoArgs,
		RunE: env.run(func(ctx context.Context, app *application.App, r *Renderer, _ []string) error {
			types, err := app.Client().AIProviderTypes(ctx)
			if err != nil {
				return err
			}
			keys := make([]string, 0, len(types))
			for k := range types {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			rows := make([][]string, 0, len(keys))
			for _, k := range keys {
				t := types[k]
				rows = append(rows, []string{k, t.Label, t.DefaultModel, strings.Join(t.Models, ", ")})
			}
			return r.Render(types, []string{"Type", "Label", "Default model", "Models"}, rows)
		}),
	}

	cmd.AddCommand(list, create, update, setKey, activate, del, test, types)
	return cmd
}

func providerFlags(cmd *cobra.Command, in *entity.AIProviderInput, temperature *float64, isDefault *bool) {
	cmd.Flags().StringVar(&in.Name, "name", "", "名称")
	cmd.Flags().StringVar(&in.ModelName, "model", "", "模型")
	cmd.Flags().StringVar(&in.SystemPrompt, "system-prompt", "", "系统提示词")
	cmd.Flags().IntVar(&in.MaxTokens, "max-tokens", 0, "最大 token 数")
	cmd.Flags().Float64Var(temperature, "temperature", 0.7, "温度")
	cmd.Flags().BoolVar(isDefault, "default", false, "设为默认")
}

func renderProviders(r *Renderer, items []entity.AIProvider) error {
	rows := make([][]string, 0, len(items))
	for _, p := range items {
		def := ""
		if p.IsDefault {
			def = "★"
		}
		rows = append(rows, []string{
			strconv.FormatInt(p.ID, 10), def, p.Name, p.ProviderType, p.ModelName, p.MaskedAPIKey, yesNo(bool(p.IsActive)),
		})
	}
	return r.Render(items, []string{"ID", "", "Name", "Type", "Model", "API key", "Active"}, rows)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
