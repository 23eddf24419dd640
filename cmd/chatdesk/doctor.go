package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/chatdesk/chatdesk/console/internal/application"
	"github.com/chatdesk/chatdesk/console/internal/domain/entity"
	"github.com/chatdesk/chatdesk/console/internal/infrastructure/config"
	"github.com/chatdesk/chatdesk/console/internal/infrastructure/persistence"
	"github.com/chatdesk/chatdesk/console/internal/infrastructure/realtime"
	"github.com/chatdesk/chatdesk/console/internal/interfaces/cli"
	"github.com/chatdesk/chatdesk/console/internal/interfaces/telegram"
)

// ─── Doctor ───

type doctorCheck struct {
	name  string
	check func(ctx context.Context) (string, bool)
}

func runDoctor(cmd *cobra.Command, args []string) error {
	fmt.Printf("◇ chatdesk Doctor v%s\n\n", cli.Version)

	cfg, err := loadConfig()
	if err != nil {
		fmt.Printf("  \033[91m✗\033[0m 配置文件: %v\n", err)
		return nil
	}

	app, err := application.NewApp(cfg, zap.NewNop())
	if err != nil {
		fmt.Printf("  \033[91m✗\033[0m 初始化: %v\n", err)
		return nil
	}
	defer app.Stop()

	var identity *entity.Identity
	checks := []doctorCheck{
		{"配置文件", func(context.Context) (string, bool) { return checkConfig(cfg) }},
		{"日志目录", func(context.Context) (string, bool) { return checkLogDir() }},
		{"后端接口", func(ctx context.Context) (string, bool) {
			id, err := app.Client().Me(ctx)
			if err != nil {
				return fmt.Sprintf("%s: %v", cfg.API.BaseURL, err), false
			}
			identity = id
			return fmt.Sprintf("%s (%s @ %s)", cfg.API.BaseURL, id.Username, id.OrgName), true
		}},
		{"实时通道", func(ctx context.Context) (string, bool) {
			url, err := realtime.WSURL(cfg.API.BaseURL, cfg.Realtime.Path)
			if err != nil {
				return err.Error(), false
			}
			if identity == nil {
				return url + " (跳过: 未登录)", false
			}
			if err := app.Channel().Open(ctx, identity); err != nil {
				return fmt.Sprintf("%s: %v", url, err), false
			}
			app.Channel().Close()
			return url, true
		}},
		{"草稿库", func(context.Context) (string, bool) { return checkDrafts(cfg) }},
		{"Telegram 转发", func(context.Context) (string, bool) { return checkTelegram(cfg) }},
	}

	allOK := true
	for _, c := range checks {
		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		val, ok := c.check(ctx)
		cancel()
		icon := "\033[92m✓\033[0m"
		if !ok {
			icon = "\033[91m✗\033[0m"
			allOK = false
		}
		fmt.Printf("  %s %s: %s\n", icon, c.name, val)
	}

	fmt.Println()
	if allOK {
		fmt.Println("所有检查通过 ✓")
	} else {
		fmt.Println("存在问题, 请检查上方标记")
	}
	return nil
}

func checkConfig(cfg *config.Config) (string, bool) {
	if f := cfg.File(); f != "" {
		return f, true
	}
	return "未找到 config.yaml, 使用默认值", false
}

func checkLogDir() (string, bool) {
	dir := filepath.Dir(config.LogFile())
	f, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		return fmt.Sprintf("%s 不可写: %v", dir, err), false
	}
	name := f.Name()
	f.Close()
	os.Remove(name)
	return dir, true
}

func checkDrafts(cfg *config.Config) (string, bool) {
	_, closeDB, err := persistence.NewDraftRepository(&cfg.Database)
	if err != nil {
		return fmt.Sprintf("%s: %v (草稿仅保存在内存)", cfg.Database.Type, err), false
	}
	defer closeDB()
	if cfg.Database.Type == "memory" {
		return "memory (重启后丢失)", true
	}
	return fmt.Sprintf("%s %s", cfg.Database.Type, cfg.Database.DSN), true
}

func checkTelegram(cfg *config.Config) (string, bool) {
	if cfg.Telegram.BotToken == "" {
		return "未配置 (可选)", true
	}
	if _, err := telegram.NewRelay(telegram.Config{
		BotToken:    cfg.Telegram.BotToken,
		ChatID:      cfg.Telegram.ChatID,
		APIEndpoint: cfg.Telegram.APIEndpoint,
	}, zap.NewNop()); err != nil {
		return err.Error(), false
	}
	return fmt.Sprintf("chat %d", cfg.Telegram.ChatID), true
}
