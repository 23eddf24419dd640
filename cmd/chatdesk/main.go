package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/chatdesk/chatdesk/console/internal/application"
	"github.com/chatdesk/chatdesk/console/internal/domain/session"
	"github.com/chatdesk/chatdesk/console/internal/infrastructure/config"
	"github.com/chatdesk/chatdesk/console/internal/infrastructure/logger"
	"github.com/chatdesk/chatdesk/console/internal/interfaces/cli"
	"github.com/chatdesk/chatdesk/console/internal/interfaces/tui"
)

const cliName = config.AppName

func main() {
	rootCmd := &cobra.Command{
		Use:           cliName,
		Short:         "chatdesk — 多渠道客服管理控制台",
		Long:          "chatdesk 控制台 — 统一处理 LINE / Facebook / Instagram 会话, 实时收发消息",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runConsole,
	}

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "显示版本",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s v%s\n", cliName, cli.Version)
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "doctor",
		Short: "环境诊断",
		RunE:  runDoctor,
	})

	rootCmd.AddCommand(watchCommand())
	rootCmd.AddCommand(sandboxCommand())

	cli.Register(rootCmd, &cli.Env{Open: openApp})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "\033[91m✗\033[0m %v\n", err)
		os.Exit(1)
	}
}

// loadConfig creates ~/.chatdesk on first launch, then reads the layered config.
func loadConfig() (*config.Config, error) {
	if err := config.Bootstrap(config.HomeDir(), zap.NewNop()); err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// fileLogger keeps the terminal clean: interactive commands log to
// ~/.chatdesk/logs/console.log unless log.output says otherwise.
func fileLogger(cfg *config.Config) (*zap.Logger, error) {
	out := cfg.Log.Output
	if out == "" || out == "stdout" || out == "stderr" {
		out = config.LogFile()
	}
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return nil, err
	}
	log, err := logger.NewLogger(logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		OutputPath: out,
	})
	if err != nil {
		return nil, fmt.Errorf("logger init: %w", err)
	}
	return log, nil
}

// ─── Interactive Console (default) ───

func runConsole(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := fileLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Sync()

	expiry := tui.NewExpiry()
	app, err := application.NewApp(cfg, log, application.WithRedirector(expiry))
	if err != nil {
		return fmt.Errorf("初始化失败: %w", err)
	}
	defer app.Stop()

	log.Info("Starting console", zap.String("version", cli.Version), zap.String("api", cfg.API.BaseURL))
	return tui.Run(cmd.Context(), app, expiry)
}

// openApp backs every CLI subcommand: a started app, or an error naming the
// login page when the session is not authenticated.
func openApp(ctx context.Context) (*application.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	log, err := fileLogger(cfg)
	if err != nil {
		return nil, err
	}

	var loginURL string
	app, err := application.NewApp(cfg, log, application.WithRedirector(session.RedirectFunc(func(url string, cause error) {
		loginURL = url
		log.Warn("Not authenticated", zap.String("login_url", url), zap.Error(cause))
	})))
	if err != nil {
		return nil, fmt.Errorf("初始化失败: %w", err)
	}
	if err := app.Start(ctx); err != nil {
		app.Stop()
		if errors.Is(err, session.ErrRedirected) && loginURL != "" {
			return nil, fmt.Errorf("not signed in, sign in at %s and set api.token (or CHATDESK_API_TOKEN)", loginURL)
		}
		return nil, err
	}
	return app, nil
}
