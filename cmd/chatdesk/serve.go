package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/chatdesk/chatdesk/console/internal/application"
	"github.com/chatdesk/chatdesk/console/internal/domain/entity"
	"github.com/chatdesk/chatdesk/console/internal/domain/service"
	"github.com/chatdesk/chatdesk/console/internal/domain/session"
	"github.com/chatdesk/chatdesk/console/internal/infrastructure/config"
	"github.com/chatdesk/chatdesk/console/internal/infrastructure/eventbus"
	"github.com/chatdesk/chatdesk/console/internal/infrastructure/logger"
	"github.com/chatdesk/chatdesk/console/internal/infrastructure/monitoring"
	"github.com/chatdesk/chatdesk/console/internal/infrastructure/realtime"
	"github.com/chatdesk/chatdesk/console/internal/interfaces/cli"
	sandbox "github.com/chatdesk/chatdesk/console/internal/interfaces/http"
	"github.com/chatdesk/chatdesk/console/internal/interfaces/http/handlers"
	"github.com/chatdesk/chatdesk/console/internal/interfaces/telegram"
)

// serviceLogger logs to stdout (or log.output) with a level that follows the
// config file.
func serviceLogger(cfg *config.Config) (*zap.Logger, zap.AtomicLevel, error) {
	out := cfg.Log.Output
	if out == "" {
		out = "stdout"
	}
	log, atom, err := logger.NewLoggerWithLevel(logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		OutputPath: out,
	})
	if err != nil {
		return nil, atom, fmt.Errorf("logger init: %w", err)
	}
	return log, atom, nil
}

// watchLevel hot-reloads the log level; no-op when only defaults are in use.
func watchLevel(ctx context.Context, cfg *config.Config, atom zap.AtomicLevel, log *zap.Logger) func() {
	if cfg.File() == "" {
		return func() {}
	}
	w, err := config.NewWatcher(cfg.File(), config.Load, func(c *config.Config) {
		atom.SetLevel(logger.ParseLevel(c.Log.Level))
	}, log)
	if err != nil {
		log.Warn("Config hot-reload disabled", zap.Error(err))
		return func() {}
	}
	if err := w.Start(ctx); err != nil {
		log.Warn("Config hot-reload disabled", zap.Error(err))
		w.Close()
		return func() {}
	}
	return func() { w.Close() }
}

// ─── Watch Mode ───

func watchCommand() *cobra.Command {
	var journalDir, metricsAddr string
	var replay bool
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "无界面运行: 记录实时事件, 转发通知到 Telegram, 暴露 Prometheus 指标",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if replay {
				return replayJournal(cmd.Context(), journalDir)
			}
			return runWatch(cmd.Context(), journalDir, metricsAddr)
		},
	}
	cmd.Flags().StringVar(&journalDir, "journal", filepath.Join(config.HomeDir(), "journal"), "事件日志目录")
	cmd.Flags().StringVar(&metricsAddr, "metrics", "", "指标监听地址, 覆盖 metrics.addr")
	cmd.Flags().BoolVar(&replay, "replay", false, "打印已记录的事件后退出")
	return cmd
}

func runWatch(ctx context.Context, journalDir, metricsAddr string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if metricsAddr != "" {
		cfg.Metrics.Addr = metricsAddr
	}
	log, atom, err := serviceLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Sync()

	log.Info("Starting watch mode",
		zap.String("version", cli.Version),
		zap.String("api", cfg.API.BaseURL),
		zap.String("journal", journalDir),
	)

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	defer watchLevel(ctx, cfg, atom, log)()

	var relay application.NotificationRelay
	if cfg.Telegram.BotToken != "" {
		r, err := telegram.NewRelay(telegram.Config{
			BotToken:    cfg.Telegram.BotToken,
			ChatID:      cfg.Telegram.ChatID,
			APIEndpoint: cfg.Telegram.APIEndpoint,
		}, log)
		if err != nil {
			log.Warn("Telegram relay disabled", zap.Error(err))
		} else {
			relay = r
		}
	}

	app, err := application.NewApp(cfg, log,
		application.WithJournal(journalDir),
		application.WithRedirector(session.RedirectFunc(func(loginURL string, cause error) {
			cancel(fmt.Errorf("not signed in, sign in at %s: %w", loginURL, cause))
		})),
	)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	defer app.Stop()

	watcher := app.NewWatcher(relay)
	watcher.Bind()
	defer watcher.Close()

	// without reconnects a dropped channel ends the watch
	closed := eventbus.On(app.Bus(), entity.EventChannelClosed, func(_ context.Context, p realtime.ClosedPayload) {
		cancel(fmt.Errorf("live channel closed: %s", p.Reason))
	})
	defer app.Bus().Unsubscribe(closed)

	if err := app.Start(ctx); err != nil {
		if cause := context.Cause(ctx); cause != nil && errors.Is(err, session.ErrRedirected) {
			return cause
		}
		return fmt.Errorf("failed to start application: %w", err)
	}
	if !app.Channel().Connected() {
		return errors.New("live channel unavailable, see log for details")
	}

	if cfg.Metrics.Addr != "" {
		srv := metricsServer(cfg.Metrics.Addr, app.Metrics(), app.Channel().Connected)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("Metrics server error", zap.Error(err))
			}
		}()
		log.Info("Serving metrics", zap.String("address", cfg.Metrics.Addr))
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	<-ctx.Done()
	cause := context.Cause(ctx)
	if errors.Is(cause, context.Canceled) {
		log.Info("Received shutdown signal")
		return nil
	}
	log.Error("Watch stopped", zap.Error(cause))
	return cause
}

func metricsServer(addr string, metrics *monitoring.Metrics, live func() bool) *http.Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/metrics", gin.WrapH(metrics.Handler()))
	router.GET("/health", func(c *gin.Context) {
		status := http.StatusOK
		if !live() {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"live": live(), "time": time.Now().Unix()})
	})
	return &http.Server{Addr: addr, Handler: router, ReadHeaderTimeout: 10 * time.Second}
}

func replayJournal(ctx context.Context, dir string) error {
	n, err := eventbus.ReadJournal(ctx, eventbus.JournalFile(dir), func(e eventbus.JournalEntry) error {
		_, err := fmt.Fprintf(os.Stdout, "%s  %-18s %s\n", e.Timestamp.Local().Format("2006-01-02 15:04:05"), e.Event, e.Payload)
		return err
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "%d events\n", n)
	return nil
}

// ─── Sandbox Backend ───

func sandboxCommand() *cobra.Command {
	var port int
	var interval time.Duration
	var noSeed bool
	cmd := &cobra.Command{
		Use:   "sandbox",
		Short: "启动本地模拟后端 (REST + WebSocket, 内存数据)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.Sandbox.Port = port
			}
			if cmd.Flags().Changed("inbound") {
				cfg.Sandbox.InboundInterval = interval
			}
			if noSeed {
				cfg.Sandbox.Seed = false
			}
			return runSandbox(cmd.Context(), cfg)
		},
	}
	cmd.Flags().IntVar(&port, "port", 5000, "监听端口, 覆盖 sandbox.port")
	cmd.Flags().DurationVar(&interval, "inbound", 0, "模拟客户消息间隔, 0 关闭")
	cmd.Flags().BoolVar(&noSeed, "empty", false, "不写入演示数据")
	return cmd
}

func runSandbox(ctx context.Context, cfg *config.Config) error {
	log, atom, err := serviceLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Sync()
	defer watchLevel(ctx, cfg, atom, log)()

	store := handlers.NewStore(entity.Identity{AdminID: 1, Username: "admin", Role: "admin", OrgID: 1, OrgName: "Sandbox"})
	if cfg.Sandbox.Seed {
		store.Seed()
	}

	metrics := monitoring.NewMetrics(prometheus.NewRegistry())
	srv := sandbox.NewServer(sandbox.Config{
		Host:            cfg.Sandbox.Host,
		Port:            cfg.Sandbox.Port,
		Mode:            "release",
		Prefix:          cfg.API.Prefix,
		WSPath:          cfg.Realtime.Path,
		Token:           cfg.Sandbox.Token,
		InboundInterval: cfg.Sandbox.InboundInterval,
		Upload:          service.NewUploadPolicy(cfg.Upload.MaxBytes, cfg.Upload.AllowedTypes),
	}, store, metrics, log)

	if err := srv.Start(ctx); err != nil {
		return err
	}
	log.Info("Sandbox ready",
		zap.String("base_url", "http://"+srv.Addr()),
		zap.Bool("seeded", cfg.Sandbox.Seed),
		zap.Duration("inbound_interval", cfg.Sandbox.InboundInterval),
	)

	<-ctx.Done()
	log.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		log.Error("Error during shutdown", zap.Error(err))
		return err
	}
	log.Info("Sandbox stopped")
	return nil
}
