// Package application wires the console together: one App per process owns
// the REST client, the event bus, the session guard and the live channel, and
// hands out the views that the TUI and CLI render.
package application

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/chatdesk/chatdesk/console/internal/domain/entity"
	"github.com/chatdesk/chatdesk/console/internal/domain/repository"
	"github.com/chatdesk/chatdesk/console/internal/domain/service"
	"github.com/chatdesk/chatdesk/console/internal/domain/session"
	"github.com/chatdesk/chatdesk/console/internal/infrastructure/api"
	"github.com/chatdesk/chatdesk/console/internal/infrastructure/config"
	"github.com/chatdesk/chatdesk/console/internal/infrastructure/eventbus"
	"github.com/chatdesk/chatdesk/console/internal/infrastructure/monitoring"
	"github.com/chatdesk/chatdesk/console/internal/infrastructure/persistence"
	"github.com/chatdesk/chatdesk/console/internal/infrastructure/realtime"
	"github.com/chatdesk/chatdesk/console/pkg/safego"
)

// App 应用程序
type App struct {
	// 配置
	config *config.Config
	logger *zap.Logger

	// 基础设施
	registry *prometheus.Registry
	metrics  *monitoring.Metrics
	bus      eventbus.Bus
	client   *api.Client
	drafts   repository.DraftRepository
	closeDB  func() error
	policy   service.UploadPolicy

	// 会话
	guard   *session.Guard
	channel *realtime.Channel
	badge   *service.Badge
	subs    eventbus.Subscriptions

	redirector session.Redirector
	journalDir string
	httpClient *http.Client
	run        safego.Runner

	stopOnce sync.Once
}

// Option configures the app
type Option func(*App)

// WithRedirector sets what happens when the session is not authenticated.
func WithRedirector(r session.Redirector) Option {
	return func(a *App) {
		a.redirector = r
	}
}

// WithJournal records every bus event under dir (watch mode).
func WithJournal(dir string) Option {
	return func(a *App) {
		a.journalDir = dir
	}
}

// WithHTTPClient replaces the REST transport.
func WithHTTPClient(hc *http.Client) Option {
	return func(a *App) {
		a.httpClient = hc
	}
}

// WithRunner replaces the background runner (tests run work inline).
func WithRunner(run safego.Runner) Option {
	return func(a *App) {
		a.run = run
	}
}

// NewApp 创建应用程序（依赖注入容器）. Nothing touches the network until
// Start.
func NewApp(cfg *config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	app := &App{
		config: cfg,
		logger: logger,
	}
	for _, opt := range opts {
		opt(app)
	}
	if app.run == nil {
		app.run = safego.Background(logger)
	}
	if app.redirector == nil {
		app.redirector = session.RedirectFunc(func(loginURL string, cause error) {
			logger.Error("Not authenticated, log in again", zap.String("login_url", loginURL), zap.Error(cause))
		})
	}

	if err := app.initInfrastructure(); err != nil {
		return nil, fmt.Errorf("failed to init infrastructure: %w", err)
	}
	if err := app.initRepositories(); err != nil {
		app.bus.Close()
		return nil, fmt.Errorf("failed to init repositories: %w", err)
	}
	if err := app.initSession(); err != nil {
		app.Stop()
		return nil, fmt.Errorf("failed to init session: %w", err)
	}
	return app, nil
}

// initInfrastructure 初始化基础设施
func (app *App) initInfrastructure() error {
	app.registry = prometheus.NewRegistry()
	app.metrics = monitoring.NewMetrics(app.registry)
	app.policy = service.NewUploadPolicy(app.config.Upload.MaxBytes, app.config.Upload.AllowedTypes)

	if app.journalDir != "" {
		bus, err := eventbus.NewJournalBus(eventbus.JournalConfig{
			Dir:        app.journalDir,
			BufferSize: app.config.Realtime.EventBuffer,
		}, app.logger)
		if err != nil {
			return err
		}
		app.bus = bus
	} else {
		app.bus = eventbus.NewInMemoryBus(app.logger, app.config.Realtime.EventBuffer)
	}

	opts := []api.Option{
		api.WithPrefix(app.config.API.Prefix),
		api.WithToken(app.config.API.Token),
		api.WithCookie(app.config.API.Cookie),
		api.WithTimeout(app.config.API.Timeout),
		api.WithLogger(app.logger),
		api.WithMetrics(app.metrics),
		api.WithUploadPolicy(app.policy),
		api.WithUnauthorizedHandler(app.onUnauthorized),
	}
	if app.httpClient != nil {
		opts = append(opts, api.WithHTTPClient(app.httpClient))
	}
	app.client = api.NewClient(app.config.API.BaseURL, opts...)
	return nil
}

// initRepositories 初始化仓储层
func (app *App) initRepositories() error {
	drafts, closeDB, err := persistence.NewDraftRepository(&app.config.Database)
	if err != nil {
		// drafts are a convenience; fall back to memory rather than refusing to start
		app.logger.Warn("Draft store unavailable, drafts will not survive restarts", zap.Error(err))
		drafts, closeDB = persistence.NewMemoryDraftRepository(), func() error { return nil }
	}
	app.drafts = drafts
	app.closeDB = closeDB
	return nil
}

// initSession 初始化身份守卫与实时通道
func (app *App) initSession() error {
	app.guard = session.NewGuard(app.client, app.redirector, app.config.API.LoginURL, app.logger)

	wsURL, err := realtime.WSURL(app.config.API.BaseURL, app.config.Realtime.Path)
	if err != nil {
		return err
	}
	header := http.Header{}
	if app.config.API.Token != "" {
		header.Set("Authorization", "Bearer "+app.config.API.Token)
	}
	if app.config.API.Cookie != "" {
		header.Set("Cookie", app.config.API.Cookie)
	}
	app.channel = realtime.NewChannel(realtime.Config{
		URL:              wsURL,
		Header:           header,
		HandshakeTimeout: app.config.Realtime.HandshakeTimeout,
	}, app.bus, app.logger, app.metrics)

	app.badge = service.NewBadge(app.client, app.logger)
	app.badge.OnChange(func(count int) {
		app.metrics.SetUnread(count)
		app.bus.Publish(context.Background(), eventbus.NewEvent(entity.EventBadgeChanged, count))
	})
	return nil
}

// Start resolves the identity, then opens the live channel and binds the
// badge. Returns session.ErrRedirected when the admin is not logged in.
func (app *App) Start(ctx context.Context) error {
	return app.guard.Run(ctx, func() {
		app.logger.Debug("Resolving admin identity")
	}, func(ctx context.Context, id *entity.Identity) error {
		if err := app.channel.Open(ctx, id); err != nil {
			// the console still works without live updates
			app.logger.Warn("Live channel unavailable", zap.Error(err))
		}
		app.bindBadge()
		if err := app.badge.Refresh(ctx); err != nil {
			app.logger.Warn("Initial notification load failed", zap.Error(err))
		}
		return nil
	})
}

// bindBadge refreshes the badge on every event that can change the unread list.
func (app *App) bindBadge() {
	refresh := func(ctx context.Context, _ eventbus.Event) {
		app.run("badge-refresh", func() {
			if err := app.badge.Refresh(context.Background()); err != nil {
				app.logger.Debug("Badge refresh failed", zap.Error(err))
			}
		})
	}
	for _, name := range []entity.EventName{entity.EventNotification, entity.EventNewMessage, entity.EventNewConversation} {
		app.subs.Add(app.bus.Subscribe(name, refresh))
	}
}

// onUnauthorized turns any 401 after login into a redirect.
func (app *App) onUnauthorized(err error) {
	if app.guard == nil || app.guard.State() != session.StateAuthenticated {
		return
	}
	app.channel.Close()
	app.guard.Expire(err)
}

// Stop releases subscriptions, closes the live channel, the bus and the draft store.
func (app *App) Stop() {
	app.stopOnce.Do(func() {
		if app.bus != nil {
			app.subs.Release(app.bus)
		}
		if app.channel != nil {
			app.channel.Close()
		}
		if app.guard != nil {
			app.guard.Close()
		}
		if app.bus != nil {
			app.bus.Close()
		}
		if app.closeDB != nil {
			if err := app.closeDB(); err != nil {
				app.logger.Debug("Closing draft store failed", zap.Error(err))
			}
		}
	})
}

// Config 配置
func (app *App) Config() *config.Config { return app.config }

// Logger 日志
func (app *App) Logger() *zap.Logger { return app.logger }

// Client REST 客户端
func (app *App) Client() *api.Client { return app.client }

// Bus 事件总线
func (app *App) Bus() eventbus.Bus { return app.bus }

// Guard 身份守卫
func (app *App) Guard() *session.Guard { return app.guard }

// Channel 实时通道
func (app *App) Channel() *realtime.Channel { return app.channel }

// Badge 未读通知徽标
func (app *App) Badge() *service.Badge { return app.badge }

// Drafts 草稿仓储
func (app *App) Drafts() repository.DraftRepository { return app.drafts }

// Metrics 指标
func (app *App) Metrics() *monitoring.Metrics { return app.metrics }

// Runner background work scheduler
func (app *App) Runner() safego.Runner { return app.run }

// Identity is the resolved admin, nil before Start or after expiry.
func (app *App) Identity() *entity.Identity { return app.guard.Identity() }
