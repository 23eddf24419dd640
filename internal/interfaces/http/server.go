// Package http is the sandbox backend server: the messaging REST contract and
// the realtime hub on one gin router, backed by an in-memory store.
package http

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/chatdesk/chatdesk/console/internal/domain/entity"
	"github.com/chatdesk/chatdesk/console/internal/domain/service"
	"github.com/chatdesk/chatdesk/console/internal/infrastructure/monitoring"
	"github.com/chatdesk/chatdesk/console/internal/infrastructure/realtime"
	"github.com/chatdesk/chatdesk/console/internal/interfaces/http/handlers"
	"github.com/chatdesk/chatdesk/console/internal/interfaces/websocket"
	"github.com/chatdesk/chatdesk/console/pkg/safego"
)

// Server HTTP服务器
type Server struct {
	cfg     Config
	server  *http.Server
	router  *gin.Engine
	store   *handlers.Store
	hub     *websocket.Hub
	inbound *handlers.Inbound
	logger  *zap.Logger
}

// Config HTTP服务器配置
type Config struct {
	Host            string
	Port            int
	Mode            string // debug, release
	Prefix          string // /api/messaging
	WSPath          string // /ws
	Token           string // bearer token; empty accepts any request
	InboundInterval time.Duration
	Upload          service.UploadPolicy
}

// NewServer 创建HTTP服务器
func NewServer(cfg Config, store *handlers.Store, metrics *monitoring.Metrics, logger *zap.Logger) *Server {
	if cfg.Mode == "release" || cfg.Mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "/api/messaging"
	}
	if cfg.WSPath == "" {
		cfg.WSPath = "/ws"
	}
	if cfg.Upload.MaxBytes <= 0 {
		cfg.Upload = service.NewUploadPolicy(0, nil)
	}
	logger = logger.With(zap.String("component", "sandbox"))

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(ginLogger(logger))
	router.Use(metrics.GinMiddleware())

	hub := websocket.NewHub(logger, metrics)
	s := &Server{
		cfg:     cfg,
		router:  router,
		store:   store,
		hub:     hub,
		inbound: handlers.NewInbound(store, hub, logger),
		logger:  logger,
	}
	hub.SetEventHandler(s.onClientEvent)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.setupRoutes(metrics)
	return s
}

// Handler exposes the router (httptest).
func (s *Server) Handler() http.Handler {
	return s.router
}

// Store 沙箱数据
func (s *Server) Store() *handlers.Store {
	return s.store
}

// Hub 实时连接中心
func (s *Server) Hub() *websocket.Hub {
	return s.hub
}

// Inbound returns the injector that simulates contacts writing in.
func (s *Server) Inbound() *handlers.Inbound {
	return s.inbound
}

// Addr is the listen address.
func (s *Server) Addr() string {
	return s.server.Addr
}

// Run starts the hub and the inbound ticker without listening.
func (s *Server) Run(ctx context.Context) {
	safego.Go(s.logger, "sandbox-hub", func() { s.hub.Run(ctx) })
	if s.cfg.InboundInterval > 0 {
		safego.Go(s.logger, "sandbox-inbound", func() { s.inbound.Run(ctx, s.cfg.InboundInterval) })
	}
}

// Start 启动服务器
func (s *Server) Start(ctx context.Context) error {
	s.Run(ctx)
	s.logger.Info("Starting HTTP server",
		zap.String("address", s.server.Addr),
		zap.String("prefix", s.cfg.Prefix),
		zap.Bool("auth", s.cfg.Token != ""),
	)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	return nil
}

// Stop 停止服务器
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping HTTP server")
	return s.server.Shutdown(ctx)
}

// setupRoutes 设置路由
func (s *Server) setupRoutes(metrics *monitoring.Metrics) {
	router := s.router

	// 健康检查
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"time":    time.Now().Unix(),
			"clients": s.hub.ClientCount(),
		})
	})
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	ws := websocket.NewHandler(s.hub, s.authenticate, s.logger)
	router.GET(s.cfg.WSPath, gin.WrapF(ws.ServeWS))

	conv := handlers.NewConversationHandler(s.store, s.hub, s.cfg.Upload, s.cfg.Prefix, s.logger)
	dir := handlers.NewDirectoryHandler(s.store, s.logger)
	ch := handlers.NewChannelHandler(s.store, "http://"+s.server.Addr, s.logger)
	admin := handlers.NewAdminHandler(s.store, s.logger)

	api := router.Group(s.cfg.Prefix)
	api.Use(s.requireAuth())
	{
		api.GET("/me", admin.Me)

		api.GET("/conversations", conv.List)
		api.GET("/conversations/export-all", conv.ExportAll)
		api.GET("/conversations/:id", conv.Get)
		api.PUT("/conversations/:id", conv.Update)
		api.POST("/conversations/:id/resolve", conv.Resolve)
		api.POST("/conversations/:id/reopen", conv.Reopen)
		api.POST("/conversations/:id/read", conv.MarkRead)
		api.POST("/conversations/:id/pin", conv.Pin)
		api.POST("/conversations/:id/unpin", conv.Unpin)
		api.GET("/conversations/:id/tags", conv.Tags)
		api.POST("/conversations/:id/tags", conv.AddTag)
		api.DELETE("/conversations/:id/tags/:tag", conv.RemoveTag)
		api.GET("/conversations/:id/export", conv.Export)
		api.GET("/conversations/:id/messages", conv.Messages)
		api.POST("/conversations/:id/messages", conv.Send)
		api.POST("/conversations/:id/upload", conv.Upload)
		api.GET("/media/uploads/:key", conv.Media)
		api.GET("/media/line/:platform_id", conv.Media)

		api.GET("/contacts", dir.Contacts)
		api.GET("/contacts/:id", dir.Contact)
		api.PUT("/contacts/:id", dir.UpdateContact)
		api.GET("/templates", dir.Templates)
		api.POST("/templates", dir.CreateTemplate)
		api.PUT("/templates/:id", dir.UpdateTemplate)
		api.DELETE("/templates/:id", dir.DeleteTemplate)
		api.GET("/team", dir.Team)

		api.GET("/channels", ch.List)
		api.POST("/channels", ch.Create)
		api.GET("/channels/:id", ch.Get)
		api.PUT("/channels/:id", ch.Update)
		api.DELETE("/channels/:id", ch.Delete)
		api.POST("/channels/:id/credentials", ch.SetCredentials)
		api.POST("/channels/:id/verify", ch.Verify)
		api.GET("/channels/:id/webhook-url", ch.WebhookURL)
		api.GET("/channel-types", ch.Types)

		api.GET("/ai-providers", ch.Providers)
		api.POST("/ai-providers", ch.CreateProvider)
		api.PUT("/ai-providers/:id", ch.UpdateProvider)
		api.DELETE("/ai-providers/:id", ch.DeleteProvider)
		api.POST("/ai-providers/:id/test", ch.TestProvider)
		api.GET("/ai-provider-types", ch.ProviderTypes)

		api.GET("/analytics/overview", admin.Overview)
		api.GET("/analytics/customer-behavior", admin.Behavior)

		api.GET("/settings/ai-toggle", admin.AIToggle)
		api.PUT("/settings/ai-toggle", admin.SetAIToggle)
		api.GET("/settings/public-url", admin.PublicURL)
		api.PUT("/settings/public-url", admin.SetPublicURL)

		api.GET("/backups", admin.Backups)
		api.POST("/backups", admin.CreateBackup)
		api.POST("/backups/:filename/restore", admin.RestoreBackup)
		api.GET("/backups/:filename/download", admin.DownloadBackup)

		api.GET("/notifications", admin.Notifications)
		api.POST("/notifications/read-all", admin.MarkAllNotificationsRead)
		api.POST("/notifications/:id/read", admin.MarkNotificationRead)

		// sandbox only
		api.POST("/sandbox/inbound", s.injectInbound)
	}
}

// authenticate accepts a bearer token, a token query parameter (browser
// websockets cannot set headers) or any request when no token is configured.
func (s *Server) authenticate(r *http.Request) (*entity.Identity, bool) {
	if s.cfg.Token == "" {
		admin := s.store.Admin()
		return &admin, true
	}
	got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if got == "" {
		got = r.URL.Query().Get("token")
	}
	if subtle.ConstantTimeCompare([]byte(got), []byte(s.cfg.Token)) != 1 {
		return nil, false
	}
	admin := s.store.Admin()
	return &admin, true
}

func (s *Server) requireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := s.authenticate(c.Request); !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

func (s *Server) injectInbound(c *gin.Context) {
	var req handlers.InboundMessage
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if strings.TrimSpace(req.Content) == "" || req.PlatformUserID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "platform_user_id and content are required"})
		return
	}
	msg, err := s.inbound.Inject(req)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message_id": msg.ID, "conversation_id": msg.ConversationID})
}

// onClientEvent handles client frames the hub does not route itself.
func (s *Server) onClientEvent(c *websocket.Client, env realtime.Envelope) {
	switch env.Event {
	case entity.EventMarkRead:
		var p entity.ConversationScopePayload
		if err := json.Unmarshal(env.Data, &p); err != nil || p.ConversationID == 0 {
			return
		}
		s.store.MarkRead(p.ConversationID)
	case entity.EventAdminTyping:
		var p entity.ConversationScopePayload
		if err := json.Unmarshal(env.Data, &p); err != nil || p.ConversationID == 0 {
			return
		}
		s.hub.Emit(websocket.ConversationRoom(p.ConversationID), entity.EventAdminTyping, entity.PresencePayload{
			AdminID:        c.Identity.AdminID,
			Username:       c.Identity.Username,
			ConversationID: p.ConversationID,
		})
	default:
		s.logger.Debug("Unhandled client event", zap.String("event", string(env.Event)), zap.String("client_id", c.ID))
	}
}

// ginLogger Gin日志中间件
func ginLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		statusCode := c.Writer.Status()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.Int("status", statusCode),
			zap.Duration("latency", latency),
			zap.String("request_id", c.GetHeader("X-Request-ID")),
		}
		if statusCode >= http.StatusInternalServerError {
			logger.Warn("HTTP request", fields...)
			return
		}
		logger.Debug("HTTP request", fields...)
	}
}
