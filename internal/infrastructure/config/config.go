package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config 应用配置
type Config struct {
	API      APIConfig      `mapstructure:"api"`
	Realtime RealtimeConfig `mapstructure:"realtime"`
	Feed     FeedConfig     `mapstructure:"feed"`
	Upload   UploadConfig   `mapstructure:"upload"`
	Log      LogConfig      `mapstructure:"log"`
	Database DatabaseConfig `mapstructure:"database"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Sandbox  SandboxConfig  `mapstructure:"sandbox"`

	// path of the config file that was actually read, empty when only defaults apply
	file string
}

// File returns the config file the values were read from.
func (c *Config) File() string {
	return c.file
}

// APIConfig 后端 REST 接口配置
type APIConfig struct {
	BaseURL  string        `mapstructure:"base_url"`
	Prefix   string        `mapstructure:"prefix"`    // fixed API prefix, e.g. /api/messaging
	Token    string        `mapstructure:"token"`     // bearer token issued by the admin service
	Cookie   string        `mapstructure:"cookie"`    // raw session cookie, alternative to token
	Timeout  time.Duration `mapstructure:"timeout"`
	LoginURL string        `mapstructure:"login_url"` // where unauthenticated sessions are sent
}

// RealtimeConfig 实时通道配置
type RealtimeConfig struct {
	Path             string        `mapstructure:"path"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	EventBuffer      int           `mapstructure:"event_buffer"`
}

// FeedConfig 会话消息流配置
type FeedConfig struct {
	PageSize int `mapstructure:"page_size"`
}

// UploadConfig 上传约束 (client-side)
type UploadConfig struct {
	MaxBytes     int64    `mapstructure:"max_bytes"`
	AllowedTypes []string `mapstructure:"allowed_types"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// DatabaseConfig 本地草稿库配置
type DatabaseConfig struct {
	Type string `mapstructure:"type"` // sqlite, postgres, memory
	DSN  string `mapstructure:"dsn"`
}

// MetricsConfig Prometheus 暴露地址 (watch / sandbox 模式)
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// TelegramConfig 通知转发配置, bot_token 为空则不启用
type TelegramConfig struct {
	BotToken    string `mapstructure:"bot_token"`
	ChatID      int64  `mapstructure:"chat_id"`
	APIEndpoint string `mapstructure:"api_endpoint"`
}

// SandboxConfig 本地模拟后端配置
type SandboxConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Seed            bool          `mapstructure:"seed"`
	InboundInterval time.Duration `mapstructure:"inbound_interval"`
	Token           string        `mapstructure:"token"`
}

// Load 加载配置
//
// 优先级 (低 → 高): 默认值 → ~/.chatdesk/config.yaml → ./config.yaml → .env → 环境变量
func Load() (*Config, error) {
	return LoadFrom(HomeDir(), "./config", ".")
}

// LoadFrom loads the layered configuration using globalDir as the base layer
// and the first config.yaml found in localDirs as the override layer.
func LoadFrom(globalDir string, localDirs ...string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	// Layer 1: 全局配置
	file := ""
	if globalDir != "" {
		v.AddConfigPath(globalDir)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read global config: %w", err)
			}
		} else {
			file = v.ConfigFileUsed()
		}
	}

	// Layer 2: 项目本地配置, 只取第一个找到的
	for _, localDir := range localDirs {
		localPath := filepath.Join(localDir, "config.yaml")
		if _, err := os.Stat(localPath); err != nil {
			continue
		}
		v2 := viper.New()
		v2.SetConfigFile(localPath)
		if err := v2.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read local config %s: %w", localPath, err)
		}
		if err := v.MergeConfigMap(v2.AllSettings()); err != nil {
			return nil, fmt.Errorf("failed to merge local config: %w", err)
		}
		file = localPath
		break
	}

	// .env 只补充尚未设置的环境变量
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	// 环境变量覆盖: CHATDESK_API_TOKEN -> api.token
	v.SetEnvPrefix("CHATDESK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.file = file
	if cfg.Database.DSN == "" && cfg.Database.Type == "sqlite" {
		cfg.Database.DSN = filepath.Join(HomeDir(), "drafts.db")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that would otherwise fail much later at request time.
func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return fmt.Errorf("api.base_url is required")
	}
	if c.Feed.PageSize <= 0 {
		return fmt.Errorf("feed.page_size must be positive, got %d", c.Feed.PageSize)
	}
	if c.Upload.MaxBytes <= 0 {
		return fmt.Errorf("upload.max_bytes must be positive, got %d", c.Upload.MaxBytes)
	}
	return nil
}

// setDefaults 设置默认配置
func setDefaults(v *viper.Viper) {
	v.SetDefault("api.base_url", "http://localhost:5000")
	v.SetDefault("api.prefix", "/api/messaging")
	v.SetDefault("api.token", "")
	v.SetDefault("api.cookie", "")
	v.SetDefault("api.timeout", "30s")
	v.SetDefault("api.login_url", "http://localhost:5000/admin/login")

	v.SetDefault("realtime.path", "/ws")
	v.SetDefault("realtime.handshake_timeout", "10s")
	v.SetDefault("realtime.event_buffer", 256)

	v.SetDefault("feed.page_size", 50)

	v.SetDefault("upload.max_bytes", 10*1024*1024)
	v.SetDefault("upload.allowed_types", []string{
		"image/jpeg", "image/png", "image/gif", "image/webp",
		"video/mp4", "video/quicktime", "video/webm",
	})

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output", "")

	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.dsn", filepath.Join(HomeDir(), "drafts.db"))

	v.SetDefault("metrics.addr", "")

	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.chat_id", 0)
	v.SetDefault("telegram.api_endpoint", "")

	v.SetDefault("sandbox.host", "127.0.0.1")
	v.SetDefault("sandbox.port", 5000)
	v.SetDefault("sandbox.seed", true)
	v.SetDefault("sandbox.inbound_interval", "0s")
	v.SetDefault("sandbox.token", "")
}
