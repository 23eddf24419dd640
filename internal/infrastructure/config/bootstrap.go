package config

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// AppName is the canonical application name
const AppName = "chatdesk"

// HomeDir returns the console configuration home: ~/.chatdesk
func HomeDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, "."+AppName)
}

// LogFile is where the interactive console writes its logs.
func LogFile() string {
	return filepath.Join(HomeDir(), "logs", "console.log")
}

// Bootstrap ensures root exists with a logs directory and a default config.yaml.
// Existing files are never overwritten.
func Bootstrap(root string, logger *zap.Logger) error {
	for _, dir := range []string{root, filepath.Join(root, "logs")} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create dir %s: %w", dir, err)
		}
	}

	path := filepath.Join(root, "config.yaml")
	if _, err := os.Stat(path); err == nil {
		logger.Debug("Console home directory OK", zap.String("home", root))
		return nil
	}
	if err := os.WriteFile(path, []byte(defaultConfig), 0o600); err != nil {
		return fmt.Errorf("write default config: %w", err)
	}

	logger.Info("Console bootstrap complete",
		zap.String("home", root),
		zap.String("config", path),
	)
	return nil
}

const defaultConfig = `# chatdesk console configuration
# Auto-generated on first launch. Values here can be overridden by ./config.yaml,
# a .env file, or CHATDESK_* environment variables (CHATDESK_API_TOKEN, ...).

api:
  base_url: http://localhost:5000
  prefix: /api/messaging
  token: ""                     # bearer token from the admin service
  cookie: ""                    # or a raw "session=..." cookie
  timeout: 30s
  login_url: http://localhost:5000/admin/login

realtime:
  path: /ws
  handshake_timeout: 10s

feed:
  page_size: 50

upload:
  max_bytes: 10485760           # 10 MB
  allowed_types: [image/jpeg, image/png, image/gif, image/webp, video/mp4, video/quicktime, video/webm]

log:
  level: info                   # debug | info | warn | error (hot-reloaded)
  format: json                  # json | console

database:
  type: sqlite                  # sqlite | postgres | memory
  dsn: ""                       # empty = ~/.chatdesk/drafts.db

metrics:
  addr: ""                      # e.g. :9464 for chatdesk watch

telegram:
  bot_token: ""                 # relay notifications when set
  chat_id: 0

sandbox:
  host: 127.0.0.1
  port: 5000
  seed: true
  inbound_interval: 0s          # >0 injects a fake inbound message periodically
`
