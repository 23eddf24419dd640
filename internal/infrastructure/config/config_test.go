package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestLoadFrom_Defaults(t *testing.T) {
	cfg, err := LoadFrom(t.TempDir())
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.API.Prefix != "/api/messaging" {
		t.Errorf("prefix: got %q", cfg.API.Prefix)
	}
	if cfg.Feed.PageSize != 50 {
		t.Errorf("page size: got %d", cfg.Feed.PageSize)
	}
	if cfg.Upload.MaxBytes != 10*1024*1024 {
		t.Errorf("max bytes: got %d", cfg.Upload.MaxBytes)
	}
	if cfg.API.Timeout != 30*time.Second {
		t.Errorf("timeout: got %v", cfg.API.Timeout)
	}
	if cfg.File() != "" {
		t.Errorf("no file should be recorded, got %q", cfg.File())
	}
}

func TestLoadFrom_LocalOverridesGlobal(t *testing.T) {
	global := t.TempDir()
	local := t.TempDir()
	writeFile(t, filepath.Join(global, "config.yaml"), "api:\n  base_url: https://global.example\nfeed:\n  page_size: 20\n")
	writeFile(t, filepath.Join(local, "config.yaml"), "api:\n  base_url: https://local.example\n")

	cfg, err := LoadFrom(global, local)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.API.BaseURL != "https://local.example" {
		t.Errorf("base url: got %q", cfg.API.BaseURL)
	}
	if cfg.Feed.PageSize != 20 {
		t.Errorf("global value should survive the merge, got %d", cfg.Feed.PageSize)
	}
	if cfg.File() != filepath.Join(local, "config.yaml") {
		t.Errorf("file: got %q", cfg.File())
	}
}

func TestLoadFrom_EnvOverride(t *testing.T) {
	t.Setenv("CHATDESK_API_TOKEN", "secret-token")
	t.Setenv("CHATDESK_FEED_PAGE_SIZE", "25")

	cfg, err := LoadFrom(t.TempDir())
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.API.Token != "secret-token" {
		t.Errorf("token: got %q", cfg.API.Token)
	}
	if cfg.Feed.PageSize != 25 {
		t.Errorf("page size: got %d", cfg.Feed.PageSize)
	}
}

func TestLoadFrom_RejectsBadPageSize(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "config.yaml"), "feed:\n  page_size: 0\n")
	if _, err := LoadFrom(dir); err == nil {
		t.Fatal("page_size 0 should be rejected")
	}
}

func TestBootstrap_WritesDefaultOnce(t *testing.T) {
	root := filepath.Join(t.TempDir(), ".chatdesk")
	if err := Bootstrap(root, zap.NewNop()); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	path := filepath.Join(root, "config.yaml")
	writeFile(t, path, "api:\n  base_url: https://edited.example\n")

	if err := Bootstrap(root, zap.NewNop()); err != nil {
		t.Fatalf("second Bootstrap: %v", err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "api:\n  base_url: https://edited.example\n" {
		t.Error("bootstrap must not overwrite user edits")
	}

	cfg, err := LoadFrom(root)
	if err != nil {
		t.Fatalf("default config should load: %v", err)
	}
	if cfg.API.BaseURL != "https://edited.example" {
		t.Errorf("base url: got %q", cfg.API.BaseURL)
	}
}

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeFile(t, path, "log:\n  level: info\n")

	changed := make(chan *Config, 4)
	w, err := NewWatcher(path, func() (*Config, error) { return LoadFrom(dir) }, func(c *Config) { changed <- c }, zap.NewNop())
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	writeFile(t, path, "log:\n  level: debug\n")

	select {
	case cfg := <-changed:
		if cfg.Log.Level != "debug" {
			t.Errorf("level: got %q", cfg.Log.Level)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for reload")
	}
}
