package logger

import (
	"path/filepath"
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	if ParseLevel("debug") != zapcore.DebugLevel {
		t.Error("debug should parse")
	}
	if ParseLevel("nonsense") != zapcore.InfoLevel {
		t.Error("unknown level should fall back to info")
	}
}

func TestNewLoggerWithLevel_AtomicChange(t *testing.T) {
	out := filepath.Join(t.TempDir(), "console.log")
	log, atom, err := NewLoggerWithLevel(Config{Level: "warn", Format: "console", OutputPath: out})
	if err != nil {
		t.Fatalf("NewLoggerWithLevel: %v", err)
	}
	defer log.Sync()

	if log.Core().Enabled(zapcore.InfoLevel) {
		t.Error("info should be disabled at warn level")
	}
	atom.SetLevel(zapcore.DebugLevel)
	if !log.Core().Enabled(zapcore.DebugLevel) {
		t.Error("level change should apply to the built logger")
	}
}
