package eventbus

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/chatdesk/chatdesk/console/internal/domain/entity"
	"go.uber.org/zap"
)

// JournalBus wraps InMemoryBus and appends every published event to a JSON
// lines journal before dispatch. `chatdesk watch --journal` uses it to keep an
// audit trail of live traffic; `chatdesk watch --replay` reads it back.
type JournalBus struct {
	inner   *InMemoryBus
	file    *os.File
	writer  *bufio.Writer
	path    string
	mu      sync.Mutex // protects file writes
	logger  *zap.Logger
	maxSize int64 // bytes; rotation threshold
	written int64
}

// JournalEntry is one line of the journal.
type JournalEntry struct {
	Event     entity.EventName `json:"event"`
	Timestamp time.Time        `json:"ts"`
	Payload   json.RawMessage  `json:"payload,omitempty"`
}

// JournalConfig configures the journal bus.
type JournalConfig struct {
	Dir        string // required
	BufferSize int    // default 256
	MaxSize    int64  // default 10MB
}

// JournalFile is the journal path inside dir.
func JournalFile(dir string) string {
	return filepath.Join(dir, "events.jsonl")
}

// NewJournalBus opens (or creates) the journal in cfg.Dir.
func NewJournalBus(cfg JournalConfig, logger *zap.Logger) (*JournalBus, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("journal dir is required")
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 256
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 10 * 1024 * 1024
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}

	path := JournalFile(cfg.Dir)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	var size int64
	if stat, err := f.Stat(); err == nil {
		size = stat.Size()
	}

	return &JournalBus{
		inner:   NewInMemoryBus(logger, cfg.BufferSize),
		file:    f,
		writer:  bufio.NewWriterSize(f, 64*1024),
		path:    path,
		logger:  logger.With(zap.String("component", "journal-bus")),
		maxSize: cfg.MaxSize,
		written: size,
	}, nil
}

// Publish journals the event, then dispatches it.
func (b *JournalBus) Publish(ctx context.Context, event Event) {
	if line, err := encodeEntry(event); err != nil {
		b.logger.Error("Failed to encode event for journal",
			zap.String("event", string(event.Name())),
			zap.Error(err),
		)
	} else {
		b.mu.Lock()
		n, werr := b.writer.Write(line)
		if werr != nil {
			b.logger.Error("Journal write failed", zap.Error(werr))
		}
		b.written += int64(n)
		_ = b.writer.Flush()
		if b.written >= b.maxSize {
			b.rotateLocked()
		}
		b.mu.Unlock()
	}

	b.inner.Publish(ctx, event)
}

func encodeEntry(event Event) ([]byte, error) {
	entry := JournalEntry{Event: event.Name(), Timestamp: event.Timestamp()}
	switch p := event.Payload().(type) {
	case nil:
	case json.RawMessage:
		entry.Payload = p
	default:
		data, err := json.Marshal(p)
		if err != nil {
			return nil, err
		}
		entry.Payload = data
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// Subscribe delegates to the inner bus.
func (b *JournalBus) Subscribe(name entity.EventName, handler Handler) Subscription {
	return b.inner.Subscribe(name, handler)
}

// Unsubscribe delegates to the inner bus.
func (b *JournalBus) Unsubscribe(sub Subscription) {
	b.inner.Unsubscribe(sub)
}

// Close flushes the journal and shuts down dispatch.
func (b *JournalBus) Close() {
	b.mu.Lock()
	_ = b.writer.Flush()
	_ = b.file.Sync()
	_ = b.file.Close()
	b.mu.Unlock()

	b.inner.Close()
}

// Path 日志文件路径
func (b *JournalBus) Path() string {
	return b.path
}

// Size returns the bytes written to the current journal file.
func (b *JournalBus) Size() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.written
}

// rotateLocked keeps a single previous generation as <path>.old.
func (b *JournalBus) rotateLocked() {
	_ = b.writer.Flush()
	_ = b.file.Close()

	old := b.path + ".old"
	_ = os.Remove(old)
	_ = os.Rename(b.path, old)

	f, err := os.OpenFile(b.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		b.logger.Error("Journal rotation failed", zap.Error(err))
		return
	}
	b.file = f
	b.writer = bufio.NewWriterSize(f, 64*1024)
	b.written = 0
	b.logger.Info("Journal rotated", zap.String("old_path", old))
}

// ReadJournal streams the entries of the journal at path to fn. Corrupt lines
// are skipped. A missing journal is not an error.
func ReadJournal(ctx context.Context, path string, fn func(JournalEntry) error) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("open journal: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	count := 0
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return count, err
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry JournalEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			continue
		}
		if err := fn(entry); err != nil {
			return count, err
		}
		count++
	}
	if err := scanner.Err(); err != nil {
		return count, fmt.Errorf("scan journal: %w", err)
	}
	return count, nil
}
