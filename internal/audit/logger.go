// Package audit implements the append-only journal of drive actions.
//
// Every accepted velocity command, soft-brake change, watchdog stop and power
// re-enable is written as one JSON line with the acting principal, the wheel,
// the outcome code and the latency. The file is size-rotated.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/ez-Support/swd-ros-controllers/internal/config"
	"github.com/ez-Support/swd-ros-controllers/internal/drive"
)

// Entry represents a single audit log entry.
type Entry struct {
	Timestamp time.Time `json:"ts"`
	User      string    `json:"user"`
	Wheel     string    `json:"wheel"`
	Action    string    `json:"action"`
	Outcome   string    `json:"outcome"`
	Code      string    `json:"code"`
	LatencyMs float64   `json:"latencyMs"`
}

// Logger writes audit entries as JSON lines.
type Logger struct {
	mu     sync.Mutex
	out    io.WriteCloser
	path   string
	now    func() time.Time
	errLog *zap.SugaredLogger
}

var _ drive.AuditLogger = (*Logger)(nil)

// NewLogger opens the journal at cfg.Path, creating its directory.
func NewLogger(cfg config.AuditConfig, errLog *zap.SugaredLogger) (*Logger, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("audit path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}
	if errLog == nil {
		errLog = zap.NewNop().Sugar()
	}

	return &Logger{
		out: &lumberjack.Logger{
			Filename:   cfg.Path,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
		},
		path:   cfg.Path,
		now:    time.Now,
		errLog: errLog,
	}, nil
}

// LogAction records one action. result is "SUCCESS" or a normalized error code.
func (l *Logger) LogAction(ctx context.Context, action, wheel, result string, latency time.Duration) {
	l.write(Entry{
		Timestamp: l.now().UTC(),
		User:      drive.ActorFromContext(ctx),
		Wheel:     wheel,
		Action:    action,
		Outcome:   result,
		Code:      codeFromResult(result),
		LatencyMs: float64(latency.Microseconds()) / 1000.0,
	})
}

func (l *Logger) write(entry Entry) {
	data, err := json.Marshal(entry)
	if err != nil {
		l.errLog.Errorw("failed to marshal audit entry", "action", entry.Action, "error", err)
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.out == nil {
		return
	}
	if _, err := l.out.Write(append(data, '\n')); err != nil {
		l.errLog.Errorw("failed to write audit entry", "action", entry.Action, "error", err)
	}
}

func codeFromResult(result string) string {
	switch result {
	case "SUCCESS", "INVALID_RANGE", "BUSY", "UNAVAILABLE", "INTERNAL":
		return result
	default:
		return "UNKNOWN"
	}
}

// Path returns the journal file path.
func (l *Logger) Path() string {
	return l.path
}

// Close flushes and closes the journal. Later entries are dropped.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.out == nil {
		return nil
	}
	err := l.out.Close()
	l.out = nil
	return err
}
