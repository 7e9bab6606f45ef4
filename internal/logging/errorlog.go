package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/capital-forecast-crawler/internal/metrics"
)

// ErrorLogConfig locates per-worker log files: <Dir>/<name><Suffix>.
type ErrorLogConfig struct {
	Dir    string
	Suffix string
	// Level is the minimum level copied to the file; nil means warn.
	Level zapcore.LevelEnabler
}

// ErrorLog is a worker-owned log sink. While open, entries at or above the
// configured level are copied to a dedicated append-only file in addition to
// the process logger. The file is created by the first such entry, and Close
// releases it so it can be rotated or inspected while the worker is idle.
type ErrorLog struct {
	base *zap.Logger
	path string
	lvl  zapcore.LevelEnabler

	mu      sync.Mutex
	armed   bool
	gen     uint64
	file    *os.File
	failed  bool
	current *zap.Logger
}

// NewErrorLog builds a closed ErrorLog for the named worker.
func NewErrorLog(base *zap.Logger, name string, cfg ErrorLogConfig) *ErrorLog {
	if base == nil {
		base = zap.NewNop()
	}
	dir := cfg.Dir
	if dir == "" {
		dir = "logs"
	}
	suffix := cfg.Suffix
	if suffix == "" {
		suffix = ".log"
	}
	lvl := cfg.Level
	if lvl == nil {
		lvl = zapcore.WarnLevel
	}
	return &ErrorLog{
		base:    base,
		path:    filepath.Join(dir, name+suffix),
		lvl:     lvl,
		current: base,
	}
}

// NopErrorLog returns an ErrorLog that never touches the filesystem. Its
// logger is always base.
func NopErrorLog(base *zap.Logger) *ErrorLog {
	if base == nil {
		base = zap.NewNop()
	}
	return &ErrorLog{base: base, current: base}
}

// Path returns the file the log writes to once opened, or "" for a
// NopErrorLog.
func (l *ErrorLog) Path() string {
	return l.path
}

// Open arms the file sink. It is a no-op when already open.
func (l *ErrorLog) Open() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.armed {
		return
	}
	l.armed = true
	l.failed = false
	l.gen++
	if l.path == "" {
		return
	}
	sink := &lazyFile{log: l, gen: l.gen}
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	fileCore := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), sink, l.lvl)
	l.current = l.base.WithOptions(zap.WrapCore(func(c zapcore.Core) zapcore.Core {
		return zapcore.NewTee(c, fileCore)
	}))
}

// Close disarms the sink and closes the file handle if one was opened.
func (l *ErrorLog) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.armed {
		return
	}
	l.armed = false
	l.current = l.base
	l.closeFileLocked()
}

// Logger returns the logger to use right now. Loggers obtained before a
// Close stop writing to the file once it is closed.
func (l *ErrorLog) Logger() *zap.Logger {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}

// HasFile reports whether a file handle is currently open.
func (l *ErrorLog) HasFile() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file != nil
}

func (l *ErrorLog) closeFileLocked() {
	if l.file == nil {
		return
	}
	if err := l.file.Sync(); err != nil {
		l.base.Warn("sync error log file failed", zap.String("path", l.path), zap.Error(err))
	}
	if err := l.file.Close(); err != nil {
		l.base.Warn("close error log file failed", zap.String("path", l.path), zap.Error(err))
	}
	l.file = nil
}

// write is called by the file core with an encoded entry.
func (l *ErrorLog) write(gen uint64, p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.armed || gen != l.gen || l.failed {
		// The entry already reached the process logger through the tee.
		return len(p), nil
	}
	if l.file == nil {
		f, err := openAppend(l.path)
		if err != nil {
			l.failed = true
			metrics.ObserveErrorLogFailure(filepath.Base(l.path))
			l.base.Error("open error log file failed; continuing without it",
				zap.String("path", l.path), zap.Error(err))
			return len(p), nil
		}
		l.file = f
	}
	n, err := l.file.Write(p)
	if err != nil {
		return n, fmt.Errorf("write error log: %w", err)
	}
	return n, nil
}

func (l *ErrorLog) sync(gen uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil || gen != l.gen {
		return nil
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("sync error log: %w", err)
	}
	return nil
}

func openAppend(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	// #nosec G304 -- path is built from configured dir and the worker name.
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return f, nil
}

// lazyFile is the zapcore.WriteSyncer handed to the file core. It carries the
// generation it was created for so entries from a stale logger are dropped
// from the file after a Close/Open cycle.
type lazyFile struct {
	log *ErrorLog
	gen uint64
}

func (w *lazyFile) Write(p []byte) (int, error) {
	return w.log.write(w.gen, p)
}

func (w *lazyFile) Sync() error {
	return w.log.sync(w.gen)
}
