package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/queeriouslabs/secbot/internal/infrastructure/config"
)

// logFilePermissions restricts log files to the service user and its group.
const logFilePermissions = 0640

// Logger wraps slog.Logger with secbot-specific functionality.
//
// Every record carries the emitting service's name and the build version,
// so logs from the independent processes on one device can be merged.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Logger struct {
	*slog.Logger

	closer io.Closer
}

// New creates a new Logger with the specified configuration.
//
// It configures:
//   - Output format (JSON or text)
//   - Log level filtering
//   - Default fields (service name, version)
//   - Output destination (stdout, stderr, or a rotated file)
//
// A file that cannot be opened falls back to stderr and the failure is
// logged as the first record, so a misconfigured path never silences a
// door controller.
//
// Parameters:
//   - cfg: Logging configuration
//   - service: Service name for the default field (usually the bus address)
//   - version: Application version for default field
//
// Returns:
//   - *Logger: Configured logger ready for use
func New(cfg config.LoggingConfig, service, version string) *Logger {
	var (
		output  io.Writer
		closer  io.Closer
		openErr error
	)
	switch strings.ToLower(cfg.Output) {
	case "stderr":
		output = os.Stderr
	case "file":
		f, err := openLogFile(cfg)
		if err != nil {
			output = os.Stderr
			openErr = err
		} else {
			output = f
			closer = f
		}
	default:
		output = os.Stdout
	}

	logger := &Logger{
		Logger: slog.New(newHandler(output, cfg, service, version)),
		closer: closer,
	}
	if openErr != nil {
		logger.Error("log file unavailable, using stderr", "path", cfg.File, "error", openErr)
	}
	return logger
}

// newHandler builds the slog handler with default attributes attached.
func newHandler(w io.Writer, cfg config.LoggingConfig, service, version string) slog.Handler {
	opts := &slog.HandlerOptions{
		Level: parseLevel(cfg.Level),
	}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewJSONHandler(w, opts)
	}

	return handler.WithAttrs([]slog.Attr{
		slog.String("service", service),
		slog.String("version", version),
	})
}

// rotatingFile is a lumberjack file that is also rotated on a timer.
type rotatingFile struct {
	*lumberjack.Logger

	stop     chan struct{}
	stopOnce sync.Once
}

// openLogFile creates cfg.File if needed and returns a writer that rotates
// it by size and, when cfg.RotateEvery is set, by time. Old files are
// pruned by count and age.
func openLogFile(cfg config.LoggingConfig) (*rotatingFile, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.File), 0750); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}
	// Created up front so an unwritable path is reported now, and so
	// rotated files inherit its mode.
	f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, logFilePermissions)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}
	f.Close() //nolint:errcheck // reopened by lumberjack

	rf := &rotatingFile{
		Logger: &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			LocalTime:  true,
			Compress:   cfg.Compress,
		},
		stop: make(chan struct{}),
	}
	if cfg.RotateEvery > 0 {
		go rf.rotateEvery(cfg.RotateEvery)
	}
	return rf, nil
}

func (rf *rotatingFile) rotateEvery(d time.Duration) {
	ticker := time.NewTicker(d)
	defer ticker.Stop()
	for {
		select {
		case <-rf.stop:
			return
		case <-ticker.C:
			if err := rf.Rotate(); err != nil {
				fmt.Fprintf(os.Stderr, "log rotation failed: %v\n", err)
			}
		}
	}
}

// Close stops timed rotation and closes the current file.
func (rf *rotatingFile) Close() error {
	rf.stopOnce.Do(func() { close(rf.stop) })
	return rf.Logger.Close()
}

// parseLevel converts a string log level to slog.Level.
//
// Supported levels: debug, info, warn, error
// Defaults to info if unrecognised.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// With returns a new Logger with additional default attributes.
// The child shares the parent's output; closing either closes both.
//
// Example:
//
//	busLogger := logger.With("component", "bus")
//	busLogger.Info("listening") // Includes component=bus
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		Logger: l.Logger.With(args...),
		closer: l.closer,
	}
}

// Close releases the log file, if any. Safe to call on stdout/stderr loggers.
func (l *Logger) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

// Default creates a logger for use before configuration is loaded.
//
// This logger writes text to stderr at info level.
func Default(service string) *Logger {
	return New(config.LoggingConfig{
		Level:  "info",
		Format: "text",
		Output: "stderr",
	}, service, "dev")
}
