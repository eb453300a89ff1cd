package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

// Option configures RuntimeLogger creation.
type Option func(*newOptions)

type newOptions struct {
	runID  string
	prefix string
	level  string
	logDir string
	out    io.Writer
	now    func() time.Time
}

// WithRunID configures the run_id field used in audit records. A random id is
// generated when none is given.
func WithRunID(runID string) Option {
	return func(opts *newOptions) {
		opts.runID = strings.TrimSpace(runID)
	}
}

// WithPrefix sets the operator line prefix, e.g. LILO-PREVIEW.
func WithPrefix(prefix string) Option {
	return func(opts *newOptions) {
		opts.prefix = strings.TrimSpace(prefix)
	}
}

// WithLevel sets the minimum level by name (debug, info, warn, error).
func WithLevel(level string) Option {
	return func(opts *newOptions) {
		opts.level = strings.TrimSpace(level)
	}
}

// WithLogDir enables the JSON audit file under dir.
func WithLogDir(dir string) Option {
	return func(opts *newOptions) {
		opts.logDir = strings.TrimSpace(dir)
	}
}

// WithOutput sets the operator log destination. Defaults to stdout.
func WithOutput(w io.Writer) Option {
	return func(opts *newOptions) {
		opts.out = w
	}
}

// RuntimeLogger bundles the operator logger with the optional JSON audit log.
type RuntimeLogger struct {
	// Logger writes human-readable operator lines.
	Logger *log.Logger
	// Audit writes JSON records to the audit file, or nowhere when disabled.
	Audit *log.Logger
	file  *os.File
	path  string
	runID string
}

// New builds the operator logger and, when a log dir is configured, opens
// <dir>/lilo-<timestamp>-<run_id>.log for JSON audit records.
func New(ctx context.Context, options ...Option) (*RuntimeLogger, error) {
	resolved := resolveOptions(options)

	level := log.InfoLevel
	var levelErr error
	if resolved.level != "" {
		parsed, err := log.ParseLevel(strings.ToLower(resolved.level))
		if err != nil {
			levelErr = err
		} else {
			level = parsed
		}
	}

	logger := log.NewWithOptions(resolved.out, log.Options{
		Level:  level,
		Prefix: resolved.prefix,
	})
	if levelErr != nil {
		logger.Warn("invalid log level; using info", "level", resolved.level)
	}

	runtimeLogger := &RuntimeLogger{
		Logger: logger,
		Audit:  log.New(io.Discard),
		runID:  resolved.runID,
	}
	if resolved.logDir == "" {
		return runtimeLogger, nil
	}

	if err := os.MkdirAll(resolved.logDir, 0o750); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	timestamp := resolved.now().UTC().Format("20060102-150405")
	filePath := filepath.Join(resolved.logDir, fmt.Sprintf("lilo-%s-%s.log", timestamp, resolved.runID))
	// #nosec G304 -- filePath is constructed from the configured log directory.
	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	audit := log.NewWithOptions(file, log.Options{
		Level:           level,
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
	})
	audit.SetFormatter(log.JSONFormatter)

	runtimeLogger.file = file
	runtimeLogger.path = filePath
	runtimeLogger.Audit = audit.With("run_id", resolved.runID)
	runtimeLogger.Audit.Info("logger initialized", "log_file", filePath)

	_ = ctx
	return runtimeLogger, nil
}

// RunID returns the id stamped on audit records.
func (r *RuntimeLogger) RunID() string {
	if r == nil {
		return ""
	}
	return r.runID
}

// Close flushes and closes the audit file.
func (r *RuntimeLogger) Close() error {
	if r == nil || r.file == nil {
		return nil
	}
	return r.file.Close()
}

// Path returns the audit file path, or "" when the audit log is disabled.
func (r *RuntimeLogger) Path() string {
	if r == nil {
		return ""
	}
	return r.path
}

func resolveOptions(options []Option) newOptions {
	resolved := newOptions{out: os.Stdout, now: time.Now}
	for _, option := range options {
		if option == nil {
			continue
		}
		option(&resolved)
	}
	if resolved.out == nil {
		resolved.out = os.Stdout
	}
	if resolved.runID == "" {
		resolved.runID = uuid.NewString()
	}
	return resolved
}
