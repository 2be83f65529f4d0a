package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default rotation settings, following lumberjack semantics.
const (
	DefaultMaxSizeMB  = 10 // MB
	DefaultMaxBackups = 3  // number of backup files
	DefaultMaxAgeDays = 7  // days
)

// FileConfig describes a rotating log file.
type FileConfig struct {
	Dir        string `mapstructure:"dir"`
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// Config is the service log configuration.
type Config struct {
	Level  string     `mapstructure:"level"`  // debug, info, warn, error
	Format string     `mapstructure:"format"` // text, json, color
	Stderr bool       `mapstructure:"stderr"` // also write to stderr when a file is set
	File   FileConfig `mapstructure:"file"`
}

func DefaultConfig() Config {
	return Config{Level: "info", Format: "text", Stderr: true}
}

// New builds a slog.Logger from cfg. The returned closer releases the log
// file, if any; it is never nil.
func New(cfg Config) (*slog.Logger, io.Closer, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}
	var (
		w      io.Writer = os.Stderr
		closer io.Closer = nopCloser{}
	)
	if fw := cfg.File.writer("devdash"); fw != nil {
		closer = fw
		w = fw
		if cfg.Stderr {
			w = io.MultiWriter(os.Stderr, fw)
		}
	}
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "", "text":
		h = slog.NewTextHandler(w, opts)
	case "json":
		h = slog.NewJSONHandler(w, opts)
	case "color":
		h = NewColorTextHandler(w, opts, true)
	default:
		_ = closer.Close()
		return nil, nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}
	return slog.New(h), closer, nil
}

func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// writer returns a rotating writer for name, or nil when neither Path nor
// Dir is set. Dir yields Dir/<name>.log.
func (c FileConfig) writer(name string) *lj.Logger {
	path := c.Path
	if path == "" && c.Dir != "" {
		path = filepath.Join(c.Dir, name+".log")
	}
	if path == "" {
		return nil
	}
	return &lj.Logger{
		Filename:   path,
		MaxSize:    valOr(c.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(c.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(c.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   c.Compress,
	}
}

// OutputConfig configures the per-script output log files.
type OutputConfig FileConfig

// Enabled reports whether script output should be mirrored to disk.
func (c OutputConfig) Enabled() bool { return c.Dir != "" }

// Writer returns a rotating writer at Dir/<name>.log, or nil when disabled.
// name is sanitized so it cannot escape Dir.
func (c OutputConfig) Writer(name string) io.WriteCloser {
	if !c.Enabled() {
		return nil
	}
	fc := FileConfig(c)
	fc.Path = ""
	if w := fc.writer(SafeName(name)); w != nil {
		return w
	}
	return nil
}

// SafeName maps anything outside [A-Za-z0-9._-] to '_' and strips "..".
func SafeName(s string) string {
	var b strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '.' || r == '_' || r == '-' {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	out := strings.ReplaceAll(b.String(), "..", "_")
	if out == "" {
		return "_"
	}
	return out
}

func valOr(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
