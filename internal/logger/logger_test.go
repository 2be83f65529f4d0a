package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lj "gopkg.in/natefinch/lumberjack.v2"
)

func TestNew_FileWithRotationDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{Level: "debug", Format: "json", File: FileConfig{Dir: dir}}
	l, closer, err := New(cfg)
	require.NoError(t, err)

	l.Debug("hello", "k", "v")
	require.NoError(t, closer.Close())

	b, err := os.ReadFile(filepath.Join(dir, "devdash.log"))
	require.NoError(t, err)
	var rec map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(b), &rec))
	assert.Equal(t, "hello", rec["msg"])
	assert.Equal(t, "v", rec["k"])
}

func TestNew_RejectsUnknownValues(t *testing.T) {
	_, _, err := New(Config{Level: "loud"})
	assert.Error(t, err)
	_, _, err = New(Config{Format: "xml"})
	assert.Error(t, err)
}

func TestNew_DefaultsToStderrText(t *testing.T) {
	l, closer, err := New(DefaultConfig())
	require.NoError(t, err)
	require.NotNil(t, l)
	assert.NoError(t, closer.Close())
}

func TestFileConfigWriterDefaults(t *testing.T) {
	w := FileConfig{Dir: "/tmp/x"}.writer("svc")
	require.NotNil(t, w)
	assert.Equal(t, filepath.Join("/tmp/x", "svc.log"), w.Filename)
	assert.Equal(t, DefaultMaxSizeMB, w.MaxSize)
	assert.Equal(t, DefaultMaxBackups, w.MaxBackups)
	assert.Equal(t, DefaultMaxAgeDays, w.MaxAge)

	w = FileConfig{Path: "/tmp/y/explicit.log", MaxSizeMB: 1}.writer("ignored")
	require.NotNil(t, w)
	assert.Equal(t, "/tmp/y/explicit.log", w.Filename)
	assert.Equal(t, 1, w.MaxSize)

	assert.Nil(t, FileConfig{}.writer("none"))
}

func TestOutputConfigWriter(t *testing.T) {
	assert.Nil(t, OutputConfig{}.Writer("build"))

	dir := t.TempDir()
	w := OutputConfig{Dir: dir}.Writer("../build 1")
	require.NotNil(t, w)
	_, err := w.Write([]byte("chunk"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	lw, ok := w.(*lj.Logger)
	require.True(t, ok)
	assert.Equal(t, dir, filepath.Dir(lw.Filename))
	b, err := os.ReadFile(lw.Filename)
	require.NoError(t, err)
	assert.Equal(t, "chunk", string(b))
}

func TestSafeName(t *testing.T) {
	assert.Equal(t, "build-1", SafeName("build-1"))
	assert.Equal(t, "_", SafeName(""))
	assert.NotContains(t, SafeName("../../etc/passwd"), "..")
	assert.NotContains(t, SafeName("a/b\\c"), "/")
}

func TestColorTextHandler(t *testing.T) {
	var buf bytes.Buffer
	h := NewColorTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}, false)
	l := slog.New(h).With("script", "dev").WithGroup("run")

	l.Warn("stopping", "pid", 42)
	out := buf.String()
	assert.Contains(t, out, "\033[33mWARN\033[0m")
	assert.Contains(t, out, "script=dev")
	assert.Contains(t, out, "run.pid=42")
	assert.False(t, strings.Contains(out, "time="))
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{"": slog.LevelInfo, "DEBUG": slog.LevelDebug, "warning": slog.LevelWarn, "error": slog.LevelError} {
		got, err := ParseLevel(in)
		require.NoError(t, err)
		assert.Equal(t, want, got, in)
	}
}
