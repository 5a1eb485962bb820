package logger

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

func TestNewConsoleOnly(t *testing.T) {
	lg, closer, err := New(Config{Level: "debug"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if lg == nil || closer == nil {
		t.Fatalf("expected logger and closer")
	}
	if !lg.Enabled(nil, slog.LevelDebug) {
		t.Fatalf("debug level not applied")
	}
	_ = closer.Close()
}

func TestNewWithFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	lg, closer, err := New(Config{Dir: dir, File: "run.log", Level: "info"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	lg.Info("hello", "k", "v")
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "run.log")); err != nil {
		t.Fatalf("log file not created: %v", err)
	}
}

func TestNewRotationDefaults(t *testing.T) {
	dir := t.TempDir()
	_, closer, err := New(Config{Dir: dir, File: "run.log"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	w, ok := closer.(*lj.Logger)
	if !ok {
		t.Fatalf("closer is not a lumberjack logger: %T", closer)
	}
	if w.MaxSize != 10 || w.MaxBackups != 3 || w.MaxAge != 7 {
		t.Fatalf("unexpected defaults: size=%d backups=%d age=%d", w.MaxSize, w.MaxBackups, w.MaxAge)
	}
	_ = closer.Close()
}

func TestNewRotationOverrides(t *testing.T) {
	dir := t.TempDir()
	_, closer, err := New(Config{Dir: dir, File: "run.log", MaxSizeMB: 1, MaxBackups: 9, MaxAgeDays: 11, Compress: true})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	w := closer.(*lj.Logger)
	if w.MaxSize != 1 || w.MaxBackups != 9 || w.MaxAge != 11 || !w.Compress {
		t.Fatalf("unexpected overrides: size=%d backups=%d age=%d compress=%t", w.MaxSize, w.MaxBackups, w.MaxAge, w.Compress)
	}
	_ = closer.Close()
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"":        slog.LevelInfo,
		"info":    slog.LevelInfo,
		"DEBUG":   slog.LevelDebug,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Fatalf("ParseLevel(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseLevel("verbose"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}
