package logx

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNopLoggerIsSafe(t *testing.T) {
	t.Parallel()
	var zero Logger
	if !zero.IsZero() {
		t.Fatal("zero Logger not reported as zero")
	}
	// Neither the zero value nor Nop may panic or write.
	zero.Info("ignored", String("k", "v"))
	Nop().Error("ignored", Err(errors.New("x")))
	if Nop().IsZero() {
		t.Fatal("Nop() reported as zero; it carries a discard backend")
	}
}

func TestNewConsoleLevels(t *testing.T) {
	t.Parallel()
	l := NewConsole("warn")
	if l.IsZero() {
		t.Fatal("NewConsole returned a zero logger")
	}
	if l.Enabled(LevelDebug) || l.Enabled(LevelInfo) {
		t.Fatal("levels below warn reported enabled")
	}
	if !l.Enabled(LevelWarn) || !l.Enabled(LevelError) {
		t.Fatal("warn/error reported disabled")
	}

	// Unknown level strings fall back to info.
	l = NewConsole("chatty")
	if l.Enabled(LevelDebug) || !l.Enabled(LevelInfo) {
		t.Fatal("unknown level did not fall back to info")
	}
}

func TestServiceFileSinkAndApply(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "habitd.log")
	svc, log := New(Config{
		Level: "debug",
		File:  FileConfig{Enabled: true, Path: path},
	})
	defer svc.Close()

	log.Info("hello", String("comp", "test"), Int("n", 7))
	log.Debug("fine detail")

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	out := string(b)
	if !strings.Contains(out, "hello") || !strings.Contains(out, `"comp":"test"`) {
		t.Fatalf("log file missing entry: %q", out)
	}
	if !strings.Contains(out, "fine detail") {
		t.Fatalf("debug entry missing at level debug: %q", out)
	}

	// Raising the level hot-drops lower entries; the Logger stays live.
	svc.Apply(Config{Level: "error", File: FileConfig{Enabled: true, Path: path}})
	if log.Enabled(LevelInfo) {
		t.Fatal("info still enabled after Apply(error)")
	}
	log.Info("should not appear")
	b, _ = os.ReadFile(path)
	if strings.Contains(string(b), "should not appear") {
		t.Fatal("entry below level written after Apply")
	}
}

func TestWithAddsFields(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "habitd.log")
	svc, log := New(Config{Level: "info", File: FileConfig{Enabled: true, Path: path}})
	defer svc.Close()

	log.With(String("comp", "sched")).Info("armed")

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), `"comp":"sched"`) {
		t.Fatalf("derived field missing: %q", string(b))
	}
}
