package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoadJSON(t *testing.T) {
	t.Parallel()
	p := writeFile(t, "config.json", `{
		"logging": {"level": "debug", "console": true},
		"storage": {"driver": "memory"},
		"scheduler": {"workers": 4, "resweep": "@every 5m"},
		"notifier": {"rate_per_sec": 10, "retry_max": 2, "retry_base": "250ms"}
	}`)

	m := NewManager(p)
	cfg, err := m.Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Logging.Level != "debug" || cfg.Scheduler.Workers != 4 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.Notifier.RetryBase != "250ms" {
		t.Fatalf("retry_base = %q", cfg.Notifier.RetryBase)
	}
	if m.Get() != cfg {
		t.Fatal("Get() did not return the committed snapshot")
	}
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	p := writeFile(t, "config.yaml", strings.Join([]string{
		"logging:",
		"  level: info",
		"  console: true",
		"storage:",
		"  driver: sqlite",
		"  path: ./habitd.db",
		"transports:",
		"  webhook:",
		"    enabled: true",
		"    endpoints:",
		"      push: https://gw.example.com/push",
		"      email: https://gw.example.com/email",
	}, "\n"))

	cfg, err := NewManager(p).Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Storage.Path != "./habitd.db" {
		t.Fatalf("storage.path = %q", cfg.Storage.Path)
	}
	wh := cfg.Transports.Webhook
	if wh == nil || !wh.Enabled || wh.Endpoints["push"] != "https://gw.example.com/push" {
		t.Fatalf("webhook config = %+v", wh)
	}
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	t.Parallel()
	p := writeFile(t, "config.json", `{"logging": {"level": "info"}, "shceduler": {}}`)
	if _, err := NewManager(p).Parse(); err == nil {
		t.Fatal("Parse accepted a misspelled section")
	}
}

func TestParseRejectsTrailingData(t *testing.T) {
	t.Parallel()
	p := writeFile(t, "config.json", `{"logging": {"level": "info"}}{"extra": 1}`)
	if _, err := NewManager(p).Parse(); err == nil {
		t.Fatal("Parse accepted trailing data")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"default", func(c *Config) {}, true},
		{"bad duration", func(c *Config) { c.Notifier.SendTimeout = "soon" }, false},
		{"negative duration", func(c *Config) { c.Notifier.RetryBase = "-1s" }, false},
		{"unknown driver", func(c *Config) { c.Storage.Driver = "postgres" }, false},
		{"bad scheduler tz", func(c *Config) { c.Scheduler.Timezone = "Moon/Crater" }, false},
		{"good scheduler tz", func(c *Config) { c.Scheduler.Timezone = "Asia/Jakarta" }, true},
		{"bad webhook channel", func(c *Config) {
			c.Transports.Webhook = &WebhookConfig{Endpoints: map[string]string{"pager": "https://x"}}
		}, false},
		{"telegram without token", func(c *Config) {
			c.Transports.Telegram = &TelegramConfig{Enabled: true, ChatID: 1}
		}, false},
		{"bad telegram channel", func(c *Config) {
			c.Transports.Telegram = &TelegramConfig{Enabled: true, Token: "t", ChatID: 1, Channels: []string{"fax"}}
		}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := Default()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.ok && err != nil {
				t.Fatalf("Validate() = %v, want nil", err)
			}
			if !tc.ok && err == nil {
				t.Fatal("Validate() = nil, want error")
			}
		})
	}
}

func TestReloadPublishesAndRejects(t *testing.T) {
	t.Parallel()
	p := writeFile(t, "config.json", `{"logging": {"level": "info"}}`)
	m := NewManager(p)
	if _, err := m.Load(); err != nil {
		t.Fatal(err)
	}
	m.SetValidator(func(_ context.Context, c *Config) error { return c.Validate() })
	sub := m.Subscribe(4)
	defer m.Unsubscribe(sub)

	// Unchanged content: no publish.
	m.reload(context.Background())
	select {
	case <-sub:
		t.Fatal("unchanged reload was published")
	case <-time.After(50 * time.Millisecond):
	}

	// Changed content: committed and published.
	if err := os.WriteFile(p, []byte(`{"logging": {"level": "debug"}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	m.reload(context.Background())
	select {
	case cfg := <-sub:
		if cfg.Logging.Level != "debug" {
			t.Fatalf("published level = %q", cfg.Logging.Level)
		}
	case <-time.After(time.Second):
		t.Fatal("changed reload not published")
	}

	// Invalid content: rejected, previous snapshot stays.
	if err := os.WriteFile(p, []byte(`{"storage": {"driver": "postgres"}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	m.reload(context.Background())
	if got := m.Get().Logging.Level; got != "debug" {
		t.Fatalf("rejected reload replaced the snapshot: level = %q", got)
	}
}

func TestWatchReloadsOnWrite(t *testing.T) {
	t.Parallel()
	p := writeFile(t, "config.json", `{"logging": {"level": "info"}}`)
	m := NewManager(p)
	if _, err := m.Load(); err != nil {
		t.Fatal(err)
	}
	sub := m.Subscribe(4)
	defer m.Unsubscribe(sub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Watch(ctx)
	}()

	// Give the watcher a moment to attach before writing.
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(p, []byte(`{"logging": {"level": "warn"}}`), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-sub:
		if cfg.Logging.Level != "warn" {
			t.Fatalf("published level = %q", cfg.Logging.Level)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not publish the change")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	if d, err := ParseDurationField("x", ""); err != nil || d != 0 {
		t.Fatalf("empty = %v, %v", d, err)
	}
	if d, err := ParseDurationField("x", "1m30s"); err != nil || d != 90*time.Second {
		t.Fatalf("1m30s = %v, %v", d, err)
	}
	if _, err := ParseDurationField("x", "fast"); err == nil {
		t.Fatal("accepted junk duration")
	}
	if _, err := ParseDurationField("x", "-5s"); err == nil {
		t.Fatal("accepted negative duration")
	}
	if d, err := ParseDurationOrDefault("x", "", time.Minute); err != nil || d != time.Minute {
		t.Fatalf("default = %v, %v", d, err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()
	m := NewManager(filepath.Join(t.TempDir(), "nope.json"))
	if _, err := m.Load(); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("Load() err = %v, want os.ErrNotExist", err)
	}
}
