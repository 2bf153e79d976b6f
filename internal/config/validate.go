package config

import (
	"fmt"
	"strings"
	"time"

	"habitd/internal/model"
)

// Validate checks field-level constraints that don't need live services.
// Services re-validate what only they can (e.g. the resweep cron spec).
func (c *Config) Validate() error {
	for _, f := range []struct{ path, raw string }{
		{"storage.busy_timeout", c.Storage.BusyTimeout},
		{"notifier.retry_base", c.Notifier.RetryBase},
		{"notifier.retry_max_delay", c.Notifier.RetryMaxDelay},
		{"notifier.send_timeout", c.Notifier.SendTimeout},
		{"notifier.dedup_window", c.Notifier.DedupWindow},
	} {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			return err
		}
	}
	if c.Transports.Webhook != nil {
		if _, err := ParseDurationField("transports.webhook.timeout", c.Transports.Webhook.Timeout); err != nil {
			return err
		}
		for ch := range c.Transports.Webhook.Endpoints {
			if !model.Channel(ch).Valid() {
				return fmt.Errorf("transports.webhook.endpoints: unknown channel %q", ch)
			}
		}
	}
	if c.Transports.Telegram != nil && c.Transports.Telegram.Enabled {
		if strings.TrimSpace(c.Transports.Telegram.Token) == "" {
			return fmt.Errorf("transports.telegram.token is required when enabled")
		}
		for _, ch := range c.Transports.Telegram.Channels {
			if !model.Channel(ch).Valid() {
				return fmt.Errorf("transports.telegram.channels: unknown channel %q", ch)
			}
		}
	}

	switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
	case "", "sqlite", "sqlite3", "memory":
	default:
		return fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver)
	}

	if tz := strings.TrimSpace(c.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("scheduler.timezone: %w", err)
		}
	}
	return nil
}
