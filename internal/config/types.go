package config

// Config is the full habitd configuration.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
// The file may be JSON or YAML; YAML is coerced to JSON and decoded strictly,
// so unknown keys fail fast on startup and on hot reload.
type Config struct {
	Logging    LoggingConfig    `json:"logging"`
	Storage    StorageConfig    `json:"storage"`
	Scheduler  SchedulerConfig  `json:"scheduler"`
	Notifier   NotifierConfig   `json:"notifier"`
	Transports TransportsConfig `json:"transports"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// StorageConfig selects the durable store holding users, habits, goals,
// entries and reminders.
//
// Driver values:
//   - "sqlite": SQLite database file (default)
//   - "memory": in-process store, lost on restart (dev/tests)
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// SchedulerConfig controls the reminder scheduler service.
//
// Defaults (when fields are omitted/zero):
//   - workers: 2
//   - queue_size: 256
//   - resweep: "@every 15m"
type SchedulerConfig struct {
	Workers   int `json:"workers,omitempty"`
	QueueSize int `json:"queue_size,omitempty"`

	// Resweep is a cron spec (5/6-field or @-descriptor) for the periodic
	// re-derivation of all schedules from storage. Empty keeps the default;
	// "off" disables resweeping.
	Resweep string `json:"resweep,omitempty"`

	// Timezone for the resweep cron only. Reminders carry their own zone.
	Timezone string `json:"timezone,omitempty"`
}

// NotifierConfig controls the delivery policy: rate limiting, retries and
// the dedup window. Fires are executed on the scheduler's worker pool.
type NotifierConfig struct {
	RatePerSec      int    `json:"rate_per_sec,omitempty"`
	RetryMax        int    `json:"retry_max,omitempty"`
	RetryBase       string `json:"retry_base,omitempty"`
	RetryMaxDelay   string `json:"retry_max_delay,omitempty"`
	SendTimeout     string `json:"send_timeout,omitempty"`
	DedupWindow     string `json:"dedup_window,omitempty"`
	DedupMaxEntries int    `json:"dedup_max_entries,omitempty"`
}

// TransportsConfig maps delivery channels to concrete adapters.
type TransportsConfig struct {
	Webhook  *WebhookConfig  `json:"webhook,omitempty"`
	Telegram *TelegramConfig `json:"telegram,omitempty"`
}

// WebhookConfig posts rendered notifications to per-channel gateway URLs
// (push/email/sms/in-app are gateway-delivered).
type WebhookConfig struct {
	Enabled bool `json:"enabled"`
	// Endpoints maps a channel name ("push", "email", "sms", "in-app")
	// to its gateway URL.
	Endpoints map[string]string `json:"endpoints"`
	Timeout   string            `json:"timeout,omitempty"`
	AuthToken string            `json:"auth_token,omitempty"` // bearer token, do not log
}

// TelegramConfig enables the optional Telegram delivery adapter.
type TelegramConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token"`
	ChatID  int64  `json:"chat_id"`
	// Channels routed through Telegram instead of the webhook gateway.
	Channels []string `json:"channels,omitempty"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info", Console: true},
		Storage: StorageConfig{Driver: "sqlite", Path: "./habitd.db"},
	}
}
