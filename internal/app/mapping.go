package app

import (
	"fmt"

	"habitd/internal/config"
	"habitd/internal/model"
	"habitd/internal/notify"
	"habitd/internal/scheduler"
	"habitd/internal/storage"
	"habitd/internal/transport"
	"habitd/internal/transport/telegram"
	"habitd/internal/transport/webhook"
	"habitd/pkg/logx"
)

func mapLoggingConfig(c config.LoggingConfig) logx.Config {
	return logx.Config{
		Level:   c.Level,
		Console: c.Console,
		File: logx.FileConfig{
			Enabled: c.File.Enabled,
			Path:    c.File.Path,
		},
	}
}

func mapStorageConfig(c config.StorageConfig) (storage.Config, error) {
	busy, err := config.ParseDurationField("storage.busy_timeout", c.BusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      c.Driver,
		Path:        c.Path,
		BusyTimeout: busy,
	}, nil
}

func mapSchedulerConfig(c config.SchedulerConfig) scheduler.Config {
	return scheduler.Config{
		Workers:   c.Workers,
		QueueSize: c.QueueSize,
		Resweep:   c.Resweep,
		Timezone:  c.Timezone,
	}
}

func mapNotifierConfig(c config.NotifierConfig) (notify.Config, error) {
	retryBase, err := config.ParseDurationField("notifier.retry_base", c.RetryBase)
	if err != nil {
		return notify.Config{}, err
	}
	retryMaxDelay, err := config.ParseDurationField("notifier.retry_max_delay", c.RetryMaxDelay)
	if err != nil {
		return notify.Config{}, err
	}
	sendTimeout, err := config.ParseDurationField("notifier.send_timeout", c.SendTimeout)
	if err != nil {
		return notify.Config{}, err
	}
	dedupWindow, err := config.ParseDurationField("notifier.dedup_window", c.DedupWindow)
	if err != nil {
		return notify.Config{}, err
	}
	return notify.Config{
		RatePerSec:      c.RatePerSec,
		RetryMax:        c.RetryMax,
		RetryBase:       retryBase,
		RetryMaxDelay:   retryMaxDelay,
		SendTimeout:     sendTimeout,
		DedupWindow:     dedupWindow,
		DedupMaxEntries: c.DedupMaxEntries,
	}, nil
}

// buildRoutes constructs the channel routing table from the transports
// section: the webhook gateway covers every channel it has an endpoint for,
// and Telegram (when enabled) takes over the channels listed under it.
func buildRoutes(c config.TransportsConfig, log logx.Logger) (map[model.Channel]transport.Adapter, error) {
	routes := map[model.Channel]transport.Adapter{}

	if wc := c.Webhook; wc != nil && wc.Enabled {
		timeout, err := config.ParseDurationField("transports.webhook.timeout", wc.Timeout)
		if err != nil {
			return nil, err
		}
		endpoints := make(map[model.Channel]string, len(wc.Endpoints))
		for name, url := range wc.Endpoints {
			ch := model.Channel(name)
			if !ch.Valid() {
				return nil, fmt.Errorf("transports.webhook.endpoints: unknown channel %q", name)
			}
			endpoints[ch] = url
		}
		wh := webhook.New(webhook.Config{
			Endpoints: endpoints,
			Timeout:   timeout,
			AuthToken: wc.AuthToken,
		}, log.With(logx.String("comp", "webhook")))
		for ch := range endpoints {
			if wh.Covers(ch) {
				routes[ch] = wh
			}
		}
	}

	if tc := c.Telegram; tc != nil && tc.Enabled {
		tg, err := telegram.New(telegram.Config{
			Token:  tc.Token,
			ChatID: tc.ChatID,
		}, log.With(logx.String("comp", "telegram")))
		if err != nil {
			return nil, fmt.Errorf("transports.telegram: %w", err)
		}
		for _, name := range tc.Channels {
			ch := model.Channel(name)
			if !ch.Valid() {
				return nil, fmt.Errorf("transports.telegram.channels: unknown channel %q", name)
			}
			routes[ch] = tg
		}
	}

	return routes, nil
}
