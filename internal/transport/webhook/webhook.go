// Package webhook posts rendered notifications to per-channel gateway URLs.
// Push, email, sms and in-app delivery are owned by downstream gateways; this
// backend only hands them the payload.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"habitd/internal/model"
	"habitd/internal/transport"
	"habitd/pkg/logx"
)

type Config struct {
	// Endpoints maps a channel to its gateway URL.
	Endpoints map[model.Channel]string
	Timeout   time.Duration
	AuthToken string
}

type Adapter struct {
	cfg  Config
	log  logx.Logger
	http *http.Client
}

func New(cfg Config, log logx.Logger) *Adapter {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Adapter{cfg: cfg, log: log, http: &http.Client{Timeout: timeout}}
}

func (a *Adapter) Name() string { return "webhook" }

// Covers reports whether a gateway URL is configured for the channel.
func (a *Adapter) Covers(ch model.Channel) bool {
	return strings.TrimSpace(a.cfg.Endpoints[ch]) != ""
}

func (a *Adapter) Send(ctx context.Context, msg transport.Message) error {
	url := strings.TrimSpace(a.cfg.Endpoints[msg.Channel])
	if url == "" {
		return fmt.Errorf("webhook: no endpoint for channel %q", msg.Channel)
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("webhook: marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if a.cfg.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+a.cfg.AuthToken)
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	defer resp.Body.Close()
	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook: gateway returned %s for channel %q", resp.Status, msg.Channel)
	}
	a.log.Debug("webhook delivered",
		logx.String("reminder_id", msg.ReminderID),
		logx.String("channel", string(msg.Channel)),
	)
	return nil
}
