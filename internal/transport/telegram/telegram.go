// Package telegram is an optional send-only delivery adapter. It exists for
// deployments where selected channels are routed to a Telegram chat instead
// of a gateway (e.g. self-hosted setups without a push provider).
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"habitd/internal/transport"
	"habitd/pkg/logx"
)

type Config struct {
	Token  string
	ChatID int64
}

type Adapter struct {
	cfg Config
	log logx.Logger
	bot *tele.Bot
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat_id is required")
	}
	b, err := tele.NewBot(tele.Settings{Token: cfg.Token})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Adapter{cfg: cfg, log: log, bot: b}, nil
}

func (a *Adapter) Name() string { return "telegram" }

func (a *Adapter) Send(ctx context.Context, msg transport.Message) error {
	text := renderText(msg)

	// telebot has no ctx-aware send; bound it ourselves so a hung API call
	// cannot outlive the pipeline's per-send timeout.
	done := make(chan error, 1)
	go func() {
		_, err := a.bot.Send(tele.ChatID(a.cfg.ChatID), text, &tele.SendOptions{
			DisableWebPagePreview: true,
		})
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("telegram: %w", err)
		}
		a.log.Debug("telegram delivered",
			logx.String("reminder_id", msg.ReminderID),
			logx.Int64("chat_id", a.cfg.ChatID),
		)
		return nil
	case <-ctx.Done():
		return fmt.Errorf("telegram: %w", ctx.Err())
	}
}

func renderText(msg transport.Message) string {
	var b strings.Builder
	if msg.Test {
		b.WriteString("[test] ")
	}
	b.WriteString("⏰ ")
	b.WriteString(msg.Title)
	if msg.Body != "" {
		b.WriteString("\n")
		b.WriteString(msg.Body)
	}
	b.WriteString("\n")
	b.WriteString(msg.FireAt.Format(time.RFC1123))
	return b.String()
}
