package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"github.com/hazz-dev/slotprobe/internal/config"
)

// Sender is the subset of *tele.Bot used to deliver messages.
type Sender interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

// chat is a Telegram chat id or @channel username.
type chat string

func (c chat) Recipient() string { return string(c) }

// Telegram sends each message to an ordered list of chats.
type Telegram struct {
	sender     Sender
	recipients []string
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// NewTelegram creates a Telegram notifier backed by the Bot API.
func NewTelegram(cfg config.TelegramConfig, logger *slog.Logger) (*Telegram, error) {
	if len(cfg.Recipients) == 0 {
		return nil, errors.New("telegram: no recipients configured")
	}
	bot, err := tele.NewBot(tele.Settings{
		URL:     cfg.APIURL,
		Token:   cfg.Token,
		Client:  &http.Client{Timeout: 30 * time.Second},
		Offline: true,
	})
	if err != nil {
		return nil, fmt.Errorf("creating telegram bot: %w", err)
	}
	limit := rate.Limit(cfg.RatePerSecond)
	if cfg.RatePerSecond <= 0 {
		limit = rate.Inf
	}
	return NewTelegramWithSender(bot, cfg.Recipients, rate.NewLimiter(limit, 1), logger)
}

// NewTelegramWithSender creates a Telegram notifier with a custom sender (for testing).
// A nil limiter disables pacing.
func NewTelegramWithSender(sender Sender, recipients []string, limiter *rate.Limiter, logger *slog.Logger) (*Telegram, error) {
	if len(recipients) == 0 {
		return nil, errors.New("telegram: no recipients configured")
	}
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 1)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Telegram{
		sender:     sender,
		recipients: recipients,
		limiter:    limiter,
		logger:     logger.With("component", "notify", "notifier", "telegram"),
	}, nil
}

// Notify sends the text and, when present, the screenshot to every
// recipient in order. A failing recipient does not stop delivery to the
// others; all failures are returned joined.
func (t *Telegram) Notify(ctx context.Context, msg Message) error {
	var errs []error
	for _, r := range t.recipients {
		if err := t.deliver(ctx, r, msg); err != nil {
			t.logger.Error("sending telegram message", "recipient", r, "error", err)
			errs = append(errs, fmt.Errorf("recipient %s: %w", r, err))
			if ctx.Err() != nil {
				break
			}
			continue
		}
		t.logger.Info("telegram message sent", "recipient", r, "photo", msg.Evidence.Present())
	}
	return errors.Join(errs...)
}

func (t *Telegram) deliver(ctx context.Context, recipient string, msg Message) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return err
	}
	if _, err := t.sender.Send(chat(recipient), msg.Text); err != nil {
		return fmt.Errorf("sending text: %w", err)
	}

	if !msg.Evidence.Present() {
		t.logger.Warn("there is no screenshot to send", "recipient", recipient)
		return nil
	}

	if err := t.limiter.Wait(ctx); err != nil {
		return err
	}
	photo := &tele.Photo{File: tele.FromReader(bytes.NewReader(msg.Evidence.Bytes()))}
	if _, err := t.sender.Send(chat(recipient), photo); err != nil {
		return fmt.Errorf("sending screenshot: %w", err)
	}
	return nil
}
