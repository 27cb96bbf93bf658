// Package notify delivers probe outcomes to Telegram recipients or a NATS subject.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hazz-dev/slotprobe/internal/config"
	"github.com/hazz-dev/slotprobe/internal/evidence"
)

// Message is what a run reports. Debug marks routine outcomes (no slots,
// errors) as opposed to an availability alert.
type Message struct {
	Text     string
	Evidence evidence.Artifact
	Debug    bool
}

// Notifier delivers a Message once. Implementations do not retry.
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// New returns the Notifier selected by the configuration. Pass nil logger to
// use the default logger.
func New(cfg config.NotifierConfig, logger *slog.Logger) (Notifier, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch cfg.Type {
	case config.NotifierTelegram:
		t, err := NewTelegram(cfg.Telegram, logger)
		if err != nil {
			return nil, err
		}
		return t, nil
	case config.NotifierNATS:
		return NewBus(cfg.NATS, logger), nil
	default:
		return nil, fmt.Errorf("unknown notifier type %q", cfg.Type)
	}
}
