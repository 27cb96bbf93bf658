package notify

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/hazz-dev/slotprobe/internal/config"
)

// Payload is the JSON document published on the bus.
type Payload struct {
	Debug   bool   `json:"debug"`
	Message string `json:"message"`
	Image   string `json:"image"`
}

// NewPayload builds the bus payload. Image is the base64 screenshot, or
// empty when there is none.
func NewPayload(msg Message) Payload {
	p := Payload{Debug: msg.Debug, Message: msg.Text}
	if msg.Evidence.Present() {
		p.Image = base64.StdEncoding.EncodeToString(msg.Evidence.Bytes())
	}
	return p
}

// Conn is the subset of *nats.Conn used to publish a result.
type Conn interface {
	Publish(subj string, data []byte) error
	FlushWithContext(ctx context.Context) error
	Close()
}

// Connector opens a bus connection.
type Connector func() (Conn, error)

// Bus publishes each message once on a NATS subject.
type Bus struct {
	subject string
	timeout time.Duration
	connect Connector
	logger  *slog.Logger
}

// NewBus creates a Bus notifier that dials cfg.URL for every message.
func NewBus(cfg config.NATSConfig, logger *slog.Logger) *Bus {
	connect := func() (Conn, error) {
		nc, err := nats.Connect(cfg.URL,
			nats.Name("slotprobe"),
			nats.Timeout(cfg.Timeout.Duration),
		)
		if err != nil {
			return nil, fmt.Errorf("connecting to nats at %s: %w", cfg.URL, err)
		}
		return nc, nil
	}
	return NewBusWithConnector(cfg.Subject, cfg.Timeout.Duration, connect, logger)
}

// NewBusWithConnector creates a Bus notifier with a custom connector (for testing).
func NewBusWithConnector(subject string, timeout time.Duration, connect Connector, logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Bus{
		subject: subject,
		timeout: timeout,
		connect: connect,
		logger:  logger.With("component", "notify", "notifier", "nats"),
	}
}

// Notify publishes the payload, flushes, and closes the connection.
func (b *Bus) Notify(ctx context.Context, msg Message) error {
	if !msg.Evidence.Present() {
		b.logger.Warn("there is no screenshot to send")
	}

	data, err := json.Marshal(NewPayload(msg))
	if err != nil {
		return fmt.Errorf("marshaling payload: %w", err)
	}

	conn, err := b.connect()
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := conn.Publish(b.subject, data); err != nil {
		return fmt.Errorf("publishing to %q: %w", b.subject, err)
	}

	fctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	if err := conn.FlushWithContext(fctx); err != nil {
		return fmt.Errorf("flushing %q: %w", b.subject, err)
	}

	b.logger.Info("result published", "subject", b.subject, "debug", msg.Debug, "bytes", len(data))
	return nil
}
