package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// Event names emitted by the timesync core.
const (
	EventPulseBroadcast  = "pulse.broadcast"
	EventCapsuleUnlocked = "capsule.unlocked"
)

// Notifier is the external notification sink. Implementations must be
// fire-and-forget: a slow or failing sink never blocks or fails the caller.
type Notifier interface {
	Notify(ctx context.Context, event string, payload interface{}) error
}

type envelope struct {
	EventID   string      `json:"eventId"`
	Event     string      `json:"event"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// NATSNotifier publishes notification events to NATS subjects
// "<prefix>.<event>". Publishes are buffered in the client; delivery is
// best effort.
type NATSNotifier struct {
	nc            *nats.Conn
	subjectPrefix string
	logger        *slog.Logger
}

func NewNATSNotifier(url, subjectPrefix string, logger *slog.Logger) (*NATSNotifier, error) {
	opts := []nats.Option{
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Error("NATS disconnected", slog.Any("error", err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", slog.String("url", nc.ConnectedUrl()))
		}),
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	return &NATSNotifier{
		nc:            nc,
		subjectPrefix: subjectPrefix,
		logger:        logger,
	}, nil
}

func (n *NATSNotifier) Notify(ctx context.Context, event string, payload interface{}) error {
	data, err := json.Marshal(envelope{
		EventID:   uuid.New().String(),
		Event:     event,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	subject := fmt.Sprintf("%s.%s", n.subjectPrefix, event)
	if err := n.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}

	n.logger.Debug("notification published",
		slog.String("subject", subject),
		slog.Int("size", len(data)))
	return nil
}

// Close drains and closes the NATS connection.
func (n *NATSNotifier) Close() {
	if n.nc != nil {
		n.nc.Close()
	}
}

// MockNotifier logs notifications instead of delivering them. Used in
// development and when NATS is not configured.
type MockNotifier struct {
	logger *slog.Logger
}

func NewMockNotifier(logger *slog.Logger) *MockNotifier {
	return &MockNotifier{logger: logger}
}

func (m *MockNotifier) Notify(ctx context.Context, event string, payload interface{}) error {
	m.logger.Info("notification", slog.String("event", event), slog.Any("payload", payload))
	return nil
}
