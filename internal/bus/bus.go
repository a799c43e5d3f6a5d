// Package bus publishes pipeline lifecycle events over NATS so external
// collaborators (dashboards, delivery services) can react without polling
// the task database. The bus is optional: with no URL configured every
// publish is a no-op.
package bus

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"currents/internal/config"
	"currents/internal/logging"
)

// Event is one lifecycle notification.
type Event struct {
	Type        string    `json:"type"`
	Stage       string    `json:"stage,omitempty"`
	TaskID      int64     `json:"task_id,omitempty"`
	WorkerID    string    `json:"worker_id,omitempty"`
	Processed   int       `json:"processed,omitempty"`
	Failed      int       `json:"failed,omitempty"`
	Attempt     int       `json:"attempt,omitempty"`
	ErrorDetail string    `json:"error,omitempty"`
	At          time.Time `json:"at"`
}

// Event types emitted by the pipeline.
const (
	EventTaskClaimed   = "task.claimed"
	EventTaskCompleted = "task.completed"
	EventTaskRetried   = "task.retried"
	EventTaskFailed    = "task.failed"
)

// Publisher emits lifecycle events.
type Publisher interface {
	Publish(event Event)
	Close()
}

// Connect builds a publisher from configuration. An empty URL yields a
// no-op publisher.
func Connect(cfg *config.Config, logger *slog.Logger) (Publisher, error) {
	url := strings.TrimSpace(cfg.Bus.URL)
	if url == "" {
		return NopPublisher{}, nil
	}

	conn, err := nats.Connect(url,
		nats.Name("currents"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect event bus: %w", err)
	}

	prefix := strings.TrimSpace(cfg.Bus.SubjectPrefix)
	if prefix == "" {
		prefix = "currents"
	}
	return &natsPublisher{
		conn:   conn,
		prefix: strings.TrimRight(prefix, "."),
		logger: logging.NewComponentLogger(logger, "bus"),
	}, nil
}

type natsPublisher struct {
	conn   *nats.Conn
	prefix string
	logger *slog.Logger
}

// Publish emits the event on "<prefix>.<type>". Publish failures are logged
// and dropped; the bus is advisory and must never stall the pipeline.
func (p *natsPublisher) Publish(event Event) {
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}
	data, err := json.Marshal(event)
	if err != nil {
		p.logger.Warn("encode event failed", logging.Error(err))
		return
	}
	subject := p.prefix + "." + event.Type
	if err := p.conn.Publish(subject, data); err != nil {
		p.logger.Warn("publish event failed",
			logging.String("subject", subject),
			logging.Error(err))
	}
}

func (p *natsPublisher) Close() {
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
	}
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(Event) {}
func (NopPublisher) Close()        {}
