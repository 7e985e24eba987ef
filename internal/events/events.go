// Package events publishes job lifecycle events to RabbitMQ.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/lingosub/internal/config"
	"github.com/lingosub/pkg/logger"
)

// Type names a lifecycle transition.
type Type string

const (
	JobQueued    Type = "job.queued"
	JobCompleted Type = "job.completed"
	JobFailed    Type = "job.failed"
	CacheDeleted Type = "cache.deleted"
)

// Event is the message body published for each transition.
type Event struct {
	ID        string    `json:"id"`
	Type      Type      `json:"type"`
	JobID     string    `json:"job_id"`
	Source    string    `json:"source,omitempty"`
	Message   string    `json:"message,omitempty"`
	Lines     int       `json:"lines,omitempty"`
	Cache     string    `json:"cache,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// New stamps an event with an id and the current time.
func New(typ Type, jobID string) Event {
	return Event{ID: uuid.NewString(), Type: typ, JobID: jobID, Timestamp: time.Now().UTC()}
}

// Publisher delivers events. Publishing never blocks job processing on
// broker failures.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }

// RabbitPublisher publishes JSON events to a durable queue.
type RabbitPublisher struct {
	url   string
	queue string

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

// Open returns a RabbitMQ publisher when events are enabled, Nop otherwise.
func Open(cfg config.EventsConfig) (Publisher, error) {
	if !cfg.Enabled {
		return Nop{}, nil
	}
	p := &RabbitPublisher{url: cfg.URL, queue: cfg.Queue}
	if err := p.connect(); err != nil {
		return nil, err
	}
	logger.Infof("📣 Publishing job events to queue %s", cfg.Queue)
	return p, nil
}

func (p *RabbitPublisher) connect() error {
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return fmt.Errorf("connect rabbitmq: %w", err)
	}
	p.conn = conn
	if err := p.openChannel(); err != nil {
		conn.Close()
		p.conn = nil
		return err
	}
	return nil
}

// openChannel opens a channel on the current connection and declares the queue.
func (p *RabbitPublisher) openChannel() error {
	ch, err := p.conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(p.queue, true, false, false, false, nil); err != nil {
		ch.Close()
		return fmt.Errorf("declare queue %s: %w", p.queue, err)
	}
	p.ch = ch
	return nil
}

type repair int

const (
	repairNone repair = iota
	repairChannel
	repairConnection
)

// repairFor picks what to reopen. A channel exception closes only the
// channel and leaves the connection usable.
func repairFor(connDown, chDown bool) repair {
	switch {
	case connDown:
		return repairConnection
	case chDown:
		return repairChannel
	default:
		return repairNone
	}
}

// Publish sends one event, reopening the channel or connection if either
// was closed.
func (p *RabbitPublisher) Publish(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	switch repairFor(p.conn == nil || p.conn.IsClosed(), p.ch == nil || p.ch.IsClosed()) {
	case repairConnection:
		if p.ch != nil {
			_ = p.ch.Close()
		}
		if err := p.connect(); err != nil {
			return err
		}
	case repairChannel:
		logger.Warnf("⚠️ Event channel closed, reopening")
		if err := p.openChannel(); err != nil {
			return err
		}
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    ev.ID,
		Type:         string(ev.Type),
		Timestamp:    ev.Timestamp,
		Body:         body,
	}
	if err := p.ch.PublishWithContext(ctx, "", p.queue, false, false, msg); err != nil {
		return fmt.Errorf("publish %s: %w", ev.Type, err)
	}
	logger.Debugf("📣 Event %s for %s", ev.Type, ev.JobID)
	return nil
}

// Close closes the channel and connection.
func (p *RabbitPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
