// Package notifybus publishes task-graph domain events onto NATS
// subjects for external subscribers (dashboards, worker pools). Adapted
// directly from internal/nats/client.go's Client wrapper: same
// reconnect-forever options and PublishJSON convenience method,
// narrowed to the two event types this spec defines (§4.3's "ready"
// transition and §4.6's reap outcome) instead of the teacher's general
// pub/sub/request surface.
package notifybus

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	nc "github.com/nats-io/nats.go"
)

const (
	SubjectTaskReady = "tasks.ready"
	SubjectRunReaped = "runs.reaped"
)

// Bus wraps a NATS connection scoped to the notify-bus subjects.
type Bus struct {
	conn *nc.Conn
}

// Connect dials url with the same indefinite-reconnect policy the
// teacher's NATS client uses.
func Connect(url string) (*Bus, error) {
	opts := []nc.Option{
		nc.ReconnectWait(2 * time.Second),
		nc.MaxReconnects(-1),
		nc.DisconnectErrHandler(func(_ *nc.Conn, err error) {
			if err != nil {
				log.Printf("[NOTIFYBUS] disconnected: %v", err)
			}
		}),
		nc.ReconnectHandler(func(c *nc.Conn) {
			log.Printf("[NOTIFYBUS] reconnected to %s", c.ConnectedUrl())
		}),
		nc.ClosedHandler(func(*nc.Conn) {
			log.Printf("[NOTIFYBUS] connection closed")
		}),
	}
	conn, err := nc.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return &Bus{conn: conn}, nil
}

func (b *Bus) Close() {
	if b != nil && b.conn != nil {
		b.conn.Close()
	}
}

// TaskReadyEvent is the payload PublishTaskReady sends on tasks.ready. No
// code in this module calls PublishTaskReady; txgraphd publishes only
// runs.reaped.
type TaskReadyEvent struct {
	TaskID    string    `json:"taskId"`
	Score     int       `json:"score"`
	Reason    string    `json:"reason"` // "created" | "blocker_done"
	Timestamp time.Time `json:"timestamp"`
}

// RunReapedEvent is published whenever the reaper terminates a stalled
// run, per spec scenario 3.
type RunReapedEvent struct {
	RunID             string    `json:"runId"`
	TaskID            string    `json:"taskId"`
	ProcessTerminated bool      `json:"processTerminated"`
	TaskReset         bool      `json:"taskReset"`
	Timestamp         time.Time `json:"timestamp"`
}

func (b *Bus) PublishTaskReady(e TaskReadyEvent) error {
	return b.publishJSON(SubjectTaskReady, e)
}

func (b *Bus) PublishRunReaped(e RunReapedEvent) error {
	return b.publishJSON(SubjectRunReaped, e)
}

func (b *Bus) publishJSON(subject string, v any) error {
	if b == nil || b.conn == nil {
		return nil // notify bus is an optional collaborator, per §9
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", subject, err)
	}
	if err := b.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}
	return nil
}
