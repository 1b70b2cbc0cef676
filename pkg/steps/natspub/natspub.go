// Package natspub fans step events out to NATS so external observers can
// follow a session's reasoning without polling the HTTP API.
package natspub

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/rhuss/codegate/pkg/debug"
	"github.com/rhuss/codegate/pkg/steps"
)

// DefaultSubjectPrefix is prepended to the session ID to form the subject.
const DefaultSubjectPrefix = "codegate.steps"

// Config configures the publisher.
type Config struct {
	URL           string
	SubjectPrefix string
	Name          string
}

type publishConn interface {
	Publish(subject string, data []byte) error
}

// Publisher publishes each step as JSON on "<prefix>.<session id>".
type Publisher struct {
	conn   publishConn
	nc     *nats.Conn
	prefix string
}

var _ steps.Publisher = (*Publisher)(nil)

// Connect dials the NATS server and returns a Publisher. Reconnects are
// handled by the client; publishes during an outage are buffered by it.
func Connect(cfg Config) (*Publisher, error) {
	name := cfg.Name
	if name == "" {
		name = "codegate"
	}
	nc, err := nats.Connect(cfg.URL,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			slog.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats at %s: %w", cfg.URL, err)
	}
	p := newPublisher(nc, cfg.SubjectPrefix)
	p.nc = nc
	return p, nil
}

func newPublisher(conn publishConn, prefix string) *Publisher {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &Publisher{conn: conn, prefix: strings.TrimSuffix(prefix, ".")}
}

// Subject returns the subject used for a session.
func (p *Publisher) Subject(sessionID string) string {
	return p.prefix + "." + sessionID
}

// Publish sends ev. Failures are logged and dropped.
func (p *Publisher) Publish(ev steps.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		slog.Warn("encoding step event", "session_id", ev.SessionID, "error", err)
		return
	}
	subject := p.Subject(ev.SessionID)
	if err := p.conn.Publish(subject, data); err != nil {
		slog.Warn("publishing step event", "subject", subject, "error", err)
		return
	}
	debug.Log("steps", "published", "subject", subject, "seq", ev.Seq, "kind", ev.Step.Kind)
}

// Close drains pending messages and closes the connection.
func (p *Publisher) Close() error {
	if p.nc == nil {
		return nil
	}
	return p.nc.Drain()
}
