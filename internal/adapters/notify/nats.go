// Copyright 2025 James Ross
// Package notify implements ports.Notifier over NATS core pub/sub as a
// best-effort wake signal: workers subscribe once and drain job-kind
// hints off a channel instead of sleeping out their full poll-backoff
// interval.
package notify

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/clipforge/pipeline/internal/config"
)

// NATS publishes and subscribes to a single wake subject.
type NATS struct {
	conn    *nats.Conn
	subject string
}

func New(cfg config.NotifierConfig) (*NATS, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("notify: nats url not configured")
	}
	conn, err := nats.Connect(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("notify: connect to nats: %w", err)
	}
	subject := cfg.Subject
	if subject == "" {
		subject = "clipforge.jobs.wake"
	}
	return &NATS{conn: conn, subject: subject}, nil
}

func (n *NATS) Notify(ctx context.Context, kind string) error {
	if err := n.conn.Publish(n.subject, []byte(kind)); err != nil {
		return fmt.Errorf("notify: publish: %w", err)
	}
	return nil
}

// Subscribe returns a channel fed with job-kind hints until ctx is
// canceled, at which point the subscription is drained and closed.
func (n *NATS) Subscribe(ctx context.Context) (<-chan string, error) {
	out := make(chan string, 16)
	sub, err := n.conn.Subscribe(n.subject, func(msg *nats.Msg) {
		select {
		case out <- string(msg.Data):
		default:
		}
	})
	if err != nil {
		close(out)
		return nil, fmt.Errorf("notify: subscribe: %w", err)
	}

	go func() {
		<-ctx.Done()
		_ = sub.Unsubscribe()
		close(out)
	}()

	return out, nil
}

func (n *NATS) Close() error {
	n.conn.Close()
	return nil
}
