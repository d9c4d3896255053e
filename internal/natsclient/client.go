// Package natsclient wraps the NATS JetStream connection used for
// asynchronous notification delivery.
package natsclient

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// Config holds NATS connection settings.
type Config struct {
	URL  string
	Name string
}

// Client is a JetStream publisher over a single NATS connection.
type Client struct {
	conn *nats.Conn
	js   nats.JetStreamContext
}

// Connect dials NATS and opens a JetStream context.
func Connect(cfg Config) (*Client, error) {
	conn, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open JetStream context: %w", err)
	}

	return &Client{conn: conn, js: js}, nil
}

// Publish sends a message to a JetStream subject, bounded by ctx.
func (c *Client) Publish(ctx context.Context, subject string, data []byte) error {
	_, err := c.js.Publish(subject, data, nats.Context(ctx))
	return err
}

// Close drains and closes the connection.
func (c *Client) Close() {
	if c.conn == nil {
		return
	}
	_ = c.conn.Drain()
	c.conn.Close()
}
