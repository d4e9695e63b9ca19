package nats

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

// EventHandler receives the wire name and JSON payload of a job event.
type EventHandler func(name string, data []byte)

// Client talks to a spagmon bridge over NATS.
type Client struct {
	conn   *nats.Conn
	logger *slog.Logger
}

// Connect dials the NATS server at url.
func Connect(url string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := nats.Connect(url,
		nats.Name("spagmon-client"),
		nats.Timeout(5*time.Second),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(5),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}

	return &Client{
		conn:   conn,
		logger: logger.With("component", "nats-client"),
	}, nil
}

// Instruct sends an instruction to a job and returns the supervisor's message.
func (c *Client) Instruct(ctx context.Context, job, instruction string) (string, error) {
	data, err := InstructRequest{Job: job, Instruction: instruction}.Marshal()
	if err != nil {
		return "", err
	}
	reply, err := c.request(ctx, SubjectInstruct, data)
	if err != nil {
		return "", err
	}
	return reply.Message, reply.Err()
}

// RestartProcess asks the supervisor to replace the process with pid.
func (c *Client) RestartProcess(ctx context.Context, pid int) error {
	data, err := RestartRequest{PID: pid}.Marshal()
	if err != nil {
		return err
	}
	reply, err := c.request(ctx, SubjectRestart, data)
	if err != nil {
		return err
	}
	return reply.Err()
}

func (c *Client) request(ctx context.Context, subject string, data []byte) (Reply, error) {
	msg, err := c.conn.RequestWithContext(ctx, subject, data)
	if err != nil {
		return Reply{}, fmt.Errorf("request %s: %w", subject, err)
	}
	return UnmarshalReply(msg.Data)
}

// SubscribeEvents calls handler for every job event until the returned
// function is called.
func (c *Client) SubscribeEvents(handler EventHandler) (func(), error) {
	sub, err := c.conn.Subscribe(SubjectEventsPrefix+".>", func(msg *nats.Msg) {
		handler(strings.TrimPrefix(msg.Subject, SubjectEventsPrefix+"."), msg.Data)
	})
	if err != nil {
		return nil, err
	}
	if err := c.conn.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return nil, err
	}
	return func() { _ = sub.Unsubscribe() }, nil
}

// IsConnected reports whether the client is connected.
func (c *Client) IsConnected() bool {
	return c.conn != nil && c.conn.IsConnected()
}

// Close closes the connection.
func (c *Client) Close() {
	if c.conn != nil {
		c.conn.Close()
		c.logger.Debug("NATS client closed")
	}
}
