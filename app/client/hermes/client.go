// Package hermes publishes conversation events to NATS for downstream
// consumers such as clinician dashboards.
package hermes

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
	"triagecall/app/config"

	"github.com/nats-io/nats.go"
	"github.com/samber/do"
)

const (
	SubjectSessionFinalized = "triage.session.finalized"
	SubjectDiagnosisReached = "triage.diagnosis.reached"
)

// SessionFinalized is published when a session ends and its bullets are
// committed to the caller's record.
type SessionFinalized struct {
	CallerID  string    `json:"caller_id"`
	SessionID string    `json:"session_id"`
	Channel   string    `json:"channel"`
	Reason    string    `json:"reason"`
	State     string    `json:"state"`
	Turns     int       `json:"turns"`
	At        time.Time `json:"at"`
}

type DiagnosisReached struct {
	CallerID  string    `json:"caller_id"`
	SessionID string    `json:"session_id"`
	Diagnosis string    `json:"diagnosis"`
	At        time.Time `json:"at"`
}

var _ do.Shutdownable = (*Client)(nil)

// Client is a no-op when no NATS url is configured.
type Client struct {
	conn *nats.Conn
}

func New(di *do.Injector) (*Client, error) {
	ctx := do.MustInvoke[context.Context](di)
	cfg := do.MustInvoke[*config.Config](di)

	if cfg.NATS.URL == "" {
		slog.Info("NATS url is not set, events are not published")
		return &Client{}, nil
	}

	return NewClient(ctx, cfg.NATS.URL, cfg.NATS.Token)
}

func NewClient(_ context.Context, url, token string) (*Client, error) {
	opts := []nats.Option{
		nats.Name("triagecall"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("NATS disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			slog.Info("NATS reconnected")
		}),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	return &Client{conn: nc}, nil
}

func (c *Client) Enabled() bool {
	return c != nil && c.conn != nil
}

func (c *Client) Publish(subject string, data any) error {
	if !c.Enabled() {
		return nil
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	if err = c.conn.Publish(subject, payload); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}

	return nil
}

func (c *Client) Shutdown() error {
	if !c.Enabled() {
		return nil
	}

	return c.conn.Drain()
}
