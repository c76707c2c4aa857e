package control

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"

	"github.com/okian/fieldguard/internal/agent/replay"
	"github.com/okian/fieldguard/internal/agent/status"
	"github.com/okian/fieldguard/internal/domain/model"
)

// The host part is ignored; every request goes to the socket.
const baseURL = "http://field-agent"

// Client talks to a running agent.
type Client struct {
	http *http.Client
}

// Dial connects to the agent listening on path. It returns ErrNotRunning
// when nothing answers there.
func Dial(ctx context.Context, path string) (*Client, error) {
	c := &Client{http: &http.Client{Transport: &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", path)
		},
	}}}
	if _, err := c.Health(ctx); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// Close releases idle connections.
func (c *Client) Close() {
	c.http.CloseIdleConnections()
}

// RecordFix implements Agent.
func (c *Client) RecordFix(ctx context.Context, s model.LocationSample) error {
	return c.do(ctx, http.MethodPost, "/fixes", s, nil)
}

// Clock implements Agent. A transport failure is reported as an error
// outcome: the action never reached the agent.
func (c *Client) Clock(ctx context.Context, kind model.ActionKind, lat, lon float64) ClockOutcome {
	path := "/clock/in"
	if kind == model.ActionTimeOut {
		path = "/clock/out"
	}
	var out ClockOutcome
	if err := c.do(ctx, http.MethodPost, path, clockRequest{Latitude: lat, Longitude: lon}, &out); err != nil {
		return ClockOutcome{State: status.StateError, Message: err.Error(), Error: err.Error()}
	}
	return out
}

// Sync implements Agent.
func (c *Client) Sync(ctx context.Context) (replay.Report, error) {
	var out SyncResult
	if err := c.do(ctx, http.MethodPost, "/sync", nil, &out); err != nil {
		return replay.Report{}, err
	}
	if out.Error != "" {
		return out.Report, errors.New(out.Error)
	}
	return out.Report, nil
}

// Health implements Agent.
func (c *Client) Health(ctx context.Context) (status.Health, error) {
	var h status.Health
	err := c.do(ctx, http.MethodGet, "/health", nil, &h)
	return h, err
}

// Login implements Agent.
func (c *Client) Login(ctx context.Context, token string) error {
	return c.do(ctx, http.MethodPost, "/login", loginRequest{Token: token}, nil)
}

// Logout implements Agent.
func (c *Client) Logout(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/logout", nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		var op *net.OpError
		if errors.As(err, &op) && op.Op == "dial" {
			return fmt.Errorf("%w: %w", ErrNotRunning, err)
		}
		return fmt.Errorf("control %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= http.StatusBadRequest {
		var reply errorReply
		if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil || reply.Error == "" {
			return fmt.Errorf("control %s: HTTP %d", path, resp.StatusCode)
		}
		return errors.New(reply.Error)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s reply: %w", path, err)
	}
	return nil
}
