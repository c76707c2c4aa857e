// Package client is the field agent's view of the fieldguard HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/okian/fieldguard/internal/domain/model"
	"github.com/okian/fieldguard/pkg/logger"
)

const maxErrorBody = 64 << 10

// TokenSource returns the current bearer token.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// ClockRequest is the body of a time-in or time-out.
type ClockRequest struct {
	Latitude  float64    `json:"latitude"`
	Longitude float64    `json:"longitude"`
	DeviceID  string     `json:"deviceId,omitempty"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// ClockResponse is the server's reply to a clock action.
type ClockResponse struct {
	model.Attendance
	GeofenceWarning *GeofenceWarning `json:"geofenceWarning,omitempty"`
}

// GeofenceWarning is returned under WARN policy outside every zone.
type GeofenceWarning struct {
	Message   string                   `json:"message"`
	Policy    model.GeofencePolicy     `json:"policy"`
	Geofences []model.GeofenceDistance `json:"geofences"`
}

// UploadResult is the reply to a location batch.
type UploadResult struct {
	Synced     int `json:"synced"`
	Duplicates int `json:"duplicates"`
}

type uploadRequest struct {
	DeviceID  string                 `json:"deviceId,omitempty"`
	Locations []model.LocationSample `json:"locations"`
}

type errorReply struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Client calls the fieldguard API.
type Client struct {
	baseURL  string
	http     *http.Client
	timeout  time.Duration
	tokens   TokenSource
	deviceID string
	logger   logger.Logger
}

// New creates a client for the API rooted at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 20 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.timeout > 0 {
		// Work on a copy; the caller may share its *http.Client.
		hc := *c.http
		hc.Timeout = c.timeout
		c.http = &hc
	}
	if c.logger == nil {
		c.logger = logger.Get().Named("client")
	}
	return c
}

// DeviceID returns the configured device id.
func (c *Client) DeviceID() string { return c.deviceID }

// Clock submits a pending action. The idempotency key travels as a header so
// the server can correlate replays.
func (c *Client) Clock(ctx context.Context, a model.PendingAttendanceAction) (ClockResponse, error) {
	path := "/api/v1/attendance/time-in"
	if a.Kind == model.ActionTimeOut {
		path = "/api/v1/attendance/time-out"
	}
	at := a.ActionTimestamp
	body := ClockRequest{
		Latitude:  a.Latitude,
		Longitude: a.Longitude,
		DeviceID:  c.deviceID,
		Timestamp: &at,
	}
	header := http.Header{}
	if a.IdempotencyKey != "" {
		header.Set("Idempotency-Key", a.IdempotencyKey)
	}

	var out ClockResponse
	err := c.do(ctx, http.MethodPost, path, header, body, &out, a.Kind)
	return out, err
}

// UploadLocations sends one batch of samples.
func (c *Client) UploadLocations(ctx context.Context, samples []model.LocationSample) (UploadResult, error) {
	var out UploadResult
	err := c.do(ctx, http.MethodPost, "/api/v1/locations/batch", nil,
		uploadRequest{DeviceID: c.deviceID, Locations: samples}, &out, "")
	return out, err
}

// Today returns today's record, or nil when there is none.
func (c *Client) Today(ctx context.Context) (*model.Attendance, error) {
	var out model.Attendance
	err := c.do(ctx, http.MethodGet, "/api/v1/attendance/today", nil, nil, &out, "")
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Ping probes /healthz. It is the connectivity check, so it never needs a
// token.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", http.NoBody)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTransient, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
	if resp.StatusCode != http.StatusOK {
		return classifyStatus(resp.StatusCode, "", resp.Status, "")
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, header http.Header, in, out any, kind model.ActionKind) error {
	var body io.Reader = http.NoBody
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%w: encode: %w", ErrValidation, err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrValidation, err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.tokens != nil {
		tok, err := c.tokens.Token(ctx)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %w", ErrTransient, method, path, err)
	}
	defer resp.Body.Close()

	c.logger.Debug(ctx, "api call",
		logger.String("method", method),
		logger.String("path", path),
		logger.Int("status", resp.StatusCode),
		logger.Duration("took", time.Since(start)),
	)

	if resp.StatusCode >= http.StatusBadRequest {
		var reply errorReply
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		if jsonErr := json.Unmarshal(raw, &reply); jsonErr != nil || reply.Message == "" {
			reply.Message = strings.TrimSpace(string(raw))
		}
		return classifyStatus(resp.StatusCode, reply.Code, reply.Message, kind)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s: %w", ErrTransient, path, err)
	}
	return nil
}
