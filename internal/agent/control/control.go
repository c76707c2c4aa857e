// Package control lets one-shot field-agent commands reach a running agent.
// The agent owns the offline store while it runs, so other processes send
// their work over a local unix socket instead of opening the store.
package control

import (
	"context"
	"errors"

	"github.com/okian/fieldguard/internal/agent/client"
	"github.com/okian/fieldguard/internal/agent/replay"
	"github.com/okian/fieldguard/internal/agent/status"
	"github.com/okian/fieldguard/internal/domain/model"
)

var (
	// ErrNotRunning means nothing is listening on the control socket.
	ErrNotRunning = errors.New("agent is not running")
	// ErrAlreadyRunning means another agent holds the control socket.
	ErrAlreadyRunning = errors.New("agent is already running")
)

// Agent is the set of operations served over the socket. Both the running
// agent and Client implement it.
type Agent interface {
	RecordFix(ctx context.Context, s model.LocationSample) error
	Clock(ctx context.Context, kind model.ActionKind, lat, lon float64) ClockOutcome
	Sync(ctx context.Context) (replay.Report, error)
	Health(ctx context.Context) (status.Health, error)
	Login(ctx context.Context, token string) error
	Logout(ctx context.Context) error
}

// ClockOutcome is a clock result in a form that survives the socket.
type ClockOutcome struct {
	State           status.State            `json:"state"`
	Message         string                  `json:"message"`
	Attendance      *model.Attendance       `json:"attendance,omitempty"`
	GeofenceWarning *client.GeofenceWarning `json:"geofenceWarning,omitempty"`
	PendingID       uint64                  `json:"pendingId,omitempty"`
	Error           string                  `json:"error,omitempty"`
}

// Outcome flattens a tracker result.
func Outcome(res status.Result[client.ClockResponse]) ClockOutcome {
	out := ClockOutcome{State: res.State, Message: res.Message()}
	switch res.State {
	case status.StateSuccess:
		att := res.Value.Attendance
		out.Attendance = &att
		out.GeofenceWarning = res.Value.GeofenceWarning
	case status.StatePending:
		out.PendingID = res.PendingID
	default:
		out.Error = out.Message
	}
	return out
}

// Err is non-nil only for an action that will not be retried.
func (o ClockOutcome) Err() error {
	if o.State != status.StateError {
		return nil
	}
	return errors.New(o.Message)
}

// SyncResult is the reply to a sync request.
type SyncResult struct {
	Report replay.Report `json:"report"`
	Error  string        `json:"error,omitempty"`
}

type clockRequest struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type loginRequest struct {
	Token string `json:"token"`
}

type errorReply struct {
	Error string `json:"error"`
}
