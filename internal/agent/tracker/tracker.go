// Package tracker is the agent's front door: it accepts location fixes and
// clock actions, writes them to the offline store before any network
// attempt, and keeps the tracking-health snapshot current.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/okian/fieldguard/internal/agent/client"
	"github.com/okian/fieldguard/internal/agent/replay"
	"github.com/okian/fieldguard/internal/agent/status"
	"github.com/okian/fieldguard/internal/agent/store"
	"github.com/okian/fieldguard/internal/domain/geo"
	"github.com/okian/fieldguard/internal/domain/model"
	"github.com/okian/fieldguard/pkg/logger"
)

// Store is the offline store as the tracker uses it.
type Store interface {
	AppendAction(ctx context.Context, a model.PendingAttendanceAction) (model.PendingAttendanceAction, error)
	DeleteAction(ctx context.Context, id uint64) error
	MarkFailed(ctx context.Context, id uint64, cause string) error
	AppendSample(ctx context.Context, s model.LocationSample) (model.PendingLocationSample, error)
	Counts(ctx context.Context) (actions, samples int, err error)
	PutTime(ctx context.Context, key string, t time.Time) error
	Time(ctx context.Context, key string) (time.Time, error)
	PutMeta(ctx context.Context, key string, value []byte) error
	Meta(ctx context.Context, key string) ([]byte, error)
	Token(ctx context.Context) (string, error)
}

// API submits a clock action.
type API interface {
	Clock(ctx context.Context, a model.PendingAttendanceAction) (client.ClockResponse, error)
}

// Replayer drains the queue.
type Replayer interface {
	Run(ctx context.Context) (replay.Report, error)
}

// Tracker coordinates fixes, clock actions and sync for one device.
type Tracker struct {
	store    Store
	api      API
	replayer Replayer
	health   *status.Broadcaster
	now      func() time.Time
	logger   logger.Logger

	// clockMu keeps the pending check and the immediate attempt of one
	// action from interleaving with another.
	clockMu sync.Mutex

	mu           sync.Mutex
	lastAccuracy float64
	mockDetected bool
	lastError    string
}

// New creates a tracker.
func New(st Store, api API, replayer Replayer, opts ...Option) *Tracker {
	t := &Tracker{
		store:    st,
		api:      api,
		replayer: replayer,
		health:   status.NewBroadcaster(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.logger == nil {
		t.logger = logger.Get().Named("tracker")
	}
	return t
}

// RecordFix queues a location fix for upload.
func (t *Tracker) RecordFix(ctx context.Context, s model.LocationSample) error {
	if s.RecordedAt.IsZero() {
		s.RecordedAt = t.now().UTC()
	}
	if _, err := t.store.AppendSample(ctx, s); err != nil {
		return err
	}
	if err := t.store.PutTime(ctx, store.MetaLastFix, s.RecordedAt); err != nil {
		return err
	}

	t.mu.Lock()
	t.lastAccuracy = 0
	if s.Accuracy != nil {
		t.lastAccuracy = *s.Accuracy
	}
	if s.IsMock && !t.mockDetected {
		t.logger.Warn(ctx, "mock location provider reported")
	}
	t.mockDetected = t.mockDetected || s.IsMock
	t.mu.Unlock()

	t.publish(ctx)
	return nil
}

// ClockIn records a time-in now.
func (t *Tracker) ClockIn(ctx context.Context, lat, lon float64) status.Result[client.ClockResponse] {
	return t.clock(ctx, model.ActionTimeIn, lat, lon)
}

// ClockOut records a time-out now.
func (t *Tracker) ClockOut(ctx context.Context, lat, lon float64) status.Result[client.ClockResponse] {
	return t.clock(ctx, model.ActionTimeOut, lat, lon)
}

// clock persists the action first, then tries it once. Only a retryable
// failure (or a lost session) leaves it queued. While older actions wait for
// replay the new one is queued behind them without an attempt, so the
// server always sees actions in the order they were taken.
func (t *Tracker) clock(ctx context.Context, kind model.ActionKind, lat, lon float64) (res status.Result[client.ClockResponse]) {
	defer t.publish(ctx)
	defer func() { t.saveResult(ctx, res) }()

	if !(geo.Point{Lat: lat, Lon: lon}).Valid() {
		return status.Failure[client.ClockResponse](model.Invalid("latitude/longitude", "out of range"))
	}

	t.clockMu.Lock()
	defer t.clockMu.Unlock()

	queued, _, err := t.store.Counts(ctx)
	if err != nil {
		return status.Failure[client.ClockResponse](fmt.Errorf("count pending actions: %w", err))
	}
	a, err := t.store.AppendAction(ctx, model.PendingAttendanceAction{
		Kind:            kind,
		Latitude:        lat,
		Longitude:       lon,
		ActionTimestamp: t.now().UTC(),
	})
	if err != nil {
		return status.Failure[client.ClockResponse](fmt.Errorf("queue action: %w", err))
	}
	if queued > 0 {
		t.logger.Info(ctx, "clock action queued behind pending actions",
			logger.String("action", string(kind)),
			logger.Int("ahead", queued),
		)
		return status.Pending[client.ClockResponse](a.ID, ErrQueuedBehind)
	}

	resp, err := t.api.Clock(ctx, a)
	bg := context.WithoutCancel(ctx)
	switch class := client.Classify(err); class {
	case client.ClassNone:
		if derr := t.store.DeleteAction(bg, a.ID); derr != nil {
			t.logger.Error(ctx, "delete applied action", logger.Error(derr))
		}
		t.setError("")
		return status.Success(resp)

	case client.ClassTransient, client.ClassServer:
		if merr := t.store.MarkFailed(bg, a.ID, err.Error()); merr != nil {
			t.logger.Error(ctx, "mark action failed", logger.Error(merr))
		}
		t.setError(err.Error())
		t.logger.Info(ctx, "clock action queued for replay",
			logger.String("action", string(kind)),
			logger.String("class", string(class)),
		)
		return status.Pending[client.ClockResponse](a.ID, err)

	case client.ClassAuth:
		t.setError(err.Error())
		return status.Pending[client.ClockResponse](a.ID, err)

	default:
		if derr := t.store.DeleteAction(bg, a.ID); derr != nil {
			t.logger.Error(ctx, "delete rejected action", logger.Error(derr))
		}
		return status.Failure[client.ClockResponse](err)
	}
}

func (t *Tracker) saveResult(ctx context.Context, res status.Result[client.ClockResponse]) {
	if err := t.store.PutMeta(context.WithoutCancel(ctx), store.MetaLastResult, []byte(res.Message())); err != nil {
		t.logger.Warn(ctx, "saving last result", logger.Error(err))
	}
}

// Sync runs one replay and records when it last succeeded.
func (t *Tracker) Sync(ctx context.Context) (replay.Report, error) {
	defer t.publish(ctx)

	rep, err := t.replayer.Run(ctx)
	if err != nil {
		t.setError(err.Error())
		return rep, err
	}
	t.setError("")
	if perr := t.store.PutTime(ctx, store.MetaLastSync, t.now().UTC()); perr != nil {
		return rep, perr
	}
	return rep, nil
}

// Health builds the current snapshot from the store.
func (t *Tracker) Health(ctx context.Context) (status.Health, error) {
	actions, samples, err := t.store.Counts(ctx)
	if err != nil {
		return status.Health{}, err
	}
	lastFix, err := t.store.Time(ctx, store.MetaLastFix)
	if err != nil {
		return status.Health{}, err
	}
	lastSync, err := t.store.Time(ctx, store.MetaLastSync)
	if err != nil {
		return status.Health{}, err
	}
	tok, err := t.store.Token(ctx)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return status.Health{}, err
	}
	last, err := t.store.Meta(ctx, store.MetaLastResult)
	if err != nil {
		return status.Health{}, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	return status.Health{
		LastFixAt:      lastFix,
		LastSyncAt:     lastSync,
		PendingActions: actions,
		PendingSamples: samples,
		Accuracy:       status.AccuracyFor(t.lastAccuracy),
		AccuracyMeters: t.lastAccuracy,
		MockDetected:   t.mockDetected,
		LoggedIn:       tok != "",
		LastError:      t.lastError,
		LastResult:     string(last),
	}, nil
}

// Subscribe follows health snapshots.
func (t *Tracker) Subscribe() (<-chan status.Health, func()) {
	return t.health.Subscribe()
}

// Close ends every health subscription.
func (t *Tracker) Close() {
	t.health.Close()
}

func (t *Tracker) setError(msg string) {
	t.mu.Lock()
	t.lastError = msg
	t.mu.Unlock()
}

func (t *Tracker) publish(ctx context.Context) {
	h, err := t.Health(context.WithoutCancel(ctx))
	if err != nil {
		t.logger.Warn(ctx, "health snapshot failed", logger.Error(err))
		return
	}
	t.health.Publish(h)
}
