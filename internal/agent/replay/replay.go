// Package replay drains the device's offline queue against the API: clock
// actions strictly in order, then location samples in batches.
package replay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/okian/fieldguard/internal/agent/client"
	"github.com/okian/fieldguard/internal/domain/model"
	"github.com/okian/fieldguard/pkg/logger"
	"github.com/okian/fieldguard/pkg/metrics"
)

// Queue is the part of the offline store a run needs.
type Queue interface {
	PendingActions(ctx context.Context, limit int) ([]model.PendingAttendanceAction, error)
	DeleteAction(ctx context.Context, id uint64) error
	MarkFailed(ctx context.Context, id uint64, cause string) error
	PendingSamples(ctx context.Context, limit int) ([]model.PendingLocationSample, error)
	DeleteSamples(ctx context.Context, ids ...uint64) error
	Counts(ctx context.Context) (actions, samples int, err error)
}

// API is the part of the HTTP client a run needs.
type API interface {
	Clock(ctx context.Context, a model.PendingAttendanceAction) (client.ClockResponse, error)
	UploadLocations(ctx context.Context, samples []model.LocationSample) (client.UploadResult, error)
}

// Refresher is asked for a new token after a 401.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// Report summarizes one run.
type Report struct {
	Applied         int           `json:"applied"`
	Reconciled      int           `json:"reconciled"`
	Dropped         int           `json:"dropped"`
	SamplesUploaded int           `json:"samplesUploaded"`
	Halted          bool          `json:"halted"`
	PendingActions  int           `json:"pendingActions"`
	PendingSamples  int           `json:"pendingSamples"`
	Took            time.Duration `json:"took"`
}

// Processed counts actions removed from the queue by this run.
func (r Report) Processed() int { return r.Applied + r.Reconciled + r.Dropped }

// Coordinator runs replays. Concurrent Run calls share one in-flight run.
type Coordinator struct {
	queue     Queue
	api       API
	refresher Refresher

	actionLimit int
	sampleBatch int

	group  singleflight.Group
	logger logger.Logger
}

// New creates a coordinator.
func New(queue Queue, api API, opts ...Option) *Coordinator {
	c := &Coordinator{
		queue:       queue,
		api:         api,
		actionLimit: 50,
		sampleBatch: 500,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logger.Get().Named("replay")
	}
	return c
}

// Run drains the queue once. A halted run returns the error that halted it
// together with everything it already removed; the next run resumes from
// what is left. Samples are still uploaded after a halt unless the session
// was rejected.
func (c *Coordinator) Run(ctx context.Context) (Report, error) {
	v, err, shared := c.group.Do("replay", func() (any, error) {
		return c.run(ctx)
	})
	if shared {
		c.logger.Debug(ctx, "joined in-flight replay")
	}
	rep, _ := v.(Report)
	return rep, err
}

func (c *Coordinator) run(ctx context.Context) (rep Report, err error) {
	start := time.Now()
	defer func() {
		rep.Took = time.Since(start)
		if a, s, cerr := c.queue.Counts(context.WithoutCancel(ctx)); cerr == nil {
			rep.PendingActions, rep.PendingSamples = a, s
			metrics.UpdatePending(a, s)
		}
		metrics.RecordReplayRun(runOutcome(rep, err))
	}()

	actions, err := c.queue.PendingActions(ctx, c.actionLimit)
	if err != nil {
		return rep, fmt.Errorf("read pending actions: %w", err)
	}

	var actionErr error
	for _, a := range actions {
		halt, err := c.replayAction(ctx, a, &rep)
		if halt {
			rep.Halted = true
			actionErr = err
			break
		}
	}

	// Samples do not depend on action order, so a stuck action only holds
	// back the actions behind it. A rejected session or a cancelled run
	// stops everything.
	if actionErr != nil && (client.Classify(actionErr) == client.ClassAuth || ctx.Err() != nil) {
		return rep, actionErr
	}
	if err := c.drainSamples(ctx, &rep); err != nil {
		return rep, errors.Join(actionErr, err)
	}
	if actionErr != nil {
		return rep, actionErr
	}

	if rep.Processed() > 0 || rep.SamplesUploaded > 0 {
		c.logger.Info(ctx, "replay finished",
			logger.Int("applied", rep.Applied),
			logger.Int("reconciled", rep.Reconciled),
			logger.Int("dropped", rep.Dropped),
			logger.Int("samples", rep.SamplesUploaded),
		)
	}
	return rep, nil
}

// replayAction handles one action and reports whether the run must stop.
func (c *Coordinator) replayAction(ctx context.Context, a model.PendingAttendanceAction, rep *Report) (bool, error) {
	if err := ctx.Err(); err != nil {
		return true, err
	}

	_, err := c.api.Clock(ctx, a)
	class := client.Classify(err)
	metrics.RecordReplayAction(string(class))

	fields := []logger.Field{
		logger.Any("actionId", a.ID),
		logger.String("action", string(a.Kind)),
		logger.String("idempotencyKey", a.IdempotencyKey),
	}

	switch class {
	case client.ClassNone:
		rep.Applied++
		return c.remove(ctx, a.ID)

	case client.ClassReconciledConflict:
		c.logger.Info(ctx, "action already applied on server", fields...)
		rep.Reconciled++
		return c.remove(ctx, a.ID)

	case client.ClassTransient, client.ClassServer:
		c.logger.Warn(ctx, "replay halted, will retry", append(fields, logger.Error(err))...)
		if merr := c.queue.MarkFailed(context.WithoutCancel(ctx), a.ID, err.Error()); merr != nil {
			return true, errors.Join(err, merr)
		}
		return true, err

	case client.ClassAuth:
		c.logger.Warn(ctx, "replay halted on authentication", fields...)
		if c.refresher != nil {
			if rerr := c.refresher.Refresh(ctx); rerr != nil {
				return true, rerr
			}
		}
		return true, err

	default:
		c.logger.Warn(ctx, "dropping rejected action", append(fields, logger.Error(err))...)
		rep.Dropped++
		return c.remove(ctx, a.ID)
	}
}

func (c *Coordinator) remove(ctx context.Context, id uint64) (bool, error) {
	if err := c.queue.DeleteAction(context.WithoutCancel(ctx), id); err != nil {
		return true, fmt.Errorf("delete action %d: %w", id, err)
	}
	return false, nil
}

func (c *Coordinator) drainSamples(ctx context.Context, rep *Report) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		pending, err := c.queue.PendingSamples(ctx, c.sampleBatch)
		if err != nil {
			return fmt.Errorf("read pending samples: %w", err)
		}
		if len(pending) == 0 {
			return nil
		}

		batch := make([]model.LocationSample, len(pending))
		ids := make([]uint64, len(pending))
		for i := range pending {
			batch[i] = pending[i].LocationSample
			ids[i] = pending[i].ID
		}

		if _, err := c.api.UploadLocations(ctx, batch); err != nil {
			c.logger.Warn(ctx, "location upload failed, samples kept",
				logger.Int("batch", len(batch)),
				logger.Error(err),
			)
			if client.Classify(err) == client.ClassAuth && c.refresher != nil {
				if rerr := c.refresher.Refresh(ctx); rerr != nil {
					return rerr
				}
			}
			return err
		}
		if err := c.queue.DeleteSamples(context.WithoutCancel(ctx), ids...); err != nil {
			return fmt.Errorf("delete uploaded samples: %w", err)
		}
		rep.SamplesUploaded += len(batch)
		metrics.RecordSamplesUploaded(len(batch))

		if len(pending) < c.sampleBatch {
			return nil
		}
	}
}

func runOutcome(rep Report, err error) string {
	switch {
	case err != nil:
		return "halted"
	case rep.Processed() == 0 && rep.SamplesUploaded == 0:
		return "empty"
	default:
		return "ok"
	}
}
