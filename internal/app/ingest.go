package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	eventqueue "github.com/okian/fieldguard/internal/adapters/mq/queue"
	"github.com/okian/fieldguard/internal/domain/model"
	"github.com/okian/fieldguard/pkg/logger"
	"github.com/okian/fieldguard/pkg/metrics"
)

// IngestBatch is one upload from a device.
type IngestBatch struct {
	DeviceID  string                 `json:"deviceId"`
	Locations []model.LocationSample `json:"locations"`
}

// IngestResult reports how many samples the server now holds. Duplicates
// are included in Synced: they were stored by an earlier delivery.
type IngestResult struct {
	Synced     int `json:"synced"`
	Duplicates int `json:"duplicates"`
}

// Ingest validates a batch and hands it to the employee's partition, waiting
// for the worker to finish with it.
func (s *Service) Ingest(ctx context.Context, employeeID string, batch IngestBatch) (IngestResult, error) {
	if !s.isStarted() {
		return IngestResult{}, ErrNotStarted
	}
	if err := s.validateBatch(employeeID, &batch); err != nil {
		metrics.RecordErrorByComponent("ingest", "validation")
		return IngestResult{}, err
	}

	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, s.ingestTimeout)
	defer cancel()

	job := eventqueue.NewJob(employeeID, batch.Locations)
	if err := s.queue.Enqueue(ctx, job); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return IngestResult{}, fmt.Errorf("%w: waiting for partition", ErrIngestTimeout)
		}
		return IngestResult{}, fmt.Errorf("enqueue batch: %w", err)
	}

	select {
	case res := <-job.Reply:
		metrics.RecordIngestBatch(len(batch.Locations), float64(time.Since(start).Milliseconds()))
		out := IngestResult{Synced: res.Synced, Duplicates: res.Duplicates}
		if res.Err != nil {
			return out, res.Err
		}
		s.logger.Debug(ctx, "batch ingested",
			logger.String("employeeId", employeeID),
			logger.Int("synced", out.Synced),
			logger.Int("duplicates", out.Duplicates),
		)
		return out, nil
	case <-ctx.Done():
		// The worker still finishes the batch; a retry is absorbed by dedupe.
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return IngestResult{}, fmt.Errorf("%w: waiting for worker", ErrIngestTimeout)
		}
		return IngestResult{}, ctx.Err()
	}
}

func (s *Service) validateBatch(employeeID string, batch *IngestBatch) error {
	switch {
	case strings.TrimSpace(employeeID) == "":
		return model.Invalid("employeeId", "is required")
	case len(batch.Locations) == 0:
		return model.Invalid("locations", "must not be empty")
	case len(batch.Locations) > s.maxBatchSize:
		return model.Invalid("locations", fmt.Sprintf("at most %d per batch", s.maxBatchSize))
	}

	for i := range batch.Locations {
		loc := &batch.Locations[i]
		if err := loc.Validate(); err != nil {
			var ve *model.ValidationError
			if errors.As(err, &ve) {
				return model.Invalid(fmt.Sprintf("locations[%d].%s", i, ve.Field), ve.Reason)
			}
			return err
		}
		if loc.DeviceID == "" {
			loc.DeviceID = batch.DeviceID
		}
	}
	return nil
}
