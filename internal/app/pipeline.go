package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	eventqueue "github.com/okian/fieldguard/internal/adapters/mq/queue"
	repository "github.com/okian/fieldguard/internal/adapters/repository"
	"github.com/okian/fieldguard/internal/domain/dedupe"
	"github.com/okian/fieldguard/internal/domain/model"
	"github.com/okian/fieldguard/internal/domain/scoring"
	"github.com/okian/fieldguard/pkg/logger"
	"github.com/okian/fieldguard/pkg/metrics"
)

// Pipeline scores and persists one employee's samples in arrival order. It
// is the worker.Processor for every ingest partition.
type Pipeline struct {
	store   repository.SampleStore
	scorer  scoring.Scorer
	deduper dedupe.Deduper
	alerts  *Broadcaster
	now     func() time.Time
	logger  logger.Logger
}

// NewPipeline wires the ingest steps.
func NewPipeline(store repository.SampleStore, scorer scoring.Scorer, deduper dedupe.Deduper, alerts *Broadcaster) *Pipeline {
	return &Pipeline{
		store:   store,
		scorer:  scorer,
		deduper: deduper,
		alerts:  alerts,
		now:     time.Now,
		logger:  logger.Get().Named("ingest"),
	}
}

// Process handles a job. On a storage failure it stops at the failing sample;
// everything before it stays persisted and the rest can be re-sent.
func (p *Pipeline) Process(ctx context.Context, job eventqueue.Job) eventqueue.Result {
	var res eventqueue.Result
	for i := range job.Samples {
		dup, err := p.ingestOne(ctx, job.EmployeeID, job.Samples[i])
		if err != nil {
			res.Err = fmt.Errorf("sample %d of %d: %w", i+1, len(job.Samples), err)
			return res
		}
		if dup {
			res.Duplicates++
		}
		// Duplicates were already synced once; the client may drop them.
		res.Synced++
	}
	return res
}

func (p *Pipeline) ingestOne(ctx context.Context, employeeID string, s model.LocationSample) (bool, error) {
	key := model.IdentityKey(employeeID, &s)
	if p.deduper != nil && p.deduper.SeenAndRecord(ctx, key) {
		metrics.RecordSampleDuplicate()
		return true, nil
	}

	prev, err := p.store.LatestSample(ctx, employeeID)
	if err != nil {
		p.forget(ctx, key)
		return false, fmt.Errorf("load previous sample: %w", err)
	}
	var previous *model.LocationSample
	if prev != nil {
		previous = &prev.LocationSample
	}

	assessment := p.scorer.Score(&s, previous)
	now := p.now().UTC()
	stored := model.StoredSample{
		LocationSample: s,
		ID:             uuid.NewString(),
		EmployeeID:     employeeID,
		RiskScore:      assessment.Score,
		SyncedAt:       now,
	}
	records := make([]model.AlertRecord, 0, len(assessment.Alerts))
	for _, a := range assessment.Alerts {
		records = append(records, model.AlertRecord{
			ID:         uuid.NewString(),
			EmployeeID: employeeID,
			SampleID:   stored.ID,
			Type:       a.Type,
			Severity:   assessment.Severity,
			RiskScore:  assessment.Score,
			Details:    a.Details,
			Latitude:   s.Latitude,
			Longitude:  s.Longitude,
			CreatedAt:  now,
		})
	}

	switch err := p.store.SaveScored(ctx, stored, records); {
	case errors.Is(err, repository.ErrDuplicate):
		metrics.RecordSampleDuplicate()
		return true, nil
	case err != nil:
		p.forget(ctx, key)
		return false, fmt.Errorf("persist sample: %w", err)
	}

	metrics.RecordSampleIngested(assessment.Score)
	for _, r := range records {
		metrics.RecordAlert(string(r.Type), string(r.Severity))
	}
	if len(records) > 0 {
		p.logger.Info(ctx, "spoofing signals raised",
			logger.String("employeeId", employeeID),
			logger.Int("riskScore", assessment.Score),
			logger.String("severity", string(assessment.Severity)),
			logger.Int("alerts", len(records)),
		)
		if p.alerts != nil {
			p.alerts.Publish(records...)
		}
	}
	return false, nil
}

// forget lets a sample whose write failed be retried.
func (p *Pipeline) forget(ctx context.Context, key string) {
	if p.deduper != nil {
		p.deduper.Unrecord(ctx, key)
	}
}
