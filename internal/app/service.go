// Package service provides the core business service behind the HTTP API:
// location ingest, geofence checks, attendance and reporting.
package service

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"runtime"
	"sync"
	"time"

	eventqueue "github.com/okian/fieldguard/internal/adapters/mq/queue"
	workerpool "github.com/okian/fieldguard/internal/adapters/mq/worker"
	repository "github.com/okian/fieldguard/internal/adapters/repository"
	"github.com/okian/fieldguard/internal/domain/attendance"
	"github.com/okian/fieldguard/internal/domain/dedupe"
	"github.com/okian/fieldguard/internal/domain/model"
	"github.com/okian/fieldguard/internal/domain/scoring"
	"github.com/okian/fieldguard/pkg/logger"
	"github.com/okian/fieldguard/pkg/metrics"
)

const employeeLockStripes = 64

// Service implements the API dependencies for field attendance and location
// integrity.
type Service struct {
	mu sync.RWMutex

	// Core components
	store    repository.Store
	deduper  dedupe.Deduper
	queue    *eventqueue.PartitionedQueue
	pool     *workerpool.Pool
	pipeline *Pipeline
	scorer   scoring.Scorer
	alerts   *Broadcaster

	// Configuration
	partitionCount int
	partitionSize  int
	dedupeSize     int
	maxBatchSize   int
	ingestTimeout  time.Duration
	maxClockSkew   time.Duration
	policy         model.GeofencePolicy
	rules          attendance.Rules
	now            func() time.Time

	// Attendance read-modify-write is serialized per employee.
	employeeLocks [employeeLockStripes]sync.Mutex

	// State
	started bool

	// Logging
	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithPartitionCount sets the number of ingest partitions and workers.
func WithPartitionCount(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.partitionCount = n
		}
	}
}

// WithPartitionQueueSize sets the backlog each partition can hold.
func WithPartitionQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.partitionSize = size
		}
	}
}

// WithDedupeSize sets the size of the sample identity cache.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.dedupeSize = size
		}
	}
}

// WithMaxBatchSize caps samples per ingest call.
func WithMaxBatchSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxBatchSize = n
		}
	}
}

// WithIngestTimeout bounds how long Ingest waits for its batch.
func WithIngestTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.ingestTimeout = d
		}
	}
}

// WithGeofencePolicy sets the enforcement policy for attendance actions.
func WithGeofencePolicy(p model.GeofencePolicy) Option {
	return func(s *Service) {
		s.policy = p
	}
}

// WithAttendanceRules sets office hours and thresholds.
func WithAttendanceRules(r attendance.Rules) Option {
	return func(s *Service) {
		s.rules = r
	}
}

// WithScorer replaces the risk scoring engine.
func WithScorer(sc scoring.Scorer) Option {
	return func(s *Service) {
		if sc != nil {
			s.scorer = sc
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// New constructs a Service over store. The service owns the store from here
// on and closes it in Stop.
func New(store repository.Store, opts ...Option) *Service {
	s := &Service{
		store:          store,
		partitionCount: runtime.NumCPU() * 2,
		partitionSize:  1024,
		dedupeSize:     500000,
		maxBatchSize:   500,
		ingestTimeout:  30 * time.Second,
		maxClockSkew:   5 * time.Minute,
		policy:         model.PolicyWarn,
		rules:          attendance.DefaultRules(),
		scorer:         scoring.NewEngine(),
		alerts:         NewBroadcaster(),
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}
	return s
}

// Start initializes and starts the ingest workers.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.store == nil {
		return errors.New("service: nil store")
	}
	s.logger.Info(ctx, "starting fieldguard service...")

	s.deduper = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.dedupeSize))
	s.queue = eventqueue.NewPartitionedQueue(
		eventqueue.WithPartitions(s.partitionCount),
		eventqueue.WithPartitionSize(s.partitionSize),
	)
	s.pipeline = NewPipeline(s.store, s.scorer, s.deduper, s.alerts)
	s.pipeline.now = s.now
	s.pool = workerpool.NewPool(s.queue, s.pipeline)

	// Workers outlive the request that started the service.
	s.pool.Start(context.WithoutCancel(ctx))

	s.started = true
	s.logger.Info(ctx, "fieldguard service started",
		logger.Int("partitions", s.partitionCount),
		logger.Int("partitionQueueSize", s.partitionSize),
		logger.Int("dedupeSize", s.dedupeSize),
		logger.String("geofencePolicy", string(s.policy)),
	)
	return nil
}

// Stop drains in-flight ingest, closes live alert streams and the store.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}
	s.logger.Info(ctx, "stopping fieldguard service...")

	var errs []error
	if err := s.pool.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("worker pool: %w", err))
	}
	s.alerts.Close()
	if err := s.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store: %w", err))
	}

	s.started = false
	s.logger.Info(ctx, "fieldguard service stopped")
	return errors.Join(errs...)
}

// Alerts exposes the live alert broadcaster.
func (s *Service) Alerts() *Broadcaster { return s.alerts }

// SubscribeAlerts registers a live alert subscriber.
func (s *Service) SubscribeAlerts(buffer int) (<-chan model.AlertRecord, func()) {
	return s.alerts.Subscribe(buffer)
}

// Policy returns the active geofence enforcement policy.
func (s *Service) Policy() model.GeofencePolicy { return s.policy }

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]interface{}{
		"started":        s.started,
		"partitions":     s.partitionCount,
		"partitionSize":  s.partitionSize,
		"dedupeSize":     s.dedupeSize,
		"maxBatchSize":   s.maxBatchSize,
		"geofencePolicy": s.policy,
		"subscribers":    s.alerts.Subscribers(),
	}
	if s.started {
		depths := s.queue.Depths()
		queued := 0
		for _, d := range depths {
			queued += d
		}
		stats["queueLength"] = queued
		stats["partitionDepths"] = depths
		stats["dedupeEntries"] = s.deduper.Size()
		metrics.UpdateWorkerCount(s.pool.Size())
	}
	return stats
}

func (s *Service) isStarted() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.started
}

func (s *Service) lockEmployee(employeeID string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(employeeID))
	m := &s.employeeLocks[h.Sum32()%employeeLockStripes]
	m.Lock()
	return m.Unlock
}
