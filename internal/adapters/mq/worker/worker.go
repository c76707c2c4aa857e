// Package worker runs one consumer per ingest partition.
package worker

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/okian/fieldguard/internal/adapters/mq/queue"
	"github.com/okian/fieldguard/pkg/logger"
	"github.com/okian/fieldguard/pkg/metrics"
)

// Default worker configuration constants.
const (
	metricsUpdateInterval = 5 * time.Second
	poolShutdownTimeout   = 30 * time.Second
)

// Processor handles one job. It must not retain the job's Reply channel.
type Processor interface {
	Process(ctx context.Context, job queue.Job) queue.Result
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, job queue.Job) queue.Result

// Process calls f.
func (f ProcessorFunc) Process(ctx context.Context, job queue.Job) queue.Result {
	return f(ctx, job)
}

// Partitioned is the part of the queue workers read from.
type Partitioned interface {
	Partition(i int) <-chan queue.Job
	Partitions() int
}

// Worker drains a single partition.
type Worker interface {
	// Run processes jobs until the partition is closed and empty, or ctx is
	// canceled.
	Run(ctx context.Context)

	// Shutdown waits for Run to return.
	Shutdown(ctx context.Context) error
}

// PartitionWorker implements Worker for one partition.
type PartitionWorker struct {
	jobs      <-chan queue.Job
	processor Processor
	name      string

	done chan struct{}

	logger logger.Logger
}

// NewPartitionWorker creates a worker reading from jobs.
func NewPartitionWorker(jobs <-chan queue.Job, processor Processor, opts ...Option) *PartitionWorker {
	w := &PartitionWorker{
		jobs:      jobs,
		processor: processor,
		name:      "worker",
		done:      make(chan struct{}),
		logger:    logger.Get().Named("worker"),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.name != "worker" {
		w.logger = w.logger.Named(w.name)
	}
	return w
}

// Run starts the worker loop. Jobs already queued when the partition closes
// are still processed.
func (w *PartitionWorker) Run(ctx context.Context) {
	defer close(w.done)

	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-w.jobs:
			if !ok {
				return
			}
			w.handle(ctx, job)
		}
	}
}

// Shutdown waits for the worker to finish or ctx to expire.
func (w *PartitionWorker) Shutdown(ctx context.Context) error {
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

func (w *PartitionWorker) handle(ctx context.Context, job queue.Job) {
	start := time.Now()
	defer func() {
		metrics.RecordWorkerProcessingLatency(float64(time.Since(start).Milliseconds()))
	}()

	res := w.safeProcess(ctx, job)
	if res.Err != nil {
		metrics.RecordWorkerError()
		metrics.RecordErrorByComponent("worker", "process_error")
		w.logger.Error(ctx, "ingest job failed",
			logger.String("employeeId", job.EmployeeID),
			logger.Int("samples", len(job.Samples)),
			logger.Error(res.Err),
		)
	}

	if job.Reply != nil {
		select {
		case job.Reply <- res:
		default:
			w.logger.Warn(ctx, "reply dropped", logger.String("employeeId", job.EmployeeID))
		}
	}
}

// safeProcess keeps one bad batch from taking the partition down.
func (w *PartitionWorker) safeProcess(ctx context.Context, job queue.Job) (res queue.Result) {
	defer func() {
		if r := recover(); r != nil {
			res = queue.Result{Err: fmt.Errorf("panic processing %s: %v", job.EmployeeID, r)}
		}
	}()
	return w.processor.Process(ctx, job)
}

// Pool owns one worker per partition.
type Pool struct {
	workers []*PartitionWorker
	queue   Partitioned

	shutdown     chan struct{}
	shutdownOnce sync.Once

	logger logger.Logger
}

// NewPool creates a worker for every partition of q.
func NewPool(q Partitioned, processor Processor) *Pool {
	n := q.Partitions()
	pool := &Pool{
		workers:  make([]*PartitionWorker, n),
		queue:    q,
		shutdown: make(chan struct{}),
		logger:   logger.Get().Named("worker-pool"),
	}
	for i := 0; i < n; i++ {
		pool.workers[i] = NewPartitionWorker(
			q.Partition(i),
			processor,
			WithName("partition-"+strconv.Itoa(i)),
		)
	}
	metrics.UpdateWorkerCount(n)
	return pool
}

// Size returns the number of workers.
func (p *Pool) Size() int { return len(p.workers) }

// Start starts all workers in the pool.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		go w.Run(ctx)
	}
	go p.startMetricsUpdater(ctx)
}

func (p *Pool) startMetricsUpdater(ctx context.Context) {
	depths, ok := p.queue.(interface{ Depths() []int })
	if !ok {
		return
	}
	ticker := time.NewTicker(metricsUpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.shutdown:
			return
		case <-ticker.C:
			for i, d := range depths.Depths() {
				metrics.UpdatePartitionDepth(strconv.Itoa(i), d)
			}
		}
	}
}

// Shutdown closes the queue (when it can be closed) and waits for every
// worker to drain its partition.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.shutdownOnce.Do(func() { close(p.shutdown) })

	if closer, ok := p.queue.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			p.logger.Error(ctx, "error closing queue", logger.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()

	var firstErr error
	for i, w := range p.workers {
		if err := w.Shutdown(shutdownCtx); err != nil {
			p.logger.Warn(ctx, "worker shutdown timed out", logger.Int("worker_id", i))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	metrics.UpdateWorkerCount(0)
	return firstErr
}
