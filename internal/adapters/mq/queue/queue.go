// Package queue partitions ingest work by employee so that each employee's
// samples are handled by exactly one consumer, in arrival order.
package queue

import (
	"context"
	"fmt"
	"hash/fnv"
	"strconv"
	"sync"
	"time"

	"github.com/okian/fieldguard/internal/domain/model"
	"github.com/okian/fieldguard/pkg/metrics"
)

// Default queue configuration constants.
const (
	defaultPartitions    = 8
	defaultPartitionSize = 1024
)

// Job is one employee's batch waiting to be scored and persisted.
type Job struct {
	EmployeeID string
	Samples    []model.LocationSample
	Enqueued   time.Time

	// Reply receives exactly one Result. It must be buffered so a consumer
	// never blocks on a caller that has already given up.
	Reply chan Result
}

// Result is the outcome of a Job.
type Result struct {
	Synced     int
	Duplicates int
	Err        error
}

// NewJob builds a Job with a ready reply channel.
func NewJob(employeeID string, samples []model.LocationSample) Job {
	return Job{
		EmployeeID: employeeID,
		Samples:    samples,
		Enqueued:   time.Now(),
		Reply:      make(chan Result, 1),
	}
}

// Queue routes jobs to partitions and exposes each partition to one consumer.
type Queue interface {
	// Enqueue blocks until the job's partition has room, ctx is done or the
	// queue is closed.
	Enqueue(ctx context.Context, j Job) error

	// Partition returns the receive side of partition i. It is closed when the
	// queue is closed and drained.
	Partition(i int) <-chan Job

	// Partitions returns the partition count.
	Partitions() int

	// Len returns the number of queued jobs across all partitions.
	Len(ctx context.Context) int

	// Close stops accepting jobs. Queued jobs remain readable.
	Close() error

	// IsClosed reports whether Close has been called.
	IsClosed() bool
}

// PartitionedQueue implements Queue with one buffered channel per partition.
type PartitionedQueue struct {
	partitions    []chan Job
	count         int
	partitionSize int

	mu        sync.RWMutex
	closed    bool
	done      chan struct{}
	closeOnce sync.Once
}

// NewPartitionedQueue creates a queue with configuration options.
func NewPartitionedQueue(opts ...Option) *PartitionedQueue {
	q := &PartitionedQueue{
		count:         defaultPartitions,
		partitionSize: defaultPartitionSize,
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}

	q.partitions = make([]chan Job, q.count)
	for i := range q.partitions {
		q.partitions[i] = make(chan Job, q.partitionSize)
		metrics.UpdatePartitionDepth(strconv.Itoa(i), 0)
	}
	metrics.UpdateQueueCapacity(q.partitionSize)

	return q
}

// PartitionFor maps an employee to a partition index in [0, n).
func PartitionFor(employeeID string, n int) int {
	if n <= 1 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(employeeID))
	return int(h.Sum32() % uint32(n)) //nolint:gosec // n is a small positive partition count
}

// Enqueue adds a job to its employee's partition.
func (q *PartitionedQueue) Enqueue(ctx context.Context, j Job) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		metrics.RecordQueueEnqueueError("closed")
		return ErrClosed
	}

	idx := PartitionFor(j.EmployeeID, q.count)
	select {
	case q.partitions[idx] <- j:
		metrics.RecordQueueEnqueue()
		metrics.UpdatePartitionDepth(strconv.Itoa(idx), len(q.partitions[idx]))
		return nil
	case <-ctx.Done():
		metrics.RecordQueueEnqueueError("context_cancelled")
		return fmt.Errorf("enqueue for %s: %w", j.EmployeeID, ctx.Err())
	case <-q.done:
		metrics.RecordQueueEnqueueError("closed")
		return ErrClosed
	}
}

// Partition returns the receive side of partition i.
func (q *PartitionedQueue) Partition(i int) <-chan Job {
	return q.partitions[i]
}

// Partitions returns the partition count.
func (q *PartitionedQueue) Partitions() int {
	return q.count
}

// Len returns the current number of queued jobs.
func (q *PartitionedQueue) Len(_ context.Context) int {
	total := 0
	for _, p := range q.partitions {
		total += len(p)
	}
	return total
}

// Depths reports the backlog of every partition.
func (q *PartitionedQueue) Depths() []int {
	out := make([]int, len(q.partitions))
	for i, p := range q.partitions {
		out[i] = len(p)
	}
	return out
}

// Close stops accepting jobs and closes every partition once in-flight
// enqueues have returned.
func (q *PartitionedQueue) Close() error {
	q.closeOnce.Do(func() {
		close(q.done)

		q.mu.Lock()
		defer q.mu.Unlock()
		q.closed = true
		for _, p := range q.partitions {
			close(p)
		}
	})
	return nil
}

// IsClosed returns true if the queue has been closed.
func (q *PartitionedQueue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}
