// Package scheduler runs the agent's background work: periodic tasks,
// one-shot triggers and a connectivity watch that fires network tasks when
// the server becomes reachable again. Every run retries with capped
// exponential backoff, and runs of the same task never overlap.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/okian/fieldguard/pkg/logger"
)

// Task is a unit of background work.
type Task struct {
	Name string
	Run  func(ctx context.Context) error

	// Interval schedules periodic runs. Zero means trigger-only.
	Interval time.Duration

	// NeedsNetwork makes every attempt wait for a successful probe.
	NeedsNetwork bool
}

// Prober checks server reachability.
type Prober interface {
	Ping(ctx context.Context) error
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Scheduler owns the registered tasks.
type Scheduler struct {
	probe Prober

	mu    sync.RWMutex
	tasks map[string]Task
	order []string

	initial    time.Duration
	max        time.Duration
	maxRetries uint64
	probeEvery time.Duration

	flight   singleflight.Group
	triggers chan string
	online   atomic.Bool

	logger logger.Logger
}

// New creates a scheduler. probe may be nil when every task is local.
func New(probe Prober, opts ...Option) *Scheduler {
	s := &Scheduler{
		probe:      probe,
		tasks:      make(map[string]Task),
		initial:    30 * time.Second,
		max:        30 * time.Minute,
		maxRetries: 8,
		probeEvery: 30 * time.Second,
		triggers:   make(chan string, 16),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("scheduler")
	}
	return s
}

// Register adds a task.
func (s *Scheduler) Register(t Task) error {
	if t.Name == "" || t.Run == nil {
		return fmt.Errorf("register: task needs a name and a func")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[t.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateTask, t.Name)
	}
	s.tasks[t.Name] = t
	s.order = append(s.order, t.Name)
	return nil
}

func (s *Scheduler) task(name string) (Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[name]
	if !ok {
		return Task{}, fmt.Errorf("%w: %s", ErrUnknownTask, name)
	}
	return t, nil
}

// Trigger asks a running scheduler for an immediate run of name. It does not
// wait; a trigger while one is already queued is coalesced.
func (s *Scheduler) Trigger(name string) error {
	if _, err := s.task(name); err != nil {
		return err
	}
	select {
	case s.triggers <- name:
	default:
	}
	return nil
}

// RunNow runs name in the caller's goroutine, with retries.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	t, err := s.task(name)
	if err != nil {
		return err
	}
	return s.execute(ctx, t)
}

// Online reports the last probe result.
func (s *Scheduler) Online() bool { return s.online.Load() }

// Start runs until ctx is canceled. Task failures are logged, not returned.
func (s *Scheduler) Start(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	s.mu.RLock()
	for _, name := range s.order {
		t := s.tasks[name]
		if t.Interval > 0 {
			g.Go(func() error { return s.periodic(gctx, t) })
		}
	}
	s.mu.RUnlock()

	if s.probe != nil {
		g.Go(func() error { return s.watch(gctx) })
	}

	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case name := <-s.triggers:
				t, err := s.task(name)
				if err != nil {
					continue
				}
				g.Go(func() error {
					s.runLogged(gctx, t, "trigger")
					return nil
				})
			}
		}
	})

	return g.Wait()
}

func (s *Scheduler) periodic(ctx context.Context, t Task) error {
	ticker := time.NewTicker(t.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.runLogged(ctx, t, "periodic")
		}
	}
}

// watch probes the server and fires every network task on the transition
// from unreachable to reachable. The first successful probe counts.
func (s *Scheduler) watch(ctx context.Context) error {
	ticker := time.NewTicker(s.probeEvery)
	defer ticker.Stop()
	for {
		up := s.reachable(ctx)
		if was := s.online.Swap(up); up && !was {
			s.logger.Info(ctx, "connectivity regained")
			s.mu.RLock()
			for _, name := range s.order {
				if s.tasks[name].NeedsNetwork {
					select {
					case s.triggers <- name:
					default:
					}
				}
			}
			s.mu.RUnlock()
		} else if !up && was {
			s.logger.Warn(ctx, "connectivity lost")
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) reachable(ctx context.Context) bool {
	if s.probe == nil {
		return true
	}
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.probe.Ping(pctx) == nil
}

func (s *Scheduler) runLogged(ctx context.Context, t Task, reason string) {
	start := time.Now()
	err := s.execute(ctx, t)
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn(ctx, "task failed",
			logger.String("task", t.Name),
			logger.String("reason", reason),
			logger.Duration("took", time.Since(start)),
			logger.Error(err),
		)
		return
	}
	s.logger.Debug(ctx, "task done",
		logger.String("task", t.Name),
		logger.String("reason", reason),
		logger.Duration("took", time.Since(start)),
	)
}

// execute is single-flight per task name: a caller arriving while the task
// runs gets that run's result.
func (s *Scheduler) execute(ctx context.Context, t Task) error {
	_, err, _ := s.flight.Do(t.Name, func() (any, error) {
		return nil, s.retry(ctx, t)
	})
	return err
}

func (s *Scheduler) retry(ctx context.Context, t Task) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.initial
	b.MaxInterval = s.max
	b.MaxElapsedTime = 0

	attempt := 0
	op := func() error {
		attempt++
		if t.NeedsNetwork && !s.reachable(ctx) {
			s.online.Store(false)
			return ErrOffline
		}
		return t.Run(ctx)
	}
	notify := func(err error, wait time.Duration) {
		s.logger.Debug(ctx, "retrying task",
			logger.String("task", t.Name),
			logger.Int("attempt", attempt),
			logger.Duration("wait", wait),
			logger.Error(err),
		)
	}
	return backoff.RetryNotify(op, backoff.WithContext(backoff.WithMaxRetries(b, s.maxRetries), ctx), notify)
}
