package loadsim

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/okian/fieldguard/internal/agent/client"
	"github.com/okian/fieldguard/pkg/logger"
)

// Run executes the complete simulation: upload every route, re-send a batch
// per employee to probe idempotency, then check the alert trail.
func Run(ctx context.Context, config *Config) (*Stats, error) {
	stats := &Stats{StartTime: time.Now()}
	log := logger.Get().Named("loadsim")

	log.Info(ctx, "starting fieldguard load simulation",
		logger.String("baseURL", config.BaseURL),
		logger.Int("employees", config.Employees),
		logger.Int("samples", config.Samples),
		logger.Int("batchSize", config.BatchSize),
		logger.Int("workers", config.Workers),
		logger.Duration("interval", config.Interval),
	)

	// Step 1: Check service health
	if err := client.New(config.BaseURL, client.WithTimeout(config.Timeout)).Ping(ctx); err != nil {
		return stats, fmt.Errorf("service health check failed: %w", err)
	}

	// Step 2: Generate routes
	routes := generateRoutes(config, time.Now(), stats)
	log.Info(ctx, "routes generated",
		logger.Int("samples", stats.SamplesGenerated),
		logger.Int("jumps", stats.JumpsInjected),
	)

	// Step 3: Upload, one employee per worker so each timeline stays ordered
	if err := submitRoutes(ctx, config, routes, stats); err != nil {
		return stats, fmt.Errorf("upload failed: %w", err)
	}

	// Step 4: Re-send the first batch of every route
	if err := resendFirstBatches(ctx, config, routes, stats); err != nil {
		return stats, fmt.Errorf("re-send failed: %w", err)
	}

	// Step 5: Verify
	if err := verifyResults(ctx, config, routes, stats); err != nil {
		return stats, fmt.Errorf("verification failed: %w", err)
	}

	stats.EndTime = time.Now()
	stats.Duration = stats.EndTime.Sub(stats.StartTime)
	displayFinalStats(ctx, stats)
	return stats, nil
}

func employeeClient(config *Config, employeeID string) (*client.Client, error) {
	tok, err := signToken(config, employeeID, time.Now())
	if err != nil {
		return nil, err
	}
	return client.New(config.BaseURL,
		client.WithTimeout(config.Timeout),
		client.WithTokenSource(staticToken(tok)),
		client.WithDeviceID("load-sim"),
	), nil
}

func submitRoutes(ctx context.Context, config *Config, routes []Route, stats *Stats) error {
	log := logger.Get().Named("loadsim")
	var batches, synced, duplicates, failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(config.Workers)
	for _, r := range routes {
		g.Go(func() error {
			api, err := employeeClient(config, r.EmployeeID)
			if err != nil {
				return err
			}
			for _, batch := range r.Batches(config.BatchSize) {
				res, err := api.UploadLocations(gctx, batch)
				batches.Add(1)
				if err != nil {
					failed.Add(1)
					log.Warn(gctx, "batch failed",
						logger.String("employee", r.EmployeeID),
						logger.String("class", string(client.Classify(err))),
						logger.Error(err),
					)
					// Later batches would be judged against a gap.
					return nil
				}
				synced.Add(int64(res.Synced))
				duplicates.Add(int64(res.Duplicates))
				if config.Verbose {
					log.Debug(gctx, "batch uploaded",
						logger.String("employee", r.EmployeeID),
						logger.Int("synced", res.Synced),
						logger.Int("duplicates", res.Duplicates),
					)
				}
			}
			return nil
		})
	}
	err := g.Wait()

	stats.BatchesSent += int(batches.Load())
	stats.Synced += int(synced.Load())
	stats.Duplicates += int(duplicates.Load())
	stats.BatchesFailed += int(failed.Load())
	return err
}

func resendFirstBatches(ctx context.Context, config *Config, routes []Route, stats *Stats) error {
	first := make([]Route, 0, len(routes))
	for _, r := range routes {
		if len(r.Samples) == 0 {
			continue
		}
		r.Samples = r.Samples[:min(config.BatchSize, len(r.Samples))]
		first = append(first, r)
	}
	before := stats.Duplicates
	if err := submitRoutes(ctx, config, first, stats); err != nil {
		return err
	}
	expected := 0
	for _, r := range first {
		expected += len(r.Samples)
	}
	if got := stats.Duplicates - before; got != expected {
		return fmt.Errorf("re-sent %d samples, server reported %d duplicates", expected, got)
	}
	return nil
}

func displayFinalStats(ctx context.Context, stats *Stats) {
	var successRate, samplesPerSecond float64
	if stats.SamplesGenerated > 0 {
		successRate = float64(stats.Synced-stats.Duplicates) / float64(stats.SamplesGenerated) * percentMultiplier
	}
	if stats.Duration > 0 {
		samplesPerSecond = float64(stats.Synced) / stats.Duration.Seconds()
	}

	logger.Get().Info(ctx, "final statistics",
		logger.Int("samplesGenerated", stats.SamplesGenerated),
		logger.Int("jumpsInjected", stats.JumpsInjected),
		logger.Int("batchesSent", stats.BatchesSent),
		logger.Int("batchesFailed", stats.BatchesFailed),
		logger.Int("synced", stats.Synced),
		logger.Int("duplicates", stats.Duplicates),
		logger.Int("alertsObserved", stats.AlertsObserved),
		logger.Duration("duration", stats.Duration),
		logger.Float64("successRate", successRate),
		logger.Float64("samplesPerSecond", samplesPerSecond),
	)
}
