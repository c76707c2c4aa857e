package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/okian/fieldguard/internal/loadsim"
	"github.com/okian/fieldguard/pkg/logger"
)

const defaultWorkers = 2 // multiplier for runtime.NumCPU()

func main() {
	_ = godotenv.Load()

	var (
		baseURL   = flag.String("url", "http://localhost:9080", "Base URL of the service")
		employees = flag.Int("employees", loadsim.DefaultEmployees, "Simulated employees")
		samples   = flag.Int("samples", loadsim.DefaultSamples, "Fixes per employee")
		batch     = flag.Int("batch", loadsim.DefaultBatchSize, "Fixes per upload request")
		jumpEvery = flag.Int("jump-every", loadsim.DefaultJumpEvery, "Teleport every N fixes (0 disables)")
		interval  = flag.Duration("interval", loadsim.DefaultInterval, "Time between fixes")
		workers   = flag.Int("workers", runtime.NumCPU()*defaultWorkers, "Employees uploading at once")
		timeout   = flag.Duration("timeout", loadsim.DefaultTimeout, "HTTP request timeout")
		secret    = flag.String("secret", os.Getenv("FIELDGUARD_JWT_SECRET"), "JWT secret shared with the server")
		issuer    = flag.String("issuer", os.Getenv("FIELDGUARD_JWT_ISSUER"), "JWT issuer")
		seed      = flag.Int64("seed", 0, "Random seed (0 = time based)")
		verbose   = flag.Bool("verbose", false, "Log every batch")
		help      = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	if *help {
		loadsim.ShowHelp()
		return
	}

	if err := logger.Init(); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	if *verbose {
		_ = logger.SetLevelString("debug")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	config := &loadsim.Config{
		BaseURL:     *baseURL,
		Employees:   *employees,
		Samples:     *samples,
		BatchSize:   min(max(*batch, 1), 500),
		JumpEvery:   *jumpEvery,
		Interval:    *interval,
		Workers:     max(*workers, 1),
		Timeout:     *timeout,
		JWTSecret:   *secret,
		JWTIssuer:   *issuer,
		Seed:        *seed,
		Verbose:     *verbose,
		CenterLat:   40.7128,
		CenterLon:   -74.0060,
		SpreadMeter: 5000,
	}

	if _, err := loadsim.Run(ctx, config); err != nil {
		logger.Get().Error(ctx, "load simulation failed", logger.Error(err))
		os.Exit(1)
	}
}
