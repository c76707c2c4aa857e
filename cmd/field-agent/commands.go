package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/okian/fieldguard/internal/agent/client"
	"github.com/okian/fieldguard/internal/agent/control"
	"github.com/okian/fieldguard/internal/agent/status"
	"github.com/okian/fieldguard/internal/config"
	"github.com/okian/fieldguard/internal/domain/model"
	"github.com/okian/fieldguard/pkg/logger"
)

// run drives replay from the scheduler and serves the control socket until
// interrupted.
func (a *agent) run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	updates, cancel := a.tracker.Subscribe()
	defer cancel()
	go a.watchHealth(ctx, updates)

	a.log.Info(ctx, "agent running",
		logger.String("server", a.cfg.ServerURL),
		logger.String("socket", a.cfg.SocketPath()),
		logger.Duration("replay_interval", a.cfg.ReplayInterval),
	)

	g, gctx := errgroup.WithContext(ctx)
	a.running.Store(true)
	defer a.running.Store(false)
	g.Go(func() error { return a.sched.Start(gctx) })
	g.Go(func() error {
		return control.NewServer(a, control.WithLogger(a.log.Named("control"))).Serve(gctx, a.cfg.SocketPath())
	})
	return g.Wait()
}

func (a *agent) watchHealth(ctx context.Context, updates <-chan status.Health) {
	var last []string
	for h := range updates {
		warnings := h.Warnings(time.Now(), a.cfg.ReplayInterval)
		if strings.Join(warnings, "|") == strings.Join(last, "|") {
			continue
		}
		last = warnings
		for _, w := range warnings {
			a.log.Warn(ctx, "tracking health", logger.String("warning", w))
		}
	}
}

// cli runs one command against a running agent or a store opened for it.
type cli struct {
	cfg   *config.AgentConfig
	agent control.Agent
	log   logger.Logger
}

func dispatch(ctx context.Context, c *cli, cmd string, args []string) error {
	switch cmd {
	case "fix":
		return c.fix(ctx, args)
	case "clock-in", "clock-out":
		return c.clock(ctx, cmd, args)
	case "sync":
		return c.sync(ctx)
	case "status":
		return c.status(ctx, args)
	case "login":
		return c.login(ctx, args)
	case "logout":
		return c.agent.Logout(ctx)
	default:
		return errors.New("unknown command: " + cmd)
	}
}

func (c *cli) fix(ctx context.Context, args []string) error {
	s, err := parseFix(args, c.cfg.DeviceID)
	if err != nil {
		return err
	}
	if err := c.agent.RecordFix(ctx, s); err != nil {
		return err
	}
	return c.printHealth(ctx, 0)
}

func parseFix(args []string, deviceID string) (model.LocationSample, error) {
	fs := flag.NewFlagSet("fix", flag.ContinueOnError)
	lat := fs.Float64("lat", 0, "latitude")
	lon := fs.Float64("lon", 0, "longitude")
	accuracy := fs.Float64("accuracy", 0, "horizontal accuracy in meters (0 = unknown)")
	speed := fs.Float64("speed", -1, "speed in m/s (negative = unknown)")
	provider := fs.String("provider", "", "location provider name")
	mock := fs.Bool("mock", false, "the OS flagged this fix as mocked")
	if err := fs.Parse(args); err != nil {
		return model.LocationSample{}, err
	}
	if err := requireFlags(fs, "lat", "lon"); err != nil {
		return model.LocationSample{}, err
	}

	s := model.LocationSample{
		Latitude:  *lat,
		Longitude: *lon,
		Provider:  *provider,
		IsMock:    *mock,
		DeviceID:  deviceID,
	}
	if *accuracy > 0 {
		s.Accuracy = accuracy
	}
	if *speed >= 0 {
		s.Speed = speed
	}
	return s, nil
}

func (c *cli) clock(ctx context.Context, cmd string, args []string) error {
	lat, lon, err := parseClock(cmd, args)
	if err != nil {
		return err
	}
	kind := model.ActionTimeIn
	if cmd == "clock-out" {
		kind = model.ActionTimeOut
	}

	out := c.agent.Clock(ctx, kind, lat, lon)
	if err := printJSON(out); err != nil {
		return err
	}
	return out.Err()
}

func parseClock(cmd string, args []string) (lat, lon float64, err error) {
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	fs.Float64Var(&lat, "lat", 0, "latitude")
	fs.Float64Var(&lon, "lon", 0, "longitude")
	if err := fs.Parse(args); err != nil {
		return 0, 0, err
	}
	if err := requireFlags(fs, "lat", "lon"); err != nil {
		return 0, 0, err
	}
	return lat, lon, nil
}

// requireFlags reports the first of names that was not given. Zero is a
// valid coordinate, so presence cannot be judged from the value.
func requireFlags(fs *flag.FlagSet, names ...string) error {
	seen := make(map[string]bool, fs.NFlag())
	fs.Visit(func(f *flag.Flag) { seen[f.Name] = true })
	for _, n := range names {
		if !seen[n] {
			return fmt.Errorf("%s: -%s is required", fs.Name(), n)
		}
	}
	return nil
}

func (c *cli) sync(ctx context.Context) error {
	rep, err := c.agent.Sync(ctx)
	out := control.SyncResult{Report: rep}
	if err != nil {
		out.Error = err.Error()
	}
	if perr := printJSON(out); perr != nil {
		return perr
	}
	return err
}

func (c *cli) status(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	stale := fs.Duration("stale", 15*time.Minute, "age after which a fix or sync is reported stale")
	if err := fs.Parse(args); err != nil {
		return err
	}
	return c.printHealth(ctx, *stale)
}

func (c *cli) printHealth(ctx context.Context, stale time.Duration) error {
	h, err := c.agent.Health(ctx)
	if err != nil {
		return err
	}
	out := map[string]any{"health": h}
	if stale > 0 {
		out["warnings"] = h.Warnings(time.Now(), stale)
	}
	return printJSON(out)
}

func (c *cli) login(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	token := fs.String("token", "", "bearer token")
	tokenFile := fs.String("token-file", "", "file holding the bearer token")
	if err := fs.Parse(args); err != nil {
		return err
	}

	tok := *token
	if tok == "" && *tokenFile != "" {
		raw, err := os.ReadFile(*tokenFile)
		if err != nil {
			return fmt.Errorf("read token file: %w", err)
		}
		tok = string(raw)
	}
	if tok == "" {
		return errors.New("login: -token or -token-file is required")
	}
	if err := c.agent.Login(ctx, tok); err != nil {
		return err
	}
	sub, _ := client.Subject(strings.TrimSpace(tok))
	c.log.Info(ctx, "logged in", logger.String("employee", sub))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
