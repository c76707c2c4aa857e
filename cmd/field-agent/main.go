// Command field-agent is the device side of fieldguard: it records fixes and
// clock actions into an encrypted offline queue and replays them against
// the server when it is reachable.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/okian/fieldguard/internal/agent/client"
	"github.com/okian/fieldguard/internal/agent/control"
	"github.com/okian/fieldguard/internal/agent/replay"
	"github.com/okian/fieldguard/internal/agent/scheduler"
	"github.com/okian/fieldguard/internal/agent/status"
	"github.com/okian/fieldguard/internal/agent/store"
	"github.com/okian/fieldguard/internal/agent/tracker"
	"github.com/okian/fieldguard/internal/config"
	"github.com/okian/fieldguard/internal/domain/model"
	"github.com/okian/fieldguard/pkg/logger"
)

const replayTask = "replay"

// agent bundles the wired components. It holds the store open, so only one
// agent exists per store; other commands reach it over the control socket.
type agent struct {
	cfg     *config.AgentConfig
	store   *store.Store
	session *client.Session
	tracker *tracker.Tracker
	sched   *scheduler.Scheduler
	log     logger.Logger

	// running is set while the scheduler loop is up and can take triggers.
	running atomic.Bool

	mu         sync.Mutex
	lastReport replay.Report
}

func main() {
	if len(os.Args) < 2 || os.Args[1] == "-h" || os.Args[1] == "-help" || os.Args[1] == "help" {
		showHelp()
		return
	}
	cmd, args := os.Args[1], os.Args[2:]
	if !known(cmd) {
		showHelp()
		os.Stderr.WriteString("unknown command: " + cmd + "\n")
		os.Exit(2)
	}

	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadAgent(ctx)
	if err != nil {
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		os.Exit(1)
	}
	if err := logger.Init(logger.WithFormat(cfg.LogFormat), logger.WithOutput(os.Stderr)); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		_ = logger.SetLevelString("info")
	}
	log := logger.Get().Named("field-agent")

	if err := execute(ctx, cfg, cmd, args); err != nil {
		if !errors.Is(err, context.Canceled) {
			log.Error(ctx, "command failed", logger.String("command", cmd), logger.Error(err))
		}
		stop()
		os.Exit(1)
	}
}

func execute(ctx context.Context, cfg *config.AgentConfig, cmd string, args []string) error {
	if cmd == "run" {
		a, err := open(ctx, cfg, true)
		if err != nil {
			return err
		}
		defer a.close()
		return a.run(ctx, args)
	}

	target, done, err := connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer done()
	return dispatch(ctx, &cli{cfg: cfg, agent: target, log: logger.Get().Named("field-agent")}, cmd, args)
}

// connect prefers a running agent and falls back to opening the store for
// this one command.
func connect(ctx context.Context, cfg *config.AgentConfig) (control.Agent, func(), error) {
	c, err := control.Dial(ctx, cfg.SocketPath())
	if err == nil {
		return c, c.Close, nil
	}
	if !errors.Is(err, control.ErrNotRunning) {
		return nil, nil, err
	}
	a, err := open(ctx, cfg, false)
	if err != nil {
		return nil, nil, err
	}
	return a, a.close, nil
}

// open wires the agent. A one-shot agent gives each replay a single
// attempt; the daemon retries with backoff.
func open(ctx context.Context, cfg *config.AgentConfig, daemon bool) (*agent, error) {
	log := logger.Get().Named("field-agent")

	st, err := store.Open(cfg.StorePath, cfg.Passphrase)
	if err != nil {
		return nil, err
	}
	session := client.NewSession(st, client.FileRefresher(cfg.TokenFile))
	api := client.New(cfg.ServerURL,
		client.WithTimeout(cfg.RequestTimeout),
		client.WithTokenSource(session),
		client.WithDeviceID(cfg.DeviceID),
	)
	coord := replay.New(st, api,
		replay.WithActionLimit(cfg.ReplayLimit),
		replay.WithSampleBatch(cfg.LocationBatch),
		replay.WithRefresher(session),
	)

	opts := []scheduler.Option{
		scheduler.WithBackoff(cfg.BackoffInitial, cfg.BackoffMax),
		scheduler.WithConnectivityInterval(cfg.ConnectivityInterval),
		scheduler.WithLogger(log.Named("scheduler")),
	}
	if !daemon {
		opts = append(opts, scheduler.WithMaxRetries(0))
	}

	a := &agent{
		cfg:     cfg,
		store:   st,
		session: session,
		tracker: tracker.New(st, api, coord),
		sched:   scheduler.New(api, opts...),
		log:     log,
	}
	if err := a.sched.Register(scheduler.Task{
		Name:         replayTask,
		Interval:     cfg.ReplayInterval,
		NeedsNetwork: true,
		Run:          a.replay,
	}); err != nil {
		a.close()
		return nil, err
	}
	log.Debug(ctx, "agent opened",
		logger.String("store", cfg.StorePath),
		logger.String("server", cfg.ServerURL),
		logger.Bool("daemon", daemon),
	)
	return a, nil
}

func (a *agent) close() {
	a.tracker.Close()
	if err := a.store.Close(); err != nil && !errors.Is(err, store.ErrClosed) {
		a.log.Warn(context.Background(), "closing store", logger.Error(err))
	}
}

// replay is the scheduler task: one tracker sync, retried only when the
// failure is one a later attempt can fix.
func (a *agent) replay(ctx context.Context) error {
	rep, err := a.tracker.Sync(ctx)
	a.mu.Lock()
	a.lastReport = rep
	a.mu.Unlock()

	switch client.Classify(err) {
	case client.ClassNone:
		return nil
	case client.ClassTransient, client.ClassServer:
		return err
	default:
		// Retrying cannot fix a lost session; wait for the next
		// interval or a login.
		return scheduler.Permanent(err)
	}
}

// RecordFix implements control.Agent.
func (a *agent) RecordFix(ctx context.Context, s model.LocationSample) error {
	return a.tracker.RecordFix(ctx, s)
}

// Clock implements control.Agent. A queued action asks the running
// scheduler for a replay straight away.
func (a *agent) Clock(ctx context.Context, kind model.ActionKind, lat, lon float64) control.ClockOutcome {
	clock := a.tracker.ClockIn
	if kind == model.ActionTimeOut {
		clock = a.tracker.ClockOut
	}
	out := control.Outcome(clock(ctx, lat, lon))
	if out.State == status.StatePending && a.running.Load() {
		if err := a.sched.Trigger(replayTask); err != nil {
			a.log.Warn(ctx, "replay trigger failed", logger.Error(err))
		}
	}
	return out
}

// Sync implements control.Agent through the scheduler, so it honours the
// connectivity check and joins a replay already in flight.
func (a *agent) Sync(ctx context.Context) (replay.Report, error) {
	err := a.sched.RunNow(ctx, replayTask)
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastReport, err
}

// Health implements control.Agent.
func (a *agent) Health(ctx context.Context) (status.Health, error) {
	return a.tracker.Health(ctx)
}

// Login implements control.Agent.
func (a *agent) Login(ctx context.Context, token string) error {
	return a.session.Login(ctx, token)
}

// Logout implements control.Agent.
func (a *agent) Logout(ctx context.Context) error {
	return a.session.Logout(ctx)
}

func known(cmd string) bool {
	switch cmd {
	case "run", "fix", "clock-in", "clock-out", "sync", "status", "login", "logout":
		return true
	}
	return false
}

// showHelp prints usage information for the field agent.
func showHelp() {
	os.Stdout.WriteString(`FieldGuard Field Agent
======================

Records location fixes and attendance actions on the device, keeps them in
an encrypted offline queue and replays them when the server is reachable.

While "run" is active the other commands are sent to it over a local
control socket; otherwise each command opens the queue itself.

Usage:
  field-agent <command> [options]

Commands:
  run                 Run the background scheduler and the control socket
  fix                 Record a location fix
                        -lat, -lon (required), -accuracy, -speed, -provider, -mock
  clock-in            Clock in now at -lat/-lon (both required)
  clock-out           Clock out now at -lat/-lon (both required)
  sync                Replay the queue once and print the report
  status              Print tracking health
                        -stale duration (default 15m)
  login               Save a bearer token
                        -token string | -token-file path
  logout              Forget the saved token; queued work is kept

Configuration (env, or a YAML file named by FIELDGUARD_AGENT_CONFIG):
  FIELDGUARD_AGENT_SERVER_URL       API base URL (default http://localhost:9080)
  FIELDGUARD_AGENT_STORE_PATH       Offline queue file (default field-agent.db)
  FIELDGUARD_AGENT_PASSPHRASE       Store encryption passphrase
  FIELDGUARD_AGENT_DEVICE_ID        Device tag for uploads
  FIELDGUARD_AGENT_TOKEN_FILE       Token file re-read after a 401
  FIELDGUARD_AGENT_CONTROL_SOCKET   Control socket (default <store path>.sock)
  FIELDGUARD_AGENT_REPLAY_INTERVAL  Periodic replay interval (default 15m)
`)
}
