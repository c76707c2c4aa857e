package control_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/fieldguard/internal/agent/client"
	"github.com/okian/fieldguard/internal/agent/control"
	"github.com/okian/fieldguard/internal/agent/replay"
	"github.com/okian/fieldguard/internal/agent/status"
	"github.com/okian/fieldguard/internal/domain/model"
	"github.com/okian/fieldguard/pkg/logger"
)

func init() {
	// Initialize logging for tests
	err := logger.Init()
	if err != nil {
		panic(err)
	}
}

type fakeAgent struct {
	mu      sync.Mutex
	fixes   []model.LocationSample
	clocks  []model.ActionKind
	coords  [][2]float64
	syncErr error
	token   string
}

func (f *fakeAgent) RecordFix(_ context.Context, s model.LocationSample) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fixes = append(f.fixes, s)
	return nil
}

func (f *fakeAgent) Clock(_ context.Context, kind model.ActionKind, lat, lon float64) control.ClockOutcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clocks = append(f.clocks, kind)
	f.coords = append(f.coords, [2]float64{lat, lon})
	return control.Outcome(status.Pending[client.ClockResponse](7, errors.New("HTTP 503")))
}

func (f *fakeAgent) Sync(context.Context) (replay.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return replay.Report{Applied: 2, Halted: f.syncErr != nil}, f.syncErr
}

func (f *fakeAgent) failSync(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.syncErr = err
}

func (f *fakeAgent) seen() ([]model.ActionKind, [][2]float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.ActionKind(nil), f.clocks...), append([][2]float64(nil), f.coords...)
}

func (f *fakeAgent) Health(context.Context) (status.Health, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return status.Health{PendingSamples: len(f.fixes), LoggedIn: f.token != ""}, nil
}

func (f *fakeAgent) Login(_ context.Context, token string) error {
	if token == "" {
		return errors.New("authentication required: empty token")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.token = token
	return nil
}

func (f *fakeAgent) Logout(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.token = ""
	return nil
}

// serve runs a control server on a fresh socket and waits until it answers.
func serve(t *testing.T, a control.Agent) (string, func()) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agent.sock")
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- control.NewServer(a).Serve(ctx, path) }()

	deadline := time.Now().Add(2 * time.Second)
	for {
		c, err := control.Dial(context.Background(), path)
		if err == nil {
			c.Close()
			break
		}
		if time.Now().After(deadline) {
			cancel()
			t.Fatalf("control server did not come up: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}
	return path, func() {
		cancel()
		<-done
	}
}

func TestControl(t *testing.T) {
	Convey("Given a running agent behind the control socket", t, func() {
		ctx := context.Background()
		agent := &fakeAgent{}
		path, stop := serve(t, agent)
		Reset(stop)

		c, err := control.Dial(ctx, path)
		So(err, ShouldBeNil)
		Reset(c.Close)

		Convey("A clock-out reaches the agent and its outcome comes back", func() {
			out := c.Clock(ctx, model.ActionTimeOut, 40.5, -74.25)
			So(out.State, ShouldEqual, status.StatePending)
			So(out.PendingID, ShouldEqual, uint64(7))
			So(out.Message, ShouldEqual, "saved offline, will sync: HTTP 503")
			So(out.Err(), ShouldBeNil)
			kinds, coords := agent.seen()
			So(kinds, ShouldResemble, []model.ActionKind{model.ActionTimeOut})
			So(coords, ShouldResemble, [][2]float64{{40.5, -74.25}})
		})

		Convey("A fix is recorded by the agent", func() {
			So(c.RecordFix(ctx, model.LocationSample{Latitude: 40, Longitude: -74, RecordedAt: time.Now()}), ShouldBeNil)
			h, err := c.Health(ctx)
			So(err, ShouldBeNil)
			So(h.PendingSamples, ShouldEqual, 1)
		})

		Convey("A failed sync returns its report and error", func() {
			agent.failSync(errors.New("server unreachable"))
			rep, err := c.Sync(ctx)
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldEqual, "server unreachable")
			So(rep.Applied, ShouldEqual, 2)
			So(rep.Halted, ShouldBeTrue)
		})

		Convey("Login errors are passed through", func() {
			err := c.Login(ctx, "")
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "empty token")

			So(c.Login(ctx, "tok"), ShouldBeNil)
			h, _ := c.Health(ctx)
			So(h.LoggedIn, ShouldBeTrue)

			So(c.Logout(ctx), ShouldBeNil)
			h, _ = c.Health(ctx)
			So(h.LoggedIn, ShouldBeFalse)
		})

		Convey("A second agent cannot take the socket", func() {
			_, err := control.Listen(ctx, path)
			So(errors.Is(err, control.ErrAlreadyRunning), ShouldBeTrue)
		})
	})
}

func TestControl_NotRunning(t *testing.T) {
	Convey("Given no agent on the socket path", t, func() {
		ctx := context.Background()
		path := filepath.Join(t.TempDir(), "agent.sock")

		Convey("Dial reports that the agent is not running", func() {
			_, err := control.Dial(ctx, path)
			So(errors.Is(err, control.ErrNotRunning), ShouldBeTrue)
		})

		Convey("A stale socket file is replaced by a new listener", func() {
			So(os.WriteFile(path, nil, 0o600), ShouldBeNil)
			_, err := control.Dial(ctx, path)
			So(errors.Is(err, control.ErrNotRunning), ShouldBeTrue)

			ln, err := control.Listen(ctx, path)
			So(err, ShouldBeNil)
			So(ln.Close(), ShouldBeNil)
		})
	})
}

func TestOutcome(t *testing.T) {
	Convey("Given tracker results", t, func() {
		Convey("A success carries the attendance", func() {
			out := control.Outcome(status.Success(client.ClockResponse{
				Attendance: model.Attendance{EmployeeID: "emp-1", Status: model.StatusPresent},
			}))
			So(out.State, ShouldEqual, status.StateSuccess)
			So(out.Attendance.EmployeeID, ShouldEqual, "emp-1")
			So(out.Err(), ShouldBeNil)
		})

		Convey("A failure carries its error", func() {
			out := control.Outcome(status.Failure[client.ClockResponse](errors.New("HTTP 403 OUTSIDE_GEOFENCE")))
			So(out.State, ShouldEqual, status.StateError)
			So(out.Err(), ShouldNotBeNil)
			So(out.Err().Error(), ShouldEqual, "HTTP 403 OUTSIDE_GEOFENCE")
		})
	})
}
