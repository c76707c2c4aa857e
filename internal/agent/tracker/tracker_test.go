package tracker_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/fieldguard/internal/agent/client"
	"github.com/okian/fieldguard/internal/agent/replay"
	"github.com/okian/fieldguard/internal/agent/status"
	"github.com/okian/fieldguard/internal/agent/store"
	"github.com/okian/fieldguard/internal/agent/tracker"
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

type classed struct {
	msg  string
	kind error
}

func (e *classed) Error() string { return e.msg }
func (e *classed) Unwrap() error { return e.kind }

// scriptedAPI answers with err, or success when err is nil. When respond is
// set it decides instead.
type scriptedAPI struct {
	err     error
	respond func(kind model.ActionKind) error
	calls   int
	kinds   []model.ActionKind
}

func (a *scriptedAPI) Clock(_ context.Context, p model.PendingAttendanceAction) (client.ClockResponse, error) {
	a.calls++
	a.kinds = append(a.kinds, p.Kind)
	err := a.err
	if a.respond != nil {
		err = a.respond(p.Kind)
	}
	if err != nil {
		return client.ClockResponse{}, err
	}
	at := p.ActionTimestamp
	return client.ClockResponse{Attendance: model.Attendance{EmployeeID: "emp-1", TimeIn: &at, Status: model.StatusPresent}}, nil
}

func (a *scriptedAPI) UploadLocations(_ context.Context, s []model.LocationSample) (client.UploadResult, error) {
	if a.err != nil {
		return client.UploadResult{}, a.err
	}
	return client.UploadResult{Synced: len(s)}, nil
}

func ptr(f float64) *float64 { return &f }

func TestTracker(t *testing.T) {
	Convey("Given a tracker over a fresh store", t, func() {
		ctx := context.Background()
		st, err := store.Open(filepath.Join(t.TempDir(), "agent.db"), "pw", store.WithKDFCost(1024, 1))
		So(err, ShouldBeNil)
		defer st.Close()
		So(st.SetToken(ctx, "tok"), ShouldBeNil)

		now := time.Date(2026, 3, 2, 9, 5, 0, 0, time.UTC)
		api := &scriptedAPI{}
		tr := tracker.New(st, api, replay.New(st, api), tracker.WithClock(func() time.Time { return now }))
		defer tr.Close()

		Convey("A successful clock-in leaves nothing queued", func() {
			res := tr.ClockIn(ctx, 40, -74)
			So(res.State, ShouldEqual, status.StateSuccess)
			So(res.Value.EmployeeID, ShouldEqual, "emp-1")
			h, _ := tr.Health(ctx)
			So(h.PendingActions, ShouldEqual, 0)
		})

		Convey("A server failure queues the action", func() {
			api.err = &classed{msg: "HTTP 503", kind: client.ErrServer}
			res := tr.ClockIn(ctx, 40, -74)
			So(res.State, ShouldEqual, status.StatePending)
			So(res.PendingID, ShouldBeGreaterThan, uint64(0))

			pending, _ := st.PendingActions(ctx, 10)
			So(pending, ShouldHaveLength, 1)
			So(pending[0].ActionTimestamp.Equal(now), ShouldBeTrue)
			So(pending[0].RetryCount, ShouldEqual, 1)

			h, _ := tr.Health(ctx)
			So(h.PendingActions, ShouldEqual, 1)
			So(h.LastError, ShouldEqual, "HTTP 503")

			Convey("And a sync after recovery drains it with the original timestamp", func() {
				api.err = nil
				rep, err := tr.Sync(ctx)
				So(err, ShouldBeNil)
				So(rep.Applied, ShouldEqual, 1)

				h, _ := tr.Health(ctx)
				So(h.PendingActions, ShouldEqual, 0)
				So(h.LastSyncAt.Equal(now), ShouldBeTrue)
				So(h.LastError, ShouldBeEmpty)
			})
		})

		Convey("A clock-out taken while a clock-in waits for replay is queued behind it", func() {
			down, clockedIn := true, false
			api.respond = func(kind model.ActionKind) error {
				switch {
				case down:
					return &classed{msg: "HTTP 503", kind: client.ErrServer}
				case kind == model.ActionTimeIn:
					clockedIn = true
				case !clockedIn:
					return &classed{msg: "HTTP 400 NO_CLOCK_IN", kind: client.ErrValidation}
				}
				return nil
			}

			in := tr.ClockIn(ctx, 40, -74)
			So(in.State, ShouldEqual, status.StatePending)

			down = false
			now = now.Add(8 * time.Hour)
			out := tr.ClockOut(ctx, 40, -74)
			So(out.State, ShouldEqual, status.StatePending)
			So(errors.Is(out.Err, tracker.ErrQueuedBehind), ShouldBeTrue)
			So(api.kinds, ShouldResemble, []model.ActionKind{model.ActionTimeIn})

			pending, _ := st.PendingActions(ctx, 10)
			So(pending, ShouldHaveLength, 2)
			So(pending[1].ID, ShouldEqual, out.PendingID)

			h, _ := tr.Health(ctx)
			So(h.LastResult, ShouldEqual, out.Message())

			Convey("And a sync sends the clock-in before the clock-out", func() {
				rep, err := tr.Sync(ctx)
				So(err, ShouldBeNil)
				So(rep.Applied, ShouldEqual, 2)
				So(rep.Dropped, ShouldEqual, 0)
				So(api.kinds, ShouldResemble, []model.ActionKind{
					model.ActionTimeIn, model.ActionTimeIn, model.ActionTimeOut,
				})
				n, _, _ := st.Counts(ctx)
				So(n, ShouldEqual, 0)
			})
		})

		Convey("A rejected action is not kept", func() {
			api.err = &classed{msg: "Already clocked in today", kind: client.ErrReconciledConflict}
			res := tr.ClockIn(ctx, 40, -74)
			So(res.State, ShouldEqual, status.StateError)
			So(errors.Is(res.Err, client.ErrReconciledConflict), ShouldBeTrue)
			n, _, _ := st.Counts(ctx)
			So(n, ShouldEqual, 0)
		})

		Convey("A lost session keeps the action pending", func() {
			api.err = &classed{msg: "HTTP 401", kind: client.ErrAuth}
			res := tr.ClockOut(ctx, 40, -74)
			So(res.State, ShouldEqual, status.StatePending)
			n, _, _ := st.Counts(ctx)
			So(n, ShouldEqual, 1)
		})

		Convey("Invalid coordinates never reach the store", func() {
			res := tr.ClockIn(ctx, 120, 0)
			So(res.State, ShouldEqual, status.StateError)
			So(api.calls, ShouldEqual, 0)
		})

		Convey("Fixes are stored and reflected in health", func() {
			updates, cancel := tr.Subscribe()
			defer cancel()
			<-updates

			So(tr.RecordFix(ctx, model.LocationSample{
				Latitude: 40, Longitude: -74, Accuracy: ptr(18), IsMock: true, RecordedAt: now,
			}), ShouldBeNil)

			h := <-updates
			So(h.PendingSamples, ShouldEqual, 1)
			So(h.Accuracy, ShouldEqual, status.AccuracyGood)
			So(h.MockDetected, ShouldBeTrue)
			So(h.LastFixAt.Equal(now), ShouldBeTrue)
			So(h.LoggedIn, ShouldBeTrue)
		})

		Convey("A failed sync keeps samples and reports the error", func() {
			So(tr.RecordFix(ctx, model.LocationSample{Latitude: 40, Longitude: -74, RecordedAt: now}), ShouldBeNil)
			api.err = &classed{msg: "connection refused", kind: client.ErrTransient}
			_, err := tr.Sync(ctx)
			So(errors.Is(err, client.ErrTransient), ShouldBeTrue)

			h, _ := tr.Health(ctx)
			So(h.PendingSamples, ShouldEqual, 1)
			So(h.LastSyncAt.IsZero(), ShouldBeTrue)
			So(h.LastError, ShouldEqual, "connection refused")
		})
	})
}
