package replay_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/fieldguard/internal/agent/client"
	"github.com/okian/fieldguard/internal/agent/replay"
	"github.com/okian/fieldguard/internal/agent/store"
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

// fakeAPI answers each action through respond and records what it saw.
type fakeAPI struct {
	mu       sync.Mutex
	respond  func(a model.PendingAttendanceAction) error
	upload   func(n int) error
	clocked  []string
	uploads  []int
	gate     chan struct{}
	entered  chan struct{}
	enterOne sync.Once
}

func (f *fakeAPI) Clock(_ context.Context, a model.PendingAttendanceAction) (client.ClockResponse, error) {
	if f.entered != nil {
		f.enterOne.Do(func() { close(f.entered) })
	}
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	f.clocked = append(f.clocked, a.IdempotencyKey)
	f.mu.Unlock()
	if f.respond == nil {
		return client.ClockResponse{}, nil
	}
	return client.ClockResponse{}, f.respond(a)
}

func (f *fakeAPI) UploadLocations(_ context.Context, s []model.LocationSample) (client.UploadResult, error) {
	f.mu.Lock()
	f.uploads = append(f.uploads, len(s))
	f.mu.Unlock()
	if f.upload != nil {
		if err := f.upload(len(s)); err != nil {
			return client.UploadResult{}, err
		}
	}
	return client.UploadResult{Synced: len(s)}, nil
}

func (f *fakeAPI) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.clocked...)
}

// apiErr builds an error of the given class, as Client would return it.
func apiErr(class error, msg string) error {
	return &wrapped{msg: msg, kind: class}
}

type wrapped struct {
	msg  string
	kind error
}

func (w *wrapped) Error() string { return w.msg }
func (w *wrapped) Unwrap() error { return w.kind }

func openStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "agent.db"), "pw", store.WithKDFCost(1024, 1))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return s
}

func enqueue(s *store.Store, key string, kind model.ActionKind, at time.Time) model.PendingAttendanceAction {
	a, err := s.AppendAction(context.Background(), model.PendingAttendanceAction{
		Kind: kind, Latitude: 40, Longitude: -74, ActionTimestamp: at, IdempotencyKey: key,
	})
	if err != nil {
		panic(err)
	}
	return a
}

func TestReplay_Ordering(t *testing.T) {
	Convey("Given T1 < T2 < T3 queued out of order and a server that fails T2", t, func() {
		s := openStore(t)
		defer s.Close()
		ctx := context.Background()
		t1 := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

		enqueue(s, "t3", model.ActionTimeOut, t1.Add(2*time.Hour))
		enqueue(s, "t1", model.ActionTimeIn, t1)
		enqueue(s, "t2", model.ActionTimeOut, t1.Add(time.Hour))
		_, _ = s.AppendSample(ctx, model.LocationSample{Latitude: 40, Longitude: -74, RecordedAt: t1})

		api := &fakeAPI{respond: func(a model.PendingAttendanceAction) error {
			if a.IdempotencyKey == "t2" {
				return apiErr(client.ErrServer, "HTTP 503 SERVICE_UNAVAILABLE: down")
			}
			return nil
		}}
		rep, err := replay.New(s, api).Run(ctx)

		Convey("Then the run halts at T2 with a server error", func() {
			So(errors.Is(err, client.ErrServer), ShouldBeTrue)
			So(rep.Halted, ShouldBeTrue)
			So(api.calls(), ShouldResemble, []string{"t1", "t2"})
		})

		Convey("And T1 is gone, T2 carries the failure and T3 is untouched", func() {
			left, _ := s.PendingActions(ctx, 50)
			So(left, ShouldHaveLength, 2)
			So(left[0].IdempotencyKey, ShouldEqual, "t2")
			So(left[0].RetryCount, ShouldEqual, 1)
			So(left[0].LastError, ShouldContainSubstring, "SERVICE_UNAVAILABLE")
			So(left[1].IdempotencyKey, ShouldEqual, "t3")
			So(left[1].RetryCount, ShouldEqual, 0)
		})

		Convey("And the samples were still uploaded", func() {
			So(api.uploads, ShouldResemble, []int{1})
			So(rep.SamplesUploaded, ShouldEqual, 1)
			So(rep.PendingSamples, ShouldEqual, 0)
		})

		Convey("When the server recovers, the next run resumes from T2", func() {
			api.respond = nil
			rep, err := replay.New(s, api).Run(ctx)
			So(err, ShouldBeNil)
			So(rep.Applied, ShouldEqual, 2)
			So(rep.SamplesUploaded, ShouldEqual, 0)
			So(api.calls(), ShouldResemble, []string{"t1", "t2", "t2", "t3"})
			So(rep.PendingActions, ShouldEqual, 0)
		})
	})
}

func TestReplay_StuckActionDoesNotBlockSamples(t *testing.T) {
	Convey("Given an action the server keeps failing and three queued samples", t, func() {
		s := openStore(t)
		defer s.Close()
		ctx := context.Background()
		at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
		enqueue(s, "in", model.ActionTimeIn, at)
		for i := 0; i < 3; i++ {
			_, err := s.AppendSample(ctx, model.LocationSample{
				Latitude: 40, Longitude: -74, RecordedAt: at.Add(time.Duration(i) * time.Minute),
			})
			So(err, ShouldBeNil)
		}
		api := &fakeAPI{respond: func(model.PendingAttendanceAction) error {
			return apiErr(client.ErrServer, "HTTP 500 INTERNAL_ERROR")
		}}

		Convey("Every run keeps the action and uploads the samples", func() {
			coord := replay.New(s, api)
			for i := 0; i < 2; i++ {
				rep, err := coord.Run(ctx)
				So(errors.Is(err, client.ErrServer), ShouldBeTrue)
				So(rep.Halted, ShouldBeTrue)
				So(rep.PendingActions, ShouldEqual, 1)
			}
			So(api.uploads, ShouldResemble, []int{3})
			left, _ := s.PendingActions(ctx, 1)
			So(left[0].RetryCount, ShouldEqual, 2)

			_, samples, err := s.Counts(ctx)
			So(err, ShouldBeNil)
			So(samples, ShouldEqual, 0)
		})

		Convey("A failed upload is reported next to the action failure", func() {
			api.upload = func(int) error { return apiErr(client.ErrTransient, "timeout") }
			rep, err := replay.New(s, api).Run(ctx)
			So(errors.Is(err, client.ErrServer), ShouldBeTrue)
			So(errors.Is(err, client.ErrTransient), ShouldBeTrue)
			So(rep.Halted, ShouldBeTrue)
			So(rep.PendingSamples, ShouldEqual, 3)
		})
	})
}

func TestReplay_Outcomes(t *testing.T) {
	Convey("Given a queued clock-in", t, func() {
		s := openStore(t)
		defer s.Close()
		ctx := context.Background()
		enqueue(s, "in", model.ActionTimeIn, time.Now().Add(-time.Hour))
		enqueue(s, "out", model.ActionTimeOut, time.Now())

		Convey("A reconciled conflict removes it and counts it as processed", func() {
			api := &fakeAPI{respond: func(a model.PendingAttendanceAction) error {
				if a.Kind == model.ActionTimeIn {
					return apiErr(client.ErrReconciledConflict, "Already clocked in today")
				}
				return nil
			}}
			rep, err := replay.New(s, api).Run(ctx)
			So(err, ShouldBeNil)
			So(rep.Reconciled, ShouldEqual, 1)
			So(rep.Applied, ShouldEqual, 1)
			So(rep.Processed(), ShouldEqual, 2)
			So(rep.PendingActions, ShouldEqual, 0)
		})

		Convey("A non-retryable 4xx drops it and the run continues", func() {
			api := &fakeAPI{respond: func(a model.PendingAttendanceAction) error {
				if a.Kind == model.ActionTimeIn {
					return apiErr(client.ErrPermanentClient, "HTTP 403 OUTSIDE_GEOFENCE")
				}
				return nil
			}}
			rep, err := replay.New(s, api).Run(ctx)
			So(err, ShouldBeNil)
			So(rep.Dropped, ShouldEqual, 1)
			So(rep.Applied, ShouldEqual, 1)
			So(api.calls(), ShouldResemble, []string{"in", "out"})
		})

		Convey("A transient failure keeps everything for the next run", func() {
			api := &fakeAPI{respond: func(model.PendingAttendanceAction) error {
				return apiErr(client.ErrTransient, "dial tcp: connection refused")
			}}
			rep, err := replay.New(s, api).Run(ctx)
			So(errors.Is(err, client.ErrTransient), ShouldBeTrue)
			So(rep.PendingActions, ShouldEqual, 2)
		})
	})
}

type tokenStore struct {
	mu  sync.Mutex
	tok string
}

func (m *tokenStore) Token(context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tok, nil
}

func (m *tokenStore) SetToken(_ context.Context, t string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tok = t
	return nil
}

func (m *tokenStore) ClearToken(ctx context.Context) error { return m.SetToken(ctx, "") }

func TestReplay_Auth(t *testing.T) {
	Convey("Given a server that rejects the token", t, func() {
		s := openStore(t)
		defer s.Close()
		ctx := context.Background()
		enqueue(s, "in", model.ActionTimeIn, time.Now())
		_, _ = s.AppendSample(ctx, model.LocationSample{Latitude: 40, Longitude: -74, RecordedAt: time.Now()})

		tok, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"sub": "emp-1", "exp": time.Now().Add(time.Hour).Unix(),
		}).SignedString([]byte("k"))
		tokens := &tokenStore{tok: tok}
		api := &fakeAPI{respond: func(model.PendingAttendanceAction) error {
			return apiErr(client.ErrAuth, "HTTP 401 UNAUTHORIZED")
		}}

		Convey("When refresh fails the device is logged out and the queue kept", func() {
			session := client.NewSession(tokens, client.RefreshFunc(func(context.Context, string) (string, error) {
				return "", errors.New("refresh endpoint unavailable")
			}))
			rep, err := replay.New(s, api, replay.WithRefresher(session)).Run(ctx)
			So(errors.Is(err, client.ErrAuth), ShouldBeTrue)
			So(rep.Halted, ShouldBeTrue)
			So(rep.PendingActions, ShouldEqual, 1)
			So(tokens.tok, ShouldBeEmpty)
			So(api.uploads, ShouldBeEmpty)
			So(rep.PendingSamples, ShouldEqual, 1)
		})

		Convey("When refresh succeeds the run still halts and the new token is saved", func() {
			fresh, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
				"sub": "emp-1", "exp": time.Now().Add(2 * time.Hour).Unix(),
			}).SignedString([]byte("k"))
			session := client.NewSession(tokens, client.RefreshFunc(func(context.Context, string) (string, error) {
				return fresh, nil
			}))
			rep, err := replay.New(s, api, replay.WithRefresher(session)).Run(ctx)
			So(errors.Is(err, client.ErrAuth), ShouldBeTrue)
			So(rep.PendingActions, ShouldEqual, 1)
			So(tokens.tok, ShouldEqual, fresh)

			left, _ := s.PendingActions(ctx, 1)
			So(left[0].RetryCount, ShouldEqual, 0)
		})
	})
}

func TestReplay_Empty(t *testing.T) {
	Convey("Given an empty queue", t, func() {
		s := openStore(t)
		defer s.Close()
		api := &fakeAPI{}

		rep, err := replay.New(s, api).Run(context.Background())

		Convey("Then the run is a no-op", func() {
			So(err, ShouldBeNil)
			So(rep.Processed(), ShouldEqual, 0)
			So(rep.Halted, ShouldBeFalse)
			So(api.calls(), ShouldBeEmpty)
			So(api.uploads, ShouldBeEmpty)
		})
	})
}

func TestReplay_SingleFlight(t *testing.T) {
	Convey("Given a slow server and two concurrent triggers", t, func() {
		s := openStore(t)
		defer s.Close()
		enqueue(s, "in", model.ActionTimeIn, time.Now())

		api := &fakeAPI{gate: make(chan struct{}), entered: make(chan struct{})}
		coord := replay.New(s, api)

		var wg sync.WaitGroup
		errs := make([]error, 2)
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[0] = coord.Run(context.Background())
		}()
		<-api.entered
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[1] = coord.Run(context.Background())
		}()
		time.Sleep(20 * time.Millisecond)
		close(api.gate)
		wg.Wait()

		Convey("Then the action is sent exactly once", func() {
			So(errs[0], ShouldBeNil)
			So(errs[1], ShouldBeNil)
			So(api.calls(), ShouldResemble, []string{"in"})
		})
	})
}

func TestReplay_Samples(t *testing.T) {
	Convey("Given 1200 queued samples", t, func() {
		s := openStore(t)
		defer s.Close()
		ctx := context.Background()
		base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
		for i := 0; i < 1200; i++ {
			_, err := s.AppendSample(ctx, model.LocationSample{
				Latitude: 40, Longitude: -74, RecordedAt: base.Add(time.Duration(i) * time.Second),
			})
			So(err, ShouldBeNil)
		}

		Convey("They are uploaded in batches of at most 500 and removed", func() {
			api := &fakeAPI{}
			rep, err := replay.New(s, api).Run(ctx)
			So(err, ShouldBeNil)
			So(api.uploads, ShouldResemble, []int{500, 500, 200})
			So(rep.SamplesUploaded, ShouldEqual, 1200)
			So(rep.PendingSamples, ShouldEqual, 0)
		})

		Convey("A failed batch stays queued", func() {
			calls := 0
			api := &fakeAPI{upload: func(int) error {
				calls++
				if calls == 2 {
					return apiErr(client.ErrTransient, "timeout")
				}
				return nil
			}}
			rep, err := replay.New(s, api, replay.WithSampleBatch(500)).Run(ctx)
			So(errors.Is(err, client.ErrTransient), ShouldBeTrue)
			So(rep.SamplesUploaded, ShouldEqual, 500)
			So(rep.PendingSamples, ShouldEqual, 700)
		})
	})
}
