package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/fieldguard/internal/adapters/http/api"
	repository "github.com/okian/fieldguard/internal/adapters/repository"
	service "github.com/okian/fieldguard/internal/app"
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

const (
	testSecret = "test-secret"
	testIssuer = "fieldguard-test"
)

var office = model.Geofence{
	ID: "hq", Name: "HQ", Latitude: 40.0, Longitude: -74.0,
	RadiusMeters: 200, Type: model.GeofenceOffice, Active: true,
}

func token(sub string, roles ...string) string {
	claims := jwt.MapClaims{
		"sub":   sub,
		"iss":   testIssuer,
		"exp":   time.Now().Add(time.Hour).Unix(),
		"roles": roles,
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		panic(err)
	}
	return s
}

type fixture struct {
	svc     *service.Service
	handler http.Handler
}

func newFixture(policy model.GeofencePolicy) *fixture {
	svc := service.New(repository.NewMemoryStore(),
		service.WithGeofencePolicy(policy),
		service.WithPartitionCount(2),
	)
	if err := svc.SeedGeofence(context.Background(), office, "emp-1", "emp-2"); err != nil {
		panic(err)
	}
	if err := svc.Start(context.Background()); err != nil {
		panic(err)
	}
	srv := api.NewServer(svc, svc, api.NewTokenVerifier(testSecret, testIssuer))
	return &fixture{svc: svc, handler: srv.Router()}
}

func (f *fixture) close() {
	_ = f.svc.Stop(context.Background())
}

func (f *fixture) do(method, path, bearer string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			panic(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	return w
}

func decode(w *httptest.ResponseRecorder) map[string]any {
	out := map[string]any{}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		panic(fmt.Sprintf("decode %q: %v", w.Body.String(), err))
	}
	return out
}

func clockBody(lat, lon float64) map[string]any {
	return map[string]any{"latitude": lat, "longitude": lon, "deviceId": "dev-1"}
}

func TestAuth(t *testing.T) {
	Convey("Given the API router", t, func() {
		f := newFixture(model.PolicyWarn)
		defer f.close()

		Convey("Requests without a token are rejected", func() {
			w := f.do(http.MethodGet, "/api/v1/attendance/today", "", nil)
			So(w.Code, ShouldEqual, http.StatusUnauthorized)
			So(decode(w)["code"], ShouldEqual, api.CodeUnauthorized)
		})

		Convey("Tokens signed with another secret are rejected", func() {
			bad, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "emp-1", "iss": testIssuer}).
				SignedString([]byte("other"))
			w := f.do(http.MethodGet, "/api/v1/attendance/today", bad, nil)
			So(w.Code, ShouldEqual, http.StatusUnauthorized)
		})

		Convey("Tokens from another issuer are rejected", func() {
			other, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "emp-1", "iss": "someone"}).
				SignedString([]byte(testSecret))
			w := f.do(http.MethodGet, "/api/v1/attendance/today", other, nil)
			So(w.Code, ShouldEqual, http.StatusUnauthorized)
		})

		Convey("A verifier without a secret accepts nothing", func() {
			forged, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
				"sub": "emp-1", "roles": []string{"admin"}, "exp": time.Now().Add(time.Hour).Unix(),
			}).SignedString([]byte{})
			_, err := api.NewTokenVerifier("", "").Verify(forged)
			So(err, ShouldNotBeNil)
		})

		Convey("Health is public", func() {
			w := f.do(http.MethodGet, "/healthz", "", nil)
			So(w.Code, ShouldEqual, http.StatusOK)
			So(decode(w)["status"], ShouldEqual, "ok")
		})
	})
}

func TestIngestBatch(t *testing.T) {
	Convey("Given an authenticated employee", t, func() {
		f := newFixture(model.PolicyWarn)
		defer f.close()
		tok := token("emp-1")
		base := time.Now().Add(-time.Hour).UTC()

		batch := map[string]any{
			"deviceId": "dev-1",
			"locations": []map[string]any{
				{"latitude": 40.0, "longitude": -74.0, "accuracy": 10, "recordedAt": base},
				{"latitude": 40.001, "longitude": -74.0, "accuracy": 10, "recordedAt": base.Add(time.Minute)},
			},
		}

		Convey("A valid batch is accepted with 201", func() {
			w := f.do(http.MethodPost, "/api/v1/locations/batch", tok, batch)
			So(w.Code, ShouldEqual, http.StatusCreated)
			body := decode(w)
			So(body["synced"], ShouldEqual, 2.0)
			So(body["duplicates"], ShouldEqual, 0.0)

			Convey("And resending it reports duplicates", func() {
				w := f.do(http.MethodPost, "/api/v1/locations/batch", tok, batch)
				So(w.Code, ShouldEqual, http.StatusCreated)
				body := decode(w)
				So(body["synced"], ShouldEqual, 2.0)
				So(body["duplicates"], ShouldEqual, 2.0)
			})
		})

		Convey("A malformed body is a 400", func() {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/locations/batch", strings.NewReader("{not json"))
			req.Header.Set("Authorization", "Bearer "+tok)
			w := httptest.NewRecorder()
			f.handler.ServeHTTP(w, req)
			So(w.Code, ShouldEqual, http.StatusBadRequest)
			So(decode(w)["code"], ShouldEqual, api.CodeBadRequest)
		})

		Convey("An out-of-range latitude is a validation error", func() {
			bad := map[string]any{"locations": []map[string]any{
				{"latitude": 91.0, "longitude": 0.0, "accuracy": 5, "recordedAt": base},
			}}
			w := f.do(http.MethodPost, "/api/v1/locations/batch", tok, bad)
			So(w.Code, ShouldEqual, http.StatusBadRequest)
			So(decode(w)["code"], ShouldEqual, api.CodeValidation)
		})
	})
}

func TestGeofenceCheck(t *testing.T) {
	Convey("Given an employee assigned to HQ", t, func() {
		f := newFixture(model.PolicyWarn)
		defer f.close()
		tok := token("emp-1")

		Convey("A point at HQ is inside", func() {
			w := f.do(http.MethodGet, "/api/v1/geofences/check?latitude=40&longitude=-74", tok, nil)
			So(w.Code, ShouldEqual, http.StatusOK)
			body := decode(w)
			So(body["insideAnyGeofence"], ShouldEqual, true)
			So(body["hasAssignedGeofences"], ShouldEqual, true)
		})

		Convey("Non-numeric coordinates are a 400", func() {
			w := f.do(http.MethodGet, "/api/v1/geofences/check?latitude=abc&longitude=-74", tok, nil)
			So(w.Code, ShouldEqual, http.StatusBadRequest)
		})
	})
}

func TestAttendance(t *testing.T) {
	Convey("Given WARN policy", t, func() {
		f := newFixture(model.PolicyWarn)
		defer f.close()
		tok := token("emp-1")

		Convey("Today is 404 before any clock-in", func() {
			w := f.do(http.MethodGet, "/api/v1/attendance/today", tok, nil)
			So(w.Code, ShouldEqual, http.StatusNotFound)
			So(decode(w)["code"], ShouldEqual, api.CodeNotFound)
		})

		Convey("Clocking out first is a 400 NO_CLOCK_IN", func() {
			w := f.do(http.MethodPost, "/api/v1/attendance/time-out", tok, clockBody(40.0, -74.0))
			So(w.Code, ShouldEqual, http.StatusBadRequest)
			body := decode(w)
			So(body["code"], ShouldEqual, "NO_CLOCK_IN")
			So(body["message"], ShouldEqual, "No clock-in record found for today")
		})

		Convey("Clocking in inside the zone returns 201 without a warning", func() {
			w := f.do(http.MethodPost, "/api/v1/attendance/time-in", tok, clockBody(40.0, -74.0))
			So(w.Code, ShouldEqual, http.StatusCreated)
			body := decode(w)
			So(body["employeeId"], ShouldEqual, "emp-1")
			So(body["timeIn"], ShouldNotBeNil)
			So(body["geofenceWarning"], ShouldBeNil)
			So(body["outsideGeofence"], ShouldEqual, false)

			Convey("And a second clock-in is a 409 ALREADY_CLOCKED_IN", func() {
				w := f.do(http.MethodPost, "/api/v1/attendance/time-in", tok, clockBody(40.0, -74.0))
				So(w.Code, ShouldEqual, http.StatusConflict)
				body := decode(w)
				So(body["code"], ShouldEqual, "ALREADY_CLOCKED_IN")
				So(body["message"], ShouldEqual, "Already clocked in today")
			})

			Convey("And today now returns the record", func() {
				w := f.do(http.MethodGet, "/api/v1/attendance/today", tok, nil)
				So(w.Code, ShouldEqual, http.StatusOK)
				So(decode(w)["employeeId"], ShouldEqual, "emp-1")
			})

			Convey("And clocking out twice is a 409 ALREADY_CLOCKED_OUT", func() {
				w := f.do(http.MethodPost, "/api/v1/attendance/time-out", tok, clockBody(40.0, -74.0))
				So(w.Code, ShouldEqual, http.StatusOK)
				So(decode(w)["timeOut"], ShouldNotBeNil)

				w = f.do(http.MethodPost, "/api/v1/attendance/time-out", tok, clockBody(40.0, -74.0))
				So(w.Code, ShouldEqual, http.StatusConflict)
				So(decode(w)["code"], ShouldEqual, "ALREADY_CLOCKED_OUT")
			})
		})

		Convey("Clocking in outside the zone succeeds with a warning", func() {
			w := f.do(http.MethodPost, "/api/v1/attendance/time-in", tok, clockBody(40.01, -74.0))
			So(w.Code, ShouldEqual, http.StatusCreated)
			body := decode(w)
			So(body["outsideGeofence"], ShouldEqual, true)
			warning, ok := body["geofenceWarning"].(map[string]any)
			So(ok, ShouldBeTrue)
			So(warning["policy"], ShouldEqual, "WARN")
			So(warning["geofences"], ShouldHaveLength, 1)
		})
	})

	Convey("Given BLOCK policy", t, func() {
		f := newFixture(model.PolicyBlock)
		defer f.close()
		tok := token("emp-1")

		Convey("Clocking in outside the zone is a 403 OUTSIDE_GEOFENCE", func() {
			w := f.do(http.MethodPost, "/api/v1/attendance/time-in", tok, clockBody(40.01, -74.0))
			So(w.Code, ShouldEqual, http.StatusForbidden)
			body := decode(w)
			So(body["code"], ShouldEqual, api.CodeOutsideGeofence)
			So(body["details"], ShouldNotBeNil)

			Convey("And nothing was recorded", func() {
				w := f.do(http.MethodGet, "/api/v1/attendance/today", tok, nil)
				So(w.Code, ShouldEqual, http.StatusNotFound)
			})
		})
	})
}

func TestReports(t *testing.T) {
	Convey("Given employees and a manager", t, func() {
		f := newFixture(model.PolicyWarn)
		defer f.close()

		Convey("An employee can read their own movement", func() {
			w := f.do(http.MethodGet, "/api/v1/reports/movement", token("emp-1"), nil)
			So(w.Code, ShouldEqual, http.StatusOK)
			body := decode(w)
			So(body["employeeId"], ShouldEqual, "emp-1")
			So(body["locationCount"], ShouldEqual, 0.0)
		})

		Convey("An employee cannot read someone else's movement", func() {
			w := f.do(http.MethodGet, "/api/v1/reports/movement?employeeId=emp-2", token("emp-1"), nil)
			So(w.Code, ShouldEqual, http.StatusForbidden)
			So(decode(w)["code"], ShouldEqual, api.CodeForbidden)
		})

		Convey("A manager can read anyone's movement", func() {
			w := f.do(http.MethodGet, "/api/v1/reports/movement?employeeId=emp-2", token("boss", api.RoleManager), nil)
			So(w.Code, ShouldEqual, http.StatusOK)
			So(decode(w)["employeeId"], ShouldEqual, "emp-2")
		})

		Convey("A malformed date is a validation error", func() {
			w := f.do(http.MethodGet, "/api/v1/reports/movement?date=yesterday", token("emp-1"), nil)
			So(w.Code, ShouldEqual, http.StatusBadRequest)
			So(decode(w)["code"], ShouldEqual, api.CodeValidation)
		})

		Convey("Alerts require a privileged role", func() {
			w := f.do(http.MethodGet, "/api/v1/alerts", token("emp-1"), nil)
			So(w.Code, ShouldEqual, http.StatusForbidden)

			w = f.do(http.MethodGet, "/api/v1/alerts", token("root", api.RoleAdmin), nil)
			So(w.Code, ShouldEqual, http.StatusOK)
			So(decode(w)["items"], ShouldBeEmpty)
		})

		Convey("Alert filters are validated", func() {
			w := f.do(http.MethodGet, "/api/v1/alerts?limit=-1", token("root", api.RoleAdmin), nil)
			So(w.Code, ShouldEqual, http.StatusBadRequest)

			w = f.do(http.MethodGet, "/api/v1/alerts?minSeverity=extreme", token("root", api.RoleAdmin), nil)
			So(w.Code, ShouldEqual, http.StatusBadRequest)
		})
	})
}

func TestAlertStream(t *testing.T) {
	Convey("Given a running server", t, func() {
		f := newFixture(model.PolicyWarn)
		defer f.close()
		ts := httptest.NewServer(f.handler)
		defer ts.Close()
		wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/alerts"

		Convey("An employee token cannot open the stream", func() {
			_, resp, err := websocket.DefaultDialer.Dial(wsURL+"?token="+token("emp-1"), nil)
			So(err, ShouldNotBeNil)
			So(resp.StatusCode, ShouldEqual, http.StatusForbidden)
		})

		Convey("A manager receives alerts raised after connecting", func() {
			conn, _, err := websocket.DefaultDialer.Dial(wsURL+"?token="+token("boss", api.RoleManager), nil)
			So(err, ShouldBeNil)
			defer conn.Close()

			// Wait for the handler to subscribe before raising the alert.
			deadline := time.Now().Add(2 * time.Second)
			for f.svc.GetStats()["subscribers"] != 1 && time.Now().Before(deadline) {
				time.Sleep(10 * time.Millisecond)
			}

			base := time.Now().Add(-time.Hour).UTC()
			// One degree of latitude in one minute.
			batch := map[string]any{"locations": []map[string]any{
				{"latitude": 40.0, "longitude": -74.0, "accuracy": 10, "recordedAt": base},
				{"latitude": 41.0, "longitude": -74.0, "accuracy": 10, "recordedAt": base.Add(time.Minute)},
			}}
			w := f.do(http.MethodPost, "/api/v1/locations/batch", token("emp-1"), batch)
			So(w.Code, ShouldEqual, http.StatusCreated)

			_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
			var alert model.AlertRecord
			So(conn.ReadJSON(&alert), ShouldBeNil)
			So(alert.EmployeeID, ShouldEqual, "emp-1")
		})
	})
}
