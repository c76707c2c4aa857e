package api

import (
	"context"
	"net/http"

	service "github.com/okian/fieldguard/internal/app"
	"github.com/okian/fieldguard/internal/domain/geofence"
	"github.com/okian/fieldguard/internal/domain/model"
	"github.com/okian/fieldguard/pkg/logger"
)

// clockResponse is the attendance record with the WARN-policy warning
// alongside it.
type clockResponse struct {
	model.Attendance
	GeofenceWarning *geofence.Warning `json:"geofenceWarning,omitempty"`
}

// HandleTimeIn handles POST /api/v1/attendance/time-in.
func (s *Server) HandleTimeIn(w http.ResponseWriter, r *http.Request) {
	s.handleClock(w, r, "api.time_in", s.deps.ClockIn, http.StatusCreated)
}

// HandleTimeOut handles POST /api/v1/attendance/time-out.
func (s *Server) HandleTimeOut(w http.ResponseWriter, r *http.Request) {
	s.handleClock(w, r, "api.time_out", s.deps.ClockOut, http.StatusOK)
}

type clockFunc func(ctx context.Context, employeeID string, req service.ClockRequest) (service.ClockResult, error)

func (s *Server) handleClock(w http.ResponseWriter, r *http.Request, op string, do clockFunc, status int) {
	var req service.ClockRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, WrapKind(op, ErrBadRequest, err))
		return
	}

	if key := r.Header.Get("Idempotency-Key"); key != "" {
		s.logger.Debug(r.Context(), "clock action",
			logger.String("op", op),
			logger.String("idempotencyKey", key),
		)
	}

	res, err := do(r.Context(), CurrentEmployeeID(r), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, status, clockResponse{Attendance: res.Attendance, GeofenceWarning: res.GeofenceWarning})
}

// HandleToday handles GET /api/v1/attendance/today.
func (s *Server) HandleToday(w http.ResponseWriter, r *http.Request) {
	const op = "api.today"
	rec, err := s.deps.Today(r.Context(), CurrentEmployeeID(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if rec == nil {
		s.writeError(w, r, NewKind(op, ErrNotFound))
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
