package api

import (
	"net/http"
	"strconv"
	"strings"

	repository "github.com/okian/fieldguard/internal/adapters/repository"
	"github.com/okian/fieldguard/internal/domain/model"
)

// HandleMovement handles GET /api/v1/reports/movement. Employees may read
// their own report; admins and managers may read anyone's.
func (s *Server) HandleMovement(w http.ResponseWriter, r *http.Request) {
	const op = "api.movement"
	self := CurrentEmployeeID(r)
	employeeID := strings.TrimSpace(r.URL.Query().Get("employeeId"))
	if employeeID == "" {
		employeeID = self
	}
	if employeeID != self && !hasAnyRole(r, RoleAdmin, RoleManager) {
		s.writeError(w, r, NewKind(op, ErrForbidden))
		return
	}

	report, err := s.deps.Movement(r.Context(), employeeID, r.URL.Query().Get("date"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

type alertsResponse struct {
	Items []model.AlertRecord `json:"items"`
}

// HandleAlerts handles GET /api/v1/alerts.
func (s *Server) HandleAlerts(w http.ResponseWriter, r *http.Request) {
	const op = "api.alerts"
	q := repository.AlertQuery{EmployeeID: r.URL.Query().Get("employeeId")}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			s.writeError(w, r, WrapKind(op, ErrBadRequest, model.Invalid("limit", "must be a positive integer")))
			return
		}
		q.Limit = n
	}
	if raw := strings.ToUpper(r.URL.Query().Get("minSeverity")); raw != "" {
		switch sev := model.Severity(raw); sev {
		case model.SeverityLow, model.SeverityMedium, model.SeverityHigh, model.SeverityCritical:
			q.MinSeverity = sev
		default:
			s.writeError(w, r, WrapKind(op, ErrBadRequest, model.Invalid("minSeverity", "unknown severity")))
			return
		}
	}

	items, err := s.deps.RecentAlerts(r.Context(), q)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, alertsResponse{Items: items})
}
