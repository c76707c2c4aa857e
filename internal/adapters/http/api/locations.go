package api

import (
	"net/http"
	"strconv"

	service "github.com/okian/fieldguard/internal/app"
	"github.com/okian/fieldguard/internal/domain/geo"
	"github.com/okian/fieldguard/internal/domain/model"
)

// HandleIngestBatch handles POST /api/v1/locations/batch.
func (s *Server) HandleIngestBatch(w http.ResponseWriter, r *http.Request) {
	const op = "api.ingest_batch"
	var batch service.IngestBatch
	if err := decodeJSON(w, r, &batch); err != nil {
		s.writeError(w, r, WrapKind(op, ErrBadRequest, err))
		return
	}

	res, err := s.deps.Ingest(r.Context(), CurrentEmployeeID(r), batch)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// HandleGeofenceCheck handles GET /api/v1/geofences/check.
func (s *Server) HandleGeofenceCheck(w http.ResponseWriter, r *http.Request) {
	const op = "api.geofence_check"
	lat, latErr := strconv.ParseFloat(r.URL.Query().Get("latitude"), 64)
	lon, lonErr := strconv.ParseFloat(r.URL.Query().Get("longitude"), 64)
	if latErr != nil || lonErr != nil {
		s.writeError(w, r, WrapKind(op, ErrBadRequest,
			model.Invalid("latitude/longitude", "must be numeric query parameters")))
		return
	}

	res, err := s.deps.CheckGeofence(r.Context(), CurrentEmployeeID(r), geo.Point{Lat: lat, Lon: lon})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
