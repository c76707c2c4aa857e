package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	eventqueue "github.com/okian/fieldguard/internal/adapters/mq/queue"
	repository "github.com/okian/fieldguard/internal/adapters/repository"
	service "github.com/okian/fieldguard/internal/app"
	"github.com/okian/fieldguard/internal/domain/attendance"
	"github.com/okian/fieldguard/internal/domain/model"
)

// Sentinel kinds for API errors.
var (
	ErrServe        = errors.New("http serve failed")
	ErrBadRequest   = errors.New("bad request")
	ErrUnauthorized = errors.New("authentication failed")
	ErrForbidden    = errors.New("not allowed")
	ErrNotFound     = errors.New("not found")
	ErrUnavailable  = errors.New("service unavailable")
)

// Wire error codes.
const (
	CodeBadRequest      = "BAD_REQUEST"
	CodeValidation      = "VALIDATION_ERROR"
	CodeUnauthorized    = "UNAUTHORIZED"
	CodeForbidden       = "FORBIDDEN"
	CodeNotFound        = "NOT_FOUND"
	CodeOutsideGeofence = "OUTSIDE_GEOFENCE"
	CodeUnavailable     = "SERVICE_UNAVAILABLE"
	CodeInternal        = "INTERNAL_ERROR"
)

// KindError tags an error with the operation and a sentinel kind.
type KindError struct {
	Op   string
	Kind error
	Err  error
}

func (e *KindError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

func (e *KindError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// WrapKind wraps err under kind for op.
func WrapKind(op string, kind, err error) error {
	return &KindError{Op: op, Kind: kind, Err: err}
}

// NewKind returns a bare kind error for op.
func NewKind(op string, kind error) error {
	return &KindError{Op: op, Kind: kind}
}

// errorResponse is the envelope for every non-2xx reply.
type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// errorStatus maps an error to status, code, message and details.
func errorStatus(err error) (int, errorResponse) {
	var (
		ve       *model.ValidationError
		conflict *attendance.ConflictError
		denied   *service.GeofenceDeniedError
	)
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest, errorResponse{
			Code: CodeValidation, Message: ve.Error(),
			Details: map[string]string{"field": ve.Field, "reason": ve.Reason},
		}
	case errors.As(err, &conflict):
		status := http.StatusConflict
		if !conflict.Reconciled() {
			status = http.StatusBadRequest
		}
		return status, errorResponse{Code: conflict.Code, Message: conflict.Message}
	case errors.As(err, &denied):
		resp := errorResponse{Code: CodeOutsideGeofence, Message: denied.Error()}
		if denied.Warning != nil {
			resp.Details = denied.Warning
		}
		return http.StatusForbidden, resp
	case errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest, errorResponse{Code: CodeBadRequest, Message: err.Error()}
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, errorResponse{Code: CodeUnauthorized, Message: "Authentication failed"}
	case errors.Is(err, ErrForbidden), errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden, errorResponse{Code: CodeForbidden, Message: "Not allowed"}
	case errors.Is(err, ErrNotFound), errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound, errorResponse{Code: CodeNotFound, Message: "Not found"}
	case errors.Is(err, service.ErrIngestTimeout),
		errors.Is(err, service.ErrNotStarted),
		errors.Is(err, eventqueue.ErrClosed),
		errors.Is(err, ErrUnavailable),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, errorResponse{Code: CodeUnavailable, Message: "Service temporarily unavailable"}
	default:
		return http.StatusInternalServerError, errorResponse{Code: CodeInternal, Message: "Internal server error"}
	}
}
