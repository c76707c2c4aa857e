package client

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/okian/fieldguard/internal/domain/model"
)

// Error classes. Every error returned by Client matches exactly one of
// these with errors.Is.
var (
	ErrValidation         = errors.New("request rejected as invalid")
	ErrTransient          = errors.New("transient network failure")
	ErrServer             = errors.New("server error")
	ErrReconciledConflict = errors.New("action already applied on the server")
	ErrAuth               = errors.New("authentication required")
	ErrPermanentClient    = errors.New("request permanently rejected")
)

// Class names an error class for logs and metrics.
type Class string

const (
	ClassNone               Class = "none"
	ClassValidation         Class = "validation"
	ClassTransient          Class = "transient"
	ClassServer             Class = "server"
	ClassReconciledConflict Class = "reconciled_conflict"
	ClassAuth               Class = "auth"
	ClassPermanentClient    Class = "permanent_client"
)

// Classify returns the class of err. Unknown errors are transient: a
// failure that never reached the server can always be retried.
func Classify(err error) Class {
	switch {
	case err == nil:
		return ClassNone
	case errors.Is(err, ErrReconciledConflict):
		return ClassReconciledConflict
	case errors.Is(err, ErrAuth):
		return ClassAuth
	case errors.Is(err, ErrValidation):
		return ClassValidation
	case errors.Is(err, ErrPermanentClient):
		return ClassPermanentClient
	case errors.Is(err, ErrServer):
		return ClassServer
	default:
		return ClassTransient
	}
}

// Retryable reports whether the action should stay queued.
func Retryable(err error) bool {
	switch Classify(err) {
	case ClassTransient, ClassServer:
		return true
	default:
		return false
	}
}

// APIError is a non-2xx reply.
type APIError struct {
	Status  int
	Code    string
	Message string
	class   error
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("HTTP %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("HTTP %d %s: %s", e.Status, e.Code, e.Message)
}

func (e *APIError) Unwrap() error { return e.class }

var (
	alreadyInPattern  = regexp.MustCompile(`(?i)already\s+clocked\s+in`)
	alreadyOutPattern = regexp.MustCompile(`(?i)already\s+clocked\s+out`)
)

// reconciled reports whether a conflict reply means the given action already
// took effect. A conflict about the other kind of action is not a match.
func reconciled(kind model.ActionKind, code, message string) bool {
	switch kind {
	case model.ActionTimeIn:
		return strings.EqualFold(code, "ALREADY_CLOCKED_IN") || alreadyInPattern.MatchString(message)
	case model.ActionTimeOut:
		return strings.EqualFold(code, "ALREADY_CLOCKED_OUT") || alreadyOutPattern.MatchString(message)
	default:
		return false
	}
}

// classifyStatus builds the APIError for a reply. kind is empty for
// requests that are not clock actions.
func classifyStatus(status int, code, message string, kind model.ActionKind) *APIError {
	e := &APIError{Status: status, Code: code, Message: message}
	switch {
	case status == http.StatusUnauthorized:
		e.class = ErrAuth
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests:
		e.class = ErrTransient
	case status >= http.StatusInternalServerError:
		e.class = ErrServer
	case kind != "" && (status == http.StatusConflict || status == http.StatusBadRequest) && reconciled(kind, code, message):
		e.class = ErrReconciledConflict
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		e.class = ErrValidation
	default:
		e.class = ErrPermanentClient
	}
	return e
}
