package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/danielhendel/oli-sub001/internal/derive"
	"github.com/danielhendel/oli-sub001/internal/ingest"
	"github.com/danielhendel/oli-sub001/internal/logging"
	"github.com/danielhendel/oli-sub001/internal/pagination"
	"github.com/danielhendel/oli-sub001/internal/replay"
)

// Error codes owned by the HTTP layer.
const (
	CodeInvalidQuery    = "INVALID_QUERY"
	CodeInvalidCursor   = "INVALID_CURSOR"
	CodeInvalidDay      = "INVALID_DAY"
	CodeRateLimited     = "RATE_LIMITED"
	CodeUnauthenticated = "UNAUTHENTICATED"
	CodeForbidden       = "FORBIDDEN"
	CodeNotFound        = "NOT_FOUND"
	CodeInternal        = "INTERNAL"
)

// errorResponse is the body of every non-2xx response.
type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// apiError is an error with a fixed status and code.
type apiError struct {
	status  int
	code    string
	message string
}

func (e *apiError) Error() string { return e.code + ": " + e.message }

func badQuery(message string) error {
	return &apiError{status: http.StatusBadRequest, code: CodeInvalidQuery, message: message}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps err to a status and code. Unknown errors are logged and
// reported as 500 without detail.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := classify(err)
	if status >= http.StatusInternalServerError {
		s.logger.ErrorContext(r.Context(), "request failed",
			logging.Method(r.Method),
			logging.Path(r.URL.Path),
			logging.Code(body.Code),
			logging.Error(err),
		)
	}
	writeJSON(w, status, body)
}

func classify(err error) (int, errorResponse) {
	var (
		ae *apiError
		ve *ingest.ValidationError
		ie *replay.IntegrityError
	)
	switch {
	case errors.As(err, &ae):
		return ae.status, errorResponse{Code: ae.code, Message: ae.message}
	case errors.As(err, &ve):
		return ve.Status, errorResponse{Code: ve.Code, Message: ve.Message}
	case errors.As(err, &ie):
		return http.StatusInternalServerError, errorResponse{Code: string(ie.Code), Message: "integrity verification failed"}
	case errors.Is(err, replay.ErrForbidden):
		return http.StatusForbidden, errorResponse{Code: CodeForbidden, Message: "run belongs to another user"}
	case errors.Is(err, replay.ErrNotFound):
		return http.StatusNotFound, errorResponse{Code: CodeNotFound, Message: "run not found"}
	case errors.Is(err, pagination.ErrInvalidCursor):
		return http.StatusBadRequest, errorResponse{Code: CodeInvalidCursor, Message: err.Error()}
	case errors.Is(err, pagination.ErrInvalidLimit):
		return http.StatusBadRequest, errorResponse{Code: CodeInvalidQuery, Message: err.Error()}
	case errors.Is(err, derive.ErrInvalidRequest):
		return http.StatusBadRequest, errorResponse{Code: CodeInvalidDay, Message: err.Error()}
	default:
		return http.StatusInternalServerError, errorResponse{Code: CodeInternal, Message: "internal error"}
	}
}
