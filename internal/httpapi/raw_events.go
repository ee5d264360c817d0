package httpapi

import (
	"net/http"

	"github.com/danielhendel/oli-sub001/internal/auth"
	"github.com/danielhendel/oli-sub001/internal/ingest"
	"github.com/danielhendel/oli-sub001/internal/logging"
	"github.com/danielhendel/oli-sub001/internal/metrics"
	"github.com/danielhendel/oli-sub001/internal/model"
	"github.com/danielhendel/oli-sub001/internal/store"
)

// HeaderIdempotencyKey carries the client's key for a raw event.
const HeaderIdempotencyKey = "Idempotency-Key"

func (s *Server) handleCreateRawEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := auth.UserID(ctx)

	key := r.Header.Get(HeaderIdempotencyKey)
	if key == "" {
		s.metrics.IngestOutcome(metrics.IngestRejected)
		s.writeError(w, r, &ingest.ValidationError{
			Code:    ingest.CodeIdempotencyKeyRequired,
			Status:  http.StatusBadRequest,
			Message: "Idempotency-Key header is required",
		})
		return
	}

	req, err := ingest.DecodeRequest(r.Body)
	if err != nil {
		s.metrics.IngestOutcome(metrics.IngestRejected)
		s.writeError(w, r, err)
		return
	}

	// Only well-formed requests count against the quota.
	allowed, err := s.limiter.Allow(ctx, userID)
	if err != nil {
		// Fail open.
		s.logger.WarnContext(ctx, "rate limiter unavailable", logging.Error(err))
		allowed = true
	}
	if !allowed {
		s.metrics.IngestOutcome(metrics.IngestLimited)
		s.writeError(w, r, &apiError{
			status:  http.StatusTooManyRequests,
			code:    CodeRateLimited,
			message: "too many raw events, retry later",
		})
		return
	}

	resp, err := s.ingest.Ingest(ctx, userID, key, req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, resp)
}

func (s *Server) handleListRawEvents(w http.ResponseWriter, r *http.Request) {
	q, err := params(r, "limit", "cursor", "kind", "provider", "sourceId", "from", "to")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	page, err := s.pageQuery(r, q)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	query := store.RawEventQuery{
		UserID:   auth.UserID(r.Context()),
		Provider: q.Get("provider"),
		SourceID: q.Get("sourceId"),
		Page:     page,
	}
	if kind := model.Kind(q.Get("kind")); kind != "" {
		if !kind.Valid() {
			s.writeError(w, r, badQuery("unknown kind "+string(kind)))
			return
		}
		query.Kind = kind
	}
	if query.From, err = optionalTime("from", q.Get("from")); err != nil {
		s.writeError(w, r, err)
		return
	}
	if query.To, err = optionalTime("to", q.Get("to")); err != nil {
		s.writeError(w, r, err)
		return
	}

	result, err := s.store.ListRawEvents(r.Context(), query)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	respondPage(s, w, r, result)
}
