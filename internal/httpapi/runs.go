package httpapi

import (
	"net/http"

	"github.com/danielhendel/oli-sub001/internal/auth"
	"github.com/danielhendel/oli-sub001/internal/middleware"
	"github.com/danielhendel/oli-sub001/internal/model"
	"github.com/danielhendel/oli-sub001/internal/store"
)

func (s *Server) handleListCanonicalEvents(w http.ResponseWriter, r *http.Request) {
	q, err := params(r, "day", "limit", "cursor")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	day, err := optionalDay(q.Get("day"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	page, err := s.pageQuery(r, q)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	result, err := s.store.ListCanonicalEvents(r.Context(), store.CanonicalEventQuery{
		UserID: auth.UserID(r.Context()),
		Day:    day,
		Page:   page,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	respondPage(s, w, r, result)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	q, err := params(r, "day", "limit", "cursor")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	day, err := optionalDay(q.Get("day"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	page, err := s.pageQuery(r, q)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	result, err := s.store.ListRuns(r.Context(), store.RunQuery{
		UserID: auth.UserID(r.Context()),
		Day:    day,
		Page:   page,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	respondPage(s, w, r, result)
}

// handleCreateRun builds a manual run of the day.
func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	if _, err := params(r); err != nil {
		s.writeError(w, r, err)
		return
	}
	day, err := pathDay(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	run, err := s.builder.Build(r.Context(), model.RunRequest{
		UserID: auth.UserID(r.Context()),
		Day:    day,
		Trigger: model.Trigger{
			Type:      model.TriggerManual,
			RequestID: middleware.GetRequestID(r.Context()),
		},
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, run)
}

func (s *Server) handleReplay(w http.ResponseWriter, r *http.Request) {
	q, err := params(r, "runId")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	day, err := pathDay(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	result, err := s.replay.Replay(r.Context(), auth.UserID(r.Context()), day, q.Get("runId"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleExplain(w http.ResponseWriter, r *http.Request) {
	if _, err := params(r); err != nil {
		s.writeError(w, r, err)
		return
	}
	day, err := pathDay(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	exp, err := s.replay.Explain(r.Context(), auth.UserID(r.Context()), day, r.PathValue("runId"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, exp)
}

func pathDay(r *http.Request) (string, error) {
	day := r.PathValue("day")
	if !model.ValidDay(day) {
		return "", &apiError{status: http.StatusBadRequest, code: CodeInvalidDay, message: "day must be YYYY-MM-DD"}
	}
	return day, nil
}

func optionalDay(day string) (string, error) {
	if day != "" && !model.ValidDay(day) {
		return "", badQuery("day must be YYYY-MM-DD")
	}
	return day, nil
}
