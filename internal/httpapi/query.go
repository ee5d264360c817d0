package httpapi

import (
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"time"

	"github.com/danielhendel/oli-sub001/internal/auth"
	"github.com/danielhendel/oli-sub001/internal/pagination"
)

// pageResponse is the envelope of every list endpoint.
type pageResponse[T any] struct {
	Items      []T    `json:"items"`
	NextCursor string `json:"nextCursor,omitempty"`
	HasMore    bool   `json:"hasMore"`
}

// params rejects parameters outside allowed and repeated parameters.
func params(r *http.Request, allowed ...string) (url.Values, error) {
	q, err := url.ParseQuery(r.URL.RawQuery)
	if err != nil {
		return nil, badQuery("malformed query string")
	}
	for name, values := range q {
		if !slices.Contains(allowed, name) {
			return nil, badQuery(fmt.Sprintf("unknown query parameter %q", name))
		}
		if len(values) > 1 {
			return nil, badQuery(fmt.Sprintf("query parameter %q given more than once", name))
		}
	}
	return q, nil
}

// cursorScope binds a cursor to the caller, the route and its filters.
// The limit may change between pages.
func cursorScope(r *http.Request) string {
	q := r.URL.Query()
	q.Del("cursor")
	q.Del("limit")
	return auth.UserID(r.Context()) + " " + r.URL.Path + "?" + q.Encode()
}

func (s *Server) pageQuery(r *http.Request, q url.Values) (pagination.Query, error) {
	limit, err := pagination.ParseLimit(q.Get("limit"), s.defLimit, s.maxLimit)
	if err != nil {
		return pagination.Query{}, err
	}
	after, err := s.cursors.DecodeOptional(cursorScope(r), q.Get("cursor"))
	if err != nil {
		return pagination.Query{}, err
	}
	return pagination.Query{Limit: limit, After: after}, nil
}

func respondPage[T any](s *Server, w http.ResponseWriter, r *http.Request, page pagination.Page[T]) {
	out := pageResponse[T]{Items: page.Items, HasMore: page.HasMore}
	if out.Items == nil {
		out.Items = []T{}
	}
	if page.Next != nil {
		next, err := s.cursors.Encode(cursorScope(r), *page.Next)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		out.NextCursor = next
	}
	writeJSON(w, http.StatusOK, out)
}

// optionalTime parses an RFC 3339 bound, or returns nil when raw is empty.
func optionalTime(name, raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return nil, badQuery(fmt.Sprintf("%s must be an RFC 3339 timestamp", name))
	}
	t = t.UTC()
	return &t, nil
}
