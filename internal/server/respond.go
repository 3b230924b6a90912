package server

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/groundline/groundline/internal/errdefs"
	"github.com/groundline/groundline/internal/observability"
)

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

type errorBody struct {
	Kind      errdefs.Kind `json:"kind"`
	Message   string       `json:"message"`
	Stage     string       `json:"stage,omitempty"`
	Retryable bool         `json:"retryable,omitempty"`
}

// writeError maps a taxonomy error onto the API contract. Unclassified
// errors report as internal without leaking upstream text to the client.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	s.writeErrorWith(w, r, err, nil)
}

// writeErrorWith attaches extra top-level fields to the error payload, used
// by ingest to report per-document outcomes alongside a partial failure.
func (s *Server) writeErrorWith(w http.ResponseWriter, r *http.Request, err error, extra map[string]any) {
	kind := errdefs.KindOf(err)
	status := errdefs.HTTPStatus(kind)

	body := errorBody{Kind: kind, Message: "internal error"}
	var te *errdefs.Error
	if errors.As(err, &te) {
		body.Message = te.Msg
		body.Stage = te.Stage
		body.Retryable = te.Retryable
	}
	if retryAfter := errdefs.RetryAfterOf(err); retryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
	}
	if kind == errdefs.KindInternal {
		s.deps.Log.Error(r.Context(), "request failed",
			"request_id", observability.RequestID(r.Context()), "error", err)
	}
	if s.deps.Metrics != nil {
		s.deps.Metrics.ErrorCounter.WithLabelValues("http", string(kind)).Inc()
	}

	payload := map[string]any{
		"error":      body,
		"request_id": observability.RequestID(r.Context()),
	}
	for k, v := range extra {
		payload[k] = v
	}
	s.writeJSON(w, status, payload)
}

// pageParams parses limit and offset query parameters with bounds.
func pageParams(r *http.Request, defaultLimit, maxLimit int) (limit, offset int, err error) {
	limit = defaultLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return 0, 0, errdefs.InvalidInput("limit must be a positive integer")
		}
		if limit > maxLimit {
			limit = maxLimit
		}
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		offset, err = strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return 0, 0, errdefs.InvalidInput("offset must be a non-negative integer")
		}
	}
	return limit, offset, nil
}
