package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

type pingResponse struct {
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
}

type usageResponse struct {
	Resource  string `json:"resource"`
	Client    string `json:"client"`
	Usage     int64  `json:"usage"`
	Limit     int64  `json:"limit"`
	WindowMs  int64  `json:"window_ms"`
	Remaining int64  `json:"remaining"`
	Reached   bool   `json:"reached"`
	WaitMs    int64  `json:"wait_ms"`
}

type healthResponse struct {
	Status string `json:"status"`
	Store  string `json:"store"`
	Error  string `json:"error,omitempty"`
}

func (s *Server) ping(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, pingResponse{Message: "pong", RequestID: RequestIDFrom(r.Context())})
}

// usage reports a client's bucket without incrementing it. client is the raw
// key produced by ClientKey, e.g. "ip:10.0.0.1".
func (s *Server) usage(w http.ResponseWriter, r *http.Request) {
	client := mux.Vars(r)["client"]
	l := s.limiter.ForClient(client)
	ctx := r.Context()

	usage, err := l.Usage(ctx)
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	wait, err := l.WaitTime(ctx)
	if err != nil {
		s.storeError(w, r, err)
		return
	}

	limit := l.Limit()
	writeJSON(w, http.StatusOK, usageResponse{
		Resource:  l.Resource(),
		Client:    client,
		Usage:     usage,
		Limit:     limit.MaxRequests,
		WindowMs:  limit.Window.Milliseconds(),
		Remaining: remaining(limit.MaxRequests, usage),
		Reached:   usage >= limit.MaxRequests,
		WaitMs:    wait.Milliseconds(),
	})
}

// health probes the store with a read so an outage after startup is visible.
func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), time.Second)
	defer cancel()

	if _, _, err := s.backend.Store.Get(ctx, s.cfg.Store.Prefix+"health"); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unavailable", Store: s.backend.Type, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Store: s.backend.Type})
}

func (s *Server) storeError(w http.ResponseWriter, r *http.Request, err error) {
	s.logger.Error("Counter store request failed", "path", r.URL.Path, "error", err, "request_id", RequestIDFrom(r.Context()))
	writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "Rate limiter unavailable", Code: "RATE_LIMITER_UNAVAILABLE"})
}
