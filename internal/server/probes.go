package server

import (
	"context"
	"net/http"
	"time"
)

// probeTimeout bounds one dependency ping during readiness.
const probeTimeout = 2 * time.Second

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// handleReadiness pings every registered dependency. A degraded dependency
// turns the probe 503 so the scheduler stops routing traffic here.
func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	ready := true
	checks := make(map[string]string, len(s.deps.Readiness))
	for _, check := range s.deps.Readiness {
		ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
		err := check.Ping(ctx)
		cancel()
		if err != nil {
			ready = false
			checks[check.Name] = err.Error()
			s.deps.Log.Warn(r.Context(), "readiness check failed", "dependency", check.Name, "error", err)
			continue
		}
		checks[check.Name] = "ok"
	}

	status := http.StatusOK
	state := "ready"
	if !ready {
		status = http.StatusServiceUnavailable
		state = "degraded"
	}
	s.writeJSON(w, status, map[string]any{"status": state, "checks": checks})
}
