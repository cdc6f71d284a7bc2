package api

import (
	"net/http"
)

type healthResponse struct {
	Status   string `json:"status"`
	PoolSize int    `json:"pool_size,omitempty"`
	Degraded bool   `json:"degraded,omitempty"`
}

// handleHealthz reports ok while the scheduler accepts work. A degraded pool
// is still healthy.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	st, err := s.sched.Statistics()
	if err != nil {
		s.writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unavailable"})
		return
	}
	s.writeJSON(w, http.StatusOK, healthResponse{Status: "ok", PoolSize: st.PoolSize, Degraded: st.Degraded})
}

func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.sched.Statistics()
	if err != nil {
		s.writeError(w, statusForError(err), "scheduler unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, st)
}
