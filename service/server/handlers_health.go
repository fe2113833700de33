package server

import (
	"net/http"
	"time"

	"brandshell/service/util"
)

type healthResponse struct {
	Version string `json:"version"`
	Uptime  string `json:"uptime"`
	Brand   string `json:"brand"`
	State   string `json:"state"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Version: s.version,
		Uptime:  util.FormatUptime(time.Since(s.startTime)),
		Brand:   s.cfg.Brand.Name,
		State:   "unavailable",
	}

	st, err := s.shell.Status(r.Context())
	if err != nil {
		s.logger.Warn("Shell state unavailable", "error", err)
		util.WriteJSON(w, s.logger, http.StatusServiceUnavailable, resp)
		return
	}
	resp.State = st.Lifecycle.State.String()
	util.WriteJSON(w, s.logger, http.StatusOK, resp)
}
