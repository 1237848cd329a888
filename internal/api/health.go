package api

import (
	"net/http"
	"time"
)

type healthResponse struct {
	Status    string         `json:"status"`
	Timestamp string         `json:"timestamp"`
	Services  healthServices `json:"services"`
}

type healthServices struct {
	Market     string `json:"market"`
	Database   string `json:"database,omitempty"`
	Submission string `json:"submission"`
	Streams    int    `json:"streamClients"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	services := healthServices{
		Market:     s.deps.Market.Snapshot().State.String(),
		Submission: "enabled",
		Streams:    s.hub.Len(),
	}
	if s.deps.Submitter == nil {
		services.Submission = "disabled"
	}
	if s.deps.DB != nil {
		services.Database = "connected"
		if err := s.deps.DB.Ping(r.Context()); err != nil {
			services.Database = "disconnected"
		}
	}

	writeJSON(w, http.StatusOK, healthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Services:  services,
	})
}
