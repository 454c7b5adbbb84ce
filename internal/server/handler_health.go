package server

import (
	"net/http"
	"runtime"
	"time"

	"github.com/me/mowctt/internal/oracle"
	"github.com/me/mowctt/internal/pipeline"
)

type healthResponse struct {
	Status             string   `json:"status"`
	Version            string   `json:"version"`
	GoVersion          string   `json:"go_version"`
	Uptime             string   `json:"uptime"`
	Algorithms         []string `json:"algorithms"`
	ConflictStrategies []string `json:"conflict_strategies"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	respondOK(w, reqID, healthResponse{
		Status:             "healthy",
		Version:            "0.1.0",
		GoVersion:          runtime.Version(),
		Uptime:             time.Since(s.startTime).Round(time.Second).String(),
		Algorithms:         pipeline.Algorithms(),
		ConflictStrategies: oracle.Strategies(),
	})
}
