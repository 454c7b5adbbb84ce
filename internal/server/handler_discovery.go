package server

import "net/http"

type endpointInfo struct {
	Path        string   `json:"path"`
	Methods     []string `json:"methods"`
	Description string   `json:"description"`
}

type discoveryResponse struct {
	Name        string         `json:"name"`
	Version     string         `json:"version"`
	Description string         `json:"description"`
	Endpoints   []endpointInfo `json:"endpoints"`
}

func (s *Server) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	respondOK(w, reqID, discoveryResponse{
		Name:        "mowctt API",
		Version:     "v1",
		Description: "Recorded multi-objective runs: Pareto fronts, hypervolumes and solver statistics",
		Endpoints: []endpointInfo{
			{"/api/v1/runs", []string{"GET"}, "List runs, newest first. Filters: state, instance, algorithm; paging: limit, offset"},
			{"/api/v1/runs/{id}", []string{"GET"}, "Single run with its key, statistics and front"},
			{"/api/v1/runs/{id}/front", []string{"GET"}, "Pareto front of a run"},
			{"/api/v1/health", []string{"GET"}, "Server health, version and supported algorithms"},
		},
	})
}
