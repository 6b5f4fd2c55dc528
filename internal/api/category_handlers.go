package api

import "net/http"

// Category endpoints never fail: the service degrades to default shapes

func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.deps.Categories.ListCategories(r.Context()))
}

func (s *Server) handleCategoryStats(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.deps.Categories.Stats(r.Context()))
}

func (s *Server) handleCategoryInfo(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.deps.Categories.Info(r.Context()))
}
