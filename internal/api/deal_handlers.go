package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/oentex/oentex/internal/deals"
	"github.com/oentex/oentex/internal/models"
)

func (s *Server) handleListDeals(w http.ResponseWriter, r *http.Request) {
	result, err := s.deps.Deals.FetchAllDeals(r.Context())
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleDealsPage(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filters := models.DealFilters{
		Category: q.Get("category"),
		Search:   q.Get("search"),
		Sort:     deals.ParseSortKey(q.Get("sort")),
	}

	page, err := s.deps.Deals.FetchPaginatedDeals(r.Context(), queryInt(r, "page", 1), queryInt(r, "limit", 0), filters)
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, page)
}

func (s *Server) handleFeaturedDeals(w http.ResponseWriter, r *http.Request) {
	featured, err := s.deps.Deals.FetchFeaturedDeals(r.Context())
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, featured)
}

func (s *Server) handleTrackClick(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.deps.Deals.TrackClick(r.Context(), id); err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"deal_id": id})
}
