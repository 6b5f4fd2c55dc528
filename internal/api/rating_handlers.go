package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/oentex/oentex/internal/models"
)

// myRatingResponse is the caller's rating of a company; Rating is null
// when there is none
type myRatingResponse struct {
	Rating     *models.Rating    `json:"rating"`
	RatingType models.RatingType `json:"rating_type,omitempty"`
}

func (s *Server) handleCompanyRatings(w http.ResponseWriter, r *http.Request) {
	result, err := s.deps.Ratings.GetCompanyRatings(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleGetMyRating(w http.ResponseWriter, r *http.Request) {
	rating, err := s.deps.Ratings.GetUserRating(r.Context(), userID(r), chi.URLParam(r, "id"))
	if err != nil {
		respondAppError(w, err)
		return
	}

	resp := myRatingResponse{Rating: rating}
	if rating != nil {
		resp.RatingType = rating.RatingType
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSubmitRating(w http.ResponseWriter, r *http.Request) {
	var input models.RatingInput
	if !decodeJSON(w, r, &input) {
		return
	}

	user := userID(r)
	companyID := chi.URLParam(r, "id")

	existing, err := s.deps.Ratings.GetUserRating(r.Context(), user, companyID)
	if err != nil {
		respondAppError(w, err)
		return
	}

	result, err := s.deps.Ratings.SubmitRating(r.Context(), user, companyID, input, existing)
	if err != nil {
		respondAppError(w, err)
		return
	}

	status := http.StatusCreated
	if result.Updated {
		status = http.StatusOK
	}
	respondJSON(w, status, result)
}

func (s *Server) handleMyRatings(w http.ResponseWriter, r *http.Request) {
	list, err := s.deps.Ratings.ListUserRatings(r.Context(), userID(r))
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, list)
}
