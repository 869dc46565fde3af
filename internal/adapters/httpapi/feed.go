package httpapi

import (
	"net/http"
	"time"

	chi "github.com/go-chi/chi/v5"

	"adinventory/internal/domain"
)

type injectRequest struct {
	Date    string               `json:"date,omitempty"`
	Content []domain.ContentItem `json:"content"`
}

type injectResponse struct {
	Items []domain.FeedItem `json:"items"`
}

func optionalDate(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	return parseDate(raw)
}

func (s *Server) handleInject(w http.ResponseWriter, r *http.Request) {
	var req injectRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}
	date, err := optionalDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "date must be YYYY-MM-DD")
		return
	}
	items, err := s.feed.Inject(r.Context(), chi.URLParam(r, "id"), date, req.Content)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, injectResponse{Items: items})
}

func (s *Server) handleStory(w http.ResponseWriter, r *http.Request) {
	date, err := optionalDate(r.URL.Query().Get("date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "date must be YYYY-MM-DD")
		return
	}
	story, err := s.feed.Story(r.Context(), chi.URLParam(r, "id"), date)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, story)
}
