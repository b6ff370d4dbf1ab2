package articles

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/unkn0wn-root/tagcache"
	"github.com/unkn0wn-root/tagcache/contentful"
)

type viewsResponse struct {
	Slug          string `json:"slug"`
	Views         int64  `json:"views"`
	Authoritative bool   `json:"authoritative"`
}

type articleResponse struct {
	contentful.Article
	Views         int64 `json:"views"`
	Authoritative bool  `json:"authoritative"`
}

// Register mounts the article routes on mux.
func (s *Service) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/articles", s.handleList)
	mux.HandleFunc("GET /api/articles/{slug}", s.handleArticle)
	mux.HandleFunc("GET /api/articles/{slug}/views", s.handleViews)
}

func (s *Service) handleList(w http.ResponseWriter, r *http.Request) {
	arts, err := s.List(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	if arts == nil {
		arts = []contentful.Article{}
	}
	writeJSON(w, http.StatusOK, arts)
}

func (s *Service) handleArticle(w http.ResponseWriter, r *http.Request) {
	slug := r.PathValue("slug")
	a, err := s.Open(r.Context(), slug)
	if err != nil {
		s.writeError(w, err)
		return
	}
	c := s.Views(r.Context(), slug)
	writeJSON(w, http.StatusOK, articleResponse{Article: a, Views: c.N, Authoritative: c.Authoritative})
}

func (s *Service) handleViews(w http.ResponseWriter, r *http.Request) {
	slug := r.PathValue("slug")
	c := s.Views(r.Context(), slug)
	writeJSON(w, http.StatusOK, viewsResponse{Slug: slug, Views: c.N, Authoritative: c.Authoritative})
}

func (s *Service) writeError(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "Not found"})
		return
	}
	s.log.Error("article request failed", tagcache.Fields{"err": err})
	writeJSON(w, http.StatusBadGateway, map[string]string{"message": "Content source unavailable"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
