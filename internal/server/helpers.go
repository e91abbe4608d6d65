package server

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/warden-auth/warden/internal/middleware"
	"github.com/warden-auth/warden/internal/repository"
	"github.com/warden-auth/warden/internal/services/iam"
)

// maxRequestBody bounds request body decoding. Login payloads and admin
// documents are tiny; anything larger is abuse.
const maxRequestBody = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("ERROR: encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeServiceError maps a service-layer error to an HTTP response. Not-found
// lookups become 404; everything else is a logged 500 with a generic body.
func writeServiceError(w http.ResponseWriter, err error) {
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	log.Printf("ERROR: %v", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

// writeAuthFailure maps an authentication error to its response. Categorized
// failures follow the shared status mapping; anything else is an internal
// error. Details are logged, never returned.
func writeAuthFailure(w http.ResponseWriter, err error) {
	if !iam.IsAuthFailure(err) {
		log.Printf("ERROR: authentication: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	log.Printf("authentication rejected: %v", err)
	status, message := middleware.FailureStatus(err)
	writeError(w, status, message)
}

// decodeJSON decodes a bounded request body into v.
func decodeJSON(r *http.Request, v interface{}) error {
	body := io.LimitReader(r.Body, maxRequestBody)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		return ErrInvalidRequestBody
	}
	return nil
}

// pagination carries the page window for list endpoints.
type pagination struct {
	Page  int
	Limit int
}

// parsePagination reads page/limit query parameters with defaults and caps.
func parsePagination(r *http.Request) pagination {
	p := pagination{Page: 1, Limit: 50}

	if raw := r.URL.Query().Get("page"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			p.Page = n
		}
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			p.Limit = n
		}
	}
	if p.Limit > 200 {
		p.Limit = 200
	}
	return p
}

// window slices a full result set to the requested page. Out-of-range pages
// yield an empty slice, not an error.
func window[T any](items []T, p pagination) []T {
	start := (p.Page - 1) * p.Limit
	if start >= len(items) {
		return []T{}
	}
	end := start + p.Limit
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}

// listResponse is the envelope for paginated list endpoints.
type listResponse struct {
	Items interface{} `json:"items"`
	Page  int         `json:"page"`
	Limit int         `json:"limit"`
	Total int         `json:"total"`
}
