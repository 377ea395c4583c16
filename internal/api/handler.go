// Package api provides HTTP handlers for the Visemo API.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/visemo/visemo/internal/ping"
	"github.com/visemo/visemo/internal/store"
)

const maxBodyBytes = 1 << 20

// Handler provides common handler utilities.
type Handler struct {
	repo  store.Repository
	pings *ping.Service
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(repo store.Repository, pings *ping.Service) *Handler {
	return &Handler{
		repo:  repo,
		pings: pings,
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// pathID parses a positive integer identifier from the route.
func pathID(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s %q", name, raw)
	}
	return id, nil
}

// pairIDs parses the {userID} and {activityID} route parameters.
func pairIDs(r *http.Request) (userID, activityID int64, err error) {
	if activityID, err = pathID(r, "activityID"); err != nil {
		return 0, 0, err
	}
	if userID, err = pathID(r, "userID"); err != nil {
		return 0, 0, err
	}
	return userID, activityID, nil
}

// pathBatchIndex parses a non-negative {batchIndex} route parameter.
func pathBatchIndex(r *http.Request) (int, error) {
	raw := chi.URLParam(r, "batchIndex")
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid batchIndex %q", raw)
	}
	return n, nil
}

// decodeJSON reads a size-limited JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return fmt.Errorf("request body too large")
		}
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// RegisterRoutes registers all API routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)

		r.Route("/activities/{activityID}", func(r chi.Router) {
			r.Get("/emotions/summary", h.ActivityEmotionSummary)
			r.Get("/pings", h.ListPings)

			r.Route("/users/{userID}", func(r chi.Router) {
				r.Post("/session", h.StartSession)
				r.Post("/emotions", h.RecordEmotion)
				r.Post("/emotion-counts", h.RecordEmotionCounts)
				r.Get("/emotions/summary", h.UserEmotionSummary)

				r.Get("/ping", h.CheckPing)
				r.Post("/ping/{batchIndex}/ack", h.AcknowledgePing)
				r.Get("/ping/{batchIndex}/ack", h.PingAcknowledged)
			})
		})
	})
}
