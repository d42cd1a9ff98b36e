// Package api exposes the workflow over HTTP and, for agent hosts, over MCP.
package api

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/seraface/seraface/internal/genai"
	"github.com/seraface/seraface/internal/phases"
	"github.com/seraface/seraface/internal/pipeline"
	"github.com/seraface/seraface/internal/products"
	"github.com/seraface/seraface/internal/shopping"
	"github.com/seraface/seraface/internal/storage"
)

const maxRequestBodySize = 10 << 20 // 10MB, enough for a base64 photo

type Deps struct {
	Phases   *phases.Store
	Pipeline *pipeline.Orchestrator
	Products *products.Service
	Token    string
}

func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]string{"status": "ok"})
	})

	r.Route("/v1", func(r chi.Router) {
		if deps.Token != "" {
			r.Use(BearerAuth(deps.Token))
		}

		r.Post("/phases/intake", handleIntake(deps))
		r.Post("/sessions/{id}/image-analysis", handleImageAnalysis(deps))
		r.Post("/sessions/{id}/recommendation", handleRecommendation(deps))
		r.Post("/sessions/{id}/routine", handleRoutine(deps))

		r.Get("/sessions", handleListSessions(deps))
		r.Get("/sessions/{id}/status", handleSessionStatus(deps))
		r.Delete("/sessions/{id}", handleDeleteSession(deps))
		r.Get("/sessions/{id}/recommended-products", handleRecommendedProducts(deps))

		r.Get("/products/search", handleProductSearch(deps))
		r.Get("/products/cache-stats", handleCacheStats(deps))

		r.Post("/admin/sweep", handleSweep(deps))
	})

	return r
}

func handleIntake(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var form phases.IntakeForm
		if err := json.NewDecoder(r.Body).Decode(&form); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		sessionID, err := deps.Pipeline.RunIntake(r.Context(), form)
		if err != nil {
			domainError(w, err)
			return
		}
		writeJSON(w, map[string]string{"session_id": sessionID, "phase": "phase1"})
	}
}

// imageAnalysisRequest carries the user's photo as base64; multipart is
// overkill for a single image from the app.
type imageAnalysisRequest struct {
	Image    string `json:"image"`
	MimeType string `json:"mime_type"`
}

func handleImageAnalysis(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req imageAnalysisRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		image, err := base64.StdEncoding.DecodeString(req.Image)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid base64 image")
			return
		}
		if req.MimeType == "" {
			req.MimeType = "image/jpeg"
		}

		analysis, err := deps.Pipeline.RunImageAnalysis(r.Context(), chi.URLParam(r, "id"), image, req.MimeType)
		if err != nil {
			domainError(w, err)
			return
		}
		writeJSON(w, analysis)
	}
}

func handleRecommendation(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec, err := deps.Pipeline.RunRecommendation(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			domainError(w, err)
			return
		}
		writeJSON(w, rec)
	}
}

func handleRoutine(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		routine, err := deps.Pipeline.RunRoutine(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			domainError(w, err)
			return
		}
		writeJSON(w, routine)
	}
}

func handleListSessions(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		sessions, err := deps.Phases.ListSessions()
		if err != nil {
			domainError(w, err)
			return
		}
		if sessions == nil {
			sessions = []string{}
		}
		writeJSON(w, map[string]any{"sessions": sessions})
	}
}

func handleSessionStatus(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		exists, err := deps.Phases.SessionExists(id)
		if err != nil {
			domainError(w, err)
			return
		}
		if !exists {
			httpError(w, http.StatusNotFound, "not_found", "session %s not found", id)
			return
		}
		status, err := deps.Phases.Status(id)
		if err != nil {
			domainError(w, err)
			return
		}
		writeJSON(w, status)
	}
}

func handleDeleteSession(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		res, err := deps.Phases.DeleteSession(id)
		if err != nil {
			domainError(w, err)
			return
		}
		if res.TotalDeleted == 0 {
			httpError(w, http.StatusNotFound, "not_found", "session %s not found", id)
			return
		}
		writeJSON(w, res)
	}
}

func handleRecommendedProducts(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rows, err := deps.Products.ListRecommended(chi.URLParam(r, "id"))
		if err != nil {
			domainError(w, err)
			return
		}
		if rows == nil {
			rows = []products.Provenance{}
		}
		writeJSON(w, map[string]any{"products": rows})
	}
}

func handleProductSearch(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query().Get("q")
		if query == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "query parameter q is required")
			return
		}
		sessionID := r.URL.Query().Get("session_id")

		product, err := deps.Products.Resolve(r.Context(), query, sessionID, products.RecommendationContext{
			AIRecommended: false,
			SearchType:    "manual",
		})
		if err != nil {
			domainError(w, err)
			return
		}
		writeJSON(w, product)
	}
}

func handleCacheStats(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		stats, err := deps.Products.CacheStats()
		if err != nil {
			domainError(w, err)
			return
		}
		writeJSON(w, stats)
	}
}

func handleSweep(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		counts, err := deps.Phases.SweepExpired()
		if err != nil {
			domainError(w, err)
			return
		}
		recDeleted, err := deps.Products.SweepExpired()
		if err != nil {
			domainError(w, err)
			return
		}
		writeJSON(w, map[string]any{
			"deleted":                 counts,
			"recommendations_deleted": recDeleted,
		})
	}
}

// domainError translates pipeline and resolver failures into API statuses.
func domainError(w http.ResponseWriter, err error) {
	var pre *pipeline.PreconditionError
	var parseErr *genai.ParseError
	var fetchErr *shopping.FetchError

	switch {
	case errors.As(err, &pre):
		httpError(w, http.StatusConflict, "precondition_failed", "%v", err)
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, shopping.ErrNoResults):
		httpError(w, http.StatusNotFound, "not_found", "%v", err)
	case errors.As(err, &parseErr):
		httpError(w, http.StatusBadGateway, "generation_error", "%v", err)
	case errors.As(err, &fetchErr):
		httpError(w, http.StatusBadGateway, "upstream_error", "%v", err)
	case isValidation(err):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
	default:
		httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
	}
}

// isValidation marks errors raised before any model or store work happened.
func isValidation(err error) bool {
	msg := err.Error()
	for _, prefix := range []string{"intake form:", "image analysis:", "resolve:"} {
		if len(msg) >= len(prefix) && msg[:len(prefix)] == prefix {
			return true
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
