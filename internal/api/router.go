package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func NewRouter(apiHandler *APIHandler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(RequestLogger(apiHandler.logger))
	r.Use(middleware.Recoverer)    // Recover from panics
	r.Use(middleware.StripSlashes) // Ensure consistent path handling

	// Public routes
	r.Get("/", apiHandler.HomeHandler)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Post("/evaluate", apiHandler.EvaluateHandler)
	r.Post("/verify", apiHandler.VerifyHandler)
	r.Get("/get_history", apiHandler.HistoryHandler)
	r.Get("/download_feedback/{entryID}", apiHandler.DownloadFeedbackHandler)

	// Code administration
	r.Group(func(r chi.Router) {
		r.Use(apiHandler.AdminAuthMiddleware)

		r.Post("/add_code", apiHandler.AddCodeHandler)
		r.Post("/register-code", apiHandler.RegisterCodeHandler)
		r.Get("/codes", apiHandler.ListCodesHandler)
	})

	return r
}
