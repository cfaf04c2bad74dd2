package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/cloo-solutions/tutorion/internal/api"
	"github.com/cloo-solutions/tutorion/internal/api/handlers"
	"github.com/cloo-solutions/tutorion/internal/api/middleware"
)

type RouterConfig struct {
	CorpusHandler *handlers.CorpusHandler
	MaxBodyBytes  int64
}

const defaultMaxBodyBytes int64 = 1024 * 1024

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	maxBodyBytes := cfg.MaxBodyBytes
	if maxBodyBytes <= 0 {
		maxBodyBytes = defaultMaxBodyBytes
	}

	r.Use(middleware.RequestID)
	r.Use(middleware.SentryMiddleware)
	r.Use(middleware.AccessLog)
	r.Use(middleware.MaxBodyBytes(maxBodyBytes))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		api.Success(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/corpora/{ownerID}/{corpusID}", func(r chi.Router) {
		r.Use(middleware.CorpusKey)

		r.Post("/process", cfg.CorpusHandler.Process)
		r.Post("/query", cfg.CorpusHandler.Query)
		r.Delete("/", cfg.CorpusHandler.Delete)
	})

	r.Get("/rebuild-jobs/{id}", cfg.CorpusHandler.GetRebuildJob)

	return r
}
