package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cloo-solutions/tutorion/internal/api"
	"github.com/cloo-solutions/tutorion/internal/api/middleware"
	"github.com/cloo-solutions/tutorion/internal/domain"
	"github.com/cloo-solutions/tutorion/internal/service"
)

type CourseContextService interface {
	Rebuild(ctx context.Context, key domain.CorpusKey) error
	EnqueueRebuild(ctx context.Context, key domain.CorpusKey) (*domain.RebuildJob, error)
	GetRebuildJob(ctx context.Context, id string) (*domain.RebuildJob, error)
	Retrieve(ctx context.Context, input service.RetrieveInput) (*service.RetrieveOutput, error)
	Delete(ctx context.Context, key domain.CorpusKey) error
}

type CorpusHandler struct {
	svc CourseContextService
}

func NewCorpusHandler(svc CourseContextService) *CorpusHandler {
	return &CorpusHandler{svc: svc}
}

type ProcessResponse struct {
	OwnerID  string `json:"owner_id"`
	CorpusID string `json:"corpus_id"`
	Status   string `json:"status"`
}

type QueryRequest struct {
	Query string `json:"query"`
	K     int    `json:"k,omitempty"`
}

type QueryResponse struct {
	Text     string  `json:"text"`
	Tier     string  `json:"tier"`
	Ordinals []int   `json:"ordinals"`
	Score    float64 `json:"score,omitempty"`
}

type RebuildJobResponse struct {
	ID          string `json:"id"`
	OwnerID     string `json:"owner_id"`
	CorpusID    string `json:"corpus_id"`
	Status      string `json:"status"`
	Retries     int32  `json:"retries"`
	Error       string `json:"error,omitempty"`
	CreatedAt   string `json:"created_at"`
	ProcessedAt string `json:"processed_at,omitempty"`
}

func toRebuildJobResponse(job *domain.RebuildJob) *RebuildJobResponse {
	resp := &RebuildJobResponse{
		ID:        job.ID,
		OwnerID:   job.Key.OwnerID,
		CorpusID:  job.Key.CorpusID,
		Status:    string(job.Status),
		Retries:   job.Retries,
		Error:     job.Error,
		CreatedAt: job.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if job.ProcessedAt != nil {
		resp.ProcessedAt = job.ProcessedAt.UTC().Format(time.RFC3339Nano)
	}
	return resp
}

// Process rebuilds the corpus from its documents. With ?async=true the
// rebuild is queued and the job is returned with 202.
func (h *CorpusHandler) Process(w http.ResponseWriter, r *http.Request) {
	key, ok := middleware.GetCorpusKey(r.Context())
	if !ok {
		api.Error(w, http.StatusBadRequest, "corpus key is required")
		return
	}

	async := false
	if v := r.URL.Query().Get("async"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			api.Error(w, http.StatusBadRequest, "async must be a boolean")
			return
		}
		async = parsed
	}

	if async {
		job, err := h.svc.EnqueueRebuild(r.Context(), key)
		if err != nil {
			api.HandleError(w, err)
			return
		}
		api.Success(w, http.StatusAccepted, toRebuildJobResponse(job))
		return
	}

	if err := h.svc.Rebuild(r.Context(), key); err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, ProcessResponse{
		OwnerID:  key.OwnerID,
		CorpusID: key.CorpusID,
		Status:   "processed",
	})
}

func (h *CorpusHandler) Query(w http.ResponseWriter, r *http.Request) {
	key, ok := middleware.GetCorpusKey(r.Context())
	if !ok {
		api.Error(w, http.StatusBadRequest, "corpus key is required")
		return
	}

	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		if middleware.IsBodyTooLarge(err) {
			api.Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Query == "" {
		api.Error(w, http.StatusBadRequest, "query is required")
		return
	}
	if req.K < 0 {
		api.Error(w, http.StatusBadRequest, "k cannot be negative")
		return
	}

	out, err := h.svc.Retrieve(r.Context(), service.RetrieveInput{
		Key:   key,
		Query: req.Query,
		K:     req.K,
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	ordinals := out.Ordinals
	if ordinals == nil {
		ordinals = []int{}
	}
	api.Success(w, http.StatusOK, QueryResponse{
		Text:     out.Text,
		Tier:     string(out.Tier),
		Ordinals: ordinals,
		Score:    out.Score,
	})
}

func (h *CorpusHandler) Delete(w http.ResponseWriter, r *http.Request) {
	key, ok := middleware.GetCorpusKey(r.Context())
	if !ok {
		api.Error(w, http.StatusBadRequest, "corpus key is required")
		return
	}

	if err := h.svc.Delete(r.Context(), key); err != nil {
		api.HandleError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *CorpusHandler) GetRebuildJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.svc.GetRebuildJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, toRebuildJobResponse(job))
}
