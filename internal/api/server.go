// Package api exposes the HTTP surface: intake, generation, status polling,
// signed downloads, and notification registration.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/mail"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dharsanguruparan/learnscaffold/internal/config"
	"github.com/dharsanguruparan/learnscaffold/internal/estimate"
	"github.com/dharsanguruparan/learnscaffold/internal/metrics"
	"github.com/dharsanguruparan/learnscaffold/internal/model"
	"github.com/dharsanguruparan/learnscaffold/internal/plan"
	"github.com/dharsanguruparan/learnscaffold/internal/queue"
	"github.com/dharsanguruparan/learnscaffold/internal/repository"
	"github.com/dharsanguruparan/learnscaffold/internal/signing"
)

// ObjectStore is the slice of blob storage the API needs.
type ObjectStore interface {
	UploadSource(ctx context.Context, objectKey string, reader io.Reader, size int64, contentType string) error
	DownloadResult(ctx context.Context, objectKey string) ([]byte, error)
}

// Server hosts the HTTP handlers. Reads go straight to the store; generation
// is claimed here and executed by the worker.
type Server struct {
	cfg      *config.Config
	store    repository.Store
	blobs    ObjectStore
	enqueuer queue.Enqueuer
	server   *http.Server
	once     sync.Once
}

// New constructs a Server.
func New(cfg *config.Config, store repository.Store, blobs ObjectStore, enqueuer queue.Enqueuer) *Server {
	return &Server{
		cfg:      cfg,
		store:    store,
		blobs:    blobs,
		enqueuer: enqueuer,
	}
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.once.Do(func() {
		s.server = &http.Server{
			Addr:    s.cfg.Address,
			Handler: corsMiddleware(observeMiddleware(s.Routes())),
		}
	})
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()
	log.Printf("api listening on %s", s.cfg.Address)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Routes builds the request mux. Exported so tests can drive handlers through
// httptest without binding a socket.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/analyze/init", s.handleInit)
	mux.HandleFunc("/api/analyze/generate", s.handleGenerate)
	mux.HandleFunc("/api/analyze/status/", s.handleStatus)
	mux.HandleFunc("/api/analyze/download/", s.handleDownload)
	mux.HandleFunc("/api/notify/email", s.handleNotify)
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/", s.handleRoot)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/api/" && r.URL.Path != "/api" {
		http.NotFound(w, r)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "LearnScaffold API", "status": "healthy"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// initResponse is the intake summary returned before any generation happens.
type initResponse struct {
	TaskID           string              `json:"task_id"`
	Filename         string              `json:"filename"`
	FileType         string              `json:"file_type"`
	FileSizeBytes    int64               `json:"file_size_bytes"`
	Elements         int                 `json:"pages_or_elements"`
	DetectedLanguage string              `json:"detected_language"`
	SuggestedPlan    model.SuggestedPlan `json:"suggested_plan"`
	EstimatedMinutes int                 `json:"estimated_processing_time_min"`
}

func (s *Server) handleInit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctx := r.Context()
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxFileSize+1024)
	mr, err := r.MultipartReader()
	if err != nil {
		http.Error(w, "expecting multipart form", http.StatusBadRequest)
		return
	}
	part, err := nextFilePart(mr)
	if err != nil {
		http.Error(w, "missing file part", http.StatusBadRequest)
		return
	}
	defer part.Close()
	filename := part.FileName()
	if filename == "" {
		http.Error(w, "no filename provided", http.StatusBadRequest)
		return
	}
	if !model.AllowedFile(filename) {
		http.Error(w, "unsupported file type, allowed: PDF, MP4, MP3, TXT", http.StatusBadRequest)
		return
	}
	ext := model.FileExtension(filename)

	tmp, err := s.persistTemp(part)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer os.Remove(tmp.path)
	defer tmp.f.Close()

	taskID := uuid.NewString()
	objectKey := fmt.Sprintf("uploads/%s%s", taskID, ext)
	if _, err := tmp.f.Seek(0, 0); err != nil {
		http.Error(w, "failed to store file", http.StatusInternalServerError)
		return
	}
	if err := s.blobs.UploadSource(ctx, objectKey, tmp.f, tmp.size, contentTypeFor(ext)); err != nil {
		log.Printf("upload to storage failed: %v", err)
		http.Error(w, "failed to store file", http.StatusInternalServerError)
		return
	}

	elements := estimate.Elements(tmp.size, ext)
	task := &model.Task{
		TaskID:           taskID,
		Filename:         filename,
		FileType:         ext,
		FileSizeBytes:    tmp.size,
		ObjectKey:        objectKey,
		Elements:         elements,
		DetectedLanguage: model.DetectedLanguageDefault,
		SuggestedPlan:    estimate.SuggestedPlan(elements),
		EstimatedMinutes: estimate.ProcessingMinutes(elements, ext),
	}
	if err := s.store.CreateTask(ctx, task); err != nil {
		log.Printf("create task: %v", err)
		http.Error(w, "failed to store metadata", http.StatusInternalServerError)
		return
	}
	metrics.TasksCreated.Inc()
	log.Printf("created task %s for file %s (%d bytes)", taskID, filename, tmp.size)
	respondJSON(w, http.StatusOK, initResponse{
		TaskID:           task.TaskID,
		Filename:         task.Filename,
		FileType:         task.FileType,
		FileSizeBytes:    task.FileSizeBytes,
		Elements:         task.Elements,
		DetectedLanguage: task.DetectedLanguage,
		SuggestedPlan:    task.SuggestedPlan,
		EstimatedMinutes: task.EstimatedMinutes,
	})
}

type generateRequest struct {
	TaskID      string  `json:"task_id"`
	Days        int     `json:"days"`
	HoursPerDay float64 `json:"hours_per_day"`
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctx := r.Context()
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.TaskID == "" {
		http.Error(w, "task_id is required", http.StatusBadRequest)
		return
	}
	if req.Days < 1 || req.Days > 365 {
		http.Error(w, "days must be between 1 and 365", http.StatusBadRequest)
		return
	}
	if req.HoursPerDay < 0.5 || req.HoursPerDay > 24 {
		http.Error(w, "hours_per_day must be between 0.5 and 24", http.StatusBadRequest)
		return
	}

	task, err := s.store.ClaimTask(ctx, req.TaskID, req.Days, req.HoursPerDay)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			http.Error(w, "task not found", http.StatusNotFound)
		case errors.Is(err, repository.ErrConflict):
			http.Error(w, "task is already processing or completed", http.StatusConflict)
		default:
			log.Printf("claim task %s: %v", req.TaskID, err)
			http.Error(w, "failed to start generation", http.StatusInternalServerError)
		}
		return
	}
	payload := queue.GeneratePayload{
		TaskID:      req.TaskID,
		Days:        req.Days,
		HoursPerDay: req.HoursPerDay,
	}
	if err := s.enqueuer.EnqueueGenerate(ctx, payload); err != nil {
		// The claim already happened; the task will sit in processing until
		// an operator intervenes. Surface the fault loudly.
		log.Printf("enqueue generate for %s after claim: %v", req.TaskID, err)
		http.Error(w, "failed to queue job", http.StatusInternalServerError)
		return
	}
	metrics.TasksStarted.Inc()
	respondJSON(w, http.StatusOK, statusBody(task))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/analyze/status/")
	if id == "" || strings.Contains(id, "/") {
		http.NotFound(w, r)
		return
	}
	task, err := s.store.GetTask(r.Context(), id)
	if err != nil {
		http.Error(w, "task not found", http.StatusNotFound)
		return
	}
	respondJSON(w, http.StatusOK, statusBody(task))
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctx := r.Context()
	id := strings.TrimPrefix(r.URL.Path, "/api/analyze/download/")
	if id == "" || strings.Contains(id, "/") {
		http.NotFound(w, r)
		return
	}
	task, err := s.store.GetTask(ctx, id)
	if err != nil {
		http.Error(w, "task not found", http.StatusNotFound)
		return
	}
	if task.Status != model.StatusCompleted {
		http.Error(w, "task is not completed", http.StatusNotFound)
		return
	}
	token := r.URL.Query().Get("token")
	if err := signing.Validate(task.DownloadToken, task.TokenExpiresAt, token, time.Now()); err != nil {
		http.Error(w, "invalid or expired download token", http.StatusUnauthorized)
		return
	}
	data, err := s.blobs.DownloadResult(ctx, task.ResultKey)
	if err != nil {
		// A completed task without its artifact means the store and blob
		// storage have desynchronized; this is an integrity fault, not a 404.
		log.Printf("integrity fault: completed task %s missing artifact %s: %v", id, task.ResultKey, err)
		http.Error(w, "result artifact unavailable", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", plan.Filename(id)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

type notifyRequest struct {
	TaskID string `json:"task_id"`
	Email  string `json:"email"`
}

func (s *Server) handleNotify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctx := r.Context()
	var req notifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if _, err := mail.ParseAddress(req.Email); err != nil {
		http.Error(w, "invalid email address", http.StatusBadRequest)
		return
	}
	if _, err := s.store.GetTask(ctx, req.TaskID); err != nil {
		http.Error(w, "task not found", http.StatusNotFound)
		return
	}
	if err := s.store.UpsertNotification(ctx, req.TaskID, req.Email); err != nil {
		log.Printf("register notification for %s: %v", req.TaskID, err)
		http.Error(w, "failed to register notification", http.StatusInternalServerError)
		return
	}
	log.Printf("email notification registered for task %s", req.TaskID)
	respondJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Email notification registered. You will receive an email when processing is complete.",
	})
}

// statusResponse is the polling snapshot of a task.
type statusResponse struct {
	TaskID          string           `json:"task_id"`
	Status          model.TaskStatus `json:"status"`
	ProgressPercent int              `json:"progress_percent"`
	CurrentStep     string           `json:"current_step"`
	ETAMinutes      int              `json:"eta_minutes"`
	ResultURL       string           `json:"result_url,omitempty"`
	ErrorMessage    string           `json:"error_message,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

func statusBody(t *model.Task) statusResponse {
	return statusResponse{
		TaskID:          t.TaskID,
		Status:          t.Status,
		ProgressPercent: t.ProgressPercent,
		CurrentStep:     t.CurrentStep,
		ETAMinutes:      t.ETAMinutes,
		ResultURL:       t.ResultURL,
		ErrorMessage:    t.ErrorMessage,
		CreatedAt:       t.CreatedAt,
		UpdatedAt:       t.UpdatedAt,
	}
}

type tempUpload struct {
	f    *os.File
	path string
	size int64
}

// persistTemp spools the multipart part to a temp file so the upload can be
// sized and replayed into blob storage without holding it in memory.
func (s *Server) persistTemp(part *multipart.Part) (*tempUpload, error) {
	tmpFile, err := os.CreateTemp("", "learnscaffold-upload-*")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	cleanup := func() {
		tmpFile.Close()
		os.Remove(tmpFile.Name())
	}
	buf := make([]byte, 32*1024)
	var written int64
	for {
		n, readErr := part.Read(buf)
		if n > 0 {
			written += int64(n)
			if written > s.cfg.MaxFileSize {
				cleanup()
				return nil, fmt.Errorf("file exceeds limit (%d bytes)", s.cfg.MaxFileSize)
			}
			if _, err := tmpFile.Write(buf[:n]); err != nil {
				cleanup()
				return nil, fmt.Errorf("write temp file: %w", err)
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				break
			}
			cleanup()
			return nil, fmt.Errorf("read file: %w", readErr)
		}
	}
	if written == 0 {
		cleanup()
		return nil, errors.New("empty file")
	}
	return &tempUpload{f: tmpFile, path: tmpFile.Name(), size: written}, nil
}

func nextFilePart(mr *multipart.Reader) (*multipart.Part, error) {
	for {
		part, err := mr.NextPart()
		if err != nil {
			return nil, err
		}
		if part.FormName() == "file" {
			return part, nil
		}
		part.Close()
	}
}

func contentTypeFor(ext string) string {
	switch ext {
	case ".pdf":
		return "application/pdf"
	case ".mp4":
		return "video/mp4"
	case ".mp3":
		return "audio/mpeg"
	case ".txt":
		return "text/plain; charset=utf-8"
	}
	return "application/octet-stream"
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode response: %v", err)
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func observeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		elapsed := time.Since(start)
		metrics.RecordHTTPRequest(r.Method, r.URL.Path, elapsed)
		log.Printf("%s %s (%s)", r.Method, r.URL.Path, elapsed)
	})
}
