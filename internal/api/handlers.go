package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"curator/internal/queue"
)

const defaultDownloadListLimit = 20

type itemResponse struct {
	ID           int64      `json:"id"`
	FilePath     string     `json:"file_path"`
	MovieCode    string     `json:"movie_code,omitempty"`
	Performer    string     `json:"performer,omitempty"`
	Subtitle     string     `json:"subtitle,omitempty"`
	Status       string     `json:"status"`
	ErrorMessage string     `json:"error_message,omitempty"`
	NewPath      string     `json:"new_path,omitempty"`
	EmbyItemID   string     `json:"emby_item_id,omitempty"`
	RetryCount   int        `json:"retry_count"`
	NextRetryAt  *time.Time `json:"next_retry_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

func toItemResponse(item *queue.Item) itemResponse {
	return itemResponse{
		ID:           item.ID,
		FilePath:     item.FilePath,
		MovieCode:    item.MovieCode,
		Performer:    item.Performer,
		Subtitle:     item.Subtitle,
		Status:       string(item.Status),
		ErrorMessage: item.ErrorMessage,
		NewPath:      item.NewPath,
		EmbyItemID:   item.EmbyItemID,
		RetryCount:   item.RetryCount,
		NextRetryAt:  item.NextRetryAt,
		CreatedAt:    item.CreatedAt,
		UpdatedAt:    item.UpdatedAt,
	}
}

type downloadResponse struct {
	ID         int64           `json:"id"`
	URL        string          `json:"url"`
	Filename   string          `json:"filename,omitempty"`
	Status     string          `json:"status"`
	Error      string          `json:"error,omitempty"`
	OutputTail json.RawMessage `json:"output_tail,omitempty"`
	StartedAt  *time.Time      `json:"started_at,omitempty"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

func toDownloadResponse(job *queue.DownloadJob) downloadResponse {
	resp := downloadResponse{
		ID:         job.ID,
		URL:        job.URL,
		Filename:   job.Filename,
		Status:     string(job.Status),
		Error:      job.Error,
		StartedAt:  job.StartedAt,
		FinishedAt: job.FinishedAt,
		CreatedAt:  job.CreatedAt,
	}
	if job.OutputTail != "" {
		resp.OutputTail = json.RawMessage(job.OutputTail)
	}
	return resp
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	database := "connected"
	healthy := true
	if err := s.store.Ping(ctx); err != nil {
		database = "error: " + err.Error()
		healthy = false
	}

	stats, err := s.store.Stats(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	counts := make(map[string]int, len(stats))
	total := 0
	for _, status := range queue.AllStatuses() {
		counts[string(status)] = stats[status]
		total += stats[status]
	}

	workers := map[string]bool{}
	if s.workerHealth != nil {
		workers = s.workerHealth()
		for _, running := range workers {
			if !running {
				healthy = false
			}
		}
	}

	var tokenExpiry *time.Time
	if s.authExpiry != nil {
		if expiry := s.authExpiry(); !expiry.IsZero() {
			tokenExpiry = &expiry
		}
	}

	status := "healthy"
	if !healthy {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   status,
		"database": database,
		"workers":  workers,
		"auth": map[string]any{
			"token_expires_at": tokenExpiry,
		},
		"queue":     counts,
		"total":     total,
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) handleListQueue(w http.ResponseWriter, r *http.Request) {
	var statuses []queue.Status
	if raw := r.URL.Query().Get("status"); raw != "" {
		status, ok := queue.ParseStatus(raw)
		if !ok {
			writeError(w, http.StatusBadRequest, "unknown status: "+raw)
			return
		}
		statuses = append(statuses, status)
	}

	items, err := s.store.List(r.Context(), statuses...)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	responses := make([]itemResponse, 0, len(items))
	for _, item := range items {
		responses = append(responses, toItemResponse(item))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": responses,
		"total": len(responses),
	})
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var body struct {
		FilePath string `json:"file_path"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.FilePath == "" {
		writeError(w, http.StatusBadRequest, "file_path is required")
		return
	}

	item, err := s.store.Enqueue(r.Context(), body.FilePath)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, toItemResponse(item))
}

func (s *Server) handleGetItem(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	item, err := s.store.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if item == nil {
		writeError(w, http.StatusNotFound, "queue item not found")
		return
	}
	writeJSON(w, http.StatusOK, toItemResponse(item))
}

func (s *Server) handleRemoveItem(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	removed, err := s.store.Remove(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !removed {
		writeError(w, http.StatusNotFound, "queue item not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRetryItem(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	item, err := s.store.ResetForRetry(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if item == nil {
		writeError(w, http.StatusConflict, "item is not in the error state or has exhausted retries")
		return
	}
	writeJSON(w, http.StatusOK, toItemResponse(item))
}

func (s *Server) handleClearCompleted(w http.ResponseWriter, r *http.Request) {
	cleared, err := s.store.ClearCompleted(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"cleared": cleared})
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	if s.scanner == nil {
		writeError(w, http.StatusServiceUnavailable, "no media server configured")
		return
	}
	if err := s.scanner.Scan(r.Context()); err != nil {
		writeError(w, http.StatusBadGateway, "library scan failed: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "scan triggered"})
}

func (s *Server) handleListDownloads(w http.ResponseWriter, r *http.Request) {
	limit := defaultDownloadListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	jobs, err := s.store.ListDownloads(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	responses := make([]downloadResponse, 0, len(jobs))
	for _, job := range jobs {
		responses = append(responses, toDownloadResponse(job))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"jobs":  responses,
		"total": len(responses),
	})
}

func (s *Server) handleAddDownload(w http.ResponseWriter, r *http.Request) {
	var body struct {
		URL      string `json:"url"`
		Filename string `json:"filename"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.URL == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}

	job, err := s.store.AddDownload(r.Context(), body.URL, body.Filename)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, toDownloadResponse(job))
}

func (s *Server) handleGetDownload(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	job, err := s.store.GetDownload(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if job == nil {
		writeError(w, http.StatusNotFound, "download job not found")
		return
	}
	writeJSON(w, http.StatusOK, toDownloadResponse(job))
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
