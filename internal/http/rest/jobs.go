package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/italolelis/mediafetch/internal/downloader"
	"github.com/italolelis/mediafetch/internal/fetch"
	"github.com/italolelis/mediafetch/internal/job"
	"github.com/italolelis/mediafetch/internal/logctx"
)

const maxRequestBody = 64 * 1024

// JobService is what the handler needs from the job manager.
type JobService interface {
	Start(ctx context.Context, req downloader.StartRequest) (string, error)
	Status(id string) (job.Job, error)
	Jobs() []job.Job
	Cancel(ctx context.Context, id string) error
	OpenStream(ctx context.Context, id string) (*downloader.Stream, error)
	Probe(ctx context.Context, url string) (fetch.Metadata, error)
}

type JobResponse struct {
	JobID           string     `json:"job_id"`
	Status          job.Status `json:"status"`
	Progress        float64    `json:"progress"`
	Title           string     `json:"title"`
	Resolution      int        `json:"resolution"`
	DownloadedBytes int64      `json:"downloaded_bytes"`
	TotalBytes      int64      `json:"total_bytes"`
	Error           string     `json:"error,omitempty"`
	ElapsedSeconds  float64    `json:"elapsed_seconds"`
	Filename        string     `json:"filename"`
}

type StartResponse struct {
	JobID string `json:"job_id"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// StartRequest accepts resolution as either a JSON number or a string.
type StartRequest struct {
	URL        string          `json:"url"`
	Resolution json.RawMessage `json:"resolution,omitempty"`
	SessionID  string          `json:"session_id"`
}

type ProbeRequest struct {
	URL string `json:"url"`
}

type JobsHandler struct {
	svc JobService
	now func() time.Time
}

// NewJobsHandler creates a new jobs handler.
func NewJobsHandler(svc JobService) *JobsHandler {
	return &JobsHandler{svc: svc, now: time.Now}
}

func (h *JobsHandler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Post("/jobs", h.HandleStart)
	r.Get("/jobs", h.HandleList)
	r.Get("/jobs/{id}", h.HandleStatus)
	r.Post("/jobs/{id}/cancel", h.HandleCancel)
	r.Get("/jobs/{id}/file", h.HandleFile)
	r.Post("/probe", h.HandleProbe)

	return r
}

// HandleStart accepts a form or JSON submission and answers with the job id.
func (h *JobsHandler) HandleStart(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())

	req, err := decodeStartRequest(w, r)
	if err != nil {
		logger.Debug("failed to decode start request", "err", err)
		writeError(w, http.StatusBadRequest, "invalid request body")

		return
	}

	id, err := h.svc.Start(r.Context(), req)
	if err != nil {
		h.handleError(w, r, "failed to start job", err)

		return
	}

	writeJSON(w, http.StatusAccepted, StartResponse{JobID: id})
}

func (h *JobsHandler) HandleList(w http.ResponseWriter, _ *http.Request) {
	jobs := h.svc.Jobs()

	resp := make([]JobResponse, 0, len(jobs))
	for _, j := range jobs {
		resp = append(resp, h.toResponse(j))
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *JobsHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	j, err := h.svc.Status(chi.URLParam(r, "id"))
	if err != nil {
		h.handleError(w, r, "failed to get job", err)

		return
	}

	writeJSON(w, http.StatusOK, h.toResponse(j))
}

func (h *JobsHandler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.svc.Cancel(r.Context(), id); err != nil {
		h.handleError(w, r, "failed to cancel job", err)

		return
	}

	j, err := h.svc.Status(id)
	if err != nil {
		// Already cleaned up; the cancellation itself succeeded.
		writeJSON(w, http.StatusOK, JobResponse{JobID: id, Status: job.StatusCancelled})

		return
	}

	writeJSON(w, http.StatusOK, h.toResponse(j))
}

// HandleFile streams the artifact of a completed job.
func (h *JobsHandler) HandleFile(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())
	id := chi.URLParam(r, "id")

	stream, err := h.svc.OpenStream(r.Context(), id)
	if err != nil {
		h.handleError(w, r, "failed to open artifact", err)

		return
	}
	defer stream.Close()

	contentType := mime.TypeByExtension(filepath.Ext(stream.Filename))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.FormatInt(stream.Size, 10))
	w.Header().Set("Content-Disposition", contentDisposition(stream.Filename))
	w.WriteHeader(http.StatusOK)

	written, err := stream.WriteTo(w)
	if err != nil {
		logger.Warn("artifact stream interrupted", "job_id", id, "sent", written, "size", stream.Size, "err", err)

		return
	}

	logger.Info("artifact delivered", "job_id", id, "bytes", written, "filename", stream.Filename)
}

func (h *JobsHandler) HandleProbe(w http.ResponseWriter, r *http.Request) {
	var req ProbeRequest

	if isJSON(r) {
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")

			return
		}
	} else {
		req.URL = r.FormValue("url")
	}

	meta, err := h.svc.Probe(r.Context(), req.URL)
	if err != nil {
		h.handleError(w, r, "failed to probe url", err)

		return
	}

	writeJSON(w, http.StatusOK, meta)
}

func (h *JobsHandler) toResponse(j job.Job) JobResponse {
	return JobResponse{
		JobID:           j.ID,
		Status:          j.Status,
		Progress:        j.Progress,
		Title:           j.Title,
		Resolution:      j.Resolution,
		DownloadedBytes: j.DownloadedBytes,
		TotalBytes:      j.TotalBytes,
		Error:           j.ErrorMessage,
		ElapsedSeconds:  j.Elapsed(h.now()).Round(time.Millisecond).Seconds(),
		Filename:        j.FinalFilename,
	}
}

func (h *JobsHandler) handleError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	logger := logctx.LoggerFromContext(r.Context())

	var (
		inputErr   *downloader.InvalidInputError
		extractErr *fetch.ExtractionError
	)

	switch {
	case errors.As(err, &inputErr):
		writeError(w, http.StatusBadRequest, inputErr.Error())
	case errors.As(err, &extractErr):
		writeError(w, http.StatusUnprocessableEntity, extractErr.Error())
	case errors.Is(err, job.ErrNotFound):
		writeError(w, http.StatusNotFound, "job not found")
	case errors.Is(err, job.ErrAlreadyTerminal), errors.Is(err, downloader.ErrNotReady):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, downloader.ErrTooManyJobs):
		w.Header().Set("Retry-After", "30")
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, downloader.ErrShuttingDown):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		logger.Error(msg, "err", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func decodeStartRequest(w http.ResponseWriter, r *http.Request) (downloader.StartRequest, error) {
	if !isJSON(r) {
		if err := r.ParseForm(); err != nil {
			return downloader.StartRequest{}, err
		}

		return downloader.StartRequest{
			URL:        r.FormValue("url"),
			Resolution: r.FormValue("resolution"),
			SessionID:  r.FormValue("session_id"),
		}, nil
	}

	var body StartRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&body); err != nil {
		return downloader.StartRequest{}, err
	}

	resolution, err := rawResolution(body.Resolution)
	if err != nil {
		return downloader.StartRequest{}, err
	}

	return downloader.StartRequest{
		URL:        body.URL,
		Resolution: resolution,
		SessionID:  body.SessionID,
	}, nil
}

func rawResolution(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}

	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", fmt.Errorf("resolution must be a string or number: %w", err)
	}

	return n.String(), nil
}

func isJSON(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))

	return err == nil && mediaType == "application/json"
}

// contentDisposition builds an attachment header with an ASCII fallback and
// the UTF-8 name.
func contentDisposition(filename string) string {
	fallback := strings.Map(func(r rune) rune {
		if r < 0x20 || r > 0x7e || r == '"' || r == '\\' {
			return '_'
		}

		return r
	}, filename)

	return fmt.Sprintf(`attachment; filename="%s"; filename*=UTF-8''%s`, fallback, url.PathEscape(filename))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}
