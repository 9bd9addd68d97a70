package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/glorisonglotech/omnibiz-transferd/internal/fetcher"
	"github.com/glorisonglotech/omnibiz-transferd/internal/logctx"
	"github.com/glorisonglotech/omnibiz-transferd/internal/scheduler"
	"github.com/glorisonglotech/omnibiz-transferd/internal/storage"
	"github.com/glorisonglotech/omnibiz-transferd/internal/transfer"
)

// TransferRequest is a user-submitted transfer. The URL is treated as
// opaque; magnet links are labeled but fetched like anything else.
type TransferRequest struct {
	URL         string `json:"url"`
	DisplayName string `json:"display_name,omitempty"`
}

// ScheduleRequest declares a future transfer.
type ScheduleRequest struct {
	URL         string    `json:"url"`
	DisplayName string    `json:"display_name,omitempty"`
	ScheduledAt time.Time `json:"scheduled_at"`
}

// ListResponse carries the registry contents plus aggregate counts.
type ListResponse struct {
	Transfers []transfer.Record `json:"transfers"`
	Counts    transfer.Counts   `json:"counts"`
}

// BulkResponse reports how many transfers a bulk command affected.
type BulkResponse struct {
	Affected int `json:"affected"`
}

// TransferHandler exposes the transfer manager to its collaborators over
// REST.
type TransferHandler struct {
	// baseCtx parents every fetch started from a request, so transfers
	// outlive the request but still stop on process shutdown.
	baseCtx   context.Context
	registry  *transfer.Registry
	fetcher   *fetcher.Fetcher
	scheduler *scheduler.Scheduler
	history   storage.HistoryReadRepository
}

// NewTransferHandler creates the REST handler for transfers, schedules and
// history.
func NewTransferHandler(
	baseCtx context.Context,
	registry *transfer.Registry,
	f *fetcher.Fetcher,
	s *scheduler.Scheduler,
	history storage.HistoryReadRepository,
) *TransferHandler {
	return &TransferHandler{
		baseCtx:   baseCtx,
		registry:  registry,
		fetcher:   f,
		scheduler: s,
		history:   history,
	}
}

func (h *TransferHandler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Route("/transfers", func(r chi.Router) {
		r.Get("/", h.ListTransfers)
		r.Post("/", h.CreateTransfer)
		r.Post("/pause-all", h.PauseAll)
		r.Post("/resume-all", h.ResumeAll)
		r.Get("/export", h.Export)
		r.Post("/import", h.Import)

		r.Route("/{id}", func(r chi.Router) {
			r.Post("/pause", h.PauseTransfer)
			r.Post("/resume", h.ResumeTransfer)
			r.Post("/cancel", h.CancelTransfer)
			r.Post("/retry", h.RetryTransfer)
		})
	})

	r.Route("/schedules", func(r chi.Router) {
		r.Get("/", h.ListSchedules)
		r.Post("/", h.CreateSchedule)
		r.Delete("/{id}", h.DeleteSchedule)
	})

	r.Get("/history", h.History)

	return r
}

// CreateTransfer registers a new transfer and starts streaming it.
func (h *TransferHandler) CreateTransfer(w http.ResponseWriter, r *http.Request) {
	var req TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, &transfer.ValidationError{Field: "body", Reason: "invalid JSON", Err: err})

		return
	}

	if req.URL == "" {
		writeError(w, r, &transfer.ValidationError{Field: "url", Reason: "must not be empty"})

		return
	}

	rec := h.registry.Create(req.URL, req.DisplayName)

	if err := h.fetcher.Start(h.baseCtx, rec.ID); err != nil {
		writeError(w, r, err)

		return
	}

	writeJSON(w, r, http.StatusCreated, rec)
}

// ListTransfers returns every record in insertion order plus aggregate
// counts.
func (h *TransferHandler) ListTransfers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, ListResponse{
		Transfers: h.registry.List(),
		Counts:    h.registry.Counts(),
	})
}

func (h *TransferHandler) PauseTransfer(w http.ResponseWriter, r *http.Request) {
	h.transferCommand(w, r, func(id int64) error {
		return h.fetcher.Pause(id)
	})
}

func (h *TransferHandler) ResumeTransfer(w http.ResponseWriter, r *http.Request) {
	h.transferCommand(w, r, func(id int64) error {
		return h.fetcher.Resume(h.baseCtx, id)
	})
}

func (h *TransferHandler) CancelTransfer(w http.ResponseWriter, r *http.Request) {
	h.transferCommand(w, r, func(id int64) error {
		return h.fetcher.Cancel(id)
	})
}

func (h *TransferHandler) RetryTransfer(w http.ResponseWriter, r *http.Request) {
	h.transferCommand(w, r, func(id int64) error {
		return h.fetcher.Retry(h.baseCtx, id)
	})
}

func (h *TransferHandler) transferCommand(w http.ResponseWriter, r *http.Request, cmd func(id int64) error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, r, &transfer.ValidationError{Field: "id", Reason: "must be an integer", Err: err})

		return
	}

	if err := cmd(id); err != nil {
		writeError(w, r, err)

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// PauseAll pauses every active transfer.
func (h *TransferHandler) PauseAll(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, BulkResponse{Affected: h.fetcher.PauseAll()})
}

// ResumeAll resumes every paused transfer.
func (h *TransferHandler) ResumeAll(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, BulkResponse{Affected: h.fetcher.ResumeAll(h.baseCtx)})
}

// Export serves the full registry as a downloadable JSON array.
func (h *TransferHandler) Export(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", h.registry.ExportFilename()))

	if err := h.registry.Export(w); err != nil {
		logger.Error("failed to export registry", "err", err)
	}
}

// Import appends a JSON array of records to the registry. Malformed
// payloads are rejected wholesale.
func (h *TransferHandler) Import(w http.ResponseWriter, r *http.Request) {
	count, err := h.registry.Import(r.Body)
	if err != nil {
		writeError(w, r, err)

		return
	}

	writeJSON(w, r, http.StatusOK, BulkResponse{Affected: count})
}

// CreateSchedule declares a future transfer. Times not strictly in the
// future are rejected and nothing is created.
func (h *TransferHandler) CreateSchedule(w http.ResponseWriter, r *http.Request) {
	var req ScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, &transfer.ValidationError{Field: "body", Reason: "invalid JSON", Err: err})

		return
	}

	entry, err := h.scheduler.Add(req.URL, req.DisplayName, req.ScheduledAt)
	if err != nil {
		writeError(w, r, err)

		return
	}

	writeJSON(w, r, http.StatusCreated, entry)
}

func (h *TransferHandler) ListSchedules(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, h.scheduler.List())
}

func (h *TransferHandler) DeleteSchedule(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, r, &transfer.ValidationError{Field: "id", Reason: "must be an integer", Err: err})

		return
	}

	h.scheduler.Remove(id)
	w.WriteHeader(http.StatusNoContent)
}

// History serves the persisted audit trail of finished transfers.
func (h *TransferHandler) History(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, r, &transfer.ValidationError{Field: "limit", Reason: "must be an integer", Err: err})

			return
		}

		limit = parsed
	}

	records, err := h.history.History(limit)
	if err != nil {
		writeError(w, r, fmt.Errorf("failed to load history: %w", err))

		return
	}

	if records == nil {
		records = []storage.HistoryRecord{}
	}

	writeJSON(w, r, http.StatusOK, records)
}

type errorResponse struct {
	Error string `json:"error"`
}

// writeError maps the error taxonomy onto HTTP statuses: validation errors
// are unprocessable, unknown ids are not found, anything else is a server
// error.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	logger := logctx.LoggerFromContext(r.Context())

	status := http.StatusInternalServerError

	var validationErr *transfer.ValidationError

	var notFoundErr *transfer.NotFoundError

	switch {
	case errors.As(err, &validationErr):
		status = http.StatusUnprocessableEntity
	case errors.As(err, &notFoundErr):
		status = http.StatusNotFound
	}

	if status == http.StatusInternalServerError {
		logger.Error("request failed", "err", err)
	}

	writeJSON(w, r, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, payload any) {
	logger := logctx.LoggerFromContext(r.Context())

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("failed to encode response", "err", err)
	}
}
