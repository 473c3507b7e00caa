package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/maauso/autocut-api/internal/balance"
	"github.com/maauso/autocut-api/internal/billing"
	"github.com/maauso/autocut-api/internal/job"
	"github.com/maauso/autocut-api/internal/ledger"
	"github.com/maauso/autocut-api/internal/storage"
)

const (
	// DefaultMaxUploadBytes bounds PUT /jobs/{id}/video bodies.
	DefaultMaxUploadBytes = 512 << 20
	// DefaultResponseTimeout is the time left to write a response once an
	// upload body has been consumed.
	DefaultResponseTimeout = 30 * time.Second
)

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	service        *billing.Service
	storage        storage.Storage
	validator      *validator.Validate
	logger          *slog.Logger
	maxUploadBytes  int64
	responseTimeout time.Duration
}

// HandlerOption is a function that configures a Handlers instance.
type HandlerOption func(*Handlers)

// WithStorage sets where uploaded videos are written.
// Without it, video uploads answer 503.
func WithStorage(s storage.Storage) HandlerOption {
	return func(h *Handlers) {
		h.storage = s
	}
}

// WithMaxUploadBytes bounds the size of uploaded videos.
func WithMaxUploadBytes(n int64) HandlerOption {
	return func(h *Handlers) {
		if n > 0 {
			h.maxUploadBytes = n
		}
	}
}

// WithResponseTimeout sets how long an upload response may take to write
// after the body was read. It should match the server's WriteTimeout.
func WithResponseTimeout(d time.Duration) HandlerOption {
	return func(h *Handlers) {
		if d > 0 {
			h.responseTimeout = d
		}
	}
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(service *billing.Service, logger *slog.Logger, opts ...HandlerOption) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handlers{
		service:         service,
		validator:       validator.New(),
		logger:          logger,
		maxUploadBytes:  DefaultMaxUploadBytes,
		responseTimeout: DefaultResponseTimeout,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// CreateJob handles POST /jobs requests.
func (h *Handlers) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req CreateJobRequest
	if !h.decode(w, r, &req) {
		return
	}

	created, err := h.service.CreateJob(r.Context(), billing.CreateJobInput{
		UserID:      req.UserID,
		Name:        req.Name,
		CreditsCost: req.CreditsCost,
		Priority:    req.Priority,
		MaxRetries:  req.MaxRetries,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toJobResponse(created))
}

// GetJob handles GET /jobs/{id} requests.
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	found, err := h.service.GetJob(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toJobResponse(found))
}

// TransitionJob handles POST /jobs/{id}/transitions requests.
// Processing workers report every status change through this endpoint.
func (h *Handlers) TransitionJob(w http.ResponseWriter, r *http.Request) {
	var req TransitionRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.OutputPath != "" && job.Status(req.Status) != job.StatusCompleted {
		writeError(w, http.StatusBadRequest, "output_path is only accepted with status COMPLETED", "VALIDATION_ERROR")
		return
	}

	updated, err := h.service.TransitionJob(r.Context(), r.PathValue("id"), job.Status(req.Status), job.Metadata{
		Progress:     req.Progress,
		ErrorMessage: req.ErrorMessage,
		CurrentStep:  req.CurrentStep,
		OutputPath:   req.OutputPath,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toJobResponse(updated))
}

// UploadVideo handles PUT /jobs/{id}/video requests.
// The request body is the raw video. The object is removed again if the job
// no longer accepts a video once the upload finishes.
func (h *Handlers) UploadVideo(w http.ResponseWriter, r *http.Request) {
	if h.storage == nil {
		writeError(w, http.StatusServiceUnavailable, "video storage is not configured", "STORAGE_UNAVAILABLE")
		return
	}

	ctx := r.Context()
	j, err := h.service.GetJob(ctx, r.PathValue("id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if !j.GetStatus().AcceptsVideo() {
		writeError(w, http.StatusConflict, "job no longer accepts a video", "INVALID_TRANSITION")
		return
	}

	key := storage.VideoKey(j.UserID, j.ID)
	body := http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	location, err := h.storage.Save(ctx, key, body)
	h.resetWriteDeadline(w)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "video exceeds upload limit", "PAYLOAD_TOO_LARGE")
			return
		}
		h.logger.Error("failed to store video",
			slog.String("job_id", j.ID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to store video", "STORAGE_FAILED")
		return
	}

	updated, err := h.service.AttachVideo(ctx, j.ID, location)
	if err != nil {
		if delErr := h.storage.Delete(ctx, []string{key}); delErr != nil {
			h.logger.Warn("failed to remove orphaned video",
				slog.String("job_id", j.ID),
				slog.String("error", delErr.Error()),
			)
		}
		h.writeServiceError(w, r, err)
		return
	}

	h.logger.Info("video uploaded",
		slog.String("job_id", updated.ID),
		slog.String("location", location),
	)
	writeJSON(w, http.StatusOK, toJobResponse(updated))
}

// resetWriteDeadline restarts the connection's write deadline. The server
// starts it when the request headers are read, so a slow upload would
// otherwise leave no time to write the response.
func (h *Handlers) resetWriteDeadline(w http.ResponseWriter) {
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Now().Add(h.responseTimeout)); err != nil && !errors.Is(err, http.ErrNotSupported) {
		h.logger.Warn("failed to reset write deadline",
			slog.String("error", err.Error()),
		)
	}
}

// ListJobs handles GET /users/{id}/jobs requests.
func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.service.ListJobs(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	resp := JobListResponse{Jobs: make([]JobResponse, 0, len(jobs))}
	for _, j := range jobs {
		resp.Jobs = append(resp.Jobs, toJobResponse(j))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetBalance handles GET /users/{id}/balance requests.
func (h *Handlers) GetBalance(w http.ResponseWriter, r *http.Request) {
	acct, err := h.service.GetAccount(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBalanceResponse(acct))
}

// RebuildBalance handles POST /users/{id}/balance/rebuild requests.
func (h *Handlers) RebuildBalance(w http.ResponseWriter, r *http.Request) {
	acct, err := h.service.RebuildBalance(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBalanceResponse(acct))
}

// ListLedger handles GET /users/{id}/ledger requests.
func (h *Handlers) ListLedger(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("id")
	entries, err := h.service.ListEntries(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if entries == nil {
		entries = []ledger.Entry{}
	}
	writeJSON(w, http.StatusOK, LedgerResponse{UserID: userID, Entries: entries})
}

// RecordPurchase handles POST /users/{id}/purchases requests.
// Repeating a payment reference returns the original entry.
func (h *Handlers) RecordPurchase(w http.ResponseWriter, r *http.Request) {
	var req PurchaseRequest
	if !h.decode(w, r, &req) {
		return
	}

	entry, err := h.service.RecordPurchase(r.Context(), billing.PurchaseInput{
		UserID:      r.PathValue("id"),
		Credits:     req.Credits,
		PaymentRef:  req.PaymentRef,
		Provider:    req.Provider,
		AmountCents: req.AmountCents,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

// GrantBonus handles POST /users/{id}/bonuses requests.
func (h *Handlers) GrantBonus(w http.ResponseWriter, r *http.Request) {
	var req BonusRequest
	if !h.decode(w, r, &req) {
		return
	}

	entry, err := h.service.GrantBonus(r.Context(), r.PathValue("id"), req.Amount, req.Description)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

// Adjust handles POST /users/{id}/adjustments requests.
func (h *Handlers) Adjust(w http.ResponseWriter, r *http.Request) {
	var req AdjustmentRequest
	if !h.decode(w, r, &req) {
		return
	}

	entry, err := h.service.Adjust(r.Context(), r.PathValue("id"), req.Amount, req.Description)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

// decode reads and validates a JSON body, writing a 400 response on failure.
func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.logger.Warn("failed to decode request body",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
		return false
	}

	if err := h.validator.Struct(dst); err != nil {
		h.logger.Warn("request validation failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return false
	}
	return true
}

// writeServiceError maps domain errors to HTTP responses.
func (h *Handlers) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ledger.ErrInsufficientFunds):
		writeError(w, http.StatusPaymentRequired, err.Error(), "INSUFFICIENT_FUNDS")
	case errors.Is(err, job.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error(), "INVALID_TRANSITION")
	case errors.Is(err, job.ErrJobNotFound):
		writeError(w, http.StatusNotFound, "job not found", "JOB_NOT_FOUND")
	case errors.Is(err, balance.ErrAccountNotFound):
		writeError(w, http.StatusNotFound, "account not found", "ACCOUNT_NOT_FOUND")
	case errors.Is(err, ledger.ErrDuplicateEntry), errors.Is(err, ledger.ErrDuplicateRefund):
		writeError(w, http.StatusConflict, err.Error(), "DUPLICATE_ENTRY")
	case errors.Is(err, billing.ErrInvalidInput),
		errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, ledger.ErrMissingReference):
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
	default:
		h.logger.Error("request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "internal server error", "INTERNAL_ERROR")
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
