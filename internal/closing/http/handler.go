package closinghttp

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/hibiken/asynq"

	"github.com/coopledger/coopledger/internal/closing"
	"github.com/coopledger/coopledger/internal/ledger"
	"github.com/coopledger/coopledger/internal/platform/httpx"
	"github.com/coopledger/coopledger/internal/settings"
	"github.com/coopledger/coopledger/internal/shared"
	"github.com/coopledger/coopledger/jobs"
)

const idempotencyModule = "period_process"

type processService interface {
	ProcessPeriod(ctx context.Context, req closing.ProcessRequest) (closing.RunResult, error)
}

type enqueuer interface {
	EnqueuePeriodProcess(ctx context.Context, payload jobs.PeriodProcessPayload) (*asynq.TaskInfo, error)
}

type idempotencyStore interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// Handler exposes the period close endpoint.
type Handler struct {
	logger      *slog.Logger
	service     processService
	jobs        enqueuer
	idempotency idempotencyStore
}

// NewHandler constructs the handler. jobsClient and idem may be nil; async
// requests are then rejected and Idempotency-Key headers ignored.
func NewHandler(logger *slog.Logger, service processService, jobsClient enqueuer, idem idempotencyStore) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, jobs: jobsClient, idempotency: idem}
}

// MountRoutes registers routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/api/periods/{periodID}", func(r chi.Router) {
		r.Use(httprate.LimitByIP(10, time.Minute))
		r.Post("/process", h.process)
	})
}

type processBody struct {
	MemberID *int64 `json:"member_id"`
}

type enqueueResponse struct {
	PeriodID int64  `json:"period_id"`
	TaskID   string `json:"task_id"`
	Queue    string `json:"queue"`
}

var errorRules = []httpx.ErrorRule{
	{Err: closing.ErrInvalidRequest, Status: http.StatusBadRequest, Title: "Invalid Request"},
	{Err: ledger.ErrPeriodNotFound, Status: http.StatusNotFound, Title: "Period Not Found"},
	{Err: ledger.ErrMemberNotFound, Status: http.StatusNotFound, Title: "Member Not Found"},
	{Err: shared.ErrPeriodLocked, Status: http.StatusConflict, Title: "Period Locked"},
	{Err: closing.ErrConcurrentRun, Status: http.StatusConflict, Title: "Concurrent Run"},
	{Err: shared.ErrIdempotencyConflict, Status: http.StatusConflict, Title: "Duplicate Request"},
	{Err: asynq.ErrDuplicateTask, Status: http.StatusConflict, Title: "Already Queued"},
	{Err: closing.ErrIncompleteTransaction, Status: http.StatusUnprocessableEntity, Title: "Incomplete Transaction Data"},
	{Err: ledger.ErrNegativeBalance, Status: http.StatusUnprocessableEntity, Title: "Ledger Integrity Violation"},
	{Err: ledger.ErrNegativeInterest, Status: http.StatusUnprocessableEntity, Title: "Ledger Integrity Violation"},
	{Err: settings.ErrMissingContributionSettings, Status: http.StatusUnprocessableEntity, Title: "Configuration Error"},
	{Err: settings.ErrInvalidRatio, Status: http.StatusUnprocessableEntity, Title: "Configuration Error"},
}

func (h *Handler) process(w http.ResponseWriter, r *http.Request) {
	periodID, err := strconv.ParseInt(chi.URLParam(r, "periodID"), 10, 64)
	if err != nil || periodID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "period id must be a positive integer")
		return
	}
	var body processBody
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.RespondError(w, err, errorRules...)
		return
	}
	req := closing.ProcessRequest{PeriodID: periodID, MemberID: body.MemberID}
	if err := req.Validate(); err != nil {
		httpx.RespondError(w, err, errorRules...)
		return
	}

	key := r.Header.Get("Idempotency-Key")
	if key != "" && h.idempotency != nil {
		if err := h.idempotency.CheckAndInsert(r.Context(), key, idempotencyModule); err != nil {
			httpx.RespondError(w, err, errorRules...)
			return
		}
	}

	if r.URL.Query().Get("async") == "true" {
		h.enqueue(w, r, req, key)
		return
	}
	result, err := h.service.ProcessPeriod(r.Context(), req)
	if err != nil {
		h.release(r.Context(), key)
		h.logger.Warn("period process failed", slog.Int64("period_id", periodID), slog.Any("error", err))
		httpx.RespondError(w, err, errorRules...)
		return
	}
	if result.Results == nil {
		result.Results = []closing.MemberResult{}
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) enqueue(w http.ResponseWriter, r *http.Request, req closing.ProcessRequest, key string) {
	if h.jobs == nil {
		h.release(r.Context(), key)
		httpx.Problem(w, http.StatusServiceUnavailable, "Queue Unavailable", "background processing is not configured")
		return
	}
	info, err := h.jobs.EnqueuePeriodProcess(r.Context(), jobs.PeriodProcessPayload{PeriodID: req.PeriodID, MemberID: req.MemberID})
	if err != nil {
		h.release(r.Context(), key)
		if !errors.Is(err, asynq.ErrDuplicateTask) {
			h.logger.Error("enqueue period process", slog.Int64("period_id", req.PeriodID), slog.Any("error", err))
		}
		httpx.RespondError(w, err, errorRules...)
		return
	}
	httpx.JSON(w, http.StatusAccepted, enqueueResponse{PeriodID: req.PeriodID, TaskID: info.ID, Queue: info.Queue})
}

func (h *Handler) release(ctx context.Context, key string) {
	if key == "" || h.idempotency == nil {
		return
	}
	if err := h.idempotency.Delete(context.WithoutCancel(ctx), key); err != nil {
		h.logger.Warn("release idempotency key", slog.Any("error", err))
	}
}
