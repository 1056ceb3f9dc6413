package closehttp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"
	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"

	"github.com/fairway-pms/fairway/internal/dailyclose"
	"github.com/fairway-pms/fairway/internal/platform/httpx"
	"github.com/fairway-pms/fairway/internal/rbac"
	"github.com/fairway-pms/fairway/internal/shared"
	"github.com/fairway-pms/fairway/jobs"
)

const (
	mutationRateLimit  = 10
	mutationRateWindow = time.Minute
	maxBodyBytes       = 1 << 16
)

type closeService interface {
	GetPreview(ctx context.Context, date dailyclose.BusinessDate) (dailyclose.Summary, error)
	View(ctx context.Context, date dailyclose.BusinessDate) (dailyclose.DayView, error)
	AutoNoShow(ctx context.Context, date dailyclose.BusinessDate, operator shared.Operator) (dailyclose.NoShowResult, error)
	Execute(ctx context.Context, in dailyclose.ExecuteInput) (dailyclose.ClosingReport, error)
	GetReport(ctx context.Context, date dailyclose.BusinessDate) (dailyclose.ClosingReport, error)
	ListReports(ctx context.Context, filter dailyclose.ListFilter) ([]dailyclose.ReportSummary, error)
}

type noShowQueue interface {
	EnqueueDailyCloseNoShow(ctx context.Context, payload jobs.DailyCloseNoShowPayload) (*asynq.TaskInfo, error)
}

// Handler wires HTTP endpoints for previewing and closing business dates.
type Handler struct {
	logger   *slog.Logger
	service  closeService
	rbac     rbac.Middleware
	queue    noShowQueue
	clubID   int64
	validate *validator.Validate
	limiter  func(http.Handler) http.Handler
}

// NewHandler constructs the daily close HTTP handler. queue may be nil, in
// which case asynchronous no-show requests are refused.
func NewHandler(logger *slog.Logger, service closeService, rbac rbac.Middleware, queue noShowQueue, clubID int64) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:   logger,
		service:  service,
		rbac:     rbac,
		queue:    queue,
		clubID:   clubID,
		validate: validator.New(),
		limiter: httprate.Limit(mutationRateLimit, mutationRateWindow,
			httprate.WithKeyFuncs(rateLimitKey),
			httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
				httpx.Problem(w, http.StatusTooManyRequests, http.StatusText(http.StatusTooManyRequests), "slow down")
			}),
		),
	}
}

// MountRoutes registers daily close routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/daily-close", func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermDailyCloseView, shared.PermDailyCloseExecute))
		r.Get("/reports", h.listReports)
		r.Get("/reports/{date}", h.getReport)
		r.Get("/{date}", h.view)
		r.Get("/{date}/preview", h.preview)
		r.Group(func(r chi.Router) {
			r.Use(h.rbac.RequireAll(shared.PermDailyCloseExecute))
			r.Use(h.limiter)
			r.Post("/{date}/no-shows", h.autoNoShow)
			r.Post("/{date}/execute", h.execute)
		})
	})
}

type executeRequest struct {
	DeclaredCash *decimal.Decimal `json:"declared_cash"`
	Notes        string           `json:"notes" validate:"max=2000"`
}

type enqueueResponse struct {
	Date      string `json:"date"`
	TaskID    string `json:"task_id,omitempty"`
	Queue     string `json:"queue"`
	Duplicate bool   `json:"duplicate,omitempty"`
}

type reportListResponse struct {
	Reports    []dailyclose.ReportSummary `json:"reports"`
	NextBefore string                     `json:"next_before,omitempty"`
}

func (h *Handler) preview(w http.ResponseWriter, r *http.Request) {
	date, ok := h.dateParam(w, r)
	if !ok {
		return
	}
	summary, err := h.service.GetPreview(r.Context(), date)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}

func (h *Handler) view(w http.ResponseWriter, r *http.Request) {
	date, ok := h.dateParam(w, r)
	if !ok {
		return
	}
	view, err := h.service.View(r.Context(), date)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, view)
}

func (h *Handler) autoNoShow(w http.ResponseWriter, r *http.Request) {
	date, ok := h.dateParam(w, r)
	if !ok {
		return
	}
	op, _ := shared.OperatorFromContext(r.Context())
	if isTruthy(r.URL.Query().Get("async")) {
		h.enqueueNoShow(w, r, date, op)
		return
	}
	result, err := h.service.AutoNoShow(r.Context(), date, op)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) enqueueNoShow(w http.ResponseWriter, r *http.Request, date dailyclose.BusinessDate, op shared.Operator) {
	if h.queue == nil {
		httpx.ProblemKind(w, http.StatusServiceUnavailable, "Service Unavailable", "job queue not configured", string(dailyclose.KindTransient))
		return
	}
	info, err := h.queue.EnqueueDailyCloseNoShow(r.Context(), jobs.DailyCloseNoShowPayload{
		ClubID:       h.clubID,
		Date:         date.String(),
		OperatorID:   op.ID,
		OperatorName: op.Name,
	})
	resp := enqueueResponse{Date: date.String(), Queue: jobs.QueueDefault}
	switch {
	case errors.Is(err, asynq.ErrDuplicateTask):
		resp.Duplicate = true
	case err != nil:
		h.logger.ErrorContext(r.Context(), "enqueue no-show", slog.String("date", date.String()), slog.Any("error", err))
		httpx.ProblemKind(w, http.StatusServiceUnavailable, "Service Unavailable", "could not enqueue no-show job", string(dailyclose.KindTransient))
		return
	default:
		resp.TaskID = info.ID
		resp.Queue = info.Queue
	}
	httpx.JSON(w, http.StatusAccepted, resp)
}

func (h *Handler) execute(w http.ResponseWriter, r *http.Request) {
	date, ok := h.dateParam(w, r)
	if !ok {
		return
	}
	var req executeRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := httpx.DecodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		h.writeError(w, r, fmt.Errorf("%w: malformed body: %v", dailyclose.ErrInvalidInput, err))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.writeError(w, r, fmt.Errorf("%w: %s", dailyclose.ErrInvalidInput, describeValidation(err)))
		return
	}
	op, _ := shared.OperatorFromContext(r.Context())
	report, err := h.service.Execute(r.Context(), dailyclose.ExecuteInput{
		Date:         date,
		DeclaredCash: req.DeclaredCash,
		Notes:        strings.TrimSpace(req.Notes),
		Operator:     op,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, report)
}

func (h *Handler) getReport(w http.ResponseWriter, r *http.Request) {
	date, ok := h.dateParam(w, r)
	if !ok {
		return
	}
	report, err := h.service.GetReport(r.Context(), date)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}

func (h *Handler) listReports(w http.ResponseWriter, r *http.Request) {
	filter, err := parseListFilter(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	reports, err := h.service.ListReports(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp := reportListResponse{Reports: reports}
	if page, err := filter.Normalize(); err == nil && len(reports) > 0 && len(reports) == page.Limit {
		resp.NextBefore = reports[len(reports)-1].Date.String()
	}
	httpx.JSON(w, http.StatusOK, resp)
}

func (h *Handler) dateParam(w http.ResponseWriter, r *http.Request) (dailyclose.BusinessDate, bool) {
	date, err := dailyclose.ParseBusinessDate(chi.URLParam(r, "date"))
	if err != nil {
		h.writeError(w, r, err)
		return dailyclose.BusinessDate{}, false
	}
	return date, true
}

func parseListFilter(r *http.Request) (dailyclose.ListFilter, error) {
	q := r.URL.Query()
	var filter dailyclose.ListFilter
	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return filter, fmt.Errorf("%w: limit must be a non-negative integer", dailyclose.ErrInvalidInput)
		}
		filter.Limit = limit
	}
	for _, p := range []struct {
		key    string
		target *dailyclose.BusinessDate
	}{
		{"from", &filter.From},
		{"to", &filter.To},
		{"before", &filter.Before},
	} {
		raw := strings.TrimSpace(q.Get(p.key))
		if raw == "" {
			continue
		}
		date, err := dailyclose.ParseBusinessDate(raw)
		if err != nil {
			return filter, fmt.Errorf("%s: %w", p.key, err)
		}
		*p.target = date
	}
	return filter, nil
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := dailyclose.KindOf(err)
	status := statusForKind(kind)
	detail := err.Error()
	if kind == dailyclose.KindInternal {
		h.logger.ErrorContext(r.Context(), "daily close request failed",
			slog.String("path", r.URL.Path), slog.Any("error", err))
		detail = "unexpected error"
	}
	if kind == dailyclose.KindTransient {
		w.Header().Set("Retry-After", "5")
	}
	httpx.ProblemKind(w, status, http.StatusText(status), detail, string(kind))
}

func statusForKind(kind dailyclose.Kind) int {
	switch kind {
	case dailyclose.KindValidation:
		return http.StatusBadRequest
	case dailyclose.KindConflict:
		return http.StatusConflict
	case dailyclose.KindNotFound:
		return http.StatusNotFound
	case dailyclose.KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %s", strings.ToLower(fe.Field()), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}

func rateLimitKey(r *http.Request) (string, error) {
	if op, ok := shared.OperatorFromContext(r.Context()); ok && op.ID > 0 {
		return "operator:" + strconv.FormatInt(op.ID, 10), nil
	}
	key, err := httprate.KeyByIP(r)
	if err != nil {
		return "", err
	}
	return "ip:" + key, nil
}

func isTruthy(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes":
		return true
	}
	return false
}
