package closehttp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairway-pms/fairway/internal/dailyclose"
	"github.com/fairway-pms/fairway/internal/platform/httpx"
	"github.com/fairway-pms/fairway/internal/rbac"
	"github.com/fairway-pms/fairway/internal/shared"
	"github.com/fairway-pms/fairway/jobs"
)

type stubCloseService struct {
	previewFn  func(ctx context.Context, date dailyclose.BusinessDate) (dailyclose.Summary, error)
	viewFn     func(ctx context.Context, date dailyclose.BusinessDate) (dailyclose.DayView, error)
	noShowFn   func(ctx context.Context, date dailyclose.BusinessDate, op shared.Operator) (dailyclose.NoShowResult, error)
	executeFn  func(ctx context.Context, in dailyclose.ExecuteInput) (dailyclose.ClosingReport, error)
	reportFn   func(ctx context.Context, date dailyclose.BusinessDate) (dailyclose.ClosingReport, error)
	listFn     func(ctx context.Context, filter dailyclose.ListFilter) ([]dailyclose.ReportSummary, error)
	executions int
}

func (s *stubCloseService) GetPreview(ctx context.Context, date dailyclose.BusinessDate) (dailyclose.Summary, error) {
	return s.previewFn(ctx, date)
}

func (s *stubCloseService) View(ctx context.Context, date dailyclose.BusinessDate) (dailyclose.DayView, error) {
	return s.viewFn(ctx, date)
}

func (s *stubCloseService) AutoNoShow(ctx context.Context, date dailyclose.BusinessDate, op shared.Operator) (dailyclose.NoShowResult, error) {
	return s.noShowFn(ctx, date, op)
}

func (s *stubCloseService) Execute(ctx context.Context, in dailyclose.ExecuteInput) (dailyclose.ClosingReport, error) {
	s.executions++
	return s.executeFn(ctx, in)
}

func (s *stubCloseService) GetReport(ctx context.Context, date dailyclose.BusinessDate) (dailyclose.ClosingReport, error) {
	return s.reportFn(ctx, date)
}

func (s *stubCloseService) ListReports(ctx context.Context, filter dailyclose.ListFilter) ([]dailyclose.ReportSummary, error) {
	return s.listFn(ctx, filter)
}

type stubPermissions map[int64][]string

func (s stubPermissions) EffectivePermissions(_ context.Context, userID int64) ([]string, error) {
	return s[userID], nil
}

type stubQueue struct {
	payload jobs.DailyCloseNoShowPayload
	err     error
}

func (q *stubQueue) EnqueueDailyCloseNoShow(_ context.Context, payload jobs.DailyCloseNoShowPayload) (*asynq.TaskInfo, error) {
	q.payload = payload
	if q.err != nil {
		return nil, q.err
	}
	return &asynq.TaskInfo{ID: "task-1", Queue: jobs.QueueDefault}, nil
}

const (
	viewer   = int64(1)
	manager  = int64(2)
	outsider = int64(3)
)

func newTestRouter(svc *stubCloseService, queue noShowQueue) http.Handler {
	perms := stubPermissions{
		viewer:  {shared.PermDailyCloseView},
		manager: shared.DailyCloseScopes(),
	}
	h := NewHandler(nil, svc, rbac.Middleware{Permissions: perms}, queue, 1)
	r := chi.NewRouter()
	r.Use(shared.OperatorMiddleware)
	h.MountRoutes(r)
	return r
}

func doRequest(t *testing.T, router http.Handler, method, target, body string, operator int64) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if operator != 0 {
		req.Header.Set(shared.HeaderOperatorID, strconv.FormatInt(operator, 10))
		req.Header.Set(shared.HeaderOperatorName, "Staff")
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeProblem(t *testing.T, rec *httptest.ResponseRecorder) httpx.ProblemDetail {
	t.Helper()
	var p httpx.ProblemDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	return p
}

func TestPreview(t *testing.T) {
	svc := &stubCloseService{
		previewFn: func(_ context.Context, date dailyclose.BusinessDate) (dailyclose.Summary, error) {
			assert.Equal(t, "2025-06-01", date.String())
			return dailyclose.Summary{
				Date:           date,
				TotalCollected: decimal.RequireFromString("1500"),
				TotalCharged:   decimal.RequireFromString("1500"),
				PaymentSummary: map[string]decimal.Decimal{"cash": decimal.RequireFromString("1000")},
			}, nil
		},
	}
	rec := doRequest(t, newTestRouter(svc, nil), http.MethodGet, "/daily-close/2025-06-01/preview", "", viewer)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "2025-06-01", body["date"])
	assert.Equal(t, "1500", body["total_collected"])
}

func TestPreviewRejectsBadDate(t *testing.T) {
	rec := doRequest(t, newTestRouter(&stubCloseService{}, nil), http.MethodGet, "/daily-close/2025-13-01/preview", "", viewer)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, string(dailyclose.KindValidation), decodeProblem(t, rec).Kind)
}

func TestPermissions(t *testing.T) {
	svc := &stubCloseService{
		viewFn: func(_ context.Context, date dailyclose.BusinessDate) (dailyclose.DayView, error) {
			return dailyclose.DayView{Date: date, Status: dailyclose.DayOpen}, nil
		},
		executeFn: func(_ context.Context, in dailyclose.ExecuteInput) (dailyclose.ClosingReport, error) {
			return dailyclose.ClosingReport{Date: in.Date}, nil
		},
	}
	router := newTestRouter(svc, nil)

	assert.Equal(t, http.StatusForbidden, doRequest(t, router, http.MethodGet, "/daily-close/2025-06-01", "", 0).Code)
	assert.Equal(t, http.StatusForbidden, doRequest(t, router, http.MethodGet, "/daily-close/2025-06-01", "", outsider).Code)
	assert.Equal(t, http.StatusOK, doRequest(t, router, http.MethodGet, "/daily-close/2025-06-01", "", viewer).Code)
	assert.Equal(t, http.StatusForbidden, doRequest(t, router, http.MethodPost, "/daily-close/2025-06-01/execute", "{}", viewer).Code)
	assert.Equal(t, 0, svc.executions)
	assert.Equal(t, http.StatusCreated, doRequest(t, router, http.MethodPost, "/daily-close/2025-06-01/execute", "{}", manager).Code)
}

func TestExecute(t *testing.T) {
	svc := &stubCloseService{
		executeFn: func(_ context.Context, in dailyclose.ExecuteInput) (dailyclose.ClosingReport, error) {
			require.NotNil(t, in.DeclaredCash)
			assert.Equal(t, "1000", in.DeclaredCash.String())
			assert.Equal(t, "all good", in.Notes)
			assert.Equal(t, manager, in.Operator.ID)
			assert.Equal(t, "Staff", in.Operator.Name)
			variance := decimal.Zero
			return dailyclose.ClosingReport{ID: 9, Date: in.Date, DeclaredCash: in.DeclaredCash, CashVariance: &variance}, nil
		},
	}
	rec := doRequest(t, newTestRouter(svc, nil), http.MethodPost, "/daily-close/2025-06-01/execute",
		`{"declared_cash":"1000","notes":"  all good "}`, manager)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "0", body["cash_variance"])
	assert.Equal(t, float64(9), body["id"])
}

func TestExecuteEmptyBody(t *testing.T) {
	svc := &stubCloseService{
		executeFn: func(_ context.Context, in dailyclose.ExecuteInput) (dailyclose.ClosingReport, error) {
			assert.Nil(t, in.DeclaredCash)
			return dailyclose.ClosingReport{Date: in.Date}, nil
		},
	}
	rec := doRequest(t, newTestRouter(svc, nil), http.MethodPost, "/daily-close/2025-06-01/execute", "", manager)
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestExecuteRejectsBadBody(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{name: "malformed", body: `{"declared_cash":`},
		{name: "unknown field", body: `{"cash":"10"}`},
		{name: "notes too long", body: `{"notes":"` + strings.Repeat("n", 2001) + `"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &stubCloseService{}
			rec := doRequest(t, newTestRouter(svc, nil), http.MethodPost, "/daily-close/2025-06-01/execute", tc.body, manager)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, string(dailyclose.KindValidation), decodeProblem(t, rec).Kind)
			assert.Equal(t, 0, svc.executions)
		})
	}
}

func TestExecuteErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		kind   dailyclose.Kind
	}{
		{err: dailyclose.ErrAlreadyClosed, status: http.StatusConflict, kind: dailyclose.KindConflict},
		{err: dailyclose.ErrCloseInProgress, status: http.StatusConflict, kind: dailyclose.KindConflict},
		{err: dailyclose.ErrOperatorRequired, status: http.StatusBadRequest, kind: dailyclose.KindValidation},
		{err: dailyclose.ErrSourceUnavailable, status: http.StatusServiceUnavailable, kind: dailyclose.KindTransient},
		{err: errors.New("nil pointer"), status: http.StatusInternalServerError, kind: dailyclose.KindInternal},
	}
	for _, tc := range cases {
		t.Run(string(tc.kind), func(t *testing.T) {
			svc := &stubCloseService{
				executeFn: func(context.Context, dailyclose.ExecuteInput) (dailyclose.ClosingReport, error) {
					return dailyclose.ClosingReport{}, tc.err
				},
			}
			rec := doRequest(t, newTestRouter(svc, nil), http.MethodPost, "/daily-close/2025-06-01/execute", "{}", manager)
			assert.Equal(t, tc.status, rec.Code)
			problem := decodeProblem(t, rec)
			assert.Equal(t, string(tc.kind), problem.Kind)
			if tc.kind == dailyclose.KindInternal {
				assert.NotContains(t, problem.Detail, "nil pointer")
			}
		})
	}
}

func TestAutoNoShowSync(t *testing.T) {
	svc := &stubCloseService{
		noShowFn: func(_ context.Context, date dailyclose.BusinessDate, op shared.Operator) (dailyclose.NoShowResult, error) {
			assert.Equal(t, manager, op.ID)
			return dailyclose.NoShowResult{Date: date, MarkedCount: 1, BookingIDs: []int64{7}, FailedIDs: []int64{}}, nil
		},
	}
	rec := doRequest(t, newTestRouter(svc, nil), http.MethodPost, "/daily-close/2025-06-01/no-shows", "", manager)
	require.Equal(t, http.StatusOK, rec.Code)

	var result dailyclose.NoShowResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, 1, result.MarkedCount)
	assert.Equal(t, []int64{7}, result.BookingIDs)
}

func TestAutoNoShowAsync(t *testing.T) {
	queue := &stubQueue{}
	rec := doRequest(t, newTestRouter(&stubCloseService{}, queue), http.MethodPost, "/daily-close/2025-06-01/no-shows?async=1", "", manager)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, jobs.DailyCloseNoShowPayload{ClubID: 1, Date: "2025-06-01", OperatorID: manager, OperatorName: "Staff"}, queue.payload)

	var resp enqueueResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "task-1", resp.TaskID)

	dup := &stubQueue{err: asynq.ErrDuplicateTask}
	rec = doRequest(t, newTestRouter(&stubCloseService{}, dup), http.MethodPost, "/daily-close/2025-06-01/no-shows?async=true", "", manager)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Duplicate)

	rec = doRequest(t, newTestRouter(&stubCloseService{}, nil), http.MethodPost, "/daily-close/2025-06-01/no-shows?async=1", "", manager)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestGetReport(t *testing.T) {
	svc := &stubCloseService{
		reportFn: func(_ context.Context, date dailyclose.BusinessDate) (dailyclose.ClosingReport, error) {
			if date.String() == "2025-06-01" {
				return dailyclose.ClosingReport{ID: 1, Date: date, ClosedAt: time.Date(2025, 6, 1, 23, 30, 0, 0, time.UTC)}, nil
			}
			return dailyclose.ClosingReport{}, dailyclose.ErrReportNotFound
		},
	}
	router := newTestRouter(svc, nil)
	assert.Equal(t, http.StatusOK, doRequest(t, router, http.MethodGet, "/daily-close/reports/2025-06-01", "", viewer).Code)

	rec := doRequest(t, router, http.MethodGet, "/daily-close/reports/2025-06-02", "", viewer)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, string(dailyclose.KindNotFound), decodeProblem(t, rec).Kind)
}

func TestListReports(t *testing.T) {
	var got dailyclose.ListFilter
	svc := &stubCloseService{
		listFn: func(_ context.Context, filter dailyclose.ListFilter) ([]dailyclose.ReportSummary, error) {
			got = filter
			return []dailyclose.ReportSummary{
				{Date: dailyclose.BusinessDate{Year: 2025, Month: time.June, Day: 3}},
				{Date: dailyclose.BusinessDate{Year: 2025, Month: time.June, Day: 2}},
			}, nil
		},
	}
	router := newTestRouter(svc, nil)

	rec := doRequest(t, router, http.MethodGet, "/daily-close/reports?limit=2&from=2025-06-01&before=2025-06-04", "", viewer)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, got.Limit)
	assert.Equal(t, "2025-06-01", got.From.String())
	assert.Equal(t, "2025-06-04", got.Before.String())
	assert.True(t, got.To.IsZero())

	var resp reportListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Reports, 2)
	assert.Equal(t, "2025-06-02", resp.NextBefore)

	rec = doRequest(t, router, http.MethodGet, "/daily-close/reports?limit=abc", "", viewer)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = doRequest(t, router, http.MethodGet, "/daily-close/reports?to=yesterday", "", viewer)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
