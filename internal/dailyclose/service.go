package dailyclose

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/fairway-pms/fairway/internal/shared"
)

// Config tunes a Service for one club.
type Config struct {
	ClubID            int64
	Location          *time.Location
	DataTimeout       time.Duration
	ClaimTTL          time.Duration
	NoShowConcurrency int
}

func (c Config) location() *time.Location {
	if c.Location == nil {
		return time.UTC
	}
	return c.Location
}

// AuditRecorder persists audit entries for operator actions.
type AuditRecorder interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Deps groups the collaborators of a Service.
type Deps struct {
	Sources Sources
	Store   ReportStore
	Claims  Claimer
	Audit   AuditRecorder
	Metrics *Metrics
	Logger  *slog.Logger
}

// Service orchestrates previews, no-show resolution and closing of business dates.
type Service struct {
	cfg        Config
	aggregator *Aggregator
	resolver   *Resolver
	store      ReportStore
	claims     Claimer
	audit      AuditRecorder
	metrics    *Metrics
	logger     *slog.Logger
	now        func() time.Time
	previews   singleflight.Group
}

// NewService constructs a Service instance.
func NewService(cfg Config, deps Deps) (*Service, error) {
	if cfg.ClubID <= 0 {
		return nil, errors.New("dailyclose: club id required")
	}
	if !deps.Sources.complete() || deps.Store == nil || deps.Claims == nil {
		return nil, errors.New("dailyclose: sources, store and claimer are required")
	}
	if cfg.ClaimTTL <= 0 {
		return nil, errors.New("dailyclose: claim ttl must be positive")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("module", "dailyclose"))
	return &Service{
		cfg:        cfg,
		aggregator: NewAggregator(cfg, deps.Sources),
		resolver:   NewResolver(cfg, deps.Sources.Bookings, logger),
		store:      deps.Store,
		claims:     deps.Claims,
		audit:      deps.Audit,
		metrics:    deps.Metrics,
		logger:     logger,
		now:        time.Now,
	}, nil
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
		s.aggregator.now = now
		s.resolver.now = now
	}
}

// Today returns the current business date in the club time zone.
func (s *Service) Today() BusinessDate {
	return DateOf(s.now().In(s.cfg.location()))
}

// GetPreview builds the live summary of date. Concurrent previews of the
// same date share one aggregation; callers must treat the result as read-only.
func (s *Service) GetPreview(ctx context.Context, date BusinessDate) (Summary, error) {
	if date.IsZero() {
		return Summary{}, ErrInvalidDate
	}
	ch := s.previews.DoChan(date.String(), func() (any, error) {
		return s.aggregator.Aggregate(context.WithoutCancel(ctx), date)
	})
	select {
	case <-ctx.Done():
		return Summary{}, unavailable("preview", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return Summary{}, res.Err
		}
		return res.Val.(Summary), nil
	}
}

// View reports whether date is closed and returns the stored report or the
// live summary accordingly.
func (s *Service) View(ctx context.Context, date BusinessDate) (DayView, error) {
	if date.IsZero() {
		return DayView{}, ErrInvalidDate
	}
	report, err := s.GetReport(ctx, date)
	switch {
	case err == nil:
		return DayView{Date: date, Status: DayClosed, Report: &report}, nil
	case !errors.Is(err, ErrReportNotFound):
		return DayView{}, err
	}
	summary, err := s.GetPreview(ctx, date)
	if err != nil {
		return DayView{}, err
	}
	return DayView{Date: date, Status: DayOpen, Summary: &summary}, nil
}

// AutoNoShow marks overdue confirmed bookings of date as no-shows. Closed
// dates are rejected since their report is already final.
func (s *Service) AutoNoShow(ctx context.Context, date BusinessDate, operator shared.Operator) (NoShowResult, error) {
	if date.IsZero() {
		return NoShowResult{}, ErrInvalidDate
	}
	if err := s.ensureOpen(ctx, date); err != nil {
		return NoShowResult{}, err
	}
	result, err := s.resolver.Resolve(ctx, date)
	if err != nil {
		return NoShowResult{}, err
	}
	s.metrics.addNoShows(result.MarkedCount)
	s.logger.InfoContext(ctx, "no-shows resolved",
		slog.String("date", date.String()),
		slog.Int("marked", result.MarkedCount),
		slog.Int("failed", len(result.FailedIDs)))

	if result.MarkedCount > 0 && operator.Valid() {
		s.recordAudit(ctx, shared.AuditLog{
			ActorID:  operator.ID,
			Action:   AuditActionNoShow,
			Entity:   AuditEntity,
			EntityID: auditEntityID(s.cfg.ClubID, date),
			Meta: map[string]any{
				"booking_ids": result.BookingIDs,
				"failed_ids":  result.FailedIDs,
			},
			At: result.ResolvedAt,
		})
	}
	return result, nil
}

// Execute closes date exactly once. Concurrent calls for the same date
// yield one report; the rest fail with a conflict.
func (s *Service) Execute(ctx context.Context, in ExecuteInput) (report ClosingReport, err error) {
	defer func() { s.metrics.observeClose(err) }()
	if err := in.Validate(); err != nil {
		return ClosingReport{}, err
	}
	if err := s.ensureOpen(ctx, in.Date); err != nil {
		return ClosingReport{}, err
	}

	key := shared.DailyCloseLockKey(s.cfg.ClubID, in.Date.String())
	release, err := fetch(ctx, s.cfg.DataTimeout, "acquire claim", func(ctx context.Context) (ReleaseFunc, error) {
		return s.claims.Acquire(ctx, key, s.cfg.ClaimTTL)
	})
	if err != nil {
		return ClosingReport{}, err
	}
	defer func() {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.releaseTimeout())
		defer cancel()
		if rerr := release(rctx); rerr != nil {
			s.logger.WarnContext(ctx, "release close claim", slog.String("key", key), slog.Any("error", rerr))
		}
	}()

	// Work under the claim must finish before the claim can expire.
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ClaimTTL)
	defer cancel()

	if err := s.ensureOpen(ctx, in.Date); err != nil {
		return ClosingReport{}, err
	}
	summary, err := s.aggregator.Aggregate(ctx, in.Date)
	if err != nil {
		return ClosingReport{}, fmt.Errorf("dailyclose: aggregate %s: %w", in.Date, err)
	}
	draft := buildReport(s.cfg.ClubID, summary, in, s.now())
	saved, err := fetch(ctx, s.cfg.DataTimeout, "insert report", func(ctx context.Context) (ClosingReport, error) {
		return s.store.InsertReport(ctx, draft)
	})
	if closeConflict(err) {
		return ClosingReport{}, ErrAlreadyClosed
	}
	if err != nil {
		return ClosingReport{}, err
	}
	s.logger.InfoContext(ctx, "business date closed",
		slog.String("date", saved.Date.String()),
		slog.Int64("operator_id", saved.OperatorID),
		slog.String("total_collected", saved.TotalCollected.String()),
		slog.String("total_charged", saved.TotalCharged.String()))
	return saved, nil
}

// GetReport returns the stored report of date or ErrReportNotFound.
func (s *Service) GetReport(ctx context.Context, date BusinessDate) (ClosingReport, error) {
	if date.IsZero() {
		return ClosingReport{}, ErrInvalidDate
	}
	return fetch(ctx, s.cfg.DataTimeout, "find report", func(ctx context.Context) (ClosingReport, error) {
		return s.store.FindReport(ctx, s.cfg.ClubID, date)
	})
}

// ListReports returns report summaries newest first.
func (s *Service) ListReports(ctx context.Context, filter ListFilter) ([]ReportSummary, error) {
	filter, err := filter.Normalize()
	if err != nil {
		return nil, err
	}
	return fetch(ctx, s.cfg.DataTimeout, "list reports", func(ctx context.Context) ([]ReportSummary, error) {
		return s.store.ListReports(ctx, s.cfg.ClubID, filter)
	})
}

func (s *Service) ensureOpen(ctx context.Context, date BusinessDate) error {
	_, err := s.GetReport(ctx, date)
	switch {
	case err == nil:
		return ErrAlreadyClosed
	case errors.Is(err, ErrReportNotFound):
		return nil
	default:
		return err
	}
}

func (s *Service) recordAudit(ctx context.Context, entry shared.AuditLog) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, entry); err != nil {
		s.logger.WarnContext(ctx, "audit record failed", slog.String("action", entry.Action), slog.Any("error", err))
	}
}

func (s *Service) releaseTimeout() time.Duration {
	if s.cfg.DataTimeout > 0 {
		return s.cfg.DataTimeout
	}
	return 5 * time.Second
}

// buildReport freezes summary into a closing report. The variance is
// declared minus recorded cash and is absent when no cash was declared.
func buildReport(clubID int64, summary Summary, in ExecuteInput, closedAt time.Time) ClosingReport {
	report := ClosingReport{
		ClubID:             clubID,
		Date:               in.Date,
		PaymentSummary:     summary.PaymentSummary,
		ChargeSummary:      summary.ChargeSummary,
		TotalCollected:     summary.TotalCollected,
		TotalCharged:       summary.TotalCharged,
		BookingStats:       summary.BookingStats.Counts,
		TransactionCount:   summary.TransactionCount,
		OpenFolios:         summary.OpenFolios,
		UnsettledCompleted: len(summary.UnsettledCompleted),
		OperatorID:         in.Operator.ID,
		OperatorName:       in.Operator.Name,
		Notes:              in.Notes,
		ClosedAt:           closedAt,
	}
	if in.DeclaredCash != nil {
		declared := *in.DeclaredCash
		variance := declared.Sub(summary.PaymentSummary[MethodCash])
		report.DeclaredCash = &declared
		report.CashVariance = &variance
	}
	return report
}
