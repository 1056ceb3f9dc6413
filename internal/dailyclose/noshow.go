package dailyclose

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Resolver marks overdue confirmed bookings as no-shows.
type Resolver struct {
	clubID      int64
	bookings    BookingSource
	timeout     time.Duration
	concurrency int
	logger      *slog.Logger
	now         func() time.Time
}

// NewResolver constructs a resolver for one club.
func NewResolver(cfg Config, bookings BookingSource, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	concurrency := cfg.NoShowConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Resolver{
		clubID:      cfg.ClubID,
		bookings:    bookings,
		timeout:     cfg.DataTimeout,
		concurrency: concurrency,
		logger:      logger,
		now:         time.Now,
	}
}

// Resolve updates every eligible booking of date. Individual update
// failures are collected in FailedIDs; bookings that changed state in the
// meantime are skipped silently. Resolve is safe to repeat.
func (r *Resolver) Resolve(ctx context.Context, date BusinessDate) (NoShowResult, error) {
	if date.IsZero() {
		return NoShowResult{}, ErrInvalidDate
	}
	now := r.now()
	bookings, err := fetch(ctx, r.timeout, "list bookings", func(ctx context.Context) ([]Booking, error) {
		return r.bookings.ListBookings(ctx, r.clubID, date)
	})
	if err != nil {
		return NoShowResult{}, err
	}

	result := NoShowResult{
		Date:       date,
		BookingIDs: []int64{},
		FailedIDs:  []int64{},
		ResolvedAt: now,
	}
	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(r.concurrency)
	for _, id := range noShowCandidates(bookings, now) {
		g.Go(func() error {
			marked, err := fetch(ctx, r.timeout, "mark no-show", func(ctx context.Context) (bool, error) {
				return r.bookings.MarkNoShow(ctx, r.clubID, id, now)
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				r.logger.WarnContext(ctx, "no-show update failed",
					slog.Int64("booking_id", id),
					slog.String("date", date.String()),
					slog.Any("error", err))
				result.FailedIDs = append(result.FailedIDs, id)
			case marked:
				result.BookingIDs = append(result.BookingIDs, id)
			}
			return nil
		})
	}
	_ = g.Wait()

	slices.Sort(result.BookingIDs)
	slices.Sort(result.FailedIDs)
	result.MarkedCount = len(result.BookingIDs)
	return result, nil
}
