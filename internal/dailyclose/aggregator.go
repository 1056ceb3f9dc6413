package dailyclose

import (
	"context"
	"slices"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// FolioSource exposes folio payments, charges, and balances owned by billing.
type FolioSource interface {
	ListPayments(ctx context.Context, clubID int64, window Window) ([]PaymentRecord, error)
	ListCharges(ctx context.Context, clubID int64, window Window) ([]ChargeRecord, error)
	ListOutstandingFolios(ctx context.Context, clubID int64) ([]Folio, error)
}

// BookingSource exposes tee-time bookings for a date.
type BookingSource interface {
	ListBookings(ctx context.Context, clubID int64, date BusinessDate) ([]Booking, error)
	// MarkNoShow transitions a confirmed, unchecked booking to no_show. It
	// returns false when the booking was no longer eligible.
	MarkNoShow(ctx context.Context, clubID, bookingID int64, at time.Time) (bool, error)
}

// DiningSource exposes settled dining orders.
type DiningSource interface {
	ListSettledOrders(ctx context.Context, clubID int64, window Window) ([]DiningOrder, error)
}

// Sources groups the upstream read models.
type Sources struct {
	Folios   FolioSource
	Bookings BookingSource
	Dining   DiningSource
}

func (s Sources) complete() bool {
	return s.Folios != nil && s.Bookings != nil && s.Dining != nil
}

// Aggregator builds a Summary from the upstream sources.
type Aggregator struct {
	clubID  int64
	loc     *time.Location
	timeout time.Duration
	sources Sources
	now     func() time.Time
}

// NewAggregator constructs an aggregator for one club.
func NewAggregator(cfg Config, sources Sources) *Aggregator {
	return &Aggregator{
		clubID:  cfg.ClubID,
		loc:     cfg.location(),
		timeout: cfg.DataTimeout,
		sources: sources,
		now:     time.Now,
	}
}

// Aggregate reads every source concurrently and folds the result into a
// Summary. Any source failure fails the whole aggregation.
func (a *Aggregator) Aggregate(ctx context.Context, date BusinessDate) (Summary, error) {
	if date.IsZero() {
		return Summary{}, ErrInvalidDate
	}
	window := date.Window(a.loc)

	var (
		payments []PaymentRecord
		charges  []ChargeRecord
		folios   []Folio
		bookings []Booking
		orders   []DiningOrder
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		payments, err = fetch(gctx, a.timeout, "list payments", func(ctx context.Context) ([]PaymentRecord, error) {
			return a.sources.Folios.ListPayments(ctx, a.clubID, window)
		})
		return err
	})
	g.Go(func() (err error) {
		charges, err = fetch(gctx, a.timeout, "list charges", func(ctx context.Context) ([]ChargeRecord, error) {
			return a.sources.Folios.ListCharges(ctx, a.clubID, window)
		})
		return err
	})
	g.Go(func() (err error) {
		folios, err = fetch(gctx, a.timeout, "list outstanding folios", func(ctx context.Context) ([]Folio, error) {
			return a.sources.Folios.ListOutstandingFolios(ctx, a.clubID)
		})
		return err
	})
	g.Go(func() (err error) {
		bookings, err = fetch(gctx, a.timeout, "list bookings", func(ctx context.Context) ([]Booking, error) {
			return a.sources.Bookings.ListBookings(ctx, a.clubID, date)
		})
		return err
	})
	g.Go(func() (err error) {
		orders, err = fetch(gctx, a.timeout, "list dining orders", func(ctx context.Context) ([]DiningOrder, error) {
			return a.sources.Dining.ListSettledOrders(ctx, a.clubID, window)
		})
		return err
	})
	if err := g.Wait(); err != nil {
		return Summary{}, err
	}

	return summarize(summaryInput{
		date:     date,
		window:   window,
		now:      a.now(),
		payments: payments,
		charges:  charges,
		folios:   folios,
		bookings: bookings,
		orders:   orders,
	}), nil
}

// fetch bounds a single upstream call by timeout and classifies its failure.
func fetch[T any](ctx context.Context, timeout time.Duration, op string, fn func(context.Context) (T, error)) (T, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	out, err := fn(ctx)
	if err != nil {
		var zero T
		return zero, unavailable(op, err)
	}
	return out, nil
}

type summaryInput struct {
	date     BusinessDate
	window   Window
	now      time.Time
	payments []PaymentRecord
	charges  []ChargeRecord
	folios   []Folio
	bookings []Booking
	orders   []DiningOrder
}

func summarize(in summaryInput) Summary {
	diningCharges, diningPayments := diningRecords(in.orders)
	payments := append(slices.Clone(in.payments), diningPayments...)
	charges := append(slices.Clone(in.charges), diningCharges...)

	summary := Summary{
		Date:               in.date,
		PaymentSummary:     make(map[string]decimal.Decimal),
		ChargeSummary:      make(map[string]decimal.Decimal),
		TotalCollected:     decimal.Zero,
		TotalCharged:       decimal.Zero,
		BookingStats:       BookingStats{Counts: make(map[BookingStatus]int)},
		OpenFolios:         FolioSnapshot{Balance: decimal.Zero},
		NoShowCandidates:   []int64{},
		UnsettledCompleted: []int64{},
		GeneratedAt:        in.now,
	}

	for _, p := range payments {
		if !in.window.Contains(p.At) {
			continue
		}
		method := normalizeTag(p.Method, TagUnspecified)
		summary.PaymentSummary[method] = summary.PaymentSummary[method].Add(p.Amount)
		summary.TotalCollected = summary.TotalCollected.Add(p.Amount)
		summary.TransactionCount++
	}
	for _, c := range charges {
		if !in.window.Contains(c.At) {
			continue
		}
		category := normalizeTag(c.Category, TagUnspecified)
		summary.ChargeSummary[category] = summary.ChargeSummary[category].Add(c.Amount)
		summary.TotalCharged = summary.TotalCharged.Add(c.Amount)
		summary.TransactionCount++
	}

	owed := make(map[int64]decimal.Decimal, len(in.folios))
	for _, f := range in.folios {
		if f.Balance.IsZero() {
			continue
		}
		summary.OpenFolios.Count++
		summary.OpenFolios.Balance = summary.OpenFolios.Balance.Add(f.Balance)
		owed[f.ID] = f.Balance
	}

	for _, b := range in.bookings {
		summary.BookingStats.Counts[b.Status]++
		summary.BookingStats.Total++
		if eligibleForNoShow(b, in.now) {
			summary.NoShowCandidates = append(summary.NoShowCandidates, b.ID)
		}
		if b.Status == BookingCompleted && b.FolioID != nil {
			if balance, ok := owed[*b.FolioID]; ok && balance.IsPositive() {
				summary.UnsettledCompleted = append(summary.UnsettledCompleted, b.ID)
			}
		}
	}
	slices.Sort(summary.NoShowCandidates)
	slices.Sort(summary.UnsettledCompleted)
	return summary
}

// diningRecords converts settled orders into charge and payment facts.
// Orders posted to a folio are already counted as folio charges, and orders
// settled to a folio are paid later through the folio.
func diningRecords(orders []DiningOrder) ([]ChargeRecord, []PaymentRecord) {
	charges := make([]ChargeRecord, 0, len(orders))
	payments := make([]PaymentRecord, 0, len(orders))
	for _, o := range orders {
		if o.FolioID == nil {
			charges = append(charges, ChargeRecord{
				ID:       o.ID,
				Source:   SourceDining,
				SourceID: o.ID,
				Category: normalizeTag(o.Category, CategoryDining),
				Amount:   o.Total,
				At:       o.SettledAt,
			})
		}
		method := normalizeTag(o.PaymentMethod, TagUnspecified)
		if o.FolioID != nil || method == MethodFolio {
			continue
		}
		payments = append(payments, PaymentRecord{
			ID:       o.ID,
			Source:   SourceDining,
			SourceID: o.ID,
			Method:   method,
			Amount:   o.Total,
			At:       o.SettledAt,
		})
	}
	return charges, payments
}

// eligibleForNoShow reports whether a booking should become a no-show at now.
func eligibleForNoShow(b Booking, now time.Time) bool {
	return b.Status == BookingConfirmed && b.CheckedInAt == nil && b.TeeTime.Before(now)
}

func noShowCandidates(bookings []Booking, now time.Time) []int64 {
	ids := make([]int64, 0, len(bookings))
	for _, b := range bookings {
		if eligibleForNoShow(b, now) {
			ids = append(ids, b.ID)
		}
	}
	slices.Sort(ids)
	return ids
}
