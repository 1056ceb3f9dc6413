package dailyclose

import (
	"context"
	"errors"
	"net"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/fairway-pms/fairway/internal/shared"
)

var shanghai = mustLoad("Asia/Shanghai")

func mustLoad(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

// dialFailure is what the drivers return when the server is unreachable.
func dialFailure() error {
	return &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func int64Ptr(v int64) *int64 { return &v }

// fakeSources serves fixed upstream data and records booking mutations.
type fakeSources struct {
	mu       sync.Mutex
	payments []PaymentRecord
	charges  []ChargeRecord
	folios   []Folio
	bookings []Booking
	orders   []DiningOrder

	listErr    error
	bookingErr error
	markErr    map[int64]error
	block      bool
	aggregates atomic.Int32
}

func (f *fakeSources) wait(ctx context.Context) error {
	if f.block {
		<-ctx.Done()
		return ctx.Err()
	}
	return f.listErr
}

func (f *fakeSources) ListPayments(ctx context.Context, _ int64, _ Window) ([]PaymentRecord, error) {
	f.aggregates.Add(1)
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	return slices.Clone(f.payments), nil
}

func (f *fakeSources) ListCharges(ctx context.Context, _ int64, _ Window) ([]ChargeRecord, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	return slices.Clone(f.charges), nil
}

func (f *fakeSources) ListOutstandingFolios(ctx context.Context, _ int64) ([]Folio, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	return slices.Clone(f.folios), nil
}

func (f *fakeSources) ListSettledOrders(ctx context.Context, _ int64, _ Window) ([]DiningOrder, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	return slices.Clone(f.orders), nil
}

func (f *fakeSources) ListBookings(ctx context.Context, _ int64, _ BusinessDate) ([]Booking, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	if f.bookingErr != nil {
		return nil, f.bookingErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.bookings), nil
}

func (f *fakeSources) MarkNoShow(_ context.Context, _ int64, bookingID int64, at time.Time) (bool, error) {
	if err := f.markErr[bookingID]; err != nil {
		return false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.bookings {
		b := &f.bookings[i]
		if b.ID != bookingID {
			continue
		}
		if b.Status != BookingConfirmed || b.CheckedInAt != nil {
			return false, nil
		}
		b.Status = BookingNoShow
		b.NoShowAt = &at
		return true, nil
	}
	return false, nil
}

func (f *fakeSources) status(id int64) BookingStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, b := range f.bookings {
		if b.ID == id {
			return b.Status
		}
	}
	return ""
}

func (f *fakeSources) sources() Sources {
	return Sources{Folios: f, Bookings: f, Dining: f}
}

// memStore keeps reports in memory with the same uniqueness rule as the
// daily_closings table.
type memStore struct {
	mu          sync.Mutex
	reports     map[BusinessDate]ClosingReport
	nextID      int64
	findErr     error
	insertErr   error
	insertDelay time.Duration
	inserts     atomic.Int32
}

func newMemStore() *memStore {
	return &memStore{reports: make(map[BusinessDate]ClosingReport)}
}

func (m *memStore) FindReport(_ context.Context, _ int64, date BusinessDate) (ClosingReport, error) {
	if m.findErr != nil {
		return ClosingReport{}, m.findErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	report, ok := m.reports[date]
	if !ok {
		return ClosingReport{}, ErrReportNotFound
	}
	return report, nil
}

func (m *memStore) ListReports(_ context.Context, _ int64, filter ListFilter) ([]ReportSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ReportSummary, 0, len(m.reports))
	for date, r := range m.reports {
		if !filter.From.IsZero() && date.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && filter.To.Before(date) {
			continue
		}
		if !filter.Before.IsZero() && !date.Before(filter.Before) {
			continue
		}
		out = append(out, ReportSummary{
			Date:           date,
			TotalCollected: r.TotalCollected,
			TotalCharged:   r.TotalCharged,
			CashVariance:   r.CashVariance,
			OperatorName:   r.OperatorName,
			ClosedAt:       r.ClosedAt,
		})
	}
	slices.SortFunc(out, func(a, b ReportSummary) int {
		switch {
		case b.Date.Before(a.Date):
			return -1
		case a.Date.Before(b.Date):
			return 1
		}
		return 0
	})
	if len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *memStore) InsertReport(ctx context.Context, report ClosingReport) (ClosingReport, error) {
	m.inserts.Add(1)
	if m.insertDelay > 0 {
		select {
		case <-time.After(m.insertDelay):
		case <-ctx.Done():
			return ClosingReport{}, ctx.Err()
		}
	}
	if m.insertErr != nil {
		return ClosingReport{}, m.insertErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.reports[report.Date]; ok {
		return ClosingReport{}, ErrAlreadyClosed
	}
	m.nextID++
	report.ID = m.nextID
	m.reports[report.Date] = report
	return report, nil
}

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.reports)
}

type recordingAudit struct {
	mu      sync.Mutex
	entries []string
}

func (r *recordingAudit) Record(_ context.Context, log shared.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, log.Action+" "+log.EntityID)
	return nil
}

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}
