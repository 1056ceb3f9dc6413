package dailyclose

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/fairway-pms/fairway/internal/platform/db"
	"github.com/fairway-pms/fairway/internal/shared"
)

// Audit actions written by the daily close module.
const (
	AuditActionExecute = "dailyclose.execute"
	AuditActionNoShow  = "dailyclose.noshow"
	AuditEntity        = "daily_close"
)

// ReportStore persists closing reports. Reports are insert-only.
type ReportStore interface {
	FindReport(ctx context.Context, clubID int64, date BusinessDate) (ClosingReport, error)
	ListReports(ctx context.Context, clubID int64, filter ListFilter) ([]ReportSummary, error)
	// InsertReport returns ErrAlreadyClosed when the date already has a report.
	InsertReport(ctx context.Context, report ClosingReport) (ClosingReport, error)
}

// Repository reads upstream tables and persists closing reports in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
	loc  *time.Location
}

// NewRepository constructs a Repository. Tee times are resolved in loc.
func NewRepository(pool *pgxpool.Pool, loc *time.Location) *Repository {
	if loc == nil {
		loc = time.UTC
	}
	return &Repository{pool: pool, loc: loc}
}

// WithTx executes fn inside a read-committed transaction. A competing
// insert of the same report row then waits and yields no row instead of a
// serialization failure.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, pgx.Tx) error) error {
	if r == nil || r.pool == nil {
		return errors.New("dailyclose: repository not initialised")
	}
	return db.WithTx(ctx, r.pool, db.ReadCommitted, func(tx pgx.Tx) error {
		return fn(ctx, tx)
	})
}

// ListPayments returns folio payments received inside window.
func (r *Repository) ListPayments(ctx context.Context, clubID int64, window Window) ([]PaymentRecord, error) {
	rows, err := r.pool.Query(ctx, `SELECT p.id, p.folio_id, p.method, p.amount::text, p.paid_at
FROM folio_payments p
JOIN folios f ON f.id = p.folio_id
WHERE f.club_id = $1 AND p.paid_at >= $2 AND p.paid_at < $3
ORDER BY p.id`, clubID, window.Start, window.End)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []PaymentRecord
	for rows.Next() {
		p := PaymentRecord{Source: SourceFolio}
		if err := rows.Scan(&p.ID, &p.SourceID, &p.Method, &p.Amount, &p.At); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ListCharges returns folio charges posted inside window.
func (r *Repository) ListCharges(ctx context.Context, clubID int64, window Window) ([]ChargeRecord, error) {
	rows, err := r.pool.Query(ctx, `SELECT c.id, c.folio_id, c.category, c.amount::text, c.posted_at
FROM folio_charges c
JOIN folios f ON f.id = c.folio_id
WHERE f.club_id = $1 AND c.posted_at >= $2 AND c.posted_at < $3
ORDER BY c.id`, clubID, window.Start, window.End)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ChargeRecord
	for rows.Next() {
		c := ChargeRecord{Source: SourceFolio}
		if err := rows.Scan(&c.ID, &c.SourceID, &c.Category, &c.Amount, &c.At); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ListOutstandingFolios returns every folio of the club whose balance is non-zero.
func (r *Repository) ListOutstandingFolios(ctx context.Context, clubID int64) ([]Folio, error) {
	rows, err := r.pool.Query(ctx, `SELECT f.id, f.owner_ref, f.status,
	(COALESCE(c.total, 0) - COALESCE(p.total, 0))::text AS balance
FROM folios f
LEFT JOIN (SELECT folio_id, SUM(amount) AS total FROM folio_charges GROUP BY folio_id) c ON c.folio_id = f.id
LEFT JOIN (SELECT folio_id, SUM(amount) AS total FROM folio_payments GROUP BY folio_id) p ON p.folio_id = f.id
WHERE f.club_id = $1 AND COALESCE(c.total, 0) - COALESCE(p.total, 0) <> 0
ORDER BY f.id`, clubID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Folio
	for rows.Next() {
		var (
			f      Folio
			status string
		)
		if err := rows.Scan(&f.ID, &f.OwnerRef, &status, &f.Balance); err != nil {
			return nil, err
		}
		f.Status = FolioStatus(status)
		out = append(out, f)
	}
	return out, rows.Err()
}

// ListBookings returns the bookings whose tee time falls on date.
func (r *Repository) ListBookings(ctx context.Context, clubID int64, date BusinessDate) ([]Booking, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, (tee_date + tee_time) AT TIME ZONE $3, players, status,
	folio_id, checked_in_at, no_show_at
FROM bookings
WHERE club_id = $1 AND tee_date = $2::date
ORDER BY tee_time, id`, clubID, date.String(), r.loc.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Booking
	for rows.Next() {
		var (
			b      Booking
			status string
		)
		if err := rows.Scan(&b.ID, &b.TeeTime, &b.Players, &status, &b.FolioID, &b.CheckedInAt, &b.NoShowAt); err != nil {
			return nil, err
		}
		b.Status = BookingStatus(status)
		out = append(out, b)
	}
	return out, rows.Err()
}

// MarkNoShow conditionally flips a confirmed, unchecked booking to no_show.
func (r *Repository) MarkNoShow(ctx context.Context, clubID, bookingID int64, at time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE bookings
SET status = 'no_show', no_show_at = $3, updated_at = $3
WHERE club_id = $1 AND id = $2 AND status = 'confirmed' AND checked_in_at IS NULL`, clubID, bookingID, at)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ListSettledOrders returns dining orders settled inside window.
func (r *Repository) ListSettledOrders(ctx context.Context, clubID int64, window Window) ([]DiningOrder, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, category, payment_method, total::text, settled_at, folio_id
FROM dining_orders
WHERE club_id = $1 AND status = 'settled' AND settled_at >= $2 AND settled_at < $3
ORDER BY id`, clubID, window.Start, window.End)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []DiningOrder
	for rows.Next() {
		var o DiningOrder
		if err := rows.Scan(&o.ID, &o.Category, &o.PaymentMethod, &o.Total, &o.SettledAt, &o.FolioID); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

const reportColumns = `id, club_id, business_date::text, payment_summary, charge_summary, booking_stats,
	total_collected::text, total_charged::text, transaction_count, declared_cash::text, cash_variance::text,
	open_folio_count, open_folio_balance::text, unsettled_completed, operator_id, operator_name, notes, closed_at`

// FindReport loads the report for date.
func (r *Repository) FindReport(ctx context.Context, clubID int64, date BusinessDate) (ClosingReport, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+reportColumns+`
FROM daily_closings WHERE club_id = $1 AND business_date = $2::date`, clubID, date.String())
	report, err := scanReport(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return ClosingReport{}, ErrReportNotFound
	}
	return report, err
}

// ListReports returns report summaries newest first.
func (r *Repository) ListReports(ctx context.Context, clubID int64, filter ListFilter) ([]ReportSummary, error) {
	rows, err := r.pool.Query(ctx, `SELECT business_date::text, total_collected::text, total_charged::text,
	cash_variance::text, operator_name, closed_at
FROM daily_closings
WHERE club_id = $1
	AND ($2::date IS NULL OR business_date >= $2::date)
	AND ($3::date IS NULL OR business_date <= $3::date)
	AND ($4::date IS NULL OR business_date < $4::date)
ORDER BY business_date DESC
LIMIT $5`, clubID, dateArg(filter.From), dateArg(filter.To), dateArg(filter.Before), filter.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]ReportSummary, 0, filter.Limit)
	for rows.Next() {
		var (
			s        ReportSummary
			date     string
			variance *string
		)
		if err := rows.Scan(&date, &s.TotalCollected, &s.TotalCharged, &variance, &s.OperatorName, &s.ClosedAt); err != nil {
			return nil, err
		}
		if s.Date, err = ParseBusinessDate(date); err != nil {
			return nil, err
		}
		if s.CashVariance, err = parseOptionalDecimal(variance); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// InsertReport stores the report and its audit entry atomically. A
// concurrent insert for the same date loses with ErrAlreadyClosed.
func (r *Repository) InsertReport(ctx context.Context, report ClosingReport) (ClosingReport, error) {
	payments, err := json.Marshal(report.PaymentSummary)
	if err != nil {
		return ClosingReport{}, err
	}
	charges, err := json.Marshal(report.ChargeSummary)
	if err != nil {
		return ClosingReport{}, err
	}
	stats, err := json.Marshal(report.BookingStats)
	if err != nil {
		return ClosingReport{}, err
	}

	err = r.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `INSERT INTO daily_closings (
	club_id, business_date, payment_summary, charge_summary, booking_stats,
	total_collected, total_charged, transaction_count, declared_cash, cash_variance,
	open_folio_count, open_folio_balance, unsettled_completed, operator_id, operator_name, notes, closed_at)
VALUES ($1, $2::date, $3, $4, $5, $6::numeric, $7::numeric, $8, $9::numeric, $10::numeric,
	$11, $12::numeric, $13, $14, $15, $16, $17)
ON CONFLICT (club_id, business_date) DO NOTHING
RETURNING id`,
			report.ClubID, report.Date.String(), payments, charges, stats,
			report.TotalCollected.String(), report.TotalCharged.String(), report.TransactionCount,
			decimalArg(report.DeclaredCash), decimalArg(report.CashVariance),
			report.OpenFolios.Count, report.OpenFolios.Balance.String(), report.UnsettledCompleted,
			report.OperatorID, report.OperatorName, report.Notes, report.ClosedAt)
		if err := row.Scan(&report.ID); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrAlreadyClosed
			}
			return err
		}
		return shared.NewAuditLogger(tx).Record(ctx, shared.AuditLog{
			ActorID:  report.OperatorID,
			Action:   AuditActionExecute,
			Entity:   AuditEntity,
			EntityID: auditEntityID(report.ClubID, report.Date),
			Meta: map[string]any{
				"report_id":       report.ID,
				"total_collected": report.TotalCollected.String(),
				"total_charged":   report.TotalCharged.String(),
				"cash_variance":   decimalArg(report.CashVariance),
			},
			At: report.ClosedAt,
		})
	})
	if err != nil {
		if closeConflict(err) {
			return ClosingReport{}, ErrAlreadyClosed
		}
		return ClosingReport{}, err
	}
	return report, nil
}

func scanReport(row pgx.Row) (ClosingReport, error) {
	var (
		report                   ClosingReport
		date                     string
		payments, charges, stats []byte
		declared, variance       *string
	)
	if err := row.Scan(&report.ID, &report.ClubID, &date, &payments, &charges, &stats,
		&report.TotalCollected, &report.TotalCharged, &report.TransactionCount, &declared, &variance,
		&report.OpenFolios.Count, &report.OpenFolios.Balance, &report.UnsettledCompleted,
		&report.OperatorID, &report.OperatorName, &report.Notes, &report.ClosedAt); err != nil {
		return ClosingReport{}, err
	}
	var err error
	if report.Date, err = ParseBusinessDate(date); err != nil {
		return ClosingReport{}, err
	}
	if err := json.Unmarshal(payments, &report.PaymentSummary); err != nil {
		return ClosingReport{}, fmt.Errorf("dailyclose: decode payment summary: %w", err)
	}
	if err := json.Unmarshal(charges, &report.ChargeSummary); err != nil {
		return ClosingReport{}, fmt.Errorf("dailyclose: decode charge summary: %w", err)
	}
	if err := json.Unmarshal(stats, &report.BookingStats); err != nil {
		return ClosingReport{}, fmt.Errorf("dailyclose: decode booking stats: %w", err)
	}
	if report.DeclaredCash, err = parseOptionalDecimal(declared); err != nil {
		return ClosingReport{}, err
	}
	if report.CashVariance, err = parseOptionalDecimal(variance); err != nil {
		return ClosingReport{}, err
	}
	return report, nil
}

func parseOptionalDecimal(raw *string) (*decimal.Decimal, error) {
	if raw == nil {
		return nil, nil
	}
	d, err := decimal.NewFromString(*raw)
	if err != nil {
		return nil, fmt.Errorf("dailyclose: parse decimal %q: %w", *raw, err)
	}
	return &d, nil
}

func decimalArg(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}

func dateArg(d BusinessDate) *string {
	if d.IsZero() {
		return nil
	}
	s := d.String()
	return &s
}

func auditEntityID(clubID int64, date BusinessDate) string {
	return fmt.Sprintf("%d:%s", clubID, date)
}
