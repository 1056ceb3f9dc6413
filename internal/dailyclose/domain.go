package dailyclose

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fairway-pms/fairway/internal/shared"
)

// BusinessDate is a calendar day in the club's local time zone.
type BusinessDate struct {
	Year  int
	Month time.Month
	Day   int
}

const dateLayout = "2006-01-02"

// ParseBusinessDate parses a YYYY-MM-DD string.
func ParseBusinessDate(raw string) (BusinessDate, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(raw))
	if err != nil {
		return BusinessDate{}, fmt.Errorf("%w: %q", ErrInvalidDate, raw)
	}
	return DateOf(t), nil
}

// DateOf returns the calendar day of t in t's own location.
func DateOf(t time.Time) BusinessDate {
	y, m, d := t.Date()
	return BusinessDate{Year: y, Month: m, Day: d}
}

// IsZero reports whether the date is unset.
func (d BusinessDate) IsZero() bool {
	return d.Year == 0 && d.Month == 0 && d.Day == 0
}

func (d BusinessDate) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// Start returns local midnight of the date.
func (d BusinessDate) Start(loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, loc)
}

// Window returns the half-open local-time interval covering the date.
func (d BusinessDate) Window(loc *time.Location) Window {
	return Window{
		Start: d.Start(loc),
		End:   time.Date(d.Year, d.Month, d.Day+1, 0, 0, 0, 0, loc),
	}
}

// Before reports whether d is strictly earlier than other.
func (d BusinessDate) Before(other BusinessDate) bool {
	return d.Start(time.UTC).Before(other.Start(time.UTC))
}

// MarshalJSON encodes the date as "YYYY-MM-DD".
func (d BusinessDate) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.String())
}

// UnmarshalJSON decodes "YYYY-MM-DD".
func (d *BusinessDate) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*d = BusinessDate{}
		return nil
	}
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseBusinessDate(raw)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Window is a half-open [Start, End) time interval.
type Window struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// BookingStatus enumerates tee-time booking lifecycle stages.
type BookingStatus string

const (
	BookingPending   BookingStatus = "pending"
	BookingConfirmed BookingStatus = "confirmed"
	BookingCheckedIn BookingStatus = "checked_in"
	BookingPlaying   BookingStatus = "playing"
	BookingCompleted BookingStatus = "completed"
	BookingCancelled BookingStatus = "cancelled"
	BookingNoShow    BookingStatus = "no_show"
)

// FolioStatus enumerates folio states.
type FolioStatus string

const (
	FolioOpen   FolioStatus = "open"
	FolioClosed FolioStatus = "closed"
)

// Well-known tags. Any other method or category passes through untouched.
const (
	MethodCash     = "cash"
	MethodFolio    = "folio"
	CategoryDining = "dining"
	TagUnspecified = "unspecified"
	SourceFolio    = "folio"
	SourceDining   = "dining"
)

// PaymentRecord is an immutable payment fact.
type PaymentRecord struct {
	ID       int64
	Source   string
	SourceID int64
	Method   string
	Amount   decimal.Decimal
	At       time.Time
}

// ChargeRecord is an immutable charge fact.
type ChargeRecord struct {
	ID       int64
	Source   string
	SourceID int64
	Category string
	Amount   decimal.Decimal
	At       time.Time
}

// Folio is a guest's running account. Owned by billing; read-only here.
type Folio struct {
	ID       int64
	OwnerRef string
	Status   FolioStatus
	Balance  decimal.Decimal
	Charges  []ChargeRecord
	Payments []PaymentRecord
}

// LedgerBalance recomputes the balance from loaded charge and payment lines.
func (f Folio) LedgerBalance() decimal.Decimal {
	total := decimal.Zero
	for _, c := range f.Charges {
		total = total.Add(c.Amount)
	}
	for _, p := range f.Payments {
		total = total.Sub(p.Amount)
	}
	return total
}

// Booking is a reserved tee time.
type Booking struct {
	ID          int64
	TeeTime     time.Time
	Players     int
	Status      BookingStatus
	FolioID     *int64
	CheckedInAt *time.Time
	NoShowAt    *time.Time
}

// DiningOrder is a settled point-of-sale order.
type DiningOrder struct {
	ID            int64
	Category      string
	PaymentMethod string
	Total         decimal.Decimal
	SettledAt     time.Time
	FolioID       *int64
}

// FolioSnapshot summarises folios still carrying a balance.
type FolioSnapshot struct {
	Count   int             `json:"count"`
	Balance decimal.Decimal `json:"balance"`
}

// BookingStats counts bookings per status.
type BookingStats struct {
	Counts map[BookingStatus]int `json:"counts"`
	Total  int                   `json:"total"`
}

// Summary is the aggregated financial and operational picture of a date.
type Summary struct {
	Date BusinessDate `json:"date"`
	// PaymentSummary totals payments per method tag. Tags are trimmed and
	// lower-cased before grouping, so "WeChat" and " wechat" share one
	// entry, and a blank tag is reported as "unspecified".
	PaymentSummary map[string]decimal.Decimal `json:"payment_summary"`
	// ChargeSummary totals charges per category tag, normalised the same
	// way as PaymentSummary.
	ChargeSummary      map[string]decimal.Decimal `json:"charge_summary"`
	TotalCollected     decimal.Decimal            `json:"total_collected"`
	TotalCharged       decimal.Decimal            `json:"total_charged"`
	BookingStats       BookingStats               `json:"booking_stats"`
	TransactionCount   int                        `json:"transaction_count"`
	OpenFolios         FolioSnapshot              `json:"open_folios"`
	NoShowCandidates   []int64                    `json:"no_show_candidates"`
	UnsettledCompleted []int64                    `json:"unsettled_completed"`
	GeneratedAt        time.Time                  `json:"generated_at"`
}

// ClosingReport is the immutable record of a closed business date.
type ClosingReport struct {
	ID     int64        `json:"id"`
	ClubID int64        `json:"club_id"`
	Date   BusinessDate `json:"date"`
	// PaymentSummary and ChargeSummary are copied from the Summary, with
	// the same lower-cased, trimmed tags.
	PaymentSummary     map[string]decimal.Decimal `json:"payment_summary"`
	ChargeSummary      map[string]decimal.Decimal `json:"charge_summary"`
	TotalCollected     decimal.Decimal            `json:"total_collected"`
	TotalCharged       decimal.Decimal            `json:"total_charged"`
	BookingStats       map[BookingStatus]int      `json:"booking_stats"`
	TransactionCount   int                        `json:"transaction_count"`
	DeclaredCash       *decimal.Decimal           `json:"declared_cash"`
	CashVariance       *decimal.Decimal           `json:"cash_variance"`
	OpenFolios         FolioSnapshot              `json:"open_folios"`
	UnsettledCompleted int                        `json:"unsettled_completed"`
	OperatorID         int64                      `json:"operator_id"`
	OperatorName       string                     `json:"operator_name"`
	Notes              string                     `json:"notes"`
	ClosedAt           time.Time                  `json:"closed_at"`
}

// ReportSummary is the listing projection of a closing report.
type ReportSummary struct {
	Date           BusinessDate     `json:"date"`
	TotalCollected decimal.Decimal  `json:"total_collected"`
	TotalCharged   decimal.Decimal  `json:"total_charged"`
	CashVariance   *decimal.Decimal `json:"cash_variance"`
	OperatorName   string           `json:"operator_name"`
	ClosedAt       time.Time        `json:"closed_at"`
}

const (
	defaultListLimit = 30
	maxListLimit     = 100
)

// ListFilter narrows report listings. Zero dates are ignored.
type ListFilter struct {
	From   BusinessDate
	To     BusinessDate
	Before BusinessDate
	Limit  int
}

// Normalize clamps the limit and validates the range.
func (f ListFilter) Normalize() (ListFilter, error) {
	if f.Limit <= 0 {
		f.Limit = defaultListLimit
	}
	if f.Limit > maxListLimit {
		f.Limit = maxListLimit
	}
	if !f.From.IsZero() && !f.To.IsZero() && f.To.Before(f.From) {
		return ListFilter{}, fmt.Errorf("%w: to date before from date", ErrInvalidInput)
	}
	return f, nil
}

// ExecuteInput bundles parameters for closing a business date.
type ExecuteInput struct {
	Date         BusinessDate
	DeclaredCash *decimal.Decimal
	Notes        string
	Operator     shared.Operator
}

const maxNotesLength = 2000

// Validate ensures the execute input is coherent.
func (in ExecuteInput) Validate() error {
	if in.Date.IsZero() {
		return ErrInvalidDate
	}
	if !in.Operator.Valid() {
		return ErrOperatorRequired
	}
	if in.DeclaredCash != nil && in.DeclaredCash.IsNegative() {
		return fmt.Errorf("%w: declared cash cannot be negative", ErrInvalidInput)
	}
	if len([]rune(in.Notes)) > maxNotesLength {
		return fmt.Errorf("%w: notes exceed %d characters", ErrInvalidInput, maxNotesLength)
	}
	return nil
}

// NoShowResult tallies a bulk no-show resolution. FailedIDs is a partial
// failure, not an operation error.
type NoShowResult struct {
	Date        BusinessDate `json:"date"`
	MarkedCount int          `json:"marked_count"`
	BookingIDs  []int64      `json:"booking_ids"`
	FailedIDs   []int64      `json:"failed_ids"`
	ResolvedAt  time.Time    `json:"resolved_at"`
}

// DayStatus captures the close state of a business date.
type DayStatus string

const (
	DayOpen   DayStatus = "OPEN"
	DayClosed DayStatus = "CLOSED"
)

// DayView is the read-only projection of a date: live summary while open,
// stored report once closed.
type DayView struct {
	Date    BusinessDate   `json:"date"`
	Status  DayStatus      `json:"status"`
	Summary *Summary       `json:"summary,omitempty"`
	Report  *ClosingReport `json:"report,omitempty"`
}

// normalizeTag folds case and surrounding space so tags typed differently
// at different terminals group together.
func normalizeTag(tag, fallback string) string {
	tag = strings.ToLower(strings.TrimSpace(tag))
	if tag == "" {
		return fallback
	}
	return tag
}
