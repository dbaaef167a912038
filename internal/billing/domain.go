// Package billing turns meter readings into invoices and owns the invoice balance rules.
package billing

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/gridbill/gridbill/internal/shared"
)

// Status is the lifecycle state of an invoice.
type Status string

const (
	StatusIssued    Status = "issued"
	StatusPartial   Status = "partial"
	StatusPaid      Status = "paid"
	StatusOverdue   Status = "overdue"
	StatusCancelled Status = "cancelled"
)

var (
	ErrInvoiceNotFound   = fmt.Errorf("%w: invoice", shared.ErrNotFound)
	ErrCustomerNotFound  = fmt.Errorf("%w: customer", shared.ErrNotFound)
	ErrInvalidReading    = fmt.Errorf("%w: invalid reading", shared.ErrValidation)
	ErrDuplicateInvoice  = fmt.Errorf("%w: invoice already generated for this meter and period", shared.ErrStateConflict)
	ErrReadingInvoiced   = fmt.Errorf("%w: reading already invoiced", ErrDuplicateInvoice)
	ErrInvoiceCancelled  = fmt.Errorf("%w: invoice is cancelled", shared.ErrStateConflict)
	ErrInvoiceHasPayment = fmt.Errorf("%w: invoice has confirmed payments", shared.ErrStateConflict)
	ErrCustomerInactive  = fmt.Errorf("%w: customer is not active", shared.ErrStateConflict)

	// ErrPaymentExceedsBalance is returned when a payment would push the balance below zero.
	ErrPaymentExceedsBalance = fmt.Errorf("%w: payment exceeds invoice balance", shared.ErrStateConflict)
)

// Invoice is a bill for one meter and billing period.
type Invoice struct {
	ID              int64           `json:"id"`
	InvoiceNo       string          `json:"invoice_no"`
	CustomerID      int64           `json:"customer_id"`
	MeterID         int64           `json:"meter_id"`
	ReadingID       int64           `json:"reading_id"`
	BillingPeriod   string          `json:"billing_period"`
	PreviousReading decimal.Decimal `json:"previous_reading"`
	CurrentReading  decimal.Decimal `json:"current_reading"`
	ConsumptionKwh  decimal.Decimal `json:"consumption_kwh"`
	EnergyAmount    decimal.Decimal `json:"energy_amount"`
	FixedCharge     decimal.Decimal `json:"fixed_charge"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	PaidAmount      decimal.Decimal `json:"paid_amount"`
	Balance         decimal.Decimal `json:"balance"`
	Status          Status          `json:"status"`
	IssueDate       time.Time       `json:"issue_date"`
	DueDate         time.Time       `json:"due_date"`
	CancelledAt     *time.Time      `json:"cancelled_at,omitempty"`
	CancelReason    string          `json:"cancel_reason,omitempty"`
	CreatedBy       string          `json:"created_by"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	Lines           []InvoiceLine   `json:"lines,omitempty"`
}

// InvoiceLine is the usage and amount billed in one tariff band.
type InvoiceLine struct {
	ID         int64            `json:"id"`
	InvoiceID  int64            `json:"invoice_id"`
	BandOrder  int              `json:"band_order"`
	FromKwh    decimal.Decimal  `json:"from_kwh"`
	ToKwh      *decimal.Decimal `json:"to_kwh,omitempty"`
	UsageKwh   decimal.Decimal  `json:"usage_kwh"`
	RatePerKwh decimal.Decimal  `json:"rate_per_kwh"`
	Amount     decimal.Decimal  `json:"amount"`
}

// Description labels the band range of a line.
func (l InvoiceLine) Description() string {
	if l.ToKwh == nil {
		return fmt.Sprintf("above %s kWh", l.FromKwh)
	}
	return fmt.Sprintf("%s - %s kWh", l.FromKwh, *l.ToKwh)
}

// CustomerInfo is the subset of customer data invoicing needs.
type CustomerInfo struct {
	ID         int64
	CustomerNo string
	Name       string
	Address    string
	CategoryID int64
	Active     bool
}

// GenerateInvoiceInput requests an invoice for a reading.
type GenerateInvoiceInput struct {
	CustomerID    int64  `json:"customer_id" validate:"required,gt=0"`
	BillingPeriod string `json:"billing_period" validate:"required"`
	ReadingID     int64  `json:"reading_id" validate:"required,gt=0"`
}

// CancelInvoiceInput carries the cancellation reason.
type CancelInvoiceInput struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

// ListFilter narrows invoice listings.
type ListFilter struct {
	CustomerID int64
	Status     Status
	Period     string
	Page       shared.PageRequest
}

// ParsePeriod validates a YYYY-MM billing period and returns its first day.
func ParsePeriod(raw string) (time.Time, error) {
	t, err := time.Parse("2006-01", strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, shared.NewValidationError("billing_period", "must be formatted as YYYY-MM")
	}
	return t, nil
}

// ParseStatus validates a status filter.
func ParseStatus(raw string) (Status, error) {
	switch s := Status(strings.ToLower(strings.TrimSpace(raw))); s {
	case "":
		return "", nil
	case StatusIssued, StatusPartial, StatusPaid, StatusOverdue, StatusCancelled:
		return s, nil
	default:
		return "", shared.NewValidationError("status", "is not a known invoice status")
	}
}

// DeriveStatus is the single invoice status rule: paid when nothing is owed, partial when
// something but not everything is paid, otherwise overdue once past the due date.
func DeriveStatus(total, paid decimal.Decimal, due, now time.Time) Status {
	balance := total.Sub(paid)
	switch {
	case !balance.IsPositive():
		return StatusPaid
	case paid.IsPositive():
		return StatusPartial
	case PastDue(due, now):
		return StatusOverdue
	default:
		return StatusIssued
	}
}

// PastDue reports whether now falls on a calendar day after due.
func PastDue(due, now time.Time) bool {
	if due.IsZero() {
		return false
	}
	return dateOnly(now).After(dateOnly(due))
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ApplyPayment returns the invoice after allocating amount to it.
// Overpayment is rejected rather than clamped or kept as credit.
func ApplyPayment(inv Invoice, amount decimal.Decimal, now time.Time) (Invoice, error) {
	if !amount.IsPositive() {
		return inv, shared.NewValidationError("amount", "must be greater than zero")
	}
	if inv.Status == StatusCancelled {
		return inv, ErrInvoiceCancelled
	}
	if amount.GreaterThan(inv.Balance) {
		return inv, fmt.Errorf("%w: amount %s exceeds balance %s", ErrPaymentExceedsBalance, amount.StringFixed(2), inv.Balance.StringFixed(2))
	}
	inv.PaidAmount = inv.PaidAmount.Add(amount)
	inv.Balance = inv.TotalAmount.Sub(inv.PaidAmount)
	inv.Status = DeriveStatus(inv.TotalAmount, inv.PaidAmount, inv.DueDate, now)
	inv.UpdatedAt = now
	return inv, nil
}

// ReversePayment undoes a previously applied payment.
func ReversePayment(inv Invoice, amount decimal.Decimal, now time.Time) (Invoice, error) {
	if !amount.IsPositive() {
		return inv, shared.NewValidationError("amount", "must be greater than zero")
	}
	if amount.GreaterThan(inv.PaidAmount) {
		return inv, fmt.Errorf("%w: reversal of %s exceeds paid amount %s", shared.ErrStateConflict, amount.StringFixed(2), inv.PaidAmount.StringFixed(2))
	}
	inv.PaidAmount = inv.PaidAmount.Sub(amount)
	inv.Balance = inv.TotalAmount.Sub(inv.PaidAmount)
	if inv.Status != StatusCancelled {
		inv.Status = DeriveStatus(inv.TotalAmount, inv.PaidAmount, inv.DueDate, now)
	}
	inv.UpdatedAt = now
	return inv, nil
}
