// Package debt tracks overdue balances and the payment plans that settle them.
package debt

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/gridbill/gridbill/internal/shared"
)

// Status of a debt.
type Status string

const (
	StatusOutstanding Status = "outstanding"
	StatusPartial     Status = "partial"
	StatusPaid        Status = "paid"
	StatusWrittenOff  Status = "written_off"
	StatusDisputed    Status = "disputed"
)

// PlanStatus of a payment plan.
type PlanStatus string

const (
	PlanActive    PlanStatus = "active"
	PlanCompleted PlanStatus = "completed"
	PlanDefaulted PlanStatus = "defaulted"
)

// InstallmentStatus of one scheduled payment.
type InstallmentStatus string

const (
	InstallmentPending InstallmentStatus = "pending"
	InstallmentPartial InstallmentStatus = "partial"
	InstallmentPaid    InstallmentStatus = "paid"
	InstallmentOverdue InstallmentStatus = "overdue"
)

// MaxInstallments bounds the length of a plan.
const MaxInstallments = 120

var (
	ErrDebtNotFound           = fmt.Errorf("%w: debt", shared.ErrNotFound)
	ErrPlanNotFound           = fmt.Errorf("%w: payment plan", shared.ErrNotFound)
	ErrInstallmentNotFound    = fmt.Errorf("%w: installment", shared.ErrNotFound)
	ErrCustomerNotFound       = fmt.Errorf("%w: customer", shared.ErrNotFound)
	ErrInvalidTransition      = fmt.Errorf("%w: debt status does not allow this action", shared.ErrStateConflict)
	ErrPlanNotActive          = fmt.Errorf("%w: payment plan is not active", shared.ErrStateConflict)
	ErrDebtHasActivePlan      = fmt.Errorf("%w: debt already has an active payment plan", shared.ErrStateConflict)
	ErrInstallmentOverpayment = fmt.Errorf("%w: amount exceeds installment balance", shared.ErrStateConflict)
	ErrInstallmentSettled     = fmt.Errorf("%w: installment already paid", shared.ErrStateConflict)
)

// Debt is a standing balance owed by a customer, usually derived from an overdue invoice.
// PlanPaidAmount is the part settled through payment plans rather than invoice payments.
type Debt struct {
	ID              int64           `json:"id"`
	CustomerID      int64           `json:"customer_id"`
	InvoiceID       *int64          `json:"invoice_id,omitempty"`
	OriginalAmount  decimal.Decimal `json:"original_amount"`
	PaidAmount      decimal.Decimal `json:"paid_amount"`
	PlanPaidAmount  decimal.Decimal `json:"plan_paid_amount"`
	RemainingAmount decimal.Decimal `json:"remaining_amount"`
	Status          Status          `json:"status"`
	Note            string          `json:"note,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// InvoiceSnapshot is the state of a past-due invoice used to refresh debts.
type InvoiceSnapshot struct {
	InvoiceID  int64
	CustomerID int64
	Total      decimal.Decimal
	Paid       decimal.Decimal
	Balance    decimal.Decimal
}

// PaymentPlan spreads an amount over monthly installments.
type PaymentPlan struct {
	ID                   int64           `json:"id"`
	PlanNo               string          `json:"plan_no"`
	CustomerID           int64           `json:"customer_id"`
	DebtID               *int64          `json:"debt_id,omitempty"`
	TotalAmount          decimal.Decimal `json:"total_amount"`
	DownPayment          decimal.Decimal `json:"down_payment"`
	FinancedAmount       decimal.Decimal `json:"financed_amount"`
	NumberOfInstallments int             `json:"number_of_installments"`
	PaidAmount           decimal.Decimal `json:"paid_amount"`
	Status               PlanStatus      `json:"status"`
	StartDate            time.Time       `json:"start_date"`
	CreatedBy            string          `json:"created_by"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
	Installments         []Installment   `json:"installments,omitempty"`
}

// Installment is one scheduled payment of a plan.
type Installment struct {
	ID         int64             `json:"id"`
	PlanID     int64             `json:"plan_id"`
	Sequence   int               `json:"sequence"`
	DueDate    time.Time         `json:"due_date"`
	Amount     decimal.Decimal   `json:"amount"`
	PaidAmount decimal.Decimal   `json:"paid_amount"`
	Status     InstallmentStatus `json:"status"`
	PaidAt     *time.Time        `json:"paid_at,omitempty"`
}

// Remaining is the unpaid part of the installment.
func (i Installment) Remaining() decimal.Decimal {
	return i.Amount.Sub(i.PaidAmount)
}

// CreatePlanInput requests a payment plan. StartDate is YYYY-MM-DD.
type CreatePlanInput struct {
	CustomerID           int64           `json:"customer_id" validate:"required,gt=0"`
	DebtID               *int64          `json:"debt_id" validate:"omitempty,gt=0"`
	TotalAmount          decimal.Decimal `json:"total_amount"`
	DownPayment          decimal.Decimal `json:"down_payment"`
	NumberOfInstallments int             `json:"number_of_installments" validate:"required,min=1,max=120"`
	StartDate            string          `json:"start_date" validate:"required"`
}

// PayInstallmentInput carries the amount paid.
type PayInstallmentInput struct {
	Amount decimal.Decimal `json:"amount"`
}

// ReasonInput carries a free-text reason for a debt action.
type ReasonInput struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

// ListFilter narrows debt listings.
type ListFilter struct {
	CustomerID int64
	Status     Status
	Page       shared.PageRequest
}

// InstallmentPayment is the outcome of paying an installment.
type InstallmentPayment struct {
	Plan        PaymentPlan `json:"plan"`
	Installment Installment `json:"installment"`
	Debt        *Debt       `json:"debt,omitempty"`
}

// SweepResult reports the work done by an installment sweep.
type SweepResult struct {
	InstallmentsOverdue int64 `json:"installments_overdue"`
	PlansDefaulted      int64 `json:"plans_defaulted"`
}

// SyncResult reports the work done by a debt sync.
type SyncResult struct {
	Created   int `json:"created"`
	Refreshed int `json:"refreshed"`
}

// BuildInstallments splits financed into n monthly installments starting at start.
// Each installment is financed/n truncated to cents; the remainder lands on the last one
// so the schedule sums to financed exactly.
func BuildInstallments(financed decimal.Decimal, n int, start time.Time) ([]Installment, error) {
	if n < 1 || n > MaxInstallments {
		return nil, shared.NewValidationError("number_of_installments", fmt.Sprintf("must be between 1 and %d", MaxInstallments))
	}
	if !financed.IsPositive() {
		return nil, shared.NewValidationError("total_amount", "financed amount must be greater than zero")
	}
	base := financed.Div(decimal.NewFromInt(int64(n))).Truncate(2)
	if !base.IsPositive() {
		return nil, shared.NewValidationError("number_of_installments", "too many installments for the financed amount")
	}
	out := make([]Installment, n)
	allocated := decimal.Zero
	for i := 0; i < n; i++ {
		amount := base
		if i == n-1 {
			amount = financed.Sub(allocated)
		}
		allocated = allocated.Add(amount)
		out[i] = Installment{
			Sequence:   i + 1,
			DueDate:    AddMonths(start, i),
			Amount:     amount,
			PaidAmount: decimal.Zero,
			Status:     InstallmentPending,
		}
	}
	return out, nil
}

// AddMonths moves t forward by n months, clamping to the last day of shorter months.
func AddMonths(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(n), 1, 0, 0, 0, 0, time.UTC)
	last := first.AddDate(0, 1, -1).Day()
	if d > last {
		d = last
	}
	return time.Date(first.Year(), first.Month(), d, 0, 0, 0, 0, time.UTC)
}

// DeriveStatus computes a collectible debt's status from its amounts.
func DeriveStatus(original, paid decimal.Decimal) Status {
	switch {
	case !original.Sub(paid).IsPositive():
		return StatusPaid
	case paid.IsPositive():
		return StatusPartial
	default:
		return StatusOutstanding
	}
}

// Frozen reports whether automatic recomputation must leave the debt alone.
func (d Debt) Frozen() bool {
	return d.Status == StatusWrittenOff || d.Status == StatusDisputed
}

// Recompute refreshes paid and remaining amounts. An invoice-backed debt follows the
// invoice's paid amount, which already includes plan payments; a standalone debt follows
// its plan payments.
func (d Debt) Recompute(invoicePaid decimal.Decimal) Debt {
	paid := d.PlanPaidAmount
	if d.InvoiceID != nil {
		paid = invoicePaid
	}
	paid = decimal.Min(d.OriginalAmount, paid)
	d.PaidAmount = paid
	d.RemainingAmount = d.OriginalAmount.Sub(paid)
	if !d.Frozen() {
		d.Status = DeriveStatus(d.OriginalAmount, paid)
	}
	return d
}

// Reconcile merges a past-due invoice into its debt. It returns false when nothing changed.
func Reconcile(existing *Debt, inv InvoiceSnapshot) (Debt, bool) {
	if existing == nil {
		if !inv.Balance.IsPositive() {
			return Debt{}, false
		}
		id := inv.InvoiceID
		d := Debt{
			CustomerID:     inv.CustomerID,
			InvoiceID:      &id,
			OriginalAmount: inv.Total,
			PlanPaidAmount: decimal.Zero,
		}
		return d.Recompute(inv.Paid), true
	}
	if existing.Frozen() {
		return *existing, false
	}
	updated := existing.Recompute(inv.Paid)
	changed := !updated.PaidAmount.Equal(existing.PaidAmount) || updated.Status != existing.Status
	return updated, changed
}

// InstallmentStatusFor derives an installment status after a payment or sweep.
func InstallmentStatusFor(inst Installment, now time.Time) InstallmentStatus {
	switch {
	case !inst.Remaining().IsPositive():
		return InstallmentPaid
	case pastDue(inst.DueDate, now):
		return InstallmentOverdue
	case inst.PaidAmount.IsPositive():
		return InstallmentPartial
	default:
		return InstallmentPending
	}
}

// ApplyInstallmentPayment allocates amount to one installment of an active plan.
func ApplyInstallmentPayment(plan PaymentPlan, inst Installment, amount decimal.Decimal, now time.Time) (PaymentPlan, Installment, error) {
	if !amount.IsPositive() {
		return plan, inst, shared.NewValidationError("amount", "must be greater than zero")
	}
	if !amount.Equal(amount.Round(2)) {
		return plan, inst, shared.NewValidationError("amount", "must not have more than two decimal places")
	}
	if plan.Status != PlanActive {
		return plan, inst, ErrPlanNotActive
	}
	if inst.Status == InstallmentPaid {
		return plan, inst, ErrInstallmentSettled
	}
	if amount.GreaterThan(inst.Remaining()) {
		return plan, inst, fmt.Errorf("%w: %s > %s", ErrInstallmentOverpayment, amount.StringFixed(2), inst.Remaining().StringFixed(2))
	}
	inst.PaidAmount = inst.PaidAmount.Add(amount)
	inst.Status = InstallmentStatusFor(inst, now)
	if inst.Status == InstallmentPaid {
		at := now
		inst.PaidAt = &at
	}
	plan.PaidAmount = plan.PaidAmount.Add(amount)
	plan.UpdatedAt = now
	return plan, inst, nil
}

// PlanSettled reports whether every installment is paid.
func PlanSettled(installments []Installment) bool {
	for _, inst := range installments {
		if inst.Status != InstallmentPaid {
			return false
		}
	}
	return len(installments) > 0
}

// ParseStatus validates a debt status filter.
func ParseStatus(raw string) (Status, error) {
	switch s := Status(strings.ToLower(strings.TrimSpace(raw))); s {
	case "":
		return "", nil
	case StatusOutstanding, StatusPartial, StatusPaid, StatusWrittenOff, StatusDisputed:
		return s, nil
	default:
		return "", shared.NewValidationError("status", "is not a known debt status")
	}
}

func pastDue(due, now time.Time) bool {
	return dateOnly(now).After(dateOnly(due))
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
