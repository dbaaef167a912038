package debt

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/gridbill/gridbill/internal/billing"
	"github.com/gridbill/gridbill/internal/observability"
	"github.com/gridbill/gridbill/internal/sequence"
	"github.com/gridbill/gridbill/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetDebt(ctx context.Context, id int64) (Debt, error)
	ListDebts(ctx context.Context, filter ListFilter) ([]Debt, int, error)
	GetPlan(ctx context.Context, id int64) (PaymentPlan, error)
	ListPlans(ctx context.Context, customerID int64) ([]PaymentPlan, error)
	MarkOverdueInstallments(ctx context.Context, asOf time.Time) (int64, error)
	DefaultPlans(ctx context.Context, cutoff time.Time) (int64, error)
}

// CacheInvalidator is bumped after balance-changing mutations.
type CacheInvalidator interface {
	Bump(ctx context.Context) error
}

// ServiceConfig groups optional collaborators.
type ServiceConfig struct {
	Metrics *observability.Metrics
	Cache   CacheInvalidator
	Logger  *slog.Logger
}

// Service manages debts and payment plans.
type Service struct {
	repo  RepositoryPort
	audit shared.AuditPort
	cfg   ServiceConfig
	now   func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit shared.AuditPort, cfg ServiceConfig) *Service {
	return &Service{repo: repo, audit: audit, cfg: cfg, now: time.Now}
}

// SyncFromInvoices creates debts for past-due invoices and refreshes the ones already tracked.
func (s *Service) SyncFromInvoices(ctx context.Context, now time.Time) (SyncResult, error) {
	var result SyncResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		result = SyncResult{}
		invoices, err := tx.ListPastDueInvoices(ctx, dateOnly(now))
		if err != nil {
			return err
		}
		ids := make([]int64, 0, len(invoices))
		for _, inv := range invoices {
			ids = append(ids, inv.InvoiceID)
		}
		existing, err := tx.LockDebtsByInvoice(ctx, ids)
		if err != nil {
			return err
		}
		for _, inv := range invoices {
			var current *Debt
			if d, ok := existing[inv.InvoiceID]; ok {
				current = &d
			}
			next, changed := Reconcile(current, inv)
			if !changed {
				continue
			}
			if current == nil {
				if _, err := tx.InsertDebt(ctx, next); err != nil {
					return err
				}
				result.Created++
				continue
			}
			if _, err := tx.UpdateDebt(ctx, next); err != nil {
				return err
			}
			result.Refreshed++
		}
		return nil
	})
	if err != nil {
		s.observeFailure("sync_debts", err)
		return SyncResult{}, err
	}
	if result.Created+result.Refreshed > 0 {
		s.bump(ctx)
	}
	return result, nil
}

// GetDebt returns one debt.
func (s *Service) GetDebt(ctx context.Context, id int64) (Debt, error) {
	return s.repo.GetDebt(ctx, id)
}

// ListDebts returns a filtered page of debts.
func (s *Service) ListDebts(ctx context.Context, filter ListFilter) ([]Debt, shared.Pagination, error) {
	items, total, err := s.repo.ListDebts(ctx, filter)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return items, shared.PaginationFor(filter.Page, total), nil
}

// WriteOff closes a collectible or disputed debt as uncollectible.
func (s *Service) WriteOff(ctx context.Context, id int64, input ReasonInput) (Debt, error) {
	return s.transition(ctx, "debt.write_off", id, input.Reason, func(d Debt) (Debt, error) {
		switch d.Status {
		case StatusOutstanding, StatusPartial, StatusDisputed:
			d.Status = StatusWrittenOff
			return d, nil
		default:
			return d, ErrInvalidTransition
		}
	})
}

// Dispute freezes a collectible debt while the customer contests it.
func (s *Service) Dispute(ctx context.Context, id int64, input ReasonInput) (Debt, error) {
	return s.transition(ctx, "debt.dispute", id, input.Reason, func(d Debt) (Debt, error) {
		if d.Status != StatusOutstanding && d.Status != StatusPartial {
			return d, ErrInvalidTransition
		}
		d.Status = StatusDisputed
		return d, nil
	})
}

// Resolve ends a dispute and returns the debt to the status its amounts imply.
func (s *Service) Resolve(ctx context.Context, id int64) (Debt, error) {
	var updated Debt
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		d, err := tx.LockDebt(ctx, id)
		if err != nil {
			return err
		}
		if d.Status != StatusDisputed {
			return ErrInvalidTransition
		}
		invoicePaid, err := invoicePaidFor(ctx, tx, d)
		if err != nil {
			return err
		}
		d.Status = StatusOutstanding
		updated, err = tx.UpdateDebt(ctx, d.Recompute(invoicePaid))
		return err
	})
	if err != nil {
		s.observeFailure("resolve_debt", err)
		return Debt{}, err
	}
	s.record(ctx, "debt.resolve", "debt", id, map[string]any{"status": string(updated.Status)})
	s.bump(ctx)
	return updated, nil
}

func (s *Service) transition(ctx context.Context, action string, id int64, reason string, apply func(Debt) (Debt, error)) (Debt, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return Debt{}, shared.NewValidationError("reason", "is required")
	}
	var updated Debt
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		d, err := tx.LockDebt(ctx, id)
		if err != nil {
			return err
		}
		next, err := apply(d)
		if err != nil {
			return err
		}
		next.Note = reason
		updated, err = tx.UpdateDebt(ctx, next)
		return err
	})
	if err != nil {
		s.observeFailure(strings.ReplaceAll(action, ".", "_"), err)
		return Debt{}, err
	}
	s.record(ctx, action, "debt", id, map[string]any{"reason": reason})
	s.bump(ctx)
	return updated, nil
}

// CreatePaymentPlan schedules monthly installments for an amount owed.
// When a debt is linked, the total defaults to its remaining amount and the down payment
// is credited to it immediately.
func (s *Service) CreatePaymentPlan(ctx context.Context, input CreatePlanInput) (PaymentPlan, error) {
	start, err := time.Parse(time.DateOnly, strings.TrimSpace(input.StartDate))
	if err != nil {
		return PaymentPlan{}, shared.NewValidationError("start_date", "must be a date in YYYY-MM-DD format")
	}
	if input.DownPayment.IsNegative() {
		return PaymentPlan{}, shared.NewValidationError("down_payment", "must not be negative")
	}
	now := s.now().UTC()

	var created PaymentPlan
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		exists, err := tx.CustomerExists(ctx, input.CustomerID)
		if err != nil {
			return err
		}
		if !exists {
			return ErrCustomerNotFound
		}
		total := input.TotalAmount
		var linked *Debt
		if input.DebtID != nil {
			d, err := tx.LockDebt(ctx, *input.DebtID)
			if err != nil {
				return err
			}
			if d.CustomerID != input.CustomerID {
				return shared.NewValidationError("debt_id", "belongs to another customer")
			}
			if d.InvoiceID != nil {
				inv, err := tx.LockInvoice(ctx, *d.InvoiceID)
				if err != nil {
					return err
				}
				d = d.Recompute(inv.PaidAmount)
			}
			if d.Status != StatusOutstanding && d.Status != StatusPartial {
				return ErrInvalidTransition
			}
			active, err := tx.HasActivePlan(ctx, d.ID)
			if err != nil {
				return err
			}
			if active {
				return ErrDebtHasActivePlan
			}
			if total.IsZero() {
				total = d.RemainingAmount
			}
			if total.GreaterThan(d.RemainingAmount) {
				return shared.NewValidationError("total_amount", "exceeds the remaining debt")
			}
			linked = &d
		}
		if err := validatePlanAmounts(total, input.DownPayment); err != nil {
			return err
		}
		financed := total.Sub(input.DownPayment)
		installments, err := BuildInstallments(financed, input.NumberOfInstallments, start)
		if err != nil {
			return err
		}
		number, err := tx.NextNumber(ctx, sequence.SeriesPlan, now)
		if err != nil {
			return err
		}
		created, err = tx.InsertPlan(ctx, PaymentPlan{
			PlanNo:               number,
			CustomerID:           input.CustomerID,
			DebtID:               input.DebtID,
			TotalAmount:          total,
			DownPayment:          input.DownPayment,
			FinancedAmount:       financed,
			NumberOfInstallments: input.NumberOfInstallments,
			PaidAmount:           decimal.Zero,
			Status:               PlanActive,
			StartDate:            start,
			CreatedBy:            shared.ActorFromContext(ctx),
			Installments:         installments,
		})
		if err != nil {
			return err
		}
		if linked != nil && input.DownPayment.IsPositive() {
			_, err = creditDebt(ctx, tx, *linked, input.DownPayment, now)
			return err
		}
		return nil
	})
	if err != nil {
		s.observeFailure("create_payment_plan", err)
		return PaymentPlan{}, err
	}
	s.record(ctx, "plan.create", "payment_plan", created.ID, map[string]any{
		"plan_no":      created.PlanNo,
		"financed":     created.FinancedAmount.StringFixed(2),
		"installments": created.NumberOfInstallments,
	})
	s.bump(ctx)
	return created, nil
}

func validatePlanAmounts(total, down decimal.Decimal) error {
	verr := &shared.ValidationError{}
	if !total.IsPositive() {
		verr.Add("total_amount", "must be greater than zero")
	} else if !total.Equal(total.Round(2)) {
		verr.Add("total_amount", "must not have more than two decimal places")
	}
	if !down.Equal(down.Round(2)) {
		verr.Add("down_payment", "must not have more than two decimal places")
	} else if total.IsPositive() && !down.LessThan(total) {
		verr.Add("down_payment", "must be less than the total amount")
	}
	return verr.OrNil()
}

// PayInstallment allocates a payment to one installment while the plan row is locked.
func (s *Service) PayInstallment(ctx context.Context, planID, installmentID int64, input PayInstallmentInput) (InstallmentPayment, error) {
	now := s.now().UTC()
	var out InstallmentPayment
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		plan, err := tx.LockPlan(ctx, planID)
		if err != nil {
			return err
		}
		idx := -1
		for i, inst := range plan.Installments {
			if inst.ID == installmentID {
				idx = i
				break
			}
		}
		if idx < 0 {
			return ErrInstallmentNotFound
		}
		plan, inst, err := ApplyInstallmentPayment(plan, plan.Installments[idx], input.Amount, now)
		if err != nil {
			return err
		}
		plan.Installments[idx] = inst
		if PlanSettled(plan.Installments) {
			plan.Status = PlanCompleted
		}
		if err := tx.UpdateInstallment(ctx, inst); err != nil {
			return err
		}
		if err := tx.UpdatePlan(ctx, plan); err != nil {
			return err
		}
		out = InstallmentPayment{Plan: plan, Installment: inst}
		if plan.DebtID == nil {
			return nil
		}
		d, err := tx.LockDebt(ctx, *plan.DebtID)
		if err != nil {
			return err
		}
		updated, err := creditDebt(ctx, tx, d, input.Amount, now)
		if err != nil {
			return err
		}
		out.Debt = &updated
		return nil
	})
	if err != nil {
		s.observeFailure("pay_installment", err)
		return InstallmentPayment{}, err
	}
	s.cfg.Metrics.InstallmentPaid()
	s.record(ctx, "plan.pay_installment", "payment_plan", planID, map[string]any{
		"installment_id": installmentID,
		"amount":         input.Amount.StringFixed(2),
		"plan_status":    string(out.Plan.Status),
	})
	s.bump(ctx)
	return out, nil
}

// creditDebt books a plan payment on the debt. An invoice-backed debt is settled through
// its invoice, locked after the plan and the debt, so receivables and direct payments see
// the same balance.
func creditDebt(ctx context.Context, tx TxRepository, d Debt, amount decimal.Decimal, now time.Time) (Debt, error) {
	d.PlanPaidAmount = d.PlanPaidAmount.Add(amount)
	if d.InvoiceID == nil {
		return tx.UpdateDebt(ctx, d.Recompute(decimal.Zero))
	}
	inv, err := tx.LockInvoice(ctx, *d.InvoiceID)
	if err != nil {
		return Debt{}, err
	}
	inv, err = billing.ApplyPayment(inv, amount, now)
	if err != nil {
		return Debt{}, err
	}
	if err := tx.SaveInvoiceBalance(ctx, inv); err != nil {
		return Debt{}, err
	}
	return tx.UpdateDebt(ctx, d.Recompute(inv.PaidAmount))
}

func invoicePaidFor(ctx context.Context, tx TxRepository, d Debt) (decimal.Decimal, error) {
	if d.InvoiceID == nil {
		return decimal.Zero, nil
	}
	return tx.InvoicePaid(ctx, *d.InvoiceID)
}

// GetPlan returns a plan with its installments.
func (s *Service) GetPlan(ctx context.Context, id int64) (PaymentPlan, error) {
	return s.repo.GetPlan(ctx, id)
}

// ListPlans returns the plans of a customer.
func (s *Service) ListPlans(ctx context.Context, customerID int64) ([]PaymentPlan, error) {
	if customerID <= 0 {
		return nil, shared.NewValidationError("customer_id", "is required")
	}
	return s.repo.ListPlans(ctx, customerID)
}

// MarkOverdueInstallments flags unpaid installments past due and defaults plans
// with an installment unpaid for longer than defaultAfter.
func (s *Service) MarkOverdueInstallments(ctx context.Context, now time.Time, defaultAfter time.Duration) (SweepResult, error) {
	today := dateOnly(now)
	overdue, err := s.repo.MarkOverdueInstallments(ctx, today)
	if err != nil {
		return SweepResult{}, err
	}
	result := SweepResult{InstallmentsOverdue: overdue}
	if defaultAfter > 0 {
		result.PlansDefaulted, err = s.repo.DefaultPlans(ctx, dateOnly(today.Add(-defaultAfter)))
		if err != nil {
			return result, err
		}
	}
	if result.InstallmentsOverdue+result.PlansDefaulted > 0 {
		s.bump(ctx)
	}
	return result, nil
}

func (s *Service) observeFailure(operation string, err error) {
	if errors.Is(err, shared.ErrTransactionFailure) {
		s.cfg.Metrics.TransactionFailed(operation)
	}
}

func (s *Service) bump(ctx context.Context) {
	if s.cfg.Cache == nil {
		return
	}
	if err := s.cfg.Cache.Bump(ctx); err != nil && s.cfg.Logger != nil {
		s.cfg.Logger.Warn("report cache bump failed", slog.Any("error", err))
	}
}

func (s *Service) record(ctx context.Context, action, entity string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		Action:   action,
		Entity:   entity,
		EntityID: strconv.FormatInt(id, 10),
		Meta:     meta,
	}); err != nil && s.cfg.Logger != nil {
		s.cfg.Logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}
