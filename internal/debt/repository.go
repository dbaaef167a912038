package debt

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/gridbill/gridbill/internal/billing"
	"github.com/gridbill/gridbill/internal/platform/db"
	"github.com/gridbill/gridbill/internal/sequence"
)

const (
	debtColumns = `id, customer_id, invoice_id, original_amount, paid_amount, plan_paid_amount, remaining_amount,
		status, note, created_at, updated_at`
	planColumns = `id, plan_no, customer_id, debt_id, total_amount, down_payment, financed_amount, number_of_installments,
		paid_amount, status, start_date, created_by, created_at, updated_at`
	installmentColumns = `id, plan_id, seq, due_date, amount, paid_amount, status, paid_at`
)

// Repository persists debts and payment plans in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	CustomerExists(ctx context.Context, id int64) (bool, error)
	ListPastDueInvoices(ctx context.Context, asOf time.Time) ([]InvoiceSnapshot, error)
	LockDebtsByInvoice(ctx context.Context, invoiceIDs []int64) (map[int64]Debt, error)
	InsertDebt(ctx context.Context, d Debt) (Debt, error)
	UpdateDebt(ctx context.Context, d Debt) (Debt, error)
	LockDebt(ctx context.Context, id int64) (Debt, error)
	InvoicePaid(ctx context.Context, invoiceID int64) (decimal.Decimal, error)
	LockInvoice(ctx context.Context, id int64) (billing.Invoice, error)
	SaveInvoiceBalance(ctx context.Context, inv billing.Invoice) error
	HasActivePlan(ctx context.Context, debtID int64) (bool, error)
	NextNumber(ctx context.Context, series string, now time.Time) (string, error)
	InsertPlan(ctx context.Context, p PaymentPlan) (PaymentPlan, error)
	LockPlan(ctx context.Context, id int64) (PaymentPlan, error)
	UpdatePlan(ctx context.Context, p PaymentPlan) error
	UpdateInstallment(ctx context.Context, inst Installment) error
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

// GetDebt fetches one debt.
func (r *Repository) GetDebt(ctx context.Context, id int64) (Debt, error) {
	return scanDebt(r.pool.QueryRow(ctx, `SELECT `+debtColumns+` FROM debts WHERE id = $1`, id))
}

// ListDebts returns a filtered page of debts and the total match count.
func (r *Repository) ListDebts(ctx context.Context, filter ListFilter) ([]Debt, int, error) {
	var (
		clauses []string
		args    []any
	)
	if filter.CustomerID > 0 {
		args = append(args, filter.CustomerID)
		clauses = append(clauses, fmt.Sprintf("customer_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}
	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM debts`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	args = append(args, filter.Page.Limit(), filter.Page.Offset())
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`SELECT %s FROM debts%s ORDER BY remaining_amount DESC, id LIMIT $%d OFFSET $%d`,
		debtColumns, where, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []Debt
	for rows.Next() {
		d, err := scanDebt(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, d)
	}
	return out, total, rows.Err()
}

// GetPlan fetches a plan with its installments.
func (r *Repository) GetPlan(ctx context.Context, id int64) (PaymentPlan, error) {
	return loadPlan(ctx, r.pool, id, false)
}

// ListPlans returns the plans of a customer, newest first.
func (r *Repository) ListPlans(ctx context.Context, customerID int64) ([]PaymentPlan, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+planColumns+` FROM payment_plans WHERE customer_id = $1 ORDER BY id DESC`, customerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []PaymentPlan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// MarkOverdueInstallments flags unpaid installments due before asOf.
func (r *Repository) MarkOverdueInstallments(ctx context.Context, asOf time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE installments SET status = 'overdue'
		WHERE status IN ('pending', 'partial') AND due_date < $1
		AND plan_id IN (SELECT id FROM payment_plans WHERE status = 'active')`, asOf)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// DefaultPlans marks active plans with an installment unpaid since before cutoff as defaulted.
func (r *Repository) DefaultPlans(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE payment_plans p SET status = 'defaulted', updated_at = NOW()
		WHERE p.status = 'active' AND EXISTS (
			SELECT 1 FROM installments i WHERE i.plan_id = p.id AND i.status <> 'paid' AND i.due_date < $1)`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *txRepo) CustomerExists(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := r.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM customers WHERE id = $1)`, id).Scan(&exists)
	return exists, err
}

func (r *txRepo) ListPastDueInvoices(ctx context.Context, asOf time.Time) ([]InvoiceSnapshot, error) {
	rows, err := r.tx.Query(ctx, `SELECT i.id, i.customer_id, i.total_amount, i.paid_amount, i.balance FROM invoices i
		WHERE i.status <> 'cancelled' AND i.due_date < $1
		AND (i.balance > 0 OR EXISTS (SELECT 1 FROM debts d WHERE d.invoice_id = i.id AND d.status IN ('outstanding', 'partial')))
		ORDER BY i.id`, asOf)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []InvoiceSnapshot
	for rows.Next() {
		var s InvoiceSnapshot
		if err := rows.Scan(&s.InvoiceID, &s.CustomerID, &s.Total, &s.Paid, &s.Balance); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *txRepo) LockDebtsByInvoice(ctx context.Context, invoiceIDs []int64) (map[int64]Debt, error) {
	out := make(map[int64]Debt, len(invoiceIDs))
	if len(invoiceIDs) == 0 {
		return out, nil
	}
	rows, err := r.tx.Query(ctx, `SELECT `+debtColumns+` FROM debts WHERE invoice_id = ANY($1) FOR UPDATE`, invoiceIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		d, err := scanDebt(rows)
		if err != nil {
			return nil, err
		}
		if d.InvoiceID != nil {
			out[*d.InvoiceID] = d
		}
	}
	return out, rows.Err()
}

func (r *txRepo) InsertDebt(ctx context.Context, d Debt) (Debt, error) {
	return scanDebt(r.tx.QueryRow(ctx, `INSERT INTO debts (customer_id, invoice_id, original_amount, paid_amount, plan_paid_amount,
		remaining_amount, status, note) VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING `+debtColumns,
		d.CustomerID, d.InvoiceID, d.OriginalAmount, d.PaidAmount, d.PlanPaidAmount, d.RemainingAmount, string(d.Status), d.Note))
}

func (r *txRepo) UpdateDebt(ctx context.Context, d Debt) (Debt, error) {
	return scanDebt(r.tx.QueryRow(ctx, `UPDATE debts SET paid_amount = $2, plan_paid_amount = $3, remaining_amount = $4,
		status = $5, note = $6, updated_at = NOW() WHERE id = $1 RETURNING `+debtColumns,
		d.ID, d.PaidAmount, d.PlanPaidAmount, d.RemainingAmount, string(d.Status), d.Note))
}

func (r *txRepo) LockDebt(ctx context.Context, id int64) (Debt, error) {
	return scanDebt(r.tx.QueryRow(ctx, `SELECT `+debtColumns+` FROM debts WHERE id = $1 FOR UPDATE`, id))
}

func (r *txRepo) InvoicePaid(ctx context.Context, invoiceID int64) (decimal.Decimal, error) {
	var paid decimal.Decimal
	err := r.tx.QueryRow(ctx, `SELECT paid_amount FROM invoices WHERE id = $1`, invoiceID).Scan(&paid)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, nil
	}
	return paid, err
}

func (r *txRepo) LockInvoice(ctx context.Context, id int64) (billing.Invoice, error) {
	return billing.LockInvoice(ctx, r.tx, id)
}

func (r *txRepo) SaveInvoiceBalance(ctx context.Context, inv billing.Invoice) error {
	return billing.SaveBalance(ctx, r.tx, inv)
}

func (r *txRepo) HasActivePlan(ctx context.Context, debtID int64) (bool, error) {
	var exists bool
	err := r.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM payment_plans WHERE debt_id = $1 AND status = 'active')`, debtID).Scan(&exists)
	return exists, err
}

func (r *txRepo) NextNumber(ctx context.Context, series string, now time.Time) (string, error) {
	return sequence.Next(ctx, r.tx, series, now)
}

func (r *txRepo) InsertPlan(ctx context.Context, p PaymentPlan) (PaymentPlan, error) {
	stored, err := scanPlan(r.tx.QueryRow(ctx, `INSERT INTO payment_plans (plan_no, customer_id, debt_id, total_amount, down_payment,
		financed_amount, number_of_installments, paid_amount, status, start_date, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11) RETURNING `+planColumns,
		p.PlanNo, p.CustomerID, p.DebtID, p.TotalAmount, p.DownPayment, p.FinancedAmount, p.NumberOfInstallments,
		p.PaidAmount, string(p.Status), p.StartDate, p.CreatedBy))
	if err != nil {
		return PaymentPlan{}, err
	}
	rowsIn := make([][]any, 0, len(p.Installments))
	for _, inst := range p.Installments {
		rowsIn = append(rowsIn, []any{stored.ID, inst.Sequence, inst.DueDate, inst.Amount, inst.PaidAmount, string(inst.Status)})
	}
	if _, err := r.tx.CopyFrom(ctx, pgx.Identifier{"installments"},
		[]string{"plan_id", "seq", "due_date", "amount", "paid_amount", "status"}, pgx.CopyFromRows(rowsIn)); err != nil {
		return PaymentPlan{}, fmt.Errorf("insert installments: %w", err)
	}
	stored.Installments, err = listInstallments(ctx, r.tx, stored.ID, false)
	return stored, err
}

func (r *txRepo) LockPlan(ctx context.Context, id int64) (PaymentPlan, error) {
	return loadPlan(ctx, r.tx, id, true)
}

func (r *txRepo) UpdatePlan(ctx context.Context, p PaymentPlan) error {
	_, err := r.tx.Exec(ctx, `UPDATE payment_plans SET paid_amount = $2, status = $3, updated_at = NOW() WHERE id = $1`,
		p.ID, p.PaidAmount, string(p.Status))
	return err
}

func (r *txRepo) UpdateInstallment(ctx context.Context, inst Installment) error {
	_, err := r.tx.Exec(ctx, `UPDATE installments SET paid_amount = $2, status = $3, paid_at = $4 WHERE id = $1`,
		inst.ID, inst.PaidAmount, string(inst.Status), inst.PaidAt)
	return err
}

func loadPlan(ctx context.Context, q db.Querier, id int64, forUpdate bool) (PaymentPlan, error) {
	sql := `SELECT ` + planColumns + ` FROM payment_plans WHERE id = $1`
	if forUpdate {
		sql += ` FOR UPDATE`
	}
	plan, err := scanPlan(q.QueryRow(ctx, sql, id))
	if err != nil {
		return PaymentPlan{}, err
	}
	plan.Installments, err = listInstallments(ctx, q, id, forUpdate)
	return plan, err
}

func listInstallments(ctx context.Context, q db.Querier, planID int64, forUpdate bool) ([]Installment, error) {
	sql := `SELECT ` + installmentColumns + ` FROM installments WHERE plan_id = $1 ORDER BY seq`
	if forUpdate {
		sql += ` FOR UPDATE`
	}
	rows, err := q.Query(ctx, sql, planID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Installment
	for rows.Next() {
		var (
			inst   Installment
			status string
		)
		if err := rows.Scan(&inst.ID, &inst.PlanID, &inst.Sequence, &inst.DueDate, &inst.Amount, &inst.PaidAmount, &status, &inst.PaidAt); err != nil {
			return nil, err
		}
		inst.Status = InstallmentStatus(status)
		out = append(out, inst)
	}
	return out, rows.Err()
}

func scanDebt(row pgx.Row) (Debt, error) {
	var (
		d      Debt
		status string
	)
	err := row.Scan(&d.ID, &d.CustomerID, &d.InvoiceID, &d.OriginalAmount, &d.PaidAmount, &d.PlanPaidAmount, &d.RemainingAmount,
		&status, &d.Note, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Debt{}, ErrDebtNotFound
	}
	d.Status = Status(status)
	return d, err
}

func scanPlan(row pgx.Row) (PaymentPlan, error) {
	var (
		p      PaymentPlan
		status string
	)
	err := row.Scan(&p.ID, &p.PlanNo, &p.CustomerID, &p.DebtID, &p.TotalAmount, &p.DownPayment, &p.FinancedAmount,
		&p.NumberOfInstallments, &p.PaidAmount, &status, &p.StartDate, &p.CreatedBy, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return PaymentPlan{}, ErrPlanNotFound
	}
	p.Status = PlanStatus(status)
	return p, err
}
