package reporting

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Repository runs the read-only report queries against PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ActiveCustomers counts customers that can be billed.
func (r *Repository) ActiveCustomers(ctx context.Context) (int64, error) {
	var n int64
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM customers WHERE status = 'active'`).Scan(&n)
	return n, err
}

// Billed counts and sums non-cancelled invoices issued in [from, to).
func (r *Repository) Billed(ctx context.Context, from, to time.Time) (int64, decimal.Decimal, error) {
	var (
		n      int64
		amount decimal.Decimal
	)
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*), COALESCE(SUM(total_amount), 0) FROM invoices
		WHERE status <> 'cancelled' AND issue_date >= $1 AND issue_date < $2`, from, to).Scan(&n, &amount)
	return n, amount, err
}

// Collected sums confirmed payments received in [from, to).
func (r *Repository) Collected(ctx context.Context, from, to time.Time) (decimal.Decimal, error) {
	var amount decimal.Decimal
	err := r.pool.QueryRow(ctx, `SELECT COALESCE(SUM(amount), 0) FROM payments
		WHERE status = 'confirmed' AND paid_at >= $1 AND paid_at < $2`, from, to).Scan(&amount)
	return amount, err
}

// Receivables sums open invoice balances and counts those past due at asOf.
func (r *Repository) Receivables(ctx context.Context, asOf time.Time) (Receivables, error) {
	var out Receivables
	err := r.pool.QueryRow(ctx, `SELECT COALESCE(SUM(balance), 0), COUNT(*) FILTER (WHERE due_date < $1) FROM invoices
		WHERE status IN ('issued', 'partial', 'overdue') AND balance > 0`, asOf).Scan(&out.Balance, &out.Overdue)
	return out, err
}

// Debts sums collectible debt and counts active payment plans.
func (r *Repository) Debts(ctx context.Context) (DebtSummary, error) {
	var out DebtSummary
	err := r.pool.QueryRow(ctx, `SELECT
		(SELECT COALESCE(SUM(remaining_amount), 0) FROM debts WHERE status IN ('outstanding', 'partial')),
		(SELECT COUNT(*) FROM payment_plans WHERE status = 'active')`).Scan(&out.Outstanding, &out.ActivePlans)
	return out, err
}

// OpenBalances lists invoices with an unpaid balance issued on or before asOf.
func (r *Repository) OpenBalances(ctx context.Context, asOf time.Time) ([]OpenBalance, error) {
	rows, err := r.pool.Query(ctx, `SELECT i.id, i.customer_id, c.customer_no, c.name, i.due_date, i.balance
		FROM invoices i JOIN customers c ON c.id = i.customer_id
		WHERE i.status IN ('issued', 'partial', 'overdue') AND i.balance > 0 AND i.issue_date <= $1
		ORDER BY c.customer_no, i.due_date, i.id`, asOf)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []OpenBalance
	for rows.Next() {
		var b OpenBalance
		if err := rows.Scan(&b.InvoiceID, &b.CustomerID, &b.CustomerNo, &b.Name, &b.DueDate, &b.Balance); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// Customer loads the statement header.
func (r *Repository) Customer(ctx context.Context, id int64) (CustomerRef, error) {
	var c CustomerRef
	err := r.pool.QueryRow(ctx, `SELECT id, customer_no, name, address FROM customers WHERE id = $1`, id).
		Scan(&c.ID, &c.CustomerNo, &c.Name, &c.Address)
	if errors.Is(err, pgx.ErrNoRows) {
		return CustomerRef{}, ErrCustomerNotFound
	}
	return c, err
}

// OpeningBalance is what the customer owed before from.
func (r *Repository) OpeningBalance(ctx context.Context, customerID int64, from time.Time) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := r.pool.QueryRow(ctx, `SELECT
		(SELECT COALESCE(SUM(total_amount), 0) FROM invoices WHERE customer_id = $1 AND status <> 'cancelled' AND issue_date < $2)
		- (SELECT COALESCE(SUM(amount), 0) FROM payments WHERE customer_id = $1 AND status = 'confirmed' AND paid_at < $2)`,
		customerID, from).Scan(&balance)
	return balance, err
}

// StatementEntries lists invoices and confirmed payments in [from, to).
func (r *Repository) StatementEntries(ctx context.Context, customerID int64, from, to time.Time) ([]StatementEntry, error) {
	rows, err := r.pool.Query(ctx, `SELECT issue_date::timestamptz, 'invoice', invoice_no, billing_period, total_amount FROM invoices
		WHERE customer_id = $1 AND status <> 'cancelled' AND issue_date >= $2 AND issue_date < $3
		UNION ALL
		SELECT p.paid_at, 'payment', p.payment_no, i.invoice_no, p.amount FROM payments p JOIN invoices i ON i.id = p.invoice_id
		WHERE p.customer_id = $1 AND p.status = 'confirmed' AND p.paid_at >= $2 AND p.paid_at < $3`, customerID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []StatementEntry
	for rows.Next() {
		var e StatementEntry
		if err := rows.Scan(&e.Date, &e.Kind, &e.Reference, &e.Detail, &e.Amount); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
