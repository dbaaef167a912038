package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gridbill/gridbill/internal/metering"
	"github.com/gridbill/gridbill/internal/platform/db"
	"github.com/gridbill/gridbill/internal/sequence"
)

const invoiceColumns = `id, invoice_no, customer_id, meter_id, reading_id, billing_period, previous_reading, current_reading,
	consumption_kwh, energy_amount, fixed_charge, total_amount, paid_amount, balance, status, issue_date, due_date,
	cancelled_at, cancel_reason, created_by, created_at, updated_at`

// LoadInvoice fetches an invoice header using q.
func LoadInvoice(ctx context.Context, q db.Querier, id int64) (Invoice, error) {
	return scanInvoice(q.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1`, id))
}

// LockInvoice fetches an invoice header and holds its row lock until the transaction ends.
func LockInvoice(ctx context.Context, q db.Querier, id int64) (Invoice, error) {
	return scanInvoice(q.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1 FOR UPDATE`, id))
}

// SaveBalance persists paid amount, balance and status of an invoice.
func SaveBalance(ctx context.Context, q db.Querier, inv Invoice) error {
	tag, err := q.Exec(ctx, `UPDATE invoices SET paid_amount = $2, balance = $3, status = $4, updated_at = NOW() WHERE id = $1`,
		inv.ID, inv.PaidAmount, inv.Balance, string(inv.Status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInvoiceNotFound
	}
	return nil
}

// Repository persists invoices in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	GetCustomer(ctx context.Context, id int64) (CustomerInfo, error)
	LoadReading(ctx context.Context, id int64) (metering.Reading, error)
	LoadMeter(ctx context.Context, id int64) (metering.MeterInfo, error)
	Baseline(ctx context.Context, meter metering.MeterInfo, before time.Time, excludeID int64) (metering.Baseline, error)
	InvoiceExists(ctx context.Context, customerID, meterID int64, period string) (bool, error)
	ReadingInvoiced(ctx context.Context, readingID int64) (bool, error)
	NextNumber(ctx context.Context, series string, now time.Time) (string, error)
	InsertInvoice(ctx context.Context, inv Invoice) (Invoice, error)
	LockInvoice(ctx context.Context, id int64) (Invoice, error)
	CancelInvoice(ctx context.Context, id int64, at time.Time, reason string) error
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

// GetInvoice fetches an invoice with its lines.
func (r *Repository) GetInvoice(ctx context.Context, id int64) (Invoice, error) {
	inv, err := LoadInvoice(ctx, r.pool, id)
	if err != nil {
		return Invoice{}, err
	}
	inv.Lines, err = r.listLines(ctx, id)
	return inv, err
}

func (r *Repository) listLines(ctx context.Context, invoiceID int64) ([]InvoiceLine, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, invoice_id, band_order, from_kwh, to_kwh, usage_kwh, rate_per_kwh, amount
		FROM invoice_lines WHERE invoice_id = $1 ORDER BY band_order`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []InvoiceLine
	for rows.Next() {
		var l InvoiceLine
		if err := rows.Scan(&l.ID, &l.InvoiceID, &l.BandOrder, &l.FromKwh, &l.ToKwh, &l.UsageKwh, &l.RatePerKwh, &l.Amount); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// ListInvoices returns a filtered page of invoice headers and the total match count.
func (r *Repository) ListInvoices(ctx context.Context, filter ListFilter) ([]Invoice, int, error) {
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
	if filter.Period != "" {
		args = append(args, filter.Period)
		clauses = append(clauses, fmt.Sprintf("billing_period = $%d", len(args)))
	}
	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM invoices`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	args = append(args, filter.Page.Limit(), filter.Page.Offset())
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`SELECT %s FROM invoices%s ORDER BY issue_date DESC, id DESC LIMIT $%d OFFSET $%d`,
		invoiceColumns, where, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, inv)
	}
	return out, total, rows.Err()
}

// MarkOverdue flags unpaid issued invoices whose due date is before asOf.
func (r *Repository) MarkOverdue(ctx context.Context, asOf time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE invoices SET status = 'overdue', updated_at = NOW()
		WHERE status = 'issued' AND balance > 0 AND due_date < $1`, asOf)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// GetCustomer fetches the billing view of a customer.
func (r *Repository) GetCustomer(ctx context.Context, id int64) (CustomerInfo, error) {
	return loadCustomer(ctx, r.pool, id)
}

// GetMeterNo returns the human readable number of a meter.
func (r *Repository) GetMeterNo(ctx context.Context, id int64) (string, error) {
	var no string
	err := r.pool.QueryRow(ctx, `SELECT meter_no FROM meters WHERE id = $1`, id).Scan(&no)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", metering.ErrMeterNotFound
	}
	return no, err
}

func (r *txRepo) GetCustomer(ctx context.Context, id int64) (CustomerInfo, error) {
	return loadCustomer(ctx, r.tx, id)
}

func (r *txRepo) LoadReading(ctx context.Context, id int64) (metering.Reading, error) {
	return metering.LoadReading(ctx, r.tx, id)
}

func (r *txRepo) LoadMeter(ctx context.Context, id int64) (metering.MeterInfo, error) {
	return metering.LoadMeter(ctx, r.tx, id, false)
}

func (r *txRepo) Baseline(ctx context.Context, meter metering.MeterInfo, before time.Time, excludeID int64) (metering.Baseline, error) {
	return metering.PreviousBaseline(ctx, r.tx, meter, before, excludeID)
}

func (r *txRepo) InvoiceExists(ctx context.Context, customerID, meterID int64, period string) (bool, error) {
	var exists bool
	err := r.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM invoices
		WHERE customer_id = $1 AND meter_id = $2 AND billing_period = $3 AND status <> 'cancelled')`,
		customerID, meterID, period).Scan(&exists)
	return exists, err
}

func (r *txRepo) ReadingInvoiced(ctx context.Context, readingID int64) (bool, error) {
	var exists bool
	err := r.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM invoices WHERE reading_id = $1 AND status <> 'cancelled')`,
		readingID).Scan(&exists)
	return exists, err
}

func (r *txRepo) NextNumber(ctx context.Context, series string, now time.Time) (string, error) {
	return sequence.Next(ctx, r.tx, series, now)
}

func (r *txRepo) InsertInvoice(ctx context.Context, inv Invoice) (Invoice, error) {
	stored, err := scanInvoice(r.tx.QueryRow(ctx, `INSERT INTO invoices (invoice_no, customer_id, meter_id, reading_id, billing_period,
		previous_reading, current_reading, consumption_kwh, energy_amount, fixed_charge, total_amount, paid_amount, balance,
		status, issue_date, due_date, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17) RETURNING `+invoiceColumns,
		inv.InvoiceNo, inv.CustomerID, inv.MeterID, inv.ReadingID, inv.BillingPeriod,
		inv.PreviousReading, inv.CurrentReading, inv.ConsumptionKwh, inv.EnergyAmount, inv.FixedCharge, inv.TotalAmount,
		inv.PaidAmount, inv.Balance, string(inv.Status), inv.IssueDate, inv.DueDate, inv.CreatedBy))
	if db.IsUniqueViolation(err) {
		return Invoice{}, ErrDuplicateInvoice
	}
	if err != nil {
		return Invoice{}, err
	}
	batch := &pgx.Batch{}
	for _, l := range inv.Lines {
		batch.Queue(`INSERT INTO invoice_lines (invoice_id, band_order, from_kwh, to_kwh, usage_kwh, rate_per_kwh, amount)
			VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
			stored.ID, l.BandOrder, l.FromKwh, l.ToKwh, l.UsageKwh, l.RatePerKwh, l.Amount)
	}
	results := r.tx.SendBatch(ctx, batch)
	defer func() {
		_ = results.Close()
	}()
	for _, l := range inv.Lines {
		l.InvoiceID = stored.ID
		if err := results.QueryRow().Scan(&l.ID); err != nil {
			return Invoice{}, fmt.Errorf("insert invoice line: %w", err)
		}
		stored.Lines = append(stored.Lines, l)
	}
	return stored, nil
}

func (r *txRepo) LockInvoice(ctx context.Context, id int64) (Invoice, error) {
	return LockInvoice(ctx, r.tx, id)
}

func (r *txRepo) CancelInvoice(ctx context.Context, id int64, at time.Time, reason string) error {
	_, err := r.tx.Exec(ctx, `UPDATE invoices SET status = 'cancelled', cancelled_at = $2, cancel_reason = $3, updated_at = NOW()
		WHERE id = $1`, id, at, reason)
	return err
}

func loadCustomer(ctx context.Context, q db.Querier, id int64) (CustomerInfo, error) {
	var c CustomerInfo
	err := q.QueryRow(ctx, `SELECT id, customer_no, name, address, category_id, status = 'active' FROM customers WHERE id = $1`, id).
		Scan(&c.ID, &c.CustomerNo, &c.Name, &c.Address, &c.CategoryID, &c.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return CustomerInfo{}, ErrCustomerNotFound
	}
	return c, err
}

func scanInvoice(row pgx.Row) (Invoice, error) {
	var (
		inv    Invoice
		status string
	)
	err := row.Scan(&inv.ID, &inv.InvoiceNo, &inv.CustomerID, &inv.MeterID, &inv.ReadingID, &inv.BillingPeriod,
		&inv.PreviousReading, &inv.CurrentReading, &inv.ConsumptionKwh, &inv.EnergyAmount, &inv.FixedCharge,
		&inv.TotalAmount, &inv.PaidAmount, &inv.Balance, &status, &inv.IssueDate, &inv.DueDate,
		&inv.CancelledAt, &inv.CancelReason, &inv.CreatedBy, &inv.CreatedAt, &inv.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Invoice{}, ErrInvoiceNotFound
	}
	inv.Status = Status(status)
	return inv, err
}
