package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gridbill/gridbill/internal/billing"
	"github.com/gridbill/gridbill/internal/platform/db"
	"github.com/gridbill/gridbill/internal/sequence"
)

const paymentColumns = `id, payment_no, invoice_id, customer_id, amount, channel, reference, status, idempotency_key,
	received_by, paid_at, cancelled_at, cancel_reason, created_at`

// Repository persists payments in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	LockInvoice(ctx context.Context, id int64) (billing.Invoice, error)
	SaveInvoice(ctx context.Context, inv billing.Invoice) error
	NextNumber(ctx context.Context, series string, now time.Time) (string, error)
	InsertPayment(ctx context.Context, p Payment) (Payment, error)
	LockPayment(ctx context.Context, id int64) (Payment, error)
	CancelPayment(ctx context.Context, id int64, at time.Time, reason string) (Payment, error)
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

// GetPayment fetches one payment.
func (r *Repository) GetPayment(ctx context.Context, id int64) (Payment, error) {
	return scanPayment(r.pool.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id))
}

// GetInvoice fetches the invoice a payment belongs to.
func (r *Repository) GetInvoice(ctx context.Context, id int64) (billing.Invoice, error) {
	return billing.LoadInvoice(ctx, r.pool, id)
}

// FindByIdempotencyKey returns the payment recorded under key.
func (r *Repository) FindByIdempotencyKey(ctx context.Context, key string) (Payment, error) {
	return scanPayment(r.pool.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE idempotency_key = $1`, key))
}

// ListPayments returns a filtered page of payments and the total match count.
func (r *Repository) ListPayments(ctx context.Context, filter ListFilter) ([]Payment, int, error) {
	var (
		clauses []string
		args    []any
	)
	if filter.InvoiceID > 0 {
		args = append(args, filter.InvoiceID)
		clauses = append(clauses, fmt.Sprintf("invoice_id = $%d", len(args)))
	}
	if filter.CustomerID > 0 {
		args = append(args, filter.CustomerID)
		clauses = append(clauses, fmt.Sprintf("customer_id = $%d", len(args)))
	}
	if filter.Channel != "" {
		args = append(args, string(filter.Channel))
		clauses = append(clauses, fmt.Sprintf("channel = $%d", len(args)))
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
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM payments`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	args = append(args, filter.Page.Limit(), filter.Page.Offset())
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`SELECT %s FROM payments%s ORDER BY paid_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		paymentColumns, where, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, p)
	}
	return out, total, rows.Err()
}

func (r *txRepo) LockInvoice(ctx context.Context, id int64) (billing.Invoice, error) {
	return billing.LockInvoice(ctx, r.tx, id)
}

func (r *txRepo) SaveInvoice(ctx context.Context, inv billing.Invoice) error {
	return billing.SaveBalance(ctx, r.tx, inv)
}

func (r *txRepo) NextNumber(ctx context.Context, series string, now time.Time) (string, error) {
	return sequence.Next(ctx, r.tx, series, now)
}

func (r *txRepo) InsertPayment(ctx context.Context, p Payment) (Payment, error) {
	var key *string
	if p.IdempotencyKey != "" {
		key = &p.IdempotencyKey
	}
	return scanPayment(r.tx.QueryRow(ctx, `INSERT INTO payments (payment_no, invoice_id, customer_id, amount, channel, reference,
		status, idempotency_key, received_by, paid_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) RETURNING `+paymentColumns,
		p.PaymentNo, p.InvoiceID, p.CustomerID, p.Amount, string(p.Channel), p.Reference,
		string(p.Status), key, p.ReceivedBy, p.PaidAt))
}

func (r *txRepo) LockPayment(ctx context.Context, id int64) (Payment, error) {
	return scanPayment(r.tx.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1 FOR UPDATE`, id))
}

func (r *txRepo) CancelPayment(ctx context.Context, id int64, at time.Time, reason string) (Payment, error) {
	return scanPayment(r.tx.QueryRow(ctx, `UPDATE payments SET status = 'cancelled', cancelled_at = $2, cancel_reason = $3
		WHERE id = $1 RETURNING `+paymentColumns, id, at, reason))
}

func scanPayment(row pgx.Row) (Payment, error) {
	var (
		p       Payment
		channel string
		status  string
		key     *string
	)
	err := row.Scan(&p.ID, &p.PaymentNo, &p.InvoiceID, &p.CustomerID, &p.Amount, &channel, &p.Reference, &status, &key,
		&p.ReceivedBy, &p.PaidAt, &p.CancelledAt, &p.CancelReason, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Payment{}, ErrPaymentNotFound
	}
	p.Channel = Channel(channel)
	p.Status = Status(status)
	if key != nil {
		p.IdempotencyKey = *key
	}
	return p, err
}
