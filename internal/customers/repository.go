package customers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gridbill/gridbill/internal/platform/db"
	"github.com/gridbill/gridbill/internal/sequence"
)

const (
	customerColumns = `id, customer_no, name, email, phone, address, category_id, status, created_at, updated_at`
	meterColumns    = `id, meter_no, serial_number, customer_id, initial_reading, installed_at, status, removed_at`
	contractColumns = `id, contract_no, customer_id, meter_id, start_date, end_date, deposit, status, terminated_at, termination_reason`
)

// Repository persists customers, meters and contracts in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	NextNumber(ctx context.Context, series string) (string, error)
	CategoryExists(ctx context.Context, id int64) (bool, error)
	InsertCustomer(ctx context.Context, c Customer) (Customer, error)
	GetCustomerForUpdate(ctx context.Context, id int64) (Customer, error)
	UpdateCustomer(ctx context.Context, c Customer) (Customer, error)
	InsertMeter(ctx context.Context, m Meter) (Meter, error)
	GetMeterForUpdate(ctx context.Context, id int64) (Meter, error)
	RemoveMeter(ctx context.Context, id int64, at time.Time) error
	HasActiveContract(ctx context.Context, meterID int64) (bool, error)
	InsertContract(ctx context.Context, c Contract) (Contract, error)
	GetContractForUpdate(ctx context.Context, id int64) (Contract, error)
	TerminateContract(ctx context.Context, id int64, at time.Time, reason string) error
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

// GetCustomer fetches a customer by id.
func (r *Repository) GetCustomer(ctx context.Context, id int64) (Customer, error) {
	return scanCustomer(r.pool.QueryRow(ctx, `SELECT `+customerColumns+` FROM customers WHERE id = $1`, id))
}

// ListCustomers returns a filtered page of customers and the total match count.
func (r *Repository) ListCustomers(ctx context.Context, filter CustomerFilter) ([]Customer, int, error) {
	where, args := customerWhere(filter)
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM customers`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	args = append(args, filter.Page.Limit(), filter.Page.Offset())
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`SELECT %s FROM customers%s ORDER BY id DESC LIMIT $%d OFFSET $%d`,
		customerColumns, where, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []Customer
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, c)
	}
	return out, total, rows.Err()
}

func customerWhere(filter CustomerFilter) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	if s := strings.TrimSpace(filter.Search); s != "" {
		args = append(args, "%"+s+"%")
		n := len(args)
		clauses = append(clauses, fmt.Sprintf("(name ILIKE $%d OR customer_no ILIKE $%d OR email ILIKE $%d)", n, n, n))
	}
	if filter.CategoryID > 0 {
		args = append(args, filter.CategoryID)
		clauses = append(clauses, fmt.Sprintf("category_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// GetMeter fetches a meter by id.
func (r *Repository) GetMeter(ctx context.Context, id int64) (Meter, error) {
	return scanMeter(r.pool.QueryRow(ctx, `SELECT `+meterColumns+` FROM meters WHERE id = $1`, id))
}

// ListMeters returns the meters of a customer.
func (r *Repository) ListMeters(ctx context.Context, customerID int64) ([]Meter, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+meterColumns+` FROM meters WHERE customer_id = $1 ORDER BY id`, customerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Meter
	for rows.Next() {
		m, err := scanMeter(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// GetContract fetches a contract by id.
func (r *Repository) GetContract(ctx context.Context, id int64) (Contract, error) {
	return scanContract(r.pool.QueryRow(ctx, `SELECT `+contractColumns+` FROM contracts WHERE id = $1`, id))
}

// ListContracts returns a filtered page of contracts.
func (r *Repository) ListContracts(ctx context.Context, filter ContractFilter) ([]Contract, int, error) {
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
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM contracts`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	args = append(args, filter.Page.Limit(), filter.Page.Offset())
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`SELECT %s FROM contracts%s ORDER BY id DESC LIMIT $%d OFFSET $%d`,
		contractColumns, where, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []Contract
	for rows.Next() {
		c, err := scanContract(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, c)
	}
	return out, total, rows.Err()
}

func (r *txRepo) NextNumber(ctx context.Context, series string) (string, error) {
	return sequence.Next(ctx, r.tx, series, time.Now())
}

func (r *txRepo) CategoryExists(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := r.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM tariff_categories WHERE id = $1)`, id).Scan(&exists)
	return exists, err
}

func (r *txRepo) InsertCustomer(ctx context.Context, c Customer) (Customer, error) {
	return scanCustomer(r.tx.QueryRow(ctx, `INSERT INTO customers (customer_no, name, email, phone, address, category_id, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING `+customerColumns,
		c.CustomerNo, c.Name, c.Email, c.Phone, c.Address, c.CategoryID, string(c.Status)))
}

func (r *txRepo) GetCustomerForUpdate(ctx context.Context, id int64) (Customer, error) {
	return scanCustomer(r.tx.QueryRow(ctx, `SELECT `+customerColumns+` FROM customers WHERE id = $1 FOR UPDATE`, id))
}

func (r *txRepo) UpdateCustomer(ctx context.Context, c Customer) (Customer, error) {
	return scanCustomer(r.tx.QueryRow(ctx, `UPDATE customers SET name = $2, email = $3, phone = $4, address = $5, category_id = $6,
		status = $7, updated_at = NOW() WHERE id = $1 RETURNING `+customerColumns,
		c.ID, c.Name, c.Email, c.Phone, c.Address, c.CategoryID, string(c.Status)))
}

func (r *txRepo) InsertMeter(ctx context.Context, m Meter) (Meter, error) {
	out, err := scanMeter(r.tx.QueryRow(ctx, `INSERT INTO meters (meter_no, serial_number, customer_id, initial_reading, installed_at, status)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING `+meterColumns,
		m.MeterNo, m.SerialNumber, m.CustomerID, m.InitialReading, m.InstalledAt, string(m.Status)))
	if db.IsUniqueViolation(err) {
		return Meter{}, fmt.Errorf("%w: %s", ErrDuplicateSerial, m.SerialNumber)
	}
	return out, err
}

func (r *txRepo) GetMeterForUpdate(ctx context.Context, id int64) (Meter, error) {
	return scanMeter(r.tx.QueryRow(ctx, `SELECT `+meterColumns+` FROM meters WHERE id = $1 FOR UPDATE`, id))
}

func (r *txRepo) RemoveMeter(ctx context.Context, id int64, at time.Time) error {
	_, err := r.tx.Exec(ctx, `UPDATE meters SET status = 'removed', removed_at = $2 WHERE id = $1`, id, at)
	return err
}

func (r *txRepo) HasActiveContract(ctx context.Context, meterID int64) (bool, error) {
	var exists bool
	err := r.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM contracts WHERE meter_id = $1 AND status = 'active')`, meterID).Scan(&exists)
	return exists, err
}

func (r *txRepo) InsertContract(ctx context.Context, c Contract) (Contract, error) {
	return scanContract(r.tx.QueryRow(ctx, `INSERT INTO contracts (contract_no, customer_id, meter_id, start_date, end_date, deposit, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING `+contractColumns,
		c.ContractNo, c.CustomerID, c.MeterID, c.StartDate, c.EndDate, c.Deposit, string(c.Status)))
}

func (r *txRepo) GetContractForUpdate(ctx context.Context, id int64) (Contract, error) {
	return scanContract(r.tx.QueryRow(ctx, `SELECT `+contractColumns+` FROM contracts WHERE id = $1 FOR UPDATE`, id))
}

func (r *txRepo) TerminateContract(ctx context.Context, id int64, at time.Time, reason string) error {
	_, err := r.tx.Exec(ctx, `UPDATE contracts SET status = 'terminated', terminated_at = $2, termination_reason = $3 WHERE id = $1`, id, at, reason)
	return err
}

func scanCustomer(row pgx.Row) (Customer, error) {
	var (
		c      Customer
		status string
	)
	err := row.Scan(&c.ID, &c.CustomerNo, &c.Name, &c.Email, &c.Phone, &c.Address, &c.CategoryID, &status, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Customer{}, ErrCustomerNotFound
	}
	c.Status = CustomerStatus(status)
	return c, err
}

func scanMeter(row pgx.Row) (Meter, error) {
	var (
		m      Meter
		status string
	)
	err := row.Scan(&m.ID, &m.MeterNo, &m.SerialNumber, &m.CustomerID, &m.InitialReading, &m.InstalledAt, &status, &m.RemovedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Meter{}, ErrMeterNotFound
	}
	m.Status = MeterStatus(status)
	return m, err
}

func scanContract(row pgx.Row) (Contract, error) {
	var (
		c      Contract
		status string
	)
	err := row.Scan(&c.ID, &c.ContractNo, &c.CustomerID, &c.MeterID, &c.StartDate, &c.EndDate, &c.Deposit, &status, &c.TerminatedAt, &c.TerminationReason)
	if errors.Is(err, pgx.ErrNoRows) {
		return Contract{}, ErrContractNotFound
	}
	c.Status = ContractStatus(status)
	return c, err
}
