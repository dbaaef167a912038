package tariff

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/gridbill/gridbill/internal/platform/db"
)

// Repository persists categories and bands in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by the service.
type TxRepository interface {
	LockCategory(ctx context.Context, id int64) (Category, error)
	GetCategoryByCode(ctx context.Context, code string) (Category, error)
	InsertCategory(ctx context.Context, c Category) (Category, error)
	DeleteBands(ctx context.Context, categoryID int64) error
	InsertBand(ctx context.Context, b Band) (int64, error)
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

// ListCategories returns every category ordered by code.
func (r *Repository) ListCategories(ctx context.Context) ([]Category, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, code, name, description, created_at FROM tariff_categories ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Category
	for rows.Next() {
		var c Category
		if err := rows.Scan(&c.ID, &c.Code, &c.Name, &c.Description, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetCategory fetches a category by id.
func (r *Repository) GetCategory(ctx context.Context, id int64) (Category, error) {
	return scanCategory(r.pool.QueryRow(ctx, `SELECT id, code, name, description, created_at FROM tariff_categories WHERE id = $1`, id))
}

// ListBands returns the bands of a category ascending by lower bound.
func (r *Repository) ListBands(ctx context.Context, categoryID int64) ([]Band, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, category_id, band_order, from_kwh, to_kwh, rate_per_kwh, fixed_charge
		FROM tariff_bands WHERE category_id = $1 ORDER BY from_kwh, band_order`, categoryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Band
	for rows.Next() {
		var (
			b  Band
			to decimal.NullDecimal
		)
		if err := rows.Scan(&b.ID, &b.CategoryID, &b.Order, &b.FromKwh, &to, &b.RatePerKwh, &b.FixedCharge); err != nil {
			return nil, err
		}
		if to.Valid {
			v := to.Decimal
			b.ToKwh = &v
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (r *txRepo) LockCategory(ctx context.Context, id int64) (Category, error) {
	return scanCategory(r.tx.QueryRow(ctx, `SELECT id, code, name, description, created_at FROM tariff_categories WHERE id = $1 FOR UPDATE`, id))
}

func (r *txRepo) GetCategoryByCode(ctx context.Context, code string) (Category, error) {
	return scanCategory(r.tx.QueryRow(ctx, `SELECT id, code, name, description, created_at FROM tariff_categories WHERE code = $1 FOR UPDATE`, code))
}

func (r *txRepo) InsertCategory(ctx context.Context, c Category) (Category, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO tariff_categories (code, name, description) VALUES ($1, $2, $3) RETURNING id, created_at`,
		c.Code, c.Name, c.Description).Scan(&c.ID, &c.CreatedAt)
	if db.IsUniqueViolation(err) {
		return Category{}, fmt.Errorf("%w: %s", ErrDuplicateCategory, c.Code)
	}
	return c, err
}

func (r *txRepo) DeleteBands(ctx context.Context, categoryID int64) error {
	_, err := r.tx.Exec(ctx, `DELETE FROM tariff_bands WHERE category_id = $1`, categoryID)
	return err
}

func (r *txRepo) InsertBand(ctx context.Context, b Band) (int64, error) {
	var to decimal.NullDecimal
	if b.ToKwh != nil {
		to = decimal.NewNullDecimal(*b.ToKwh)
	}
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO tariff_bands (category_id, band_order, from_kwh, to_kwh, rate_per_kwh, fixed_charge)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		b.CategoryID, b.Order, b.FromKwh, to, b.RatePerKwh, b.FixedCharge).Scan(&id)
	return id, err
}

func scanCategory(row pgx.Row) (Category, error) {
	var c Category
	err := row.Scan(&c.ID, &c.Code, &c.Name, &c.Description, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Category{}, ErrCategoryNotFound
	}
	return c, err
}
