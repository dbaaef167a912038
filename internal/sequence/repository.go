package sequence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gridbill/gridbill/internal/platform/db"
)

const selectColumns = `name, prefix, padding, reset_yearly, current_year, current_value, updated_at`

// Next allocates the next number of series name inside the caller's transaction.
// The row stays locked until that transaction ends, so concurrent callers serialize.
func Next(ctx context.Context, q db.Querier, name string, now time.Time) (string, error) {
	seq, err := scanSequence(q.QueryRow(ctx, `SELECT `+selectColumns+` FROM sequences WHERE name = $1 FOR UPDATE`, name))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("%w %q", ErrSequenceNotFound, name)
		}
		return "", fmt.Errorf("sequence: lock %s: %w", name, err)
	}
	seq = Advance(seq, now)
	number, err := seq.Number()
	if err != nil {
		return "", err
	}
	if _, err := q.Exec(ctx, `UPDATE sequences SET current_value = $2, current_year = $3, updated_at = $4 WHERE name = $1`,
		seq.Name, seq.CurrentValue, seq.CurrentYear, seq.UpdatedAt); err != nil {
		return "", fmt.Errorf("sequence: advance %s: %w", name, err)
	}
	return number, nil
}

// Repository persists sequence configuration.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// List returns every configured series.
func (r *Repository) List(ctx context.Context) ([]Sequence, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+selectColumns+` FROM sequences ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Sequence
	for rows.Next() {
		seq, err := scanSequence(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, seq)
	}
	return out, rows.Err()
}

// Configure updates prefix, padding and reset policy without touching the counter.
func (r *Repository) Configure(ctx context.Context, name string, input ConfigureInput) (Sequence, error) {
	seq, err := scanSequence(r.pool.QueryRow(ctx, `UPDATE sequences SET prefix = $2, padding = $3, reset_yearly = $4, updated_at = NOW()
		WHERE name = $1 RETURNING `+selectColumns, name, input.Prefix, input.Padding, input.ResetYearly))
	if errors.Is(err, pgx.ErrNoRows) {
		return Sequence{}, fmt.Errorf("%w %q", ErrSequenceNotFound, name)
	}
	return seq, err
}

// Next allocates a number in its own transaction.
func (r *Repository) Next(ctx context.Context, name string, now time.Time) (string, error) {
	var number string
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var err error
		number, err = Next(ctx, tx, name, now)
		return err
	})
	return number, err
}

func scanSequence(row pgx.Row) (Sequence, error) {
	var seq Sequence
	err := row.Scan(&seq.Name, &seq.Prefix, &seq.Padding, &seq.ResetYearly, &seq.CurrentYear, &seq.CurrentValue, &seq.UpdatedAt)
	return seq, err
}
