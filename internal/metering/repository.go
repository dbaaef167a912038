package metering

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gridbill/gridbill/internal/platform/db"
	"github.com/gridbill/gridbill/internal/shared"
)

const readingColumns = `id, meter_id, value, read_at, source, status, note, recorded_by, created_at`

// LoadReading fetches a reading by id using q.
func LoadReading(ctx context.Context, q db.Querier, id int64) (Reading, error) {
	return scanReading(q.QueryRow(ctx, `SELECT `+readingColumns+` FROM meter_readings WHERE id = $1`, id))
}

// LoadMeter fetches meter data using q, optionally locking the row.
func LoadMeter(ctx context.Context, q db.Querier, id int64, forUpdate bool) (MeterInfo, error) {
	sql := `SELECT id, customer_id, initial_reading, installed_at, status = 'active' FROM meters WHERE id = $1`
	if forUpdate {
		sql += ` FOR UPDATE`
	}
	var m MeterInfo
	err := q.QueryRow(ctx, sql, id).Scan(&m.ID, &m.CustomerID, &m.InitialReading, &m.InstalledAt, &m.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return MeterInfo{}, ErrMeterNotFound
	}
	return m, err
}

// PreviousBaseline returns the latest valid reading of meterID strictly before before,
// falling back to the meter's initial register value.
func PreviousBaseline(ctx context.Context, q db.Querier, meter MeterInfo, before time.Time, excludeID int64) (Baseline, error) {
	var b Baseline
	err := q.QueryRow(ctx, `SELECT id, value, read_at FROM meter_readings
		WHERE meter_id = $1 AND status = 'valid' AND read_at < $2 AND id <> $3
		ORDER BY read_at DESC, id DESC LIMIT 1`, meter.ID, before, excludeID).Scan(&b.ReadingID, &b.Value, &b.ReadAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Baseline{Value: meter.InitialReading, ReadAt: meter.InstalledAt}, nil
	}
	return b, err
}

// Repository persists readings in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	LockMeter(ctx context.Context, id int64) (MeterInfo, error)
	Baseline(ctx context.Context, meter MeterInfo, before time.Time) (Baseline, error)
	InsertReading(ctx context.Context, r Reading) (Reading, error)
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

// GetReading fetches a reading.
func (r *Repository) GetReading(ctx context.Context, id int64) (Reading, error) {
	return LoadReading(ctx, r.pool, id)
}

// GetMeter fetches meter data.
func (r *Repository) GetMeter(ctx context.Context, id int64) (MeterInfo, error) {
	return LoadMeter(ctx, r.pool, id, false)
}

// Baseline resolves the baseline outside a transaction.
func (r *Repository) Baseline(ctx context.Context, meter MeterInfo, before time.Time, excludeID int64) (Baseline, error) {
	return PreviousBaseline(ctx, r.pool, meter, before, excludeID)
}

// ListReadings returns a page of readings for a meter, newest first.
func (r *Repository) ListReadings(ctx context.Context, meterID int64, page shared.PageRequest) ([]Reading, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM meter_readings WHERE meter_id = $1`, meterID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, `SELECT `+readingColumns+` FROM meter_readings WHERE meter_id = $1
		ORDER BY read_at DESC, id DESC LIMIT $2 OFFSET $3`, meterID, page.Limit(), page.Offset())
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []Reading
	for rows.Next() {
		reading, err := scanReading(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, reading)
	}
	return out, total, rows.Err()
}

func (r *txRepo) LockMeter(ctx context.Context, id int64) (MeterInfo, error) {
	return LoadMeter(ctx, r.tx, id, true)
}

func (r *txRepo) Baseline(ctx context.Context, meter MeterInfo, before time.Time) (Baseline, error) {
	return PreviousBaseline(ctx, r.tx, meter, before, 0)
}

func (r *txRepo) InsertReading(ctx context.Context, in Reading) (Reading, error) {
	return scanReading(r.tx.QueryRow(ctx, `INSERT INTO meter_readings (meter_id, value, read_at, source, status, note, recorded_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING `+readingColumns,
		in.MeterID, in.Value, in.ReadAt, string(in.Source), string(in.Status), in.Note, in.RecordedBy))
}

func scanReading(row pgx.Row) (Reading, error) {
	var (
		r              Reading
		source, status string
	)
	err := row.Scan(&r.ID, &r.MeterID, &r.Value, &r.ReadAt, &source, &status, &r.Note, &r.RecordedBy, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Reading{}, ErrReadingNotFound
	}
	r.Source, r.Status = Source(source), Status(status)
	return r, err
}
