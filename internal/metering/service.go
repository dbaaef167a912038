package metering

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/gridbill/gridbill/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetReading(ctx context.Context, id int64) (Reading, error)
	GetMeter(ctx context.Context, id int64) (MeterInfo, error)
	Baseline(ctx context.Context, meter MeterInfo, before time.Time, excludeID int64) (Baseline, error)
	ListReadings(ctx context.Context, meterID int64, page shared.PageRequest) ([]Reading, int, error)
}

// Service records and queries meter readings.
type Service struct {
	repo   RepositoryPort
	audit  shared.AuditPort
	logger *slog.Logger
	now    func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit shared.AuditPort, logger *slog.Logger) *Service {
	return &Service{repo: repo, audit: audit, logger: logger, now: time.Now}
}

// RecordReading stores a reading. Values below the previous reading are kept but flagged
// so they cannot be billed until corrected.
func (s *Service) RecordReading(ctx context.Context, meterID int64, input RecordReadingInput) (Reading, error) {
	if input.Value.IsNegative() {
		return Reading{}, shared.NewValidationError("value", "must not be negative")
	}
	if input.ReadAt.IsZero() {
		return Reading{}, shared.NewValidationError("read_at", "is required")
	}
	if input.ReadAt.After(s.now().Add(time.Hour)) {
		return Reading{}, shared.NewValidationError("read_at", "must not be in the future")
	}
	if input.Source == "" {
		input.Source = SourceManual
	}

	var stored Reading
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		meter, err := tx.LockMeter(ctx, meterID)
		if err != nil {
			return err
		}
		if !meter.Active {
			return ErrMeterInactive
		}
		if input.ReadAt.Before(meter.InstalledAt) {
			return shared.NewValidationError("read_at", "must not precede meter installation")
		}
		baseline, err := tx.Baseline(ctx, meter, input.ReadAt)
		if err != nil {
			return err
		}
		status, reason := Classify(input.Value, baseline)
		note := strings.TrimSpace(input.Note)
		if reason != "" {
			note = strings.TrimSpace(reason + "; " + note)
			note = strings.TrimSuffix(note, ";")
		}
		stored, err = tx.InsertReading(ctx, Reading{
			MeterID:    meterID,
			Value:      input.Value,
			ReadAt:     input.ReadAt.UTC(),
			Source:     input.Source,
			Status:     status,
			Note:       note,
			RecordedBy: shared.ActorFromContext(ctx),
		})
		return err
	})
	if err != nil {
		return Reading{}, err
	}
	if stored.Status == StatusFlagged && s.logger != nil {
		s.logger.Warn("meter reading flagged",
			slog.Int64("meter_id", meterID),
			slog.Int64("reading_id", stored.ID),
			slog.String("value", stored.Value.String()))
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			Action:   "reading.record",
			Entity:   "meter_reading",
			EntityID: strconv.FormatInt(stored.ID, 10),
			Meta:     map[string]any{"meter_id": meterID, "status": stored.Status},
		})
	}
	return stored, nil
}

// GetReading returns one reading.
func (s *Service) GetReading(ctx context.Context, id int64) (Reading, error) {
	return s.repo.GetReading(ctx, id)
}

// ListReadings returns a page of a meter's readings.
func (s *Service) ListReadings(ctx context.Context, meterID int64, page shared.PageRequest) ([]Reading, shared.Pagination, error) {
	if _, err := s.repo.GetMeter(ctx, meterID); err != nil {
		return nil, shared.Pagination{}, err
	}
	items, total, err := s.repo.ListReadings(ctx, meterID, page)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return items, shared.PaginationFor(page, total), nil
}

// PreviousReading returns the baseline for a meter at a point in time.
func (s *Service) PreviousReading(ctx context.Context, meterID int64, before time.Time) (Baseline, error) {
	meter, err := s.repo.GetMeter(ctx, meterID)
	if err != nil {
		return Baseline{}, err
	}
	return s.repo.Baseline(ctx, meter, before, 0)
}
