// Package metering captures meter readings and resolves the baseline a reading is billed against.
package metering

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/gridbill/gridbill/internal/shared"
)

// Status marks whether a reading can be billed.
type Status string

const (
	StatusValid   Status = "valid"
	StatusFlagged Status = "flagged"
)

// Source records how a reading was captured.
type Source string

const (
	SourceManual Source = "manual"
	SourceImport Source = "import"
	SourcePOS    Source = "pos"
)

var (
	ErrReadingNotFound = fmt.Errorf("%w: reading", shared.ErrNotFound)
	ErrMeterNotFound   = fmt.Errorf("%w: meter", shared.ErrNotFound)
	ErrMeterInactive   = fmt.Errorf("%w: meter is not active", shared.ErrStateConflict)
)

// Reading is a captured cumulative meter register value in kWh.
type Reading struct {
	ID         int64           `json:"id"`
	MeterID    int64           `json:"meter_id"`
	Value      decimal.Decimal `json:"value"`
	ReadAt     time.Time       `json:"read_at"`
	Source     Source          `json:"source"`
	Status     Status          `json:"status"`
	Note       string          `json:"note,omitempty"`
	RecordedBy string          `json:"recorded_by"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Baseline is the value a reading's consumption is measured from.
// ReadingID is zero when the baseline is the meter's initial register value.
type Baseline struct {
	ReadingID int64           `json:"reading_id,omitempty"`
	Value     decimal.Decimal `json:"value"`
	ReadAt    time.Time       `json:"read_at"`
}

// MeterInfo is the subset of meter data metering needs.
type MeterInfo struct {
	ID             int64
	CustomerID     int64
	InitialReading decimal.Decimal
	InstalledAt    time.Time
	Active         bool
}

// RecordReadingInput captures a reading.
type RecordReadingInput struct {
	Value  decimal.Decimal `json:"value"`
	ReadAt time.Time       `json:"read_at" validate:"required"`
	Source Source          `json:"source" validate:"omitempty,oneof=manual import pos"`
	Note   string          `json:"note" validate:"max=500"`
}

// Consumption returns current minus baseline.
func Consumption(current Reading, baseline Baseline) decimal.Decimal {
	return current.Value.Sub(baseline.Value)
}

// Classify decides the status of a new reading given its baseline.
func Classify(value decimal.Decimal, baseline Baseline) (Status, string) {
	if value.LessThan(baseline.Value) {
		return StatusFlagged, fmt.Sprintf("value %s is below previous reading %s", value, baseline.Value)
	}
	return StatusValid, ""
}
