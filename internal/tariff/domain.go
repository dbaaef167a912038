package tariff

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/gridbill/gridbill/internal/shared"
)

var (
	// ErrInvalidInput rejects negative consumption or malformed tariff data.
	ErrInvalidInput = fmt.Errorf("%w: invalid tariff input", shared.ErrValidation)
	// ErrInvalidBands rejects band sets that break contiguity or ordering.
	ErrInvalidBands = fmt.Errorf("%w: malformed bands", ErrInvalidInput)
	// ErrCategoryNotFound indicates a missing customer category.
	ErrCategoryNotFound = fmt.Errorf("%w: tariff category", shared.ErrNotFound)
	// ErrNoBands indicates a category without configured bands.
	ErrNoBands = fmt.Errorf("%w: tariff bands", shared.ErrNotFound)
	// ErrDuplicateCategory indicates the category code is taken.
	ErrDuplicateCategory = fmt.Errorf("%w: tariff category code already exists", shared.ErrStateConflict)
)

// Category groups customers that share a tariff.
type Category struct {
	ID          int64     `json:"id"`
	Code        string    `json:"code"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Band is one kWh range of a category's tariff. A nil ToKwh marks the unbounded top band.
type Band struct {
	ID          int64            `json:"id,omitempty"`
	CategoryID  int64            `json:"category_id,omitempty"`
	Order       int              `json:"order"`
	FromKwh     decimal.Decimal  `json:"from_kwh"`
	ToKwh       *decimal.Decimal `json:"to_kwh"`
	RatePerKwh  decimal.Decimal  `json:"rate_per_kwh"`
	FixedCharge decimal.Decimal  `json:"fixed_charge"`
}

// Bounded reports whether the band has an upper limit.
func (b Band) Bounded() bool {
	return b.ToKwh != nil
}

// BandCharge is the share of a consumption billed in one band.
type BandCharge struct {
	Order      int              `json:"order"`
	FromKwh    decimal.Decimal  `json:"from_kwh"`
	ToKwh      *decimal.Decimal `json:"to_kwh"`
	RatePerKwh decimal.Decimal  `json:"rate_per_kwh"`
	UsageKwh   decimal.Decimal  `json:"usage_kwh"`
	Amount     decimal.Decimal  `json:"amount"`
}

// Charge is the result of applying a band set to a consumption.
type Charge struct {
	ConsumptionKwh decimal.Decimal `json:"consumption_kwh"`
	EnergyAmount   decimal.Decimal `json:"energy_amount"`
	FixedCharge    decimal.Decimal `json:"fixed_charge"`
	Amount         decimal.Decimal `json:"amount"`
	Breakdown      []BandCharge    `json:"breakdown"`
}

// CreateCategoryInput creates a category and optionally its bands.
type CreateCategoryInput struct {
	Code        string `json:"code" validate:"required,max=20"`
	Name        string `json:"name" validate:"required,max=120"`
	Description string `json:"description" validate:"max=500"`
	Bands       []Band `json:"bands"`
}

// ReplaceBandsInput replaces the full band set of a category.
type ReplaceBandsInput struct {
	Bands []Band `json:"bands" validate:"required,min=1"`
}

// QuoteInput previews a charge.
type QuoteInput struct {
	CategoryID     int64           `json:"category_id" validate:"required,gt=0"`
	ConsumptionKwh decimal.Decimal `json:"consumption_kwh"`
}
