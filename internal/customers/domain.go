package customers

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/gridbill/gridbill/internal/shared"
)

// CustomerStatus enumerates customer states.
type CustomerStatus string

const (
	CustomerActive   CustomerStatus = "active"
	CustomerInactive CustomerStatus = "inactive"
)

// MeterStatus enumerates meter states.
type MeterStatus string

const (
	MeterActive  MeterStatus = "active"
	MeterRemoved MeterStatus = "removed"
)

// ContractStatus enumerates contract states.
type ContractStatus string

const (
	ContractActive     ContractStatus = "active"
	ContractTerminated ContractStatus = "terminated"
)

var (
	ErrCustomerNotFound = fmt.Errorf("%w: customer", shared.ErrNotFound)
	ErrMeterNotFound    = fmt.Errorf("%w: meter", shared.ErrNotFound)
	ErrContractNotFound = fmt.Errorf("%w: contract", shared.ErrNotFound)
	ErrCategoryUnknown  = shared.NewValidationError("category_id", "unknown tariff category")
	ErrMeterInUse       = fmt.Errorf("%w: meter has an active contract", shared.ErrStateConflict)
	ErrDuplicateSerial  = fmt.Errorf("%w: meter serial already registered", shared.ErrStateConflict)
	ErrNotActive        = fmt.Errorf("%w: record is not active", shared.ErrStateConflict)
)

// Customer is a billed account holder.
type Customer struct {
	ID         int64          `json:"id"`
	CustomerNo string         `json:"customer_no"`
	Name       string         `json:"name"`
	Email      string         `json:"email,omitempty"`
	Phone      string         `json:"phone,omitempty"`
	Address    string         `json:"address"`
	CategoryID int64          `json:"category_id"`
	Status     CustomerStatus `json:"status"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// Meter is an installed electricity meter.
type Meter struct {
	ID             int64           `json:"id"`
	MeterNo        string          `json:"meter_no"`
	SerialNumber   string          `json:"serial_number"`
	CustomerID     int64           `json:"customer_id"`
	InitialReading decimal.Decimal `json:"initial_reading"`
	InstalledAt    time.Time       `json:"installed_at"`
	Status         MeterStatus     `json:"status"`
	RemovedAt      *time.Time      `json:"removed_at,omitempty"`
}

// Contract binds a customer and meter to a supply agreement.
type Contract struct {
	ID                int64           `json:"id"`
	ContractNo        string          `json:"contract_no"`
	CustomerID        int64           `json:"customer_id"`
	MeterID           int64           `json:"meter_id"`
	StartDate         time.Time       `json:"start_date"`
	EndDate           *time.Time      `json:"end_date,omitempty"`
	Deposit           decimal.Decimal `json:"deposit"`
	Status            ContractStatus  `json:"status"`
	TerminatedAt      *time.Time      `json:"terminated_at,omitempty"`
	TerminationReason string          `json:"termination_reason,omitempty"`
}

// CreateCustomerInput creates a customer.
type CreateCustomerInput struct {
	Name       string `json:"name" validate:"required,max=160"`
	Email      string `json:"email" validate:"omitempty,email"`
	Phone      string `json:"phone" validate:"omitempty,max=32"`
	Address    string `json:"address" validate:"required,max=500"`
	CategoryID int64  `json:"category_id" validate:"required,gt=0"`
}

// UpdateCustomerInput changes selected customer fields.
type UpdateCustomerInput struct {
	Name       *string         `json:"name" validate:"omitempty,min=1,max=160"`
	Email      *string         `json:"email" validate:"omitempty,email"`
	Phone      *string         `json:"phone" validate:"omitempty,max=32"`
	Address    *string         `json:"address" validate:"omitempty,min=1,max=500"`
	CategoryID *int64          `json:"category_id" validate:"omitempty,gt=0"`
	Status     *CustomerStatus `json:"status" validate:"omitempty,oneof=active inactive"`
}

// CustomerFilter narrows customer listings.
type CustomerFilter struct {
	Search     string
	CategoryID int64
	Status     CustomerStatus
	Page       shared.PageRequest
}

// RegisterMeterInput installs a meter for a customer.
type RegisterMeterInput struct {
	SerialNumber   string          `json:"serial_number" validate:"required,max=64"`
	InitialReading decimal.Decimal `json:"initial_reading"`
	InstalledAt    string          `json:"installed_at" validate:"omitempty,datetime=2006-01-02"`
}

// CreateContractInput creates a supply contract.
type CreateContractInput struct {
	CustomerID int64           `json:"customer_id" validate:"required,gt=0"`
	MeterID    int64           `json:"meter_id" validate:"required,gt=0"`
	StartDate  string          `json:"start_date" validate:"required,datetime=2006-01-02"`
	EndDate    string          `json:"end_date" validate:"omitempty,datetime=2006-01-02"`
	Deposit    decimal.Decimal `json:"deposit"`
}

// TerminateContractInput ends a contract.
type TerminateContractInput struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

// ContractFilter narrows contract listings.
type ContractFilter struct {
	CustomerID int64
	Status     ContractStatus
	Page       shared.PageRequest
}

func parseDate(field, raw string) (time.Time, error) {
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, shared.NewValidationError(field, "must be a date in YYYY-MM-DD format")
	}
	return t, nil
}
