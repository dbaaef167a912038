package customers

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/gridbill/gridbill/internal/sequence"
	"github.com/gridbill/gridbill/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetCustomer(ctx context.Context, id int64) (Customer, error)
	ListCustomers(ctx context.Context, filter CustomerFilter) ([]Customer, int, error)
	GetMeter(ctx context.Context, id int64) (Meter, error)
	ListMeters(ctx context.Context, customerID int64) ([]Meter, error)
	GetContract(ctx context.Context, id int64) (Contract, error)
	ListContracts(ctx context.Context, filter ContractFilter) ([]Contract, int, error)
}

// Service coordinates customer, meter and contract records.
type Service struct {
	repo  RepositoryPort
	audit shared.AuditPort
	now   func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit shared.AuditPort) *Service {
	return &Service{repo: repo, audit: audit, now: func() time.Time { return time.Now().UTC() }}
}

// CreateCustomer registers a customer under an existing tariff category.
func (s *Service) CreateCustomer(ctx context.Context, input CreateCustomerInput) (Customer, error) {
	input.Name = strings.TrimSpace(input.Name)
	input.Address = strings.TrimSpace(input.Address)
	missing := map[string]string{}
	if input.Name == "" {
		missing["name"] = "is required"
	}
	if input.Address == "" {
		missing["address"] = "is required"
	}
	if len(missing) > 0 {
		return Customer{}, &shared.ValidationError{Fields: missing}
	}
	var created Customer
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := ensureCategory(ctx, tx, input.CategoryID); err != nil {
			return err
		}
		number, err := tx.NextNumber(ctx, sequence.SeriesCustomer)
		if err != nil {
			return err
		}
		created, err = tx.InsertCustomer(ctx, Customer{
			CustomerNo: number,
			Name:       input.Name,
			Email:      strings.ToLower(strings.TrimSpace(input.Email)),
			Phone:      strings.TrimSpace(input.Phone),
			Address:    input.Address,
			CategoryID: input.CategoryID,
			Status:     CustomerActive,
		})
		return err
	})
	if err != nil {
		return Customer{}, err
	}
	s.record(ctx, "customer.create", "customer", created.ID, map[string]any{"customer_no": created.CustomerNo})
	return created, nil
}

// GetCustomer returns one customer.
func (s *Service) GetCustomer(ctx context.Context, id int64) (Customer, error) {
	return s.repo.GetCustomer(ctx, id)
}

// ListCustomers returns a page of customers.
func (s *Service) ListCustomers(ctx context.Context, filter CustomerFilter) ([]Customer, shared.Pagination, error) {
	items, total, err := s.repo.ListCustomers(ctx, filter)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return items, shared.PaginationFor(filter.Page, total), nil
}

// UpdateCustomer applies the provided fields.
func (s *Service) UpdateCustomer(ctx context.Context, id int64, input UpdateCustomerInput) (Customer, error) {
	var updated Customer
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetCustomerForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if input.Name != nil {
			current.Name = strings.TrimSpace(*input.Name)
		}
		if input.Email != nil {
			current.Email = strings.ToLower(strings.TrimSpace(*input.Email))
		}
		if input.Phone != nil {
			current.Phone = strings.TrimSpace(*input.Phone)
		}
		if input.Address != nil {
			current.Address = strings.TrimSpace(*input.Address)
		}
		if input.Status != nil {
			current.Status = *input.Status
		}
		if input.CategoryID != nil && *input.CategoryID != current.CategoryID {
			if err := ensureCategory(ctx, tx, *input.CategoryID); err != nil {
				return err
			}
			current.CategoryID = *input.CategoryID
		}
		if current.Name == "" || current.Address == "" {
			return shared.NewValidationError("name", "name and address must not be blank")
		}
		updated, err = tx.UpdateCustomer(ctx, current)
		return err
	})
	if err != nil {
		return Customer{}, err
	}
	s.record(ctx, "customer.update", "customer", updated.ID, nil)
	return updated, nil
}

// RegisterMeter installs a new meter for an active customer.
func (s *Service) RegisterMeter(ctx context.Context, customerID int64, input RegisterMeterInput) (Meter, error) {
	if input.InitialReading.IsNegative() {
		return Meter{}, shared.NewValidationError("initial_reading", "must not be negative")
	}
	installedAt := s.now()
	if input.InstalledAt != "" {
		var err error
		if installedAt, err = parseDate("installed_at", input.InstalledAt); err != nil {
			return Meter{}, err
		}
	}
	var created Meter
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		customer, err := tx.GetCustomerForUpdate(ctx, customerID)
		if err != nil {
			return err
		}
		if customer.Status != CustomerActive {
			return ErrNotActive
		}
		number, err := tx.NextNumber(ctx, sequence.SeriesMeter)
		if err != nil {
			return err
		}
		created, err = tx.InsertMeter(ctx, Meter{
			MeterNo:        number,
			SerialNumber:   strings.TrimSpace(input.SerialNumber),
			CustomerID:     customerID,
			InitialReading: input.InitialReading,
			InstalledAt:    installedAt,
			Status:         MeterActive,
		})
		return err
	})
	if err != nil {
		return Meter{}, err
	}
	s.record(ctx, "meter.register", "meter", created.ID, map[string]any{"customer_id": customerID, "serial": created.SerialNumber})
	return created, nil
}

// ListMeters returns the meters of a customer.
func (s *Service) ListMeters(ctx context.Context, customerID int64) ([]Meter, error) {
	if _, err := s.repo.GetCustomer(ctx, customerID); err != nil {
		return nil, err
	}
	return s.repo.ListMeters(ctx, customerID)
}

// RemoveMeter retires a meter that has no active contract.
func (s *Service) RemoveMeter(ctx context.Context, meterID int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		meter, err := tx.GetMeterForUpdate(ctx, meterID)
		if err != nil {
			return err
		}
		if meter.Status != MeterActive {
			return ErrNotActive
		}
		inUse, err := tx.HasActiveContract(ctx, meterID)
		if err != nil {
			return err
		}
		if inUse {
			return ErrMeterInUse
		}
		return tx.RemoveMeter(ctx, meterID, s.now())
	})
	if err != nil {
		return err
	}
	s.record(ctx, "meter.remove", "meter", meterID, nil)
	return nil
}

// CreateContract opens a supply contract for a customer's active meter.
func (s *Service) CreateContract(ctx context.Context, input CreateContractInput) (Contract, error) {
	start, err := parseDate("start_date", input.StartDate)
	if err != nil {
		return Contract{}, err
	}
	var end *time.Time
	if input.EndDate != "" {
		e, err := parseDate("end_date", input.EndDate)
		if err != nil {
			return Contract{}, err
		}
		if !e.After(start) {
			return Contract{}, shared.NewValidationError("end_date", "must be after start_date")
		}
		end = &e
	}
	if input.Deposit.IsNegative() {
		return Contract{}, shared.NewValidationError("deposit", "must not be negative")
	}
	var created Contract
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		customer, err := tx.GetCustomerForUpdate(ctx, input.CustomerID)
		if err != nil {
			return err
		}
		if customer.Status != CustomerActive {
			return ErrNotActive
		}
		meter, err := tx.GetMeterForUpdate(ctx, input.MeterID)
		if err != nil {
			return err
		}
		if meter.CustomerID != customer.ID {
			return shared.NewValidationError("meter_id", "meter does not belong to customer")
		}
		if meter.Status != MeterActive {
			return ErrNotActive
		}
		inUse, err := tx.HasActiveContract(ctx, meter.ID)
		if err != nil {
			return err
		}
		if inUse {
			return ErrMeterInUse
		}
		number, err := tx.NextNumber(ctx, sequence.SeriesContract)
		if err != nil {
			return err
		}
		created, err = tx.InsertContract(ctx, Contract{
			ContractNo: number,
			CustomerID: customer.ID,
			MeterID:    meter.ID,
			StartDate:  start,
			EndDate:    end,
			Deposit:    input.Deposit,
			Status:     ContractActive,
		})
		return err
	})
	if err != nil {
		return Contract{}, err
	}
	s.record(ctx, "contract.create", "contract", created.ID, map[string]any{"contract_no": created.ContractNo})
	return created, nil
}

// GetContract returns one contract.
func (s *Service) GetContract(ctx context.Context, id int64) (Contract, error) {
	return s.repo.GetContract(ctx, id)
}

// ListContracts returns a page of contracts.
func (s *Service) ListContracts(ctx context.Context, filter ContractFilter) ([]Contract, shared.Pagination, error) {
	items, total, err := s.repo.ListContracts(ctx, filter)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return items, shared.PaginationFor(filter.Page, total), nil
}

// TerminateContract ends an active contract.
func (s *Service) TerminateContract(ctx context.Context, id int64, input TerminateContractInput) (Contract, error) {
	reason := strings.TrimSpace(input.Reason)
	if reason == "" {
		return Contract{}, shared.NewValidationError("reason", "is required")
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		contract, err := tx.GetContractForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if contract.Status != ContractActive {
			return ErrNotActive
		}
		return tx.TerminateContract(ctx, id, s.now(), reason)
	})
	if err != nil {
		return Contract{}, err
	}
	s.record(ctx, "contract.terminate", "contract", id, map[string]any{"reason": reason})
	return s.repo.GetContract(ctx, id)
}

func ensureCategory(ctx context.Context, tx TxRepository, id int64) error {
	ok, err := tx.CategoryExists(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrCategoryUnknown
	}
	return nil
}

func (s *Service) record(ctx context.Context, action, entity string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{Action: action, Entity: entity, EntityID: strconv.FormatInt(id, 10), Meta: meta})
}
