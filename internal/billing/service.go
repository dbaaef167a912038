package billing

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/gridbill/gridbill/internal/metering"
	"github.com/gridbill/gridbill/internal/observability"
	"github.com/gridbill/gridbill/internal/sequence"
	"github.com/gridbill/gridbill/internal/shared"
	"github.com/gridbill/gridbill/internal/tariff"
	"github.com/gridbill/gridbill/report"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetInvoice(ctx context.Context, id int64) (Invoice, error)
	ListInvoices(ctx context.Context, filter ListFilter) ([]Invoice, int, error)
	MarkOverdue(ctx context.Context, asOf time.Time) (int64, error)
	GetCustomer(ctx context.Context, id int64) (CustomerInfo, error)
	GetMeterNo(ctx context.Context, id int64) (string, error)
}

// TariffResolver resolves the band set of a customer category.
type TariffResolver interface {
	ResolveBands(ctx context.Context, categoryID int64) ([]tariff.Band, error)
}

// CacheInvalidator is bumped after balance-changing mutations.
type CacheInvalidator interface {
	Bump(ctx context.Context) error
}

// ServiceConfig groups optional collaborators and settings.
type ServiceConfig struct {
	PaymentTerms time.Duration
	Issuer       string
	Metrics      *observability.Metrics
	Cache        CacheInvalidator
	Renderer     *report.Renderer
	Logger       *slog.Logger
}

// Service generates and manages invoices.
type Service struct {
	repo    RepositoryPort
	tariffs TariffResolver
	audit   shared.AuditPort
	cfg     ServiceConfig
	now     func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, tariffs TariffResolver, audit shared.AuditPort, cfg ServiceConfig) *Service {
	if cfg.PaymentTerms <= 0 {
		cfg.PaymentTerms = 15 * 24 * time.Hour
	}
	if cfg.Issuer == "" {
		cfg.Issuer = "GridBill"
	}
	return &Service{repo: repo, tariffs: tariffs, audit: audit, cfg: cfg, now: time.Now}
}

// GenerateInvoice bills the consumption between a reading and its baseline.
func (s *Service) GenerateInvoice(ctx context.Context, input GenerateInvoiceInput) (Invoice, error) {
	if _, err := ParsePeriod(input.BillingPeriod); err != nil {
		return Invoice{}, err
	}
	period := strings.TrimSpace(input.BillingPeriod)
	now := s.now().UTC()

	var created Invoice
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		customer, err := tx.GetCustomer(ctx, input.CustomerID)
		if err != nil {
			return err
		}
		if !customer.Active {
			return ErrCustomerInactive
		}
		reading, err := tx.LoadReading(ctx, input.ReadingID)
		if err != nil {
			return err
		}
		if reading.Status != metering.StatusValid {
			return errors.Join(ErrInvalidReading, shared.NewValidationError("reading_id", "reading is flagged and cannot be billed"))
		}
		meter, err := tx.LoadMeter(ctx, reading.MeterID)
		if err != nil {
			return err
		}
		if meter.CustomerID != customer.ID {
			return errors.Join(ErrInvalidReading, shared.NewValidationError("reading_id", "reading belongs to another customer's meter"))
		}
		baseline, err := tx.Baseline(ctx, meter, reading.ReadAt, reading.ID)
		if err != nil {
			return err
		}
		consumption := metering.Consumption(reading, baseline)
		if consumption.IsNegative() {
			return errors.Join(ErrInvalidReading, shared.NewValidationError("reading_id", "reading is below the previous reading"))
		}
		exists, err := tx.InvoiceExists(ctx, customer.ID, meter.ID, period)
		if err != nil {
			return err
		}
		if exists {
			return ErrDuplicateInvoice
		}
		invoiced, err := tx.ReadingInvoiced(ctx, reading.ID)
		if err != nil {
			return err
		}
		if invoiced {
			return ErrReadingInvoiced
		}

		bands, err := s.tariffs.ResolveBands(ctx, customer.CategoryID)
		if err != nil {
			return err
		}
		charge, err := tariff.ComputeCharge(consumption, bands)
		if err != nil {
			return err
		}

		number, err := tx.NextNumber(ctx, sequence.SeriesInvoice, now)
		if err != nil {
			return err
		}
		issue := dateOnly(now)
		inv := Invoice{
			InvoiceNo:       number,
			CustomerID:      customer.ID,
			MeterID:         meter.ID,
			ReadingID:       reading.ID,
			BillingPeriod:   period,
			PreviousReading: baseline.Value,
			CurrentReading:  reading.Value,
			ConsumptionKwh:  consumption,
			EnergyAmount:    charge.EnergyAmount.Round(2),
			FixedCharge:     charge.FixedCharge,
			TotalAmount:     charge.Amount,
			PaidAmount:      decimal.Zero,
			Balance:         charge.Amount,
			Status:          StatusIssued,
			IssueDate:       issue,
			DueDate:         dateOnly(issue.Add(s.cfg.PaymentTerms)),
			CreatedBy:       shared.ActorFromContext(ctx),
			Lines:           linesFromCharge(charge),
		}
		created, err = tx.InsertInvoice(ctx, inv)
		return err
	})
	if err != nil {
		s.observeFailure("generate_invoice", err)
		return Invoice{}, err
	}
	s.cfg.Metrics.InvoiceGenerated()
	s.record(ctx, "invoice.generate", created.ID, map[string]any{
		"invoice_no": created.InvoiceNo,
		"total":      created.TotalAmount.StringFixed(2),
		"period":     created.BillingPeriod,
	})
	s.bump(ctx)
	return created, nil
}

func linesFromCharge(charge tariff.Charge) []InvoiceLine {
	lines := make([]InvoiceLine, 0, len(charge.Breakdown))
	for _, b := range charge.Breakdown {
		lines = append(lines, InvoiceLine{
			BandOrder:  b.Order,
			FromKwh:    b.FromKwh,
			ToKwh:      b.ToKwh,
			UsageKwh:   b.UsageKwh,
			RatePerKwh: b.RatePerKwh,
			Amount:     b.Amount,
		})
	}
	return lines
}

// GetInvoice returns an invoice with its lines.
func (s *Service) GetInvoice(ctx context.Context, id int64) (Invoice, error) {
	return s.repo.GetInvoice(ctx, id)
}

// ListInvoices returns a filtered page of invoices.
func (s *Service) ListInvoices(ctx context.Context, filter ListFilter) ([]Invoice, shared.Pagination, error) {
	if filter.Period != "" {
		if _, err := ParsePeriod(filter.Period); err != nil {
			return nil, shared.Pagination{}, err
		}
	}
	items, total, err := s.repo.ListInvoices(ctx, filter)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return items, shared.PaginationFor(filter.Page, total), nil
}

// CancelInvoice voids an invoice that has not received any payment.
func (s *Service) CancelInvoice(ctx context.Context, id int64, input CancelInvoiceInput) (Invoice, error) {
	reason := strings.TrimSpace(input.Reason)
	if reason == "" {
		return Invoice{}, shared.NewValidationError("reason", "is required")
	}
	now := s.now().UTC()
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inv, err := tx.LockInvoice(ctx, id)
		if err != nil {
			return err
		}
		if inv.Status == StatusCancelled {
			return ErrInvoiceCancelled
		}
		if !inv.PaidAmount.IsZero() {
			return ErrInvoiceHasPayment
		}
		return tx.CancelInvoice(ctx, id, now, reason)
	})
	if err != nil {
		s.observeFailure("cancel_invoice", err)
		return Invoice{}, err
	}
	s.cfg.Metrics.InvoiceCancelled()
	s.record(ctx, "invoice.cancel", id, map[string]any{"reason": reason})
	s.bump(ctx)
	return s.repo.GetInvoice(ctx, id)
}

// MarkOverdue flags issued invoices whose due date has passed and returns how many changed.
func (s *Service) MarkOverdue(ctx context.Context, now time.Time) (int64, error) {
	n, err := s.repo.MarkOverdue(ctx, dateOnly(now))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.bump(ctx)
	}
	return n, nil
}

// RenderPDF renders the invoice as a PDF document.
func (s *Service) RenderPDF(ctx context.Context, id int64) ([]byte, Invoice, error) {
	if s.cfg.Renderer == nil {
		return nil, Invoice{}, report.ErrRendererDisabled
	}
	inv, err := s.repo.GetInvoice(ctx, id)
	if err != nil {
		return nil, Invoice{}, err
	}
	customer, err := s.repo.GetCustomer(ctx, inv.CustomerID)
	if err != nil {
		return nil, Invoice{}, err
	}
	meterNo, err := s.repo.GetMeterNo(ctx, inv.MeterID)
	if err != nil {
		return nil, Invoice{}, err
	}
	pdf, err := s.cfg.Renderer.RenderInvoice(ctx, Document(s.cfg.Issuer, inv, customer, meterNo))
	if err != nil {
		return nil, Invoice{}, err
	}
	return pdf, inv, nil
}

// Document maps an invoice onto its printable form.
func Document(issuer string, inv Invoice, customer CustomerInfo, meterNo string) report.InvoiceDocument {
	doc := report.InvoiceDocument{
		Issuer:          issuer,
		Number:          inv.InvoiceNo,
		Period:          inv.BillingPeriod,
		Status:          string(inv.Status),
		IssueDate:       inv.IssueDate,
		DueDate:         inv.DueDate,
		CustomerNo:      customer.CustomerNo,
		CustomerName:    customer.Name,
		Address:         customer.Address,
		MeterNo:         meterNo,
		PreviousReading: inv.PreviousReading,
		CurrentReading:  inv.CurrentReading,
		ConsumptionKwh:  inv.ConsumptionKwh,
		FixedCharge:     inv.FixedCharge,
		Total:           inv.TotalAmount,
		Paid:            inv.PaidAmount,
		Balance:         inv.Balance,
	}
	for _, l := range inv.Lines {
		doc.Lines = append(doc.Lines, report.InvoiceLine{
			Description: l.Description(),
			Quantity:    l.UsageKwh,
			UnitPrice:   l.RatePerKwh,
			Amount:      l.Amount,
		})
	}
	return doc
}

func (s *Service) observeFailure(operation string, err error) {
	if errors.Is(err, shared.ErrTransactionFailure) {
		s.cfg.Metrics.TransactionFailed(operation)
	}
}

func (s *Service) bump(ctx context.Context) {
	if s.cfg.Cache == nil {
		return
	}
	if err := s.cfg.Cache.Bump(ctx); err != nil && s.cfg.Logger != nil {
		s.cfg.Logger.Warn("report cache bump failed", slog.Any("error", err))
	}
}

func (s *Service) record(ctx context.Context, action string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		Action:   action,
		Entity:   "invoice",
		EntityID: strconv.FormatInt(id, 10),
		Meta:     meta,
	}); err != nil && s.cfg.Logger != nil {
		s.cfg.Logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}
