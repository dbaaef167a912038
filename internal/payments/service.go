package payments

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/gridbill/gridbill/internal/billing"
	"github.com/gridbill/gridbill/internal/observability"
	"github.com/gridbill/gridbill/internal/sequence"
	"github.com/gridbill/gridbill/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetPayment(ctx context.Context, id int64) (Payment, error)
	GetInvoice(ctx context.Context, id int64) (billing.Invoice, error)
	FindByIdempotencyKey(ctx context.Context, key string) (Payment, error)
	ListPayments(ctx context.Context, filter ListFilter) ([]Payment, int, error)
}

// CacheInvalidator is bumped after balance-changing mutations.
type CacheInvalidator interface {
	Bump(ctx context.Context) error
}

// ServiceConfig groups optional collaborators.
type ServiceConfig struct {
	Metrics *observability.Metrics
	Cache   CacheInvalidator
	Logger  *slog.Logger
}

// Service records and reverses payments.
type Service struct {
	repo        RepositoryPort
	audit       shared.AuditPort
	idempotency shared.IdempotencyPort
	cfg         ServiceConfig
	now         func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit shared.AuditPort, idem shared.IdempotencyPort, cfg ServiceConfig) *Service {
	return &Service{repo: repo, audit: audit, idempotency: idem, cfg: cfg, now: time.Now}
}

// RecordPayment allocates amount to an invoice. The invoice row is locked for the
// read-modify-write so concurrent payments serialize; a rejected payment leaves it unchanged.
func (s *Service) RecordPayment(ctx context.Context, input RecordPaymentInput) (Receipt, error) {
	input.Reference = strings.TrimSpace(input.Reference)
	input.IdempotencyKey = strings.TrimSpace(input.IdempotencyKey)
	if err := input.validate(); err != nil {
		return Receipt{}, err
	}

	insertedKey := false
	if input.IdempotencyKey != "" && s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, input.IdempotencyKey, idempotencyModule); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				return s.replay(ctx, input)
			}
			return Receipt{}, err
		}
		insertedKey = true
	}

	now := s.now().UTC()
	var receipt Receipt
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inv, err := tx.LockInvoice(ctx, input.InvoiceID)
		if err != nil {
			return err
		}
		updated, err := billing.ApplyPayment(inv, input.Amount, now)
		if err != nil {
			return err
		}
		number, err := tx.NextNumber(ctx, sequence.SeriesPayment, now)
		if err != nil {
			return err
		}
		payment, err := tx.InsertPayment(ctx, Payment{
			PaymentNo:      number,
			InvoiceID:      inv.ID,
			CustomerID:     inv.CustomerID,
			Amount:         input.Amount,
			Channel:        input.Channel,
			Reference:      input.Reference,
			Status:         StatusConfirmed,
			IdempotencyKey: input.IdempotencyKey,
			ReceivedBy:     shared.ActorFromContext(ctx),
			PaidAt:         now,
		})
		if err != nil {
			return err
		}
		if err := tx.SaveInvoice(ctx, updated); err != nil {
			return err
		}
		receipt = Receipt{Payment: payment, Invoice: updated}
		return nil
	})
	if err != nil {
		if insertedKey {
			if delErr := s.idempotency.Delete(ctx, input.IdempotencyKey, idempotencyModule); delErr != nil && s.cfg.Logger != nil {
				s.cfg.Logger.Warn("release idempotency key", slog.Any("error", delErr))
			}
		}
		s.observeFailure("record_payment", err)
		return Receipt{}, err
	}
	s.cfg.Metrics.PaymentRecorded(string(receipt.Payment.Channel))
	s.record(ctx, "payment.record", receipt.Payment.ID, map[string]any{
		"payment_no": receipt.Payment.PaymentNo,
		"invoice_id": receipt.Invoice.ID,
		"amount":     receipt.Payment.Amount.StringFixed(2),
		"channel":    receipt.Payment.Channel,
	})
	s.bump(ctx)
	return receipt, nil
}

func (s *Service) replay(ctx context.Context, input RecordPaymentInput) (Receipt, error) {
	payment, err := s.repo.FindByIdempotencyKey(ctx, input.IdempotencyKey)
	if errors.Is(err, ErrPaymentNotFound) {
		return Receipt{}, ErrRequestInFlight
	}
	if err != nil {
		return Receipt{}, err
	}
	if payment.InvoiceID != input.InvoiceID || !payment.Amount.Equal(input.Amount) {
		return Receipt{}, ErrKeyReused
	}
	inv, err := s.repo.GetInvoice(ctx, payment.InvoiceID)
	if err != nil {
		return Receipt{}, err
	}
	return Receipt{Payment: payment, Invoice: inv, Replayed: true}, nil
}

// CancelPayment reverses a confirmed payment and restores the invoice balance.
func (s *Service) CancelPayment(ctx context.Context, id int64, input CancelPaymentInput) (Receipt, error) {
	reason := strings.TrimSpace(input.Reason)
	if reason == "" {
		return Receipt{}, shared.NewValidationError("reason", "is required")
	}
	now := s.now().UTC()
	var receipt Receipt
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		payment, err := tx.LockPayment(ctx, id)
		if err != nil {
			return err
		}
		if payment.Status == StatusCancelled {
			return ErrAlreadyCancelled
		}
		inv, err := tx.LockInvoice(ctx, payment.InvoiceID)
		if err != nil {
			return err
		}
		updated, err := billing.ReversePayment(inv, payment.Amount, now)
		if err != nil {
			return err
		}
		cancelled, err := tx.CancelPayment(ctx, id, now, reason)
		if err != nil {
			return err
		}
		if err := tx.SaveInvoice(ctx, updated); err != nil {
			return err
		}
		receipt = Receipt{Payment: cancelled, Invoice: updated}
		return nil
	})
	if err != nil {
		s.observeFailure("cancel_payment", err)
		return Receipt{}, err
	}
	s.cfg.Metrics.PaymentCancelled()
	s.record(ctx, "payment.cancel", id, map[string]any{"reason": reason, "invoice_id": receipt.Invoice.ID})
	s.bump(ctx)
	return receipt, nil
}

// GetPayment returns one payment.
func (s *Service) GetPayment(ctx context.Context, id int64) (Payment, error) {
	return s.repo.GetPayment(ctx, id)
}

// ListPayments returns a filtered page of payments.
func (s *Service) ListPayments(ctx context.Context, filter ListFilter) ([]Payment, shared.Pagination, error) {
	items, total, err := s.repo.ListPayments(ctx, filter)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return items, shared.PaginationFor(filter.Page, total), nil
}

func (s *Service) observeFailure(operation string, err error) {
	switch {
	case errors.Is(err, shared.ErrTransactionFailure):
		s.cfg.Metrics.TransactionFailed(operation)
	case errors.Is(err, ErrPaymentExceedsBalance):
		s.cfg.Metrics.PaymentRejected()
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
	_ = s.audit.Record(ctx, shared.AuditLog{
		Action:   action,
		Entity:   "payment",
		EntityID: strconv.FormatInt(id, 10),
		Meta:     meta,
	})
}
