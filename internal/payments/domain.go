// Package payments records collections against invoices at the counter and the point of sale.
package payments

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/gridbill/gridbill/internal/billing"
	"github.com/gridbill/gridbill/internal/shared"
)

// Channel is how money was collected.
type Channel string

const (
	ChannelCash         Channel = "cash"
	ChannelCard         Channel = "card"
	ChannelBankTransfer Channel = "bank_transfer"
	ChannelPOS          Channel = "pos"
)

// Status of a payment.
type Status string

const (
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
)

const idempotencyModule = "payments"

var (
	ErrPaymentNotFound  = fmt.Errorf("%w: payment", shared.ErrNotFound)
	ErrAlreadyCancelled = fmt.Errorf("%w: payment already cancelled", shared.ErrStateConflict)
	ErrRequestInFlight  = fmt.Errorf("%w: a request with this idempotency key is still being processed", shared.ErrStateConflict)
	ErrKeyReused        = fmt.Errorf("%w: idempotency key was used for a different payment", shared.ErrStateConflict)
)

// ErrPaymentExceedsBalance rejects payments larger than the open balance.
var ErrPaymentExceedsBalance = billing.ErrPaymentExceedsBalance

// Payment is money received against one invoice.
type Payment struct {
	ID             int64           `json:"id"`
	PaymentNo      string          `json:"payment_no"`
	InvoiceID      int64           `json:"invoice_id"`
	CustomerID     int64           `json:"customer_id"`
	Amount         decimal.Decimal `json:"amount"`
	Channel        Channel         `json:"channel"`
	Reference      string          `json:"reference,omitempty"`
	Status         Status          `json:"status"`
	IdempotencyKey string          `json:"-"`
	ReceivedBy     string          `json:"received_by"`
	PaidAt         time.Time       `json:"paid_at"`
	CancelledAt    *time.Time      `json:"cancelled_at,omitempty"`
	CancelReason   string          `json:"cancel_reason,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// RecordPaymentInput requests a payment.
type RecordPaymentInput struct {
	InvoiceID      int64           `json:"invoice_id" validate:"required,gt=0"`
	Amount         decimal.Decimal `json:"amount"`
	Channel        Channel         `json:"channel" validate:"required,oneof=cash card bank_transfer pos"`
	Reference      string          `json:"reference" validate:"max=64"`
	IdempotencyKey string          `json:"-"`
}

// CancelPaymentInput carries the reversal reason.
type CancelPaymentInput struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

// Receipt is a recorded payment plus the invoice state after it.
type Receipt struct {
	Payment  Payment         `json:"payment"`
	Invoice  billing.Invoice `json:"invoice"`
	Replayed bool            `json:"replayed,omitempty"`
}

// ListFilter narrows payment listings.
type ListFilter struct {
	InvoiceID  int64
	CustomerID int64
	Channel    Channel
	Status     Status
	Page       shared.PageRequest
}

func (in RecordPaymentInput) validate() error {
	verr := &shared.ValidationError{}
	if !in.Amount.IsPositive() {
		verr.Add("amount", "must be greater than zero")
	} else if !in.Amount.Equal(in.Amount.Round(2)) {
		verr.Add("amount", "must not have more than two decimal places")
	}
	switch in.Channel {
	case ChannelCash, ChannelCard, ChannelBankTransfer:
	case ChannelPOS:
		if strings.TrimSpace(in.Reference) == "" {
			verr.Add("reference", "terminal reference is required for pos payments")
		}
	default:
		verr.Add("channel", "must be one of cash, card, bank_transfer, pos")
	}
	return verr.OrNil()
}
