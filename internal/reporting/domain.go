// Package reporting builds the collection dashboard, receivable aging and customer
// statements, and exports them as spreadsheets.
package reporting

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/gridbill/gridbill/internal/shared"
)

// ErrCustomerNotFound is returned for statements of unknown customers.
var ErrCustomerNotFound = fmt.Errorf("%w: customer", shared.ErrNotFound)

// Dashboard summarises billing and collection activity for the month of AsOf.
type Dashboard struct {
	AsOf               time.Time       `json:"as_of"`
	Period             string          `json:"period"`
	ActiveCustomers    int64           `json:"active_customers"`
	InvoicesBilled     int64           `json:"invoices_billed"`
	AmountBilled       decimal.Decimal `json:"amount_billed"`
	AmountCollected    decimal.Decimal `json:"amount_collected"`
	OutstandingBalance decimal.Decimal `json:"outstanding_balance"`
	OverdueInvoices    int64           `json:"overdue_invoices"`
	OutstandingDebt    decimal.Decimal `json:"outstanding_debt"`
	ActivePlans        int64           `json:"active_plans"`
}

// Receivables is the open invoice balance and how many of those invoices are past due.
type Receivables struct {
	Balance decimal.Decimal
	Overdue int64
}

// DebtSummary is the collectible debt total and the number of active plans.
type DebtSummary struct {
	Outstanding decimal.Decimal
	ActivePlans int64
}

// Aging bucket labels, in report order.
const (
	BucketCurrent = "current"
	Bucket1To30   = "1-30"
	Bucket31To60  = "31-60"
	Bucket61To90  = "61-90"
	BucketOver90  = "90+"
)

// BucketLabels lists the aging buckets in report order.
var BucketLabels = []string{BucketCurrent, Bucket1To30, Bucket31To60, Bucket61To90, BucketOver90}

// OpenBalance is one invoice with an unpaid balance.
type OpenBalance struct {
	InvoiceID  int64
	CustomerID int64
	CustomerNo string
	Name       string
	DueDate    time.Time
	Balance    decimal.Decimal
}

// AgingBucket totals the open balances of one age band.
type AgingBucket struct {
	Label  string          `json:"label"`
	Count  int             `json:"count"`
	Amount decimal.Decimal `json:"amount"`
}

// AgingRow is the per-customer breakdown, with Buckets ordered like BucketLabels.
type AgingRow struct {
	CustomerID int64             `json:"customer_id"`
	CustomerNo string            `json:"customer_no"`
	Name       string            `json:"name"`
	Buckets    []decimal.Decimal `json:"buckets"`
	Total      decimal.Decimal   `json:"total"`
}

// AgingReport groups open balances by days past due.
type AgingReport struct {
	AsOf    time.Time       `json:"as_of"`
	Buckets []AgingBucket   `json:"buckets"`
	Rows    []AgingRow      `json:"rows"`
	Total   decimal.Decimal `json:"total"`
}

// BucketFor returns the bucket index for a balance due on due, evaluated at asOf.
func BucketFor(due, asOf time.Time) int {
	days := int(dateOnly(asOf).Sub(dateOnly(due)).Hours() / 24)
	switch {
	case days <= 0:
		return 0
	case days <= 30:
		return 1
	case days <= 60:
		return 2
	case days <= 90:
		return 3
	default:
		return 4
	}
}

// BuildAging aggregates open balances into the aging report.
func BuildAging(asOf time.Time, balances []OpenBalance) AgingReport {
	report := AgingReport{AsOf: dateOnly(asOf), Total: decimal.Zero}
	report.Buckets = make([]AgingBucket, len(BucketLabels))
	for i, label := range BucketLabels {
		report.Buckets[i] = AgingBucket{Label: label, Amount: decimal.Zero}
	}
	index := map[int64]int{}
	for _, b := range balances {
		if !b.Balance.IsPositive() {
			continue
		}
		bucket := BucketFor(b.DueDate, asOf)
		report.Buckets[bucket].Count++
		report.Buckets[bucket].Amount = report.Buckets[bucket].Amount.Add(b.Balance)
		report.Total = report.Total.Add(b.Balance)

		pos, ok := index[b.CustomerID]
		if !ok {
			row := AgingRow{CustomerID: b.CustomerID, CustomerNo: b.CustomerNo, Name: b.Name, Total: decimal.Zero}
			row.Buckets = make([]decimal.Decimal, len(BucketLabels))
			for i := range row.Buckets {
				row.Buckets[i] = decimal.Zero
			}
			report.Rows = append(report.Rows, row)
			pos = len(report.Rows) - 1
			index[b.CustomerID] = pos
		}
		row := &report.Rows[pos]
		row.Buckets[bucket] = row.Buckets[bucket].Add(b.Balance)
		row.Total = row.Total.Add(b.Balance)
	}
	return report
}

// Statement entry kinds.
const (
	EntryInvoice = "invoice"
	EntryPayment = "payment"
)

// CustomerRef identifies the customer a statement belongs to.
type CustomerRef struct {
	ID         int64  `json:"id"`
	CustomerNo string `json:"customer_no"`
	Name       string `json:"name"`
	Address    string `json:"address"`
}

// StatementEntry is a raw ledger movement: invoices debit, payments credit.
type StatementEntry struct {
	Date      time.Time
	Kind      string
	Reference string
	Detail    string
	Amount    decimal.Decimal
}

// StatementLine is a movement with the running balance after it.
type StatementLine struct {
	Date      time.Time       `json:"date"`
	Kind      string          `json:"kind"`
	Reference string          `json:"reference"`
	Detail    string          `json:"detail,omitempty"`
	Debit     decimal.Decimal `json:"debit"`
	Credit    decimal.Decimal `json:"credit"`
	Balance   decimal.Decimal `json:"balance"`
}

// Statement is a customer's account movements over a date range.
type Statement struct {
	Customer       CustomerRef     `json:"customer"`
	From           time.Time       `json:"from"`
	To             time.Time       `json:"to"`
	OpeningBalance decimal.Decimal `json:"opening_balance"`
	Lines          []StatementLine `json:"lines"`
	TotalDebits    decimal.Decimal `json:"total_debits"`
	TotalCredits   decimal.Decimal `json:"total_credits"`
	ClosingBalance decimal.Decimal `json:"closing_balance"`
}

// BuildStatement orders entries by date, invoices before payments on the same day,
// and computes the running balance from opening.
func BuildStatement(customer CustomerRef, from, to time.Time, opening decimal.Decimal, entries []StatementEntry) Statement {
	sorted := append([]StatementEntry(nil), entries...)
	slices.SortStableFunc(sorted, func(a, b StatementEntry) int {
		if c := dateOnly(a.Date).Compare(dateOnly(b.Date)); c != 0 {
			return c
		}
		if a.Kind != b.Kind {
			if a.Kind == EntryInvoice {
				return -1
			}
			return 1
		}
		return strings.Compare(a.Reference, b.Reference)
	})

	st := Statement{
		Customer:       customer,
		From:           dateOnly(from),
		To:             dateOnly(to),
		OpeningBalance: opening,
		Lines:          make([]StatementLine, 0, len(sorted)),
		TotalDebits:    decimal.Zero,
		TotalCredits:   decimal.Zero,
	}
	balance := opening
	for _, e := range sorted {
		line := StatementLine{Date: e.Date, Kind: e.Kind, Reference: e.Reference, Detail: e.Detail, Debit: decimal.Zero, Credit: decimal.Zero}
		if e.Kind == EntryPayment {
			line.Credit = e.Amount
			balance = balance.Sub(e.Amount)
			st.TotalCredits = st.TotalCredits.Add(e.Amount)
		} else {
			line.Debit = e.Amount
			balance = balance.Add(e.Amount)
			st.TotalDebits = st.TotalDebits.Add(e.Amount)
		}
		line.Balance = balance
		st.Lines = append(st.Lines, line)
	}
	st.ClosingBalance = balance
	return st
}

// MonthRange returns the first day of t's month and the first day of the next month.
func MonthRange(t time.Time) (time.Time, time.Time) {
	y, m, _ := t.UTC().Date()
	start := time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0)
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
