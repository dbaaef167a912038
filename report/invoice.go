package report

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/gridbill/gridbill/web"
)

// PDFClient exposes the subset of the Gotenberg client used by the renderer.
type PDFClient interface {
	RenderHTML(ctx context.Context, html string) ([]byte, error)
}

// InvoiceDocument is the printable view of an invoice.
type InvoiceDocument struct {
	Issuer          string
	Number          string
	Period          string
	Status          string
	IssueDate       time.Time
	DueDate         time.Time
	CustomerNo      string
	CustomerName    string
	Address         string
	MeterNo         string
	PreviousReading decimal.Decimal
	CurrentReading  decimal.Decimal
	ConsumptionKwh  decimal.Decimal
	Lines           []InvoiceLine
	FixedCharge     decimal.Decimal
	Total           decimal.Decimal
	Paid            decimal.Decimal
	Balance         decimal.Decimal
}

// InvoiceLine is one tariff band on the printed invoice.
type InvoiceLine struct {
	Description string
	Quantity    decimal.Decimal
	UnitPrice   decimal.Decimal
	Amount      decimal.Decimal
}

// Renderer turns invoice documents into HTML and PDF.
type Renderer struct {
	tpl    *template.Template
	client PDFClient
}

// NewRenderer parses the invoice template. currencyCode is an ISO 4217 code.
func NewRenderer(client PDFClient, currencyCode string) (*Renderer, error) {
	money, err := MoneyFormatter(currencyCode)
	if err != nil {
		return nil, err
	}
	funcMap := template.FuncMap{
		"formatDate": func(t time.Time) string {
			if t.IsZero() {
				return ""
			}
			return t.Format("02 Jan 2006")
		},
		"formatKwh": func(v decimal.Decimal) string {
			return v.StringFixed(2)
		},
		"money": money,
	}
	tpl, err := template.New("invoice.html").Funcs(funcMap).ParseFS(web.Templates, "templates/reports/invoice.html")
	if err != nil {
		return nil, fmt.Errorf("parse invoice template: %w", err)
	}
	return &Renderer{tpl: tpl, client: client}, nil
}

// InvoiceHTML executes the invoice template.
func (r *Renderer) InvoiceHTML(doc InvoiceDocument) (string, error) {
	buf := &bytes.Buffer{}
	if err := r.tpl.Execute(buf, doc); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// RenderInvoice produces the invoice PDF.
func (r *Renderer) RenderInvoice(ctx context.Context, doc InvoiceDocument) ([]byte, error) {
	if r == nil || r.client == nil {
		return nil, ErrRendererDisabled
	}
	html, err := r.InvoiceHTML(doc)
	if err != nil {
		return nil, err
	}
	return r.client.RenderHTML(ctx, html)
}

// MoneyFormatter returns a function printing amounts with the currency symbol.
func MoneyFormatter(currencyCode string) (func(decimal.Decimal) string, error) {
	unit, err := currency.ParseISO(currencyCode)
	if err != nil {
		return nil, fmt.Errorf("currency %q: %w", currencyCode, err)
	}
	printer := message.NewPrinter(language.English)
	return func(v decimal.Decimal) string {
		return printer.Sprint(currency.Symbol(unit.Amount(v.Round(2).InexactFloat64())))
	}, nil
}
