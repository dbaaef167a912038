package report

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func sampleDocument() InvoiceDocument {
	return InvoiceDocument{
		Issuer:         "GridBill Power",
		Number:         "INV-2025-000001",
		Period:         "2025-01",
		Status:         "issued",
		IssueDate:      time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC),
		DueDate:        time.Date(2025, 2, 16, 0, 0, 0, 0, time.UTC),
		CustomerNo:     "CUS-000001",
		CustomerName:   "Ada <Lovelace>",
		MeterNo:        "MTR-000001",
		CurrentReading: decimal.NewFromInt(1150),
		ConsumptionKwh: decimal.NewFromInt(150),
		Lines: []InvoiceLine{
			{Description: "0 - 100 kWh", Quantity: decimal.NewFromInt(100), UnitPrice: decimal.RequireFromString("0.18"), Amount: decimal.NewFromInt(18)},
			{Description: "100 - 200 kWh", Quantity: decimal.NewFromInt(50), UnitPrice: decimal.RequireFromString("0.20"), Amount: decimal.NewFromInt(10)},
		},
		FixedCharge: decimal.NewFromInt(10),
		Total:       decimal.NewFromInt(38),
		Balance:     decimal.NewFromInt(38),
	}
}

func TestInvoiceHTMLEscapesAndFormats(t *testing.T) {
	r, err := NewRenderer(nil, "USD")
	require.NoError(t, err)

	html, err := r.InvoiceHTML(sampleDocument())
	require.NoError(t, err)
	require.Contains(t, html, "INV-2025-000001")
	require.Contains(t, html, "Ada &lt;Lovelace&gt;")
	require.Contains(t, html, "150.00")
	require.Contains(t, html, "16 Feb 2025")
	require.Contains(t, html, "38")
}

func TestNewRendererRejectsUnknownCurrency(t *testing.T) {
	_, err := NewRenderer(nil, "???")
	require.Error(t, err)
}

func TestRenderInvoiceWithoutClient(t *testing.T) {
	r, err := NewRenderer(nil, "USD")
	require.NoError(t, err)
	_, err = r.RenderInvoice(context.Background(), sampleDocument())
	require.ErrorIs(t, err, ErrRendererDisabled)
}

func TestClientRenderHTML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/forms/chromium/convert/html", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		require.Equal(t, "8.27", r.FormValue("paperWidth"))
		file, _, err := r.FormFile("files")
		require.NoError(t, err)
		body, _ := io.ReadAll(file)
		require.True(t, strings.Contains(string(body), "INV-2025-000001"))
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write([]byte("%PDF-1.7"))
	}))
	defer srv.Close()

	r, err := NewRenderer(NewClient(srv.URL+"/"), "USD")
	require.NoError(t, err)
	pdf, err := r.RenderInvoice(context.Background(), sampleDocument())
	require.NoError(t, err)
	require.Equal(t, "%PDF-1.7", string(pdf))
}

func TestClientErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	_, err := c.RenderHTML(context.Background(), "<html></html>")
	require.ErrorContains(t, err, "502")
	require.Error(t, c.Ping(context.Background()))
}

func TestDisabledClient(t *testing.T) {
	c := NewClient("")
	require.False(t, c.Enabled())
	require.ErrorIs(t, c.Ping(context.Background()), ErrRendererDisabled)
}
