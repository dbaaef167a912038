package reporting

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

// XLSXContentType is the MIME type of generated workbooks.
const XLSXContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

const (
	agingSheet     = "Aging"
	statementSheet = "Statement"
	dateLayout     = "2006-01-02"
)

// AgingWorkbook renders the aging report: one row per customer plus a totals row.
func AgingWorkbook(report AgingReport) ([]byte, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()
	f.SetSheetName(f.GetSheetName(0), agingSheet)
	money, err := moneyStyle(f)
	if err != nil {
		return nil, err
	}

	header := append([]any{"Customer No", "Name"}, labelsAsAny()...)
	header = append(header, "Total")
	if err := f.SetSheetRow(agingSheet, "A1", &header); err != nil {
		return nil, err
	}
	row := 2
	for _, r := range report.Rows {
		values := []any{r.CustomerNo, r.Name}
		for _, amount := range r.Buckets {
			values = append(values, amount.InexactFloat64())
		}
		values = append(values, r.Total.InexactFloat64())
		if err := setRow(f, agingSheet, row, values); err != nil {
			return nil, err
		}
		row++
	}
	totals := []any{"Total", fmt.Sprintf("as of %s", report.AsOf.Format(dateLayout))}
	for _, b := range report.Buckets {
		totals = append(totals, b.Amount.InexactFloat64())
	}
	totals = append(totals, report.Total.InexactFloat64())
	if err := setRow(f, agingSheet, row, totals); err != nil {
		return nil, err
	}

	lastCol, err := excelize.ColumnNumberToName(len(header))
	if err != nil {
		return nil, err
	}
	if err := f.SetCellStyle(agingSheet, "C2", fmt.Sprintf("%s%d", lastCol, row), money); err != nil {
		return nil, err
	}
	if err := f.SetColWidth(agingSheet, "A", "B", 24); err != nil {
		return nil, err
	}
	return write(f)
}

// StatementWorkbook renders a customer statement with its running balance.
func StatementWorkbook(st Statement) ([]byte, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()
	f.SetSheetName(f.GetSheetName(0), statementSheet)
	money, err := moneyStyle(f)
	if err != nil {
		return nil, err
	}

	heading := [][]any{
		{"Customer", st.Customer.CustomerNo, st.Customer.Name},
		{"Period", st.From.Format(dateLayout), st.To.Format(dateLayout)},
		{},
		{"Date", "Type", "Reference", "Detail", "Debit", "Credit", "Balance"},
		{"", "opening", "", "", "", "", st.OpeningBalance.InexactFloat64()},
	}
	for i, values := range heading {
		if err := setRow(f, statementSheet, i+1, values); err != nil {
			return nil, err
		}
	}
	row := len(heading) + 1
	for _, l := range st.Lines {
		values := []any{l.Date.Format(dateLayout), l.Kind, l.Reference, l.Detail, cell(l.Debit), cell(l.Credit), l.Balance.InexactFloat64()}
		if err := setRow(f, statementSheet, row, values); err != nil {
			return nil, err
		}
		row++
	}
	closing := []any{"", "closing", "", "", st.TotalDebits.InexactFloat64(), st.TotalCredits.InexactFloat64(), st.ClosingBalance.InexactFloat64()}
	if err := setRow(f, statementSheet, row, closing); err != nil {
		return nil, err
	}
	if err := f.SetCellStyle(statementSheet, "E5", fmt.Sprintf("G%d", row), money); err != nil {
		return nil, err
	}
	if err := f.SetColWidth(statementSheet, "A", "D", 18); err != nil {
		return nil, err
	}
	return write(f)
}

func moneyStyle(f *excelize.File) (int, error) {
	format := "#,##0.00"
	return f.NewStyle(&excelize.Style{CustomNumFmt: &format})
}

func setRow(f *excelize.File, sheet string, row int, values []any) error {
	cellName, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	return f.SetSheetRow(sheet, cellName, &values)
}

func cell(v decimal.Decimal) any {
	if v.IsZero() {
		return ""
	}
	return v.InexactFloat64()
}

func labelsAsAny() []any {
	out := make([]any, len(BucketLabels))
	for i, l := range BucketLabels {
		out[i] = l
	}
	return out
}

func write(f *excelize.File) ([]byte, error) {
	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
