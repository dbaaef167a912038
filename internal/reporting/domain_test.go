package reporting

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func day(y int, m time.Month, d int) time.Time { return time.Date(y, m, d, 0, 0, 0, 0, time.UTC) }

func TestBucketFor(t *testing.T) {
	asOf := time.Date(2025, 6, 30, 18, 0, 0, 0, time.UTC)
	cases := map[time.Time]int{
		day(2025, 7, 15): 0,
		day(2025, 6, 30): 0,
		day(2025, 6, 29): 1,
		day(2025, 5, 31): 1,
		day(2025, 5, 30): 2,
		day(2025, 5, 1):  2,
		day(2025, 4, 30): 3,
		day(2025, 4, 1):  3,
		day(2025, 3, 31): 4,
	}
	for due, want := range cases {
		require.Equal(t, want, BucketFor(due, asOf), "due %s", due.Format(dateLayout))
	}
}

func TestBuildAging(t *testing.T) {
	asOf := day(2025, 6, 30)
	report := BuildAging(asOf, []OpenBalance{
		{InvoiceID: 1, CustomerID: 7, CustomerNo: "CUS-000007", Name: "Ada", DueDate: day(2025, 7, 5), Balance: dec("38")},
		{InvoiceID: 2, CustomerID: 7, CustomerNo: "CUS-000007", Name: "Ada", DueDate: day(2025, 3, 1), Balance: dec("63.5")},
		{InvoiceID: 3, CustomerID: 9, CustomerNo: "CUS-000009", Name: "Lin", DueDate: day(2025, 6, 10), Balance: dec("12")},
		{InvoiceID: 4, CustomerID: 9, CustomerNo: "CUS-000009", Name: "Lin", DueDate: day(2025, 6, 10), Balance: decimal.Zero},
	})

	require.True(t, report.Total.Equal(dec("113.5")))
	require.Len(t, report.Buckets, 5)
	require.Equal(t, BucketCurrent, report.Buckets[0].Label)
	require.True(t, report.Buckets[0].Amount.Equal(dec("38")))
	require.Equal(t, 1, report.Buckets[1].Count)
	require.True(t, report.Buckets[1].Amount.Equal(dec("12")))
	require.True(t, report.Buckets[4].Amount.Equal(dec("63.5")))
	require.True(t, report.Buckets[2].Amount.IsZero())

	require.Len(t, report.Rows, 2)
	require.Equal(t, "CUS-000007", report.Rows[0].CustomerNo)
	require.True(t, report.Rows[0].Total.Equal(dec("101.5")))
	require.True(t, report.Rows[0].Buckets[4].Equal(dec("63.5")))
	require.True(t, report.Rows[1].Total.Equal(dec("12")))
}

func TestBuildStatementRunningBalance(t *testing.T) {
	customer := CustomerRef{ID: 7, CustomerNo: "CUS-000007", Name: "Ada"}
	entries := []StatementEntry{
		{Date: time.Date(2025, 3, 5, 11, 0, 0, 0, time.UTC), Kind: EntryPayment, Reference: "PAY-2025-000002", Amount: dec("63")},
		{Date: day(2025, 2, 1), Kind: EntryInvoice, Reference: "INV-2025-000001", Detail: "2025-01", Amount: dec("38")},
		{Date: time.Date(2025, 2, 1, 15, 0, 0, 0, time.UTC), Kind: EntryPayment, Reference: "PAY-2025-000001", Amount: dec("20")},
		{Date: day(2025, 3, 1), Kind: EntryInvoice, Reference: "INV-2025-000002", Detail: "2025-02", Amount: dec("63")},
	}

	st := BuildStatement(customer, day(2025, 2, 1), day(2025, 3, 31), dec("10"), entries)

	require.Len(t, st.Lines, 4)
	refs := []string{"INV-2025-000001", "PAY-2025-000001", "INV-2025-000002", "PAY-2025-000002"}
	balances := []string{"48", "28", "91", "28"}
	for i, line := range st.Lines {
		require.Equal(t, refs[i], line.Reference)
		require.True(t, line.Balance.Equal(dec(balances[i])), "line %d balance %s", i, line.Balance)
	}
	require.True(t, st.Lines[1].Credit.Equal(dec("20")))
	require.True(t, st.Lines[1].Debit.IsZero())
	require.True(t, st.TotalDebits.Equal(dec("101")))
	require.True(t, st.TotalCredits.Equal(dec("83")))
	require.True(t, st.ClosingBalance.Equal(dec("28")))
	require.True(t, st.OpeningBalance.Add(st.TotalDebits).Sub(st.TotalCredits).Equal(st.ClosingBalance))
}

func TestMonthRange(t *testing.T) {
	from, to := MonthRange(time.Date(2024, 12, 31, 23, 0, 0, 0, time.UTC))
	require.Equal(t, day(2024, 12, 1), from)
	require.Equal(t, day(2025, 1, 1), to)
}
