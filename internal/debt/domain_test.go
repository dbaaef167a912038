package debt

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/gridbill/gridbill/internal/shared"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func day(y int, m time.Month, d int) time.Time { return time.Date(y, m, d, 0, 0, 0, 0, time.UTC) }

func TestBuildInstallmentsSplitsEvenly(t *testing.T) {
	got, err := BuildInstallments(dec("1200"), 5, day(2025, 1, 31))
	require.NoError(t, err)
	require.Len(t, got, 5)

	wantDue := []time.Time{day(2025, 1, 31), day(2025, 2, 28), day(2025, 3, 31), day(2025, 4, 30), day(2025, 5, 31)}
	sum := decimal.Zero
	for i, inst := range got {
		require.Equal(t, i+1, inst.Sequence)
		require.True(t, inst.Amount.Equal(dec("240")), "installment %d = %s", i+1, inst.Amount)
		require.Equal(t, wantDue[i], inst.DueDate)
		require.Equal(t, InstallmentPending, inst.Status)
		sum = sum.Add(inst.Amount)
	}
	require.True(t, sum.Equal(dec("1200")))
}

func TestBuildInstallmentsPutsRemainderLast(t *testing.T) {
	cases := []struct {
		financed string
		n        int
		want     []string
	}{
		{financed: "100", n: 3, want: []string{"33.33", "33.33", "33.34"}},
		{financed: "10", n: 6, want: []string{"1.66", "1.66", "1.66", "1.66", "1.66", "1.7"}},
		{financed: "0.05", n: 5, want: []string{"0.01", "0.01", "0.01", "0.01", "0.01"}},
	}
	for _, tc := range cases {
		got, err := BuildInstallments(dec(tc.financed), tc.n, day(2025, 3, 1))
		require.NoError(t, err)
		sum := decimal.Zero
		for i, inst := range got {
			require.True(t, inst.Amount.Equal(dec(tc.want[i])), "%s/%d #%d = %s", tc.financed, tc.n, i+1, inst.Amount)
			sum = sum.Add(inst.Amount)
		}
		require.True(t, sum.Equal(dec(tc.financed)))
	}
}

func TestBuildInstallmentsRejectsBadInput(t *testing.T) {
	for _, tc := range []struct {
		financed string
		n        int
	}{
		{"100", 0},
		{"100", MaxInstallments + 1},
		{"0", 3},
		{"-5", 3},
		{"0.02", 3},
	} {
		_, err := BuildInstallments(dec(tc.financed), tc.n, day(2025, 3, 1))
		require.ErrorIs(t, err, shared.ErrValidation, "%s/%d", tc.financed, tc.n)
	}
}

func TestAddMonthsClampsToMonthEnd(t *testing.T) {
	require.Equal(t, day(2024, 2, 29), AddMonths(day(2024, 1, 31), 1))
	require.Equal(t, day(2025, 2, 28), AddMonths(day(2025, 1, 30), 1))
	require.Equal(t, day(2026, 1, 15), AddMonths(day(2025, 11, 15), 2))
	require.Equal(t, day(2025, 11, 15), AddMonths(day(2025, 11, 15), 0))
}

func TestReconcile(t *testing.T) {
	inv := InvoiceSnapshot{InvoiceID: 4, CustomerID: 7, Total: dec("38"), Paid: decimal.Zero, Balance: dec("38")}

	_, changed := Reconcile(nil, InvoiceSnapshot{InvoiceID: 5, Total: dec("10"), Paid: dec("10"), Balance: decimal.Zero})
	require.False(t, changed)

	created, changed := Reconcile(nil, inv)
	require.True(t, changed)
	require.Equal(t, StatusOutstanding, created.Status)
	require.Equal(t, int64(4), *created.InvoiceID)
	require.True(t, created.RemainingAmount.Equal(dec("38")))

	inv.Paid, inv.Balance = dec("10"), dec("28")
	partial, changed := Reconcile(&created, inv)
	require.True(t, changed)
	require.Equal(t, StatusPartial, partial.Status)
	require.True(t, partial.RemainingAmount.Equal(dec("28")))

	_, changed = Reconcile(&partial, inv)
	require.False(t, changed)

	// plan payments on an invoice-backed debt are already part of the invoice's paid amount
	partial.PlanPaidAmount = dec("30")
	same, changed := Reconcile(&partial, inv)
	require.False(t, changed)
	require.True(t, same.PaidAmount.Equal(dec("10")))

	inv.Paid, inv.Balance = dec("38"), decimal.Zero
	settled, changed := Reconcile(&partial, inv)
	require.True(t, changed)
	require.Equal(t, StatusPaid, settled.Status)
	require.True(t, settled.PaidAmount.Equal(dec("38")))
	require.True(t, settled.RemainingAmount.IsZero())

	disputed := created
	disputed.Status = StatusDisputed
	frozen, changed := Reconcile(&disputed, inv)
	require.False(t, changed)
	require.Equal(t, StatusDisputed, frozen.Status)
}

func TestApplyInstallmentPayment(t *testing.T) {
	now := day(2025, 3, 10)
	plan := PaymentPlan{ID: 1, Status: PlanActive, PaidAmount: decimal.Zero}
	inst := Installment{ID: 11, DueDate: day(2025, 3, 15), Amount: dec("240"), PaidAmount: decimal.Zero, Status: InstallmentPending}

	p, i, err := ApplyInstallmentPayment(plan, inst, dec("300"), now)
	require.ErrorIs(t, err, ErrInstallmentOverpayment)
	require.True(t, errors.Is(err, shared.ErrStateConflict))
	require.Equal(t, inst, i)
	require.Equal(t, plan, p)

	p, i, err = ApplyInstallmentPayment(plan, inst, dec("100"), now)
	require.NoError(t, err)
	require.Equal(t, InstallmentPartial, i.Status)
	require.Nil(t, i.PaidAt)
	require.True(t, p.PaidAmount.Equal(dec("100")))

	p, i, err = ApplyInstallmentPayment(p, i, dec("140"), now)
	require.NoError(t, err)
	require.Equal(t, InstallmentPaid, i.Status)
	require.NotNil(t, i.PaidAt)
	require.True(t, p.PaidAmount.Equal(dec("240")))

	_, _, err = ApplyInstallmentPayment(p, i, dec("1"), now)
	require.ErrorIs(t, err, ErrInstallmentSettled)

	_, _, err = ApplyInstallmentPayment(PaymentPlan{Status: PlanDefaulted}, inst, dec("1"), now)
	require.ErrorIs(t, err, ErrPlanNotActive)

	_, _, err = ApplyInstallmentPayment(plan, inst, dec("0.001"), now)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestInstallmentStatusFor(t *testing.T) {
	inst := Installment{DueDate: day(2025, 3, 15), Amount: dec("50"), PaidAmount: dec("20")}
	require.Equal(t, InstallmentPartial, InstallmentStatusFor(inst, day(2025, 3, 15)))
	require.Equal(t, InstallmentOverdue, InstallmentStatusFor(inst, day(2025, 3, 16)))
	inst.PaidAmount = dec("50")
	require.Equal(t, InstallmentPaid, InstallmentStatusFor(inst, day(2025, 4, 1)))
	require.False(t, PlanSettled(nil))
}
