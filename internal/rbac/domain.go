package rbac

import "github.com/gridbill/gridbill/internal/shared"

// Role names asserted by the identity provider.
const (
	RoleAdmin        = "admin"
	RoleBillingClerk = "billing_clerk"
	RoleCashier      = "cashier"
	RoleCollector    = "collector"
	RoleViewer       = "viewer"
)

// DefaultPolicy is the static role to permission mapping.
func DefaultPolicy() map[string][]string {
	readOnly := shared.ReadOnlyScopes()
	with := func(extra ...string) []string {
		out := make([]string, 0, len(readOnly)+len(extra))
		out = append(out, readOnly...)
		return append(out, extra...)
	}
	return map[string][]string{
		RoleAdmin: shared.BillingScopes(),
		RoleBillingClerk: with(
			shared.PermCustomersManage,
			shared.PermReadingsRecord,
			shared.PermInvoicesCreate,
			shared.PermInvoicesCancel,
			shared.PermReportsExport,
		),
		RoleCashier: with(
			shared.PermPaymentsRecord,
			shared.PermPaymentsCancel,
		),
		RoleCollector: with(
			shared.PermDebtsManage,
			shared.PermPlansManage,
			shared.PermPaymentsRecord,
			shared.PermReportsExport,
		),
		RoleViewer: readOnly,
	}
}
