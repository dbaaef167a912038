package shared

// Billing permission identifiers.
const (
	PermCustomersView   = "customers.view"
	PermCustomersManage = "customers.manage"
	PermReadingsView    = "readings.view"
	PermReadingsRecord  = "readings.record"
	PermTariffsView     = "tariffs.view"
	PermTariffsManage   = "tariffs.manage"
	PermInvoicesView    = "invoices.view"
	PermInvoicesCreate  = "invoices.create"
	PermInvoicesCancel  = "invoices.cancel"
	PermPaymentsView    = "payments.view"
	PermPaymentsRecord  = "payments.record"
	PermPaymentsCancel  = "payments.cancel"
	PermDebtsView       = "debts.view"
	PermDebtsManage     = "debts.manage"
	PermPlansManage     = "plans.manage"
	PermReportsView     = "reports.view"
	PermReportsExport   = "reports.export"
	PermSequencesManage = "sequences.manage"
	PermJobsView        = "jobs.view"
)

// BillingScopes returns every billing permission.
func BillingScopes() []string {
	return []string{
		PermCustomersView, PermCustomersManage,
		PermReadingsView, PermReadingsRecord,
		PermTariffsView, PermTariffsManage,
		PermInvoicesView, PermInvoicesCreate, PermInvoicesCancel,
		PermPaymentsView, PermPaymentsRecord, PermPaymentsCancel,
		PermDebtsView, PermDebtsManage, PermPlansManage,
		PermReportsView, PermReportsExport,
		PermSequencesManage, PermJobsView,
	}
}

// ReadOnlyScopes returns the permissions granted to viewers.
func ReadOnlyScopes() []string {
	return []string{
		PermCustomersView, PermReadingsView, PermTariffsView,
		PermInvoicesView, PermPaymentsView, PermDebtsView, PermReportsView,
	}
}
