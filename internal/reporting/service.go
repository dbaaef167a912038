package reporting

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/gridbill/gridbill/internal/shared"
)

// RepositoryPort is the query surface the reports are built from.
type RepositoryPort interface {
	ActiveCustomers(ctx context.Context) (int64, error)
	Billed(ctx context.Context, from, to time.Time) (int64, decimal.Decimal, error)
	Collected(ctx context.Context, from, to time.Time) (decimal.Decimal, error)
	Receivables(ctx context.Context, asOf time.Time) (Receivables, error)
	Debts(ctx context.Context) (DebtSummary, error)
	OpenBalances(ctx context.Context, asOf time.Time) ([]OpenBalance, error)
	Customer(ctx context.Context, id int64) (CustomerRef, error)
	OpeningBalance(ctx context.Context, customerID int64, from time.Time) (decimal.Decimal, error)
	StatementEntries(ctx context.Context, customerID int64, from, to time.Time) ([]StatementEntry, error)
}

// ServiceConfig groups optional collaborators.
type ServiceConfig struct {
	Store  ObjectStore
	URLTTL time.Duration
	Logger *slog.Logger
}

// Export is a generated spreadsheet. URL is set when it was uploaded to object
// storage; otherwise Data carries the file.
type Export struct {
	FileName    string     `json:"file_name"`
	ContentType string     `json:"content_type"`
	URL         string     `json:"url,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	Data        []byte     `json:"-"`
}

// Service builds reports on top of the repository and the versioned cache.
type Service struct {
	repo  RepositoryPort
	cache *Cache
	cfg   ServiceConfig
	group singleflight.Group
	now   func() time.Time
}

// NewService wires the repository with the cache.
func NewService(repo RepositoryPort, cache *Cache, cfg ServiceConfig) *Service {
	if cfg.URLTTL <= 0 {
		cfg.URLTTL = 15 * time.Minute
	}
	return &Service{repo: repo, cache: cache, cfg: cfg, now: time.Now}
}

// Dashboard returns the month-to-date summary for asOf.
func (s *Service) Dashboard(ctx context.Context, asOf time.Time) (Dashboard, error) {
	asOf = dateOnly(asOf)
	key, err := s.cache.BuildKey(ctx, "reporting", "dashboard", asOf.Format(dateLayout))
	if err != nil {
		return Dashboard{}, err
	}
	res, err, _ := s.group.Do(key, func() (any, error) {
		var out Dashboard
		err := s.cache.FetchJSON(ctx, key, &out, func(ctx context.Context) (any, error) {
			return s.loadDashboard(ctx, asOf)
		})
		return out, err
	})
	if err != nil {
		return Dashboard{}, err
	}
	return res.(Dashboard), nil
}

func (s *Service) loadDashboard(ctx context.Context, asOf time.Time) (Dashboard, error) {
	from, to := MonthRange(asOf)
	out := Dashboard{AsOf: asOf, Period: from.Format("2006-01")}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := s.repo.ActiveCustomers(ctx)
		out.ActiveCustomers = n
		return err
	})
	g.Go(func() error {
		n, amount, err := s.repo.Billed(ctx, from, to)
		out.InvoicesBilled, out.AmountBilled = n, amount
		return err
	})
	g.Go(func() error {
		amount, err := s.repo.Collected(ctx, from, to)
		out.AmountCollected = amount
		return err
	})
	g.Go(func() error {
		rec, err := s.repo.Receivables(ctx, asOf)
		out.OutstandingBalance, out.OverdueInvoices = rec.Balance, rec.Overdue
		return err
	})
	g.Go(func() error {
		debts, err := s.repo.Debts(ctx)
		out.OutstandingDebt, out.ActivePlans = debts.Outstanding, debts.ActivePlans
		return err
	})
	if err := g.Wait(); err != nil {
		return Dashboard{}, fmt.Errorf("reporting: dashboard: %w", err)
	}
	return out, nil
}

// Aging buckets open invoice balances by days past due at asOf.
func (s *Service) Aging(ctx context.Context, asOf time.Time) (AgingReport, error) {
	asOf = dateOnly(asOf)
	key, err := s.cache.BuildKey(ctx, "reporting", "aging", asOf.Format(dateLayout))
	if err != nil {
		return AgingReport{}, err
	}
	var out AgingReport
	err = s.cache.FetchJSON(ctx, key, &out, func(ctx context.Context) (any, error) {
		balances, err := s.repo.OpenBalances(ctx, asOf)
		if err != nil {
			return nil, err
		}
		return BuildAging(asOf, balances), nil
	})
	return out, err
}

// CustomerStatement lists a customer's invoices and payments between from and to inclusive.
func (s *Service) CustomerStatement(ctx context.Context, customerID int64, from, to time.Time) (Statement, error) {
	from, to = dateOnly(from), dateOnly(to)
	if to.Before(from) {
		return Statement{}, shared.NewValidationError("to", "must not be before from")
	}
	customer, err := s.repo.Customer(ctx, customerID)
	if err != nil {
		return Statement{}, err
	}
	opening, err := s.repo.OpeningBalance(ctx, customerID, from)
	if err != nil {
		return Statement{}, err
	}
	entries, err := s.repo.StatementEntries(ctx, customerID, from, to.AddDate(0, 0, 1))
	if err != nil {
		return Statement{}, err
	}
	return BuildStatement(customer, from, to, opening, entries), nil
}

// ExportAging renders the aging report as XLSX.
func (s *Service) ExportAging(ctx context.Context, asOf time.Time) (Export, error) {
	report, err := s.Aging(ctx, asOf)
	if err != nil {
		return Export{}, err
	}
	data, err := AgingWorkbook(report)
	if err != nil {
		return Export{}, err
	}
	return s.publish(ctx, fmt.Sprintf("aging_%s.xlsx", report.AsOf.Format("20060102")), data)
}

// ExportStatement renders a customer statement as XLSX.
func (s *Service) ExportStatement(ctx context.Context, customerID int64, from, to time.Time) (Export, error) {
	st, err := s.CustomerStatement(ctx, customerID, from, to)
	if err != nil {
		return Export{}, err
	}
	data, err := StatementWorkbook(st)
	if err != nil {
		return Export{}, err
	}
	name := fmt.Sprintf("statement_%s_%s_%s.xlsx", st.Customer.CustomerNo, st.From.Format("20060102"), st.To.Format("20060102"))
	return s.publish(ctx, name, data)
}

// WarmUp preloads the reports most dashboards open first.
func (s *Service) WarmUp(ctx context.Context, asOf time.Time) error {
	if _, err := s.Dashboard(ctx, asOf); err != nil {
		return err
	}
	_, err := s.Aging(ctx, asOf)
	return err
}

func (s *Service) publish(ctx context.Context, name string, data []byte) (Export, error) {
	out := Export{FileName: name, ContentType: XLSXContentType}
	if s.cfg.Store == nil {
		out.Data = data
		return out, nil
	}
	now := s.now().UTC()
	key := fmt.Sprintf("exports/%s/%s/%s", now.Format("2006/01"), uuid.NewString(), name)
	if err := s.cfg.Store.Upload(ctx, key, data, XLSXContentType); err != nil {
		return Export{}, err
	}
	url, err := s.cfg.Store.PresignedURL(ctx, key, s.cfg.URLTTL)
	if err != nil {
		return Export{}, err
	}
	expires := now.Add(s.cfg.URLTTL)
	out.URL, out.ExpiresAt = url, &expires
	if s.cfg.Logger != nil {
		s.cfg.Logger.Info("report exported", slog.String("key", key), slog.Int("bytes", len(data)))
	}
	return out, nil
}
