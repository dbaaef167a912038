package tariff

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/gridbill/gridbill/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	ListCategories(ctx context.Context) ([]Category, error)
	GetCategory(ctx context.Context, id int64) (Category, error)
	ListBands(ctx context.Context, categoryID int64) ([]Band, error)
}

// Service resolves tariffs and manages band sets.
type Service struct {
	repo  RepositoryPort
	audit shared.AuditPort
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit shared.AuditPort) *Service {
	return &Service{repo: repo, audit: audit}
}

// ResolveBands returns the bands of a category ascending by lower bound.
func (s *Service) ResolveBands(ctx context.Context, categoryID int64) ([]Band, error) {
	bands, err := s.repo.ListBands(ctx, categoryID)
	if err != nil {
		return nil, err
	}
	if len(bands) == 0 {
		return nil, ErrNoBands
	}
	sort.SliceStable(bands, func(i, j int) bool { return bands[i].FromKwh.LessThan(bands[j].FromKwh) })
	return bands, nil
}

// Quote previews the charge for a consumption without persisting anything.
func (s *Service) Quote(ctx context.Context, categoryID int64, consumption decimal.Decimal) (Charge, error) {
	bands, err := s.ResolveBands(ctx, categoryID)
	if err != nil {
		return Charge{}, err
	}
	return ComputeCharge(consumption, bands)
}

// ListCategories returns every category.
func (s *Service) ListCategories(ctx context.Context) ([]Category, error) {
	return s.repo.ListCategories(ctx)
}

// GetCategory returns one category.
func (s *Service) GetCategory(ctx context.Context, id int64) (Category, error) {
	return s.repo.GetCategory(ctx, id)
}

// CreateCategory inserts a category and, when given, its band set.
func (s *Service) CreateCategory(ctx context.Context, input CreateCategoryInput) (Category, error) {
	input.Code = strings.ToUpper(strings.TrimSpace(input.Code))
	input.Name = strings.TrimSpace(input.Name)
	if input.Code == "" || input.Name == "" {
		return Category{}, &shared.ValidationError{Fields: map[string]string{"code": "is required", "name": "is required"}}
	}
	if len(input.Bands) > 0 {
		if err := ValidateBands(input.Bands); err != nil {
			return Category{}, err
		}
	}
	var created Category
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		created, err = tx.InsertCategory(ctx, Category{Code: input.Code, Name: input.Name, Description: strings.TrimSpace(input.Description)})
		if err != nil {
			return err
		}
		return insertBands(ctx, tx, created.ID, input.Bands)
	})
	if err != nil {
		return Category{}, err
	}
	s.record(ctx, "tariff.category.create", created.Code, map[string]any{"bands": len(input.Bands)})
	return created, nil
}

// ReplaceBands validates and atomically swaps a category's band set.
func (s *Service) ReplaceBands(ctx context.Context, categoryID int64, bands []Band) ([]Band, error) {
	if err := ValidateBands(bands); err != nil {
		return nil, err
	}
	var category Category
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		category, err = tx.LockCategory(ctx, categoryID)
		if err != nil {
			return err
		}
		if err := tx.DeleteBands(ctx, categoryID); err != nil {
			return err
		}
		return insertBands(ctx, tx, categoryID, bands)
	})
	if err != nil {
		return nil, err
	}
	s.record(ctx, "tariff.bands.replace", category.Code, map[string]any{"bands": len(bands)})
	return s.ResolveBands(ctx, categoryID)
}

// ImportResult summarises an import run.
type ImportResult struct {
	Created  []string `json:"created"`
	Replaced []string `json:"replaced"`
}

// Import upserts categories by code and replaces their bands in one transaction.
func (s *Service) Import(ctx context.Context, file ImportFile) (ImportResult, error) {
	categories, err := file.Categories()
	if err != nil {
		return ImportResult{}, err
	}
	var result ImportResult
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		for _, in := range categories {
			category, err := tx.GetCategoryByCode(ctx, in.Code)
			switch {
			case errors.Is(err, ErrCategoryNotFound):
				category, err = tx.InsertCategory(ctx, Category{Code: in.Code, Name: in.Name, Description: in.Description})
				if err != nil {
					return err
				}
				result.Created = append(result.Created, in.Code)
			case err != nil:
				return err
			default:
				if err := tx.DeleteBands(ctx, category.ID); err != nil {
					return err
				}
				result.Replaced = append(result.Replaced, in.Code)
			}
			if err := insertBands(ctx, tx, category.ID, in.Bands); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return ImportResult{}, err
	}
	s.record(ctx, "tariff.import", "bulk", map[string]any{"created": result.Created, "replaced": result.Replaced})
	return result, nil
}

func insertBands(ctx context.Context, tx TxRepository, categoryID int64, bands []Band) error {
	for _, b := range bands {
		b.CategoryID = categoryID
		if _, err := tx.InsertBand(ctx, b); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) record(ctx context.Context, action, entityID string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{Action: action, Entity: "tariff", EntityID: entityID, Meta: meta})
}
