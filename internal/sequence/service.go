package sequence

import (
	"context"
	"strings"

	"github.com/gridbill/gridbill/internal/shared"
)

// RepositoryPort abstracts sequence persistence.
type RepositoryPort interface {
	List(ctx context.Context) ([]Sequence, error)
	Configure(ctx context.Context, name string, input ConfigureInput) (Sequence, error)
}

// Service exposes sequence administration.
type Service struct {
	repo  RepositoryPort
	audit shared.AuditPort
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit shared.AuditPort) *Service {
	return &Service{repo: repo, audit: audit}
}

// List returns every series.
func (s *Service) List(ctx context.Context) ([]Sequence, error) {
	return s.repo.List(ctx)
}

// Configure changes how a series is formatted. Existing numbers are not renumbered.
func (s *Service) Configure(ctx context.Context, name string, input ConfigureInput) (Sequence, error) {
	input.Prefix = strings.ToUpper(strings.TrimSpace(input.Prefix))
	if err := validateConfigure(input); err != nil {
		return Sequence{}, err
	}
	seq, err := s.repo.Configure(ctx, strings.TrimSpace(name), input)
	if err != nil {
		return Sequence{}, err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			Action:   "sequence.configure",
			Entity:   "sequence",
			EntityID: seq.Name,
			Meta:     map[string]any{"prefix": seq.Prefix, "padding": seq.Padding, "reset_yearly": seq.ResetYearly},
		})
	}
	return seq, nil
}
